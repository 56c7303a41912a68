// process.go
package myaudio

import (
	"encoding/binary"
	"time"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/birdnet"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
)

// Predictor runs the species classifier over one analysis window.
type Predictor interface {
	Predict(sample [][]float32) ([]birdnet.Result, error)
}

// ProcessData runs inference on one analysis window and hands the ranked
// candidates to the detection policy through the results queue. The queue
// handoff never blocks; under backpressure the oldest pending result is
// dropped and counted.
func ProcessData(bn Predictor, data []byte, startTime time.Time, source string, metrics *observability.Metrics) error {
	predictStart := time.Now()

	sampleData, err := ConvertToFloat32(data, conf.BitDepth)
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudio).
			Context("operation", "convert_to_float32").
			Context("bit_depth", conf.BitDepth).
			Build()
	}

	results, err := bn.Predict(sampleData)
	if err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryAudioAnalysis).
			Context("source", source).
			Timing("predict", time.Since(predictStart)).
			Build()
	}

	elapsedTime := time.Since(predictStart)
	if metrics != nil {
		metrics.PredictionTotal.Inc()
		metrics.PredictionDuration.Observe(elapsedTime.Seconds())
	}

	// Inference slower than the window stride means the pipeline cannot
	// keep up in real time.
	effectiveWindow := conf.CaptureLength*time.Second - time.Duration(conf.Setting().BirdNET.Overlap*float64(time.Second))
	if elapsedTime > effectiveWindow {
		logging.ForService("myaudio").Warn("processing time exceeded window stride",
			"elapsed", elapsedTime.String(),
			"window", effectiveWindow.String(),
			"source", source,
		)
	}

	dropped := birdnet.EnqueueResults(birdnet.Results{
		Sequence:    NextWindowSequence(),
		StartTime:   startTime,
		ElapsedTime: elapsedTime,
		PCMdata:     data,
		Results:     results,
		Source:      source,
	})
	if dropped > 0 && metrics != nil {
		metrics.DroppedWindows.Add(float64(dropped))
	}

	return nil
}

// ConvertToFloat32 converts PCM sample bytes to the float32 tensor layout the
// classifier expects.
func ConvertToFloat32(sample []byte, bitDepth int) ([][]float32, error) {
	switch bitDepth {
	case 16:
		return [][]float32{convert16BitToFloat32(sample)}, nil
	default:
		return nil, errors.Newf("unsupported audio bit depth: %d", bitDepth).
			Component("myaudio").
			Category(errors.CategoryValidation).
			Context("bit_depth", bitDepth).
			Build()
	}
}

// convert16BitToFloat32 converts little-endian 16-bit samples to float32 in [-1, 1).
func convert16BitToFloat32(sample []byte) []float32 {
	length := len(sample) / 2
	float32Data := make([]float32, length)

	for i := 0; i < length; i++ {
		v := int16(binary.LittleEndian.Uint16(sample[i*2 : i*2+2]))
		float32Data[i] = float32(v) / 32768.0
	}

	return float32Data
}
