package myaudio

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/birdnet"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
)

// fakePredictor returns canned results without touching the interpreter.
type fakePredictor struct {
	results []birdnet.Result
	err     error
	calls   int
}

func (f *fakePredictor) Predict(sample [][]float32) ([]birdnet.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	return f.results, nil
}

// drainResultsQueue empties the shared results queue so tests observe only
// their own windows.
func drainResultsQueue() {
	for {
		select {
		case <-birdnet.ResultsQueue:
		default:
			return
		}
	}
}

func TestConvert16BitToFloat32(t *testing.T) {
	t.Parallel()

	// Little-endian samples: 0, 16384, -32768, 32767.
	sample := []byte{
		0x00, 0x00,
		0x00, 0x40,
		0x00, 0x80,
		0xFF, 0x7F,
	}

	got := convert16BitToFloat32(sample)
	require.Len(t, got, 4)
	assert.InDelta(t, 0.0, got[0], 1e-6)
	assert.InDelta(t, 0.5, got[1], 1e-6)
	assert.InDelta(t, -1.0, got[2], 1e-6)
	assert.InDelta(t, 32767.0/32768.0, got[3], 1e-6)
}

func TestConvertToFloat32(t *testing.T) {
	t.Parallel()

	sample := []byte{0x00, 0x00, 0x00, 0x40}
	got, err := ConvertToFloat32(sample, 16)
	require.NoError(t, err)
	require.Len(t, got, 1, "classifier expects a single channel tensor")
	assert.Len(t, got[0], 2)

	_, err = ConvertToFloat32(sample, 24)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryValidation))
}

func TestProcessDataEnqueuesResults(t *testing.T) {
	// Note: Cannot run in parallel, uses the shared results queue
	drainResultsQueue()

	bn := &fakePredictor{
		results: []birdnet.Result{
			{Species: "Turdus merula_Eurasian Blackbird", Confidence: 0.92},
			{Species: "Erithacus rubecula_European Robin", Confidence: 0.31},
		},
	}

	pcm := pattern(0, conf.BufferSize)
	startTime := time.Now().Add(-conf.CaptureLength * time.Second)

	require.NoError(t, ProcessData(bn, pcm, startTime, "card-1", nil))
	assert.Equal(t, 1, bn.calls)

	select {
	case item := <-birdnet.ResultsQueue:
		assert.Equal(t, "card-1", item.Source)
		assert.Equal(t, startTime, item.StartTime)
		assert.Equal(t, pcm, item.PCMdata)
		assert.Equal(t, bn.results, item.Results)
		assert.NotZero(t, item.Sequence)
	default:
		t.Fatal("expected a results message on the queue")
	}
}

func TestProcessDataPredictFailure(t *testing.T) {
	drainResultsQueue()

	bn := &fakePredictor{err: fmt.Errorf("tensor invoke failed")}

	err := ProcessData(bn, pattern(0, conf.BufferSize), time.Now(), "card-1", nil)
	require.Error(t, err)
	assert.True(t, errors.IsCategory(err, errors.CategoryAudioAnalysis))

	select {
	case <-birdnet.ResultsQueue:
		t.Fatal("failed windows must not reach the queue")
	default:
	}
}
