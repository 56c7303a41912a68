// analysis_buffer.go: ring buffers that re-segment the capture stream into
// fixed-length analysis windows.
package myaudio

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/smallnest/ringbuffer"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/errors"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
)

const (
	pollInterval             = 10 * time.Millisecond
	warningCapacityThreshold = 0.9 // 90% full
)

var (
	overlapSize     int                               // bytes shared between consecutive windows
	readSize        int                               // bytes read from the ring buffer per window
	analysisBuffers map[string]*ringbuffer.RingBuffer // ring buffer per audio source
	prevData        map[string][]byte                 // window remainder carried between reads
	abMutex         sync.RWMutex                      // guards the maps above
	warningCounter  map[string]int

	windowSequence atomic.Uint64 // monotonically increasing analysis window counter
)

// SecondsToBytes converts a duration in seconds to a PCM byte count.
func SecondsToBytes(seconds float64) int {
	return int(seconds * float64(conf.SampleRate) * float64(conf.BitDepth/8))
}

// AllocateAnalysisBuffer initializes a ring buffer for a single audio source.
func AllocateAnalysisBuffer(capacity int, source string) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid capacity: %d, must be greater than 0", capacity)
	}
	if source == "" {
		return fmt.Errorf("empty source name provided")
	}

	// Derive window stride from the configured overlap on first use.
	if readSize == 0 {
		overlapSize = SecondsToBytes(conf.Setting().BirdNET.Overlap)
		readSize = conf.BufferSize - overlapSize
	}

	ab := ringbuffer.New(capacity)
	if ab == nil {
		return fmt.Errorf("failed to allocate ring buffer for source: %s", source)
	}

	abMutex.Lock()
	defer abMutex.Unlock()

	if _, exists := analysisBuffers[source]; exists {
		ab.Reset()
		return fmt.Errorf("ring buffer already exists for source: %s", source)
	}

	if analysisBuffers == nil {
		analysisBuffers = make(map[string]*ringbuffer.RingBuffer)
	}
	if prevData == nil {
		prevData = make(map[string][]byte)
	}
	if warningCounter == nil {
		warningCounter = make(map[string]int)
	}

	analysisBuffers[source] = ab
	prevData[source] = nil
	warningCounter[source] = 0

	return nil
}

// RemoveAnalysisBuffer removes and cleans up the ring buffer for a source.
func RemoveAnalysisBuffer(source string) error {
	abMutex.Lock()
	defer abMutex.Unlock()

	ab, exists := analysisBuffers[source]
	if !exists {
		return fmt.Errorf("no ring buffer found for source: %s", source)
	}

	ab.Reset()
	delete(analysisBuffers, source)
	delete(prevData, source)
	delete(warningCounter, source)

	return nil
}

// InitAnalysisBuffers initializes ring buffers for each audio source.
func InitAnalysisBuffers(capacity int, sources []string) error {
	if capacity <= 0 {
		return fmt.Errorf("invalid capacity: %d, must be greater than 0", capacity)
	}
	if len(sources) == 0 {
		return fmt.Errorf("no audio sources provided")
	}

	var initErrors []string
	for _, source := range sources {
		if err := AllocateAnalysisBuffer(capacity, source); err != nil {
			initErrors = append(initErrors, fmt.Sprintf("source %s: %v", source, err))
		}
	}
	if len(initErrors) > 0 {
		return fmt.Errorf("failed to initialize some ring buffers: %s", strings.Join(initErrors, "; "))
	}

	return nil
}

// WriteToAnalysisBuffer writes audio data into the ring buffer for a source.
// When the buffer is full the oldest audio is evicted to make room; losing
// stale audio is preferable to stalling the capture device.
func WriteToAnalysisBuffer(source string, data []byte) error {
	abMutex.RLock()
	ab, exists := analysisBuffers[source]
	abMutex.RUnlock()

	if !exists {
		return fmt.Errorf("no analysis buffer found for source: %s", source)
	}

	capacity := ab.Capacity()
	if capacity == 0 {
		return fmt.Errorf("analysis buffer for source %s has zero capacity", source)
	}

	abMutex.Lock()
	defer abMutex.Unlock()

	capacityUsed := float64(ab.Length()) / float64(capacity)
	if capacityUsed > warningCapacityThreshold {
		warningCounter[source]++
		if warningCounter[source]%32 == 1 {
			logging.ForService("myaudio").Warn("analysis buffer nearly full",
				"source", source,
				"used_pct", capacityUsed*100,
				"used_bytes", ab.Length(),
				"capacity", capacity,
			)
		}
	}

	// Evict oldest data until the chunk fits.
	for ab.Free() < len(data) {
		stale := make([]byte, len(data)-ab.Free())
		if _, err := ab.Read(stale); err != nil {
			ab.Reset()
			break
		}
	}

	if _, err := ab.Write(data); err != nil {
		return errors.New(err).
			Component("myaudio").
			Category(errors.CategoryBuffer).
			Context("source", source).
			Context("chunk_bytes", len(data)).
			Build()
	}
	return nil
}

// ReadFromAnalysisBuffer reads a sliding window of audio data from the ring
// buffer for a source. It returns nil without error when not enough data has
// accumulated for a full window.
func ReadFromAnalysisBuffer(source string) ([]byte, error) {
	abMutex.Lock()
	defer abMutex.Unlock()

	ab, exists := analysisBuffers[source]
	if !exists {
		return nil, fmt.Errorf("no analysis buffer found for source: %s", source)
	}

	if ab.Length() < readSize {
		return nil, nil
	}

	data := make([]byte, readSize)
	if _, err := ab.Read(data); err != nil {
		return nil, fmt.Errorf("error reading from analysis buffer for source %s: %w", source, err)
	}

	// Join with the retained tail of the previous window so consecutive
	// windows overlap by overlapSize bytes.
	full := append(prevData[source], data...)
	if len(full) < conf.BufferSize {
		prevData[source] = full
		return nil, nil
	}

	prevData[source] = full[readSize:]
	return full[:conf.BufferSize], nil
}

// NextWindowSequence returns the next analysis window sequence number.
func NextWindowSequence() uint64 {
	return windowSequence.Add(1)
}

// AnalysisBufferMonitor polls the ring buffer and runs inference whenever a
// full analysis window is available. Inference failures are counted and
// skipped; after maxConsecutiveFails in a row the monitor reports a fatal
// error through fatalChan and stops.
func AnalysisBufferMonitor(wg *sync.WaitGroup, bn Predictor, quitChan chan struct{}, fatalChan chan<- error, source string, metrics *observability.Metrics) {
	wg.Add(1)
	go monitorAnalysisBuffer(wg, bn, quitChan, fatalChan, source, metrics)
}

func monitorAnalysisBuffer(wg *sync.WaitGroup, bn Predictor, quitChan chan struct{}, fatalChan chan<- error, source string, metrics *observability.Metrics) {
	defer wg.Done()

	log := logging.ForService("myaudio")
	maxConsecutiveFails := conf.Setting().BirdNET.MaxConsecutiveFails
	consecutiveFails := 0

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-quitChan:
			return

		case <-ticker.C:
			data, err := ReadFromAnalysisBuffer(source)
			if err != nil {
				log.Error("buffer read error", "source", source, "error", err)
				time.Sleep(1 * time.Second)
				continue
			}
			if len(data) != conf.BufferSize {
				continue
			}

			if metrics != nil {
				metrics.WindowsTotal.Inc()
			}

			// Window start is the current time minus the window length.
			startTime := time.Now().Add(-conf.CaptureLength * time.Second)
			if err := ProcessData(bn, data, startTime, source, metrics); err != nil {
				consecutiveFails++
				if metrics != nil {
					metrics.PredictionErrors.Inc()
				}
				log.Error("error processing analysis window",
					"source", source,
					"consecutive_fails", consecutiveFails,
					"error", err,
				)
				if consecutiveFails >= maxConsecutiveFails {
					fatal := errors.New(fmt.Errorf("inference failed %d times in a row: %w", consecutiveFails, err)).
						Component("myaudio").
						Category(errors.CategoryAudioAnalysis).
						Priority(errors.PriorityCritical).
						Context("source", source).
						Build()
					select {
					case fatalChan <- fatal:
					default:
					}
					return
				}
				continue
			}
			consecutiveFails = 0
		}
	}
}
