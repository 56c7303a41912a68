// capture_buffer.go: time-indexed circular buffer used to extract audio clips
// of accepted detections.
package myaudio

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// clipWaitTimeout bounds how long a clip read waits for audio still being captured.
const clipWaitTimeout = 5 * time.Second

// CaptureBuffer is a circular buffer of PCM audio data with timestamp tracking.
type CaptureBuffer struct {
	data           []byte
	writeIndex     int
	sampleRate     int
	bytesPerSample int
	bufferSize     int
	bufferDuration time.Duration
	startTime      time.Time
	initialized    bool
	lock           sync.Mutex
}

// captureBuffers keeps one capture buffer per audio source.
var (
	captureBuffers map[string]*CaptureBuffer
	cbMutex        sync.RWMutex
)

// InitCaptureBuffers initializes capture buffers for the given sources.
func InitCaptureBuffers(durationSeconds, sampleRate, bytesPerSample int, sources []string) {
	cbMutex.Lock()
	defer cbMutex.Unlock()
	captureBuffers = make(map[string]*CaptureBuffer)
	for _, source := range sources {
		captureBuffers[source] = NewCaptureBuffer(durationSeconds, sampleRate, bytesPerSample)
	}
}

// NewCaptureBuffer initializes a new CaptureBuffer with timestamp tracking.
func NewCaptureBuffer(durationSeconds, sampleRate, bytesPerSample int) *CaptureBuffer {
	bufferSize := durationSeconds * sampleRate * bytesPerSample
	alignedBufferSize := ((bufferSize + 2047) / 2048) * 2048 // round up to the nearest multiple of 2048
	return &CaptureBuffer{
		data:           make([]byte, alignedBufferSize),
		sampleRate:     sampleRate,
		bytesPerSample: bytesPerSample,
		bufferSize:     alignedBufferSize,
		bufferDuration: time.Second * time.Duration(durationSeconds),
	}
}

// WriteToCaptureBuffer adds PCM audio data to the buffer for a given source.
func WriteToCaptureBuffer(source string, data []byte) {
	cbMutex.RLock()
	cb, exists := captureBuffers[source]
	cbMutex.RUnlock()
	if !exists {
		return
	}
	cb.Write(data)
}

// ReadSegmentFromCaptureBuffer extracts a segment of audio data from the
// buffer for a given source.
func ReadSegmentFromCaptureBuffer(source string, requestedStartTime time.Time, duration int) ([]byte, error) {
	cbMutex.RLock()
	cb, exists := captureBuffers[source]
	cbMutex.RUnlock()
	if !exists {
		return nil, fmt.Errorf("no capture buffer found for source: %s", source)
	}
	return cb.ReadSegment(requestedStartTime, duration)
}

// Write adds PCM audio data to the buffer, adjusting the start time when old
// data is overwritten so timestamp lookups stay accurate.
func (cb *CaptureBuffer) Write(data []byte) {
	if len(data) == 0 {
		return
	}

	cb.lock.Lock()
	defer cb.lock.Unlock()

	if !cb.initialized {
		cb.startTime = time.Now()
		cb.initialized = true
	}

	prevWriteIndex := cb.writeIndex
	bytesWritten := copy(cb.data[cb.writeIndex:], data)
	if bytesWritten < len(data) {
		// Chunk straddles the end of the buffer, wrap the remainder.
		bytesWritten += copy(cb.data, data[bytesWritten:])
	}
	cb.writeIndex = (prevWriteIndex + bytesWritten) % cb.bufferSize

	if cb.writeIndex <= prevWriteIndex {
		// Wrapped around, oldest data has been overwritten.
		cb.startTime = time.Now().Add(-cb.bufferDuration)
	}
}

// ReadSegment extracts a segment of audio data based on start time and
// duration, handling buffer wraparound. It waits, bounded by clipWaitTimeout,
// until the requested end time has passed so the tail of the clip exists.
func (cb *CaptureBuffer) ReadSegment(requestedStartTime time.Time, duration int) ([]byte, error) {
	requestedEndTime := requestedStartTime.Add(time.Duration(duration) * time.Second)
	deadline := time.Now().Add(clipWaitTimeout)

	for {
		cb.lock.Lock()

		if !cb.initialized {
			cb.lock.Unlock()
			return nil, errors.New("capture buffer has no data")
		}

		startOffset := requestedStartTime.Sub(cb.startTime)
		endOffset := requestedEndTime.Sub(cb.startTime)

		if startOffset < 0 || endOffset <= startOffset {
			cb.lock.Unlock()
			return nil, errors.New("requested times are outside the buffer's current timeframe")
		}

		startIndex := (int(startOffset.Seconds()) * cb.sampleRate * cb.bytesPerSample) % cb.bufferSize
		endIndex := (int(endOffset.Seconds()) * cb.sampleRate * cb.bytesPerSample) % cb.bufferSize

		if time.Now().After(requestedEndTime) {
			var segment []byte
			if startIndex < endIndex {
				segment = make([]byte, endIndex-startIndex)
				copy(segment, cb.data[startIndex:endIndex])
			} else {
				segment = make([]byte, (cb.bufferSize-startIndex)+endIndex)
				firstPartSize := cb.bufferSize - startIndex
				copy(segment[:firstPartSize], cb.data[startIndex:])
				copy(segment[firstPartSize:], cb.data[:endIndex])
			}
			cb.lock.Unlock()
			return segment, nil
		}

		cb.lock.Unlock()

		if time.Now().After(deadline) {
			return nil, errors.New("timed out waiting for requested audio segment")
		}
		time.Sleep(100 * time.Millisecond)
	}
}
