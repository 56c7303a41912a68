package myaudio

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
)

// setWindowStride pins the package-level window stride so tests do not depend
// on whichever overlap the settings file happens to configure.
func setWindowStride(t *testing.T, overlapSeconds float64) {
	t.Helper()

	prevOverlap, prevRead := overlapSize, readSize
	overlapSize = SecondsToBytes(overlapSeconds)
	readSize = conf.BufferSize - overlapSize
	t.Cleanup(func() {
		overlapSize, readSize = prevOverlap, prevRead
	})
}

// newTestBuffer allocates an analysis buffer for a unique source and removes
// it when the test finishes.
func newTestBuffer(t *testing.T, capacity int) string {
	t.Helper()

	source := fmt.Sprintf("test-source-%s", t.Name())
	require.NoError(t, AllocateAnalysisBuffer(capacity, source))
	t.Cleanup(func() {
		_ = RemoveAnalysisBuffer(source)
	})
	return source
}

// pattern returns n bytes of a deterministic repeating sequence starting at
// the given stream offset.
func pattern(offset, n int) []byte {
	out := make([]byte, n)
	for i := range out {
		out[i] = byte((offset + i) % 251)
	}
	return out
}

func TestSecondsToBytes(t *testing.T) {
	// Note: Cannot run in parallel due to global buffer maps

	assert.Equal(t, conf.SampleRate*conf.BitDepth/8, SecondsToBytes(1.0))
	assert.Equal(t, conf.SampleRate*conf.BitDepth/8/2, SecondsToBytes(0.5))
	assert.Equal(t, conf.BufferSize, SecondsToBytes(float64(conf.CaptureLength)))
	assert.Equal(t, 0, SecondsToBytes(0))
}

func TestAllocateAnalysisBufferValidation(t *testing.T) {
	setWindowStride(t, 0)

	err := AllocateAnalysisBuffer(0, "some-source")
	assert.Error(t, err, "zero capacity should be rejected")

	err = AllocateAnalysisBuffer(-1, "some-source")
	assert.Error(t, err, "negative capacity should be rejected")

	err = AllocateAnalysisBuffer(1024, "")
	assert.Error(t, err, "empty source should be rejected")
}

func TestAllocateAndRemoveAnalysisBuffer(t *testing.T) {
	setWindowStride(t, 0)

	source := newTestBuffer(t, 4096)

	err := AllocateAnalysisBuffer(4096, source)
	assert.Error(t, err, "duplicate allocation should fail")
	assert.Contains(t, err.Error(), "already exists")

	require.NoError(t, RemoveAnalysisBuffer(source))

	err = RemoveAnalysisBuffer(source)
	assert.Error(t, err, "removing an unknown source should fail")
}

func TestInitAnalysisBuffers(t *testing.T) {
	setWindowStride(t, 0)

	sources := []string{"init-a", "init-b", "init-c"}
	require.NoError(t, InitAnalysisBuffers(4096, sources))
	t.Cleanup(func() {
		for _, s := range sources {
			_ = RemoveAnalysisBuffer(s)
		}
	})

	for _, s := range sources {
		assert.NoError(t, WriteToAnalysisBuffer(s, []byte{1, 2, 3, 4}))
	}

	err := InitAnalysisBuffers(4096, nil)
	assert.Error(t, err, "empty source list should be rejected")
}

func TestWriteToAnalysisBufferUnknownSource(t *testing.T) {
	setWindowStride(t, 0)

	err := WriteToAnalysisBuffer("no-such-source", []byte{1, 2, 3})
	assert.Error(t, err)
}

func TestReadReturnsNilUntilWindowAvailable(t *testing.T) {
	setWindowStride(t, 0)

	source := newTestBuffer(t, conf.BufferSize*3)

	// Half a window is not enough.
	half := pattern(0, conf.BufferSize/2)
	require.NoError(t, WriteToAnalysisBuffer(source, half))

	data, err := ReadFromAnalysisBuffer(source)
	require.NoError(t, err)
	assert.Nil(t, data, "partial window should not be returned")

	// Completing the window makes it readable.
	rest := pattern(conf.BufferSize/2, conf.BufferSize/2)
	require.NoError(t, WriteToAnalysisBuffer(source, rest))

	data, err = ReadFromAnalysisBuffer(source)
	require.NoError(t, err)
	require.Len(t, data, conf.BufferSize)
	assert.Equal(t, pattern(0, conf.BufferSize), data)
}

func TestConsecutiveWindowsOverlap(t *testing.T) {
	setWindowStride(t, 1.5)

	source := newTestBuffer(t, conf.BufferSize*3)

	stream := pattern(0, conf.BufferSize+readSize*2)
	require.NoError(t, WriteToAnalysisBuffer(source, stream))

	// With a 1.5 s overlap the first full window needs two reads to fill.
	data, err := ReadFromAnalysisBuffer(source)
	require.NoError(t, err)
	assert.Nil(t, data, "first read only primes the window remainder")

	first, err := ReadFromAnalysisBuffer(source)
	require.NoError(t, err)
	require.Len(t, first, conf.BufferSize)
	assert.Equal(t, stream[:conf.BufferSize], first)

	second, err := ReadFromAnalysisBuffer(source)
	require.NoError(t, err)
	require.Len(t, second, conf.BufferSize)
	assert.Equal(t, stream[readSize:readSize+conf.BufferSize], second)

	// The head of each window repeats the tail of the previous one.
	assert.Equal(t, first[readSize:], second[:overlapSize])
}

func TestWriteEvictsOldestWhenFull(t *testing.T) {
	setWindowStride(t, 0)

	source := newTestBuffer(t, 10)

	require.NoError(t, WriteToAnalysisBuffer(source, pattern(0, 8)))
	require.NoError(t, WriteToAnalysisBuffer(source, pattern(8, 5)))

	abMutex.Lock()
	ab := analysisBuffers[source]
	require.Equal(t, 10, ab.Length(), "buffer should be full after eviction")
	got := make([]byte, 10)
	_, err := ab.Read(got)
	abMutex.Unlock()
	require.NoError(t, err)

	// The three oldest bytes were evicted to make room.
	assert.Equal(t, pattern(3, 10), got)
}
