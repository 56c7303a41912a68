package myaudio

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
)

func TestSavePCMDataToWAV(t *testing.T) {
	t.Parallel()

	// Little-endian samples: 0, 1, -1, 32767, -32768.
	pcm := []byte{
		0x00, 0x00,
		0x01, 0x00,
		0xFF, 0xFF,
		0xFF, 0x7F,
		0x00, 0x80,
	}

	path := filepath.Join(t.TempDir(), "clips", "2026", "01", "test_clip.wav")
	require.NoError(t, SavePCMDataToWAV(path, pcm))

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	dec := wav.NewDecoder(f)
	buf, err := dec.FullPCMBuffer()
	require.NoError(t, err)

	assert.Equal(t, conf.SampleRate, buf.Format.SampleRate)
	assert.Equal(t, conf.NumChannels, buf.Format.NumChannels)
	assert.Equal(t, []int{0, 1, -1, 32767, -32768}, buf.Data)
}

func TestByteSliceToInts(t *testing.T) {
	t.Parallel()

	assert.Empty(t, byteSliceToInts(nil))

	got := byteSliceToInts([]byte{0x01, 0x00, 0x00, 0x80})
	assert.Equal(t, []int{1, -32768}, got)

	// A trailing odd byte is not a complete sample.
	got = byteSliceToInts([]byte{0x01, 0x00, 0xFF})
	assert.Equal(t, []int{1}, got)
}
