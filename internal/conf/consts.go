// conf/consts.go hard coded constants
package conf

const (
	SampleRate    = 48000 // Sample rate of the audio fed to the classifier
	BitDepth      = 16    // Bit depth of the audio fed to the classifier
	NumChannels   = 1     // Number of channels of the audio fed to the classifier
	CaptureLength = 3     // Length of audio data fed to the classifier in seconds

	// BufferSize is the byte length of one analysis window
	BufferSize = SampleRate * (BitDepth / 8) * NumChannels * CaptureLength
)

// Cooldown reset modes, see Realtime.Cooldown.Reset
const (
	CooldownResetFirstAccept = "first-accept" // cooldown measured from the accepted detection
	CooldownResetSliding     = "sliding"      // cooldown restarts on every suppressed candidate
)
