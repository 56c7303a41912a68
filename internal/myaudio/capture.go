package myaudio

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"runtime"
	"strings"
	"sync"
	"time"
	"unsafe"

	"github.com/gen2brain/malgo"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/observability"
)

// MalgoSourceName is the buffer key used for the local capture device.
const MalgoSourceName = "malgo"

var (
	reconnectBaseDelay = 1 * time.Second
	reconnectMaxDelay  = 30 * time.Second
)

// runDevice opens and streams from the capture device; swapped in tests.
var runDevice = runCaptureDevice

// captureSource holds information about an audio capture source.
type captureSource struct {
	Name    string
	ID      string
	Pointer unsafe.Pointer
}

// AudioDeviceInfo holds information about an audio device.
type AudioDeviceInfo struct {
	Index int
	Name  string
	ID    string
}

// ListAudioSources returns a list of available audio capture devices.
func ListAudioSources() ([]AudioDeviceInfo, error) {
	ctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize context: %w", err)
	}
	defer ctx.Uninit() //nolint:errcheck

	infos, err := ctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("failed to get devices: %w", err)
	}

	devices := make([]AudioDeviceInfo, 0, len(infos))
	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			continue
		}
		devices = append(devices, AudioDeviceInfo{
			Index: i,
			Name:  infos[i].Name(),
			ID:    decodedID,
		})
	}

	return devices, nil
}

// CaptureAudio starts the capture goroutine for the configured device. The
// goroutine holds exclusive ownership of the hardware handle and keeps
// reconnecting with exponential backoff until quitChan is closed; each failed
// attempt is reported to the supervisor through eventChan and recovery is
// reported once a subsequent attempt succeeds.
func CaptureAudio(settings *conf.Settings, wg *sync.WaitGroup, quitChan chan struct{}, eventChan chan<- DeviceEvent, metrics *observability.Metrics) {
	wg.Add(1)
	go captureAudioMalgo(settings, wg, quitChan, eventChan, metrics)
}

func captureAudioMalgo(settings *conf.Settings, wg *sync.WaitGroup, quitChan chan struct{}, eventChan chan<- DeviceEvent, metrics *observability.Metrics) {
	defer wg.Done()

	log := logging.ForService("capture")

	backoff := reconnectBaseDelay
	attempt := 0
	recovering := false

	onStarted := func(name string) {
		if recovering {
			log.Info("audio capture recovered", "name", name, "attempts", attempt)
			reportDeviceEvent(eventChan, DeviceEvent{
				Kind:    DeviceRecovered,
				Source:  settings.Realtime.Audio.Source,
				Attempt: attempt,
				Time:    time.Now(),
			})
		}
		recovering = false
		attempt = 0
		backoff = reconnectBaseDelay
	}

	for {
		select {
		case <-quitChan:
			return
		default:
		}

		err := runDevice(settings, quitChan, onStarted, log)
		if err == nil {
			// Clean shutdown requested through quitChan.
			return
		}

		attempt++
		recovering = true
		if metrics != nil {
			metrics.DeviceErrors.Inc()
			metrics.DeviceRestarts.Inc()
		}
		log.Error("audio capture failed, will reconnect",
			"source", settings.Realtime.Audio.Source,
			"attempt", attempt,
			"backoff", backoff.String(),
			"error", err,
		)
		reportDeviceEvent(eventChan, DeviceEvent{
			Kind:    DeviceError,
			Source:  settings.Realtime.Audio.Source,
			Err:     err,
			Attempt: attempt,
			Time:    time.Now(),
		})

		select {
		case <-quitChan:
			return
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > reconnectMaxDelay {
			backoff = reconnectMaxDelay
		}
	}
}

// runCaptureDevice opens the capture device and streams audio into the
// analysis and capture buffers until the device stops or quitChan closes.
// It returns nil only when shutting down on request; any device failure is
// returned as an error so the caller can back off and retry. The device and
// context are released on every exit path.
func runCaptureDevice(settings *conf.Settings, quitChan chan struct{}, onStarted func(name string), log *slog.Logger) error {
	var backend malgo.Backend
	switch runtime.GOOS {
	case "linux":
		backend = malgo.BackendAlsa
	case "windows":
		backend = malgo.BackendWasapi
	case "darwin":
		backend = malgo.BackendCoreaudio
	}

	malgoCtx, err := malgo.InitContext([]malgo.Backend{backend}, malgo.ContextConfig{}, nil)
	if err != nil {
		return fmt.Errorf("context init failed: %w", err)
	}
	defer malgoCtx.Uninit() //nolint:errcheck

	infos, err := malgoCtx.Devices(malgo.Capture)
	if err != nil {
		return fmt.Errorf("failed to get capture devices: %w", err)
	}

	source, err := selectCaptureSource(settings, infos)
	if err != nil {
		return err
	}

	deviceConfig := malgo.DefaultDeviceConfig(malgo.Capture)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = conf.NumChannels
	deviceConfig.SampleRate = conf.SampleRate
	deviceConfig.Alsa.NoMMap = 1
	deviceConfig.Capture.DeviceID = source.Pointer

	// stopChan signals that the device stopped on its own, which counts
	// as a device failure.
	stopChan := make(chan struct{}, 1)

	onReceiveFrames := func(pOutput, pSamples []byte, framecount uint32) {
		if err := WriteToAnalysisBuffer(MalgoSourceName, pSamples); err != nil {
			// Analysis buffer full, this chunk is dropped rather
			// than blocking the device callback.
			return
		}
		WriteToCaptureBuffer(MalgoSourceName, pSamples)
	}

	onStopDevice := func() {
		select {
		case stopChan <- struct{}{}:
		default:
		}
	}

	device, err := malgo.InitDevice(malgoCtx.Context, deviceConfig, malgo.DeviceCallbacks{
		Data: onReceiveFrames,
		Stop: onStopDevice,
	})
	if err != nil {
		return fmt.Errorf("device init failed: %w", err)
	}
	defer device.Uninit()

	if err := device.Start(); err != nil {
		return fmt.Errorf("device start failed: %w", err)
	}
	defer device.Stop() //nolint:errcheck

	log.Info("listening on audio source", "name", source.Name, "id", source.ID)
	onStarted(source.Name)

	select {
	case <-quitChan:
		return nil
	case <-stopChan:
		return fmt.Errorf("capture device %q stopped unexpectedly", source.Name)
	}
}

// selectCaptureSource selects a capture device matching the configured source.
func selectCaptureSource(settings *conf.Settings, infos []malgo.DeviceInfo) (captureSource, error) {
	for i := range infos {
		decodedID, err := hexToASCII(infos[i].ID.String())
		if err != nil {
			continue
		}
		if matchesDeviceSettings(decodedID, &infos[i], settings.Realtime.Audio.Source) {
			return captureSource{
				Name:    infos[i].Name(),
				ID:      decodedID,
				Pointer: infos[i].ID.Pointer(),
			}, nil
		}
	}
	return captureSource{}, fmt.Errorf("no suitable capture source found for device setting %q", settings.Realtime.Audio.Source)
}

// matchesDeviceSettings checks if the device matches the configured source.
func matchesDeviceSettings(decodedID string, info *malgo.DeviceInfo, audioSource string) bool {
	if runtime.GOOS == "windows" && audioSource == "sysdefault" {
		// On Windows there is no "sysdefault" device, use the default device.
		return info.IsDefault == 1
	}
	return decodedID == audioSource || strings.Contains(info.Name(), audioSource)
}

// hexToASCII converts a hexadecimal string to an ASCII string.
func hexToASCII(hexStr string) (string, error) {
	b, err := hex.DecodeString(hexStr)
	if err != nil {
		return "", err
	}
	return string(b), nil
}
