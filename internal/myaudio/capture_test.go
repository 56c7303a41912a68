package myaudio

import (
	"fmt"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
)

// swapRunDevice replaces the device-run step and shortens the reconnect
// backoff for the duration of the test.
func swapRunDevice(t *testing.T, fn func(*conf.Settings, chan struct{}, func(string), *slog.Logger) error) {
	t.Helper()

	prevRun := runDevice
	prevBase, prevMax := reconnectBaseDelay, reconnectMaxDelay
	runDevice = fn
	reconnectBaseDelay = time.Millisecond
	reconnectMaxDelay = 4 * time.Millisecond
	t.Cleanup(func() {
		runDevice = prevRun
		reconnectBaseDelay, reconnectMaxDelay = prevBase, prevMax
	})
}

func waitDeviceEvent(t *testing.T, eventChan <-chan DeviceEvent) DeviceEvent {
	t.Helper()

	select {
	case ev := <-eventChan:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for device event")
		return DeviceEvent{}
	}
}

func TestCaptureReconnectsAndReportsRecovery(t *testing.T) {
	// Note: Cannot run in parallel, swaps the package-level device runner

	var mu sync.Mutex
	calls := 0
	swapRunDevice(t, func(_ *conf.Settings, quitChan chan struct{}, onStarted func(string), _ *slog.Logger) error {
		mu.Lock()
		calls++
		n := calls
		mu.Unlock()
		if n < 3 {
			return fmt.Errorf("device gone")
		}
		onStarted("fake-device")
		<-quitChan
		return nil
	})

	settings := &conf.Settings{}
	settings.Realtime.Audio.Source = "sysdefault"
	eventChan := make(chan DeviceEvent, 8)
	quitChan := make(chan struct{})
	var wg sync.WaitGroup

	CaptureAudio(settings, &wg, quitChan, eventChan, nil)

	ev := waitDeviceEvent(t, eventChan)
	assert.Equal(t, DeviceError, ev.Kind)
	assert.Equal(t, 1, ev.Attempt)
	require.Error(t, ev.Err)

	ev = waitDeviceEvent(t, eventChan)
	assert.Equal(t, DeviceError, ev.Kind)
	assert.Equal(t, 2, ev.Attempt)

	// The third attempt succeeds and reports recovery.
	ev = waitDeviceEvent(t, eventChan)
	assert.Equal(t, DeviceRecovered, ev.Kind)
	assert.Equal(t, 2, ev.Attempt)

	close(quitChan)
	wg.Wait()

	mu.Lock()
	assert.Equal(t, 3, calls)
	mu.Unlock()
}

func TestCaptureStopsOnQuitWithoutDevice(t *testing.T) {
	// Note: Cannot run in parallel, swaps the package-level device runner

	swapRunDevice(t, func(_ *conf.Settings, _ chan struct{}, _ func(string), _ *slog.Logger) error {
		return fmt.Errorf("device gone")
	})

	settings := &conf.Settings{}
	eventChan := make(chan DeviceEvent, 8)
	quitChan := make(chan struct{})
	var wg sync.WaitGroup

	CaptureAudio(settings, &wg, quitChan, eventChan, nil)

	// Let at least one failed attempt happen, then stop.
	waitDeviceEvent(t, eventChan)
	close(quitChan)

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("capture goroutine did not stop on quit")
	}
}
