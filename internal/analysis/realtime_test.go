package analysis

import (
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mverteuil/BirdNET-Pi-sub001/internal/conf"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/events"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/logging"
	"github.com/mverteuil/BirdNET-Pi-sub001/internal/myaudio"
)

func TestInitializeBuffersKeyedByCaptureBackend(t *testing.T) {
	// Note: Cannot run in parallel, uses the global buffer maps

	settings := &conf.Settings{}
	settings.Realtime.Audio.Source = "sysdefault"
	settings.Realtime.Audio.BufferSeconds = 9

	sources, err := initializeBuffers(settings)
	require.NoError(t, err)
	require.Equal(t, []string{myaudio.MalgoSourceName}, sources)
	t.Cleanup(func() {
		for _, s := range sources {
			_ = myaudio.RemoveAnalysisBuffer(s)
		}
	})

	// The capture callback writes under the backend key, never under the
	// configured device name.
	chunk := make([]byte, 512)
	require.NoError(t, myaudio.WriteToAnalysisBuffer(myaudio.MalgoSourceName, chunk))
	assert.Error(t, myaudio.WriteToAnalysisBuffer("sysdefault", chunk))

	// The capture buffer exists under the same key; it is merely empty.
	_, err = myaudio.ReadSegmentFromCaptureBuffer(myaudio.MalgoSourceName, time.Now(), 1)
	require.Error(t, err)
	assert.NotContains(t, err.Error(), "no capture buffer")
}

func TestDeviceEventMonitorForwardsAndStops(t *testing.T) {
	bus := events.New(events.DefaultConfig(), nil)
	sub, err := bus.Subscribe()
	require.NoError(t, err)

	eventChan := make(chan myaudio.DeviceEvent, 4)
	quitChan := make(chan struct{})
	var wg sync.WaitGroup

	startDeviceEventMonitor(&wg, eventChan, bus, quitChan, logging.ForService("test"))

	eventChan <- myaudio.DeviceEvent{
		Kind:    myaudio.DeviceError,
		Source:  "sysdefault",
		Err:     fmt.Errorf("device gone"),
		Attempt: 1,
		Time:    time.Now(),
	}
	ev := waitBusEvent(t, sub.Events())
	assert.Equal(t, events.KindDeviceError, ev.Kind)
	payload, ok := ev.Payload.(myaudio.DeviceEvent)
	require.True(t, ok)
	assert.Equal(t, 1, payload.Attempt)

	eventChan <- myaudio.DeviceEvent{
		Kind:    myaudio.DeviceRecovered,
		Source:  "sysdefault",
		Attempt: 1,
		Time:    time.Now(),
	}
	ev = waitBusEvent(t, sub.Events())
	assert.Equal(t, events.KindDeviceRecovered, ev.Kind)

	// Closing quitChan must drain the monitor goroutine.
	close(quitChan)
	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("device event monitor did not stop on quit")
	}

	require.NoError(t, bus.Shutdown(time.Second))
}

func waitBusEvent(t *testing.T, ch <-chan events.Event) events.Event {
	t.Helper()

	select {
	case ev := <-ch:
		return ev
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for bus event")
		return events.Event{}
	}
}
