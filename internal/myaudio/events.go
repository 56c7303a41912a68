package myaudio

import (
	"time"
)

// DeviceEventKind identifies the type of a capture device event.
type DeviceEventKind int

const (
	// DeviceError is reported on every failed capture attempt.
	DeviceError DeviceEventKind = iota
	// DeviceRecovered is reported when capture resumes after a failure.
	DeviceRecovered
)

// DeviceEvent reports a capture device state change to the supervisor.
type DeviceEvent struct {
	Kind    DeviceEventKind
	Source  string
	Err     error
	Attempt int
	Time    time.Time
}

// reportDeviceEvent offers an event to the supervisor without blocking capture.
func reportDeviceEvent(eventChan chan<- DeviceEvent, ev DeviceEvent) {
	if eventChan == nil {
		return
	}
	select {
	case eventChan <- ev:
	default:
	}
}
