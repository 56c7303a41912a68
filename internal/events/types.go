// Package events provides an in-process event bus for decoupling detection
// producers from display and notification consumers, with non-blocking
// delivery guarantees for the publishing pipeline.
package events

import "time"

// Kind identifies the type of a bus event.
type Kind string

const (
	// KindDetection is published for every accepted detection.
	KindDetection Kind = "detection"

	// KindDeviceError is published when the audio source loses its device.
	KindDeviceError Kind = "device_error"

	// KindDeviceRecovered is published when capture resumes after a device error.
	KindDeviceRecovered Kind = "device_recovered"
)

// Event is a single bus event. Sequence numbers are assigned by the bus,
// are strictly monotonic across all kinds, and order the replay window.
type Event struct {
	Sequence uint64
	Kind     Kind
	Time     time.Time
	Payload  any
}

// BusStats contains runtime statistics for monitoring.
type BusStats struct {
	Published uint64
	Delivered uint64
	Dropped   uint64
	Replayed  uint64
}
