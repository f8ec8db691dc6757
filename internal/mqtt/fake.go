package mqtt

import (
	"context"

	"github.com/sweeney/vivarium/internal/telemetry"
)

// FakePublisher records published messages for test assertions.
type FakePublisher struct {
	// Records contains every telemetry record that was published.
	Records []telemetry.Record

	// Payloads contains the JSON payloads for Records.
	Payloads [][]byte

	// SystemEvents contains all system events that were published.
	SystemEvents []SystemEvent

	// SystemPayloads contains the JSON payloads for system events.
	SystemPayloads [][]byte

	// WriteError, if set, will be returned by Write.
	WriteError error

	// PublishSystemError, if set, will be returned by PublishSystem.
	PublishSystemError error

	// Closed tracks if Close was called.
	Closed bool

	// Connected controls the return value of IsConnected.
	Connected bool
}

// NewFakePublisher creates a FakePublisher for testing.
func NewFakePublisher() *FakePublisher {
	return &FakePublisher{}
}

// Write records the telemetry records.
func (f *FakePublisher) Write(_ context.Context, records []telemetry.Record) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	for _, rec := range records {
		payload, err := FormatPayload(rec)
		if err != nil {
			return err
		}
		f.Records = append(f.Records, rec)
		f.Payloads = append(f.Payloads, payload)
	}
	return nil
}

// PublishSystem records the system event.
func (f *FakePublisher) PublishSystem(event SystemEvent) error {
	if f.PublishSystemError != nil {
		return f.PublishSystemError
	}

	f.SystemEvents = append(f.SystemEvents, event)

	payload, err := FormatSystemPayload(event)
	if err != nil {
		return err
	}
	f.SystemPayloads = append(f.SystemPayloads, payload)

	return nil
}

// Close marks the publisher as closed.
func (f *FakePublisher) Close() error {
	f.Closed = true
	return nil
}

// IsConnected reports whether the fake publisher is "connected".
func (f *FakePublisher) IsConnected() bool {
	return f.Connected
}

// EventNames returns the names of the recorded system events, in order.
func (f *FakePublisher) EventNames() []string {
	out := make([]string, len(f.SystemEvents))
	for i, e := range f.SystemEvents {
		out[i] = e.Event
	}
	return out
}

// Reset clears recorded messages.
func (f *FakePublisher) Reset() {
	f.Records = nil
	f.Payloads = nil
	f.SystemEvents = nil
	f.SystemPayloads = nil
	f.Closed = false
	f.WriteError = nil
	f.PublishSystemError = nil
	f.Connected = false
}
