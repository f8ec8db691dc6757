package telemetry

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Named pairs a sink with a name for error reporting.
type Named struct {
	Name string
	Sink Sink
}

// Multi fans a batch out to every sink. Each sink gets its own timeout, and
// one sink failing does not stop the others.
type Multi struct {
	sinks   []Named
	timeout time.Duration
}

// NewMulti creates a fan-out sink. A timeout <= 0 means no per-sink deadline.
func NewMulti(timeout time.Duration, sinks ...Named) *Multi {
	return &Multi{sinks: sinks, timeout: timeout}
}

// Add appends a sink.
func (m *Multi) Add(name string, s Sink) {
	m.sinks = append(m.sinks, Named{Name: name, Sink: s})
}

// Len returns the number of sinks.
func (m *Multi) Len() int { return len(m.sinks) }

// Write delivers records to every sink and joins their errors.
func (m *Multi) Write(ctx context.Context, records []Record) error {
	if len(records) == 0 {
		return nil
	}
	var errs []error
	for _, n := range m.sinks {
		if err := m.writeOne(ctx, n, records); err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", n.Name, err))
		}
	}
	return errors.Join(errs...)
}

func (m *Multi) writeOne(ctx context.Context, n Named, records []Record) error {
	if m.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, m.timeout)
		defer cancel()
	}
	return n.Sink.Write(ctx, records)
}
