// Package telemetry defines the measurement records emitted by the controller
// and the sinks that receive them. Sinks never feed back into control
// decisions: a failed write is logged by the caller and dropped.
package telemetry

import (
	"context"
	"time"
)

// Field names shared across sinks.
const (
	VideoSizeField = "videosize"
	RunTag         = "run"
)

// StatusField returns the field name for a device's commanded state.
func StatusField(device string) string {
	return device + "_status"
}

// Record is a single measurement point.
type Record struct {
	Measurement string
	Tags        map[string]string
	Fields      map[string]any
	Time        time.Time
}

// Sink receives batches of records.
type Sink interface {
	Write(ctx context.Context, records []Record) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, records []Record) error

// Write calls f.
func (f SinkFunc) Write(ctx context.Context, records []Record) error {
	return f(ctx, records)
}

// Discard is a Sink that drops everything.
var Discard Sink = SinkFunc(func(context.Context, []Record) error { return nil })
