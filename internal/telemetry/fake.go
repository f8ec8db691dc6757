package telemetry

import "context"

// FakeSink records written batches for test assertions.
type FakeSink struct {
	// Records contains every record written, flattened across batches.
	Records []Record

	// Batches counts Write calls that succeeded.
	Batches int

	// WriteError, if set, will be returned by Write.
	WriteError error
}

// NewFakeSink creates a FakeSink.
func NewFakeSink() *FakeSink {
	return &FakeSink{}
}

// Write records the batch.
func (f *FakeSink) Write(ctx context.Context, records []Record) error {
	if f.WriteError != nil {
		return f.WriteError
	}
	f.Batches++
	f.Records = append(f.Records, records...)
	return nil
}

// FieldValues returns every value written for a field, in order.
func (f *FakeSink) FieldValues(field string) []any {
	var out []any
	for _, r := range f.Records {
		if v, ok := r.Fields[field]; ok {
			out = append(out, v)
		}
	}
	return out
}

// Reset clears recorded batches.
func (f *FakeSink) Reset() {
	f.Records = nil
	f.Batches = 0
	f.WriteError = nil
}
