package gpio

// FakeWriter is a test double that records output writes.
type FakeWriter struct {
	// Writes contains every successful write in order.
	Writes []PinWrite

	// Levels holds the last written state per pin.
	Levels map[int]bool

	// Attempts counts every call to Write, including failed ones.
	Attempts int

	// FailPins makes Write return the mapped error for that pin.
	FailPins map[int]error

	// WriteError, if set, will be returned by every Write.
	WriteError error

	// Closed tracks if Close was called
	Closed bool
}

// PinWrite records a single write.
type PinWrite struct {
	Pin int
	On  bool
}

// NewFakeWriter creates a FakeWriter with no outputs set.
func NewFakeWriter() *FakeWriter {
	return &FakeWriter{Levels: make(map[int]bool)}
}

// Write records the write unless a failure is scripted for it.
func (f *FakeWriter) Write(pin int, on bool) error {
	f.Attempts++
	if f.WriteError != nil {
		return f.WriteError
	}
	if err, ok := f.FailPins[pin]; ok {
		return err
	}
	f.Writes = append(f.Writes, PinWrite{Pin: pin, On: on})
	f.Levels[pin] = on
	return nil
}

// Close switches every known pin off and marks the writer as closed.
func (f *FakeWriter) Close() error {
	for pin := range f.Levels {
		f.Levels[pin] = false
	}
	f.Closed = true
	return nil
}

// WritesTo returns the writes made to a single pin.
func (f *FakeWriter) WritesTo(pin int) []PinWrite {
	var out []PinWrite
	for _, w := range f.Writes {
		if w.Pin == pin {
			out = append(out, w)
		}
	}
	return out
}

// Reset clears recorded writes and scripted failures.
func (f *FakeWriter) Reset() {
	f.Writes = nil
	f.Levels = make(map[int]bool)
	f.Attempts = 0
	f.FailPins = nil
	f.WriteError = nil
	f.Closed = false
}
