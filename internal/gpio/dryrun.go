package gpio

import (
	"sync"

	"go.uber.org/zap"
)

// DryRunWriter logs output changes instead of driving hardware. It is used
// when the daemon runs with --simulate on a host without relays.
type DryRunWriter struct {
	mu     sync.Mutex
	levels map[int]bool
	log    *zap.SugaredLogger
}

// NewDryRunWriter creates a DryRunWriter.
func NewDryRunWriter(log *zap.SugaredLogger) *DryRunWriter {
	return &DryRunWriter{levels: make(map[int]bool), log: log}
}

// Write records the level and logs it.
func (w *DryRunWriter) Write(pin int, on bool) error {
	w.mu.Lock()
	w.levels[pin] = on
	w.mu.Unlock()
	w.log.Debugw("dry-run output", "pin", pin, "on", on)
	return nil
}

// Level returns the last level written to pin.
func (w *DryRunWriter) Level(pin int) bool {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.levels[pin]
}

// Close drives every output off.
func (w *DryRunWriter) Close() error {
	w.mu.Lock()
	for pin := range w.levels {
		w.levels[pin] = false
	}
	w.mu.Unlock()
	return nil
}
