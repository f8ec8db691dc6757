//go:build linux

package gpio

import (
	"errors"
	"fmt"
	"sort"

	"github.com/warthog618/go-gpiocdev"
)

// RealWriter drives relays on actual hardware using Linux GPIO character device.
type RealWriter struct {
	chip  *gpiocdev.Chip
	lines map[int]*gpiocdev.Line
}

// NewRealWriter requests every pin as an output, initially off.
// Most relay boards are active low, so activeLow should normally be true.
func NewRealWriter(chipName string, pins []int, activeLow bool) (*RealWriter, error) {
	chip, err := gpiocdev.NewChip(chipName)
	if err != nil {
		return nil, fmt.Errorf("open gpio chip: %w", err)
	}

	polarity := gpiocdev.AsActiveHigh
	if activeLow {
		polarity = gpiocdev.AsActiveLow
	}

	w := &RealWriter{
		chip:  chip,
		lines: make(map[int]*gpiocdev.Line, len(pins)),
	}

	sorted := append([]int(nil), pins...)
	sort.Ints(sorted)
	for _, pin := range sorted {
		if _, ok := w.lines[pin]; ok {
			continue
		}
		// Logical 0 = relay off; the polarity option handles the inversion.
		line, err := chip.RequestLine(pin, gpiocdev.AsOutput(0), polarity)
		if err != nil {
			w.Close()
			return nil, fmt.Errorf("request output pin %d: %w", pin, err)
		}
		w.lines[pin] = line
	}

	return w, nil
}

// Write sets the logical state of a previously requested pin.
func (w *RealWriter) Write(pin int, on bool) error {
	line, ok := w.lines[pin]
	if !ok {
		return fmt.Errorf("pin %d not requested", pin)
	}
	v := 0
	if on {
		v = 1
	}
	if err := line.SetValue(v); err != nil {
		return fmt.Errorf("set pin %d: %w", pin, err)
	}
	return nil
}

// Close drives every relay off before releasing the lines, so nothing is
// left energised after shutdown.
func (w *RealWriter) Close() error {
	var errs []error

	for pin, line := range w.lines {
		if err := line.SetValue(0); err != nil {
			errs = append(errs, fmt.Errorf("switch off pin %d: %w", pin, err))
		}
		if err := line.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close pin %d: %w", pin, err))
		}
	}
	w.lines = nil

	if w.chip != nil {
		if err := w.chip.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close chip: %w", err))
		}
		w.chip = nil
	}

	return errors.Join(errs...)
}
