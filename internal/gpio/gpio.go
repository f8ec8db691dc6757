// Package gpio provides relay output writing with hardware abstraction.
// The real implementation uses Linux GPIO character device.
// The fake implementation allows testing without hardware.
package gpio

// Writer drives relay outputs.
type Writer interface {
	// Write sets the logical state of the output on pin (BCM numbering).
	// true = relay energised. Any active-low inversion is the writer's concern.
	Write(pin int, on bool) error

	// Close drives every output off and releases GPIO resources.
	Close() error
}

// DefaultChip is the GPIO character device on a Raspberry Pi.
const DefaultChip = "gpiochip0"

// Default relay board pin assignments (BCM numbering).
var DefaultPins = map[string]int{
	"lamp":             26,
	"heatpad_backwall": 19,
	"heatpad_underlog": 13,
	"mains_relay4":     6,
	"led_lights":       12,
	"fountain":         16,
	"lowvolt_relay3":   20,
	"lowvolt_relay4":   21,
}
