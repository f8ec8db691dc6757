// Package relay reconciles relay outputs against their computed target state.
// Outputs are written only when the target differs from the last commanded
// state, and every change is reported as {device}_status telemetry.
package relay

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/vivarium/internal/gpio"
	"github.com/sweeney/vivarium/internal/logic"
	"github.com/sweeney/vivarium/internal/telemetry"
)

// ErrUnknownDevice is returned for a device name with no configured pin.
var ErrUnknownDevice = errors.New("unknown device")

// DefaultSettle is the pause after each relay toggle.
const DefaultSettle = 100 * time.Millisecond

// Result summarises one reconciliation pass.
type Result struct {
	Commands int
	Changed  int
	Failed   int
}

// Controller owns the device state store and the output driver.
type Controller struct {
	pins   map[string]int
	store  *Store
	driver gpio.Writer
	emit   *telemetry.Emitter
	settle time.Duration
	sleep  func(time.Duration)
	log    *zap.SugaredLogger
}

// NewController creates a controller for the given device → pin map.
// Every device starts in the off state.
func NewController(pins map[string]int, driver gpio.Writer, emit *telemetry.Emitter, settle time.Duration, log *zap.SugaredLogger) *Controller {
	names := make([]string, 0, len(pins))
	own := make(map[string]int, len(pins))
	for d, p := range pins {
		names = append(names, d)
		own[d] = p
	}
	return &Controller{
		pins:   own,
		store:  NewStore(names),
		driver: driver,
		emit:   emit,
		settle: settle,
		sleep:  time.Sleep,
		log:    log,
	}
}

// States returns a copy of the commanded state of every device.
func (c *Controller) States() map[string]bool {
	return c.store.Snapshot()
}

// Devices returns the configured device names in sorted order.
func (c *Controller) Devices() []string {
	return c.store.Names()
}

// Reconcile evaluates every rule at now and applies the resulting commands.
// temp must already carry the fail-open substitution (logic.Unavailable)
// when the sensor could not be read. A failing device is logged and skipped.
func (c *Controller) Reconcile(ctx context.Context, now time.Time, temp float64, windows []logic.TimeWindow, zones []logic.ThermoZone) Result {
	cmds := logic.Plan(now, temp, windows, zones)
	res := Result{Commands: len(cmds)}
	for _, cmd := range cmds {
		changed, err := c.Set(ctx, cmd.Device, cmd.On)
		if err != nil {
			res.Failed++
			c.log.Errorw("set device failed", "device", cmd.Device, "rule", cmd.Rule, "source", cmd.Source, "target", logic.StateOf(cmd.On), "err", err)
			continue
		}
		if changed {
			res.Changed++
		}
	}
	return res
}

// SetDevice drives a device to the given state. It returns false if the
// device is unknown or the output write failed; in both cases the store is
// left unchanged so the next pass retries.
func (c *Controller) SetDevice(ctx context.Context, device string, on bool) bool {
	if _, err := c.Set(ctx, device, on); err != nil {
		c.log.Errorw("set device failed", "device", device, "target", logic.StateOf(on), "err", err)
		return false
	}
	return true
}

// Set is SetDevice with the error and whether the output changed.
func (c *Controller) Set(ctx context.Context, device string, on bool) (bool, error) {
	pin, ok := c.pins[device]
	if !ok {
		return false, fmt.Errorf("%w: %q", ErrUnknownDevice, device)
	}

	if cur, _ := c.store.Get(device); cur == on {
		return false, nil
	}

	if err := c.driver.Write(pin, on); err != nil {
		return false, fmt.Errorf("write pin %d: %w", pin, err)
	}
	c.store.set(device, on)
	c.log.Infow("device switched", "device", device, "pin", pin, "state", logic.StateOf(on))
	c.emit.DeviceStatus(ctx, device, on)

	if c.settle > 0 {
		c.sleep(c.settle)
	}
	return true, nil
}

// Init drives every output off and reports the off state for each device.
func (c *Controller) Init(ctx context.Context) error {
	c.log.Infow("initialising all outputs to off", "devices", len(c.pins))
	return c.forceOff(ctx, true)
}

// Shutdown drives every output off regardless of the commanded state, so the
// hardware is safe even if a previous write was lost. Telemetry is emitted
// only for devices that were on.
func (c *Controller) Shutdown(ctx context.Context) error {
	c.log.Infow("switching all outputs off")
	return c.forceOff(ctx, false)
}

func (c *Controller) forceOff(ctx context.Context, always bool) error {
	var errs []error
	for _, d := range c.store.Names() {
		pin := c.pins[d]
		if err := c.driver.Write(pin, false); err != nil {
			errs = append(errs, fmt.Errorf("%s (pin %d): %w", d, pin, err))
			continue
		}
		was, _ := c.store.Get(d)
		c.store.set(d, false)
		if always || was {
			c.emit.DeviceStatus(ctx, d, false)
		}
	}
	return errors.Join(errs...)
}
