package config

import (
	"errors"
	"fmt"
	"sort"
)

// Validate checks the configuration for values the daemon cannot run with.
// Every problem is reported, joined.
func (c Config) Validate() error {
	var errs []error
	bad := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if len(c.Devices) == 0 {
		bad("no devices configured")
	}
	pins := make(map[int]string, len(c.Devices))
	names := make([]string, 0, len(c.Devices))
	for name := range c.Devices {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		pin := c.Devices[name]
		if pin < 0 {
			bad("device %s: negative pin %d", name, pin)
			continue
		}
		if other, dup := pins[pin]; dup {
			bad("device %s: pin %d already used by %s", name, pin, other)
			continue
		}
		pins[pin] = name
	}

	for i, w := range c.TimeWindows {
		if w.Start < 0 || w.Start > 23 || w.End < 0 || w.End > 23 {
			bad("time window %d (%s): hours must be 0-23, got %d-%d", i, w.Name, w.Start, w.End)
		}
	}
	for i, z := range c.ThermoZones {
		if len(z.Devices) == 0 {
			bad("thermo zone %d (%s): no devices", i, z.Name)
		}
	}

	for name, d := range map[string]int64{
		"tick":      int64(c.Intervals.Tick),
		"sensors":   int64(c.Intervals.Sensors),
		"relays":    int64(c.Intervals.Relays),
		"files":     int64(c.Intervals.Files),
		"heartbeat": int64(c.Intervals.Heartbeat),
	} {
		if d <= 0 {
			bad("interval %s must be positive", name)
		}
	}

	switch c.Sensors.Source {
	case SourceOneWire, SourceSimulated:
	default:
		bad("sensors.source %q: want %s or %s", c.Sensors.Source, SourceOneWire, SourceSimulated)
	}
	switch c.Thermostat.Source {
	case SourceSensor:
	case SourceInflux:
		if c.Influx.URL == "" {
			bad("thermostat.source influx needs influx.url")
		}
	default:
		bad("thermostat.source %q: want %s or %s", c.Thermostat.Source, SourceSensor, SourceInflux)
	}

	r := c.Retention
	if r.Dir == "" {
		bad("retention.dir is empty")
	}
	if r.MinHour < 0 || r.MinHour > 24 || r.MaxHour < 0 || r.MaxHour > 24 {
		bad("retention hours must be 0-24, got %d-%d", r.MinHour, r.MaxHour)
	}
	if r.MaxSize < 0 {
		bad("retention.max_size must not be negative")
	}
	if r.MaxAge <= 0 {
		bad("retention.max_age must be positive")
	}

	if c.Telemetry.Measurement == "" {
		bad("telemetry.measurement is empty")
	}
	if c.History.Path != "" && c.History.Keep <= 0 {
		bad("history.keep must be positive")
	}

	return errors.Join(errs...)
}

// UnknownDevices lists rule references to devices with no configured pin,
// as "kind rule: device". They do not stop the daemon: the controller
// rejects each such command on its own and drives the rest.
func (c Config) UnknownDevices() []string {
	var out []string
	for _, w := range c.TimeWindows {
		out = append(out, c.unknown("time window", w.Name, w.Devices)...)
	}
	for _, z := range c.ThermoZones {
		out = append(out, c.unknown("thermo zone", z.Name, z.Devices)...)
	}
	return out
}

func (c Config) unknown(kind, rule string, devices []string) []string {
	var out []string
	for _, d := range devices {
		if _, ok := c.Devices[d]; !ok {
			out = append(out, fmt.Sprintf("%s %s: %s", kind, rule, d))
		}
	}
	return out
}
