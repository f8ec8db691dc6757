// Package logic contains the pure rule evaluation for relay reconciliation.
// This package has NO external dependencies (no GPIO, telemetry, OS, or time.Sleep).
// Time is always injectable via time.Time parameters.
package logic

import "math"

// State represents the logical state of a relay output.
type State string

const (
	StateOn  State = "ON"
	StateOff State = "OFF"
)

// StateOf converts a commanded bool into its State.
func StateOf(on bool) State {
	if on {
		return StateOn
	}
	return StateOff
}

// Unavailable is substituted for a temperature that could not be read.
// It compares below every target, so thermostat devices fail open (heat on).
var Unavailable = math.Inf(-1)

// Source identifies which category of rule produced a Command.
type Source string

const (
	SourceTimeWindow Source = "window"
	SourceThermostat Source = "thermostat"
)

// TimeWindow switches its devices on between Start (inclusive) and End
// (exclusive) hours. Start >= End wraps past midnight; Start == End is
// always on.
type TimeWindow struct {
	Name    string
	Start   int
	End     int
	Devices []string
}

// ThermoZone switches its devices on while the temperature is at or below
// Target. There is no hysteresis band.
type ThermoZone struct {
	Name    string
	Target  float64
	Devices []string
}

// Command is a single target state decided for a device.
type Command struct {
	Device string
	On     bool
	Rule   string
	Source Source
}
