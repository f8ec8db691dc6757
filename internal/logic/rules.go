package logic

import "time"

// InPeriod reports whether hour falls inside the [start, end) window on a
// 24-hour ring. When start >= end the window wraps past midnight, so a
// window with start == end covers every hour.
func InPeriod(hour, start, end int) bool {
	if start < end {
		return start <= hour && hour < end
	}
	return hour >= start || hour < end
}

// ShouldHeat reports whether a thermostat device should be on. The boundary
// is inclusive: a temperature equal to the target still heats.
func ShouldHeat(temp, target float64) bool {
	return temp <= target
}

// Plan evaluates all rules for a single reconciliation pass and returns the
// commands in application order. Every time-window command comes before
// every thermostat command, so a device named by both kinds of rule ends the
// pass in the thermostat's state.
func Plan(now time.Time, temp float64, windows []TimeWindow, zones []ThermoZone) []Command {
	var cmds []Command

	hour := now.Hour()
	for _, w := range windows {
		on := InPeriod(hour, w.Start, w.End)
		for _, d := range w.Devices {
			cmds = append(cmds, Command{Device: d, On: on, Rule: w.Name, Source: SourceTimeWindow})
		}
	}

	for _, z := range zones {
		on := ShouldHeat(temp, z.Target)
		for _, d := range z.Devices {
			cmds = append(cmds, Command{Device: d, On: on, Rule: z.Name, Source: SourceThermostat})
		}
	}

	return cmds
}

// Final collapses commands to the last decision per device, which is what
// the store holds once every command in the pass has been applied.
func Final(cmds []Command) map[string]bool {
	out := make(map[string]bool, len(cmds))
	for _, c := range cmds {
		out[c.Device] = c.On
	}
	return out
}
