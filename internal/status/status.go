// Package status provides a thread-safe status tracker for the vivarium daemon.
// It is written by the control loop and read by HTTP handlers.
package status

import (
	"maps"
	"sync"
	"time"

	"github.com/sweeney/vivarium/internal/logic"
)

// Config contains daemon configuration for display.
type Config struct {
	SensorEvery time.Duration
	RelayEvery  time.Duration
	FileEvery   time.Duration
	Broker      string
	HTTPAddr    string
	VideoDir    string
}

// BucketSummary is one retention filter's share of a pass.
type BucketSummary struct {
	Name   string
	Files  int
	SizeKB float64
}

// RetentionSummary is the outcome of the most recent retention pass.
type RetentionSummary struct {
	At       time.Time
	Checked  int
	Removed  int
	Retained int
	Buckets  []BucketSummary
}

// Snapshot is a point-in-time view of daemon state.
// It is a value type; its maps are copies.
type Snapshot struct {
	Devices       map[string]logic.State
	Readings      map[string]float64
	Temperature   float64
	TemperatureOK bool
	LastReconcile time.Time
	VideoBytes    int64
	Retention     *RetentionSummary
	StartTime     time.Time
	Now           time.Time
	MQTTConnected bool
	Config        Config
}

// Uptime returns the duration since the daemon started.
func (s Snapshot) Uptime() time.Duration {
	return s.Now.Sub(s.StartTime)
}

// Tracker holds mutable daemon state behind an RWMutex.
type Tracker struct {
	mu   sync.RWMutex
	snap Snapshot
}

// NewTracker creates a Tracker with the given start time and config.
func NewTracker(startTime time.Time, cfg Config) *Tracker {
	return &Tracker{
		snap: Snapshot{
			StartTime: startTime,
			Config:    cfg,
		},
	}
}

// SetDevices records the commanded state of every output after a
// reconciliation pass. temp is logic.Unavailable when the read failed.
func (t *Tracker) SetDevices(devices map[string]bool, temp float64, at time.Time) {
	states := make(map[string]logic.State, len(devices))
	for name, on := range devices {
		states[name] = logic.StateOf(on)
	}
	t.mu.Lock()
	t.snap.Devices = states
	t.snap.Temperature = temp
	t.snap.TemperatureOK = temp != logic.Unavailable
	t.snap.LastReconcile = at
	t.mu.Unlock()
}

// SetReadings records the latest sensor readings.
func (t *Tracker) SetReadings(r map[string]float64) {
	r = maps.Clone(r)
	t.mu.Lock()
	t.snap.Readings = r
	t.mu.Unlock()
}

// SetVideoBytes records the size of the last day of video.
func (t *Tracker) SetVideoBytes(n int64) {
	t.mu.Lock()
	t.snap.VideoBytes = n
	t.mu.Unlock()
}

// SetRetention records the outcome of a retention pass.
func (t *Tracker) SetRetention(r RetentionSummary) {
	t.mu.Lock()
	t.snap.Retention = &r
	t.mu.Unlock()
}

// SetMQTTConnected sets the MQTT connection status.
func (t *Tracker) SetMQTTConnected(connected bool) {
	t.mu.Lock()
	t.snap.MQTTConnected = connected
	t.mu.Unlock()
}

// Snapshot returns a point-in-time copy of the daemon state.
// The Now field is set to the current time at the moment of the call.
func (t *Tracker) Snapshot() Snapshot {
	t.mu.RLock()
	s := t.snap
	s.Devices = maps.Clone(t.snap.Devices)
	s.Readings = maps.Clone(t.snap.Readings)
	if t.snap.Retention != nil {
		r := *t.snap.Retention
		r.Buckets = append([]BucketSummary(nil), r.Buckets...)
		s.Retention = &r
	}
	t.mu.RUnlock()
	s.Now = time.Now()
	return s
}
