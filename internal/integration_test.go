package internal

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sweeney/vivarium/internal/gpio"
	"github.com/sweeney/vivarium/internal/history"
	"github.com/sweeney/vivarium/internal/logic"
	"github.com/sweeney/vivarium/internal/metrics"
	"github.com/sweeney/vivarium/internal/mqtt"
	"github.com/sweeney/vivarium/internal/relay"
	"github.com/sweeney/vivarium/internal/retention"
	"github.com/sweeney/vivarium/internal/status"
	"github.com/sweeney/vivarium/internal/telemetry"
)

var pins = map[string]int{"lamp": 26, "heatpad": 19}

var (
	windows = []logic.TimeWindow{{Name: "sunny", Start: 8, End: 20, Devices: []string{"lamp"}}}
	zones   = []logic.ThermoZone{{Name: "main", Target: 30, Devices: []string{"heatpad"}}}
)

var day = time.Date(2026, 3, 10, 0, 0, 0, 0, time.UTC)

// rig wires a controller to the fan-out sink the daemon uses.
type rig struct {
	ctrl    *relay.Controller
	driver  *gpio.FakeWriter
	pub     *mqtt.FakePublisher
	metrics *metrics.Metrics
	emit    *telemetry.Emitter
}

func newRig(t *testing.T, extra ...telemetry.Named) *rig {
	t.Helper()
	log := zap.NewNop().Sugar()
	r := &rig{
		driver:  gpio.NewFakeWriter(),
		pub:     mqtt.NewFakePublisher(),
		metrics: metrics.New(),
	}
	sinks := telemetry.NewMulti(time.Second,
		telemetry.Named{Name: "metrics", Sink: r.metrics},
		telemetry.Named{Name: "mqtt", Sink: r.pub},
	)
	for _, n := range extra {
		sinks.Add(n.Name, n.Sink)
	}
	r.emit = telemetry.NewEmitter(sinks, "vivarium", "v1", log).WithClock(func() time.Time { return day })
	r.ctrl = relay.NewController(pins, r.driver, r.emit, 0, log)
	return r
}

// TestIntegrationDayCycle reconciles hourly for a day and checks that each
// output is written only when its target changes.
func TestIntegrationDayCycle(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()

	for h := 0; h < 24; h++ {
		temp := 25.0
		if h >= 12 {
			temp = 32
		}
		res := r.ctrl.Reconcile(ctx, day.Add(time.Duration(h)*time.Hour), temp, windows, zones)
		if res.Failed != 0 {
			t.Fatalf("hour %d: %d failed commands", h, res.Failed)
		}
	}

	want := []gpio.PinWrite{
		{Pin: 19, On: true},  // 00:00 heat
		{Pin: 26, On: true},  // 08:00 lamp on
		{Pin: 19, On: false}, // 12:00 above target
		{Pin: 26, On: false}, // 20:00 lamp off
	}
	if len(r.driver.Writes) != len(want) {
		t.Fatalf("writes: got %+v, want %+v", r.driver.Writes, want)
	}
	for i := range want {
		if r.driver.Writes[i] != want[i] {
			t.Errorf("write %d: got %+v, want %+v", i, r.driver.Writes[i], want[i])
		}
	}

	// One status record per hardware write reaches MQTT.
	if len(r.pub.Records) != len(want) {
		t.Errorf("mqtt records: got %d, want %d", len(r.pub.Records), len(want))
	}
}

func TestIntegrationThermostatWinsOverWindow(t *testing.T) {
	r := newRig(t)
	both := []logic.TimeWindow{{Name: "day", Start: 8, End: 20, Devices: []string{"heatpad"}}}

	r.ctrl.Reconcile(context.Background(), day.Add(10*time.Hour), 35, both, zones)

	if r.ctrl.States()["heatpad"] {
		t.Error("heatpad: expected the thermostat's off to win over the window's on")
	}
	if r.driver.Levels[19] {
		t.Error("pin 19: expected low after the pass")
	}
}

func TestIntegrationMetricsFollowOutputs(t *testing.T) {
	r := newRig(t)
	r.ctrl.Reconcile(context.Background(), day.Add(3*time.Hour), 20, windows, zones)

	// Only changed devices are reported; lamp stays off and is never emitted.
	expected := `
# HELP vivarium_relay_state Commanded relay output state (1 = on).
# TYPE vivarium_relay_state gauge
vivarium_relay_state{device="heatpad"} 1
`
	if err := testutil.GatherAndCompare(r.metrics.Registry(), strings.NewReader(expected), "vivarium_relay_state"); err != nil {
		t.Error(err)
	}
}

func TestIntegrationSinkFailureDoesNotBlockControl(t *testing.T) {
	r := newRig(t)
	r.pub.WriteError = errors.New("broker down")

	res := r.ctrl.Reconcile(context.Background(), day.Add(9*time.Hour), 20, windows, zones)

	if res.Failed != 0 || res.Changed != 2 {
		t.Errorf("result: got %+v, want 2 changed and none failed", res)
	}
	if !r.driver.Levels[26] || !r.driver.Levels[19] {
		t.Errorf("expected both outputs on, got %v", r.driver.Levels)
	}
	// The other sinks still saw the change.
	expected := `
# HELP vivarium_relay_state Commanded relay output state (1 = on).
# TYPE vivarium_relay_state gauge
vivarium_relay_state{device="heatpad"} 1
vivarium_relay_state{device="lamp"} 1
`
	if err := testutil.GatherAndCompare(r.metrics.Registry(), strings.NewReader(expected), "vivarium_relay_state"); err != nil {
		t.Error(err)
	}
}

func TestIntegrationShutdownLeavesEverythingOff(t *testing.T) {
	r := newRig(t)
	ctx := context.Background()
	r.ctrl.Reconcile(ctx, day.Add(9*time.Hour), 20, windows, zones)

	if err := r.ctrl.Shutdown(ctx); err != nil {
		t.Fatalf("Shutdown: %v", err)
	}
	for name, pin := range pins {
		if r.driver.Levels[pin] {
			t.Errorf("%s: expected off after shutdown", name)
		}
	}

	tracker := status.NewTracker(day, status.Config{})
	tracker.SetDevices(r.ctrl.States(), 20, day)
	var doc status.StatusJSON
	if err := json.Unmarshal(status.FormatJSON(tracker.Snapshot()), &doc); err != nil {
		t.Fatalf("status JSON: %v", err)
	}
	for name := range pins {
		if doc.Status.Devices[name] != string(logic.StateOff) {
			t.Errorf("%s: status got %q, want OFF", name, doc.Status.Devices[name])
		}
	}
}

// TestIntegrationRetentionPass runs a retention pass with the video size
// journalled to SQLite and the buckets counted in metrics.
func TestIntegrationRetentionPass(t *testing.T) {
	db, err := history.Open(filepath.Join(t.TempDir(), "history.db"))
	if err != nil {
		t.Fatalf("open history: %v", err)
	}
	defer db.Close()

	r := newRig(t, telemetry.Named{Name: "history", Sink: history.NewJournal(db)})
	ctx := context.Background()
	now := day.Add(12 * time.Hour)

	fs := afero.NewMemMapFs()
	videos := []struct {
		name  string
		size  int
		mtime time.Time
	}{
		{"01-20260310093000.mp4", 4_000_000, now.Add(-150 * time.Minute)}, // daytime
		{"01-20260310013000.mp4", 2_000, now.Add(-630 * time.Minute)},     // undersize
		{"01-20260310023000.mp4", 4_000_000, now.Add(-570 * time.Minute)}, // kept
	}
	for _, v := range videos {
		path := "/videos/" + v.name
		if err := afero.WriteFile(fs, path, make([]byte, v.size), 0o644); err != nil {
			t.Fatal(err)
		}
		if err := fs.Chtimes(path, v.mtime, v.mtime); err != nil {
			t.Fatal(err)
		}
	}

	cleaner := retention.NewCleaner(fs, "/videos", "", zap.NewNop().Sugar()).WithClock(func() time.Time { return now })

	size, err := cleaner.TotalSize(now.Add(-24*time.Hour), now)
	if err != nil {
		t.Fatalf("TotalSize: %v", err)
	}
	if !r.emit.VideoSize(ctx, size) {
		t.Fatal("videosize emit failed")
	}

	rep, err := cleaner.Clean(ctx, retention.Policy{MinHour: 6, MaxHour: 20, MaxSize: 3_000_000, MaxAge: 14 * 24 * time.Hour})
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	r.metrics.ObserveRetention(rep)

	if rep.Removed != 2 || len(rep.Retained) != 1 {
		t.Errorf("report: removed %d, retained %d", rep.Removed, len(rep.Retained))
	}

	var n int
	var v float64
	row := db.QueryRowContext(ctx, `SELECT COUNT(*), MAX(value) FROM samples WHERE field = ?`, telemetry.VideoSizeField)
	if err := row.Scan(&n, &v); err != nil {
		t.Fatalf("query journal: %v", err)
	}
	if n != 1 || v != 8_002_000 {
		t.Errorf("journalled videosize: got %d rows, value %v", n, v)
	}

	expected := `
# HELP vivarium_retention_removed_total Videos actually removed.
# TYPE vivarium_retention_removed_total counter
vivarium_retention_removed_total 2
`
	if err := testutil.GatherAndCompare(r.metrics.Registry(), strings.NewReader(expected), "vivarium_retention_removed_total"); err != nil {
		t.Error(err)
	}
}
