package main

import (
	"bytes"
	"context"
	"errors"
	"os"
	"strings"
	"syscall"
	"testing"
	"time"

	"github.com/spf13/afero"
	"go.uber.org/zap"

	"github.com/sweeney/vivarium/internal/config"
	"github.com/sweeney/vivarium/internal/gpio"
	"github.com/sweeney/vivarium/internal/metrics"
	"github.com/sweeney/vivarium/internal/mqtt"
	"github.com/sweeney/vivarium/internal/relay"
	"github.com/sweeney/vivarium/internal/retention"
	"github.com/sweeney/vivarium/internal/sensor"
	"github.com/sweeney/vivarium/internal/status"
	"github.com/sweeney/vivarium/internal/telemetry"
)

const (
	pinLamp    = 26
	pinHeatpad = 19
	videoDir   = "/videos"
)

var noon = time.Date(2026, 3, 10, 12, 0, 0, 0, time.UTC)

// fakeClock returns a function that yields start, start+step, start+2*step, ...
// on successive calls. Not safe for concurrent use (only called from runLoop's goroutine).
func fakeClock(start time.Time, step time.Duration) func() time.Time {
	n := 0
	return func() time.Time {
		t := start.Add(time.Duration(n) * step)
		n++
		return t
	}
}

// fakeJournal records prune cutoffs.
type fakeJournal struct {
	cutoffs []time.Time
	err     error
}

func (j *fakeJournal) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	j.cutoffs = append(j.cutoffs, cutoff)
	return 2, j.err
}

type harness struct {
	d       *daemon
	driver  *gpio.FakeWriter
	sensors *sensor.FakeSource
	thermo  *sensor.FakeSource
	sink    *telemetry.FakeSink
	pub     *mqtt.FakePublisher
	journal *fakeJournal
	fs      afero.Fs
}

func testConfig() config.Config {
	cfg := config.Default()
	cfg.Devices = map[string]int{"lamp": pinLamp, "heatpad": pinHeatpad}
	cfg.TimeWindows = []config.TimeWindowConfig{{Name: "sunny", Start: 8, End: 20, Devices: []string{"lamp"}}}
	cfg.ThermoZones = []config.ThermoZoneConfig{{Name: "main", Target: 30, Devices: []string{"heatpad"}}}
	cfg.GPIO.Settle = 0
	cfg.Sensors.DHTIDs = []int{1}
	cfg.Intervals = config.IntervalConfig{
		Tick:      100 * time.Millisecond,
		Sensors:   10 * time.Second,
		Relays:    30 * time.Second,
		Files:     time.Hour,
		Heartbeat: 15 * time.Minute,
	}
	cfg.Retention = config.RetentionConfig{
		Dir:        videoDir,
		Pattern:    "*.mp4",
		MinHour:    6,
		MaxHour:    20,
		MaxSize:    3_000_000,
		MaxAge:     14 * 24 * time.Hour,
		SizeWindow: 24 * time.Hour,
	}
	cfg.History.Keep = 30 * 24 * time.Hour
	return cfg
}

// newHarness builds a daemon on fakes. now fixes the clock seen by the
// emitter and cleaner; the run loop has its own.
func newHarness(t *testing.T, cfg config.Config, now time.Time) *harness {
	t.Helper()
	log := zap.NewNop().Sugar()
	fixed := func() time.Time { return now }

	h := &harness{
		driver:  gpio.NewFakeWriter(),
		sensors: sensor.NewFakeSource(26.5),
		thermo:  sensor.NewFakeSource(25),
		sink:    telemetry.NewFakeSink(),
		pub:     mqtt.NewFakePublisher(),
		journal: &fakeJournal{},
		fs:      afero.NewMemMapFs(),
	}
	h.sensors.DHT[1] = [2]float64{60, 27}
	h.pub.Connected = true

	if err := h.fs.MkdirAll(videoDir, 0o755); err != nil {
		t.Fatal(err)
	}

	emit := telemetry.NewEmitter(h.sink, cfg.Telemetry.Measurement, cfg.Telemetry.Run, log).WithClock(fixed)
	h.d = &daemon{
		cfg:        cfg,
		windows:    cfg.Windows(),
		zones:      cfg.Zones(),
		sensors:    h.sensors,
		thermo:     h.thermo,
		ctrl:       relay.NewController(cfg.Devices, h.driver, emit, cfg.GPIO.Settle, log),
		emit:       emit,
		cleaner:    retention.NewCleaner(h.fs, videoDir, cfg.Retention.Pattern, log).WithClock(fixed),
		journal:    h.journal,
		metrics:    metrics.New(),
		tracker:    status.NewTracker(now, status.Config{VideoDir: videoDir}),
		publisher:  h.pub,
		mqttStatus: h.pub,
		log:        log,
	}
	return h
}

func (h *harness) writeVideo(t *testing.T, name string, size int, mtime time.Time) {
	t.Helper()
	path := videoDir + "/" + name
	if err := afero.WriteFile(h.fs, path, make([]byte, size), 0o644); err != nil {
		t.Fatal(err)
	}
	if err := h.fs.Chtimes(path, mtime, mtime); err != nil {
		t.Fatal(err)
	}
}

// runRunLoop drives runLoop with nTicks ticks and then the signal.
func runRunLoop(t *testing.T, h *harness, start time.Time, clock func() time.Time, nTicks int, signal os.Signal) error {
	t.Helper()
	tick := make(chan time.Time)
	sig := make(chan os.Signal)
	sched := h.d.scheduler(start)

	errCh := make(chan error, 1)
	go func() {
		errCh <- runLoop(context.Background(), h.d, sched, clock, tick, sig)
	}()

	for i := 0; i < nTicks; i++ {
		tick <- time.Time{}
	}
	sig <- signal

	return <-errCh
}

func TestRunLoopReconcilesThenShutsDown(t *testing.T) {
	h := newHarness(t, testConfig(), noon)

	err := runRunLoop(t, h, noon, fakeClock(noon, time.Second), 1, syscall.SIGTERM)
	if err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	// On at noon (window and 25 <= 30), then off at shutdown.
	for _, pin := range []int{pinLamp, pinHeatpad} {
		want := []gpio.PinWrite{{Pin: pin, On: true}, {Pin: pin, On: false}}
		got := h.driver.WritesTo(pin)
		if len(got) != 2 || got[0] != want[0] || got[1] != want[1] {
			t.Errorf("pin %d writes: got %+v, want %+v", pin, got, want)
		}
	}

	if got := h.pub.EventNames(); len(got) != 1 || got[0] != mqtt.EventShutdown {
		t.Fatalf("system events: got %v, want [SHUTDOWN]", got)
	}
	ev := h.pub.SystemEvents[0]
	if ev.Reason != "SIGTERM" || !ev.Retained {
		t.Errorf("shutdown event: got reason %q retained %v", ev.Reason, ev.Retained)
	}
	if !strings.Contains(string(h.pub.SystemPayloads[0]), `"lamp":"OFF"`) {
		t.Errorf("shutdown payload should report outputs off: %s", h.pub.SystemPayloads[0])
	}
}

func TestRunLoopSIGINTReason(t *testing.T) {
	h := newHarness(t, testConfig(), noon)

	if err := runRunLoop(t, h, noon, fakeClock(noon, time.Second), 0, syscall.SIGINT); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}
	if len(h.pub.SystemEvents) != 1 || h.pub.SystemEvents[0].Reason != "SIGINT" {
		t.Errorf("expected SHUTDOWN with reason SIGINT, got %+v", h.pub.SystemEvents)
	}
	// Shutdown writes every output even though none was ever on.
	if len(h.driver.Writes) != 2 {
		t.Errorf("expected a forced off write per device, got %+v", h.driver.Writes)
	}
}

func TestRunLoopContextCancelled(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := runLoop(ctx, h.d, h.d.scheduler(noon), fakeClock(noon, time.Second), nil, nil)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("expected context.Canceled, got %v", err)
	}
	if got := h.pub.EventNames(); len(got) != 1 || got[0] != mqtt.EventShutdown {
		t.Errorf("system events: got %v", got)
	}
}

func TestRunLoopIntervals(t *testing.T) {
	h := newHarness(t, testConfig(), noon)

	// Ticks at t = 0s..64s.
	if err := runRunLoop(t, h, noon, fakeClock(noon, time.Second), 65, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	if h.sensors.TempReads != 7 {
		t.Errorf("sensor reads: got %d, want 7 (every 10s)", h.sensors.TempReads)
	}
	if h.thermo.TempReads != 3 {
		t.Errorf("thermostat reads: got %d, want 3 (every 30s)", h.thermo.TempReads)
	}
	if len(h.journal.cutoffs) != 1 {
		t.Errorf("file task runs: got %d, want 1", len(h.journal.cutoffs))
	}
	// Outputs are written once on, not on every reconcile.
	if got := h.driver.WritesTo(pinLamp); len(got) != 2 {
		t.Errorf("lamp writes: got %+v", got)
	}
}

func TestRunLoopHeartbeat(t *testing.T) {
	cfg := testConfig()
	cfg.Intervals.Heartbeat = 5 * time.Second
	h := newHarness(t, cfg, noon)

	// Ticks at t = 0s..6s. Heartbeat is first due at 5s.
	if err := runRunLoop(t, h, noon, fakeClock(noon, time.Second), 7, syscall.SIGTERM); err != nil {
		t.Fatalf("runLoop returned error: %v", err)
	}

	got := h.pub.EventNames()
	if len(got) != 2 || got[0] != mqtt.EventHeartbeat || got[1] != mqtt.EventShutdown {
		t.Fatalf("system events: got %v, want [HEARTBEAT SHUTDOWN]", got)
	}
	if h.pub.SystemEvents[0].Retained {
		t.Error("heartbeat should not be retained")
	}
}

func TestSchedulerHeartbeatNeedsPublisher(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	h.d.publisher = nil

	sched := h.d.scheduler(noon)
	if _, ok := sched.Next(taskHeartbeat); ok {
		t.Error("heartbeat should not be scheduled without a publisher")
	}

	h2 := newHarness(t, testConfig(), noon)
	next, ok := h2.d.scheduler(noon).Next(taskHeartbeat)
	if !ok || !next.Equal(noon.Add(15*time.Minute)) {
		t.Errorf("heartbeat next: got %v %v, want %v", next, ok, noon.Add(15*time.Minute))
	}
}

func TestReconcileFailOpen(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	h.thermo.TempError = errors.New("no sensor")
	night := time.Date(2026, 3, 10, 3, 0, 0, 0, time.UTC)

	if err := h.d.reconcile(context.Background(), night); err != nil {
		t.Fatalf("reconcile: %v", err)
	}

	states := h.d.ctrl.States()
	if !states["heatpad"] {
		t.Error("heatpad: expected on when temperature is unavailable")
	}
	if states["lamp"] {
		t.Error("lamp: expected off at 03:00")
	}
	if h.driver.Attempts != 1 {
		t.Errorf("expected only the heatpad to be written, got %d writes", h.driver.Attempts)
	}

	snap := h.d.tracker.Snapshot()
	if snap.TemperatureOK {
		t.Error("status should report the temperature as unavailable")
	}
}

func TestReconcileReportsFailedWrites(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	h.driver.FailPins = map[int]error{pinLamp: errors.New("line busy")}

	err := h.d.reconcile(context.Background(), noon)
	if err == nil {
		t.Fatal("expected an error for the failed lamp write")
	}
	// The other device is still driven.
	if !h.d.ctrl.States()["heatpad"] {
		t.Error("heatpad: expected on despite lamp failure")
	}
	if h.d.ctrl.States()["lamp"] {
		t.Error("lamp: store must not change on a failed write")
	}
}

func TestLogSensors(t *testing.T) {
	h := newHarness(t, testConfig(), noon)

	if err := h.d.logSensors(context.Background(), noon); err != nil {
		t.Fatalf("logSensors: %v", err)
	}

	if got := h.sink.FieldValues(sensor.TemperatureField); len(got) != 1 || got[0] != 26.5 {
		t.Errorf("%s: got %v", sensor.TemperatureField, got)
	}
	if got := h.sink.FieldValues(sensor.HumidityField(1)); len(got) != 1 || got[0] != 60.0 {
		t.Errorf("%s: got %v", sensor.HumidityField(1), got)
	}
	if got := h.d.tracker.Snapshot().Readings[sensor.TemperatureFieldFor(1)]; got != 27 {
		t.Errorf("tracked DHT1 temperature: got %v", got)
	}
}

func TestLogSensorsPartialFailure(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	h.sensors.TempError = errors.New("crc")

	if err := h.d.logSensors(context.Background(), noon); err == nil {
		t.Fatal("expected the read failure to be reported")
	}
	// The DHT values are still written.
	if got := h.sink.FieldValues(sensor.HumidityField(1)); len(got) != 1 {
		t.Errorf("expected DHT humidity despite the failed temperature read, got %v", got)
	}
	if got := h.sink.FieldValues(sensor.TemperatureField); len(got) != 0 {
		t.Errorf("expected no %s, got %v", sensor.TemperatureField, got)
	}
}

func TestMaintainFiles(t *testing.T) {
	h := newHarness(t, testConfig(), noon)

	h.writeVideo(t, "01-20260310100000.mp4", 5_000_000, noon.Add(-2*time.Hour))     // daytime
	h.writeVideo(t, "01-20260309230000.mp4", 1_000, noon.Add(-13*time.Hour))        // undersize
	h.writeVideo(t, "01-20260309230500.mp4", 5_000_000, noon.Add(-13*time.Hour))    // kept
	h.writeVideo(t, "01-20260220230000.mp4", 5_000_000, noon.Add(-18*24*time.Hour)) // expired

	if err := h.d.maintainFiles(context.Background(), noon); err != nil {
		t.Fatalf("maintainFiles: %v", err)
	}

	// Size is measured before cleaning, over the last day only.
	if got := h.sink.FieldValues(telemetry.VideoSizeField); len(got) != 1 || got[0] != 10_001_000.0 {
		t.Errorf("videosize: got %v, want [1.0001e+07]", got)
	}

	left, err := afero.Glob(h.fs, videoDir+"/*.mp4")
	if err != nil {
		t.Fatal(err)
	}
	if len(left) != 1 || left[0] != videoDir+"/01-20260309230500.mp4" {
		t.Errorf("remaining videos: got %v", left)
	}

	snap := h.d.tracker.Snapshot()
	if snap.VideoBytes != 10_001_000 {
		t.Errorf("tracked video bytes: got %d", snap.VideoBytes)
	}
	if snap.Retention == nil {
		t.Fatal("expected a retention summary")
	}
	if snap.Retention.Checked != 4 || snap.Retention.Removed != 3 || snap.Retention.Retained != 1 {
		t.Errorf("retention summary: got %+v", *snap.Retention)
	}
	if len(snap.Retention.Buckets) != 3 {
		t.Errorf("expected three buckets, got %+v", snap.Retention.Buckets)
	}

	wantCutoff := noon.Add(-30 * 24 * time.Hour)
	if len(h.journal.cutoffs) != 1 || !h.journal.cutoffs[0].Equal(wantCutoff) {
		t.Errorf("journal prune cutoffs: got %v, want [%v]", h.journal.cutoffs, wantCutoff)
	}
}

func TestMaintainFilesJournalError(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	h.journal.err = errors.New("disk full")
	h.writeVideo(t, "01-20260310100000.mp4", 5_000_000, noon)

	err := h.d.maintainFiles(context.Background(), noon)
	if err == nil || !strings.Contains(err.Error(), "disk full") {
		t.Fatalf("expected the prune error, got %v", err)
	}
	// Retention still ran.
	if left, _ := afero.Glob(h.fs, videoDir+"/*.mp4"); len(left) != 0 {
		t.Errorf("expected the daytime video removed, got %v", left)
	}
}

func TestStartupEvent(t *testing.T) {
	h := newHarness(t, testConfig(), noon)

	h.d.startup(noon)

	if got := h.pub.EventNames(); len(got) != 1 || got[0] != mqtt.EventStartup {
		t.Fatalf("system events: got %v", got)
	}
	if !h.pub.SystemEvents[0].Retained {
		t.Error("startup event should be retained")
	}
	if !h.d.tracker.Snapshot().MQTTConnected {
		t.Error("tracker should pick up the MQTT connection state")
	}
}

func TestStartupWithoutPublisher(t *testing.T) {
	h := newHarness(t, testConfig(), noon)
	h.d.publisher = nil

	h.d.startup(noon)
	h.d.shutdown(context.Background(), noon, "SIGTERM")

	if len(h.pub.SystemEvents) != 0 {
		t.Errorf("expected no events without a publisher, got %v", h.pub.EventNames())
	}
	if len(h.driver.Writes) != 2 {
		t.Errorf("shutdown should still drive every output off, got %+v", h.driver.Writes)
	}
}

func TestSignalName(t *testing.T) {
	tests := []struct {
		sig  os.Signal
		want string
	}{
		{syscall.SIGINT, "SIGINT"},
		{syscall.SIGTERM, "SIGTERM"},
		{syscall.SIGHUP, "UNKNOWN"},
	}
	for _, tt := range tests {
		if got := signalName(tt.sig); got != tt.want {
			t.Errorf("signalName(%v): got %q, want %q", tt.sig, got, tt.want)
		}
	}
}

func TestPrintPlan(t *testing.T) {
	cfg := testConfig()
	cfg.Sensors.Source = config.SourceSimulated
	cfg.Thermostat.Source = config.SourceSensor

	var buf bytes.Buffer
	if err := printPlan(&buf, cfg, noon); err != nil {
		t.Fatalf("printPlan: %v", err)
	}

	out := buf.String()
	if !strings.Contains(out, "lamp: ON\n") {
		t.Errorf("expected lamp on at noon, got:\n%s", out)
	}
	if !strings.Contains(out, "heatpad: ") || !strings.Contains(out, "thermostat: ") {
		t.Errorf("missing lines in output:\n%s", out)
	}
	if strings.Index(out, "heatpad: ") > strings.Index(out, "lamp: ") {
		t.Errorf("devices should be sorted:\n%s", out)
	}
}

func TestReconcileUnknownRuleDevice(t *testing.T) {
	cfg := testConfig()
	cfg.TimeWindows[0].Devices = []string{"lampp", "lamp"}
	h := newHarness(t, cfg, noon)

	err := h.d.reconcile(context.Background(), noon)
	if err == nil || !strings.Contains(err.Error(), "1 of 3") {
		t.Errorf("expected the unknown device reported as one failed command, got %v", err)
	}
	states := h.d.ctrl.States()
	if !states["lamp"] || !states["heatpad"] {
		t.Errorf("configured devices should still be driven, got %v", states)
	}
	if _, ok := states["lampp"]; ok {
		t.Error("unknown device must not enter the store")
	}
}
