package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/sweeney/vivarium/internal/config"
	"github.com/sweeney/vivarium/internal/logic"
	"github.com/sweeney/vivarium/internal/metrics"
	"github.com/sweeney/vivarium/internal/mqtt"
	"github.com/sweeney/vivarium/internal/relay"
	"github.com/sweeney/vivarium/internal/retention"
	"github.com/sweeney/vivarium/internal/schedule"
	"github.com/sweeney/vivarium/internal/sensor"
	"github.com/sweeney/vivarium/internal/status"
	"github.com/sweeney/vivarium/internal/telemetry"
)

// Task names, also used as metric labels.
const (
	taskSensors   = "sensors"
	taskRelays    = "relays"
	taskFiles     = "files"
	taskHeartbeat = "heartbeat"
)

// pruner trims the local telemetry journal.
type pruner interface {
	Prune(ctx context.Context, cutoff time.Time) (int64, error)
}

// daemon holds everything the control loop drives. Optional collaborators
// (publisher, mqttStatus, journal) are nil when disabled.
type daemon struct {
	cfg     config.Config
	windows []logic.TimeWindow
	zones   []logic.ThermoZone

	sensors sensor.Source
	thermo  sensor.Source
	ctrl    *relay.Controller
	emit    *telemetry.Emitter
	cleaner *retention.Cleaner
	journal pruner
	metrics *metrics.Metrics
	tracker *status.Tracker

	publisher  mqtt.Publisher
	mqttStatus mqtt.ConnectionStatus

	log *zap.SugaredLogger
}

// scheduler registers the periodic tasks. The heartbeat is first due one
// interval after start, since STARTUP already carries a status snapshot.
func (d *daemon) scheduler(start time.Time) *schedule.Scheduler {
	s := schedule.New(d.log)
	s.OnRun = d.metrics.ObserveTask
	s.Add(taskSensors, d.cfg.Intervals.Sensors, d.logSensors)
	s.Add(taskRelays, d.cfg.Intervals.Relays, d.reconcile)
	s.Add(taskFiles, d.cfg.Intervals.Files, d.maintainFiles)
	if d.publisher != nil {
		s.Add(taskHeartbeat, d.cfg.Intervals.Heartbeat, d.heartbeat)
		s.MarkRun(taskHeartbeat, start)
	}
	return s
}

// logSensors reads every sensor and writes the plausible values.
func (d *daemon) logSensors(ctx context.Context, _ time.Time) error {
	readings, err := sensor.Collect(d.sensors, d.cfg.Sensors.DHTIDs)
	d.tracker.SetReadings(readings)
	if len(readings) > 0 {
		d.emit.Readings(ctx, readings)
	}
	return err
}

// reconcile drives every relay to the state the rules call for at now.
// An unreadable temperature fails open: thermostat devices heat.
func (d *daemon) reconcile(ctx context.Context, now time.Time) error {
	temp, err := d.thermo.ReadTemperature()
	if err != nil {
		d.log.Warnw("temperature unavailable, heating on", "err", err)
		temp = logic.Unavailable
	}

	res := d.ctrl.Reconcile(ctx, now, temp, d.windows, d.zones)
	d.tracker.SetDevices(d.ctrl.States(), temp, now)
	d.log.Debugw("reconciled", "commands", res.Commands, "changed", res.Changed, "failed", res.Failed)

	if res.Failed > 0 {
		return fmt.Errorf("%d of %d device commands failed", res.Failed, res.Commands)
	}
	return nil
}

// maintainFiles reports recent video volume, applies the retention policy
// and trims the journal.
func (d *daemon) maintainFiles(ctx context.Context, now time.Time) error {
	var errs []error

	size, err := d.cleaner.TotalSize(now.Add(-d.cfg.Retention.SizeWindow), now)
	if err != nil {
		errs = append(errs, fmt.Errorf("video size: %w", err))
	} else {
		d.emit.VideoSize(ctx, size)
		d.tracker.SetVideoBytes(size)
	}

	rep, err := d.cleaner.Clean(ctx, d.cfg.Retention.Policy())
	if err != nil {
		errs = append(errs, fmt.Errorf("retention: %w", err))
	} else {
		d.metrics.ObserveRetention(rep)
		d.tracker.SetRetention(summarise(rep, now))
	}

	if d.journal != nil {
		n, err := d.journal.Prune(ctx, now.Add(-d.cfg.History.Keep))
		if err != nil {
			errs = append(errs, err)
		} else if n > 0 {
			d.log.Infow("pruned journal", "rows", n)
		}
	}

	return errors.Join(errs...)
}

func (d *daemon) heartbeat(_ context.Context, now time.Time) error {
	d.refreshMQTT()
	snap := d.tracker.Snapshot()
	return d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  now,
		Event:      mqtt.EventHeartbeat,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventHeartbeat, ""),
	})
}

// startup publishes the retained STARTUP event.
func (d *daemon) startup(now time.Time) {
	if d.publisher == nil {
		return
	}
	d.refreshMQTT()
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  now,
		Event:      mqtt.EventStartup,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventStartup, ""),
	})
	if err != nil {
		d.log.Warnw("failed to publish startup event", "err", err)
		return
	}
	d.log.Infow("published startup event")
}

// shutdown switches every output off, then announces it.
func (d *daemon) shutdown(ctx context.Context, now time.Time, reason string) {
	if err := d.ctrl.Shutdown(ctx); err != nil {
		d.log.Errorw("could not switch every output off", "err", err)
	}
	last := d.tracker.Snapshot()
	temp := last.Temperature
	if !last.TemperatureOK {
		temp = logic.Unavailable
	}
	d.tracker.SetDevices(d.ctrl.States(), temp, now)

	if d.publisher == nil {
		return
	}
	d.refreshMQTT()
	snap := d.tracker.Snapshot()
	err := d.publisher.PublishSystem(mqtt.SystemEvent{
		Timestamp:  now,
		Event:      mqtt.EventShutdown,
		Reason:     reason,
		Retained:   true,
		RawPayload: status.FormatStatusEvent(snap, mqtt.EventShutdown, reason),
	})
	if err != nil {
		d.log.Warnw("failed to publish shutdown event", "err", err)
		return
	}
	d.log.Infow("published shutdown event", "reason", reason)
}

func (d *daemon) refreshMQTT() {
	if d.mqttStatus != nil {
		d.tracker.SetMQTTConnected(d.mqttStatus.IsConnected())
	}
}

func summarise(rep retention.Report, at time.Time) status.RetentionSummary {
	s := status.RetentionSummary{
		At:       at,
		Checked:  rep.Checked,
		Removed:  rep.Removed,
		Retained: len(rep.Retained),
	}
	for _, b := range rep.Buckets {
		s.Buckets = append(s.Buckets, status.BucketSummary{Name: b.Name, Files: len(b.Files), SizeKB: b.SizeKB})
	}
	return s
}

// runLoop drives the scheduler from tick until a signal arrives or ctx is
// done, then leaves every output off.
func runLoop(ctx context.Context, d *daemon, sched *schedule.Scheduler, now func() time.Time, tick <-chan time.Time, sig <-chan os.Signal) error {
	for {
		select {
		case s := <-sig:
			name := signalName(s)
			d.log.Infow("shutting down", "signal", name)
			d.shutdown(context.WithoutCancel(ctx), now(), name)
			return nil

		case <-ctx.Done():
			d.log.Infow("shutting down", "err", ctx.Err())
			d.shutdown(context.WithoutCancel(ctx), now(), "CONTEXT")
			return ctx.Err()

		case <-tick:
			sched.Tick(ctx, now())
			d.refreshMQTT()
		}
	}
}

func signalName(s os.Signal) string {
	switch s {
	case syscall.SIGINT:
		return "SIGINT"
	case syscall.SIGTERM:
		return "SIGTERM"
	default:
		return "UNKNOWN"
	}
}
