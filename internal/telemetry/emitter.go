package telemetry

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// Emitter builds records for the deployment's measurement and writes them to
// a sink. Write failures are logged and swallowed.
type Emitter struct {
	sink        Sink
	measurement string
	tags        map[string]string
	now         func() time.Time
	log         *zap.SugaredLogger
}

// NewEmitter creates an Emitter. The run tag is attached to every record.
func NewEmitter(sink Sink, measurement, run string, log *zap.SugaredLogger) *Emitter {
	tags := map[string]string{}
	if run != "" {
		tags[RunTag] = run
	}
	return &Emitter{
		sink:        sink,
		measurement: measurement,
		tags:        tags,
		now:         time.Now,
		log:         log,
	}
}

// WithClock overrides the time source. Used by tests.
func (e *Emitter) WithClock(now func() time.Time) *Emitter {
	e.now = now
	return e
}

// Measurement returns the measurement name used for every record.
func (e *Emitter) Measurement() string { return e.measurement }

// Emit writes one record holding fields. It reports whether the write succeeded.
func (e *Emitter) Emit(ctx context.Context, fields map[string]any) bool {
	if len(fields) == 0 {
		return true
	}
	rec := Record{
		Measurement: e.measurement,
		Tags:        copyTags(e.tags),
		Fields:      fields,
		Time:        e.now(),
	}
	if err := e.sink.Write(ctx, []Record{rec}); err != nil {
		e.log.Warnw("telemetry write failed", "fields", len(fields), "err", err)
		return false
	}
	return true
}

// DeviceStatus emits {device}_status.
func (e *Emitter) DeviceStatus(ctx context.Context, device string, on bool) bool {
	return e.Emit(ctx, map[string]any{StatusField(device): on})
}

// Readings emits sensor readings as float fields.
func (e *Emitter) Readings(ctx context.Context, readings map[string]float64) bool {
	fields := make(map[string]any, len(readings))
	for k, v := range readings {
		fields[k] = v
	}
	return e.Emit(ctx, fields)
}

// VideoSize emits the total size of recent video in bytes.
func (e *Emitter) VideoSize(ctx context.Context, bytes int64) bool {
	return e.Emit(ctx, map[string]any{VideoSizeField: float64(bytes)})
}

func copyTags(in map[string]string) map[string]string {
	out := make(map[string]string, len(in))
	for k, v := range in {
		out[k] = v
	}
	return out
}
