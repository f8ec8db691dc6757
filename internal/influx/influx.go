// Package influx writes telemetry to InfluxDB and reads the latest
// thermostat temperature back from it.
//
// A client is created for each operation and closed before it returns, so a
// broken connection never outlives one write or query.
package influx

import (
	"context"
	"errors"
	"fmt"
	"time"

	influxdb2 "github.com/influxdata/influxdb-client-go"
	"github.com/influxdata/influxdb-client-go/api/write"

	"github.com/sweeney/vivarium/internal/sensor"
	"github.com/sweeney/vivarium/internal/telemetry"
)

// ErrNoData is returned when a query finds no recent value.
var ErrNoData = errors.New("influx: no data")

// Config locates a bucket on an InfluxDB 2 server.
type Config struct {
	URL    string
	Token  string
	Org    string
	Bucket string
}

type clientFactory func(url, token string) influxdb2.Client

// Sink writes records as points.
type Sink struct {
	cfg       Config
	newClient clientFactory
}

// NewSink creates a Sink for cfg.
func NewSink(cfg Config) *Sink {
	return &Sink{cfg: cfg, newClient: influxdb2.NewClient}
}

// Write implements telemetry.Sink.
func (s *Sink) Write(ctx context.Context, records []telemetry.Record) error {
	if len(records) == 0 {
		return nil
	}

	client := s.newClient(s.cfg.URL, s.cfg.Token)
	defer client.Close()

	points := make([]*write.Point, 0, len(records))
	for _, r := range records {
		points = append(points, write.NewPoint(r.Measurement, r.Tags, r.Fields, r.Time))
	}

	w := client.WriteAPIBlocking(s.cfg.Org, s.cfg.Bucket)
	if err := w.WritePoint(ctx, points...); err != nil {
		return fmt.Errorf("influx write %s: %w", s.cfg.Bucket, err)
	}
	return nil
}

// DefaultLookback bounds how old a temperature may be and still be used.
const DefaultLookback = 10 * time.Minute

// TemperatureSource reads the most recent feedback temperature stored by the
// sensor task. It satisfies sensor.Source; DHT sensors are not supported.
type TemperatureSource struct {
	cfg         Config
	measurement string
	field       string
	lookback    time.Duration
	timeout     time.Duration
	newClient   clientFactory
}

// NewTemperatureSource creates a source querying measurement for
// sensor.TemperatureField.
func NewTemperatureSource(cfg Config, measurement string, lookback, timeout time.Duration) *TemperatureSource {
	if lookback <= 0 {
		lookback = DefaultLookback
	}
	if timeout <= 0 {
		timeout = 5 * time.Second
	}
	return &TemperatureSource{
		cfg:         cfg,
		measurement: measurement,
		field:       sensor.TemperatureField,
		lookback:    lookback,
		timeout:     timeout,
		newClient:   influxdb2.NewClient,
	}
}

// Query returns the Flux query used to fetch the latest value.
func (t *TemperatureSource) Query() string {
	return fmt.Sprintf(`from(bucket: %q)
  |> range(start: -%s)
  |> filter(fn: (r) => r._measurement == %q and r._field == %q)
  |> last()`, t.cfg.Bucket, t.lookback, t.measurement, t.field)
}

// ReadTemperature implements sensor.Source.
func (t *TemperatureSource) ReadTemperature() (float64, error) {
	ctx, cancel := context.WithTimeout(context.Background(), t.timeout)
	defer cancel()

	client := t.newClient(t.cfg.URL, t.cfg.Token)
	defer client.Close()

	res, err := client.QueryAPI(t.cfg.Org).Query(ctx, t.Query())
	if err != nil {
		return 0, fmt.Errorf("influx query: %w", err)
	}
	defer res.Close()

	var (
		value float64
		found bool
	)
	for res.Next() {
		v, ok := res.Record().Value().(float64)
		if !ok {
			return 0, fmt.Errorf("influx query: %s is %T, not float", t.field, res.Record().Value())
		}
		value, found = v, true
	}
	if err := res.Err(); err != nil {
		return 0, fmt.Errorf("influx query: %w", err)
	}
	if !found {
		return 0, ErrNoData
	}
	return value, nil
}

// ReadHumidityTemperature implements sensor.Source.
func (t *TemperatureSource) ReadHumidityTemperature(int) (float64, float64, error) {
	return 0, 0, sensor.ErrNotSupported
}
