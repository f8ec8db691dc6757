// Package metrics exposes controller state to Prometheus.
package metrics

import (
	"context"
	"net/http"
	"strings"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/sweeney/vivarium/internal/retention"
	"github.com/sweeney/vivarium/internal/telemetry"
)

const namespace = "vivarium"

const statusSuffix = "_status"

// Metrics holds every collector on a private registry.
type Metrics struct {
	reg *prometheus.Registry

	relayState  *prometheus.GaugeVec
	sensorValue *prometheus.GaugeVec
	videoBytes  prometheus.Gauge

	retentionFiles   *prometheus.CounterVec
	retentionKB      *prometheus.CounterVec
	retentionRemoved prometheus.Counter

	taskRuns *prometheus.CounterVec
}

// New creates and registers the collectors.
func New() *Metrics {
	m := &Metrics{
		reg: prometheus.NewRegistry(),
		relayState: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "relay_state",
				Help:      "Commanded relay output state (1 = on).",
			},
			[]string{"device"}),
		sensorValue: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "sensor_value",
				Help:      "Latest plausible sensor reading.",
			},
			[]string{"field"}),
		videoBytes: prometheus.NewGauge(
			prometheus.GaugeOpts{
				Namespace: namespace,
				Name:      "video_bytes",
				Help:      "Total size of video recorded in the last day.",
			}),
		retentionFiles: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_files_total",
				Help:      "Videos selected for deletion, by filter.",
			},
			[]string{"bucket"}),
		retentionKB: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_kilobytes_total",
				Help:      "Kilobytes selected for deletion, by filter.",
			},
			[]string{"bucket"}),
		retentionRemoved: prometheus.NewCounter(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "retention_removed_total",
				Help:      "Videos actually removed.",
			}),
		taskRuns: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Namespace: namespace,
				Name:      "task_runs_total",
				Help:      "Scheduled task runs, by task and result.",
			},
			[]string{"task", "result"}),
	}
	m.reg.MustRegister(m.relayState)
	m.reg.MustRegister(m.sensorValue)
	m.reg.MustRegister(m.videoBytes)
	m.reg.MustRegister(m.retentionFiles)
	m.reg.MustRegister(m.retentionKB)
	m.reg.MustRegister(m.retentionRemoved)
	m.reg.MustRegister(m.taskRuns)
	return m
}

// Registry returns the registry holding every collector.
func (m *Metrics) Registry() *prometheus.Registry { return m.reg }

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}

// Write implements telemetry.Sink. Status fields set relay_state, the video
// size sets video_bytes, and every other numeric field sets sensor_value.
func (m *Metrics) Write(_ context.Context, records []telemetry.Record) error {
	for _, rec := range records {
		for name, v := range rec.Fields {
			switch {
			case strings.HasSuffix(name, statusSuffix):
				if on, ok := v.(bool); ok {
					m.relayState.WithLabelValues(strings.TrimSuffix(name, statusSuffix)).Set(boolValue(on))
				}
			case name == telemetry.VideoSizeField:
				if f, ok := v.(float64); ok {
					m.videoBytes.Set(f)
				}
			default:
				if f, ok := v.(float64); ok {
					m.sensorValue.WithLabelValues(name).Set(f)
				}
			}
		}
	}
	return nil
}

// ObserveRetention counts the outcome of one retention pass.
func (m *Metrics) ObserveRetention(rep retention.Report) {
	for _, b := range rep.Buckets {
		m.retentionFiles.WithLabelValues(b.Name).Add(float64(len(b.Files)))
		m.retentionKB.WithLabelValues(b.Name).Add(b.SizeKB)
	}
	m.retentionRemoved.Add(float64(rep.Removed))
}

// ObserveTask counts one scheduled task run.
func (m *Metrics) ObserveTask(name string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	m.taskRuns.WithLabelValues(name, result).Inc()
}

func boolValue(b bool) float64 {
	if b {
		return 1
	}
	return 0
}
