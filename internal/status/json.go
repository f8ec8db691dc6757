package status

import (
	"encoding/json"
	"time"
)

// StatusJSON is the top-level JSON envelope for status output.
type StatusJSON struct {
	Status StatusInner `json:"status"`
}

// StatusInner contains the status details.
type StatusInner struct {
	Event         string             `json:"event,omitempty"`
	Reason        string             `json:"reason,omitempty"`
	Devices       map[string]string  `json:"devices"`
	Temperature   *float64           `json:"temperature"`
	Readings      map[string]float64 `json:"readings,omitempty"`
	LastReconcile string             `json:"last_reconcile,omitempty"`
	VideoBytes    int64              `json:"video_bytes"`
	Retention     *RetentionJSON     `json:"retention,omitempty"`
	UptimeSeconds int64              `json:"uptime_seconds"`
	StartTime     string             `json:"start_time"`
	Timestamp     string             `json:"timestamp"`
	MQTT          MQTTStatus         `json:"mqtt"`
	Config        ConfigJSON         `json:"config"`
}

// MQTTStatus reports MQTT connection state.
type MQTTStatus struct {
	Connected bool   `json:"connected"`
	Broker    string `json:"broker"`
}

// RetentionJSON is the JSON representation of the last retention pass.
type RetentionJSON struct {
	Timestamp string       `json:"timestamp"`
	Checked   int          `json:"checked"`
	Removed   int          `json:"removed"`
	Retained  int          `json:"retained"`
	Buckets   []BucketJSON `json:"buckets"`
}

// BucketJSON is one filter's share of a retention pass.
type BucketJSON struct {
	Name   string  `json:"name"`
	Files  int     `json:"files"`
	SizeKB float64 `json:"size_kb"`
}

// ConfigJSON is the JSON representation of daemon config.
type ConfigJSON struct {
	SensorIntervalS int64  `json:"sensor_interval_s"`
	RelayIntervalS  int64  `json:"relay_interval_s"`
	FileIntervalS   int64  `json:"file_interval_s"`
	Broker          string `json:"broker,omitempty"`
	HTTPAddr        string `json:"http_addr,omitempty"`
	VideoDir        string `json:"video_dir"`
}

func buildInner(snap Snapshot) StatusInner {
	devices := make(map[string]string, len(snap.Devices))
	for name, st := range snap.Devices {
		devices[name] = string(st)
	}

	inner := StatusInner{
		Devices:       devices,
		Readings:      snap.Readings,
		VideoBytes:    snap.VideoBytes,
		UptimeSeconds: int64(snap.Uptime().Truncate(time.Second).Seconds()),
		StartTime:     snap.StartTime.UTC().Format(time.RFC3339),
		Timestamp:     snap.Now.UTC().Format(time.RFC3339),
		MQTT:          MQTTStatus{Connected: snap.MQTTConnected, Broker: snap.Config.Broker},
		Config: ConfigJSON{
			SensorIntervalS: int64(snap.Config.SensorEvery.Seconds()),
			RelayIntervalS:  int64(snap.Config.RelayEvery.Seconds()),
			FileIntervalS:   int64(snap.Config.FileEvery.Seconds()),
			Broker:          snap.Config.Broker,
			HTTPAddr:        snap.Config.HTTPAddr,
			VideoDir:        snap.Config.VideoDir,
		},
	}

	if snap.TemperatureOK {
		temp := snap.Temperature
		inner.Temperature = &temp
	}
	if !snap.LastReconcile.IsZero() {
		inner.LastReconcile = snap.LastReconcile.UTC().Format(time.RFC3339)
	}
	if r := snap.Retention; r != nil {
		rj := &RetentionJSON{
			Timestamp: r.At.UTC().Format(time.RFC3339),
			Checked:   r.Checked,
			Removed:   r.Removed,
			Retained:  r.Retained,
			Buckets:   make([]BucketJSON, 0, len(r.Buckets)),
		}
		for _, b := range r.Buckets {
			rj.Buckets = append(rj.Buckets, BucketJSON{Name: b.Name, Files: b.Files, SizeKB: b.SizeKB})
		}
		inner.Retention = rj
	}
	return inner
}

// FormatJSON returns the JSON status for the web endpoint (no event/reason).
func FormatJSON(snap Snapshot) []byte {
	data, _ := json.MarshalIndent(StatusJSON{Status: buildInner(snap)}, "", "  ")
	return data
}

// FormatStatusEvent returns the JSON status for an MQTT system event.
func FormatStatusEvent(snap Snapshot, event, reason string) []byte {
	inner := buildInner(snap)
	inner.Event = event
	inner.Reason = reason

	data, _ := json.Marshal(StatusJSON{Status: inner})
	return data
}
