// Package mqtt publishes telemetry and lifecycle events to an MQTT broker.
package mqtt

import (
	"encoding/json"
	"time"

	"github.com/sweeney/vivarium/internal/telemetry"
)

// Topic is the MQTT topic for telemetry records.
const Topic = "vivarium/telemetry"

// TopicSystem is the MQTT topic for system lifecycle events.
const TopicSystem = "vivarium/system"

// Lifecycle event names.
const (
	EventStartup     = "STARTUP"
	EventShutdown    = "SHUTDOWN"
	EventHeartbeat   = "HEARTBEAT"
	EventReconnected = "RECONNECTED"
)

// Publisher publishes to MQTT. It is a telemetry.Sink for records.
type Publisher interface {
	telemetry.Sink

	// PublishSystem sends a system lifecycle event to the broker.
	PublishSystem(event SystemEvent) error

	// Close disconnects from the broker.
	Close() error
}

// ConnectionStatus reports whether the MQTT connection is active.
type ConnectionStatus interface {
	IsConnected() bool
}

// SystemEvent represents a system lifecycle event.
type SystemEvent struct {
	Timestamp  time.Time
	Event      string // STARTUP, SHUTDOWN, HEARTBEAT, RECONNECTED
	Reason     string // signal name, shutdown only
	RawPayload []byte // pre-formatted JSON; returned as-is by FormatSystemPayload
	Retained   bool
}

// Payload is the JSON form of a telemetry record.
type Payload struct {
	Measurement string            `json:"measurement"`
	Timestamp   string            `json:"timestamp"`
	Tags        map[string]string `json:"tags,omitempty"`
	Fields      map[string]any    `json:"fields"`
}

// FormatPayload creates the JSON payload for a record.
func FormatPayload(rec telemetry.Record) ([]byte, error) {
	return json.Marshal(Payload{
		Measurement: rec.Measurement,
		Timestamp:   rec.Time.UTC().Format(time.RFC3339),
		Tags:        rec.Tags,
		Fields:      rec.Fields,
	})
}

// SystemPayload is the JSON form of a simple lifecycle event.
type SystemPayload struct {
	System SystemPayloadInner `json:"system"`
}

// SystemPayloadInner contains the system event details.
type SystemPayloadInner struct {
	Timestamp string `json:"timestamp"`
	Event     string `json:"event"`
	Reason    string `json:"reason,omitempty"`
}

// FormatSystemPayload creates the JSON payload for a system event.
// If event.RawPayload is set, it is returned directly (used for status snapshots).
func FormatSystemPayload(event SystemEvent) ([]byte, error) {
	if event.RawPayload != nil {
		return event.RawPayload, nil
	}

	return json.Marshal(SystemPayload{
		System: SystemPayloadInner{
			Timestamp: event.Timestamp.UTC().Format(time.RFC3339),
			Event:     event.Event,
			Reason:    event.Reason,
		},
	})
}
