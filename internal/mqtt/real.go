package mqtt

import (
	"context"
	"errors"
	"fmt"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"github.com/sweeney/vivarium/internal/telemetry"
)

// ErrNotConnected is returned when publishing while the broker is unreachable.
// Records are not queued; the next write goes through once paho reconnects.
var ErrNotConnected = errors.New("mqtt: not connected")

const publishTimeout = 5 * time.Second

var connectTimeout = 10 * time.Second

// RealPublisher publishes to an actual MQTT broker.
type RealPublisher struct {
	client paho.Client
	topic  string
	log    *zap.SugaredLogger
}

// NewRealPublisher creates a publisher connected to the given broker. The
// broker is told to publish a retained SHUTDOWN event on our behalf if the
// connection drops without a clean disconnect.
func NewRealPublisher(broker, clientID string, log *zap.SugaredLogger) (*RealPublisher, error) {
	will, err := FormatSystemPayload(SystemEvent{
		Timestamp: time.Now(),
		Event:     EventShutdown,
		Reason:    "MQTT_DISCONNECT",
	})
	if err != nil {
		return nil, fmt.Errorf("format will: %w", err)
	}

	p := &RealPublisher{topic: Topic, log: log}

	first := true
	opts := paho.NewClientOptions().
		AddBroker(broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetBinaryWill(TopicSystem, will, 1, true).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warnw("mqtt connection lost", "broker", broker, "err", err)
		}).
		SetOnConnectHandler(func(c paho.Client) {
			if first {
				first = false
				return
			}
			log.Infow("mqtt reconnected", "broker", broker)
			payload, err := FormatSystemPayload(SystemEvent{Timestamp: time.Now(), Event: EventReconnected})
			if err == nil {
				c.Publish(TopicSystem, 1, true, payload)
			}
		})

	p.client = paho.NewClient(opts)
	token := p.client.Connect()
	if !token.WaitTimeout(connectTimeout) {
		// Stop the background retries so the will is never sent for us.
		p.client.Disconnect(0)
		return nil, fmt.Errorf("connection timeout")
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("connect to broker: %w", err)
	}

	return p, nil
}

// Write implements telemetry.Sink. Each record is published as one JSON
// message, QoS 0, not retained.
func (p *RealPublisher) Write(ctx context.Context, records []telemetry.Record) error {
	if !p.client.IsConnectionOpen() {
		return ErrNotConnected
	}

	var errs []error
	for _, rec := range records {
		payload, err := FormatPayload(rec)
		if err != nil {
			errs = append(errs, fmt.Errorf("format payload: %w", err))
			continue
		}
		if err := wait(ctx, p.client.Publish(p.topic, 0, false, payload)); err != nil {
			errs = append(errs, fmt.Errorf("publish: %w", err))
		}
	}
	return errors.Join(errs...)
}

// PublishSystem sends a system lifecycle event to the MQTT broker.
func (p *RealPublisher) PublishSystem(event SystemEvent) error {
	payload, err := FormatSystemPayload(event)
	if err != nil {
		return fmt.Errorf("format system payload: %w", err)
	}

	// QoS 1 (at-least-once) so SHUTDOWN reaches the broker before we disconnect.
	ctx, cancel := context.WithTimeout(context.Background(), publishTimeout)
	defer cancel()
	if err := wait(ctx, p.client.Publish(TopicSystem, 1, event.Retained, payload)); err != nil {
		return fmt.Errorf("publish system: %w", err)
	}
	return nil
}

// IsConnected reports whether the client currently has a live connection.
func (p *RealPublisher) IsConnected() bool {
	return p.client.IsConnectionOpen()
}

// Close disconnects from the broker.
func (p *RealPublisher) Close() error {
	p.client.Disconnect(1000) // 1 second timeout
	return nil
}

func wait(ctx context.Context, token paho.Token) error {
	if _, ok := ctx.Deadline(); !ok {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, publishTimeout)
		defer cancel()
	}
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return fmt.Errorf("timeout: %w", ctx.Err())
	}
}
