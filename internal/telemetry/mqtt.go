package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/ayusman/chilieye/internal/config"
	mqtt "github.com/eclipse/paho.mqtt.golang"
)

const defaultTimeout = 5 * time.Second

// ErrPublishTimeout is returned when the broker does not acknowledge in time.
var ErrPublishTimeout = errors.New("publish timed out")

// mqttClient is the subset of mqtt.Client used by the publisher.
type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher publishes messages to one MQTT topic.
type MQTTPublisher struct {
	client  mqttClient
	topic   string
	qos     byte
	timeout time.Duration
	encode  Encoder

	mu     sync.Mutex
	closed bool
}

// ClientID returns id, or chili_monitor_<unix> when id is empty.
func ClientID(id string, now time.Time) string {
	if id != "" {
		return id
	}
	return fmt.Sprintf("chili_monitor_%d", now.Unix())
}

// NewMQTTPublisher connects to cfg.Broker.
func NewMQTTPublisher(cfg config.TelemetryConfig, enc Encoder) (*MQTTPublisher, error) {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(ClientID(cfg.ClientID, time.Now())).
		SetConnectTimeout(timeout).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if !token.WaitTimeout(timeout) {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, ErrPublishTimeout)
	}
	if err := token.Error(); err != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, err)
	}

	return newMQTTPublisher(client, cfg.Topic, byte(cfg.QoS), timeout, enc), nil
}

func newMQTTPublisher(client mqttClient, topic string, qos byte, timeout time.Duration, enc Encoder) *MQTTPublisher {
	if enc == nil {
		enc, _ = NewEncoder(FormatJSON)
	}
	return &MQTTPublisher{
		client:  client,
		topic:   topic,
		qos:     qos,
		timeout: timeout,
		encode:  enc,
	}
}

// Publish sends msg and waits for the broker acknowledgement, bounded by the
// configured timeout and ctx.
func (p *MQTTPublisher) Publish(ctx context.Context, msg Message) error {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return errors.New("publisher closed")
	}

	payload, err := p.encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	token := p.client.Publish(p.topic, p.qos, false, payload)
	timer := time.NewTimer(p.timeout)
	defer timer.Stop()

	select {
	case <-token.Done():
		return token.Error()
	case <-timer.C:
		return ErrPublishTimeout
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close disconnects from the broker.
func (p *MQTTPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	p.client.Disconnect(250)
	return nil
}
