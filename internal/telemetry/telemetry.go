// Package telemetry publishes logged detections to a message broker.
package telemetry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/ayusman/chilieye/internal/config"
	"github.com/fxamacker/cbor/v2"
)

// Location is the GPS fix attached to a message.
type Location struct {
	Latitude   float64 `json:"latitude"`
	Longitude  float64 `json:"longitude"`
	Altitude   float64 `json:"altitude"`
	Satellites int     `json:"satellites"`
}

// Message is one published detection. Field names match the JSON detection log
// so existing subscribers keep working.
type Message struct {
	SessionID  string    `json:"session_id,omitempty"`
	FrameIndex int       `json:"frame_index"`
	Timestamp  float64   `json:"timestamp"`
	Datetime   string    `json:"datetime"`
	Class      string    `json:"class"`
	Confidence float64   `json:"confidence"`
	Box        [4]int    `json:"bbox"`
	Location   *Location `json:"location"`
}

// Publisher sends messages to subscribers.
type Publisher interface {
	Publish(ctx context.Context, msg Message) error
	Close() error
}

// Encoder serializes a message payload.
type Encoder func(v any) ([]byte, error)

// Payload formats.
const (
	FormatJSON = "json"
	FormatCBOR = "cbor"
)

// NewEncoder returns the encoder for format. An empty format is JSON.
func NewEncoder(format string) (Encoder, error) {
	switch format {
	case "", FormatJSON:
		return json.Marshal, nil
	case FormatCBOR:
		return cbor.Marshal, nil
	}
	return nil, fmt.Errorf("unknown telemetry format %q", format)
}

// Transports.
const (
	TransportMQTT = "mqtt"
	TransportZMQ  = "zmq"
)

// New connects the publisher selected by cfg.Transport.
func New(cfg config.TelemetryConfig) (Publisher, error) {
	enc, err := NewEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}

	switch cfg.Transport {
	case "", TransportMQTT:
		return NewMQTTPublisher(cfg, enc)
	case TransportZMQ:
		return NewZMQPublisher(cfg.ZMQEndpoint, cfg.Topic, enc)
	}
	return nil, fmt.Errorf("unknown telemetry transport %q", cfg.Transport)
}
