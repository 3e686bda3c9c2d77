package telemetry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/pebbe/zmq4"
)

// ZMQPublisher publishes messages on a PUB socket as [topic, payload] frames.
type ZMQPublisher struct {
	mu     sync.Mutex
	socket *zmq4.Socket
	topic  string
	encode Encoder
}

// NewZMQPublisher binds a PUB socket to endpoint.
func NewZMQPublisher(endpoint, topic string, enc Encoder) (*ZMQPublisher, error) {
	if enc == nil {
		enc, _ = NewEncoder(FormatJSON)
	}

	socket, err := zmq4.NewSocket(zmq4.PUB)
	if err != nil {
		return nil, err
	}
	if err := socket.SetLinger(0); err != nil {
		_ = socket.Close()
		return nil, err
	}
	if err := socket.Bind(endpoint); err != nil {
		_ = socket.Close()
		return nil, fmt.Errorf("zmq bind %s: %w", endpoint, err)
	}

	return &ZMQPublisher{socket: socket, topic: topic, encode: enc}, nil
}

// Publish sends msg. PUB sockets never block, so ctx is only checked up front.
func (p *ZMQPublisher) Publish(ctx context.Context, msg Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := p.encode(msg)
	if err != nil {
		return fmt.Errorf("encode message: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return errors.New("publisher closed")
	}
	_, err = p.socket.SendMessage(p.topic, payload)
	return err
}

// Close closes the socket.
func (p *ZMQPublisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.socket == nil {
		return nil
	}
	err := p.socket.Close()
	p.socket = nil
	return err
}
