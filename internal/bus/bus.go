// Package bus publishes detected disruption events to NATS JetStream for
// local consumers. The bus is a diagnostic feed: the webhook remains the
// single notification path, and publish failures never influence the
// monitor loop.
package bus

import (
	"context"
	"encoding/json"
	"errors"

	"github.com/nats-io/nats.go"
)

// Publisher wraps a NATS JetStream connection for publishing events.
type Publisher struct {
	conn *nats.Conn
	js   nats.JetStreamContext
}

// Connect returns a Publisher connected to the provided NATS endpoint.
func Connect(url string, opts ...nats.Option) (*Publisher, error) {
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}

	js, err := nc.JetStream()
	if err != nil {
		nc.Close()
		return nil, err
	}

	return &Publisher{conn: nc, js: js}, nil
}

// Close shuts down the underlying NATS connection.
func (p *Publisher) Close() {
	if p == nil {
		return
	}
	if err := p.conn.Drain(); err != nil {
		p.conn.Close()
	}
}

// Publish encodes v as JSON and publishes it to the given subject.
func (p *Publisher) Publish(ctx context.Context, subject string, v any) error {
	if p == nil {
		return errors.New("nil publisher")
	}

	data, err := json.Marshal(v)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(subject, data, nats.Context(ctx))
	return err
}
