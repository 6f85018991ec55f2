package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/nats-io/nats.go"
)

// NATSTransport carries envelopes over NATS so the worker can live in its
// own process. Each actor listens on <prefix>.<actor>.
type NATSTransport struct {
	nc        *nats.Conn
	prefix    string
	validator *Validator
}

// NewNATSTransport wraps an established connection.
func NewNATSTransport(nc *nats.Conn, prefix string) (*NATSTransport, error) {
	v, err := NewValidator()
	if err != nil {
		return nil, err
	}
	if prefix == "" {
		prefix = "inboxdigest"
	}
	return &NATSTransport{nc: nc, prefix: prefix, validator: v}, nil
}

// Subject returns the subject actor listens on.
func (t *NATSTransport) Subject(actor Actor) string {
	return t.prefix + "." + string(actor)
}

// Send implements Transport. NATS publishes do not report absent
// subscribers, so a missing listener is silent here by construction.
func (t *NATSTransport) Send(_ context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encoding envelope: %w", err)
	}
	if err := t.nc.Publish(t.Subject(env.To), data); err != nil {
		return fmt.Errorf("publishing %s: %w", env.Type, err)
	}
	return nil
}

// Request implements Transport.
func (t *NATSTransport) Request(ctx context.Context, env Envelope) (Envelope, error) {
	data, err := json.Marshal(env)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding envelope: %w", err)
	}

	msg, err := t.nc.RequestWithContext(ctx, t.Subject(env.To), data)
	if err != nil {
		if errors.Is(err, nats.ErrNoResponders) {
			return Envelope{}, fmt.Errorf("%w: %s", ErrNoListener, env.To)
		}
		return Envelope{}, fmt.Errorf("requesting %s: %w", env.Type, err)
	}

	reply, err := t.validator.Decode(msg.Data)
	if err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return reply, nil
}

// Listen implements Transport. The NATS client delivers one message at a
// time per subscription, which keeps actor handling serialized.
func (t *NATSTransport) Listen(actor Actor, h Handler) (func(), error) {
	sub, err := t.nc.Subscribe(t.Subject(actor), func(m *nats.Msg) {
		env, err := t.validator.Decode(m.Data)
		if err != nil {
			log.Printf("[bus] rejected envelope on %s: %v", m.Subject, err)
			return
		}

		reply := h(context.Background(), env)
		if m.Reply == "" || reply == nil {
			return
		}
		data, err := json.Marshal(reply)
		if err != nil {
			log.Printf("[bus] encoding reply to %s: %v", env.Type, err)
			return
		}
		if err := m.Respond(data); err != nil {
			log.Printf("[bus] replying to %s: %v", env.Type, err)
		}
	})
	if err != nil {
		return nil, fmt.Errorf("subscribing %s: %w", t.Subject(actor), err)
	}

	return func() {
		if err := sub.Unsubscribe(); err != nil {
			log.Printf("[bus] unsubscribing %s: %v", t.Subject(actor), err)
		}
	}, nil
}
