// Package bus is the typed message contract between the coordinator, the
// worker and the UI, plus the envelope transports that carry it.
//
// Every (sender, receiver) pair has a sealed message interface. A Route is
// parameterized by that interface, so handing a message to the wrong route
// does not compile. Inbound envelopes are decoded by an exhaustive switch per
// route; anything outside the closed type table is a contract violation.
package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Actor names one of the three execution contexts.
type Actor string

const (
	ActorCoordinator Actor = "coordinator"
	ActorWorker      Actor = "worker"
	ActorUI          Actor = "ui"
)

// MessageType is the discriminator carried by every envelope.
type MessageType string

var (
	// ErrNoListener reports that nothing is listening for the addressee.
	// Fire-and-forget sends swallow it.
	ErrNoListener = errors.New("bus: no listener")

	// ErrContractViolation reports an envelope whose route or type is not
	// in the closed type table, or whose payload does not decode.
	ErrContractViolation = errors.New("bus: contract violation")

	// ErrMalformedResponse reports a reply that does not answer the request
	// it was paired with.
	ErrMalformedResponse = errors.New("bus: malformed response")
)

// RemoteError is an error reported by the receiving side of a request.
type RemoteError struct {
	Type    MessageType
	Message string
}

func (e *RemoteError) Error() string {
	return fmt.Sprintf("remote %s: %s", e.Type, e.Message)
}

// Envelope is the wire unit. It is a value; a reply is always a fresh
// Envelope whose ReplyTo carries the request ID.
type Envelope struct {
	ID      string          `json:"id"`
	ReplyTo string          `json:"replyTo,omitempty"`
	From    Actor           `json:"from"`
	To      Actor           `json:"to"`
	Type    MessageType     `json:"type"`
	Data    json.RawMessage `json:"data,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// clone returns env with its own copy of Data.
func (env Envelope) clone() Envelope {
	if env.Data != nil {
		env.Data = append(json.RawMessage(nil), env.Data...)
	}
	return env
}

// Handler consumes one inbound envelope. The returned envelope, when
// non-nil, is the reply delivered to a waiting Request; fire-and-forget
// deliveries discard it.
type Handler func(ctx context.Context, env Envelope) *Envelope

// Transport moves envelopes between actors.
type Transport interface {
	// Send delivers env without waiting for a reply.
	Send(ctx context.Context, env Envelope) error

	// Request delivers env and waits for the single reply envelope.
	Request(ctx context.Context, env Envelope) (Envelope, error)

	// Listen installs h as the inbound handler for actor. Deliveries to one
	// actor are serialized. The returned func removes the listener.
	Listen(actor Actor, h Handler) (func(), error)
}
