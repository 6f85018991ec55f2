package bus

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"

	"github.com/google/uuid"
)

// Route is a typed (sender, receiver) channel. M is the sealed message
// interface for that pair.
type Route[M Message] struct {
	From   Actor
	To     Actor
	decode func(MessageType, json.RawMessage) (M, error)
}

// Predeclared routes; these are the only values of Route in the program.
var (
	CoordinatorUI = Route[CoordinatorToUI]{
		From: ActorCoordinator, To: ActorUI, decode: decodeCoordinatorToUI,
	}
	UICoordinator = Route[UIToCoordinator]{
		From: ActorUI, To: ActorCoordinator, decode: decodeUIToCoordinator,
	}
	CoordinatorWorker = Route[CoordinatorToWorker]{
		From: ActorCoordinator, To: ActorWorker, decode: decodeCoordinatorToWorker,
	}
	WorkerCoordinator = Route[WorkerToCoordinator]{
		From: ActorWorker, To: ActorCoordinator, decode: decodeWorkerToCoordinator,
	}
)

// Encode builds a fresh envelope for m.
func (r Route[M]) Encode(m M) (Envelope, error) {
	data, err := json.Marshal(m)
	if err != nil {
		return Envelope{}, fmt.Errorf("encoding %s: %w", m.MessageType(), err)
	}
	return Envelope{
		ID:   uuid.NewString(),
		From: r.From,
		To:   r.To,
		Type: m.MessageType(),
		Data: data,
	}, nil
}

// Reply builds the response to req. r must run opposite to req's route.
func (r Route[M]) Reply(req Envelope, m M) (Envelope, error) {
	if req.From != r.To || req.To != r.From {
		return Envelope{}, fmt.Errorf("%w: reply route %s->%s does not answer %s->%s",
			ErrContractViolation, r.From, r.To, req.From, req.To)
	}
	env, err := r.Encode(m)
	if err != nil {
		return Envelope{}, err
	}
	env.ReplyTo = req.ID
	return env, nil
}

// Decode checks env was sent on r and decodes its payload.
func (r Route[M]) Decode(env Envelope) (M, error) {
	var zero M
	if env.From != r.From || env.To != r.To {
		return zero, fmt.Errorf("%w: %s sent %s->%s, want %s->%s",
			ErrContractViolation, env.Type, env.From, env.To, r.From, r.To)
	}
	return r.decode(env.Type, env.Data)
}

// errorReply answers req with an error-only envelope.
func errorReply(req Envelope, err error) *Envelope {
	return &Envelope{
		ID:      uuid.NewString(),
		ReplyTo: req.ID,
		From:    req.To,
		To:      req.From,
		Type:    req.Type,
		Error:   err.Error(),
	}
}

// Notify sends msg fire-and-forget. A missing listener is logged and
// swallowed; contract violations and transport failures are logged and
// returned.
func Notify[M Message](ctx context.Context, t Transport, r Route[M], msg M) error {
	env, err := r.Encode(msg)
	if err != nil {
		log.Printf("[bus] %v", err)
		return err
	}
	err = t.Send(ctx, env)
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrNoListener):
		log.Printf("[bus] no listener for %s, dropped %s", env.To, env.Type)
		return nil
	case errors.Is(err, ErrContractViolation):
		log.Printf("[bus] contract violation sending %s: %v", env.Type, err)
		return err
	default:
		log.Printf("[bus] sending %s to %s: %v", env.Type, env.To, err)
		return err
	}
}

// Call sends msg on out and waits for the single reply on back.
func Call[Req Message, Resp Message](
	ctx context.Context,
	t Transport,
	out Route[Req],
	back Route[Resp],
	msg Req,
) (Resp, error) {
	var zero Resp

	env, err := out.Encode(msg)
	if err != nil {
		return zero, err
	}

	reply, err := t.Request(ctx, env)
	if err != nil {
		return zero, fmt.Errorf("requesting %s: %w", env.Type, err)
	}
	if reply.ReplyTo != env.ID {
		return zero, fmt.Errorf("%w: reply %q does not answer %q",
			ErrMalformedResponse, reply.ReplyTo, env.ID)
	}
	if reply.Error != "" {
		return zero, &RemoteError{Type: env.Type, Message: reply.Error}
	}

	resp, err := back.Decode(reply)
	if err != nil {
		return zero, fmt.Errorf("%w: %v", ErrMalformedResponse, err)
	}
	return resp, nil
}
