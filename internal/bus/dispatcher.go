package bus

import (
	"context"
	"fmt"
	"log"
	"sync"
)

// Dispatcher is the single registration point for one actor's inbound
// envelopes. Register routes with On or Serve, then pass Handle to
// Transport.Listen.
type Dispatcher struct {
	actor Actor

	mu     sync.RWMutex
	routes map[Actor]Handler
}

// NewDispatcher returns an empty dispatcher for actor.
func NewDispatcher(actor Actor) *Dispatcher {
	return &Dispatcher{
		actor:  actor,
		routes: make(map[Actor]Handler),
	}
}

// Actor returns the actor the dispatcher receives for.
func (d *Dispatcher) Actor() Actor { return d.actor }

func (d *Dispatcher) register(from, to Actor, h Handler) {
	if to != d.actor {
		panic(fmt.Sprintf("bus: %s dispatcher cannot receive %s->%s", d.actor, from, to))
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	if _, dup := d.routes[from]; dup {
		panic(fmt.Sprintf("bus: route %s->%s registered twice", from, to))
	}
	d.routes[from] = h
}

// On registers a fire-and-forget handler for messages arriving on r.
func On[M Message](d *Dispatcher, r Route[M], h func(ctx context.Context, m M)) {
	d.register(r.From, r.To, func(ctx context.Context, env Envelope) *Envelope {
		m, err := r.Decode(env)
		if err != nil {
			log.Printf("[bus] %s dropped envelope %s: %v", d.actor, env.ID, err)
			return errorReply(env, err)
		}
		h(ctx, m)
		return nil
	})
}

// Serve registers a request handler for messages arriving on r. Its result
// travels back on back; a handler error becomes an error reply.
func Serve[M Message, R Message](
	d *Dispatcher,
	r Route[M],
	back Route[R],
	h func(ctx context.Context, m M) (R, error),
) {
	d.register(r.From, r.To, func(ctx context.Context, env Envelope) *Envelope {
		m, err := r.Decode(env)
		if err != nil {
			log.Printf("[bus] %s dropped envelope %s: %v", d.actor, env.ID, err)
			return errorReply(env, err)
		}
		resp, err := h(ctx, m)
		if err != nil {
			return errorReply(env, err)
		}
		reply, err := back.Reply(env, resp)
		if err != nil {
			log.Printf("[bus] %s building reply to %s: %v", d.actor, env.Type, err)
			return errorReply(env, err)
		}
		return &reply
	})
}

// Handle delivers env to the handler registered for its sender.
func (d *Dispatcher) Handle(ctx context.Context, env Envelope) *Envelope {
	if env.To != d.actor {
		err := fmt.Errorf("%w: envelope for %s reached %s", ErrContractViolation, env.To, d.actor)
		log.Printf("[bus] %v", err)
		return errorReply(env, err)
	}

	d.mu.RLock()
	h, ok := d.routes[env.From]
	d.mu.RUnlock()
	if !ok {
		err := fmt.Errorf("%w: %s accepts nothing from %s", ErrContractViolation, d.actor, env.From)
		log.Printf("[bus] %v", err)
		return errorReply(env, err)
	}
	return h(ctx, env)
}
