package bus

import (
	"context"
	"fmt"
	"sync"
)

// mailboxSize bounds queued fire-and-forget deliveries per actor.
const mailboxSize = 64

type delivery struct {
	ctx   context.Context
	env   Envelope
	reply chan *Envelope
}

type mailbox struct {
	handler Handler
	queue   chan delivery
	done    chan struct{}
}

// run drains the mailbox one delivery at a time, which gives every actor
// the single-threaded handling the contract relies on.
func (m *mailbox) run() {
	for {
		select {
		case <-m.done:
			return
		case d := <-m.queue:
			reply := m.handler(d.ctx, d.env)
			if d.reply != nil {
				d.reply <- reply
			}
		}
	}
}

// MemoryTransport connects actors living in the same process.
type MemoryTransport struct {
	mu        sync.RWMutex
	mailboxes map[Actor]*mailbox
}

// NewMemoryTransport returns a transport with no listeners.
func NewMemoryTransport() *MemoryTransport {
	return &MemoryTransport{mailboxes: make(map[Actor]*mailbox)}
}

// Listen implements Transport.
func (t *MemoryTransport) Listen(actor Actor, h Handler) (func(), error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if _, ok := t.mailboxes[actor]; ok {
		return nil, fmt.Errorf("bus: %s already has a listener", actor)
	}
	mb := &mailbox{
		handler: h,
		queue:   make(chan delivery, mailboxSize),
		done:    make(chan struct{}),
	}
	t.mailboxes[actor] = mb
	go mb.run()

	var once sync.Once
	return func() {
		once.Do(func() {
			t.mu.Lock()
			if t.mailboxes[actor] == mb {
				delete(t.mailboxes, actor)
			}
			t.mu.Unlock()
			close(mb.done)
		})
	}, nil
}

func (t *MemoryTransport) lookup(actor Actor) (*mailbox, error) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	mb, ok := t.mailboxes[actor]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNoListener, actor)
	}
	return mb, nil
}

func (t *MemoryTransport) enqueue(ctx context.Context, mb *mailbox, d delivery) error {
	select {
	case mb.queue <- d:
		return nil
	case <-mb.done:
		return fmt.Errorf("%w: %s", ErrNoListener, d.env.To)
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Send implements Transport.
func (t *MemoryTransport) Send(ctx context.Context, env Envelope) error {
	mb, err := t.lookup(env.To)
	if err != nil {
		return err
	}
	return t.enqueue(ctx, mb, delivery{ctx: context.WithoutCancel(ctx), env: env.clone()})
}

// Request implements Transport.
func (t *MemoryTransport) Request(ctx context.Context, env Envelope) (Envelope, error) {
	mb, err := t.lookup(env.To)
	if err != nil {
		return Envelope{}, err
	}

	reply := make(chan *Envelope, 1)
	if err := t.enqueue(ctx, mb, delivery{ctx: ctx, env: env.clone(), reply: reply}); err != nil {
		return Envelope{}, err
	}

	select {
	case r := <-reply:
		if r == nil {
			return Envelope{}, fmt.Errorf("%w: %s sent no reply to %s", ErrMalformedResponse, env.To, env.Type)
		}
		return r.clone(), nil
	case <-mb.done:
		return Envelope{}, fmt.Errorf("%w: %s stopped before replying", ErrNoListener, env.To)
	case <-ctx.Done():
		return Envelope{}, ctx.Err()
	}
}
