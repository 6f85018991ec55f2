// Package isolation keeps exactly one worker context alive and mediates
// every call into it. The worker is created lazily on first use, with
// retry and exponential backoff, and concurrent first callers share a
// single creation attempt.
package isolation

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/nhle/inboxdigest/internal/bus"
)

// ErrCreateFailed is returned when the worker could not be created within
// the retry budget.
var ErrCreateFailed = errors.New("isolation: worker creation failed")

// Host knows how to find and start worker instances for a URL.
type Host interface {
	// Instances reports how many workers are live for url.
	Instances(ctx context.Context, url string) (int, error)

	// Create starts a worker for url and returns once it accepts requests.
	Create(ctx context.Context, url string) error
}

const (
	defaultAttempts  = 3
	defaultBaseDelay = 200 * time.Millisecond
	defaultMaxDelay  = 5 * time.Second
)

// Manager owns the worker lifecycle.
type Manager struct {
	host      Host
	url       string
	transport bus.Transport

	attempts  int
	baseDelay time.Duration
	maxDelay  time.Duration
	sleep     func(ctx context.Context, d time.Duration) error

	group singleflight.Group
}

// Option configures a Manager.
type Option func(*Manager)

// WithRetry overrides the creation retry policy.
func WithRetry(attempts int, base, max time.Duration) Option {
	return func(m *Manager) {
		if attempts > 0 {
			m.attempts = attempts
		}
		if base > 0 {
			m.baseDelay = base
		}
		if max > 0 {
			m.maxDelay = max
		}
	}
}

// NewManager creates a manager for the worker at url, reached over t.
func NewManager(host Host, url string, t bus.Transport, opts ...Option) *Manager {
	m := &Manager{
		host:      host,
		url:       url,
		transport: t,
		attempts:  defaultAttempts,
		baseDelay: defaultBaseDelay,
		maxDelay:  defaultMaxDelay,
		sleep:     sleepContext,
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// EnsureReady makes sure a worker is live. If one exists it returns
// immediately; otherwise it creates one, sharing the attempt with any
// concurrent caller. Cancelling ctx abandons the wait, not the creation.
func (m *Manager) EnsureReady(ctx context.Context) error {
	if n, err := m.host.Instances(ctx, m.url); err == nil && n > 0 {
		return nil
	}

	ch := m.group.DoChan(m.url, func() (any, error) {
		return nil, m.create(context.WithoutCancel(ctx))
	})
	select {
	case r := <-ch:
		return r.Err
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (m *Manager) create(ctx context.Context) error {
	var lastErr error
	for attempt := 1; attempt <= m.attempts; attempt++ {
		if attempt > 1 {
			delay := m.retryDelay(attempt - 1)
			log.Printf("[isolation] retrying worker creation in %s (attempt %d/%d)", delay, attempt, m.attempts)
			if err := m.sleep(ctx, delay); err != nil {
				return err
			}
		}

		if n, err := m.host.Instances(ctx, m.url); err == nil && n > 0 {
			return nil
		}
		if err := m.host.Create(ctx, m.url); err != nil {
			lastErr = err
			log.Printf("[isolation] creating worker at %s: %v", m.url, err)
			continue
		}
		log.Printf("[isolation] worker ready at %s", m.url)
		return nil
	}
	return fmt.Errorf("%w after %d attempts: %v", ErrCreateFailed, m.attempts, lastErr)
}

// retryDelay is the wait before retry n (1-based): base doubled n-1 times,
// capped at maxDelay.
func (m *Manager) retryDelay(n int) time.Duration {
	delay := m.baseDelay
	for i := 1; i < n; i++ {
		delay *= 2
		if delay >= m.maxDelay {
			return m.maxDelay
		}
	}
	return min(delay, m.maxDelay)
}

// Call ensures the worker is live, sends msg and waits for the single
// reply. A missing or malformed reply fails this call only.
func (m *Manager) Call(ctx context.Context, msg bus.CoordinatorToWorker) (bus.WorkerToCoordinator, error) {
	if err := m.EnsureReady(ctx); err != nil {
		return nil, err
	}
	return bus.Call(ctx, m.transport, bus.CoordinatorWorker, bus.WorkerCoordinator, msg)
}

func sleepContext(ctx context.Context, delay time.Duration) error {
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
