package summarizer

import (
	"context"
	"errors"
	"log"

	"github.com/nhle/inboxdigest/internal/model"
)

// Fallback routes to the local backend first and falls back to the remote
// one. If the remote backend is out of quota, the local one is retried.
type Fallback struct {
	local  Capability
	remote Capability
}

// NewFallback combines two backends. Either may be nil.
func NewFallback(local, remote Capability) *Fallback {
	return &Fallback{local: local, remote: remote}
}

func (f *Fallback) IsAvailable(ctx context.Context) bool {
	return (f.local != nil && f.local.IsAvailable(ctx)) || (f.remote != nil && f.remote.IsAvailable(ctx))
}

func (f *Fallback) Initialize(ctx context.Context) error {
	var errs []error
	for _, c := range []Capability{f.local, f.remote} {
		if c != nil && c.IsAvailable(ctx) {
			if err := c.Initialize(ctx); err != nil {
				errs = append(errs, err)
			}
		}
	}
	return errors.Join(errs...)
}

// Summarize implements Capability.
func (f *Fallback) Summarize(ctx context.Context, text string, c Context) (model.SummaryResult, error) {
	localUp := f.local != nil && f.local.IsAvailable(ctx)
	if localUp {
		res, err := f.local.Summarize(ctx, text, c)
		if err == nil {
			return res, nil
		}
		if errors.Is(err, context.DeadlineExceeded) {
			return res, err
		}
		if isConnectionError(err) {
			log.Printf("[summarizer] local backend unreachable: %v, falling back", err)
		} else {
			log.Printf("[summarizer] local backend error: %v, falling back", err)
		}
	}

	if f.remote == nil || !f.remote.IsAvailable(ctx) {
		return model.SummaryResult{}, errors.New("no summarizer backend available")
	}

	res, err := f.remote.Summarize(ctx, text, c)
	if err != nil && isQuotaError(err) && localUp {
		log.Printf("[summarizer] remote backend out of quota: %v, retrying local", err)
		return f.local.Summarize(ctx, text, c)
	}
	return res, err
}

func (f *Fallback) Destroy() error {
	var errs []error
	for _, c := range []Capability{f.local, f.remote} {
		if c != nil {
			errs = append(errs, c.Destroy())
		}
	}
	return errors.Join(errs...)
}
