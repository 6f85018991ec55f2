// Package summarizer is the generative second stage of the filter. Backends
// implement Capability; Stage wraps one with the timeout, prompt budget and
// placeholder handling the pipeline relies on.
package summarizer

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

// Placeholder texts stored in place of a summary when stage 2 degrades.
const (
	TextTimedOut    = "(Summarization timed out)"
	TextError       = "(Error generating summary)"
	TextUnavailable = "(Summary unavailable)"
)

const (
	DefaultTimeout    = 30 * time.Second
	DefaultCharBudget = 4000
)

// Context is the message metadata passed alongside the filtered text.
type Context struct {
	Subject string
	From    string
}

// Capability is a summarization backend.
type Capability interface {
	IsAvailable(ctx context.Context) bool
	Initialize(ctx context.Context) error
	Summarize(ctx context.Context, text string, c Context) (model.SummaryResult, error)
	Destroy() error
}

// Stage implements filter.Stage2 on top of a Capability. The capability is
// initialized lazily on first use.
type Stage struct {
	capability Capability
	timeout    time.Duration
	budget     int

	mu          sync.Mutex
	initialized bool
}

// NewStage wraps c. A nil capability yields placeholder summaries. Zero
// timeout or budget select the defaults.
func NewStage(c Capability, timeout time.Duration, budget int) *Stage {
	if timeout <= 0 {
		timeout = DefaultTimeout
	}
	if budget <= 0 {
		budget = DefaultCharBudget
	}
	return &Stage{capability: c, timeout: timeout, budget: budget}
}

type outcome struct {
	res model.SummaryResult
	err error
}

// Summarize never fails: timeouts and backend errors come back as
// placeholder text.
func (s *Stage) Summarize(ctx context.Context, subject, from, text string) model.SummaryResult {
	if s.capability == nil || !s.capability.IsAvailable(ctx) {
		return placeholder(TextUnavailable)
	}
	if err := s.ensureInitialized(ctx); err != nil {
		log.Printf("[summarizer] initialize failed: %v", err)
		return placeholder(TextUnavailable)
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	ch := make(chan outcome, 1)
	go func() {
		res, err := s.capability.Summarize(ctx, Truncate(text, s.budget), Context{Subject: subject, From: from})
		ch <- outcome{res: res, err: err}
	}()

	select {
	case o := <-ch:
		if o.err != nil {
			if errors.Is(o.err, context.DeadlineExceeded) {
				return placeholder(TextTimedOut)
			}
			log.Printf("[summarizer] summarize failed: %v", o.err)
			return placeholder(TextError)
		}
		return o.res
	case <-ctx.Done():
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			log.Printf("[summarizer] timed out after %s", s.timeout)
			return placeholder(TextTimedOut)
		}
		return placeholder(TextError)
	}
}

// placeholder is a degraded result. It always reports zero tokens.
func placeholder(text string) model.SummaryResult {
	zero := 0
	return model.SummaryResult{Text: text, TokensUsed: &zero}
}

// IsPlaceholder reports whether text is one of the degraded-summary texts.
func IsPlaceholder(text string) bool {
	switch text {
	case TextTimedOut, TextError, TextUnavailable:
		return true
	}
	return false
}

func (s *Stage) ensureInitialized(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.initialized {
		return nil
	}
	if err := s.capability.Initialize(ctx); err != nil {
		return err
	}
	s.initialized = true
	return nil
}

// Close releases the capability.
func (s *Stage) Close() error {
	if s.capability == nil {
		return nil
	}
	return s.capability.Destroy()
}

// EstimateTokens approximates token usage as one token per four characters,
// rounded up.
func EstimateTokens(output string) int {
	return (len(output) + 3) / 4
}

// Truncate keeps at most budget characters of text.
func Truncate(text string, budget int) string {
	if budget <= 0 || len(text) <= budget {
		return text
	}
	runes := []rune(text)
	if len(runes) <= budget {
		return text
	}
	return string(runes[:budget])
}

// BuildPrompt is the instruction every backend sends.
func BuildPrompt(text string, c Context) string {
	var sb strings.Builder
	sb.WriteString("Summarize the following email in one or two short sentences. ")
	sb.WriteString("Mention any request, deadline or amount. ")
	sb.WriteString("If it is a newsletter or promotion, say so in a few words.\n\n")
	fmt.Fprintf(&sb, "From: %s\nSubject: %s\n\n", c.From, c.Subject)
	sb.WriteString(text)
	sb.WriteString("\n\nSummary:")
	return sb.String()
}
