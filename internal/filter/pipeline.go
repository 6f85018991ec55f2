package filter

import (
	"context"
	"fmt"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

// Stage1 runs Classify somewhere that owns the language model, usually the
// worker behind the isolation manager.
type Stage1 interface {
	Process(ctx context.Context, id, text string) (model.FilterResult, error)
}

// Stage2 is the generative summarizer. It never fails; degraded outcomes
// come back as placeholder text.
type Stage2 interface {
	Summarize(ctx context.Context, subject, from, text string) model.SummaryResult
}

// TokenEstimator estimates token usage when a backend does not report it.
type TokenEstimator func(output string) int

// Pipeline chains both stages for one message.
type Pipeline struct {
	stage1   Stage1
	stage2   Stage2
	estimate TokenEstimator
	now      func() time.Time
}

// NewPipeline builds a pipeline. estimate is used when stage 2 does not
// report token usage.
func NewPipeline(s1 Stage1, s2 Stage2, estimate TokenEstimator) *Pipeline {
	return &Pipeline{stage1: s1, stage2: s2, estimate: estimate, now: time.Now}
}

// Process runs text through both stages and returns rec with the derived
// fields attached. A stage 1 failure fails the message; stage 2 cannot.
func (p *Pipeline) Process(
	ctx context.Context,
	rec model.ProcessedMessageRecord,
	text string,
) (model.ProcessedMessageRecord, error) {
	fr, err := p.stage1.Process(ctx, rec.ID, text)
	if err != nil {
		return rec, fmt.Errorf("filtering message %s: %w", rec.ID, err)
	}

	sum := p.stage2.Summarize(ctx, rec.Subject, rec.From, fr.FilteredText)

	rec.Labels = fr.Labels
	rec.Summary = sum.Text
	if sum.TokensUsed != nil {
		rec.TokensUsed = *sum.TokensUsed
	} else if p.estimate != nil {
		rec.TokensUsed = p.estimate(sum.Text)
	}
	rec.ProcessedAt = p.now().UTC()
	return rec, nil
}

// LocalStage1 runs Classify in-process. It is used when no worker is
// configured and in tests.
type LocalStage1 struct {
	Opts []Option
}

// Process implements Stage1.
func (l LocalStage1) Process(_ context.Context, _ string, text string) (model.FilterResult, error) {
	return Classify(text, l.Opts...), nil
}
