// Package nlp wraps the language model used by the worker: tokenization,
// part-of-speech tagging and entity extraction, plus a set of span patterns
// for the phrases the filter labels on.
package nlp

import (
	"fmt"
	"regexp"
	"sync"

	"github.com/jdkato/prose/v2"

	"github.com/nhle/inboxdigest/internal/filter"
	"github.com/nhle/inboxdigest/internal/model"
)

// Analysis is what the worker reports back for one message.
type Analysis struct {
	Tokens   []string
	POS      []string
	Entities []model.Entity
}

type spanPattern struct {
	label   string
	pattern *regexp.Regexp
}

// Engine holds the warmed model. It is owned by a single worker.
type Engine struct {
	warm     sync.Once
	warmErr  error
	patterns []spanPattern
}

// New returns an engine with the default span patterns. The model is
// loaded on first use or by Warm.
func New() *Engine {
	return &Engine{patterns: defaultPatterns()}
}

func defaultPatterns() []spanPattern {
	return []spanPattern{
		{"DEADLINE", regexp.MustCompile(`(?i)\b(due\s+(date|on|by)|deadline|no\s+later\s+than|by end of (day|week|month)|` +
			`(by|before) (monday|tuesday|wednesday|thursday|friday|saturday|sunday|tomorrow|tonight|eod))\b`)},
		{"REQUEST", regexp.MustCompile(`(?i)\b(please|kindly|could you|can you|would you|let me know|` +
			`need you to|action required)\b`)},
		{"TRANSACTION", regexp.MustCompile(`(?i)\b(order (number|#|confirmation)|invoice|receipt|` +
			`payment (received|due|confirmation)|has shipped|tracking number)\b`)},
		{"UNSUBSCRIBE", regexp.MustCompile(`(?i)\b(unsubscribe|opt[ -]?out|email preferences)\b`)},
	}
}

// Warm loads the model ahead of the first message.
func (e *Engine) Warm() error {
	e.warm.Do(func() {
		if _, err := prose.NewDocument("Warm up the tagger."); err != nil {
			e.warmErr = fmt.Errorf("loading language model: %w", err)
		}
	})
	return e.warmErr
}

// Analyze tokenizes and tags text and extracts entities. Model entities
// come first, then span-pattern matches in pattern order.
func (e *Engine) Analyze(text string) (Analysis, error) {
	if err := e.Warm(); err != nil {
		return Analysis{}, err
	}

	doc, err := prose.NewDocument(text, prose.WithSegmentation(false))
	if err != nil {
		return Analysis{}, fmt.Errorf("analyzing text: %w", err)
	}

	var a Analysis
	for _, tok := range doc.Tokens() {
		a.Tokens = append(a.Tokens, tok.Text)
		a.POS = append(a.POS, tok.Tag)
	}
	for _, ent := range doc.Entities() {
		a.Entities = append(a.Entities, model.Entity{Text: ent.Text, Label: ent.Label})
	}
	a.Entities = append(a.Entities, e.matchSpans(text)...)
	return a, nil
}

func (e *Engine) matchSpans(text string) []model.Entity {
	var out []model.Entity
	for _, p := range e.patterns {
		for _, m := range p.pattern.FindAllString(text, -1) {
			out = append(out, model.Entity{Text: m, Label: p.label})
		}
	}
	return out
}

// Tag implements filter.Tagger with the model's perceptron tagger. On a
// model failure it falls back to the lexicon tagger.
func (e *Engine) Tag(sentence string) []filter.Token {
	doc, err := prose.NewDocument(sentence,
		prose.WithSegmentation(false),
		prose.WithExtraction(false))
	if err != nil {
		return filter.LexiconTagger{}.Tag(sentence)
	}
	toks := doc.Tokens()
	out := make([]filter.Token, 0, len(toks))
	for _, t := range toks {
		out = append(out, filter.Token{Text: t.Text, Tag: t.Tag})
	}
	return out
}
