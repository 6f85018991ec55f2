// Package filter is the deterministic first stage of message reduction: it
// strips greetings, sign-offs and device signatures, and tags what is left.
// It never adds text.
package filter

import (
	"strings"
	"unicode"

	"github.com/nhle/inboxdigest/internal/model"
)

// Token is one tagged word. Tags follow the Penn Treebank set.
type Token struct {
	Text string
	Tag  string
}

// Tagger assigns part-of-speech tags to the words of a sentence.
type Tagger interface {
	Tag(sentence string) []Token
}

// IsVerbTag reports whether a Penn tag is a verb or modal auxiliary.
func IsVerbTag(tag string) bool {
	return strings.HasPrefix(tag, "VB") || tag == "MD"
}

type options struct {
	tagger   Tagger
	entities []model.Entity
}

// Option configures Classify.
type Option func(*options)

// WithTagger replaces the built-in lexicon tagger.
func WithTagger(t Tagger) Option {
	return func(o *options) {
		if t != nil {
			o.tagger = t
		}
	}
}

// WithEntities supplies span entities found by the language model. They
// take precedence over the regex heuristics.
func WithEntities(entities []model.Entity) Option {
	return func(o *options) { o.entities = entities }
}

// Classify runs the deterministic filter over raw message text.
func Classify(text string, opts ...Option) model.FilterResult {
	o := options{tagger: LexiconTagger{}}
	for _, opt := range opts {
		opt(&o)
	}

	visible := text
	if looksLikeMarkup(text) {
		visible = visibleText(text)
	}

	sentences := segment(visible)
	kept := make([]string, 0, len(sentences))
	dropped := make([]model.DroppedSpan, 0)

	for i, s := range sentences {
		if span := classifySentence(s, i); span != "" {
			dropped = append(dropped, model.DroppedSpan{Type: span, Text: s})
			continue
		}
		kept = append(kept, s)
	}

	return model.FilterResult{
		FilteredText: strings.Join(kept, " "),
		Labels:       inferLabels(visible, sentences, o.entities, o.tagger),
		DroppedSpans: dropped,
	}
}

var modals = map[string]bool{
	"can": true, "could": true, "will": true, "would": true, "shall": true,
	"should": true, "may": true, "might": true, "must": true,
}

var lexiconVerbs = map[string]bool{
	"do": true, "does": true, "did": true, "is": true, "are": true, "was": true,
	"were": true, "am": true, "have": true, "has": true, "had": true,
	"review": true, "send": true, "confirm": true, "check": true, "let": true,
	"approve": true, "sign": true, "call": true, "reply": true, "share": true,
	"join": true, "update": true, "submit": true, "schedule": true, "book": true,
	"want": true, "need": true, "fill": true, "complete": true, "read": true,
}

// LexiconTagger is a dependency-free tagger that knows modals, auxiliaries
// and common imperative verbs. Everything else is tagged NN.
type LexiconTagger struct{}

// Tag implements Tagger.
func (LexiconTagger) Tag(sentence string) []Token {
	fields := strings.Fields(sentence)
	tokens := make([]Token, 0, len(fields))
	for _, f := range fields {
		word := strings.TrimFunc(f, func(r rune) bool { return !unicode.IsLetter(r) && r != '\'' })
		if word == "" {
			continue
		}
		lower := strings.ToLower(word)
		tag := "NN"
		switch {
		case modals[lower]:
			tag = "MD"
		case lexiconVerbs[lower]:
			tag = "VB"
		}
		tokens = append(tokens, Token{Text: word, Tag: tag})
	}
	return tokens
}
