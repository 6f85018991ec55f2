package summarizer

import (
	"fmt"

	"github.com/nhle/inboxdigest/internal/model"
)

// Keys carries API keys resolved from the keyring or environment.
type Keys struct {
	Gemini    string
	Anthropic string
}

// New builds the backend selected by cfg.Backend. "none" returns nil,
// which the Stage turns into placeholder summaries. "auto" prefers a local
// Ollama server and falls back to whichever remote key is configured.
func New(cfg model.SummarizerConfig, keys Keys) (Capability, error) {
	switch cfg.Backend {
	case "none":
		return nil, nil
	case "ollama":
		return NewOllama(cfg.OllamaURL, cfg.OllamaModel), nil
	case "gemini":
		if keys.Gemini == "" {
			return nil, fmt.Errorf("gemini backend needs an API key")
		}
		return NewGemini(keys.Gemini, cfg.GeminiModel), nil
	case "anthropic":
		if keys.Anthropic == "" {
			return nil, fmt.Errorf("anthropic backend needs an API key")
		}
		return NewAnthropic(keys.Anthropic, cfg.AnthropicModel), nil
	case "", "auto":
		var remote Capability
		switch {
		case keys.Gemini != "":
			remote = NewGemini(keys.Gemini, cfg.GeminiModel)
		case keys.Anthropic != "":
			remote = NewAnthropic(keys.Anthropic, cfg.AnthropicModel)
		}
		return NewFallback(NewOllama(cfg.OllamaURL, cfg.OllamaModel), remote), nil
	default:
		return nil, fmt.Errorf("unknown summarizer backend %q", cfg.Backend)
	}
}
