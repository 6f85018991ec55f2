package summarizer

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/nhle/inboxdigest/internal/model"
)

// Ollama summarizes with a local Ollama server.
type Ollama struct {
	baseURL string
	model   string
	client  *http.Client
}

// NewOllama creates an Ollama backend.
func NewOllama(baseURL, modelName string) *Ollama {
	if baseURL == "" {
		baseURL = "http://localhost:11434"
	}
	if modelName == "" {
		modelName = "llama3"
	}
	return &Ollama{baseURL: strings.TrimRight(baseURL, "/"), model: modelName, client: &http.Client{}}
}

// IsAvailable probes the server's tag listing.
func (o *Ollama) IsAvailable(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, o.baseURL+"/api/tags", nil)
	if err != nil {
		return false
	}
	resp, err := o.client.Do(req)
	if err != nil {
		return false
	}
	resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

func (o *Ollama) Initialize(context.Context) error { return nil }

func (o *Ollama) Destroy() error {
	o.client.CloseIdleConnections()
	return nil
}

type ollamaRequest struct {
	Model   string         `json:"model"`
	Prompt  string         `json:"prompt"`
	Stream  bool           `json:"stream"`
	Options map[string]any `json:"options,omitempty"`
}

type ollamaResponse struct {
	Response        string `json:"response"`
	PromptEvalCount int    `json:"prompt_eval_count"`
	EvalCount       int    `json:"eval_count"`
}

// Summarize implements Capability.
func (o *Ollama) Summarize(ctx context.Context, text string, c Context) (model.SummaryResult, error) {
	req := ollamaRequest{
		Model:  o.model,
		Prompt: BuildPrompt(text, c),
		Options: map[string]any{
			"temperature": 0.3,
			"num_predict": 120,
		},
	}

	var resp ollamaResponse
	if err := postJSON(ctx, o.client, "ollama", o.baseURL+"/api/generate", nil, req, &resp); err != nil {
		return model.SummaryResult{}, err
	}

	res := model.SummaryResult{Text: strings.TrimSpace(resp.Response)}
	if n := resp.PromptEvalCount + resp.EvalCount; n > 0 {
		res.TokensUsed = &n
	}
	return res, nil
}
