package summarizer

import (
	"context"
	"net/http"
	"strings"

	"github.com/nhle/inboxdigest/internal/model"
)

const (
	anthropicURL        = "https://api.anthropic.com/v1/messages"
	anthropicAPIVersion = "2023-06-01"
	anthropicMaxTokens  = 256
)

// Anthropic summarizes with the Claude Messages API.
type Anthropic struct {
	apiKey string
	model  string
	url    string
	client *http.Client
}

// NewAnthropic creates a Claude backend.
func NewAnthropic(apiKey, modelName string) *Anthropic {
	return &Anthropic{
		apiKey: apiKey,
		model:  modelName,
		url:    anthropicURL,
		client: &http.Client{},
	}
}

func (a *Anthropic) IsAvailable(context.Context) bool { return a.apiKey != "" }

func (a *Anthropic) Initialize(context.Context) error { return nil }

func (a *Anthropic) Destroy() error {
	a.client.CloseIdleConnections()
	return nil
}

type anthropicRequest struct {
	Model     string             `json:"model"`
	MaxTokens int                `json:"max_tokens"`
	Messages  []anthropicMessage `json:"messages"`
}

type anthropicMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type anthropicResponse struct {
	Content []struct {
		Type string `json:"type"`
		Text string `json:"text"`
	} `json:"content"`
	Usage struct {
		InputTokens  int `json:"input_tokens"`
		OutputTokens int `json:"output_tokens"`
	} `json:"usage"`
}

// Summarize implements Capability.
func (a *Anthropic) Summarize(ctx context.Context, text string, c Context) (model.SummaryResult, error) {
	req := anthropicRequest{
		Model:     a.model,
		MaxTokens: anthropicMaxTokens,
		Messages:  []anthropicMessage{{Role: "user", Content: BuildPrompt(text, c)}},
	}
	headers := map[string]string{
		"x-api-key":         a.apiKey,
		"anthropic-version": anthropicAPIVersion,
	}

	var resp anthropicResponse
	if err := postJSON(ctx, a.client, "anthropic", a.url, headers, req, &resp); err != nil {
		return model.SummaryResult{}, err
	}

	var parts []string
	for _, block := range resp.Content {
		if block.Type == "text" {
			parts = append(parts, block.Text)
		}
	}
	tokens := resp.Usage.InputTokens + resp.Usage.OutputTokens
	return model.SummaryResult{
		Text:       strings.TrimSpace(strings.Join(parts, "")),
		TokensUsed: &tokens,
	}, nil
}
