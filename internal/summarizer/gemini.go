package summarizer

import (
	"context"
	"errors"
	"net/http"
	"strings"

	"github.com/nhle/inboxdigest/internal/model"
)

const geminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"

// Gemini summarizes with the Generative Language API.
type Gemini struct {
	apiKey  string
	model   string
	baseURL string
	client  *http.Client
}

// NewGemini creates a Gemini backend.
func NewGemini(apiKey, modelName string) *Gemini {
	return &Gemini{
		apiKey:  apiKey,
		model:   modelName,
		baseURL: geminiBaseURL,
		client:  &http.Client{},
	}
}

func (g *Gemini) IsAvailable(context.Context) bool { return g.apiKey != "" }

func (g *Gemini) Initialize(context.Context) error { return nil }

func (g *Gemini) Destroy() error {
	g.client.CloseIdleConnections()
	return nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents []geminiContent `json:"contents"`
}

type geminiResponse struct {
	Candidates []struct {
		Content geminiContent `json:"content"`
	} `json:"candidates"`
	UsageMetadata struct {
		TotalTokenCount int `json:"totalTokenCount"`
	} `json:"usageMetadata"`
}

// Summarize implements Capability.
func (g *Gemini) Summarize(ctx context.Context, text string, c Context) (model.SummaryResult, error) {
	url := g.baseURL + "/models/" + g.model + ":generateContent"
	req := geminiRequest{Contents: []geminiContent{{Parts: []geminiPart{{Text: BuildPrompt(text, c)}}}}}

	var resp geminiResponse
	if err := postJSON(ctx, g.client, "gemini", url, map[string]string{"x-goog-api-key": g.apiKey}, req, &resp); err != nil {
		return model.SummaryResult{}, err
	}
	if len(resp.Candidates) == 0 || len(resp.Candidates[0].Content.Parts) == 0 {
		return model.SummaryResult{}, errors.New("gemini returned no candidates")
	}

	res := model.SummaryResult{Text: strings.TrimSpace(resp.Candidates[0].Content.Parts[0].Text)}
	if n := resp.UsageMetadata.TotalTokenCount; n > 0 {
		res.TokensUsed = &n
	}
	return res, nil
}
