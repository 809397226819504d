package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
)

// Gemini streams generateContent replies over SSE with a JSON response
// mime type.
type Gemini struct {
	cfg Config
}

// NewGemini validates cfg and fills defaults.
func NewGemini(cfg Config) (*Gemini, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing GEMINI_API_KEY")
	}
	cfg.applyDefaults("https://generativelanguage.googleapis.com", "gemini-2.0-flash")
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &Gemini{cfg: cfg}, nil
}

type geminiPart struct {
	Text string `json:"text"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiRequest struct {
	Contents          []geminiContent `json:"contents"`
	SystemInstruction *geminiContent  `json:"systemInstruction,omitempty"`
	GenerationConfig  struct {
		Temperature      float64 `json:"temperature"`
		MaxOutputTokens  int     `json:"maxOutputTokens,omitempty"`
		ResponseMimeType string  `json:"responseMimeType"`
	} `json:"generationConfig"`
}

type geminiChunk struct {
	Candidates []struct {
		Content      geminiContent `json:"content"`
		FinishReason string        `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
	Error *vendorError `json:"error"`
}

// Generate implements Engine.
func (g *Gemini) Generate(ctx context.Context, req Request) <-chan Event {
	return runStream(ctx, vendorStream{
		open:          func(ctx context.Context) (io.ReadCloser, error) { return g.open(ctx, req) },
		delta:         geminiDelta,
		progressEvery: g.cfg.ProgressEvery,
	})
}

func (g *Gemini) open(ctx context.Context, req Request) (io.ReadCloser, error) {
	system, user, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	var body geminiRequest
	body.Contents = []geminiContent{{Role: "user", Parts: []geminiPart{{Text: user}}}}
	body.SystemInstruction = &geminiContent{Parts: []geminiPart{{Text: system}}}
	body.GenerationConfig.Temperature = g.cfg.Temperature
	body.GenerationConfig.MaxOutputTokens = g.cfg.MaxTokens
	body.GenerationConfig.ResponseMimeType = "application/json"

	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}
	endpoint := fmt.Sprintf("%s/v1beta/models/%s:streamGenerateContent?alt=sse", g.cfg.BaseURL, url.PathEscape(g.cfg.Model))
	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, &buf)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("x-goog-api-key", g.cfg.APIKey)
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	return doStream(g.cfg.HTTPClient, hreq, "gemini")
}

func geminiDelta(data string) (string, error) {
	var chunk geminiChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		return "", nil
	}
	if chunk.Error != nil {
		return "", fmt.Errorf("gemini stream error: %s", chunk.Error.Message)
	}
	if chunk.PromptFeedback != nil && chunk.PromptFeedback.BlockReason != "" {
		return "", fmt.Errorf("gemini blocked prompt: %s", chunk.PromptFeedback.BlockReason)
	}
	var b strings.Builder
	for _, c := range chunk.Candidates {
		for _, p := range c.Content.Parts {
			b.WriteString(p.Text)
		}
		if c.FinishReason == "SAFETY" {
			return "", fmt.Errorf("gemini stopped for safety")
		}
	}
	return b.String(), nil
}
