package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
)

// OpenAI streams Chat Completions with a json_schema response format.
type OpenAI struct {
	cfg Config
}

// NewOpenAI validates cfg and fills defaults.
func NewOpenAI(cfg Config) (*OpenAI, error) {
	if strings.TrimSpace(cfg.APIKey) == "" {
		return nil, fmt.Errorf("missing OPENAI_API_KEY")
	}
	cfg.applyDefaults("https://api.openai.com", "gpt-4o")
	if cfg.Temperature == 0 {
		cfg.Temperature = 0.2
	}
	return &OpenAI{cfg: cfg}, nil
}

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type jsonSchemaFormat struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
	Strict bool           `json:"strict"`
}

type responseFormat struct {
	Type       string            `json:"type"`
	JSONSchema *jsonSchemaFormat `json:"json_schema,omitempty"`
}

type chatRequest struct {
	Model          string          `json:"model"`
	Messages       []chatMessage   `json:"messages"`
	ResponseFormat *responseFormat `json:"response_format,omitempty"`
	Temperature    float64         `json:"temperature"`
	MaxTokens      int             `json:"max_tokens,omitempty"`
	Stream         bool            `json:"stream"`
}

type chatChunk struct {
	Choices []struct {
		Delta struct {
			Content string `json:"content"`
			Refusal string `json:"refusal"`
		} `json:"delta"`
	} `json:"choices"`
	Error *vendorError `json:"error"`
}

type vendorError struct {
	Message string `json:"message"`
	Type    string `json:"type"`
	Code    any    `json:"code"`
}

// Generate implements Engine.
func (o *OpenAI) Generate(ctx context.Context, req Request) <-chan Event {
	return runStream(ctx, vendorStream{
		open:          func(ctx context.Context) (io.ReadCloser, error) { return o.open(ctx, req) },
		delta:         openAIDelta,
		progressEvery: o.cfg.ProgressEvery,
	})
}

func (o *OpenAI) open(ctx context.Context, req Request) (io.ReadCloser, error) {
	system, user, err := buildPrompt(req)
	if err != nil {
		return nil, err
	}
	body := chatRequest{
		Model: o.cfg.Model,
		Messages: []chatMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		ResponseFormat: &responseFormat{
			Type:       "json_schema",
			JSONSchema: &jsonSchemaFormat{Name: "skincare_routine", Schema: routineSchema},
		},
		Temperature: o.cfg.Temperature,
		MaxTokens:   o.cfg.MaxTokens,
		Stream:      true,
	}
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(body); err != nil {
		return nil, err
	}

	hreq, err := http.NewRequestWithContext(ctx, http.MethodPost, o.cfg.BaseURL+"/v1/chat/completions", &buf)
	if err != nil {
		return nil, err
	}
	hreq.Header.Set("Authorization", "Bearer "+o.cfg.APIKey)
	hreq.Header.Set("Content-Type", "application/json")
	hreq.Header.Set("Accept", "text/event-stream")

	return doStream(o.cfg.HTTPClient, hreq, "openai")
}

func openAIDelta(data string) (string, error) {
	var chunk chatChunk
	if err := json.Unmarshal([]byte(data), &chunk); err != nil {
		// Keep-alive payloads and unknown frames carry no text.
		return "", nil
	}
	if chunk.Error != nil {
		return "", fmt.Errorf("openai stream error: %s (%s)", chunk.Error.Message, chunk.Error.Type)
	}
	if len(chunk.Choices) == 0 {
		return "", nil
	}
	d := chunk.Choices[0].Delta
	if strings.TrimSpace(d.Refusal) != "" {
		return "", fmt.Errorf("model refused: %s", d.Refusal)
	}
	return d.Content, nil
}

// httpStatusError keeps the vendor reply for logs; it never reaches users.
type httpStatusError struct {
	Vendor     string
	StatusCode int
	Body       string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("%s http %d: %s", e.Vendor, e.StatusCode, e.Body)
}

// doStream sends req and returns the body of a 2xx reply.
func doStream(client *http.Client, req *http.Request, vendor string) (io.ReadCloser, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		return resp.Body, nil
	}
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, 4<<10))
	_ = resp.Body.Close()
	return nil, &httpStatusError{Vendor: vendor, StatusCode: resp.StatusCode, Body: strings.TrimSpace(string(raw))}
}
