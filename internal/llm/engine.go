// Package llm turns a catalog, a routine key and a skin profile into a
// structured routine by streaming a completion from a hosted model.
//
// Every Engine reports progress as a channel of Events that ends with
// exactly one terminal event (complete or error) and is then closed.
// Consumers must drain the channel or cancel the context; after
// cancellation the engine stops sending without blocking.
package llm

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

// Engine generates one routine per call.
type Engine interface {
	Generate(ctx context.Context, req Request) <-chan Event
}

// Request is the input to a generation.
type Request struct {
	Key      domain.RoutineKey
	Params   domain.GenerationParams
	Products []domain.Product
	Profile  *domain.SkinProfile // optional
}

// EventKind discriminates Event.
type EventKind string

const (
	KindStatus   EventKind = "status"
	KindChunk    EventKind = "chunk"
	KindComplete EventKind = "complete"
	KindError    EventKind = "error"
)

// Progress is the coarse progress carried by chunk events.
type Progress struct {
	ChunksReceived int `json:"chunksReceived"`
	BytesReceived  int `json:"bytesReceived"`
}

// Event is one item of a generation stream.
type Event struct {
	Kind     EventKind
	Stage    string                // status
	Progress *Progress             // chunk
	Record   *domain.RoutineRecord // complete
	Err      *Error                // error
}

// Terminal reports whether the event ends the stream.
func (e Event) Terminal() bool { return e.Kind == KindComplete || e.Kind == KindError }

// ErrorKind classifies generation failures.
type ErrorKind string

const (
	ErrVendor    ErrorKind = "vendor"
	ErrParse     ErrorKind = "parse"
	ErrTimeout   ErrorKind = "timeout"
	ErrCancelled ErrorKind = "cancelled"
)

// Error is the payload of an error event. Message is safe to show to end
// users; Cause may carry vendor detail and is only logged.
type Error struct {
	Kind    ErrorKind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("llm %s: %v", e.Kind, e.Cause)
	}
	return "llm " + string(e.Kind) + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Cause }

var userMessages = map[ErrorKind]string{
	ErrVendor:    "The routine generator is unavailable right now. Please try again.",
	ErrParse:     "The generated routine could not be read. Please try again.",
	ErrTimeout:   "Routine generation timed out.",
	ErrCancelled: "Routine generation was cancelled.",
}

func newError(kind ErrorKind, cause error) *Error {
	return &Error{Kind: kind, Message: userMessages[kind], Cause: cause}
}

// Config configures the hosted engines.
type Config struct {
	Provider      string // openai | gemini
	APIKey        string
	BaseURL       string
	Model         string
	MaxTokens     int
	Temperature   float64
	ProgressEvery int
	HTTPClient    *http.Client
}

const defaultProgressEvery = 10

// New returns the engine for cfg.Provider.
func New(cfg Config) (Engine, error) {
	switch strings.ToLower(strings.TrimSpace(cfg.Provider)) {
	case "", "openai":
		return NewOpenAI(cfg)
	case "gemini":
		return NewGemini(cfg)
	default:
		return nil, fmt.Errorf("unsupported LLM_PROVIDER %q", cfg.Provider)
	}
}

func (c *Config) applyDefaults(baseURL, model string) {
	if strings.TrimSpace(c.BaseURL) == "" {
		c.BaseURL = baseURL
	}
	c.BaseURL = strings.TrimRight(c.BaseURL, "/")
	if strings.TrimSpace(c.Model) == "" {
		c.Model = model
	}
	if c.MaxTokens <= 0 {
		c.MaxTokens = 5000
	}
	if c.ProgressEvery <= 0 {
		c.ProgressEvery = defaultProgressEvery
	}
	if c.HTTPClient == nil {
		// No client timeout: streams are bounded by the caller's context.
		c.HTTPClient = &http.Client{Transport: &http.Transport{
			Proxy:                 http.ProxyFromEnvironment,
			ResponseHeaderTimeout: 60 * time.Second,
			IdleConnTimeout:       90 * time.Second,
			MaxIdleConnsPerHost:   4,
		}}
	}
}
