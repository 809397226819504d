package services

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-routine-backend/internal/channel"
	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/llm"
)

// Source tells where a resolved routine came from.
type Source string

const (
	SourceCache      Source = "cache"
	SourceDatabase   Source = "database"
	SourceGeneration Source = "generated"
)

// emitter is the single writer of one session's event channel. Once a
// terminal event is written it only lets warnings through.
type emitter struct {
	ch        *channel.Channel
	sessionID string

	mu       sync.Mutex
	terminal domain.EventName
}

func newEmitter(ch *channel.Channel, sessionID string) *emitter {
	return &emitter{ch: ch, sessionID: sessionID}
}

// emit appends the event and reports whether it was accepted. Appends are
// detached from ctx so a cancelled caller can still record its outcome.
func (e *emitter) emit(ctx context.Context, ev domain.EventName, data any) bool {
	if e == nil || e.ch == nil || e.sessionID == "" {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()

	if e.terminal != "" && ev != domain.EventWarning {
		log.Debug().
			Str("session_id", e.sessionID).
			Str("event", string(ev)).
			Str("terminal", string(e.terminal)).
			Msg("dropping event after terminal")
		return false
	}
	if ev.IsTerminal() {
		e.terminal = ev
	}
	e.ch.Emit(context.WithoutCancel(ctx), e.sessionID, ev, data)
	return true
}

func (e *emitter) status(ctx context.Context, stage string, extra map[string]any) {
	data := map[string]any{"stage": stage}
	for k, v := range extra {
		data[k] = v
	}
	e.emit(ctx, domain.EventStatus, data)
}

func (e *emitter) chunk(ctx context.Context, p *llm.Progress) {
	if p == nil {
		p = &llm.Progress{}
	}
	e.emit(ctx, domain.EventChunk, p)
}

// CompletePayload is the data of a complete event.
type CompletePayload struct {
	Source  Source                `json:"source"`
	Routine *domain.RoutineRecord `json:"routine"`
}

func (e *emitter) complete(ctx context.Context, src Source, rec *domain.RoutineRecord) bool {
	return e.emit(ctx, domain.EventComplete, CompletePayload{Source: src, Routine: rec})
}

func (e *emitter) fail(ctx context.Context, err error) bool {
	return e.emit(ctx, domain.EventError, ErrorNotice(err))
}

func (e *emitter) warn(ctx context.Context, n domain.Notice) {
	e.emit(ctx, domain.EventWarning, n)
}

func (e *emitter) terminated() bool {
	if e == nil {
		return false
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.terminal != ""
}
