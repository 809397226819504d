// Package channel implements the per-session event log that relays routine
// generation progress to poll and SSE clients.
//
// Events are appended with RPUSH to "channel:<sessionId>" and read by index
// with LRANGE, so a cursor is simply the number of events already consumed.
// The list TTL is refreshed on every append.
package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/observability"
)

// ErrUnavailable wraps Cache Store failures on the read path.
var ErrUnavailable = errors.New("event channel unavailable")

const (
	DefaultTTL       = 5 * time.Minute
	DefaultBatchSize = 100
	MaxBatchSize     = 500
)

// Key returns the list key holding a session's events.
func Key(sessionID string) string { return "channel:" + sessionID }

// Channel appends and reads session events.
type Channel struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

// New returns a Channel that keeps each session log for ttl after its last
// append. A non-positive ttl selects DefaultTTL.
func New(store cache.Store, ttl time.Duration) *Channel {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &Channel{store: store, ttl: ttl, now: time.Now}
}

// Append encodes data as the event payload and pushes it onto the session's
// log.
func (c *Channel) Append(ctx context.Context, sessionID string, event domain.EventName, data any) error {
	raw, err := json.Marshal(data)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}
	ev := domain.ChannelEvent{Event: event, Data: raw, Timestamp: c.now().UnixMilli()}
	b, err := json.Marshal(ev)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}
	key := Key(sessionID)
	if _, err := c.store.RPush(ctx, key, string(b)); err != nil {
		return fmt.Errorf("rpush %s: %w", key, err)
	}
	if err := c.store.Expire(ctx, key, c.ttl); err != nil {
		return fmt.Errorf("expire %s: %w", key, err)
	}
	return nil
}

// Emit is Append for the generation path: failures are logged and counted,
// never returned. Progress delivery must not abort a generation.
func (c *Channel) Emit(ctx context.Context, sessionID string, event domain.EventName, data any) {
	if err := c.Append(ctx, sessionID, event, data); err != nil {
		observability.ChannelEmitErrors.Inc()
		log.Warn().Err(err).
			Str("session_id", sessionID).
			Str("event", string(event)).
			Msg("channel emit failed")
	}
}

// ReadBatch returns up to max events starting at cursor together with the
// cursor to use next. Reading past the end yields an empty batch and
// next == cursor. A negative cursor is treated as 0.
func (c *Channel) ReadBatch(ctx context.Context, sessionID string, cursor, max int) ([]domain.ChannelEvent, int, error) {
	if cursor < 0 {
		cursor = 0
	}
	if max <= 0 {
		max = DefaultBatchSize
	}
	if max > MaxBatchSize {
		max = MaxBatchSize
	}
	raw, err := c.store.LRange(ctx, Key(sessionID), int64(cursor), int64(cursor+max-1))
	if err != nil {
		return nil, cursor, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	events := make([]domain.ChannelEvent, 0, len(raw))
	for _, s := range raw {
		events = append(events, decodeEvent(s))
	}
	return events, cursor + len(events), nil
}

// Clear drops a session's event log.
func (c *Channel) Clear(ctx context.Context, sessionID string) error {
	if err := c.store.Del(ctx, Key(sessionID)); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}

// decodeEvent never fails: an undecodable entry still occupies a cursor
// slot, so it surfaces as a warning instead of shifting later indexes.
func decodeEvent(s string) domain.ChannelEvent {
	var ev domain.ChannelEvent
	if err := json.Unmarshal([]byte(s), &ev); err != nil || ev.Event == "" {
		data, _ := json.Marshal(domain.Notice{Code: "malformed_event", Message: "An event could not be read"})
		return domain.ChannelEvent{Event: domain.EventWarning, Data: data}
	}
	if len(ev.Data) == 0 {
		ev.Data = json.RawMessage("null")
	}
	return ev
}
