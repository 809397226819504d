package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/domain"
)

// ErrSessionNotFound is returned by Sessions.Get for unknown or expired ids.
var ErrSessionNotFound = errors.New("session not found")

// DefaultSessionTTL bounds how long a finished session stays inspectable.
const DefaultSessionTTL = 10 * time.Minute

// SessionKey returns the key holding a session record.
func SessionKey(id string) string { return "session:" + id }

// Sessions stores GenerationSession records as JSON strings.
type Sessions struct {
	store cache.Store
	ttl   time.Duration
	now   func() time.Time
}

func NewSessions(store cache.Store, ttl time.Duration) *Sessions {
	if ttl <= 0 {
		ttl = DefaultSessionTTL
	}
	return &Sessions{store: store, ttl: ttl, now: time.Now}
}

// Create stores s as a new active session, replacing any previous record
// under the same id.
func (ss *Sessions) Create(ctx context.Context, s domain.GenerationSession) (*domain.GenerationSession, error) {
	now := ss.now().UnixMilli()
	s.Status = domain.SessionActive
	s.Error = ""
	s.CreatedAt = now
	s.UpdatedAt = now
	if err := ss.put(ctx, &s); err != nil {
		return nil, err
	}
	return &s, nil
}

// Update moves a session to status. errMsg is recorded for error sessions.
func (ss *Sessions) Update(ctx context.Context, id string, status domain.SessionStatus, errMsg string) error {
	s, err := ss.Get(ctx, id)
	if err != nil {
		return err
	}
	s.Status = status
	s.Error = errMsg
	s.UpdatedAt = ss.now().UnixMilli()
	return ss.put(ctx, s)
}

// Get loads a session record.
func (ss *Sessions) Get(ctx context.Context, id string) (*domain.GenerationSession, error) {
	raw, ok, err := ss.store.Get(ctx, SessionKey(id))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	if !ok {
		return nil, ErrSessionNotFound
	}
	var s domain.GenerationSession
	if err := json.Unmarshal([]byte(raw), &s); err != nil {
		return nil, fmt.Errorf("decode session %s: %w", id, err)
	}
	return &s, nil
}

func (ss *Sessions) put(ctx context.Context, s *domain.GenerationSession) error {
	b, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if err := ss.store.Set(ctx, SessionKey(s.ID), string(b), ss.ttl); err != nil {
		return fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return nil
}
