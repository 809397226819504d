package channel

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/domain"
)

// failingStore fails every call once broken is set.
type failingStore struct {
	cache.Store
	mu     sync.Mutex
	broken bool
}

var errBoom = errors.New("boom")

func (f *failingStore) fail() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.broken
}

func (f *failingStore) RPush(ctx context.Context, key string, v ...string) (int64, error) {
	if f.fail() {
		return 0, errBoom
	}
	return f.Store.RPush(ctx, key, v...)
}

func (f *failingStore) LRange(ctx context.Context, key string, a, b int64) ([]string, error) {
	if f.fail() {
		return nil, errBoom
	}
	return f.Store.LRange(ctx, key, a, b)
}

func (f *failingStore) Get(ctx context.Context, key string) (string, bool, error) {
	if f.fail() {
		return "", false, errBoom
	}
	return f.Store.Get(ctx, key)
}

func emitN(t *testing.T, c *Channel, id string, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if err := c.Append(context.Background(), id, domain.EventChunk, map[string]int{"i": i}); err != nil {
			t.Fatalf("Append #%d: %v", i, err)
		}
	}
}

func TestReadBatch_CursorSemantics(t *testing.T) {
	c := New(cache.NewMemory(), 0)
	ctx := context.Background()
	emitN(t, c, "session-a", 7)

	evs, next, err := c.ReadBatch(ctx, "session-a", 0, 3)
	if err != nil || len(evs) != 3 || next != 3 {
		t.Fatalf("first batch: len=%d next=%d err=%v", len(evs), next, err)
	}
	evs, next, _ = c.ReadBatch(ctx, "session-a", next, 100)
	if len(evs) != 4 || next != 7 {
		t.Fatalf("second batch: len=%d next=%d", len(evs), next)
	}

	// past the end
	evs, next, err = c.ReadBatch(ctx, "session-a", 7, 10)
	if err != nil || len(evs) != 0 || next != 7 {
		t.Fatalf("past end: len=%d next=%d err=%v", len(evs), next, err)
	}

	// unknown session behaves like an empty log
	evs, next, _ = c.ReadBatch(ctx, "session-unknown", 0, 10)
	if len(evs) != 0 || next != 0 {
		t.Fatalf("unknown session: len=%d next=%d", len(evs), next)
	}

	// negative cursor is clamped
	_, next, _ = c.ReadBatch(ctx, "session-a", -5, 2)
	if next != 2 {
		t.Fatalf("negative cursor next=%d; want 2", next)
	}
}

func TestReadBatch_IdempotentAndOrdered(t *testing.T) {
	c := New(cache.NewMemory(), 0)
	ctx := context.Background()
	emitN(t, c, "session-b", 5)

	a, _, _ := c.ReadBatch(ctx, "session-b", 1, 10)
	b, _, _ := c.ReadBatch(ctx, "session-b", 1, 10)
	if len(a) != len(b) {
		t.Fatalf("repeat read length differs: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if string(a[i].Data) != string(b[i].Data) || a[i].Event != b[i].Event {
			t.Fatalf("repeat read differs at %d", i)
		}
		var p struct{ I int }
		_ = json.Unmarshal(a[i].Data, &p)
		if p.I != i+1 {
			t.Fatalf("event %d has i=%d; want %d", i, p.I, i+1)
		}
	}
}

func TestClear_ResetsLog(t *testing.T) {
	c := New(cache.NewMemory(), 0)
	ctx := context.Background()
	emitN(t, c, "session-c", 3)
	if err := c.Clear(ctx, "session-c"); err != nil {
		t.Fatalf("Clear: %v", err)
	}
	evs, next, _ := c.ReadBatch(ctx, "session-c", 0, 10)
	if len(evs) != 0 || next != 0 {
		t.Fatalf("after clear: len=%d next=%d", len(evs), next)
	}
}

func TestAppend_RefreshesTTL(t *testing.T) {
	m := cache.NewMemory()
	c := New(m, time.Minute)
	if err := c.Append(context.Background(), "session-d", domain.EventStatus, map[string]string{"stage": "started"}); err != nil {
		t.Fatal(err)
	}
	got, _ := m.LRange(context.Background(), Key("session-d"), 0, -1)
	if len(got) != 1 {
		t.Fatalf("expected one raw entry, got %d", len(got))
	}
	var ev domain.ChannelEvent
	if err := json.Unmarshal([]byte(got[0]), &ev); err != nil {
		t.Fatalf("decode raw: %v", err)
	}
	if ev.Event != domain.EventStatus || ev.Timestamp == 0 {
		t.Fatalf("unexpected raw event %+v", ev)
	}
}

func TestEmit_SwallowsStoreErrors(t *testing.T) {
	fs := &failingStore{Store: cache.NewMemory(), broken: true}
	c := New(fs, 0)
	// must not panic or block
	c.Emit(context.Background(), "session-e", domain.EventChunk, map[string]int{"n": 1})

	if _, _, err := c.ReadBatch(context.Background(), "session-e", 0, 10); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("ReadBatch err = %v; want ErrUnavailable", err)
	}
}

func TestReadBatch_MalformedEntryKeepsCursor(t *testing.T) {
	m := cache.NewMemory()
	c := New(m, 0)
	ctx := context.Background()
	emitN(t, c, "session-f", 1)
	_, _ = m.RPush(ctx, Key("session-f"), "{not json")
	emitN(t, c, "session-f", 1)

	evs, next, err := c.ReadBatch(ctx, "session-f", 0, 10)
	if err != nil || len(evs) != 3 || next != 3 {
		t.Fatalf("len=%d next=%d err=%v", len(evs), next, err)
	}
	if evs[1].Event != domain.EventWarning {
		t.Fatalf("malformed entry surfaced as %q", evs[1].Event)
	}
}

func TestSessions_Lifecycle(t *testing.T) {
	ss := NewSessions(cache.NewMemory(), 0)
	ctx := context.Background()

	if _, err := ss.Get(ctx, "missing-session"); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Get(missing) = %v", err)
	}
	created, err := ss.Create(ctx, domain.GenerationSession{
		ID:  "session-g",
		Key: domain.RoutineKey{SkinType: "Dry", SkinConcern: "Redness"},
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if created.Status != domain.SessionActive || created.CreatedAt == 0 {
		t.Fatalf("unexpected created session %+v", created)
	}
	if err := ss.Update(ctx, "session-g", domain.SessionError, "Routine generation timed out"); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, err := ss.Get(ctx, "session-g")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.Status != domain.SessionError || got.Error == "" || got.Key.SkinType != "Dry" {
		t.Fatalf("unexpected session %+v", got)
	}
	if err := ss.Update(ctx, "nope-nope", domain.SessionCompleted, ""); !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("Update(missing) = %v", err)
	}
}

func TestSessions_StoreFailure(t *testing.T) {
	fs := &failingStore{Store: cache.NewMemory(), broken: true}
	ss := NewSessions(fs, 0)
	if _, err := ss.Get(context.Background(), "session-h"); !errors.Is(err, ErrUnavailable) {
		t.Fatalf("Get err = %v; want ErrUnavailable", err)
	}
}
