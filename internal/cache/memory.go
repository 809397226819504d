package cache

import (
	"context"
	"strconv"
	"sync"
	"time"
)

type memEntry struct {
	str     string
	list    []string
	isList  bool
	expires time.Time // zero means no expiry
}

// MemoryStore is an in-process Store. Expired keys are evicted lazily on
// access and by a periodic sweep started with StartJanitor.
type MemoryStore struct {
	mu   sync.Mutex
	data map[string]*memEntry
	now  func() time.Time
}

// NewMemory returns an empty MemoryStore.
func NewMemory() *MemoryStore {
	return &MemoryStore{data: make(map[string]*memEntry), now: time.Now}
}

// StartJanitor evicts expired keys every interval until ctx is done.
func (m *MemoryStore) StartJanitor(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		t := time.NewTicker(interval)
		defer t.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-t.C:
				m.mu.Lock()
				now := m.now()
				for k, e := range m.data {
					if e.expired(now) {
						delete(m.data, k)
					}
				}
				m.mu.Unlock()
			}
		}
	}()
}

func (e *memEntry) expired(now time.Time) bool {
	return !e.expires.IsZero() && !now.Before(e.expires)
}

// lookup returns the live entry for key; the caller holds m.mu.
func (m *MemoryStore) lookup(key string) *memEntry {
	e, ok := m.data[key]
	if !ok {
		return nil
	}
	if e.expired(m.now()) {
		delete(m.data, key)
		return nil
	}
	return e
}

func (m *MemoryStore) Get(_ context.Context, key string) (string, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return "", false, nil
	}
	if e.isList {
		return "", false, ErrWrongType
	}
	return e.str, true, nil
}

func (m *MemoryStore) Set(_ context.Context, key, value string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := &memEntry{str: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data[key] = e
	return nil
}

func (m *MemoryStore) SetNX(_ context.Context, key, value string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.lookup(key) != nil {
		return false, nil
	}
	e := &memEntry{str: value}
	if ttl > 0 {
		e.expires = m.now().Add(ttl)
	}
	m.data[key] = e
	return true, nil
}

func (m *MemoryStore) Del(_ context.Context, keys ...string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, k := range keys {
		delete(m.data, k)
	}
	return nil
}

func (m *MemoryStore) Expire(_ context.Context, key string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return nil
	}
	if ttl <= 0 {
		delete(m.data, key)
		return nil
	}
	e.expires = m.now().Add(ttl)
	return nil
}

func (m *MemoryStore) Incr(_ context.Context, key string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		m.data[key] = &memEntry{str: "1"}
		return 1, nil
	}
	if e.isList {
		return 0, ErrWrongType
	}
	n, err := strconv.ParseInt(e.str, 10, 64)
	if err != nil {
		return 0, ErrWrongType
	}
	n++
	e.str = strconv.FormatInt(n, 10)
	return n, nil
}

func (m *MemoryStore) RPush(_ context.Context, key string, values ...string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		e = &memEntry{isList: true}
		m.data[key] = e
	}
	if !e.isList {
		return 0, ErrWrongType
	}
	e.list = append(e.list, values...)
	return int64(len(e.list)), nil
}

// LRange follows Redis index rules: negative indexes count from the tail and
// out-of-range bounds are clamped.
func (m *MemoryStore) LRange(_ context.Context, key string, start, stop int64) ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e := m.lookup(key)
	if e == nil {
		return []string{}, nil
	}
	if !e.isList {
		return nil, ErrWrongType
	}
	n := int64(len(e.list))
	if start < 0 {
		start += n
	}
	if stop < 0 {
		stop += n
	}
	if start < 0 {
		start = 0
	}
	if stop >= n {
		stop = n - 1
	}
	if start > stop || start >= n {
		return []string{}, nil
	}
	out := make([]string, stop-start+1)
	copy(out, e.list[start:stop+1])
	return out, nil
}

func (m *MemoryStore) Ping(context.Context) error { return nil }

func (m *MemoryStore) Close() error { return nil }
