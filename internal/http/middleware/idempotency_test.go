package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-routine-backend/internal/domain"
)

func TestIdempotencyHelpers_Defaults(t *testing.T) {
	gin.SetMode(gin.TestMode)
	c, _ := gin.CreateTestContext(httptest.NewRecorder())
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	if k, ok := GetIdempotencyKey(c); k != "" || ok {
		t.Fatalf("expected empty key when not set")
	}
	if IsReplay(c) {
		t.Fatalf("expected IsReplay=false by default")
	}
	c.Set(ctxKeyIdemKey, 123)
	if _, ok := GetIdempotencyKey(c); ok {
		t.Fatalf("non-string key must read as absent")
	}
	c.Set(ctxKeyIdemReplay, "yes")
	if IsReplay(c) {
		t.Fatalf("non-record replay value must read as false")
	}
	c.Set(ctxKeyIdemReplay, &domain.Idempotency{SessionID: "s"})
	if rec, ok := ReplayFrom(c); !ok || rec.SessionID != "s" {
		t.Fatalf("ReplayFrom = %v, %v", rec, ok)
	}
}

func TestIdempotencyValidator_SkipsWithoutHeaderOrOnSafeMethods(t *testing.T) {
	gin.SetMode(gin.TestMode)
	called := 0
	lookup := func(context.Context, string, string, string, time.Time) (*domain.Idempotency, error) {
		called++
		return nil, nil
	}
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/p", func(c *gin.Context) { c.Status(http.StatusNoContent) })
	r.GET("/g", func(c *gin.Context) {
		if _, ok := GetIdempotencyKey(c); ok {
			t.Errorf("GET must not stash a key")
		}
		c.Status(http.StatusNoContent)
	})

	r.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/p", nil))
	req := httptest.NewRequest(http.MethodGet, "/g", nil)
	req.Header.Set(HeaderIdempotencyKey, "k-1")
	r.ServeHTTP(httptest.NewRecorder(), req)

	if called != 0 {
		t.Fatalf("lookup called %d times", called)
	}
}

func TestIdempotencyValidator_RejectsBadKeys(t *testing.T) {
	gin.SetMode(gin.TestMode)
	cases := []struct {
		name string
		opts IdempotencyOptions
		key  string
	}{
		{"too long", IdempotencyOptions{MaxLen: 5}, "abcdef"},
		{"pattern", IdempotencyOptions{Pattern: regexp.MustCompile(`^[0-9]+$`)}, "abc123"},
		{"default pattern", IdempotencyOptions{}, "has space"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			r := gin.New()
			r.Use(IdempotencyValidator(tc.opts, nil))
			r.POST("/x", func(c *gin.Context) { c.Status(http.StatusOK) })

			w := httptest.NewRecorder()
			req := httptest.NewRequest(http.MethodPost, "/x", nil)
			req.Header.Set(HeaderIdempotencyKey, tc.key)
			r.ServeHTTP(w, req)

			if w.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", w.Code)
			}
			var body map[string]any
			if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
				t.Fatalf("invalid json: %v", err)
			}
			if body["code"] != "bad_idempotency_key" || body["success"] != false {
				t.Fatalf("unexpected body: %v", body)
			}
		})
	}
}

func TestIdempotencyValidator_LookupMissHitAndError(t *testing.T) {
	gin.SetMode(gin.TestMode)

	stored := &domain.Idempotency{SessionID: "sess-0001", Cached: true, Status: http.StatusOK}
	var gotScope, gotClient, gotKey string
	var result *domain.Idempotency
	var lookupErr error

	lookup := func(_ context.Context, clientID, scope, key string, now time.Time) (*domain.Idempotency, error) {
		gotClient, gotScope, gotKey = clientID, scope, key
		if now.IsZero() {
			t.Errorf("now not populated")
		}
		return result, lookupErr
	}

	var replay *domain.Idempotency
	var bypass bool
	r := gin.New()
	r.Use(IdempotencyValidator(IdempotencyOptions{}, lookup))
	r.POST("/api/v1/routine/generate", func(c *gin.Context) {
		replay, _ = ReplayFrom(c)
		bypass = IsRateBypass(c)
		c.Status(http.StatusOK)
	})

	do := func() {
		req := httptest.NewRequest(http.MethodPost, "/api/v1/routine/generate", nil)
		req.RemoteAddr = "203.0.113.9:1234"
		req.Header.Set(HeaderIdempotencyKey, "key-1")
		r.ServeHTTP(httptest.NewRecorder(), req)
	}

	do()
	if replay != nil || bypass {
		t.Fatalf("miss must not mark replay")
	}
	if gotScope != "POST /api/v1/routine/generate" || gotClient != "ip:203.0.113.9" || gotKey != "key-1" {
		t.Fatalf("lookup args = %q %q %q", gotClient, gotScope, gotKey)
	}

	result = stored
	do()
	if replay != stored || !bypass {
		t.Fatalf("hit must mark replay and bypass")
	}

	result, lookupErr = nil, errors.New("db down")
	do()
	if replay != nil || bypass {
		t.Fatalf("lookup errors must proceed as a new request")
	}
}
