package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	sqlite "github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/catalog"
	"github.com/tbourn/go-routine-backend/internal/channel"
	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/llm"
	"github.com/tbourn/go-routine-backend/internal/repo"
	"github.com/tbourn/go-routine-backend/internal/services"
)

// ---------- test plumbing ----------

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:handlers_%s?mode=memory&cache=shared", uuid.NewString())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := repo.AutoMigrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	return db
}

func testRecord() *domain.RoutineRecord {
	return &domain.RoutineRecord{
		Routine: domain.Routine{
			Morning: []domain.RoutineStep{{Step: 1, ProductName: "Gel Cleanser", ProductURL: "https://shop/1", Reasoning: "oil control", HowToUse: "massage"}},
			Evening: []domain.RoutineStep{{Step: 1, ProductName: "BHA Toner", ProductURL: "https://shop/2", Reasoning: "pores", HowToUse: "swipe"}},
		},
		GeneralNotes: []string{"wear sunscreen"},
	}
}

var testProducts = []domain.Product{
	{URL: "https://shop/1", Title: "Gel Cleanser", Category: "cleanser", CurrentPrice: 12, DiscountRate: 10},
	{URL: "https://shop/2", Title: "BHA Toner", Category: "toner", CurrentPrice: 20, DiscountRate: 30},
}

// gateEngine emits a status event and then completes, optionally waiting
// for gate to close first.
type gateEngine struct {
	rec   *domain.RoutineRecord
	gate  chan struct{}
	calls atomic.Int32
}

func (e *gateEngine) Generate(ctx context.Context, _ llm.Request) <-chan llm.Event {
	e.calls.Add(1)
	out := make(chan llm.Event, 4)
	go func() {
		defer close(out)
		out <- llm.Event{Kind: llm.KindStatus, Stage: "requesting"}
		if e.gate != nil {
			select {
			case <-e.gate:
			case <-ctx.Done():
				out <- llm.Event{Kind: llm.KindError, Err: &llm.Error{Kind: llm.ErrCancelled, Message: "stopped", Cause: ctx.Err()}}
				return
			}
		}
		out <- llm.Event{Kind: llm.KindComplete, Record: e.rec}
	}()
	return out
}

type testEnv struct {
	db      *gorm.DB
	svc     *services.RoutineService
	engine  *gateEngine
	h       *Handlers
	r       *gin.Engine
	release func()
}

// newEnv wires a real RoutineService on sqlite and the memory store, and
// mounts the handlers the way the router does. blocking makes the engine
// wait until env.release is called.
func newEnv(t *testing.T, opts Options, blocking bool, products ...domain.Product) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := newTestDB(t)
	if len(products) > 0 {
		if _, err := repo.UpsertProducts(context.Background(), db, append([]domain.Product(nil), products...)); err != nil {
			t.Fatalf("seed products: %v", err)
		}
	}

	store := cache.NewMemory()
	eng := &gateEngine{rec: testRecord()}
	var once sync.Once
	release := func() {}
	if blocking {
		eng.gate = make(chan struct{})
		release = func() { once.Do(func() { close(eng.gate) }) }
	}

	svc := &services.RoutineService{
		Cache:    store,
		Durable:  repo.RoutineStore{DB: db},
		Catalog:  catalog.DB{DB: db},
		Engine:   eng,
		Channel:  channel.New(store, time.Minute),
		Sessions: channel.NewSessions(store, time.Minute),
	}
	t.Cleanup(svc.Wait)
	t.Cleanup(release)

	if opts.SSE.PollInterval == 0 {
		opts.SSE.PollInterval = 5 * time.Millisecond
	}
	if opts.SSE.Grace == 0 {
		opts.SSE.Grace = 200 * time.Millisecond
	}
	h := New(svc, services.NewProductService(db, nil), nil, opts)
	return &testEnv{db: db, svc: svc, engine: eng, h: h, r: mount(h), release: release}
}

func mount(h *Handlers, pre ...gin.HandlerFunc) *gin.Engine {
	r := gin.New()
	r.Use(pre...)
	r.POST("/routine/generate", h.GenerateRoutine)
	r.GET("/routine", h.GetRoutine)
	r.GET("/routine/sessions/:sessionId", h.GetSession)
	r.DELETE("/routine/sessions/:sessionId", h.CancelSession)
	r.GET("/routine/channel/:sessionId", h.PollChannel)
	r.GET("/routine/stream/:sessionId", h.StreamChannel)
	r.GET("/products", h.ListProducts)
	r.POST("/products", h.UploadProducts)
	return r
}

func do(r http.Handler, method, target, body string, headers ...string) *httptest.ResponseRecorder {
	var rd *bytes.Buffer
	if body != "" {
		rd = bytes.NewBufferString(body)
	} else {
		rd = &bytes.Buffer{}
	}
	req := httptest.NewRequest(method, target, rd)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decode[T any](t *testing.T, w *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(w.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode %T: %v; body=%s", v, err, w.Body.String())
	}
	return v
}

func generateBody(sessionID string) string {
	return fmt.Sprintf(`{"sessionId":%q,"skinType":"Oily","skinConcern":"Acne","commitmentLevel":"Minimal"}`, sessionID)
}

// ---------- stub service for adapter edge cases ----------

type stubRoutines struct {
	readEvents func(ctx context.Context, id string, cursor, limit int) ([]domain.ChannelEvent, int, error)
	session    func(ctx context.Context, id string) (*domain.GenerationSession, error)
}

func (stubRoutines) Start(context.Context, services.GenerateRequest) (*services.StartResult, error) {
	return nil, services.ErrChannelUnavailable
}

func (stubRoutines) Lookup(context.Context, domain.RoutineKey) (*services.LookupResult, error) {
	return nil, services.ErrRoutineNotReady
}

func (stubRoutines) Stats(context.Context, domain.RoutineKey) (int64, *time.Time, error) {
	return 0, nil, nil
}

func (s stubRoutines) Session(ctx context.Context, id string) (*domain.GenerationSession, error) {
	if s.session != nil {
		return s.session(ctx, id)
	}
	return &domain.GenerationSession{ID: id, Status: domain.SessionActive}, nil
}

func (s stubRoutines) ReadEvents(ctx context.Context, id string, cursor, limit int) ([]domain.ChannelEvent, int, error) {
	if s.readEvents != nil {
		return s.readEvents(ctx, id, cursor, limit)
	}
	return nil, cursor, nil
}

func (stubRoutines) Cancel(string) error { return services.ErrSessionNotFound }
