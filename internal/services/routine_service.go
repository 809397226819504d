// Package services – RoutineService
//
// RoutineService resolves a (skinType, skinConcern) key to a routine. It
// consults the cache, then the durable store, and only then drives one
// generation through the configured engine, relaying its progress to the
// session's event channel and persisting the result.
//
// Observability: public methods are OpenTelemetry-instrumented and the
// resolution path updates the routine Prometheus collectors.
package services

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-routine-backend/internal/cache"
	"github.com/tbourn/go-routine-backend/internal/catalog"
	"github.com/tbourn/go-routine-backend/internal/channel"
	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/llm"
	"github.com/tbourn/go-routine-backend/internal/observability"
	"github.com/tbourn/go-routine-backend/internal/repo"

	// OpenTelemetry
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DurableStore is the append-only routine history.
type DurableStore interface {
	FindLatest(ctx context.Context, key domain.RoutineKey) (*repo.StoredRoutine, error)
	Insert(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, rec *domain.RoutineRecord) (string, error)
}

// ProfileMatcher picks the skin profile that guides a generation.
type ProfileMatcher interface {
	Match(key domain.RoutineKey, params domain.GenerationParams) *domain.SkinProfile
}

// DedupPolicy controls whether concurrent sessions for the same key share
// one generation.
type DedupPolicy string

const (
	DedupNone         DedupPolicy = "none"
	DedupSingleflight DedupPolicy = "singleflight"
)

const (
	DefaultCacheTTL          = time.Hour
	DefaultGenerationTimeout = 90 * time.Second
	DefaultProductLimit      = 200
	DefaultShortlistSize     = 60

	backfillTimeout = 5 * time.Second
)

// RoutineService coordinates the stores, the catalog and the engine.
type RoutineService struct {
	Cache    cache.Store
	Durable  DurableStore
	Catalog  catalog.Provider
	Engine   llm.Engine
	Channel  *channel.Channel
	Sessions *channel.Sessions
	Profiles ProfileMatcher // optional

	CacheTTL          time.Duration
	GenerationTimeout time.Duration
	ProductLimit      int
	ShortlistSize     int
	Dedup             DedupPolicy

	wg sync.WaitGroup

	mu     sync.Mutex
	runs   map[string]*Run
	shared map[string]*sharedGen // by cache key
}

// sharedGen is one generation that several sessions for the same key wait
// on. It is cancelled when its last waiter leaves.
type sharedGen struct {
	ctx     context.Context
	cancel  context.CancelFunc
	waiters int
	done    chan struct{}
	out     *Outcome
	err     error
}

// Outcome is the result of a resolution.
type Outcome struct {
	Source   Source
	Record   *domain.RoutineRecord
	RecordID string // durable id, empty for cache hits

	// DurabilityErr wraps ErrDurabilityWriteFailure when a generated routine
	// was delivered but not stored.
	DurabilityErr error
	Elapsed       time.Duration
}

// prefetch carries lookups Start already made so that the background
// resolution does not repeat them.
type prefetch struct {
	source   Source
	record   *domain.RoutineRecord
	recordID string
	products []domain.Product
}

// Resolve normalizes key and resolves it, writing progress to sessionID's
// event channel. An empty sessionID resolves without emitting events.
func (s *RoutineService) Resolve(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, sessionID string) (*Outcome, error) {
	tr := otel.Tracer("services/RoutineService")
	ctx, span := tr.Start(ctx, "Resolve",
		trace.WithAttributes(attribute.String("session.id", sessionID)),
	)
	defer span.End()

	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("routine.key", key.CacheKey()))

	out, err := s.resolve(ctx, key, params, newEmitter(s.Channel, sessionID), nil)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.String("routine.source", string(out.Source)))
	return out, nil
}

func (s *RoutineService) resolve(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, em *emitter, pre *prefetch) (*Outcome, error) {
	start := time.Now()
	if pre == nil {
		pre = s.peek(ctx, key)
	}

	var (
		out *Outcome
		err error
	)
	if pre.record != nil {
		if pre.source == SourceCache {
			em.status(ctx, "cache_hit", nil)
		}
		em.complete(ctx, pre.source, pre.record)
		if pre.source == SourceDatabase {
			s.backfill(key, pre.record)
		}
		out = &Outcome{Source: pre.source, Record: pre.record, RecordID: pre.recordID}
	} else {
		out, err = s.generate(ctx, key, params, em, pre.products)
	}

	if err != nil {
		observability.RoutineResolves.WithLabelValues("failed").Inc()
		return nil, err
	}
	out.Elapsed = time.Since(start)
	observability.RoutineResolves.WithLabelValues(string(out.Source)).Inc()
	return out, nil
}

// peek looks key up in the cache and then in the durable store. Read
// failures are logged and count as misses.
func (s *RoutineService) peek(ctx context.Context, key domain.RoutineKey) *prefetch {
	if rec := s.cached(ctx, key); rec != nil {
		return &prefetch{source: SourceCache, record: rec}
	}
	stored, err := s.Durable.FindLatest(ctx, key)
	if err != nil {
		log.Warn().Err(err).Str("key", key.CacheKey()).Msg("durable lookup failed, treating as miss")
		return &prefetch{}
	}
	if stored == nil || stored.Record == nil {
		return &prefetch{}
	}
	return &prefetch{source: SourceDatabase, record: stored.Record, recordID: stored.ID}
}

func (s *RoutineService) cached(ctx context.Context, key domain.RoutineKey) *domain.RoutineRecord {
	raw, ok, err := s.Cache.Get(ctx, key.CacheKey())
	if err != nil {
		log.Warn().Err(err).Str("key", key.CacheKey()).Msg("cache read failed, treating as miss")
		return nil
	}
	if !ok {
		return nil
	}
	var rec domain.RoutineRecord
	if err := json.Unmarshal([]byte(raw), &rec); err != nil {
		log.Warn().Err(err).Str("key", key.CacheKey()).Msg("undecodable cached routine ignored")
		return nil
	}
	return &rec
}

func (s *RoutineService) encodeForCache(key domain.RoutineKey, rec *domain.RoutineRecord) (string, time.Duration, bool) {
	b, err := json.Marshal(rec)
	if err != nil {
		log.Error().Err(err).Str("key", key.CacheKey()).Msg("encode routine for cache")
		return "", 0, false
	}
	ttl := s.CacheTTL
	if ttl <= 0 {
		ttl = DefaultCacheTTL
	}
	return string(b), ttl, true
}

func (s *RoutineService) writeCache(ctx context.Context, key domain.RoutineKey, rec *domain.RoutineRecord) {
	v, ttl, ok := s.encodeForCache(key, rec)
	if !ok {
		return
	}
	if err := s.Cache.Set(ctx, key.CacheKey(), v, ttl); err != nil {
		log.Warn().Err(err).Str("key", key.CacheKey()).Msg("cache write failed")
	}
}

// backfill copies a durable record into the cache off the request path.
// It never replaces an entry, so a newer generated routine written in the
// meantime wins.
func (s *RoutineService) backfill(key domain.RoutineKey, rec *domain.RoutineRecord) {
	v, ttl, ok := s.encodeForCache(key, rec)
	if !ok {
		return
	}
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
		defer cancel()
		if _, err := s.Cache.SetNX(ctx, key.CacheKey(), v, ttl); err != nil {
			log.Warn().Err(err).Str("key", key.CacheKey()).Msg("cache backfill failed")
		}
	}()
}

func (s *RoutineService) productLimit(params domain.GenerationParams) int {
	switch {
	case params.Limit > repo.MaxProductLimit:
		return repo.MaxProductLimit
	case params.Limit > 0:
		return params.Limit
	case s.ProductLimit > 0:
		return s.ProductLimit
	default:
		return DefaultProductLimit
	}
}

func (s *RoutineService) loadProducts(ctx context.Context, params domain.GenerationParams) ([]domain.Product, error) {
	products, err := s.Catalog.ListProducts(ctx, s.productLimit(params))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCatalogUnavailable, err)
	}
	if len(products) == 0 {
		return nil, ErrNoProductsAvailable
	}
	return products, nil
}

func (s *RoutineService) generate(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, em *emitter, products []domain.Product) (*Outcome, error) {
	if s.Dedup == DedupSingleflight {
		return s.generateShared(ctx, key, params, em, products)
	}
	return s.produce(ctx, key, params, em, products)
}

// generateShared lets concurrent sessions for one key wait on a single
// generation. The caller that starts it persists the result; the others
// only receive it.
func (s *RoutineService) generateShared(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, em *emitter, products []domain.Product) (*Outcome, error) {
	ck := key.CacheKey()
	g, leader := s.joinShared(ctx, ck)
	defer s.leaveShared(ck, g)

	if leader {
		go func() {
			defer s.wg.Done()
			defer g.cancel()
			out, err := s.produce(g.ctx, key, params, em, products)
			s.mu.Lock()
			if s.shared[ck] == g {
				delete(s.shared, ck)
			}
			g.out, g.err = out, err
			s.mu.Unlock()
			close(g.done)
		}()
	} else {
		em.status(ctx, "joined", nil)
	}

	select {
	case <-g.done:
		if leader {
			return g.out, g.err
		}
		if g.err != nil {
			em.fail(ctx, g.err)
			return nil, g.err
		}
		em.complete(ctx, SourceGeneration, g.out.Record)
		return &Outcome{Source: SourceGeneration, Record: g.out.Record, RecordID: g.out.RecordID}, nil
	case <-ctx.Done():
		err := waitError(ctx)
		em.fail(ctx, err)
		return nil, err
	}
}

// joinShared registers the caller on the generation for ck, creating it
// when none is running. leader is true for the creator, which must start
// the producer; the wait group already counts it.
func (s *RoutineService) joinShared(ctx context.Context, ck string) (g *sharedGen, leader bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.shared[ck]; ok {
		cur.waiters++
		return cur, false
	}
	if s.shared == nil {
		s.shared = make(map[string]*sharedGen)
	}
	gctx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	g = &sharedGen{ctx: gctx, cancel: cancel, waiters: 1, done: make(chan struct{})}
	s.shared[ck] = g
	s.wg.Add(1)
	return g, true
}

func (s *RoutineService) leaveShared(ck string, g *sharedGen) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g.waiters--
	if g.waiters > 0 {
		return
	}
	// Nobody is left to deliver to; a later session starts afresh.
	if s.shared[ck] == g {
		delete(s.shared, ck)
	}
	g.cancel()
}

func waitError(ctx context.Context) error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %v", ErrGenerationTimeout, ctx.Err())
	}
	return fmt.Errorf("%w: %v", ErrGenerationCancelled, ctx.Err())
}

// produce runs one generation: catalog snapshot, engine, then the durable
// and cache writes.
func (s *RoutineService) produce(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, em *emitter, products []domain.Product) (*Outcome, error) {
	em.status(ctx, "started", nil)
	if products == nil {
		var err error
		if products, err = s.loadProducts(ctx, params); err != nil {
			em.fail(ctx, err)
			return nil, err
		}
	}
	em.status(ctx, "products_loaded", map[string]any{"count": len(products)})

	rec, err := s.runEngine(ctx, s.buildRequest(key, params, products), em)
	if err != nil {
		log.Warn().Err(err).Str("key", key.CacheKey()).Str("session_id", em.sessionID).Msg("routine generation failed")
		em.fail(ctx, err)
		return nil, err
	}

	em.complete(ctx, SourceGeneration, rec)
	out := &Outcome{Source: SourceGeneration, Record: rec}
	s.persist(ctx, key, params, out, em)
	return out, nil
}

func (s *RoutineService) buildRequest(key domain.RoutineKey, params domain.GenerationParams, products []domain.Product) llm.Request {
	var profile *domain.SkinProfile
	if s.Profiles != nil {
		profile = s.Profiles.Match(key, params)
	}
	n := s.ShortlistSize
	if n <= 0 {
		n = DefaultShortlistSize
	}
	return llm.Request{
		Key:      key,
		Params:   params,
		Products: catalog.Shortlist(catalog.Filter(products, params), key, profile, n),
		Profile:  profile,
	}
}

// runEngine relays engine progress in arrival order and returns the
// routine or a classified error. The engine is always drained.
func (s *RoutineService) runEngine(ctx context.Context, req llm.Request, em *emitter) (*domain.RoutineRecord, error) {
	timeout := s.GenerationTimeout
	if timeout <= 0 {
		timeout = DefaultGenerationTimeout
	}
	gctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	tr := otel.Tracer("services/RoutineService")
	gctx, span := tr.Start(gctx, "Generate",
		trace.WithAttributes(
			attribute.String("routine.key", req.Key.CacheKey()),
			attribute.Int("products.count", len(req.Products)),
		),
	)
	defer span.End()

	start := time.Now()
	var (
		rec  *domain.RoutineRecord
		gerr *llm.Error
	)
	for ev := range s.Engine.Generate(gctx, req) {
		if rec != nil || gerr != nil {
			continue
		}
		switch ev.Kind {
		case llm.KindStatus:
			em.status(ctx, ev.Stage, nil)
		case llm.KindChunk:
			em.chunk(ctx, ev.Progress)
		case llm.KindComplete:
			if ev.Record == nil {
				gerr = &llm.Error{Kind: llm.ErrParse, Cause: errors.New("complete event without routine")}
				continue
			}
			rec = ev.Record
		case llm.KindError:
			gerr = ev.Err
			if gerr == nil {
				gerr = &llm.Error{Kind: llm.ErrVendor, Cause: errors.New("error event without detail")}
			}
		}
	}
	if rec == nil && gerr == nil {
		gerr = abortError(gctx)
	}

	outcome := "ok"
	var err error
	if gerr != nil {
		outcome = string(gerr.Kind)
		err = classify(gerr)
		span.RecordError(err)
		span.SetStatus(codes.Error, outcome)
	}
	observability.GenerationDuration.WithLabelValues(outcome).Observe(time.Since(start).Seconds())
	return rec, err
}

// abortError explains an engine stream that closed without a terminal event.
func abortError(ctx context.Context) *llm.Error {
	switch {
	case errors.Is(ctx.Err(), context.DeadlineExceeded):
		return &llm.Error{Kind: llm.ErrTimeout, Cause: ctx.Err()}
	case ctx.Err() != nil:
		return &llm.Error{Kind: llm.ErrCancelled, Cause: ctx.Err()}
	default:
		return &llm.Error{Kind: llm.ErrVendor, Cause: errors.New("engine stream closed without a result")}
	}
}

func classify(e *llm.Error) error {
	switch e.Kind {
	case llm.ErrTimeout:
		return fmt.Errorf("%w: %w", ErrGenerationTimeout, e)
	case llm.ErrParse:
		return fmt.Errorf("%w: %w", ErrGenerationParseFailure, e)
	case llm.ErrCancelled:
		return fmt.Errorf("%w: %w", ErrGenerationCancelled, e)
	default:
		return fmt.Errorf("%w: %w", ErrVendor, e)
	}
}

// persist writes a generated routine to the durable store and, only when
// that succeeds, to the cache. A durable failure becomes a warning event.
func (s *RoutineService) persist(ctx context.Context, key domain.RoutineKey, params domain.GenerationParams, out *Outcome, em *emitter) {
	wctx := context.WithoutCancel(ctx)
	id, err := s.Durable.Insert(wctx, key, params, out.Record)
	if err != nil {
		observability.DurabilityFailures.Inc()
		out.DurabilityErr = fmt.Errorf("%w: %v", ErrDurabilityWriteFailure, err)
		log.Error().Err(err).Str("key", key.CacheKey()).Str("session_id", em.sessionID).Msg("durable write failed")
		em.warn(ctx, ErrorNotice(out.DurabilityErr))
		return
	}
	out.RecordID = id
	s.writeCache(wctx, key, out.Record)
}

// LookupResult is a stored routine and where it was found.
type LookupResult struct {
	Record *domain.RoutineRecord
	Source Source
}

// Lookup returns the stored routine for key without ever generating. A
// durable hit is copied into the cache in the background.
func (s *RoutineService) Lookup(ctx context.Context, key domain.RoutineKey) (*LookupResult, error) {
	tr := otel.Tracer("services/RoutineService")
	ctx, span := tr.Start(ctx, "Lookup")
	defer span.End()

	key = key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	span.SetAttributes(attribute.String("routine.key", key.CacheKey()))

	if rec := s.cached(ctx, key); rec != nil {
		return &LookupResult{Record: rec, Source: SourceCache}, nil
	}
	stored, err := s.Durable.FindLatest(ctx, key)
	if err != nil {
		return nil, fmt.Errorf("find latest routine: %w", err)
	}
	if stored == nil || stored.Record == nil {
		return nil, ErrRoutineNotReady
	}
	s.backfill(key, stored.Record)
	return &LookupResult{Record: stored.Record, Source: SourceDatabase}, nil
}

// Stats reports how many routines are stored for key and when the newest
// was created. Stores without statistics report zero.
func (s *RoutineService) Stats(ctx context.Context, key domain.RoutineKey) (int64, *time.Time, error) {
	st, ok := s.Durable.(interface {
		Stats(context.Context, domain.RoutineKey) (int64, *time.Time, error)
	})
	if !ok {
		return 0, nil, nil
	}
	return st.Stats(ctx, key.Normalize())
}

// Session returns the session record for id.
func (s *RoutineService) Session(ctx context.Context, id string) (*domain.GenerationSession, error) {
	if !domain.ValidSessionID(id) {
		return nil, ErrInvalidSession
	}
	return s.Sessions.Get(ctx, id)
}

// ReadEvents reads a batch of session events starting at cursor.
func (s *RoutineService) ReadEvents(ctx context.Context, id string, cursor, limit int) ([]domain.ChannelEvent, int, error) {
	if !domain.ValidSessionID(id) {
		return nil, cursor, ErrInvalidSession
	}
	return s.Channel.ReadBatch(ctx, id, cursor, limit)
}

// Wait blocks until background work (runs and cache backfills) is done.
func (s *RoutineService) Wait() { s.wg.Wait() }

// Shutdown waits for background work until ctx ends, then cancels the
// runs that are still generating.
func (s *RoutineService) Shutdown(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		s.mu.Lock()
		for _, r := range s.runs {
			r.Cancel()
		}
		s.mu.Unlock()
		return ctx.Err()
	}
}
