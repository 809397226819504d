package services

import (
	"context"
	"fmt"

	"github.com/rs/zerolog/log"

	"github.com/tbourn/go-routine-backend/internal/domain"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// GenerateRequest starts a session.
type GenerateRequest struct {
	SessionID string
	Key       domain.RoutineKey
	Params    domain.GenerationParams
}

// StartResult is returned once a session has been accepted.
type StartResult struct {
	SessionID string
	// Cached is true when a stored routine already exists for the key.
	Cached bool
	Run    *Run
}

// Run is one background resolution. It is detached from the request that
// started it and ends on its own or through Cancel.
type Run struct {
	SessionID string

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}
	out    *Outcome
	err    error
}

// Done is closed when the run has finished.
func (r *Run) Done() <-chan struct{} { return r.done }

// Cancel aborts the generation. Cached and stored results are unaffected.
func (r *Run) Cancel() { r.cancel() }

// Wait returns the run's result, or ctx.Err() if ctx ends first. The run
// keeps going in that case.
func (r *Run) Wait(ctx context.Context) (*Outcome, error) {
	select {
	case <-r.done:
		return r.out, r.err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Start validates req and resolves it in the background. Cache and durable
// hits are reported as cached. On a miss the catalog is checked before the
// session or its channel is touched, so an empty catalog fails with
// ErrNoProductsAvailable and leaves no state behind.
func (s *RoutineService) Start(ctx context.Context, req GenerateRequest) (*StartResult, error) {
	tr := otel.Tracer("services/RoutineService")
	ctx, span := tr.Start(ctx, "Start",
		trace.WithAttributes(attribute.String("session.id", req.SessionID)),
	)
	defer span.End()

	key := req.Key.Normalize()
	if err := key.Validate(); err != nil {
		return nil, err
	}
	if !domain.ValidSessionID(req.SessionID) {
		return nil, ErrInvalidSession
	}
	span.SetAttributes(attribute.String("routine.key", key.CacheKey()))

	run, err := s.reserve(ctx, req.SessionID)
	if err != nil {
		return nil, err
	}
	launched := false
	defer func() {
		if !launched {
			run.Cancel()
			s.release(run)
		}
	}()

	pre := s.peek(ctx, key)
	if pre.record == nil {
		products, err := s.loadProducts(ctx, req.Params)
		if err != nil {
			return nil, err
		}
		pre.products = products
	}

	if err := s.Channel.Clear(ctx, req.SessionID); err != nil {
		return nil, err
	}
	if _, err := s.Sessions.Create(ctx, domain.GenerationSession{ID: req.SessionID, Key: key, Params: req.Params}); err != nil {
		return nil, fmt.Errorf("create session: %w", err)
	}

	s.launch(run, key, req.Params, pre)
	launched = true
	span.SetAttributes(attribute.Bool("routine.cached", pre.record != nil))
	return &StartResult{SessionID: req.SessionID, Cached: pre.record != nil, Run: run}, nil
}

// reserve registers a run for id, failing with ErrSessionActive when one is
// already registered. The run context keeps ctx's values but not its
// cancellation.
func (s *RoutineService) reserve(ctx context.Context, id string) (*Run, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs == nil {
		s.runs = make(map[string]*Run)
	}
	if _, ok := s.runs[id]; ok {
		return nil, ErrSessionActive
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	r := &Run{SessionID: id, ctx: runCtx, cancel: cancel, done: make(chan struct{})}
	s.runs[id] = r
	return r, nil
}

func (s *RoutineService) release(r *Run) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.runs[r.SessionID] == r {
		delete(s.runs, r.SessionID)
	}
}

func (s *RoutineService) launch(r *Run, key domain.RoutineKey, params domain.GenerationParams, pre *prefetch) {
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer r.cancel()

		em := newEmitter(s.Channel, r.SessionID)
		out, err := s.resolve(r.ctx, key, params, em, pre)
		if err != nil && !em.terminated() {
			// Every session channel ends with a terminal event.
			em.fail(r.ctx, err)
		}
		s.settle(r.SessionID, err)

		r.out, r.err = out, err
		s.release(r)
		close(r.done)
	}()
}

// settle records the session's final status once the terminal event and
// the durable write are done.
func (s *RoutineService) settle(id string, err error) {
	ctx, cancel := context.WithTimeout(context.Background(), backfillTimeout)
	defer cancel()

	status, msg := domain.SessionCompleted, ""
	if err != nil {
		status, msg = domain.SessionError, ErrorNotice(err).Message
	}
	if uerr := s.Sessions.Update(ctx, id, status, msg); uerr != nil {
		log.Warn().Err(uerr).Str("session_id", id).Str("status", string(status)).Msg("session update failed")
	}
}

// Cancel aborts the active run of a session.
func (s *RoutineService) Cancel(id string) error {
	s.mu.Lock()
	r, ok := s.runs[id]
	s.mu.Unlock()
	if !ok {
		return ErrSessionNotFound
	}
	r.Cancel()
	return nil
}
