// Routine HTTP handlers.
//
// This file exposes the routine endpoints:
//   - POST   /routine/generate                 (start a session; ?wait=true answers directly)
//   - GET    /routine                          (lookup, ETag support)
//   - GET    /routine/sessions/{sessionId}     (session record)
//   - DELETE /routine/sessions/{sessionId}     (cancel a running generation)
//
// Progress of a session is read from channel_handler.go.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"hash/fnv"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"
	validatorv10 "github.com/go-playground/validator/v10"

	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/http/middleware"
	"github.com/tbourn/go-routine-backend/internal/repo"
	"github.com/tbourn/go-routine-backend/internal/services"
)

//
// Service contracts
//

// RoutineService is the orchestrator as seen by the HTTP layer.
type RoutineService interface {
	// Start validates the request and resolves it in the background.
	Start(ctx context.Context, req services.GenerateRequest) (*services.StartResult, error)
	// Lookup reads a stored routine without generating.
	Lookup(ctx context.Context, key domain.RoutineKey) (*services.LookupResult, error)
	// Stats reports the stored routine count and newest timestamp for a key.
	Stats(ctx context.Context, key domain.RoutineKey) (int64, *time.Time, error)
	Session(ctx context.Context, id string) (*domain.GenerationSession, error)
	ReadEvents(ctx context.Context, id string, cursor, limit int) ([]domain.ChannelEvent, int, error)
	Cancel(id string) error
}

// ProductService exposes the catalog.
type ProductService interface {
	List(ctx context.Context, q repo.ProductQuery) ([]domain.Product, error)
	Upsert(ctx context.Context, products []domain.Product) (int, error)
	Stats(ctx context.Context) (int64, *time.Time, error)
}

// IdempotencyStore remembers the session a keyed generate request was given.
type IdempotencyStore interface {
	Save(ctx context.Context, clientID, scope, key, sessionID string, cached bool, status int) error
}

//
// Handler wiring
//

// Options tunes the delivery adapters.
type Options struct {
	// DirectMaxWait bounds how long ?wait=true holds the request.
	DirectMaxWait time.Duration
	SSE           SSEOptions
}

// Handlers groups the routine, channel and product endpoints.
type Handlers struct {
	routines RoutineService
	products ProductService
	idem     IdempotencyStore
	opts     Options
	validate *validatorv10.Validate
}

// New binds the handlers to their services. products and idem may be nil;
// the product routes then answer 404 and keys are not recorded.
func New(routines RoutineService, products ProductService, idem IdempotencyStore, opts Options) *Handlers {
	if opts.DirectMaxWait <= 0 {
		opts.DirectMaxWait = 90 * time.Second
	}
	opts.SSE = opts.SSE.withDefaults()
	return &Handlers{
		routines: routines,
		products: products,
		idem:     idem,
		opts:     opts,
		validate: newValidator(),
	}
}

//
// DTOs
//

// GenerateResponse acknowledges a started session.
type GenerateResponse struct {
	Success   bool   `json:"success" example:"true"`
	SessionID string `json:"sessionId" example:"b0c4e8f2-3d1a-4c55-9f7e-0a2b3c4d5e6f"`
	// Cached is true when a stored routine already existed for the key.
	Cached bool `json:"cached" example:"false"`
}

// RoutineMetadata describes where a routine came from.
type RoutineMetadata struct {
	Source string `json:"source" example:"cache" enums:"cache,database,generated"`
	// ProcessingTime is the server time spent on the request, in ms.
	ProcessingTime int64 `json:"processingTime" example:"12"`
}

// DirectResponse is the answer of POST /routine/generate?wait=true.
type DirectResponse struct {
	GenerateResponse
	Data *domain.RoutineRecord `json:"data"`
	// DatabaseSaved is set for generated routines and tells whether the
	// durable write succeeded.
	DatabaseSaved *bool           `json:"databaseSaved,omitempty"`
	DocumentID    string          `json:"documentId,omitempty"`
	Metadata      RoutineMetadata `json:"metadata"`
}

// RoutineResponse is the answer of GET /routine.
type RoutineResponse struct {
	Success  bool                  `json:"success" example:"true"`
	Data     *domain.RoutineRecord `json:"data"`
	Metadata RoutineMetadata       `json:"metadata"`
}

// SessionResponse wraps a session record.
type SessionResponse struct {
	Success bool                      `json:"success" example:"true"`
	Session *domain.GenerationSession `json:"session"`
}

// CancelResponse acknowledges a cancellation request.
type CancelResponse struct {
	Success   bool   `json:"success" example:"true"`
	SessionID string `json:"sessionId"`
	Status    string `json:"status" example:"cancelling"`
}

//
// Handlers
//

// GenerateRoutine godoc
// @ID          generateRoutine
// @Summary     Start a routine generation session
// @Description Resolves the routine for (skinType, skinConcern) in the background and publishes progress on the session channel. Cached or stored routines complete the session at once. With wait=true the request blocks until the routine is ready (bounded by the direct wait limit) and answers with a DirectResponse.
// @Tags        Routine
// @Accept      json
// @Produce     json
//
// @Param       Idempotency-Key  header  string  false  "Retry key; a repeated key returns the original session"
// @Param       wait             query   bool    false  "Answer with the routine instead of the session id"
// @Param       body             body    handlers.GenerateRoutineRequest  true  "Generation request"
//
// @Success     200  {object}  handlers.GenerateResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Validation failed"
// @Failure     404  {object}  handlers.ErrorResponse  "No products available"
// @Failure     408  {object}  handlers.ErrorResponse  "Routine generation timed out"
// @Failure     409  {object}  handlers.ErrorResponse  "Session already generating"
// @Failure     429  {object}  handlers.ErrorResponse  "Rate limited"
// @Failure     503  {object}  handlers.ErrorResponse  "Catalog or channel unavailable"
// @Router      /routine/generate [post]
func (h *Handlers) GenerateRoutine(c *gin.Context) {
	start := time.Now()

	if rec, ok := middleware.ReplayFrom(c); ok {
		c.Header("Idempotent-Replay", "true")
		replayStatus(c, rec.Status, GenerateResponse{Success: true, SessionID: rec.SessionID, Cached: rec.Cached})
		return
	}

	var req GenerateRoutineRequest
	if !h.bindJSON(c, &req) {
		return
	}

	res, err := h.routines.Start(c.Request.Context(), services.GenerateRequest{
		SessionID: req.SessionID,
		Key:       req.Key(),
		Params:    req.Params(),
	})
	if err != nil {
		failErr(c, err)
		return
	}
	h.remember(c, res)

	ack := GenerateResponse{Success: true, SessionID: res.SessionID, Cached: res.Cached}
	if !wantsDirect(c) {
		ok(c, http.StatusOK, ack)
		return
	}
	h.direct(c, res, ack, start)
}

// direct waits for the run. A client that goes away cancels it; reaching
// the wait limit leaves it running so the routine is still stored.
func (h *Handlers) direct(c *gin.Context, res *services.StartResult, ack GenerateResponse, start time.Time) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), h.opts.DirectMaxWait)
	defer cancel()

	out, err := res.Run.Wait(ctx)
	if err != nil && ctx.Err() != nil {
		if c.Request.Context().Err() != nil {
			res.Run.Cancel()
			middleware.LoggerFrom(c).Info().Msg("client left direct generation; cancelled")
			c.Abort()
			return
		}
		failErr(c, services.ErrGenerationTimeout)
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}

	resp := DirectResponse{
		GenerateResponse: ack,
		Data:             out.Record,
		DocumentID:       out.RecordID,
		Metadata: RoutineMetadata{
			Source:         string(out.Source),
			ProcessingTime: time.Since(start).Milliseconds(),
		},
	}
	if out.Source == services.SourceGeneration {
		saved := out.DurabilityErr == nil
		resp.DatabaseSaved = &saved
	}
	ok(c, http.StatusOK, resp)
}

// remember records the idempotency key, if any. Failures only cost the
// ability to replay.
func (h *Handlers) remember(c *gin.Context, res *services.StartResult) {
	key, present := middleware.GetIdempotencyKey(c)
	if !present || h.idem == nil {
		return
	}
	err := h.idem.Save(c.Request.Context(), middleware.ClientID(c), middleware.IdempotencyScope(c), key, res.SessionID, res.Cached, http.StatusOK)
	if err != nil && !errors.Is(err, repo.ErrDuplicate) {
		middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not saved")
	}
}

func wantsDirect(c *gin.Context) bool {
	v, err := strconv.ParseBool(c.Query("wait"))
	return err == nil && v
}

func replayStatus(c *gin.Context, status int, body any) {
	if status < 200 || status > 299 {
		status = http.StatusOK
	}
	ok(c, status, body)
}

// GetRoutine godoc
// @ID          getRoutine
// @Summary     Look up a stored routine
// @Description Returns the newest routine for the key from the cache or the durable store. Never starts a generation. Supports a weak ETag via If-None-Match.
// @Tags        Routine
// @Produce     json
//
// @Param       skinType       query   string  true   "Skin type"     example(Oily)
// @Param       skinConcern    query   string  true   "Skin concern"  example(Acne)
// @Param       If-None-Match  header  string  false  "Return 304 if the ETag matches"
//
// @Success     200  {object}  handlers.RoutineResponse
// @Header      200  {string}  ETag  "Weak ETag of the stored history"
// @Success     304  {string}  string  "Not Modified"
// @Failure     400  {object}  handlers.ErrorResponse  "Missing parameters"
// @Failure     404  {object}  handlers.NotReadyResponse  "Routine not ready yet"
// @Failure     500  {object}  handlers.ErrorResponse  "Internal error"
// @Router      /routine [get]
func (h *Handlers) GetRoutine(c *gin.Context) {
	start := time.Now()
	ctx := c.Request.Context()

	key := domain.RoutineKey{SkinType: c.Query("skinType"), SkinConcern: c.Query("skinConcern")}.Normalize()
	if err := key.Validate(); err != nil {
		failErr(c, err)
		return
	}

	// ETag pre-check (best effort).
	if count, latest, err := h.routines.Stats(ctx, key); err == nil && count > 0 {
		etag := routineETag(key, count, latest)
		c.Header("ETag", etag)
		if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
			c.Status(http.StatusNotModified)
			return
		}
	}

	res, err := h.routines.Lookup(ctx, key)
	if errors.Is(err, services.ErrRoutineNotReady) {
		c.AbortWithStatusJSON(http.StatusNotFound, NotReadyResponse{Message: "Routine not ready yet"})
		return
	}
	if err != nil {
		failErr(c, err)
		return
	}

	c.Header("Cache-Control", "public, s-maxage=300, stale-while-revalidate=600")
	ok(c, http.StatusOK, RoutineResponse{
		Success: true,
		Data:    res.Record,
		Metadata: RoutineMetadata{
			Source:         string(res.Source),
			ProcessingTime: time.Since(start).Milliseconds(),
		},
	})
}

// routineETag hashes the key so arbitrary skin type text never breaks the
// quoted header value.
func routineETag(key domain.RoutineKey, count int64, latest *time.Time) string {
	hsh := fnv.New64a()
	_, _ = hsh.Write([]byte(key.CacheKey()))
	var ts int64
	if latest != nil {
		ts = latest.UnixNano()
	}
	return fmt.Sprintf(`W/"routine:%x:%d:%d"`, hsh.Sum64(), count, ts)
}

// GetSession godoc
// @ID          getSession
// @Summary     Get a generation session
// @Tags        Routine
// @Produce     json
// @Param       sessionId  path  string  true  "Session id"
// @Success     200  {object}  handlers.SessionResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid session id"
// @Failure     404  {object}  handlers.ErrorResponse  "Session not found"
// @Router      /routine/sessions/{sessionId} [get]
func (h *Handlers) GetSession(c *gin.Context) {
	s, err := h.routines.Session(c.Request.Context(), c.Param("sessionId"))
	if err != nil {
		failErr(c, err)
		return
	}
	c.Header("Cache-Control", "no-store")
	ok(c, http.StatusOK, SessionResponse{Success: true, Session: s})
}

// CancelSession godoc
// @ID          cancelSession
// @Summary     Cancel a running generation
// @Description Aborts the vendor stream of the session. The session ends with a cancelled error event; stored routines are unaffected.
// @Tags        Routine
// @Produce     json
// @Param       sessionId  path  string  true  "Session id"
// @Success     202  {object}  handlers.CancelResponse
// @Failure     404  {object}  handlers.ErrorResponse  "No running generation"
// @Router      /routine/sessions/{sessionId} [delete]
func (h *Handlers) CancelSession(c *gin.Context) {
	id := c.Param("sessionId")
	if !domain.ValidSessionID(id) {
		failErr(c, services.ErrInvalidSession)
		return
	}
	if err := h.routines.Cancel(id); err != nil {
		failErr(c, err)
		return
	}
	ok(c, http.StatusAccepted, CancelResponse{Success: true, SessionID: id, Status: "cancelling"})
}
