package handlers

import (
	"context"
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-contrib/sse"
	"github.com/gin-gonic/gin"

	"github.com/tbourn/go-routine-backend/internal/domain"
	"github.com/tbourn/go-routine-backend/internal/http/middleware"
	"github.com/tbourn/go-routine-backend/internal/observability"
	"github.com/tbourn/go-routine-backend/internal/services"
	"github.com/tbourn/go-routine-backend/internal/utils"
)

const (
	defaultPollLimit = 100
	maxPollLimit     = 500

	// sseEventPrefix namespaces channel events on the stream ("ai.chunk").
	sseEventPrefix = "ai."

	// Consecutive channel read failures after which a stream gives up.
	maxStreamReadFailures = 5
)

// SSEOptions tunes the streaming adapter.
type SSEOptions struct {
	PollInterval time.Duration
	MaxDuration  time.Duration
	Heartbeat    time.Duration
	// Grace is how long a stream keeps reading after a terminal event so
	// late warnings still reach the client.
	Grace     time.Duration
	BatchSize int
	// Stop is closed when the server starts shutting down. Open streams
	// then end with a timeout event so clients reconnect elsewhere.
	Stop <-chan struct{}
}

func (o SSEOptions) withDefaults() SSEOptions {
	if o.PollInterval <= 0 {
		o.PollInterval = 500 * time.Millisecond
	}
	if o.MaxDuration <= 0 {
		o.MaxDuration = 2 * time.Minute
	}
	if o.Heartbeat <= 0 {
		o.Heartbeat = 15 * time.Second
	}
	if o.Grace <= 0 {
		o.Grace = 2 * time.Second
	}
	if o.BatchSize <= 0 {
		o.BatchSize = defaultPollLimit
	}
	return o
}

// ChannelResponse is one page of a session channel.
type ChannelResponse struct {
	Success  bool                  `json:"success" example:"true"`
	Messages []domain.ChannelEvent `json:"messages"`
	// NextCursor is the cursor to pass on the next poll.
	NextCursor int                  `json:"nextCursor" example:"3"`
	Status     domain.SessionStatus `json:"status,omitempty" example:"active"`
}

// PollChannel godoc
// @ID          pollChannel
// @Summary     Read session progress
// @Description Returns the events published after cursor, oldest first. Poll again with nextCursor until a complete or error event arrives.
// @Tags        Channel
// @Produce     json
// @Param       sessionId  path   string  true   "Session id"
// @Param       cursor     query  int     false  "Events already consumed"  default(0)
// @Param       limit      query  int     false  "Max events to return"     default(100)  minimum(1)  maximum(500)
// @Success     200  {object}  handlers.ChannelResponse
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid session id"
// @Failure     503  {object}  handlers.ErrorResponse  "Channel unavailable"
// @Router      /routine/channel/{sessionId} [get]
func (h *Handlers) PollChannel(c *gin.Context) {
	id := c.Param("sessionId")
	cursor := utils.ClampInt(utils.AtoiDefault(c.Query("cursor"), 0), 0, int(^uint(0)>>1))
	limit := utils.ClampInt(utils.AtoiDefault(c.Query("limit"), defaultPollLimit), 1, maxPollLimit)

	events, next, err := h.routines.ReadEvents(c.Request.Context(), id, cursor, limit)
	if err != nil {
		failErr(c, err)
		return
	}

	resp := ChannelResponse{Success: true, Messages: events, NextCursor: next}
	if s, err := h.routines.Session(c.Request.Context(), id); err == nil {
		resp.Status = s.Status
	}
	ok(c, http.StatusOK, resp)
}

// StreamChannel godoc
// @ID          streamChannel
// @Summary     Stream session progress (SSE)
// @Description Server-sent events. Each channel event is sent as "ai.<event>" with the id set to the cursor after it, so a reconnect with Last-Event-ID resumes without loss. The stream opens with "connected", ends after a terminal event (plus a short grace for warnings) or with "timeout" after the max duration.
// @Tags        Channel
// @Produce     text/event-stream
// @Param       sessionId      path    string  true   "Session id"
// @Param       cursor         query   int     false  "Events already consumed"
// @Param       Last-Event-ID  header  string  false  "Resume cursor; wins over the query"
// @Success     200  {string}  string  "event stream"
// @Failure     400  {object}  handlers.ErrorResponse  "Invalid session id"
// @Router      /routine/stream/{sessionId} [get]
func (h *Handlers) StreamChannel(c *gin.Context) {
	id := c.Param("sessionId")
	if !domain.ValidSessionID(id) {
		failErr(c, services.ErrInvalidSession)
		return
	}
	cursor := utils.AtoiDefault(c.Query("cursor"), 0)
	if last := c.GetHeader("Last-Event-ID"); last != "" {
		cursor = utils.AtoiDefault(last, cursor)
	}
	if cursor < 0 {
		cursor = 0
	}

	observability.SSEStreamsInflight.Inc()
	defer observability.SSEStreamsInflight.Dec()

	c.Header("Content-Type", "text/event-stream")
	c.Header("Cache-Control", "no-cache")
	c.Header("Connection", "keep-alive")
	c.Header("X-Accel-Buffering", "no")
	c.Status(http.StatusOK)

	st := &stream{h: h, c: c, id: id, cursor: cursor}
	st.run(c.Request.Context())
}

// stream is the state of one SSE connection.
type stream struct {
	h      *Handlers
	c      *gin.Context
	id     string
	cursor int

	failures int
	terminal bool
	graceEnd time.Time
	// settledSeen is set once the session left active; one more read
	// after that picks up anything published before the status change.
	settledSeen bool
}

func (s *stream) run(ctx context.Context) {
	opts := s.h.opts.SSE
	log := middleware.LoggerFrom(s.c)

	s.send(strconv.Itoa(s.cursor), "connected", gin.H{"sessionId": s.id, "cursor": s.cursor})
	s.flush()

	poll := time.NewTicker(opts.PollInterval)
	defer poll.Stop()
	beat := time.NewTicker(opts.Heartbeat)
	defer beat.Stop()
	deadline := time.NewTimer(opts.MaxDuration)
	defer deadline.Stop()

	for {
		if done := s.drain(ctx); done {
			return
		}
		select {
		case <-ctx.Done():
			log.Debug().Str("session_id", s.id).Msg("stream client gone")
			return
		case <-deadline.C:
			s.timeout("max_duration")
			return
		case <-opts.Stop:
			log.Debug().Str("session_id", s.id).Msg("stream closed for shutdown")
			s.timeout("shutdown")
			return
		case <-beat.C:
			_, _ = s.c.Writer.WriteString(": heartbeat\n\n")
			s.flush()
		case <-poll.C:
		}
	}
}

// drain forwards every available event and reports whether the stream is
// finished.
func (s *stream) drain(ctx context.Context) bool {
	batch := s.h.opts.SSE.BatchSize
	for {
		events, next, err := s.h.routines.ReadEvents(ctx, s.id, s.cursor, batch)
		if err != nil {
			if ctx.Err() != nil {
				return true
			}
			s.failures++
			middleware.LoggerFrom(s.c).Warn().Err(err).Str("session_id", s.id).Int("failures", s.failures).Msg("channel read failed")
			if s.failures >= maxStreamReadFailures || !errors.Is(err, services.ErrChannelUnavailable) {
				n := domain.Notice{Code: ErrCodeChannel, Message: "Progress channel is unavailable. Please try again."}
				s.send("", sseEventPrefix+string(domain.EventError), n)
				s.flush()
				return true
			}
			return false
		}
		s.failures = 0

		for i, ev := range events {
			s.send(strconv.Itoa(s.cursor+i+1), sseEventPrefix+string(ev.Event), ev.Data)
			if ev.Event.IsTerminal() && !s.terminal {
				s.terminal = true
				s.graceEnd = time.Now().Add(s.h.opts.SSE.Grace)
			}
		}
		s.cursor = next
		if len(events) > 0 {
			s.flush()
		}
		if len(events) < batch {
			break
		}
	}
	return s.terminal && s.settled(ctx)
}

// settled reports whether nothing more can follow the terminal event.
func (s *stream) settled(ctx context.Context) bool {
	if s.settledSeen || !time.Now().Before(s.graceEnd) {
		return true
	}
	sess, err := s.h.routines.Session(ctx, s.id)
	if err == nil && sess.Status != domain.SessionActive {
		s.settledSeen = true
	}
	return false
}

// timeout tells the client to reconnect from the current cursor.
func (s *stream) timeout(reason string) {
	s.send(strconv.Itoa(s.cursor), "timeout", gin.H{"sessionId": s.id, "cursor": s.cursor, "reason": reason})
	s.flush()
}

func (s *stream) send(id, event string, data any) {
	s.c.Render(-1, sse.Event{Id: id, Event: event, Data: data})
}

func (s *stream) flush() { s.c.Writer.Flush() }
