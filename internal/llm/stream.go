package llm

import (
	"context"
	"errors"
	"io"
	"strings"
)

// vendorStream is what differs between vendors: how to open the event stream
// and how to pull the text delta out of one data payload.
type vendorStream struct {
	open          func(ctx context.Context) (io.ReadCloser, error)
	delta         func(data string) (string, error)
	progressEvery int
}

// sender owns the output channel of one generation.
type sender struct {
	ctx context.Context
	out chan<- Event
}

func (s sender) send(ev Event) bool {
	select {
	case s.out <- ev:
		return true
	case <-s.ctx.Done():
		return false
	}
}

// terminal delivers the final event. Once the context is done it only
// succeeds if buffer space is free, so an abandoned stream never blocks.
func (s sender) terminal(ev Event) {
	select {
	case s.out <- ev:
	case <-s.ctx.Done():
		select {
		case s.out <- ev:
		default:
		}
	}
}

func errorEvent(e *Error) Event { return Event{Kind: KindError, Err: e} }

func contextError(ctx context.Context) *Error {
	if errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return newError(ErrTimeout, ctx.Err())
	}
	return newError(ErrCancelled, ctx.Err())
}

// runStream drives vs in a goroutine and returns its event channel.
func runStream(ctx context.Context, vs vendorStream) <-chan Event {
	out := make(chan Event, 8)
	go func() {
		defer close(out)
		s := sender{ctx: ctx, out: out}

		s.send(Event{Kind: KindStatus, Stage: "requesting"})
		body, err := vs.open(ctx)
		if err != nil {
			if ctx.Err() != nil {
				s.terminal(errorEvent(contextError(ctx)))
				return
			}
			s.terminal(errorEvent(newError(ErrVendor, err)))
			return
		}
		// Unblock a pending body read as soon as the context ends.
		stop := context.AfterFunc(ctx, func() { _ = body.Close() })
		defer stop()
		defer body.Close()

		s.send(Event{Kind: KindStatus, Stage: "streaming"})

		var buf strings.Builder
		chunks := 0
		every := vs.progressEvery
		if every <= 0 {
			every = defaultProgressEvery
		}
		err = readSSE(body, func(_, data string) error {
			data = strings.TrimSpace(data)
			if data == "" {
				return nil
			}
			if data == "[DONE]" {
				return errStreamDone
			}
			d, err := vs.delta(data)
			if err != nil {
				return err
			}
			if d == "" {
				return nil
			}
			buf.WriteString(d)
			chunks++
			if chunks%every == 0 {
				s.send(Event{Kind: KindChunk, Progress: &Progress{ChunksReceived: chunks, BytesReceived: buf.Len()}})
			}
			return nil
		})
		if errors.Is(err, errStreamDone) {
			err = nil
		}
		if ctx.Err() != nil {
			s.terminal(errorEvent(contextError(ctx)))
			return
		}
		if err != nil {
			s.terminal(errorEvent(newError(ErrVendor, err)))
			return
		}

		rec, err := ParseRecord(buf.String())
		if err != nil {
			s.terminal(errorEvent(newError(ErrParse, err)))
			return
		}
		s.terminal(Event{Kind: KindComplete, Record: rec})
	}()
	return out
}
