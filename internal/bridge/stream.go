// Package bridge carries invocations from the web view to the dispatcher
// and responses back. Every transport speaks the same wire contract defined
// in package protocol; they differ only in how frames move.
package bridge

import (
	"context"
	"errors"
	"io"
	"sync"
	"sync/atomic"

	"go.uber.org/zap"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/protocol"
)

// Dispatcher is the part of *dispatch.Dispatcher transports depend on.
type Dispatcher interface {
	Dispatch(inv protocol.Invocation, reply dispatch.Reply)
}

// Stream serves newline-delimited JSON sessions over reader/writer pairs:
// the web view host's stdio or a control socket connection.
type Stream struct {
	dispatcher Dispatcher
	logger     *zap.SugaredLogger
	maxFrame   int
}

// NewStream creates a Stream. maxFrame <= 0 selects the protocol default.
func NewStream(d Dispatcher, logger *zap.SugaredLogger, maxFrame int) *Stream {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Stream{dispatcher: d, logger: logger, maxFrame: maxFrame}
}

// Serve reads invocations from r and writes their responses to w until r
// reaches EOF or ctx ends. After EOF it waits for the responses of accepted
// invocations; once ctx ends, late responses are discarded.
func (s *Stream) Serve(ctx context.Context, session string, r io.Reader, w io.Writer) error {
	log := s.logger.With("session", session)
	reader := protocol.NewReader(r, s.maxFrame)
	writer := protocol.NewWriter(w)

	var (
		inflight sync.WaitGroup
		detached atomic.Bool
	)
	reply := func(resp protocol.Response) {
		defer inflight.Done()
		if detached.Load() {
			log.Debugw("[bridge] discarding response for closed session", "id", resp.ID)
			return
		}
		if err := writer.WriteResponse(resp); err != nil {
			log.Debugw("[bridge] discarding unroutable response", "id", resp.ID, "error", err)
		}
	}

	errc := make(chan error, 1)
	go func() {
		errc <- s.readLoop(log, reader, &inflight, reply)
	}()

	var err error
	select {
	case err = <-errc:
	case <-ctx.Done():
		detached.Store(true)
		return ctx.Err()
	}

	done := make(chan struct{})
	go func() {
		inflight.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		detached.Store(true)
	}
	log.Debugw("[bridge] session ended", "error", err)
	return err
}

func (s *Stream) readLoop(log *zap.SugaredLogger, reader *protocol.Reader, inflight *sync.WaitGroup, reply dispatch.Reply) error {
	for {
		inv, err := reader.ReadInvocation()
		var fe *protocol.FrameError
		switch {
		case err == nil:
			inflight.Add(1)
			s.dispatcher.Dispatch(inv, reply)
		case errors.As(err, &fe):
			log.Warnw("[bridge] rejected malformed frame", "id", fe.ID, "error", fe.Err)
			inflight.Add(1)
			reply(fe.Response())
		case errors.Is(err, io.EOF):
			return nil
		default:
			return err
		}
	}
}
