// Package host wires a sealed registry to the configured transports and runs
// them until the web view goes away or the context ends.
package host

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/internal/acl"
	"github.com/friday-assistant/friday/internal/bridge"
	"github.com/friday-assistant/friday/internal/config"
)

// errStdinClosed ends the run when the web view closes its side of stdio.
var errStdinClosed = errors.New("stdin closed")

// Option configures a Host.
type Option func(*Host)

// WithStdio replaces os.Stdin and os.Stdout for the stdio transport.
func WithStdio(r io.Reader, w io.Writer) Option {
	return func(h *Host) {
		h.stdin = r
		h.stdout = w
	}
}

// WithLogger sets the host logger. Components log through children of it.
func WithLogger(logger *zap.SugaredLogger) Option {
	return func(h *Host) {
		if logger != nil {
			h.logger = logger
		}
	}
}

// Host owns the dispatcher and every transport feeding it.
type Host struct {
	cfg        *config.Config
	logger     *zap.SugaredLogger
	dispatcher *dispatch.Dispatcher
	stream     *bridge.Stream
	controls   []*bridge.ControlServer
	pubsub     *gochannel.GoChannel
	bus        *bridge.PubSub

	stdin  io.Reader
	stdout io.Writer
}

// New builds the dispatcher and binds every enabled control socket, so a
// busy address fails here rather than after the web view connected.
func New(cfg *config.Config, reg *dispatch.SealedRegistry, env *dispatch.ExecutionContext, opts ...Option) (*Host, error) {
	h := &Host{
		cfg:    cfg,
		logger: zap.NewNop().Sugar(),
		stdin:  os.Stdin,
		stdout: os.Stdout,
	}
	for _, opt := range opts {
		opt(h)
	}

	h.dispatcher = dispatch.New(reg, env,
		dispatch.WithWorkers(cfg.Bridge.EffectiveWorkers()),
		dispatch.WithBreaker(cfg.Breaker.Dispatch()),
		dispatch.WithLogger(h.logger.Named("dispatch")),
	)
	h.stream = bridge.NewStream(h.dispatcher, h.logger.Named("bridge"), cfg.Bridge.MaxFrameBytes)

	for _, inst := range cfg.Control.EnabledInstances() {
		stream := h.stream
		if inst.ACL.Enabled() {
			guard := acl.NewGuard(h.dispatcher, inst.ACL, h.logger.Named("acl").With("control", inst.Name))
			stream = bridge.NewStream(guard, h.logger.Named("bridge"), cfg.Bridge.MaxFrameBytes)
		}
		srv := bridge.NewControlServer(inst, stream, h.logger.Named("control"))
		if err := srv.Listen(); err != nil {
			h.abort()
			return nil, err
		}
		h.controls = append(h.controls, srv)
	}

	if cfg.Bridge.PubSub {
		h.pubsub = gochannel.NewGoChannel(gochannel.Config{}, bridge.NewWatermillLogger(h.logger.Named("watermill")))
		// Subscribed before PubSub() hands the bus out; closing the bus
		// ends the subscription.
		bus, err := bridge.NewPubSub(context.Background(), h.dispatcher, h.pubsub, h.pubsub, h.logger.Named("bridge"))
		if err != nil {
			_ = h.pubsub.Close()
			h.abort()
			return nil, err
		}
		h.bus = bus
	}
	return h, nil
}

// abort releases what New acquired when a later step fails.
func (h *Host) abort() {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	for _, srv := range h.controls {
		_ = srv.Serve(ctx)
	}
	_ = h.dispatcher.Close(ctx)
}

// Dispatcher returns the dispatcher serving every transport.
func (h *Host) Dispatcher() *dispatch.Dispatcher {
	return h.dispatcher
}

// PubSub returns the in-process bus, nil unless bridge.pubsub is enabled.
// An embedded web view publishes on bridge.TopicInvoke and subscribes to
// bridge.TopicResponse.
func (h *Host) PubSub() *gochannel.GoChannel {
	return h.pubsub
}

// Run serves until ctx ends, a transport fails or the stdio peer closes
// stdin. The dispatcher then gets cfg.Bridge.ShutdownGrace to finish queued
// and running invocations.
func (h *Host) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)

	if h.cfg.Bridge.Stdio {
		g.Go(func() error {
			if err := h.stream.Serve(gctx, "stdio", h.stdin, h.stdout); err != nil {
				return fmt.Errorf("stdio: %w", err)
			}
			h.logger.Infof("[fridayd] web view closed stdin")
			return errStdinClosed
		})
	}
	for _, srv := range h.controls {
		srv := srv
		g.Go(func() error {
			return srv.Serve(gctx)
		})
	}
	if h.bus != nil {
		g.Go(func() error {
			return h.bus.Serve(gctx)
		})
	}
	g.Go(func() error {
		<-gctx.Done()
		return nil
	})

	h.logger.Infof("[fridayd] bridge running (stdio=%v, control=%d, pubsub=%v)",
		h.cfg.Bridge.Stdio, len(h.controls), h.pubsub != nil)
	err := g.Wait()
	if errors.Is(err, errStdinClosed) || (errors.Is(err, context.Canceled) && ctx.Err() != nil) {
		err = nil
	}

	if cerr := h.shutdown(); cerr != nil && err == nil {
		err = cerr
	}
	return err
}

func (h *Host) shutdown() error {
	grace := h.cfg.Bridge.ShutdownGrace
	if grace <= 0 {
		grace = config.Default().Bridge.ShutdownGrace
	}
	ctx, cancel := context.WithTimeout(context.Background(), grace)
	defer cancel()

	h.logger.Infof("[fridayd] shutting down, waiting up to %s for in-flight commands", grace)
	err := h.dispatcher.Close(ctx)
	if err != nil {
		err = fmt.Errorf("dispatcher shutdown: %w", err)
	}
	if h.pubsub != nil {
		if cerr := h.pubsub.Close(); cerr != nil {
			h.logger.Warnf("[fridayd] closing pubsub: %v", cerr)
		}
	}
	return err
}
