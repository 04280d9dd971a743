package bridge

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/friday-assistant/friday/internal/config"
)

// ControlServer exposes the bridge on a unix or tcp socket so fridayctl and
// development tools can invoke commands. Each connection is a Stream session.
type ControlServer struct {
	inst   config.ControlInstance
	stream *Stream
	logger *zap.SugaredLogger

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	wg       sync.WaitGroup
}

// NewControlServer creates a server for one control instance.
func NewControlServer(inst config.ControlInstance, stream *Stream, logger *zap.SugaredLogger) *ControlServer {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ControlServer{
		inst:   inst,
		stream: stream,
		logger: logger.With("control", inst.Name),
		conns:  make(map[net.Conn]struct{}),
	}
}

// Listen binds the socket. It is separate from Serve so bind failures
// surface during startup.
func (c *ControlServer) Listen() error {
	var (
		ln  net.Listener
		err error
	)
	switch c.inst.Mode {
	case "unix":
		// Clean up existing socket
		if _, statErr := os.Stat(c.inst.Listen); statErr == nil {
			_ = os.Remove(c.inst.Listen)
		}
		ln, err = net.Listen("unix", c.inst.Listen)
		if err == nil {
			err = os.Chmod(c.inst.Listen, 0o600)
		}
	case "tcp":
		ln, err = net.Listen("tcp", c.inst.Listen)
	default:
		return fmt.Errorf("control %q: unsupported mode %q", c.inst.Name, c.inst.Mode)
	}
	if err != nil {
		if ln != nil {
			_ = ln.Close()
		}
		return fmt.Errorf("control %q: failed to bind %s socket: %w", c.inst.Name, c.inst.Mode, err)
	}

	c.mu.Lock()
	c.listener = ln
	c.mu.Unlock()
	c.logger.Infof("[control] Listening on %s socket: %s", c.inst.Mode, ln.Addr())
	return nil
}

// Addr returns the bound address, nil before Listen.
func (c *ControlServer) Addr() net.Addr {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.listener == nil {
		return nil
	}
	return c.listener.Addr()
}

// Serve accepts connections until ctx ends, then closes the listener and
// every open connection and waits for their sessions.
func (c *ControlServer) Serve(ctx context.Context) error {
	c.mu.Lock()
	ln := c.listener
	c.mu.Unlock()
	if ln == nil {
		return fmt.Errorf("control %q: Serve called before Listen", c.inst.Name)
	}

	go func() {
		<-ctx.Done()
		_ = ln.Close()
		c.mu.Lock()
		for conn := range c.conns {
			_ = conn.Close()
		}
		c.mu.Unlock()
	}()

	defer func() {
		c.wg.Wait()
		if c.inst.Mode == "unix" {
			_ = os.Remove(c.inst.Listen)
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			c.logger.Warnf("[control] Accept error: %v", err)
			time.Sleep(50 * time.Millisecond)
			continue
		}

		c.mu.Lock()
		c.conns[conn] = struct{}{}
		c.mu.Unlock()

		c.wg.Add(1)
		go c.handleConn(ctx, conn)
	}
}

func (c *ControlServer) handleConn(ctx context.Context, conn net.Conn) {
	defer c.wg.Done()
	defer func() {
		c.mu.Lock()
		delete(c.conns, conn)
		c.mu.Unlock()
		_ = conn.Close()
	}()

	session := fmt.Sprintf("%s:%s", c.inst.Name, conn.RemoteAddr())
	if err := c.stream.Serve(ctx, session, conn, conn); err != nil && !errors.Is(err, context.Canceled) {
		c.logger.Debugf("[control] session %s ended: %v", session, err)
	}
}
