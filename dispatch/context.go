package dispatch

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"
)

// ExecutionContext is the process-wide state handlers borrow. It is shared
// by every in-flight invocation; handlers that mutate resources stored in it
// bring their own synchronization.
type ExecutionContext struct {
	AppName   string
	Version   string
	StartedAt time.Time
	Logger    *zap.SugaredLogger

	resources sync.Map
}

// NewExecutionContext creates an execution context. A nil logger is
// replaced with a no-op logger.
func NewExecutionContext(appName, version string, logger *zap.SugaredLogger) *ExecutionContext {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &ExecutionContext{
		AppName:   appName,
		Version:   version,
		StartedAt: time.Now(),
		Logger:    logger,
	}
}

// Provide stores a shared resource under key, replacing any previous value.
func (ec *ExecutionContext) Provide(key string, value any) {
	ec.resources.Store(key, value)
}

// Lookup returns the resource stored under key.
func (ec *ExecutionContext) Lookup(key string) (any, bool) {
	return ec.resources.Load(key)
}

// Uptime returns the time elapsed since the context was created.
func (ec *ExecutionContext) Uptime() time.Duration {
	return time.Since(ec.StartedAt)
}

// Resource returns the resource stored under key if it has type T.
func Resource[T any](ec *ExecutionContext, key string) (T, bool) {
	var zero T
	v, ok := ec.Lookup(key)
	if !ok {
		return zero, false
	}
	t, ok := v.(T)
	if !ok {
		return zero, false
	}
	return t, true
}

// CallInfo describes the invocation a handler is serving.
type CallInfo struct {
	Command    string
	ID         string
	Enqueued   time.Time
	Dispatcher *Dispatcher
}

type callInfoKey struct{}

func withCallInfo(ctx context.Context, info CallInfo) context.Context {
	return context.WithValue(ctx, callInfoKey{}, info)
}

// CallInfoFromContext returns the CallInfo attached to a handler context.
func CallInfoFromContext(ctx context.Context) (CallInfo, bool) {
	info, ok := ctx.Value(callInfoKey{}).(CallInfo)
	return info, ok
}
