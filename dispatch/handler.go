package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
)

// Call is a handler invocation with its arguments already decoded.
type Call func(ctx context.Context, ec *ExecutionContext) (any, error)

// Handler is the uniform boundary every command adapts to. Bind decodes the
// raw argument payload and returns the call to run on a worker; it runs on
// the dispatching goroutine and must be cheap.
type Handler interface {
	Bind(args json.RawMessage) (Call, error)
}

// HandlerFunc adapts a function taking raw arguments to the Handler
// interface. Its Bind never fails.
type HandlerFunc func(ctx context.Context, ec *ExecutionContext, args json.RawMessage) (any, error)

// Bind implements Handler.
func (f HandlerFunc) Bind(args json.RawMessage) (Call, error) {
	return func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return f(ctx, ec, args)
	}, nil
}

type typedHandler[A, R any] struct {
	fn func(ctx context.Context, ec *ExecutionContext, args A) (R, error)
}

// Typed adapts a function with a concrete argument type. The payload is
// decoded into A before the handler is scheduled; a missing or null payload
// leaves A at its zero value.
func Typed[A, R any](fn func(ctx context.Context, ec *ExecutionContext, args A) (R, error)) Handler {
	return typedHandler[A, R]{fn: fn}
}

func (h typedHandler[A, R]) Bind(raw json.RawMessage) (Call, error) {
	var args A
	if payload := bytes.TrimSpace(raw); len(payload) > 0 {
		if err := json.Unmarshal(payload, &args); err != nil {
			return nil, err
		}
	}
	return func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return h.fn(ctx, ec, args)
	}, nil
}

// NoArgs adapts a function that takes no arguments. Any payload is ignored.
func NoArgs[R any](fn func(ctx context.Context, ec *ExecutionContext) (R, error)) Handler {
	return HandlerFunc(func(ctx context.Context, ec *ExecutionContext, _ json.RawMessage) (any, error) {
		return fn(ctx, ec)
	})
}
