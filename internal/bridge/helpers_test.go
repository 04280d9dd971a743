package bridge

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/friday-assistant/friday/dispatch"
)

func newTestDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	reg := dispatch.NewRegistry()
	reg.MustRegister("ping", dispatch.NoArgs(func(ctx context.Context, ec *dispatch.ExecutionContext) (string, error) {
		return "pong", nil
	}))
	reg.MustRegister("echo", dispatch.HandlerFunc(func(ctx context.Context, ec *dispatch.ExecutionContext, args json.RawMessage) (any, error) {
		return args, nil
	}))
	reg.MustRegister("sleep", dispatch.Typed(func(ctx context.Context, ec *dispatch.ExecutionContext, ms int) (int, error) {
		time.Sleep(time.Duration(ms) * time.Millisecond)
		return ms, nil
	}))

	d := dispatch.New(reg.Seal(), dispatch.NewExecutionContext("friday", "test", nil), dispatch.WithWorkers(4))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}
