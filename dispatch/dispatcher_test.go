package dispatch

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friday-assistant/friday/protocol"
)

func newTestDispatcher(t *testing.T, reg *Registry, opts ...Option) *Dispatcher {
	t.Helper()
	d := New(reg.Seal(), NewExecutionContext("friday", "test", nil), opts...)
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func call(t *testing.T, d *Dispatcher, name, id string, args string) protocol.Response {
	t.Helper()
	inv := protocol.Invocation{Name: name, ID: id}
	if args != "" {
		inv.Args = json.RawMessage(args)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := d.Call(ctx, inv)
	require.NoError(t, err)
	return resp
}

func TestDispatchPingExample(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ping", NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
		return "pong", nil
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "ping", "1", "null")
	require.True(t, resp.OK())
	assert.Equal(t, "1", resp.ID)
	frame, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"1","ok":"pong"}`, string(frame))

	resp = call(t, d, "missing", "2", "null")
	require.False(t, resp.OK())
	assert.Equal(t, "2", resp.ID)
	assert.Equal(t, protocol.KindUnknownCommand, resp.Err.Kind)
	assert.Equal(t, "missing", resp.Err.Command)
}

func TestDispatchUnknownDoesNotInvokeAnything(t *testing.T) {
	var invoked atomic.Int32
	reg := NewRegistry()
	reg.MustRegister("known", NoArgs(func(ctx context.Context, ec *ExecutionContext) (bool, error) {
		invoked.Add(1)
		return true, nil
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "unknown", "x-1", "")
	assert.Equal(t, "x-1", resp.ID)
	assert.Equal(t, protocol.KindUnknownCommand, resp.Err.Kind)
	assert.Equal(t, int32(0), invoked.Load())
}

func TestDispatchArgumentDecodeError(t *testing.T) {
	var invoked atomic.Int32
	reg := NewRegistry()
	reg.MustRegister("greet", Typed(func(ctx context.Context, ec *ExecutionContext, args greetArgs) (string, error) {
		invoked.Add(1)
		return "hi " + args.Name, nil
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "greet", "7", `{"name":["not","a","string"]}`)
	require.False(t, resp.OK())
	assert.Equal(t, "7", resp.ID)
	assert.Equal(t, protocol.KindArgumentDecode, resp.Err.Kind)
	assert.Equal(t, int32(0), invoked.Load())

	resp = call(t, d, "greet", "8", `{"name":"boss"}`)
	require.True(t, resp.OK())
	var out string
	require.NoError(t, resp.Decode(&out))
	assert.Equal(t, "hi boss", out)
	assert.Equal(t, int32(1), invoked.Load())
}

func TestDispatchHandlerErrors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("plain", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return nil, errors.New("disk full")
	}))
	reg.MustRegister("domain", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return nil, fmt.Errorf("lookup: %w", &protocol.Error{
			Kind:    "NotFound",
			Message: "no such reminder",
			Data:    map[string]int{"reminder": 3},
		})
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "plain", "1", "")
	require.False(t, resp.OK())
	assert.Equal(t, protocol.KindHandler, resp.Err.Kind)
	assert.Equal(t, "disk full", resp.Err.Message)
	assert.Equal(t, "plain", resp.Err.Command)

	resp = call(t, d, "domain", "2", "")
	require.False(t, resp.OK())
	assert.Equal(t, protocol.ErrorKind("NotFound"), resp.Err.Kind)
	assert.Equal(t, "no such reminder", resp.Err.Message)
	assert.Equal(t, "domain", resp.Err.Command)
}

func TestDispatchNilResultIsOK(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("noop", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return nil, nil
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "noop", "n", "")
	require.True(t, resp.OK())
	frame, err := json.Marshal(resp)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":"n","ok":null}`, string(frame))
}

func TestDispatchUnserializableResultIsFault(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("chan", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return make(chan int), nil
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "chan", "c", "")
	require.False(t, resp.OK())
	assert.Equal(t, protocol.KindInternalFault, resp.Err.Kind)
}

func TestDispatchPanicIsIsolated(t *testing.T) {
	release := make(chan struct{})
	reg := NewRegistry()
	reg.MustRegister("boom", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		<-release
		panic("kaboom")
	}))
	reg.MustRegister("slow", NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
		<-release
		return "done", nil
	}))
	d := newTestDispatcher(t, reg, WithWorkers(4))

	results := make(chan protocol.Response, 3)
	reply := func(resp protocol.Response) { results <- resp }
	d.Dispatch(protocol.Invocation{Name: "boom", ID: "b"}, reply)
	d.Dispatch(protocol.Invocation{Name: "slow", ID: "s1"}, reply)
	d.Dispatch(protocol.Invocation{Name: "slow", ID: "s2"}, reply)
	close(release)

	byID := map[string]protocol.Response{}
	for i := 0; i < 3; i++ {
		select {
		case resp := <-results:
			byID[resp.ID] = resp
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for responses")
		}
	}

	require.Contains(t, byID, "b")
	assert.Equal(t, protocol.KindInternalFault, byID["b"].Err.Kind)
	assert.True(t, byID["s1"].OK())
	assert.True(t, byID["s2"].OK())

	// still serviceable afterwards
	resp := call(t, d, "slow", "after", "")
	assert.True(t, resp.OK())
	assert.Equal(t, uint64(1), d.Stats().Faults)
}

func TestDispatchConcurrentCorrelation(t *testing.T) {
	const n = 50
	reg := NewRegistry()
	for i := 0; i < n; i++ {
		name := fmt.Sprintf("cmd.%d", i)
		delay := time.Duration(n-i) * time.Millisecond
		reg.MustRegister(name, NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
			time.Sleep(delay)
			return name, nil
		}))
	}
	d := newTestDispatcher(t, reg, WithWorkers(8))

	var mu sync.Mutex
	got := map[string][]string{}
	var wg sync.WaitGroup
	wg.Add(n)
	for i := 0; i < n; i++ {
		d.Dispatch(protocol.Invocation{Name: fmt.Sprintf("cmd.%d", i), ID: fmt.Sprintf("id-%d", i)}, func(resp protocol.Response) {
			defer wg.Done()
			var out string
			_ = resp.Decode(&out)
			mu.Lock()
			got[resp.ID] = append(got[resp.ID], out)
			mu.Unlock()
		})
	}

	done := make(chan struct{})
	go func() {
		wg.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(10 * time.Second):
		t.Fatal("timed out waiting for responses")
	}

	require.Len(t, got, n)
	for i := 0; i < n; i++ {
		outs := got[fmt.Sprintf("id-%d", i)]
		require.Len(t, outs, 1)
		assert.Equal(t, fmt.Sprintf("cmd.%d", i), outs[0])
	}
}

func TestDispatchFIFOWhenSaturated(t *testing.T) {
	gate := make(chan struct{})
	var mu sync.Mutex
	var order []string

	reg := NewRegistry()
	reg.MustRegister("block", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		<-gate
		return nil, nil
	}))
	reg.MustRegister("record", Typed(func(ctx context.Context, ec *ExecutionContext, tag string) (any, error) {
		mu.Lock()
		order = append(order, tag)
		mu.Unlock()
		return nil, nil
	}))
	d := newTestDispatcher(t, reg, WithWorkers(1))

	var wg sync.WaitGroup
	wg.Add(6)
	reply := func(protocol.Response) { wg.Done() }
	d.Dispatch(protocol.Invocation{Name: "block", ID: "0"}, reply)
	for i := 1; i <= 5; i++ {
		d.Dispatch(protocol.Invocation{Name: "record", ID: fmt.Sprint(i), Args: json.RawMessage(fmt.Sprintf(`"t%d"`, i))}, reply)
	}

	assert.Eventually(t, func() bool { return d.Stats().Queued == 5 }, time.Second, 5*time.Millisecond)
	close(gate)
	wg.Wait()

	assert.Equal(t, []string{"t1", "t2", "t3", "t4", "t5"}, order)
}

func TestDispatchDoesNotBlockCaller(t *testing.T) {
	gate := make(chan struct{})
	reg := NewRegistry()
	reg.MustRegister("wait", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		<-gate
		return nil, nil
	}))
	d := newTestDispatcher(t, reg, WithWorkers(1))
	defer close(gate)

	returned := make(chan struct{})
	go func() {
		for i := 0; i < 100; i++ {
			d.Dispatch(protocol.Invocation{Name: "wait", ID: fmt.Sprint(i)}, nil)
		}
		close(returned)
	}()

	select {
	case <-returned:
	case <-time.After(2 * time.Second):
		t.Fatal("Dispatch blocked while workers were busy")
	}
}

func TestDispatchCallInfo(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("whoami", NoArgs(func(ctx context.Context, ec *ExecutionContext) (map[string]any, error) {
		info, ok := CallInfoFromContext(ctx)
		if !ok {
			return nil, errors.New("no call info")
		}
		return map[string]any{
			"command":  info.Command,
			"id":       info.ID,
			"commands": info.Dispatcher.Registry().Len(),
			"app":      ec.AppName,
		}, nil
	}))
	d := newTestDispatcher(t, reg)

	resp := call(t, d, "whoami", "w", "")
	require.True(t, resp.OK())
	assert.JSONEq(t, `{"command":"whoami","id":"w","commands":1,"app":"friday"}`, string(resp.Result))
}

func TestDispatchReplyPanicDoesNotKillWorker(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("ping", NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
		return "pong", nil
	}))
	d := newTestDispatcher(t, reg, WithWorkers(1))

	d.Dispatch(protocol.Invocation{Name: "ping", ID: "1"}, func(protocol.Response) {
		panic("bad reply")
	})
	resp := call(t, d, "ping", "2", "")
	assert.True(t, resp.OK())
}

func TestCloseDrainsBacklog(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("sleep", NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
		time.Sleep(10 * time.Millisecond)
		return "ok", nil
	}))
	d := New(reg.Seal(), nil, WithWorkers(2))

	var okCount atomic.Int32
	var wg sync.WaitGroup
	wg.Add(10)
	for i := 0; i < 10; i++ {
		d.Dispatch(protocol.Invocation{Name: "sleep", ID: fmt.Sprint(i)}, func(resp protocol.Response) {
			if resp.OK() {
				okCount.Add(1)
			}
			wg.Done()
		})
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, d.Close(ctx))
	wg.Wait()
	assert.Equal(t, int32(10), okCount.Load())

	resp := call(t, d, "sleep", "late", "")
	require.False(t, resp.OK())
	assert.Equal(t, protocol.KindUnavailable, resp.Err.Kind)
	assert.True(t, d.Stats().Closed)
}

func TestCloseDeadlineAnswersQueued(t *testing.T) {
	gate := make(chan struct{})
	reg := NewRegistry()
	reg.MustRegister("hold", NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
		select {
		case <-gate:
		case <-ctx.Done():
		}
		return "released", nil
	}))
	d := New(reg.Seal(), nil, WithWorkers(1))

	results := make(chan protocol.Response, 3)
	for i := 0; i < 3; i++ {
		d.Dispatch(protocol.Invocation{Name: "hold", ID: fmt.Sprint(i)}, func(resp protocol.Response) {
			results <- resp
		})
	}
	assert.Eventually(t, func() bool { return d.Stats().Running == 1 }, time.Second, 5*time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := d.Close(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	byID := map[string]protocol.Response{}
	for i := 0; i < 3; i++ {
		select {
		case resp := <-results:
			byID[resp.ID] = resp
		case <-time.After(5 * time.Second):
			t.Fatal("timed out waiting for responses")
		}
	}
	assert.True(t, byID["0"].OK())
	assert.Equal(t, protocol.KindUnavailable, byID["1"].Err.Kind)
	assert.Equal(t, protocol.KindUnavailable, byID["2"].Err.Kind)
	close(gate)
}

func TestBreakerOpensAfterFaults(t *testing.T) {
	var calls atomic.Int32
	reg := NewRegistry()
	reg.MustRegister("flaky", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		calls.Add(1)
		panic("flaky")
	}))
	reg.MustRegister("stable", NoArgs(func(ctx context.Context, ec *ExecutionContext) (string, error) {
		return "ok", nil
	}))
	cfg := DefaultBreakerConfig()
	cfg.Enabled = true
	cfg.FailureThreshold = 2
	cfg.Timeout = time.Hour
	d := newTestDispatcher(t, reg, WithWorkers(1), WithBreaker(cfg))

	assert.Equal(t, protocol.KindInternalFault, call(t, d, "flaky", "1", "").Err.Kind)
	assert.Equal(t, protocol.KindInternalFault, call(t, d, "flaky", "2", "").Err.Kind)

	resp := call(t, d, "flaky", "3", "")
	require.False(t, resp.OK())
	assert.Equal(t, protocol.KindUnavailable, resp.Err.Kind)
	assert.Equal(t, int32(2), calls.Load())

	assert.True(t, call(t, d, "stable", "4", "").OK())
	assert.Equal(t, []string{"flaky"}, d.Stats().OpenBreakers)
}

func TestBreakerIgnoresHandlerErrors(t *testing.T) {
	reg := NewRegistry()
	reg.MustRegister("fails", NoArgs(func(ctx context.Context, ec *ExecutionContext) (any, error) {
		return nil, errors.New("expected")
	}))
	cfg := DefaultBreakerConfig()
	cfg.Enabled = true
	cfg.FailureThreshold = 1
	d := newTestDispatcher(t, reg, WithBreaker(cfg))

	for i := 0; i < 3; i++ {
		resp := call(t, d, "fails", fmt.Sprint(i), "")
		assert.Equal(t, protocol.KindHandler, resp.Err.Kind)
	}
	assert.Empty(t, d.Stats().OpenBreakers)
}
