package commands

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/protocol"
)

func newDispatcher(t *testing.T) *dispatch.Dispatcher {
	t.Helper()
	reg := dispatch.NewRegistry()
	require.NoError(t, Register(reg))

	d := dispatch.New(reg.Seal(), dispatch.NewExecutionContext("FRIDAY", "1.2.3", nil), dispatch.WithWorkers(2))
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = d.Close(ctx)
	})
	return d
}

func invoke(t *testing.T, d *dispatch.Dispatcher, name string, args any) protocol.Response {
	t.Helper()
	inv, err := protocol.NewInvocation("t-"+name, name, args)
	require.NoError(t, err)
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	resp, err := d.Call(ctx, inv)
	require.NoError(t, err)
	return resp
}

func TestRegisterTwiceFails(t *testing.T) {
	reg := dispatch.NewRegistry()
	require.NoError(t, Register(reg))
	assert.ErrorIs(t, Register(reg), dispatch.ErrDuplicateCommand)
}

func TestPing(t *testing.T) {
	d := newDispatcher(t)
	resp := invoke(t, d, protocol.CmdPing, nil)
	assert.JSONEq(t, `"pong"`, string(resp.Result))
}

func TestSystemInfo(t *testing.T) {
	d := newDispatcher(t)
	var info Info
	require.NoError(t, invoke(t, d, protocol.CmdSystemInfo, nil).Decode(&info))
	assert.Equal(t, "FRIDAY", info.Name)
	assert.Equal(t, "1.2.3", info.Version)
	assert.NotEmpty(t, info.GoVersion)
	assert.GreaterOrEqual(t, info.UptimeSeconds, 0.0)
}

func TestAppCommands(t *testing.T) {
	d := newDispatcher(t)
	var names []string
	require.NoError(t, invoke(t, d, protocol.CmdAppCommands, nil).Decode(&names))
	assert.Equal(t, []string{
		protocol.CmdAppCommands,
		protocol.CmdBridgeEcho,
		protocol.CmdBridgeStats,
		protocol.CmdPing,
		protocol.CmdSystemHealth,
		protocol.CmdSystemInfo,
	}, names)
}

func TestBridgeStats(t *testing.T) {
	d := newDispatcher(t)
	invoke(t, d, protocol.CmdPing, nil)

	var stats dispatch.Stats
	require.NoError(t, invoke(t, d, protocol.CmdBridgeStats, nil).Decode(&stats))
	assert.Equal(t, 2, stats.Workers)
	assert.GreaterOrEqual(t, stats.Completed, uint64(1))
	assert.EqualValues(t, 1, stats.Running)
}

func TestBridgeEcho(t *testing.T) {
	d := newDispatcher(t)
	resp := invoke(t, d, protocol.CmdBridgeEcho, map[string]any{"a": []int{1, 2}})
	assert.JSONEq(t, `{"a":[1,2]}`, string(resp.Result))

	resp = invoke(t, d, protocol.CmdBridgeEcho, nil)
	require.True(t, resp.OK())
	assert.Equal(t, "null", string(resp.Result))
}

func TestSystemHealthHealthy(t *testing.T) {
	d := newDispatcher(t)
	var h Health
	require.NoError(t, invoke(t, d, protocol.CmdSystemHealth, nil).Decode(&h))
	assert.Equal(t, StatusHealthy, h.Status)
	assert.Empty(t, h.Warnings)
	assert.Empty(t, h.Errors)
	assert.Equal(t, StatusHealthy, h.Components["dispatcher"].Status)
}

func TestHandlersOutsideDispatcher(t *testing.T) {
	_, err := bridgeStats(context.Background(), nil)
	var perr *protocol.Error
	require.ErrorAs(t, err, &perr)
	assert.Equal(t, protocol.KindUnavailable, perr.Kind)
}

func TestEvaluate(t *testing.T) {
	h := Evaluate(3, dispatch.Stats{Workers: 2, Queued: 5, OpenBreakers: []string{"slow"}})
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Len(t, h.Warnings, 2)
	assert.Equal(t, StatusDegraded, h.Components["dispatcher"].Status)

	h = Evaluate(3, dispatch.Stats{Workers: 2, Closed: true})
	assert.Equal(t, StatusUnhealthy, h.Status)
	assert.Equal(t, []string{"dispatcher is closed"}, h.Errors)

	h = Evaluate(0, dispatch.Stats{Workers: 2})
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Equal(t, StatusDegraded, h.Components["registry"].Status)
}
