// Package commands registers the builtin diagnostic commands every FRIDAY
// host exposes to the web view.
package commands

import (
	"context"
	"encoding/json"
	"runtime"
	"time"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/protocol"
)

// Info is the result of system.info.
type Info struct {
	Name          string    `json:"name"`
	Version       string    `json:"version"`
	GoVersion     string    `json:"go_version"`
	OS            string    `json:"os"`
	Arch          string    `json:"arch"`
	UptimeSeconds float64   `json:"uptime_seconds"`
	StartedAt     time.Time `json:"started_at"`
}

// Register adds the builtin commands to reg.
func Register(reg *dispatch.Registry) error {
	builtins := []struct {
		name    string
		handler dispatch.Handler
	}{
		{protocol.CmdPing, dispatch.NoArgs(ping)},
		{protocol.CmdSystemInfo, dispatch.NoArgs(systemInfo)},
		{protocol.CmdSystemHealth, dispatch.NoArgs(systemHealth)},
		{protocol.CmdAppCommands, dispatch.NoArgs(appCommands)},
		{protocol.CmdBridgeStats, dispatch.NoArgs(bridgeStats)},
		{protocol.CmdBridgeEcho, dispatch.HandlerFunc(echo)},
	}
	for _, b := range builtins {
		if err := reg.Register(b.name, b.handler); err != nil {
			return err
		}
	}
	return nil
}

func ping(context.Context, *dispatch.ExecutionContext) (string, error) {
	return "pong", nil
}

func systemInfo(_ context.Context, ec *dispatch.ExecutionContext) (Info, error) {
	return Info{
		Name:          ec.AppName,
		Version:       ec.Version,
		GoVersion:     runtime.Version(),
		OS:            runtime.GOOS,
		Arch:          runtime.GOARCH,
		UptimeSeconds: ec.Uptime().Seconds(),
		StartedAt:     ec.StartedAt,
	}, nil
}

func appCommands(ctx context.Context, _ *dispatch.ExecutionContext) ([]string, error) {
	d, err := dispatcherFrom(ctx)
	if err != nil {
		return nil, err
	}
	return d.Registry().Names(), nil
}

func bridgeStats(ctx context.Context, _ *dispatch.ExecutionContext) (dispatch.Stats, error) {
	d, err := dispatcherFrom(ctx)
	if err != nil {
		return dispatch.Stats{}, err
	}
	return d.Stats(), nil
}

func echo(_ context.Context, _ *dispatch.ExecutionContext, args json.RawMessage) (any, error) {
	if len(args) == 0 {
		return nil, nil
	}
	return args, nil
}

func dispatcherFrom(ctx context.Context) (*dispatch.Dispatcher, error) {
	info, ok := dispatch.CallInfoFromContext(ctx)
	if !ok || info.Dispatcher == nil {
		return nil, protocol.Errorf(protocol.KindUnavailable, "no dispatcher in context")
	}
	return info.Dispatcher, nil
}
