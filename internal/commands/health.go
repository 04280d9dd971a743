package commands

import (
	"context"
	"fmt"

	"github.com/friday-assistant/friday/dispatch"
)

// Health status values.
const (
	StatusHealthy   = "healthy"
	StatusDegraded  = "degraded"
	StatusUnhealthy = "unhealthy"
)

// Component is the health of one part of the host.
type Component struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// Health is the result of system.health.
type Health struct {
	Status     string               `json:"status"`
	Components map[string]Component `json:"components"`
	Warnings   []string             `json:"warnings"`
	Errors     []string             `json:"errors"`
}

func systemHealth(ctx context.Context, _ *dispatch.ExecutionContext) (Health, error) {
	d, err := dispatcherFrom(ctx)
	if err != nil {
		return Health{}, err
	}
	return Evaluate(d.Registry().Len(), d.Stats()), nil
}

// Evaluate derives the host health from a registry size and a dispatcher
// snapshot. Errors make the host unhealthy, warnings degrade it.
func Evaluate(commands int, stats dispatch.Stats) Health {
	h := Health{
		Components: make(map[string]Component, 2),
		Warnings:   []string{},
		Errors:     []string{},
	}

	if commands == 0 {
		h.Components["registry"] = Component{Status: StatusDegraded, Message: "no commands registered"}
		h.Warnings = append(h.Warnings, "registry is empty")
	} else {
		h.Components["registry"] = Component{Status: StatusHealthy, Message: fmt.Sprintf("%d commands", commands)}
	}

	dispatcher := Component{Status: StatusHealthy}
	switch {
	case stats.Closed:
		dispatcher = Component{Status: StatusUnhealthy, Message: "shutting down"}
		h.Errors = append(h.Errors, "dispatcher is closed")
	default:
		if len(stats.OpenBreakers) > 0 {
			dispatcher = Component{Status: StatusDegraded, Message: "circuit open"}
			for _, name := range stats.OpenBreakers {
				h.Warnings = append(h.Warnings, fmt.Sprintf("circuit open for %s", name))
			}
		}
		if stats.Queued > stats.Workers {
			dispatcher = Component{Status: StatusDegraded, Message: "backlog exceeds workers"}
			h.Warnings = append(h.Warnings, fmt.Sprintf("%d invocations queued for %d workers", stats.Queued, stats.Workers))
		}
	}
	h.Components["dispatcher"] = dispatcher

	switch {
	case len(h.Errors) > 0:
		h.Status = StatusUnhealthy
	case len(h.Warnings) > 0:
		h.Status = StatusDegraded
	default:
		h.Status = StatusHealthy
	}
	return h
}
