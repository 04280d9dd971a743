package dispatch

import (
	"errors"
	"time"

	"github.com/sony/gobreaker/v2"
	"go.uber.org/zap"

	"github.com/friday-assistant/friday/protocol"
)

// BreakerConfig configures the per-command circuit breakers.
type BreakerConfig struct {
	// Enabled turns breakers on. Off by default.
	Enabled bool

	// MaxRequests is the number of trial invocations allowed half-open.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// failure counts are cleared.
	Interval time.Duration

	// Timeout is how long a breaker stays open.
	Timeout time.Duration

	// FailureThreshold is the number of consecutive faults that trips it.
	FailureThreshold uint32
}

// DefaultBreakerConfig returns the settings used when breakers are enabled
// without further tuning.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		Enabled:          false,
		MaxRequests:      1,
		Interval:         time.Minute,
		Timeout:          30 * time.Second,
		FailureThreshold: 5,
	}
}

// errFault marks an invocation that ended in an InternalFault so the
// breaker counts it. Handler-reported errors are ordinary outcomes.
var errFault = errors.New("handler fault")

func newBreakers(names []string, cfg BreakerConfig, logger *zap.SugaredLogger) map[string]*gobreaker.CircuitBreaker[protocol.Response] {
	if !cfg.Enabled {
		return nil
	}
	threshold := cfg.FailureThreshold
	if threshold == 0 {
		threshold = 1
	}

	breakers := make(map[string]*gobreaker.CircuitBreaker[protocol.Response], len(names))
	for _, name := range names {
		breakers[name] = gobreaker.NewCircuitBreaker[protocol.Response](gobreaker.Settings{
			Name:        name,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= threshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warnw("[dispatch] circuit breaker state changed",
					"command", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}
	return breakers
}

// openBreakers returns the names of commands whose breaker is not closed.
func (d *Dispatcher) openBreakers() []string {
	var open []string
	for _, name := range d.registry.Names() {
		cb, ok := d.breakers[name]
		if !ok {
			continue
		}
		if cb.State() != gobreaker.StateClosed {
			open = append(open, name)
		}
	}
	return open
}

func isBreakerRejection(err error) bool {
	return errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests)
}
