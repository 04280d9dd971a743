// Package acl restricts which commands a transport may invoke. A control
// socket reachable by other local tools can be limited to a subset of the
// registry while the web view keeps full access.
//
// Example config:
//
//	acl:
//	  rules:
//	    - description: diagnostics only
//	      commands: ["ping", "system.*", "bridge.stats"]
//	    - commands: ["system.shutdown"]
//	      deny: true
package acl

import (
	"errors"
	"fmt"
	"path"

	"go.uber.org/zap"

	"github.com/friday-assistant/friday/dispatch"
	"github.com/friday-assistant/friday/protocol"
)

// Rule matches command names by glob pattern (path.Match syntax).
type Rule struct {
	Description string   `mapstructure:"description"`
	Commands    []string `mapstructure:"commands"`
	Deny        bool     `mapstructure:"deny"`
}

// RuleSet is an ordered list of rules. An empty set allows everything;
// otherwise a command needs at least one matching allow rule and no
// matching deny rule.
type RuleSet struct {
	Rules []Rule `mapstructure:"rules"`
}

// Validate reports empty rules and malformed patterns.
func (rs RuleSet) Validate() error {
	var errs []error
	for i, rule := range rs.Rules {
		if len(rule.Commands) == 0 {
			errs = append(errs, fmt.Errorf("rule %d: no commands", i))
		}
		for _, pattern := range rule.Commands {
			if _, err := path.Match(pattern, ""); err != nil {
				errs = append(errs, fmt.Errorf("rule %d: bad pattern %q: %w", i, pattern, err))
			}
		}
	}
	return errors.Join(errs...)
}

// Enabled reports whether the set restricts anything.
func (rs RuleSet) Enabled() bool {
	return len(rs.Rules) > 0
}

// Can checks whether command may be invoked.
func (rs RuleSet) Can(command string) bool {
	if len(rs.Rules) == 0 {
		return true
	}

	matches := false
	for _, rule := range rs.Rules {
		if !rule.matches(command) {
			continue
		}
		if rule.Deny {
			return false
		}
		matches = true
	}
	return matches
}

func (r Rule) matches(command string) bool {
	for _, pattern := range r.Commands {
		if ok, _ := path.Match(pattern, command); ok {
			return true
		}
	}
	return false
}

// Dispatcher is the dispatch entry point a Guard protects.
type Dispatcher interface {
	Dispatch(inv protocol.Invocation, reply dispatch.Reply)
}

// Guard answers invocations the rule set rejects with a Forbidden error and
// passes everything else on.
type Guard struct {
	next   Dispatcher
	rules  RuleSet
	logger *zap.SugaredLogger
}

// NewGuard wraps next with rules.
func NewGuard(next Dispatcher, rules RuleSet, logger *zap.SugaredLogger) *Guard {
	if logger == nil {
		logger = zap.NewNop().Sugar()
	}
	return &Guard{next: next, rules: rules, logger: logger}
}

// Dispatch implements Dispatcher.
func (g *Guard) Dispatch(inv protocol.Invocation, reply dispatch.Reply) {
	if g.rules.Can(inv.Name) {
		g.next.Dispatch(inv, reply)
		return
	}
	g.logger.Warnw("[acl] command denied", "command", inv.Name, "id", inv.ID)
	if reply != nil {
		reply(inv.Reply(protocol.Failure(inv.ID, &protocol.Error{
			Kind:    protocol.KindForbidden,
			Message: fmt.Sprintf("command %q is not permitted on this transport", inv.Name),
			Command: inv.Name,
		})))
	}
}
