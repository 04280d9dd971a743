// Package dispatch provides the command registry and the asynchronous
// dispatcher that run native handlers for invocations coming from the web
// view.
//
// A Registry is built once at startup and sealed before any invocation is
// served:
//
//	reg := dispatch.NewRegistry()
//	reg.MustRegister("ping", dispatch.NoArgs(ping))
//	d := dispatch.New(reg.Seal(), env)
//	d.Dispatch(inv, reply)
package dispatch

import (
	"sort"
	"sync"
)

// Registry maps command names to handlers while the application is being
// configured. It only accepts registrations until Seal is called.
type Registry struct {
	mu       sync.Mutex
	handlers map[string]Handler
	sealed   *SealedRegistry
}

// NewRegistry creates an empty registry in the building state.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]Handler),
	}
}

// Register binds a command name to a handler. A duplicate name leaves the
// first registration in place.
func (r *Registry) Register(name string, handler Handler) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed != nil {
		return &ConfigError{Command: name, Err: ErrRegistryClosed}
	}
	if name == "" || handler == nil {
		return &ConfigError{Command: name, Err: ErrInvalidCommand}
	}
	if _, exists := r.handlers[name]; exists {
		return &ConfigError{Command: name, Err: ErrDuplicateCommand}
	}
	r.handlers[name] = handler
	return nil
}

// MustRegister is Register for static builtin sets. It panics on error.
func (r *Registry) MustRegister(name string, handler Handler) {
	if err := r.Register(name, handler); err != nil {
		panic(err)
	}
}

// Seal freezes the registry. Later calls return the same sealed view.
func (r *Registry) Seal() *SealedRegistry {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.sealed != nil {
		return r.sealed
	}

	handlers := make(map[string]Handler, len(r.handlers))
	names := make([]string, 0, len(r.handlers))
	for name, h := range r.handlers {
		handlers[name] = h
		names = append(names, name)
	}
	sort.Strings(names)

	r.sealed = &SealedRegistry{handlers: handlers, names: names}
	return r.sealed
}

// Sealed reports whether Seal has been called.
func (r *Registry) Sealed() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.sealed != nil
}

// SealedRegistry is the immutable view of a Registry. It is safe for
// concurrent use without locking.
type SealedRegistry struct {
	handlers map[string]Handler
	names    []string
}

// Resolve returns the handler for name.
func (s *SealedRegistry) Resolve(name string) (Handler, bool) {
	h, ok := s.handlers[name]
	return h, ok
}

// Names returns the registered command names in sorted order.
func (s *SealedRegistry) Names() []string {
	out := make([]string, len(s.names))
	copy(out, s.names)
	return out
}

// Len returns the number of registered commands.
func (s *SealedRegistry) Len() int {
	return len(s.names)
}
