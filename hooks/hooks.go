// Package hooks implements the Event Hook Bus: a light observer facility
// shared by the Coordinator and the Verification Controller that lets
// external collaborators subscribe to named lifecycle events.
package hooks

import (
	"fmt"
	"sync"
)

// InvalidEventError is returned when a caller registers or executes a
// hook for an event name the Bus wasn't configured to allow.
type InvalidEventError struct {
	Event string
}

func (e *InvalidEventError) Error() string {
	return fmt.Sprintf("invalid hook event: %q", e.Event)
}

// Func is a hook callback. Arguments are passed positionally, matching
// the event's documented signature; callers type-assert them.
type Func func(args ...any) error

// Hook pairs a registered callback with its own active/raise_error
// flags, matching the original EventHook object rather than treating
// those as bus-wide settings: one hook can opt into raise_error while
// its neighbor on the same event stays silent, and either can be
// toggled off without unregistering.
type Hook struct {
	Fn         Func
	Active     bool
	RaiseError bool
}

// Option configures a Hook at registration time.
type Option func(*Hook)

// Inactive registers the hook already disabled; SetActive can flip it
// later via the handle Register returns.
func Inactive() Option {
	return func(h *Hook) { h.Active = false }
}

// RaiseError makes Execute return this hook's error immediately instead
// of swallowing it, matching the original's `raise_error = true`.
func RaiseError() Option {
	return func(h *Hook) { h.RaiseError = true }
}

// Bus is a named-event pub/sub facility. Each Bus instance is restricted
// to a fixed set of allowed event names, given at construction time.
type Bus struct {
	mu      sync.Mutex
	allowed map[string]struct{}
	hooks   map[string][]*Hook
}

// New constructs a Bus that only accepts the given event names.
func New(events ...string) *Bus {
	allowed := make(map[string]struct{}, len(events))
	for _, e := range events {
		allowed[e] = struct{}{}
	}
	return &Bus{
		allowed: allowed,
		hooks:   make(map[string][]*Hook),
	}
}

// Register adds fn as a callback for event, applying opts to its Hook.
// Returns the Hook so a caller can toggle Active later, or
// InvalidEventError if event isn't in the Bus's allowed set.
func (b *Bus) Register(event string, fn Func, opts ...Option) (*Hook, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if _, ok := b.allowed[event]; !ok {
		return nil, &InvalidEventError{Event: event}
	}
	h := &Hook{Fn: fn, Active: true}
	for _, opt := range opts {
		opt(h)
	}
	b.hooks[event] = append(b.hooks[event], h)
	return h, nil
}

// SetActive toggles whether h dispatches at all, without unregistering
// it — matching the original's per-hook `active` flag.
func (h *Hook) SetActive(active bool) {
	h.Active = active
}

// Execute dispatches every active hook registered for event, in
// registration order. An inactive hook is skipped. A hook's error is
// swallowed unless that hook declared RaiseError, in which case Execute
// returns immediately with that error; later hooks for the event are
// not run. Unknown events raise InvalidEventError immediately, same as
// Register — dispatch isn't a looser contract than registration.
func (b *Bus) Execute(event string, args ...any) error {
	b.mu.Lock()
	if _, ok := b.allowed[event]; !ok {
		b.mu.Unlock()
		return &InvalidEventError{Event: event}
	}
	hs := append([]*Hook(nil), b.hooks[event]...)
	b.mu.Unlock()

	for _, h := range hs {
		if !h.Active {
			continue
		}
		if err := h.Fn(args...); err != nil && h.RaiseError {
			return err
		}
	}
	return nil
}
