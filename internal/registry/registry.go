// Package registry maps action types to handlers. Registration enforces
// the canonical safety table: a handler that misreports its own safety
// level is rejected, so the orchestrator never has to trust handler code
// for the confirmation decision.
package registry

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/peter-hollis-orkastrate/engram-sub001/internal/task"
)

var (
	ErrUnknownActionType = errors.New("unknown action type")
	ErrSafetyMismatch    = errors.New("handler safety level does not match canonical table")
	ErrHandlerInFlight   = errors.New("handler has in-flight tasks")
	ErrNoHandler         = errors.New("no handler registered")
)

// Handler is the capability set a concrete action implements.
//
// Execute must be safe for concurrent invocation across different tasks;
// the orchestrator serialises per task, not per handler. Describe must not
// mutate state: it feeds the confirmation UI.
type Handler interface {
	ActionType() task.ActionType
	SafetyLevel() task.SafetyLevel
	Describe(payload task.Payload) string
	Execute(ctx context.Context, payload task.Payload) (task.ActionResult, error)
}

// Registry is a flat map of action type to handler with O(1) lookup.
type Registry struct {
	mu       sync.RWMutex
	handlers map[task.ActionType]Handler
	inFlight map[task.ActionType]int
}

// New returns an empty Registry.
func New() *Registry {
	return &Registry{
		handlers: make(map[task.ActionType]Handler),
		inFlight: make(map[task.ActionType]int),
	}
}

// Register adds a handler. Registration is idempotent per action type;
// re-registration replaces the prior handler only when no in-flight task
// references it.
func (r *Registry) Register(h Handler) error {
	at := h.ActionType()
	if !task.KnownActionType(at) {
		return fmt.Errorf("%w: %q", ErrUnknownActionType, at)
	}
	if h.SafetyLevel() != task.SafetyFor(at) {
		return fmt.Errorf("%w: %q reports %q, canonical is %q",
			ErrSafetyMismatch, at, h.SafetyLevel(), task.SafetyFor(at))
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.handlers[at]; exists && r.inFlight[at] > 0 {
		return fmt.Errorf("%w: %q (%d in flight)", ErrHandlerInFlight, at, r.inFlight[at])
	}
	r.handlers[at] = h
	return nil
}

// Lookup returns the handler for an action type.
func (r *Registry) Lookup(at task.ActionType) (Handler, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	h, ok := r.handlers[at]
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrNoHandler, at)
	}
	return h, nil
}

// Acquire marks an execution in flight for the handler's action type.
// The returned release must be called exactly once when the execution
// completes; it gates handler replacement.
func (r *Registry) Acquire(at task.ActionType) (release func()) {
	r.mu.Lock()
	r.inFlight[at]++
	r.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			r.mu.Lock()
			if r.inFlight[at] > 0 {
				r.inFlight[at]--
			}
			r.mu.Unlock()
		})
	}
}

// ActionTypes returns the registered action types.
func (r *Registry) ActionTypes() []task.ActionType {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]task.ActionType, 0, len(r.handlers))
	for at := range r.handlers {
		out = append(out, at)
	}
	return out
}
