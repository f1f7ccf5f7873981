// Package hook lets in-process plugins observe and veto creature events.
package hook

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
)

// ErrInterrupt signals that a Hook handler wants to stop further processing.
var ErrInterrupt = errors.New("hook interrupted")

// HookFn is a hook handler function.
// Returns (modified data, nil) to continue, or (data, ErrInterrupt) to stop.
type HookFn func(ctx context.Context, event string, data any) (any, error)

type hookEntry struct {
	priority int
	fn       HookFn
	name     string
}

// HookCenter manages event hook registrations.
type HookCenter struct {
	mu    sync.RWMutex
	hooks map[string][]*hookEntry
}

// NewHookCenter creates a new HookCenter.
func NewHookCenter() *HookCenter {
	return &HookCenter{hooks: make(map[string][]*hookEntry)}
}

// Register adds a HookFn for the given event with the given priority (lower runs first).
// name is used for Unregister.
func (hc *HookCenter) Register(event string, priority int, name string, fn HookFn) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event]
	entries = append(entries, &hookEntry{priority: priority, fn: fn, name: name})
	sort.Slice(entries, func(i, j int) bool {
		return entries[i].priority < entries[j].priority
	})
	hc.hooks[event] = entries
}

// Unregister removes all hooks with the given name for the given event.
func (hc *HookCenter) Unregister(event, name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	entries := hc.hooks[event]
	n := 0
	for _, e := range entries {
		if e.name != name {
			entries[n] = e
			n++
		}
	}
	hc.hooks[event] = entries[:n]
}

// UnregisterAll removes all hooks registered with the given name across all events.
func (hc *HookCenter) UnregisterAll(name string) {
	hc.mu.Lock()
	defer hc.mu.Unlock()
	for event, entries := range hc.hooks {
		n := 0
		for _, e := range entries {
			if e.name != name {
				entries[n] = e
				n++
			}
		}
		hc.hooks[event] = entries[:n]
	}
}

// Trigger runs the handlers for event in priority order, threading data
// through each. ErrInterrupt stops the chain and is returned as is. Other
// handler errors and panics do not stop the chain; they are joined and
// returned once every handler has run.
func (hc *HookCenter) Trigger(ctx context.Context, event string, data any) (any, error) {
	hc.mu.RLock()
	entries := make([]*hookEntry, len(hc.hooks[event]))
	copy(entries, hc.hooks[event])
	hc.mu.RUnlock()

	var failed []error
	for _, e := range entries {
		out, err := e.call(ctx, event, data)
		if errors.Is(err, ErrInterrupt) {
			return out, ErrInterrupt
		}
		if err != nil {
			failed = append(failed, fmt.Errorf("hook %s: %w", e.name, err))
			continue
		}
		data = out
	}
	return data, errors.Join(failed...)
}

func (e *hookEntry) call(ctx context.Context, event string, data any) (out any, err error) {
	defer func() {
		if p := recover(); p != nil {
			out, err = data, fmt.Errorf("panic: %v", p)
		}
	}()
	return e.fn(ctx, event, data)
}

// Handlers reports how many handlers are registered for event.
func (hc *HookCenter) Handlers(event string) int {
	hc.mu.RLock()
	defer hc.mu.RUnlock()
	return len(hc.hooks[event])
}

// ---- Hook event names ----

const (
	// BeforeInteraction fires on the authority before a collision is
	// resolved. Returning ErrInterrupt vetoes the interaction.
	BeforeInteraction = "before_interaction"
	OnStateChange     = "on_state_change"
	OnPlayerSpotted   = "on_player_spotted"
	OnPlayerKilled    = "on_player_killed"
	OnPlayerPushed    = "on_player_pushed"
	OnKillInterrupted = "on_kill_interrupted"
	OnPocketEnter     = "on_pocket_enter"
	OnPocketRoom      = "on_pocket_room"
	OnPocketEscape    = "on_pocket_escape"
	OnPocketDeath     = "on_pocket_death"
)

// Event is the payload passed to handlers of the events above.
type Event struct {
	Session string         `json:"session"`
	Node    string         `json:"node"`
	Player  int            `json:"player"`
	State   string         `json:"state,omitempty"`
	SimMs   int64          `json:"sim_ms"`
	Detail  map[string]any `json:"detail,omitempty"`
}
