package sequence

import (
	"fmt"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/kasuganosora/corrosion/game/host"
)

// Run is one live execution of a Script.
type Run struct {
	ID        string
	Script    *Script
	Player    host.PlayerID
	Data      any
	StartedAt time.Duration

	engine   *Engine
	step     int
	elapsed  time.Duration
	jump     int
	timedOut bool
	done     bool
	outcome  Outcome
	err      error
	layer    *Overlay
	span     trace.Span
}

// StepName returns the name of the current step.
func (r *Run) StepName() string {
	if r.step < 0 || r.step >= len(r.Script.Steps) {
		return ""
	}
	return r.Script.Steps[r.step].Name
}

// StepIndex returns the current step index.
func (r *Run) StepIndex() int { return r.step }

// Elapsed is the time spent in the current step.
func (r *Run) Elapsed() time.Duration { return r.elapsed }

// Total is the time since the run started.
func (r *Run) Total() time.Duration { return r.engine.clock.Now() - r.StartedAt }

// TimedOut reports whether the run left a predicate step through its timeout.
func (r *Run) TimedOut() bool { return r.timedOut }

// Done reports whether the run has ended.
func (r *Run) Done() bool { return r.done }

// Outcome returns how the run ended. Only meaningful once Done.
func (r *Run) Outcome() Outcome { return r.outcome }

// Err returns the abort reason, if any.
func (r *Run) Err() error { return r.err }

// Goto jumps to the named step once the current callback returns.
func (r *Run) Goto(name string) {
	idx := r.Script.index(name)
	if idx < 0 {
		r.engine.finish(r, Aborted, fmt.Errorf("%w: %s: unknown step %q", ErrInvalidScript, r.Script.Name, name))
		return
	}
	r.jump = idx
}

// Finish completes the run early.
func (r *Run) Finish() { r.engine.finish(r, Completed, nil) }

// Abort ends the run with err.
func (r *Run) Abort(err error) { r.engine.finish(r, Aborted, err) }

// SetOverlay edits this run's layer on its player and applies the result.
func (r *Run) SetOverlay(fn func(o *Overlay)) {
	if r.done || !r.Player.Valid() {
		return
	}
	if r.layer == nil {
		n := Neutral()
		r.layer = &n
	}
	fn(r.layer)
	r.engine.reapply(r.Player)
}

// Layer returns a copy of this run's overlay layer.
func (r *Run) Layer() (Overlay, bool) {
	if r.layer == nil {
		return Overlay{}, false
	}
	return *r.layer, true
}

// ReleaseOverlay drops this run's layer before the run ends.
func (r *Run) ReleaseOverlay() {
	if r.layer == nil {
		return
	}
	r.layer = nil
	r.engine.reapply(r.Player)
}
