// Package sequence runs named multi-step timed choreographies. Runs advance
// on the simulation tick, can be cancelled by id, and always restore the
// control overlay they applied, however they end.
package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/clock"
	"github.com/kasuganosora/corrosion/game/host"
)

var (
	// ErrGuardHeld is returned when an exclusive run is already active.
	ErrGuardHeld = errors.New("sequence: special sequence already active")
	// ErrStaleTarget aborts a run whose player left or died.
	ErrStaleTarget = errors.New("sequence: target no longer valid")
	// ErrInvalidScript rejects malformed scripts at start.
	ErrInvalidScript = errors.New("sequence: invalid script")
)

// maxInstantSteps bounds zero-duration step chains within one advance.
const maxInstantSteps = 256

// Outcome describes how a run ended.
type Outcome int

const (
	Completed Outcome = iota
	Cancelled
	Aborted
)

func (o Outcome) String() string {
	switch o {
	case Completed:
		return "completed"
	case Cancelled:
		return "cancelled"
	case Aborted:
		return "aborted"
	}
	return "unknown"
}

// Step is one stage of a script. A step with neither Wait nor Until is
// instantaneous. With Until set, Wait is a timeout: the timeout is checked
// before the predicate on every tick.
type Step struct {
	Name      string
	Enter     func(r *Run) error
	Wait      time.Duration
	Until     func(r *Run) bool
	Tick      func(r *Run, dt time.Duration)
	OnTimeout string
}

// Script is an immutable sequence definition.
type Script struct {
	Name      string
	Exclusive bool
	Steps     []Step
	OnExit    func(r *Run, o Outcome, err error)
}

func (s *Script) index(name string) int {
	for i, st := range s.Steps {
		if st.Name == name {
			return i
		}
	}
	return -1
}

func (s *Script) validate() error {
	if len(s.Steps) == 0 {
		return fmt.Errorf("%w: %s has no steps", ErrInvalidScript, s.Name)
	}
	for _, st := range s.Steps {
		if st.OnTimeout != "" && s.index(st.OnTimeout) < 0 {
			return fmt.Errorf("%w: %s: unknown step %q", ErrInvalidScript, s.Name, st.OnTimeout)
		}
	}
	return nil
}

// Engine owns all live runs of one session. It is not safe for concurrent
// use; the session loop is its only caller.
type Engine struct {
	clock   clock.Clock
	control host.PlayerControl
	logger  *zap.Logger
	tracer  trace.Tracer

	runs    []*Run
	holder  *Run
	applied map[host.PlayerID]Overlay
}

// New creates an engine. control may be nil on nodes that do not drive avatars.
func New(c clock.Clock, control host.PlayerControl, logger *zap.Logger) *Engine {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engine{
		clock:   c,
		control: control,
		logger:  logger,
		tracer:  otel.Tracer("github.com/kasuganosora/corrosion/game/sequence"),
		applied: make(map[host.PlayerID]Overlay),
	}
}

// Start begins a run of s and enters its first step immediately.
func (e *Engine) Start(s *Script, player host.PlayerID, data any) (*Run, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if s.Exclusive && e.holder != nil {
		return nil, ErrGuardHeld
	}
	r := &Run{
		ID:        uuid.NewString(),
		Script:    s,
		Player:    player,
		Data:      data,
		StartedAt: e.clock.Now(),
		engine:    e,
		jump:      -1,
	}
	_, r.span = e.tracer.Start(context.Background(), "sequence."+s.Name,
		trace.WithAttributes(
			attribute.String("sequence.run_id", r.ID),
			attribute.Int("sequence.player", int(player)),
			attribute.Bool("sequence.exclusive", s.Exclusive),
		))
	if s.Exclusive {
		e.holder = r
	}
	e.compact()
	e.runs = append(e.runs, r)
	e.logger.Debug("sequence started",
		zap.String("script", s.Name),
		zap.String("run_id", r.ID),
		zap.Int("player", int(player)))
	e.guard(r, func() { e.enter(r, 0) })
	return r, nil
}

// Resume starts s as if it had begun elapsed ago. Steps that elapsed already
// covers are entered and left in order, as Advance would have.
func (e *Engine) Resume(s *Script, player host.PlayerID, data any, elapsed time.Duration) (*Run, error) {
	r, err := e.Start(s, player, data)
	if err != nil || elapsed <= 0 {
		return r, err
	}
	r.StartedAt -= elapsed
	if !r.done {
		e.guard(r, func() { e.advance(r, elapsed) })
	}
	return r, nil
}

// Cancel ends the run with the given id. Cancelling a finished or unknown
// run is a no-op and returns false.
func (e *Engine) Cancel(id string) bool {
	for _, r := range e.runs {
		if r.ID == id && !r.done {
			e.finish(r, Cancelled, nil)
			return true
		}
	}
	return false
}

// CancelWhere cancels every live run matching fn and returns the count.
func (e *Engine) CancelWhere(fn func(r *Run) bool) int {
	n := 0
	for _, r := range append([]*Run(nil), e.runs...) {
		if !r.done && fn(r) {
			e.finish(r, Cancelled, nil)
			n++
		}
	}
	return n
}

// CancelAll ends every live run.
func (e *Engine) CancelAll() int {
	return e.CancelWhere(func(*Run) bool { return true })
}

// Advance moves every live run forward by dt. Time left over when a step
// completes carries into the next step.
func (e *Engine) Advance(dt time.Duration) {
	if dt <= 0 {
		return
	}
	for _, r := range append([]*Run(nil), e.runs...) {
		if !r.done {
			e.guard(r, func() { e.advance(r, dt) })
		}
	}
	e.compact()
}

// InSpecialSequence reports whether an exclusive run holds the guard.
func (e *Engine) InSpecialSequence() bool { return e.holder != nil }

// Holder returns the run holding the guard, or nil.
func (e *Engine) Holder() *Run { return e.holder }

// Find returns a live run by id.
func (e *Engine) Find(id string) (*Run, bool) {
	for _, r := range e.runs {
		if r.ID == id && !r.done {
			return r, true
		}
	}
	return nil, false
}

// Active returns the live runs in start order.
func (e *Engine) Active() []*Run {
	out := make([]*Run, 0, len(e.runs))
	for _, r := range e.runs {
		if !r.done {
			out = append(out, r)
		}
	}
	return out
}

// Overlay returns the effective overlay currently applied to a player.
func (e *Engine) Overlay(id host.PlayerID) Overlay {
	if o, ok := e.applied[id]; ok {
		return o
	}
	return Neutral()
}

func (e *Engine) guard(r *Run, fn func()) {
	defer func() {
		if p := recover(); p != nil {
			e.logger.Error("sequence panic",
				zap.String("script", r.Script.Name),
				zap.String("run_id", r.ID),
				zap.Any("panic", p))
			e.finish(r, Aborted, fmt.Errorf("sequence %s: panic: %v", r.Script.Name, p))
		}
	}()
	fn()
}

func (e *Engine) advance(r *Run, dt time.Duration) {
	remaining := dt
	for !r.done && remaining > 0 {
		st := &r.Script.Steps[r.step]
		bounded := st.Wait > 0
		adv := remaining
		if bounded {
			if need := st.Wait - r.elapsed; need < adv {
				adv = need
			}
		}
		r.elapsed += adv
		remaining -= adv

		if st.Tick != nil && adv > 0 {
			r.jump = -1
			st.Tick(r, adv)
			if r.done {
				return
			}
			if r.jump >= 0 {
				e.enter(r, r.jump)
				continue
			}
		}
		if bounded && r.elapsed >= st.Wait {
			next := r.step + 1
			if st.Until != nil {
				r.timedOut = true
				if st.OnTimeout != "" {
					next = r.Script.index(st.OnTimeout)
				}
			}
			e.enter(r, next)
			continue
		}
		if st.Until != nil && st.Until(r) {
			e.enter(r, r.step+1)
			continue
		}
	}
}

func (e *Engine) enter(r *Run, idx int) {
	for n := 0; !r.done; n++ {
		if n > maxInstantSteps {
			e.finish(r, Aborted, fmt.Errorf("sequence %s: step loop", r.Script.Name))
			return
		}
		if idx < 0 || idx >= len(r.Script.Steps) {
			e.finish(r, Completed, nil)
			return
		}
		r.step, r.elapsed, r.jump = idx, 0, -1
		st := &r.Script.Steps[idx]
		if st.Enter != nil {
			if err := st.Enter(r); err != nil {
				e.finish(r, Aborted, err)
				return
			}
			if r.done {
				return
			}
			if r.jump >= 0 {
				idx = r.jump
				continue
			}
		}
		if st.Wait == 0 && st.Until == nil {
			idx++
			continue
		}
		return
	}
}

func (e *Engine) finish(r *Run, o Outcome, err error) {
	if r.done {
		return
	}
	r.done, r.outcome, r.err = true, o, err
	if r.layer != nil {
		r.layer = nil
		e.reapply(r.Player)
	}
	if e.holder == r {
		e.holder = nil
	}
	r.span.SetAttributes(
		attribute.String("sequence.outcome", o.String()),
		attribute.String("sequence.step", r.StepName()),
	)
	if err != nil {
		r.span.RecordError(err)
	}
	r.span.End()

	fields := []zap.Field{
		zap.String("script", r.Script.Name),
		zap.String("run_id", r.ID),
		zap.String("outcome", o.String()),
		zap.String("step", r.StepName()),
	}
	if err != nil && !errors.Is(err, ErrStaleTarget) {
		e.logger.Warn("sequence ended", append(fields, zap.Error(err))...)
	} else {
		e.logger.Debug("sequence ended", fields...)
	}
	if r.Script.OnExit != nil {
		r.Script.OnExit(r, o, err)
	}
}

func (e *Engine) reapply(id host.PlayerID) {
	var layers []Overlay
	for _, r := range e.runs {
		if !r.done && r.layer != nil && r.Player == id {
			layers = append(layers, *r.layer)
		}
	}
	next := compose(layers)
	prev := e.Overlay(id)
	push(e.control, id, prev, next)
	if next.Equal(Neutral()) {
		delete(e.applied, id)
	} else {
		e.applied[id] = next
	}
}

func (e *Engine) compact() {
	live := e.runs[:0]
	for _, r := range e.runs {
		if !r.done {
			live = append(live, r)
		}
	}
	for i := len(live); i < len(e.runs); i++ {
		e.runs[i] = nil
	}
	e.runs = live
}
