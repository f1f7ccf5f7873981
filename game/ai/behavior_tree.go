// Package ai provides the small behavior-tree toolkit the creature uses for
// its periodic evaluation.
package ai

import "time"

// Status is the result of a behavior tree node tick.
type Status int

const (
	StatusSuccess Status = iota
	StatusFailure
	StatusRunning
)

func (s Status) String() string {
	switch s {
	case StatusSuccess:
		return "success"
	case StatusFailure:
		return "failure"
	case StatusRunning:
		return "running"
	}
	return "unknown"
}

// Node is a single node in a behavior tree.
type Node interface {
	Tick(ctx *AIContext) Status
}

// ---- Composite nodes ----

// Selector succeeds as soon as one child succeeds (logical OR).
type Selector struct {
	Children []Node
}

func (s *Selector) Tick(ctx *AIContext) Status {
	for _, c := range s.Children {
		switch c.Tick(ctx) {
		case StatusSuccess:
			return StatusSuccess
		case StatusRunning:
			return StatusRunning
		}
	}
	return StatusFailure
}

// Sequence succeeds only when all children succeed (logical AND).
type Sequence struct {
	Children []Node
}

func (s *Sequence) Tick(ctx *AIContext) Status {
	for _, c := range s.Children {
		switch c.Tick(ctx) {
		case StatusFailure:
			return StatusFailure
		case StatusRunning:
			return StatusRunning
		}
	}
	return StatusSuccess
}

// ---- Leaf nodes ----

// ConditionNode evaluates a boolean predicate.
type ConditionNode struct {
	Fn func(*AIContext) bool
}

func (cn *ConditionNode) Tick(ctx *AIContext) Status {
	if cn.Fn(ctx) {
		return StatusSuccess
	}
	return StatusFailure
}

// ActionNode executes an action and returns its status.
type ActionNode struct {
	Name string
	Fn   func(*AIContext) Status
}

func (an *ActionNode) Tick(ctx *AIContext) Status {
	ctx.visit(an.Name)
	return an.Fn(ctx)
}

// Do wraps a side-effect that never decides the evaluation: it always fails
// so a Selector moves on to the next child.
func Do(name string, fn func(*AIContext)) Node {
	return &ActionNode{Name: name, Fn: func(ctx *AIContext) Status {
		fn(ctx)
		return StatusFailure
	}}
}

// Decide wraps an action that ends the evaluation when it returns true.
func Decide(name string, fn func(*AIContext) bool) Node {
	return &ActionNode{Name: name, Fn: func(ctx *AIContext) Status {
		if fn(ctx) {
			return StatusSuccess
		}
		return StatusFailure
	}}
}

// ---- Decorator nodes ----

// Inverter negates the result of its child.
type Inverter struct {
	Child Node
}

func (i *Inverter) Tick(ctx *AIContext) Status {
	switch i.Child.Tick(ctx) {
	case StatusSuccess:
		return StatusFailure
	case StatusFailure:
		return StatusSuccess
	default:
		return StatusRunning
	}
}

// Succeeder reports success whatever its child returns.
type Succeeder struct {
	Child Node
}

func (s *Succeeder) Tick(ctx *AIContext) Status {
	s.Child.Tick(ctx)
	return StatusSuccess
}

// ---- BehaviorTree root ----

// BehaviorTree wraps the root node.
type BehaviorTree struct {
	Name string
	Root Node

	last     time.Duration
	lastPath []string
}

// Tick runs one evaluation of the behavior tree at simulation time now.
func (bt *BehaviorTree) Tick(now time.Duration) Status {
	if bt.Root == nil {
		return StatusFailure
	}
	ctx := &AIContext{Now: now, Interval: now - bt.last}
	bt.last = now
	st := bt.Root.Tick(ctx)
	bt.lastPath = ctx.Trace
	return st
}

// LastPath returns the actions visited by the most recent evaluation.
func (bt *BehaviorTree) LastPath() []string {
	return append([]string(nil), bt.lastPath...)
}
