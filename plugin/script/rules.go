package script

import (
	"context"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/plugin/hook"
)

// rulePriority runs rules before the journal so a veto is what gets recorded.
const rulePriority = 100

// Rule is one script bound to a hook event. The script sees the payload as
// the global `event` and can call log(msg). Evaluating to false vetoes
// events that support it.
type Rule struct {
	Name   string
	Event  string
	Source string
	File   string
}

// Load reads File into Source when Source is empty.
func (r *Rule) Load() error {
	if r.Source != "" || r.File == "" {
		return nil
	}
	b, err := os.ReadFile(r.File)
	if err != nil {
		return fmt.Errorf("script %s: %w", r.Name, err)
	}
	r.Source = string(b)
	return nil
}

// Engine registers rules on a hook center.
type Engine struct {
	sb     *Sandbox
	logger *zap.Logger
	rules  []Rule
}

// NewEngine creates an Engine. Every rule is loaded up front.
func NewEngine(sb *Sandbox, rules []Rule, logger *zap.Logger) (*Engine, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	loaded := make([]Rule, 0, len(rules))
	for _, r := range rules {
		if r.Event == "" {
			return nil, fmt.Errorf("script %s: event is required", r.Name)
		}
		if err := r.Load(); err != nil {
			return nil, err
		}
		if r.Source == "" {
			return nil, fmt.Errorf("script %s: empty source", r.Name)
		}
		if r.Name == "" {
			r.Name = r.Event
		}
		loaded = append(loaded, r)
	}
	return &Engine{sb: sb, logger: logger, rules: loaded}, nil
}

// Attach registers every rule on hc.
func (e *Engine) Attach(hc *hook.HookCenter) {
	for _, r := range e.rules {
		hc.Register(r.Event, rulePriority, "script:"+r.Name, e.handler(r))
	}
}

// Rules returns the loaded rules.
func (e *Engine) Rules() []Rule { return e.rules }

func (e *Engine) handler(r Rule) hook.HookFn {
	log := e.logger.With(zap.String("script", r.Name))
	return func(ctx context.Context, event string, data any) (any, error) {
		ev, ok := data.(hook.Event)
		if !ok {
			return data, nil
		}
		out, err := e.sb.Eval(ctx, r.Source, Bindings{
			"event": map[string]any{
				"name":    event,
				"session": ev.Session,
				"node":    ev.Node,
				"player":  ev.Player,
				"state":   ev.State,
				"sim_ms":  ev.SimMs,
				"detail":  ev.Detail,
			},
			"log": func(msg string) { log.Info(msg, zap.Int("player", ev.Player)) },
		})
		if err != nil {
			// A broken rule never blocks the event.
			return data, nil
		}
		if veto, ok := out.(bool); ok && !veto {
			log.Debug("event vetoed", zap.String("event", event), zap.Int("player", ev.Player))
			return data, hook.ErrInterrupt
		}
		return data, nil
	}
}
