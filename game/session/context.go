// Package session holds the per-session state shared by the creature and the
// pocket dimension, and the loop that drives them.
package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/game/clock"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/rng"
	"github.com/kasuganosora/corrosion/game/sequence"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/replication"
)

// Context is injected into every component of a session. Nothing in it is
// process-global.
type Context struct {
	SessionID string
	NodeID    string
	Clock     *clock.Manual
	Rand      *rng.Randomizer
	Host      host.Host
	Channel   *replication.Channel
	Engine    *sequence.Engine
	Hooks     *hook.HookCenter
	Logger    *zap.Logger
}

// Options configures NewContext.
type Options struct {
	SessionID string
	NodeID    string
	Authority bool
	Seed      int64
	Host      host.Host
	Hooks     *hook.HookCenter
	Logger    *zap.Logger
	// PubSub and Store connect the channel to other nodes. Both nil keeps
	// the session local.
	PubSub cache.PubSub
	Store  cache.Cache
	// Channel overrides the channel built from PubSub and Store.
	Channel *replication.Channel
}

// NewContext wires a clock, randomizer, engine and channel for one session.
func NewContext(opts Options) *Context {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	logger = logger.With(zap.String("session", opts.SessionID))
	clk := clock.NewManual(0)
	ch := opts.Channel
	if ch == nil {
		ch = replication.NewChannel(replication.Config{
			SessionID: opts.SessionID,
			NodeID:    opts.NodeID,
			Authority: opts.Authority,
			Clock:     clk,
		}, opts.PubSub, opts.Store, logger)
	}
	return &Context{
		SessionID: opts.SessionID,
		NodeID:    opts.NodeID,
		Clock:     clk,
		Rand:      rng.New(opts.Seed),
		Host:      opts.Host,
		Channel:   ch,
		Engine:    sequence.New(clk, opts.Host.Control, logger),
		Hooks:     opts.Hooks,
		Logger:    logger,
	}
}

// Now returns the simulation time.
func (c *Context) Now() time.Duration { return c.Clock.Now() }

// Authority reports whether this node decides for the session.
func (c *Context) Authority() bool { return c.Channel.IsAuthority() }

// Fire triggers a hook event. It returns hook.ErrInterrupt when a handler
// vetoes the event; other handler errors are logged and swallowed.
func (c *Context) Fire(event string, player host.PlayerID, state string, detail map[string]any) error {
	if c.Hooks == nil {
		return nil
	}
	ev := hook.Event{
		Session: c.SessionID,
		Node:    c.NodeID,
		Player:  int(player),
		State:   state,
		SimMs:   c.Now().Milliseconds(),
		Detail:  detail,
	}
	_, err := c.Hooks.Trigger(context.Background(), event, ev)
	if errors.Is(err, hook.ErrInterrupt) {
		return err
	}
	if err != nil {
		c.Logger.Warn("hook failed", zap.String("event", event), zap.Error(err))
	}
	return nil
}
