package session

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
)

// ErrLoopBusy is returned by Query when the inbox is full.
var ErrLoopBusy = errors.New("session: inbox full")

// LoopConfig tunes the simulation loop.
type LoopConfig struct {
	Tick      time.Duration // default 50ms (20 TPS)
	AIEvery   int           // ticks between AI evaluations, default 4
	InboxSize int           // default 1024
}

// Loop is the single goroutine that owns a session's state. Network input
// is queued onto it with Do; each tick drains the queue, advances the clock
// and the sequence engine, then runs tick and interval hooks.
type Loop struct {
	sc         *Context
	cfg        LoopConfig
	inbox      chan func()
	stopCh     chan struct{}
	ticks      uint64
	onTick     []func(dt time.Duration)
	onInterval []func()
}

// NewLoop creates a loop for sc.
func NewLoop(sc *Context, cfg LoopConfig) *Loop {
	if cfg.Tick <= 0 {
		cfg.Tick = 50 * time.Millisecond
	}
	if cfg.AIEvery <= 0 {
		cfg.AIEvery = 4
	}
	if cfg.InboxSize <= 0 {
		cfg.InboxSize = 1024
	}
	return &Loop{
		sc:     sc,
		cfg:    cfg,
		inbox:  make(chan func(), cfg.InboxSize),
		stopCh: make(chan struct{}),
	}
}

// OnTick registers fn to run after the engine advances on every tick.
func (l *Loop) OnTick(fn func(dt time.Duration)) { l.onTick = append(l.onTick, fn) }

// OnInterval registers fn to run every AIEvery ticks.
func (l *Loop) OnInterval(fn func()) { l.onInterval = append(l.onInterval, fn) }

// TickDuration returns the fixed tick length.
func (l *Loop) TickDuration() time.Duration { return l.cfg.Tick }

// Ticks returns the number of ticks run so far.
func (l *Loop) Ticks() uint64 { return l.ticks }

// Do queues fn to run on the loop goroutine. It never blocks; when the inbox
// is full the work is dropped and false is returned.
func (l *Loop) Do(fn func()) bool {
	select {
	case l.inbox <- fn:
		return true
	default:
		l.sc.Logger.Warn("session inbox full, dropping work")
		return false
	}
}

// Enqueue is Do without the result, usable as a replication enqueue func.
func (l *Loop) Enqueue(fn func()) { l.Do(fn) }

// Query runs fn on the loop goroutine and waits for it to finish.
func (l *Loop) Query(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	if !l.Do(func() { defer close(done); fn() }) {
		return ErrLoopBusy
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Run drives the loop until ctx is cancelled or Stop is called.
func (l *Loop) Run(ctx context.Context) {
	ticker := time.NewTicker(l.cfg.Tick)
	defer ticker.Stop()
	l.sc.Logger.Info("session loop started",
		zap.Duration("tick", l.cfg.Tick),
		zap.Int("ai_every", l.cfg.AIEvery),
		zap.Bool("authority", l.sc.Authority()))
	for {
		select {
		case <-ticker.C:
			l.Step()
		case fn := <-l.inbox:
			l.safe(fn)
		case <-ctx.Done():
			return
		case <-l.stopCh:
			return
		}
	}
}

// Stop signals the loop to exit.
func (l *Loop) Stop() {
	select {
	case <-l.stopCh:
	default:
		close(l.stopCh)
	}
}

// Step runs exactly one tick. Queued work is applied first.
func (l *Loop) Step() {
	l.Drain()
	dt := l.cfg.Tick
	l.sc.Clock.Advance(dt)
	l.sc.Engine.Advance(dt)
	for _, fn := range l.onTick {
		fn(dt)
	}
	l.ticks++
	if l.ticks%uint64(l.cfg.AIEvery) == 0 {
		for _, fn := range l.onInterval {
			l.safe(fn)
		}
	}
}

// Drain runs all queued work without advancing time.
func (l *Loop) Drain() {
	for {
		select {
		case fn := <-l.inbox:
			l.safe(fn)
		default:
			return
		}
	}
}

func (l *Loop) safe(fn func()) {
	defer func() {
		if p := recover(); p != nil {
			l.sc.Logger.Error("session loop panic", zap.Any("panic", p))
		}
	}()
	fn()
}
