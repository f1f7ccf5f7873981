package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/host/hosttest"
	"github.com/kasuganosora/corrosion/plugin/hook"
)

func newNop() *zap.Logger { return zap.NewNop() }

func newTestContext() *Context {
	return NewContext(Options{
		SessionID: "s1",
		NodeID:    "a",
		Authority: true,
		Seed:      1,
		Host:      hosttest.New().Host(),
		Hooks:     hook.NewHookCenter(),
		Logger:    newNop(),
	})
}

func TestStepAdvancesClockAndIntervals(t *testing.T) {
	sc := newTestContext()
	l := NewLoop(sc, LoopConfig{Tick: 50 * time.Millisecond, AIEvery: 4})
	intervals, ticks := 0, 0
	l.OnInterval(func() { intervals++ })
	l.OnTick(func(dt time.Duration) { ticks++ })

	for i := 0; i < 8; i++ {
		l.Step()
	}
	assert.Equal(t, 400*time.Millisecond, sc.Now())
	assert.Equal(t, 8, ticks)
	assert.Equal(t, 2, intervals)
}

func TestQueuedWorkRunsBeforeTimeAdvances(t *testing.T) {
	sc := newTestContext()
	l := NewLoop(sc, LoopConfig{})
	var seen time.Duration = -1
	l.Do(func() { seen = sc.Now() })
	l.Step()
	assert.Equal(t, time.Duration(0), seen)
}

func TestQueryWaitsForLoop(t *testing.T) {
	sc := newTestContext()
	l := NewLoop(sc, LoopConfig{Tick: 5 * time.Millisecond})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go l.Run(ctx)
	defer l.Stop()

	var got bool
	require.NoError(t, l.Query(ctx, func() { got = sc.Authority() }))
	assert.True(t, got)
}

func TestPanicInQueuedWorkIsContained(t *testing.T) {
	sc := newTestContext()
	l := NewLoop(sc, LoopConfig{})
	ran := false
	l.Do(func() { panic("boom") })
	l.Do(func() { ran = true })
	l.Step()
	assert.True(t, ran)
}

func TestFireVeto(t *testing.T) {
	sc := newTestContext()
	sc.Hooks.Register(hook.BeforeInteraction, 0, "veto", func(_ context.Context, _ string, d any) (any, error) {
		return d, hook.ErrInterrupt
	})
	assert.ErrorIs(t, sc.Fire(hook.BeforeInteraction, 1, "HUNTING", nil), hook.ErrInterrupt)
	assert.NoError(t, sc.Fire(hook.OnPlayerKilled, 1, "KILLING", nil))
}

func TestStopIsIdempotent(t *testing.T) {
	l := NewLoop(newTestContext(), LoopConfig{})
	l.Stop()
	l.Stop()
}
