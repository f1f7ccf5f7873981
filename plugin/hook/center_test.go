package hook

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewHookCenter(t *testing.T) {
	hc := NewHookCenter()
	require.NotNil(t, hc)
}

func TestTrigger_NoHandlers(t *testing.T) {
	hc := NewHookCenter()
	out, err := hc.Trigger(context.Background(), "noop", 42)
	require.NoError(t, err)
	assert.Equal(t, 42, out)
}

func TestRegister_SingleHandler(t *testing.T) {
	hc := NewHookCenter()
	called := false
	hc.Register(OnPlayerKilled, 0, "h1", func(ctx context.Context, event string, data any) (any, error) {
		called = true
		assert.Equal(t, OnPlayerKilled, event)
		return data, nil
	})
	_, err := hc.Trigger(context.Background(), OnPlayerKilled, "hello")
	require.NoError(t, err)
	assert.True(t, called)
}

func TestTrigger_DataPassThrough(t *testing.T) {
	hc := NewHookCenter()
	hc.Register(OnPlayerKilled, 0, "double", func(_ context.Context, _ string, data any) (any, error) {
		return data.(int) * 2, nil
	})
	hc.Register(OnPlayerKilled, 1, "addTen", func(_ context.Context, _ string, data any) (any, error) {
		return data.(int) + 10, nil
	})
	out, err := hc.Trigger(context.Background(), OnPlayerKilled, 5)
	require.NoError(t, err)
	assert.Equal(t, 20, out) // (5*2)+10
}

func TestTrigger_PriorityOrder(t *testing.T) {
	hc := NewHookCenter()
	var order []int
	hc.Register(OnPlayerKilled, 10, "high", func(_ context.Context, _ string, d any) (any, error) {
		order = append(order, 10)
		return d, nil
	})
	hc.Register(OnPlayerKilled, 1, "low", func(_ context.Context, _ string, d any) (any, error) {
		order = append(order, 1)
		return d, nil
	})
	hc.Register(OnPlayerKilled, 5, "mid", func(_ context.Context, _ string, d any) (any, error) {
		order = append(order, 5)
		return d, nil
	})
	hc.Trigger(context.Background(), OnPlayerKilled, nil)
	assert.Equal(t, []int{1, 5, 10}, order)
}

func TestTrigger_ErrInterrupt(t *testing.T) {
	hc := NewHookCenter()
	var secondCalled bool
	hc.Register(OnPlayerKilled, 0, "stopper", func(_ context.Context, _ string, d any) (any, error) {
		return d, ErrInterrupt
	})
	hc.Register(OnPlayerKilled, 1, "should_not_run", func(_ context.Context, _ string, d any) (any, error) {
		secondCalled = true
		return d, nil
	})
	_, err := hc.Trigger(context.Background(), OnPlayerKilled, nil)
	assert.True(t, errors.Is(err, ErrInterrupt))
	assert.False(t, secondCalled)
}

func TestUnregister_ByName(t *testing.T) {
	hc := NewHookCenter()
	var called bool
	hc.Register(OnPlayerKilled, 0, "h1", func(_ context.Context, _ string, d any) (any, error) {
		called = true
		return d, nil
	})
	hc.Unregister(OnPlayerKilled, "h1")
	hc.Trigger(context.Background(), OnPlayerKilled, nil)
	assert.False(t, called)
}

func TestUnregister_OnlyNamed(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2 bool
	hc.Register(OnPlayerKilled, 0, "h1", func(_ context.Context, _ string, d any) (any, error) { c1 = true; return d, nil })
	hc.Register(OnPlayerKilled, 1, "h2", func(_ context.Context, _ string, d any) (any, error) { c2 = true; return d, nil })
	hc.Unregister(OnPlayerKilled, "h1")
	hc.Trigger(context.Background(), OnPlayerKilled, nil)
	assert.False(t, c1)
	assert.True(t, c2)
}

func TestUnregisterAll(t *testing.T) {
	hc := NewHookCenter()
	var c1, c2 bool
	hc.Register(OnPocketEnter, 0, "plugin", func(_ context.Context, _ string, d any) (any, error) { c1 = true; return d, nil })
	hc.Register("evB", 0, "plugin", func(_ context.Context, _ string, d any) (any, error) { c2 = true; return d, nil })
	hc.UnregisterAll("plugin")
	hc.Trigger(context.Background(), OnPocketEnter, nil)
	hc.Trigger(context.Background(), "evB", nil)
	assert.False(t, c1)
	assert.False(t, c2)
}

func TestUnregisterAll_LeavesOthers(t *testing.T) {
	hc := NewHookCenter()
	var other bool
	hc.Register(OnPocketEnter, 0, "mine", func(_ context.Context, _ string, d any) (any, error) { return d, nil })
	hc.Register(OnPocketEnter, 1, "other", func(_ context.Context, _ string, d any) (any, error) { other = true; return d, nil })
	hc.UnregisterAll("mine")
	hc.Trigger(context.Background(), OnPocketEnter, nil)
	assert.True(t, other)
}

func TestTrigger_NonInterruptError_Continues(t *testing.T) {
	hc := NewHookCenter()
	var secondCalled bool
	hc.Register(OnPlayerKilled, 0, "err", func(_ context.Context, _ string, d any) (any, error) {
		return "mangled", errors.New("some error")
	})
	hc.Register(OnPlayerKilled, 1, "second", func(_ context.Context, _ string, d any) (any, error) {
		secondCalled = true
		assert.Equal(t, "orig", d, "failed handler output is discarded")
		return d, nil
	})
	out, err := hc.Trigger(context.Background(), OnPlayerKilled, "orig")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrInterrupt)
	assert.Contains(t, err.Error(), "hook err: some error")
	assert.True(t, secondCalled)
	assert.Equal(t, "orig", out)
}

func TestTrigger_PanicIsReported(t *testing.T) {
	hc := NewHookCenter()
	var after bool
	hc.Register(OnPocketRoom, 0, "broken", func(context.Context, string, any) (any, error) {
		panic("room table")
	})
	hc.Register(OnPocketRoom, 1, "after", func(_ context.Context, _ string, d any) (any, error) {
		after = true
		return d, nil
	})
	_, err := hc.Trigger(context.Background(), OnPocketRoom, Event{Player: 2})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "panic: room table")
	assert.True(t, after)
}

func TestHandlers(t *testing.T) {
	hc := NewHookCenter()
	assert.Zero(t, hc.Handlers(OnPocketEscape))
	noop := func(_ context.Context, _ string, d any) (any, error) { return d, nil }
	hc.Register(OnPocketEscape, 0, "a", noop)
	hc.Register(OnPocketEscape, 5, "b", noop)
	assert.Equal(t, 2, hc.Handlers(OnPocketEscape))
	hc.UnregisterAll("a")
	assert.Equal(t, 1, hc.Handlers(OnPocketEscape))
}

func TestBeforeInteractionVeto(t *testing.T) {
	hc := NewHookCenter()
	hc.Register(BeforeInteraction, 0, "safe-room", func(_ context.Context, _ string, d any) (any, error) {
		ev := d.(Event)
		if ev.Player == 7 {
			return d, ErrInterrupt
		}
		return d, nil
	})
	_, err := hc.Trigger(context.Background(), BeforeInteraction, Event{Player: 7})
	assert.ErrorIs(t, err, ErrInterrupt)
	_, err = hc.Trigger(context.Background(), BeforeInteraction, Event{Player: 1})
	assert.NoError(t, err)
}
