package scheduler

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func counter(n *int32, by int32) TaskFn {
	return func(context.Context) error {
		atomic.AddInt32(n, by)
		return nil
	}
}

func TestAddTicker_Fires(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddTicker("tick", 20*time.Millisecond, counter(&count, 1))

	time.Sleep(120 * time.Millisecond)
	assert.GreaterOrEqual(t, atomic.LoadInt32(&count), int32(3))
}

func TestAddTicker_Replaces(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count1, count2 int32
	s.AddTicker("task", 20*time.Millisecond, counter(&count1, 1))
	time.Sleep(30 * time.Millisecond)
	s.AddTicker("task", 20*time.Millisecond, counter(&count2, 1))
	time.Sleep(80 * time.Millisecond)

	snap1 := atomic.LoadInt32(&count1)
	time.Sleep(40 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&count1), "old ticker must stop after replacement")
	assert.Positive(t, atomic.LoadInt32(&count2))
}

func TestAddDelay_FiresOnce(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddDelay("once", 30*time.Millisecond, counter(&count, 1))

	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(1), atomic.LoadInt32(&count))
}

func TestAddDelay_ReplacesCancelsOld(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddDelay("d", 500*time.Millisecond, counter(&count, 1))
	s.AddDelay("d", 30*time.Millisecond, counter(&count, 10))
	time.Sleep(100 * time.Millisecond)
	assert.Equal(t, int32(10), atomic.LoadInt32(&count))
}

func TestRemove_Ticker(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddTicker("task", 20*time.Millisecond, counter(&count, 1))
	time.Sleep(50 * time.Millisecond)
	s.Remove("task")
	time.Sleep(10 * time.Millisecond)
	snap := atomic.LoadInt32(&count)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap, atomic.LoadInt32(&count), "ticker must stop after Remove")
}

func TestRemove_Delay(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	var count int32
	s.AddDelay("d", 100*time.Millisecond, counter(&count, 1))
	s.Remove("d")
	time.Sleep(150 * time.Millisecond)
	assert.Equal(t, int32(0), atomic.LoadInt32(&count))
}

func TestRemove_NonExistent(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()
	s.Remove("nope")
}

func TestStop_StopsAllTickers(t *testing.T) {
	s := New(zap.NewNop())

	var c1, c2 int32
	s.AddTicker("a", 20*time.Millisecond, counter(&c1, 1))
	s.AddTicker("b", 20*time.Millisecond, counter(&c2, 1))
	time.Sleep(50 * time.Millisecond)
	s.Stop()
	time.Sleep(30 * time.Millisecond)
	snap1, snap2 := atomic.LoadInt32(&c1), atomic.LoadInt32(&c2)
	time.Sleep(60 * time.Millisecond)
	assert.Equal(t, snap1, atomic.LoadInt32(&c1))
	assert.Equal(t, snap2, atomic.LoadInt32(&c2))
}

func TestStop_Idempotent(t *testing.T) {
	s := New(zap.NewNop())
	s.Stop()
	s.Stop()
}

func TestStop_CancelsTaskContext(t *testing.T) {
	s := New(zap.NewNop())
	seen := make(chan struct{})
	s.AddTicker("blocking", 10*time.Millisecond, func(ctx context.Context) error {
		<-ctx.Done()
		close(seen)
		return ctx.Err()
	})
	time.Sleep(30 * time.Millisecond)
	s.Stop()
	select {
	case <-seen:
	case <-time.After(time.Second):
		t.Fatal("task context not cancelled by Stop")
	}
}

func TestListTickers(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	require.Empty(t, s.ListTickers())
	s.AddTicker("beta", time.Hour, counter(new(int32), 1))
	s.AddTicker("alpha", time.Hour, counter(new(int32), 1))
	assert.Equal(t, []string{"alpha", "beta"}, s.ListTickers())
}

func TestListTickers_AfterRemove(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	s.AddTicker("x", time.Hour, counter(new(int32), 1))
	s.AddTicker("y", time.Hour, counter(new(int32), 1))
	s.Remove("x")
	assert.Equal(t, []string{"y"}, s.ListTickers())
}

func TestTasks_RecordsFailuresAndPanics(t *testing.T) {
	s := New(zap.NewNop())
	defer s.Stop()

	s.AddTicker("fail", 10*time.Millisecond, func(context.Context) error {
		return errors.New("lease lost")
	})
	s.AddTicker("panic", 10*time.Millisecond, func(context.Context) error {
		panic("oops")
	})
	require.Eventually(t, func() bool {
		for _, info := range s.Tasks() {
			if info.Runs < 2 {
				return false
			}
		}
		return true
	}, time.Second, 10*time.Millisecond)

	tasks := s.Tasks()
	require.Len(t, tasks, 2)
	assert.Equal(t, "fail", tasks[0].Name)
	assert.Equal(t, tasks[0].Runs, tasks[0].Failures)
	assert.Equal(t, "lease lost", tasks[0].LastError)
	assert.Equal(t, "panic", tasks[1].Name)
	assert.Positive(t, tasks[1].Panics)
	assert.Contains(t, tasks[1].LastError, "oops")
}
