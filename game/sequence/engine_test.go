package sequence

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/clock"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/host/hosttest"
)

const tick = 50 * time.Millisecond

func newNop() *zap.Logger { return zap.NewNop() }

type rig struct {
	clk  *clock.Manual
	fake *hosttest.Fake
	eng  *Engine
}

func newRig() *rig {
	clk := clock.NewManual(0)
	fake := hosttest.New()
	return &rig{clk: clk, fake: fake, eng: New(clk, fake, newNop())}
}

func (g *rig) step(n int) {
	for i := 0; i < n; i++ {
		g.clk.Advance(tick)
		g.eng.Advance(tick)
	}
}

func holdScript(name string, d time.Duration) *Script {
	return &Script{
		Name:      name,
		Exclusive: true,
		Steps: []Step{
			{Name: "seize", Enter: func(r *Run) error {
				r.SetOverlay(func(o *Overlay) {
					o.SpeedMultiplier = 0
					o.LookInputDisabled = true
					o.MoveInputDisabled = true
					p := host.Vec3{X: 1}
					o.ForcedPosition = &p
				})
				return nil
			}, Wait: d},
		},
	}
}

func TestExclusiveRunsAreMutuallyExclusive(t *testing.T) {
	g := newRig()
	first, err := g.eng.Start(holdScript("grab", time.Second), 1, nil)
	require.NoError(t, err)
	assert.True(t, g.eng.InSpecialSequence())
	assert.Equal(t, first, g.eng.Holder())

	_, err = g.eng.Start(holdScript("grab", time.Second), 2, nil)
	assert.ErrorIs(t, err, ErrGuardHeld)

	g.step(20)
	assert.True(t, first.Done())
	assert.False(t, g.eng.InSpecialSequence())

	_, err = g.eng.Start(holdScript("grab", time.Second), 2, nil)
	assert.NoError(t, err)
}

func TestOverlayRestoredOnEveryExit(t *testing.T) {
	cases := []struct {
		name string
		end  func(g *rig, r *Run)
		want Outcome
	}{
		{"completed", func(g *rig, _ *Run) { g.step(40) }, Completed},
		{"cancelled", func(g *rig, r *Run) { g.step(3); g.eng.Cancel(r.ID) }, Cancelled},
		{"aborted", func(g *rig, r *Run) { g.step(3); r.Abort(ErrStaleTarget) }, Aborted},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			g := newRig()
			r, err := g.eng.Start(holdScript("grab", time.Second), 3, nil)
			require.NoError(t, err)
			st := g.fake.State(3)
			assert.Equal(t, 0.0, st.Speed)
			assert.True(t, st.LookOff)
			assert.NotNil(t, st.Forced)

			tc.end(g, r)
			assert.True(t, r.Done())
			assert.Equal(t, tc.want, r.Outcome())
			assert.True(t, g.eng.Overlay(3).Equal(Neutral()))
			st = g.fake.State(3)
			assert.Equal(t, 1.0, st.Speed)
			assert.False(t, st.LookOff)
			assert.False(t, st.MoveOff)
			assert.Nil(t, st.Forced)
			assert.False(t, g.eng.InSpecialSequence())
		})
	}
}

func TestEnterErrorAbortsAndRestores(t *testing.T) {
	g := newRig()
	s := &Script{
		Name:      "stale",
		Exclusive: true,
		Steps: []Step{
			{Name: "a", Enter: func(r *Run) error {
				r.SetOverlay(func(o *Overlay) { o.MoveInputDisabled = true })
				return nil
			}, Wait: 100 * time.Millisecond},
			{Name: "b", Enter: func(r *Run) error { return ErrStaleTarget }, Wait: time.Second},
		},
	}
	var gotErr error
	s.OnExit = func(r *Run, o Outcome, err error) { gotErr = err }
	r, err := g.eng.Start(s, 1, nil)
	require.NoError(t, err)
	g.step(2)
	assert.True(t, r.Done())
	assert.Equal(t, Aborted, r.Outcome())
	assert.True(t, errors.Is(gotErr, ErrStaleTarget))
	assert.False(t, g.fake.State(1).MoveOff)
	assert.False(t, g.eng.InSpecialSequence())
}

func TestCancelIsIdempotent(t *testing.T) {
	g := newRig()
	exits := 0
	s := holdScript("grab", time.Second)
	s.OnExit = func(*Run, Outcome, error) { exits++ }
	r, _ := g.eng.Start(s, 1, nil)
	assert.True(t, g.eng.Cancel(r.ID))
	assert.False(t, g.eng.Cancel(r.ID))
	assert.False(t, g.eng.Cancel("missing"))
	assert.Equal(t, 1, exits)
}

func TestLeftoverTimeCarriesIntoNextStep(t *testing.T) {
	g := newRig()
	var hits []time.Duration
	s := &Script{Name: "carry", Steps: []Step{
		{Name: "a", Wait: 70 * time.Millisecond},
		{Name: "b", Enter: func(r *Run) error { hits = append(hits, g.clk.Now()); return nil }, Wait: 80 * time.Millisecond},
		{Name: "c", Enter: func(r *Run) error { hits = append(hits, g.clk.Now()); return nil }},
	}}
	r, _ := g.eng.Start(s, host.NoPlayer, nil)
	g.step(2)
	assert.Equal(t, "b", r.StepName())
	assert.Equal(t, 30*time.Millisecond, r.Elapsed())
	g.step(1)
	assert.True(t, r.Done())
	require.Len(t, hits, 2)
	assert.Equal(t, 100*time.Millisecond, hits[0])
	assert.Equal(t, 150*time.Millisecond, hits[1])
}

func untilScript(flag *bool, timeout time.Duration) (*Script, *string) {
	result := new(string)
	return &Script{Name: "countdown", Steps: []Step{
		{Name: "wait", Wait: timeout, Until: func(*Run) bool { return *flag }, OnTimeout: "fail"},
		{Name: "ok", Enter: func(r *Run) error { *result = "ok"; r.Finish(); return nil }},
		{Name: "fail", Enter: func(r *Run) error { *result = "fail"; return nil }},
	}}, result
}

func TestUntilBeforeTimeoutSucceeds(t *testing.T) {
	g := newRig()
	flag := false
	s, result := untilScript(&flag, time.Second)
	r, _ := g.eng.Start(s, host.NoPlayer, nil)
	g.step(18)
	flag = true
	g.step(1)
	assert.True(t, r.Done())
	assert.False(t, r.TimedOut())
	assert.Equal(t, "ok", *result)
}

func TestTimeoutCheckedBeforePredicate(t *testing.T) {
	g := newRig()
	flag := false
	s, result := untilScript(&flag, time.Second)
	r, _ := g.eng.Start(s, host.NoPlayer, nil)
	g.step(19)
	assert.False(t, r.Done())
	// predicate becomes true on the very tick the timeout elapses
	flag = true
	g.step(1)
	assert.True(t, r.Done())
	assert.True(t, r.TimedOut())
	assert.Equal(t, "fail", *result)
}

func TestLayersCompose(t *testing.T) {
	g := newRig()
	slow := &Script{Name: "slow", Steps: []Step{{Name: "s", Enter: func(r *Run) error {
		r.SetOverlay(func(o *Overlay) { o.SpeedMultiplier = 0.5; o.Impairment = 20 })
		return nil
	}, Wait: 10 * time.Second}}}
	rs, _ := g.eng.Start(slow, 1, nil)
	rh, _ := g.eng.Start(holdScript("grab", time.Second), 1, nil)

	assert.Equal(t, 0.0, g.eng.Overlay(1).SpeedMultiplier)
	assert.True(t, g.eng.Overlay(1).LookInputDisabled)

	g.eng.Cancel(rh.ID)
	o := g.eng.Overlay(1)
	assert.Equal(t, 0.5, o.SpeedMultiplier)
	assert.Equal(t, 20.0, o.Impairment)
	assert.False(t, o.LookInputDisabled)
	assert.Nil(t, o.ForcedPosition)

	g.eng.Cancel(rs.ID)
	assert.True(t, g.eng.Overlay(1).Equal(Neutral()))
	assert.Equal(t, 1.0, g.fake.State(1).Speed)
	assert.Equal(t, 0.0, g.fake.State(1).Impairment)
}

func TestPanicAbortsRun(t *testing.T) {
	g := newRig()
	s := &Script{Name: "boom", Exclusive: true, Steps: []Step{
		{Name: "a", Wait: time.Second, Tick: func(r *Run, _ time.Duration) { panic("bad") }},
	}}
	r, _ := g.eng.Start(s, host.NoPlayer, nil)
	g.step(1)
	assert.True(t, r.Done())
	assert.Equal(t, Aborted, r.Outcome())
	assert.False(t, g.eng.InSpecialSequence())
}

func TestOnExitSeesReleasedGuard(t *testing.T) {
	g := newRig()
	var chained *Run
	s := holdScript("grab", 100*time.Millisecond)
	s.OnExit = func(r *Run, o Outcome, err error) {
		chained, err = g.eng.Start(holdScript("next", time.Second), 2, nil)
		require.NoError(t, err)
	}
	g.eng.Start(s, 1, nil)
	g.step(2)
	require.NotNil(t, chained)
	assert.Equal(t, chained, g.eng.Holder())
}

func TestInvalidScript(t *testing.T) {
	g := newRig()
	_, err := g.eng.Start(&Script{Name: "empty"}, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidScript)
	_, err = g.eng.Start(&Script{Name: "bad", Steps: []Step{{Name: "a", Wait: time.Second, Until: func(*Run) bool { return false }, OnTimeout: "nope"}}}, 1, nil)
	assert.ErrorIs(t, err, ErrInvalidScript)
}

func TestResumeFastForwardsThroughElapsedSteps(t *testing.T) {
	g := newRig()
	var entered []string
	mark := func(r *Run) error {
		entered = append(entered, r.StepName())
		return nil
	}
	s := &Script{
		Name: "timer",
		Steps: []Step{
			{Name: "a", Enter: mark, Wait: time.Second},
			{Name: "b", Enter: mark, Wait: 2 * time.Second},
			{Name: "c", Enter: mark, Wait: time.Second},
		},
	}

	r, err := g.eng.Resume(s, 1, nil, 1500*time.Millisecond)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, entered)
	assert.Equal(t, "b", r.StepName())
	assert.Equal(t, 500*time.Millisecond, r.Elapsed())
	assert.Equal(t, 1500*time.Millisecond, r.Total())

	g.step(30)
	assert.Equal(t, "c", r.StepName())

	done, err := g.eng.Resume(s, 2, nil, time.Minute)
	require.NoError(t, err)
	assert.True(t, done.Done())
	assert.Equal(t, Completed, done.Outcome())
}
