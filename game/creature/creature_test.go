package creature

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/host/hosttest"
	"github.com/kasuganosora/corrosion/game/pocket"
	"github.com/kasuganosora/corrosion/game/rng"
	"github.com/kasuganosora/corrosion/game/session"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/replication"
)

type rig struct {
	fake  *hosttest.Fake
	sc    *session.Context
	loop  *session.Loop
	c     *Creature
	hooks *hook.HookCenter
}

func newRig(t *testing.T, authority bool, cfg Settings, rolls ...int) *rig {
	t.Helper()
	g := build(authority, cfg, rolls...)
	if authority {
		require.NoError(t, g.c.Init())
	}
	return g
}

func build(authority bool, cfg Settings, rolls ...int) *rig {
	fake := hosttest.New()
	fake.AddPlayer(host.PlayerInfo{ID: 1, Position: host.Vec3{X: 5}, InsideFactory: true})
	fake.AddPlayer(host.PlayerInfo{ID: 2, Position: host.Vec3{X: 8}, InsideFactory: true})
	hooks := hook.NewHookCenter()
	sc := session.NewContext(session.Options{
		SessionID: "s1",
		NodeID:    "a",
		Authority: authority,
		Host:      fake.Host(),
		Hooks:     hooks,
		Logger:    zap.NewNop(),
	})
	if len(rolls) > 0 {
		sc.Rand = rng.FromSource(rng.NewScripted(rolls...))
	}
	loop := session.NewLoop(sc, session.LoopConfig{})
	c := New(sc, cfg, pocket.DefaultSettings())
	c.Attach(loop)
	return &rig{fake: fake, sc: sc, loop: loop, c: c, hooks: hooks}
}

func (g *rig) steps(n int) {
	for i := 0; i < n; i++ {
		g.loop.Step()
	}
}

func (g *rig) run(d time.Duration) { g.steps(int(d / g.loop.TickDuration())) }

// searching runs past the spawn delay.
func (g *rig) searching(t *testing.T) {
	t.Helper()
	g.run(spawnStill)
	require.Equal(t, StateSearching, g.c.State())
}

func TestResolverProbabilitiesConserve(t *testing.T) {
	cases := []Resolver{
		{PocketChance: 20, NonDeadly: 15},
		{PocketChance: 0, NonDeadly: 0},
		{PocketChance: 100, NonDeadly: 50},
		{PocketChance: 70, NonDeadly: 50},
		{PocketChance: -5, NonDeadly: 130},
	}
	for _, r := range cases {
		counts := map[Interaction]float64{}
		p, _ := r.bounds()
		for first := 0; first < 100; first++ {
			if first+1 <= p {
				counts[InteractionPocket] += 1.0 / 100
				continue
			}
			rest := 100 - p
			for second := 0; second < rest; second++ {
				res := r.Resolve(rng.FromSource(rng.NewScripted(first, second)))
				counts[res.Interaction] += 1.0 / 100 / float64(rest)
			}
		}
		pocketP, pushP, killP := r.Probabilities()
		assert.InDelta(t, pocketP, counts[InteractionPocket], 1e-9, "%+v pocket", r)
		assert.InDelta(t, pushP, counts[InteractionPush], 1e-9, "%+v push", r)
		assert.InDelta(t, killP, counts[InteractionKill], 1e-9, "%+v kill", r)
		assert.InDelta(t, 1.0, pocketP+pushP+killP, 1e-9)
	}
}

func TestScenarioRollFiveSendsToPocket(t *testing.T) {
	g := newRig(t, true, Settings{Stunnable: true, ChanceForPocketDimension: 20, NonDeadlyInteractions: 15}, 4, 0)
	g.searching(t)

	res, err := g.c.Collide(1)
	require.NoError(t, err)
	assert.Equal(t, InteractionPocket, res.Interaction)
	assert.Equal(t, 5, res.PocketRoll)
	assert.Equal(t, StateKilling, g.c.State())
	assert.True(t, g.c.InSpecialSequence())

	g.run(grabFace + g.loop.TickDuration())
	require.True(t, g.c.Pocket().Contains(1))
	assert.Equal(t, g.fake.Anchors[pocket.AnchorMain], g.fake.State(1).Position)

	g.run(grabShortAfter + g.loop.TickDuration())
	assert.Equal(t, StateSearching, g.c.State())
	assert.False(t, g.c.InSpecialSequence())
	st := g.fake.State(1)
	assert.False(t, st.LookOff)
	assert.False(t, st.MoveOff)
	assert.Nil(t, st.Forced)
	assert.Equal(t, 0.5, st.Speed, "bleed-out slow stays applied")
}

// killRolls resolve a contact to the full grab-and-kill.
var killRolls = []int{49, 40}

func TestGrabKillCompletes(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), killRolls...)
	g.searching(t)

	res, err := g.c.Collide(1)
	require.NoError(t, err)
	require.Equal(t, InteractionKill, res.Interaction)
	assert.True(t, g.fake.State(1).LookOff)

	g.run(grabNeck + grabHold + grabWound + g.loop.TickDuration())
	st := g.fake.State(1)
	assert.True(t, st.Killed)
	assert.Equal(t, host.CauseCrushing, st.Cause)
	assert.Equal(t, grabDamage, st.Damage)
	assert.Equal(t, StateKilling, g.c.State())

	g.run(grabRecover)
	assert.Equal(t, StateSearching, g.c.State())
	assert.False(t, g.c.InSpecialSequence())
	assert.Equal(t, host.NoPlayer, g.c.Target())
}

func TestHitInterruptsKillWithinOneTick(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), killRolls...)
	g.run(hitCooldown + time.Second)
	require.Equal(t, StateSearching, g.c.State())

	var interrupted []hook.Event
	g.hooks.Register(hook.OnKillInterrupted, 0, "test", func(_ context.Context, _ string, data any) (any, error) {
		interrupted = append(interrupted, data.(hook.Event))
		return data, nil
	})

	_, err := g.c.Collide(1)
	require.NoError(t, err)
	g.steps(10)
	require.Equal(t, StateKilling, g.c.State())
	require.True(t, g.fake.State(1).MoveOff)

	g.loop.Do(func() { require.NoError(t, g.c.Hit(2)) })
	g.loop.Step()

	assert.Equal(t, StateHunting, g.c.State())
	assert.Equal(t, host.PlayerID(2), g.c.Target())
	assert.False(t, g.c.InSpecialSequence())
	st := g.fake.State(1)
	assert.False(t, st.LookOff)
	assert.False(t, st.MoveOff)
	assert.Nil(t, st.Forced)
	assert.False(t, st.Killed)
	require.Len(t, interrupted, 1)
	assert.Equal(t, 1, interrupted[0].Player)

	g.run(5 * time.Second)
	assert.False(t, g.fake.State(1).Killed, "victim survives the interrupted grab")
	assert.Equal(t, StateHunting, g.c.State())
}

func TestHitRespectsCooldownAndStunnable(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.searching(t)
	require.NoError(t, g.c.Hit(2))
	assert.Empty(t, g.sc.Engine.Active(), "hit within cooldown after init is ignored")

	g2 := newRig(t, true, Settings{Stunnable: false})
	g2.run(hitCooldown + time.Second)
	require.NoError(t, g2.c.Hit(2))
	assert.Empty(t, g2.sc.Engine.Active())
}

func TestStunThenHuntHitter(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.run(hitCooldown + time.Second)
	require.NoError(t, g.c.Hit(2))
	assert.True(t, g.fake.Stopped)
	assert.Equal(t, StateSearching, g.c.State())

	_, err := g.c.Collide(1)
	require.NoError(t, err)
	assert.False(t, g.c.InSpecialSequence(), "no grabs while stunned")

	g.run(stunDelay + g.loop.TickDuration())
	assert.Equal(t, StateHunting, g.c.State())
	assert.Equal(t, host.PlayerID(2), g.c.Target())
}

func TestEnterSearchingIsIdempotent(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.searching(t)
	seq := g.sc.Channel.LastSeq()
	anims := len(g.fake.CallsNamed("PlayAnimation"))

	assert.False(t, g.c.toSearching())
	assert.False(t, g.c.toSearching())
	assert.Equal(t, seq, g.sc.Channel.LastSeq())

	g.c.applyState(StatePayload{State: StateSearching, Target: host.NoPlayer})
	assert.Len(t, g.fake.CallsNamed("PlayAnimation"), anims)
}

func TestHuntingReachability(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), 5)
	g.fake.UpdatePlayer(1, func(p *host.PlayerInfo) { p.Position = host.Vec3{X: 10} })
	g.fake.UpdatePlayer(2, func(p *host.PlayerInfo) { p.Position = host.Vec3{X: 500} })
	g.fake.SetPathDistance(1, 60)
	g.searching(t)

	g.fake.SetInSight(1, true)
	g.steps(4)
	require.Equal(t, StateHunting, g.c.State())
	assert.True(t, g.c.Sneaking())

	g.steps(40)
	assert.Equal(t, StateHunting, g.c.State(), "a target in sight is kept despite the long path")
	require.NotNil(t, g.fake.Destination)
	assert.Equal(t, host.Vec3{X: 10}, *g.fake.Destination)

	g.fake.SetInSight(1, false)
	g.steps(4)
	assert.Equal(t, StateSearching, g.c.State(), "unseen target beyond path range is dropped")
	assert.Equal(t, host.NoPlayer, g.c.Target())
}

func TestFarTargetFastEmerges(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), 0)
	g.fake.UpdatePlayer(2, func(p *host.PlayerInfo) { p.Position = host.Vec3{X: -500} })
	g.fake.NavNodes = []host.Vec3{{X: 98}}
	g.searching(t)

	g.fake.SetInSight(1, true)
	g.steps(4)
	require.Equal(t, StateHunting, g.c.State())

	g.fake.SetInSight(1, false)
	g.fake.UpdatePlayer(1, func(p *host.PlayerInfo) { p.Position = host.Vec3{X: 100} })
	g.steps(4)
	assert.Equal(t, StateSinking, g.c.State())

	g.run(fastSink)
	assert.Equal(t, StateEmerging, g.c.State())
	assert.Equal(t, host.Vec3{X: 98}, g.fake.CreaturePosition())

	g.run(fastReveal)
	assert.Equal(t, StateHunting, g.c.State())
	assert.Equal(t, host.PlayerID(1), g.c.Target())
}

func TestLonelyPlayerEmergence(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.fake.UpdatePlayer(1, func(p *host.PlayerInfo) { p.Position = host.Vec3{X: 40}; p.Alone = true })
	g.fake.UpdatePlayer(2, func(p *host.PlayerInfo) { p.Dead = true })

	g.run(lonelyCooldown - time.Second)
	require.Equal(t, StateSearching, g.c.State())
	g.run(time.Second + 4*g.loop.TickDuration())
	require.Equal(t, StateEmerging, g.c.State())
	assert.Equal(t, host.PlayerID(1), g.c.Target())

	_, err := g.c.Collide(1)
	require.NoError(t, err)
	assert.False(t, g.c.InSpecialSequence(), "contact ignored while emerging")

	g.run(sinkDuration)
	assert.Equal(t, host.Vec3{X: 50}, g.fake.CreaturePosition())
	g.run(emergeDuration)
	assert.Equal(t, StateHunting, g.c.State())
}

func TestSpottedThenHunting(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.searching(t)
	g.fake.SetInSight(1, true)
	g.fake.SetLooking(1, true)

	g.steps(4)
	require.Equal(t, StateSpotted, g.c.State())
	assert.Equal(t, host.PlayerID(1), g.c.Target())

	g.run(stareTurn + stareLook)
	assert.Equal(t, StateHunting, g.c.State())
	assert.False(t, g.c.Sneaking())
	var chased bool
	for _, call := range g.fake.CallsNamed("PlaySound") {
		if call.Args[0] == host.SoundChasing {
			chased = true
		}
	}
	assert.True(t, chased)
}

func TestGuardIsMutuallyExclusive(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), killRolls...)
	g.searching(t)
	_, err := g.c.Collide(1)
	require.NoError(t, err)

	g.c.startSequence(SequencePayload{Kind: SeqPush, Player: 2})
	res, err := g.c.Collide(2)
	require.NoError(t, err)
	assert.Empty(t, res.Interaction)

	require.NotNil(t, g.sc.Engine.Holder())
	assert.Equal(t, host.PlayerID(1), g.sc.Engine.Holder().Player)
	g.run(time.Second)
	st := g.fake.State(2)
	assert.Zero(t, st.Damage)
	assert.False(t, st.LookOff)
	assert.Nil(t, st.Forced)
}

func TestStaleTargetAbortsGrab(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), killRolls...)
	g.searching(t)
	_, err := g.c.Collide(1)
	require.NoError(t, err)

	g.fake.UpdatePlayer(1, func(p *host.PlayerInfo) { p.Connected = false })
	g.run(grabNeck)

	assert.Equal(t, StateSearching, g.c.State())
	assert.False(t, g.c.InSpecialSequence())
	st := g.fake.State(1)
	assert.False(t, st.LookOff)
	assert.False(t, st.MoveOff)
	assert.Nil(t, st.Forced)
	assert.False(t, st.Killed)
}

func TestInteractionVeto(t *testing.T) {
	g := newRig(t, true, DefaultSettings(), killRolls...)
	g.searching(t)
	g.hooks.Register(hook.BeforeInteraction, 0, "veto", func(_ context.Context, _ string, data any) (any, error) {
		return data, hook.ErrInterrupt
	})
	res, err := g.c.Collide(1)
	require.NoError(t, err)
	assert.Empty(t, res.Interaction)
	assert.False(t, g.c.InSpecialSequence())
}

func TestNoiseInvestigation(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.searching(t)

	ok, err := g.c.HearNoise(host.Vec3{X: 10}, 0.5)
	require.NoError(t, err)
	assert.True(t, ok)
	require.NotNil(t, g.fake.Destination)
	assert.Equal(t, host.Vec3{X: 10}, *g.fake.Destination)

	ok, _ = g.c.HearNoise(host.Vec3{X: 2}, 1)
	assert.False(t, ok, "cooldown")

	g.run(noiseCooldown)
	g.fake.ObstructAll = true
	ok, _ = g.c.HearNoise(host.Vec3{X: 5}, 0.4)
	assert.False(t, ok, "obstruction halves loudness below the floor")
	ok, _ = g.c.HearNoise(host.Vec3{X: 20}, 0.8)
	assert.False(t, ok, "beyond halved spread")
	ok, _ = g.c.HearNoise(host.Vec3{X: 5}, 0.8)
	assert.True(t, ok)
}

func TestPushRestoresControl(t *testing.T) {
	g := newRig(t, true, Settings{Stunnable: true, NonDeadlyInteractions: 100}, 0, 0)
	g.searching(t)
	res, err := g.c.Collide(1)
	require.NoError(t, err)
	require.Equal(t, InteractionPush, res.Interaction)

	g.run(pushWindup + g.loop.TickDuration())
	st := g.fake.State(1)
	assert.Equal(t, pushDamage, st.Damage)
	require.NotNil(t, st.Forced)
	assert.InDelta(t, 8.0, st.Forced.X, 1e-9)

	g.run(pushShove + pushRecover)
	assert.False(t, g.c.InSpecialSequence())
	assert.Nil(t, g.fake.State(1).Forced)
	assert.False(t, g.fake.Stopped)
}

func TestReplicaMirrorsAuthority(t *testing.T) {
	auth := build(true, DefaultSettings(), killRolls...)
	rep := newRig(t, false, DefaultSettings())

	auth.sc.Channel.OnApply(func(cmd replication.Command) {
		auth.c.dispatch(cmd)
		rep.loop.Do(func() { rep.sc.Channel.Receive(cmd) })
	})
	require.NoError(t, auth.c.Init())
	lockstep := func(d time.Duration) {
		for i := 0; i < int(d/auth.loop.TickDuration()); i++ {
			auth.loop.Step()
			rep.loop.Step()
		}
	}
	lockstep(spawnStill + auth.loop.TickDuration())
	require.Equal(t, StateSearching, auth.c.State())
	assert.Equal(t, StateSearching, rep.c.State())

	_, err := rep.c.Collide(1)
	require.NoError(t, err)
	assert.Equal(t, StateSearching, rep.c.State(), "replicas only propose")

	_, err = auth.c.Collide(1)
	require.NoError(t, err)
	lockstep(auth.loop.TickDuration())
	assert.Equal(t, StateKilling, rep.c.State())
	assert.True(t, rep.fake.State(1).LookOff)

	lockstep(grabNeck + grabHold + grabWound + grabRecover + 2*auth.loop.TickDuration())
	assert.True(t, rep.fake.State(1).Killed)
	assert.Equal(t, StateSearching, rep.c.State())
	assert.False(t, rep.fake.State(1).LookOff)
	assert.Equal(t, auth.sc.Channel.LastSeq(), rep.sc.Channel.LastSeq())
}

func TestSnapshotRoundTrip(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.searching(t)
	g.fake.SetInSight(1, true)
	g.steps(4)
	require.Equal(t, StateHunting, g.c.State())

	snap := g.c.Snapshot()
	b, err := json.Marshal(snap)
	require.NoError(t, err)
	assert.Contains(t, string(b), `"state":"HUNTING"`)
	assert.Equal(t, 5, snap.Threat)

	var back Snapshot
	require.NoError(t, json.Unmarshal(b, &back))
	other := newRig(t, false, DefaultSettings())
	other.c.Restore(back)
	assert.Equal(t, StateHunting, other.c.State())
	assert.Equal(t, host.PlayerID(1), other.c.Target())
	assert.True(t, other.c.Sneaking())
	assert.Equal(t, g.sc.Now(), other.sc.Now())
}

func TestStateText(t *testing.T) {
	var s State
	require.NoError(t, s.UnmarshalText([]byte("EMERGING")))
	assert.Equal(t, StateEmerging, s)
	assert.Error(t, s.UnmarshalText([]byte("DANCING")))
	assert.Equal(t, "State(42)", State(42).String())
}

func TestPromotedReplicaSettlesFinishedGrab(t *testing.T) {
	auth := build(true, DefaultSettings(), killRolls...)
	rep := newRig(t, false, DefaultSettings())
	tick := auth.loop.TickDuration()

	forward := true
	auth.sc.Channel.OnApply(func(cmd replication.Command) {
		auth.c.dispatch(cmd)
		if forward {
			rep.loop.Do(func() { rep.sc.Channel.Receive(cmd) })
		}
	})
	require.NoError(t, auth.c.Init())
	for i := 0; i < int((spawnStill+tick)/tick); i++ {
		auth.loop.Step()
		rep.loop.Step()
	}
	_, err := auth.c.Collide(1)
	require.NoError(t, err)
	rep.steps(1)
	require.Equal(t, StateKilling, rep.c.State())

	// The authority goes silent before it decides what follows the grab.
	forward = false
	rep.run(grabNeck + grabHold + grabWound + grabRecover + 2*tick)
	require.True(t, rep.fake.State(1).Killed)
	require.False(t, rep.c.InSpecialSequence())
	require.Equal(t, StateKilling, rep.c.State(), "a replica waits for the verdict")

	rep.sc.Channel.Promote()
	assert.Equal(t, StateSearching, rep.c.State())
	assert.Equal(t, host.NoPlayer, rep.c.Target())

	rep.run(time.Second)
	assert.NotEqual(t, StateKilling, rep.c.State())
}

func TestPromotionLeavesLiveChoreographyToItsExit(t *testing.T) {
	auth := build(true, DefaultSettings(), killRolls...)
	rep := newRig(t, false, DefaultSettings())
	tick := auth.loop.TickDuration()

	forward := true
	auth.sc.Channel.OnApply(func(cmd replication.Command) {
		auth.c.dispatch(cmd)
		if forward {
			rep.loop.Do(func() { rep.sc.Channel.Receive(cmd) })
		}
	})
	require.NoError(t, auth.c.Init())
	for i := 0; i < int((spawnStill+tick)/tick); i++ {
		auth.loop.Step()
		rep.loop.Step()
	}
	_, err := auth.c.Collide(1)
	require.NoError(t, err)
	rep.steps(1)
	forward = false

	rep.sc.Channel.Promote()
	assert.Equal(t, StateKilling, rep.c.State(), "the grab is still running")
	assert.True(t, rep.c.InSpecialSequence())

	rep.run(grabNeck + grabHold + grabWound + grabRecover + 2*tick)
	assert.True(t, rep.fake.State(1).Killed)
	assert.Equal(t, StateSearching, rep.c.State())
	assert.False(t, rep.c.InSpecialSequence())
}

func TestTreeGuardsSkipBarredActions(t *testing.T) {
	g := newRig(t, true, DefaultSettings())
	g.searching(t)

	g.c.Interval()
	path := g.c.trees[StateSearching].LastPath()
	assert.NotContains(t, path, "exit_enter_facility", "doors are barred without can_go_outside")
	assert.Contains(t, path, "stop_chase_music")

	g.fake.SetInSight(1, true)
	g.steps(4)
	require.Equal(t, StateHunting, g.c.State())
	require.True(t, g.c.Sneaking())
	g.c.Interval()
	assert.Contains(t, g.c.trees[StateHunting].LastPath(), "sneak_check")

	g.fake.SetLooking(1, true)
	g.c.Interval()
	require.False(t, g.c.Sneaking())
	g.c.Interval()
	path = g.c.trees[StateHunting].LastPath()
	assert.NotContains(t, path, "sneak_check")
	assert.Contains(t, path, "search_if_too_far")
}
