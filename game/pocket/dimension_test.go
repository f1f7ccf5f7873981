package pocket

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
	"github.com/kasuganosora/corrosion/game/rng"
	"github.com/kasuganosora/corrosion/game/session"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/replication"
)

func newNop() *zap.Logger { return zap.NewNop() }

type rig struct {
	fake *hosttest.Fake
	sc   *session.Context
	loop *session.Loop
	dim  *Dimension
}

func newRig(authority bool, rolls ...int) *rig {
	fake := hosttest.New()
	fake.AddPlayer(host.PlayerInfo{ID: 1, Position: host.Vec3{X: 3}})
	sc := session.NewContext(session.Options{
		SessionID: "s1",
		NodeID:    "a",
		Authority: authority,
		Host:      fake.Host(),
		Hooks:     hook.NewHookCenter(),
		Logger:    newNop(),
	})
	if len(rolls) > 0 {
		sc.Rand = rng.FromSource(rng.NewScripted(rolls...))
	}
	dim := New(sc, DefaultSettings())
	sc.Channel.OnApply(func(c replication.Command) { dim.Apply(c) })
	return &rig{fake: fake, sc: sc, loop: session.NewLoop(sc, session.LoopConfig{}), dim: dim}
}

func (g *rig) steps(n int) {
	for i := 0; i < n; i++ {
		g.loop.Step()
	}
}

func TestRollOutcomeTable(t *testing.T) {
	main := map[int]Outcome{1: OutcomeDeath, 2: OutcomeEscape, 3: OutcomeRetry, 4: OutcomeRetry}
	for roll := 1; roll <= 10; roll++ {
		want, ok := main[roll]
		if !ok {
			want = OutcomeAdvance
		}
		got, to := RollOutcome(RoomMain, roll)
		assert.Equal(t, want, got, "main roll %d", roll)
		if got == OutcomeAdvance {
			assert.Equal(t, RoomCorridor, to)
		}
	}
	corridor := map[int]Outcome{1: OutcomeRetry, 2: OutcomeRetry, 3: OutcomeEscape, 4: OutcomeEscape}
	for roll := 1; roll <= 10; roll++ {
		want, ok := corridor[roll]
		if !ok {
			want = OutcomeAdvance
		}
		got, to := RollOutcome(RoomCorridor, roll)
		assert.Equal(t, want, got, "corridor roll %d", roll)
		if got == OutcomeAdvance {
			assert.Equal(t, RoomThrone, to)
		}
	}
}

func TestEnterAppliesOverlayAndTeleports(t *testing.T) {
	g := newRig(true)
	require.NoError(t, g.dim.Enter(1, host.Vec3{X: 3}))
	require.True(t, g.dim.Contains(1))

	st := g.fake.State(1)
	assert.Equal(t, 0.5, st.Speed)
	assert.Equal(t, 20.0, st.Impairment)
	assert.Equal(t, g.fake.Anchors[AnchorMain], st.Position)

	require.NoError(t, g.dim.Enter(1, host.Vec3{}), "second enter is a no-op")
	assert.Len(t, g.dim.Occupants(), 1)
}

func TestBleedOutKillsAtExactly45Seconds(t *testing.T) {
	g := newRig(true)
	require.NoError(t, g.dim.Enter(1, host.Vec3{X: 3}))

	g.steps(899)
	assert.False(t, g.fake.State(1).Killed)
	assert.True(t, g.dim.Contains(1))

	g.steps(1)
	st := g.fake.State(1)
	assert.True(t, st.Killed)
	assert.Equal(t, host.CauseStabbing, st.Cause)
	assert.False(t, g.dim.Contains(1))
	assert.Equal(t, 1.0, st.Speed, "overlay restored")
	assert.Equal(t, 0.0, st.Impairment)
}

func TestEscapeOneTickBeforeBleedOutSurvives(t *testing.T) {
	g := newRig(true, 1, 1) // room roll 2 = escape, farthest-node roll 2 = no
	exit := host.Vec3{X: 3}
	require.NoError(t, g.dim.Enter(1, exit))
	g.steps(899)

	require.NoError(t, g.dim.CrossBoundary(1))
	g.steps(10)

	st := g.fake.State(1)
	assert.False(t, st.Killed)
	assert.False(t, g.dim.Contains(1))
	assert.Equal(t, exit, st.Position)
	assert.Equal(t, 3.0, st.Speed, "escape buff")
	assert.Equal(t, 0.0, st.Impairment)

	g.steps(200)
	assert.Equal(t, 1.0, g.fake.State(1).Speed, "buff expired")
}

func reachThrone(t *testing.T, g *rig) {
	t.Helper()
	require.NoError(t, g.dim.Enter(1, host.Vec3{X: 3}))
	require.NoError(t, g.dim.CrossBoundary(1))
	require.NoError(t, g.dim.CrossBoundary(1))
	occ, ok := g.dim.Occupant(1)
	require.True(t, ok)
	require.Equal(t, RoomThrone, occ.Room)
	assert.Equal(t, g.fake.Anchors[AnchorThrone], g.fake.State(1).Position)
}

func TestKneelingOneTickBeforeThroneTimeoutEscapes(t *testing.T) {
	g := newRig(true, 4) // every roll lands on 5, then 2 on the odds roll
	reachThrone(t, g)

	g.steps(198)
	g.dim.SetKneeling(1, true)
	g.steps(1)

	assert.False(t, g.dim.Contains(1))
	assert.False(t, g.fake.State(1).Killed)
	assert.Equal(t, host.Vec3{X: 3}, g.fake.State(1).Position)
}

func TestKneelingOnTheTimeoutTickIsTooLate(t *testing.T) {
	g := newRig(true, 4)
	reachThrone(t, g)

	g.steps(199)
	g.dim.SetKneeling(1, true)
	g.steps(1)
	assert.False(t, g.dim.Contains(1))

	g.steps(60)
	st := g.fake.State(1)
	assert.True(t, st.Killed)
	assert.Equal(t, host.CauseCrushing, st.Cause)
	assert.Equal(t, 1, st.KillVariant)
}

func TestThroneWarningCue(t *testing.T) {
	g := newRig(true, 4)
	reachThrone(t, g)
	g.fake.Reset()
	g.steps(120)
	var warned bool
	for _, c := range g.fake.CallsNamed("PlaySound") {
		if c.Args[0] == host.SoundPocketPersonal && c.Args[1] == ClipThroneWarning {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestSlamDeath(t *testing.T) {
	g := newRig(true, 0) // room roll 1
	require.NoError(t, g.dim.Enter(1, host.Vec3{X: 3}))
	require.NoError(t, g.dim.CrossBoundary(1))
	assert.False(t, g.dim.Contains(1))
	st := g.fake.State(1)
	require.NotNil(t, st.Forced)
	assert.Equal(t, g.fake.Anchors[AnchorCrush], *st.Forced)
	assert.False(t, st.Killed)

	g.steps(20)
	st = g.fake.State(1)
	assert.True(t, st.Killed)
	assert.Equal(t, 2, st.KillVariant)
	assert.Nil(t, st.Forced)
}

func TestRetryKeepsRoom(t *testing.T) {
	g := newRig(true, 2) // roll 3
	require.NoError(t, g.dim.Enter(1, host.Vec3{}))
	g.fake.Teleport(1, host.Vec3{X: -1})
	require.NoError(t, g.dim.CrossBoundary(1))
	occ, _ := g.dim.Occupant(1)
	assert.Equal(t, RoomMain, occ.Room)
	assert.Equal(t, g.fake.Anchors[AnchorMain], g.fake.State(1).Position)
}

func TestReplicaWaitsForAuthorityVerdict(t *testing.T) {
	g := newRig(false)
	enter, _ := json.Marshal(EnterPayload{Player: 1})
	g.sc.Channel.Receive(replication.Command{Seq: 1, Kind: KindEnter, Payload: enter})
	require.True(t, g.dim.Contains(1))

	g.steps(1000)
	assert.False(t, g.fake.State(1).Killed, "replica never decides the bleed-out")
	assert.Equal(t, 100.0, g.fake.State(1).Impairment)

	death, _ := json.Marshal(DeathPayload{Player: 1, Style: DeathBleed})
	g.sc.Channel.Receive(replication.Command{Seq: 2, Kind: KindDeath, Payload: death})
	assert.True(t, g.fake.State(1).Killed)
	assert.Equal(t, 0.0, g.fake.State(1).Impairment)
}

func TestProposalsRouteToDecisions(t *testing.T) {
	g := newRig(true, 4)
	require.NoError(t, g.dim.Enter(1, host.Vec3{}))
	raw, _ := json.Marshal(BoundaryProposal{Player: 1})
	assert.True(t, g.dim.HandleProposal(replication.Proposal{Kind: ProposeBoundary, Payload: raw}))
	occ, _ := g.dim.Occupant(1)
	assert.Equal(t, RoomCorridor, occ.Room)

	raw, _ = json.Marshal(PostureProposal{Player: 1, Kneeling: true})
	g.dim.HandleProposal(replication.Proposal{Kind: ProposePosture, Payload: raw})
	occ, _ = g.dim.Occupant(1)
	assert.True(t, occ.Kneeling)

	assert.False(t, g.dim.HandleProposal(replication.Proposal{Kind: "collision"}))
}

func TestAmbientIsDecidedByTheAuthority(t *testing.T) {
	g := newRig(true, 7)
	g.dim.cosmetic = rng.FromSource(rng.NewScripted(2, 2, 3, 1))
	require.NoError(t, g.dim.PlayAmbient())
	assert.Empty(t, g.fake.CallsNamed("PlaySoundAt"), "empty pocket is silent")

	require.NoError(t, g.dim.Enter(1, host.Vec3{}))
	g.fake.Reset()
	require.NoError(t, g.dim.PlayAmbient())
	require.NoError(t, g.dim.PlayAmbient())
	calls := g.fake.CallsNamed("PlaySoundAt")
	require.Len(t, calls, 2)
	assert.Equal(t, []any{host.SoundPocketAmbient, 2, g.fake.Anchors[AnchorThrone]}, calls[0].Args)
	assert.Equal(t, []any{host.SoundPocketAmbient, 3, g.fake.Anchors[AnchorCorridor]}, calls[1].Args)
	assert.Equal(t, 7, g.sc.Rand.Intn(10), "gameplay rolls untouched")

	rep := newRig(false)
	enter, _ := json.Marshal(EnterPayload{Player: 1})
	rep.sc.Channel.Receive(replication.Command{Seq: 1, Kind: KindEnter, Payload: enter})
	rep.fake.Reset()
	require.NoError(t, rep.dim.PlayAmbient())
	assert.Empty(t, rep.fake.CallsNamed("PlaySoundAt"), "replicas only play what they receive")

	raw, _ := json.Marshal(AmbientPayload{Clip: 4, Position: 1})
	rep.sc.Channel.Receive(replication.Command{Seq: 2, Kind: KindAmbient, Payload: raw})
	calls = rep.fake.CallsNamed("PlaySoundAt")
	require.Len(t, calls, 1)
	assert.Equal(t, []any{host.SoundPocketAmbient, 4, rep.fake.Anchors[AnchorCorridor]}, calls[0].Args)
}

func TestPromotedReplicaSettlesOverdueBleedOut(t *testing.T) {
	g := newRig(false)
	enter, _ := json.Marshal(EnterPayload{Player: 1})
	g.sc.Channel.Receive(replication.Command{Seq: 1, Kind: KindEnter, Payload: enter})

	g.steps(905)
	require.True(t, g.dim.Contains(1))
	require.False(t, g.fake.State(1).Killed)

	g.sc.Channel.Promote()
	g.steps(1)
	st := g.fake.State(1)
	assert.True(t, st.Killed)
	assert.Equal(t, host.CauseStabbing, st.Cause)
	assert.False(t, g.dim.Contains(1))
	assert.Equal(t, 0.0, st.Impairment)
	assert.Equal(t, uint64(2), g.sc.Channel.LastSeq())
}

func TestRestoreResumesTimersFromTimeSpent(t *testing.T) {
	g := newRig(true)
	g.fake.AddPlayer(host.PlayerInfo{ID: 2})
	g.sc.Clock.Set(100 * time.Second)
	g.dim.Restore([]Occupant{
		{Player: 1, Room: RoomMain, EnteredAt: 56 * time.Second},
		{Player: 2, Room: RoomThrone, EnteredAt: 70 * time.Second, ThroneAt: 91 * time.Second},
	})
	require.True(t, g.dim.Contains(1))
	require.True(t, g.dim.Contains(2))
	assert.Greater(t, g.fake.State(1).Impairment, 60.0, "already critical")

	g.steps(19)
	assert.True(t, g.dim.Contains(1))
	assert.True(t, g.dim.Contains(2))

	g.steps(1)
	assert.False(t, g.dim.Contains(1), "bleed-out lands 45s after entering")
	assert.True(t, g.fake.State(1).Killed)
	assert.Equal(t, host.CauseStabbing, g.fake.State(1).Cause)
	assert.False(t, g.dim.Contains(2), "throne verdict lands 10s after reaching it")

	g.steps(70)
	st := g.fake.State(2)
	assert.True(t, st.Killed)
	assert.Equal(t, host.CauseCrushing, st.Cause)
}

func TestRestoreSettlesOverdueStayAtOnce(t *testing.T) {
	g := newRig(true)
	g.sc.Clock.Set(100 * time.Second)
	g.dim.Restore([]Occupant{{Player: 1, Room: RoomCorridor, EnteredAt: 40 * time.Second}})
	assert.False(t, g.dim.Contains(1))
	assert.True(t, g.fake.State(1).Killed)
	assert.Empty(t, g.sc.Engine.Active())
}

func TestRestoreOnReplicaWaitsThenSettlesOnPromotion(t *testing.T) {
	g := newRig(false)
	g.sc.Clock.Set(100 * time.Second)
	g.dim.Restore([]Occupant{{Player: 1, Room: RoomMain, EnteredAt: 40 * time.Second}})
	g.steps(10)
	require.True(t, g.dim.Contains(1))
	assert.False(t, g.fake.State(1).Killed)

	g.sc.Channel.Promote()
	g.steps(1)
	assert.False(t, g.dim.Contains(1))
	assert.True(t, g.fake.State(1).Killed)
}

func countPocketDeaths(g *rig) *int {
	n := 0
	g.sc.Hooks.Register(hook.OnPocketDeath, 0, "count", func(_ context.Context, _ string, data any) (any, error) {
		n++
		return data, nil
	})
	return &n
}

func TestDeadOccupantIsDroppedWithoutPocketDeath(t *testing.T) {
	g := newRig(true)
	deaths := countPocketDeaths(g)
	require.NoError(t, g.dim.Enter(1, host.Vec3{X: 3}))

	g.steps(200)
	g.fake.UpdatePlayer(1, func(p *host.PlayerInfo) { p.Dead = true })
	g.steps(1)
	assert.False(t, g.dim.Contains(1))
	assert.Equal(t, 0.0, g.fake.State(1).Impairment)
	assert.Equal(t, 1.0, g.fake.State(1).Speed)

	g.steps(1000)
	assert.Empty(t, g.fake.CallsNamed("Kill"))
	assert.Zero(t, *deaths)
	assert.Equal(t, g.fake.Anchors[AnchorMain], g.fake.State(1).Position, "a dropped stay moves nobody")
}

func TestRestoredStayOfMissingPlayerIsDropped(t *testing.T) {
	g := newRig(true)
	deaths := countPocketDeaths(g)
	g.sc.Clock.Set(100 * time.Second)
	g.dim.Restore([]Occupant{{Player: 9, Room: RoomThrone, EnteredAt: 40 * time.Second, ThroneAt: 80 * time.Second}})
	assert.False(t, g.dim.Contains(9))
	assert.Empty(t, g.sc.Engine.Active())
	assert.Equal(t, 0.0, g.fake.State(9).Impairment)
	for _, c := range g.fake.CallsNamed("PlaySound") {
		assert.NotEqual(t, ClipCritical, c.Args[1], "no cue for a dropped stay")
	}
	g.steps(100)
	assert.Empty(t, g.fake.CallsNamed("Kill"))
	assert.Zero(t, *deaths)
}

func TestReleaseOnDisconnect(t *testing.T) {
	g := newRig(true)
	exit := host.Vec3{X: 9}
	require.NoError(t, g.dim.Enter(1, exit))
	require.NoError(t, g.dim.Release(1))
	assert.False(t, g.dim.Contains(1))
	assert.Equal(t, 1.0, g.fake.State(1).Speed)
	assert.Equal(t, exit, g.fake.State(1).Position)
}
