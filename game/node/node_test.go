package node

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/config"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/host/hosttest"
	"github.com/kasuganosora/corrosion/journal"
	"github.com/kasuganosora/corrosion/replication"
	"github.com/kasuganosora/corrosion/scheduler"
	"github.com/kasuganosora/corrosion/testutil"
)

type shared struct {
	cache   cache.Cache
	ps      cache.PubSub
	journal *journal.Service
}

func newShared(t *testing.T) shared {
	t.Helper()
	c, ps := testutil.SetupTestCache(t)
	j := journal.New(testutil.SetupTestDB(t), zap.NewNop(), 0)
	t.Cleanup(func() { j.Stop(context.Background()) })
	return shared{cache: c, ps: ps, journal: j}
}

func testConfig() *config.Config {
	cfg := config.Default()
	cfg.Game.SessionID = "node-test"
	return cfg
}

func startNode(t *testing.T, sh shared, id string, sched *scheduler.Scheduler) *Node {
	t.Helper()
	fake := hosttest.New()
	fake.AddPlayer(host.PlayerInfo{ID: 1, Position: host.Vec3{X: 5}, InsideFactory: true})
	n, err := New(Options{
		Config:    testConfig(),
		NodeID:    id,
		Host:      fake.Host(),
		Cache:     sh.cache,
		PubSub:    sh.ps,
		Journal:   sh.journal,
		Scheduler: sched,
		Logger:    zap.NewNop(),
	})
	require.NoError(t, err)
	require.NoError(t, n.Start(context.Background()))
	t.Cleanup(func() { n.Stop(context.Background()) })
	return n
}

func initialized(n *Node) bool {
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	s, err := n.Snapshot(ctx)
	return err == nil && s.Initialized
}

func TestNewValidates(t *testing.T) {
	_, err := New(Options{NodeID: "a"})
	assert.Error(t, err)
	_, err = New(Options{Config: testConfig()})
	assert.Error(t, err)
}

func TestSettingsFromConfig(t *testing.T) {
	cfg := config.Default()
	cs := CreatureSettings(cfg.Creature)
	assert.Equal(t, 20, cs.ChanceForPocketDimension)
	assert.Equal(t, 15, cs.NonDeadlyInteractions)
	assert.True(t, cs.Stunnable)

	ps := PocketSettings(config.PocketConfig{BleedOutS: 30})
	assert.Equal(t, 30*time.Second, ps.BleedOut)
	assert.Equal(t, 10*time.Second, ps.ThroneCountdown)
}

func TestStartTakesLeaseAndInitializes(t *testing.T) {
	sh := newShared(t)
	a := startNode(t, sh, "a", nil)

	assert.True(t, a.Authority())
	assert.True(t, initialized(a))
	owner, err := replication.NewLease(sh.cache, "node-test", "x", time.Second).Owner(context.Background())
	require.NoError(t, err)
	assert.Equal(t, "a", owner)
}

func TestSecondNodeJoinsAsReplica(t *testing.T) {
	sh := newShared(t)
	a := startNode(t, sh, "a", nil)
	b := startNode(t, sh, "b", nil)

	assert.True(t, a.Authority())
	assert.False(t, b.Authority())
	assert.Eventually(t, func() bool { return initialized(b) }, 5*time.Second, 20*time.Millisecond,
		"replica catches the init command from history")
}

func TestFailoverPromotesReplica(t *testing.T) {
	sh := newShared(t)
	a := startNode(t, sh, "a", nil)
	b := startNode(t, sh, "b", nil)
	require.Eventually(t, func() bool { return initialized(b) }, 5*time.Second, 20*time.Millisecond)

	a.Stop(context.Background())

	require.NoError(t, b.leaseTick(context.Background()))
	assert.Eventually(t, b.Authority, time.Second, 10*time.Millisecond)
}

func TestStopReleasesLeaseAndRestoreFromSnapshot(t *testing.T) {
	sh := newShared(t)
	a := startNode(t, sh, "a", nil)
	require.NoError(t, a.SaveSnapshot(context.Background()))
	a.Stop(context.Background())
	seq := a.Channel().LastSeq()
	require.NotZero(t, seq)

	owner, err := replication.NewLease(sh.cache, "node-test", "x", time.Second).Owner(context.Background())
	require.NoError(t, err)
	assert.Empty(t, owner)

	rec, ok, err := sh.journal.LoadSnapshot(context.Background(), "node-test")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, "a", rec.SavedBy)

	a2 := startNode(t, sh, "a", nil)
	assert.True(t, a2.Authority())
	assert.True(t, initialized(a2))
	assert.GreaterOrEqual(t, a2.Channel().LastSeq(), seq, "resumes numbering after the snapshot")
}

func TestRestoreFallsBackToJournal(t *testing.T) {
	sh := newShared(t)
	a := startNode(t, sh, "a", nil)
	a.Stop(context.Background())
	seq := a.Channel().LastSeq()

	fresh, ps := testutil.SetupTestCache(t)
	sh2 := shared{cache: fresh, ps: ps, journal: sh.journal}
	b := startNode(t, sh2, "b", nil)
	assert.True(t, initialized(b))
	assert.GreaterOrEqual(t, b.Channel().LastSeq(), seq)
}

func TestScheduledTasks(t *testing.T) {
	sh := newShared(t)
	sched := scheduler.New(zap.NewNop())
	t.Cleanup(sched.Stop)
	a := startNode(t, sh, "a", sched)

	assert.Equal(t, []string{
		"lease:node-test",
		"pocket_ambient:node-test",
		"snapshot:node-test",
	}, sched.ListTickers())

	a.Stop(context.Background())
	assert.Empty(t, sched.ListTickers())
}

func TestSaveSnapshotSkippedOnReplica(t *testing.T) {
	sh := newShared(t)
	startNode(t, sh, "a", nil)
	b := startNode(t, sh, "b", nil)
	require.NoError(t, b.SaveSnapshot(context.Background()))

	snap, ok, err := replication.NewSnapshotStore(sh.cache, 0).Load(context.Background(), "node-test")
	require.NoError(t, err)
	assert.False(t, ok && snap.SavedBy == "b")
}
