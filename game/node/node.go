// Package node runs one session of the creature on this process: the
// simulation loop, its replication channel, the authority lease, periodic
// snapshots and the encounter journal.
package node

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/cache"
	"github.com/kasuganosora/corrosion/config"
	"github.com/kasuganosora/corrosion/game/creature"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/pocket"
	"github.com/kasuganosora/corrosion/game/session"
	"github.com/kasuganosora/corrosion/journal"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/replication"
	"github.com/kasuganosora/corrosion/scheduler"
)

// Options wires a Node. Journal and Scheduler may be nil.
type Options struct {
	Config    *config.Config
	NodeID    string
	Host      host.Host
	Cache     cache.Cache
	PubSub    cache.PubSub
	Hooks     *hook.HookCenter
	Journal   *journal.Service
	Scheduler *scheduler.Scheduler
	Logger    *zap.Logger
}

// Node owns one session.
type Node struct {
	cfg      *config.Config
	id       string
	sc       *session.Context
	loop     *session.Loop
	creature *creature.Creature

	lease     *replication.Lease
	snapshots *replication.SnapshotStore
	journal   *journal.Service
	sched     *scheduler.Scheduler
	logger    *zap.Logger

	cancel   context.CancelFunc
	done     chan struct{}
	stopOnce sync.Once
}

// CreatureSettings converts the creature config section.
func CreatureSettings(c config.CreatureConfig) creature.Settings {
	return creature.Settings{
		SpawnWeight:              c.SpawnWeight,
		Stunnable:                c.Stunnable,
		NonDeadlyInteractions:    c.NonDeadlyInteractions,
		ChanceForPocketDimension: c.ChanceForPocketDimension,
		CanGoOutside:             c.CanGoOutside,
		CanGoInsideShip:          c.CanGoInsideShip,
	}
}

// PocketSettings converts the pocket config section. Zero values keep the
// stock timings.
func PocketSettings(c config.PocketConfig) pocket.Settings {
	s := pocket.DefaultSettings()
	if c.BleedOutS > 0 {
		s.BleedOut = time.Duration(c.BleedOutS) * time.Second
	}
	if c.ThroneCountdownS > 0 {
		s.ThroneCountdown = time.Duration(c.ThroneCountdownS) * time.Second
	}
	if c.EscapeBuffS > 0 {
		s.EscapeBuff = time.Duration(c.EscapeBuffS) * time.Second
	}
	return s
}

// New builds the session but does not start it.
func New(opts Options) (*Node, error) {
	if opts.Config == nil {
		return nil, errors.New("node: config is required")
	}
	if opts.NodeID == "" {
		return nil, errors.New("node: node id is required")
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	hooks := opts.Hooks
	if hooks == nil {
		hooks = hook.NewHookCenter()
	}
	cfg := opts.Config
	sessionID := cfg.Game.SessionID

	sc := session.NewContext(session.Options{
		SessionID: sessionID,
		NodeID:    opts.NodeID,
		Seed:      cfg.Creature.Seed,
		Host:      opts.Host,
		Hooks:     hooks,
		Logger:    logger.With(zap.String("node", opts.NodeID)),
		PubSub:    opts.PubSub,
		Store:     opts.Cache,
	})
	loop := session.NewLoop(sc, session.LoopConfig{
		Tick:    cfg.Game.Tick(),
		AIEvery: cfg.Game.AIEvery(),
	})
	c := creature.New(sc, CreatureSettings(cfg.Creature), PocketSettings(cfg.Pocket))
	c.Attach(loop)

	if opts.Journal != nil {
		opts.Journal.Attach(hooks)
	}

	n := &Node{
		cfg:      cfg,
		id:       opts.NodeID,
		sc:       sc,
		loop:     loop,
		creature: c,
		journal:  opts.Journal,
		sched:    opts.Scheduler,
		logger:   logger.With(zap.String("session", sessionID), zap.String("node", opts.NodeID)),
		done:     make(chan struct{}),
	}
	if opts.Cache != nil {
		n.lease = replication.NewLease(opts.Cache, sessionID, opts.NodeID, cfg.Game.LeaseTTL())
		n.snapshots = replication.NewSnapshotStore(opts.Cache, 0)
	}
	return n, nil
}

// SessionID returns the session this node runs.
func (n *Node) SessionID() string { return n.sc.SessionID }

// NodeID returns this node's id.
func (n *Node) NodeID() string { return n.id }

// Authority reports whether this node currently decides for the session.
func (n *Node) Authority() bool { return n.sc.Authority() }

// Loop returns the session loop.
func (n *Node) Loop() *session.Loop { return n.loop }

// Channel returns the session's replication channel.
func (n *Node) Channel() *replication.Channel { return n.sc.Channel }

// Do queues fn onto the session goroutine.
func (n *Node) Do(fn func(c *creature.Creature)) bool {
	return n.loop.Do(func() { fn(n.creature) })
}

// Snapshot captures the creature on the session goroutine.
func (n *Node) Snapshot(ctx context.Context) (creature.Snapshot, error) {
	var s creature.Snapshot
	err := n.loop.Query(ctx, func() { s = n.creature.Snapshot() })
	return s, err
}

// State is Snapshot plus the channel's last sequence, read together.
func (n *Node) State(ctx context.Context) (creature.Snapshot, uint64, error) {
	var (
		s   creature.Snapshot
		seq uint64
	)
	err := n.loop.Query(ctx, func() {
		s = n.creature.Snapshot()
		seq = n.sc.Channel.LastSeq()
	})
	return s, seq, err
}

// Start restores the latest snapshot, contends for the lease when this node
// is authority-eligible, joins the channel and starts the loop and the
// periodic tasks.
func (n *Node) Start(ctx context.Context) error {
	restored, err := n.restore(ctx)
	if err != nil {
		n.logger.Warn("snapshot restore failed, starting fresh", zap.Error(err))
	}

	if n.cfg.Server.Authority {
		if err := n.acquire(ctx); err != nil {
			return fmt.Errorf("node: acquire lease: %w", err)
		}
	}

	runCtx, cancel := context.WithCancel(context.Background())
	n.cancel = cancel
	if err := n.sc.Channel.Start(runCtx, n.loop.Enqueue); err != nil {
		cancel()
		return fmt.Errorf("node: start channel: %w", err)
	}

	if n.Authority() && !n.creature.Initialized() {
		if err := n.creature.Init(); err != nil {
			cancel()
			n.sc.Channel.Stop()
			return fmt.Errorf("node: init creature: %w", err)
		}
	}

	seq := n.sc.Channel.LastSeq()
	go func() {
		defer close(n.done)
		n.loop.Run(runCtx)
	}()
	n.schedule()

	n.logger.Info("session started",
		zap.Bool("authority", n.Authority()),
		zap.Bool("restored", restored),
		zap.Uint64("seq", seq))
	return nil
}

func (n *Node) acquire(ctx context.Context) error {
	if n.lease == nil {
		n.sc.Channel.Promote()
		return nil
	}
	ok, err := n.lease.Acquire(ctx)
	if err != nil {
		return err
	}
	if ok {
		n.sc.Channel.Promote()
	} else {
		owner, _ := n.lease.Owner(ctx)
		n.logger.Info("lease held elsewhere, joining as replica", zap.String("owner", owner))
	}
	return nil
}

// restore adopts the newest snapshot from the cache, falling back to the
// journal database. Runs before the loop starts.
func (n *Node) restore(ctx context.Context) (bool, error) {
	var (
		body []byte
		seq  uint64
	)
	if n.snapshots != nil {
		snap, ok, err := n.snapshots.Load(ctx, n.SessionID())
		if err != nil {
			return false, err
		}
		if ok {
			body, seq = snap.Body, snap.Seq
		}
	}
	if body == nil && n.journal != nil {
		rec, ok, err := n.journal.LoadSnapshot(ctx, n.SessionID())
		if err != nil {
			return false, err
		}
		if ok {
			body, seq = rec.Body, rec.Seq
		}
	}
	if body == nil {
		return false, nil
	}
	var s creature.Snapshot
	if err := json.Unmarshal(body, &s); err != nil {
		return false, fmt.Errorf("decode snapshot: %w", err)
	}
	n.creature.Restore(s)
	n.sc.Channel.Resync(seq)
	return true, nil
}

func (n *Node) taskName(kind string) string { return kind + ":" + n.SessionID() }

func (n *Node) schedule() {
	if n.sched == nil {
		return
	}
	if n.lease != nil && n.cfg.Server.Authority {
		every := n.cfg.Game.LeaseTTL() / 3
		if every <= 0 {
			every = time.Second
		}
		n.sched.AddTicker(n.taskName("lease"), every, n.leaseTick)
	}
	if n.cfg.Game.SnapshotIntervalS > 0 {
		n.sched.AddTicker(n.taskName("snapshot"), time.Duration(n.cfg.Game.SnapshotIntervalS)*time.Second, n.SaveSnapshot)
	}
	if n.cfg.Pocket.AmbientIntervalS > 0 {
		n.sched.AddTicker(n.taskName("pocket_ambient"), time.Duration(n.cfg.Pocket.AmbientIntervalS)*time.Second, func(context.Context) error {
			n.Do(func(c *creature.Creature) {
				if err := c.Pocket().PlayAmbient(); err != nil {
					n.logger.Warn("pocket ambient failed", zap.Error(err))
				}
			})
			return nil
		})
	}
}

// leaseTick renews the lease while authority and contends for it otherwise.
// Promotion and demotion happen on the session goroutine.
func (n *Node) leaseTick(ctx context.Context) error {
	if n.Authority() {
		err := n.lease.Renew(ctx)
		if errors.Is(err, replication.ErrLeaseLost) {
			n.loop.Do(n.sc.Channel.Demote)
			return nil
		}
		return err
	}
	ok, err := n.lease.Acquire(ctx)
	if err != nil || !ok {
		return err
	}
	n.loop.Do(func() {
		n.sc.Channel.Promote()
		if !n.creature.Initialized() {
			if err := n.creature.Init(); err != nil {
				n.logger.Error("init after promotion failed", zap.Error(err))
			}
		}
	})
	return nil
}

// SaveSnapshot persists the creature to the cache and the journal database.
// Only the authority writes.
func (n *Node) SaveSnapshot(ctx context.Context) error {
	if !n.Authority() {
		return nil
	}
	s, seq, err := n.State(ctx)
	if err != nil {
		return err
	}
	body, err := json.Marshal(s)
	if err != nil {
		return err
	}
	if n.snapshots != nil {
		if err := n.snapshots.Save(ctx, n.SessionID(), replication.Snapshot{
			Seq: seq, AtMs: s.SimMs, SavedBy: n.id, Body: body,
		}); err != nil {
			return err
		}
	}
	if n.journal != nil {
		if err := n.journal.SaveSnapshot(ctx, n.SessionID(), seq, n.id, body); err != nil {
			return err
		}
	}
	return nil
}

// Stop removes the periodic tasks, saves a final snapshot, hands the lease
// back and stops the loop and the channel. Safe to call more than once.
func (n *Node) Stop(ctx context.Context) {
	n.stopOnce.Do(func() { n.stop(ctx) })
}

func (n *Node) stop(ctx context.Context) {
	if n.sched != nil {
		for _, kind := range []string{"lease", "snapshot", "pocket_ambient"} {
			n.sched.Remove(n.taskName(kind))
		}
	}
	if n.cancel == nil {
		return
	}
	if err := n.SaveSnapshot(ctx); err != nil {
		n.logger.Error("final snapshot failed", zap.Error(err))
	}
	if n.lease != nil && n.Authority() {
		if err := n.lease.Release(ctx); err != nil {
			n.logger.Warn("lease release failed", zap.Error(err))
		}
	}
	n.cancel()
	n.loop.Stop()
	<-n.done
	n.sc.Channel.Stop()
	n.logger.Info("session stopped")
}
