// Package creature implements the hostile creature: its primary behavior
// state machine, periodic evaluation, contact resolution and the timed
// choreographies it plays with players.
//
// The authority node decides every gameplay-affecting transition and
// broadcasts it on the session's replication channel; every node, the
// authority included, applies those commands in order.
package creature

import (
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/ai"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/pocket"
	"github.com/kasuganosora/corrosion/game/sequence"
	"github.com/kasuganosora/corrosion/game/session"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/replication"
)

// Creature is the single hostile entity of a session.
type Creature struct {
	sc     *session.Context
	pocket *pocket.Dimension
	cfg    Settings

	state       State
	target      host.PlayerID
	sneaking    bool
	outside     bool
	initialized bool
	chasing     bool
	breathing   bool

	lastSpottedAt   time.Duration
	lastHuntStartAt time.Duration
	lastExitAt      time.Duration
	lastHitAt       time.Duration
	lastNoiseAt     time.Duration
	lastCollision   map[host.PlayerID]time.Duration

	// killRun is the grab in progress; bodyRun the creature-only choreography.
	killRun  string
	bodyRun  string
	bodyKind SequenceKind

	scripts map[SequenceKind]*sequence.Script
	trees   map[State]*ai.BehaviorTree
}

// New creates the creature and its pocket dimension for a session.
func New(sc *session.Context, cfg Settings, pocketCfg pocket.Settings) *Creature {
	c := &Creature{
		sc:            sc,
		pocket:        pocket.New(sc, pocketCfg),
		cfg:           cfg.Clamped(),
		target:        host.NoPlayer,
		lastCollision: make(map[host.PlayerID]time.Duration),
	}
	c.buildScripts()
	c.buildTrees()
	return c
}

// Attach routes the session's commands, proposals and AI interval to the
// creature and its pocket dimension.
func (c *Creature) Attach(l *session.Loop) {
	c.sc.Channel.OnApply(c.dispatch)
	c.sc.Channel.OnProposal(c.dispatchProposal)
	c.sc.Channel.OnPromote(c.promoted)
	l.OnInterval(c.Interval)
}

func (c *Creature) dispatch(cmd replication.Command) {
	if c.Apply(cmd) || c.pocket.Apply(cmd) {
		return
	}
	c.sc.Logger.Warn("unknown command skipped", zap.Uint64("seq", cmd.Seq), zap.String("kind", string(cmd.Kind)))
}

func (c *Creature) dispatchProposal(p replication.Proposal) {
	if c.HandleProposal(p) || c.pocket.HandleProposal(p) {
		return
	}
	c.sc.Logger.Warn("unknown proposal dropped", zap.String("from", p.From), zap.String("kind", string(p.Kind)))
}

// Pocket returns the creature's pocket dimension.
func (c *Creature) Pocket() *pocket.Dimension { return c.pocket }

// State returns the current primary state.
func (c *Creature) State() State { return c.state }

// Target returns the current target, or host.NoPlayer.
func (c *Creature) Target() host.PlayerID { return c.target }

// Sneaking reports whether the creature is stalking unseen.
func (c *Creature) Sneaking() bool { return c.sneaking }

// Initialized reports whether the init command has been applied.
func (c *Creature) Initialized() bool { return c.initialized }

// Settings returns the clamped settings in effect.
func (c *Creature) Settings() Settings { return c.cfg }

// InSpecialSequence reports whether a grab or push holds the guard.
func (c *Creature) InSpecialSequence() bool { return c.sc.Engine.InSpecialSequence() }

// ThreatLevel rates how dangerous the creature looks right now.
func (c *Creature) ThreatLevel() int {
	switch c.state {
	case StateSearching:
		return 2
	case StateEmerging:
		return 4
	case StateHunting:
		return 5
	}
	return 1
}

// Visibility rates how noticeable the creature is right now.
func (c *Creature) Visibility() float64 {
	switch c.state {
	case StateEmerging:
		return 0
	case StateHunting:
		return 2
	}
	return 1
}

// Init clamps the settings and broadcasts the initial reset. Authority only.
func (c *Creature) Init() error {
	_, err := c.sc.Channel.Broadcast(KindInit, InitPayload{Settings: c.cfg})
	return err
}

// Interval runs one periodic evaluation. Only the authority evaluates.
func (c *Creature) Interval() {
	if !c.sc.Authority() || !c.initialized {
		return
	}
	if c.sc.Engine.InSpecialSequence() || c.frozen() {
		return
	}
	tree, ok := c.trees[c.state]
	if !ok {
		return
	}
	tree.Tick(c.sc.Now())
	c.sc.Logger.Debug("ai interval",
		zap.String("state", c.state.String()),
		zap.Strings("path", tree.LastPath()))
}

// promoted makes the decisions this node skipped while it was a replica.
// A live grab or body choreography decides on its own exit; otherwise a
// state only a finished choreography holds is settled against its target.
func (c *Creature) promoted() {
	if !c.initialized || c.killRun != "" || c.bodyRun != "" {
		return
	}
	switch c.state {
	case StateKilling, StateSpotted, StateEmerging, StateSinking, StateIdle:
	default:
		return
	}
	c.sc.Logger.Info("settling state after promotion",
		zap.String("state", c.state.String()),
		zap.Int("target", int(c.target)))
	c.settle(c.target)
}

func (c *Creature) frozen() bool {
	if c.bodyRun == "" {
		return false
	}
	switch c.bodyKind {
	case SeqStun, SeqRecover, SeqSpawn:
		return true
	}
	return false
}

// Apply handles a creature command on any node. It returns false for kinds
// the creature does not own.
func (c *Creature) Apply(cmd replication.Command) bool {
	var err error
	switch cmd.Kind {
	case KindInit:
		var p InitPayload
		if err = cmd.Decode(&p); err == nil {
			c.applyInit(p)
		}
	case KindState:
		var p StatePayload
		if err = cmd.Decode(&p); err == nil {
			c.applyState(p)
		}
	case KindSequence:
		var p SequencePayload
		if err = cmd.Decode(&p); err == nil {
			c.applySequence(p)
		}
	case KindInterrupt:
		var p InterruptPayload
		if err = cmd.Decode(&p); err == nil {
			c.applyInterrupt(p)
		}
	case KindSound:
		var p SoundPayload
		if err = cmd.Decode(&p); err == nil {
			c.applySound(p)
		}
	case KindNoise:
		var p NoisePayload
		if err = cmd.Decode(&p); err == nil {
			c.applyNoise(p)
		}
	case KindWarp:
		var p WarpPayload
		if err = cmd.Decode(&p); err == nil {
			c.applyWarp(p)
		}
	default:
		return false
	}
	if err != nil {
		c.sc.Logger.Warn("bad creature command", zap.Uint64("seq", cmd.Seq), zap.String("kind", string(cmd.Kind)), zap.Error(err))
	}
	return true
}

// HandleProposal acts on a replica's observation. Authority only; returns
// false for kinds the creature does not own.
func (c *Creature) HandleProposal(p replication.Proposal) bool {
	var err error
	switch p.Kind {
	case ProposeCollision:
		var cp CollisionProposal
		if err = p.Decode(&cp); err == nil {
			_, err = c.Collide(cp.Player)
		}
	case ProposeHit:
		var hp HitProposal
		if err = p.Decode(&hp); err == nil {
			err = c.Hit(hp.Player)
		}
	case ProposeNoise:
		var np NoiseProposal
		if err = p.Decode(&np); err == nil {
			_, err = c.HearNoise(np.Position, np.Loudness)
		}
	case ProposeLeft:
		var lp LeftProposal
		if err = p.Decode(&lp); err == nil {
			err = c.PlayerLeft(lp.Player)
		}
	default:
		return false
	}
	if err != nil {
		c.sc.Logger.Warn("proposal failed", zap.String("from", p.From), zap.String("kind", string(p.Kind)), zap.Error(err))
	}
	return true
}

func (c *Creature) applyInit(p InitPayload) {
	now := c.sc.Now()
	c.cfg = p.Settings.Clamped()
	c.initialized = true
	c.sneaking = false
	c.target = host.NoPlayer
	c.lastSpottedAt = now - spottedCooldown
	c.lastNoiseAt = now - noiseCooldown
	c.lastHitAt = now
	c.lastExitAt = now
	c.lastHuntStartAt = now
	c.lastCollision = make(map[host.PlayerID]time.Duration)
	c.setState(StateIdle)
	c.sc.Logger.Info("creature initialised",
		zap.Int("pocket_chance", c.cfg.ChanceForPocketDimension),
		zap.Int("non_deadly", c.cfg.NonDeadlyInteractions),
		zap.Bool("stunnable", c.cfg.Stunnable),
		zap.Bool("can_go_outside", c.cfg.CanGoOutside))
	c.startSequence(SequencePayload{Kind: SeqSpawn, Player: host.NoPlayer})
}

func (c *Creature) applyState(p StatePayload) {
	if p.State == c.state && p.Target == c.target && p.Sneaking == c.sneaking && !p.HuntStart && !p.Revealed {
		return
	}
	now := c.sc.Now()
	c.target = p.Target
	c.sneaking = p.Sneaking
	pres := c.sc.Host.Presentation
	if p.Sneaking {
		pres.SetFootstepVolume(footstepsSneaking)
		c.stopLoop(host.SoundBreathing)
		c.stopLoop(host.SoundChasing)
	} else {
		pres.SetFootstepVolume(footstepsNormal)
	}
	if p.HuntStart {
		c.lastHuntStartAt = now
		c.playLoop(host.SoundChasing)
	}
	if p.Revealed {
		pres.PlaySound(host.SoundSpotted, host.AnyClip)
		c.playLoop(host.SoundChasing)
	}
	if p.State != c.state {
		c.setState(p.State)
	}
}

// setState switches the state and plays its presentation on this node.
func (c *Creature) setState(s State) {
	prev := c.state
	c.state = s
	pres, mover := c.sc.Host.Presentation, c.sc.Host.Mover
	switch s {
	case StateIdle:
		pres.PlayAnimation(host.AnimStill)
		mover.SetSpeed(0.5)
	case StateSearching:
		pres.PlayAnimation(host.AnimWalk)
		pres.SetAnimationSpeed(2)
		mover.SetSpeed(2)
		mover.Stop(false)
	case StateSpotted:
		pres.PlayAnimation(host.AnimSpotted)
		pres.SetAnimationSpeed(1)
		mover.SetSpeed(0)
		mover.Stop(true)
	case StateHunting:
		pres.PlayAnimation(host.AnimWalk)
		pres.SetAnimationSpeed(3)
		mover.SetSpeed(3)
		mover.Stop(false)
	case StateKilling:
		pres.PlayAnimation(host.AnimKill)
		pres.SetAnimationSpeed(1)
		mover.SetSpeed(0)
		mover.Stop(true)
	case StateEmerging:
		pres.PlayAnimation(host.AnimEmerge)
		pres.SetAnimationSpeed(0.7)
		mover.SetSpeed(0)
		mover.Stop(true)
	case StateSinking:
		pres.PlayAnimation(host.AnimSink)
		pres.SetAnimationSpeed(1)
		mover.SetSpeed(0)
		mover.Stop(true)
	}
	if prev == s {
		return
	}
	c.sc.Logger.Info("creature state changed",
		zap.String("from", prev.String()),
		zap.String("to", s.String()),
		zap.Int("target", int(c.target)),
		zap.Bool("sneaking", c.sneaking))
	c.fire(hook.OnStateChange, c.target, map[string]any{"from": prev.String()})
}

func (c *Creature) applySound(p SoundPayload) {
	if p.Play {
		if p.Group == host.SoundChasing || p.Group == host.SoundBreathing {
			c.playLoop(p.Group)
			return
		}
		c.sc.Host.Presentation.PlaySound(p.Group, p.Clip)
		return
	}
	c.stopLoop(p.Group)
}

func (c *Creature) playLoop(g host.SoundGroup) {
	switch g {
	case host.SoundChasing:
		if c.chasing {
			return
		}
		c.chasing = true
	case host.SoundBreathing:
		if c.breathing {
			return
		}
		c.breathing = true
	}
	c.sc.Host.Presentation.PlaySound(g, host.AnyClip)
}

func (c *Creature) stopLoop(g host.SoundGroup) {
	switch g {
	case host.SoundChasing:
		if !c.chasing {
			return
		}
		c.chasing = false
	case host.SoundBreathing:
		if !c.breathing {
			return
		}
		c.breathing = false
	}
	c.sc.Host.Presentation.StopSound(g)
}

func (c *Creature) applyNoise(p NoisePayload) {
	c.lastNoiseAt = c.sc.Now()
	c.playLoop(host.SoundBreathing)
}

func (c *Creature) applyWarp(p WarpPayload) {
	mover := c.sc.Host.Mover
	mover.Warp(p.Position)
	mover.SetOutside(p.Outside)
	c.outside = p.Outside
	if p.Door {
		c.lastExitAt = c.sc.Now()
		c.sc.Host.Presentation.PlaySound(host.SoundCorrosion, host.AnyClip)
	}
}

// fire triggers a hook on the authority only, so each event is journaled once.
func (c *Creature) fire(event string, id host.PlayerID, detail map[string]any) {
	if !c.sc.Authority() {
		return
	}
	_ = c.sc.Fire(event, id, c.state.String(), detail)
}

// broadcast sends an authority decision and logs failures.
func (c *Creature) broadcast(kind replication.Kind, payload any) bool {
	if _, err := c.sc.Channel.Broadcast(kind, payload); err != nil {
		c.sc.Logger.Warn("creature broadcast failed", zap.String("kind", string(kind)), zap.Error(err))
		return false
	}
	return true
}
