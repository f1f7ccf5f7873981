package creature

import (
	"errors"
	"math"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/sequence"
	"github.com/kasuganosora/corrosion/plugin/hook"
)

// Choreography timings.
const (
	spawnStill     = 3 * time.Second
	stareTurn      = 500 * time.Millisecond
	stareLook      = 2 * time.Second
	grabNeck       = 200 * time.Millisecond
	grabHold       = 250 * time.Millisecond
	grabWound      = 1250 * time.Millisecond
	grabRecover    = 3 * time.Second
	grabFace       = 2 * time.Second
	grabShortAfter = 1250 * time.Millisecond
	pushWindup     = 200 * time.Millisecond
	pushShove      = 500 * time.Millisecond
	pushRecover    = 3 * time.Second
	stunDelay      = 3 * time.Second
	sinkDuration   = 3 * time.Second
	emergeDuration = 10 * time.Second
	fastSink       = 2 * time.Second
	fastReveal     = 4 * time.Second

	shakeRate = 0.02
	shakeMax  = 0.15
)

func isGrab(k SequenceKind) bool {
	return k == SeqGrabKill || k == SeqGrabShort || k == SeqGrabPocket
}

func isEmerge(k SequenceKind) bool {
	return k == SeqEmerge || k == SeqFastEmerge
}

func payload(r *sequence.Run) SequencePayload {
	p, _ := r.Data.(SequencePayload)
	return p
}

// startSequence begins a choreography on this node. Duplicate starts while
// the guard is held are silent no-ops.
func (c *Creature) startSequence(p SequencePayload) {
	s, ok := c.scripts[p.Kind]
	if !ok {
		c.sc.Logger.Warn("unknown sequence skipped", zap.String("kind", string(p.Kind)))
		return
	}
	if s.Exclusive && c.sc.Engine.InSpecialSequence() {
		c.sc.Logger.Debug("sequence ignored, guard held", zap.String("kind", string(p.Kind)))
		return
	}
	body := !s.Exclusive
	if body && c.bodyRun != "" && isEmerge(c.bodyKind) {
		c.sc.Logger.Debug("sequence ignored while emerging", zap.String("kind", string(p.Kind)))
		return
	}
	if body || isGrab(p.Kind) {
		c.cancelBody()
	}
	if p.Kind == SeqStun {
		c.lastHitAt = c.sc.Now()
	}
	run, err := c.sc.Engine.Start(s, p.Player, p)
	if errors.Is(err, sequence.ErrGuardHeld) {
		return
	}
	if err != nil {
		c.sc.Logger.Warn("sequence not started", zap.String("kind", string(p.Kind)), zap.Error(err))
		return
	}
	if run.Done() {
		return
	}
	switch {
	case isGrab(p.Kind):
		c.killRun = run.ID
	case body:
		c.bodyRun, c.bodyKind = run.ID, p.Kind
	}
}

func (c *Creature) cancelBody() {
	if c.bodyRun == "" || isEmerge(c.bodyKind) {
		return
	}
	c.sc.Engine.Cancel(c.bodyRun)
	c.bodyRun, c.bodyKind = "", ""
}

func (c *Creature) applySequence(p SequencePayload) { c.startSequence(p) }

// applyInterrupt unwinds a kill in progress and hunts the interrupter.
func (c *Creature) applyInterrupt(p InterruptPayload) {
	now := c.sc.Now()
	c.lastHitAt = now
	victim := host.NoPlayer
	if c.killRun != "" {
		if r, ok := c.sc.Engine.Find(c.killRun); ok {
			victim = r.Player
		}
		c.sc.Engine.Cancel(c.killRun)
		c.killRun = ""
	}
	c.sc.Host.Presentation.StopSound(host.SoundKilling)
	c.target = p.Interrupter
	c.sneaking = false
	c.lastHuntStartAt = now
	c.sc.Host.Presentation.SetFootstepVolume(footstepsNormal)
	c.playLoop(host.SoundChasing)
	c.setState(StateHunting)
	c.fire(hook.OnKillInterrupted, victim, map[string]any{"interrupter": int(p.Interrupter)})
	c.startSequence(SequencePayload{Kind: SeqRecover, Player: p.Interrupter})
}

func (c *Creature) stale(r *sequence.Run) error {
	if !c.alive(r.Player) {
		return sequence.ErrStaleTarget
	}
	return nil
}

// grabExit is shared by every grab: completion or a stale victim sends the
// creature back to searching; a cancel means an interrupt already decided.
func (c *Creature) grabExit(r *sequence.Run, o sequence.Outcome, err error) {
	if c.killRun == r.ID {
		c.killRun = ""
	}
	if o == sequence.Aborted {
		c.sc.Logger.Info("grab aborted", zap.String("run", r.ID), zap.Int("player", int(r.Player)), zap.Error(err))
	}
	if o == sequence.Cancelled || !c.sc.Authority() {
		return
	}
	c.toSearching()
}

// bodyExit clears the creature-only run and, on the authority, hands the
// completed run's decision to next.
func (c *Creature) bodyExit(next func(r *sequence.Run)) func(*sequence.Run, sequence.Outcome, error) {
	return func(r *sequence.Run, o sequence.Outcome, err error) {
		if c.bodyRun == r.ID {
			c.bodyRun, c.bodyKind = "", ""
		}
		switch o {
		case sequence.Cancelled:
			return
		case sequence.Aborted:
			c.sc.Logger.Warn("creature sequence aborted", zap.String("script", r.Script.Name), zap.Error(err))
			c.setState(c.state)
			if c.sc.Authority() {
				c.toSearching()
			}
			return
		}
		if next != nil && c.sc.Authority() {
			next(r)
		}
	}
}

func (c *Creature) hold(r *sequence.Run, at host.Vec3) {
	r.SetOverlay(func(o *sequence.Overlay) {
		o.LookInputDisabled = true
		o.MoveInputDisabled = true
		o.ForcedPosition = &at
	})
}

func (c *Creature) facing(id host.PlayerID, dist float64) host.Vec3 {
	self := c.sc.Host.Sensing.CreaturePosition()
	p, _ := c.sc.Host.Sensing.Player(id)
	dir := p.Position.Sub(self)
	dir.Y = 0
	return self.Add(dir.Normalize().Scale(dist))
}

func (c *Creature) buildScripts() {
	pres := func() host.Presentation { return c.sc.Host.Presentation }
	mover := func() host.Mover { return c.sc.Host.Mover }
	ctl := func() host.PlayerControl { return c.sc.Host.Control }

	spawn := &sequence.Script{
		Name:  "creature_spawn",
		Steps: []sequence.Step{{Name: "still", Wait: spawnStill}},
		OnExit: c.bodyExit(func(*sequence.Run) {
			c.toSearching()
		}),
	}

	stare := &sequence.Script{
		Name: "creature_stare",
		Steps: []sequence.Step{
			{
				Name: "turn",
				Enter: func(r *sequence.Run) error {
					c.target = r.Player
					c.sneaking = false
					c.lastSpottedAt = c.sc.Now()
					pres().SetFootstepVolume(footstepsNormal)
					c.setState(StateSpotted)
					return nil
				},
				Wait: stareTurn,
			},
			{
				Name: "look",
				Enter: func(r *sequence.Run) error {
					pres().PlaySound(host.SoundSpotted, host.AnyClip)
					pres().ShakeCamera(r.Player, 0.9)
					return nil
				},
				Wait: stareLook,
			},
		},
		OnExit: c.bodyExit(func(r *sequence.Run) { c.settle(r.Player) }),
	}

	grabKill := &sequence.Script{
		Name:      "creature_grab_kill",
		Exclusive: true,
		Steps: []sequence.Step{
			{
				Name: "grab",
				Enter: func(r *sequence.Run) error {
					if err := c.stale(r); err != nil {
						return err
					}
					c.target = r.Player
					p, _ := c.sc.Host.Sensing.Player(r.Player)
					at := p.Position
					at.Y = c.sc.Host.Sensing.CreaturePosition().Y
					c.hold(r, at)
					c.setState(StateKilling)
					pres().PlaySound(host.SoundNeck, host.AnyClip)
					return nil
				},
				Wait: grabNeck,
			},
			{
				Name: "scream",
				Enter: func(r *sequence.Run) error {
					if err := c.stale(r); err != nil {
						return err
					}
					pres().PlaySound(host.SoundKilling, host.AnyClip)
					return nil
				},
				Wait: grabHold,
			},
			{
				Name: "wound",
				Enter: func(r *sequence.Run) error {
					if err := c.stale(r); err != nil {
						return err
					}
					ctl().ApplyDamage(r.Player, grabDamage)
					return nil
				},
				Wait: grabWound,
				Tick: func(r *sequence.Run, _ time.Duration) {
					intensity := math.Min(shakeMax, r.Elapsed().Seconds()*shakeRate)
					pres().ShakeCamera(r.Player, intensity)
				},
			},
			{
				Name: "kill",
				Enter: func(r *sequence.Run) error {
					if err := c.stale(r); err != nil {
						return err
					}
					ctl().Kill(r.Player, host.CauseCrushing, 1)
					pres().PlaySound(host.SoundPlayerKilled, host.AnyClip)
					pres().PlaySound(host.SoundLaughing, host.AnyClip)
					r.ReleaseOverlay()
					pres().PlayAnimation(host.AnimStill)
					c.fire(hook.OnPlayerKilled, r.Player, map[string]any{"sequence": string(SeqGrabKill)})
					return nil
				},
				Wait: grabRecover,
			},
		},
		OnExit: c.grabExit,
	}

	grabShort := func(name string, toPocket bool) *sequence.Script {
		return &sequence.Script{
			Name:      name,
			Exclusive: true,
			Steps: []sequence.Step{
				{
					Name: "face",
					Enter: func(r *sequence.Run) error {
						if err := c.stale(r); err != nil {
							return err
						}
						c.target = r.Player
						c.hold(r, c.facing(r.Player, grabReach))
						c.setState(StateKilling)
						pres().PlaySound(host.SoundSpotted, payload(r).Clip)
						return nil
					},
					Wait: grabFace,
				},
				{
					Name: "finish",
					Enter: func(r *sequence.Run) error {
						if err := c.stale(r); err != nil {
							return err
						}
						if toPocket {
							p, _ := c.sc.Host.Sensing.Player(r.Player)
							r.ReleaseOverlay()
							if c.sc.Authority() {
								if err := c.pocket.Enter(r.Player, p.Position); err != nil {
									return err
								}
							}
						} else {
							ctl().Kill(r.Player, host.CauseCrushing, 1)
							c.fire(hook.OnPlayerKilled, r.Player, map[string]any{"sequence": string(SeqGrabShort)})
						}
						pres().PlaySound(host.SoundPlayerKilled, 1)
						pres().PlaySound(host.SoundLaughing, host.AnyClip)
						return nil
					},
					Wait: grabShortAfter,
				},
			},
			OnExit: c.grabExit,
		}
	}

	push := &sequence.Script{
		Name:      "creature_push",
		Exclusive: true,
		Steps: []sequence.Step{
			{
				Name: "windup",
				Enter: func(r *sequence.Run) error {
					if err := c.stale(r); err != nil {
						return err
					}
					mover().Stop(true)
					mover().SetSpeed(0)
					pres().SetAnimationSpeed(2)
					pres().PlayAnimation(host.AnimPush)
					return nil
				},
				Wait: pushWindup,
			},
			{
				Name: "shove",
				Enter: func(r *sequence.Run) error {
					if err := c.stale(r); err != nil {
						return err
					}
					p, _ := c.sc.Host.Sensing.Player(r.Player)
					pres().PlaySound(host.SoundLaughing, host.AnyClip)
					ctl().ApplyDamage(r.Player, pushDamage)
					dir := p.Position.Sub(c.sc.Host.Sensing.CreaturePosition())
					dir.Y = 0
					to := p.Position.Add(dir.Normalize().Scale(pushDistance))
					r.SetOverlay(func(o *sequence.Overlay) { o.ForcedPosition = &to })
					c.fire(hook.OnPlayerPushed, r.Player, map[string]any{"damage": pushDamage})
					return nil
				},
				Wait: pushShove,
			},
			{
				Name: "recover",
				Enter: func(r *sequence.Run) error {
					r.ReleaseOverlay()
					pres().SetAnimationSpeed(1)
					pres().PlayAnimation(host.AnimStill)
					return nil
				},
				Wait: pushRecover,
			},
			{
				Name: "resume",
				Enter: func(*sequence.Run) error {
					c.setState(c.state)
					return nil
				},
			},
		},
		OnExit: func(_ *sequence.Run, o sequence.Outcome, _ error) {
			if o != sequence.Completed {
				c.setState(c.state)
			}
		},
	}

	stun := &sequence.Script{
		Name: "creature_stun",
		Steps: []sequence.Step{{
			Name: "stunned",
			Enter: func(r *sequence.Run) error {
				c.target = r.Player
				mover().Stop(true)
				mover().SetSpeed(0)
				pres().PlayAnimation(host.AnimStill)
				return nil
			},
			Wait: stunDelay,
		}},
		OnExit: c.bodyExit(func(r *sequence.Run) { c.settle(r.Player) }),
	}

	recovery := &sequence.Script{
		Name: "creature_recover",
		Steps: []sequence.Step{{
			Name: "recover",
			Enter: func(*sequence.Run) error {
				mover().Stop(true)
				mover().SetSpeed(0)
				pres().PlayAnimation(host.AnimStill)
				return nil
			},
			Wait: stunDelay,
		}},
		OnExit: func(r *sequence.Run, o sequence.Outcome, err error) {
			c.bodyExit(nil)(r, o, err)
			if o == sequence.Completed {
				c.setState(c.state)
			}
		},
	}

	emerge := &sequence.Script{
		Name: "creature_emerge",
		Steps: []sequence.Step{
			{
				Name: "sink",
				Enter: func(r *sequence.Run) error {
					c.target = r.Player
					c.setState(StateEmerging)
					pres().PlayAnimation(host.AnimSink)
					pres().PlaySound(host.SoundSinking, host.AnyClip)
					pres().PlaceCorrosion(c.sc.Host.Sensing.CreaturePosition())
					return nil
				},
				Wait: sinkDuration,
			},
			{
				Name: "rise",
				Enter: func(r *sequence.Run) error {
					if c.sc.Authority() {
						c.emergeNear(r.Player, false)
					}
					pres().SetAnimationSpeed(0.7)
					pres().PlayAnimation(host.AnimEmerge)
					pres().PlaySound(host.SoundEmerging, host.AnyClip)
					pres().PlaceCorrosion(c.sc.Host.Sensing.CreaturePosition())
					return nil
				},
				Wait: emergeDuration,
			},
		},
		OnExit: c.bodyExit(func(r *sequence.Run) { c.settle(r.Player) }),
	}

	fastEmerge := &sequence.Script{
		Name: "creature_fast_emerge",
		Steps: []sequence.Step{
			{
				Name: "sink",
				Enter: func(r *sequence.Run) error {
					c.target = r.Player
					c.setState(StateSinking)
					pres().SetAnimationSpeed(2)
					pres().PlaySound(host.SoundSinking, host.AnyClip)
					return nil
				},
				Wait: fastSink,
			},
			{
				Name: "reveal",
				Enter: func(r *sequence.Run) error {
					if c.sc.Authority() {
						c.emergeNear(r.Player, true)
					}
					c.setState(StateEmerging)
					pres().PlaySound(host.SoundCorrosion, 0)
					pres().PlaceCorrosion(c.sc.Host.Sensing.CreaturePosition())
					return nil
				},
				Wait: fastReveal,
			},
			{
				Name: "spot",
				Enter: func(r *sequence.Run) error {
					pres().PlaySound(host.SoundSpotted, payload(r).Clip)
					return nil
				},
			},
		},
		OnExit: c.bodyExit(func(r *sequence.Run) { c.settle(r.Player) }),
	}

	c.scripts = map[SequenceKind]*sequence.Script{
		SeqSpawn:      spawn,
		SeqStare:      stare,
		SeqGrabKill:   grabKill,
		SeqGrabShort:  grabShort("creature_grab_short", false),
		SeqGrabPocket: grabShort("creature_grab_pocket", true),
		SeqPush:       push,
		SeqStun:       stun,
		SeqRecover:    recovery,
		SeqEmerge:     emerge,
		SeqFastEmerge: fastEmerge,
	}
}

// emergeNear broadcasts where the creature resurfaces next to id. Nothing is
// sent when the player is somewhere the creature may not follow; the
// creature then rises where it sank.
func (c *Creature) emergeNear(id host.PlayerID, ahead bool) {
	p, ok := c.sc.Host.Sensing.Player(id)
	if !ok || !p.Alive() || c.pocket.Contains(id) {
		return
	}
	if (!p.InsideFactory && !c.cfg.CanGoOutside) || (p.InShip && !c.cfg.CanGoInsideShip) {
		return
	}
	env := c.sc.Host.Environment
	var at host.Vec3
	if ahead {
		at = env.NearestNavNode(p.Position.Add(p.Forward.Normalize().Scale(fastEmergeAhead)), false)
	} else {
		at = env.NearestNavNode(p.Position, true)
	}
	c.broadcast(KindWarp, WarpPayload{Position: at, Outside: !p.InsideFactory})
}
