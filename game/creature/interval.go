package creature

import (
	"github.com/kasuganosora/corrosion/game/ai"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/plugin/hook"
)

func (c *Creature) buildTrees() {
	c.trees = map[State]*ai.BehaviorTree{
		StateSearching: {
			Name: "searching",
			Root: &ai.Selector{Children: []ai.Node{
				&ai.Sequence{Children: []ai.Node{
					&ai.Inverter{Child: &ai.ConditionNode{Fn: c.exitBarred}},
					ai.Decide("exit_enter_facility", c.exitEnterFacility),
				}},
				ai.Do("stop_chase_music", c.stopChaseMusic),
				ai.Decide("hunt_if_in_sight", c.huntIfInSight),
				ai.Decide("hunt_loneliest", c.huntLoneliest),
			}},
		},
		StateHunting: {
			Name: "hunting",
			Root: &ai.Sequence{Children: []ai.Node{
				&ai.Succeeder{Child: &ai.Sequence{Children: []ai.Node{
					&ai.ConditionNode{Fn: func(*ai.AIContext) bool { return c.sneaking }},
					ai.Do("sneak_check", c.sneakCheck),
				}}},
				ai.Decide("search_if_too_far", c.searchIfTooFar),
			}},
		},
	}
}

// exitBarred reports whether the creature may not use the doors right now.
func (c *Creature) exitBarred(ctx *ai.AIContext) bool {
	return !c.cfg.CanGoOutside || ctx.Now-c.lastExitAt < exitCooldown
}

// exitEnterFacility walks to the main entrance and passes through it.
func (c *Creature) exitEnterFacility(ctx *ai.AIContext) bool {
	since := ctx.Now - c.lastHuntStartAt
	if since > exitHuntGrace && since < exitHuntStale {
		return false
	}
	env, mover := c.sc.Host.Environment, c.sc.Host.Mover
	door := env.EntrancePosition(true, c.outside)
	if _, seen := c.sc.Host.Sensing.ClosestPlayerInSight(false, false); seen && mover.PathObstructedBySight(door) {
		return false
	}
	if c.sc.Host.Sensing.CreaturePosition().Distance(door) <= doorReach {
		return c.broadcast(KindWarp, WarpPayload{
			Position: env.EntrancePosition(true, !c.outside),
			Outside:  !c.outside,
			Door:     true,
		})
	}
	mover.SetDestination(door)
	return false
}

// stopChaseMusic cuts the chase loop after a long hunt with nobody near.
func (c *Creature) stopChaseMusic(ctx *ai.AIContext) {
	if !c.chasing || ctx.Now-c.lastHuntStartAt < chaseMusicLimit {
		return
	}
	pos := c.sc.Host.Sensing.CreaturePosition()
	for _, p := range c.sc.Host.Sensing.Players() {
		if p.Alive() && p.Position.Distance(pos) < chaseMusicRadius {
			return
		}
	}
	c.broadcast(KindSound, SoundPayload{Group: host.SoundChasing})
	c.broadcast(KindSound, SoundPayload{Group: host.SoundBreathing})
}

// huntIfInSight reacts to the closest visible player: a player looking back
// is stared at (or hunted outright if recently spotted), anyone else is
// stalked.
func (c *Creature) huntIfInSight(ctx *ai.AIContext) bool {
	sensing := c.sc.Host.Sensing
	id, ok := sensing.ClosestPlayerInSight(true, true)
	if !ok || c.pocket.Contains(id) {
		return false
	}
	if sensing.PlayerLooksAt(id, sensing.CreaturePosition(), lookFOV, lookRange) {
		c.fire(hook.OnPlayerSpotted, id, nil)
		if ctx.Now-c.lastSpottedAt < spottedCooldown {
			return c.toHunting(id)
		}
		return c.toSpotted(id)
	}
	return c.sneakOn(id)
}

// huntLoneliest emerges next to the only isolated player after a long
// quiet spell.
func (c *Creature) huntLoneliest(ctx *ai.AIContext) bool {
	cooldown := lonelyCooldown
	if c.outside {
		cooldown = lonelyCooldownOutside
	}
	if ctx.Now-c.lastHuntStartAt < cooldown {
		return false
	}
	players := c.sc.Host.Sensing.Players()
	living := 0
	for _, p := range players {
		if p.Alive() && !c.pocket.Contains(p.ID) {
			living++
		}
	}
	lonely := host.NoPlayer
	for _, p := range players {
		if !p.Alive() || c.pocket.Contains(p.ID) {
			continue
		}
		if !p.Alone && living != 1 {
			continue
		}
		if p.InsideFactory == c.outside || (p.InShip && !c.cfg.CanGoInsideShip) {
			continue
		}
		if lonely != host.NoPlayer {
			return false
		}
		lonely = p.ID
	}
	if lonely == host.NoPlayer {
		return false
	}
	return c.broadcast(KindSequence, SequencePayload{Kind: SeqEmerge, Player: lonely})
}

// sneakCheck ends a sneak when the target turns around.
func (c *Creature) sneakCheck(*ai.AIContext) {
	if !c.target.Valid() {
		return
	}
	sensing := c.sc.Host.Sensing
	if !sensing.HasLineOfSight(c.target) {
		return
	}
	if sensing.PlayerLooksAt(c.target, sensing.CreaturePosition(), lookFOV, lookRange) {
		c.reveal()
	}
}

// searchIfTooFar gives up on a target that is gone, far and unseen, or
// unreachable; otherwise keeps chasing it.
func (c *Creature) searchIfTooFar(*ai.AIContext) bool {
	sensing := c.sc.Host.Sensing
	p, ok := sensing.Player(c.target)
	inSight := ok && sensing.HasLineOfSight(c.target)
	lost := !ok || !p.Alive() || c.pocket.Contains(c.target)
	if !lost && p.Position.Distance(sensing.CreaturePosition()) > giveUpDistance && !inSight {
		lost = true
	}
	if !lost && !c.reachable(p, inSight) {
		lost = true
	}
	if !lost {
		c.sc.Host.Mover.SetDestination(p.Position)
		return false
	}
	if c.sc.Rand.Intn(fastEmergeOdds) == 0 && c.fastEmerge() {
		return true
	}
	c.toSearching()
	return true
}

// fastEmerge resurfaces in front of the target, or the closest player when
// the target is gone.
func (c *Creature) fastEmerge() bool {
	id := c.target
	if !c.alive(id) {
		var ok bool
		if id, ok = c.sc.Host.Sensing.ClosestPlayerInSight(false, true); !ok || !c.alive(id) {
			return false
		}
	}
	return c.broadcast(KindSequence, SequencePayload{
		Kind:   SeqFastEmerge,
		Player: id,
		Clip:   2 + c.sc.Rand.Intn(3),
	})
}
