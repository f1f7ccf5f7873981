package creature

import (
	"github.com/kasuganosora/corrosion/game/host"
)

// toSearching drops the target and resumes roaming. Entering SEARCHING
// while already searching without a target broadcasts nothing.
func (c *Creature) toSearching() bool {
	if c.state == StateSearching && c.target == host.NoPlayer && !c.sneaking {
		return false
	}
	return c.broadcast(KindState, StatePayload{State: StateSearching, Target: host.NoPlayer})
}

// toSpotted stares at a player before hunting them.
func (c *Creature) toSpotted(id host.PlayerID) bool {
	return c.broadcast(KindSequence, SequencePayload{Kind: SeqStare, Player: id})
}

// toHunting starts a fresh, loud hunt of id.
func (c *Creature) toHunting(id host.PlayerID) bool {
	return c.broadcast(KindState, StatePayload{State: StateHunting, Target: id, HuntStart: true})
}

// sneakOn stalks id without being noticed.
func (c *Creature) sneakOn(id host.PlayerID) bool {
	return c.broadcast(KindState, StatePayload{State: StateHunting, Target: id, Sneaking: true})
}

// reveal ends a sneak once the target notices the creature.
func (c *Creature) reveal() bool {
	return c.broadcast(KindState, StatePayload{State: c.state, Target: c.target, Revealed: true})
}

// settle decides where a finished emerge or stun leaves the creature.
func (c *Creature) settle(id host.PlayerID) {
	p, ok := c.sc.Host.Sensing.Player(id)
	if !ok || !p.Alive() || c.pocket.Contains(id) || !c.reachable(p, c.sc.Host.Sensing.HasLineOfSight(id)) {
		c.toSearching()
		return
	}
	c.toHunting(id)
}

// reachable reports whether a hunted player can still be chased. A player
// in sight is never dropped for path length alone.
func (c *Creature) reachable(p host.PlayerInfo, inSight bool) bool {
	if p.InsideFactory == c.outside {
		return false
	}
	if p.InShip && !c.cfg.CanGoInsideShip {
		return false
	}
	if !inSight && c.sc.Host.Mover.PathDistanceTo(p.Position) > maxPathDistance {
		return false
	}
	return true
}

// alive reports whether id can take part in a choreography.
func (c *Creature) alive(id host.PlayerID) bool {
	p, ok := c.sc.Host.Sensing.Player(id)
	return ok && p.Alive() && !c.pocket.Contains(id)
}
