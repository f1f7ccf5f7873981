package creature

import (
	"errors"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/plugin/hook"
)

// Collide handles creature contact with a player. On a replica the contact
// is proposed to the authority and the zero Resolution is returned.
func (c *Creature) Collide(id host.PlayerID) (Resolution, error) {
	if !c.sc.Authority() {
		return Resolution{}, c.sc.Channel.Propose(ProposeCollision, CollisionProposal{Player: id})
	}
	if !c.initialized || c.sc.Engine.InSpecialSequence() || c.frozen() {
		return Resolution{}, nil
	}
	switch c.state {
	case StateEmerging, StateSinking, StateKilling:
		return Resolution{}, nil
	}
	if !c.alive(id) {
		return Resolution{}, nil
	}
	now := c.sc.Now()
	if last, ok := c.lastCollision[id]; ok && now-last < collisionCooldown {
		return Resolution{}, nil
	}
	if err := c.sc.Fire(hook.BeforeInteraction, id, c.state.String(), nil); errors.Is(err, hook.ErrInterrupt) {
		c.sc.Logger.Debug("interaction vetoed", zap.Int("player", int(id)))
		return Resolution{}, nil
	}
	c.lastCollision[id] = now

	res := Resolver{
		PocketChance: c.cfg.ChanceForPocketDimension,
		NonDeadly:    c.cfg.NonDeadlyInteractions,
	}.Resolve(c.sc.Rand)
	c.sc.Logger.Info("contact resolved",
		zap.Int("player", int(id)),
		zap.String("interaction", string(res.Interaction)),
		zap.Int("pocket_roll", res.PocketRoll),
		zap.Int("deadly_roll", res.DeadlyRoll))

	p := SequencePayload{Player: id}
	switch res.Interaction {
	case InteractionPocket:
		p.Kind = SeqGrabPocket
		p.Clip = 2 + c.sc.Rand.Intn(3)
	case InteractionPush:
		p.Kind = SeqPush
	default:
		if c.sneaking {
			p.Kind = SeqGrabShort
			p.Sneaking = true
			p.Clip = 2 + c.sc.Rand.Intn(3)
		} else {
			p.Kind = SeqGrabKill
		}
	}
	_, err := c.sc.Channel.Broadcast(KindSequence, p)
	return res, err
}

// Hit handles a player striking the creature. While killing, a hit past the
// cooldown frees the victim and turns the hunt on the hitter; otherwise the
// creature is stunned before hunting the hitter.
func (c *Creature) Hit(hitter host.PlayerID) error {
	if !c.sc.Authority() {
		return c.sc.Channel.Propose(ProposeHit, HitProposal{Player: hitter})
	}
	if !c.initialized || !c.cfg.Stunnable {
		return nil
	}
	switch c.state {
	case StateEmerging, StateSinking:
		return nil
	}
	if c.sc.Now()-c.lastHitAt < hitCooldown {
		return nil
	}
	if c.state == StateKilling && c.killRun != "" {
		_, err := c.sc.Channel.Broadcast(KindInterrupt, InterruptPayload{Interrupter: hitter})
		return err
	}
	_, err := c.sc.Channel.Broadcast(KindSequence, SequencePayload{Kind: SeqStun, Player: hitter})
	return err
}

// HearNoise investigates a noise while searching. It reports whether the
// creature turned toward it.
func (c *Creature) HearNoise(pos host.Vec3, loudness float64) (bool, error) {
	if !c.sc.Authority() {
		return false, c.sc.Channel.Propose(ProposeNoise, NoiseProposal{Position: pos, Loudness: loudness})
	}
	if c.state != StateSearching || c.sc.Now()-c.lastNoiseAt < noiseCooldown {
		return false, nil
	}
	self := c.sc.Host.Sensing.CreaturePosition()
	spread := noiseSpreadPerUnit * loudness
	if c.sc.Host.Sensing.Obstructed(pos, self) {
		spread /= 2
		loudness /= 2
	}
	if loudness < minLoudness || pos.Distance(self) >= spread {
		return false, nil
	}
	c.sc.Host.Mover.SetDestination(pos)
	_, err := c.sc.Channel.Broadcast(KindNoise, NoisePayload{Position: pos})
	return err == nil, err
}

// PlayerLeft releases everything tied to a disconnected player.
func (c *Creature) PlayerLeft(id host.PlayerID) error {
	if !c.sc.Authority() {
		return c.sc.Channel.Propose(ProposeLeft, LeftProposal{Player: id})
	}
	delete(c.lastCollision, id)
	if err := c.pocket.Release(id); err != nil {
		return err
	}
	if c.target == id && c.state != StateKilling && c.state != StateEmerging && c.state != StateSinking {
		c.toSearching()
	}
	return nil
}
