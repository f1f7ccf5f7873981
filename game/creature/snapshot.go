package creature

import (
	"time"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/pocket"
)

// Snapshot is the replicated view of the creature, used by the admin API and
// to seed late joiners.
type Snapshot struct {
	State             State             `json:"state"`
	Target            host.PlayerID     `json:"target"`
	Sneaking          bool              `json:"sneaking"`
	Outside           bool              `json:"outside"`
	Initialized       bool              `json:"initialized"`
	InSpecialSequence bool              `json:"in_special_sequence"`
	Sequences         []string          `json:"sequences"`
	Threat            int               `json:"threat"`
	Visibility        float64           `json:"visibility"`
	Settings          Settings          `json:"settings"`
	SimMs             int64             `json:"sim_ms"`
	LastSpottedMs     int64             `json:"last_spotted_ms"`
	LastHuntStartMs   int64             `json:"last_hunt_start_ms"`
	LastExitMs        int64             `json:"last_exit_ms"`
	LastHitMs         int64             `json:"last_hit_ms"`
	LastNoiseMs       int64             `json:"last_noise_ms"`
	Pocket            []pocket.Occupant `json:"pocket"`
}

// Snapshot captures the current state. Call it on the session goroutine.
func (c *Creature) Snapshot() Snapshot {
	s := Snapshot{
		State:             c.state,
		Target:            c.target,
		Sneaking:          c.sneaking,
		Outside:           c.outside,
		Initialized:       c.initialized,
		InSpecialSequence: c.sc.Engine.InSpecialSequence(),
		Threat:            c.ThreatLevel(),
		Visibility:        c.Visibility(),
		Settings:          c.cfg,
		SimMs:             c.sc.Now().Milliseconds(),
		LastSpottedMs:     c.lastSpottedAt.Milliseconds(),
		LastHuntStartMs:   c.lastHuntStartAt.Milliseconds(),
		LastExitMs:        c.lastExitAt.Milliseconds(),
		LastHitMs:         c.lastHitAt.Milliseconds(),
		LastNoiseMs:       c.lastNoiseAt.Milliseconds(),
		Pocket:            c.pocket.Occupants(),
	}
	for _, r := range c.sc.Engine.Active() {
		s.Sequences = append(s.Sequences, r.Script.Name)
	}
	return s
}

// Restore adopts a snapshot taken by the authority. Creature choreographies
// are not resumed; the creature continues from the recorded state. Pocket
// timers resume from the time each occupant already spent inside.
func (c *Creature) Restore(s Snapshot) {
	c.sc.Engine.CancelAll()
	c.killRun, c.bodyRun, c.bodyKind = "", "", ""
	c.cfg = s.Settings.Clamped()
	c.target = s.Target
	c.sneaking = s.Sneaking
	c.outside = s.Outside
	c.initialized = s.Initialized
	c.lastSpottedAt = ms(s.LastSpottedMs)
	c.lastHuntStartAt = ms(s.LastHuntStartMs)
	c.lastExitAt = ms(s.LastExitMs)
	c.lastHitAt = ms(s.LastHitMs)
	c.lastNoiseAt = ms(s.LastNoiseMs)
	c.sc.Clock.Set(ms(s.SimMs))
	c.sc.Host.Mover.SetOutside(s.Outside)
	c.pocket.Restore(s.Pocket)
	state := s.State
	switch state {
	case StateKilling, StateSpotted:
		state = StateHunting
	case StateEmerging, StateSinking, StateIdle:
		state = StateSearching
	}
	if state == StateHunting && !c.target.Valid() {
		state = StateSearching
	}
	if state == StateSearching {
		c.target = host.NoPlayer
	}
	c.setState(state)
}

func ms(v int64) time.Duration { return time.Duration(v) * time.Millisecond }
