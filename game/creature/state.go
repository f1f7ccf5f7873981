package creature

import (
	"fmt"
	"time"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/replication"
)

// State is the primary behavior state of the creature.
type State int

const (
	StateIdle State = iota
	StateSearching
	StateSpotted
	StateHunting
	StateKilling
	StateEmerging
	StateSinking
)

var stateNames = [...]string{"IDLE", "SEARCHING", "SPOTTED", "HUNTING", "KILLING", "EMERGING", "SINKING"}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int(s))
	}
	return stateNames[s]
}

// MarshalText encodes the state by name.
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// UnmarshalText decodes a state name.
func (s *State) UnmarshalText(b []byte) error {
	for i, n := range stateNames {
		if n == string(b) {
			*s = State(i)
			return nil
		}
	}
	return fmt.Errorf("creature: unknown state %q", b)
}

// Perception and pacing constants.
const (
	spottedCooldown       = 60 * time.Second
	lonelyCooldown        = 120 * time.Second
	lonelyCooldownOutside = 240 * time.Second
	chaseMusicLimit       = 60 * time.Second
	chaseMusicRadius      = 30.0
	noiseCooldown         = 15 * time.Second
	noiseSpreadPerUnit    = 30.0
	minLoudness           = 0.25
	hitCooldown           = 15 * time.Second
	collisionCooldown     = time.Second
	exitCooldown          = 3 * time.Second
	exitHuntGrace         = 10 * time.Second
	exitHuntStale         = 120 * time.Second
	doorReach             = 1.0
	giveUpDistance        = 30.0
	maxPathDistance       = 50.0
	lookFOV               = 45.0
	lookRange             = 60.0
	fastEmergeOdds        = 10
	fastEmergeAhead       = 4.0
	pushDistance          = 3.0
	pushDamage            = 25
	grabDamage            = 50
	grabReach             = 1.2

	footstepsSneaking = 0.25
	footstepsNormal   = 0.9
)

// Replicated command kinds owned by the creature.
const (
	KindInit      replication.Kind = "creature_init"
	KindState     replication.Kind = "creature_state"
	KindSequence  replication.Kind = "creature_sequence"
	KindInterrupt replication.Kind = "creature_interrupt"
	KindSound     replication.Kind = "creature_sound"
	KindNoise     replication.Kind = "creature_noise"
	KindWarp      replication.Kind = "creature_warp"
)

// Proposal kinds replicas send for host events they observe.
const (
	ProposeCollision replication.ProposalKind = "collision"
	ProposeHit       replication.ProposalKind = "hit"
	ProposeNoise     replication.ProposalKind = "noise"
	ProposeLeft      replication.ProposalKind = "player_left"
)

// SequenceKind names a creature choreography.
type SequenceKind string

const (
	SeqSpawn      SequenceKind = "spawn"
	SeqStare      SequenceKind = "stare"
	SeqGrabKill   SequenceKind = "grab_kill"
	SeqGrabShort  SequenceKind = "grab_short"
	SeqGrabPocket SequenceKind = "grab_pocket"
	SeqPush       SequenceKind = "push"
	SeqStun       SequenceKind = "stun"
	SeqRecover    SequenceKind = "recover"
	SeqEmerge     SequenceKind = "emerge"
	SeqFastEmerge SequenceKind = "fast_emerge"
)

// InitPayload resets the creature with clamped settings.
type InitPayload struct {
	Settings Settings `json:"settings"`
}

// StatePayload is an authority-decided transition.
type StatePayload struct {
	State    State         `json:"state"`
	Target   host.PlayerID `json:"target"`
	Sneaking bool          `json:"sneaking"`
	// HuntStart stamps the hunt start and starts the chase music.
	HuntStart bool `json:"hunt_start,omitempty"`
	// Revealed ends a sneak: spotted cue, chase music, full footsteps.
	Revealed bool `json:"revealed,omitempty"`
}

// SequencePayload starts a choreography on every node.
type SequencePayload struct {
	Kind     SequenceKind  `json:"kind"`
	Player   host.PlayerID `json:"player"`
	Sneaking bool          `json:"sneaking,omitempty"`
	Clip     int           `json:"clip,omitempty"`
}

// InterruptPayload cuts a kill short.
type InterruptPayload struct {
	Interrupter host.PlayerID `json:"interrupter"`
}

// SoundPayload starts or stops a looping creature sound.
type SoundPayload struct {
	Group host.SoundGroup `json:"group"`
	Clip  int             `json:"clip"`
	Play  bool            `json:"play"`
}

// NoisePayload records an investigated noise.
type NoisePayload struct {
	Position host.Vec3 `json:"position"`
}

// WarpPayload relocates the creature.
type WarpPayload struct {
	Position host.Vec3 `json:"position"`
	Outside  bool      `json:"outside"`
	Door     bool      `json:"door,omitempty"`
}

// CollisionProposal reports creature contact with a player.
type CollisionProposal struct {
	Player host.PlayerID `json:"player"`
}

// HitProposal reports a player hitting the creature.
type HitProposal struct {
	Player host.PlayerID `json:"player"`
}

// NoiseProposal reports a noise heard near the creature.
type NoiseProposal struct {
	Position host.Vec3 `json:"position"`
	Loudness float64   `json:"loudness"`
}

// LeftProposal reports a player disconnecting.
type LeftProposal struct {
	Player host.PlayerID `json:"player"`
}
