package bridge

import "github.com/kasuganosora/corrosion/game/host"

// Outbound operations understood by the host runtime.
const (
	OpSetDestination   = "set_destination"
	OpWarp             = "warp"
	OpSetSpeed         = "set_speed"
	OpStop             = "stop"
	OpSetOutside       = "set_outside"
	OpMovementOverride = "movement_override"
	OpDisableLook      = "disable_look"
	OpDisableMove      = "disable_move"
	OpForcePosition    = "force_position"
	OpImpairment       = "impairment"
	OpDamage           = "damage"
	OpKill             = "kill"
	OpTeleport         = "teleport"
	OpAnimation        = "animation"
	OpAnimationSpeed   = "animation_speed"
	OpPlaySound        = "play_sound"
	OpStopSound        = "stop_sound"
	OpFootsteps        = "footsteps"
	OpCorrosion        = "corrosion"
	OpShakeCamera      = "shake_camera"
)

// Call is one host call. Player is host.NoPlayer for creature-level calls.
// A force_position call without Pos releases the player.
type Call struct {
	Op     string        `json:"op"`
	Player host.PlayerID `json:"player"`
	Pos    *host.Vec3    `json:"pos,omitempty"`
	Value  float64       `json:"value"`
	Int    int           `json:"int"`
	Flag   bool          `json:"flag"`
	Name   string        `json:"name,omitempty"`
}
