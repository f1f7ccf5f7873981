package sequence

import "github.com/kasuganosora/corrosion/game/host"

// Overlay is a temporary modification of a player's control. Every run that
// touches a player owns one layer; the effective overlay is the composition
// of all live layers on top of the neutral baseline.
type Overlay struct {
	SpeedMultiplier   float64    `json:"speed_multiplier"`
	LookInputDisabled bool       `json:"look_input_disabled"`
	MoveInputDisabled bool       `json:"move_input_disabled"`
	ForcedPosition    *host.Vec3 `json:"forced_position,omitempty"`
	Impairment        float64    `json:"impairment"`
}

// Neutral is the baseline a player returns to when no layer is live.
func Neutral() Overlay { return Overlay{SpeedMultiplier: 1} }

// Equal compares overlays by value.
func (o Overlay) Equal(other Overlay) bool {
	if o.SpeedMultiplier != other.SpeedMultiplier ||
		o.LookInputDisabled != other.LookInputDisabled ||
		o.MoveInputDisabled != other.MoveInputDisabled ||
		o.Impairment != other.Impairment {
		return false
	}
	return samePos(o.ForcedPosition, other.ForcedPosition)
}

func samePos(a, b *host.Vec3) bool {
	if a == nil || b == nil {
		return a == nil && b == nil
	}
	return *a == *b
}

// compose folds layers in start order: speeds multiply, disables OR, the
// newest forced position wins and impairment takes the maximum.
func compose(layers []Overlay) Overlay {
	out := Neutral()
	for _, l := range layers {
		out.SpeedMultiplier *= l.SpeedMultiplier
		out.LookInputDisabled = out.LookInputDisabled || l.LookInputDisabled
		out.MoveInputDisabled = out.MoveInputDisabled || l.MoveInputDisabled
		if l.ForcedPosition != nil {
			p := *l.ForcedPosition
			out.ForcedPosition = &p
		}
		if l.Impairment > out.Impairment {
			out.Impairment = l.Impairment
		}
	}
	return out
}

// push sends only the fields that differ between prev and next.
func push(ctl host.PlayerControl, id host.PlayerID, prev, next Overlay) {
	if ctl == nil {
		return
	}
	if prev.SpeedMultiplier != next.SpeedMultiplier {
		ctl.SetMovementOverride(id, next.SpeedMultiplier)
	}
	if prev.LookInputDisabled != next.LookInputDisabled {
		ctl.DisableLookInput(id, next.LookInputDisabled)
	}
	if prev.MoveInputDisabled != next.MoveInputDisabled {
		ctl.DisableMoveInput(id, next.MoveInputDisabled)
	}
	if !samePos(prev.ForcedPosition, next.ForcedPosition) {
		ctl.ForcePosition(id, next.ForcedPosition)
	}
	if prev.Impairment != next.Impairment {
		ctl.SetImpairment(id, next.Impairment)
	}
}
