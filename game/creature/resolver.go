package creature

import "github.com/kasuganosora/corrosion/game/rng"

// Interaction is what contact with a player turns into.
type Interaction string

const (
	InteractionPocket Interaction = "pocket"
	InteractionPush   Interaction = "push"
	InteractionKill   Interaction = "kill"
)

// Resolver picks the outcome of a contact.
//
// The first roll (1..100) sends the player to the pocket when it is at or
// below PocketChance. Otherwise a second roll is drawn over the remaining
// 100-PocketChance buckets and pushes when at or below NonDeadly, so that
// pocket, push and kill keep probabilities p/100, n/100 and (100-p-n)/100.
type Resolver struct {
	PocketChance int
	NonDeadly    int
}

// Resolution records the rolls behind an interaction.
type Resolution struct {
	Interaction Interaction `json:"interaction"`
	PocketRoll  int         `json:"pocket_roll"`
	DeadlyRoll  int         `json:"deadly_roll,omitempty"`
}

func (r Resolver) bounds() (p, n int) {
	p = clamp(r.PocketChance, 0, 100)
	n = clamp(r.NonDeadly, 0, 100-p)
	return p, n
}

// Resolve rolls one interaction.
func (r Resolver) Resolve(rnd *rng.Randomizer) Resolution {
	p, n := r.bounds()
	res := Resolution{PocketRoll: rnd.Roll(100)}
	if res.PocketRoll <= p {
		res.Interaction = InteractionPocket
		return res
	}
	res.DeadlyRoll = rnd.Roll(100 - p)
	if res.DeadlyRoll <= n {
		res.Interaction = InteractionPush
	} else {
		res.Interaction = InteractionKill
	}
	return res
}

// Probabilities returns the exact branch probabilities.
func (r Resolver) Probabilities() (pocket, push, kill float64) {
	p, n := r.bounds()
	return float64(p) / 100, float64(n) / 100, float64(100-p-n) / 100
}
