package creature

// Settings are the per-creature tunables.
type Settings struct {
	SpawnWeight              int  `json:"spawn_weight"`
	Stunnable                bool `json:"stunnable"`
	NonDeadlyInteractions    int  `json:"non_deadly_interactions"`
	ChanceForPocketDimension int  `json:"chance_for_pocket_dimension"`
	CanGoOutside             bool `json:"can_go_outside"`
	CanGoInsideShip          bool `json:"can_go_inside_ship"`
}

// DefaultSettings mirrors the stock config.
func DefaultSettings() Settings {
	return Settings{
		SpawnWeight:              35,
		Stunnable:                true,
		NonDeadlyInteractions:    15,
		ChanceForPocketDimension: 20,
	}
}

// Clamped bounds the percentages to 0..100.
func (s Settings) Clamped() Settings {
	s.NonDeadlyInteractions = clamp(s.NonDeadlyInteractions, 0, 100)
	s.ChanceForPocketDimension = clamp(s.ChanceForPocketDimension, 0, 100)
	if s.SpawnWeight < 0 {
		s.SpawnWeight = 0
	}
	return s
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
