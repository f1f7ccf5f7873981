package pocket

import (
	"time"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/replication"
)

// Room is a region of the pocket dimension.
type Room int

const (
	RoomNone Room = iota
	RoomMain
	RoomCorridor
	RoomThrone
)

func (r Room) String() string {
	switch r {
	case RoomMain:
		return "main"
	case RoomCorridor:
		return "corridor"
	case RoomThrone:
		return "throne"
	}
	return "none"
}

// Anchor names of the pocket prefab, resolved through host.Environment.
const (
	AnchorMain     = "main"
	AnchorCorridor = "corridor"
	AnchorThrone   = "throne"
	AnchorCrush    = "crush"
)

func (r Room) anchor() string {
	switch r {
	case RoomCorridor:
		return AnchorCorridor
	case RoomThrone:
		return AnchorThrone
	}
	return AnchorMain
}

// Outcome is the result of a room-exit roll.
type Outcome string

const (
	OutcomeDeath   Outcome = "death"
	OutcomeEscape  Outcome = "escape"
	OutcomeRetry   Outcome = "retry"
	OutcomeAdvance Outcome = "advance"
)

// ExitStyle tells how a player left the pocket.
type ExitStyle string

const (
	ExitEscaped ExitStyle = "escaped"
	ExitReset   ExitStyle = "reset"
	// ExitDropped clears the stay of a player who died of something else
	// or vanished. Nobody is moved.
	ExitDropped ExitStyle = "dropped"
)

// DeathStyle tells how the pocket killed a player.
type DeathStyle string

const (
	DeathSlam   DeathStyle = "slam"
	DeathBleed  DeathStyle = "bleed"
	DeathThrone DeathStyle = "throne"
)

// Replicated command kinds owned by the pocket dimension.
const (
	KindEnter   replication.Kind = "pocket_enter"
	KindRoom    replication.Kind = "pocket_room"
	KindExit    replication.Kind = "pocket_exit"
	KindDeath   replication.Kind = "pocket_death"
	KindAmbient replication.Kind = "pocket_ambient"
)

// Proposal kinds the pocket dimension accepts from replicas.
const (
	ProposeBoundary replication.ProposalKind = "pocket_boundary"
	ProposePosture  replication.ProposalKind = "posture"
)

// EnterPayload moves a player into the main room.
type EnterPayload struct {
	Player       host.PlayerID `json:"player"`
	ExitLocation host.Vec3     `json:"exit_location"`
}

// RoomPayload reports a room roll that kept the player inside.
type RoomPayload struct {
	Player  host.PlayerID `json:"player"`
	Roll    int           `json:"roll"`
	Outcome Outcome       `json:"outcome"`
	To      Room          `json:"to"`
}

// ExitPayload returns a player to the level.
type ExitPayload struct {
	Player      host.PlayerID `json:"player"`
	Style       ExitStyle     `json:"style"`
	Destination host.Vec3     `json:"destination"`
}

// DeathPayload kills a player inside the pocket.
type DeathPayload struct {
	Player host.PlayerID `json:"player"`
	Style  DeathStyle    `json:"style"`
}

// AmbientPayload plays one ambient clip from one of the ambient positions.
type AmbientPayload struct {
	Clip     int `json:"clip"`
	Position int `json:"position"`
}

// BoundaryProposal reports a player crossing a room exit trigger.
type BoundaryProposal struct {
	Player host.PlayerID `json:"player"`
}

// PostureProposal reports a player's kneeling state.
type PostureProposal struct {
	Player   host.PlayerID `json:"player"`
	Kneeling bool          `json:"kneeling"`
}

// Occupant is one player's stay in the pocket.
type Occupant struct {
	Player       host.PlayerID `json:"player"`
	Room         Room          `json:"room"`
	EnteredAt    time.Duration `json:"entered_at"`
	ExitLocation host.Vec3     `json:"exit_location"`
	Kneeling     bool          `json:"kneeling"`
	ThroneAt     time.Duration `json:"throne_at,omitempty"`

	bleedRun  string
	throneRun string
}

// Settings holds the pocket timings.
type Settings struct {
	BleedOut         time.Duration `json:"bleed_out"`
	Critical         time.Duration `json:"critical"`
	ThroneCountdown  time.Duration `json:"throne_countdown"`
	ThroneWarning    time.Duration `json:"throne_warning"`
	DeathShake       time.Duration `json:"death_shake"`
	SlamPull         time.Duration `json:"slam_pull"`
	EscapeBuff       time.Duration `json:"escape_buff"`
	EscapeSpeed      float64       `json:"escape_speed"`
	AmbientClips     int           `json:"ambient_clips"`
	FarthestNodeOdds int           `json:"farthest_node_odds"`
}

// DefaultSettings returns the stock timings.
func DefaultSettings() Settings {
	return Settings{
		BleedOut:         45 * time.Second,
		Critical:         4 * time.Second,
		ThroneCountdown:  10 * time.Second,
		ThroneWarning:    4 * time.Second,
		DeathShake:       3 * time.Second,
		SlamPull:         time.Second,
		EscapeBuff:       10 * time.Second,
		EscapeSpeed:      3,
		AmbientClips:     6,
		FarthestNodeOdds: 3,
	}
}
