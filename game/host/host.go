// Package host declares the boundary contracts the creature controller drives.
// Everything behind these interfaces (navigation, animation rigs, audio
// rendering, avatar physics) belongs to the host runtime.
package host

import "math"

// PlayerID identifies a connected player. NoPlayer means "no target".
type PlayerID int

// NoPlayer is the zero target.
const NoPlayer PlayerID = -1

// Valid reports whether id refers to a player.
func (id PlayerID) Valid() bool { return id >= 0 }

// Vec3 is a world-space position or direction.
type Vec3 struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
	Z float64 `json:"z"`
}

func (v Vec3) Add(o Vec3) Vec3 { return Vec3{v.X + o.X, v.Y + o.Y, v.Z + o.Z} }

func (v Vec3) Sub(o Vec3) Vec3 { return Vec3{v.X - o.X, v.Y - o.Y, v.Z - o.Z} }

func (v Vec3) Scale(f float64) Vec3 { return Vec3{v.X * f, v.Y * f, v.Z * f} }

func (v Vec3) Dot(o Vec3) float64 { return v.X*o.X + v.Y*o.Y + v.Z*o.Z }

func (v Vec3) Len() float64 { return math.Sqrt(v.Dot(v)) }

func (v Vec3) Distance(o Vec3) float64 { return v.Sub(o).Len() }

// Normalize returns the unit vector of v, or the zero vector.
func (v Vec3) Normalize() Vec3 {
	l := v.Len()
	if l == 0 {
		return Vec3{}
	}
	return v.Scale(1 / l)
}

// PlayerInfo is the per-player view the controller reads from sensing.
type PlayerInfo struct {
	ID            PlayerID `json:"id"`
	Position      Vec3     `json:"position"`
	Forward       Vec3     `json:"forward"`
	Dead          bool     `json:"dead"`
	Connected     bool     `json:"connected"`
	InsideFactory bool     `json:"inside_factory"`
	InShip        bool     `json:"in_ship"`
	Alone         bool     `json:"alone"`
}

// Alive reports whether the player can still be targeted.
func (p PlayerInfo) Alive() bool { return p.Connected && !p.Dead }

// CauseOfDeath is forwarded to the host kill call.
type CauseOfDeath string

const (
	CauseCrushing CauseOfDeath = "crushing"
	CauseStabbing CauseOfDeath = "stabbing"
	CauseUnknown  CauseOfDeath = "unknown"
)

// SoundGroup selects an audio source and clip set on the host.
type SoundGroup string

const (
	SoundBreathing      SoundGroup = "breathing"
	SoundLaughing       SoundGroup = "laughing"
	SoundSpotted        SoundGroup = "spotted"
	SoundChasing        SoundGroup = "chasing"
	SoundNeck           SoundGroup = "neck"
	SoundKilling        SoundGroup = "killing"
	SoundPlayerKilled   SoundGroup = "player_killed"
	SoundSinking        SoundGroup = "sinking"
	SoundEmerging       SoundGroup = "emerging"
	SoundCorrosion      SoundGroup = "corrosion"
	SoundPocketPersonal SoundGroup = "pocket_personal"
	SoundPocketAmbient  SoundGroup = "pocket_ambient"
)

// AnyClip lets the host pick a clip locally; the choice is cosmetic.
const AnyClip = -1

// Animation triggers understood by the creature rig.
const (
	AnimStill   = "startStill"
	AnimWalk    = "startWalk"
	AnimSpotted = "startSpotted"
	AnimKill    = "startKill"
	AnimEmerge  = "startEmerge"
	AnimSink    = "startSink"
	AnimPush    = "startPush"
)

// Sensing answers perception queries about the players around the creature.
type Sensing interface {
	Players() []PlayerInfo
	Player(id PlayerID) (PlayerInfo, bool)
	CreaturePosition() Vec3
	ClosestPlayerInSight(requireLineOfSight, excludeSafeZones bool) (PlayerID, bool)
	PlayerLooksAt(id PlayerID, pos Vec3, fovWidth, viewRange float64) bool
	HasLineOfSight(id PlayerID) bool
	Obstructed(from, to Vec3) bool
}

// Mover drives the creature's navigation agent.
type Mover interface {
	SetDestination(pos Vec3)
	Warp(pos Vec3)
	SetSpeed(speed float64)
	Stop(stopped bool)
	PathDistanceTo(pos Vec3) float64
	PathObstructedBySight(pos Vec3) bool
	SetOutside(outside bool)
}

// PlayerControl is the damageable capability of a player avatar.
type PlayerControl interface {
	SetMovementOverride(id PlayerID, speedMultiplier float64)
	DisableLookInput(id PlayerID, disabled bool)
	DisableMoveInput(id PlayerID, disabled bool)
	ForcePosition(id PlayerID, pos *Vec3)
	SetImpairment(id PlayerID, level float64)
	ApplyDamage(id PlayerID, amount int)
	Kill(id PlayerID, cause CauseOfDeath, variant int)
	Teleport(id PlayerID, pos Vec3)
}

// Presentation receives fire-and-forget animation and audio cues.
type Presentation interface {
	PlayAnimation(trigger string)
	SetAnimationSpeed(speed float64)
	PlaySound(group SoundGroup, clip int)
	PlaySoundAt(group SoundGroup, clip int, pos Vec3)
	StopSound(group SoundGroup)
	SetFootstepVolume(volume float64)
	PlaceCorrosion(pos Vec3)
	ShakeCamera(id PlayerID, intensity float64)
}

// Environment answers level-layout queries.
type Environment interface {
	EntrancePosition(main, outside bool) Vec3
	NearestNavNode(pos Vec3, preferOutOfSight bool) Vec3
	FarthestNavNode(pos Vec3) Vec3
	PocketAnchor(name string) Vec3
}

// Host bundles every capability a node needs.
type Host struct {
	Sensing      Sensing
	Mover        Mover
	Control      PlayerControl
	Presentation Presentation
	Environment  Environment
}
