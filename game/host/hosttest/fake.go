// Package hosttest provides an in-memory host runtime that records every call.
package hosttest

import (
	"fmt"
	"sort"
	"sync"

	"github.com/kasuganosora/corrosion/game/host"
)

// Call is one recorded outbound host call.
type Call struct {
	Op     string
	Player host.PlayerID
	Args   []any
}

func (c Call) String() string {
	return fmt.Sprintf("%s(%d)%v", c.Op, c.Player, c.Args)
}

// Fake implements every host contract against a mutable world model.
type Fake struct {
	mu sync.Mutex

	players  map[host.PlayerID]*host.PlayerInfo
	inSight  map[host.PlayerID]bool
	looking  map[host.PlayerID]bool
	pathDist map[host.PlayerID]float64
	calls    []Call

	CreaturePos  host.Vec3
	Outside      bool
	ObstructAll  bool
	Anchors      map[string]host.Vec3
	NavNodes     []host.Vec3
	Entrances    map[bool]host.Vec3 // keyed by outside
	Control      map[host.PlayerID]ControlState
	AnimSpeed    float64
	FootstepsVol float64
	Speed        float64
	Stopped      bool
	Destination  *host.Vec3
}

// ControlState is the last value pushed per player by PlayerControl.
type ControlState struct {
	Speed       float64
	LookOff     bool
	MoveOff     bool
	Forced      *host.Vec3
	Impairment  float64
	Damage      int
	Killed      bool
	Cause       host.CauseOfDeath
	KillVariant int
	Position    host.Vec3
}

// New returns an empty world with the creature at the origin.
func New() *Fake {
	return &Fake{
		players:  make(map[host.PlayerID]*host.PlayerInfo),
		inSight:  make(map[host.PlayerID]bool),
		looking:  make(map[host.PlayerID]bool),
		pathDist: make(map[host.PlayerID]float64),
		Anchors: map[string]host.Vec3{
			"main":     {X: 1000, Y: 0, Z: 0},
			"corridor": {X: 1100, Y: 0, Z: 0},
			"throne":   {X: 1200, Y: 0, Z: 0},
			"crush":    {X: 1050, Y: 5, Z: 0},
		},
		NavNodes: []host.Vec3{{X: 5}, {X: 50}, {X: 200}},
		Entrances: map[bool]host.Vec3{
			false: {X: 0, Y: 0, Z: 10},
			true:  {X: 0, Y: 0, Z: 100},
		},
		Control: make(map[host.PlayerID]ControlState),
	}
}

// Host bundles the fake into every contract.
func (f *Fake) Host() host.Host {
	return host.Host{Sensing: f, Mover: f, Control: f, Presentation: f, Environment: f}
}

// AddPlayer inserts or replaces a connected, alive player.
func (f *Fake) AddPlayer(p host.PlayerInfo) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p.Connected = true
	cp := p
	f.players[p.ID] = &cp
}

// UpdatePlayer mutates a player in place.
func (f *Fake) UpdatePlayer(id host.PlayerID, fn func(p *host.PlayerInfo)) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if p, ok := f.players[id]; ok {
		fn(p)
	}
}

// SetInSight marks whether the creature has line of sight to a player.
func (f *Fake) SetInSight(id host.PlayerID, v bool) {
	f.mu.Lock()
	f.inSight[id] = v
	f.mu.Unlock()
}

// SetLooking marks whether a player is looking at the creature.
func (f *Fake) SetLooking(id host.PlayerID, v bool) {
	f.mu.Lock()
	f.looking[id] = v
	f.mu.Unlock()
}

// SetPathDistance overrides the navigation distance to a player.
func (f *Fake) SetPathDistance(id host.PlayerID, d float64) {
	f.mu.Lock()
	f.pathDist[id] = d
	f.mu.Unlock()
}

// Calls returns a copy of the recorded calls.
func (f *Fake) Calls() []Call {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]Call, len(f.calls))
	copy(out, f.calls)
	return out
}

// CallsNamed filters the recorded calls by operation.
func (f *Fake) CallsNamed(op string) []Call {
	var out []Call
	for _, c := range f.Calls() {
		if c.Op == op {
			out = append(out, c)
		}
	}
	return out
}

// Reset drops the recorded calls.
func (f *Fake) Reset() {
	f.mu.Lock()
	f.calls = nil
	f.mu.Unlock()
}

// State returns the control state of a player.
func (f *Fake) State(id host.PlayerID) ControlState {
	f.mu.Lock()
	defer f.mu.Unlock()
	st, ok := f.Control[id]
	if !ok {
		return ControlState{Speed: 1}
	}
	return st
}

func (f *Fake) record(op string, id host.PlayerID, args ...any) {
	f.calls = append(f.calls, Call{Op: op, Player: id, Args: args})
}

func (f *Fake) control(id host.PlayerID) ControlState {
	st, ok := f.Control[id]
	if !ok {
		st = ControlState{Speed: 1}
	}
	return st
}

// --- Sensing ---

func (f *Fake) Players() []host.PlayerInfo {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]host.PlayerInfo, 0, len(f.players))
	for _, p := range f.players {
		out = append(out, *p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (f *Fake) Player(id host.PlayerID) (host.PlayerInfo, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.players[id]
	if !ok {
		return host.PlayerInfo{}, false
	}
	return *p, true
}

func (f *Fake) CreaturePosition() host.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.CreaturePos
}

func (f *Fake) ClosestPlayerInSight(requireLOS, excludeSafe bool) (host.PlayerID, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	best, bestDist := host.NoPlayer, 0.0
	for id, p := range f.players {
		if !p.Alive() {
			continue
		}
		if requireLOS && !f.inSight[id] {
			continue
		}
		if excludeSafe && p.InShip {
			continue
		}
		d := p.Position.Distance(f.CreaturePos)
		if best == host.NoPlayer || d < bestDist || (d == bestDist && id < best) {
			best, bestDist = id, d
		}
	}
	return best, best != host.NoPlayer
}

func (f *Fake) PlayerLooksAt(id host.PlayerID, _ host.Vec3, _, _ float64) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.looking[id]
}

func (f *Fake) HasLineOfSight(id host.PlayerID) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inSight[id]
}

func (f *Fake) Obstructed(_, _ host.Vec3) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ObstructAll
}

// --- Mover ---

func (f *Fake) SetDestination(pos host.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Destination = &pos
	f.record("SetDestination", host.NoPlayer, pos)
}

func (f *Fake) Warp(pos host.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.CreaturePos = pos
	f.record("Warp", host.NoPlayer, pos)
}

func (f *Fake) SetSpeed(speed float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Speed = speed
	f.record("SetSpeed", host.NoPlayer, speed)
}

func (f *Fake) Stop(stopped bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Stopped = stopped
	f.record("Stop", host.NoPlayer, stopped)
}

func (f *Fake) PathDistanceTo(pos host.Vec3) float64 {
	f.mu.Lock()
	defer f.mu.Unlock()
	for id, p := range f.players {
		if p.Position == pos {
			if d, ok := f.pathDist[id]; ok {
				return d
			}
		}
	}
	return pos.Distance(f.CreaturePos)
}

func (f *Fake) PathObstructedBySight(_ host.Vec3) bool { return false }

func (f *Fake) SetOutside(outside bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.Outside = outside
	f.record("SetOutside", host.NoPlayer, outside)
}

// --- PlayerControl ---

func (f *Fake) SetMovementOverride(id host.PlayerID, mult float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.Speed = mult
	f.Control[id] = st
	f.record("SetMovementOverride", id, mult)
}

func (f *Fake) DisableLookInput(id host.PlayerID, disabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.LookOff = disabled
	f.Control[id] = st
	f.record("DisableLookInput", id, disabled)
}

func (f *Fake) DisableMoveInput(id host.PlayerID, disabled bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.MoveOff = disabled
	f.Control[id] = st
	f.record("DisableMoveInput", id, disabled)
}

func (f *Fake) ForcePosition(id host.PlayerID, pos *host.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.Forced = pos
	f.Control[id] = st
	f.record("ForcePosition", id, pos)
}

func (f *Fake) SetImpairment(id host.PlayerID, level float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.Impairment = level
	f.Control[id] = st
	f.record("SetImpairment", id, level)
}

func (f *Fake) ApplyDamage(id host.PlayerID, amount int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.Damage += amount
	f.Control[id] = st
	f.record("ApplyDamage", id, amount)
}

func (f *Fake) Kill(id host.PlayerID, cause host.CauseOfDeath, variant int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.Killed, st.Cause, st.KillVariant = true, cause, variant
	f.Control[id] = st
	if p, ok := f.players[id]; ok {
		p.Dead = true
	}
	f.record("Kill", id, cause, variant)
}

func (f *Fake) Teleport(id host.PlayerID, pos host.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	st := f.control(id)
	st.Position = pos
	f.Control[id] = st
	if p, ok := f.players[id]; ok {
		p.Position = pos
	}
	f.record("Teleport", id, pos)
}

// --- Presentation ---

func (f *Fake) PlayAnimation(trigger string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PlayAnimation", host.NoPlayer, trigger)
}

func (f *Fake) SetAnimationSpeed(speed float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.AnimSpeed = speed
	f.record("SetAnimationSpeed", host.NoPlayer, speed)
}

func (f *Fake) PlaySound(group host.SoundGroup, clip int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PlaySound", host.NoPlayer, group, clip)
}

func (f *Fake) PlaySoundAt(group host.SoundGroup, clip int, pos host.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PlaySoundAt", host.NoPlayer, group, clip, pos)
}

func (f *Fake) StopSound(group host.SoundGroup) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("StopSound", host.NoPlayer, group)
}

func (f *Fake) SetFootstepVolume(v float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.FootstepsVol = v
	f.record("SetFootstepVolume", host.NoPlayer, v)
}

func (f *Fake) PlaceCorrosion(pos host.Vec3) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("PlaceCorrosion", host.NoPlayer, pos)
}

func (f *Fake) ShakeCamera(id host.PlayerID, intensity float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.record("ShakeCamera", id, intensity)
}

// --- Environment ---

func (f *Fake) EntrancePosition(_, outside bool) host.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Entrances[outside]
}

func (f *Fake) NearestNavNode(pos host.Vec3, _ bool) host.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := pos
	bestDist := -1.0
	for _, n := range f.NavNodes {
		if d := n.Distance(pos); bestDist < 0 || d < bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

func (f *Fake) FarthestNavNode(pos host.Vec3) host.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	best := pos
	bestDist := -1.0
	for _, n := range f.NavNodes {
		if d := n.Distance(pos); d > bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

func (f *Fake) PocketAnchor(name string) host.Vec3 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.Anchors[name]
}
