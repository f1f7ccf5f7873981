// Package bridge implements the host contracts over a remote host runtime.
// The runtime reports its world as it changes; perception queries are
// answered from that mirror and every outbound call is forwarded as a Call.
package bridge

import (
	"math"
	"sort"
	"sync"

	"github.com/kasuganosora/corrosion/game/host"
)

// DefaultSightRange is how far the creature and players see when the host
// does not report sight explicitly.
const DefaultSightRange = 40.0

// Box is an axis-aligned obstacle that blocks sight.
type Box struct {
	Min host.Vec3 `json:"min"`
	Max host.Vec3 `json:"max"`
}

// Entrance is one side of a facility door.
type Entrance struct {
	Main     bool      `json:"main"`
	Outside  bool      `json:"outside"`
	Position host.Vec3 `json:"position"`
}

// PlayerReport is a player as reported by the host. The optional fields
// override the geometric answers computed from the mirror.
type PlayerReport struct {
	host.PlayerInfo
	InSight      *bool    `json:"in_sight,omitempty"`
	Looking      *bool    `json:"looking,omitempty"`
	PathDistance *float64 `json:"path_distance,omitempty"`
}

// Report is an incremental world update. Nil and empty fields leave the
// mirror untouched.
type Report struct {
	Creature  *host.Vec3           `json:"creature,omitempty"`
	Players   []PlayerReport       `json:"players,omitempty"`
	Removed   []host.PlayerID      `json:"removed,omitempty"`
	NavNodes  []host.Vec3          `json:"nav_nodes,omitempty"`
	Anchors   map[string]host.Vec3 `json:"anchors,omitempty"`
	Entrances []Entrance           `json:"entrances,omitempty"`
	Obstacles []Box                `json:"obstacles,omitempty"`
}

// Sink receives outbound host calls.
type Sink interface {
	Deliver(Call)
}

// World mirrors the remote host and implements every host contract.
type World struct {
	mu sync.RWMutex

	sightRange float64
	creature   host.Vec3
	players    map[host.PlayerID]*PlayerReport
	navNodes   []host.Vec3
	anchors    map[string]host.Vec3
	entrances  []Entrance
	obstacles  []Box

	destination *host.Vec3
	speed       float64
	stopped     bool
	outside     bool

	sink    Sink
	dropped int64
}

// NewWorld returns an empty mirror. sightRange <= 0 uses DefaultSightRange.
func NewWorld(sightRange float64) *World {
	if sightRange <= 0 {
		sightRange = DefaultSightRange
	}
	return &World{
		sightRange: sightRange,
		players:    make(map[host.PlayerID]*PlayerReport),
		anchors:    make(map[string]host.Vec3),
		speed:      1,
	}
}

// Host bundles the world into every contract.
func (w *World) Host() host.Host {
	return host.Host{Sensing: w, Mover: w, Control: w, Presentation: w, Environment: w}
}

// Attach routes outbound calls to s. A nil sink detaches; calls made while
// detached are counted and dropped.
func (w *World) Attach(s Sink) {
	w.mu.Lock()
	w.sink = s
	w.mu.Unlock()
}

// Attached reports whether a host runtime is connected.
func (w *World) Attached() bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.sink != nil
}

// Dropped returns how many calls were made with no host attached.
func (w *World) Dropped() int64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.dropped
}

// Apply merges a report into the mirror.
func (w *World) Apply(r Report) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if r.Creature != nil {
		w.creature = *r.Creature
	}
	for _, p := range r.Players {
		cp := p
		w.players[p.ID] = &cp
	}
	for _, id := range r.Removed {
		delete(w.players, id)
	}
	if len(r.NavNodes) > 0 {
		w.navNodes = append([]host.Vec3(nil), r.NavNodes...)
	}
	for name, pos := range r.Anchors {
		w.anchors[name] = pos
	}
	if len(r.Entrances) > 0 {
		w.entrances = append([]Entrance(nil), r.Entrances...)
	}
	if r.Obstacles != nil {
		w.obstacles = append([]Box(nil), r.Obstacles...)
	}
}

// Destination returns the last navigation target, if any.
func (w *World) Destination() (host.Vec3, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if w.destination == nil {
		return host.Vec3{}, false
	}
	return *w.destination, true
}

func (w *World) emit(c Call) {
	if w.sink == nil {
		w.dropped++
		return
	}
	w.sink.Deliver(c)
}

// --- Sensing ---

func (w *World) Players() []host.PlayerInfo {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]host.PlayerInfo, 0, len(w.players))
	for _, p := range w.players {
		out = append(out, p.PlayerInfo)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

func (w *World) Player(id host.PlayerID) (host.PlayerInfo, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok {
		return host.PlayerInfo{}, false
	}
	return p.PlayerInfo, true
}

func (w *World) CreaturePosition() host.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.creature
}

// ClosestPlayerInSight returns the nearest living player. Without the line
// of sight requirement any player within sight range counts.
func (w *World) ClosestPlayerInSight(requireLOS, excludeSafeZones bool) (host.PlayerID, bool) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	best, bestDist := host.NoPlayer, 0.0
	for id, p := range w.players {
		if !p.Alive() || (excludeSafeZones && p.InShip) {
			continue
		}
		d := p.Position.Distance(w.creature)
		if requireLOS {
			if !w.sees(p) {
				continue
			}
		} else if d > w.sightRange {
			continue
		}
		if best == host.NoPlayer || d < bestDist || (d == bestDist && id < best) {
			best, bestDist = id, d
		}
	}
	return best, best != host.NoPlayer
}

// PlayerLooksAt reports whether pos lies inside the player's view cone of
// fovWidth degrees and viewRange units with nothing in between.
func (w *World) PlayerLooksAt(id host.PlayerID, pos host.Vec3, fovWidth, viewRange float64) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	if !ok || !p.Alive() {
		return false
	}
	if p.Looking != nil {
		return *p.Looking
	}
	to := pos.Sub(p.Position)
	dist := to.Len()
	if dist > viewRange {
		return false
	}
	if dist > 0 {
		fwd := p.Forward.Normalize()
		if fwd == (host.Vec3{}) {
			return false
		}
		cos := fwd.Dot(to.Scale(1 / dist))
		if cos < math.Cos(fovWidth/2*math.Pi/180) {
			return false
		}
	}
	return !w.blocked(p.Position, pos)
}

func (w *World) HasLineOfSight(id host.PlayerID) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	p, ok := w.players[id]
	return ok && p.Alive() && w.sees(p)
}

func (w *World) Obstructed(from, to host.Vec3) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.blocked(from, to)
}

func (w *World) sees(p *PlayerReport) bool {
	if p.InSight != nil {
		return *p.InSight
	}
	return p.Position.Distance(w.creature) <= w.sightRange && !w.blocked(w.creature, p.Position)
}

func (w *World) blocked(from, to host.Vec3) bool {
	for _, b := range w.obstacles {
		if segmentHitsBox(from, to, b) {
			return true
		}
	}
	return false
}

// segmentHitsBox is the slab test restricted to t in [0, 1].
func segmentHitsBox(from, to host.Vec3, b Box) bool {
	d := to.Sub(from)
	tmin, tmax := 0.0, 1.0
	axes := [3][4]float64{
		{from.X, d.X, b.Min.X, b.Max.X},
		{from.Y, d.Y, b.Min.Y, b.Max.Y},
		{from.Z, d.Z, b.Min.Z, b.Max.Z},
	}
	for _, a := range axes {
		o, dir, lo, hi := a[0], a[1], a[2], a[3]
		if dir == 0 {
			if o < lo || o > hi {
				return false
			}
			continue
		}
		t1, t2 := (lo-o)/dir, (hi-o)/dir
		if t1 > t2 {
			t1, t2 = t2, t1
		}
		tmin = math.Max(tmin, t1)
		tmax = math.Min(tmax, t2)
		if tmin > tmax {
			return false
		}
	}
	return true
}

// --- Mover ---

func (w *World) SetDestination(pos host.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.destination = &pos
	w.emit(Call{Op: OpSetDestination, Player: host.NoPlayer, Pos: &pos})
}

func (w *World) Warp(pos host.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.creature = pos
	w.destination = nil
	w.emit(Call{Op: OpWarp, Player: host.NoPlayer, Pos: &pos})
}

func (w *World) SetSpeed(speed float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.speed = speed
	w.emit(Call{Op: OpSetSpeed, Player: host.NoPlayer, Value: speed})
}

func (w *World) Stop(stopped bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.stopped = stopped
	w.emit(Call{Op: OpStop, Player: host.NoPlayer, Flag: stopped})
}

// PathDistanceTo uses the host's reported path length to a player standing
// at pos, else the straight-line distance.
func (w *World) PathDistanceTo(pos host.Vec3) float64 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	for _, p := range w.players {
		if p.Position == pos && p.PathDistance != nil {
			return *p.PathDistance
		}
	}
	return pos.Distance(w.creature)
}

// PathObstructedBySight reports whether any living player has a clear view
// of pos.
func (w *World) PathObstructedBySight(pos host.Vec3) bool {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.watched(pos)
}

func (w *World) watched(pos host.Vec3) bool {
	for _, p := range w.players {
		if p.Alive() && p.Position.Distance(pos) <= w.sightRange && !w.blocked(p.Position, pos) {
			return true
		}
	}
	return false
}

func (w *World) SetOutside(outside bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.outside = outside
	w.emit(Call{Op: OpSetOutside, Player: host.NoPlayer, Flag: outside})
}

// --- PlayerControl ---

func (w *World) SetMovementOverride(id host.PlayerID, speedMultiplier float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpMovementOverride, Player: id, Value: speedMultiplier})
}

func (w *World) DisableLookInput(id host.PlayerID, disabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpDisableLook, Player: id, Flag: disabled})
}

func (w *World) DisableMoveInput(id host.PlayerID, disabled bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpDisableMove, Player: id, Flag: disabled})
}

func (w *World) ForcePosition(id host.PlayerID, pos *host.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	c := Call{Op: OpForcePosition, Player: id}
	if pos != nil {
		cp := *pos
		c.Pos = &cp
	}
	w.emit(c)
}

func (w *World) SetImpairment(id host.PlayerID, level float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpImpairment, Player: id, Value: level})
}

func (w *World) ApplyDamage(id host.PlayerID, amount int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpDamage, Player: id, Int: amount})
}

// Kill marks the player dead in the mirror right away so the creature stops
// targeting them before the host's next report.
func (w *World) Kill(id host.PlayerID, cause host.CauseOfDeath, variant int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.players[id]; ok {
		p.Dead = true
	}
	w.emit(Call{Op: OpKill, Player: id, Name: string(cause), Int: variant})
}

func (w *World) Teleport(id host.PlayerID, pos host.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if p, ok := w.players[id]; ok {
		p.Position = pos
	}
	w.emit(Call{Op: OpTeleport, Player: id, Pos: &pos})
}

// --- Presentation ---

func (w *World) PlayAnimation(trigger string) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpAnimation, Player: host.NoPlayer, Name: trigger})
}

func (w *World) SetAnimationSpeed(speed float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpAnimationSpeed, Player: host.NoPlayer, Value: speed})
}

func (w *World) PlaySound(group host.SoundGroup, clip int) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpPlaySound, Player: host.NoPlayer, Name: string(group), Int: clip})
}

func (w *World) PlaySoundAt(group host.SoundGroup, clip int, pos host.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpPlaySound, Player: host.NoPlayer, Name: string(group), Int: clip, Pos: &pos})
}

func (w *World) StopSound(group host.SoundGroup) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpStopSound, Player: host.NoPlayer, Name: string(group)})
}

func (w *World) SetFootstepVolume(volume float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpFootsteps, Player: host.NoPlayer, Value: volume})
}

func (w *World) PlaceCorrosion(pos host.Vec3) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpCorrosion, Player: host.NoPlayer, Pos: &pos})
}

func (w *World) ShakeCamera(id host.PlayerID, intensity float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.emit(Call{Op: OpShakeCamera, Player: id, Value: intensity})
}

// --- Environment ---

// EntrancePosition falls back to the fire exit of the same side, then the
// creature's position, when the host never reported the door.
func (w *World) EntrancePosition(main, outside bool) host.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	var fallback *host.Vec3
	for i := range w.entrances {
		e := &w.entrances[i]
		if e.Outside != outside {
			continue
		}
		if e.Main == main {
			return e.Position
		}
		if fallback == nil {
			fallback = &e.Position
		}
	}
	if fallback != nil {
		return *fallback
	}
	return w.creature
}

// NearestNavNode returns the node closest to pos. With preferOutOfSight the
// closest node no living player can see wins, if there is one.
func (w *World) NearestNavNode(pos host.Vec3, preferOutOfSight bool) host.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	if len(w.navNodes) == 0 {
		return pos
	}
	nodes := append([]host.Vec3(nil), w.navNodes...)
	sort.SliceStable(nodes, func(i, j int) bool {
		return nodes[i].Distance(pos) < nodes[j].Distance(pos)
	})
	if preferOutOfSight {
		for _, n := range nodes {
			if !w.watched(n) {
				return n
			}
		}
	}
	return nodes[0]
}

func (w *World) FarthestNavNode(pos host.Vec3) host.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	best, bestDist := pos, -1.0
	for _, n := range w.navNodes {
		if d := n.Distance(pos); d > bestDist {
			best, bestDist = n, d
		}
	}
	return best
}

func (w *World) PocketAnchor(name string) host.Vec3 {
	w.mu.RLock()
	defer w.mu.RUnlock()
	return w.anchors[name]
}
