// Package pocket implements the pocket dimension: per-player occupancy, room
// rolls, the bleed-out timer, the throne countdown, and how players leave.
package pocket

import (
	"sort"
	"time"

	"go.uber.org/zap"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/rng"
	"github.com/kasuganosora/corrosion/game/sequence"
	"github.com/kasuganosora/corrosion/game/session"
	"github.com/kasuganosora/corrosion/plugin/hook"
	"github.com/kasuganosora/corrosion/replication"
)

// Personal cue clips within host.SoundPocketPersonal.
const (
	ClipEnter = iota
	ClipCritical
	ClipThroneWarning
	ClipExit
)

// ambientAnchors are the positions an ambient clip can play from.
var ambientAnchors = []string{AnchorMain, AnchorCorridor, AnchorThrone}

// Dimension tracks every player inside the pocket for one session.
type Dimension struct {
	sc        *session.Context
	cfg       Settings
	occupants map[host.PlayerID]*Occupant
	lastClip  int
	// cosmetic feeds presentation-only draws, never sc.Rand.
	cosmetic  *rng.Randomizer

	bleed, throne, buff, slam, judgement *sequence.Script
}

// New creates the pocket dimension for a session.
func New(sc *session.Context, cfg Settings) *Dimension {
	d := &Dimension{
		sc:        sc,
		cfg:       cfg,
		occupants: make(map[host.PlayerID]*Occupant),
		lastClip:  -1,
		cosmetic:  rng.New(0),
	}
	d.buildScripts()
	return d
}

// Settings returns the configured timings.
func (d *Dimension) Settings() Settings { return d.cfg }

// Contains reports whether a player is inside.
func (d *Dimension) Contains(id host.PlayerID) bool {
	_, ok := d.occupants[id]
	return ok
}

// Occupant returns a copy of a player's stay.
func (d *Dimension) Occupant(id host.PlayerID) (Occupant, bool) {
	o, ok := d.occupants[id]
	if !ok {
		return Occupant{}, false
	}
	return *o, true
}

// Occupants returns all stays ordered by player.
func (d *Dimension) Occupants() []Occupant {
	out := make([]Occupant, 0, len(d.occupants))
	for _, o := range d.occupants {
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Player < out[j].Player })
	return out
}

// Restore replaces occupancy from a snapshot and restarts each stay's timers
// from the time already spent inside. On the authority an overdue timer
// reaches its verdict at once; replicas hold it until the authority speaks.
func (d *Dimension) Restore(occ []Occupant) {
	for _, o := range d.occupants {
		d.stopTimers(o)
	}
	d.occupants = make(map[host.PlayerID]*Occupant, len(occ))
	restored := make([]*Occupant, 0, len(occ))
	for _, o := range occ {
		cp := o
		cp.bleedRun, cp.throneRun = "", ""
		d.occupants[o.Player] = &cp
		restored = append(restored, &cp)
	}
	for _, o := range restored {
		d.resume(o)
	}
}

func (d *Dimension) resume(occ *Occupant) {
	now := d.sc.Now()
	occ.bleedRun = d.resumeTimer(d.bleed, occ, now-occ.EnteredAt)
	if occ.Room != RoomThrone || !d.Contains(occ.Player) {
		return
	}
	if occ.ThroneAt <= 0 {
		occ.ThroneAt = now
	}
	occ.throneRun = d.resumeTimer(d.throne, occ, now-occ.ThroneAt)
}

// resumeTimer restarts s for occ as if it had run for elapsed and returns
// the live run id, or "" when the stay ended during the fast-forward.
func (d *Dimension) resumeTimer(s *sequence.Script, occ *Occupant, elapsed time.Duration) string {
	run, err := d.sc.Engine.Resume(s, occ.Player, occ, elapsed)
	if err != nil {
		d.sc.Logger.Error("pocket timer not resumed", zap.String("script", s.Name), zap.Int("player", int(occ.Player)), zap.Error(err))
		return ""
	}
	if cur, ok := d.occupants[occ.Player]; !ok || cur != occ {
		d.sc.Engine.Cancel(run.ID)
		return ""
	}
	if run.Done() {
		return ""
	}
	d.sc.Logger.Info("pocket timer resumed",
		zap.String("script", s.Name),
		zap.Int("player", int(occ.Player)),
		zap.String("step", run.StepName()),
		zap.Duration("elapsed", elapsed))
	return run.ID
}

func (d *Dimension) stopTimers(occ *Occupant) {
	d.sc.Engine.CancelWhere(func(r *sequence.Run) bool {
		return r.ID == occ.bleedRun || r.ID == occ.throneRun
	})
}

// ---- authority decisions ----

// Enter sends a player into the main room. Authority only.
func (d *Dimension) Enter(id host.PlayerID, exitLocation host.Vec3) error {
	if d.Contains(id) {
		return nil
	}
	_, err := d.sc.Channel.Broadcast(KindEnter, EnterPayload{Player: id, ExitLocation: exitLocation})
	return err
}

// CrossBoundary rolls the outcome of a player reaching a room exit.
// Authority only.
func (d *Dimension) CrossBoundary(id host.PlayerID) error {
	occ, ok := d.occupants[id]
	if !ok || occ.Room == RoomThrone {
		return nil
	}
	roll := d.sc.Rand.Roll(10)
	outcome, to := RollOutcome(occ.Room, roll)
	d.sc.Logger.Debug("pocket room roll",
		zap.Int("player", int(id)),
		zap.String("room", occ.Room.String()),
		zap.Int("roll", roll),
		zap.String("outcome", string(outcome)))
	switch outcome {
	case OutcomeDeath:
		_, err := d.sc.Channel.Broadcast(KindDeath, DeathPayload{Player: id, Style: DeathSlam})
		return err
	case OutcomeEscape:
		return d.escape(id)
	default:
		_, err := d.sc.Channel.Broadcast(KindRoom, RoomPayload{Player: id, Roll: roll, Outcome: outcome, To: to})
		return err
	}
}

// RollOutcome maps a 1..10 roll in a room to its outcome and target room.
func RollOutcome(room Room, roll int) (Outcome, Room) {
	switch room {
	case RoomMain:
		switch {
		case roll == 1:
			return OutcomeDeath, RoomNone
		case roll == 2:
			return OutcomeEscape, RoomNone
		case roll <= 4:
			return OutcomeRetry, RoomMain
		default:
			return OutcomeAdvance, RoomCorridor
		}
	case RoomCorridor:
		switch {
		case roll <= 2:
			return OutcomeRetry, RoomCorridor
		case roll <= 4:
			return OutcomeEscape, RoomNone
		default:
			return OutcomeAdvance, RoomThrone
		}
	}
	return OutcomeRetry, room
}

// SetKneeling records a player's posture. Authority only; the throne
// countdown reads it.
func (d *Dimension) SetKneeling(id host.PlayerID, kneeling bool) {
	if occ, ok := d.occupants[id]; ok {
		occ.Kneeling = kneeling
	}
}

// ReportBoundary is called when the local host sees a player reach a room
// exit. Replicas forward the observation to the authority.
func (d *Dimension) ReportBoundary(id host.PlayerID) error {
	if !d.sc.Authority() {
		return d.sc.Channel.Propose(ProposeBoundary, BoundaryProposal{Player: id})
	}
	return d.CrossBoundary(id)
}

// ReportPosture is called when the local host sees a player kneel or stand.
func (d *Dimension) ReportPosture(id host.PlayerID, kneeling bool) error {
	if !d.sc.Authority() {
		return d.sc.Channel.Propose(ProposePosture, PostureProposal{Player: id, Kneeling: kneeling})
	}
	d.SetKneeling(id, kneeling)
	return nil
}

// Release removes a player without a death, used on disconnect.
func (d *Dimension) Release(id host.PlayerID) error {
	occ, ok := d.occupants[id]
	if !ok {
		return nil
	}
	_, err := d.sc.Channel.Broadcast(KindExit, ExitPayload{Player: id, Style: ExitReset, Destination: occ.ExitLocation})
	return err
}

func (d *Dimension) escape(id host.PlayerID) error {
	occ, ok := d.occupants[id]
	if !ok {
		return nil
	}
	dest := occ.ExitLocation
	if d.cfg.FarthestNodeOdds > 0 && d.sc.Rand.Roll(d.cfg.FarthestNodeOdds) == 1 {
		dest = d.sc.Host.Environment.FarthestNavNode(occ.ExitLocation)
	}
	_, err := d.sc.Channel.Broadcast(KindExit, ExitPayload{Player: id, Style: ExitEscaped, Destination: dest})
	return err
}

// HandleProposal acts on replica observations. Returns false for kinds the
// pocket does not own.
func (d *Dimension) HandleProposal(p replication.Proposal) bool {
	switch p.Kind {
	case ProposeBoundary:
		var b BoundaryProposal
		if err := p.Decode(&b); err != nil {
			d.sc.Logger.Warn("bad boundary proposal", zap.Error(err))
			return true
		}
		if err := d.CrossBoundary(b.Player); err != nil {
			d.sc.Logger.Warn("boundary roll failed", zap.Error(err))
		}
	case ProposePosture:
		var pp PostureProposal
		if err := p.Decode(&pp); err != nil {
			d.sc.Logger.Warn("bad posture proposal", zap.Error(err))
			return true
		}
		d.SetKneeling(pp.Player, pp.Kneeling)
	default:
		return false
	}
	return true
}

// ---- replicated application ----

// Apply handles a pocket command on any node. Returns false for kinds the
// pocket does not own.
func (d *Dimension) Apply(cmd replication.Command) bool {
	var err error
	switch cmd.Kind {
	case KindEnter:
		var p EnterPayload
		if err = cmd.Decode(&p); err == nil {
			d.applyEnter(p)
		}
	case KindRoom:
		var p RoomPayload
		if err = cmd.Decode(&p); err == nil {
			d.applyRoom(p)
		}
	case KindExit:
		var p ExitPayload
		if err = cmd.Decode(&p); err == nil {
			d.applyExit(p)
		}
	case KindDeath:
		var p DeathPayload
		if err = cmd.Decode(&p); err == nil {
			d.applyDeath(p)
		}
	case KindAmbient:
		var p AmbientPayload
		if err = cmd.Decode(&p); err == nil {
			d.applyAmbient(p)
		}
	default:
		return false
	}
	if err != nil {
		d.sc.Logger.Warn("bad pocket command", zap.Uint64("seq", cmd.Seq), zap.Error(err))
	}
	return true
}

func (d *Dimension) applyEnter(p EnterPayload) {
	if d.Contains(p.Player) {
		return
	}
	occ := &Occupant{
		Player:       p.Player,
		Room:         RoomMain,
		EnteredAt:    d.sc.Now(),
		ExitLocation: p.ExitLocation,
	}
	d.occupants[p.Player] = occ
	d.sc.Host.Control.Teleport(p.Player, d.sc.Host.Environment.PocketAnchor(AnchorMain))
	d.sc.Host.Presentation.PlaySound(host.SoundPocketPersonal, ClipEnter)
	if run, err := d.sc.Engine.Start(d.bleed, p.Player, occ); err == nil {
		occ.bleedRun = run.ID
	} else {
		d.sc.Logger.Error("bleed-out timer not started", zap.Error(err))
	}
	d.fire(hook.OnPocketEnter, p.Player, map[string]any{"exit_location": p.ExitLocation})
}

func (d *Dimension) applyRoom(p RoomPayload) {
	occ, ok := d.occupants[p.Player]
	if !ok {
		return
	}
	if p.Outcome == OutcomeAdvance {
		occ.Room = p.To
	}
	d.sc.Host.Control.Teleport(p.Player, d.sc.Host.Environment.PocketAnchor(occ.Room.anchor()))
	if occ.Room == RoomThrone && occ.throneRun == "" {
		occ.Kneeling = false
		occ.ThroneAt = d.sc.Now()
		if run, err := d.sc.Engine.Start(d.throne, p.Player, occ); err == nil {
			occ.throneRun = run.ID
		}
	}
	d.fire(hook.OnPocketRoom, p.Player, map[string]any{"roll": p.Roll, "outcome": string(p.Outcome), "room": occ.Room.String()})
}

// leave removes the occupant and ends its timers, restoring its overlay.
func (d *Dimension) leave(id host.PlayerID) (*Occupant, bool) {
	occ, ok := d.occupants[id]
	if !ok {
		return nil, false
	}
	delete(d.occupants, id)
	d.stopTimers(occ)
	return occ, true
}

func (d *Dimension) applyExit(p ExitPayload) {
	occ, ok := d.leave(p.Player)
	if !ok {
		return
	}
	if p.Style == ExitDropped {
		d.sc.Logger.Info("pocket stay dropped",
			zap.Int("player", int(p.Player)),
			zap.String("room", occ.Room.String()))
		return
	}
	d.sc.Host.Control.Teleport(p.Player, p.Destination)
	if p.Style != ExitEscaped {
		return
	}
	d.sc.Host.Presentation.PlaySound(host.SoundPocketPersonal, ClipExit)
	if _, err := d.sc.Engine.Start(d.buff, p.Player, nil); err != nil {
		d.sc.Logger.Warn("escape buff not started", zap.Error(err))
	}
	d.fire(hook.OnPocketEscape, p.Player, map[string]any{
		"room":       occ.Room.String(),
		"time_in_ms": (d.sc.Now() - occ.EnteredAt).Milliseconds(),
	})
}

func (d *Dimension) applyDeath(p DeathPayload) {
	occ, ok := d.leave(p.Player)
	if !ok {
		return
	}
	switch p.Style {
	case DeathSlam:
		d.startDeath(d.slam, p.Player)
	case DeathThrone:
		d.startDeath(d.judgement, p.Player)
	default:
		d.sc.Host.Control.Kill(p.Player, host.CauseStabbing, 0)
		d.sc.Host.Presentation.PlaySound(host.SoundPlayerKilled, host.AnyClip)
	}
	d.fire(hook.OnPocketDeath, p.Player, map[string]any{
		"style":      string(p.Style),
		"room":       occ.Room.String(),
		"time_in_ms": (d.sc.Now() - occ.EnteredAt).Milliseconds(),
	})
}

func (d *Dimension) startDeath(s *sequence.Script, id host.PlayerID) {
	if _, err := d.sc.Engine.Start(s, id, nil); err != nil {
		d.sc.Logger.Warn("pocket death sequence failed, killing directly", zap.Error(err))
		d.sc.Host.Control.Kill(id, host.CauseCrushing, 0)
	}
}

// PlayAmbient picks the next ambient clip, never the previous one, and the
// position it plays from, then broadcasts both. Authority only; a silent
// pocket plays nothing.
func (d *Dimension) PlayAmbient() error {
	if !d.sc.Authority() || len(d.occupants) == 0 || d.cfg.AmbientClips <= 0 {
		return nil
	}
	_, err := d.sc.Channel.Broadcast(KindAmbient, AmbientPayload{
		Clip:     d.cosmetic.Pick(d.cfg.AmbientClips, d.lastClip),
		Position: d.cosmetic.Intn(len(ambientAnchors)),
	})
	return err
}

func (d *Dimension) applyAmbient(p AmbientPayload) {
	d.lastClip = p.Clip
	anchor := AnchorMain
	if p.Position >= 0 && p.Position < len(ambientAnchors) {
		anchor = ambientAnchors[p.Position]
	}
	d.sc.Host.Presentation.PlaySoundAt(host.SoundPocketAmbient, p.Clip, d.sc.Host.Environment.PocketAnchor(anchor))
}

func (d *Dimension) fire(event string, id host.PlayerID, detail map[string]any) {
	if !d.sc.Authority() {
		return
	}
	_ = d.sc.Fire(event, id, "", detail)
}

// condemn is the verdict of a timer that ran out.
func (d *Dimension) condemn(style DeathStyle) func(*sequence.Run) {
	return func(r *sequence.Run) {
		if !d.sc.Authority() || !d.Contains(r.Player) || d.dropIfGone(r.Player) {
			return
		}
		if _, err := d.sc.Channel.Broadcast(KindDeath, DeathPayload{Player: r.Player, Style: style}); err != nil {
			d.sc.Logger.Warn("pocket death broadcast failed", zap.Error(err))
		}
	}
}

// pardon is the verdict of a player who knelt in time.
func (d *Dimension) pardon(r *sequence.Run) {
	if !d.sc.Authority() || !d.Contains(r.Player) || d.dropIfGone(r.Player) {
		return
	}
	if err := d.escape(r.Player); err != nil {
		d.sc.Logger.Warn("pocket escape broadcast failed", zap.Error(err))
	}
}

// dropIfGone ends the stay of a player who died of something else or left
// the session, without a pocket death. Authority only.
func (d *Dimension) dropIfGone(id host.PlayerID) bool {
	if p, ok := d.sc.Host.Sensing.Player(id); ok && p.Alive() {
		return false
	}
	if _, err := d.sc.Channel.Broadcast(KindExit, ExitPayload{Player: id, Style: ExitDropped}); err != nil {
		d.sc.Logger.Warn("pocket drop broadcast failed", zap.Error(err))
	}
	return true
}

// verdict runs decide on entry and keeps the step parked until the stay is
// over. A replica waits for the authority's command; a replica promoted
// meanwhile issues the verdict on its next tick.
func (d *Dimension) verdict(decide func(*sequence.Run)) (func(*sequence.Run) error, func(*sequence.Run) bool) {
	enter := func(r *sequence.Run) error {
		decide(r)
		return nil
	}
	until := func(r *sequence.Run) bool {
		if d.Contains(r.Player) {
			decide(r)
		}
		return !d.Contains(r.Player)
	}
	return enter, until
}

// watch ends a timer whose stay is over and, on the authority, drops a stay
// as soon as its player is no longer alive. It reports whether r ended.
func (d *Dimension) watch(r *sequence.Run) bool {
	if d.sc.Authority() && d.owns(r) {
		d.dropIfGone(r.Player)
	}
	if d.owns(r) {
		return false
	}
	r.Finish()
	return true
}

func (d *Dimension) owns(r *sequence.Run) bool {
	occ, ok := d.occupants[r.Player]
	return ok && r.Data == occ
}

func (d *Dimension) kneeling(id host.PlayerID) bool {
	occ, ok := d.occupants[id]
	return ok && occ.Kneeling
}

func lerp(a, b, t float64) float64 {
	if t < 0 {
		t = 0
	} else if t > 1 {
		t = 1
	}
	return a + (b-a)*t
}

func frac(elapsed, total time.Duration) float64 {
	if total <= 0 {
		return 1
	}
	return float64(elapsed) / float64(total)
}
