package pocket

import (
	"time"

	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/sequence"
)

func (d *Dimension) buildScripts() {
	cfg := d.cfg
	drain := cfg.BleedOut - cfg.Critical
	expireEnter, expireUntil := d.verdict(d.condemn(DeathBleed))
	bowEnter, bowUntil := d.verdict(d.pardon)
	condemnEnter, condemnUntil := d.verdict(d.condemn(DeathThrone))

	d.bleed = &sequence.Script{
		Name: "pocket_bleed_out",
		Steps: []sequence.Step{
			{
				Name: "drain",
				Enter: func(r *sequence.Run) error {
					r.SetOverlay(func(o *sequence.Overlay) {
						o.SpeedMultiplier = 0.5
						o.Impairment = 20
					})
					return nil
				},
				Wait: drain,
				Tick: func(r *sequence.Run, _ time.Duration) {
					if d.watch(r) {
						return
					}
					level := lerp(20, 60, frac(r.Elapsed(), drain))
					r.SetOverlay(func(o *sequence.Overlay) { o.Impairment = level })
				},
			},
			{
				Name: "critical",
				Enter: func(r *sequence.Run) error {
					d.sc.Host.Presentation.PlaySound(host.SoundPocketPersonal, ClipCritical)
					return nil
				},
				Wait: cfg.Critical,
				Tick: func(r *sequence.Run, _ time.Duration) {
					if d.watch(r) {
						return
					}
					t := frac(r.Elapsed(), cfg.Critical)
					r.SetOverlay(func(o *sequence.Overlay) {
						o.Impairment = lerp(60, 100, t)
						o.SpeedMultiplier = lerp(0.5, 0.25, t)
					})
				},
			},
			{Name: "expire", Enter: expireEnter, Until: expireUntil},
		},
	}

	d.throne = &sequence.Script{
		Name: "pocket_throne",
		Steps: []sequence.Step{
			{
				Name:      "countdown",
				Wait:      cfg.ThroneCountdown - cfg.ThroneWarning,
				Until:     func(r *sequence.Run) bool { return d.kneeling(r.Player) },
				OnTimeout: "warning",
			},
			{Name: "bow", Enter: bowEnter, Until: bowUntil},
			{
				Name: "warning",
				Enter: func(r *sequence.Run) error {
					d.sc.Host.Presentation.PlaySound(host.SoundPocketPersonal, ClipThroneWarning)
					return nil
				},
				Wait:      cfg.ThroneWarning,
				Until:     func(r *sequence.Run) bool { return d.kneeling(r.Player) },
				OnTimeout: "condemned",
			},
			{Name: "bow_late", Enter: bowEnter, Until: bowUntil},
			{Name: "condemned", Enter: condemnEnter, Until: condemnUntil},
		},
	}

	d.buff = &sequence.Script{
		Name: "pocket_escape_buff",
		Steps: []sequence.Step{{
			Name: "adrenaline",
			Enter: func(r *sequence.Run) error {
				r.SetOverlay(func(o *sequence.Overlay) { o.SpeedMultiplier = cfg.EscapeSpeed })
				return nil
			},
			Wait: cfg.EscapeBuff,
		}},
	}

	d.slam = &sequence.Script{
		Name: "pocket_slam",
		Steps: []sequence.Step{
			{
				Name: "pull",
				Enter: func(r *sequence.Run) error {
					crush := d.sc.Host.Environment.PocketAnchor(AnchorCrush)
					r.SetOverlay(func(o *sequence.Overlay) {
						o.ForcedPosition = &crush
						o.LookInputDisabled = true
						o.MoveInputDisabled = true
					})
					return nil
				},
				Wait: cfg.SlamPull,
			},
			{
				Name: "crush",
				Enter: func(r *sequence.Run) error {
					d.sc.Host.Control.Kill(r.Player, host.CauseCrushing, 2)
					d.sc.Host.Presentation.PlaySound(host.SoundPlayerKilled, host.AnyClip)
					return nil
				},
			},
		},
	}

	d.judgement = &sequence.Script{
		Name: "pocket_judgement",
		Steps: []sequence.Step{
			{
				Name: "shake",
				Enter: func(r *sequence.Run) error {
					r.SetOverlay(func(o *sequence.Overlay) { o.MoveInputDisabled = true })
					return nil
				},
				Wait: cfg.DeathShake,
				Tick: func(r *sequence.Run, _ time.Duration) {
					d.sc.Host.Presentation.ShakeCamera(r.Player, lerp(0.05, 0.6, frac(r.Elapsed(), cfg.DeathShake)))
				},
			},
			{
				Name: "crush",
				Enter: func(r *sequence.Run) error {
					d.sc.Host.Control.Kill(r.Player, host.CauseCrushing, 1)
					d.sc.Host.Presentation.PlaySound(host.SoundPlayerKilled, host.AnyClip)
					return nil
				},
			},
		},
	}
}
