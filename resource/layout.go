// Package resource loads the static facility layout a node starts with. The
// host runtime can refine every part of it later through world reports.
package resource

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"

	"github.com/kasuganosora/corrosion/game/bridge"
	"github.com/kasuganosora/corrosion/game/host"
	"github.com/kasuganosora/corrosion/game/pocket"
)

// Layout is the on-disk description of one facility and its pocket prefab.
type Layout struct {
	Name      string               `json:"name"`
	NavNodes  []host.Vec3          `json:"nav_nodes"`
	Anchors   map[string]host.Vec3 `json:"anchors"`
	Entrances []bridge.Entrance    `json:"entrances"`
	Obstacles []bridge.Box         `json:"obstacles"`
}

// RequiredAnchors are the pocket prefab points every layout must define.
var RequiredAnchors = []string{
	pocket.AnchorMain,
	pocket.AnchorCorridor,
	pocket.AnchorThrone,
	pocket.AnchorCrush,
}

func loadJSONObject[T any](path string, out *T) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("resource: read %s: %w", path, err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("resource: parse %s: %w", path, err)
	}
	return nil
}

// LoadLayout reads and validates a layout file.
func LoadLayout(path string) (*Layout, error) {
	l := &Layout{}
	if err := loadJSONObject(path, l); err != nil {
		return nil, err
	}
	if err := l.Validate(); err != nil {
		return nil, fmt.Errorf("resource: %s: %w", path, err)
	}
	return l, nil
}

// Validate checks the layout is usable by the creature.
func (l *Layout) Validate() error {
	var errs []error
	if len(l.NavNodes) == 0 {
		errs = append(errs, errors.New("no nav nodes"))
	}
	for _, name := range RequiredAnchors {
		if _, ok := l.Anchors[name]; !ok {
			errs = append(errs, fmt.Errorf("missing anchor %q", name))
		}
	}
	var inside, outside bool
	for _, e := range l.Entrances {
		if !e.Main {
			continue
		}
		if e.Outside {
			outside = true
		} else {
			inside = true
		}
	}
	if len(l.Entrances) > 0 && !(inside && outside) {
		errs = append(errs, errors.New("main entrance needs an inside and an outside side"))
	}
	for i, b := range l.Obstacles {
		if b.Min.X > b.Max.X || b.Min.Y > b.Max.Y || b.Min.Z > b.Max.Z {
			errs = append(errs, fmt.Errorf("obstacle %d: min exceeds max", i))
		}
	}
	return errors.Join(errs...)
}

// Report converts the layout into a world report for bridge.World.Apply.
func (l *Layout) Report() bridge.Report {
	return bridge.Report{
		NavNodes:  l.NavNodes,
		Anchors:   l.Anchors,
		Entrances: l.Entrances,
		Obstacles: l.Obstacles,
	}
}
