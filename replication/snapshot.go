package replication

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/corrosion/cache"
)

// Snapshot is the persisted state of a session at a given sequence.
type Snapshot struct {
	Seq     uint64          `json:"seq"`
	AtMs    int64           `json:"at_ms"`
	SavedBy string          `json:"saved_by"`
	Body    json.RawMessage `json:"body"`
}

// SnapshotStore persists snapshots in the shared cache so a late joiner or a
// newly promoted authority can catch up.
type SnapshotStore struct {
	store cache.Cache
	ttl   time.Duration
}

// NewSnapshotStore returns a store whose entries expire after ttl (0 = never).
func NewSnapshotStore(store cache.Cache, ttl time.Duration) *SnapshotStore {
	return &SnapshotStore{store: store, ttl: ttl}
}

func snapshotKey(session string) string { return "corrosion:" + session + ":snapshot" }

// Save writes snap for session.
func (s *SnapshotStore) Save(ctx context.Context, session string, snap Snapshot) error {
	b, err := json.Marshal(snap)
	if err != nil {
		return err
	}
	if err := s.store.Set(ctx, snapshotKey(session), string(b), s.ttl); err != nil {
		return fmt.Errorf("save snapshot: %w", err)
	}
	return nil
}

// Load returns the latest snapshot, or ok=false if none exists.
func (s *SnapshotStore) Load(ctx context.Context, session string) (Snapshot, bool, error) {
	v, err := s.store.Get(ctx, snapshotKey(session))
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return Snapshot{}, false, nil
		}
		return Snapshot{}, false, fmt.Errorf("load snapshot: %w", err)
	}
	var snap Snapshot
	if err := json.Unmarshal([]byte(v), &snap); err != nil {
		return Snapshot{}, false, fmt.Errorf("decode snapshot: %w", err)
	}
	return snap, true, nil
}
