package replication

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/kasuganosora/corrosion/cache"
)

// ErrLeaseLost is returned when another node owns the authority lease.
var ErrLeaseLost = errors.New("replication: authority lease held by another node")

// Lease is the authority lease of a session, stored in the shared cache.
type Lease struct {
	store cache.Cache
	key   string
	node  string
	ttl   time.Duration
}

// NewLease returns a lease for session owned by node.
func NewLease(store cache.Cache, session, node string, ttl time.Duration) *Lease {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &Lease{store: store, key: "corrosion:" + session + ":authority", node: node, ttl: ttl}
}

// Acquire takes the lease if it is free or already ours.
func (l *Lease) Acquire(ctx context.Context) (bool, error) {
	ok, err := l.store.SetNX(ctx, l.key, l.node, l.ttl)
	if err != nil {
		return false, fmt.Errorf("acquire lease: %w", err)
	}
	if ok {
		return true, nil
	}
	owner, err := l.Owner(ctx)
	if err != nil {
		return false, err
	}
	return owner == l.node, nil
}

// Renew extends the lease, taking it again if it expired in the meantime.
// It fails with ErrLeaseLost if another node owns it.
func (l *Lease) Renew(ctx context.Context) error {
	ok, err := l.store.CompareAndExpire(ctx, l.key, l.node, l.ttl)
	if err != nil {
		return fmt.Errorf("renew lease: %w", err)
	}
	if ok {
		return nil
	}
	ok, err = l.Acquire(ctx)
	if err != nil {
		return err
	}
	if !ok {
		return ErrLeaseLost
	}
	return nil
}

// Release drops the lease if we own it.
func (l *Lease) Release(ctx context.Context) error {
	if _, err := l.store.CompareAndDel(ctx, l.key, l.node); err != nil {
		return fmt.Errorf("release lease: %w", err)
	}
	return nil
}

// Owner returns the node currently holding the lease, or "".
func (l *Lease) Owner(ctx context.Context) (string, error) {
	v, err := l.store.Get(ctx, l.key)
	if err != nil {
		if errors.Is(err, cache.ErrNotFound) {
			return "", nil
		}
		return "", fmt.Errorf("read lease: %w", err)
	}
	return v, nil
}
