// Package lease provides a cross-process, single-holder claim with a TTL.
// The sync engine uses one lease for full syncs and one per product for
// single-item syncs.
package lease

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// Keys used by the sync engine.
const (
	FullSyncKey = "catalogsync:lease:full"

	// ItemKeyPrefix prefixes every single-item lease key.
	ItemKeyPrefix = "catalogsync:lease:item:"
)

// ItemKey returns the lease key guarding single-item syncs of productID.
func ItemKey(productID string) string {
	return ItemKeyPrefix + productID
}

var (
	// ErrHeld is returned by Claim when another owner holds the lease.
	ErrHeld = errors.New("lease: held by another owner")

	// ErrLost means the lease expired or was taken over while held.
	ErrLost = errors.New("lease: lost")
)

// Store is an atomic claim-if-absent key store with expiry. Implementations
// must make Renew and Release owner-checked. Release of a lease the caller
// no longer owns is not an error.
type Store interface {
	Acquire(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Renew(ctx context.Context, key, owner string, ttl time.Duration) (bool, error)
	Release(ctx context.Context, key, owner string) error
	// Holder returns the current owner, or "" when the key is free.
	Holder(ctx context.Context, key string) (string, error)
	// Count returns how many unexpired leases have a key starting with prefix.
	Count(ctx context.Context, prefix string) (int, error)
}

// Lease is a claim held by this process.
type Lease struct {
	store  Store
	key    string
	owner  string
	ttl    time.Duration
	logger *slog.Logger

	releaseOnce sync.Once
}

// Claim acquires key for ttl under a fresh owner token.
func Claim(ctx context.Context, store Store, key string, ttl time.Duration, logger *slog.Logger) (*Lease, error) {
	owner := uuid.NewString()
	ok, err := store.Acquire(ctx, key, owner, ttl)
	if err != nil {
		return nil, fmt.Errorf("acquire lease %s: %w", key, err)
	}
	if !ok {
		return nil, ErrHeld
	}
	return &Lease{store: store, key: key, owner: owner, ttl: ttl, logger: logger}, nil
}

// Key returns the leased key.
func (l *Lease) Key() string { return l.key }

// Owner returns this holder's token.
func (l *Lease) Owner() string { return l.owner }

// Heartbeat renews the lease every TTL/3 until ctx ends or stop is called.
// onLost is called at most once, with ErrLost, when the store reports the
// lease gone or renewals keep failing until the TTL has passed.
func (l *Lease) Heartbeat(ctx context.Context, onLost func(error)) (stop func()) {
	ctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})

	interval := max(l.ttl/3, 10*time.Millisecond)

	go func() {
		defer close(done)
		ticker := time.NewTicker(interval)
		defer ticker.Stop()

		lastRenewed := time.Now()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
			}

			ok, err := l.store.Renew(ctx, l.key, l.owner, l.ttl)
			switch {
			case err != nil && ctx.Err() != nil:
				return
			case err != nil:
				l.logger.WarnContext(ctx, "lease renewal failed",
					slog.String("key", l.key),
					slog.String("error", err.Error()),
				)
				if time.Since(lastRenewed) < l.ttl {
					continue
				}
				onLost(fmt.Errorf("%w: %s not renewed within %s: %w", ErrLost, l.key, l.ttl, err))
				return
			case !ok:
				onLost(fmt.Errorf("%w: %s", ErrLost, l.key))
				return
			default:
				lastRenewed = time.Now()
			}
		}
	}()

	return func() {
		cancel()
		<-done
	}
}

// Release gives the lease up. Calling it more than once is harmless.
func (l *Lease) Release(ctx context.Context) error {
	var err error
	l.releaseOnce.Do(func() {
		if rerr := l.store.Release(ctx, l.key, l.owner); rerr != nil {
			err = fmt.Errorf("release lease %s: %w", l.key, rerr)
		}
	})
	return err
}
