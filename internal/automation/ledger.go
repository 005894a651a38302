package automation

import (
	"context"
	"strings"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// DedupStore is the persistent half of the firing ledger. storage.Store satisfies it.
type DedupStore interface {
	GetDedup(ctx context.Context, key string) (time.Time, bool, error)
	PutDedup(ctx context.Context, key string, until time.Time) error
}

// FiringLedger remembers claimed keys until their ttl passes. Claims are
// kept in memory and mirrored to the store when one is configured, so a
// restart inside the same minute does not fire twice.
type FiringLedger struct {
	store DedupStore
	clock clockwork.Clock

	mu  sync.Mutex
	mem map[string]time.Time
}

func NewFiringLedger(store DedupStore, c clockwork.Clock) *FiringLedger {
	if c == nil {
		c = clockwork.NewRealClock()
	}
	return &FiringLedger{store: store, clock: c, mem: map[string]time.Time{}}
}

// Claim reports whether key was free and marks it taken for ttl.
// Store errors are returned alongside a granted claim.
func (l *FiringLedger) Claim(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	key = strings.TrimSpace(key)
	if key == "" {
		return true, nil
	}
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	for k, until := range l.mem {
		if !until.After(now) {
			delete(l.mem, k)
		}
	}
	if until, ok := l.mem[key]; ok && until.After(now) {
		return false, nil
	}

	var storeErr error
	if l.store != nil {
		until, ok, err := l.store.GetDedup(ctx, key)
		switch {
		case err != nil:
			storeErr = err
		case ok && until.After(now):
			l.mem[key] = until
			return false, nil
		}
	}

	until := now.Add(ttl)
	l.mem[key] = until
	if l.store != nil && storeErr == nil {
		storeErr = l.store.PutDedup(ctx, key, until)
	}
	return true, storeErr
}
