package domain

import "context"

// StartPriceCache persists resolved window start prices so a restart cannot
// change a market's strike after the in-process memo is gone.
type StartPriceCache interface {
	// Get returns the cached start price for (symbol, windowStart), or
	// ErrNotFound.
	Get(ctx context.Context, symbol string, windowStart int64) (float64, error)
	// Put stores a start price. Existing entries are never overwritten.
	Put(ctx context.Context, symbol string, windowStart int64, value float64) error
}

// SlugLocker hands out per-market-slug exclusivity tokens guarding
// settlement writes when settlement ever runs outside the engine loop.
type SlugLocker interface {
	// TryLock acquires the slug's lock, returning ErrLockHeld when another
	// holder has it.
	TryLock(ctx context.Context, slug string) (release func(), err error)
}
