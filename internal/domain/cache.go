package domain

import (
	"context"
	"time"
)

// OrderbookCache stores the 10-second snapshot view used by getOrderbook.
// Keys are scoped by (marketId, bookPositionId) so a write to one book's
// bids or asks invalidates only that pair.
type OrderbookCache interface {
	Get(ctx context.Context, marketID, positionID string) (OrderbookSnapshot, bool, error)
	Set(ctx context.Context, marketID, positionID string, snap OrderbookSnapshot, ttl time.Duration) error
	Invalidate(ctx context.Context, marketID, positionID string) error
}

// LockManager provides the per-order exclusive lock required by fillOrder:
// key = "order:{id}", non-blocking try-lock, holder identity recorded,
// released only by the holder, bounded TTL.
type LockManager interface {
	// TryLock attempts to acquire the lock non-blockingly. ok is false if
	// another holder already has it — a retry signal, not an error.
	TryLock(ctx context.Context, key string, ttl time.Duration) (unlock func(context.Context), ok bool, err error)
}

// RateLimiter provides distributed rate limiting for the HTTP surface.
type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int, window time.Duration) (bool, error)
}
