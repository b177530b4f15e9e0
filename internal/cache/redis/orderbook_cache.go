package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/clobx/clobd/internal/domain"
	"github.com/redis/go-redis/v9"
)

// OrderbookCache implements domain.OrderbookCache using a Redis string per
// (marketId, positionId) holding the JSON-serialized snapshot with an
// explicit TTL. getOrderbook checks here first; any write affecting the
// book invalidates its key.
//
// Key schema:
//
//	book:{marketId}:{positionId} - JSON-encoded domain.OrderbookSnapshot
type OrderbookCache struct {
	rdb *redis.Client
}

// NewOrderbookCache creates an OrderbookCache backed by the given Client.
func NewOrderbookCache(c *Client) *OrderbookCache {
	return &OrderbookCache{rdb: c.Underlying()}
}

func orderbookKey(marketID, positionID string) string {
	return "book:" + marketID + ":" + positionID
}

// Get retrieves a cached snapshot. ok is false (not an error) on a cache
// miss, signaling the caller should recompute from the hot store.
func (oc *OrderbookCache) Get(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, bool, error) {
	data, err := oc.rdb.Get(ctx, orderbookKey(marketID, positionID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return domain.OrderbookSnapshot{}, false, nil
		}
		return domain.OrderbookSnapshot{}, false, fmt.Errorf("redis: get orderbook %s/%s: %w", marketID, positionID, err)
	}

	var snap domain.OrderbookSnapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return domain.OrderbookSnapshot{}, false, fmt.Errorf("redis: unmarshal orderbook %s/%s: %w", marketID, positionID, err)
	}
	return snap, true, nil
}

// Set stores a snapshot with the given TTL (10s per getOrderbook's contract).
func (oc *OrderbookCache) Set(ctx context.Context, marketID, positionID string, snap domain.OrderbookSnapshot, ttl time.Duration) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("redis: marshal orderbook %s/%s: %w", marketID, positionID, err)
	}
	if err := oc.rdb.Set(ctx, orderbookKey(marketID, positionID), data, ttl).Err(); err != nil {
		return fmt.Errorf("redis: set orderbook %s/%s: %w", marketID, positionID, err)
	}
	return nil
}

// Invalidate removes the cached snapshot. Call this on every write affecting
// the book: a new resting order, a fill, a cancel, or an expiry.
func (oc *OrderbookCache) Invalidate(ctx context.Context, marketID, positionID string) error {
	if err := oc.rdb.Del(ctx, orderbookKey(marketID, positionID)).Err(); err != nil {
		return fmt.Errorf("redis: invalidate orderbook %s/%s: %w", marketID, positionID, err)
	}
	return nil
}

// Compile-time interface check.
var _ domain.OrderbookCache = (*OrderbookCache)(nil)
