// Package memstore implements the hot order/market store entirely in
// process memory: a persistent orderId->Order map, secondary indices by
// market and by maker, and a resting-order index per (marketId,
// outcomePositionId, side) whose orders are sorted by price when read. It optionally write-throughs to a
// domain.DurableMirror and invalidates a domain.OrderbookCache on every
// write, but functions standalone (mirror and cache both nil) for tests.
package memstore

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/clobx/clobd/internal/domain"
)

type bookKey struct {
	marketID   string
	positionID string
}

// Store is the in-process hot store. It implements both domain.MarketStore
// and domain.OrderStore; the matching engine, router, and HTTP handlers hold
// it through those narrower interfaces.
type Store struct {
	mu sync.RWMutex

	markets map[string]domain.Market
	orders  map[string]domain.Order

	byMarket map[string]map[string]struct{}
	byMaker  map[string]map[string]struct{}

	// restingBuy is keyed by (marketId, takerPositionId) — BUY orders rest
	// on the side of the outcome they want to acquire.
	restingBuy map[bookKey]map[string]struct{}
	// restingSell is keyed by (marketId, makerPositionId) — SELL orders
	// rest on the side of the outcome they are giving up.
	restingSell map[bookKey]map[string]struct{}

	locks  domain.LockManager
	cache  domain.OrderbookCache
	mirror domain.DurableMirror
	logger *slog.Logger

	lockTTL   time.Duration
	cacheTTL  time.Duration
	clockNow  func() time.Time
	newOrder  func() string
}

// New creates an empty Store. locks, cache, and mirror are all optional
// (nil disables the corresponding behavior): without locks, FillOrder is
// guarded only by the in-process mutex; without cache, GetOrderbook always
// recomputes; without mirror, RestoreFromPersistence is a no-op and writes
// are not durable.
func New(locks domain.LockManager, cache domain.OrderbookCache, mirror domain.DurableMirror, logger *slog.Logger) *Store {
	if logger == nil {
		logger = slog.Default()
	}
	return &Store{
		markets:     make(map[string]domain.Market),
		orders:      make(map[string]domain.Order),
		byMarket:    make(map[string]map[string]struct{}),
		byMaker:     make(map[string]map[string]struct{}),
		restingBuy:  make(map[bookKey]map[string]struct{}),
		restingSell: make(map[bookKey]map[string]struct{}),
		locks:       locks,
		cache:       cache,
		mirror:      mirror,
		logger:      logger,
		lockTTL:     2 * time.Second,
		cacheTTL:    10 * time.Second,
		clockNow:    time.Now,
		newOrder:    func() string { return uuid.New().String() },
	}
}

// ---------------------------------------------------------------------------
// domain.MarketStore
// ---------------------------------------------------------------------------

// AddMarket registers a new market and mirrors it durably.
func (s *Store) AddMarket(ctx context.Context, market domain.Market) error {
	s.mu.Lock()
	if _, exists := s.markets[market.MarketID]; exists {
		s.mu.Unlock()
		return fmt.Errorf("memstore: add market %s: %w", market.MarketID, domain.ErrAlreadyExists)
	}
	s.markets[market.MarketID] = market
	s.mu.Unlock()

	s.mirrorMarket(ctx, market)
	return nil
}

// GetMarket returns a market by id.
func (s *Store) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.markets[marketID]
	if !ok {
		return domain.Market{}, fmt.Errorf("memstore: get market %s: %w", marketID, domain.ErrNotFound)
	}
	return m, nil
}

// GetAllMarkets returns every known market.
func (s *Store) GetAllMarkets(ctx context.Context) ([]domain.Market, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]domain.Market, 0, len(s.markets))
	for _, m := range s.markets {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].MarketID < out[j].MarketID })
	return out, nil
}

// UpdateMarketPrices updates a market's yes/no prices after a trade.
func (s *Store) UpdateMarketPrices(ctx context.Context, marketID string, yesPrice, noPrice int64) error {
	s.mu.Lock()
	m, ok := s.markets[marketID]
	if !ok {
		s.mu.Unlock()
		return fmt.Errorf("memstore: update prices %s: %w", marketID, domain.ErrNotFound)
	}
	m.YesPrice = yesPrice
	m.NoPrice = noPrice
	s.markets[marketID] = m
	s.mu.Unlock()

	s.mirrorMarket(ctx, m)
	return nil
}

func (s *Store) mirrorMarket(ctx context.Context, m domain.Market) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.MirrorMarket(ctx, m); err != nil {
		s.logger.Error("memstore: mirror market failed", "market_id", m.MarketID, "error", err)
	}
}

// ---------------------------------------------------------------------------
// domain.OrderStore
// ---------------------------------------------------------------------------

// AddOrder validates, allocates an id, and atomically writes an order plus
// its indices.
func (s *Store) AddOrder(ctx context.Context, in domain.Order) (domain.Order, error) {
	if in.Side != domain.OrderSideBuy && in.Side != domain.OrderSideSell {
		return domain.Order{}, fmt.Errorf("memstore: add order: %w: unknown side %q", domain.ErrInvalidArgument, in.Side)
	}
	if in.Size < 1 {
		return domain.Order{}, fmt.Errorf("memstore: add order: %w: size must be >= 1", domain.ErrInvalidArgument)
	}
	if in.Type == domain.OrderTypeLimit && (in.Price <= 0 || in.Price >= domain.PriceScale) {
		return domain.Order{}, fmt.Errorf("memstore: add order: %w: price out of range", domain.ErrInvalidArgument)
	}

	now := s.clockNow().UnixMilli()
	o := in
	o.OrderID = s.newOrder()
	o.FilledSize = 0
	o.RemainingSize = o.Size
	o.Status = domain.OrderStatusOpen
	o.CreatedAt = now
	o.UpdatedAt = now

	s.mu.Lock()
	s.orders[o.OrderID] = o
	s.indexOrderLocked(o)
	s.mu.Unlock()

	s.invalidateBook(ctx, o.MarketID, o.OutcomePositionID())
	s.mirrorOrder(ctx, o)

	return o, nil
}

// indexOrderLocked adds o to the market/maker/resting indices. Caller must
// hold s.mu for writing.
func (s *Store) indexOrderLocked(o domain.Order) {
	if s.byMarket[o.MarketID] == nil {
		s.byMarket[o.MarketID] = make(map[string]struct{})
	}
	s.byMarket[o.MarketID][o.OrderID] = struct{}{}

	if s.byMaker[o.Maker] == nil {
		s.byMaker[o.Maker] = make(map[string]struct{})
	}
	s.byMaker[o.Maker][o.OrderID] = struct{}{}

	if o.Status.Resting() {
		s.restLocked(o)
	}
}

func (s *Store) restLocked(o domain.Order) {
	key := bookKey{marketID: o.MarketID, positionID: o.OutcomePositionID()}
	idx := s.restingBuy
	if o.Side == domain.OrderSideSell {
		idx = s.restingSell
	}
	if idx[key] == nil {
		idx[key] = make(map[string]struct{})
	}
	idx[key][o.OrderID] = struct{}{}
}

func (s *Store) unrestLocked(o domain.Order) {
	key := bookKey{marketID: o.MarketID, positionID: o.OutcomePositionID()}
	idx := s.restingBuy
	if o.Side == domain.OrderSideSell {
		idx = s.restingSell
	}
	if set, ok := idx[key]; ok {
		delete(set, o.OrderID)
	}
}

// GetOrder returns a single order by id.
func (s *Store) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	o, ok := s.orders[orderID]
	if !ok {
		return domain.Order{}, fmt.Errorf("memstore: get order %s: %w", orderID, domain.ErrNotFound)
	}
	return o, nil
}

// GetMarketOrders returns every order placed against a market.
func (s *Store) GetMarketOrders(ctx context.Context, marketID string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byMarket[marketID]
	out := make([]domain.Order, 0, len(ids))
	for id := range ids {
		out = append(out, s.orders[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// GetUserOrders returns every order a maker has placed.
func (s *Store) GetUserOrders(ctx context.Context, maker string) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ids := s.byMaker[maker]
	out := make([]domain.Order, 0, len(ids))
	for id := range ids {
		out = append(out, s.orders[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt < out[j].CreatedAt })
	return out, nil
}

// FillOrder applies a fill under the order's distributed lock (when a
// domain.LockManager is configured). ok=false signals the caller to retry on
// the next tick, rather than an error — either the lock was held elsewhere,
// or the order was no longer in a fillable state.
func (s *Store) FillOrder(ctx context.Context, orderID string, fillSize int64) (bool, error) {
	if s.locks != nil {
		unlock, ok, err := s.locks.TryLock(ctx, "order:"+orderID, s.lockTTL)
		if err != nil {
			return false, fmt.Errorf("memstore: fill order %s: %w", orderID, err)
		}
		if !ok {
			return false, nil
		}
		defer unlock(context.Background())
	}

	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok {
		s.mu.Unlock()
		return false, fmt.Errorf("memstore: fill order %s: %w", orderID, domain.ErrNotFound)
	}
	if o.Status.Terminal() {
		s.mu.Unlock()
		return false, nil
	}
	if fillSize < 1 || fillSize > o.RemainingSize {
		s.mu.Unlock()
		return false, fmt.Errorf("memstore: fill order %s: %w: fill size %d exceeds remaining %d", orderID, domain.ErrInvalidArgument, fillSize, o.RemainingSize)
	}

	o.FilledSize += fillSize
	o.RemainingSize -= fillSize
	if o.RemainingSize == 0 {
		o.Status = domain.OrderStatusFilled
		s.unrestLocked(o)
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	o.UpdatedAt = s.clockNow().UnixMilli()
	s.orders[orderID] = o
	s.mu.Unlock()

	s.invalidateBook(ctx, o.MarketID, o.OutcomePositionID())
	s.mirrorOrder(ctx, o)

	return true, nil
}

// CancelOrder moves a resting order to CANCELLED. ok is false if the order
// was already terminal or did not exist.
func (s *Store) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	return s.terminalize(ctx, orderID, domain.OrderStatusCancelled)
}

// ExpireOrder moves a resting order to EXPIRED. ok is false if the order was
// already terminal or did not exist.
func (s *Store) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	return s.terminalize(ctx, orderID, domain.OrderStatusExpired)
}

func (s *Store) terminalize(ctx context.Context, orderID string, status domain.OrderStatus) (bool, error) {
	if s.locks != nil {
		unlock, ok, err := s.locks.TryLock(ctx, "order:"+orderID, s.lockTTL)
		if err != nil {
			return false, fmt.Errorf("memstore: terminalize order %s: %w", orderID, err)
		}
		if !ok {
			return false, nil
		}
		defer unlock(context.Background())
	}

	s.mu.Lock()
	o, ok := s.orders[orderID]
	if !ok || o.Status.Terminal() {
		s.mu.Unlock()
		return false, nil
	}
	s.unrestLocked(o)
	o.Status = status
	o.UpdatedAt = s.clockNow().UnixMilli()
	s.orders[orderID] = o
	s.mu.Unlock()

	s.invalidateBook(ctx, o.MarketID, o.OutcomePositionID())
	s.mirrorOrder(ctx, o)

	return true, nil
}

// GetOrderbook returns the aggregated, price-sorted bid/ask view, serving
// from cache when available and falling back to a live scan of the resting
// indices on a miss.
func (s *Store) GetOrderbook(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, error) {
	if s.cache != nil {
		if snap, ok, err := s.cache.Get(ctx, marketID, positionID); err == nil && ok {
			return snap, nil
		}
	}

	snap := s.computeOrderbook(marketID, positionID)

	if s.cache != nil {
		if err := s.cache.Set(ctx, marketID, positionID, snap, s.cacheTTL); err != nil {
			s.logger.Warn("memstore: set orderbook cache failed", "market_id", marketID, "position_id", positionID, "error", err)
		}
	}
	return snap, nil
}

func (s *Store) computeOrderbook(marketID, positionID string) domain.OrderbookSnapshot {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := bookKey{marketID: marketID, positionID: positionID}
	bids := aggregateLevels(s.orders, s.restingBuy[key])
	asks := aggregateLevels(s.orders, s.restingSell[key])

	sort.Slice(bids, func(i, j int) bool { return bids[i].Price > bids[j].Price })
	sort.Slice(asks, func(i, j int) bool { return asks[i].Price < asks[j].Price })

	return domain.OrderbookSnapshot{
		MarketID:   marketID,
		PositionID: positionID,
		Bids:       bids,
		Asks:       asks,
		Timestamp:  s.clockNow().UnixMilli(),
	}
}

func aggregateLevels(orders map[string]domain.Order, ids map[string]struct{}) []domain.OrderbookLevel {
	byPrice := make(map[int64]*domain.OrderbookLevel)
	for id := range ids {
		o, ok := orders[id]
		if !ok || !o.Status.Resting() || o.RemainingSize <= 0 {
			continue
		}
		lvl, ok := byPrice[o.Price]
		if !ok {
			lvl = &domain.OrderbookLevel{Price: o.Price}
			byPrice[o.Price] = lvl
		}
		lvl.Size += o.RemainingSize
		lvl.OrderCount++
	}
	out := make([]domain.OrderbookLevel, 0, len(byPrice))
	for _, lvl := range byPrice {
		out = append(out, *lvl)
	}
	return out
}

// RestingOrdersForBook returns all OPEN/PARTIALLY_FILLED orders for one
// (marketId, outcomePositionId, side), the matching engine's per-tick load.
func (s *Store) RestingOrdersForBook(ctx context.Context, marketID, outcomePositionID string, side domain.OrderSide) ([]domain.Order, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	key := bookKey{marketID: marketID, positionID: outcomePositionID}
	idx := s.restingBuy
	if side == domain.OrderSideSell {
		idx = s.restingSell
	}

	ids := idx[key]
	out := make([]domain.Order, 0, len(ids))
	for id := range ids {
		if o, ok := s.orders[id]; ok && o.Status.Resting() {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			if side == domain.OrderSideBuy {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

// RestoreFromPersistence reloads markets then non-terminal orders from the
// durable mirror, re-indexing resting orders, before admitting the matching
// engine to run. A nil mirror makes this a no-op.
func (s *Store) RestoreFromPersistence(ctx context.Context) error {
	if s.mirror == nil {
		return nil
	}

	markets, err := s.mirror.LoadMarkets(ctx)
	if err != nil {
		return fmt.Errorf("memstore: restore markets: %w", err)
	}
	orders, err := s.mirror.LoadRestingOrders(ctx)
	if err != nil {
		return fmt.Errorf("memstore: restore orders: %w", err)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, m := range markets {
		s.markets[m.MarketID] = m
	}
	for _, o := range orders {
		s.orders[o.OrderID] = o
		s.indexOrderLocked(o)
	}
	return nil
}

func (s *Store) mirrorOrder(ctx context.Context, o domain.Order) {
	if s.mirror == nil {
		return
	}
	if err := s.mirror.MirrorOrder(ctx, o); err != nil {
		s.logger.Error("memstore: mirror order failed", "order_id", o.OrderID, "error", err)
	}
}

func (s *Store) invalidateBook(ctx context.Context, marketID, positionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Invalidate(ctx, marketID, positionID); err != nil {
		s.logger.Warn("memstore: invalidate orderbook cache failed", "market_id", marketID, "position_id", positionID, "error", err)
	}
}

// Compile-time interface checks.
var (
	_ domain.MarketStore = (*Store)(nil)
	_ domain.OrderStore  = (*Store)(nil)
)
