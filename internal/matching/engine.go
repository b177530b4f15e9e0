// Package matching implements the continuous CLOB matching engine: a
// periodic driver that clears crossing orders per market with price-time
// priority, classifies each match as a NORMAL swap, MINT, or MERGE, and
// hands matched trades to settlement best-effort.
package matching

import (
	"context"
	"log/slog"
	"sort"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/clobx/clobd/internal/domain"
	"github.com/clobx/clobd/internal/pricing"
)

// mintMergeEpsilon is the tolerance, in micro-sats, within which two
// complementary orders' prices summing to domain.PriceScale are treated as
// mintable/mergeable.
const mintMergeEpsilon int64 = 10_000

// Engine is the single periodic matching driver for all markets. One Engine
// serves the whole exchange; it is safe to call Run exactly once.
type Engine struct {
	markets domain.MarketStore
	orders  domain.OrderStore
	trades  domain.TradeLog

	settlement domain.SettlementBridge
	feed       domain.FeedPublisher

	logger       *slog.Logger
	tickInterval time.Duration
	spreadBps    int64

	inProgress atomic.Bool

	newTradeID func() string
	now        func() time.Time
}

// New creates an Engine. settlement may be nil (or report Enabled()==false)
// to run the engine with settlement dispatch disabled. feed may be nil to
// run without a live WebSocket feed.
func New(markets domain.MarketStore, orders domain.OrderStore, trades domain.TradeLog, settlement domain.SettlementBridge, feed domain.FeedPublisher, tickInterval time.Duration, logger *slog.Logger) *Engine {
	if logger == nil {
		logger = slog.Default()
	}
	if tickInterval <= 0 {
		tickInterval = 100 * time.Millisecond
	}
	return &Engine{
		markets:      markets,
		orders:       orders,
		trades:       trades,
		settlement:   settlement,
		feed:         feed,
		logger:       logger.With(slog.String("component", "matching_engine")),
		tickInterval: tickInterval,
		spreadBps:    pricing.DefaultSpreadThresholdBps,
		newTradeID:   func() string { return uuid.New().String() },
		now:          time.Now,
	}
}

// Run drives the matching loop until ctx is cancelled. A tick still running
// when the ticker fires again is skipped entirely — ticks never overlap.
func (e *Engine) Run(ctx context.Context) error {
	e.logger.InfoContext(ctx, "matching engine started", slog.Duration("interval", e.tickInterval))
	defer e.logger.InfoContext(ctx, "matching engine stopped")

	ticker := time.NewTicker(e.tickInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			e.maybeTick(ctx)
		}
	}
}

func (e *Engine) maybeTick(ctx context.Context) {
	if !e.inProgress.CompareAndSwap(false, true) {
		e.logger.DebugContext(ctx, "skipping tick, previous tick still in progress")
		return
	}
	defer e.inProgress.Store(false)

	if err := e.tick(ctx); err != nil {
		e.logger.ErrorContext(ctx, "matching tick failed", slog.String("error", err.Error()))
	}
}

func (e *Engine) tick(ctx context.Context) error {
	all, err := e.markets.GetAllMarkets(ctx)
	if err != nil {
		return err
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, m := range all {
		if m.Resolved {
			continue
		}
		market := m
		g.Go(func() error {
			e.processMarket(gctx, market)
			return nil
		})
	}
	return g.Wait()
}

// bookResult accumulates the trades produced for one market this tick and
// the YES-normalized price of the most recent one, used to feed MidPrice.
type bookResult struct {
	trades       []domain.Trade
	lastYesPrice int64
	haveTrade    bool
}

func (r *bookResult) record(trade domain.Trade, yesPrice int64) {
	r.trades = append(r.trades, trade)
	r.lastYesPrice = yesPrice
	r.haveTrade = true
}

// processMarket runs all four matching passes for one market. A failure
// loading or matching this market is logged and never propagated — other
// markets in the same tick are unaffected.
func (e *Engine) processMarket(ctx context.Context, market domain.Market) {
	buyYes, err := e.orders.RestingOrdersForBook(ctx, market.MarketID, market.YesPositionID, domain.OrderSideBuy)
	if err != nil {
		e.logger.ErrorContext(ctx, "load buy yes book failed", slog.String("market_id", market.MarketID), slog.String("error", err.Error()))
		return
	}
	sellYes, err := e.orders.RestingOrdersForBook(ctx, market.MarketID, market.YesPositionID, domain.OrderSideSell)
	if err != nil {
		e.logger.ErrorContext(ctx, "load sell yes book failed", slog.String("market_id", market.MarketID), slog.String("error", err.Error()))
		return
	}
	buyNo, err := e.orders.RestingOrdersForBook(ctx, market.MarketID, market.NoPositionID, domain.OrderSideBuy)
	if err != nil {
		e.logger.ErrorContext(ctx, "load buy no book failed", slog.String("market_id", market.MarketID), slog.String("error", err.Error()))
		return
	}
	sellNo, err := e.orders.RestingOrdersForBook(ctx, market.MarketID, market.NoPositionID, domain.OrderSideSell)
	if err != nil {
		e.logger.ErrorContext(ctx, "load sell no book failed", slog.String("market_id", market.MarketID), slog.String("error", err.Error()))
		return
	}

	sortBuyBook(buyYes)
	sortSellBook(sellYes)
	sortBuyBook(buyNo)
	sortSellBook(sellNo)

	var result bookResult
	e.crossNormal(ctx, &result, market, buyYes, sellYes)
	e.crossNormal(ctx, &result, market, buyNo, sellNo)
	e.crossMint(ctx, &result, market, buyYes, buyNo)
	e.crossMerge(ctx, &result, market, sellYes, sellNo)

	if !result.haveTrade {
		return
	}

	e.updatePrices(ctx, market, buyYes, sellYes, result.lastYesPrice)
}

// crossNormal matches a literal BUY list against a literal SELL list for the
// same outcomePositionId: a direct swap of the outcome token for its
// complement, price-time priority, maker price governs.
func (e *Engine) crossNormal(ctx context.Context, result *bookResult, market domain.Market, buys, sells []domain.Order) {
	bi, si := 0, 0
	for bi < len(buys) && si < len(sells) {
		b, s := &buys[bi], &sells[si]
		if b.RemainingSize <= 0 {
			bi++
			continue
		}
		if s.RemainingSize <= 0 {
			si++
			continue
		}
		if b.Price < s.Price {
			break
		}

		fillAmt := minInt64(b.RemainingSize, s.RemainingSize)
		maker, taker := olderIsMaker(*b, *s)
		trade := e.buildTrade(market, maker, taker, fillAmt, domain.TradeTypeNormal)

		if !e.applyFill(ctx, b, s, fillAmt, trade) {
			break
		}
		result.record(trade, yesNormalizedPrice(market, maker))

		if b.RemainingSize == 0 {
			bi++
		}
		if s.RemainingSize == 0 {
			si++
		}
	}
}

// crossMint matches two BUY lists for complementary outcomes: both buyers
// front collateral to mint a fresh YES+NO pair when their prices sum to
// within mintMergeEpsilon of domain.PriceScale. Both lists are sorted
// descending by price; a too-rich pair advances the pricier side since
// later entries in that list are cheaper.
func (e *Engine) crossMint(ctx context.Context, result *bookResult, market domain.Market, buysA, buysB []domain.Order) {
	ai, bj := 0, 0
	for ai < len(buysA) && bj < len(buysB) {
		a, b := &buysA[ai], &buysB[bj]
		if a.RemainingSize <= 0 {
			ai++
			continue
		}
		if b.RemainingSize <= 0 {
			bj++
			continue
		}

		diff := a.Price + b.Price - domain.PriceScale
		if diff < -mintMergeEpsilon {
			break // sum too low; descending sort means it only gets worse
		}
		if diff > mintMergeEpsilon {
			if a.Price >= b.Price {
				ai++
			} else {
				bj++
			}
			continue
		}

		fillAmt := minInt64(a.RemainingSize, b.RemainingSize)
		maker, taker := olderIsMaker(*a, *b)
		trade := e.buildTrade(market, maker, taker, fillAmt, domain.TradeTypeMint)

		if !e.applyFill(ctx, a, b, fillAmt, trade) {
			break
		}
		result.record(trade, yesNormalizedPrice(market, maker))

		if a.RemainingSize == 0 {
			ai++
		}
		if b.RemainingSize == 0 {
			bj++
		}
	}
}

// crossMerge matches two SELL lists for complementary outcomes: both
// sellers burn a YES+NO pair back to collateral when their prices sum to
// within mintMergeEpsilon of domain.PriceScale. Both lists are sorted
// ascending by price; a too-cheap pair advances the cheaper side since later
// entries are pricier.
func (e *Engine) crossMerge(ctx context.Context, result *bookResult, market domain.Market, sellsA, sellsB []domain.Order) {
	ai, bj := 0, 0
	for ai < len(sellsA) && bj < len(sellsB) {
		a, b := &sellsA[ai], &sellsB[bj]
		if a.RemainingSize <= 0 {
			ai++
			continue
		}
		if b.RemainingSize <= 0 {
			bj++
			continue
		}

		diff := a.Price + b.Price - domain.PriceScale
		if diff > mintMergeEpsilon {
			break // sum too high; ascending sort means it only gets worse
		}
		if diff < -mintMergeEpsilon {
			if a.Price <= b.Price {
				ai++
			} else {
				bj++
			}
			continue
		}

		fillAmt := minInt64(a.RemainingSize, b.RemainingSize)
		maker, taker := olderIsMaker(*a, *b)
		trade := e.buildTrade(market, maker, taker, fillAmt, domain.TradeTypeMerge)

		if !e.applyFill(ctx, a, b, fillAmt, trade) {
			break
		}
		result.record(trade, yesNormalizedPrice(market, maker))

		if a.RemainingSize == 0 {
			ai++
		}
		if b.RemainingSize == 0 {
			bj++
		}
	}
}

func (e *Engine) buildTrade(market domain.Market, maker, taker domain.Order, fillAmt int64, tradeType domain.TradeType) domain.Trade {
	return domain.Trade{
		TradeID:         e.newTradeID(),
		MarketID:        market.MarketID,
		ConditionID:     market.ConditionID,
		MakerPositionID: maker.MakerPositionID,
		TakerPositionID: maker.TakerPositionID,
		Maker:           maker.Maker,
		Taker:           taker.Maker,
		Price:           maker.Price,
		Size:            fillAmt,
		Side:            taker.Side,
		MakerOrderID:    maker.OrderID,
		TakerOrderID:    taker.OrderID,
		TradeType:       tradeType,
		Timestamp:       e.now().UnixMilli(),
	}
}

// yesNormalizedPrice reports the maker's resting price expressed in YES
// terms, flipping it when the maker's own outcome was NO.
func yesNormalizedPrice(market domain.Market, maker domain.Order) int64 {
	if maker.OutcomePositionID() == market.YesPositionID {
		return maker.Price
	}
	return domain.PriceScale - maker.Price
}

// applyFill fills both orders of a match, records the trade, and dispatches
// settlement best-effort. It returns false if either fill failed (lock
// contention or a race with a cancel/expire), in which case the caller
// aborts the rest of that book's walk for this tick.
func (e *Engine) applyFill(ctx context.Context, a, b *domain.Order, fillAmt int64, trade domain.Trade) bool {
	okA, err := e.orders.FillOrder(ctx, a.OrderID, fillAmt)
	if err != nil {
		e.logger.ErrorContext(ctx, "fill order failed", slog.String("order_id", a.OrderID), slog.String("error", err.Error()))
		return false
	}
	if !okA {
		e.logger.DebugContext(ctx, "fill order lock contention, retrying next tick", slog.String("order_id", a.OrderID))
		return false
	}

	okB, err := e.orders.FillOrder(ctx, b.OrderID, fillAmt)
	if err != nil {
		e.logger.ErrorContext(ctx, "fill order failed", slog.String("order_id", b.OrderID), slog.String("error", err.Error()))
		return false
	}
	if !okB {
		e.logger.DebugContext(ctx, "fill order lock contention, retrying next tick", slog.String("order_id", b.OrderID))
		return false
	}

	a.FilledSize += fillAmt
	a.RemainingSize -= fillAmt
	b.FilledSize += fillAmt
	b.RemainingSize -= fillAmt

	if e.trades != nil {
		if err := e.trades.RecordTrade(ctx, trade); err != nil {
			e.logger.ErrorContext(ctx, "record trade failed", slog.String("trade_id", trade.TradeID), slog.String("error", err.Error()))
		}
	}

	e.settleBestEffort(ctx, trade, *a, *b, fillAmt)
	e.publishTrade(trade)
	return true
}

func (e *Engine) publishTrade(trade domain.Trade) {
	if e.feed == nil {
		return
	}
	e.feed.Publish(domain.FeedEvent{Type: "trade", MarketID: trade.MarketID, PositionID: trade.TakerPositionID, Payload: trade})
	e.feed.Publish(domain.FeedEvent{Type: "trade", MarketID: trade.MarketID, PositionID: trade.MakerPositionID, Payload: trade})
}

func (e *Engine) settleBestEffort(ctx context.Context, trade domain.Trade, a, b domain.Order, fillAmt int64) {
	if e.settlement == nil || !e.settlement.Enabled() {
		return
	}
	maker, taker := a, b
	if a.OrderID != trade.MakerOrderID {
		maker, taker = b, a
	}
	txHash, err := e.settlement.Settle(ctx, trade, maker, taker, fillAmt)
	if err != nil {
		e.logger.ErrorContext(ctx, "settlement dispatch failed", slog.String("trade_id", trade.TradeID), slog.String("error", err.Error()))
		return
	}
	if e.trades != nil {
		if err := e.trades.SetTxHash(ctx, trade.TradeID, txHash); err != nil {
			e.logger.ErrorContext(ctx, "set tx hash failed", slog.String("trade_id", trade.TradeID), slog.String("error", err.Error()))
		}
	}
}

// updatePrices recomputes best bid/ask from the buyYes/sellYes snapshots
// (stale on size after fills, but still correctly price-ordered) and
// applies the mid-price rule using the tick's last YES-normalized trade.
func (e *Engine) updatePrices(ctx context.Context, market domain.Market, buyYes, sellYes []domain.Order, lastYesPrice int64) {
	var bestBid, bestAsk *int64
	for i := range buyYes {
		if buyYes[i].RemainingSize > 0 {
			bestBid = &buyYes[i].Price
			break
		}
	}
	for i := range sellYes {
		if sellYes[i].RemainingSize > 0 {
			bestAsk = &sellYes[i].Price
			break
		}
	}

	yesPrice, noPrice := pricing.MidPrice(bestBid, bestAsk, &lastYesPrice, market.YesPrice, e.spreadBps)
	if err := e.markets.UpdateMarketPrices(ctx, market.MarketID, yesPrice, noPrice); err != nil {
		e.logger.ErrorContext(ctx, "update market prices failed", slog.String("market_id", market.MarketID), slog.String("error", err.Error()))
		return
	}

	if e.feed == nil {
		return
	}
	e.feed.Publish(domain.FeedEvent{Type: "price", MarketID: market.MarketID, PositionID: market.YesPositionID,
		Payload: map[string]int64{"yesPrice": yesPrice, "noPrice": noPrice}})
	e.feed.Publish(domain.FeedEvent{Type: "price", MarketID: market.MarketID, PositionID: market.NoPositionID,
		Payload: map[string]int64{"yesPrice": yesPrice, "noPrice": noPrice}})
}

// olderIsMaker returns (maker, taker) ordered by createdAt; ties favor the
// first argument, giving a deterministic order consistent with insertion
// order.
func olderIsMaker(a, b domain.Order) (maker, taker domain.Order) {
	if a.CreatedAt <= b.CreatedAt {
		return a, b
	}
	return b, a
}

func minInt64(a, b int64) int64 {
	if a < b {
		return a
	}
	return b
}

// sortBuyBook sorts orders descending by price, ascending by createdAt — the
// standard bid ordering.
func sortBuyBook(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			return orders[i].Price > orders[j].Price
		}
		return orders[i].CreatedAt < orders[j].CreatedAt
	})
}

// sortSellBook sorts orders ascending by price, ascending by createdAt — the
// standard ask ordering.
func sortSellBook(orders []domain.Order) {
	sort.Slice(orders, func(i, j int) bool {
		if orders[i].Price != orders[j].Price {
			return orders[i].Price < orders[j].Price
		}
		return orders[i].CreatedAt < orders[j].CreatedAt
	})
}
