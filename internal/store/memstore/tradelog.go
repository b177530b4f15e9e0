package memstore

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/clobx/clobd/internal/domain"
)

// TradeLog is the in-memory, append-only record of matched trades. It
// implements domain.TradeLog. Entries are never removed; ListByMarket
// returns the most recent trades first.
type TradeLog struct {
	mu       sync.RWMutex
	trades   map[string]domain.Trade
	byMarket map[string][]string // insertion-ordered trade ids per market
}

// NewTradeLog creates an empty TradeLog.
func NewTradeLog() *TradeLog {
	return &TradeLog{
		trades:   make(map[string]domain.Trade),
		byMarket: make(map[string][]string),
	}
}

// RecordTrade appends a trade. Re-recording the same TradeID overwrites the
// entry in place without duplicating the market index.
func (l *TradeLog) RecordTrade(ctx context.Context, trade domain.Trade) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if _, exists := l.trades[trade.TradeID]; !exists {
		l.byMarket[trade.MarketID] = append(l.byMarket[trade.MarketID], trade.TradeID)
	}
	l.trades[trade.TradeID] = trade
	return nil
}

// GetTrade returns a trade by id.
func (l *TradeLog) GetTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	trade, ok := l.trades[tradeID]
	if !ok {
		return domain.Trade{}, fmt.Errorf("tradelog: get trade %s: %w", tradeID, domain.ErrNotFound)
	}
	return trade, nil
}

// SetTxHash records the settlement transaction hash once a trade has
// broadcast successfully.
func (l *TradeLog) SetTxHash(ctx context.Context, tradeID string, txHash string) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	trade, ok := l.trades[tradeID]
	if !ok {
		return fmt.Errorf("tradelog: set tx hash for %s: %w", tradeID, domain.ErrNotFound)
	}
	trade.TxHash = &txHash
	l.trades[tradeID] = trade
	return nil
}

// ListByMarket returns trades for marketID, most recent first, paginated by
// opts.
func (l *TradeLog) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	ids := l.byMarket[marketID]
	out := make([]domain.Trade, 0, len(ids))
	for _, id := range ids {
		out = append(out, l.trades[id])
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	offset := opts.Offset
	if offset < 0 {
		offset = 0
	}
	if offset >= len(out) {
		return []domain.Trade{}, nil
	}
	end := offset + limit
	if end > len(out) {
		end = len(out)
	}
	return out[offset:end], nil
}

var _ domain.TradeLog = (*TradeLog)(nil)
