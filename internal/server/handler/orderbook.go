package handler

import (
	"context"
	"log/slog"
	"net/http"

	"github.com/clobx/clobd/internal/domain"
)

// OrderbookStore is the subset of domain.OrderStore the orderbook handler needs.
type OrderbookStore interface {
	GetOrderbook(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, error)
}

// OrderbookHandler serves orderbook, trade-history, and price endpoints.
type OrderbookHandler struct {
	orders  OrderbookStore
	markets MarketStore
	trades  MarketTrades
	logger  *slog.Logger
}

// NewOrderbookHandler creates an OrderbookHandler.
func NewOrderbookHandler(orders OrderbookStore, markets MarketStore, trades MarketTrades, logger *slog.Logger) *OrderbookHandler {
	return &OrderbookHandler{orders: orders, markets: markets, trades: trades, logger: logger}
}

type orderbookResponse struct {
	Success bool                                `json:"success"`
	Books   map[string]domain.OrderbookSnapshot `json:"books"`
}

// GetOrderbook returns the aggregated book for a single outcome (positionId
// query param) or both outcomes of the market.
// GET /api/orderbook/{id}?positionId=
func (h *OrderbookHandler) GetOrderbook(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	positionIDs, ok := h.resolvePositionIDs(w, r, marketID)
	if !ok {
		return
	}

	books := make(map[string]domain.OrderbookSnapshot, len(positionIDs))
	for _, pid := range positionIDs {
		snap, err := h.orders.GetOrderbook(r.Context(), marketID, pid)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: get orderbook failed",
				slog.String("market_id", marketID), slog.String("position_id", pid), slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to get orderbook")
			return
		}
		books[pid] = snap
	}

	writeJSON(w, http.StatusOK, orderbookResponse{Success: true, Books: books})
}

// resolvePositionIDs returns the position id(s) to fetch: the explicit query
// param if present, otherwise both the market's YES and NO position ids.
func (h *OrderbookHandler) resolvePositionIDs(w http.ResponseWriter, r *http.Request, marketID string) ([]string, bool) {
	if pid := r.URL.Query().Get("positionId"); pid != "" {
		return []string{pid}, true
	}

	market, err := h.markets.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusNotFound, "market not found")
		return nil, false
	}
	return []string{market.YesPositionID, market.NoPositionID}, true
}

type recentTradesResponse struct {
	Success bool           `json:"success"`
	Trades  []domain.Trade `json:"trades"`
}

// GetRecentTrades returns recent trades for a market, newest first.
// GET /api/orderbook/{id}/trades?limit=
func (h *OrderbookHandler) GetRecentTrades(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	opts := parseListOpts(r)
	trades, err := h.trades.ListByMarket(r.Context(), marketID, opts)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("market_id", marketID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}
	if trades == nil {
		trades = []domain.Trade{}
	}

	writeJSON(w, http.StatusOK, recentTradesResponse{Success: true, Trades: trades})
}

type priceResponse struct {
	Success bool   `json:"success"`
	Mid     int64  `json:"mid"`
	Best    *int64 `json:"best,omitempty"`
	Last    *int64 `json:"last,omitempty"`
}

// GetPrice reports the mid price for a position plus, when available, a book
// price (the bid/ask midpoint when both sides rest, otherwise the one resting
// side's best price) and the last trade price.
// GET /api/orderbook/{id}/price?positionId=
func (h *OrderbookHandler) GetPrice(w http.ResponseWriter, r *http.Request) {
	marketID := pathParam(r, "id")
	if marketID == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}

	positionID := r.URL.Query().Get("positionId")
	if positionID == "" {
		positionID = market.YesPositionID
	}

	mid := market.YesPrice
	if positionID == market.NoPositionID {
		mid = market.NoPrice
	}

	resp := priceResponse{Success: true, Mid: mid}

	snap, err := h.orders.GetOrderbook(r.Context(), marketID, positionID)
	if err == nil {
		if bid, ok := snap.BestBid(); ok {
			if ask, ok := snap.BestAsk(); ok {
				best := (bid.Price + ask.Price) / 2
				resp.Best = &best
			} else {
				resp.Best = &bid.Price
			}
		} else if ask, ok := snap.BestAsk(); ok {
			resp.Best = &ask.Price
		}
	}

	trades, err := h.trades.ListByMarket(r.Context(), marketID, domain.ListOpts{Limit: 1})
	if err == nil && len(trades) > 0 {
		last := trades[0].Price
		resp.Last = &last
	}

	writeJSON(w, http.StatusOK, resp)
}
