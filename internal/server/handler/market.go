package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/clobx/clobd/internal/domain"
	"github.com/clobx/clobd/internal/hashchain"
)

// MarketStore defines the market-persistence methods the handler needs.
type MarketStore interface {
	AddMarket(ctx context.Context, market domain.Market) error
	GetMarket(ctx context.Context, marketID string) (domain.Market, error)
	GetAllMarkets(ctx context.Context) ([]domain.Market, error)
}

// MarketOrders defines the order-lookup methods the stats endpoint needs.
type MarketOrders interface {
	GetMarketOrders(ctx context.Context, marketID string) ([]domain.Order, error)
}

// MarketTrades defines the trade-history methods the handler needs.
type MarketTrades interface {
	ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error)
}

// MarketHandler serves market-related HTTP endpoints.
type MarketHandler struct {
	markets MarketStore
	orders  MarketOrders
	trades  MarketTrades
	logger  *slog.Logger
}

// NewMarketHandler creates a MarketHandler with the given stores and logger.
func NewMarketHandler(markets MarketStore, orders MarketOrders, trades MarketTrades, logger *slog.Logger) *MarketHandler {
	return &MarketHandler{markets: markets, orders: orders, trades: trades, logger: logger}
}

type listMarketsResponse struct {
	Success bool            `json:"success"`
	Markets []domain.Market `json:"markets"`
	Total   int             `json:"total"`
	Limit   int             `json:"limit"`
	Offset  int             `json:"offset"`
}

// ListMarkets returns all markets with pagination.
// GET /api/markets?limit=50&offset=0
func (h *MarketHandler) ListMarkets(w http.ResponseWriter, r *http.Request) {
	opts := parseListOpts(r)

	all, err := h.markets.GetAllMarkets(r.Context())
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list markets failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list markets")
		return
	}

	total := len(all)
	start := opts.Offset
	if start > total {
		start = total
	}
	end := start + opts.Limit
	if end > total {
		end = total
	}

	writeJSON(w, http.StatusOK, listMarketsResponse{
		Success: true,
		Markets: all[start:end],
		Total:   total,
		Limit:   opts.Limit,
		Offset:  opts.Offset,
	})
}

type marketResponse struct {
	Success bool          `json:"success"`
	Market  domain.Market `json:"market"`
}

// GetMarket returns a single market by its ID.
// GET /api/markets/{id}
func (h *MarketHandler) GetMarket(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: get market failed", slog.String("market_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	writeJSON(w, http.StatusOK, marketResponse{Success: true, Market: market})
}

type createMarketRequest struct {
	Question    string `json:"question"`
	Creator     string `json:"creator"`
	ConditionID string `json:"conditionId"`
}

// CreateMarket registers a new binary market, deriving its YES/NO position
// ids from the condition id. Admin-only; gated by middleware.AdminAuth.
// POST /api/markets
func (h *MarketHandler) CreateMarket(w http.ResponseWriter, r *http.Request) {
	var req createMarketRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Question == "" || req.Creator == "" || req.ConditionID == "" {
		writeError(w, http.StatusBadRequest, "question, creator, and conditionId are required")
		return
	}

	yesPositionID, err := hashchain.PositionID(req.ConditionID, uint8(domain.OutcomeYes))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	noPositionID, err := hashchain.PositionID(req.ConditionID, uint8(domain.OutcomeNo))
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	market := domain.Market{
		MarketID:      uuid.New().String(),
		ConditionID:   req.ConditionID,
		Question:      req.Question,
		Creator:       req.Creator,
		YesPositionID: yesPositionID,
		NoPositionID:  noPositionID,
		YesPrice:      domain.PriceScale / 2,
		NoPrice:       domain.PriceScale / 2,
		CreatedAt:     time.Now().UnixMilli(),
	}

	if err := h.markets.AddMarket(r.Context(), market); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: create market failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to create market")
		return
	}

	writeJSON(w, http.StatusCreated, marketResponse{Success: true, Market: market})
}

type marketStatsResponse struct {
	Success     bool  `json:"success"`
	OpenOrders  int   `json:"openOrders"`
	TradeCount  int   `json:"tradeCount"`
	LastYesPrce int64 `json:"lastYesPrice"`
	LastNoPrice int64 `json:"lastNoPrice"`
	Volume24h   int64 `json:"volume24h"`
}

// GetMarketStats reports order/trade counts and the last known prices.
// GET /api/markets/{id}/stats
func (h *MarketHandler) GetMarketStats(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "market not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to get market")
		return
	}

	orders, err := h.orders.GetMarketOrders(r.Context(), id)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: get market orders failed", slog.String("market_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to get market orders")
		return
	}
	open := 0
	for _, o := range orders {
		if o.Status.Resting() {
			open++
		}
	}

	trades, err := h.trades.ListByMarket(r.Context(), id, domain.ListOpts{Limit: 1 << 30})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("market_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	writeJSON(w, http.StatusOK, marketStatsResponse{
		Success:     true,
		OpenOrders:  open,
		TradeCount:  len(trades),
		LastYesPrce: market.YesPrice,
		LastNoPrice: market.NoPrice,
		Volume24h:   market.Volume24h,
	})
}

// priceBucket is one OHLC candle over an interval of trades.
type priceBucket struct {
	Timestamp int64 `json:"timestamp"`
	Open      int64 `json:"open"`
	High      int64 `json:"high"`
	Low       int64 `json:"low"`
	Close     int64 `json:"close"`
	Volume    int64 `json:"volume"`
}

type priceHistoryResponse struct {
	Success bool          `json:"success"`
	Buckets []priceBucket `json:"buckets"`
}

// GetMarketPriceHistory buckets trade prices into OHLC candles.
// GET /api/markets/{id}/price-history?interval=60000&limit=100
func (h *MarketHandler) GetMarketPriceHistory(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing market id")
		return
	}

	interval := int64(60_000)
	if v := r.URL.Query().Get("interval"); v != "" {
		if n, err := strconv.ParseInt(v, 10, 64); err == nil && n > 0 {
			interval = n
		}
	}
	limit := 100
	if v := r.URL.Query().Get("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}

	trades, err := h.trades.ListByMarket(r.Context(), id, domain.ListOpts{Limit: 1 << 30})
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list trades failed", slog.String("market_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list trades")
		return
	}

	buckets := bucketTrades(trades, interval)
	if len(buckets) > limit {
		buckets = buckets[len(buckets)-limit:]
	}

	writeJSON(w, http.StatusOK, priceHistoryResponse{Success: true, Buckets: buckets})
}

// bucketTrades groups trades (assumed newest-first, as returned by
// TradeLog.ListByMarket) into ascending-time OHLC candles of width interval.
func bucketTrades(trades []domain.Trade, interval int64) []priceBucket {
	if len(trades) == 0 {
		return nil
	}

	byBucket := make(map[int64]*priceBucket)
	var order []int64
	for i := len(trades) - 1; i >= 0; i-- {
		t := trades[i]
		ts := (t.Timestamp / interval) * interval
		b, ok := byBucket[ts]
		if !ok {
			b = &priceBucket{Timestamp: ts, Open: t.Price, High: t.Price, Low: t.Price}
			byBucket[ts] = b
			order = append(order, ts)
		}
		if t.Price > b.High {
			b.High = t.Price
		}
		if t.Price < b.Low {
			b.Low = t.Price
		}
		b.Close = t.Price
		b.Volume += t.Size
	}

	out := make([]priceBucket, 0, len(order))
	for _, ts := range order {
		out = append(out, *byBucket[ts])
	}
	return out
}
