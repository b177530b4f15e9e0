package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clobx/clobd/internal/domain"
)

// AdminOrderStore is the subset of domain.OrderStore the admin handler needs.
type AdminOrderStore interface {
	GetOrder(ctx context.Context, orderID string) (domain.Order, error)
}

// AdminTradeStore is the subset of domain.TradeLog the admin handler needs.
type AdminTradeStore interface {
	GetTrade(ctx context.Context, tradeID string) (domain.Trade, error)
	SetTxHash(ctx context.Context, tradeID string, txHash string) error
}

// AdminHandler serves admin-only operational endpoints. Routes using it MUST
// be wrapped in middleware.AdminAuth.
type AdminHandler struct {
	trades     AdminTradeStore
	orders     AdminOrderStore
	settlement domain.SettlementBridge
	logger     *slog.Logger
}

// NewAdminHandler creates an AdminHandler.
func NewAdminHandler(trades AdminTradeStore, orders AdminOrderStore, settlement domain.SettlementBridge, logger *slog.Logger) *AdminHandler {
	return &AdminHandler{trades: trades, orders: orders, settlement: settlement, logger: logger}
}

type forceSettleResponse struct {
	Success bool   `json:"success"`
	TradeID string `json:"tradeId"`
	TxHash  string `json:"txHash"`
}

// ForceSettle re-dispatches settlement for a trade that was recorded without
// a txHash, typically after a broadcast failure.
// POST /api/admin/settlements/{tradeId}
func (h *AdminHandler) ForceSettle(w http.ResponseWriter, r *http.Request) {
	tradeID := pathParam(r, "tradeId")
	if tradeID == "" {
		writeError(w, http.StatusBadRequest, "missing trade id")
		return
	}

	if !h.settlement.Enabled() {
		writeError(w, http.StatusBadRequest, "settlement is not configured")
		return
	}

	trade, err := h.trades.GetTrade(r.Context(), tradeID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "trade not found")
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to load trade")
		return
	}

	if trade.TxHash != nil {
		writeError(w, http.StatusConflict, "trade already settled")
		return
	}

	maker, err := h.orders.GetOrder(r.Context(), trade.MakerOrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load maker order")
		return
	}
	taker, err := h.orders.GetOrder(r.Context(), trade.TakerOrderID)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "failed to load taker order")
		return
	}

	txHash, err := h.settlement.Settle(r.Context(), trade, maker, taker, trade.Size)
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: force settle failed",
			slog.String("trade_id", tradeID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "settlement rejected: "+err.Error())
		return
	}

	if err := h.trades.SetTxHash(r.Context(), tradeID, txHash); err != nil {
		h.logger.ErrorContext(r.Context(), "handler: set tx hash failed",
			slog.String("trade_id", tradeID), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "settled but failed to record tx hash")
		return
	}

	writeJSON(w, http.StatusOK, forceSettleResponse{Success: true, TradeID: tradeID, TxHash: txHash})
}
