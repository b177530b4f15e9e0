package handler

import (
	"context"
	"errors"
	"log/slog"
	"net/http"

	"github.com/clobx/clobd/internal/domain"
)

// OrderStore is the subset of domain.OrderStore the order handler needs.
type OrderStore interface {
	GetUserOrders(ctx context.Context, maker string) ([]domain.Order, error)
	GetMarketOrders(ctx context.Context, marketID string) ([]domain.Order, error)
	CancelOrder(ctx context.Context, orderID string) (bool, error)
}

// OrderHandler serves order listing and cancellation.
type OrderHandler struct {
	orders OrderStore
	logger *slog.Logger
}

// NewOrderHandler creates an OrderHandler.
func NewOrderHandler(orders OrderStore, logger *slog.Logger) *OrderHandler {
	return &OrderHandler{orders: orders, logger: logger}
}

type listOrdersResponse struct {
	Success bool           `json:"success"`
	Orders  []domain.Order `json:"orders"`
}

// ListOrders returns a maker's orders, or a market's orders.
// GET /api/orders?maker=...&marketId=...
func (h *OrderHandler) ListOrders(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	maker := q.Get("maker")
	marketID := q.Get("marketId")

	if maker == "" && marketID == "" {
		writeError(w, http.StatusBadRequest, "maker or marketId query parameter required")
		return
	}

	var orders []domain.Order
	var err error
	if marketID != "" {
		orders, err = h.orders.GetMarketOrders(r.Context(), marketID)
	} else {
		orders, err = h.orders.GetUserOrders(r.Context(), maker)
	}
	if err != nil {
		h.logger.ErrorContext(r.Context(), "handler: list orders failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to list orders")
		return
	}
	if orders == nil {
		orders = []domain.Order{}
	}

	writeJSON(w, http.StatusOK, listOrdersResponse{Success: true, Orders: orders})
}

// CancelOrder cancels an existing order by its ID.
// DELETE /api/orders/{id}
func (h *OrderHandler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	id := pathParam(r, "id")
	if id == "" {
		writeError(w, http.StatusBadRequest, "missing order id")
		return
	}

	ok, err := h.orders.CancelOrder(r.Context(), id)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			writeError(w, http.StatusNotFound, "order not found")
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: cancel order failed", slog.String("order_id", id), slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to cancel order")
		return
	}
	if !ok {
		writeError(w, http.StatusBadRequest, "order already in a terminal state")
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{"success": true, "orderId": id, "status": "cancelled"})
}
