package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/clobx/clobd/internal/domain"
	"github.com/clobx/clobd/internal/hashchain"
	"github.com/clobx/clobd/internal/router"
)

// SmartOrderStore is the subset of domain.OrderStore the smart-order handler
// needs: a snapshot source for the router plus order acceptance.
type SmartOrderStore interface {
	GetOrderbook(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, error)
	AddOrder(ctx context.Context, input domain.Order) (domain.Order, error)
}

// SmartOrderHandler serves the smart-router preview, order placement, and
// requirements endpoints.
type SmartOrderHandler struct {
	orders  SmartOrderStore
	markets MarketStore
	logger  *slog.Logger
}

// NewSmartOrderHandler creates a SmartOrderHandler.
func NewSmartOrderHandler(orders SmartOrderStore, markets MarketStore, logger *slog.Logger) *SmartOrderHandler {
	return &SmartOrderHandler{orders: orders, markets: markets, logger: logger}
}

// planRequest is shared by the preview and placement endpoints.
type planRequest struct {
	MarketID       string              `json:"marketId"`
	Outcome        domain.OutcomeIndex `json:"outcome"`
	Side           domain.OrderSide    `json:"side"`
	OrderType      domain.OrderType    `json:"orderType"`
	Size           int64               `json:"size"`
	LimitPrice     int64               `json:"limitPrice"`
	MaxSlippageBps int64               `json:"maxSlippageBps"`
}

type planResponse struct {
	Success bool                `json:"success"`
	Plan    domain.ExecutionPlan `json:"plan"`
}

// PreviewPlan returns the ExecutionPlan a placement would produce, without
// writing anything.
// POST /api/smart-orders/preview
func (h *SmartOrderHandler) PreviewPlan(w http.ResponseWriter, r *http.Request) {
	var req planRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	_, outcomePositionID, ok := h.resolveMarket(w, r, req.MarketID, req.Outcome)
	if !ok {
		return
	}

	plan, err := router.Plan(r.Context(), h.orders, req.MarketID, outcomePositionID, req.Side, req.OrderType, req.Size, req.LimitPrice, req.MaxSlippageBps)
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: preview plan failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to plan order")
		return
	}

	if !plan.Feasible {
		writeErrorWithPlan(w, http.StatusBadRequest, plan.Reason, plan)
		return
	}

	writeJSON(w, http.StatusOK, planResponse{Success: true, Plan: plan})
}

// placeOrderRequest is the signed-order wire format for POST /api/smart-orders.
type placeOrderRequest struct {
	planRequest
	Maker      string `json:"maker"`
	Salt       string `json:"salt"`
	Expiration int64  `json:"expiration"`
	Signature  string `json:"signature"`
	PublicKey  string `json:"publicKey"`
}

type placeOrderResponse struct {
	Success bool                  `json:"success"`
	Order   domain.Order          `json:"order"`
	Plan    *domain.ExecutionPlan `json:"plan,omitempty"`
}

// PlaceOrder accepts a signed LIMIT order onto the book, or plans and places
// a marketable LIMIT order that sweeps to the planned worst price for a
// MARKET order.
// POST /api/smart-orders
func (h *SmartOrderHandler) PlaceOrder(w http.ResponseWriter, r *http.Request) {
	var req placeOrderRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Maker == "" || req.Signature == "" || req.PublicKey == "" {
		writeError(w, http.StatusBadRequest, "maker, signature, and publicKey are required")
		return
	}

	market, outcomePositionID, ok := h.resolveMarket(w, r, req.MarketID, req.Outcome)
	if !ok {
		return
	}

	price := req.LimitPrice
	var plan *domain.ExecutionPlan
	if req.OrderType == domain.OrderTypeMarket {
		p, err := router.Plan(r.Context(), h.orders, req.MarketID, outcomePositionID, req.Side, req.OrderType, req.Size, 0, req.MaxSlippageBps)
		if err != nil {
			h.logger.ErrorContext(r.Context(), "handler: plan market order failed", slog.String("error", err.Error()))
			writeError(w, http.StatusInternalServerError, "failed to plan order")
			return
		}
		if !p.Feasible {
			writeErrorWithPlan(w, http.StatusBadRequest, p.Reason, p)
			return
		}
		price = p.WorstPrice
		plan = &p
	}
	if price <= 0 || price >= domain.PriceScale {
		writeError(w, http.StatusBadRequest, "price must be in (0, PRICE_SCALE)")
		return
	}

	makerPositionID, takerPositionID := outcomeLegs(market, req.Side, req.Outcome)

	makerAmount := fmt.Sprintf("%d", req.Size)
	takerAmount := fmt.Sprintf("%d", (price*req.Size)/domain.PriceScale)

	in := hashchain.OrderHashInput{
		Maker:           req.Maker,
		Taker:           req.Maker,
		MakerPositionID: makerPositionID,
		TakerPositionID: takerPositionID,
		MakerAmount:     makerAmount,
		TakerAmount:     takerAmount,
		Salt:            req.Salt,
		Expiration:      fmt.Sprintf("%d", req.Expiration),
	}
	if err := hashchain.VerifyOrder(in, req.Maker, req.Signature, req.PublicKey); err != nil {
		if errors.Is(err, domain.ErrBadSignature) {
			writeError(w, http.StatusBadRequest, "bad signature")
			return
		}
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	signature := req.Signature
	publicKey := req.PublicKey
	now := time.Now().UnixMilli()
	order, err := h.orders.AddOrder(r.Context(), domain.Order{
		Maker:           req.Maker,
		MarketID:        req.MarketID,
		ConditionID:     market.ConditionID,
		MakerPositionID: makerPositionID,
		TakerPositionID: takerPositionID,
		Side:            req.Side,
		Type:            req.OrderType,
		Price:           price,
		Size:            req.Size,
		Salt:            req.Salt,
		Expiration:      req.Expiration,
		CreatedAt:       now,
		UpdatedAt:       now,
		Signature:       &signature,
		PublicKey:       &publicKey,
	})
	if err != nil {
		if errors.Is(err, domain.ErrInvalidArgument) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		h.logger.ErrorContext(r.Context(), "handler: add order failed", slog.String("error", err.Error()))
		writeError(w, http.StatusInternalServerError, "failed to place order")
		return
	}

	writeJSON(w, http.StatusCreated, placeOrderResponse{Success: true, Order: order, Plan: plan})
}

type requirementsRequest struct {
	Maker    string              `json:"maker"`
	MarketID string              `json:"marketId"`
	Side     domain.OrderSide    `json:"side"`
	Outcome  domain.OutcomeIndex `json:"outcome"`
	Size     int64               `json:"size"`
}

type requirementsResponse struct {
	Success    bool   `json:"success"`
	PositionID string `json:"positionId"`
	Amount     int64  `json:"amount"`
}

// GetRequirements reports which position id the maker must own (for SELL)
// or have collateral for (for BUY) to place the described order, and how
// much.
// POST /api/smart-orders/requirements
func (h *SmartOrderHandler) GetRequirements(w http.ResponseWriter, r *http.Request) {
	var req requirementsRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}

	market, err := h.markets.GetMarket(r.Context(), req.MarketID)
	if err != nil {
		writeError(w, http.StatusNotFound, "market not found")
		return
	}

	makerPositionID, _ := outcomeLegs(market, req.Side, req.Outcome)

	writeJSON(w, http.StatusOK, requirementsResponse{
		Success:    true,
		PositionID: makerPositionID,
		Amount:     req.Size,
	})
}

// resolveMarket looks up the market and the outcome's position id, writing
// an error response and returning ok=false on failure.
func (h *SmartOrderHandler) resolveMarket(w http.ResponseWriter, r *http.Request, marketID string, outcome domain.OutcomeIndex) (domain.Market, string, bool) {
	market, err := h.markets.GetMarket(r.Context(), marketID)
	if err != nil {
		writeError(w, http.StatusNotFound, "market not found")
		return domain.Market{}, "", false
	}
	return market, market.PositionID(outcome), true
}

// outcomeLegs applies the maker/taker position convention: BUY O ->
// maker=complement(O), taker=O; SELL O -> maker=O, taker=complement(O).
func outcomeLegs(market domain.Market, side domain.OrderSide, outcome domain.OutcomeIndex) (makerPositionID, takerPositionID string) {
	outcomeID := market.PositionID(outcome)
	complementID := market.Complement(outcomeID)
	if side == domain.OrderSideBuy {
		return complementID, outcomeID
	}
	return outcomeID, complementID
}
