// Package router implements the smart order router: a pure, idempotent
// planner that walks an orderbook snapshot and reports what a market order
// would sweep, or how much of a limit order would fill immediately, without
// writing anything.
package router

import (
	"context"
	"fmt"

	"github.com/clobx/clobd/internal/domain"
	"github.com/clobx/clobd/internal/pricing"
)

// snapshotSource is the narrow slice of domain.OrderStore the router needs.
type snapshotSource interface {
	GetOrderbook(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, error)
}

// Plan computes an ExecutionPlan for an order of size against the book for
// (marketID, outcomePositionID). limitPrice is ignored for MARKET orders.
// maxSlippageBps is ignored for LIMIT orders and for MARKET orders when 0.
func Plan(ctx context.Context, store snapshotSource, marketID, outcomePositionID string, side domain.OrderSide, orderType domain.OrderType, size, limitPrice, maxSlippageBps int64) (domain.ExecutionPlan, error) {
	if size < 1 {
		return domain.ExecutionPlan{}, fmt.Errorf("router: plan: %w: size must be >= 1", domain.ErrInvalidArgument)
	}

	snap, err := store.GetOrderbook(ctx, marketID, outcomePositionID)
	if err != nil {
		return domain.ExecutionPlan{}, fmt.Errorf("router: plan: %w", err)
	}

	candidates := snap.Asks
	if side == domain.OrderSideSell {
		candidates = snap.Bids
	}

	plan := domain.ExecutionPlan{
		OrderType: orderType,
		TotalSize: size,
	}

	var remaining, totalCost, cumulative int64
	remaining = size

	for _, level := range candidates {
		if orderType == domain.OrderTypeLimit {
			if side == domain.OrderSideBuy && level.Price > limitPrice {
				break
			}
			if side == domain.OrderSideSell && level.Price < limitPrice {
				break
			}
		}
		if remaining <= 0 {
			break
		}

		fillAt := level.Size
		if fillAt > remaining {
			fillAt = remaining
		}

		cumulative += fillAt
		cost := fillAt * level.Price
		totalCost += cost

		plan.Levels = append(plan.Levels, domain.ExecutionLevel{
			Price:          level.Price,
			Size:           fillAt,
			CumulativeSize: cumulative,
			Cost:           cost,
		})

		if plan.BestPrice == 0 {
			plan.BestPrice = level.Price
		}
		plan.WorstPrice = level.Price

		remaining -= fillAt
	}

	filled := cumulative
	if filled == 0 {
		plan.Feasible = false
		plan.Reason = "insufficient liquidity"
		return plan, nil
	}

	plan.AveragePrice = pricing.RoundHalfEvenRatio(totalCost, 1, filled)
	plan.TotalCost = totalCost

	if plan.BestPrice != 0 {
		diff := plan.AveragePrice - plan.BestPrice
		if diff < 0 {
			diff = -diff
		}
		plan.SlippageBps = pricing.RoundHalfEvenRatio(diff, 10_000, plan.BestPrice)
	}

	if orderType == domain.OrderTypeMarket && maxSlippageBps > 0 && plan.SlippageBps > maxSlippageBps {
		plan.Feasible = false
		plan.Reason = "slippage exceeds max"
		return plan, nil
	}

	if filled < size {
		plan.Feasible = false
		plan.Reason = "insufficient liquidity"
		return plan, nil
	}

	plan.Feasible = true
	return plan, nil
}
