package router

import (
	"context"
	"testing"

	"github.com/clobx/clobd/internal/domain"
)

type fakeSnapshotSource struct {
	snap domain.OrderbookSnapshot
}

func (f fakeSnapshotSource) GetOrderbook(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, error) {
	return f.snap, nil
}

func TestMarketBuySweepsAsksInOrder(t *testing.T) {
	src := fakeSnapshotSource{snap: domain.OrderbookSnapshot{
		Asks: []domain.OrderbookLevel{
			{Price: 500_000, Size: 10},
			{Price: 520_000, Size: 10},
		},
	}}
	plan, err := Plan(context.Background(), src, "m1", "yes", domain.OrderSideBuy, domain.OrderTypeMarket, 15, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Feasible {
		t.Fatalf("plan not feasible: %s", plan.Reason)
	}
	if len(plan.Levels) != 2 {
		t.Fatalf("got %d levels, want 2", len(plan.Levels))
	}
	if plan.Levels[0].Size != 10 || plan.Levels[1].Size != 5 {
		t.Errorf("level sizes = %d,%d want 10,5", plan.Levels[0].Size, plan.Levels[1].Size)
	}
	wantCost := int64(10*500_000 + 5*520_000)
	if plan.TotalCost != wantCost {
		t.Errorf("total cost = %d, want %d", plan.TotalCost, wantCost)
	}
}

func TestLimitBuyStopsAtLimitPrice(t *testing.T) {
	src := fakeSnapshotSource{snap: domain.OrderbookSnapshot{
		Asks: []domain.OrderbookLevel{
			{Price: 500_000, Size: 10},
			{Price: 600_000, Size: 10},
		},
	}}
	plan, err := Plan(context.Background(), src, "m1", "yes", domain.OrderSideBuy, domain.OrderTypeLimit, 15, 550_000, 0)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Feasible {
		t.Fatalf("plan should be infeasible: only 10 available under limit, want 15")
	}
	if plan.Reason != "insufficient liquidity" {
		t.Errorf("reason = %q, want insufficient liquidity", plan.Reason)
	}
	if len(plan.Levels) != 1 || plan.Levels[0].Price != 500_000 {
		t.Errorf("levels = %+v, want one level at 500000", plan.Levels)
	}
}

func TestMarketOrderExceedingSlippageIsInfeasible(t *testing.T) {
	src := fakeSnapshotSource{snap: domain.OrderbookSnapshot{
		Asks: []domain.OrderbookLevel{
			{Price: 500_000, Size: 5},
			{Price: 900_000, Size: 10},
		},
	}}
	plan, err := Plan(context.Background(), src, "m1", "yes", domain.OrderSideBuy, domain.OrderTypeMarket, 10, 0, 100)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Feasible {
		t.Fatalf("plan should be infeasible: slippage from sweeping to 900000 exceeds 100bps")
	}
	if plan.Reason != "slippage exceeds max" {
		t.Errorf("reason = %q, want slippage exceeds max", plan.Reason)
	}
}

func TestEmptyBookIsInsufficientLiquidity(t *testing.T) {
	src := fakeSnapshotSource{}
	plan, err := Plan(context.Background(), src, "m1", "yes", domain.OrderSideBuy, domain.OrderTypeMarket, 10, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if plan.Feasible || plan.Reason != "insufficient liquidity" {
		t.Errorf("plan = %+v, want infeasible/insufficient liquidity", plan)
	}
}

func TestSellWalksBidsDescending(t *testing.T) {
	src := fakeSnapshotSource{snap: domain.OrderbookSnapshot{
		Bids: []domain.OrderbookLevel{
			{Price: 600_000, Size: 5},
			{Price: 550_000, Size: 10},
		},
	}}
	plan, err := Plan(context.Background(), src, "m1", "yes", domain.OrderSideSell, domain.OrderTypeMarket, 8, 0, 0)
	if err != nil {
		t.Fatal(err)
	}
	if !plan.Feasible {
		t.Fatalf("plan not feasible: %s", plan.Reason)
	}
	if plan.Levels[0].Price != 600_000 || plan.Levels[0].Size != 5 {
		t.Errorf("first level = %+v, want price=600000 size=5", plan.Levels[0])
	}
	if plan.Levels[1].Price != 550_000 || plan.Levels[1].Size != 3 {
		t.Errorf("second level = %+v, want price=550000 size=3", plan.Levels[1])
	}
}

func TestSizeBelowOneIsInvalidArgument(t *testing.T) {
	src := fakeSnapshotSource{}
	_, err := Plan(context.Background(), src, "m1", "yes", domain.OrderSideBuy, domain.OrderTypeMarket, 0, 0, 0)
	if err == nil {
		t.Fatal("expected error for size < 1")
	}
}
