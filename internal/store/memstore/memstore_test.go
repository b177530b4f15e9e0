package memstore

import (
	"context"
	"testing"

	"github.com/clobx/clobd/internal/domain"
)

func mustAddOrder(t *testing.T, s *Store, o domain.Order) domain.Order {
	t.Helper()
	out, err := s.AddOrder(context.Background(), o)
	if err != nil {
		t.Fatalf("AddOrder: %v", err)
	}
	return out
}

func sampleBuy(price, size int64) domain.Order {
	return domain.Order{
		Maker:           "maker1",
		MarketID:        "market1",
		MakerPositionID: "no-position",
		TakerPositionID: "yes-position",
		Side:            domain.OrderSideBuy,
		Type:            domain.OrderTypeLimit,
		Price:           price,
		Size:            size,
	}
}

func sampleSell(price, size int64) domain.Order {
	return domain.Order{
		Maker:           "maker2",
		MarketID:        "market1",
		MakerPositionID: "yes-position",
		TakerPositionID: "no-position",
		Side:            domain.OrderSideSell,
		Type:            domain.OrderTypeLimit,
		Price:           price,
		Size:            size,
	}
}

func TestAddOrderAllocatesIDAndDefaults(t *testing.T) {
	s := New(nil, nil, nil, nil)
	o := mustAddOrder(t, s, sampleBuy(500_000, 10))

	if o.OrderID == "" {
		t.Fatalf("expected a generated order id")
	}
	if o.Status != domain.OrderStatusOpen {
		t.Errorf("status = %s, want OPEN", o.Status)
	}
	if o.RemainingSize != 10 {
		t.Errorf("remaining size = %d, want 10", o.RemainingSize)
	}
}

func TestAddOrderRejectsInvalidPrice(t *testing.T) {
	s := New(nil, nil, nil, nil)
	_, err := s.AddOrder(context.Background(), sampleBuy(domain.PriceScale, 10))
	if err == nil {
		t.Fatalf("expected an error for an out-of-range price")
	}
}

func TestFillOrderPartialThenFull(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()
	o := mustAddOrder(t, s, sampleBuy(500_000, 10))

	ok, err := s.FillOrder(ctx, o.OrderID, 4)
	if err != nil || !ok {
		t.Fatalf("FillOrder partial: ok=%v err=%v", ok, err)
	}
	got, err := s.GetOrder(ctx, o.OrderID)
	if err != nil {
		t.Fatalf("GetOrder: %v", err)
	}
	if got.Status != domain.OrderStatusPartiallyFilled || got.RemainingSize != 6 {
		t.Fatalf("after partial fill: status=%s remaining=%d", got.Status, got.RemainingSize)
	}

	ok, err = s.FillOrder(ctx, o.OrderID, 6)
	if err != nil || !ok {
		t.Fatalf("FillOrder full: ok=%v err=%v", ok, err)
	}
	got, _ = s.GetOrder(ctx, o.OrderID)
	if got.Status != domain.OrderStatusFilled || got.RemainingSize != 0 {
		t.Fatalf("after full fill: status=%s remaining=%d", got.Status, got.RemainingSize)
	}
}

func TestFillOrderRejectsOverfill(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()
	o := mustAddOrder(t, s, sampleBuy(500_000, 10))

	if _, err := s.FillOrder(ctx, o.OrderID, 11); err == nil {
		t.Fatalf("expected an error filling beyond remaining size")
	}
}

func TestCancelOrderRemovesFromBook(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()
	o := mustAddOrder(t, s, sampleBuy(500_000, 10))

	ok, err := s.CancelOrder(ctx, o.OrderID)
	if err != nil || !ok {
		t.Fatalf("CancelOrder: ok=%v err=%v", ok, err)
	}

	resting, err := s.RestingOrdersForBook(ctx, "market1", "yes-position", domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("RestingOrdersForBook: %v", err)
	}
	if len(resting) != 0 {
		t.Fatalf("expected no resting orders after cancel, got %d", len(resting))
	}
}

func TestCancelOrderTwiceIsNotOK(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()
	o := mustAddOrder(t, s, sampleBuy(500_000, 10))

	if ok, err := s.CancelOrder(ctx, o.OrderID); err != nil || !ok {
		t.Fatalf("first cancel: ok=%v err=%v", ok, err)
	}
	ok, err := s.CancelOrder(ctx, o.OrderID)
	if err != nil {
		t.Fatalf("second cancel: %v", err)
	}
	if ok {
		t.Fatalf("expected second cancel on a terminal order to report ok=false")
	}
}

func TestGetOrderbookAggregatesLevels(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()

	mustAddOrder(t, s, sampleBuy(400_000, 10))
	mustAddOrder(t, s, sampleBuy(400_000, 5))
	mustAddOrder(t, s, sampleBuy(450_000, 3))
	mustAddOrder(t, s, sampleSell(500_000, 7))

	snap, err := s.GetOrderbook(ctx, "market1", "yes-position")
	if err != nil {
		t.Fatalf("GetOrderbook: %v", err)
	}

	if len(snap.Bids) != 2 {
		t.Fatalf("expected 2 aggregated bid levels, got %d", len(snap.Bids))
	}
	if snap.Bids[0].Price != 450_000 {
		t.Errorf("best bid price = %d, want 450000 (highest first)", snap.Bids[0].Price)
	}
	if snap.Bids[1].Price != 400_000 || snap.Bids[1].Size != 15 || snap.Bids[1].OrderCount != 2 {
		t.Errorf("aggregated level = %+v, want price=400000 size=15 count=2", snap.Bids[1])
	}
	if len(snap.Asks) != 1 || snap.Asks[0].Size != 7 {
		t.Fatalf("asks = %+v", snap.Asks)
	}
}

func TestRestingOrdersForBookSelectsBySide(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()

	mustAddOrder(t, s, sampleBuy(500_000, 10))
	mustAddOrder(t, s, sampleSell(500_000, 5))

	buys, err := s.RestingOrdersForBook(ctx, "market1", "yes-position", domain.OrderSideBuy)
	if err != nil {
		t.Fatalf("RestingOrdersForBook buy: %v", err)
	}
	if len(buys) != 1 || buys[0].Side != domain.OrderSideBuy {
		t.Fatalf("expected one resting buy, got %+v", buys)
	}

	sells, err := s.RestingOrdersForBook(ctx, "market1", "yes-position", domain.OrderSideSell)
	if err != nil {
		t.Fatalf("RestingOrdersForBook sell: %v", err)
	}
	if len(sells) != 1 || sells[0].Side != domain.OrderSideSell {
		t.Fatalf("expected one resting sell, got %+v", sells)
	}
}

func TestMarketStoreAddGetUpdate(t *testing.T) {
	s := New(nil, nil, nil, nil)
	ctx := context.Background()

	m := domain.Market{
		MarketID:      "market1",
		YesPositionID: "yes-position",
		NoPositionID:  "no-position",
		YesPrice:      500_000,
		NoPrice:       500_000,
	}
	if err := s.AddMarket(ctx, m); err != nil {
		t.Fatalf("AddMarket: %v", err)
	}

	if err := s.AddMarket(ctx, m); err == nil {
		t.Fatalf("expected an error re-adding an existing market")
	}

	if err := s.UpdateMarketPrices(ctx, "market1", 600_000, 400_000); err != nil {
		t.Fatalf("UpdateMarketPrices: %v", err)
	}

	got, err := s.GetMarket(ctx, "market1")
	if err != nil {
		t.Fatalf("GetMarket: %v", err)
	}
	if got.YesPrice != 600_000 || got.NoPrice != 400_000 {
		t.Errorf("prices = %d/%d, want 600000/400000", got.YesPrice, got.NoPrice)
	}

	all, err := s.GetAllMarkets(ctx)
	if err != nil {
		t.Fatalf("GetAllMarkets: %v", err)
	}
	if len(all) != 1 {
		t.Fatalf("expected 1 market, got %d", len(all))
	}
}
