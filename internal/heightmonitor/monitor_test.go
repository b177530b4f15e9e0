package heightmonitor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"

	"github.com/clobx/clobd/internal/domain"
	"github.com/clobx/clobd/internal/store/memstore"
)

type fakeHeightSource struct {
	height atomic.Int64
	err    error
}

func (f *fakeHeightSource) Height(ctx context.Context) (int64, error) {
	if f.err != nil {
		return 0, f.err
	}
	return f.height.Load(), nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(discardWriter{}, nil))
}

type discardWriter struct{}

func (discardWriter) Write(p []byte) (int, error) { return len(p), nil }

func testMarket(id string) domain.Market {
	return domain.Market{
		MarketID:      id,
		ConditionID:   "0x" + id,
		YesPositionID: id + "-yes",
		NoPositionID:  id + "-no",
		YesPrice:      500_000,
		NoPrice:       500_000,
	}
}

func TestPollAdvancesHeightAndExpiresOrders(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil, nil, nil, discardLogger())

	market := testMarket("m1")
	if err := store.AddMarket(ctx, market); err != nil {
		t.Fatal(err)
	}

	expiring, err := store.AddOrder(ctx, domain.Order{
		Maker: "ST1", MarketID: "m1", ConditionID: market.ConditionID,
		MakerPositionID: market.NoPositionID, TakerPositionID: market.YesPositionID,
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Price: 500_000, Size: 10, Expiration: 100,
	})
	if err != nil {
		t.Fatal(err)
	}

	notExpiring, err := store.AddOrder(ctx, domain.Order{
		Maker: "ST2", MarketID: "m1", ConditionID: market.ConditionID,
		MakerPositionID: market.NoPositionID, TakerPositionID: market.YesPositionID,
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Price: 500_000, Size: 10, Expiration: 0,
	})
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeHeightSource{}
	src.height.Store(150)

	mon := New(src, store, store, discardLogger())
	mon.poll(ctx)

	if mon.Height() != 150 {
		t.Fatalf("height = %d, want 150", mon.Height())
	}

	got, err := store.GetOrder(ctx, expiring.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusExpired {
		t.Errorf("expiring order status = %s, want EXPIRED", got.Status)
	}

	got, err = store.GetOrder(ctx, notExpiring.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusOpen {
		t.Errorf("zero-expiration order status = %s, want OPEN", got.Status)
	}
}

func TestPollDoesNotRewindHeightOnDecrease(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil, nil, nil, discardLogger())

	src := &fakeHeightSource{}
	src.height.Store(200)

	mon := New(src, store, store, discardLogger())
	mon.poll(ctx)
	if mon.Height() != 200 {
		t.Fatalf("height = %d, want 200", mon.Height())
	}

	src.height.Store(100)
	mon.poll(ctx)
	if mon.Height() != 200 {
		t.Errorf("height rewound to %d after a lower poll", mon.Height())
	}
}

func TestPollFailureLeavesHeightUnchanged(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil, nil, nil, discardLogger())

	src := &fakeHeightSource{}
	src.height.Store(50)
	mon := New(src, store, store, discardLogger())
	mon.poll(ctx)

	src.err = errors.New("node unreachable")
	mon.poll(ctx)

	if mon.Height() != 50 {
		t.Errorf("height = %d after failed poll, want unchanged 50", mon.Height())
	}
}

func TestResolvedMarketsAreSkipped(t *testing.T) {
	ctx := context.Background()
	store := memstore.New(nil, nil, nil, discardLogger())

	market := testMarket("m2")
	market.Resolved = true
	if err := store.AddMarket(ctx, market); err != nil {
		t.Fatal(err)
	}

	order, err := store.AddOrder(ctx, domain.Order{
		Maker: "ST1", MarketID: "m2", ConditionID: market.ConditionID,
		MakerPositionID: market.NoPositionID, TakerPositionID: market.YesPositionID,
		Side: domain.OrderSideBuy, Type: domain.OrderTypeLimit,
		Price: 500_000, Size: 10, Expiration: 10,
	})
	if err != nil {
		t.Fatal(err)
	}

	src := &fakeHeightSource{}
	src.height.Store(1000)
	mon := New(src, store, store, discardLogger())
	mon.poll(ctx)

	got, err := store.GetOrder(ctx, order.OrderID)
	if err != nil {
		t.Fatal(err)
	}
	if got.Status != domain.OrderStatusOpen {
		t.Errorf("order in resolved market was expired, status = %s", got.Status)
	}
}
