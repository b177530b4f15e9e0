package matching

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"testing"
	"time"

	"github.com/clobx/clobd/internal/domain"
)

// fakeStore is a minimal, deterministic domain.OrderStore + domain.MarketStore
// used to drive the engine without real lock/cache/clock collaborators and
// with explicit control over CreatedAt ordering.
type fakeStore struct {
	markets map[string]domain.Market
	orders  map[string]domain.Order
}

func newFakeStore() *fakeStore {
	return &fakeStore{
		markets: make(map[string]domain.Market),
		orders:  make(map[string]domain.Order),
	}
}

func (f *fakeStore) addMarket(m domain.Market) { f.markets[m.MarketID] = m }

func (f *fakeStore) GetAllMarkets(ctx context.Context) ([]domain.Market, error) {
	out := make([]domain.Market, 0, len(f.markets))
	for _, m := range f.markets {
		out = append(out, m)
	}
	return out, nil
}

func (f *fakeStore) GetMarket(ctx context.Context, marketID string) (domain.Market, error) {
	return f.markets[marketID], nil
}

func (f *fakeStore) AddMarket(ctx context.Context, market domain.Market) error {
	f.markets[market.MarketID] = market
	return nil
}

func (f *fakeStore) UpdateMarketPrices(ctx context.Context, marketID string, yesPrice, noPrice int64) error {
	m := f.markets[marketID]
	m.YesPrice = yesPrice
	m.NoPrice = noPrice
	f.markets[marketID] = m
	return nil
}

// seed registers a resting order directly, bypassing validation, with an
// explicit CreatedAt for deterministic price-time priority in tests.
func (f *fakeStore) seed(o domain.Order) domain.Order {
	o.RemainingSize = o.Size - o.FilledSize
	o.Status = domain.OrderStatusOpen
	if o.RemainingSize < o.Size {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	f.orders[o.OrderID] = o
	return o
}

func (f *fakeStore) AddOrder(ctx context.Context, in domain.Order) (domain.Order, error) {
	return f.seed(in), nil
}

func (f *fakeStore) GetOrder(ctx context.Context, orderID string) (domain.Order, error) {
	return f.orders[orderID], nil
}

func (f *fakeStore) GetMarketOrders(ctx context.Context, marketID string) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeStore) GetUserOrders(ctx context.Context, maker string) ([]domain.Order, error) {
	return nil, nil
}

func (f *fakeStore) FillOrder(ctx context.Context, orderID string, fillSize int64) (bool, error) {
	o, ok := f.orders[orderID]
	if !ok || o.Status.Terminal() || fillSize > o.RemainingSize {
		return false, nil
	}
	o.FilledSize += fillSize
	o.RemainingSize -= fillSize
	if o.RemainingSize == 0 {
		o.Status = domain.OrderStatusFilled
	} else {
		o.Status = domain.OrderStatusPartiallyFilled
	}
	f.orders[orderID] = o
	return true, nil
}

func (f *fakeStore) CancelOrder(ctx context.Context, orderID string) (bool, error) {
	o, ok := f.orders[orderID]
	if !ok || o.Status.Terminal() {
		return false, nil
	}
	o.Status = domain.OrderStatusCancelled
	f.orders[orderID] = o
	return true, nil
}

func (f *fakeStore) ExpireOrder(ctx context.Context, orderID string) (bool, error) {
	o, ok := f.orders[orderID]
	if !ok || o.Status.Terminal() {
		return false, nil
	}
	o.Status = domain.OrderStatusExpired
	f.orders[orderID] = o
	return true, nil
}

func (f *fakeStore) GetOrderbook(ctx context.Context, marketID, positionID string) (domain.OrderbookSnapshot, error) {
	return domain.OrderbookSnapshot{MarketID: marketID, PositionID: positionID}, nil
}

func (f *fakeStore) RestingOrdersForBook(ctx context.Context, marketID, outcomePositionID string, side domain.OrderSide) ([]domain.Order, error) {
	var out []domain.Order
	for _, o := range f.orders {
		if o.MarketID != marketID || o.Side != side || !o.Status.Resting() {
			continue
		}
		if o.OutcomePositionID() != outcomePositionID {
			continue
		}
		out = append(out, o)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Price != out[j].Price {
			if side == domain.OrderSideBuy {
				return out[i].Price > out[j].Price
			}
			return out[i].Price < out[j].Price
		}
		return out[i].CreatedAt < out[j].CreatedAt
	})
	return out, nil
}

func (f *fakeStore) RestoreFromPersistence(ctx context.Context) error { return nil }

// fakeTradeLog records every trade in memory, in append order.
type fakeTradeLog struct {
	trades  []domain.Trade
	txHashByID map[string]string
}

func newFakeTradeLog() *fakeTradeLog {
	return &fakeTradeLog{txHashByID: make(map[string]string)}
}

func (l *fakeTradeLog) RecordTrade(ctx context.Context, trade domain.Trade) error {
	l.trades = append(l.trades, trade)
	return nil
}

func (l *fakeTradeLog) GetTrade(ctx context.Context, tradeID string) (domain.Trade, error) {
	for _, t := range l.trades {
		if t.TradeID == tradeID {
			return t, nil
		}
	}
	return domain.Trade{}, domain.ErrNotFound
}

func (l *fakeTradeLog) SetTxHash(ctx context.Context, tradeID, txHash string) error {
	l.txHashByID[tradeID] = txHash
	return nil
}

func (l *fakeTradeLog) ListByMarket(ctx context.Context, marketID string, opts domain.ListOpts) ([]domain.Trade, error) {
	var out []domain.Trade
	for _, t := range l.trades {
		if t.MarketID == marketID {
			out = append(out, t)
		}
	}
	return out, nil
}

const (
	testMarketID = "market-1"
	testYesPos   = "yes-position"
	testNoPos    = "no-position"
)

func testMarket() domain.Market {
	return domain.Market{
		MarketID:      testMarketID,
		ConditionID:   "condition-1",
		Question:      "will it happen",
		YesPositionID: testYesPos,
		NoPositionID:  testNoPos,
		YesPrice:      500_000,
		NoPrice:       500_000,
	}
}

func order(id, maker string, side domain.OrderSide, makerPos, takerPos string, price, size, createdAt int64) domain.Order {
	return domain.Order{
		OrderID:         id,
		Maker:           maker,
		MarketID:        testMarketID,
		ConditionID:     "condition-1",
		MakerPositionID: makerPos,
		TakerPositionID: takerPos,
		Side:            side,
		Type:            domain.OrderTypeLimit,
		Price:           price,
		Size:            size,
		CreatedAt:       createdAt,
	}
}

func buyYes(id, maker string, price, size, createdAt int64) domain.Order {
	return order(id, maker, domain.OrderSideBuy, testNoPos, testYesPos, price, size, createdAt)
}

func sellYes(id, maker string, price, size, createdAt int64) domain.Order {
	return order(id, maker, domain.OrderSideSell, testYesPos, testNoPos, price, size, createdAt)
}

func buyNo(id, maker string, price, size, createdAt int64) domain.Order {
	return order(id, maker, domain.OrderSideBuy, testYesPos, testNoPos, price, size, createdAt)
}

func sellNo(id, maker string, price, size, createdAt int64) domain.Order {
	return order(id, maker, domain.OrderSideSell, testNoPos, testYesPos, price, size, createdAt)
}

func newTestEngine(store *fakeStore, trades *fakeTradeLog) *Engine {
	e := New(store, store, trades, nil, nil, time.Second, slog.Default())
	n := 0
	e.newTradeID = func() string {
		n++
		return fmt.Sprintf("trade-%d", n)
	}
	return e
}

func TestCrossedLimitOrdersProduceNormalTrade(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(sellYes("resting-ask", "seller", 550_000, 100, 1))
	store.seed(buyYes("incoming-bid", "buyer", 600_000, 100, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades.trades))
	}
	tr := trades.trades[0]
	if tr.TradeType != domain.TradeTypeNormal {
		t.Errorf("trade type = %s, want NORMAL", tr.TradeType)
	}
	if tr.Price != 550_000 {
		t.Errorf("price = %d, want 550000 (resting maker's price)", tr.Price)
	}
	if tr.Size != 100 {
		t.Errorf("size = %d, want 100", tr.Size)
	}
	if store.orders["resting-ask"].Status != domain.OrderStatusFilled {
		t.Errorf("resting-ask status = %s, want FILLED", store.orders["resting-ask"].Status)
	}
	if store.orders["incoming-bid"].Status != domain.OrderStatusFilled {
		t.Errorf("incoming-bid status = %s, want FILLED", store.orders["incoming-bid"].Status)
	}
}

func TestPriceTimePriorityFillsOlderOrderFirst(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	// two asks at the same price; the older one must fill first.
	store.seed(sellYes("ask-old", "seller1", 500_000, 50, 1))
	store.seed(sellYes("ask-new", "seller2", 500_000, 50, 2))
	store.seed(buyYes("bid", "buyer", 500_000, 50, 3))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades.trades))
	}
	if trades.trades[0].MakerOrderID != "ask-old" {
		t.Errorf("maker order = %s, want ask-old", trades.trades[0].MakerOrderID)
	}
	if store.orders["ask-old"].Status != domain.OrderStatusFilled {
		t.Errorf("ask-old status = %s, want FILLED", store.orders["ask-old"].Status)
	}
	if store.orders["ask-new"].Status != domain.OrderStatusOpen {
		t.Errorf("ask-new status = %s, want OPEN (untouched)", store.orders["ask-new"].Status)
	}
}

func TestComplementaryBuysMintNewPair(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(buyYes("buy-yes", "alice", 600_000, 100, 1))
	store.seed(buyNo("buy-no", "bob", 400_000, 100, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades.trades))
	}
	tr := trades.trades[0]
	if tr.TradeType != domain.TradeTypeMint {
		t.Errorf("trade type = %s, want MINT", tr.TradeType)
	}
	if tr.Price != 600_000 {
		t.Errorf("price = %d, want 600000 (older order's price)", tr.Price)
	}
	if store.orders["buy-yes"].Status != domain.OrderStatusFilled || store.orders["buy-no"].Status != domain.OrderStatusFilled {
		t.Errorf("both legs should be FILLED: yes=%s no=%s", store.orders["buy-yes"].Status, store.orders["buy-no"].Status)
	}
}

func TestComplementarySellsMergePair(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(sellYes("sell-yes", "alice", 600_000, 100, 1))
	store.seed(sellNo("sell-no", "bob", 400_000, 100, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 1 {
		t.Fatalf("got %d trades, want 1", len(trades.trades))
	}
	tr := trades.trades[0]
	if tr.TradeType != domain.TradeTypeMerge {
		t.Errorf("trade type = %s, want MERGE", tr.TradeType)
	}
	if tr.Price != 600_000 {
		t.Errorf("price = %d, want 600000 (older order's price)", tr.Price)
	}
}

func TestNonCrossingOrdersDoNotMatch(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(sellYes("ask", "seller", 600_000, 50, 1))
	store.seed(buyYes("bid", "buyer", 500_000, 50, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 0 {
		t.Fatalf("got %d trades, want 0 (bid below ask)", len(trades.trades))
	}
}

func TestMintOutsideToleranceDoesNotCross(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	// sum = 900000, far short of PriceScale - epsilon.
	store.seed(buyYes("buy-yes", "alice", 500_000, 50, 1))
	store.seed(buyNo("buy-no", "bob", 400_000, 50, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 0 {
		t.Fatalf("got %d trades, want 0 (sum outside mint tolerance)", len(trades.trades))
	}
}

func TestPartialFillLeavesRemainderResting(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(sellYes("ask", "seller", 500_000, 100, 1))
	store.seed(buyYes("bid", "buyer", 500_000, 40, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	if len(trades.trades) != 1 || trades.trades[0].Size != 40 {
		t.Fatalf("trades = %+v, want one trade of size 40", trades.trades)
	}
	ask := store.orders["ask"]
	if ask.Status != domain.OrderStatusPartiallyFilled || ask.RemainingSize != 60 {
		t.Errorf("ask = %+v, want PARTIALLY_FILLED with remaining 60", ask)
	}
	bid := store.orders["bid"]
	if bid.Status != domain.OrderStatusFilled {
		t.Errorf("bid status = %s, want FILLED", bid.Status)
	}
}

func TestUpdatesMarketPricesAfterTrade(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(sellYes("ask", "seller", 550_000, 100, 1))
	store.seed(buyYes("bid", "buyer", 600_000, 100, 2))

	trades := newFakeTradeLog()
	e := newTestEngine(store, trades)
	e.processMarket(context.Background(), m)

	updated := store.markets[testMarketID]
	if updated.YesPrice+updated.NoPrice != domain.PriceScale {
		t.Errorf("yes+no = %d, want %d", updated.YesPrice+updated.NoPrice, domain.PriceScale)
	}
	if updated.YesPrice == m.YesPrice {
		t.Errorf("yes price unchanged at %d after a trade", updated.YesPrice)
	}
}

type fakeFeedPublisher struct {
	events []domain.FeedEvent
}

func (f *fakeFeedPublisher) Publish(event domain.FeedEvent) {
	f.events = append(f.events, event)
}

func TestPublishesTradeAndPriceEventsToFeed(t *testing.T) {
	store := newFakeStore()
	m := testMarket()
	store.addMarket(m)
	store.seed(sellYes("ask", "seller", 550_000, 100, 1))
	store.seed(buyYes("bid", "buyer", 600_000, 100, 2))

	trades := newFakeTradeLog()
	feed := &fakeFeedPublisher{}
	e := New(store, store, trades, nil, feed, time.Second, slog.Default())
	e.processMarket(context.Background(), m)

	var sawTrade, sawPrice bool
	for _, evt := range feed.events {
		switch evt.Type {
		case "trade":
			sawTrade = true
		case "price":
			sawPrice = true
		}
		if evt.MarketID != testMarketID {
			t.Errorf("event market id = %s, want %s", evt.MarketID, testMarketID)
		}
	}
	if !sawTrade || !sawPrice {
		t.Errorf("events = %+v, want both trade and price events", feed.events)
	}
}
