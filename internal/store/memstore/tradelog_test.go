package memstore

import (
	"context"
	"errors"
	"testing"

	"github.com/clobx/clobd/internal/domain"
)

func TestTradeLogListByMarketReturnsNewestFirst(t *testing.T) {
	log := NewTradeLog()
	ctx := context.Background()

	log.RecordTrade(ctx, domain.Trade{TradeID: "t1", MarketID: "m1", Timestamp: 100})
	log.RecordTrade(ctx, domain.Trade{TradeID: "t2", MarketID: "m1", Timestamp: 300})
	log.RecordTrade(ctx, domain.Trade{TradeID: "t3", MarketID: "m1", Timestamp: 200})

	trades, err := log.ListByMarket(ctx, "m1", domain.ListOpts{Limit: 10})
	if err != nil {
		t.Fatal(err)
	}
	if len(trades) != 3 {
		t.Fatalf("got %d trades, want 3", len(trades))
	}
	if trades[0].TradeID != "t2" || trades[1].TradeID != "t3" || trades[2].TradeID != "t1" {
		t.Errorf("order = %v, want t2,t3,t1 (newest first)", []string{trades[0].TradeID, trades[1].TradeID, trades[2].TradeID})
	}
}

func TestTradeLogSetTxHash(t *testing.T) {
	log := NewTradeLog()
	ctx := context.Background()
	log.RecordTrade(ctx, domain.Trade{TradeID: "t1", MarketID: "m1"})

	if err := log.SetTxHash(ctx, "t1", "0xabc"); err != nil {
		t.Fatal(err)
	}
	trade, err := log.GetTrade(ctx, "t1")
	if err != nil {
		t.Fatal(err)
	}
	if trade.TxHash == nil || *trade.TxHash != "0xabc" {
		t.Errorf("tx hash = %v, want 0xabc", trade.TxHash)
	}
}

func TestTradeLogGetMissingTradeReturnsNotFound(t *testing.T) {
	log := NewTradeLog()
	_, err := log.GetTrade(context.Background(), "missing")
	if !errors.Is(err, domain.ErrNotFound) {
		t.Fatalf("err = %v, want ErrNotFound", err)
	}
}

func TestTradeLogListByMarketPaginates(t *testing.T) {
	log := NewTradeLog()
	ctx := context.Background()
	for i := 0; i < 5; i++ {
		log.RecordTrade(ctx, domain.Trade{TradeID: string(rune('a' + i)), MarketID: "m1", Timestamp: int64(i)})
	}

	page, err := log.ListByMarket(ctx, "m1", domain.ListOpts{Limit: 2, Offset: 1})
	if err != nil {
		t.Fatal(err)
	}
	if len(page) != 2 {
		t.Fatalf("got %d trades, want 2", len(page))
	}
}
