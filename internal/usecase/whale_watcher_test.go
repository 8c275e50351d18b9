package usecase

import (
	"context"
	"errors"
	"testing"
	"time"

	"TradePulse/internal/domain/models"
)

type scriptedChain struct {
	transfers []*models.WhaleEvent
	err       error
}

func (c *scriptedChain) FetchTransfers(context.Context, string, float64) ([]*models.WhaleEvent, error) {
	return c.transfers, c.err
}

func TestWhaleWatcherResolvesAndStores(t *testing.T) {
	store := &fakeStore{coins: []*models.WhaleCoin{
		{Symbol: "BTCUSDT", Chain: "eth", ContractAddr: "0xWBTC", Exchange: "binance", Active: true},
	}}
	chain := &scriptedChain{transfers: []*models.WhaleEvent{
		{Token: "0xwbtc", Amount: 5_000_000, TxHash: "0xabc"},
		{Token: "0xunknown", Amount: 9_000_000, TxHash: "0xdef"},
	}}
	w := NewWhaleWatcher(chain, store, WhaleConfig{Chain: "eth", MinAmount: 1_000_000}, testLogger(t), newFakeMetrics())

	w.poll(context.Background())

	events, _ := store.FetchWhaleEvents(context.Background(), "", 10)
	if len(events) != 1 {
		t.Fatalf("stored %d events, want 1 (unknown contract dropped)", len(events))
	}
	e := events[0]
	if e.Symbol != "BTCUSDT" || e.Exchange != "binance" || e.Chain != "eth" {
		t.Fatalf("event not resolved: %+v", e)
	}
	if e.EventID == "" {
		t.Fatal("event id not assigned")
	}
}

func TestWhaleWatcherHeartbeat(t *testing.T) {
	store := &fakeStore{}
	chain := &scriptedChain{}
	w := NewWhaleWatcher(chain, store, WhaleConfig{Chain: "eth"}, testLogger(t), newFakeMetrics())

	if w.Alive(time.Minute) {
		t.Fatal("alive before first poll")
	}
	w.poll(context.Background())
	if !w.Alive(time.Minute) {
		t.Fatal("not alive after successful poll")
	}

	chain.err = errors.New("rpc down")
	w.poll(context.Background())
	// a failed poll must not advance the heartbeat
	if !w.Alive(time.Minute) {
		t.Fatal("previous heartbeat lost")
	}
}
