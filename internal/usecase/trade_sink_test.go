package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"TradePulse/internal/domain/models"
)

type capturingPublisher struct {
	mu      sync.Mutex
	trades  []*models.Trade
	batches int
}

func (p *capturingPublisher) Publish(_ context.Context, t *models.Trade) error {
	p.mu.Lock()
	p.trades = append(p.trades, t)
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) PublishBatch(_ context.Context, trades []*models.Trade) error {
	p.mu.Lock()
	p.trades = append(p.trades, trades...)
	p.batches++
	p.mu.Unlock()
	return nil
}

func (p *capturingPublisher) Close() error { return nil }

func sinkTrade(symbol string, price float64) *models.Trade {
	return &models.Trade{Symbol: symbol, Market: models.MarketSpot, Price: price, Size: 1, Side: "buy", Ts: time.Now()}
}

func TestTradeSinkStoresAndPushes(t *testing.T) {
	store := &fakeStore{}
	fanout, _ := newTestFanout(t)
	conn := &fakeConn{}
	fanout.Connect(btcSpot, conn)

	sink := NewTradeSink(store, nil, fanout, testLogger(t), newFakeMetrics())
	sink.Handle(context.Background(), sinkTrade("BTCUSDT", 42))

	if len(store.trades) != 1 {
		t.Fatalf("stored %d trades, want 1", len(store.trades))
	}
	// one trade frame plus the rolled live candle
	fanout.Flush()
	if got := len(conn.received()); got != 2 {
		t.Fatalf("subscriber got %d frames, want 2", got)
	}
}

func TestTradeSinkHonorsStoreLiveSetting(t *testing.T) {
	store := &fakeStore{}
	fanout, _ := newTestFanout(t)
	conn := &fakeConn{}
	fanout.Connect(btcSpot, conn)

	sink := NewTradeSink(store, nil, fanout, testLogger(t), newFakeMetrics())
	sink.SetStoreLive(btcSpot, false)
	sink.Handle(context.Background(), sinkTrade("BTCUSDT", 42))

	if len(store.trades) != 0 {
		t.Fatalf("stored %d trades with store_live off", len(store.trades))
	}
	// live push still happens
	fanout.Flush()
	if got := len(conn.received()); got != 2 {
		t.Fatalf("subscriber got %d frames, want 2", got)
	}
}

func TestTradeSinkPublishesToBackend(t *testing.T) {
	store := &fakeStore{}
	pub := &capturingPublisher{}
	fanout, _ := newTestFanout(t)

	sink := NewTradeSink(store, pub, fanout, testLogger(t), newFakeMetrics())
	sink.Handle(context.Background(), sinkTrade("BTCUSDT", 42))

	if len(pub.trades) != 1 {
		t.Fatalf("published %d trades, want 1", len(pub.trades))
	}
	if len(store.trades) != 0 {
		t.Fatalf("kafka backend must bypass direct store writes, stored %d", len(store.trades))
	}
}

func TestTradeSinkBatchesBufferedTrades(t *testing.T) {
	store := &fakeStore{}
	fanout, _ := newTestFanout(t)
	conn := &fakeConn{}
	fanout.Connect(btcSpot, conn)
	sink := NewTradeSink(store, nil, fanout, testLogger(t), newFakeMetrics())

	in := make(chan *models.Trade, 8)
	for i := 0; i < 3; i++ {
		in <- sinkTrade("BTCUSDT", float64(i+1))
	}
	close(in)
	sink.Run(context.Background(), in)

	if len(store.trades) != 3 {
		t.Fatalf("stored %d trades, want 3", len(store.trades))
	}
	if store.batches != 1 {
		t.Fatalf("buffered burst took %d batch writes, want 1", store.batches)
	}
	// the push path stays last-value-wins: one trade frame and one
	// candle frame regardless of burst size
	fanout.Flush()
	if got := len(conn.received()); got != 2 {
		t.Fatalf("subscriber got %d frames, want 2", got)
	}
}

func TestTradeSinkBatchPublishesToBackend(t *testing.T) {
	store := &fakeStore{}
	pub := &capturingPublisher{}
	fanout, _ := newTestFanout(t)
	sink := NewTradeSink(store, pub, fanout, testLogger(t), newFakeMetrics())

	sink.HandleBatch(context.Background(), []*models.Trade{
		sinkTrade("BTCUSDT", 1),
		sinkTrade("BTCUSDT", 2),
	})

	if pub.batches != 1 || len(pub.trades) != 2 {
		t.Fatalf("published %d trades in %d batches, want 2 in 1", len(pub.trades), pub.batches)
	}
	if len(store.trades) != 0 {
		t.Fatalf("kafka backend must bypass direct store writes, stored %d", len(store.trades))
	}
}

func TestTradeSinkRollsLiveCandles(t *testing.T) {
	store := &fakeStore{}
	fanout, _ := newTestFanout(t)
	sink := NewTradeSink(store, nil, fanout, testLogger(t), newFakeMetrics())
	sink.SetChartResolution(btcSpot, "1m")

	base := time.Date(2024, 6, 1, 12, 0, 10, 0, time.UTC)
	bar := sink.rollCandle(btcSpot, &models.Trade{Symbol: "BTCUSDT", Market: models.MarketSpot, Price: 100, Size: 1, Ts: base})
	if bar.Open != 100 || bar.Close != 100 || bar.Volume != 1 {
		t.Fatalf("unexpected first bar %+v", bar)
	}
	if !bar.Ts.Equal(time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC)) {
		t.Fatalf("bar not aligned to bucket: %v", bar.Ts)
	}

	bar = sink.rollCandle(btcSpot, &models.Trade{Symbol: "BTCUSDT", Market: models.MarketSpot, Price: 120, Size: 2, Ts: base.Add(20 * time.Second)})
	if bar.Open != 100 || bar.High != 120 || bar.Close != 120 || bar.Volume != 3 {
		t.Fatalf("bar did not aggregate: %+v", bar)
	}

	// next minute opens a fresh bucket
	bar = sink.rollCandle(btcSpot, &models.Trade{Symbol: "BTCUSDT", Market: models.MarketSpot, Price: 90, Size: 1, Ts: base.Add(time.Minute)})
	if bar.Open != 90 || bar.Volume != 1 {
		t.Fatalf("bucket did not roll: %+v", bar)
	}
}

func TestTradeSinkLoadSettings(t *testing.T) {
	store := &fakeStore{settings: []*models.CoinSetting{
		{Symbol: "BTCUSDT", Market: models.MarketSpot, StoreLive: false},
	}}
	fanout, _ := newTestFanout(t)
	sink := NewTradeSink(store, nil, fanout, testLogger(t), newFakeMetrics())

	settings, err := sink.LoadSettings(context.Background())
	if err != nil {
		t.Fatalf("load settings: %v", err)
	}
	if len(settings) != 1 {
		t.Fatalf("loaded %d settings, want 1", len(settings))
	}
	if sink.shouldStore(btcSpot) {
		t.Fatal("store_live=false setting not applied")
	}
	if !sink.shouldStore(ethSpot) {
		t.Fatal("unknown key should default to persisted")
	}
}
