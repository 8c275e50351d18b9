package usecase

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
)

func TestRegistryStartsAtMostOneCollectorPerKey(t *testing.T) {
	var built atomic.Int32
	factory := func(key models.SymbolKey) drepo.MarketStream {
		built.Add(1)
		return &fakeStream{key: key}
	}
	reg := NewCollectorRegistry(factory, CollectorConfig{}, 16, testLogger(t), newFakeMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx)
	reg.Ensure(btcSpot)
	reg.Ensure(btcSpot)
	reg.Ensure(btcSpot)

	time.Sleep(20 * time.Millisecond)
	if n := built.Load(); n != 1 {
		t.Fatalf("factory called %d times, want 1", n)
	}
	if got := len(reg.Keys()); got != 1 {
		t.Fatalf("registry tracks %d keys, want 1", got)
	}
	reg.Shutdown()
}

func TestCollectorForwardsTrades(t *testing.T) {
	trade := &models.Trade{Symbol: "BTCUSDT", Market: models.MarketSpot, Price: 42, Size: 1, Side: "buy", Ts: time.Now()}
	factory := func(key models.SymbolKey) drepo.MarketStream {
		return &fakeStream{key: key, trades: []*models.Trade{trade}}
	}
	reg := NewCollectorRegistry(factory, CollectorConfig{}, 16, testLogger(t), newFakeMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx)
	reg.Ensure(btcSpot)
	select {
	case got := <-reg.Trades():
		if got.Price != 42 {
			t.Fatalf("unexpected trade %+v", got)
		}
	case <-time.After(time.Second):
		t.Fatal("no trade delivered")
	}
	cancel()
	reg.Shutdown()
}

func TestCollectorGoesDownAfterRepeatedFailures(t *testing.T) {
	factory := func(key models.SymbolKey) drepo.MarketStream {
		return &fakeStream{key: key, connectErr: errors.New("dial refused")}
	}
	metrics := newFakeMetrics()
	reg := NewCollectorRegistry(factory, CollectorConfig{
		ReconnectDelay:    time.Millisecond,
		MaxReconnectDelay: 2 * time.Millisecond,
		DownThreshold:     3,
	}, 16, testLogger(t), metrics)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx)
	reg.Ensure(btcSpot)
	deadline := time.Now().Add(time.Second)
	for !reg.Down(btcSpot) {
		if time.Now().After(deadline) {
			t.Fatal("collector never went down")
		}
		time.Sleep(5 * time.Millisecond)
	}
	reg.Shutdown()
}

func TestCollectorRetriesWhenStreamCloses(t *testing.T) {
	out := make(chan *models.Trade, 16)

	// the stream buffers its terminal error and closes both channels,
	// so the closed trades channel and the buffered error are ready in
	// the same select; whichever wins, the cycle must report a retryable
	// error, never a clean shutdown
	factory := func(key models.SymbolKey) drepo.MarketStream {
		return &fakeStream{key: key, readErr: errors.New("connection reset")}
	}
	c := NewLiveCollector(btcSpot, factory, CollectorConfig{}, out, testLogger(t), newFakeMetrics())
	for i := 0; i < 100; i++ {
		delivered, err := c.collect(context.Background())
		if err == nil {
			t.Fatalf("iteration %d: upstream disconnect treated as clean shutdown", i)
		}
		if delivered {
			t.Fatalf("iteration %d: no trade was sent", i)
		}
	}

	// a stream that closes without reporting anything must also retry
	factory = func(key models.SymbolKey) drepo.MarketStream {
		return &fakeStream{key: key, eof: true}
	}
	c = NewLiveCollector(btcSpot, factory, CollectorConfig{}, out, testLogger(t), newFakeMetrics())
	if _, err := c.collect(context.Background()); err == nil {
		t.Fatal("silent stream end treated as clean shutdown")
	}
}

func TestRegistryRemoveStopsCollector(t *testing.T) {
	factory := func(key models.SymbolKey) drepo.MarketStream {
		return &fakeStream{key: key}
	}
	reg := NewCollectorRegistry(factory, CollectorConfig{}, 16, testLogger(t), newFakeMetrics())
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	reg.Start(ctx)
	reg.Ensure(btcSpot)
	reg.Remove(btcSpot)
	if got := len(reg.Keys()); got != 0 {
		t.Fatalf("registry still tracks %d keys", got)
	}
	reg.Shutdown()
}
