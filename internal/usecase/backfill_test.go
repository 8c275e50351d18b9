package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/service/ratelimit"
)

// scriptedHistory replays canned responses and records every endTs.
type scriptedHistory struct {
	mu      sync.Mutex
	pages   []scriptedPage
	call    int
	endTs   []int64
	closed  bool
}

type scriptedPage struct {
	bars []models.Bar
	err  error
}

func barAt(tsMs int64) models.Bar {
	return models.Bar{
		Symbol: "BTCUSDT", Market: models.MarketSpot,
		Open: 1, High: 2, Low: 0.5, Close: 1.5, Volume: 10,
		Ts: time.UnixMilli(tsMs).UTC(), Resolution: "1m",
	}
}

func (h *scriptedHistory) FetchPage(_ context.Context, _ string, _ models.Market, _ string, endTs int64, _ int) (*drepo.HistoryPage, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.endTs = append(h.endTs, endTs)
	if h.call >= len(h.pages) {
		return &drepo.HistoryPage{}, nil
	}
	p := h.pages[h.call]
	h.call++
	if p.err != nil {
		return nil, p.err
	}
	return &drepo.HistoryPage{Bars: p.bars}, nil
}

func (h *scriptedHistory) Close() error {
	h.mu.Lock()
	h.closed = true
	h.mu.Unlock()
	return nil
}

func newTestEngine(t *testing.T, h *scriptedHistory, store *fakeStore) *BackfillEngine {
	t.Helper()
	pacer, err := ratelimit.NewPacer(1000, 15)
	if err != nil {
		t.Fatalf("pacer: %v", err)
	}
	e := NewBackfillEngine(h, store, pacer, BackfillConfig{PageLimit: 2, RetryDelay: time.Millisecond}, testLogger(t))
	e.now = func() time.Time { return time.UnixMilli(10_000) }
	return e
}

func TestBackfillWalksBackAndStopsOnEmptyPage(t *testing.T) {
	h := &scriptedHistory{pages: []scriptedPage{
		{bars: []models.Bar{barAt(9_000), barAt(8_000)}},
		{bars: []models.Bar{barAt(7_000), barAt(6_000)}},
		{}, // history exhausted
	}}
	store := &fakeStore{}
	e := newTestEngine(t, h, store)

	n, err := e.History(context.Background(), "BTCUSDT", models.MarketSpot, "1m", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if n != 4 || store.barCount() != 4 {
		t.Fatalf("persisted %d bars (reported %d), want 4", store.barCount(), n)
	}
	want := []int64{10_000, 7_999, 5_999}
	if len(h.endTs) != len(want) {
		t.Fatalf("made %d requests, want %d: %v", len(h.endTs), len(want), h.endTs)
	}
	for i, e := range want {
		if h.endTs[i] != e {
			t.Fatalf("request %d used endTs %d, want %d", i, h.endTs[i], e)
		}
	}
	// endTs strictly decreases across requests
	for i := 1; i < len(h.endTs); i++ {
		if h.endTs[i] >= h.endTs[i-1] {
			t.Fatalf("endTs not monotonic: %v", h.endTs)
		}
	}
}

func TestBackfillRetriesSameEndTsOnRateLimit(t *testing.T) {
	h := &scriptedHistory{pages: []scriptedPage{
		{err: drepo.ErrRateLimited},
		{err: drepo.ErrRateLimited},
		{bars: []models.Bar{barAt(9_000)}},
		{},
	}}
	store := &fakeStore{}
	e := newTestEngine(t, h, store)

	n, err := e.History(context.Background(), "BTCUSDT", models.MarketSpot, "1m", 0)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if n != 1 {
		t.Fatalf("persisted %d bars, want 1", n)
	}
	if h.endTs[0] != h.endTs[1] || h.endTs[1] != h.endTs[2] {
		t.Fatalf("rate-limited retries advanced endTs: %v", h.endTs)
	}
}

func TestBackfillAbortsOnFatalError(t *testing.T) {
	h := &scriptedHistory{pages: []scriptedPage{
		{bars: []models.Bar{barAt(9_000)}},
		{err: errors.New("upstream 500")},
	}}
	store := &fakeStore{}
	e := newTestEngine(t, h, store)

	n, err := e.History(context.Background(), "BTCUSDT", models.MarketSpot, "1m", 0)
	if err == nil {
		t.Fatal("expected error")
	}
	if n != 1 {
		t.Fatalf("persisted %d bars before abort, want 1", n)
	}
}

func TestBackfillHonorsLowerBound(t *testing.T) {
	h := &scriptedHistory{pages: []scriptedPage{
		{bars: []models.Bar{barAt(9_000), barAt(8_000)}},
		{bars: []models.Bar{barAt(7_000), barAt(6_000)}},
	}}
	store := &fakeStore{}
	e := newTestEngine(t, h, store)

	// bound at 7500: the second page's bars are both older
	n, err := e.History(context.Background(), "BTCUSDT", models.MarketSpot, "1m", 7_500)
	if err != nil {
		t.Fatalf("history: %v", err)
	}
	if n != 2 {
		t.Fatalf("persisted %d bars, want 2", n)
	}
}

func TestBackfillContinuesPastSymbolFailure(t *testing.T) {
	h := &scriptedHistory{pages: []scriptedPage{
		{err: errors.New("upstream 500")},
		{bars: []models.Bar{barAt(9_000)}},
		{},
	}}
	store := &fakeStore{}
	e := newTestEngine(t, h, store)

	settings := []*models.CoinSetting{
		{Symbol: "BTCUSDT", Market: models.MarketSpot, LoadHistory: true},
		{Symbol: "ETHUSDT", Market: models.MarketSpot, LoadHistory: true},
		{Symbol: "XRPUSDT", Market: models.MarketSpot, LoadHistory: false},
	}
	err := e.HistoryForSymbols(context.Background(), settings, "1m")
	if err == nil {
		t.Fatal("expected first symbol's error to surface")
	}
	if store.barCount() != 1 {
		t.Fatalf("persisted %d bars, want 1 from the second symbol", store.barCount())
	}
}

func TestBackfillRunnerCoalescesDuplicates(t *testing.T) {
	h := &scriptedHistory{}
	e := newTestEngine(t, h, &fakeStore{})
	r := NewBackfillRunner(e, testLogger(t))

	j1, coalesced := r.Enqueue("BTCUSDT", models.MarketSpot, "1m", 0)
	if coalesced {
		t.Fatal("first enqueue reported coalesced")
	}
	j2, coalesced := r.Enqueue("BTCUSDT", models.MarketSpot, "1m", 0)
	if !coalesced || j2.ID != j1.ID {
		t.Fatalf("duplicate not coalesced: %v vs %v", j1.ID, j2.ID)
	}
	// a different granularity is a distinct job
	j3, coalesced := r.Enqueue("BTCUSDT", models.MarketSpot, "5m", 0)
	if coalesced || j3.ID == j1.ID {
		t.Fatal("distinct granularity wrongly coalesced")
	}
	if len(r.List()) != 2 {
		t.Fatalf("expected 2 jobs, got %d", len(r.List()))
	}
}

func TestBackfillRunnerExecutesJob(t *testing.T) {
	h := &scriptedHistory{pages: []scriptedPage{
		{bars: []models.Bar{barAt(9_000)}},
		{},
	}}
	e := newTestEngine(t, h, &fakeStore{})
	r := NewBackfillRunner(e, testLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go r.Run(ctx)

	j, _ := r.Enqueue("BTCUSDT", models.MarketSpot, "1m", 0)
	deadline := time.Now().Add(2 * time.Second)
	for {
		got, ok := r.Get(j.ID)
		if !ok {
			t.Fatal("job lost")
		}
		if got.Status == JobDone {
			if got.Bars != 1 {
				t.Fatalf("job recorded %d bars, want 1", got.Bars)
			}
			break
		}
		if got.Status == JobFailed {
			t.Fatalf("job failed: %s", got.Error)
		}
		if time.Now().After(deadline) {
			t.Fatalf("job stuck in %s", got.Status)
		}
		time.Sleep(5 * time.Millisecond)
	}
}
