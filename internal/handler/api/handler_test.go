package api

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/service/ratelimit"
	"TradePulse/internal/usecase"
	applogger "TradePulse/pkg/logger"
)

type stubStore struct {
	mu       sync.Mutex
	trades   []*models.Trade
	bars     []*models.Bar
	settings []*models.CoinSetting
	whales   []*models.WhaleEvent
	keys     []models.SymbolKey
}

func (s *stubStore) InsertTrade(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
	return nil
}
func (s *stubStore) InsertTradeBatch(_ context.Context, ts []*models.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, ts...)
	s.mu.Unlock()
	return nil
}
func (s *stubStore) InsertBar(_ context.Context, b *models.Bar) error {
	s.mu.Lock()
	s.bars = append(s.bars, b)
	s.mu.Unlock()
	return nil
}
func (s *stubStore) FetchTrades(context.Context, models.SymbolKey, *time.Time, *time.Time, int) ([]*models.Trade, error) {
	return s.trades, nil
}
func (s *stubStore) FetchBars(context.Context, models.SymbolKey, *time.Time, *time.Time, int) ([]*models.Bar, error) {
	return s.bars, nil
}
func (s *stubStore) UpsertCoinSetting(_ context.Context, cs *models.CoinSetting) error {
	s.mu.Lock()
	s.settings = append(s.settings, cs)
	s.mu.Unlock()
	return nil
}
func (s *stubStore) FetchCoinSettings(context.Context, string, models.Market) ([]*models.CoinSetting, error) {
	return s.settings, nil
}
func (s *stubStore) FetchSymbols(context.Context) ([]models.SymbolKey, error) { return s.keys, nil }
func (s *stubStore) InsertWhaleEvent(_ context.Context, e *models.WhaleEvent) error {
	s.whales = append(s.whales, e)
	return nil
}
func (s *stubStore) FetchWhaleEvents(context.Context, string, int) ([]*models.WhaleEvent, error) {
	return s.whales, nil
}
func (s *stubStore) FetchWhaleCoins(context.Context, bool) ([]*models.WhaleCoin, error) {
	return nil, nil
}
func (s *stubStore) Ping(context.Context) bool { return true }
func (s *stubStore) Close() error              { return nil }

type noopMetrics struct{}

func (noopMetrics) RecordMessageSent(string)      {}
func (noopMetrics) RecordMessageQueued(string)    {}
func (noopMetrics) RecordConnectionOpened(string) {}
func (noopMetrics) RecordError(string)            {}
func (noopMetrics) SetActiveKeys(int)             {}
func (noopMetrics) SetCollectorUp(string, bool)   {}
func (noopMetrics) RecordLastPrice(string, float64) {}
func (noopMetrics) RecordLatency(string, float64)   {}

type idleStream struct{}

func (idleStream) Connect(context.Context) error   { return nil }
func (idleStream) Subscribe(context.Context) error { return nil }
func (idleStream) Close() error                    { return nil }
func (idleStream) IsConnected() bool               { return true }
func (idleStream) Read(context.Context) (<-chan *models.Trade, <-chan error) {
	return make(chan *models.Trade), make(chan error)
}

type emptyHistory struct{}

func (emptyHistory) FetchPage(context.Context, string, models.Market, string, int64, int) (*drepo.HistoryPage, error) {
	return &drepo.HistoryPage{}, nil
}
func (emptyHistory) Close() error { return nil }

func newTestHandler(t *testing.T, store *stubStore) (*Handler, *echo.Echo) {
	t.Helper()
	logger, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	metrics := noopMetrics{}

	registry := usecase.NewCollectorRegistry(
		func(models.SymbolKey) drepo.MarketStream { return idleStream{} },
		usecase.CollectorConfig{}, 16, logger, metrics,
	)
	t.Cleanup(registry.Shutdown)

	fanout := usecase.NewFanoutManager(usecase.FanoutConfig{}, nil, logger, metrics)
	sink := usecase.NewTradeSink(store, nil, fanout, logger, metrics)

	pacer, err := ratelimit.NewPacer(1000, 15)
	if err != nil {
		t.Fatalf("pacer: %v", err)
	}
	engine := usecase.NewBackfillEngine(emptyHistory{}, store, pacer, usecase.BackfillConfig{}, logger)
	runner := usecase.NewBackfillRunner(engine, logger)

	h := NewHandler(store, sink, fanout, registry, runner, nil, nil, HandlerConfig{}, logger, metrics)
	e := echo.New()
	h.RegisterRoutes(e)
	return h, e
}

func doRequest(e *echo.Echo, method, target, body string) *httptest.ResponseRecorder {
	var req *http.Request
	if body == "" {
		req = httptest.NewRequest(method, target, nil)
	} else {
		req = httptest.NewRequest(method, target, strings.NewReader(body))
		req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	}
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}


func bodyStatus(t *testing.T, rec *httptest.ResponseRecorder) int {
	t.Helper()
	var resp struct {
		Status int `json:"status"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode envelope: %v (%s)", err, rec.Body.String())
	}
	return resp.Status
}

func TestTradesRequiresSymbol(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/api/v1/trades", "")
	if got := bodyStatus(t, rec); got != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", got)
	}
}

func TestTradesReturnsRows(t *testing.T) {
	store := &stubStore{trades: []*models.Trade{
		{Symbol: "BTCUSDT", Market: models.MarketSpot, Price: 42, Size: 1, Side: "buy", Ts: time.Now()},
	}}
	_, e := newTestHandler(t, store)
	rec := doRequest(e, http.MethodGet, "/api/v1/trades?symbol=BTCUSDT", "")
	if got := bodyStatus(t, rec); got != http.StatusOK {
		t.Fatalf("status %d: %s", got, rec.Body.String())
	}
	var resp struct {
		Data struct {
			Total int64 `json:"total"`
		} `json:"data"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Data.Total != 1 {
		t.Fatalf("total %d, want 1", resp.Data.Total)
	}
}

func TestOHLCNonSpotAnswersNoContent(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/api/v1/ohlc?symbol=BTCUSDT&market=usdtm", "")
	if rec.Code != http.StatusNoContent {
		t.Fatalf("status %d, want 204", rec.Code)
	}
}

func TestOHLCRejectsUnknownResolution(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/api/v1/ohlc?symbol=BTCUSDT&resolution=7h", "")
	if got := bodyStatus(t, rec); got != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", got)
	}
}

func TestPublishStoresTrade(t *testing.T) {
	store := &stubStore{}
	_, e := newTestHandler(t, store)
	rec := doRequest(e, http.MethodPost, "/api/v1/publish",
		`{"symbol":"BTCUSDT","price":42000.5,"size":0.25,"side":"sell"}`)
	if got := bodyStatus(t, rec); got != http.StatusCreated {
		t.Fatalf("status %d: %s", got, rec.Body.String())
	}
	store.mu.Lock()
	defer store.mu.Unlock()
	if len(store.trades) != 1 {
		t.Fatalf("stored %d trades, want 1", len(store.trades))
	}
	if store.trades[0].Side != "sell" {
		t.Fatalf("unexpected trade %+v", store.trades[0])
	}
}

func TestPublishRejectsBadPrice(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	rec := doRequest(e, http.MethodPost, "/api/v1/publish",
		`{"symbol":"BTCUSDT","price":-1,"size":0.25}`)
	if got := bodyStatus(t, rec); got != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", got)
	}
}

func TestUpdateSettingsStartsCollectorAndBackfill(t *testing.T) {
	store := &stubStore{}
	h, e := newTestHandler(t, store)
	body := `[{"symbol":"BTCUSDT","market":"spot","store_live":true,"load_history":true,"chart_resolution":"1m"}]`
	rec := doRequest(e, http.MethodPut, "/api/v1/settings", body)
	if got := bodyStatus(t, rec); got != http.StatusOK {
		t.Fatalf("status %d: %s", got, rec.Body.String())
	}
	if len(store.settings) != 1 {
		t.Fatalf("persisted %d settings, want 1", len(store.settings))
	}
	if len(h.registry.Keys()) != 1 {
		t.Fatalf("collector not started")
	}
	if len(h.backfill.List()) != 1 {
		t.Fatalf("backfill job not enqueued")
	}
}

func TestBackfillEndpointCreatesJob(t *testing.T) {
	h, e := newTestHandler(t, &stubStore{})
	body := `{"symbol":"BTCUSDT","market":"spot","until":"2024-01-01T00:00:00Z"}`
	rec := doRequest(e, http.MethodPost, "/api/v1/backfill", body)
	if got := bodyStatus(t, rec); got != http.StatusCreated {
		t.Fatalf("status %d: %s", got, rec.Body.String())
	}
	// the same request again coalesces onto the queued job
	rec = doRequest(e, http.MethodPost, "/api/v1/backfill", body)
	if got := bodyStatus(t, rec); got != http.StatusOK {
		t.Fatalf("coalesced status %d, want 200", got)
	}
	if len(h.backfill.List()) != 1 {
		t.Fatalf("expected a single job, got %d", len(h.backfill.List()))
	}
}

func TestBackfillRejectsNonSpot(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	body := `{"symbol":"BTCUSDT","market":"usdtm","until":"2024-01-01T00:00:00Z"}`
	rec := doRequest(e, http.MethodPost, "/api/v1/backfill", body)
	if got := bodyStatus(t, rec); got != http.StatusBadRequest {
		t.Fatalf("status %d, want 400", got)
	}
}

func TestBackfillJobNotFound(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/api/v1/backfill/jobs/nope", "")
	if got := bodyStatus(t, rec); got != http.StatusNotFound {
		t.Fatalf("status %d, want 404", got)
	}
}

func TestHealth(t *testing.T) {
	_, e := newTestHandler(t, &stubStore{})
	rec := doRequest(e, http.MethodGet, "/healthz", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), "clickhouse") {
		t.Fatalf("unexpected body %s", rec.Body.String())
	}
}
