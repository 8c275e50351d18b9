package usecase

import (
	"context"
	"sync"
	"testing"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"
)

func testLogger(t *testing.T) *applogger.Logger {
	t.Helper()
	l, err := applogger.New(&applogger.Config{Level: "error", Format: "json", Output: "stderr"})
	if err != nil {
		t.Fatalf("logger: %v", err)
	}
	return l
}

type fakeMetrics struct {
	mu     sync.Mutex
	sent   map[string]int
	queued map[string]int
	errs   map[string]int
	up     map[string]bool
}

func newFakeMetrics() *fakeMetrics {
	return &fakeMetrics{
		sent:   make(map[string]int),
		queued: make(map[string]int),
		errs:   make(map[string]int),
		up:     make(map[string]bool),
	}
}

func (m *fakeMetrics) RecordMessageSent(key string) {
	m.mu.Lock()
	m.sent[key]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordMessageQueued(key string) {
	m.mu.Lock()
	m.queued[key]++
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordConnectionOpened(string) {}
func (m *fakeMetrics) RecordError(kind string) {
	m.mu.Lock()
	m.errs[kind]++
	m.mu.Unlock()
}
func (m *fakeMetrics) SetActiveKeys(int) {}
func (m *fakeMetrics) SetCollectorUp(key string, up bool) {
	m.mu.Lock()
	m.up[key] = up
	m.mu.Unlock()
}
func (m *fakeMetrics) RecordLastPrice(string, float64) {}
func (m *fakeMetrics) RecordLatency(string, float64)   {}

func (m *fakeMetrics) sentCount(key string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sent[key]
}

// fakeStore records inserts and serves canned reads.
type fakeStore struct {
	mu       sync.Mutex
	trades   []*models.Trade
	bars     []*models.Bar
	settings []*models.CoinSetting
	whales   []*models.WhaleEvent
	coins    []*models.WhaleCoin
	batches  int
	barErr   error
}

func (s *fakeStore) InsertTrade(_ context.Context, t *models.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, t)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) InsertTradeBatch(_ context.Context, trades []*models.Trade) error {
	s.mu.Lock()
	s.trades = append(s.trades, trades...)
	s.batches++
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) InsertBar(_ context.Context, b *models.Bar) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.barErr != nil {
		return s.barErr
	}
	s.bars = append(s.bars, b)
	return nil
}

func (s *fakeStore) FetchTrades(context.Context, models.SymbolKey, *time.Time, *time.Time, int) ([]*models.Trade, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Trade(nil), s.trades...), nil
}

func (s *fakeStore) FetchBars(context.Context, models.SymbolKey, *time.Time, *time.Time, int) ([]*models.Bar, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.Bar(nil), s.bars...), nil
}

func (s *fakeStore) UpsertCoinSetting(_ context.Context, cs *models.CoinSetting) error {
	s.mu.Lock()
	s.settings = append(s.settings, cs)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) FetchCoinSettings(context.Context, string, models.Market) ([]*models.CoinSetting, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.CoinSetting(nil), s.settings...), nil
}

func (s *fakeStore) FetchSymbols(context.Context) ([]models.SymbolKey, error) { return nil, nil }

func (s *fakeStore) InsertWhaleEvent(_ context.Context, e *models.WhaleEvent) error {
	s.mu.Lock()
	s.whales = append(s.whales, e)
	s.mu.Unlock()
	return nil
}

func (s *fakeStore) FetchWhaleEvents(context.Context, string, int) ([]*models.WhaleEvent, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.WhaleEvent(nil), s.whales...), nil
}

func (s *fakeStore) FetchWhaleCoins(context.Context, bool) ([]*models.WhaleCoin, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]*models.WhaleCoin(nil), s.coins...), nil
}

func (s *fakeStore) Ping(context.Context) bool { return true }
func (s *fakeStore) Close() error              { return nil }

func (s *fakeStore) barCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.bars)
}

// fakeConn captures delivered frames.
type fakeConn struct {
	mu     sync.Mutex
	frames []models.PushMessage
	err    error
}

func (c *fakeConn) WriteJSON(v interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	c.frames = append(c.frames, v.(models.PushMessage))
	return nil
}

func (c *fakeConn) received() []models.PushMessage {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]models.PushMessage(nil), c.frames...)
}

// fakeStream feeds scripted trades then an error, end of stream, or
// silence. Like the production stream it closes both channels once the
// read loop is finished.
type fakeStream struct {
	key        models.SymbolKey
	trades     []*models.Trade
	connectErr error
	readErr    error
	eof        bool
}

func (s *fakeStream) Connect(context.Context) error   { return s.connectErr }
func (s *fakeStream) Subscribe(context.Context) error { return nil }
func (s *fakeStream) Close() error                    { return nil }
func (s *fakeStream) IsConnected() bool               { return s.connectErr == nil }

func (s *fakeStream) Read(ctx context.Context) (<-chan *models.Trade, <-chan error) {
	trades := make(chan *models.Trade, len(s.trades)+1)
	errs := make(chan error, 1)
	for _, t := range s.trades {
		trades <- t
	}
	if s.readErr != nil {
		errs <- s.readErr
	}
	if s.readErr != nil || s.eof {
		close(trades)
		close(errs)
	}
	return trades, errs
}

var _ drepo.MarketStream = (*fakeStream)(nil)
var _ drepo.Store = (*fakeStore)(nil)
var _ drepo.Metrics = (*fakeMetrics)(nil)
