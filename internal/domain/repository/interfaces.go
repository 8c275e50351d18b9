package repository

import (
	"context"
	"time"

	"TradePulse/internal/domain/models"
)

// MarketStream is one upstream exchange subscription for a single
// (symbol, market) key.
type MarketStream interface {
	Connect(ctx context.Context) error
	Subscribe(ctx context.Context) error
	Read(ctx context.Context) (<-chan *models.Trade, <-chan error)
	Close() error
	IsConnected() bool
}

// StreamFactory builds a MarketStream for a key. Injected so collectors
// can be tested against fake streams.
type StreamFactory func(key models.SymbolKey) MarketStream

// HistoryPage is one provider response page of candles, newest first.
type HistoryPage struct {
	Bars []models.Bar
}

// HistoryClient pages through the provider's candle history endpoint.
type HistoryClient interface {
	// FetchPage requests up to limit bars ending at endTs (ms).
	// A 429 from the provider is returned as ErrRateLimited.
	FetchPage(ctx context.Context, symbol string, market models.Market, granularity string, endTs int64, limit int) (*HistoryPage, error)
	Close() error
}

// Store is the time-series sink/source for trades, bars, settings and
// whale events. Implementations must be safe for concurrent use.
type Store interface {
	InsertTrade(ctx context.Context, t *models.Trade) error
	InsertTradeBatch(ctx context.Context, trades []*models.Trade) error
	InsertBar(ctx context.Context, b *models.Bar) error
	FetchTrades(ctx context.Context, key models.SymbolKey, start, end *time.Time, limit int) ([]*models.Trade, error)
	FetchBars(ctx context.Context, key models.SymbolKey, start, end *time.Time, limit int) ([]*models.Bar, error)

	UpsertCoinSetting(ctx context.Context, s *models.CoinSetting) error
	FetchCoinSettings(ctx context.Context, symbol string, market models.Market) ([]*models.CoinSetting, error)
	FetchSymbols(ctx context.Context) ([]models.SymbolKey, error)

	InsertWhaleEvent(ctx context.Context, e *models.WhaleEvent) error
	FetchWhaleEvents(ctx context.Context, symbol string, limit int) ([]*models.WhaleEvent, error)
	FetchWhaleCoins(ctx context.Context, activeOnly bool) ([]*models.WhaleCoin, error)

	Ping(ctx context.Context) bool
	Close() error
}

// Publisher forwards trades to a durable out-of-process consumer.
type Publisher interface {
	Publish(ctx context.Context, t *models.Trade) error
	PublishBatch(ctx context.Context, trades []*models.Trade) error
	Close() error
}

// Metrics records fan-out and pipeline observability counters.
type Metrics interface {
	RecordMessageSent(key string)
	RecordMessageQueued(key string)
	RecordConnectionOpened(key string)
	RecordError(kind string)
	SetActiveKeys(n int)
	SetCollectorUp(key string, up bool)
	RecordLastPrice(symbol string, price float64)
	RecordLatency(op string, seconds float64)
}
