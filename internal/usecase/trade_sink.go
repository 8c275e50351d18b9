package usecase

import (
	"context"
	"sync"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"
)

// TradeSink drains the merged collector stream: every trade is pushed
// to subscribers, and persisted through the configured backend when the
// key's store_live setting allows it.
type TradeSink struct {
	store     drepo.Store
	publisher drepo.Publisher // nil unless the kafka backend is active
	fanout    *FanoutManager
	logger    *applogger.Logger
	metrics   drepo.Metrics

	mu        sync.RWMutex
	storeLive map[models.SymbolKey]bool
	chartRes  map[models.SymbolKey]string
	liveBars  map[models.SymbolKey]*models.Bar
}

const defaultChartResolution = "1s"

func NewTradeSink(store drepo.Store, publisher drepo.Publisher, fanout *FanoutManager, logger *applogger.Logger, metrics drepo.Metrics) *TradeSink {
	return &TradeSink{
		store:     store,
		publisher: publisher,
		fanout:    fanout,
		logger:    logger,
		metrics:   metrics,
		storeLive: make(map[models.SymbolKey]bool),
		chartRes:  make(map[models.SymbolKey]string),
		liveBars:  make(map[models.SymbolKey]*models.Bar),
	}
}

// SetStoreLive flips live persistence for a key. Unknown keys default
// to persisted.
func (s *TradeSink) SetStoreLive(key models.SymbolKey, enabled bool) {
	s.mu.Lock()
	s.storeLive[key] = enabled
	s.mu.Unlock()
}

// SetChartResolution sets the live candle bucket for a key.
func (s *TradeSink) SetChartResolution(key models.SymbolKey, resolution string) {
	if resolutionBucket(resolution) == 0 {
		resolution = defaultChartResolution
	}
	s.mu.Lock()
	s.chartRes[key] = resolution
	s.mu.Unlock()
}

func resolutionBucket(s string) time.Duration {
	switch s {
	case "1s":
		return time.Second
	case "1m":
		return time.Minute
	case "5m":
		return 5 * time.Minute
	case "1h":
		return time.Hour
	default:
		return 0
	}
}

// LoadSettings primes the store_live map from persisted coin settings
// and returns them so callers can act on the rest of each row.
func (s *TradeSink) LoadSettings(ctx context.Context) ([]*models.CoinSetting, error) {
	settings, err := s.store.FetchCoinSettings(ctx, "", "")
	if err != nil {
		return nil, err
	}
	s.mu.Lock()
	for _, cs := range settings {
		key := models.SymbolKey{Symbol: cs.Symbol, Market: cs.Market}
		s.storeLive[key] = cs.StoreLive
		if resolutionBucket(cs.ChartResolution) > 0 {
			s.chartRes[key] = cs.ChartResolution
		}
	}
	s.mu.Unlock()
	return settings, nil
}

// rollCandle folds a trade into the key's current live bar, opening a
// new bucket when the trade crosses the resolution boundary. The
// returned bar is a copy safe to hand to the fan-out.
func (s *TradeSink) rollCandle(key models.SymbolKey, t *models.Trade) *models.Bar {
	s.mu.Lock()
	defer s.mu.Unlock()

	res, ok := s.chartRes[key]
	if !ok {
		res = defaultChartResolution
	}
	bucket := t.Ts.Truncate(resolutionBucket(res))

	bar := s.liveBars[key]
	if bar == nil || !bar.Ts.Equal(bucket) {
		bar = &models.Bar{
			Symbol:     t.Symbol,
			Market:     t.Market,
			Open:       t.Price,
			High:       t.Price,
			Low:        t.Price,
			Close:      t.Price,
			Volume:     t.Size,
			Ts:         bucket,
			Resolution: res,
		}
		s.liveBars[key] = bar
	} else {
		if t.Price > bar.High {
			bar.High = t.Price
		}
		if t.Price < bar.Low {
			bar.Low = t.Price
		}
		bar.Close = t.Price
		bar.Volume += t.Size
	}
	snapshot := *bar
	return &snapshot
}

func (s *TradeSink) shouldStore(key models.SymbolKey) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	enabled, ok := s.storeLive[key]
	return !ok || enabled
}

const sinkBatchSize = 64

// Run consumes trades until the channel closes or ctx is cancelled.
// A burst already buffered on the channel is persisted as one batch
// write instead of row by row.
func (s *TradeSink) Run(ctx context.Context, in <-chan *models.Trade) {
	batch := make([]*models.Trade, 0, sinkBatchSize)
	for {
		select {
		case <-ctx.Done():
			return
		case t, ok := <-in:
			if !ok {
				return
			}
			batch = append(batch[:0], t)
			closed := false
		drain:
			for len(batch) < sinkBatchSize {
				select {
				case next, ok := <-in:
					if !ok {
						closed = true
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			s.HandleBatch(ctx, batch)
			if closed {
				return
			}
		}
	}
}

// HandleBatch pushes every trade individually and persists the
// storable ones in a single write.
func (s *TradeSink) HandleBatch(ctx context.Context, trades []*models.Trade) {
	if len(trades) == 1 {
		s.Handle(ctx, trades[0])
		return
	}
	persist := make([]*models.Trade, 0, len(trades))
	for _, t := range trades {
		key := t.Key()
		s.metrics.RecordLastPrice(t.Symbol, t.Price)
		s.fanout.PublishTrade(key, models.TradeFrame(t))
		s.fanout.PublishCandle(key, models.CandleFrame(s.rollCandle(key, t)))
		if s.shouldStore(key) {
			persist = append(persist, t)
		}
	}
	if len(persist) == 0 {
		return
	}
	if s.publisher != nil {
		if err := s.publisher.PublishBatch(ctx, persist); err != nil {
			s.metrics.RecordError("publish_trade")
			s.logger.Error("trade batch publish failed",
				applogger.Int("size", len(persist)),
				applogger.Error(err),
			)
		}
		return
	}
	if err := s.store.InsertTradeBatch(ctx, persist); err != nil {
		s.metrics.RecordError("store_trade")
		s.logger.Error("trade batch insert failed",
			applogger.Int("size", len(persist)),
			applogger.Error(err),
		)
	}
}

// Handle routes one trade: push first, then persist if enabled. Also
// the entry point for out-of-band publishes.
func (s *TradeSink) Handle(ctx context.Context, t *models.Trade) {
	key := t.Key()
	s.metrics.RecordLastPrice(t.Symbol, t.Price)
	s.fanout.PublishTrade(key, models.TradeFrame(t))
	s.fanout.PublishCandle(key, models.CandleFrame(s.rollCandle(key, t)))

	if !s.shouldStore(key) {
		return
	}
	if s.publisher != nil {
		if err := s.publisher.Publish(ctx, t); err != nil {
			s.metrics.RecordError("publish_trade")
			s.logger.Error("trade publish failed",
				applogger.String("key", key.String()),
				applogger.Error(err),
			)
		}
		return
	}
	if err := s.store.InsertTrade(ctx, t); err != nil {
		s.metrics.RecordError("store_trade")
		s.logger.Error("trade insert failed",
			applogger.String("key", key.String()),
			applogger.Error(err),
		)
	}
}
