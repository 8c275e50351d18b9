package usecase

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"
)

// ChainSource yields on-chain transfers above a threshold.
type ChainSource interface {
	FetchTransfers(ctx context.Context, chain string, minAmount float64) ([]*models.WhaleEvent, error)
}

// WhaleConfig tunes the watcher poll loop.
type WhaleConfig struct {
	Chain        string
	PollInterval time.Duration
	MinAmount    float64
}

// WhaleWatcher polls a chain source for large transfers, resolves them
// against the tracked coin table and persists matches.
type WhaleWatcher struct {
	source  ChainSource
	store   drepo.Store
	cfg     WhaleConfig
	logger  *applogger.Logger
	metrics drepo.Metrics

	heartbeat atomic.Int64
}

func NewWhaleWatcher(source ChainSource, store drepo.Store, cfg WhaleConfig, logger *applogger.Logger, metrics drepo.Metrics) *WhaleWatcher {
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = 30 * time.Second
	}
	return &WhaleWatcher{
		source:  source,
		store:   store,
		cfg:     cfg,
		logger:  logger,
		metrics: metrics,
	}
}

// Run polls until ctx is cancelled. Poll failures are logged and the
// loop continues; the heartbeat only advances on a successful poll.
func (w *WhaleWatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(w.cfg.PollInterval)
	defer ticker.Stop()

	w.poll(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.poll(ctx)
		}
	}
}

// Alive reports whether the last successful poll is within timeout.
func (w *WhaleWatcher) Alive(timeout time.Duration) bool {
	last := w.heartbeat.Load()
	if last == 0 {
		return false
	}
	return time.Since(time.Unix(last, 0)) < timeout
}

func (w *WhaleWatcher) poll(ctx context.Context) {
	coins, err := w.store.FetchWhaleCoins(ctx, true)
	if err != nil {
		w.metrics.RecordError("whale_coins")
		w.logger.Error("whale coin lookup failed", applogger.Error(err))
		return
	}
	byContract := make(map[string]*models.WhaleCoin, len(coins))
	for _, c := range coins {
		byContract[strings.ToLower(c.ContractAddr)] = c
	}

	transfers, err := w.source.FetchTransfers(ctx, w.cfg.Chain, w.cfg.MinAmount)
	if err != nil {
		w.metrics.RecordError("whale_poll")
		w.logger.Error("whale poll failed", applogger.Error(err))
		return
	}
	w.heartbeat.Store(time.Now().Unix())

	for _, t := range transfers {
		coin, ok := byContract[strings.ToLower(t.Token)]
		if !ok && !t.IsNative {
			continue
		}
		e := *t
		if e.EventID == "" {
			e.EventID = uuid.NewString()
		}
		if coin != nil {
			e.Symbol = coin.Symbol
			e.Exchange = coin.Exchange
		}
		if e.Chain == "" {
			e.Chain = w.cfg.Chain
		}
		if err := w.store.InsertWhaleEvent(ctx, &e); err != nil {
			w.metrics.RecordError("whale_insert")
			w.logger.Error("whale event insert failed", applogger.Error(err))
		}
	}
}
