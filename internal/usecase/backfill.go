package usecase

import (
	"context"
	"errors"
	"fmt"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/service/ratelimit"
	applogger "TradePulse/pkg/logger"
)

// BackfillConfig tunes the history walk-back.
type BackfillConfig struct {
	PageLimit  int
	RetryDelay time.Duration
}

// BackfillEngine walks candle history backwards from now, one page at a
// time, until the requested lower bound or the provider runs out of
// data. Paging is throttled by the shared Pacer.
type BackfillEngine struct {
	client drepo.HistoryClient
	store  drepo.Store
	pacer  *ratelimit.Pacer
	cfg    BackfillConfig
	logger *applogger.Logger

	now func() time.Time
}

func NewBackfillEngine(client drepo.HistoryClient, store drepo.Store, pacer *ratelimit.Pacer, cfg BackfillConfig, logger *applogger.Logger) *BackfillEngine {
	if cfg.PageLimit <= 0 {
		cfg.PageLimit = 200
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = time.Second
	}
	return &BackfillEngine{
		client: client,
		store:  store,
		pacer:  pacer,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// History backfills bars for one symbol down to untilMs (milliseconds).
// The walk starts at the current time and moves endTs strictly
// backwards: after each non-empty page the next request ends just
// before the oldest bar received. A rate-limited page is retried with
// the same endTs after RetryDelay. An empty page is the normal end of
// history. Any other provider or store error aborts the run.
//
// It returns the number of bars persisted.
func (e *BackfillEngine) History(ctx context.Context, symbol string, market models.Market, granularity string, untilMs int64) (int, error) {
	endTs := e.now().UnixMilli()
	total := 0

	e.logger.Info("backfill started",
		applogger.String("symbol", symbol),
		applogger.String("market", string(market)),
		applogger.String("granularity", granularity),
		applogger.Int64("until_ms", untilMs),
	)

	for untilMs < endTs {
		if err := e.pacer.Acquire(ctx); err != nil {
			return total, err
		}
		page, err := e.client.FetchPage(ctx, symbol, market, granularity, endTs, e.cfg.PageLimit)
		e.pacer.Release()

		if errors.Is(err, drepo.ErrRateLimited) {
			select {
			case <-ctx.Done():
				return total, ctx.Err()
			case <-time.After(e.cfg.RetryDelay):
			}
			continue
		}
		if err != nil {
			return total, fmt.Errorf("backfill %s at %d: %w", symbol, endTs, err)
		}
		if len(page.Bars) == 0 {
			break
		}

		minTs := int64(0)
		for i := range page.Bars {
			b := &page.Bars[i]
			ts := b.Ts.UnixMilli()
			if ts < untilMs {
				continue
			}
			if err := e.store.InsertBar(ctx, b); err != nil {
				return total, fmt.Errorf("backfill store %s: %w", symbol, err)
			}
			total++
			if minTs == 0 || ts < minTs {
				minTs = ts
			}
		}
		if minTs == 0 {
			// the whole page was older than the bound
			break
		}
		endTs = minTs - 1
	}

	e.logger.Info("backfill finished",
		applogger.String("symbol", symbol),
		applogger.Int("bars", total),
	)
	return total, nil
}

// HistoryForSymbols backfills a set of coin settings, continuing past
// individual failures. It returns the first error seen, if any.
func (e *BackfillEngine) HistoryForSymbols(ctx context.Context, settings []*models.CoinSetting, granularity string) error {
	var firstErr error
	for _, cs := range settings {
		if !cs.LoadHistory {
			continue
		}
		untilMs := int64(0)
		if !cs.HistoryUntil.IsZero() {
			untilMs = cs.HistoryUntil.UnixMilli()
		}
		if _, err := e.History(ctx, cs.Symbol, cs.Market, granularity, untilMs); err != nil {
			e.logger.Error("backfill symbol failed",
				applogger.String("symbol", cs.Symbol),
				applogger.Error(err),
			)
			if firstErr == nil {
				firstErr = err
			}
			if ctx.Err() != nil {
				return firstErr
			}
		}
	}
	return firstErr
}

// Close releases the history provider client.
func (e *BackfillEngine) Close() error {
	return e.client.Close()
}
