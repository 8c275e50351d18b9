package usecase

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	applogger "TradePulse/pkg/logger"
)

// CollectorConfig controls the reconnect loop of a live collector.
type CollectorConfig struct {
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// DownThreshold is the number of consecutive failed connect cycles
	// after which the collector is reported down. It keeps retrying.
	DownThreshold int
}

// LiveCollector owns the upstream subscription for one (symbol, market)
// key. It reconnects with capped exponential backoff and forwards every
// parsed trade to the shared sink channel.
type LiveCollector struct {
	key     models.SymbolKey
	factory drepo.StreamFactory
	cfg     CollectorConfig
	out     chan<- *models.Trade
	logger  *applogger.Logger
	metrics drepo.Metrics

	cancel context.CancelFunc
	done   chan struct{}
	down   atomic.Bool
}

func NewLiveCollector(key models.SymbolKey, factory drepo.StreamFactory, cfg CollectorConfig, out chan<- *models.Trade, logger *applogger.Logger, metrics drepo.Metrics) *LiveCollector {
	if cfg.ReconnectDelay <= 0 {
		cfg.ReconnectDelay = 5 * time.Second
	}
	if cfg.MaxReconnectDelay < cfg.ReconnectDelay {
		cfg.MaxReconnectDelay = 60 * time.Second
	}
	if cfg.DownThreshold <= 0 {
		cfg.DownThreshold = 5
	}
	return &LiveCollector{
		key:     key,
		factory: factory,
		cfg:     cfg,
		out:     out,
		logger:  logger,
		metrics: metrics,
		done:    make(chan struct{}),
	}
}

// Start launches the collect loop. It returns immediately.
func (c *LiveCollector) Start(ctx context.Context) {
	ctx, c.cancel = context.WithCancel(ctx)
	go c.run(ctx)
}

// Stop asks the loop to exit and waits for it.
func (c *LiveCollector) Stop() {
	if c.cancel != nil {
		c.cancel()
	}
	<-c.done
}

// Down reports whether the collector has failed DownThreshold
// consecutive connect cycles without delivering a trade.
func (c *LiveCollector) Down() bool { return c.down.Load() }

func (c *LiveCollector) Key() models.SymbolKey { return c.key }

func (c *LiveCollector) run(ctx context.Context) {
	defer close(c.done)
	defer c.metrics.SetCollectorUp(c.key.String(), false)

	failures := 0
	delay := c.cfg.ReconnectDelay
	for {
		if ctx.Err() != nil {
			return
		}
		delivered, err := c.collect(ctx)
		if err == nil {
			// clean shutdown requested
			return
		}
		if delivered {
			// the cycle was healthy before it broke; start over
			failures = 0
			delay = c.cfg.ReconnectDelay
			c.down.Store(false)
		}
		failures++
		if failures >= c.cfg.DownThreshold && !c.down.Load() {
			c.down.Store(true)
			c.metrics.RecordError("collector_down")
			c.logger.Error("collector down",
				applogger.String("key", c.key.String()),
				applogger.Int("failures", failures),
			)
		}
		c.logger.Warn("collector cycle failed",
			applogger.String("key", c.key.String()),
			applogger.Error(err),
			applogger.Duration("retry_in", delay),
		)
		c.metrics.SetCollectorUp(c.key.String(), false)

		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.MaxReconnectDelay {
			delay = c.cfg.MaxReconnectDelay
		}
	}
}

// collect runs one connect/subscribe/read cycle. A nil error means the
// context was cancelled; any error means the cycle should be retried.
// delivered reports whether at least one trade made it downstream.
func (c *LiveCollector) collect(ctx context.Context) (delivered bool, err error) {
	stream := c.factory(c.key)
	defer stream.Close()

	if err := stream.Connect(ctx); err != nil {
		return false, err
	}
	if err := stream.Subscribe(ctx); err != nil {
		return false, err
	}
	c.metrics.SetCollectorUp(c.key.String(), true)
	c.logger.Info("collector connected", applogger.String("key", c.key.String()))

	trades, errs := stream.Read(ctx)
	for {
		select {
		case <-ctx.Done():
			return delivered, nil
		case rerr, ok := <-errs:
			if ok && rerr != nil {
				return delivered, rerr
			}
			// channel closed without a value; keep draining trades
			errs = nil
		case t, ok := <-trades:
			if !ok {
				// the read loop buffers its terminal error and closes
				// both channels, so this branch can win the race
				if errs != nil {
					select {
					case rerr, rok := <-errs:
						if rok && rerr != nil {
							return delivered, rerr
						}
					default:
					}
				}
				if ctx.Err() != nil {
					return delivered, nil
				}
				return delivered, fmt.Errorf("stream %s closed", c.key)
			}
			if t == nil {
				continue
			}
			select {
			case c.out <- t:
				delivered = true
			case <-ctx.Done():
				return delivered, nil
			}
		}
	}
}

// CollectorRegistry keeps at most one running collector per key.
type CollectorRegistry struct {
	mu         sync.Mutex
	collectors map[models.SymbolKey]*LiveCollector
	ctx        context.Context

	factory drepo.StreamFactory
	cfg     CollectorConfig
	out     chan *models.Trade
	logger  *applogger.Logger
	metrics drepo.Metrics
}

func NewCollectorRegistry(factory drepo.StreamFactory, cfg CollectorConfig, queueSize int, logger *applogger.Logger, metrics drepo.Metrics) *CollectorRegistry {
	if queueSize <= 0 {
		queueSize = 1024
	}
	return &CollectorRegistry{
		collectors: make(map[models.SymbolKey]*LiveCollector),
		factory:    factory,
		cfg:        cfg,
		out:        make(chan *models.Trade, queueSize),
		logger:     logger,
		metrics:    metrics,
	}
}

// Trades is the merged output of every running collector.
func (r *CollectorRegistry) Trades() <-chan *models.Trade { return r.out }

// Start binds the registry to its lifecycle context. Collectors
// started afterwards stop when ctx is cancelled.
func (r *CollectorRegistry) Start(ctx context.Context) {
	r.mu.Lock()
	r.ctx = ctx
	r.mu.Unlock()
}

// Ensure starts a collector for key if none is running. Starting is
// idempotent; a second call for the same key is a no-op. Collector
// lifetime follows the registry context, never the caller's.
func (r *CollectorRegistry) Ensure(key models.SymbolKey) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.collectors[key]; ok {
		return
	}
	ctx := r.ctx
	if ctx == nil {
		ctx = context.Background()
	}
	c := NewLiveCollector(key, r.factory, r.cfg, r.out, r.logger, r.metrics)
	r.collectors[key] = c
	c.Start(ctx)
	r.metrics.SetActiveKeys(len(r.collectors))
	r.logger.Info("collector started", applogger.String("key", key.String()))
}

// Remove stops and forgets the collector for key, if any.
func (r *CollectorRegistry) Remove(key models.SymbolKey) {
	r.mu.Lock()
	c, ok := r.collectors[key]
	if ok {
		delete(r.collectors, key)
		r.metrics.SetActiveKeys(len(r.collectors))
	}
	r.mu.Unlock()
	if ok {
		c.Stop()
		r.logger.Info("collector stopped", applogger.String("key", key.String()))
	}
}

// Keys lists the keys with a running collector.
func (r *CollectorRegistry) Keys() []models.SymbolKey {
	r.mu.Lock()
	defer r.mu.Unlock()
	keys := make([]models.SymbolKey, 0, len(r.collectors))
	for k := range r.collectors {
		keys = append(keys, k)
	}
	return keys
}

// Down reports whether the collector for key exists and is down.
func (r *CollectorRegistry) Down(key models.SymbolKey) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	c, ok := r.collectors[key]
	return ok && c.Down()
}

// Shutdown stops every collector and closes the trade channel.
func (r *CollectorRegistry) Shutdown() {
	r.mu.Lock()
	collectors := make([]*LiveCollector, 0, len(r.collectors))
	for _, c := range r.collectors {
		collectors = append(collectors, c)
	}
	r.collectors = make(map[models.SymbolKey]*LiveCollector)
	r.mu.Unlock()

	for _, c := range collectors {
		c.Stop()
	}
	close(r.out)
}
