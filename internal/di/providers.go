package di

import (
	"context"
	"fmt"
	"time"

	"TradePulse/internal/domain/models"
	drepo "TradePulse/internal/domain/repository"
	"TradePulse/internal/handler/api"
	internalrepo "TradePulse/internal/repository"
	"TradePulse/internal/service/bitget"
	"TradePulse/internal/service/chain"
	"TradePulse/internal/service/ratelimit"
	"TradePulse/internal/usecase"
	"TradePulse/pkg/cache"
	pkgch "TradePulse/pkg/clickhouse"
	"TradePulse/pkg/config"
	pkgkafka "TradePulse/pkg/kafka"
	applogger "TradePulse/pkg/logger"
	"TradePulse/pkg/metrics"
	"TradePulse/pkg/server"
)

// ProvideLogger creates the application logger from config.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	return applogger.New(&applogger.Config{
		Level:  cfg.Log.Level,
		Format: cfg.Log.Format,
		Output: cfg.Log.Output,
	})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() drepo.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and prepares the
// schema.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	client, err := pkgch.NewClient(
		pkgch.WithHost(cfg.ClickHouse.Host),
		pkgch.WithPort(cfg.ClickHouse.Port),
		pkgch.WithDatabase(cfg.ClickHouse.Database),
		pkgch.WithCredentials(cfg.ClickHouse.User, cfg.ClickHouse.Password),
		pkgch.WithMaxConnections(10, 5),
		pkgch.WithHTTP(cfg.ClickHouse.UseHTTP),
		pkgch.WithAsyncInsert(cfg.ClickHouse.AsyncInsert, cfg.ClickHouse.WaitForAsync),
		pkgch.WithTimeouts(cfg.ClickHouse.DialTimeout, cfg.ClickHouse.ReadTimeout, cfg.ClickHouse.WriteTimeout),
		pkgch.WithMaxExecutionTime(cfg.ClickHouse.MaxExecutionTime),
	)
	if err != nil {
		return nil, fmt.Errorf("clickhouse client: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := client.InitSchema(ctx, internalrepo.SchemaStatements(cfg.ClickHouse.Database)); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("clickhouse schema: %w", err)
	}
	return client, nil
}

// ProvideStore creates the ClickHouse-backed store.
func ProvideStore(client *pkgch.Client, cfg *config.Config, logger *applogger.Logger) drepo.Store {
	return internalrepo.NewClickHouseStore(client.DB(), cfg.ClickHouse.Database, logger)
}

// ProvideKafkaProducer creates a Kafka producer when the kafka backend
// is selected, nil otherwise.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if cfg.Backend.Type != "kafka" {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.WriteTimeout, cfg.Kafka.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvidePublisher wraps the producer as a trade publisher. Nil when
// the clickhouse backend handles persistence directly.
func ProvidePublisher(producer *pkgkafka.Producer, cfg *config.Config) drepo.Publisher {
	if producer == nil {
		return nil
	}
	return internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)
}

// ProvideCache picks Redis when enabled, an in-process map otherwise.
func ProvideCache(cfg *config.Config, logger *applogger.Logger) cache.Cache {
	if cfg.Redis.Enabled {
		c, err := cache.NewRedis(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB)
		if err == nil {
			return c
		}
		logger.Warn("redis unavailable, using memory cache", applogger.Error(err))
	}
	return cache.NewMemory()
}

// ProvideStreamFactory builds per-key exchange streams.
func ProvideStreamFactory(cfg *config.Config, logger *applogger.Logger) drepo.StreamFactory {
	streamCfg := bitget.StreamConfig{
		SpotWSURL:    cfg.Bitget.SpotWSURL,
		MixWSURL:     cfg.Bitget.MixWSURL,
		PingInterval: cfg.Bitget.PingInterval,
		QueueSize:    cfg.Bitget.QueueSize,
	}
	return func(key models.SymbolKey) drepo.MarketStream {
		return bitget.NewStream(streamCfg, key, logger)
	}
}

// ProvideCollectorRegistry creates the per-key collector registry.
func ProvideCollectorRegistry(factory drepo.StreamFactory, cfg *config.Config, logger *applogger.Logger, m drepo.Metrics) *usecase.CollectorRegistry {
	return usecase.NewCollectorRegistry(factory, usecase.CollectorConfig{
		ReconnectDelay:    cfg.Bitget.ReconnectDelay,
		MaxReconnectDelay: cfg.Bitget.MaxReconnectDelay,
		DownThreshold:     cfg.Bitget.DownThreshold,
	}, cfg.Bitget.QueueSize, logger, m)
}

// ProvideFanout creates the subscriber fan-out, with collector starts
// hooked to first-subscriber events.
func ProvideFanout(registry *usecase.CollectorRegistry, cfg *config.Config, logger *applogger.Logger, m drepo.Metrics) *usecase.FanoutManager {
	return usecase.NewFanoutManager(usecase.FanoutConfig{
		BatchInterval:  cfg.Fanout.BatchInterval,
		TradeDebounce:  cfg.Fanout.TradeDebounce,
		CandleDebounce: cfg.Fanout.CandleDebounce,
	}, registry.Ensure, logger, m)
}

// ProvideTradeSink wires the collector output to push and persistence.
func ProvideTradeSink(store drepo.Store, publisher drepo.Publisher, fanout *usecase.FanoutManager, logger *applogger.Logger, m drepo.Metrics) *usecase.TradeSink {
	return usecase.NewTradeSink(store, publisher, fanout, logger, m)
}

// ProvideHistoryClient creates the candle history client.
func ProvideHistoryClient(cfg *config.Config) drepo.HistoryClient {
	return bitget.NewHistoryClient(cfg.Bitget.RestURL, 15*time.Second)
}

// ProvidePacer creates the shared backfill rate limiter.
func ProvidePacer(cfg *config.Config) (*ratelimit.Pacer, error) {
	return ratelimit.NewPacer(cfg.Backfill.MaxRequestsPerSec, cfg.Backfill.MaxRequestsPerSec)
}

// ProvideBackfillEngine creates the history walk-back engine.
func ProvideBackfillEngine(client drepo.HistoryClient, store drepo.Store, pacer *ratelimit.Pacer, cfg *config.Config, logger *applogger.Logger) *usecase.BackfillEngine {
	return usecase.NewBackfillEngine(client, store, pacer, usecase.BackfillConfig{
		PageLimit:  cfg.Backfill.PageLimit,
		RetryDelay: cfg.Backfill.RetryDelay,
	}, logger)
}

// ProvideBackfillRunner creates the supervised job runner.
func ProvideBackfillRunner(engine *usecase.BackfillEngine, logger *applogger.Logger) *usecase.BackfillRunner {
	return usecase.NewBackfillRunner(engine, logger)
}

// ProvideWhaleWatcher creates the watcher when enabled, nil otherwise.
func ProvideWhaleWatcher(store drepo.Store, cfg *config.Config, logger *applogger.Logger, m drepo.Metrics) *usecase.WhaleWatcher {
	if !cfg.Whale.Enabled {
		return nil
	}
	source := chain.NewScanner(cfg.Whale.APIURL, cfg.Whale.APIKey, 15*time.Second)
	return usecase.NewWhaleWatcher(source, store, usecase.WhaleConfig{
		Chain:        cfg.Whale.Chain,
		PollInterval: cfg.Whale.PollInterval,
		MinAmount:    cfg.Whale.MinAmount,
	}, logger, m)
}

// ProvideHandler assembles the HTTP and WebSocket handler.
func ProvideHandler(
	store drepo.Store,
	sink *usecase.TradeSink,
	fanout *usecase.FanoutManager,
	registry *usecase.CollectorRegistry,
	runner *usecase.BackfillRunner,
	whale *usecase.WhaleWatcher,
	c cache.Cache,
	cfg *config.Config,
	logger *applogger.Logger,
	m drepo.Metrics,
) *api.Handler {
	return api.NewHandler(store, sink, fanout, registry, runner, whale, c, api.HandlerConfig{
		SnapshotLimit: cfg.Fanout.SnapshotLimit,
		IdlePing:      cfg.Fanout.IdlePing,
		WhaleTimeout:  cfg.Whale.HeartbeatTimeout,
	}, logger, m)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	logger *applogger.Logger,
	chClient *pkgch.Client,
	producer *pkgkafka.Producer,
	registry *usecase.CollectorRegistry,
	fanout *usecase.FanoutManager,
	sink *usecase.TradeSink,
	runner *usecase.BackfillRunner,
	whale *usecase.WhaleWatcher,
	handler *api.Handler,
	c cache.Cache,
) *server.App {
	return server.New(cfg, logger, chClient, producer, registry, fanout, sink, runner, whale, handler, c)
}
