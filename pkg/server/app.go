package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"TradePulse/internal/domain/models"
	"TradePulse/internal/handler/api"
	internalrepo "TradePulse/internal/repository"
	"TradePulse/internal/usecase"
	"TradePulse/pkg/cache"
	pkgch "TradePulse/pkg/clickhouse"
	"TradePulse/pkg/config"
	xhttp "TradePulse/pkg/http"
	pkgkafka "TradePulse/pkg/kafka"
	applogger "TradePulse/pkg/logger"
)

// App owns the whole service lifecycle: collectors, fan-out, sink,
// backfill, whale watcher and the HTTP server.
type App struct {
	cfg      *config.Config
	logger   *applogger.Logger
	chClient *pkgch.Client
	producer *pkgkafka.Producer
	registry *usecase.CollectorRegistry
	fanout   *usecase.FanoutManager
	sink     *usecase.TradeSink
	runner   *usecase.BackfillRunner
	whale    *usecase.WhaleWatcher
	handler  *api.Handler
	cache    cache.Cache

	httpServer *xhttp.Server
}

func New(
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
) *App {
	return &App{
		cfg:      cfg,
		logger:   logger,
		chClient: chClient,
		producer: producer,
		registry: registry,
		fanout:   fanout,
		sink:     sink,
		runner:   runner,
		whale:    whale,
		handler:  handler,
		cache:    c,
	}
}

// Run starts every component and blocks until a shutdown signal.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a.registry.Start(ctx)

	if a.producer != nil && a.cfg.Kafka.LogTopic != "" {
		a.logger.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          a.cfg.Kafka.LogTopic,
			Publisher:      internalrepo.NewKafkaLogPublisher(a.producer),
		})
	}

	settings, err := a.sink.LoadSettings(ctx)
	if err != nil {
		a.logger.Warn("coin settings load failed", applogger.Error(err))
	}
	for _, cs := range settings {
		if cs.StoreLive {
			a.registry.Ensure(models.SymbolKey{Symbol: cs.Symbol, Market: cs.Market})
		}
	}

	go a.fanout.Run(ctx)
	go a.sink.Run(ctx, a.registry.Trades())
	go a.runner.Run(ctx)
	if a.whale != nil {
		go a.whale.Run(ctx)
		a.logger.Info("whale watcher started", applogger.String("chain", a.cfg.Whale.Chain))
	}

	a.httpServer = xhttp.NewServer(a.handler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
	)
	if err := a.httpServer.Start(); err != nil {
		return err
	}
	a.logger.Info("service started",
		applogger.Int("port", a.cfg.Server.Port),
		applogger.String("backend", a.cfg.Backend.Type),
	)

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh
	a.logger.Info("shutdown signal received")

	cancel()
	return a.shutdown()
}

func (a *App) shutdown() error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if a.httpServer != nil {
		if err := a.httpServer.Stop(shutdownCtx); err != nil {
			a.logger.Error("http shutdown error", applogger.Error(err))
		}
	}
	a.registry.Shutdown()
	a.logger.RemoveCollector()

	if err := a.runner.Close(); err != nil {
		a.logger.Warn("backfill close error", applogger.Error(err))
	}

	if a.producer != nil {
		if err := a.producer.Close(); err != nil {
			a.logger.Warn("kafka close error", applogger.Error(err))
		}
	}
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			a.logger.Warn("cache close error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			a.logger.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	a.logger.Info("shutdown complete")
	return nil
}
