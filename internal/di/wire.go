//go:build wireinject
// +build wireinject

package di

import (
	"TradePulse/pkg/config"
	"TradePulse/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		ProvideLogger,
		ProvideMetrics,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideKafkaProducer,
		ProvideCache,

		// Repositories
		ProvideStore,
		ProvidePublisher,
		ProvideStreamFactory,
		ProvideHistoryClient,

		// Use cases
		ProvideCollectorRegistry,
		ProvideFanout,
		ProvideTradeSink,
		ProvidePacer,
		ProvideBackfillEngine,
		ProvideBackfillRunner,
		ProvideWhaleWatcher,

		// HTTP surface and application
		ProvideHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
