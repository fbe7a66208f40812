//go:build wireinject
// +build wireinject

package di

import (
	"CandleMill/pkg/config"
	"CandleMill/pkg/server"

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
		ProvideKafkaConsumer,

		// Stores
		ProvideTickStore,
		ProvideCandleStore,

		// Engine
		ProvideMaterializer,
		ProvideTickIngestor,
		ProvideCandlesUseCase,
		ProvideRetentionManager,
		ProvideJobQueue,

		// Feed
		ProvideMarketStream,
		ProvideTickCollector,
		ProvideKafkaTicksHandler,

		// HTTP and application
		ProvideHTTPHandler,
		ProvideApp,
	)
	return &server.App{}, nil
}
