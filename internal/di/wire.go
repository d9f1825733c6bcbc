//go:build wireinject
// +build wireinject

package di

import (
	"FinLearn/pkg/config"
	"FinLearn/pkg/server"

	"github.com/google/wire"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(cfg *config.Config) (*server.App, error) {
	wire.Build(
		// Core
		ProvideLogger,
		ProvideMetrics,
		ProvideClock,

		// Infrastructure clients
		ProvideClickHouseClient,
		ProvideRedisCache,
		ProvideCache,
		ProvideKafkaProducer,
		ProvideKafkaConsumer,

		// Repositories
		ProvideCandleStore,
		ProvideFeatureProvider,
		ProvideModelStore,
		ProvidePerformanceSink,
		ProvideQuoteBook,
		ProvideExchange,
		ProvideSignalPublisher,
		ProvideNotifier,
		ProvideQuoteSink,

		// Learning services
		ProvidePredictor,
		ProvideTracker,
		ProvideScheduler,

		// Use cases
		ProvideJobQueue,
		ProvideRetrainJob,
		ProvideSignalEngine,
		ProvideOutcomeResolver,
		ProvideQuoteProcessor,
		ProvideQuoteCollector,
		ProvideKafkaHandlers,

		// Delivery
		ProvideEngineHandler,
		ProvideMaintenance,

		// Application server
		ProvideApp,
	)
	return &server.App{}, nil
}
