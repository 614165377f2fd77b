//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"FinStore/pkg/config"
	"FinStore/pkg/server"
)

// InitializeApp wires up all dependencies and returns the application.
// Wire will generate the implementation of this function.
func InitializeApp(ctx context.Context, cfg *config.Config) (*server.App, func(), error) {
	wire.Build(
		// Ambient
		ProvideLogger,
		ProvideRegistry,
		ProvideMetrics,

		// Infrastructure clients
		ProvideKafkaProducer,
		ProvideRedisCache,
		ProvideClickHouse,

		// Repositories
		ProvideEvents,
		ProvideArtifactIndex,
		ProvideMarketSources,

		// Storage
		ProvideLocker,
		ProvideWriter,
		ProvideGate,
		ProvideStore,
		ProvideSnapshotManager,

		// Replay and jobs
		ProvideReplayContext,
		ProvideController,
		ProvideOptimizer,
		ProvidePublisher,
		ProvideCaptureJob,
		ProvideArtifactReader,

		// Application
		ProvideApp,
	)
	return nil, nil, nil
}
