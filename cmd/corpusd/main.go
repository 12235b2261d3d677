package main

import (
	"corpusd/config"
	"corpusd/internal/checkpoint"
	"corpusd/internal/corpus"
	"corpusd/internal/seed"
	"corpusd/internal/stats"
	"corpusd/internal/watch"
	"corpusd/pkg/database"
	"corpusd/pkg/logger"
	"corpusd/pkg/mq"
	"corpusd/pkg/sched"
	"corpusd/pkg/telemetry"

	_ "go.uber.org/automaxprocs"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
)

func main() {
	app := fx.New(
		fx.Provide(
			config.LoadConfig,          // inject config
			database.NewDBConnection,   // inject db connection
			database.NewRedisClient,    // inject redis client
			logger.NewLogger,           // inject logger
			mq.NewRabbitMQ,             // inject rabbitmq service
			telemetry.NewTelemetry,     // inject telemetry
			telemetry.NewTracerFactory, // inject telemetry tracer factory
			sched.NewScheduler,         // inject recurring task scheduler
			checkpoint.NewService,      // inject checkpoint service
			stats.NewPublisher,         // inject stats publisher
			watch.NewInbox,             // inject inbox watcher
		),
		corpus.Module, // inject corpus manager and backend
		seed.Module,   // inject corpus seeders
		fx.Invoke(
			func(s *checkpoint.Service) {}, // start checkpointing
			func(p *stats.Publisher) {},    // start stats publishing
			func(in *watch.Inbox) {},       // start inbox watching
			func(c *seed.CorpusSeeder) error { return c.Run() },
		),
		fx.WithLogger(func(log *zap.Logger) fxevent.Logger {
			zlogger := fxevent.ZapLogger{Logger: log}
			zlogger.UseLogLevel(zap.DebugLevel)
			return &zlogger
		}),
	)
	app.Run()
}
