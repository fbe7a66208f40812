package server

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"CandleMill/internal/usecase"
	pkgch "CandleMill/pkg/clickhouse"
	"CandleMill/pkg/config"
	xhttp "CandleMill/pkg/http"
	pkgkafka "CandleMill/pkg/kafka"
	applogger "CandleMill/pkg/logger"
	"CandleMill/pkg/queue"
)

// App encapsulates the engine lifecycle: materializer and retention
// loops, optional feed collector and Kafka consumer, the job queue, and
// the HTTP server.
type App struct {
	cfg       *config.Config
	logger    *applogger.Logger
	mat       *usecase.Materializer
	retention *usecase.RetentionManager
	collector *usecase.TickCollector
	consumer  *pkgkafka.Consumer
	kh        pkgkafka.MessageHandler
	chClient  *pkgch.Client
	jobQueue  *queue.RedisQueue

	httpServer  *xhttp.Server
	httpHandler xhttp.Handler
}

// AppOption wires an optional component into the app.
type AppOption func(*App)

// WithCollector attaches a live feed collector.
func WithCollector(c *usecase.TickCollector) AppOption {
	return func(a *App) { a.collector = c }
}

// WithConsumer attaches a Kafka consumer and its tick handler.
func WithConsumer(consumer *pkgkafka.Consumer, kh pkgkafka.MessageHandler) AppOption {
	return func(a *App) {
		a.consumer = consumer
		a.kh = kh
	}
}

// WithClickHouse attaches the ClickHouse client for lifecycle management.
func WithClickHouse(c *pkgch.Client) AppOption {
	return func(a *App) { a.chClient = c }
}

// WithJobQueue attaches the Redis-backed job queue.
func WithJobQueue(q *queue.RedisQueue) AppOption {
	return func(a *App) { a.jobQueue = q }
}

// New creates an App around the always-present core: config, logger,
// materializer, retention, and the HTTP handler.
func New(cfg *config.Config, logger *applogger.Logger, mat *usecase.Materializer, retention *usecase.RetentionManager, httpHandler xhttp.Handler, opts ...AppOption) *App {
	a := &App{
		cfg:         cfg,
		logger:      logger,
		mat:         mat,
		retention:   retention,
		httpHandler: httpHandler,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// Run starts everything and blocks until interrupted.
func (a *App) Run() error {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	l := a.logger

	a.httpServer = xhttp.NewServer(a.httpHandler,
		xhttp.WithPort(a.cfg.Server.Port),
		xhttp.WithTimeouts(a.cfg.Server.ReadTimeout, a.cfg.Server.WriteTimeout, a.cfg.Server.ShutdownTimeout),
		xhttp.WithMetricsPath(a.cfg.Metrics.Path),
		xhttp.WithLogger(l),
	)

	a.mat.Start()
	a.retention.Start()

	if a.collector != nil {
		go func() {
			if err := a.collector.Start(ctx); err != nil {
				l.Error("collector error", applogger.Error(err))
			}
		}()
		l.Info("collector started", applogger.Strings("symbols", a.cfg.Feed.Symbols))
	}

	if a.consumer != nil && a.kh != nil {
		a.consumer.RegisterHandler(a.kh)
		go func() {
			if err := a.consumer.Start(); err != nil {
				l.Error("kafka consumer error", applogger.Error(err))
			}
		}()
		l.Info("kafka consumer started", applogger.String("topic", a.kh.Topic()))
	}

	if a.jobQueue != nil {
		if err := a.jobQueue.Start(); err != nil {
			l.Error("job queue start error", applogger.Error(err))
			return err
		}
		// Repeated error logs collapse to aggregated batches on the queue.
		l.AddCollector(&applogger.CollectionConfig{
			TimeInterval:   30 * time.Second,
			CountThreshold: 100,
			Topic:          "candlemill.logs",
			Publisher:      a.jobQueue,
		})
	}

	if err := a.httpServer.Start(); err != nil {
		l.Error("http server start error", applogger.Error(err))
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)
	<-sigCh

	l.Info("shutdown signal received")
	return a.shutdown(ctx)
}

// shutdown stops components in dependency order: sources first, then the
// HTTP surface, then a final materialization pass, then infrastructure.
func (a *App) shutdown(ctx context.Context) error {
	l := a.logger

	if a.collector != nil {
		if err := a.collector.Shutdown(ctx); err != nil {
			l.Warn("collector stop error", applogger.Error(err))
		}
	}
	if a.consumer != nil {
		if err := a.consumer.Stop(ctx); err != nil {
			l.Warn("kafka consumer stop error", applogger.Error(err))
		}
	}

	shutdownCtx, cancel := context.WithTimeout(ctx, a.cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := a.httpServer.Stop(shutdownCtx); err != nil {
		l.Error("http shutdown error", applogger.Error(err))
	}

	// Final pass so nothing marked dirty before the signal is lost.
	if err := a.mat.Stop(shutdownCtx); err != nil {
		l.Warn("materializer stop error", applogger.Error(err))
	}
	a.retention.Stop()

	l.RemoveCollector()
	if a.jobQueue != nil {
		if err := a.jobQueue.Stop(shutdownCtx); err != nil {
			l.Warn("job queue stop error", applogger.Error(err))
		}
	}
	if a.chClient != nil {
		if err := a.chClient.Close(); err != nil {
			l.Warn("clickhouse close error", applogger.Error(err))
		}
	}

	l.Info("shutdown complete")
	return nil
}
