package di

import (
	"context"
	"fmt"
	"time"

	"CandleMill/internal/domain/repository"
	"CandleMill/internal/handler/api"
	mid "CandleMill/internal/middleware"
	internalrepo "CandleMill/internal/repository"
	"CandleMill/internal/service/feed"
	"CandleMill/internal/usecase"
	"CandleMill/pkg/cache"
	pkgch "CandleMill/pkg/clickhouse"
	"CandleMill/pkg/config"
	xhttp "CandleMill/pkg/http"
	pkgkafka "CandleMill/pkg/kafka"
	applogger "CandleMill/pkg/logger"
	"CandleMill/pkg/metrics"
	"CandleMill/pkg/queue"
	"CandleMill/pkg/server"

	"github.com/redis/go-redis/v9"
)

// ProvideLogger creates the application logger.
func ProvideLogger(cfg *config.Config) (*applogger.Logger, error) {
	level := "info"
	format := "console"
	if cfg.Environment == "production" {
		format = "json"
	}
	return applogger.New(&applogger.Config{Level: level, Format: format, Output: "stdout"})
}

// ProvideMetrics creates a Prometheus metrics recorder.
func ProvideMetrics() repository.Metrics {
	return metrics.New()
}

// ProvideClickHouseClient creates a ClickHouse client and applies the
// schema. Returns nil for the memory backend.
func ProvideClickHouseClient(cfg *config.Config) (*pkgch.Client, error) {
	if cfg.Backend.Type != "clickhouse" {
		return nil, nil
	}
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

// ProvideTickStore selects the tick store backend.
func ProvideTickStore(chClient *pkgch.Client, cfg *config.Config) repository.TickStore {
	if cfg.Backend.Type == "clickhouse" && chClient != nil {
		return internalrepo.NewCHTickStore(chClient.DB(), cfg.ClickHouse.Database)
	}
	return internalrepo.NewMemoryTickStore()
}

// ProvideCandleStore selects the candle store backend.
func ProvideCandleStore(chClient *pkgch.Client, cfg *config.Config) repository.CandleStore {
	if cfg.Backend.Type == "clickhouse" && chClient != nil {
		return internalrepo.NewCHCandleStore(chClient.DB(), cfg.ClickHouse.Database)
	}
	return internalrepo.NewMemoryCandleStore()
}

// ProvideKafkaProducer creates a Kafka producer, or nil when tick
// fan-out is disabled.
func ProvideKafkaProducer(cfg *config.Config) (*pkgkafka.Producer, error) {
	if !cfg.Backend.PublishTicks || len(cfg.Kafka.Brokers) == 0 {
		return nil, nil
	}
	producer, err := pkgkafka.NewProducer(
		pkgkafka.WithBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithCompression(cfg.Kafka.Compression),
		pkgkafka.WithRequiredAcks(cfg.Kafka.RequiredAcks),
		pkgkafka.WithBatchSize(cfg.Kafka.Producer.BatchSize),
		pkgkafka.WithBatchBytes(cfg.Kafka.Producer.BatchBytes),
		pkgkafka.WithBatchTimeout(cfg.Kafka.Producer.Linger),
		pkgkafka.WithTimeouts(cfg.Kafka.Producer.WriteTimeout, cfg.Kafka.Producer.ReadTimeout),
		pkgkafka.WithMaxAttempts(cfg.Kafka.Producer.MaxAttempts),
		pkgkafka.WithAsync(cfg.Kafka.Producer.Async),
		pkgkafka.WithHashByKey(true),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka producer: %w", err)
	}
	return producer, nil
}

// ProvideKafkaConsumer creates a Kafka consumer when enabled.
func ProvideKafkaConsumer(cfg *config.Config) (*pkgkafka.Consumer, error) {
	if !cfg.Kafka.Consumer.Enabled {
		return nil, nil
	}
	consumer, err := pkgkafka.NewConsumer(
		pkgkafka.WithConsumerBrokers(cfg.Kafka.Brokers),
		pkgkafka.WithConsumerGroupID(cfg.Kafka.Consumer.GroupID),
		pkgkafka.WithConsumerWorkers(cfg.Kafka.Consumer.Workers),
		pkgkafka.WithConsumerBufferSize(cfg.Kafka.Consumer.BufferSize),
		pkgkafka.WithConsumerRetry(cfg.Kafka.Consumer.RetryMax, cfg.Kafka.Consumer.BackoffMin, cfg.Kafka.Consumer.BackoffMax),
		pkgkafka.WithConsumerDLQ(cfg.Kafka.Consumer.DLQTopic),
		pkgkafka.WithConsumerFetch(cfg.Kafka.Consumer.MinBytes, cfg.Kafka.Consumer.MaxBytes),
	)
	if err != nil {
		return nil, fmt.Errorf("kafka consumer: %w", err)
	}
	return consumer, nil
}

// ProvideMaterializer creates the materialization engine.
func ProvideMaterializer(ticks repository.TickStore, candles repository.CandleStore, m repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.Materializer {
	return usecase.NewMaterializer(ticks, candles, l,
		usecase.WithInterval(cfg.Engine.MaterializeInterval),
		usecase.WithMetrics(m),
	)
}

// ProvideTickIngestor creates the ingestion boundary, fanning ticks out
// to Kafka when a producer is configured.
func ProvideTickIngestor(ticks repository.TickStore, mat *usecase.Materializer, producer *pkgkafka.Producer, m repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.TickIngestor {
	opts := []usecase.IngestorOption{usecase.WithIngestMetrics(m)}
	if producer != nil {
		opts = append(opts, usecase.WithPublisher(internalrepo.NewKafkaPublisher(producer, cfg.Kafka.Topic)))
	}
	return usecase.NewTickIngestor(ticks, mat, l, opts...)
}

// ProvideCandlesUseCase creates the query boundary, with a layered
// query cache when Redis is enabled.
func ProvideCandlesUseCase(candles repository.CandleStore, mat *usecase.Materializer, m repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.CandlesUseCase {
	agg := usecase.NewDynamicAggregator(candles)
	opts := []usecase.CandlesOption{usecase.WithCandlesMetrics(m)}
	if cfg.Redis.Enabled {
		rc, err := cache.NewRedisCache(
			cache.WithRedisHost(cfg.Redis.Host),
			cache.WithRedisPort(cfg.Redis.Port),
			cache.WithRedisPassword(cfg.Redis.Password),
			cache.WithRedisDB(cfg.Redis.DB),
			cache.WithRedisPrefix("candlemill:"),
		)
		if err != nil {
			l.Warn("redis cache unavailable, queries uncached", applogger.Error(err))
		} else {
			opts = append(opts, usecase.WithQueryCache(cache.NewLayeredCache(rc), cfg.Engine.QueryCacheTTL))
		}
	}
	return usecase.NewCandlesUseCase(candles, agg, mat, l, opts...)
}

// ProvideRetentionManager creates the retention sweeper.
func ProvideRetentionManager(ticks repository.TickStore, candles repository.CandleStore, m repository.Metrics, l *applogger.Logger, cfg *config.Config) *usecase.RetentionManager {
	return usecase.NewRetentionManager(ticks, candles,
		usecase.RetentionHorizons{
			Ticks:     cfg.Engine.Retention.Ticks,
			Candles1m: cfg.Engine.Retention.Candles1m,
			Candles1h: cfg.Engine.Retention.Candles1h,
		},
		l,
		usecase.WithRetentionInterval(cfg.Engine.RetentionInterval),
		usecase.WithRetentionMetrics(m),
	)
}

// ProvideJobQueue creates the Redis-backed backfill queue when Redis is
// enabled.
func ProvideJobQueue(mat *usecase.Materializer, l *applogger.Logger, cfg *config.Config) *queue.RedisQueue {
	if !cfg.Redis.Enabled {
		return nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     fmt.Sprintf("%s:%d", cfg.Redis.Host, cfg.Redis.Port),
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	q := queue.NewRedisQueue(l, &queue.QueueConfig{
		Workers:    2,
		QueueSize:  100,
		RetryLimit: 3,
		RetryDelay: 30 * time.Second,
	}, client, queue.ModeProducerConsumer)
	q.RegisterJob(usecase.NewBackfillJob(mat, l))
	return q
}

// ProvideMarketStream creates the live WebSocket feed when enabled.
func ProvideMarketStream(cfg *config.Config) repository.MarketStream {
	if !cfg.Feed.Enabled {
		return nil
	}
	return feed.New(
		cfg.Feed.APIKey,
		cfg.Feed.WebSocketURL,
		cfg.Feed.Symbols,
		cfg.Feed.ReconnectDelay,
		cfg.Feed.PingInterval,
	)
}

// ProvideTickCollector creates the feed collector with its pipeline.
func ProvideTickCollector(stream repository.MarketStream, ing *usecase.TickIngestor, m repository.Metrics) *usecase.TickCollector {
	if stream == nil {
		return nil
	}
	pipe := mid.NewIngestPipeline(ing, m, mid.WithBufferSize(2000))
	return usecase.NewTickCollector(stream, ing, m, pipe)
}

// ProvideKafkaTicksHandler registers the handler for the ticks topic.
func ProvideKafkaTicksHandler(ing *usecase.TickIngestor, m repository.Metrics, cfg *config.Config) *usecase.KafkaTicksHandler {
	return usecase.NewKafkaTicksHandler(cfg.Kafka.Topic, ing, m)
}

// ProvideHTTPHandler creates the HTTP boundary.
func ProvideHTTPHandler(l *applogger.Logger, ing *usecase.TickIngestor, candles *usecase.CandlesUseCase, mat *usecase.Materializer, ticks repository.TickStore, jobQueue *queue.RedisQueue) xhttp.Handler {
	opts := []api.HandlerOption{}
	if jobQueue != nil {
		opts = append(opts, api.WithQueue(jobQueue))
	}
	return api.NewEchoHandler(l, ing, candles, mat, ticks, opts...)
}

// ProvideApp assembles the application.
func ProvideApp(
	cfg *config.Config,
	l *applogger.Logger,
	mat *usecase.Materializer,
	retention *usecase.RetentionManager,
	httpHandler xhttp.Handler,
	collector *usecase.TickCollector,
	consumer *pkgkafka.Consumer,
	kh *usecase.KafkaTicksHandler,
	chClient *pkgch.Client,
	jobQueue *queue.RedisQueue,
) *server.App {
	opts := []server.AppOption{}
	if collector != nil {
		opts = append(opts, server.WithCollector(collector))
	}
	if consumer != nil {
		opts = append(opts, server.WithConsumer(consumer, kh))
	}
	if chClient != nil {
		opts = append(opts, server.WithClickHouse(chClient))
	}
	if jobQueue != nil {
		opts = append(opts, server.WithJobQueue(jobQueue))
	}
	return server.New(cfg, l, mat, retention, httpHandler, opts...)
}
