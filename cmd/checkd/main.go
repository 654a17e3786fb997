package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/sqlwatch/sqlwatch/internal/cache"
	config "github.com/sqlwatch/sqlwatch/internal/config/checkd"
	"github.com/sqlwatch/sqlwatch/internal/datasource"
	"github.com/sqlwatch/sqlwatch/internal/engine"
	"github.com/sqlwatch/sqlwatch/internal/notify"
	"github.com/sqlwatch/sqlwatch/internal/obs"
	kafkaRepo "github.com/sqlwatch/sqlwatch/internal/repository/kafka"
	pg "github.com/sqlwatch/sqlwatch/internal/repository/postgres"
	"github.com/sqlwatch/sqlwatch/internal/telemetry"
)

func configPath() string {
	if p := os.Getenv("CHECKD_CONFIG"); p != "" {
		return p
	}
	return "config/checkd.yaml"
}

func main() {
	// init
	root, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	_ = godotenv.Load()

	cfg, err := config.Load(configPath())
	if err != nil {
		log.Fatal(err)
	}

	// logger
	l, err := obs.NewLogger(cfg.Log.AsLoggerConfig())
	if err != nil {
		log.Fatal(err)
	}
	l.Info("starting checkd",
		zap.Int("data_sources", len(cfg.DataSources)),
		zap.Int("tiers", len(cfg.Tiers)),
		zap.String("metrics_addr", cfg.Server.MetricsAddr),
	)

	// otel
	otelCloser, err := obs.SetupOTel(root, cfg.OTEL.AsOTELConfig())
	if err != nil {
		l.Fatal("otel init", zap.Error(err))
	}
	defer func() { _ = otelCloser.Shutdown(context.Background()) }()

	// store
	db, err := pg.New(root, cfg.DB)
	if err != nil {
		l.Fatal("db connect", zap.Error(err))
	}
	defer db.Close()

	// data sources
	results := cache.New()
	registry, err := datasource.OpenAll(cfg.DataSources, results, l)
	if err != nil {
		l.Fatal("data sources", zap.Error(err))
	}
	defer func() { _ = registry.Close() }()

	// telemetry
	var sink telemetry.Sink = telemetry.NopSink{}
	var prod *kafkaRepo.Producer
	if cfg.Kafka.Enable {
		_ = kafkaRepo.EnsureTopic(root, cfg.Kafka.Brokers, kafkaRepo.TopicSpec{
			Name:              cfg.Kafka.Topic,
			NumPartitions:     cfg.Kafka.Partitions,
			ReplicationFactor: cfg.Kafka.ReplicationFactor,
		}, l)
		prod = kafkaRepo.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic).WithLogger(l)
		defer func() { _ = prod.Close() }()
		sink = kafkaRepo.NewRunEventsKafka(prod, l)
	}

	// metrics
	ms := obs.BootstrapMetricsServer(cfg.Server.MetricsAddr, func(ctx context.Context) error {
		hctx, cancel := context.WithTimeout(ctx, 500*time.Millisecond)
		defer cancel()
		return db.Pool.Ping(hctx)
	}, l)

	// wiring
	checks := pg.NewCheckRepo(db)
	runner := engine.NewRunner(l, engine.Deps{
		Queries:    pg.NewQueryRepo(db),
		Checks:     checks,
		Runs:       pg.NewRunRepo(db),
		Sources:    registry,
		Transactor: pg.NewTransactor(db, l),
		Telemetry:  sink,
	}, engine.Options{
		Attempts: cfg.Engine.Attempts,
		Backoff:  cfg.Engine.Backoff,
	})
	dispatcher := engine.NewDispatcher(l, checks, runner)

	mailSink := notify.NewMailSink(notify.NewMailer(cfg.SMTP, l), l, cfg.Notify.Workers, cfg.Notify.Buffer)
	mailSink.Start(root)
	notifier := notify.NewFailureNotifier(l, checks, mailSink)

	// run: one loop per schedule tier plus the notifier loop
	errCh := make(chan error, len(cfg.Tiers)+1)
	for _, tier := range cfg.Tiers {
		t := tier
		go func() { errCh <- dispatcher.RunTier(root, t.Name, t.Every) }()
		l.Info("tier scheduled", zap.String("tier", t.Name), zap.Duration("every", t.Every))
	}
	go func() { errCh <- notifier.RunLoop(root, cfg.Engine.NotifyEvery) }()

	l.Info("checkd started")

	select {
	case <-root.Done():
	case err = <-errCh:
		if err != nil && !errors.Is(err, context.Canceled) {
			l.Error("loop error", zap.Error(err))
		}
	}

	// graceful shutdown
	shCtx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	_ = ms.Shutdown(shCtx)
	mailSink.Wait()
	l.Info("bye")
}
