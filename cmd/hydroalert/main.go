package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	httpadapter "github.com/couchcryptid/hydroalert-service/internal/adapter/http"
	"github.com/couchcryptid/hydroalert-service/internal/adapter/influx"
	kafkaadapter "github.com/couchcryptid/hydroalert-service/internal/adapter/kafka"
	"github.com/couchcryptid/hydroalert-service/internal/adapter/memory"
	mqttadapter "github.com/couchcryptid/hydroalert-service/internal/adapter/mqtt"
	natsadapter "github.com/couchcryptid/hydroalert-service/internal/adapter/nats"
	"github.com/couchcryptid/hydroalert-service/internal/adapter/postgres"
	redisadapter "github.com/couchcryptid/hydroalert-service/internal/adapter/redis"
	"github.com/couchcryptid/hydroalert-service/internal/adapter/telegram"
	"github.com/couchcryptid/hydroalert-service/internal/adapter/websocket"
	"github.com/couchcryptid/hydroalert-service/internal/broadcast"
	"github.com/couchcryptid/hydroalert-service/internal/config"
	"github.com/couchcryptid/hydroalert-service/internal/dashboard"
	"github.com/couchcryptid/hydroalert-service/internal/observability"
	"github.com/couchcryptid/hydroalert-service/internal/pipeline"
	"github.com/jonboulle/clockwork"
	"golang.org/x/sync/errgroup"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := observability.NewLogger(cfg)
	if err := run(cfg, logger); err != nil {
		logger.Error("service stopped with error", "error", err)
		os.Exit(1)
	}
	logger.Info("shutdown complete")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	metrics := observability.NewMetrics()
	clock := clockwork.NewRealClock()
	ready := observability.NewReadiness()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	policy, err := config.LoadPolicy(cfg.PolicyFile, cfg.WindowDuration(), logger)
	if err != nil {
		return err
	}
	policy.OnReload(func(applied bool) {
		outcome := "applied"
		if !applied {
			outcome = "rejected"
		}
		metrics.PolicyReloads.WithLabelValues(outcome).Inc()
	})

	var closers []func()
	defer func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}()

	stores, err := openStores(ctx, cfg, clock, ready, logger, metrics, &closers)
	if err != nil {
		return err
	}

	hub := websocket.NewHub(logger)
	closers = append(closers, hub.Close)
	publishers := broadcast.Fanout{hub}

	if len(cfg.KafkaBrokers) > 0 {
		writer := kafkaadapter.NewWriter(cfg, logger)
		closers = append(closers, closeLogged(logger, "kafka writer", writer.Close))
		publishers = append(publishers, writer)
	}
	if cfg.NATSURL != "" {
		nc, err := natsadapter.Connect(cfg.NATSURL, cfg.NATSSubjectPrefix, logger)
		if err != nil {
			return err
		}
		closers = append(closers, closeLogged(logger, "nats", nc.Close))
		ready.Add("nats", nc.CheckReadiness)
		publishers = append(publishers, nc)
	}

	var notifier broadcast.Notifier = broadcast.LogNotifier{Logger: logger}
	if cfg.TelegramEnabled() {
		notifier = telegram.NewClient(cfg.TelegramBotToken, cfg.TelegramChatID, cfg.TelegramTimeout, logger)
		logger.Info("telegram notifier enabled")
	}

	dispatcher := broadcast.NewDispatcher(publishers, notifier, cfg.DispatchWorkers, cfg.DispatchQueueSize, cfg.DispatchTimeout, logger, metrics)
	dispatchCtx, stopDispatch := context.WithCancel(context.Background())
	dispatchDone := make(chan struct{})
	go func() {
		defer close(dispatchDone)
		_ = dispatcher.Run(dispatchCtx)
	}()

	coord := pipeline.NewCoordinator(stores, policy, dispatcher, pipeline.Options{
		WindowSize:           cfg.WindowSize,
		RainUnitFactor:       cfg.RainUnitFactor,
		SensorMountHeightCm:  cfg.SensorMountHeightCm,
		StoreTimeout:         cfg.StoreTimeout,
		AggregateMaxAttempts: cfg.AggregateMaxAttempts,
		Clock:                clock,
	}, logger, metrics)

	dash := dashboard.NewService(dashboard.Sources{
		Devices:       stores.Devices,
		Notifications: stores.Notifications,
		Statuses:      stores.Cache,
	}, cfg.StaleAfter, clock)

	srv := httpadapter.NewServer(cfg.HTTPAddr, httpadapter.Deps{
		Devices:   coord,
		Dashboard: dash,
		Live:      hub,
		Ready:     ready,
	}, logger)

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	g.Go(func() error { return policy.Run(gctx) })
	g.Go(func() error {
		return pipeline.NewSweeper(stores.Cache, cfg.SweepInterval, cfg.SweepMaxAge, clock, logger, metrics).Run(gctx)
	})

	if len(cfg.KafkaBrokers) > 0 {
		reader := kafkaadapter.NewReader(cfg, logger)
		closers = append(closers, closeLogged(logger, "kafka reader", reader.Close))
		consumer := pipeline.NewConsumer(reader, coord, "kafka", clock, logger)
		g.Go(func() error { return consumer.Run(gctx) })
	}
	if cfg.MQTTBrokerURL != "" {
		sub := mqttadapter.NewSubscriber(cfg, coord, clock, logger)
		ready.Add("mqtt", sub.CheckReadiness)
		g.Go(func() error { return sub.Run(gctx) })
	}

	logger.Info("hydroalert started",
		"window_size", cfg.WindowSize,
		"kafka", len(cfg.KafkaBrokers) > 0,
		"mqtt", cfg.MQTTBrokerURL != "",
		"nats", cfg.NATSURL != "",
	)

	runErr := g.Wait()
	logger.Info("shutting down")

	// Window jobs may still publish, so the dispatcher stops after them.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := coord.Close(shutdownCtx); err != nil {
		logger.Error("window jobs did not finish", "error", err)
	}
	stopDispatch()
	<-dispatchDone

	return runErr
}

func openStores(ctx context.Context, cfg *config.Config, clock clockwork.Clock, ready *observability.Readiness,
	logger *slog.Logger, metrics *observability.Metrics, closers *[]func()) (pipeline.Stores, error) {
	mem := memory.New(clock)
	stores := pipeline.Stores{Devices: mem, Readings: mem, Notifications: mem, Cache: mem}

	if cfg.DatabaseURL != "" {
		pg, err := postgres.New(ctx, cfg.DatabaseURL, postgres.Options{ApplicationName: "hydroalert"})
		if err != nil {
			return stores, err
		}
		*closers = append(*closers, pg.Close)
		ready.Add("postgres", pg.Ping)
		stores.Devices, stores.Readings, stores.Notifications = pg, pg, pg
		logger.Info("using postgres store")
	} else {
		logger.Warn("DATABASE_URL not set, devices and history are kept in memory")
	}

	if cfg.RedisAddr != "" {
		cache := redisadapter.New(redisadapter.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
			Timeout:  cfg.StoreTimeout,
		})
		*closers = append(*closers, closeLogged(logger, "redis", cache.Close))
		ready.Add("redis", cache.Ping)
		stores.Cache = cache
		logger.Info("using redis status cache", "addr", cfg.RedisAddr)
	}

	if cfg.InfluxURL != "" {
		mirror := influx.NewMirror(stores.Readings, cfg.InfluxURL, cfg.InfluxToken, cfg.InfluxOrg, cfg.InfluxBucket, logger, metrics)
		*closers = append(*closers, mirror.Close)
		stores.Readings = mirror
		logger.Info("mirroring aggregated readings to influxdb", "bucket", cfg.InfluxBucket)
	}
	return stores, nil
}

func closeLogged(logger *slog.Logger, name string, fn func() error) func() {
	return func() {
		if err := fn(); err != nil {
			logger.Error(name+" close error", "error", err)
		}
	}
}
