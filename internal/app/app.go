// Package app собирает сервис POS: зависимости, фоновые воркеры и служебный
// HTTP-сервер с метриками, health-проверками и callback платёжного шлюза.
package app

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	log "github.com/sirupsen/logrus"

	healthcheck "github.com/vladislavdragonenkov/pos/internal/health"
	"github.com/vladislavdragonenkov/pos/internal/service/gateway"
	"github.com/vladislavdragonenkov/pos/internal/service/syncqueue"
	"github.com/vladislavdragonenkov/pos/internal/version"
)

func Run(ctx context.Context, cfg Config) error {
	logger := log.WithField("component", "app")

	deps, err := NewDependencies(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer deps.Close()

	// Kafka опционален: сервис продолжает работать без брокера.
	kafkaProducer, _ := initKafkaProducer(cfg.KafkaBrokers, logger)
	defer closeKafka(kafkaProducer, logger)

	orchestrator := createOrchestrator(deps, kafkaProducer)

	dispatcher := syncqueue.NewDispatcher(orchestrator, deps.Guard, deps.Products, deps.Audit, logger)

	drainerOptions := []syncqueue.Option{
		syncqueue.WithLogger(logger),
		syncqueue.WithPollInterval(cfg.DrainPollInterval),
		syncqueue.WithBatchSize(cfg.DrainBatchSize),
		syncqueue.WithStaleAfter(cfg.DrainStaleAfter),
	}
	if kafkaProducer != nil {
		drainerOptions = append(drainerOptions, syncqueue.WithDLQPublisher(kafkaProducer))
	}
	drainer := syncqueue.NewDrainer(deps.Queue, dispatcher, drainerOptions...)

	purgeWorker := syncqueue.NewPurgeWorker(deps.Queue,
		syncqueue.WithPurgeLogger(logger),
		syncqueue.WithPurgeInterval(cfg.PurgeInterval),
		syncqueue.WithPurgeBatchSize(cfg.PurgeBatchSize),
		syncqueue.WithCompletedRetention(cfg.CompletedRetention),
		syncqueue.WithDeadLetterRetention(cfg.DeadLetterRetention),
	)

	expiryWorker := gateway.NewExpiryWorker(deps.Sales, orchestrator,
		gateway.WithExpiryLogger(logger),
		gateway.WithExpiryPollInterval(cfg.ExpiryPollInterval),
		gateway.WithPendingTimeout(cfg.PendingPaymentTimeout),
		gateway.WithExpiryBatchSize(cfg.ExpiryBatchSize),
	)

	healthHandler := buildHealthHandler(ctx, deps)
	callbackHandler := gateway.NewCallbackHandler(orchestrator, logger)

	opsSrv := startOpsServer(ctx, cfg.OpsAddr, logger, healthHandler, callbackHandler)

	var wg sync.WaitGroup
	wg.Add(3)
	go func() {
		defer wg.Done()
		drainer.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		purgeWorker.Run(ctx)
	}()
	go func() {
		defer wg.Done()
		expiryWorker.Run(ctx)
	}()

	logger.Info("POS service started")

	<-ctx.Done()
	logger.Info("получен сигнал остановки, останавливаем сервис")

	shutdownHTTP(opsSrv, logger)
	wg.Wait()

	return ctx.Err()
}

// buildHealthHandler регистрирует проверки сконфигурированных компонентов.
func buildHealthHandler(ctx context.Context, deps *Dependencies) *healthcheck.Handler {
	handler := healthcheck.NewHandler(version.GetVersion())

	if store := deps.Store(); store != nil {
		handler.RegisterChecker("postgres", healthcheck.NewSimpleChecker("postgres", func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return store.Ping(pingCtx)
		}))
	}
	if redisCache := deps.RedisCache(); redisCache != nil {
		handler.RegisterChecker("redis", healthcheck.NewSimpleChecker("redis", func() error {
			pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
			defer cancel()
			return redisCache.Ping(pingCtx)
		}))
	}
	handler.RegisterChecker("sync_queue", healthcheck.NewSyncBacklogChecker(deps.Queue, 0, 0))

	return handler
}

// startOpsServer запускает служебный HTTP-сервер: метрики, health-проверки
// и приём callback платёжного шлюза.
func startOpsServer(ctx context.Context, addr string, logger *log.Entry, healthHandler *healthcheck.Handler, callbackHandler http.Handler) *http.Server {
	srv := &http.Server{Addr: addr, Handler: buildOpsMux(healthHandler, callbackHandler)}
	go func() {
		logger.Infof("метрики доступны по адресу %s/metrics", addr)
		logger.Infof("health checks: %s/healthz, %s/livez, %s/readyz", addr, addr, addr)
		logger.Infof("payment callbacks: %s/callbacks/payment", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.WithError(err).Warn("ops server failed")
		}
	}()

	go func() {
		<-ctx.Done()
		shutdownHTTP(srv, logger)
	}()

	return srv
}

// buildOpsMux собирает маршруты служебного сервера.
func buildOpsMux(healthHandler *healthcheck.Handler, callbackHandler http.Handler) *http.ServeMux {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.Handle("/healthz", healthHandler)
	mux.HandleFunc("/livez", healthcheck.LivenessHandler)
	mux.HandleFunc("/readyz", healthHandler.ReadinessHandler)
	mux.Handle("/callbacks/payment", callbackHandler)
	return mux
}

// shutdownHTTP аккуратно останавливает HTTP-сервер.
func shutdownHTTP(srv *http.Server, logger *log.Entry) {
	if srv == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logger.WithError(err).Warn("ops server shutdown with error")
	}
}
