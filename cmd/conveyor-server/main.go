// Conveyor Server — API и engine выполнения workflows.
//
// Server:
//   - Принимает графы с канвы редактора (REST + SSE)
//   - Выполняет runs внутри процесса (internal/engine)
//   - Получает запросы на запуск от scheduler через RabbitMQ
//   - Публикует события выполнения во внешний topic-обменник
//
// Без DB_URL работает в ad-hoc режиме: только POST /runs и
// POST /preview, без сохранённых workflows и истории.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"github.com/smolenkov/conveyor/internal/api"
	"github.com/smolenkov/conveyor/internal/cache"
	"github.com/smolenkov/conveyor/internal/engine"
	"github.com/smolenkov/conveyor/internal/mq"
	"github.com/smolenkov/conveyor/internal/repo"
	"github.com/smolenkov/conveyor/internal/telemetry"
)

var startTime = time.Now()

func main() {
	// Инициализируем structured logging
	logger := telemetry.SetupLogger()
	logger.Info("starting conveyor-server")

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	// База данных опциональна: без неё сервер работает в ad-hoc режиме
	var workflowRepo *repo.WorkflowRepo
	var runRepo *repo.RunRepo
	var scheduleRepo *repo.ScheduleRepo

	if os.Getenv("DB_URL") != "" {
		pool, err := repo.NewPool(ctx)
		if err != nil {
			logger.Error("failed to connect to database", "error", err)
			os.Exit(1)
		}
		defer pool.Close()
		logger.Info("database connected")

		workflowRepo = repo.NewWorkflowRepo(pool)
		runRepo = repo.NewRunRepo(pool)
		scheduleRepo = repo.NewScheduleRepo(pool)
	} else {
		logger.Warn("DB_URL not set, running in ad-hoc mode without storage")
	}

	// Cache результатов узлов: Redis, если настроен, иначе in-memory
	var resultCache cache.Cache = cache.NewMemory(0)
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			logger.Error("invalid REDIS_URL", "error", err)
			os.Exit(1)
		}
		client := redis.NewClient(opts)
		if err := client.Ping(ctx).Err(); err != nil {
			logger.Warn("Redis not available, falling back to in-memory cache", "error", err)
		} else {
			resultCache = cache.NewRedis(client)
			defer client.Close()
			logger.Info("Redis cache connected")
		}
	}

	// Метрики
	metrics := telemetry.NewMetrics(prometheus.DefaultRegisterer)

	// Engine
	engineCfg := engine.Config{
		Cache:   resultCache,
		Metrics: metrics,
		Logger:  logger,
	}
	if runRepo != nil {
		engineCfg.Store = runRepo
	}
	eng := engine.New(engineCfg)
	defer eng.Close()

	// RabbitMQ опционален: без него нет scheduler-запусков и
	// внешнего потока событий, но REST API работает полностью
	if mqURL := os.Getenv("RABBITMQ_URL"); mqURL != "" {
		mqConn, err := mq.NewConnection(mqURL, logger)
		if err != nil {
			logger.Warn("RabbitMQ not available, running without message queue", "error", err)
		} else {
			defer mqConn.Close()
			logger.Info("RabbitMQ connected")

			if err := mq.SetupTopology(ctx, mqConn); err != nil {
				logger.Warn("failed to setup topology", "error", err)
			}

			// Мост событий engine -> topic-обменник
			publisher := mq.NewPublisher(mqConn, logger)
			bridge := mq.NewEventBridge(publisher, logger)
			bridge.Start(ctx, eng.Bus())
			defer bridge.Stop()

			// Запросы на запуск от scheduler
			if runRepo != nil {
				consumer := mq.NewConsumer(mqConn, logger, mq.ConsumerConfig{
					Queue:    mq.QueueRunsRequested,
					Handler:  runRequestHandler(eng, workflowRepo, runRepo, scheduleRepo, logger),
					Prefetch: 8,
				})
				if err := consumer.Start(ctx); err != nil {
					logger.Warn("failed to start run request consumer", "error", err)
				} else {
					defer consumer.Stop()
				}
			}
		}
	}

	// API handler
	handler := api.NewHandler(api.Config{
		Engine:       eng,
		WorkflowRepo: workflowRepo,
		RunRepo:      runRepo,
		ScheduleRepo: scheduleRepo,
		Logger:       logger,
	})

	mux := http.NewServeMux()

	// Health и metrics
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "ok %s", time.Since(startTime))
	})
	mux.Handle("/metrics", promhttp.Handler())

	// Регистрируем API маршруты
	handler.RegisterRoutes(mux)

	addr := ":8080"
	if v := os.Getenv("API_PORT"); v != "" {
		addr = ":" + v
	}

	server := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		logger.Info("listening", "addr", addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", "error", err)
			cancel()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	// Graceful shutdown с таймаутом 10 секунд
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", "error", err)
	}

	logger.Info("stopped")
}
