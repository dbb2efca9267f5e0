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

	"projecthub/internal/config"
	"projecthub/internal/handler"
	"projecthub/internal/httpserver"
	"projecthub/internal/repository"
	"projecthub/internal/repository/sqlite"
	"projecthub/internal/service"
	"projecthub/migrations"
	"projecthub/pkg/db"
	"projecthub/pkg/logger"
	"projecthub/pkg/mq"
	"projecthub/pkg/otel"
	"projecthub/pkg/outbox"
	"projecthub/pkg/redis"
	"projecthub/pkg/util"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// backend 选定的存储后端
type backend struct {
	store  service.Store
	pinger httpserver.Pinger
	outbox outbox.Store
	close  func()
}

func openBackend(ctx context.Context, cfg *config.Config, log *zap.Logger) (*backend, error) {
	switch cfg.Store.Driver {
	case config.DriverPostgres:
		pool, err := db.NewConnection(ctx, cfg.DB, log)
		if err != nil {
			return nil, err
		}
		if cfg.Store.AutoMigrate {
			if err := migrations.Apply(ctx, pool, log); err != nil {
				pool.Close()
				return nil, err
			}
		}
		st := repository.NewStore(pool, log)
		return &backend{store: st, pinger: st, outbox: outbox.NewRepository(pool), close: pool.Close}, nil
	case config.DriverSQLite:
		st, err := sqlite.Open(ctx, cfg.Store.SQLitePath, log)
		if err != nil {
			return nil, err
		}
		return &backend{store: st, pinger: st, outbox: st, close: func() { _ = st.Close() }}, nil
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Store.Driver)
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.NewLogger(cfg.Log.Level, cfg.Log.Development)
	defer log.Sync()

	log.Info("Starting project-service...",
		zap.String("store_driver", cfg.Store.Driver),
		zap.String("port", cfg.Server.Port),
		zap.Bool("agent_enabled", cfg.Agent.URL != ""),
		zap.Bool("mq_enabled", cfg.MQ.URL != ""),
	)

	ctx, stop := context.WithCancel(context.Background())
	defer stop()

	// OpenTelemetry
	shutdownTracing, err := otel.Init(otel.Config{
		ServiceName: cfg.OTel.ServiceName,
		Endpoint:    cfg.OTel.Endpoint,
		SampleRatio: 1,
	}, log)
	if err != nil {
		log.Fatal("Failed to init OpenTelemetry", zap.Error(err))
	}
	defer shutdownTracing()

	// Store
	log.Info("Initializing store...")
	be, err := openBackend(ctx, cfg, log)
	if err != nil {
		log.Fatal("Failed to init store", zap.Error(err))
	}
	defer be.close()
	log.Info("Store initialized successfully")

	// Redis（幂等键），不可用时不启用
	rdb, err := redis.NewRedisClient(cfg.Redis, log)
	if err != nil {
		log.Warn("Redis unavailable, idempotency keys disabled", zap.Error(err))
		rdb = nil
	}
	if rdb != nil {
		defer rdb.Close()
	}
	idem := util.NewIdempotency(rdb, cfg.Idempotency.TTL, log)

	// MQ + outbox dispatcher
	var publisher *mq.Publisher
	if cfg.MQ.URL != "" {
		publisher, err = mq.NewPublisher(cfg.MQ.URL, cfg.MQ.Exchange)
		if err != nil {
			log.Fatal("Failed to init MQ publisher", zap.Error(err))
		}
		defer publisher.Close()

		dispatcher := outbox.NewDispatcher(be.outbox, publisher, log).
			WithInterval(cfg.Outbox.Interval).
			WithBatchSize(cfg.Outbox.BatchSize).
			WithMaxRetries(cfg.Outbox.MaxRetries)
		if cfg.Outbox.RequeueFailedOnStart {
			if n, err := dispatcher.RequeueFailed(ctx, cfg.Outbox.BatchSize); err != nil {
				log.Error("Failed to requeue failed outbox events", zap.Error(err))
			} else {
				log.Info("Requeued failed outbox events", zap.Int("count", n))
			}
		}
		go dispatcher.Start(ctx)
	} else {
		log.Warn("MQ disabled, outbox events will stay pending")
	}

	// Services
	projects := service.NewProjectService(be.store, cfg.Store.QueryTimeout, log)
	tasks := service.NewTaskService(be.store, cfg.Store.QueryTimeout, log)
	sources := service.NewSourceLinkingService(be.store, cfg.Store.QueryTimeout, log)
	health := service.NewHealthService(be.store, be.store, 0, log)

	var (
		generator service.DocGenerator
		agent     *service.AgentClient
	)
	if cfg.Agent.URL != "" {
		agent = service.NewAgentClient(cfg.Agent.URL, cfg.Agent.Timeout)
		generator = agent
	}
	creator := service.NewProjectCreator(projects, tasks, sources, generator, cfg.Creation.StepTimeout, log)

	// HTTP Server
	if !cfg.Log.Development {
		gin.SetMode(gin.ReleaseMode)
	}
	deps := httpserver.Deps{
		Projects:  handler.NewProjectHandler(projects, sources, creator, health, idem, log),
		Tasks:     handler.NewTaskHandler(tasks, projects, log),
		Store:     be.pinger,
		JWTSecret: cfg.JWT.Secret,
		Logger:    log,
	}
	if publisher != nil {
		deps.MQ = publisher
	}
	if agent != nil {
		deps.Agent = agent
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           httpserver.NewRouter(deps),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Info("HTTP server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatal("HTTP server failed", zap.Error(err))
		}
	}()

	log.Info("project-service is fully initialized and running")

	// 优雅退出处理
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info("Shutting down project-service gracefully...")

	// 先停 HTTP，再停 dispatcher
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("HTTP server shutdown error", zap.Error(err))
	} else {
		log.Info("HTTP server stopped")
	}
	stop()

	log.Info("project-service shutdown complete")
}
