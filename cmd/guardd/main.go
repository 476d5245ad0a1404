package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/xela07ax/agent-guardrails/internal/audit"
	"github.com/xela07ax/agent-guardrails/internal/guard"
	"github.com/xela07ax/agent-guardrails/internal/infra"
	"github.com/xela07ax/agent-guardrails/internal/infra/auth"
	"github.com/xela07ax/agent-guardrails/internal/server"
	"github.com/xela07ax/agent-guardrails/internal/storage"
	"github.com/xela07ax/agent-guardrails/internal/storage/postgres"
)

func main() {
	// 1. Конфигурация и логгер
	cfg, err := infra.LoadConfig()
	if err != nil {
		log.Fatalf("config load failed: %v", err)
	}

	logger, err := infra.NewLogger(cfg.Logger)
	if err != nil {
		log.Fatalf("logger init failed: %v", err)
	}
	defer logger.Sync()

	// Контекст жизненного цикла фоновых горутин: SIGTERM останавливает слушателей
	appCtx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 2. Хранилище политик и журнала (memory | file | postgres)
	store, pgStore, err := buildStore(cfg, logger)
	if err != nil {
		logger.Fatal("storage init failed", zap.Error(err))
	}
	if pgStore != nil {
		defer pgStore.Close()
	}

	// 3. Kill-switch (только при сконфигурированном Redis)
	var ks *guard.KillSwitch
	if cfg.Redis.Addr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		ks = guard.NewKillSwitch(rdb, logger)
		if err := ks.Init(appCtx); err != nil {
			logger.Fatal("kill-switch init failed", zap.Error(err))
		}
		go ks.StartListener(appCtx)
	}

	// 4. Зеркало аудита: асинхронная копия журнала в Postgres для аналитики.
	// Имеет смысл, когда авторитетный журнал живет в файле, а дашборды — в базе.
	var exporter *audit.Exporter
	if cfg.Engine.AuditMirror {
		switch {
		case pgStore != nil:
			logger.Warn("audit mirror disabled: journal already lives in postgres")
		case cfg.Storage.PostgresURL == "":
			logger.Warn("audit mirror disabled: storage.postgres_url is not set")
		default:
			sink, err := postgres.NewStore(cfg.Storage.PostgresURL)
			if err != nil {
				logger.Fatal("audit mirror sink init failed", zap.Error(err))
			}
			defer sink.Close()

			exporter = audit.NewExporter(sink, cfg.Engine.AuditBufferSize, logger)
			exporter.Start()
			defer exporter.Stop()
		}
	}

	// 5. Метрики
	reg := prometheus.NewRegistry()
	metrics := guard.NewMetrics(reg)

	// 6. Сборка ядра и HTTP-слоя
	guardian := guard.NewGuardian(store, ks, exporter, metrics, logger)

	var validator auth.TokenValidator
	if len(cfg.Auth.PublicKey) > 0 {
		pubKey, err := auth.ParseRSAPublicKey(cfg.Auth.PublicKey)
		if err != nil {
			logger.Fatal("public key parse failed", zap.Error(err))
		}
		validator = auth.NewBaseValidator(pubKey)
	}

	handler := server.NewAgentHandler(guardian, logger)
	api := server.NewGuardServer(logger, handler, validator, reg)

	srv := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      api,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	// 7. Graceful Shutdown
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		logger.Info("guardrails gateway started", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Fatal("listen failed", zap.Error(err))
		}
	}()

	<-stop
	logger.Info("guardrails gateway stopping...")

	// Даем 5 секунд на завершение запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Fatal("server shutdown failed", zap.Error(err))
	}
	logger.Info("guardrails gateway exited properly")
}

// buildStore собирает хранилище по конфигу. Postgres дополнительно
// оборачивается в ResilientStore (retries + circuit breaker + rate limit)
// и возвращается вторым значением как sink для зеркала аудита.
func buildStore(cfg *infra.Config, logger *zap.Logger) (storage.Store, *postgres.Store, error) {
	switch cfg.Storage.Driver {
	case "memory":
		logger.Warn("using in-memory storage: state is lost on restart")
		return storage.NewMemoryStore(), nil, nil

	case "file", "":
		path := cfg.Storage.Path
		if path == "" {
			var err error
			path, err = storage.DefaultStatePath()
			if err != nil {
				return nil, nil, err
			}
		}
		fs, err := storage.NewFileStore(path)
		if err != nil {
			return nil, nil, err
		}
		logger.Info("file storage ready", zap.String("path", path))
		return fs, nil, nil

	case "postgres":
		if cfg.Storage.PostgresURL == "" {
			return nil, nil, fmt.Errorf("storage.postgres_url is required for postgres driver")
		}
		pg, err := postgres.NewStore(cfg.Storage.PostgresURL)
		if err != nil {
			return nil, nil, err
		}

		// Проверяем соединение с таймаутом
		pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := pg.Ping(pingCtx); err != nil {
			return nil, nil, fmt.Errorf("database unreachable: %w", err)
		}

		logger.Info("postgres storage ready")
		return storage.NewResilientStore(pg), pg, nil

	default:
		return nil, nil, fmt.Errorf("unknown storage driver %q", cfg.Storage.Driver)
	}
}
