// Точка входа Session Gateway — шлюз сессий консоли Farmovo.
// Загружает конфигурацию, подключается к PostgreSQL, применяет миграции,
// создаёт клиент core API, шину сигналов (с мостом через Redis при
// нескольких экземплярах), сервисный слой и API handlers, запускает
// topologymetrics и HTTP-сервер с JWT middleware и graceful shutdown.
package main

import (
	"context"
	"log/slog"
	"os"

	"github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"

	"github.com/LamVNT/Farmovo-sub002/internal/api/handlers"
	"github.com/LamVNT/Farmovo-sub002/internal/api/middleware"
	"github.com/LamVNT/Farmovo-sub002/internal/bus"
	"github.com/LamVNT/Farmovo-sub002/internal/config"
	"github.com/LamVNT/Farmovo-sub002/internal/coreclient"
	"github.com/LamVNT/Farmovo-sub002/internal/database"
	"github.com/LamVNT/Farmovo-sub002/internal/repository"
	"github.com/LamVNT/Farmovo-sub002/internal/server"
	"github.com/LamVNT/Farmovo-sub002/internal/service"
)

func main() {
	// 1. Загрузка конфигурации из переменных окружения
	cfg, err := config.Load()
	if err != nil {
		slog.Error("Ошибка загрузки конфигурации", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 2. Настройка логирования
	logger := config.SetupLogger(cfg)
	logger.Info("Session Gateway запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("FM_DEPHEALTH_GROUP") == "" {
		logger.Warn("FM_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. Применение миграций БД
	logger.Info("Применение миграций БД...")
	if err := database.Migrate(cfg, logger); err != nil {
		logger.Error("Ошибка миграций БД", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Подключение к PostgreSQL (pgxpool)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	pool, err := database.Connect(ctx, cfg, logger)
	if err != nil {
		logger.Error("Ошибка подключения к PostgreSQL", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer pool.Close()

	// 4.1 Адаптер pgxpool → *sql.DB для topologymetrics (connection pool mode).
	// Проверка здоровья PostgreSQL идёт через существующий пул соединений,
	// что позволяет обнаружить его исчерпание.
	pgDB := stdlib.OpenDBFromPool(pool)
	defer pgDB.Close()

	// 5. Клиент core API Farmovo
	coreClient, err := coreclient.New(cfg.CoreAPIURL, cfg.CoreCACertPath, cfg.CoreTimeout, logger)
	if err != nil {
		logger.Error("Ошибка создания клиента core API", slog.String("error", err.Error()))
		os.Exit(1)
	}
	logger.Info("Клиент core API создан", slog.String("url", cfg.CoreAPIURL))

	// 6. Шина сигналов. При заданном FM_REDIS_ADDR включается мост через
	// Redis Pub/Sub — сигналы доходят до остальных экземпляров шлюза.
	signals := bus.New(logger)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPassword,
			DB:       cfg.RedisDB,
		})
		if err := rdb.Ping(ctx).Err(); err != nil {
			logger.Error("Ошибка подключения к Redis", slog.String("error", err.Error()))
			os.Exit(1)
		}
		defer rdb.Close()
		signals.StartBridge(ctx, rdb, cfg.SignalChannel)
	} else {
		logger.Info("FM_REDIS_ADDR не задан, мост сигналов отключён (один экземпляр)")
	}

	// 7. Repositories
	stateRepo := repository.NewClientStateRepository(pool)

	// 8. Services
	resolver := service.NewScopeResolver(cfg.ElevatedRoles, cfg.RestrictedRoles)
	scopesSvc := service.NewScopeService(stateRepo, resolver, signals, logger)
	sessionsSvc := service.NewSessionService(coreClient, stateRepo, scopesSvc, signals, logger)
	notificationsSvc := service.NewNotificationService(
		coreClient, sessionsSvc, scopesSvc, resolver,
		cfg.NotifPageSize,
		logger,
	)
	storesSvc := service.NewStoreListService(coreClient, signals, cfg.StoreCacheSize, cfg.StoreCacheTTL, logger)

	// 9. Readiness checkers (PostgreSQL + JWKS)
	pgChecker := database.NewReadinessChecker(pool)
	jwksChecker, err := middleware.NewJWKSReadinessChecker(cfg.JWTJWKSURL, cfg.CoreCACertPath, cfg.JWKSClientTimeout)
	if err != nil {
		logger.Error("Ошибка создания JWKS readiness checker", slog.String("error", err.Error()))
		os.Exit(1)
	}
	healthHandler := handlers.NewHealthHandler(pgChecker, jwksChecker)

	// 10. API handler
	apiHandler := handlers.NewAPIHandler(
		handlers.NewSessionHandler(sessionsSvc, logger),
		handlers.NewScopeHandler(scopesSvc, sessionsSvc, storesSvc, logger),
		handlers.NewNotificationHandler(notificationsSvc, logger),
		handlers.NewEventsHandler(signals, cfg.SSEHeartbeat, logger),
		healthHandler,
		logger,
	)

	// 11. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CoreCACertPath,
		cfg.JWTIssuer,
		cfg.JWKSClientTimeout,
		cfg.JWKSRefreshInterval,
		cfg.JWTLeeway,
		logger,
	)
	if err != nil {
		logger.Error("Ошибка создания JWT middleware", slog.String("error", err.Error()))
		os.Exit(1)
	}
	defer jwtAuth.Close()
	logger.Info("JWT middleware инициализирован",
		slog.String("jwks_url", cfg.JWTJWKSURL),
		slog.String("issuer", cfg.JWTIssuer),
	)

	// 12. topologymetrics — мониторинг зависимостей (PostgreSQL + core API + JWKS)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"session-gateway",
		cfg.DephealthGroup,
		pgDB,
		cfg.DatabaseURL(),
		cfg.CoreAPIURL,
		cfg.JWTJWKSURL,
		cfg.DephealthCheckInterval,
		logger,
	)
	if dephealthErr != nil {
		logger.Warn("topologymetrics недоступен, запуск без мониторинга зависимостей",
			slog.String("error", dephealthErr.Error()),
		)
	} else {
		if startErr := dephealthSvc.Start(ctx); startErr != nil {
			logger.Warn("Ошибка запуска topologymetrics",
				slog.String("error", startErr.Error()),
			)
		} else {
			logger.Info("topologymetrics запущен",
				slog.String("group", cfg.DephealthGroup),
				slog.String("check_interval", cfg.DephealthCheckInterval.String()),
			)
		}
	}

	// 13. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 14. Graceful shutdown фоновых задач
	logger.Info("Останавливаем фоновые задачи...")

	if dephealthErr == nil {
		dephealthSvc.Stop()
	}
	cancel()

	logger.Info("Session Gateway остановлен")
}
