// Пакет config — загрузка и валидация конфигурации Session Gateway
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Session Gateway.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- PostgreSQL ---

	// Хост PostgreSQL
	DBHost string
	// Порт PostgreSQL
	DBPort int
	// Имя базы данных
	DBName string
	// Имя пользователя PostgreSQL
	DBUser string
	// Пароль пользователя PostgreSQL
	DBPassword string
	// Режим SSL: disable, require, verify-ca, verify-full
	DBSSLMode string

	// --- Core API (Farmovo backend) ---

	// Базовый URL core API (например, https://api.farmovo.lan)
	CoreAPIURL string
	// Путь к CA-сертификату для TLS-соединений с core API (опционально)
	CoreCACertPath string
	// Таймаут HTTP-запросов к core API
	CoreTimeout time.Duration

	// --- JWT ---

	// URL JWKS endpoint провайдера идентификации
	JWTJWKSURL string
	// Ожидаемый issuer JWT (пустая строка — не проверять)
	JWTIssuer string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал фонового обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration

	// --- Ролевые наборы ---

	// Роли, свободно выбирающие рабочий магазин (через запятую)
	ElevatedRoles []string
	// Роли, жёстко привязанные к одному магазину (через запятую)
	RestrictedRoles []string

	// --- Redis (мост сигналов между инстансами) ---

	// Адрес Redis (host:port). Пустая строка — мост отключён,
	// сигналы распространяются только внутри инстанса.
	RedisAddr string
	// Пароль Redis
	RedisPassword string
	// Номер базы Redis
	RedisDB int
	// Имя pub/sub канала сигналов
	SignalChannel string

	// --- Кэш списка магазинов ---

	// Максимальное количество записей в кэше
	StoreCacheSize int
	// Время жизни записи кэша
	StoreCacheTTL time.Duration

	// --- Уведомления ---

	// Размер страницы ленты уведомлений
	NotifPageSize int

	// --- Мониторинг зависимостей ---

	// Имя группы в метриках topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей
	DephealthCheckInterval time.Duration

	// --- SSE ---

	// Интервал heartbeat-комментариев в SSE-потоке сигналов
	SSEHeartbeat time.Duration

	// --- Graceful shutdown ---

	// Таймаут graceful shutdown HTTP-сервера
	ShutdownTimeout time.Duration
}

// Load загружает конфигурацию из переменных окружения, валидирует
// обязательные поля и возвращает Config или ошибку.
func Load() (*Config, error) {
	cfg := &Config{}
	var err error

	// --- Сервер ---

	// FM_PORT — порт HTTP-сервера (по умолчанию 8080)
	cfg.Port, err = getEnvInt("FM_PORT", 8080)
	if err != nil {
		return nil, fmt.Errorf("FM_PORT: %w", err)
	}
	if cfg.Port < 1 || cfg.Port > 65535 {
		return nil, fmt.Errorf("FM_PORT: значение %d вне допустимого диапазона 1-65535", cfg.Port)
	}

	// FM_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("FM_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("FM_LOG_LEVEL: %w", err)
	}

	// FM_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("FM_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("FM_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- PostgreSQL ---

	// FM_DB_HOST — обязательный
	cfg.DBHost, err = getEnvRequired("FM_DB_HOST")
	if err != nil {
		return nil, err
	}

	// FM_DB_PORT — порт PostgreSQL (по умолчанию 5432)
	cfg.DBPort, err = getEnvInt("FM_DB_PORT", 5432)
	if err != nil {
		return nil, fmt.Errorf("FM_DB_PORT: %w", err)
	}

	// FM_DB_NAME — обязательный
	cfg.DBName, err = getEnvRequired("FM_DB_NAME")
	if err != nil {
		return nil, err
	}

	// FM_DB_USER — обязательный
	cfg.DBUser, err = getEnvRequired("FM_DB_USER")
	if err != nil {
		return nil, err
	}

	// FM_DB_PASSWORD — обязательный
	cfg.DBPassword, err = getEnvRequired("FM_DB_PASSWORD")
	if err != nil {
		return nil, err
	}

	// FM_DB_SSL_MODE — режим SSL (по умолчанию disable)
	cfg.DBSSLMode = getEnvDefault("FM_DB_SSL_MODE", "disable")
	validSSLModes := map[string]bool{
		"disable": true, "require": true, "verify-ca": true, "verify-full": true,
	}
	if !validSSLModes[cfg.DBSSLMode] {
		return nil, fmt.Errorf("FM_DB_SSL_MODE: недопустимое значение %q, допустимые: disable, require, verify-ca, verify-full", cfg.DBSSLMode)
	}

	// --- Core API ---

	// FM_CORE_API_URL — обязательный
	cfg.CoreAPIURL, err = getEnvRequired("FM_CORE_API_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.CoreAPIURL = strings.TrimRight(cfg.CoreAPIURL, "/")
	if _, parseErr := url.Parse(cfg.CoreAPIURL); parseErr != nil {
		return nil, fmt.Errorf("FM_CORE_API_URL: некорректный URL %q: %w", cfg.CoreAPIURL, parseErr)
	}

	// FM_CORE_CA_CERT_PATH — CA-сертификат core API (опционально)
	cfg.CoreCACertPath = getEnvDefault("FM_CORE_CA_CERT_PATH", "")

	// FM_CORE_TIMEOUT — таймаут запросов к core API (по умолчанию 30s)
	cfg.CoreTimeout, err = getEnvDuration("FM_CORE_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_CORE_TIMEOUT: %w", err)
	}

	// --- JWT ---

	// FM_JWT_JWKS_URL — обязательный
	cfg.JWTJWKSURL, err = getEnvRequired("FM_JWT_JWKS_URL")
	if err != nil {
		return nil, err
	}

	// FM_JWT_ISSUER — ожидаемый issuer (опционально)
	cfg.JWTIssuer = getEnvDefault("FM_JWT_ISSUER", "")

	// FM_JWT_LEEWAY — допуск по времени (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("FM_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_JWT_LEEWAY: %w", err)
	}

	// FM_JWKS_REFRESH_INTERVAL — интервал обновления ключей (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("FM_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("FM_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// FM_JWKS_CLIENT_TIMEOUT — таймаут HTTP-клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("FM_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Ролевые наборы ---

	// FM_ELEVATED_ROLES — роли со свободным выбором магазина (по умолчанию "OWNER,ADMIN")
	cfg.ElevatedRoles = parseCSV(getEnvDefault("FM_ELEVATED_ROLES", "OWNER,ADMIN"))

	// FM_RESTRICTED_ROLES — роли с закреплённым магазином (по умолчанию "STAFF")
	cfg.RestrictedRoles = parseCSV(getEnvDefault("FM_RESTRICTED_ROLES", "STAFF"))

	// --- Redis ---

	// FM_REDIS_ADDR — адрес Redis (опционально; пусто — мост сигналов отключён)
	cfg.RedisAddr = getEnvDefault("FM_REDIS_ADDR", "")

	// FM_REDIS_PASSWORD — пароль Redis
	cfg.RedisPassword = getEnvDefault("FM_REDIS_PASSWORD", "")

	// FM_REDIS_DB — номер базы Redis (по умолчанию 0)
	cfg.RedisDB, err = getEnvInt("FM_REDIS_DB", 0)
	if err != nil {
		return nil, fmt.Errorf("FM_REDIS_DB: %w", err)
	}

	// FM_SIGNAL_CHANNEL — имя канала сигналов (по умолчанию "farmovo:signals")
	cfg.SignalChannel = getEnvDefault("FM_SIGNAL_CHANNEL", "farmovo:signals")

	// --- Кэш списка магазинов ---

	// FM_STORE_CACHE_SIZE — размер кэша (по умолчанию 128)
	cfg.StoreCacheSize, err = getEnvInt("FM_STORE_CACHE_SIZE", 128)
	if err != nil {
		return nil, fmt.Errorf("FM_STORE_CACHE_SIZE: %w", err)
	}
	if cfg.StoreCacheSize < 1 {
		return nil, fmt.Errorf("FM_STORE_CACHE_SIZE: значение %d должно быть положительным", cfg.StoreCacheSize)
	}

	// FM_STORE_CACHE_TTL — TTL кэша (по умолчанию 5m)
	cfg.StoreCacheTTL, err = getEnvDuration("FM_STORE_CACHE_TTL", 5*time.Minute)
	if err != nil {
		return nil, fmt.Errorf("FM_STORE_CACHE_TTL: %w", err)
	}

	// --- Уведомления ---

	// FM_NOTIF_PAGE_SIZE — размер страницы ленты (по умолчанию 20)
	cfg.NotifPageSize, err = getEnvInt("FM_NOTIF_PAGE_SIZE", 20)
	if err != nil {
		return nil, fmt.Errorf("FM_NOTIF_PAGE_SIZE: %w", err)
	}
	if cfg.NotifPageSize < 1 || cfg.NotifPageSize > 200 {
		return nil, fmt.Errorf("FM_NOTIF_PAGE_SIZE: значение %d вне допустимого диапазона 1-200", cfg.NotifPageSize)
	}

	// --- Мониторинг зависимостей ---

	// FM_DEPHEALTH_GROUP — группа в метриках (по умолчанию "farmovo")
	cfg.DephealthGroup = getEnvDefault("FM_DEPHEALTH_GROUP", "farmovo")

	// FM_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("FM_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- SSE ---

	// FM_SSE_HEARTBEAT — интервал heartbeat SSE (по умолчанию 30s)
	cfg.SSEHeartbeat, err = getEnvDuration("FM_SSE_HEARTBEAT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_SSE_HEARTBEAT: %w", err)
	}

	// --- Graceful shutdown ---

	// FM_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("FM_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("FM_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
}

// DatabaseDSN возвращает строку подключения к PostgreSQL.
func (c *Config) DatabaseDSN() string {
	return fmt.Sprintf(
		"host=%s port=%d dbname=%s user=%s password=%s sslmode=%s",
		c.DBHost, c.DBPort, c.DBName, c.DBUser, c.DBPassword, c.DBSSLMode,
	)
}

// DatabaseURL возвращает URL подключения к PostgreSQL
// (для topologymetrics и golang-migrate).
func (c *Config) DatabaseURL() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		url.QueryEscape(c.DBUser), url.QueryEscape(c.DBPassword),
		c.DBHost, c.DBPort, c.DBName, c.DBSSLMode,
	)
}

// SetupLogger настраивает глобальный slog-логгер на основе конфигурации.
func SetupLogger(cfg *Config) *slog.Logger {
	opts := &slog.HandlerOptions{
		Level: cfg.LogLevel,
	}

	var handler slog.Handler
	if cfg.LogFormat == "json" {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

// --- Вспомогательные функции ---

// getEnvRequired возвращает значение переменной окружения или ошибку, если она не задана.
func getEnvRequired(key string) (string, error) {
	val := os.Getenv(key)
	if val == "" {
		return "", fmt.Errorf("%s: обязательная переменная окружения не задана", key)
	}
	return val, nil
}

// getEnvDefault возвращает значение переменной окружения или значение по умолчанию.
func getEnvDefault(key, defaultVal string) string {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal
	}
	return val
}

// getEnvInt возвращает целочисленное значение переменной окружения или значение по умолчанию.
func getEnvInt(key string, defaultVal int) (int, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	n, err := strconv.Atoi(val)
	if err != nil {
		return 0, fmt.Errorf("некорректное целое число: %q", val)
	}
	return n, nil
}

// getEnvDuration возвращает time.Duration из переменной окружения или значение по умолчанию.
func getEnvDuration(key string, defaultVal time.Duration) (time.Duration, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	d, err := time.ParseDuration(val)
	if err != nil {
		return 0, fmt.Errorf("некорректная длительность: %q (используйте формат Go: 30s, 1h, 15m)", val)
	}
	return d, nil
}

// parseLogLevel преобразует строку уровня логирования в slog.Level.
func parseLogLevel(level string) (slog.Level, error) {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug, nil
	case "info":
		return slog.LevelInfo, nil
	case "warn", "warning":
		return slog.LevelWarn, nil
	case "error":
		return slog.LevelError, nil
	default:
		return slog.LevelInfo, fmt.Errorf("недопустимый уровень %q, допустимые: debug, info, warn, error", level)
	}
}

// parseCSV разбирает строку, разделённую запятыми, на срез строк.
// Пробелы вокруг элементов убираются, пустые элементы игнорируются.
func parseCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	result := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			result = append(result, p)
		}
	}
	return result
}
