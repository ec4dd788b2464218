// Пакет config — загрузка и валидация конфигурации Account Module
// из переменных окружения.
package config

import (
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"
)

// Версия приложения, задаётся при сборке через -ldflags.
var Version = "dev"

// Config содержит все параметры конфигурации Account Module.
type Config struct {
	// --- Сервер ---

	// Порт HTTP-сервера (диапазон 8000-8009)
	Port int
	// Уровень логирования (debug, info, warn, error)
	LogLevel slog.Level
	// Формат логов (json, text)
	LogFormat string

	// --- Keycloak ---

	// URL Keycloak (например, https://keycloak.kryukov.lan)
	KeycloakURL string
	// Имя realm по умолчанию (для readiness probe и auto-вычисления issuer)
	KeycloakRealm string
	// Client ID для token endpoint admin-сессии
	KeycloakClientID string
	// Имя администратора для password grant
	KeycloakAdminUser string
	// Пароль администратора для password grant
	KeycloakAdminPassword string
	// Client по умолчанию для action-ссылок в письмах,
	// когда azp в токене отсутствует
	DefaultClient string
	// Таймаут HTTP-запросов к Admin API
	HTTPTimeout time.Duration
	// Путь к CA-сертификату для TLS-соединений с Keycloak (опционально)
	CACertPath string
	// Сбрасывать ли emailVerified при смене email
	ResetEmailVerified bool

	// --- JWT (валидация входящих токенов) ---

	// Issuer JWT (авто-вычисляется из KeycloakURL, если не задан)
	JWTIssuer string
	// URL JWKS endpoint (авто-вычисляется из KeycloakURL, если не задан)
	JWTJWKSURL string
	// Допустимое отклонение времени при проверке JWT
	JWTLeeway time.Duration
	// Интервал обновления JWKS-ключей
	JWKSRefreshInterval time.Duration
	// Таймаут HTTP-клиента JWKS
	JWKSClientTimeout time.Duration

	// --- Мониторинг зависимостей ---

	// Имя группы topologymetrics
	DephealthGroup string
	// Интервал проверки зависимостей topologymetrics
	DephealthCheckInterval time.Duration

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

	// ACC_PORT — порт HTTP-сервера (по умолчанию 8000)
	cfg.Port, err = getEnvInt("ACC_PORT", 8000)
	if err != nil {
		return nil, fmt.Errorf("ACC_PORT: %w", err)
	}
	if cfg.Port < 8000 || cfg.Port > 8009 {
		return nil, fmt.Errorf("ACC_PORT: значение %d вне допустимого диапазона 8000-8009", cfg.Port)
	}

	// ACC_LOG_LEVEL — уровень логирования (по умолчанию info)
	cfg.LogLevel, err = parseLogLevel(getEnvDefault("ACC_LOG_LEVEL", "info"))
	if err != nil {
		return nil, fmt.Errorf("ACC_LOG_LEVEL: %w", err)
	}

	// ACC_LOG_FORMAT — формат логов (по умолчанию json)
	cfg.LogFormat = getEnvDefault("ACC_LOG_FORMAT", "json")
	if cfg.LogFormat != "json" && cfg.LogFormat != "text" {
		return nil, fmt.Errorf("ACC_LOG_FORMAT: недопустимое значение %q, допустимые: json, text", cfg.LogFormat)
	}

	// --- Keycloak ---

	// ACC_KEYCLOAK_URL — обязательный
	cfg.KeycloakURL, err = getEnvRequired("ACC_KEYCLOAK_URL")
	if err != nil {
		return nil, err
	}
	// Убираем trailing slash
	cfg.KeycloakURL = strings.TrimRight(cfg.KeycloakURL, "/")

	// ACC_KEYCLOAK_REALM — realm (по умолчанию artstore)
	cfg.KeycloakRealm = getEnvDefault("ACC_KEYCLOAK_REALM", "artstore")

	// ACC_KEYCLOAK_CLIENT_ID — клиент admin-сессии (по умолчанию admin-cli)
	cfg.KeycloakClientID = getEnvDefault("ACC_KEYCLOAK_CLIENT_ID", "admin-cli")

	// ACC_KEYCLOAK_ADMIN_USER — обязательный
	cfg.KeycloakAdminUser, err = getEnvRequired("ACC_KEYCLOAK_ADMIN_USER")
	if err != nil {
		return nil, err
	}

	// ACC_KEYCLOAK_ADMIN_PASSWORD — обязательный
	cfg.KeycloakAdminPassword, err = getEnvRequired("ACC_KEYCLOAK_ADMIN_PASSWORD")
	if err != nil {
		return nil, err
	}

	// ACC_DEFAULT_CLIENT — клиент для писем (по умолчанию account)
	cfg.DefaultClient = getEnvDefault("ACC_DEFAULT_CLIENT", "account")

	// ACC_HTTP_TIMEOUT — таймаут запросов к Admin API (по умолчанию 30s)
	cfg.HTTPTimeout, err = getEnvDuration("ACC_HTTP_TIMEOUT", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACC_HTTP_TIMEOUT: %w", err)
	}

	// ACC_CA_CERT_PATH — путь к CA-сертификату (опционально)
	cfg.CACertPath = getEnvDefault("ACC_CA_CERT_PATH", "")

	// ACC_RESET_EMAIL_VERIFIED — сброс emailVerified при смене email (по умолчанию true)
	cfg.ResetEmailVerified, err = getEnvBool("ACC_RESET_EMAIL_VERIFIED", true)
	if err != nil {
		return nil, fmt.Errorf("ACC_RESET_EMAIL_VERIFIED: %w", err)
	}

	// --- JWT ---

	// ACC_JWT_ISSUER — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTIssuer = getEnvDefault("ACC_JWT_ISSUER",
		fmt.Sprintf("%s/realms/%s", cfg.KeycloakURL, cfg.KeycloakRealm))

	// ACC_JWT_JWKS_URL — авто-вычисляется из KeycloakURL, если не задан
	cfg.JWTJWKSURL = getEnvDefault("ACC_JWT_JWKS_URL",
		fmt.Sprintf("%s/realms/%s/protocol/openid-connect/certs", cfg.KeycloakURL, cfg.KeycloakRealm))

	// ACC_JWT_LEEWAY — отклонение времени при проверке JWT (по умолчанию 30s)
	cfg.JWTLeeway, err = getEnvDuration("ACC_JWT_LEEWAY", 30*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACC_JWT_LEEWAY: %w", err)
	}

	// ACC_JWKS_REFRESH_INTERVAL — интервал обновления JWKS (по умолчанию 1h)
	cfg.JWKSRefreshInterval, err = getEnvDuration("ACC_JWKS_REFRESH_INTERVAL", time.Hour)
	if err != nil {
		return nil, fmt.Errorf("ACC_JWKS_REFRESH_INTERVAL: %w", err)
	}

	// ACC_JWKS_CLIENT_TIMEOUT — таймаут клиента JWKS (по умолчанию 10s)
	cfg.JWKSClientTimeout, err = getEnvDuration("ACC_JWKS_CLIENT_TIMEOUT", 10*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACC_JWKS_CLIENT_TIMEOUT: %w", err)
	}

	// --- Мониторинг зависимостей ---

	// ACC_DEPHEALTH_GROUP — группа topologymetrics (по умолчанию artstore)
	cfg.DephealthGroup = getEnvDefault("ACC_DEPHEALTH_GROUP", "artstore")

	// ACC_DEPHEALTH_CHECK_INTERVAL — интервал проверки зависимостей (по умолчанию 15s)
	cfg.DephealthCheckInterval, err = getEnvDuration("ACC_DEPHEALTH_CHECK_INTERVAL", 15*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACC_DEPHEALTH_CHECK_INTERVAL: %w", err)
	}

	// --- Graceful shutdown ---

	// ACC_SHUTDOWN_TIMEOUT — таймаут graceful shutdown (по умолчанию 5s)
	cfg.ShutdownTimeout, err = getEnvDuration("ACC_SHUTDOWN_TIMEOUT", 5*time.Second)
	if err != nil {
		return nil, fmt.Errorf("ACC_SHUTDOWN_TIMEOUT: %w", err)
	}

	return cfg, nil
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

// getEnvBool возвращает булево значение переменной окружения или значение по умолчанию.
func getEnvBool(key string, defaultVal bool) (bool, error) {
	val := os.Getenv(key)
	if val == "" {
		return defaultVal, nil
	}
	b, err := strconv.ParseBool(val)
	if err != nil {
		return false, fmt.Errorf("некорректное булево значение: %q", val)
	}
	return b, nil
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
