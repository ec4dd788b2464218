// Точка входа Account Module — фасад над Keycloak Admin REST API.
// Загружает конфигурацию, открывает admin-сессию Keycloak,
// создаёт сервисный слой и API handlers, запускает мониторинг
// зависимостей (topologymetrics), HTTP-сервер с JWT middleware
// и graceful shutdown.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"log/slog"
	"net/http"
	"os"

	"github.com/bigkaa/accountmodule/internal/api/handlers"
	"github.com/bigkaa/accountmodule/internal/api/middleware"
	"github.com/bigkaa/accountmodule/internal/config"
	"github.com/bigkaa/accountmodule/internal/keycloak"
	"github.com/bigkaa/accountmodule/internal/server"
	"github.com/bigkaa/accountmodule/internal/service"
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
	logger.Info("Account Module запускается",
		slog.String("version", config.Version),
		slog.Int("port", cfg.Port),
	)

	// Предупреждения о дефолтных значениях topologymetrics
	if os.Getenv("ACC_DEPHEALTH_GROUP") == "" {
		logger.Warn("ACC_DEPHEALTH_GROUP не задана, используется значение по умолчанию",
			slog.String("default", cfg.DephealthGroup),
		)
	}

	// 3. HTTP-клиент с кастомным CA (для Keycloak)
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}
	if cfg.CACertPath != "" {
		httpClient, err = buildHTTPClientWithCA(cfg)
		if err != nil {
			logger.Error("Ошибка загрузки CA-сертификата",
				slog.String("path", cfg.CACertPath),
				slog.String("error", err.Error()),
			)
			os.Exit(1)
		}
		logger.Info("CA-сертификат загружен", slog.String("path", cfg.CACertPath))
	}

	// 4. Admin-сессия Keycloak (password grant + плановое обновление токена)
	ctx := context.Background()
	session := keycloak.NewAdminSession(
		cfg.KeycloakURL,
		cfg.KeycloakClientID,
		cfg.KeycloakAdminUser,
		cfg.KeycloakAdminPassword,
		httpClient,
		logger,
	)
	defer session.Close()

	// Начальный вход. Неудача не фатальна: сессия войдёт повторно
	// при первом запросе к Admin API.
	if err := session.Login(ctx); err != nil {
		logger.Warn("Начальный вход admin-сессии не выполнен, вход будет повторён при первом запросе",
			slog.String("error", err.Error()),
		)
	} else {
		logger.Info("Admin-сессия Keycloak открыта",
			slog.String("token_endpoint", session.TokenEndpoint()),
		)
	}

	// 5. Keycloak Admin API клиент
	kcClient := keycloak.NewClient(
		cfg.KeycloakURL,
		cfg.KeycloakRealm,
		session,
		httpClient,
		logger,
	)
	logger.Info("Keycloak клиент создан",
		slog.String("url", cfg.KeycloakURL),
		slog.String("realm", cfg.KeycloakRealm),
	)

	// 6. Сервис учётных записей
	accountsSvc := service.NewAccountService(kcClient, cfg.ResetEmailVerified, logger)

	// 7. JWT middleware
	jwtAuth, err := middleware.NewJWTAuth(
		cfg.JWTJWKSURL,
		cfg.CACertPath,
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

	// 8. topologymetrics — мониторинг зависимостей (Keycloak)
	dephealthSvc, dephealthErr := service.NewDephealthService(
		"account-module",
		cfg.DephealthGroup,
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

	// 9. API handler
	healthHandler := handlers.NewHealthHandler(kcClient)
	apiHandler := handlers.NewAPIHandler(healthHandler, accountsSvc, cfg.DefaultClient, logger)

	// 10. Создание и запуск HTTP-сервера
	srv := server.New(cfg, logger, apiHandler, jwtAuth)
	if err := srv.Run(); err != nil {
		logger.Error("Ошибка сервера", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 11. Graceful shutdown фоновых задач
	if dephealthSvc != nil {
		dephealthSvc.Stop()
	}

	logger.Info("Account Module остановлен")
}

// buildHTTPClientWithCA создаёт HTTP-клиент с кастомным CA-сертификатом.
func buildHTTPClientWithCA(cfg *config.Config) (*http.Client, error) {
	caCert, err := os.ReadFile(cfg.CACertPath)
	if err != nil {
		return nil, err
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &http.Client{
		Timeout: cfg.HTTPTimeout,
		Transport: &http.Transport{
			TLSClientConfig: &tls.Config{
				RootCAs: caCertPool,
			},
		},
	}, nil
}
