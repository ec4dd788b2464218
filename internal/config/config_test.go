package config

import (
	"log/slog"
	"testing"
	"time"
)

// setEnvs устанавливает переменные окружения для теста.
func setEnvs(t *testing.T, envs map[string]string) {
	t.Helper()
	for k, v := range envs {
		t.Setenv(k, v)
	}
}

// minimalEnvs возвращает минимальный набор обязательных переменных.
func minimalEnvs() map[string]string {
	return map[string]string{
		"ACC_KEYCLOAK_URL":            "https://keycloak.kryukov.lan",
		"ACC_KEYCLOAK_ADMIN_USER":     "admin",
		"ACC_KEYCLOAK_ADMIN_PASSWORD": "secret",
	}
}

func TestLoad_MinimalConfig(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	// Проверяем значения по умолчанию
	if cfg.Port != 8000 {
		t.Errorf("Port = %d, ожидается 8000", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelInfo {
		t.Errorf("LogLevel = %v, ожидается Info", cfg.LogLevel)
	}
	if cfg.LogFormat != "json" {
		t.Errorf("LogFormat = %q, ожидается json", cfg.LogFormat)
	}
	if cfg.KeycloakRealm != "artstore" {
		t.Errorf("KeycloakRealm = %q, ожидается artstore", cfg.KeycloakRealm)
	}
	if cfg.KeycloakClientID != "admin-cli" {
		t.Errorf("KeycloakClientID = %q, ожидается admin-cli", cfg.KeycloakClientID)
	}
	if cfg.DefaultClient != "account" {
		t.Errorf("DefaultClient = %q, ожидается account", cfg.DefaultClient)
	}
	if cfg.HTTPTimeout != 30*time.Second {
		t.Errorf("HTTPTimeout = %v, ожидается 30s", cfg.HTTPTimeout)
	}
	if !cfg.ResetEmailVerified {
		t.Error("ResetEmailVerified по умолчанию должен быть true")
	}
	if cfg.JWTLeeway != 30*time.Second {
		t.Errorf("JWTLeeway = %v, ожидается 30s", cfg.JWTLeeway)
	}
	if cfg.JWKSRefreshInterval != time.Hour {
		t.Errorf("JWKSRefreshInterval = %v, ожидается 1h", cfg.JWKSRefreshInterval)
	}
	if cfg.JWKSClientTimeout != 10*time.Second {
		t.Errorf("JWKSClientTimeout = %v, ожидается 10s", cfg.JWKSClientTimeout)
	}
	if cfg.DephealthCheckInterval != 15*time.Second {
		t.Errorf("DephealthCheckInterval = %v, ожидается 15s", cfg.DephealthCheckInterval)
	}
	if cfg.ShutdownTimeout != 5*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 5s", cfg.ShutdownTimeout)
	}
}

func TestLoad_JWTAutoDerive(t *testing.T) {
	setEnvs(t, minimalEnvs())

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	expectedIssuer := "https://keycloak.kryukov.lan/realms/artstore"
	if cfg.JWTIssuer != expectedIssuer {
		t.Errorf("JWTIssuer = %q, ожидается %q", cfg.JWTIssuer, expectedIssuer)
	}

	expectedJWKS := "https://keycloak.kryukov.lan/realms/artstore/protocol/openid-connect/certs"
	if cfg.JWTJWKSURL != expectedJWKS {
		t.Errorf("JWTJWKSURL = %q, ожидается %q", cfg.JWTJWKSURL, expectedJWKS)
	}
}

func TestLoad_TrailingSlashTrimmed(t *testing.T) {
	envs := minimalEnvs()
	envs["ACC_KEYCLOAK_URL"] = "https://keycloak.kryukov.lan/"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.KeycloakURL != "https://keycloak.kryukov.lan" {
		t.Errorf("KeycloakURL = %q, trailing slash должен быть убран", cfg.KeycloakURL)
	}
}

func TestLoad_CustomValues(t *testing.T) {
	envs := minimalEnvs()
	envs["ACC_PORT"] = "8005"
	envs["ACC_LOG_LEVEL"] = "debug"
	envs["ACC_LOG_FORMAT"] = "text"
	envs["ACC_KEYCLOAK_REALM"] = "master"
	envs["ACC_KEYCLOAK_CLIENT_ID"] = "account-module"
	envs["ACC_DEFAULT_CLIENT"] = "portal"
	envs["ACC_HTTP_TIMEOUT"] = "10s"
	envs["ACC_CA_CERT_PATH"] = "/certs/ca.pem"
	envs["ACC_RESET_EMAIL_VERIFIED"] = "false"
	envs["ACC_JWT_LEEWAY"] = "1m"
	envs["ACC_DEPHEALTH_GROUP"] = "prod"
	envs["ACC_SHUTDOWN_TIMEOUT"] = "10s"
	setEnvs(t, envs)

	cfg, err := Load()
	if err != nil {
		t.Fatalf("Load() вернул ошибку: %v", err)
	}

	if cfg.Port != 8005 {
		t.Errorf("Port = %d, ожидается 8005", cfg.Port)
	}
	if cfg.LogLevel != slog.LevelDebug {
		t.Errorf("LogLevel = %v, ожидается Debug", cfg.LogLevel)
	}
	if cfg.LogFormat != "text" {
		t.Errorf("LogFormat = %q, ожидается text", cfg.LogFormat)
	}
	if cfg.KeycloakRealm != "master" {
		t.Errorf("KeycloakRealm = %q, ожидается master", cfg.KeycloakRealm)
	}
	if cfg.KeycloakClientID != "account-module" {
		t.Errorf("KeycloakClientID = %q, ожидается account-module", cfg.KeycloakClientID)
	}
	if cfg.DefaultClient != "portal" {
		t.Errorf("DefaultClient = %q, ожидается portal", cfg.DefaultClient)
	}
	if cfg.HTTPTimeout != 10*time.Second {
		t.Errorf("HTTPTimeout = %v, ожидается 10s", cfg.HTTPTimeout)
	}
	if cfg.CACertPath != "/certs/ca.pem" {
		t.Errorf("CACertPath = %q", cfg.CACertPath)
	}
	if cfg.ResetEmailVerified {
		t.Error("ResetEmailVerified должен быть false")
	}
	if cfg.JWTLeeway != time.Minute {
		t.Errorf("JWTLeeway = %v, ожидается 1m", cfg.JWTLeeway)
	}
	if cfg.DephealthGroup != "prod" {
		t.Errorf("DephealthGroup = %q, ожидается prod", cfg.DephealthGroup)
	}
	if cfg.ShutdownTimeout != 10*time.Second {
		t.Errorf("ShutdownTimeout = %v, ожидается 10s", cfg.ShutdownTimeout)
	}
}

func TestLoad_MissingRequired(t *testing.T) {
	tests := []struct {
		name    string
		drop    string
	}{
		{"без URL Keycloak", "ACC_KEYCLOAK_URL"},
		{"без имени администратора", "ACC_KEYCLOAK_ADMIN_USER"},
		{"без пароля администратора", "ACC_KEYCLOAK_ADMIN_PASSWORD"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			delete(envs, tt.drop)
			// t.Setenv с пустым значением перекрывает окружение процесса
			envs[tt.drop] = ""
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() должен вернуть ошибку без %s", tt.drop)
			}
		})
	}
}

func TestLoad_InvalidValues(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value string
	}{
		{"порт вне диапазона", "ACC_PORT", "9000"},
		{"порт не число", "ACC_PORT", "abc"},
		{"неизвестный уровень логов", "ACC_LOG_LEVEL", "verbose"},
		{"неизвестный формат логов", "ACC_LOG_FORMAT", "xml"},
		{"некорректная длительность", "ACC_HTTP_TIMEOUT", "10 seconds"},
		{"некорректное булево", "ACC_RESET_EMAIL_VERIFIED", "да"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			envs := minimalEnvs()
			envs[tt.key] = tt.value
			setEnvs(t, envs)

			if _, err := Load(); err == nil {
				t.Errorf("Load() должен вернуть ошибку для %s=%q", tt.key, tt.value)
			}
		})
	}
}
