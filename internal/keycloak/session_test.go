// session_test.go — тесты admin-сессии Keycloak.
package keycloak

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"os"
	"sync/atomic"
	"testing"
	"time"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError}))
}

// newTokenServer поднимает мок token endpoint.
// handler вызывается для каждого запроса к /realms/master/protocol/openid-connect/token.
func newTokenServer(t *testing.T, handler http.HandlerFunc) *httptest.Server {
	t.Helper()

	mux := http.NewServeMux()
	mux.HandleFunc("/realms/master/protocol/openid-connect/token", handler)
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)

	return srv
}

func newTestSession(t *testing.T, baseURL string) *AdminSession {
	t.Helper()

	s := NewAdminSession(baseURL, "admin-cli", "admin", "secret", srvClient(), testLogger())
	t.Cleanup(s.Close)

	return s
}

func srvClient() *http.Client {
	return &http.Client{Timeout: 5 * time.Second}
}

func TestAdminSessionLogin(t *testing.T) {
	var requests atomic.Int32

	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)

		if err := r.ParseForm(); err != nil {
			t.Fatalf("разбор формы: %v", err)
		}
		if got := r.PostForm.Get("grant_type"); got != "password" {
			t.Errorf("grant_type = %q, ожидался password", got)
		}
		if got := r.PostForm.Get("client_id"); got != "admin-cli" {
			t.Errorf("client_id = %q, ожидался admin-cli", got)
		}
		if got := r.PostForm.Get("username"); got != "admin" {
			t.Errorf("username = %q, ожидался admin", got)
		}
		if got := r.PostForm.Get("password"); got != "secret" {
			t.Errorf("password = %q, ожидался secret", got)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-1","refresh_token":"ref-1","expires_in":300}`))
	})

	s := newTestSession(t, srv.URL)

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	if got := s.Token(); got != "tok-1" {
		t.Errorf("Token() = %q, ожидался tok-1", got)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("запросов к token endpoint: %d, ожидался 1", got)
	}
}

func TestAdminSessionLoginFailure(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusUnauthorized)
		_, _ = w.Write([]byte(`{"error":"invalid_grant","error_description":"Invalid user credentials"}`))
	})

	s := newTestSession(t, srv.URL)

	err := s.Login(context.Background())
	if !errors.Is(err, ErrAuthentication) {
		t.Fatalf("Login: ожидалась ErrAuthentication, получено %v", err)
	}

	// Неудачный вход не должен оставлять учётные данные
	if got := s.Token(); got != "" {
		t.Errorf("Token() после неудачного входа = %q, ожидалась пустая строка", got)
	}
}

func TestAdminSessionReloginStaleToken(t *testing.T) {
	var requests atomic.Int32

	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		n := requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		if n == 1 {
			_, _ = w.Write([]byte(`{"access_token":"tok-1","refresh_token":"ref-1","expires_in":300}`))
		} else {
			_, _ = w.Write([]byte(`{"access_token":"tok-2","refresh_token":"ref-2","expires_in":300}`))
		}
	})

	s := newTestSession(t, srv.URL)

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Токен протух — повторный вход выдаёт новый токен
	token, err := s.Relogin(context.Background(), "tok-1")
	if err != nil {
		t.Fatalf("Relogin: %v", err)
	}
	if token != "tok-2" {
		t.Errorf("Relogin = %q, ожидался tok-2", token)
	}
	if got := requests.Load(); got != 2 {
		t.Errorf("запросов к token endpoint: %d, ожидалось 2", got)
	}
}

func TestAdminSessionReloginDeduplicates(t *testing.T) {
	var requests atomic.Int32

	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		requests.Add(1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-fresh","refresh_token":"ref-1","expires_in":300}`))
	})

	s := newTestSession(t, srv.URL)

	if err := s.Login(context.Background()); err != nil {
		t.Fatalf("Login: %v", err)
	}

	// Сессия уже обновила токен: повторный вход с устаревшим токеном
	// возвращает текущий без обращения к Keycloak
	token, err := s.Relogin(context.Background(), "tok-old")
	if err != nil {
		t.Fatalf("Relogin: %v", err)
	}
	if token != "tok-fresh" {
		t.Errorf("Relogin = %q, ожидался tok-fresh", token)
	}
	if got := requests.Load(); got != 1 {
		t.Errorf("запросов к token endpoint: %d, ожидался 1 (без повторного входа)", got)
	}
}

func TestAdminSessionRefresh(t *testing.T) {
	var grants []string

	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			t.Fatalf("разбор формы: %v", err)
		}
		grants = append(grants, r.PostForm.Get("grant_type"))

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"access_token":"tok-refreshed","refresh_token":"ref-2","expires_in":300}`))
	})

	s := newTestSession(t, srv.URL)

	s.mu.Lock()
	s.cred = &AdminCredential{
		AccessToken:  "tok-1",
		RefreshToken: "ref-1",
		ExpiresIn:    300,
	}
	s.mu.Unlock()

	s.refresh()

	if got := s.Token(); got != "tok-refreshed" {
		t.Errorf("Token() после обновления = %q, ожидался tok-refreshed", got)
	}
	if len(grants) != 1 || grants[0] != "refresh_token" {
		t.Errorf("grant_type = %v, ожидался [refresh_token]", grants)
	}
}

func TestAdminSessionRefreshFailureKeepsToken(t *testing.T) {
	srv := newTokenServer(t, func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error":"invalid_grant"}`))
	})

	s := newTestSession(t, srv.URL)

	s.mu.Lock()
	s.cred = &AdminCredential{
		AccessToken:  "tok-1",
		RefreshToken: "ref-expired",
		ExpiresIn:    300,
	}
	s.mu.Unlock()

	s.refresh()

	// Неудачное обновление не трогает текущий токен:
	// устаревший токен вызовет 401 и повторный вход при следующем запросе
	if got := s.Token(); got != "tok-1" {
		t.Errorf("Token() после неудачного обновления = %q, ожидался tok-1", got)
	}
}

func TestRefreshDelay(t *testing.T) {
	tests := []struct {
		name      string
		expiresIn int
		want      time.Duration
	}{
		{"стандартный токен", 300, 240 * time.Second},
		{"часовой токен", 3600, 3540 * time.Second},
		{"короткий токен", 60, 50 * time.Second},
		{"очень короткий токен", 10, 50 * time.Second},
		{"нулевой expires_in", 0, 50 * time.Second},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := refreshDelay(tt.expiresIn); got != tt.want {
				t.Errorf("refreshDelay(%d) = %v, ожидалось %v", tt.expiresIn, got, tt.want)
			}
		})
	}
}

func TestAdminSessionTokenEndpoint(t *testing.T) {
	s := NewAdminSession("https://keycloak.example.com/", "admin-cli", "admin", "secret", srvClient(), testLogger())
	defer s.Close()

	want := "https://keycloak.example.com/realms/master/protocol/openid-connect/token"
	if got := s.TokenEndpoint(); got != want {
		t.Errorf("TokenEndpoint() = %q, ожидалось %q", got, want)
	}
}
