// session.go — admin-сессия к Keycloak через password grant (admin-cli).
// Владеет парой access/refresh токенов, проактивно обновляет её по таймеру
// за минуту до истечения и выполняет повторный вход при 401 (один повтор).
package keycloak

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"
)

// adminAuthRealm — realm, в котором аутентифицируется администратор.
// Admin-cli Keycloak живёт в master.
const adminAuthRealm = "master"

// refreshRequestTimeout — таймаут запроса обновления токена по таймеру.
const refreshRequestTimeout = 15 * time.Second

// ErrAuthentication — аутентификация администратора в Keycloak не пройдена.
var ErrAuthentication = errors.New("аутентификация администратора в Keycloak не пройдена")

// AdminCredential — пара токенов admin-сессии.
// Заменяется целиком при каждом (пере)входе и обновлении, никогда не
// мутируется по частям.
type AdminCredential struct {
	AccessToken  string
	RefreshToken string
	ExpiresIn    int
}

// AdminSession — сессия сервисного аккаунта администратора.
// Состояния: без credential → вход → credential, с циклом обновления по
// таймеру. Неудачное обновление оставляет credential протухшим — следующий
// 401 на Admin API запустит повторный вход через Relogin.
type AdminSession struct {
	tokenURL string
	clientID string
	username string
	password string

	httpClient *http.Client
	logger     *slog.Logger

	mu           sync.Mutex
	cred         *AdminCredential
	refreshTimer *time.Timer
	closed       bool
}

// NewAdminSession создаёт admin-сессию.
// baseURL — базовый URL Keycloak (без trailing slash).
// clientID — клиент password grant (обычно admin-cli).
// username, password — учётные данные администратора в realm master.
// httpClient — HTTP-клиент (может содержать TLS конфигурацию).
func NewAdminSession(baseURL, clientID, username, password string, httpClient *http.Client, logger *slog.Logger) *AdminSession {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 30 * time.Second}
	}

	return &AdminSession{
		tokenURL: fmt.Sprintf("%s/realms/%s/protocol/openid-connect/token",
			strings.TrimRight(baseURL, "/"), adminAuthRealm),
		clientID:   clientID,
		username:   username,
		password:   password,
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "admin_session")),
	}
}

// TokenEndpoint возвращает URL token endpoint'а сессии.
// Запросы к нему идут напрямую, минуя механизм повтора при 401.
func (s *AdminSession) TokenEndpoint() string {
	return s.tokenURL
}

// Token возвращает текущий access token или пустую строку, если входа не было.
func (s *AdminSession) Token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cred == nil {
		return ""
	}
	return s.cred.AccessToken
}

// Login выполняет вход администратора через password grant.
// При успехе сохраняет новую пару токенов и взводит таймер обновления.
// При неудаче отбрасывает прежний credential и возвращает ErrAuthentication.
func (s *AdminSession) Login(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.loginLocked(ctx)
}

// Relogin выполняет повторный вход для пути повтора при 401.
// staleToken — токен, с которым запрос получил 401. Если текущий токен уже
// другой (конкурирующий запрос или таймер успели обновить сессию), сетевой
// вход не выполняется — возвращается актуальный токен. Иначе — один
// password grant под мьютексом, что сериализует конкурирующие повторы.
func (s *AdminSession) Relogin(ctx context.Context, staleToken string) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cred != nil && s.cred.AccessToken != staleToken {
		return s.cred.AccessToken, nil
	}

	if err := s.loginLocked(ctx); err != nil {
		return "", err
	}
	return s.cred.AccessToken, nil
}

// Close останавливает таймер обновления. Сессия больше не обновляется.
func (s *AdminSession) Close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	s.stopTimerLocked()
}

// loginLocked — вход под уже взятым мьютексом.
func (s *AdminSession) loginLocked(ctx context.Context) error {
	token, err := s.requestToken(ctx, url.Values{
		"grant_type": {"password"},
		"client_id":  {s.clientID},
		"username":   {s.username},
		"password":   {s.password},
	})
	if err != nil {
		// Прежний credential отбрасываем — он в любом случае непригоден
		s.cred = nil
		s.stopTimerLocked()
		return fmt.Errorf("%w: %v", ErrAuthentication, err)
	}

	s.storeLocked(token)

	s.logger.Info("Admin-сессия Keycloak установлена",
		slog.Int("expires_in", token.ExpiresIn),
	)
	return nil
}

// refresh вызывается таймером: обновляет пару токенов через refresh_token grant.
// При неудаче credential остаётся протухшим — повторный вход произойдёт
// лениво при следующем 401 на Admin API.
func (s *AdminSession) refresh() {
	ctx, cancel := context.WithTimeout(context.Background(), refreshRequestTimeout)
	defer cancel()

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed || s.cred == nil {
		return
	}

	token, err := s.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"client_id":     {s.clientID},
		"refresh_token": {s.cred.RefreshToken},
	})
	if err != nil {
		s.logger.Warn("Обновление admin-токена не удалось, сессия протухнет",
			slog.String("error", err.Error()),
		)
		return
	}

	s.storeLocked(token)

	s.logger.Debug("Admin-токен обновлён по таймеру",
		slog.Int("expires_in", token.ExpiresIn),
	)
}

// storeLocked сохраняет новую пару токенов и перевзводит таймер обновления.
func (s *AdminSession) storeLocked(token *TokenResponse) {
	s.cred = &AdminCredential{
		AccessToken:  token.AccessToken,
		RefreshToken: token.RefreshToken,
		ExpiresIn:    token.ExpiresIn,
	}

	s.stopTimerLocked()
	if !s.closed {
		s.refreshTimer = time.AfterFunc(refreshDelay(token.ExpiresIn), s.refresh)
	}
}

// stopTimerLocked останавливает текущий таймер обновления, если он взведён.
func (s *AdminSession) stopTimerLocked() {
	if s.refreshTimer != nil {
		s.refreshTimer.Stop()
		s.refreshTimer = nil
	}
}

// refreshDelay вычисляет задержку до проактивного обновления токена:
// за 60 секунд до истечения, но не раньше чем через 50 секунд после выдачи —
// иначе короткоживущие токены устроили бы шторм обновлений.
func refreshDelay(expiresIn int) time.Duration {
	delay := expiresIn - 60
	if delay < 50 {
		delay = 50
	}
	return time.Duration(delay) * time.Second
}

// requestToken выполняет запрос к token endpoint с указанными параметрами grant.
func (s *AdminSession) requestToken(ctx context.Context, data url.Values) (*TokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.tokenURL, strings.NewReader(data.Encode()))
	if err != nil {
		return nil, fmt.Errorf("создание запроса токена: %w", err)
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("запрос токена Keycloak: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return nil, fmt.Errorf("token endpoint вернул статус %d: %s", resp.StatusCode, string(body))
	}

	var token TokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, fmt.Errorf("декодирование токена Keycloak: %w", err)
	}
	if token.AccessToken == "" {
		return nil, fmt.Errorf("пустой access_token в ответе token endpoint")
	}

	return &token, nil
}
