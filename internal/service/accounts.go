// Пакет service — бизнес-логика Account Module.
// accounts.go — сервис учётных записей: оркестрация многошаговых
// операций поверх Keycloak Admin REST API.
package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"github.com/bigkaa/accountmodule/internal/domain/model"
	"github.com/bigkaa/accountmodule/internal/domain/roles"
	"github.com/bigkaa/accountmodule/internal/keycloak"
)

// AccountService — сервис учётных записей.
// Единственный источник данных — Keycloak: сервис не хранит состояние,
// каждая операция транслируется в один или несколько вызовов Admin API.
type AccountService struct {
	kcClient *keycloak.Client
	// resetEmailVerified — сбрасывать ли emailVerified при смене email
	resetEmailVerified bool
	logger             *slog.Logger
}

// NewAccountService создаёт сервис учётных записей.
func NewAccountService(kcClient *keycloak.Client, resetEmailVerified bool, logger *slog.Logger) *AccountService {
	return &AccountService{
		kcClient:           kcClient,
		resetEmailVerified: resetEmailVerified,
		logger:             logger.With(slog.String("component", "accounts_service")),
	}
}

// CreateAccount создаёт учётную запись: пользователь в Keycloak,
// письмо подтверждения email, назначение realm-ролей.
// Шаги выполняются последовательно; ошибка любого шага прерывает
// операцию (созданный пользователь при этом остаётся в Keycloak).
func (s *AccountService) CreateAccount(ctx context.Context, rc model.RealmContext, req model.NewAccount) (*model.Account, error) {
	user := keycloak.NewUserRepresentation(req.Username, req.Email)
	if err := s.kcClient.CreateUser(ctx, rc.Realm, user); err != nil {
		return nil, fmt.Errorf("создание пользователя: %w", err)
	}

	// Keycloak отвечает 201 без тела — ID узнаём точным поиском по username
	created, err := s.findExactlyOneByUsername(ctx, rc.Realm, req.Username)
	if err != nil {
		return nil, err
	}

	if err := s.kcClient.ExecuteActionsEmail(ctx, rc.Realm, created.ID, rc.Client, rc.Locale,
		[]string{keycloak.ActionVerifyEmail}); err != nil {
		return nil, fmt.Errorf("отправка письма подтверждения: %w", err)
	}

	roleNames := roles.Normalize(req.Roles)
	if len(roleNames) > 0 {
		resolved, err := s.resolveRoles(ctx, rc.Realm, roleNames)
		if err != nil {
			return nil, err
		}
		if err := s.kcClient.AssignRealmRoles(ctx, rc.Realm, created.ID, resolved); err != nil {
			return nil, fmt.Errorf("назначение ролей: %w", err)
		}
	}

	s.logger.Info("Учётная запись создана",
		slog.String("realm", rc.Realm),
		slog.String("username", req.Username),
		slog.String("user_id", created.ID),
		slog.Int("roles", len(roleNames)),
	)

	return s.toAccount(created, roleNames), nil
}

// SetEmail меняет email учётной записи и отправляет письмо подтверждения.
// userID берётся из токена вызывающего — пользователь меняет свой email.
func (s *AccountService) SetEmail(ctx context.Context, rc model.RealmContext, userID, email string) error {
	upd := &keycloak.UserRepresentation{
		Email:           email,
		RequiredActions: []string{keycloak.ActionVerifyEmail},
	}
	if s.resetEmailVerified {
		verified := false
		upd.EmailVerified = &verified
	}

	if err := s.kcClient.UpdateUser(ctx, rc.Realm, userID, upd); err != nil {
		return fmt.Errorf("обновление email: %w", err)
	}

	if err := s.kcClient.ExecuteActionsEmail(ctx, rc.Realm, userID, rc.Client, rc.Locale,
		[]string{keycloak.ActionVerifyEmail}); err != nil {
		return fmt.Errorf("отправка письма подтверждения: %w", err)
	}

	s.logger.Info("Email учётной записи изменён",
		slog.String("realm", rc.Realm),
		slog.String("user_id", userID),
	)

	return nil
}

// UpdateAccount частично обновляет учётную запись.
// Роли заменяются целиком: текущие прикладные роли снимаются,
// назначается новый набор. Письмо подтверждения email отправляется
// последним шагом, когда все изменения уже применены.
func (s *AccountService) UpdateAccount(ctx context.Context, rc model.RealmContext, userID string, upd model.AccountUpdate) error {
	if upd.Email != nil {
		kcUpd := &keycloak.UserRepresentation{
			Email:           *upd.Email,
			RequiredActions: []string{keycloak.ActionVerifyEmail},
		}
		if s.resetEmailVerified {
			verified := false
			kcUpd.EmailVerified = &verified
		}
		if err := s.kcClient.UpdateUser(ctx, rc.Realm, userID, kcUpd); err != nil {
			return fmt.Errorf("обновление email: %w", err)
		}
	}

	if upd.Roles != nil {
		if err := s.replaceRoles(ctx, rc.Realm, userID, *upd.Roles); err != nil {
			return err
		}
	}

	if upd.Email != nil {
		if err := s.kcClient.ExecuteActionsEmail(ctx, rc.Realm, userID, rc.Client, rc.Locale,
			[]string{keycloak.ActionVerifyEmail}); err != nil {
			return fmt.Errorf("отправка письма подтверждения: %w", err)
		}
	}

	s.logger.Info("Учётная запись обновлена",
		slog.String("realm", rc.Realm),
		slog.String("user_id", userID),
		slog.Bool("email_changed", upd.Email != nil),
		slog.Bool("roles_changed", upd.Roles != nil),
	)

	return nil
}

// replaceRoles заменяет прикладные realm-роли пользователя новым набором.
// Текущие роли снимаются ровно в том представлении, в котором их вернул
// Keycloak — технические роли не трогаются.
func (s *AccountService) replaceRoles(ctx context.Context, realm, userID string, newRoles []string) error {
	current, err := s.kcClient.GetUserRealmRoles(ctx, realm, userID)
	if err != nil {
		return fmt.Errorf("получение текущих ролей: %w", err)
	}

	removable := make([]keycloak.RoleRepresentation, 0, len(current))
	for _, r := range current {
		if !roles.IsTechnical(r.Name) {
			removable = append(removable, r)
		}
	}

	if len(removable) > 0 {
		if err := s.kcClient.RemoveRealmRoles(ctx, realm, userID, removable); err != nil {
			return fmt.Errorf("снятие текущих ролей: %w", err)
		}
	}

	roleNames := roles.Normalize(newRoles)
	if len(roleNames) == 0 {
		return nil
	}

	resolved, err := s.resolveRoles(ctx, realm, roleNames)
	if err != nil {
		return err
	}

	if err := s.kcClient.AssignRealmRoles(ctx, realm, userID, resolved); err != nil {
		return fmt.Errorf("назначение ролей: %w", err)
	}

	return nil
}

// DeleteAccount удаляет учётную запись. Отказ Keycloak не считается
// ошибкой операции: возвращается Deleted=false, детали уходят в лог.
func (s *AccountService) DeleteAccount(ctx context.Context, realm, userID string) *model.DeleteResult {
	if err := s.kcClient.DeleteUser(ctx, realm, userID); err != nil {
		s.logger.Warn("Удаление учётной записи не выполнено",
			slog.String("realm", realm),
			slog.String("user_id", userID),
			slog.String("error", err.Error()),
		)
		return &model.DeleteResult{Deleted: false}
	}

	s.logger.Info("Учётная запись удалена",
		slog.String("realm", realm),
		slog.String("user_id", userID),
	)

	return &model.DeleteResult{Deleted: true}
}

// ForgotPassword отправляет письмо сброса пароля.
// Ровно один пользователь с точным совпадением email — иначе ErrValidation:
// поиск Keycloak нечувствителен к регистру и мог вернуть не того пользователя.
func (s *AccountService) ForgotPassword(ctx context.Context, rc model.RealmContext, email string) error {
	users, err := s.kcClient.FindUsersByEmail(ctx, rc.Realm, email)
	if err != nil {
		return fmt.Errorf("поиск пользователя по email: %w", err)
	}

	if len(users) != 1 || users[0].Email != email {
		return fmt.Errorf("%w: пользователь с email %s не найден", ErrValidation, email)
	}

	if err := s.kcClient.ExecuteActionsEmail(ctx, rc.Realm, users[0].ID, rc.Client, rc.Locale,
		[]string{keycloak.ActionUpdatePassword}); err != nil {
		return fmt.Errorf("отправка письма сброса пароля: %w", err)
	}

	s.logger.Info("Отправлено письмо сброса пароля",
		slog.String("realm", rc.Realm),
		slog.String("user_id", users[0].ID),
	)

	return nil
}

// GetAccount возвращает учётную запись по username с её прикладными ролями.
func (s *AccountService) GetAccount(ctx context.Context, realm, username string) (*model.Account, error) {
	user, err := s.findExactlyOneByUsername(ctx, realm, username)
	if err != nil {
		return nil, err
	}

	kcRoles, err := s.kcClient.GetUserRealmRoles(ctx, realm, user.ID)
	if err != nil {
		return nil, fmt.Errorf("получение ролей пользователя: %w", err)
	}

	names := make([]string, 0, len(kcRoles))
	for _, r := range kcRoles {
		names = append(names, r.Name)
	}

	return s.toAccount(user, roles.FilterTechnical(names)), nil
}

// ListRoles возвращает имена прикладных realm-ролей.
func (s *AccountService) ListRoles(ctx context.Context, realm string) ([]string, error) {
	kcRoles, err := s.kcClient.ListRealmRoles(ctx, realm)
	if err != nil {
		return nil, fmt.Errorf("получение ролей realm: %w", err)
	}

	names := make([]string, 0, len(kcRoles))
	for _, r := range kcRoles {
		names = append(names, r.Name)
	}

	return roles.FilterTechnical(names), nil
}

// --- Вспомогательные функции ---

// findExactlyOneByUsername возвращает единственного пользователя
// с точным совпадением username, иначе ErrNotFound.
func (s *AccountService) findExactlyOneByUsername(ctx context.Context, realm, username string) (*keycloak.UserRepresentation, error) {
	users, err := s.kcClient.FindUsersByUsername(ctx, realm, username)
	if err != nil {
		return nil, fmt.Errorf("поиск пользователя: %w", err)
	}

	if len(users) != 1 {
		return nil, fmt.Errorf("%w: пользователь %s", ErrNotFound, username)
	}

	return &users[0], nil
}

// resolveRoles разрешает имена ролей в представления Keycloak.
// Роли запрашиваются параллельно; несуществующая роль — ErrValidation.
func (s *AccountService) resolveRoles(ctx context.Context, realm string, names []string) ([]keycloak.RoleRepresentation, error) {
	resolved := make([]keycloak.RoleRepresentation, len(names))
	errs := make([]error, len(names))

	var wg sync.WaitGroup
	for i, name := range names {
		wg.Add(1)
		go func() {
			defer wg.Done()

			role, err := s.kcClient.GetRealmRole(ctx, realm, name)
			if err != nil {
				var apiErr *keycloak.APIError
				if errors.As(err, &apiErr) && apiErr.StatusCode == http.StatusNotFound {
					errs[i] = fmt.Errorf("%w: роль %s не найдена в realm %s", ErrValidation, name, realm)
					return
				}
				errs[i] = fmt.Errorf("получение роли %s: %w", name, err)
				return
			}
			resolved[i] = *role
		}()
	}
	wg.Wait()

	if err := errors.Join(errs...); err != nil {
		return nil, err
	}

	return resolved, nil
}

// toAccount собирает доменную модель из представления Keycloak.
func (s *AccountService) toAccount(user *keycloak.UserRepresentation, roleNames []string) *model.Account {
	account := &model.Account{
		ID:        user.ID,
		Username:  user.Username,
		Email:     user.Email,
		Roles:     roleNames,
		CreatedAt: user.CreatedAtTime(),
	}
	if user.EmailVerified != nil {
		account.EmailVerified = *user.EmailVerified
	}
	if user.Enabled != nil {
		account.Enabled = *user.Enabled
	}
	return account
}
