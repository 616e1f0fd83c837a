// session.go — сервис сессии: кто вошёл и что ему можно.
//
// Единственный источник истины о текущем пользователе. Состояние держится
// в памяти по subject, зеркалируется JSON-снимком в client_state
// (ключ auth.identity) и синхронизируется между экземплярами шлюза
// сигналами шины: на auth-changed и state-changed сессия перечитывается
// из core API по последнему известному токену.
package service

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"

	"github.com/LamVNT/Farmovo-sub002/internal/bus"
	"github.com/LamVNT/Farmovo-sub002/internal/coreclient"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/roles"
	"github.com/LamVNT/Farmovo-sub002/internal/repository"
)

// CoreSessionAPI — операции core API, необходимые сервису сессии.
type CoreSessionAPI interface {
	CurrentIdentity(ctx context.Context, token string) (*model.Identity, error)
	Logout(ctx context.Context, token string) error
}

// Session — состояние сессии пользователя, отдаваемое потребителям.
type Session struct {
	// Identity — текущий пользователь. nil — не аутентифицирован.
	Identity *model.Identity `json:"identity,omitempty"`
	// Permissions — канонизированный набор привилегий.
	Permissions []string `json:"permissions,omitempty"`
	// Loading — идёт загрузка identity из core API.
	Loading bool `json:"loading"`
	// Err — сообщение о последней ошибке загрузки ("" — ошибки нет).
	// Отказ 401/403 ошибкой не считается: сессии просто нет.
	Err string `json:"error,omitempty"`
}

// identitySnapshot — формат JSON-снимка в client_state: поля identity
// плюс расширенный набор ролей.
type identitySnapshot struct {
	*model.Identity
	Permissions []string `json:"permissions"`
}

// sessionState — внутреннее состояние сессии одного пользователя.
type sessionState struct {
	identity *model.Identity
	perms    roles.PermissionSet
	loading  bool
	lastErr  string
	// lastToken — последний предъявленный токен; нужен для перечитывания
	// сессии по сигналу шины, когда исходного запроса уже нет.
	lastToken string
}

// SessionService — сервис сессий пользователей.
type SessionService struct {
	core      CoreSessionAPI
	stateRepo repository.ClientStateRepository
	scopes    *ScopeService
	signals   *bus.Bus
	logger    *slog.Logger

	mu       sync.RWMutex
	sessions map[string]*sessionState
}

// NewSessionService создаёт сервис сессий и подписывает его на шину:
// сигнал любого вида означает, что состояние пользователя могло измениться
// в другом экземпляре, и сессию надо перечитать из core API.
func NewSessionService(
	core CoreSessionAPI,
	stateRepo repository.ClientStateRepository,
	scopes *ScopeService,
	signals *bus.Bus,
	logger *slog.Logger,
) *SessionService {
	s := &SessionService{
		core:      core,
		stateRepo: stateRepo,
		scopes:    scopes,
		signals:   signals,
		logger:    logger.With(slog.String("component", "session_service")),
		sessions:  make(map[string]*sessionState),
	}

	signals.Subscribe(func(sig bus.Signal) {
		// Обработчик вызывается синхронно из Publish, в том числе из
		// Logout этого же сервиса, поэтому перечитывание уходит в горутину.
		go s.refetchOnSignal(sig)
	})

	return s
}

// FetchIdentity загружает identity из core API и обновляет сессию.
//
// Успех: роли расширяются, снимок сохраняется в client_state, ошибка
// сбрасывается; закрепление магазина (если есть) записывается запасным
// ключом для ролей STAFF. Отказ 401/403: сессия и снимок очищаются,
// ошибки нет — пользователь просто не вошёл. Прочие ошибки: сессия
// и снимок очищаются, текст ошибки сохраняется для показа.
// Флаг Loading снимается при любом исходе.
func (s *SessionService) FetchIdentity(ctx context.Context, subject, token string) (Session, error) {
	st := s.state(subject)

	s.mu.Lock()
	st.loading = true
	st.lastToken = token
	s.mu.Unlock()

	identity, err := s.core.CurrentIdentity(ctx, token)

	s.mu.Lock()
	st.loading = false

	var perms roles.PermissionSet
	switch {
	case err == nil:
		st.identity = identity
		st.perms = roles.NewPermissionSet(identity.Roles)
		st.lastErr = ""
		perms = st.perms

	case errors.Is(err, coreclient.ErrUnauthorized):
		st.identity = nil
		st.perms = nil
		st.lastErr = ""

	default:
		st.identity = nil
		st.perms = nil
		st.lastErr = "не удалось загрузить данные пользователя"
	}
	session := st.snapshot()
	s.mu.Unlock()

	// Запись в client_state идёт без mu: чтения сессии не ждут базу.
	switch {
	case err == nil:
		s.persistSnapshot(ctx, subject, identity, perms)
		if fixed := identity.FixedScopeID(); fixed != "" {
			if err := s.scopes.SetFallbackID(ctx, subject, fixed); err != nil {
				s.logger.Error("Ошибка сохранения запасного магазина",
					"subject", subject,
					"error", err)
			}
		}
		s.logger.Info("Сессия загружена",
			"subject", subject,
			"user_id", identity.ID,
			"roles", identity.Roles)

	case errors.Is(err, coreclient.ErrUnauthorized):
		s.dropSnapshot(ctx, subject)
		s.logger.Debug("Сессии нет, пользователь не аутентифицирован", "subject", subject)

	default:
		s.dropSnapshot(ctx, subject)
		s.logger.Error("Ошибка загрузки identity из core API",
			"subject", subject,
			"error", err)
	}

	return session, nil
}

// Current возвращает текущее состояние сессии. Если в памяти этого
// экземпляра сессии нет, делается попытка восстановить её из снимка
// в client_state (другой экземпляр мог уже загрузить пользователя).
func (s *SessionService) Current(ctx context.Context, subject string) Session {
	s.mu.RLock()
	st, ok := s.sessions[subject]
	if ok && (st.identity != nil || st.loading || st.lastErr != "") {
		defer s.mu.RUnlock()
		return st.snapshot()
	}
	s.mu.RUnlock()

	if restored, ok := s.restoreSnapshot(ctx, subject); ok {
		return restored
	}
	return s.state(subject).snapshot()
}

// Identity возвращает identity пользователя. nil — не аутентифицирован.
func (s *SessionService) Identity(subject string) *model.Identity {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sessions[subject]; ok {
		return st.identity
	}
	return nil
}

// HasRole проверяет наличие роли с канонизацией написания.
func (s *SessionService) HasRole(subject, role string) bool {
	return s.permissions(subject).Has(role)
}

// HasAnyRole — наличие хотя бы одной из ролей.
func (s *SessionService) HasAnyRole(subject string, list ...string) bool {
	return s.permissions(subject).HasAny(list...)
}

// HasAllRoles — наличие всех ролей. Пустой список — истина.
func (s *SessionService) HasAllRoles(subject string, list ...string) bool {
	return s.permissions(subject).HasAll(list...)
}

// Logout завершает сессию: серверный logout в core API (ошибка только
// логируется), очистка состояния и снимка, сигнал auth-changed.
// Сигнал публикуется после очистки, подписчики наблюдают порядок
// «сессии нет → auth-changed».
func (s *SessionService) Logout(ctx context.Context, subject, token string) error {
	if err := s.core.Logout(ctx, token); err != nil {
		s.logger.Error("Ошибка серверного logout в core API",
			"subject", subject,
			"error", err)
	}

	s.mu.Lock()
	st := s.stateLocked(subject)
	st.identity = nil
	st.perms = nil
	st.lastErr = ""
	st.lastToken = ""
	s.mu.Unlock()

	s.dropSnapshot(ctx, subject)
	s.logger.Info("Пользователь вышел из системы", "subject", subject)

	s.signals.Publish(ctx, bus.Signal{Kind: bus.KindAuthChanged, Subject: subject})
	return nil
}

// Refresh перечитывает identity из core API и публикует auth-changed,
// чтобы зависимые потребители пересчитали свои производные.
func (s *SessionService) Refresh(ctx context.Context, subject, token string) (Session, error) {
	session, err := s.FetchIdentity(ctx, subject, token)
	if err != nil {
		return session, err
	}
	s.signals.Publish(ctx, bus.Signal{Kind: bus.KindAuthChanged, Subject: subject})
	return session, nil
}

// refetchOnSignal перечитывает сессию по сигналу шины. Без сохранённого
// токена перечитывать нечем: пользователь в этом экземпляре не появлялся
// или уже вышел.
func (s *SessionService) refetchOnSignal(sig bus.Signal) {
	s.mu.RLock()
	st, ok := s.sessions[sig.Subject]
	token := ""
	if ok {
		token = st.lastToken
	}
	s.mu.RUnlock()
	if token == "" {
		return
	}

	s.logger.Debug("Перечитываем сессию по сигналу",
		"kind", sig.Kind,
		"subject", sig.Subject)
	if _, err := s.FetchIdentity(context.Background(), sig.Subject, token); err != nil {
		s.logger.Error("Ошибка перечитывания сессии по сигналу",
			"subject", sig.Subject,
			"error", err)
	}
}

// permissions возвращает набор привилегий пользователя (возможно пустой).
func (s *SessionService) permissions(subject string) roles.PermissionSet {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if st, ok := s.sessions[subject]; ok && st.perms != nil {
		return st.perms
	}
	return roles.PermissionSet{}
}

// state возвращает состояние сессии subject, создавая его при необходимости.
func (s *SessionService) state(subject string) *sessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.stateLocked(subject)
}

func (s *SessionService) stateLocked(subject string) *sessionState {
	st, ok := s.sessions[subject]
	if !ok {
		st = &sessionState{}
		s.sessions[subject] = st
	}
	return st
}

// persistSnapshot зеркалирует identity в client_state. Ошибка записи
// не фатальна: сессия в памяти уже обновлена, снимок догонит на
// следующей загрузке.
func (s *SessionService) persistSnapshot(ctx context.Context, subject string, identity *model.Identity, perms roles.PermissionSet) {
	payload, err := json.Marshal(identitySnapshot{Identity: identity, Permissions: perms.Values()})
	if err != nil {
		s.logger.Error("Ошибка сериализации снимка identity", "subject", subject, "error", err)
		return
	}
	if err := s.stateRepo.Set(ctx, subject, repository.KeyIdentitySnapshot, string(payload)); err != nil {
		s.logger.Error("Ошибка сохранения снимка identity", "subject", subject, "error", err)
	}
}

// dropSnapshot удаляет снимок identity из client_state.
func (s *SessionService) dropSnapshot(ctx context.Context, subject string) {
	if err := s.stateRepo.Delete(ctx, subject, repository.KeyIdentitySnapshot); err != nil {
		s.logger.Error("Ошибка удаления снимка identity", "subject", subject, "error", err)
	}
}

// restoreSnapshot восстанавливает сессию из снимка client_state.
// Снимок разбирается защищённо: повреждённый JSON логируется и игнорируется.
func (s *SessionService) restoreSnapshot(ctx context.Context, subject string) (Session, bool) {
	state, err := s.stateRepo.Get(ctx, subject, repository.KeyIdentitySnapshot)
	if err != nil {
		if !errors.Is(err, repository.ErrNotFound) {
			s.logger.Error("Ошибка чтения снимка identity", "subject", subject, "error", err)
		}
		return Session{}, false
	}

	var snap identitySnapshot
	if err := json.Unmarshal([]byte(state.Value), &snap); err != nil || snap.Identity == nil {
		s.logger.Error("Повреждённый снимок identity в client_state",
			"subject", subject,
			"error", err)
		return Session{}, false
	}

	s.mu.Lock()
	st := s.stateLocked(subject)
	st.identity = snap.Identity
	st.perms = roles.NewPermissionSet(snap.Identity.Roles)
	st.lastErr = ""
	session := st.snapshot()
	s.mu.Unlock()

	s.logger.Debug("Сессия восстановлена из снимка", "subject", subject)
	return session, true
}

// snapshot собирает публичное представление состояния. Вызывать под mu.
func (st *sessionState) snapshot() Session {
	return Session{
		Identity:    st.identity,
		Permissions: st.perms.Values(),
		Loading:     st.loading,
		Err:         st.lastErr,
	}
}
