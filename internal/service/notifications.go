// notifications.go — сервис ленты уведомлений.
//
// Держит локальную проекцию ленты по subject: страницу уведомлений и
// счётчик непрочитанных, синхронизируемые с core API. Какой вариант
// запроса использовать — «свой магазин» или «все магазины» — определяется
// классом роли, вычисленным resolver'ом; сам сервис роли не классифицирует
// повторно, только потребляет готовый результат.
package service

import (
	"context"
	"log/slog"
	"strconv"
	"sync"

	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/roles"
)

// CoreNotificationAPI — операции core API, необходимые ленте уведомлений.
type CoreNotificationAPI interface {
	StoreNotifications(ctx context.Context, token, storeID string, page, size int) ([]model.NotificationItem, error)
	AllNotifications(ctx context.Context, token string, page, size int) ([]model.NotificationItem, error)
	StoreUnreadCount(ctx context.Context, token, storeID string) (int, error)
	AllUnreadCount(ctx context.Context, token string) (int, error)
	MarkRead(ctx context.Context, token string, id int64) error
	MarkAllReadByStore(ctx context.Context, token, storeID string) error
	MarkAllRead(ctx context.Context, token string) error
	DeleteStoreNotifications(ctx context.Context, token, storeID string) error
	CreateNotification(ctx context.Context, token string, event *model.NotificationEvent) error
}

// Feed — локальная проекция ленты уведомлений пользователя.
type Feed struct {
	// Items — последняя загруженная страница уведомлений.
	Items []model.NotificationItem `json:"items"`
	// Unread — счётчик непрочитанных. Не опускается ниже нуля.
	Unread int `json:"unread"`
	// Err — сообщение о последней ошибке загрузки ("" — ошибки нет).
	Err string `json:"error,omitempty"`
}

// feedState — внутреннее состояние ленты одного пользователя.
type feedState struct {
	items   []model.NotificationItem
	unread  int
	lastErr string
	// seq — монотонный номер последней запущенной загрузки. Загрузка,
	// завершившаяся с устаревшим номером, отбрасывается: быстрые
	// переключения магазина не должны перетирать свежие данные старыми.
	seq uint64
}

// NotificationService — сервис ленты уведомлений.
type NotificationService struct {
	core     CoreNotificationAPI
	sessions *SessionService
	scopes   *ScopeService
	resolver *ScopeResolver
	pageSize int
	logger   *slog.Logger

	mu    sync.Mutex
	feeds map[string]*feedState
}

// NewNotificationService создаёт сервис ленты уведомлений.
func NewNotificationService(
	core CoreNotificationAPI,
	sessions *SessionService,
	scopes *ScopeService,
	resolver *ScopeResolver,
	pageSize int,
	logger *slog.Logger,
) *NotificationService {
	return &NotificationService{
		core:     core,
		sessions: sessions,
		scopes:   scopes,
		resolver: resolver,
		pageSize: pageSize,
		logger:   logger.With(slog.String("component", "notification_service")),
		feeds:    make(map[string]*feedState),
	}
}

// Feed возвращает текущую проекцию ленты пользователя.
func (s *NotificationService) Feed(subject string) Feed {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state(subject).projection()
}

// Load перечитывает ленту из core API и заменяет локальную проекцию
// целиком (без инкрементального слияния).
//
// Без identity вызов — no-op. Для RESTRICTED-роли читаются уведомления
// своего магазина; если магазин определить не удалось, лента пуста —
// сводные эндпоинты для такой роли не вызываются, чужие уведомления
// в проекцию не попадают. Для остальных ролей читаются все магазины.
// Между запуском и завершением загрузки лента могла быть перезапущена
// для другого магазина: результат с устаревшим номером отбрасывается.
func (s *NotificationService) Load(ctx context.Context, subject, token, roleHint string) (Feed, error) {
	identity := s.sessions.Identity(subject)
	if identity == nil {
		return Feed{}, nil
	}
	if roleHint == "" {
		roleHint = s.resolver.PrimaryRole(identity)
	}

	scope, err := s.scopes.ResolveFor(ctx, subject, identity, roleHint)
	if err != nil {
		return s.Feed(subject), err
	}

	s.mu.Lock()
	st := s.state(subject)
	st.seq++
	seq := st.seq
	s.mu.Unlock()

	var (
		items  []model.NotificationItem
		unread int
	)
	switch {
	case s.resolver.Class(roleHint) != roles.ClassRestricted:
		items, err = s.core.AllNotifications(ctx, token, 0, s.pageSize)
		if err == nil {
			unread, err = s.core.AllUnreadCount(ctx, token)
		}
	case scope.ScopeID != "":
		items, err = s.core.StoreNotifications(ctx, token, scope.ScopeID, 0, s.pageSize)
		if err == nil {
			unread, err = s.core.StoreUnreadCount(ctx, token, scope.ScopeID)
		}
	default:
		// RESTRICTED без действующего магазина: лента пуста.
		s.logger.Warn("Магазин RESTRICTED-пользователя не определён, лента пуста",
			"subject", subject)
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if st.seq != seq {
		s.logger.Debug("Результат устаревшей загрузки ленты отброшен",
			"subject", subject,
			"seq", seq,
			"latest", st.seq)
		return st.projection(), nil
	}

	if err != nil {
		st.lastErr = "не удалось загрузить уведомления"
		s.logger.Error("Ошибка загрузки ленты уведомлений",
			"subject", subject,
			"scope_id", scope.ScopeID,
			"error", err)
		return st.projection(), nil
	}

	st.items = items
	st.unread = unread
	st.lastErr = ""
	return st.projection(), nil
}

// MarkRead помечает уведомление прочитанным: оптимистичное локальное
// обновление (read = true, счётчик вниз с полом в нуле) одновременно
// с запросом к core API. При ошибке сервера локальное изменение
// откатывается к прежнему состоянию.
func (s *NotificationService) MarkRead(ctx context.Context, subject, token string, id int64) (Feed, error) {
	s.mu.Lock()
	st := s.state(subject)
	prevUnread := st.unread
	var prevRead *bool
	for i := range st.items {
		if st.items[i].ID == id {
			v := st.items[i].Read
			prevRead = &v
			if !st.items[i].Read {
				st.items[i].Read = true
				if st.unread > 0 {
					st.unread--
				}
			}
			break
		}
	}
	s.mu.Unlock()

	if err := s.core.MarkRead(ctx, token, id); err != nil {
		s.logger.Error("Ошибка пометки уведомления прочитанным, откат",
			"subject", subject,
			"notification_id", id,
			"error", err)
		s.mu.Lock()
		st.unread = prevUnread
		if prevRead != nil {
			for i := range st.items {
				if st.items[i].ID == id {
					st.items[i].Read = *prevRead
					break
				}
			}
		}
		s.mu.Unlock()
	}

	return s.Feed(subject), nil
}

// MarkAllRead помечает прочитанными все уведомления действующего магазина
// (или всех магазинов — тот же ролевой выбор, что у Load). При успехе
// локальные уведомления помечаются прочитанными, счётчик обнуляется;
// при ошибке проекция не трогается.
func (s *NotificationService) MarkAllRead(ctx context.Context, subject, token, roleHint string) (Feed, error) {
	identity := s.sessions.Identity(subject)
	if identity == nil {
		return Feed{}, nil
	}
	if roleHint == "" {
		roleHint = s.resolver.PrimaryRole(identity)
	}

	scope, err := s.scopes.ResolveFor(ctx, subject, identity, roleHint)
	if err != nil {
		return s.Feed(subject), err
	}

	if s.resolver.Class(roleHint) == roles.ClassRestricted {
		// Без действующего магазина помечать нечего, сводный эндпоинт
		// для ограниченной роли не вызывается.
		if scope.ScopeID == "" {
			return s.Feed(subject), nil
		}
		err = s.core.MarkAllReadByStore(ctx, token, scope.ScopeID)
	} else {
		err = s.core.MarkAllRead(ctx, token)
	}
	if err != nil {
		s.logger.Error("Ошибка массовой пометки уведомлений",
			"subject", subject,
			"error", err)
		return s.Feed(subject), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(subject)
	for i := range st.items {
		st.items[i].Read = true
	}
	st.unread = 0
	return st.projection(), nil
}

// ClearAll удаляет все уведомления действующего магазина в core API,
// затем безусловно очищает локальную проекцию.
func (s *NotificationService) ClearAll(ctx context.Context, subject, token, roleHint string) (Feed, error) {
	identity := s.sessions.Identity(subject)
	if identity == nil {
		return Feed{}, nil
	}
	if roleHint == "" {
		roleHint = s.resolver.PrimaryRole(identity)
	}

	scope, err := s.scopes.ResolveFor(ctx, subject, identity, roleHint)
	if err != nil {
		return s.Feed(subject), err
	}
	if scope.ScopeID == "" {
		return s.Feed(subject), nil
	}

	if err := s.core.DeleteStoreNotifications(ctx, token, scope.ScopeID); err != nil {
		s.logger.Error("Ошибка удаления уведомлений магазина",
			"subject", subject,
			"scope_id", scope.ScopeID,
			"error", err)
		return s.Feed(subject), err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	st := s.state(subject)
	st.items = nil
	st.unread = 0
	return st.projection(), nil
}

// CreateEvent создаёт уведомление о доменном событии (транзакция, товар,
// покупатель и т.д.) и перечитывает ленту. Требуются identity и действующий
// магазин; без любого из них вызов — no-op: событию не к чему привязаться.
// Идентификатор магазина берётся из resolver'а, вызывающий код ролевую
// ветку не выбирает.
func (s *NotificationService) CreateEvent(
	ctx context.Context,
	subject, token, roleHint string,
	category model.NotificationCategory,
	typ model.NotificationType,
	action, subjectName, newStatus string,
) error {
	identity := s.sessions.Identity(subject)
	if identity == nil {
		return nil
	}
	if roleHint == "" {
		roleHint = s.resolver.PrimaryRole(identity)
	}

	scope, err := s.scopes.ResolveFor(ctx, subject, identity, roleHint)
	if err != nil {
		return err
	}
	if scope.ScopeID == "" {
		s.logger.Debug("Событие без действующего магазина пропущено",
			"subject", subject,
			"category", category)
		return nil
	}
	storeID, err := strconv.ParseInt(scope.ScopeID, 10, 64)
	if err != nil {
		s.logger.Error("Нечисловой идентификатор магазина",
			"subject", subject,
			"scope_id", scope.ScopeID,
			"error", err)
		return nil
	}

	event := &model.NotificationEvent{
		Category:    category,
		Type:        typ,
		Action:      action,
		SubjectName: subjectName,
		StoreID:     storeID,
		ActorID:     identity.ID,
		NewStatus:   newStatus,
	}
	if err := s.core.CreateNotification(ctx, token, event); err != nil {
		s.logger.Error("Ошибка создания уведомления",
			"subject", subject,
			"category", category,
			"error", err)
		return err
	}

	if _, err := s.Load(ctx, subject, token, roleHint); err != nil {
		s.logger.Error("Ошибка обновления ленты после события",
			"subject", subject,
			"error", err)
	}
	return nil
}

// state возвращает состояние ленты subject. Вызывать под mu.
func (s *NotificationService) state(subject string) *feedState {
	st, ok := s.feeds[subject]
	if !ok {
		st = &feedState{}
		s.feeds[subject] = st
	}
	return st
}

// projection собирает публичную проекцию ленты. Вызывать под mu.
func (st *feedState) projection() Feed {
	items := make([]model.NotificationItem, len(st.items))
	copy(items, st.items)
	return Feed{Items: items, Unread: st.unread, Err: st.lastErr}
}
