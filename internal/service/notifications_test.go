package service

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/LamVNT/Farmovo-sub002/internal/bus"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
)

// newFeedFixture собирает NotificationService с загруженной сессией.
// identity == nil — пользователь не аутентифицирован.
func newFeedFixture(t *testing.T, identity *model.Identity, api *mockNotificationAPI) (*NotificationService, *ScopeService) {
	t.Helper()

	repo := newMemStateRepo()
	b := bus.New(discardLogger())
	resolver := NewScopeResolver([]string{"OWNER", "ADMIN"}, []string{"STAFF"})
	scopes := NewScopeService(repo, resolver, b, discardLogger())
	sessions := NewSessionService(&mockSessionAPI{
		currentIdentityFn: func(_ context.Context, _ string) (*model.Identity, error) {
			return identity, nil
		},
	}, repo, scopes, b, discardLogger())
	if identity != nil {
		if _, err := sessions.FetchIdentity(context.Background(), "user-1", "token-1"); err != nil {
			t.Fatalf("FetchIdentity ошибка: %v", err)
		}
	}

	return NewNotificationService(api, sessions, scopes, resolver, 20, discardLogger()), scopes
}

// TestLoad_RestrictedUsesStoreEndpoints — STAFF читает уведомления своего
// магазина, а не всех.
func TestLoad_RestrictedUsesStoreEndpoints(t *testing.T) {
	var allCalled bool
	api := &mockNotificationAPI{
		storeNotificationsFn: func(_ context.Context, _, storeID string, _, size int) ([]model.NotificationItem, error) {
			if storeID != "7" {
				t.Errorf("storeID = %q, ожидался \"7\"", storeID)
			}
			if size != 20 {
				t.Errorf("size = %d, ожидался 20", size)
			}
			return []model.NotificationItem{{ID: 1, Title: "Приёмка"}}, nil
		},
		storeUnreadCountFn: func(_ context.Context, _, _ string) (int, error) {
			return 1, nil
		},
		allNotificationsFn: func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
			allCalled = true
			return nil, nil
		},
	}
	identity := &model.Identity{ID: 2, Roles: []string{"STAFF"}, Store: &model.StoreRecord{ID: 7, Name: "Warehouse A"}}
	svc, _ := newFeedFixture(t, identity, api)

	feed, err := svc.Load(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("Load ошибка: %v", err)
	}
	if allCalled {
		t.Error("Для STAFF не должен вызываться запрос всех магазинов")
	}
	if len(feed.Items) != 1 || feed.Unread != 1 {
		t.Errorf("Feed = %+v, ожидался 1 элемент и 1 непрочитанное", feed)
	}
}

// TestLoad_RestrictedWithoutStoreIsEmpty — STAFF без магазина и без
// fallback получает пустую ленту, сводные эндпоинты не вызываются.
func TestLoad_RestrictedWithoutStoreIsEmpty(t *testing.T) {
	api := &mockNotificationAPI{
		allNotificationsFn: func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
			t.Error("Для STAFF без магазина не должен вызываться запрос всех магазинов")
			return []model.NotificationItem{{ID: 99, Title: "чужой магазин"}}, nil
		},
		allUnreadCountFn: func(_ context.Context, _ string) (int, error) {
			t.Error("Для STAFF без магазина не должен вызываться сводный счётчик")
			return 5, nil
		},
	}
	identity := &model.Identity{ID: 2, Roles: []string{"STAFF"}}
	svc, _ := newFeedFixture(t, identity, api)

	feed, err := svc.Load(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("Load ошибка: %v", err)
	}
	if len(feed.Items) != 0 || feed.Unread != 0 {
		t.Errorf("Feed должна быть пустой: %+v", feed)
	}
}

// TestMarkAllRead_RestrictedWithoutStoreIsNoOp — STAFF без магазина
// не попадает в сводную пометку всех магазинов.
func TestMarkAllRead_RestrictedWithoutStoreIsNoOp(t *testing.T) {
	api := &mockNotificationAPI{
		markAllReadFn: func(_ context.Context, _ string) error {
			t.Error("Для STAFF без магазина не должна вызываться сводная пометка")
			return nil
		},
		markAllReadByStoreFn: func(_ context.Context, _, _ string) error {
			t.Error("Без магазина пометка по магазину невозможна")
			return nil
		},
	}
	identity := &model.Identity{ID: 2, Roles: []string{"STAFF"}}
	svc, _ := newFeedFixture(t, identity, api)

	feed, err := svc.MarkAllRead(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("MarkAllRead ошибка: %v", err)
	}
	if len(feed.Items) != 0 || feed.Unread != 0 {
		t.Errorf("Feed должна остаться пустой: %+v", feed)
	}
}

// TestLoad_ElevatedUsesAllEndpoints — OWNER читает уведомления всех магазинов.
func TestLoad_ElevatedUsesAllEndpoints(t *testing.T) {
	var storeCalled bool
	api := &mockNotificationAPI{
		allNotificationsFn: func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
			return []model.NotificationItem{{ID: 1}, {ID: 2}}, nil
		},
		allUnreadCountFn: func(_ context.Context, _ string) (int, error) {
			return 2, nil
		},
		storeNotificationsFn: func(_ context.Context, _, _ string, _, _ int) ([]model.NotificationItem, error) {
			storeCalled = true
			return nil, nil
		},
	}
	identity := &model.Identity{ID: 1, Roles: []string{"OWNER"}}
	svc, _ := newFeedFixture(t, identity, api)

	feed, err := svc.Load(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("Load ошибка: %v", err)
	}
	if storeCalled {
		t.Error("Для OWNER не должен вызываться запрос одного магазина")
	}
	if len(feed.Items) != 2 || feed.Unread != 2 {
		t.Errorf("Feed = %+v, ожидались 2 элемента", feed)
	}
}

// TestLoad_NoIdentityIsNoOp — без identity лента не запрашивается.
func TestLoad_NoIdentityIsNoOp(t *testing.T) {
	called := false
	api := &mockNotificationAPI{
		allNotificationsFn: func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
			called = true
			return nil, nil
		},
	}
	svc, _ := newFeedFixture(t, nil, api)

	feed, err := svc.Load(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("Load ошибка: %v", err)
	}
	if called {
		t.Error("Без identity core API не должен вызываться")
	}
	if len(feed.Items) != 0 || feed.Unread != 0 {
		t.Errorf("Feed должна быть пустой: %+v", feed)
	}
}

// TestLoad_StaleResultDiscarded — результат загрузки, начатой раньше,
// но завершившейся позже, не перетирает данные более новой загрузки.
func TestLoad_StaleResultDiscarded(t *testing.T) {
	release := make(chan struct{})
	var calls int32
	api := &mockNotificationAPI{
		allNotificationsFn: func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
			if atomic.AddInt32(&calls, 1) == 1 {
				<-release
				return []model.NotificationItem{{ID: 1, Title: "устаревшее"}}, nil
			}
			return []model.NotificationItem{{ID: 2, Title: "свежее"}}, nil
		},
		allUnreadCountFn: func(_ context.Context, _ string) (int, error) {
			return 0, nil
		},
	}
	identity := &model.Identity{ID: 1, Roles: []string{"OWNER"}}
	svc, _ := newFeedFixture(t, identity, api)

	done := make(chan struct{})
	go func() {
		defer close(done)
		_, _ = svc.Load(context.Background(), "user-1", "token-1", "")
	}()

	// Дожидаемся, пока первая загрузка повиснет в core API.
	deadline := time.After(2 * time.Second)
	for atomic.LoadInt32(&calls) == 0 {
		select {
		case <-deadline:
			t.Fatal("Первая загрузка не стартовала")
		case <-time.After(5 * time.Millisecond):
		}
	}

	if _, err := svc.Load(context.Background(), "user-1", "token-1", ""); err != nil {
		t.Fatalf("Вторая загрузка ошибка: %v", err)
	}
	close(release)
	<-done

	feed := svc.Feed("user-1")
	if len(feed.Items) != 1 || feed.Items[0].Title != "свежее" {
		t.Errorf("Устаревший результат перетёр свежий: %+v", feed.Items)
	}
}

// loadSeeded загружает ленту с заданными элементами и счётчиком.
func loadSeeded(t *testing.T, svc *NotificationService, api *mockNotificationAPI, items []model.NotificationItem, unread int) {
	t.Helper()
	api.allNotificationsFn = func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
		out := make([]model.NotificationItem, len(items))
		copy(out, items)
		return out, nil
	}
	api.allUnreadCountFn = func(_ context.Context, _ string) (int, error) {
		return unread, nil
	}
	if _, err := svc.Load(context.Background(), "user-1", "token-1", ""); err != nil {
		t.Fatalf("Load ошибка: %v", err)
	}
}

// TestMarkRead_FloorAtZero — счётчик непрочитанных не уходит в минус.
func TestMarkRead_FloorAtZero(t *testing.T) {
	api := &mockNotificationAPI{}
	identity := &model.Identity{ID: 1, Roles: []string{"OWNER"}}
	svc, _ := newFeedFixture(t, identity, api)
	loadSeeded(t, svc, api, []model.NotificationItem{{ID: 1}, {ID: 2}}, 1)

	for _, id := range []int64{1, 2, 2, 99} {
		feed, err := svc.MarkRead(context.Background(), "user-1", "token-1", id)
		if err != nil {
			t.Fatalf("MarkRead(%d) ошибка: %v", id, err)
		}
		if feed.Unread < 0 {
			t.Fatalf("Счётчик ушёл в минус: %d", feed.Unread)
		}
	}

	if got := svc.Feed("user-1").Unread; got != 0 {
		t.Errorf("Unread = %d, ожидался 0", got)
	}
}

// TestMarkRead_RollbackOnFailure — при ошибке сервера оптимистичное
// изменение откатывается.
func TestMarkRead_RollbackOnFailure(t *testing.T) {
	api := &mockNotificationAPI{
		markReadFn: func(_ context.Context, _ string, _ int64) error {
			return errors.New("core api недоступен")
		},
	}
	identity := &model.Identity{ID: 1, Roles: []string{"OWNER"}}
	svc, _ := newFeedFixture(t, identity, api)
	loadSeeded(t, svc, api, []model.NotificationItem{{ID: 1, Read: false}}, 1)

	feed, err := svc.MarkRead(context.Background(), "user-1", "token-1", 1)
	if err != nil {
		t.Fatalf("MarkRead ошибка: %v", err)
	}
	if feed.Items[0].Read {
		t.Error("Изменение должно быть откатано при ошибке сервера")
	}
	if feed.Unread != 1 {
		t.Errorf("Unread = %d, ожидался 1 после отката", feed.Unread)
	}
}

// TestMarkAllRead — массовая пометка: правильная ролевая ветка,
// локальные элементы прочитаны, счётчик обнулён.
func TestMarkAllRead(t *testing.T) {
	var storeEndpoint, allEndpoint bool
	api := &mockNotificationAPI{
		markAllReadByStoreFn: func(_ context.Context, _, storeID string) error {
			storeEndpoint = true
			if storeID != "7" {
				t.Errorf("storeID = %q, ожидался \"7\"", storeID)
			}
			return nil
		},
		markAllReadFn: func(_ context.Context, _ string) error {
			allEndpoint = true
			return nil
		},
		storeNotificationsFn: func(_ context.Context, _, _ string, _, _ int) ([]model.NotificationItem, error) {
			return []model.NotificationItem{{ID: 1}, {ID: 2}}, nil
		},
		storeUnreadCountFn: func(_ context.Context, _, _ string) (int, error) {
			return 2, nil
		},
	}
	identity := &model.Identity{ID: 2, Roles: []string{"STAFF"}, Store: &model.StoreRecord{ID: 7, Name: "Warehouse A"}}
	svc, _ := newFeedFixture(t, identity, api)
	if _, err := svc.Load(context.Background(), "user-1", "token-1", ""); err != nil {
		t.Fatalf("Load ошибка: %v", err)
	}

	feed, err := svc.MarkAllRead(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("MarkAllRead ошибка: %v", err)
	}
	if !storeEndpoint || allEndpoint {
		t.Errorf("Для STAFF ожидалась ветка своего магазина: store=%v all=%v", storeEndpoint, allEndpoint)
	}
	if feed.Unread != 0 {
		t.Errorf("Unread = %d, ожидался 0", feed.Unread)
	}
	for _, item := range feed.Items {
		if !item.Read {
			t.Errorf("Элемент %d не помечен прочитанным", item.ID)
		}
	}
}

// TestClearAll — удаление уведомлений магазина и безусловная очистка проекции.
func TestClearAll(t *testing.T) {
	var deleted string
	api := &mockNotificationAPI{
		deleteStoreFn: func(_ context.Context, _, storeID string) error {
			deleted = storeID
			return nil
		},
	}
	identity := &model.Identity{ID: 1, Roles: []string{"OWNER"}}
	svc, scopes := newFeedFixture(t, identity, api)
	if _, err := scopes.Select(context.Background(), "user-1", &model.StoreRecord{ID: 3, Name: "Store X"}); err != nil {
		t.Fatalf("Select ошибка: %v", err)
	}
	loadSeeded(t, svc, api, []model.NotificationItem{{ID: 1}}, 1)

	feed, err := svc.ClearAll(context.Background(), "user-1", "token-1", "")
	if err != nil {
		t.Fatalf("ClearAll ошибка: %v", err)
	}
	if deleted != "3" {
		t.Errorf("Удаление вызвано для магазина %q, ожидался \"3\"", deleted)
	}
	if len(feed.Items) != 0 || feed.Unread != 0 {
		t.Errorf("Проекция не очищена: %+v", feed)
	}
}

// TestCreateEvent — событие привязывается к действующему магазину и
// актору, после создания лента перечитывается.
func TestCreateEvent(t *testing.T) {
	var created *model.NotificationEvent
	var loads int32
	api := &mockNotificationAPI{
		createFn: func(_ context.Context, _ string, event *model.NotificationEvent) error {
			created = event
			return nil
		},
		allNotificationsFn: func(_ context.Context, _ string, _, _ int) ([]model.NotificationItem, error) {
			atomic.AddInt32(&loads, 1)
			return nil, nil
		},
	}
	identity := &model.Identity{ID: 42, Roles: []string{"OWNER"}}
	svc, scopes := newFeedFixture(t, identity, api)
	if _, err := scopes.Select(context.Background(), "user-1", &model.StoreRecord{ID: 3, Name: "Store X"}); err != nil {
		t.Fatalf("Select ошибка: %v", err)
	}

	err := svc.CreateEvent(context.Background(), "user-1", "token-1", "",
		model.CategoryTransaction, model.NotificationSuccess, "created", "Приход №15", "")
	if err != nil {
		t.Fatalf("CreateEvent ошибка: %v", err)
	}

	if created == nil {
		t.Fatal("Уведомление не создано")
	}
	if created.StoreID != 3 || created.ActorID != 42 {
		t.Errorf("Событие: StoreID=%d ActorID=%d, ожидались 3 и 42", created.StoreID, created.ActorID)
	}
	if atomic.LoadInt32(&loads) != 1 {
		t.Errorf("Лента должна быть перечитана после события, loads = %d", loads)
	}
}

// TestCreateEvent_NoScopeIsNoOp — без действующего магазина событию
// не к чему привязаться.
func TestCreateEvent_NoScopeIsNoOp(t *testing.T) {
	created := false
	api := &mockNotificationAPI{
		createFn: func(_ context.Context, _ string, _ *model.NotificationEvent) error {
			created = true
			return nil
		},
	}
	identity := &model.Identity{ID: 1, Roles: []string{"OWNER"}}
	svc, _ := newFeedFixture(t, identity, api)

	err := svc.CreateEvent(context.Background(), "user-1", "token-1", "",
		model.CategoryProduct, model.NotificationInfo, "updated", "Товар", "")
	if err != nil {
		t.Fatalf("CreateEvent ошибка: %v", err)
	}
	if created {
		t.Error("Без магазина уведомление не должно создаваться")
	}
}
