package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"time"

	"github.com/LamVNT/Farmovo-sub002/internal/bus"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/repository"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// --- Mock client_state repository ---

// memStateRepo — ClientStateRepository в памяти для unit-тестов.
type memStateRepo struct {
	mu   sync.Mutex
	data map[string]map[string]string
}

func newMemStateRepo() *memStateRepo {
	return &memStateRepo{data: make(map[string]map[string]string)}
}

func (m *memStateRepo) Get(_ context.Context, subject, key string) (*repository.ClientState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if v, ok := m.data[subject][key]; ok {
		return &repository.ClientState{Subject: subject, Key: key, Value: v, UpdatedAt: time.Now()}, nil
	}
	return nil, repository.ErrNotFound
}

func (m *memStateRepo) Set(_ context.Context, subject, key, value string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data[subject] == nil {
		m.data[subject] = make(map[string]string)
	}
	m.data[subject][key] = value
	return nil
}

func (m *memStateRepo) Delete(_ context.Context, subject, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data[subject], key)
	return nil
}

func (m *memStateRepo) ListBySubject(_ context.Context, subject string) ([]repository.ClientState, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []repository.ClientState
	for k, v := range m.data[subject] {
		out = append(out, repository.ClientState{Subject: subject, Key: k, Value: v})
	}
	return out, nil
}

func (m *memStateRepo) DeleteBySubject(_ context.Context, subject string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, subject)
	return nil
}

// has проверяет наличие ключа (для ассертов).
func (m *memStateRepo) has(subject, key string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.data[subject][key]
	return ok
}

// put кладёт значение напрямую (для подготовки холодной загрузки).
func (m *memStateRepo) put(subject, key, value string) {
	_ = m.Set(context.Background(), subject, key, value)
}

// --- Mock core API (сессии) ---

// mockSessionAPI — мок CoreSessionAPI.
type mockSessionAPI struct {
	currentIdentityFn func(ctx context.Context, token string) (*model.Identity, error)
	logoutFn          func(ctx context.Context, token string) error
}

func (m *mockSessionAPI) CurrentIdentity(ctx context.Context, token string) (*model.Identity, error) {
	if m.currentIdentityFn != nil {
		return m.currentIdentityFn(ctx, token)
	}
	return nil, nil
}

func (m *mockSessionAPI) Logout(ctx context.Context, token string) error {
	if m.logoutFn != nil {
		return m.logoutFn(ctx, token)
	}
	return nil
}

// --- Mock core API (уведомления) ---

// mockNotificationAPI — мок CoreNotificationAPI.
type mockNotificationAPI struct {
	storeNotificationsFn func(ctx context.Context, token, storeID string, page, size int) ([]model.NotificationItem, error)
	allNotificationsFn   func(ctx context.Context, token string, page, size int) ([]model.NotificationItem, error)
	storeUnreadCountFn   func(ctx context.Context, token, storeID string) (int, error)
	allUnreadCountFn     func(ctx context.Context, token string) (int, error)
	markReadFn           func(ctx context.Context, token string, id int64) error
	markAllReadByStoreFn func(ctx context.Context, token, storeID string) error
	markAllReadFn        func(ctx context.Context, token string) error
	deleteStoreFn        func(ctx context.Context, token, storeID string) error
	createFn             func(ctx context.Context, token string, event *model.NotificationEvent) error
}

func (m *mockNotificationAPI) StoreNotifications(ctx context.Context, token, storeID string, page, size int) ([]model.NotificationItem, error) {
	if m.storeNotificationsFn != nil {
		return m.storeNotificationsFn(ctx, token, storeID, page, size)
	}
	return nil, nil
}

func (m *mockNotificationAPI) AllNotifications(ctx context.Context, token string, page, size int) ([]model.NotificationItem, error) {
	if m.allNotificationsFn != nil {
		return m.allNotificationsFn(ctx, token, page, size)
	}
	return nil, nil
}

func (m *mockNotificationAPI) StoreUnreadCount(ctx context.Context, token, storeID string) (int, error) {
	if m.storeUnreadCountFn != nil {
		return m.storeUnreadCountFn(ctx, token, storeID)
	}
	return 0, nil
}

func (m *mockNotificationAPI) AllUnreadCount(ctx context.Context, token string) (int, error) {
	if m.allUnreadCountFn != nil {
		return m.allUnreadCountFn(ctx, token)
	}
	return 0, nil
}

func (m *mockNotificationAPI) MarkRead(ctx context.Context, token string, id int64) error {
	if m.markReadFn != nil {
		return m.markReadFn(ctx, token, id)
	}
	return nil
}

func (m *mockNotificationAPI) MarkAllReadByStore(ctx context.Context, token, storeID string) error {
	if m.markAllReadByStoreFn != nil {
		return m.markAllReadByStoreFn(ctx, token, storeID)
	}
	return nil
}

func (m *mockNotificationAPI) MarkAllRead(ctx context.Context, token string) error {
	if m.markAllReadFn != nil {
		return m.markAllReadFn(ctx, token)
	}
	return nil
}

func (m *mockNotificationAPI) DeleteStoreNotifications(ctx context.Context, token, storeID string) error {
	if m.deleteStoreFn != nil {
		return m.deleteStoreFn(ctx, token, storeID)
	}
	return nil
}

func (m *mockNotificationAPI) CreateNotification(ctx context.Context, token string, event *model.NotificationEvent) error {
	if m.createFn != nil {
		return m.createFn(ctx, token, event)
	}
	return nil
}

// --- Mock core API (магазины) ---

// mockStoreAPI — мок CoreStoreAPI.
type mockStoreAPI struct {
	listStoresFn func(ctx context.Context, token string) ([]model.StoreRecord, error)
}

func (m *mockStoreAPI) ListStores(ctx context.Context, token string) ([]model.StoreRecord, error) {
	if m.listStoresFn != nil {
		return m.listStoresFn(ctx, token)
	}
	return nil, nil
}

// --- Общая сборка сервисов ---

// signalRecorder собирает опубликованные сигналы.
type signalRecorder struct {
	mu      sync.Mutex
	signals []bus.Signal
}

func (r *signalRecorder) attach(b *bus.Bus) {
	b.Subscribe(func(sig bus.Signal) {
		r.mu.Lock()
		r.signals = append(r.signals, sig)
		r.mu.Unlock()
	})
}

func (r *signalRecorder) kinds() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, len(r.signals))
	for i, sig := range r.signals {
		out[i] = sig.Kind
	}
	return out
}

func (r *signalRecorder) count(kind string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, sig := range r.signals {
		if sig.Kind == kind {
			n++
		}
	}
	return n
}

// newScopeFixture собирает ScopeService с зависимостями в памяти.
func newScopeFixture() (*ScopeService, *memStateRepo, *signalRecorder) {
	repo := newMemStateRepo()
	b := bus.New(discardLogger())
	rec := &signalRecorder{}
	rec.attach(b)
	resolver := NewScopeResolver([]string{"OWNER", "ADMIN"}, []string{"STAFF"})
	return NewScopeService(repo, resolver, b, discardLogger()), repo, rec
}
