// storecache.go — список магазинов для выбора активного (роли OWNER/ADMIN).
//
// Список меняется редко, а запрашивается при каждом открытии выбора,
// поэтому ответы core API кэшируются LRU-кэшем с TTL по subject.
package service

import (
	"context"
	"log/slog"
	"time"

	"github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/LamVNT/Farmovo-sub002/internal/bus"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
)

// CoreStoreAPI — операции core API, необходимые списку магазинов.
type CoreStoreAPI interface {
	ListStores(ctx context.Context, token string) ([]model.StoreRecord, error)
}

// StoreListService — сервис списка магазинов с кэшированием.
type StoreListService struct {
	core   CoreStoreAPI
	cache  *expirable.LRU[string, []model.StoreRecord]
	logger *slog.Logger
}

// NewStoreListService создаёт сервис списка магазинов и подписывает его
// на шину: после auth-changed (logout, refresh) кэш пользователя сбрасывается,
// новый токен может видеть другой набор магазинов.
// size — ёмкость кэша (записей на пользователя), ttl — срок жизни записи.
func NewStoreListService(core CoreStoreAPI, signals *bus.Bus, size int, ttl time.Duration, logger *slog.Logger) *StoreListService {
	s := &StoreListService{
		core:   core,
		cache:  expirable.NewLRU[string, []model.StoreRecord](size, nil, ttl),
		logger: logger.With(slog.String("component", "store_list_service")),
	}

	signals.Subscribe(func(sig bus.Signal) {
		if sig.Kind == bus.KindAuthChanged {
			s.Invalidate(sig.Subject)
		}
	})

	return s
}

// List возвращает список магазинов, доступных пользователю.
// Кэш по subject: видимость магазинов зависит от прав токена.
func (s *StoreListService) List(ctx context.Context, subject, token string) ([]model.StoreRecord, error) {
	if stores, ok := s.cache.Get(subject); ok {
		return stores, nil
	}

	stores, err := s.core.ListStores(ctx, token)
	if err != nil {
		return nil, err
	}
	s.cache.Add(subject, stores)
	s.logger.Debug("Список магазинов обновлён из core API",
		"subject", subject,
		"count", len(stores))
	return stores, nil
}

// Invalidate сбрасывает кэш пользователя. Вызывается по сигналу auth-changed.
func (s *StoreListService) Invalidate(subject string) {
	s.cache.Remove(subject)
}
