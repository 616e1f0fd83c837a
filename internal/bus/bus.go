// Package bus реализует внутрипроцессную шину типизированных сигналов
// с опциональным мостом через Redis Pub/Sub для доставки сигналов
// между несколькими экземплярами шлюза.
package bus

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// Виды сигналов.
const (
	// KindAuthChanged публикуется после выхода из системы или обновления
	// сведений о пользователе.
	KindAuthChanged = "auth-changed"
	// KindStateChanged публикуется после фактической смены активного магазина.
	KindStateChanged = "state-changed"
)

// Signal - событие, распространяемое по шине.
type Signal struct {
	// Kind - вид сигнала: KindAuthChanged или KindStateChanged.
	Kind string `json:"kind"`
	// Subject - идентификатор пользователя, к которому относится сигнал.
	Subject string `json:"subject"`
	// Origin - идентификатор экземпляра, опубликовавшего сигнал.
	// Заполняется шиной при публикации.
	Origin string `json:"origin"`
}

// Handler - обработчик сигнала. Вызывается синхронно в порядке подписки.
type Handler func(Signal)

// Bus - шина сигналов. Локальные подписчики получают сигналы синхронно,
// в порядке подписки. При подключённом мосте сигнал дополнительно
// публикуется в канал Redis и принимается другими экземплярами.
type Bus struct {
	logger   *slog.Logger
	instance string

	mu       sync.RWMutex
	handlers map[int]Handler
	nextID   int

	rdb     *redis.Client
	channel string
}

// New создает шину сигналов без моста.
func New(logger *slog.Logger) *Bus {
	return &Bus{
		logger:   logger,
		instance: uuid.NewString(),
		handlers: make(map[int]Handler),
	}
}

// Subscribe регистрирует обработчик и возвращает функцию отписки.
func (b *Bus) Subscribe(h Handler) func() {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.handlers[id] = h
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		delete(b.handlers, id)
		b.mu.Unlock()
	}
}

// Subscribers возвращает число зарегистрированных подписчиков.
func (b *Bus) Subscribers() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.handlers)
}

// Publish рассылает сигнал локальным подписчикам и, если мост подключён,
// публикует его в канал Redis. Поле Origin перезаписывается идентификатором
// текущего экземпляра.
func (b *Bus) Publish(ctx context.Context, sig Signal) {
	sig.Origin = b.instance
	b.dispatch(sig)

	b.mu.RLock()
	rdb := b.rdb
	channel := b.channel
	b.mu.RUnlock()
	if rdb == nil {
		return
	}

	payload, err := json.Marshal(sig)
	if err != nil {
		b.logger.Error("Ошибка сериализации сигнала", "error", err)
		return
	}
	if err := rdb.Publish(ctx, channel, payload).Err(); err != nil {
		b.logger.Error("Ошибка публикации сигнала в Redis",
			"channel", channel,
			"error", err)
	}
}

// dispatch синхронно вызывает всех подписчиков в порядке регистрации.
func (b *Bus) dispatch(sig Signal) {
	b.mu.RLock()
	ids := make([]int, 0, len(b.handlers))
	for id := range b.handlers {
		ids = append(ids, id)
	}
	// Порядок map не определён, поэтому сортируем по номеру подписки.
	for i := 1; i < len(ids); i++ {
		for j := i; j > 0 && ids[j-1] > ids[j]; j-- {
			ids[j-1], ids[j] = ids[j], ids[j-1]
		}
	}
	handlers := make([]Handler, 0, len(ids))
	for _, id := range ids {
		handlers = append(handlers, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range handlers {
		h(sig)
	}
}

// StartBridge подключает мост через Redis Pub/Sub: подписывается на канал
// и доставляет локальным подписчикам сигналы других экземпляров.
// Собственные сигналы (по полю Origin) пропускаются. Мост работает до
// отмены контекста.
func (b *Bus) StartBridge(ctx context.Context, rdb *redis.Client, channel string) {
	b.mu.Lock()
	b.rdb = rdb
	b.channel = channel
	b.mu.Unlock()

	sub := rdb.Subscribe(ctx, channel)

	go func() {
		defer func() {
			if err := sub.Close(); err != nil {
				b.logger.Error("Ошибка закрытия подписки Redis", "error", err)
			}
		}()

		ch := sub.Channel()
		for {
			select {
			case <-ctx.Done():
				return
			case msg, ok := <-ch:
				if !ok {
					return
				}
				var sig Signal
				if err := json.Unmarshal([]byte(msg.Payload), &sig); err != nil {
					b.logger.Error("Ошибка разбора сигнала из Redis", "error", err)
					continue
				}
				if sig.Origin == b.instance {
					continue
				}
				b.logger.Debug("Получен сигнал от другого экземпляра",
					"kind", sig.Kind,
					"subject", sig.Subject)
				b.dispatch(sig)
			}
		}
	}()

	b.logger.Info("Мост сигналов через Redis запущен", "channel", channel)
}
