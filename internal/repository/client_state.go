package repository

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
)

// Ключи client_state, принадлежащие Session Gateway.
// Аналог localStorage браузерной консоли: четыре ключа на пользователя.
const (
	// KeyIdentitySnapshot — JSON-снимок identity с расширенным набором ролей.
	KeyIdentitySnapshot = "auth.identity"
	// KeyActiveScopeID — строковый идентификатор выбранного магазина.
	KeyActiveScopeID = "scope.active_id"
	// KeyActiveScopeRecord — JSON полной записи выбранного магазина.
	KeyActiveScopeRecord = "scope.active_record"
	// KeyFallbackScopeID — запасной идентификатор магазина для ролей STAFF
	// без закрепления в identity.
	KeyFallbackScopeID = "scope.fallback_id"
)

// ClientState — модель записи из таблицы client_state.
// Состояние клиентской сессии, разделяемое между вкладками и инстансами
// gateway; писатели не координируются — последняя запись побеждает.
type ClientState struct {
	// Subject — идентификатор пользователя (sub из JWT)
	Subject string
	// Key — ключ состояния (dot-notation, например "scope.active_id")
	Key string
	// Value — значение (строка или сериализованный JSON)
	Value string
	// UpdatedAt — время последнего обновления
	UpdatedAt time.Time
}

// ClientStateRepository — интерфейс для таблицы client_state.
type ClientStateRepository interface {
	// Get возвращает значение по (subject, key). Если не найдено — ErrNotFound.
	Get(ctx context.Context, subject, key string) (*ClientState, error)
	// Set создаёт или обновляет значение (upsert).
	Set(ctx context.Context, subject, key, value string) error
	// Delete удаляет значение по (subject, key). Отсутствие записи — не ошибка:
	// удаление идемпотентно, как removeItem в localStorage.
	Delete(ctx context.Context, subject, key string) error
	// ListBySubject возвращает все записи пользователя.
	ListBySubject(ctx context.Context, subject string) ([]ClientState, error)
	// DeleteBySubject удаляет все записи пользователя.
	DeleteBySubject(ctx context.Context, subject string) error
}

// clientStateRepo — реализация ClientStateRepository.
type clientStateRepo struct {
	db DBTX
}

// NewClientStateRepository создаёт репозиторий клиентского состояния.
func NewClientStateRepository(db DBTX) ClientStateRepository {
	return &clientStateRepo{db: db}
}

// Get возвращает значение по (subject, key).
func (r *clientStateRepo) Get(ctx context.Context, subject, key string) (*ClientState, error) {
	query := `
		SELECT subject, key, value, updated_at
		FROM client_state
		WHERE subject = $1 AND key = $2`

	s := &ClientState{}
	err := r.db.QueryRow(ctx, query, subject, key).Scan(
		&s.Subject, &s.Key, &s.Value, &s.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("ошибка получения client_state[%s/%s]: %w", subject, key, err)
	}
	return s, nil
}

// Set создаёт или обновляет значение (INSERT ... ON CONFLICT DO UPDATE).
func (r *clientStateRepo) Set(ctx context.Context, subject, key, value string) error {
	query := `
		INSERT INTO client_state (subject, key, value)
		VALUES ($1, $2, $3)
		ON CONFLICT (subject, key) DO UPDATE
		SET value = EXCLUDED.value,
			updated_at = NOW()`

	_, err := r.db.Exec(ctx, query, subject, key, value)
	if err != nil {
		return fmt.Errorf("ошибка сохранения client_state[%s/%s]: %w", subject, key, err)
	}
	return nil
}

// Delete удаляет значение по (subject, key). Идемпотентно.
func (r *clientStateRepo) Delete(ctx context.Context, subject, key string) error {
	query := `DELETE FROM client_state WHERE subject = $1 AND key = $2`
	_, err := r.db.Exec(ctx, query, subject, key)
	if err != nil {
		return fmt.Errorf("ошибка удаления client_state[%s/%s]: %w", subject, key, err)
	}
	return nil
}

// ListBySubject возвращает все записи пользователя, отсортированные по ключу.
func (r *clientStateRepo) ListBySubject(ctx context.Context, subject string) ([]ClientState, error) {
	query := `
		SELECT subject, key, value, updated_at
		FROM client_state
		WHERE subject = $1
		ORDER BY key`

	rows, err := r.db.Query(ctx, query, subject)
	if err != nil {
		return nil, fmt.Errorf("ошибка получения client_state пользователя %s: %w", subject, err)
	}
	defer rows.Close()

	var states []ClientState
	for rows.Next() {
		var s ClientState
		if err := rows.Scan(&s.Subject, &s.Key, &s.Value, &s.UpdatedAt); err != nil {
			return nil, fmt.Errorf("ошибка сканирования client_state: %w", err)
		}
		states = append(states, s)
	}
	return states, rows.Err()
}

// DeleteBySubject удаляет все записи пользователя.
func (r *clientStateRepo) DeleteBySubject(ctx context.Context, subject string) error {
	query := `DELETE FROM client_state WHERE subject = $1`
	if _, err := r.db.Exec(ctx, query, subject); err != nil {
		return fmt.Errorf("ошибка очистки client_state пользователя %s: %w", subject, err)
	}
	return nil
}
