// scope.go — сервис активного магазина (явный выбор для ролей OWNER/ADMIN).
//
// Состояние выбора хранится в client_state двумя ключами (идентификатор и
// полная запись) — аналог пары ключей localStorage в браузерной консоли.
// Ключи пишутся и удаляются парой; единственный путь рассогласования —
// повреждённый JSON записи при холодной загрузке (см. Current).
package service

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/LamVNT/Farmovo-sub002/internal/bus"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/repository"
)

// ScopeService — сервис явного выбора магазина.
type ScopeService struct {
	stateRepo repository.ClientStateRepository
	resolver  *ScopeResolver
	signals   *bus.Bus
	logger    *slog.Logger
}

// NewScopeService создаёт сервис активного магазина.
func NewScopeService(stateRepo repository.ClientStateRepository, resolver *ScopeResolver, signals *bus.Bus, logger *slog.Logger) *ScopeService {
	return &ScopeService{
		stateRepo: stateRepo,
		resolver:  resolver,
		signals:   signals,
		logger:    logger.With(slog.String("component", "scope_service")),
	}
}

// ResolveFor вычисляет магазин, фактически действующий для identity:
// восстанавливает текущий выбор и запасной идентификатор из client_state
// и передаёт их resolver'у. Единственная точка входа для потребителей —
// ролевую классификацию здесь никто не повторяет.
func (s *ScopeService) ResolveFor(ctx context.Context, subject string, identity *model.Identity, roleHint string) (model.ResolvedScope, error) {
	if roleHint == "" && identity != nil {
		roleHint = s.resolver.PrimaryRole(identity)
	}
	sel, err := s.Current(ctx, subject)
	if err != nil {
		return model.ResolvedScope{}, err
	}
	fallback, err := s.FallbackID(ctx, subject)
	if err != nil {
		return model.ResolvedScope{}, err
	}
	return s.resolver.Resolve(identity, roleHint, sel, fallback), nil
}

// Select устанавливает активный магазин пользователя. nil снимает выбор.
//
// Если идентификатор нового магазина совпадает с текущим, вызов — no-op:
// ни записи в хранилище, ни сигнала. Без этой защиты потребители,
// перевыбирающие магазин в ответ на сигнал смены, зацикливают обновления.
// Сигнал state-changed публикуется ровно один раз на фактическую смену.
func (s *ScopeService) Select(ctx context.Context, subject string, record *model.StoreRecord) (model.ScopeSelection, error) {
	newID := ""
	if record != nil && record.ID != 0 {
		newID = fmt.Sprintf("%d", record.ID)
	}

	current, err := s.Current(ctx, subject)
	if err != nil {
		return model.ScopeSelection{}, err
	}
	if newID == current.ScopeID && !current.Orphaned {
		s.logger.Debug("Повторный выбор того же магазина, пропускаем",
			"subject", subject,
			"scope_id", newID)
		return current, nil
	}

	if newID == "" {
		if err := s.clearKeys(ctx, subject); err != nil {
			return model.ScopeSelection{}, err
		}
		s.publishChanged(ctx, subject)
		return model.ScopeSelection{}, nil
	}

	payload, err := json.Marshal(record)
	if err != nil {
		return model.ScopeSelection{}, fmt.Errorf("ошибка сериализации записи магазина: %w", err)
	}
	if err := s.stateRepo.Set(ctx, subject, repository.KeyActiveScopeID, newID); err != nil {
		return model.ScopeSelection{}, err
	}
	if err := s.stateRepo.Set(ctx, subject, repository.KeyActiveScopeRecord, string(payload)); err != nil {
		return model.ScopeSelection{}, err
	}

	s.logger.Info("Активный магазин изменён",
		"subject", subject,
		"scope_id", newID)
	s.publishChanged(ctx, subject)

	return model.ScopeSelection{ScopeID: newID, Record: record}, nil
}

// Clear безусловно снимает выбор магазина и публикует state-changed.
func (s *ScopeService) Clear(ctx context.Context, subject string) error {
	if err := s.clearKeys(ctx, subject); err != nil {
		return err
	}
	s.logger.Info("Выбор магазина снят", "subject", subject)
	s.publishChanged(ctx, subject)
	return nil
}

// Current восстанавливает выбор магазина из client_state.
//
// Идентификатор читается как есть. Запись разбирается защищённо: при
// повреждённом JSON ошибка логируется, Record остаётся nil, а выставленный
// Orphaned сообщает resolver'у, что идентификатору доверять нельзя.
func (s *ScopeService) Current(ctx context.Context, subject string) (model.ScopeSelection, error) {
	var sel model.ScopeSelection

	idState, err := s.stateRepo.Get(ctx, subject, repository.KeyActiveScopeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return sel, nil
		}
		return sel, err
	}
	sel.ScopeID = idState.Value

	recState, err := s.stateRepo.Get(ctx, subject, repository.KeyActiveScopeRecord)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			sel.Orphaned = sel.ScopeID != ""
			return sel, nil
		}
		return sel, err
	}

	var record model.StoreRecord
	if err := json.Unmarshal([]byte(recState.Value), &record); err != nil {
		s.logger.Error("Повреждённая запись магазина в client_state",
			"subject", subject,
			"error", err)
		sel.Orphaned = sel.ScopeID != ""
		return sel, nil
	}
	sel.Record = &record
	return sel, nil
}

// FallbackID возвращает запасной идентификатор магазина для ролей STAFF
// без закрепления в identity. Пустая строка — запасного значения нет.
func (s *ScopeService) FallbackID(ctx context.Context, subject string) (string, error) {
	state, err := s.stateRepo.Get(ctx, subject, repository.KeyFallbackScopeID)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return "", nil
		}
		return "", err
	}
	return state.Value, nil
}

// SetFallbackID сохраняет запасной идентификатор магазина.
// Вызывается SessionService при успешной загрузке identity с закреплением.
func (s *ScopeService) SetFallbackID(ctx context.Context, subject, scopeID string) error {
	if scopeID == "" {
		return s.stateRepo.Delete(ctx, subject, repository.KeyFallbackScopeID)
	}
	return s.stateRepo.Set(ctx, subject, repository.KeyFallbackScopeID, scopeID)
}

// clearKeys удаляет оба ключа выбора. Удаление идемпотентно.
func (s *ScopeService) clearKeys(ctx context.Context, subject string) error {
	if err := s.stateRepo.Delete(ctx, subject, repository.KeyActiveScopeID); err != nil {
		return err
	}
	return s.stateRepo.Delete(ctx, subject, repository.KeyActiveScopeRecord)
}

func (s *ScopeService) publishChanged(ctx context.Context, subject string) {
	s.signals.Publish(ctx, bus.Signal{Kind: bus.KindStateChanged, Subject: subject})
}
