// resolver.go — чистое вычисление действующего магазина по ролевым правилам.
//
// Единственное место в шлюзе, где принимается решение «elevated или restricted»:
// обработчики и NotificationService потребляют только готовый ResolvedScope
// и никогда не классифицируют роли самостоятельно.
package service

import (
	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
	"github.com/LamVNT/Farmovo-sub002/internal/domain/roles"
)

// ScopeResolver вычисляет действующий магазин для пользователя.
// Наборы elevated/restricted задаются конфигурацией при старте,
// дальше Resolve — детерминированная функция своих аргументов:
// ни скрытого состояния, ни побочных эффектов.
type ScopeResolver struct {
	elevated   []string
	restricted []string
}

// NewScopeResolver создаёт resolver с настроенными наборами ролей.
func NewScopeResolver(elevated, restricted []string) *ScopeResolver {
	return &ScopeResolver{
		elevated:   elevated,
		restricted: restricted,
	}
}

// Resolve возвращает магазин, фактически действующий для identity
// с учётом роли roleHint и текущего явного выбора sel.
//
// ELEVATED: действует явный выбор; при пустом выборе NeedsSelection = true.
// Осиротевший выбор (идентификатор без записи после холодной загрузки)
// не принимается на веру — пользователю предлагается выбрать заново.
//
// RESTRICTED: магазин закреплён жёстко, порядок источников:
// вложенный объект магазина → числовое поле storeId → fallbackID из хранилища.
// NeedsSelection всегда false: отсутствие закрепления — проблема данных,
// а не повод показывать выбор.
//
// UNKNOWN: магазин не определён, NeedsSelection = true.
func (r *ScopeResolver) Resolve(identity *model.Identity, roleHint string, sel model.ScopeSelection, fallbackID string) model.ResolvedScope {
	if identity == nil {
		return model.ResolvedScope{NeedsSelection: true}
	}

	switch roles.Classify(roleHint, r.elevated, r.restricted) {
	case roles.ClassElevated:
		if sel.Orphaned || sel.ScopeID == "" {
			return model.ResolvedScope{NeedsSelection: true}
		}
		return model.ResolvedScope{
			ScopeID: sel.ScopeID,
			Record:  sel.Record,
		}

	case roles.ClassRestricted:
		scopeID := identity.FixedScopeID()
		var record *model.StoreRecord
		if identity.Store != nil && identity.Store.ID != 0 {
			record = identity.Store
		}
		if scopeID == "" {
			scopeID = fallbackID
		}
		return model.ResolvedScope{
			ScopeID: scopeID,
			Record:  record,
		}

	default:
		return model.ResolvedScope{NeedsSelection: true}
	}
}

// Class возвращает класс роли roleHint относительно настроенных наборов.
// Используется NotificationService для выбора варианта запроса к core API.
func (r *ScopeResolver) Class(roleHint string) string {
	return roles.Classify(roleHint, r.elevated, r.restricted)
}

// PrimaryRole выбирает рабочую роль identity, когда явной подсказки нет:
// первая elevated-роль, иначе первая restricted, иначе первая роль как есть.
func (r *ScopeResolver) PrimaryRole(identity *model.Identity) string {
	if identity == nil {
		return ""
	}
	for _, role := range identity.Roles {
		if roles.Classify(role, r.elevated, r.restricted) == roles.ClassElevated {
			return role
		}
	}
	for _, role := range identity.Roles {
		if roles.Classify(role, r.elevated, r.restricted) == roles.ClassRestricted {
			return role
		}
	}
	if len(identity.Roles) > 0 {
		return identity.Roles[0]
	}
	return ""
}
