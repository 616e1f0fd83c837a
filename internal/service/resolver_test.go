package service

import (
	"reflect"
	"testing"

	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
)

func newTestResolver() *ScopeResolver {
	return NewScopeResolver([]string{"OWNER", "ADMIN"}, []string{"STAFF"})
}

func int64ptr(v int64) *int64 { return &v }

// TestResolve_Table — таблица по классам ролей и состояниям выбора.
// NeedsSelection = true ровно для ELEVATED без выбора и для UNKNOWN.
func TestResolve_Table(t *testing.T) {
	r := newTestResolver()
	storeX := &model.StoreRecord{ID: 3, Name: "Store X"}
	staffStore := &model.StoreRecord{ID: 7, Name: "Warehouse A"}

	tests := []struct {
		name     string
		identity *model.Identity
		roleHint string
		sel      model.ScopeSelection
		fallback string
		want     model.ResolvedScope
	}{
		{
			name:     "ELEVATED с выбранным магазином",
			identity: &model.Identity{ID: 1, Roles: []string{"OWNER"}},
			roleHint: "OWNER",
			sel:      model.ScopeSelection{ScopeID: "3", Record: storeX},
			want:     model.ResolvedScope{ScopeID: "3", Record: storeX},
		},
		{
			name:     "ELEVATED без выбора",
			identity: &model.Identity{ID: 1, Roles: []string{"OWNER"}},
			roleHint: "OWNER",
			sel:      model.ScopeSelection{},
			want:     model.ResolvedScope{NeedsSelection: true},
		},
		{
			name:     "RESTRICTED с вложенным магазином",
			identity: &model.Identity{ID: 2, Roles: []string{"STAFF"}, Store: staffStore},
			roleHint: "STAFF",
			sel:      model.ScopeSelection{},
			want:     model.ResolvedScope{ScopeID: "7", Record: staffStore},
		},
		{
			name:     "RESTRICTED без закрепления и без fallback",
			identity: &model.Identity{ID: 2, Roles: []string{"STAFF"}},
			roleHint: "STAFF",
			sel:      model.ScopeSelection{},
			want:     model.ResolvedScope{},
		},
		{
			name:     "UNKNOWN с выбранным магазином",
			identity: &model.Identity{ID: 3, Roles: []string{"AUDITOR"}},
			roleHint: "AUDITOR",
			sel:      model.ScopeSelection{ScopeID: "3", Record: storeX},
			want:     model.ResolvedScope{NeedsSelection: true},
		},
		{
			name:     "UNKNOWN без выбора",
			identity: &model.Identity{ID: 3, Roles: []string{"AUDITOR"}},
			roleHint: "AUDITOR",
			sel:      model.ScopeSelection{},
			want:     model.ResolvedScope{NeedsSelection: true},
		},
		{
			name:     "ELEVATED с осиротевшим выбором требует перевыбора",
			identity: &model.Identity{ID: 1, Roles: []string{"ADMIN"}},
			roleHint: "ADMIN",
			sel:      model.ScopeSelection{ScopeID: "3", Orphaned: true},
			want:     model.ResolvedScope{NeedsSelection: true},
		},
		{
			name:     "роль с префиксом ROLE_ классифицируется так же",
			identity: &model.Identity{ID: 1, Roles: []string{"ROLE_OWNER"}},
			roleHint: "ROLE_OWNER",
			sel:      model.ScopeSelection{ScopeID: "3", Record: storeX},
			want:     model.ResolvedScope{ScopeID: "3", Record: storeX},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := r.Resolve(tt.identity, tt.roleHint, tt.sel, tt.fallback)
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Resolve() = %+v, ожидалось %+v", got, tt.want)
			}
		})
	}
}

// TestResolve_Deterministic проверяет, что повторный вызов с теми же
// аргументами даёт идентичный результат.
func TestResolve_Deterministic(t *testing.T) {
	r := newTestResolver()
	identity := &model.Identity{ID: 5, Roles: []string{"OWNER"}}
	sel := model.ScopeSelection{ScopeID: "9", Record: &model.StoreRecord{ID: 9, Name: "Склад"}}

	first := r.Resolve(identity, "OWNER", sel, "")
	second := r.Resolve(identity, "OWNER", sel, "")
	if !reflect.DeepEqual(first, second) {
		t.Errorf("Повторный вызов дал другой результат: %+v != %+v", first, second)
	}
}

// TestResolve_RestrictedPriority — вложенный объект магазина приоритетнее
// числового поля, числовое поле приоритетнее fallback из хранилища.
func TestResolve_RestrictedPriority(t *testing.T) {
	r := newTestResolver()

	identity := &model.Identity{
		ID:      2,
		Roles:   []string{"STAFF"},
		Store:   &model.StoreRecord{ID: 7, Name: "Warehouse A"},
		StoreID: int64ptr(12),
	}
	got := r.Resolve(identity, "STAFF", model.ScopeSelection{}, "99")
	if got.ScopeID != "7" {
		t.Errorf("Вложенный объект должен побеждать: ScopeID = %q, ожидалось \"7\"", got.ScopeID)
	}
	if got.NeedsSelection {
		t.Error("Для RESTRICTED NeedsSelection всегда false")
	}

	identity.Store = nil
	got = r.Resolve(identity, "STAFF", model.ScopeSelection{}, "99")
	if got.ScopeID != "12" {
		t.Errorf("Числовое поле должно побеждать fallback: ScopeID = %q, ожидалось \"12\"", got.ScopeID)
	}

	identity.StoreID = nil
	got = r.Resolve(identity, "STAFF", model.ScopeSelection{}, "99")
	if got.ScopeID != "99" {
		t.Errorf("Без закрепления действует fallback: ScopeID = %q, ожидалось \"99\"", got.ScopeID)
	}
	if got.NeedsSelection {
		t.Error("Для RESTRICTED NeedsSelection всегда false, даже без магазина")
	}
}

// TestResolve_NilIdentity — без identity магазин не определён.
func TestResolve_NilIdentity(t *testing.T) {
	r := newTestResolver()
	got := r.Resolve(nil, "OWNER", model.ScopeSelection{ScopeID: "3"}, "")
	if !got.NeedsSelection || got.ScopeID != "" {
		t.Errorf("Для nil identity ожидался пустой результат с NeedsSelection: %+v", got)
	}
}
