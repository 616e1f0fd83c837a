// Пакет roles — канонизация ролей и вычисление набора привилегий.
// Сервер отдаёт роли в разнобой: "OWNER", "ROLE_OWNER", "owner" — все три
// формы обозначают одну роль. Канонизация приводит любую форму к набору
// эквивалентных написаний, проверки выполняются по пересечению наборов.
package roles

import (
	"sort"
	"strings"
)

// Префикс ролей в стиле Spring Security.
const rolePrefix = "ROLE_"

// Классы ролей по отношению к выбору магазина.
const (
	// ClassElevated — роль, свободно выбирающая рабочий магазин (OWNER, ADMIN).
	ClassElevated = "ELEVATED"
	// ClassRestricted — роль, жёстко привязанная к одному магазину (STAFF).
	ClassRestricted = "RESTRICTED"
	// ClassUnknown — роль вне известных наборов.
	ClassUnknown = "UNKNOWN"
)

// Expand возвращает каноническое расширение «сырой» строки роли:
// {UPPER(r), UPPER(r) без префикса ROLE_, ROLE_ + UPPER(r) без префикса}.
// Расширение идемпотентно: Expand любого элемента результата даёт тот же набор.
func Expand(raw string) []string {
	upper := strings.ToUpper(strings.TrimSpace(raw))
	if upper == "" {
		return nil
	}
	stripped := strings.TrimPrefix(upper, rolePrefix)

	seen := make(map[string]bool, 3)
	var out []string
	for _, v := range []string{upper, stripped, rolePrefix + stripped} {
		if !seen[v] {
			seen[v] = true
			out = append(out, v)
		}
	}
	return out
}

// PermissionSet — канонизированный набор привилегий identity:
// объединение расширений всех её ролей.
type PermissionSet map[string]bool

// NewPermissionSet строит PermissionSet из «сырых» ролей сервера.
func NewPermissionSet(rawRoles []string) PermissionSet {
	ps := make(PermissionSet)
	for _, r := range rawRoles {
		for _, v := range Expand(r) {
			ps[v] = true
		}
	}
	return ps
}

// Has проверяет наличие роли: истина, если каноническое расширение role
// пересекается с набором.
func (ps PermissionSet) Has(role string) bool {
	for _, v := range Expand(role) {
		if ps[v] {
			return true
		}
	}
	return false
}

// HasAny проверяет наличие хотя бы одной из указанных ролей.
func (ps PermissionSet) HasAny(roles ...string) bool {
	for _, r := range roles {
		if ps.Has(r) {
			return true
		}
	}
	return false
}

// HasAll проверяет наличие всех указанных ролей.
// Пустой список — истина.
func (ps PermissionSet) HasAll(roles ...string) bool {
	for _, r := range roles {
		if !ps.Has(r) {
			return false
		}
	}
	return true
}

// Values возвращает лексикографически отсортированный список канонических
// форм. Порядок фиксирован, чтобы снимок identity в client_state
// сериализовался детерминированно.
func (ps PermissionSet) Values() []string {
	out := make([]string, 0, len(ps))
	for v := range ps {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

// Classify определяет класс роли roleHint относительно настроенных наборов
// elevated и restricted. Сравнение — по каноническим расширениям, поэтому
// "staff", "STAFF" и "ROLE_STAFF" дают одинаковый результат.
func Classify(roleHint string, elevated, restricted []string) string {
	hint := NewPermissionSet([]string{roleHint})
	if len(hint) == 0 {
		return ClassUnknown
	}
	for _, r := range elevated {
		if hint.Has(r) {
			return ClassElevated
		}
	}
	for _, r := range restricted {
		if hint.Has(r) {
			return ClassRestricted
		}
	}
	return ClassUnknown
}
