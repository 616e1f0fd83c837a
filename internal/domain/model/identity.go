// Пакет model — доменные модели Session Gateway.
package model

import (
	"encoding/json"
	"strconv"
)

// Identity — аутентифицированный пользователь консоли Farmovo.
// Формируется из ответа core API (GET /api/users/me), не хранится в БД —
// в client_state сохраняется только JSON-снимок для восстановления между запусками.
type Identity struct {
	// ID — идентификатор пользователя в core API
	ID int64 `json:"id"`
	// Username — имя учётной записи
	Username string `json:"username"`
	// FullName — отображаемое имя
	FullName string `json:"fullName,omitempty"`
	// Email — адрес электронной почты
	Email string `json:"email,omitempty"`
	// Roles — роли пользователя в «сыром» виде, как их отдал сервер
	// (возможны варианты "OWNER", "ROLE_OWNER", "owner" — канонизация в domain/roles)
	Roles []string `json:"roles"`
	// Store — магазин, жёстко закреплённый за пользователем (для STAFF).
	// nil — закрепления нет.
	Store *StoreRecord `json:"store,omitempty"`
	// StoreID — числовой идентификатор закреплённого магазина.
	// Запасной вариант, когда сервер не вложил полный объект магазина.
	StoreID *int64 `json:"storeId,omitempty"`
	// Raw — прочие поля ответа сервера, пропускаемые без интерпретации
	Raw json.RawMessage `json:"-"`
}

// StoreRecord — организационная единица (магазин/склад), к которой
// привязываются операции. Роль scope в терминах авторизации.
type StoreRecord struct {
	// ID — идентификатор магазина в core API
	ID int64 `json:"id"`
	// Name — отображаемое имя магазина
	Name string `json:"storeName"`
	// Address — адрес (опционально)
	Address string `json:"storeAddress,omitempty"`
}

// ScopeSelection — текущий явный выбор магазина (для ролей OWNER/ADMIN).
// Инвариант публичного API: ScopeID == "" <=> Record == nil.
// Единственное допустимое исключение — холодная загрузка с повреждённым
// JSON записи: тогда Record == nil при непустом ScopeID и Orphaned == true.
type ScopeSelection struct {
	// ScopeID — строковый идентификатор выбранного магазина ("" — не выбран)
	ScopeID string `json:"scopeId,omitempty"`
	// Record — полная запись выбранного магазина (nil — не выбран)
	Record *StoreRecord `json:"record,omitempty"`
	// Orphaned — признак нарушенного инварианта после холодной загрузки:
	// идентификатор восстановлен, а запись не распарсилась
	Orphaned bool `json:"orphaned,omitempty"`
}

// ResolvedScope — магазин, фактически действующий для пользователя
// после применения ролевых правил. Производное значение, не хранится.
type ResolvedScope struct {
	// ScopeID — строковый идентификатор действующего магазина ("" — не определён)
	ScopeID string `json:"scopeId,omitempty"`
	// Record — запись действующего магазина (nil — не определён)
	Record *StoreRecord `json:"record,omitempty"`
	// NeedsSelection — пользователь обязан выбрать магазин явно
	NeedsSelection bool `json:"needsSelection"`
}

// FixedScopeID возвращает идентификатор магазина, закреплённого за identity,
// в порядке приоритета: вложенный объект магазина → числовое поле StoreID.
// Пустая строка — закрепления в самой identity нет (останется fallback из хранилища).
func (i *Identity) FixedScopeID() string {
	if i.Store != nil && i.Store.ID != 0 {
		return strconv.FormatInt(i.Store.ID, 10)
	}
	if i.StoreID != nil {
		return strconv.FormatInt(*i.StoreID, 10)
	}
	return ""
}
