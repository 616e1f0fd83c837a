package model

import "time"

// NotificationType — тип уведомления (серьёзность).
type NotificationType string

const (
	NotificationSuccess NotificationType = "SUCCESS"
	NotificationError   NotificationType = "ERROR"
	NotificationWarning NotificationType = "WARNING"
	NotificationInfo    NotificationType = "INFO"
)

// NotificationCategory — категория уведомления по типу бизнес-объекта.
type NotificationCategory string

const (
	CategoryTransaction NotificationCategory = "TRANSACTION"
	CategoryProduct     NotificationCategory = "PRODUCT"
	CategoryCustomer    NotificationCategory = "CUSTOMER"
	CategoryCategory    NotificationCategory = "CATEGORY"
	CategoryZone        NotificationCategory = "ZONE"
	CategoryStocktake   NotificationCategory = "STOCKTAKE"
	CategoryGeneral     NotificationCategory = "GENERAL"
)

// NotificationItem — уведомление из core API.
// Жизненный цикл: создание (на сервере) → прочтение (markRead/markAllRead,
// односторонний переход) → удаление (только массовое, clearAll).
type NotificationItem struct {
	// ID — идентификатор уведомления в core API
	ID int64 `json:"id"`
	// Title — заголовок
	Title string `json:"title"`
	// Message — текст уведомления
	Message string `json:"message"`
	// Type — тип (SUCCESS, ERROR, WARNING, INFO)
	Type NotificationType `json:"type"`
	// Category — категория бизнес-объекта
	Category NotificationCategory `json:"category"`
	// Read — прочитано ли уведомление
	Read bool `json:"read"`
	// StoreID — магазин, к которому относится уведомление
	StoreID *int64 `json:"storeId,omitempty"`
	// CreatedAt — время создания
	CreatedAt time.Time `json:"createdAt"`
}

// NotificationEvent — полезная нагрузка для создания уведомления
// о доменном событии (POST /api/notifications).
type NotificationEvent struct {
	// Category — категория бизнес-объекта
	Category NotificationCategory `json:"category"`
	// Type — тип уведомления
	Type NotificationType `json:"type"`
	// Action — что произошло ("created", "updated", "deleted", "completed", ...)
	Action string `json:"action"`
	// SubjectName — имя бизнес-объекта (название товара, номер накладной и т.п.)
	SubjectName string `json:"subjectName"`
	// StoreID — магазин, в контексте которого произошло событие
	StoreID int64 `json:"storeId"`
	// ActorID — пользователь, выполнивший действие
	ActorID int64 `json:"actorId"`
	// NewStatus — новый статус объекта (опционально, для смены статусов)
	NewStatus string `json:"newStatus,omitempty"`
}
