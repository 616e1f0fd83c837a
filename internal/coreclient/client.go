// Пакет coreclient — HTTP-клиент для взаимодействия с core API Farmovo.
// Поддерживает TLS с кастомным CA (FM_CORE_CA_CERT_PATH).
// Авторизация — сквозная: bearer-токен пользователя консоли передаётся
// в каждый запрос как есть, собственных учётных данных у gateway нет.
package coreclient

import (
	"bytes"
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	"github.com/LamVNT/Farmovo-sub002/internal/domain/model"
)

// ErrUnauthorized — core API ответил 401/403 на запрос identity.
// Не ошибка в смысле §обработки ошибок: нормальное состояние «не залогинен».
var ErrUnauthorized = errors.New("сессия отсутствует или истекла")

// identityResponse — ответ core API на GET /api/users/me.
// Сырой JSON сохраняется целиком для сквозных полей.
type identityResponse struct {
	model.Identity
}

// pagedNotifications — ответ core API на списки уведомлений
// (Spring-пагинация: content + totalElements).
type pagedNotifications struct {
	Content       []model.NotificationItem `json:"content"`
	TotalElements int                      `json:"totalElements"`
}

// unreadCountResponse — ответ core API на запрос счётчика непрочитанных.
type unreadCountResponse struct {
	Count int `json:"count"`
}

// Client — HTTP-клиент core API Farmovo.
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *slog.Logger
}

// New создаёт клиент core API.
// baseURL — базовый URL core API без trailing slash.
// caCertPath — путь к CA-сертификату для TLS (пустая строка — стандартный пул).
func New(baseURL, caCertPath string, timeout time.Duration, logger *slog.Logger) (*Client, error) {
	httpClient := &http.Client{Timeout: timeout}

	if caCertPath != "" {
		tlsConfig, err := buildTLSConfig(caCertPath)
		if err != nil {
			return nil, fmt.Errorf("загрузка CA-сертификата core API: %w", err)
		}
		httpClient.Transport = &http.Transport{
			TLSClientConfig: tlsConfig,
		}
		logger.Info("CA-сертификат core API добавлен в пул доверия",
			slog.String("ca_cert", caCertPath),
		)
	}

	return &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger.With(slog.String("component", "core_client")),
	}, nil
}

// buildTLSConfig создаёт TLS-конфигурацию с кастомным CA.
func buildTLSConfig(caCertPath string) (*tls.Config, error) {
	caCert, err := os.ReadFile(caCertPath)
	if err != nil {
		return nil, fmt.Errorf("чтение CA-сертификата: %w", err)
	}

	caCertPool, err := x509.SystemCertPool()
	if err != nil {
		caCertPool = x509.NewCertPool()
	}
	caCertPool.AppendCertsFromPEM(caCert)

	return &tls.Config{
		RootCAs: caCertPool,
	}, nil
}

// do выполняет запрос к core API: метод, путь, bearer-токен, тело (может быть nil).
// Ответ с кодом вне 2xx конвертируется в ошибку с телом ответа.
func (c *Client) do(ctx context.Context, method, path, token string, body any, out any) error {
	var reqBody io.Reader
	if body != nil {
		data, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("сериализация тела запроса %s %s: %w", method, path, err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("создание запроса %s %s: %w", method, path, err)
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("запрос %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden {
		return fmt.Errorf("%s %s: %w", method, path, ErrUnauthorized)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		respBody, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("core API %s %s вернул статус %d: %s", method, path, resp.StatusCode, string(respBody))
	}

	if out != nil {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return fmt.Errorf("декодирование ответа %s %s: %w", method, path, err)
		}
	}
	return nil
}

// CurrentIdentity запрашивает профиль текущего пользователя.
// GET /api/users/me. На 401/403 возвращает ErrUnauthorized.
func (c *Client) CurrentIdentity(ctx context.Context, token string) (*model.Identity, error) {
	var resp identityResponse
	if err := c.do(ctx, http.MethodGet, "/api/users/me", token, nil, &resp); err != nil {
		return nil, err
	}
	return &resp.Identity, nil
}

// Logout завершает серверную сессию пользователя.
// POST /api/auth/logout. Тело ответа не используется.
func (c *Client) Logout(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPost, "/api/auth/logout", token, nil, nil)
}

// ListStores запрашивает список всех магазинов (для выбора магазина
// пользователем с ролью OWNER/ADMIN). GET /api/stores.
func (c *Client) ListStores(ctx context.Context, token string) ([]model.StoreRecord, error) {
	var stores []model.StoreRecord
	if err := c.do(ctx, http.MethodGet, "/api/stores", token, nil, &stores); err != nil {
		return nil, err
	}
	return stores, nil
}

// StoreNotifications запрашивает страницу уведомлений одного магазина.
// GET /api/notifications/store/{id}?page=N&size=M.
func (c *Client) StoreNotifications(ctx context.Context, token string, storeID string, page, size int) ([]model.NotificationItem, error) {
	path := fmt.Sprintf("/api/notifications/store/%s?page=%d&size=%d", storeID, page, size)
	var resp pagedNotifications
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// AllNotifications запрашивает страницу уведомлений всех магазинов.
// GET /api/notifications?page=N&size=M.
func (c *Client) AllNotifications(ctx context.Context, token string, page, size int) ([]model.NotificationItem, error) {
	path := fmt.Sprintf("/api/notifications?page=%d&size=%d", page, size)
	var resp pagedNotifications
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return nil, err
	}
	return resp.Content, nil
}

// StoreUnreadCount запрашивает количество непрочитанных уведомлений магазина.
// GET /api/notifications/store/{id}/unread-count.
func (c *Client) StoreUnreadCount(ctx context.Context, token string, storeID string) (int, error) {
	path := fmt.Sprintf("/api/notifications/store/%s/unread-count", storeID)
	var resp unreadCountResponse
	if err := c.do(ctx, http.MethodGet, path, token, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// AllUnreadCount запрашивает количество непрочитанных по всем магазинам.
// GET /api/notifications/unread-count.
func (c *Client) AllUnreadCount(ctx context.Context, token string) (int, error) {
	var resp unreadCountResponse
	if err := c.do(ctx, http.MethodGet, "/api/notifications/unread-count", token, nil, &resp); err != nil {
		return 0, err
	}
	return resp.Count, nil
}

// MarkRead помечает одно уведомление прочитанным.
// PUT /api/notifications/{id}/read.
func (c *Client) MarkRead(ctx context.Context, token string, id int64) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/notifications/%d/read", id), token, nil, nil)
}

// MarkAllReadByStore помечает прочитанными все уведомления магазина.
// PUT /api/notifications/store/{id}/read-all.
func (c *Client) MarkAllReadByStore(ctx context.Context, token string, storeID string) error {
	return c.do(ctx, http.MethodPut, fmt.Sprintf("/api/notifications/store/%s/read-all", storeID), token, nil, nil)
}

// MarkAllRead помечает прочитанными уведомления всех магазинов.
// PUT /api/notifications/read-all.
func (c *Client) MarkAllRead(ctx context.Context, token string) error {
	return c.do(ctx, http.MethodPut, "/api/notifications/read-all", token, nil, nil)
}

// DeleteStoreNotifications удаляет все уведомления магазина.
// DELETE /api/notifications/store/{id}.
func (c *Client) DeleteStoreNotifications(ctx context.Context, token string, storeID string) error {
	return c.do(ctx, http.MethodDelete, fmt.Sprintf("/api/notifications/store/%s", storeID), token, nil, nil)
}

// CreateNotification создаёт уведомление о доменном событии.
// POST /api/notifications.
func (c *Client) CreateNotification(ctx context.Context, token string, event *model.NotificationEvent) error {
	return c.do(ctx, http.MethodPost, "/api/notifications", token, event, nil)
}
