package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/exp/slog"

	"fieldsync/internal/app/client/config"
	syncapi "fieldsync/internal/app/server/api/http/sync"
)

// HTTPClient транспорт до сервера синхронизации. Использует те же
// DTO, что и серверный API, поэтому форматы не могут разойтись.
type HTTPClient struct {
	client  *http.Client
	baseURL string
	token   string
	log     *slog.Logger
}

func NewHTTPClient(cfg *config.Config, log *slog.Logger) *HTTPClient {
	transport := &http.Transport{
		MaxIdleConns:        100,
		IdleConnTimeout:     90 * time.Second,
		MaxIdleConnsPerHost: 10,
	}

	return &HTTPClient{
		client: &http.Client{
			Timeout:   cfg.RequestTimeout,
			Transport: transport,
		},
		baseURL: cfg.ServerAddress,
		log:     log.With(slog.String("component", "http_client")),
	}
}

// SetToken устанавливает bearer-токен для последующих запросов
func (c *HTTPClient) SetToken(token string) {
	c.token = token
}

// HealthCheck проверяет доступность сервера
func (c *HTTPClient) HealthCheck(ctx context.Context) error {
	body, status, err := c.doRequest(ctx, http.MethodGet, "/health", nil)
	if err != nil {
		return err
	}
	if status != http.StatusOK {
		return fmt.Errorf("health check failed: status %d, body %s", status, body)
	}
	return nil
}

// SubmitBatch ставит пакет локальных изменений в очередь на сервере
func (c *HTTPClient) SubmitBatch(ctx context.Context, req syncapi.SubmitBatchRequest) (*syncapi.SubmitBatchResponse, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync/batch", req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusAccepted {
		return nil, c.apiError("submit batch", status, body)
	}

	var resp syncapi.SubmitBatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode submit batch response: %w", err)
	}
	return &resp, nil
}

// GetBatch возвращает состояние пакета
func (c *HTTPClient) GetBatch(ctx context.Context, batchID string) (*syncapi.GetBatchResponse, error) {
	body, status, err := c.doRequest(ctx, http.MethodGet, "/api/v1/sync/batch/"+batchID, nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError("get batch", status, body)
	}

	var resp syncapi.GetBatchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode batch response: %w", err)
	}
	return &resp, nil
}

// GetChanges запрашивает изменения после отметки времени
func (c *HTTPClient) GetChanges(ctx context.Context, req syncapi.GetChangesRequest) (*syncapi.GetChangesResponse, error) {
	body, status, err := c.doRequest(ctx, http.MethodPost, "/api/v1/sync/changes", req)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError("get changes", status, body)
	}

	var resp syncapi.GetChangesResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode changes response: %w", err)
	}
	return &resp, nil
}

// GetStatus возвращает статус и статистику синхронизации пользователя
func (c *HTTPClient) GetStatus(ctx context.Context) (*syncapi.GetStatusResponse, error) {
	body, status, err := c.doRequest(ctx, http.MethodGet, "/api/v1/sync/status", nil)
	if err != nil {
		return nil, err
	}
	if status != http.StatusOK {
		return nil, c.apiError("get status", status, body)
	}

	var resp syncapi.GetStatusResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return nil, fmt.Errorf("decode status response: %w", err)
	}
	return &resp, nil
}

func (c *HTTPClient) doRequest(ctx context.Context, method, path string, payload any) ([]byte, int, error) {
	var reqBody io.Reader
	if payload != nil {
		data, err := json.Marshal(payload)
		if err != nil {
			return nil, 0, fmt.Errorf("marshal request: %w", err)
		}
		reqBody = bytes.NewReader(data)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return nil, 0, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if c.token != "" {
		req.Header.Set("Authorization", "Bearer "+c.token)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		return nil, 0, fmt.Errorf("request %s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, resp.StatusCode, fmt.Errorf("read response body: %w", err)
	}

	c.log.Debug("request completed",
		slog.String("method", method),
		slog.String("path", path),
		slog.Int("status", resp.StatusCode),
	)
	return body, resp.StatusCode, nil
}

func (c *HTTPClient) apiError(op string, status int, body []byte) error {
	if status == http.StatusUnauthorized {
		return fmt.Errorf("%s: %w", op, ErrNotAuthenticated)
	}

	var apiErr struct {
		Title  string `json:"title"`
		Detail string `json:"detail"`
		Error  string `json:"error"`
	}
	if err := json.Unmarshal(body, &apiErr); err == nil {
		switch {
		case apiErr.Detail != "":
			return fmt.Errorf("%s: status %d: %s", op, status, apiErr.Detail)
		case apiErr.Error != "":
			return fmt.Errorf("%s: status %d: %s", op, status, apiErr.Error)
		}
	}
	return fmt.Errorf("%s: unexpected status %d", op, status)
}
