package onesaas

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

const (
	// DefaultRequestTimeout: таймаут одного HTTP-запроса.
	DefaultRequestTimeout = 30 * time.Second

	// maxResponseBytes ограничивает размер тела одной страницы.
	maxResponseBytes = 64 << 20
)

// Transport выполняет один GET-запрос и возвращает тело ответа.
// Любая ошибка соединения или статус не 2xx должны оборачивать domain.ErrNetwork.
type Transport interface {
	Fetch(ctx context.Context, rawURL string) ([]byte, error)
}

// HTTPTransport: реализация Transport поверх net/http.
type HTTPTransport struct {
	client  *http.Client
	timeout time.Duration
}

// NewHTTPTransport создаёт транспорт с таймаутом на каждый запрос.
func NewHTTPTransport(timeout time.Duration, client *http.Client) *HTTPTransport {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPTransport{client: client, timeout: timeout}
}

// Fetch выполняет GET и читает тело ответа целиком.
func (t *HTTPTransport) Fetch(ctx context.Context, rawURL string) ([]byte, error) {
	if t.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.timeout)
		defer cancel()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := t.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrNetwork, err)
	}
	defer func() { _ = resp.Body.Close() }()

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return nil, fmt.Errorf("%w: read body: %v", domain.ErrNetwork, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%w: unexpected status %d", domain.ErrNetwork, resp.StatusCode)
	}
	return body, nil
}
