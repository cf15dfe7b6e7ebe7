package onesaas

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
	"github.com/vladislavdragonenkov/ordersync/internal/metrics"
)

const (
	// DefaultAction: значение параметра Action для выгрузки заказов.
	DefaultAction = "Orders"
	// DefaultPageSize: размер страницы по умолчанию.
	DefaultPageSize = 50

	versionKey = "OneSaas Version"

	paramAccessKey       = "AccessKey"
	paramAction          = "Action"
	paramPageSize        = "PageSize"
	paramPage            = "Page"
	paramOrderCreated    = "OrderCreatedTime"
	paramLastUpdatedTime = "LastUpdatedTime"
)

// pingSince: фиксированная дата фильтра для проверки соединения.
var pingSince = time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)

// Config параметры клиента upstream API.
type Config struct {
	BaseURL        string
	AccessKey      string
	Action         string
	PageSize       int
	RequestTimeout time.Duration
	Retry          RetryConfig
}

// Client обходит страницы OneSaas API и собирает исходные записи заказов.
type Client struct {
	baseURL   *url.URL
	accessKey string
	action    string
	pageSize  int
	retry     RetryConfig
	transport Transport
	logger    *log.Entry
	metrics   *metrics.SyncMetrics
	sleep     func(ctx context.Context, delay time.Duration) error
}

// Option настраивает Client.
type Option func(*Client)

// WithTransport подменяет транспорт (используется в тестах).
func WithTransport(transport Transport) Option {
	return func(c *Client) {
		if transport != nil {
			c.transport = transport
		}
	}
}

// WithLogger задаёт логгер клиента.
func WithLogger(logger *log.Entry) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics включает метрики запросов.
func WithMetrics(m *metrics.SyncMetrics) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

// WithSleep подменяет ожидание между повторами.
func WithSleep(sleep func(ctx context.Context, delay time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// NewClient создаёт клиента. Ошибка конфигурации возвращается как *domain.ConfigurationError.
func NewClient(cfg Config, opts ...Option) (*Client, error) {
	if strings.TrimSpace(cfg.BaseURL) == "" {
		return nil, &domain.ConfigurationError{Field: "api.base_url", Reason: "must not be empty"}
	}
	base, err := url.Parse(cfg.BaseURL)
	if err != nil || base.Scheme == "" || base.Host == "" {
		return nil, &domain.ConfigurationError{Field: "api.base_url", Reason: fmt.Sprintf("invalid url %q", cfg.BaseURL)}
	}
	if cfg.PageSize <= 0 {
		cfg.PageSize = DefaultPageSize
	}
	if cfg.Action == "" {
		cfg.Action = DefaultAction
	}

	c := &Client{
		baseURL:   base,
		accessKey: cfg.AccessKey,
		action:    cfg.Action,
		pageSize:  cfg.PageSize,
		retry:     cfg.Retry,
		transport: NewHTTPTransport(cfg.RequestTimeout, nil),
		logger:    log.New().WithField("component", "onesaas-client"),
		sleep:     sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c, nil
}

// page: конверт одной страницы ответа.
type page struct {
	Version json.RawMessage `json:"OneSaas Version"`
	Orders  json.RawMessage `json:"Orders"`
}

// FetchOrders проходит по всем страницам, пока последняя страница заполнена целиком.
// Ошибка всегда *domain.FetchError и означает, что результат запуска использовать нельзя.
func (c *Client) FetchOrders(ctx context.Context, filter domain.FetchFilter) (domain.FetchResult, error) {
	if !filter.Mode.Valid() {
		return domain.FetchResult{}, &domain.FetchError{Page: 0, Err: fmt.Errorf("unsupported sync mode %q", filter.Mode)}
	}

	var result domain.FetchResult
	logger := c.logger.WithFields(log.Fields{
		"mode":  filter.Mode,
		"since": domain.FormatAPITime(filter.Since),
	})

	for pageNo := 0; ; pageNo++ {
		rawURL := c.pageURL(filter, pageNo, c.pageSize)
		body, attempts, err := c.fetchWithRetry(ctx, pageNo, rawURL)
		if err != nil {
			return domain.FetchResult{}, &domain.FetchError{Page: pageNo, Attempts: attempts, Err: err}
		}
		result.Pages++

		version, orders, present, err := decodePage(body)
		if err != nil {
			return domain.FetchResult{}, &domain.FetchError{Page: pageNo, Attempts: attempts, Err: err}
		}
		if pageNo == 0 {
			result.APIVersion = version
		}

		for _, raw := range orders {
			result.Orders = append(result.Orders, domain.NewJSONDocument(raw))
		}

		logger.WithFields(log.Fields{
			"page":   pageNo,
			"orders": len(orders),
		}).Debug("Fetched orders page")

		if !present || len(orders) < c.pageSize {
			break
		}
	}

	if c.metrics != nil {
		c.metrics.RecordOrdersFetched(len(result.Orders))
	}
	logger.WithFields(log.Fields{
		"orders":      len(result.Orders),
		"pages":       result.Pages,
		"api_version": result.APIVersion,
	}).Info("Completed fetching orders")
	return result, nil
}

// Ping проверяет доступность API одним запросом и возвращает версию коннектора.
func (c *Client) Ping(ctx context.Context) (string, error) {
	rawURL := c.pageURL(domain.FetchFilter{Mode: domain.SyncModeInitial, Since: pingSince}, 0, 1)
	body, err := c.transport.Fetch(ctx, rawURL)
	if err != nil {
		return "", err
	}
	version, _, _, err := decodePage(body)
	if err != nil {
		return "", err
	}
	if version == "" {
		return "", fmt.Errorf("%w: response has no %q tag", domain.ErrNetwork, versionKey)
	}
	return version, nil
}

func (c *Client) pageURL(filter domain.FetchFilter, pageNo, pageSize int) string {
	params := url.Values{}
	params.Set(paramAccessKey, c.accessKey)
	params.Set(paramAction, c.action)
	params.Set(paramPageSize, strconv.Itoa(pageSize))
	params.Set(paramPage, strconv.Itoa(pageNo))

	since := domain.FormatAPITime(filter.Since)
	switch filter.Mode {
	case domain.SyncModeIncremental:
		params.Set(paramLastUpdatedTime, since)
	default:
		params.Set(paramOrderCreated, since)
	}

	u := *c.baseURL
	query := u.Query()
	for key, values := range params {
		query[key] = values
	}
	u.RawQuery = query.Encode()
	return u.String()
}

func (c *Client) recordAttempt(result string) {
	if c.metrics != nil {
		c.metrics.RecordFetchAttempt(result)
	}
}

// decodePage разбирает конверт страницы. present=false, если массива Orders нет.
func decodePage(body []byte) (version string, orders []json.RawMessage, present bool, err error) {
	var envelope page
	if err := json.Unmarshal(body, &envelope); err != nil {
		return "", nil, false, fmt.Errorf("decode response: %w", err)
	}

	version = decodeVersion(envelope.Version)

	trimmed := bytes.TrimSpace(envelope.Orders)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return version, nil, false, nil
	}
	if err := json.Unmarshal(trimmed, &orders); err != nil {
		return "", nil, false, fmt.Errorf("decode orders: %w", err)
	}
	return version, orders, true, nil
}

func decodeVersion(raw json.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var s string
	if err := json.Unmarshal(raw, &s); err == nil {
		return s
	}
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		return n.String()
	}
	return ""
}
