package onesaas

import (
	"context"
	"errors"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/ordersync/internal/domain"
)

// RetryConfig конфигурация повторов запроса одной страницы.
type RetryConfig struct {
	MaxAttempts int
	Delay       time.Duration
}

// DefaultRetryConfig возвращает конфигурацию по умолчанию.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts: 3,
		Delay:       30 * time.Second,
	}
}

func (c RetryConfig) normalized() RetryConfig {
	if c.MaxAttempts < 1 {
		c.MaxAttempts = 1
	}
	if c.Delay < 0 {
		c.Delay = 0
	}
	return c
}

// sleepContext ждёт delay или отмены контекста.
func sleepContext(ctx context.Context, delay time.Duration) error {
	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// shouldRetry повторяем только транспортные ошибки.
func shouldRetry(err error) bool {
	return errors.Is(err, domain.ErrNetwork)
}

// fetchWithRetry запрашивает страницу с фиксированной задержкой между попытками.
// Возвращает тело, число сделанных попыток и последнюю ошибку.
func (c *Client) fetchWithRetry(ctx context.Context, page int, rawURL string) ([]byte, int, error) {
	cfg := c.retry.normalized()
	var lastErr error

	for attempt := 1; attempt <= cfg.MaxAttempts; attempt++ {
		body, err := c.transport.Fetch(ctx, rawURL)
		if err == nil {
			c.recordAttempt("ok")
			if attempt > 1 {
				c.logger.WithFields(log.Fields{
					"page":    page,
					"attempt": attempt,
				}).Info("Page fetched after retry")
			}
			return body, attempt, nil
		}

		lastErr = err
		if !shouldRetry(err) {
			c.recordAttempt("error")
			c.logger.WithError(err).WithField("page", page).Warn("Page fetch failed with non-retryable error")
			return nil, attempt, err
		}

		if attempt == cfg.MaxAttempts {
			c.recordAttempt("error")
			break
		}

		c.recordAttempt("retry")
		c.logger.WithError(err).WithFields(log.Fields{
			"page":         page,
			"attempt":      attempt,
			"max_attempts": cfg.MaxAttempts,
			"delay":        cfg.Delay,
		}).Warn("Page fetch failed, retrying")

		if err := c.sleep(ctx, cfg.Delay); err != nil {
			return nil, attempt, err
		}
	}

	c.logger.WithError(lastErr).WithFields(log.Fields{
		"page":         page,
		"max_attempts": cfg.MaxAttempts,
	}).Error("Page fetch failed after all retry attempts")
	return nil, cfg.MaxAttempts, lastErr
}
