package domain

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork: временная ошибка транспорта, запрос страницы можно повторить.
	ErrNetwork = errors.New("network error")
	// ErrSyncAlreadyRunning: другой запуск уже в состоянии running.
	ErrSyncAlreadyRunning = errors.New("sync already running")
	// ErrRunNotRunning: попытка повторно завершить уже завершённый запуск (ошибка программиста).
	ErrRunNotRunning = errors.New("sync run is not running")
	// ErrRunNotFound возвращается, если запуска с таким идентификатором нет.
	ErrRunNotFound = errors.New("sync run not found")
	// ErrNoSyncHistory: в sync_history нет ни одной записи.
	ErrNoSyncHistory = errors.New("no sync history")
	// ErrOrderNotFound возвращается, если заказ не найден в хранилище.
	ErrOrderNotFound = errors.New("order not found")
	// ErrExternalIDRequired: у заказа нет внешнего идентификатора.
	ErrExternalIDRequired = errors.New("order external id is required")
	// ErrMissingTimestamp: отсутствует обязательная дата создания или изменения.
	ErrMissingTimestamp = errors.New("mandatory order timestamp is missing or invalid")
	// ErrInvalidAmount: денежное поле не удалось разобрать.
	ErrInvalidAmount = errors.New("invalid monetary amount")
)

// FetchError прерывает весь запуск: страницу не удалось получить после всех попыток
// или ответ не разобран.
type FetchError struct {
	Page     int
	Attempts int
	Err      error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("fetch page %d failed after %d attempt(s): %v", e.Page, e.Attempts, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// ParseError относится к одной записи и не прерывает обработку пачки.
type ParseError struct {
	RecordKey string
	Err       error
}

func (e *ParseError) Error() string {
	if e.RecordKey == "" {
		return fmt.Sprintf("parse order: %v", e.Err)
	}
	return fmt.Sprintf("parse order %s: %v", e.RecordKey, e.Err)
}

func (e *ParseError) Unwrap() error { return e.Err }

// StorageError: ошибка хранилища при выполнении операции Op.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error { return e.Err }

// ConfigurationError: некорректная конфигурация, фатально при старте.
type ConfigurationError struct {
	Field  string
	Reason string
}

func (e *ConfigurationError) Error() string {
	return fmt.Sprintf("invalid configuration %s: %s", e.Field, e.Reason)
}

// NewStorageError оборачивает err, не создавая вложенных StorageError.
func NewStorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	var storageErr *StorageError
	if errors.As(err, &storageErr) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsFetchError проверяет, что ошибка фатальна для запуска из-за выборки.
func IsFetchError(err error) bool {
	var fetchErr *FetchError
	return errors.As(err, &fetchErr)
}

// IsStorageError проверяет принадлежность ошибки к хранилищу.
func IsStorageError(err error) bool {
	var storageErr *StorageError
	return errors.As(err, &storageErr)
}
