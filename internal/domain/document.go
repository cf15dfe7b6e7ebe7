package domain

import (
	"bytes"
	"encoding/json"
)

// DocumentFormat помечает формат сохранённого исходного документа.
type DocumentFormat string

// DocumentFormatJSON: тело документа является JSON-текстом.
const DocumentFormatJSON DocumentFormat = "json"

// RawDocument хранит исходный payload без изменений вместе с меткой формата.
// Типизированные поля извлекаются парсером отдельно, сам документ не интерпретируется.
type RawDocument struct {
	Format DocumentFormat
	Body   json.RawMessage
}

// NewJSONDocument копирует тело, чтобы документ не зависел от буфера вызывающего.
func NewJSONDocument(body []byte) RawDocument {
	cp := make([]byte, len(body))
	copy(cp, body)
	return RawDocument{Format: DocumentFormatJSON, Body: cp}
}

// IsZero сообщает, что документ пуст.
func (d RawDocument) IsZero() bool {
	return len(bytes.TrimSpace(d.Body)) == 0
}

// Lookup возвращает значение ключа верхнего уровня, если тело является JSON-объектом.
func (d RawDocument) Lookup(key string) (json.RawMessage, bool) {
	if d.Format != DocumentFormatJSON || d.IsZero() {
		return nil, false
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(d.Body, &fields); err != nil {
		return nil, false
	}
	value, ok := fields[key]
	return value, ok
}

// String возвращает тело документа как есть.
func (d RawDocument) String() string {
	return string(d.Body)
}
