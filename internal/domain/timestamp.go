package domain

import (
	"strings"
	"time"
)

const (
	// TextTimeLayout: формат дат в payload заказов и в конфигурации.
	TextTimeLayout = "2006-01-02 15:04:05"
	// APITimeLayout: формат фильтров OrderCreatedTime/LastUpdatedTime.
	APITimeLayout = "2006-01-02T15:04:05"
)

var timestampLayouts = []string{TextTimeLayout, APITimeLayout}

// ParseTimestamp разбирает дату в одном из двух поддерживаемых форматов.
// Время upstream не содержит зоны и трактуется как UTC.
func ParseTimestamp(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}
	for _, layout := range timestampLayouts {
		if ts, err := time.ParseInLocation(layout, value, time.UTC); err == nil {
			return ts, true
		}
	}
	return time.Time{}, false
}

// FormatAPITime форматирует момент времени для query-параметров API.
func FormatAPITime(ts time.Time) string {
	return ts.UTC().Format(APITimeLayout)
}
