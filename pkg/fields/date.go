package fields

import (
	"strings"
	"time"
)

// DateLayout is the normalized layout of stored DATE values.
const DateLayout = "01/02/2006"

var dateLayouts = []string{
	DateLayout,
	time.DateOnly,
	time.RFC3339,
	"2006-01-02T15:04:05",
}

// ParseDate parses a stored or raw date value into a calendar date in UTC.
func ParseDate(value string) (time.Time, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return time.Time{}, false
	}

	for _, layout := range dateLayouts {
		parsed, err := time.Parse(layout, value)
		if err == nil {
			year, month, day := parsed.Date()

			return time.Date(year, month, day, 0, 0, 0, 0, time.UTC), true
		}
	}

	return time.Time{}, false
}

// FormatDate renders a date in the stored layout.
func FormatDate(date time.Time) string {
	return date.Format(DateLayout)
}
