package chunk

import (
	"strconv"
	"time"
)

// timestampFieldPriority is the order in which front-matter fields are
// tried when deriving a document's content-timestamp (§4.3).
var timestampFieldPriority = []string{
	"last_edited_time",
	"updatedAt",
	"updated_at",
	"last_edited",
	"createdAt",
	"created_at",
	"created_time",
	"date",
	"last-reviewed",
	"ts",
}

// ExtractTimestamp derives a single epoch-ms content-timestamp from
// front-matter, falling back to the file's modification time. It returns
// nil only when no front-matter field parses and mtime is zero.
func ExtractTimestamp(fm FrontMatter, mtime time.Time) *int64 {
	for _, field := range timestampFieldPriority {
		v, ok := fm[field]
		if !ok {
			continue
		}
		if ms, ok := parseTimestampValue(v); ok {
			return &ms
		}
	}

	if mtime.IsZero() {
		return nil
	}
	ms := mtime.UnixMilli()
	return &ms
}

func parseTimestampValue(v any) (int64, bool) {
	switch val := v.(type) {
	case string:
		return parseTimestampString(val)
	case float64:
		return normalizeEpoch(val), true
	case int:
		return normalizeEpoch(float64(val)), true
	default:
		return 0, false
	}
}

func parseTimestampString(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}

	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UnixMilli(), true
	}
	if t, err := time.Parse("2006-01-02T15:04:05", s); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if t, err := time.Parse("2006-01-02", s); err == nil {
		return t.UTC().UnixMilli(), true
	}
	if n, err := strconv.ParseFloat(s, 64); err == nil {
		return normalizeEpoch(n), true
	}
	return 0, false
}

// normalizeEpoch treats values at or below 10^11 as seconds, and larger
// values as already in milliseconds.
func normalizeEpoch(v float64) int64 {
	if v <= 1e11 {
		return int64(v * 1000)
	}
	return int64(v)
}
