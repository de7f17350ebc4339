// Package conversation holds the pure derivations behind the dashboard:
// timestamp resolution, reaction folding, unread counting and the contact
// list aggregation. Nothing in here performs I/O.
package conversation

import (
	"math"
	"sort"
	"strconv"
	"strings"
	"time"

	"chatdesk/server/dashboard/domain"
)

// dateLayouts covers ISO datetimes written by the application and the text
// form of Postgres timestamp/timestamptz columns.
var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999Z0700",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02 15:04:05.999999999Z07:00",
	"2006-01-02 15:04:05.999999999Z07",
	"2006-01-02 15:04:05.999999999",
	"2006-01-02",
}

// ResolveTimestamp returns the instant of m in epoch milliseconds, or 0 when
// no field can be parsed. A numeric timestamp (unix seconds) wins over
// date_time, which wins over created_at.
func ResolveTimestamp(m domain.Message) int64 {
	if ms, ok := parseUnixSeconds(m.Timestamp); ok {
		return ms
	}
	if ms, ok := ParseDate(m.DateTime); ok {
		return ms
	}
	if ms, ok := ParseDate(m.CreatedAt); ok {
		return ms
	}
	return 0
}

func parseUnixSeconds(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return 0, false
	}
	ms := f * 1000
	if ms >= math.MaxInt64 {
		return 0, false
	}
	return int64(ms), true
}

// ParseDate parses an ISO or Postgres datetime into epoch milliseconds.
// Instants before the epoch are rejected.
func ParseDate(v string) (int64, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0, false
	}
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, v)
		if err != nil {
			continue
		}
		ms := t.UnixMilli()
		if ms < 0 {
			return 0, false
		}
		return ms, true
	}
	return 0, false
}

// FormatISO renders ms like JavaScript's Date.toISOString, and "" for 0.
func FormatISO(ms int64) string {
	if ms <= 0 {
		return ""
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02T15:04:05.000Z")
}

// SortByTimestamp orders msgs ascending by resolved timestamp in place.
// Ties keep their input order.
func SortByTimestamp(msgs []domain.Message) {
	keys := make([]int64, len(msgs))
	for i := range msgs {
		keys[i] = ResolveTimestamp(msgs[i])
	}
	sort.Stable(byTimestamp{msgs: msgs, keys: keys})
}

type byTimestamp struct {
	msgs []domain.Message
	keys []int64
}

func (b byTimestamp) Len() int           { return len(b.msgs) }
func (b byTimestamp) Less(i, j int) bool { return b.keys[i] < b.keys[j] }
func (b byTimestamp) Swap(i, j int) {
	b.msgs[i], b.msgs[j] = b.msgs[j], b.msgs[i]
	b.keys[i], b.keys[j] = b.keys[j], b.keys[i]
}

// LatestTimestamp returns the greatest resolved timestamp in msgs.
func LatestTimestamp(msgs []domain.Message) int64 {
	var latest int64
	for _, m := range msgs {
		if ts := ResolveTimestamp(m); ts > latest {
			latest = ts
		}
	}
	return latest
}
