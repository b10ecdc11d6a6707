package usage

import (
	"time"
)

// The upstream payload is undocumented and drifts. Each logical value
// is read through an ordered chain of named extractors; the first one
// that yields a value wins, and a computed fallback applies when none
// do. Extractors return (zero, false) instead of failing.

// dig walks nested maps/slices by key, treating numeric-looking keys
// as slice indexes.
func dig(doc map[string]any, path ...string) (any, bool) {
	var cur any = doc
	for _, key := range path {
		switch node := cur.(type) {
		case map[string]any:
			next, ok := node[key]
			if !ok {
				return nil, false
			}
			cur = next
		case []any:
			if key != "0" || len(node) == 0 {
				return nil, false
			}
			cur = node[0]
		default:
			return nil, false
		}
	}
	return cur, true
}

func digFloat(doc map[string]any, path ...string) (float64, bool) {
	v, ok := dig(doc, path...)
	if !ok {
		return 0, false
	}
	f, ok := v.(float64)
	return f, ok
}

func digString(doc map[string]any, path ...string) (string, bool) {
	v, ok := dig(doc, path...)
	if !ok {
		return "", false
	}
	s, ok := v.(string)
	if !ok || s == "" {
		return "", false
	}
	return s, true
}

// percentExtractor yields a 0-100 utilization value from a document.
type percentExtractor struct {
	name string
	fn   func(rateLimits, bootstrap map[string]any) (float64, bool)
}

// sessionPercentExtractors is the fallback chain for the five-hour
// window utilization.
var sessionPercentExtractors = []percentExtractor{
	{"five_hour.utilization", func(rl, _ map[string]any) (float64, bool) {
		return digFloat(rl, "five_hour", "utilization")
	}},
	{"session.utilization", func(rl, _ map[string]any) (float64, bool) {
		return digFloat(rl, "session", "utilization")
	}},
	{"five_hour.remaining+tier", func(rl, bs map[string]any) (float64, bool) {
		return percentFromRemaining(rl, bs, "five_hour")
	}},
}

// weeklyPercentExtractors is the fallback chain for the seven-day
// window utilization.
var weeklyPercentExtractors = []percentExtractor{
	{"seven_day.utilization", func(rl, _ map[string]any) (float64, bool) {
		return digFloat(rl, "seven_day", "utilization")
	}},
	{"weekly.utilization", func(rl, _ map[string]any) (float64, bool) {
		return digFloat(rl, "weekly", "utilization")
	}},
	{"seven_day.remaining+tier", func(rl, bs map[string]any) (float64, bool) {
		return percentFromRemaining(rl, bs, "seven_day")
	}},
}

// percentFromRemaining derives a percentage from a remaining-count
// field and the static tier limit table.
func percentFromRemaining(rl, bs map[string]any, bucket string) (float64, bool) {
	remaining, ok := digFloat(rl, bucket, "remaining")
	if !ok {
		remaining, ok = digFloat(rl, bucket, "messages_remaining")
	}
	if !ok {
		return 0, false
	}

	tier := extractTier(bs, rl)
	window := windowTypeForBucket(bucket)
	limit := float64(limitFor(tier, window))
	if limit <= 0 {
		return 0, false
	}
	return (limit - remaining) / limit * 100, true
}

// resetExtractor yields a reset timestamp from a document.
type resetExtractor struct {
	name string
	fn   func(rateLimits map[string]any) (time.Time, bool)
}

func isoTimeAt(doc map[string]any, path ...string) (time.Time, bool) {
	s, ok := digString(doc, path...)
	if !ok {
		return time.Time{}, false
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return time.Time{}, false
	}
	return t.UTC(), true
}

var sessionResetExtractors = []resetExtractor{
	{"five_hour.resets_at", func(rl map[string]any) (time.Time, bool) {
		return isoTimeAt(rl, "five_hour", "resets_at")
	}},
	{"five_hour.reset_at", func(rl map[string]any) (time.Time, bool) {
		return isoTimeAt(rl, "five_hour", "reset_at")
	}},
	{"session.resets_at", func(rl map[string]any) (time.Time, bool) {
		return isoTimeAt(rl, "session", "resets_at")
	}},
}

var weeklyResetExtractors = []resetExtractor{
	{"seven_day.resets_at", func(rl map[string]any) (time.Time, bool) {
		return isoTimeAt(rl, "seven_day", "resets_at")
	}},
	{"seven_day.reset_at", func(rl map[string]any) (time.Time, bool) {
		return isoTimeAt(rl, "seven_day", "reset_at")
	}},
	{"weekly.resets_at", func(rl map[string]any) (time.Time, bool) {
		return isoTimeAt(rl, "weekly", "resets_at")
	}},
}

// tierLabelPaths are tried in order against the bootstrap then the
// rate-limit document for a tier signal.
var tierLabelPaths = [][]string{
	{"account", "memberships", "0", "organization", "rate_limit_tier"},
	{"account", "memberships", "0", "organization", "plan"},
	{"rate_limit_tier"},
	{"organization", "rate_limit_tier"},
	{"plan"},
	{"subscription", "plan"},
}
