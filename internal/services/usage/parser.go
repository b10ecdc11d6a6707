package usage

import (
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

const (
	sessionWindow = 5 * time.Hour

	// Weekly quotas roll over on Sunday at this UTC hour.
	weeklyResetHour = 0
)

// Parse normalizes the upstream bootstrap and rate-limit documents into
// a canonical snapshot. It never fails: missing or malformed fields
// degrade to computed fallbacks, with unknown tier and 0% usage as the
// final resort, so downstream always sees a well-formed value.
func Parse(bootstrap, rateLimits map[string]any, now time.Time) models.UsageSnapshot {
	if bootstrap == nil {
		bootstrap = map[string]any{}
	}
	if rateLimits == nil {
		rateLimits = map[string]any{}
	}

	tier := extractTier(bootstrap, rateLimits)

	snap := models.UsageSnapshot{
		LastUpdated: now,
		Tier:        tier,
		Session: buildWindow(models.WindowSession, tier,
			extractPercent(sessionPercentExtractors, rateLimits, bootstrap),
			extractReset(sessionResetExtractors, rateLimits, models.WindowSession, now)),
		Weekly: buildWindow(models.WindowWeekly, tier,
			extractPercent(weeklyPercentExtractors, rateLimits, bootstrap),
			extractReset(weeklyResetExtractors, rateLimits, models.WindowWeekly, now)),
	}

	snap.ModelUsage = extractModelUsage(rateLimits)
	return snap
}

// extractPercent runs the chain and clamps the winner to [0,100].
func extractPercent(chain []percentExtractor, rateLimits, bootstrap map[string]any) float64 {
	for _, ex := range chain {
		if v, ok := ex.fn(rateLimits, bootstrap); ok {
			return clampPercent(v)
		}
	}
	return 0
}

// extractReset runs the chain, falling back to the deterministic window
// boundary when nothing upstream parses.
func extractReset(chain []resetExtractor, rateLimits map[string]any, window models.WindowType, now time.Time) time.Time {
	for _, ex := range chain {
		if t, ok := ex.fn(rateLimits); ok {
			return t
		}
	}
	if window == models.WindowWeekly {
		return nextWeeklyReset(now)
	}
	return nextSessionReset(now)
}

// extractTier scans known label locations for a tier signal. A paid
// membership without an interpretable plan string defaults to the mid
// tier rather than unknown.
func extractTier(bootstrap, rateLimits map[string]any) models.SubscriptionTier {
	for _, path := range tierLabelPaths {
		if label, ok := digString(bootstrap, path...); ok {
			if tier := detectTier(label); tier != models.TierUnknown {
				return tier
			}
		}
		if label, ok := digString(rateLimits, path...); ok {
			if tier := detectTier(label); tier != models.TierUnknown {
				return tier
			}
		}
	}

	if hasPaidMembership(bootstrap) {
		return models.TierMax5
	}
	return models.TierUnknown
}

// hasPaidMembership looks for a paid-subscription marker in the
// membership/plan fields.
func hasPaidMembership(bootstrap map[string]any) bool {
	if v, ok := dig(bootstrap, "account", "memberships", "0", "organization", "paid"); ok {
		if paid, ok := v.(bool); ok {
			return paid
		}
	}
	if v, ok := dig(bootstrap, "account", "has_paid_subscription"); ok {
		if paid, ok := v.(bool); ok {
			return paid
		}
	}
	if s, ok := digString(bootstrap, "account", "memberships", "0", "organization", "billing_type"); ok {
		return s != "" && s != "none" && s != "free"
	}
	return false
}

// buildWindow assembles one window reading, estimating absolute counts
// from the percentage and the static tier limit table.
func buildWindow(window models.WindowType, tier models.SubscriptionTier, percent float64, resetAt time.Time) models.WindowUsage {
	limit := limitFor(tier, window)
	return models.WindowUsage{
		PercentUsed: percent,
		Limit:       limit,
		Used:        int64(percent / 100 * float64(limit)),
		ResetAt:     resetAt,
	}
}

// extractModelUsage reads the optional per-model breakdown.
func extractModelUsage(rateLimits map[string]any) []models.ModelUsage {
	raw, ok := dig(rateLimits, "models")
	if !ok {
		return nil
	}
	entries, ok := raw.(map[string]any)
	if !ok {
		return nil
	}

	var out []models.ModelUsage
	for name, v := range entries {
		entry, ok := v.(map[string]any)
		if !ok {
			continue
		}
		util, ok := entry["utilization"].(float64)
		if !ok {
			continue
		}
		out = append(out, models.ModelUsage{
			Model:       name,
			PercentUsed: clampPercent(util),
		})
	}
	return out
}

func clampPercent(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}

func windowTypeForBucket(bucket string) models.WindowType {
	if bucket == "seven_day" || bucket == "weekly" {
		return models.WindowWeekly
	}
	return models.WindowSession
}

// nextSessionReset returns the next boundary of the fixed five-hour
// window anchored at the Unix epoch.
func nextSessionReset(now time.Time) time.Time {
	elapsed := now.UTC().Sub(time.Unix(0, 0).UTC())
	periods := elapsed / sessionWindow
	return time.Unix(0, 0).UTC().Add((periods + 1) * sessionWindow)
}

// nextWeeklyReset returns the upcoming Sunday reset boundary.
func nextWeeklyReset(now time.Time) time.Time {
	now = now.UTC()
	reset := time.Date(now.Year(), now.Month(), now.Day(), weeklyResetHour, 0, 0, 0, time.UTC)
	daysUntilSunday := (int(time.Sunday) - int(now.Weekday()) + 7) % 7
	reset = reset.AddDate(0, 0, daysUntilSunday)
	if !reset.After(now) {
		reset = reset.AddDate(0, 0, 7)
	}
	return reset
}
