package usage

import (
	"strings"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// tierSignals maps known tier identifiers to tiers, checked in priority
// order from highest tier to lowest so "max_20x" never matches as pro.
var tierSignals = []struct {
	tier   models.SubscriptionTier
	tokens []string
}{
	{models.TierMax20, []string{"max_20", "max20", "20x"}},
	{models.TierMax5, []string{"max_5", "max5", "5x", "max"}},
	{models.TierPro, []string{"pro"}},
	{models.TierFree, []string{"free", "default"}},
}

// detectTier interprets a rate-limit-tier or plan string.
func detectTier(label string) models.SubscriptionTier {
	label = strings.ToLower(label)
	if label == "" {
		return models.TierUnknown
	}
	for _, sig := range tierSignals {
		for _, token := range sig.tokens {
			if strings.Contains(label, token) {
				return sig.tier
			}
		}
	}
	return models.TierUnknown
}

// windowLimits is the static per-tier message limit table used to
// estimate absolute used/limit counts from a percentage. The upstream
// API only reports utilization, so these are approximations.
var windowLimits = map[models.SubscriptionTier]struct {
	session int64
	weekly  int64
}{
	models.TierFree:    {session: 10, weekly: 50},
	models.TierPro:     {session: 45, weekly: 300},
	models.TierMax5:    {session: 225, weekly: 1500},
	models.TierMax20:   {session: 900, weekly: 6000},
	models.TierUnknown: {session: 45, weekly: 300},
}

// limitFor returns the estimated message limit for a tier and window.
func limitFor(tier models.SubscriptionTier, window models.WindowType) int64 {
	limits, ok := windowLimits[tier]
	if !ok {
		limits = windowLimits[models.TierUnknown]
	}
	if window == models.WindowWeekly {
		return limits.weekly
	}
	return limits.session
}
