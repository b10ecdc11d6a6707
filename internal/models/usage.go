// Package models defines data structures and domain types.
package models

import "time"

// WindowType identifies one of the two rolling quota windows.
type WindowType string

const (
	// WindowSession is the short five-hour rolling window.
	WindowSession WindowType = "session"
	// WindowWeekly is the seven-day rolling window.
	WindowWeekly WindowType = "weekly"
)

// SubscriptionTier represents the account's subscription level.
type SubscriptionTier string

const (
	TierFree    SubscriptionTier = "free"
	TierPro     SubscriptionTier = "pro"
	TierMax5    SubscriptionTier = "max5"
	TierMax20   SubscriptionTier = "max20"
	TierUnknown SubscriptionTier = "unknown"
)

// WindowUsage holds the usage reading for a single quota window.
// Used and Limit are estimates derived from PercentUsed and the
// per-tier limit table when the upstream API omits absolute counts.
type WindowUsage struct {
	ResetAt     time.Time `json:"resetAt"`
	Used        int64     `json:"used"`
	Limit       int64     `json:"limit"`
	PercentUsed float64   `json:"percentUsed"`
}

// ModelUsage is an optional per-model breakdown entry.
type ModelUsage struct {
	Model       string  `json:"model"`
	PercentUsed float64 `json:"percentUsed"`
}

// UsageSnapshot is an immutable point-in-time usage reading across both
// quota windows. A new snapshot supersedes the previous one; snapshots
// are never mutated after construction.
type UsageSnapshot struct {
	LastUpdated time.Time        `json:"lastUpdated"`
	Session     WindowUsage      `json:"session"`
	Weekly      WindowUsage      `json:"weekly"`
	ModelUsage  []ModelUsage     `json:"modelUsage,omitempty"`
	Tier        SubscriptionTier `json:"tier"`
	Stale       bool             `json:"stale,omitempty"`
}

// Window returns the usage reading for the given window type.
func (s *UsageSnapshot) Window(t WindowType) WindowUsage {
	if t == WindowWeekly {
		return s.Weekly
	}
	return s.Session
}

// TimeUntilReset calculates the duration until the window resets.
func (u WindowUsage) TimeUntilReset(now time.Time) time.Duration {
	if u.ResetAt.IsZero() {
		return 0
	}
	d := u.ResetAt.Sub(now)
	if d < 0 {
		return 0
	}
	return d
}
