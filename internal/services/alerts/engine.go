// Package alerts evaluates usage snapshots against configured
// thresholds and dispatches fired alerts to notifiers.
package alerts

import (
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

const (
	// HysteresisMargin is how many percentage points below a threshold
	// usage must drop before its triggered flag clears. Prevents
	// oscillation at the boundary: a 75% threshold rearms at 72% but
	// stays triggered at 73%.
	HysteresisMargin = 2.0

	// DefaultCooldown is the minimum wall-clock time between two
	// firings of the same threshold key.
	DefaultCooldown = 4 * time.Hour
)

// Engine decides which alerts fire for a snapshot. CheckThresholds is
// pure with respect to the state argument; persisting the returned
// state is the caller's job.
type Engine struct {
	cooldown time.Duration
}

// NewEngine creates an engine with the given cooldown; zero means
// DefaultCooldown.
func NewEngine(cooldown time.Duration) *Engine {
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Engine{cooldown: cooldown}
}

// CheckThresholds evaluates every enabled threshold against the
// snapshot and returns the updated state plus the alerts to fire.
//
// Rollover runs first: a changed reset timestamp for a window clears
// all triggered flags of that window type, so the threshold ladder can
// fire again in the new window. Cooldown is then checked against the
// post-rollover state and independently suppresses re-notification.
func (e *Engine) CheckThresholds(snap *models.UsageSnapshot, thresholds []models.Threshold, state *models.AlertState, now time.Time) (*models.AlertState, []models.Alert) {
	next := state.Clone()
	if next.Entries == nil {
		next.Entries = make(map[string]models.AlertEntry)
	}

	e.detectRollover(snap, next)

	var fired []models.Alert
	for _, t := range thresholds {
		if !t.Enabled {
			continue
		}

		current := snap.Window(t.Type).PercentUsed
		key := t.Key()
		entry := next.Entries[key]

		switch {
		case current >= t.Percentage:
			if entry.Triggered {
				continue
			}
			if !entry.LastFiredAt.IsZero() && now.Sub(entry.LastFiredAt) < e.cooldown {
				continue
			}
			entry.Triggered = true
			entry.LastFiredAt = now
			next.Entries[key] = entry
			fired = append(fired, models.Alert{
				ID:             uuid.NewString(),
				ThresholdID:    t.ID,
				Type:           t.Type,
				Percentage:     t.Percentage,
				CurrentPercent: current,
				SoundEnabled:   t.SoundEnabled,
				FiredAt:        now,
			})

		case current < t.Percentage-HysteresisMargin:
			// Dropped well below the threshold: rearm regardless of
			// cooldown. LastFiredAt is kept so cooldown still gates
			// the next firing.
			if entry.Triggered {
				entry.Triggered = false
				next.Entries[key] = entry
			}
		}
	}

	return next, fired
}

// detectRollover compares each window's reset timestamp against the
// last observed one. Any change (strict inequality, not just "newer")
// clears that window's triggered flags.
func (e *Engine) detectRollover(snap *models.UsageSnapshot, state *models.AlertState) {
	if !snap.Session.ResetAt.Equal(state.LastSessionResetAt) {
		if !state.LastSessionResetAt.IsZero() {
			clearTriggered(state, models.WindowSession)
		}
		state.LastSessionResetAt = snap.Session.ResetAt
	}
	if !snap.Weekly.ResetAt.Equal(state.LastWeeklyResetAt) {
		if !state.LastWeeklyResetAt.IsZero() {
			clearTriggered(state, models.WindowWeekly)
		}
		state.LastWeeklyResetAt = snap.Weekly.ResetAt
	}
}

func clearTriggered(state *models.AlertState, window models.WindowType) {
	prefix := string(window) + ":"
	for key, entry := range state.Entries {
		if strings.HasPrefix(key, prefix) && entry.Triggered {
			entry.Triggered = false
			state.Entries[key] = entry
		}
	}
}
