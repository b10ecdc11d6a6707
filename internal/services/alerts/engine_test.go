package alerts

import (
	"strconv"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

var t0 = time.Date(2026, 3, 4, 10, 0, 0, 0, time.UTC)

func sessionSnapshot(percent float64, resetAt time.Time) *models.UsageSnapshot {
	return &models.UsageSnapshot{
		LastUpdated: t0,
		Session: models.WindowUsage{
			PercentUsed: percent,
			ResetAt:     resetAt,
		},
		Weekly: models.WindowUsage{
			PercentUsed: 10,
			ResetAt:     t0.Add(4 * 24 * time.Hour),
		},
		Tier: models.TierPro,
	}
}

func sessionThresholds(percentages ...float64) []models.Threshold {
	var out []models.Threshold
	for _, p := range percentages {
		out = append(out, models.Threshold{
			ID:         "session-" + strconv.FormatFloat(p, 'f', -1, 64),
			Type:       models.WindowSession,
			Percentage: p,
			Enabled:    true,
		})
	}
	return out
}

func firedPercentages(alerts []models.Alert) []float64 {
	var out []float64
	for _, a := range alerts {
		out = append(out, a.Percentage)
	}
	return out
}

func TestLadderFiresAllReachedThresholds(t *testing.T) {
	engine := NewEngine(0)
	resetAt := t0.Add(3 * time.Hour)
	thresholds := sessionThresholds(50, 75, 90)

	// From empty state at 76%: both 50 and 75 fire, 90 does not.
	state, fired := engine.CheckThresholds(sessionSnapshot(76, resetAt), thresholds, models.NewAlertState(), t0)

	assert.ElementsMatch(t, []float64{50, 75}, firedPercentages(fired))
	for _, a := range fired {
		assert.Equal(t, 76.0, a.CurrentPercent)
		assert.Equal(t, models.WindowSession, a.Type)
		assert.NotEmpty(t, a.ID)
	}
	assert.True(t, state.Entries["session:50"].Triggered)
	assert.True(t, state.Entries["session:75"].Triggered)
	assert.False(t, state.Entries["session:90"].Triggered)
}

func TestIdempotence(t *testing.T) {
	engine := NewEngine(0)
	resetAt := t0.Add(3 * time.Hour)
	thresholds := sessionThresholds(50, 75)
	snap := sessionSnapshot(80, resetAt)

	state, fired := engine.CheckThresholds(snap, thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 2)

	// Same snapshot again, no rollover: nothing fires.
	_, fired = engine.CheckThresholds(snap, thresholds, state, t0.Add(time.Minute))
	assert.Empty(t, fired)
}

func TestHysteresis(t *testing.T) {
	engine := NewEngine(time.Nanosecond) // cooldown out of the way
	resetAt := t0.Add(3 * time.Hour)
	thresholds := sessionThresholds(75)

	// 80% fires.
	state, fired := engine.CheckThresholds(sessionSnapshot(80, resetAt), thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 1)

	// 72% clears: 72 < 75-2.
	state, fired = engine.CheckThresholds(sessionSnapshot(72, resetAt), thresholds, state, t0.Add(time.Minute))
	assert.Empty(t, fired)
	assert.False(t, state.Entries["session:75"].Triggered)

	// Back to 80%: fires again.
	_, fired = engine.CheckThresholds(sessionSnapshot(80, resetAt), thresholds, state, t0.Add(2*time.Minute))
	assert.Len(t, fired, 1)
}

func TestHysteresisDeadBand(t *testing.T) {
	engine := NewEngine(time.Nanosecond)
	resetAt := t0.Add(3 * time.Hour)
	thresholds := sessionThresholds(75)

	state, fired := engine.CheckThresholds(sessionSnapshot(80, resetAt), thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 1)

	// The dead band is [73, 75): below the threshold but inside the
	// 2-point margin, so 73 stays triggered.
	state, _ = engine.CheckThresholds(sessionSnapshot(73, resetAt), thresholds, state, t0.Add(time.Minute))
	assert.True(t, state.Entries["session:75"].Triggered, "drop within the margin must not rearm")

	_, fired = engine.CheckThresholds(sessionSnapshot(80, resetAt), thresholds, state, t0.Add(2*time.Minute))
	assert.Empty(t, fired, "still triggered, must not fire again")
}

func TestCooldown(t *testing.T) {
	engine := NewEngine(4 * time.Hour)
	resetAt := t0.Add(10 * time.Hour)
	thresholds := sessionThresholds(90)

	// Fire at T.
	state, fired := engine.CheckThresholds(sessionSnapshot(95, resetAt), thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 1)

	// Drop rearms the trigger but keeps lastFiredAt.
	state, _ = engine.CheckThresholds(sessionSnapshot(50, resetAt), thresholds, state, t0.Add(30*time.Minute))
	assert.False(t, state.Entries["session:90"].Triggered)

	// 95% again at T+1h: inside cooldown, no firing.
	state, fired = engine.CheckThresholds(sessionSnapshot(95, resetAt), thresholds, state, t0.Add(time.Hour))
	assert.Empty(t, fired)

	// 95% at T+5h: cooldown elapsed, fires.
	_, fired = engine.CheckThresholds(sessionSnapshot(95, resetAt), thresholds, state, t0.Add(5*time.Hour))
	assert.Len(t, fired, 1)
}

func TestRolloverClearsTriggeredFlags(t *testing.T) {
	engine := NewEngine(time.Nanosecond)
	firstReset := t0.Add(2 * time.Hour)
	thresholds := sessionThresholds(75)

	state, fired := engine.CheckThresholds(sessionSnapshot(80, firstReset), thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 1)

	// Same percentage, new reset boundary: flags clear, alert fires
	// again even though usage never dropped.
	newReset := firstReset.Add(5 * time.Hour)
	state, fired = engine.CheckThresholds(sessionSnapshot(80, newReset), thresholds, state, t0.Add(3*time.Hour))
	assert.Len(t, fired, 1)
	assert.Equal(t, newReset, state.LastSessionResetAt)
}

func TestRolloverIsPerWindowType(t *testing.T) {
	engine := NewEngine(time.Nanosecond)
	sessionReset := t0.Add(2 * time.Hour)
	weeklyReset := t0.Add(4 * 24 * time.Hour)

	thresholds := []models.Threshold{
		{ID: "s90", Type: models.WindowSession, Percentage: 90, Enabled: true},
		{ID: "w50", Type: models.WindowWeekly, Percentage: 50, Enabled: true},
	}

	snap := &models.UsageSnapshot{
		LastUpdated: t0,
		Session:     models.WindowUsage{PercentUsed: 95, ResetAt: sessionReset},
		Weekly:      models.WindowUsage{PercentUsed: 60, ResetAt: weeklyReset},
		Tier:        models.TierPro,
	}

	state, fired := engine.CheckThresholds(snap, thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 2)

	// Session window rolls over, weekly does not.
	snap2 := &models.UsageSnapshot{
		LastUpdated: t0.Add(3 * time.Hour),
		Session:     models.WindowUsage{PercentUsed: 95, ResetAt: sessionReset.Add(5 * time.Hour)},
		Weekly:      models.WindowUsage{PercentUsed: 60, ResetAt: weeklyReset},
		Tier:        models.TierPro,
	}

	_, fired = engine.CheckThresholds(snap2, thresholds, state, t0.Add(3*time.Hour))
	require.Len(t, fired, 1)
	assert.Equal(t, models.WindowSession, fired[0].Type)
}

func TestFirstObservationDoesNotCountAsRollover(t *testing.T) {
	engine := NewEngine(time.Nanosecond)
	thresholds := sessionThresholds(75)

	// Empty state has no observed resetAt; the first snapshot must
	// record it without treating the difference as a rollover.
	state, fired := engine.CheckThresholds(sessionSnapshot(80, t0.Add(time.Hour)), thresholds, models.NewAlertState(), t0)
	require.Len(t, fired, 1)
	assert.Equal(t, t0.Add(time.Hour), state.LastSessionResetAt)
}

func TestDisabledThresholdNeverFires(t *testing.T) {
	engine := NewEngine(0)
	thresholds := []models.Threshold{
		{ID: "off", Type: models.WindowSession, Percentage: 50, Enabled: false},
	}

	_, fired := engine.CheckThresholds(sessionSnapshot(99, t0.Add(time.Hour)), thresholds, models.NewAlertState(), t0)
	assert.Empty(t, fired)
}

func TestCheckThresholdsDoesNotMutateInput(t *testing.T) {
	engine := NewEngine(0)
	state := models.NewAlertState()

	_, fired := engine.CheckThresholds(sessionSnapshot(80, t0.Add(time.Hour)), sessionThresholds(50), state, t0)
	require.Len(t, fired, 1)

	assert.Empty(t, state.Entries, "input state must not be mutated")
	assert.True(t, state.LastSessionResetAt.IsZero())
}
