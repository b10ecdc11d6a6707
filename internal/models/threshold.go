package models

import (
	"fmt"
	"time"
)

// Threshold is a single configured alert rule. Thresholds are owned by
// configuration; the alert engine reads them but never mutates them.
type Threshold struct {
	ID           string     `json:"id" toml:"id"`
	Type         WindowType `json:"type" toml:"type"`
	Percentage   float64    `json:"percentage" toml:"percentage"`
	Enabled      bool       `json:"enabled" toml:"enabled"`
	SoundEnabled bool       `json:"soundEnabled" toml:"sound_enabled"`
}

// Key returns the stable dedup key for the threshold. Thresholds are
// unique per (type, percentage) in practice; ID is an external handle.
func (t Threshold) Key() string {
	return fmt.Sprintf("%s:%g", t.Type, t.Percentage)
}

// AlertEntry tracks firing state for one threshold key.
type AlertEntry struct {
	LastFiredAt time.Time `json:"lastFiredAt,omitzero"`
	Triggered   bool      `json:"triggered"`
}

// AlertState is the persisted dedup state for the alert engine. It is
// written back after every mutation so it survives process restarts.
type AlertState struct {
	Entries            map[string]AlertEntry `json:"entries"`
	LastSessionResetAt time.Time             `json:"lastSessionResetAt,omitzero"`
	LastWeeklyResetAt  time.Time             `json:"lastWeeklyResetAt,omitzero"`
}

// NewAlertState returns an empty alert state.
func NewAlertState() *AlertState {
	return &AlertState{Entries: make(map[string]AlertEntry)}
}

// Clone returns a deep copy of the state.
func (s *AlertState) Clone() *AlertState {
	out := &AlertState{
		Entries:            make(map[string]AlertEntry, len(s.Entries)),
		LastSessionResetAt: s.LastSessionResetAt,
		LastWeeklyResetAt:  s.LastWeeklyResetAt,
	}
	for k, v := range s.Entries {
		out.Entries[k] = v
	}
	return out
}

// Alert is a fired threshold notification handed to the dispatch layer.
type Alert struct {
	ID             string     `json:"id"`
	ThresholdID    string     `json:"thresholdId"`
	Type           WindowType `json:"type"`
	Percentage     float64    `json:"percentage"`
	CurrentPercent float64    `json:"currentPercent"`
	SoundEnabled   bool       `json:"soundEnabled"`
	FiredAt        time.Time  `json:"firedAt"`
}
