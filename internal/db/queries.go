package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/j-veylop/claude-usage-watch/internal/models"
)

// ErrKeyNotFound is returned when a key has no stored value.
var ErrKeyNotFound = errors.New("key not found")

const timeFormat = "2006-01-02 15:04:05"

// SetValue stores a value under key, replacing any previous value.
func (db *DB) SetValue(key string, value []byte, sealed bool) error {
	query := `
		INSERT INTO kv_store (key, value, sealed, updated_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET
			value = excluded.value,
			sealed = excluded.sealed,
			updated_at = excluded.updated_at
	`
	sealedInt := 0
	if sealed {
		sealedInt = 1
	}
	_, err := db.ExecContext(context.Background(), query,
		key, value, sealedInt, time.Now().UTC().Format(timeFormat))
	if err != nil {
		return fmt.Errorf("failed to set value for %q: %w", key, err)
	}
	return nil
}

// GetValue retrieves a value by key. Returns ErrKeyNotFound if absent.
func (db *DB) GetValue(key string) ([]byte, bool, error) {
	query := `SELECT value, sealed FROM kv_store WHERE key = ?`

	var value []byte
	var sealedInt int
	err := db.QueryRowContext(context.Background(), query, key).Scan(&value, &sealedInt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, ErrKeyNotFound
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to get value for %q: %w", key, err)
	}
	return value, sealedInt == 1, nil
}

// DeleteValue removes a key. Deleting a missing key is not an error.
func (db *DB) DeleteValue(key string) error {
	_, err := db.ExecContext(context.Background(),
		`DELETE FROM kv_store WHERE key = ?`, key)
	if err != nil {
		return fmt.Errorf("failed to delete value for %q: %w", key, err)
	}
	return nil
}

// InsertSnapshot appends a usage snapshot row to the history table.
func (db *DB) InsertSnapshot(snap *models.UsageSnapshot) error {
	query := `
		INSERT INTO usage_snapshots (
			timestamp, session_percent, weekly_percent,
			session_reset_at, weekly_reset_at, tier, stale
		) VALUES (?, ?, ?, ?, ?, ?, ?)
	`

	ts := snap.LastUpdated
	if ts.IsZero() {
		ts = time.Now()
	}

	staleInt := 0
	if snap.Stale {
		staleInt = 1
	}

	_, err := db.ExecContext(context.Background(), query,
		ts.UTC().Format(timeFormat),
		snap.Session.PercentUsed,
		snap.Weekly.PercentUsed,
		nullTime(snap.Session.ResetAt),
		nullTime(snap.Weekly.ResetAt),
		string(snap.Tier),
		staleInt,
	)
	if err != nil {
		return fmt.Errorf("failed to insert snapshot: %w", err)
	}
	return nil
}

// SnapshotRow is a single history row as read back from the database.
type SnapshotRow struct {
	Timestamp      time.Time
	SessionResetAt time.Time
	WeeklyResetAt  time.Time
	Tier           string
	ID             int64
	SessionPercent float64
	WeeklyPercent  float64
	Stale          bool
}

// LatestSnapshot returns the most recent history row, or nil if none exist.
func (db *DB) LatestSnapshot() (*SnapshotRow, error) {
	rows, err := db.RecentSnapshots(1)
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, nil
	}
	return &rows[0], nil
}

// RecentSnapshots returns up to limit history rows, newest first.
func (db *DB) RecentSnapshots(limit int) ([]SnapshotRow, error) {
	query := `
		SELECT id, timestamp, session_percent, weekly_percent,
			   session_reset_at, weekly_reset_at, tier, stale
		FROM usage_snapshots
		ORDER BY timestamp DESC, id DESC
		LIMIT ?
	`

	rows, err := db.QueryContext(context.Background(), query, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query snapshots: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []SnapshotRow
	for rows.Next() {
		var row SnapshotRow
		var sessionReset, weeklyReset sql.NullString
		var staleInt int

		err := rows.Scan(
			&row.ID,
			&row.Timestamp,
			&row.SessionPercent,
			&row.WeeklyPercent,
			&sessionReset,
			&weeklyReset,
			&row.Tier,
			&staleInt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan snapshot row: %w", err)
		}

		row.SessionResetAt = parseNullTime(sessionReset)
		row.WeeklyResetAt = parseNullTime(weeklyReset)
		row.Stale = staleInt == 1

		out = append(out, row)
	}

	return out, rows.Err()
}

// PruneSnapshots deletes history rows older than the retention window.
func (db *DB) PruneSnapshots(retention time.Duration) (int64, error) {
	cutoff := time.Now().Add(-retention).UTC().Format(timeFormat)
	result, err := db.ExecContext(context.Background(),
		`DELETE FROM usage_snapshots WHERE timestamp < ?`, cutoff)
	if err != nil {
		return 0, fmt.Errorf("failed to prune snapshots: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to count pruned snapshots: %w", err)
	}
	return n, nil
}

func nullTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeFormat)
}

func parseNullTime(s sql.NullString) time.Time {
	if !s.Valid {
		return time.Time{}
	}
	t, err := time.Parse(timeFormat, s.String)
	if err != nil {
		return time.Time{}
	}
	return t.UTC()
}
