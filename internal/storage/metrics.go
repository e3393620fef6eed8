package storage

import (
	"context"
	"fmt"
	"log"
	"time"

	apperrors "github.com/pulsehub/hub/internal/errors"
)

// Command kinds recorded by RecordCommand.
const (
	CommandPulse = "pulse"
	CommandRelay = "relay"
)

// MetricsStore defines the interface for hub activity metrics.
type MetricsStore interface {
	RecordCheckIn(delivered bool) error
	RecordLogin(outcome string) error
	RecordCommand(kind string) error
	Summary(window time.Duration) (Summary, error)
	Cleanup(retention time.Duration) (deleted int64, err error)
}

// Summary aggregates activity over a window.
type Summary struct {
	Window time.Duration `json:"-"`

	CheckIns  int `json:"checkins"`
	Delivered int `json:"commands_delivered"`

	// Logins maps outcome name to count.
	Logins map[string]int `json:"logins"`

	// Commands maps command kind to count.
	Commands map[string]int `json:"commands"`
}

// now returns the current time as unix milliseconds.
func (m *SQLiteMetricsStore) now() int64 {
	return m.timeNow().UnixMilli()
}

// cutoff returns the unix-millisecond boundary for window.
func (m *SQLiteMetricsStore) cutoff(window time.Duration) int64 {
	return m.timeNow().Add(-window).UnixMilli()
}

// RecordCheckIn inserts a check-in record. delivered is true when the
// check-in picked up a pending command.
func (m *SQLiteMetricsStore) RecordCheckIn(delivered bool) error {
	d := 0
	if delivered {
		d = 1
	}
	_, err := m.db.Exec(
		"INSERT INTO checkins (delivered, recorded_at) VALUES (?, ?)",
		d, m.now(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "record check-in", err)
	}
	return nil
}

// RecordLogin inserts a login attempt with its outcome name.
func (m *SQLiteMetricsStore) RecordLogin(outcome string) error {
	_, err := m.db.Exec(
		"INSERT INTO login_attempts (outcome, recorded_at) VALUES (?, ?)",
		outcome, m.now(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "record login", err)
	}
	return nil
}

// RecordCommand inserts a dashboard command of the given kind.
func (m *SQLiteMetricsStore) RecordCommand(kind string) error {
	_, err := m.db.Exec(
		"INSERT INTO commands (kind, recorded_at) VALUES (?, ?)",
		kind, m.now(),
	)
	if err != nil {
		return apperrors.Wrap(apperrors.CodeStorageSaveFailed, "record command", err)
	}
	return nil
}

// QueryCheckInWindow returns total check-ins and those that delivered a
// command within the window.
func (m *SQLiteMetricsStore) QueryCheckInWindow(window time.Duration) (total, delivered int, err error) {
	err = m.db.QueryRow(
		"SELECT COUNT(*), COALESCE(SUM(delivered), 0) FROM checkins WHERE recorded_at >= ?",
		m.cutoff(window),
	).Scan(&total, &delivered)
	if err != nil {
		return 0, 0, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query check-ins", err)
	}
	return total, delivered, nil
}

// QueryLoginWindow returns login attempt counts by outcome within the window.
func (m *SQLiteMetricsStore) QueryLoginWindow(window time.Duration) (map[string]int, error) {
	return m.countBy("login_attempts", "outcome", window)
}

// QueryCommandWindow returns command counts by kind within the window.
func (m *SQLiteMetricsStore) QueryCommandWindow(window time.Duration) (map[string]int, error) {
	return m.countBy("commands", "kind", window)
}

func (m *SQLiteMetricsStore) countBy(table, column string, window time.Duration) (map[string]int, error) {
	rows, err := m.db.Query(
		fmt.Sprintf("SELECT %s, COUNT(*) FROM %s WHERE recorded_at >= ? GROUP BY %s", column, table, column),
		m.cutoff(window),
	)
	if err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "query "+table, err)
	}
	defer rows.Close()

	counts := make(map[string]int)
	for rows.Next() {
		var key string
		var n int
		if err := rows.Scan(&key, &n); err != nil {
			return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "scan "+table, err)
		}
		counts[key] = n
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(apperrors.CodeStorageQueryFailed, "iterate "+table, err)
	}
	return counts, nil
}

// Summary returns all activity counts for the window.
func (m *SQLiteMetricsStore) Summary(window time.Duration) (Summary, error) {
	s := Summary{Window: window}

	var err error
	if s.CheckIns, s.Delivered, err = m.QueryCheckInWindow(window); err != nil {
		return Summary{}, err
	}
	if s.Logins, err = m.QueryLoginWindow(window); err != nil {
		return Summary{}, err
	}
	if s.Commands, err = m.QueryCommandWindow(window); err != nil {
		return Summary{}, err
	}
	return s, nil
}

// Cleanup deletes rows older than the given retention duration.
// Returns the total number of rows deleted.
func (m *SQLiteMetricsStore) Cleanup(retention time.Duration) (int64, error) {
	cutoff := m.cutoff(retention)
	var total int64

	tables := []string{
		"checkins",
		"login_attempts",
		"commands",
	}

	for _, table := range tables {
		result, err := m.db.Exec(
			fmt.Sprintf("DELETE FROM %s WHERE recorded_at < ?", table), cutoff,
		)
		if err != nil {
			return total, apperrors.Wrap(apperrors.CodeStorageSaveFailed, "cleanup "+table, err)
		}
		n, _ := result.RowsAffected()
		total += n
	}

	return total, nil
}

// RunRetention deletes rows older than retention every interval until ctx
// is cancelled.
func (m *SQLiteMetricsStore) RunRetention(ctx context.Context, interval, retention time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			deleted, err := m.Cleanup(retention)
			if err != nil {
				log.Printf("metrics: cleanup failed: %v", err)
				continue
			}
			if deleted > 0 {
				log.Printf("metrics: removed %d rows older than %s", deleted, retention)
			}
		}
	}
}
