package storage

import (
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// SetRetryPolicy configures how failed deliveries are retried. A delivery is
// dead-lettered once it has failed maxAttempts times; before that the n-th
// failure delays the next attempt by backoff * 2^(n-1).
func (s *Store) SetRetryPolicy(maxAttempts int, backoff time.Duration) {
	if maxAttempts > 0 {
		s.maxAttempts = maxAttempts
	}
	if backoff > 0 {
		s.backoff = backoff
	}
}

// Eligible reports whether a delivery attempt may be made now. Reminders
// with no journal entry are always eligible.
func (s *Store) Eligible(userID, key string, now time.Time) (bool, error) {
	d, err := s.GetDelivery(userID, key)
	if errors.Is(err, ErrNotFound) {
		return true, nil
	}
	if err != nil {
		return false, err
	}
	switch d.Status {
	case StatusDelivered, StatusDead:
		return false, nil
	default:
		return !d.NextAttemptAfter.After(now), nil
	}
}

// RecordDelivered marks the reminder as delivered.
func (s *Store) RecordDelivered(userID, key, text string, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	_, err := s.db.Exec(`
		INSERT INTO deliveries (user_id, reminder_key, reminder_text, status, attempts, max_attempts, next_attempt_after, created_at, updated_at)
		VALUES (?, ?, ?, 'delivered', 1, ?, ?, ?, ?)
		ON CONFLICT (user_id, reminder_key) DO UPDATE SET
			status = 'delivered',
			attempts = attempts + 1,
			last_error = NULL,
			updated_at = excluded.updated_at`,
		userID, key, text, s.maxAttempts, ts, ts, ts,
	)
	if err != nil {
		return fmt.Errorf("recording delivery: %w", err)
	}
	return nil
}

// RecordFailure counts a failed attempt and schedules the next one, or
// dead-letters the delivery when its attempts are exhausted.
func (s *Store) RecordFailure(userID, key, text, errMsg string, now time.Time) error {
	tx, err := s.db.Begin()
	if err != nil {
		return fmt.Errorf("beginning failure transaction: %w", err)
	}
	defer tx.Rollback()

	attempts, maxAttempts := 0, s.maxAttempts
	created := now.UTC().Format(time.RFC3339)
	err = tx.QueryRow(`SELECT attempts, max_attempts, created_at FROM deliveries WHERE user_id = ? AND reminder_key = ?`,
		userID, key).Scan(&attempts, &maxAttempts, &created)
	if err != nil && err != sql.ErrNoRows {
		return fmt.Errorf("loading delivery: %w", err)
	}

	attempts++
	status := StatusPending
	next := now.Add(backoffFor(s.backoff, attempts))
	if attempts >= maxAttempts {
		status = StatusDead
		next = now
	}

	ts := now.UTC().Format(time.RFC3339)
	_, err = tx.Exec(`
		INSERT INTO deliveries (user_id, reminder_key, reminder_text, status, attempts, max_attempts, next_attempt_after, last_error, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, reminder_key) DO UPDATE SET
			status = excluded.status,
			attempts = excluded.attempts,
			next_attempt_after = excluded.next_attempt_after,
			last_error = excluded.last_error,
			updated_at = excluded.updated_at`,
		userID, key, text, status, attempts, maxAttempts, next.UTC().Format(time.RFC3339), errMsg, created, ts,
	)
	if err != nil {
		return fmt.Errorf("recording failure: %w", err)
	}
	return tx.Commit()
}

// GetDelivery returns the journal entry for one reminder.
func (s *Store) GetDelivery(userID, key string) (Delivery, error) {
	row := s.db.QueryRow(`SELECT user_id, reminder_key, reminder_text, status, attempts, max_attempts,
		next_attempt_after, last_error, created_at, updated_at
		FROM deliveries WHERE user_id = ? AND reminder_key = ?`, userID, key)
	d, err := scanDelivery(row)
	if err == sql.ErrNoRows {
		return Delivery{}, ErrNotFound
	}
	return d, err
}

// ListDeliveries returns a user's journal entries, most recently updated
// first. An empty status matches every entry.
func (s *Store) ListDeliveries(userID, status string) ([]Delivery, error) {
	query := `SELECT user_id, reminder_key, reminder_text, status, attempts, max_attempts,
		next_attempt_after, last_error, created_at, updated_at
		FROM deliveries WHERE user_id = ?`
	args := []interface{}{userID}
	if status != "" {
		query += ` AND status = ?`
		args = append(args, status)
	}
	query += ` ORDER BY updated_at DESC, reminder_key ASC`

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, fmt.Errorf("listing deliveries: %w", err)
	}
	defer rows.Close()

	results := []Delivery{}
	for rows.Next() {
		d, err := scanDelivery(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, d)
	}
	return results, rows.Err()
}

// RetryDelivery resets a delivery so the poller attempts it again on its
// next cycle.
func (s *Store) RetryDelivery(userID, key string, now time.Time) error {
	ts := now.UTC().Format(time.RFC3339)
	res, err := s.db.Exec(`UPDATE deliveries SET status = 'pending', attempts = 0, next_attempt_after = ?, updated_at = ?
		WHERE user_id = ? AND reminder_key = ? AND status != 'delivered'`, ts, ts, userID, key)
	if err != nil {
		return fmt.Errorf("retrying delivery: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...interface{}) error
}

func scanDelivery(sc scanner) (Delivery, error) {
	var d Delivery
	var next, createdAt, updatedAt string
	var lastError sql.NullString
	if err := sc.Scan(&d.UserID, &d.ReminderKey, &d.ReminderText, &d.Status, &d.Attempts, &d.MaxAttempts,
		&next, &lastError, &createdAt, &updatedAt); err != nil {
		return Delivery{}, err
	}
	d.LastError = lastError.String
	var err error
	if d.NextAttemptAfter, err = time.Parse(time.RFC3339, next); err != nil {
		return Delivery{}, fmt.Errorf("parsing next_attempt_after for %s: %w", d.ReminderKey, err)
	}
	if d.CreatedAt, err = time.Parse(time.RFC3339, createdAt); err != nil {
		return Delivery{}, fmt.Errorf("parsing created_at for %s: %w", d.ReminderKey, err)
	}
	if d.UpdatedAt, err = time.Parse(time.RFC3339, updatedAt); err != nil {
		return Delivery{}, fmt.Errorf("parsing updated_at for %s: %w", d.ReminderKey, err)
	}
	return d, nil
}

// maxBackoff caps the wait between attempts.
const maxBackoff = 24 * time.Hour

// backoffFor returns base * 2^(attempts-1), capped at maxBackoff.
func backoffFor(base time.Duration, attempts int) time.Duration {
	if base <= 0 {
		return 0
	}
	d := base
	for i := 1; i < attempts; i++ {
		if d >= maxBackoff/2 {
			return maxBackoff
		}
		d *= 2
	}
	return min(d, maxBackoff)
}
