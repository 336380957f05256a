package storage

import (
	"errors"
	"testing"
	"time"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open(:memory:) failed: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

var t0 = time.Date(2024, 2, 1, 17, 0, 0, 0, time.UTC)

// TestMigrationsIdempotent opens the same database twice and checks no
// migration is applied a second time.
func TestMigrationsIdempotent(t *testing.T) {
	dir := t.TempDir()

	s1, err := Open(dir)
	if err != nil {
		t.Fatalf("first Open failed: %v", err)
	}
	v1, err := s1.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}
	s1.Close()

	s2, err := Open(dir)
	if err != nil {
		t.Fatalf("second Open failed: %v", err)
	}
	defer s2.Close()
	v2, err := s2.AppliedMigrations()
	if err != nil {
		t.Fatalf("AppliedMigrations: %v", err)
	}

	if len(v1) == 0 {
		t.Fatal("no migrations applied")
	}
	if len(v1) != len(v2) {
		t.Errorf("migration count changed: %d -> %d", len(v1), len(v2))
	}
}

func TestParseMigrationVersion(t *testing.T) {
	v, err := parseMigrationVersion("001_deliveries.sql")
	if err != nil || v != 1 {
		t.Errorf("parseMigrationVersion = %d, %v; want 1", v, err)
	}
	if _, err := parseMigrationVersion("deliveries.sql"); err == nil {
		t.Error("expected error for unnumbered migration")
	}
}

func TestEligible_NoEntry(t *testing.T) {
	s := openTestStore(t)
	ok, err := s.Eligible("u1", "r1", t0)
	if err != nil {
		t.Fatalf("Eligible: %v", err)
	}
	if !ok {
		t.Error("reminder without journal entry should be eligible")
	}
}

func TestRecordDelivered(t *testing.T) {
	s := openTestStore(t)
	if err := s.RecordDelivered("u1", "r1", "call mom", t0); err != nil {
		t.Fatalf("RecordDelivered: %v", err)
	}

	d, err := s.GetDelivery("u1", "r1")
	if err != nil {
		t.Fatalf("GetDelivery: %v", err)
	}
	if d.Status != StatusDelivered {
		t.Errorf("Status = %q, want %q", d.Status, StatusDelivered)
	}
	if d.ReminderText != "call mom" {
		t.Errorf("ReminderText = %q, want %q", d.ReminderText, "call mom")
	}

	ok, _ := s.Eligible("u1", "r1", t0.Add(time.Hour))
	if ok {
		t.Error("delivered reminder should not be eligible")
	}
}

func TestRecordFailure_Backoff(t *testing.T) {
	s := openTestStore(t)
	s.SetRetryPolicy(5, time.Minute)

	if err := s.RecordFailure("u1", "r1", "call mom", "gateway down", t0); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	d, _ := s.GetDelivery("u1", "r1")
	if d.Attempts != 1 || d.Status != StatusPending {
		t.Fatalf("after 1 failure: attempts=%d status=%q", d.Attempts, d.Status)
	}
	if want := t0.Add(time.Minute); !d.NextAttemptAfter.Equal(want) {
		t.Errorf("NextAttemptAfter = %v, want %v", d.NextAttemptAfter, want)
	}
	if d.LastError != "gateway down" {
		t.Errorf("LastError = %q", d.LastError)
	}

	if ok, _ := s.Eligible("u1", "r1", t0.Add(30*time.Second)); ok {
		t.Error("should not be eligible while backing off")
	}
	if ok, _ := s.Eligible("u1", "r1", t0.Add(time.Minute)); !ok {
		t.Error("should be eligible once backoff elapsed")
	}

	now := t0.Add(time.Minute)
	if err := s.RecordFailure("u1", "r1", "call mom", "still down", now); err != nil {
		t.Fatalf("RecordFailure: %v", err)
	}
	d, _ = s.GetDelivery("u1", "r1")
	if want := now.Add(2 * time.Minute); !d.NextAttemptAfter.Equal(want) {
		t.Errorf("second NextAttemptAfter = %v, want %v", d.NextAttemptAfter, want)
	}
	if !d.CreatedAt.Equal(t0) {
		t.Errorf("CreatedAt = %v, want %v", d.CreatedAt, t0)
	}
}

func TestBackoffFor(t *testing.T) {
	tests := []struct {
		attempts int
		want     time.Duration
	}{
		{1, time.Minute},
		{2, 2 * time.Minute},
		{5, 16 * time.Minute},
		{11, 1024 * time.Minute},
		{12, maxBackoff},
		{64, maxBackoff},
		{1000, maxBackoff},
	}
	for _, tt := range tests {
		if got := backoffFor(time.Minute, tt.attempts); got != tt.want {
			t.Errorf("backoffFor(1m, %d) = %v, want %v", tt.attempts, got, tt.want)
		}
	}
}

func TestRecordFailure_ManyAttemptsKeepBackingOff(t *testing.T) {
	s := openTestStore(t)
	s.SetRetryPolicy(100, time.Minute)

	now := t0
	for i := 0; i < 70; i++ {
		if err := s.RecordFailure("u1", "r1", "x", "boom", now); err != nil {
			t.Fatalf("RecordFailure #%d: %v", i+1, err)
		}
		d, _ := s.GetDelivery("u1", "r1")
		if !d.NextAttemptAfter.After(now) {
			t.Fatalf("after %d failures NextAttemptAfter = %v, want after %v", i+1, d.NextAttemptAfter, now)
		}
		now = d.NextAttemptAfter
	}
	if ok, _ := s.Eligible("u1", "r1", now.Add(-time.Second)); ok {
		t.Error("should still be backing off")
	}
}

func TestRecordFailure_DeadLetter(t *testing.T) {
	s := openTestStore(t)
	s.SetRetryPolicy(3, time.Second)

	now := t0
	for i := 0; i < 3; i++ {
		if err := s.RecordFailure("u1", "r1", "x", "boom", now); err != nil {
			t.Fatalf("RecordFailure #%d: %v", i+1, err)
		}
		now = now.Add(time.Hour)
	}
	d, _ := s.GetDelivery("u1", "r1")
	if d.Status != StatusDead {
		t.Fatalf("Status = %q, want %q", d.Status, StatusDead)
	}
	if ok, _ := s.Eligible("u1", "r1", now.Add(24*time.Hour)); ok {
		t.Error("dead delivery should never be eligible")
	}

	if err := s.RetryDelivery("u1", "r1", now); err != nil {
		t.Fatalf("RetryDelivery: %v", err)
	}
	d, _ = s.GetDelivery("u1", "r1")
	if d.Status != StatusPending || d.Attempts != 0 {
		t.Errorf("after retry: status=%q attempts=%d", d.Status, d.Attempts)
	}
	if ok, _ := s.Eligible("u1", "r1", now); !ok {
		t.Error("retried delivery should be eligible")
	}
}

func TestRetryDelivery_NotFound(t *testing.T) {
	s := openTestStore(t)
	if err := s.RetryDelivery("u1", "missing", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("RetryDelivery error = %v, want ErrNotFound", err)
	}

	_ = s.RecordDelivered("u1", "r1", "x", t0)
	if err := s.RetryDelivery("u1", "r1", t0); !errors.Is(err, ErrNotFound) {
		t.Errorf("retrying a delivered reminder: error = %v, want ErrNotFound", err)
	}
}

func TestGetDelivery_NotFound(t *testing.T) {
	s := openTestStore(t)
	if _, err := s.GetDelivery("u1", "nope"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetDelivery error = %v, want ErrNotFound", err)
	}
}

func TestListDeliveries(t *testing.T) {
	s := openTestStore(t)
	s.SetRetryPolicy(1, time.Minute)

	_ = s.RecordDelivered("u1", "a", "first", t0)
	_ = s.RecordFailure("u1", "b", "second", "boom", t0.Add(time.Minute))
	_ = s.RecordDelivered("u2", "c", "other user", t0)

	all, err := s.ListDeliveries("u1", "")
	if err != nil {
		t.Fatalf("ListDeliveries: %v", err)
	}
	if len(all) != 2 {
		t.Fatalf("got %d deliveries, want 2", len(all))
	}
	if all[0].ReminderKey != "b" {
		t.Errorf("first = %q, want most recently updated %q", all[0].ReminderKey, "b")
	}

	dead, err := s.ListDeliveries("u1", StatusDead)
	if err != nil {
		t.Fatalf("ListDeliveries(dead): %v", err)
	}
	if len(dead) != 1 || dead[0].ReminderKey != "b" {
		t.Errorf("dead = %+v", dead)
	}

	none, err := s.ListDeliveries("nobody", "")
	if err != nil {
		t.Fatalf("ListDeliveries(nobody): %v", err)
	}
	if none == nil || len(none) != 0 {
		t.Errorf("expected empty non-nil slice, got %#v", none)
	}
}
