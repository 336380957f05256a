package storage

import (
	"errors"
	"time"
)

// ErrNotFound is returned when a requested record does not exist.
var ErrNotFound = errors.New("not found")

// Delivery status values.
const (
	StatusPending   = "pending"
	StatusDelivered = "delivered"
	StatusDead      = "dead"
)

// Delivery tracks notification attempts for one reminder of one user.
type Delivery struct {
	UserID           string    `json:"user_id"`
	ReminderKey      string    `json:"reminder_key"`
	ReminderText     string    `json:"reminder_text"`
	Status           string    `json:"status"` // "pending", "delivered", "dead"
	Attempts         int       `json:"attempts"`
	MaxAttempts      int       `json:"max_attempts"`
	NextAttemptAfter time.Time `json:"next_attempt_after"`
	LastError        string    `json:"last_error,omitempty"`
	CreatedAt        time.Time `json:"created_at"`
	UpdatedAt        time.Time `json:"updated_at"`
}
