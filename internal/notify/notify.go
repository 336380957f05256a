// Package notify implements reminder delivery channels.
package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/kalambet/aide/internal/reminder"
)

// ErrNoRoute is returned by a notifier that cannot reach the given user.
var ErrNoRoute = errors.New("no delivery route for user")

// Console prints reminders for a single user to a terminal.
type Console struct {
	mu     sync.Mutex
	w      io.Writer
	userID string
}

// NewConsole creates a Console that delivers userID's reminders to w.
func NewConsole(w io.Writer, userID string) *Console {
	return &Console{w: w, userID: userID}
}

// Notify prints the reminder line.
func (c *Console) Notify(_ context.Context, userID string, r reminder.Reminder) error {
	if userID != c.userID {
		return fmt.Errorf("%w %q", ErrNoRoute, userID)
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	_, err := fmt.Fprintf(c.w, "\n🔔 REMINDER: %s\n", r.Text)
	return err
}

// Payload is the JSON body POSTed by Webhook.
type Payload struct {
	UserID   string            `json:"user_id"`
	Reminder reminder.Reminder `json:"reminder"`
	SentAt   time.Time         `json:"sent_at"`
}

// Webhook POSTs reminders to an HTTP endpoint. Any non-2xx response is a
// failed delivery. The Idempotency-Key header is stable per reminder so the
// receiver can drop duplicates after a retry.
type Webhook struct {
	url        string
	httpClient *http.Client
}

// NewWebhook creates a Webhook notifier targeting url.
func NewWebhook(url string) *Webhook {
	return &Webhook{url: url, httpClient: &http.Client{}}
}

// Notify sends the reminder.
func (w *Webhook) Notify(ctx context.Context, userID string, r reminder.Reminder) error {
	body, err := json.Marshal(Payload{UserID: userID, Reminder: r, SentAt: time.Now().UTC()})
	if err != nil {
		return fmt.Errorf("marshaling payload: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("creating request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Idempotency-Key", userID+"/"+r.Key())
	req.Header.Set("X-Request-ID", uuid.NewString())

	resp, err := w.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("posting webhook: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("webhook returned %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}
	return nil
}

// Multi fans a reminder out to several notifiers. Every notifier is tried;
// the first error is returned.
type Multi []reminder.Notifier

// Notify calls each notifier in order.
func (m Multi) Notify(ctx context.Context, userID string, r reminder.Reminder) error {
	var first error
	for _, n := range m {
		if err := n.Notify(ctx, userID, r); err != nil && first == nil {
			first = err
		}
	}
	return first
}
