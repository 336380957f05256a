package reminder

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/kalambet/aide/internal/workspace"
)

// Notifier delivers a due reminder to a user.
type Notifier interface {
	Notify(ctx context.Context, userID string, r Reminder) error
}

// NotifyFunc adapts a function to Notifier.
type NotifyFunc func(ctx context.Context, userID string, r Reminder) error

// Notify calls f.
func (f NotifyFunc) Notify(ctx context.Context, userID string, r Reminder) error {
	return f(ctx, userID, r)
}

// Journal records delivery attempts so failing reminders back off and
// eventually stop being retried.
type Journal interface {
	Eligible(userID, key string, now time.Time) (bool, error)
	RecordDelivered(userID, key, text string, now time.Time) error
	RecordFailure(userID, key, text, errMsg string, now time.Time) error
}

// State is the poller's lifecycle state.
type State int32

const (
	StateIdle State = iota
	StateScanning
	StateDelivering
	StateCancelled
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "IDLE"
	case StateScanning:
		return "SCANNING"
	case StateDelivering:
		return "DELIVERING"
	case StateCancelled:
		return "CANCELLED"
	default:
		return fmt.Sprintf("State(%d)", int32(s))
	}
}

// Cycle summarizes one scan over all users.
type Cycle struct {
	Users     int
	Delivered int
	Failed    int
	Skipped   int
}

// PollerConfig holds the poller's tunables. Zero values pick defaults.
type PollerConfig struct {
	Interval        time.Duration
	DeliveryTimeout time.Duration
	// Journal is optional. Without one every due reminder is attempted on
	// every cycle until it is completed.
	Journal Journal
	// Wake, when non-nil, starts a cycle early.
	Wake  <-chan struct{}
	Clock workspace.Clock
	// Users, when non-empty, restricts scanning to these storage keys.
	Users []string
}

// Poller periodically delivers due reminders for every user and marks them
// complete once delivered.
type Poller struct {
	book     *Book
	notifier Notifier
	journal  Journal
	interval time.Duration
	timeout  time.Duration
	wake     <-chan struct{}
	clock    workspace.Clock
	only     map[string]bool
	state    atomic.Int32
	logger   *slog.Logger
}

// NewPoller creates a Poller. Interval defaults to 60s and DeliveryTimeout
// to 30s.
func NewPoller(book *Book, notifier Notifier, cfg PollerConfig) *Poller {
	if cfg.Interval <= 0 {
		cfg.Interval = 60 * time.Second
	}
	if cfg.DeliveryTimeout <= 0 {
		cfg.DeliveryTimeout = 30 * time.Second
	}
	if cfg.Clock == nil {
		cfg.Clock = book.clock
	}
	var only map[string]bool
	if len(cfg.Users) > 0 {
		only = make(map[string]bool, len(cfg.Users))
		for _, u := range cfg.Users {
			only[u] = true
		}
	}
	return &Poller{
		book:     book,
		notifier: notifier,
		journal:  cfg.Journal,
		interval: cfg.Interval,
		timeout:  cfg.DeliveryTimeout,
		wake:     cfg.Wake,
		clock:    cfg.Clock,
		only:     only,
		logger:   slog.Default(),
	}
}

// State returns the current lifecycle state.
func (p *Poller) State() State {
	return State(p.state.Load())
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

// Run scans until ctx is cancelled and then returns ctx.Err().
func (p *Poller) Run(ctx context.Context) error {
	p.logger.Info("reminder poller started", "interval", p.interval)
	defer p.logger.Info("reminder poller stopped")
	for {
		if ctx.Err() != nil {
			p.setState(StateCancelled)
			return ctx.Err()
		}

		c, err := p.RunOnce(ctx)
		if err != nil && ctx.Err() == nil {
			p.logger.Error("reminder cycle failed", "error", err)
		}
		if c.Delivered > 0 || c.Failed > 0 {
			p.logger.Info("reminder cycle finished",
				"users", c.Users, "delivered", c.Delivered, "failed", c.Failed, "skipped", c.Skipped)
		}

		select {
		case <-ctx.Done():
			p.setState(StateCancelled)
			return ctx.Err()
		case <-p.wake:
		case <-time.After(p.interval):
		}
	}
}

// RunOnce performs a single scan over every user. Delivery failures are
// counted and logged but do not abort the cycle. Cancellation is observed
// between deliveries only.
func (p *Poller) RunOnce(ctx context.Context) (Cycle, error) {
	var c Cycle
	p.setState(StateScanning)
	defer func() {
		if ctx.Err() != nil {
			p.setState(StateCancelled)
		} else {
			p.setState(StateIdle)
		}
	}()

	users, err := p.book.Root().UserIDs()
	if err != nil {
		return c, fmt.Errorf("listing users: %w", err)
	}
	now := p.clock.Now()
	for _, userID := range users {
		if err := ctx.Err(); err != nil {
			return c, err
		}
		if p.only != nil && !p.only[userID] {
			continue
		}
		c.Users++
		due, err := p.book.Due(ctx, userID, now)
		if err != nil {
			p.logger.Warn("scanning reminders failed", "user", userID, "error", err)
			continue
		}
		for _, r := range due {
			if err := ctx.Err(); err != nil {
				return c, err
			}
			switch p.deliver(ctx, userID, r, now) {
			case outcomeDelivered:
				c.Delivered++
			case outcomeFailed:
				c.Failed++
			case outcomeSkipped:
				c.Skipped++
			}
		}
	}
	return c, nil
}

type outcome int

const (
	outcomeDelivered outcome = iota
	outcomeFailed
	outcomeSkipped
)

func (p *Poller) deliver(ctx context.Context, userID string, r Reminder, now time.Time) outcome {
	key := r.Key()
	if p.journal != nil {
		ok, err := p.journal.Eligible(userID, key, now)
		if err != nil {
			p.logger.Warn("checking delivery journal", "user", userID, "reminder", key, "error", err)
		} else if !ok {
			return outcomeSkipped
		}
	}

	p.setState(StateDelivering)
	defer p.setState(StateScanning)

	nctx, cancel := context.WithTimeout(ctx, p.timeout)
	err := p.notifier.Notify(nctx, userID, r)
	cancel()
	if err != nil {
		p.logger.Warn("reminder delivery failed", "user", userID, "reminder", key, "error", err)
		if p.journal != nil {
			if jerr := p.journal.RecordFailure(userID, key, r.Text, err.Error(), p.clock.Now()); jerr != nil {
				p.logger.Error("recording delivery failure", "user", userID, "reminder", key, "error", jerr)
			}
		}
		return outcomeFailed
	}

	// The notification went out; finish bookkeeping even if ctx is cancelled
	// meanwhile so the reminder is not delivered twice.
	bctx := context.WithoutCancel(ctx)
	done, err := p.book.CompleteLine(bctx, userID, r)
	if err != nil {
		p.logger.Error("marking reminder complete", "user", userID, "reminder", key, "error", err)
	} else if !done {
		p.logger.Warn("delivered reminder was no longer open", "user", userID, "reminder", key)
	}
	if p.journal != nil {
		if jerr := p.journal.RecordDelivered(userID, key, r.Text, p.clock.Now()); jerr != nil {
			p.logger.Error("recording delivery", "user", userID, "reminder", key, "error", jerr)
		}
	}
	p.logger.Info("reminder delivered", "user", userID, "reminder", key)
	return outcomeDelivered
}
