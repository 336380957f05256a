package reminder

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/workspace"
)

// Book reads and mutates reminder ledgers under a storage root.
type Book struct {
	root   *workspace.Root
	clock  workspace.Clock
	loc    *time.Location
	logger *slog.Logger
}

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// NewBook returns a Book over root using the wall clock and local time.
func NewBook(root *workspace.Root) *Book {
	return &Book{
		root:   root,
		clock:  realClock{},
		loc:    time.Local,
		logger: slog.Default(),
	}
}

// NewBookWithClock returns a Book with an injected clock (for testing). Due
// values are interpreted in the clock's location.
func NewBookWithClock(root *workspace.Root, clock workspace.Clock) *Book {
	b := NewBook(root)
	b.clock = clock
	b.loc = clock.Now().Location()
	return b
}

// Root returns the storage root the book operates on.
func (b *Book) Root() *workspace.Root { return b.root }

// Location returns the location due values are interpreted in.
func (b *Book) Location() *time.Location { return b.loc }

// Add appends a new open reminder. due may be empty.
func (b *Book) Add(ctx context.Context, userID, text, due string) (Reminder, error) {
	if err := ctx.Err(); err != nil {
		return Reminder{}, err
	}
	text = strings.TrimSpace(text)
	if err := ValidateText(text); err != nil {
		return Reminder{}, err
	}
	due = strings.TrimSpace(due)
	if due != "" {
		if _, err := ParseDue(due, b.loc); err != nil {
			return Reminder{}, err
		}
	}
	u, err := b.root.User(userID)
	if err != nil {
		return Reminder{}, err
	}
	r := Reminder{
		ID:      NewID(),
		Text:    text,
		Due:     due,
		Created: b.clock.Now().Format(CreatedLayout),
	}
	r.Raw = Format(r)
	if err := u.AppendReminderLine(r.Raw); err != nil {
		return Reminder{}, err
	}
	b.logger.Debug("reminder added", "user", u.ID(), "id", r.ID, "due", due)
	return r, nil
}

// List returns every reminder in the user's ledger in document order.
func (b *Book) List(ctx context.Context, userID string) ([]Reminder, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	u, err := b.root.User(userID)
	if err != nil {
		return nil, err
	}
	content, err := u.ReadReminders()
	if err != nil {
		return nil, err
	}
	return Parse(content), nil
}

// Due returns open reminders whose due time is at or before now. Reminders
// without a due value, or with one that cannot be parsed, are never due.
func (b *Book) Due(ctx context.Context, userID string, now time.Time) ([]Reminder, error) {
	all, err := b.List(ctx, userID)
	if err != nil {
		return nil, err
	}
	var due []Reminder
	for _, r := range all {
		if r.Completed || r.Due == "" {
			continue
		}
		t, ok := r.DueTime(b.loc)
		if !ok {
			b.logger.Debug("skipping reminder with unparseable due", "user", userID, "due", r.Due)
			continue
		}
		if !t.After(now) {
			due = append(due, r)
		}
	}
	return due, nil
}

// MarkComplete completes the first open reminder whose text contains text.
// It reports whether a reminder was completed.
func (b *Book) MarkComplete(ctx context.Context, userID, text string) (bool, error) {
	if strings.TrimSpace(text) == "" {
		return false, ErrInvalidText
	}
	return b.complete(ctx, userID, func(r Reminder) bool {
		return strings.Contains(r.Text, text)
	})
}

// Complete completes the open reminder with the given ID.
func (b *Book) Complete(ctx context.Context, userID, id string) (bool, error) {
	if id == "" {
		return false, nil
	}
	return b.complete(ctx, userID, func(r Reminder) bool {
		return r.ID == id
	})
}

// CompleteLine completes the open ledger line r was parsed from. It prefers
// the recorded line index and falls back to the first open line with the
// same raw text when the ledger was edited in between.
func (b *Book) CompleteLine(ctx context.Context, userID string, r Reminder) (bool, error) {
	if r.ID != "" {
		return b.Complete(ctx, userID, r.ID)
	}
	if err := ctx.Err(); err != nil {
		return false, err
	}
	u, err := b.root.User(userID)
	if err != nil {
		return false, err
	}
	var done bool
	err = u.RewriteReminders(func(content string) (string, error) {
		lines := strings.Split(content, "\n")
		idx := -1
		if r.Line >= 0 && r.Line < len(lines) && lines[r.Line] == r.Raw {
			idx = r.Line
		} else {
			for i, line := range lines {
				if line == r.Raw {
					idx = i
					break
				}
			}
		}
		if idx < 0 {
			return content, nil
		}
		if cur, ok := ParseLine(lines[idx]); !ok || cur.Completed {
			return content, nil
		}
		lines[idx] = completeLine(lines[idx], b.clock.Now())
		done = true
		return strings.Join(lines, "\n"), nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

func (b *Book) complete(ctx context.Context, userID string, match func(Reminder) bool) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	u, err := b.root.User(userID)
	if err != nil {
		return false, err
	}
	var done bool
	err = u.RewriteReminders(func(content string) (string, error) {
		lines := strings.Split(content, "\n")
		for i, line := range lines {
			r, ok := ParseLine(line)
			if !ok || r.Completed || !match(r) {
				continue
			}
			lines[i] = completeLine(line, b.clock.Now())
			done = true
			break
		}
		return strings.Join(lines, "\n"), nil
	})
	if err != nil {
		return false, err
	}
	return done, nil
}

// completeLine flips the checkbox and appends a completed field, keeping
// the rest of the line as written.
func completeLine(line string, now time.Time) string {
	rest := strings.TrimRight(strings.TrimPrefix(line, "- [ ]"), " \t")
	return "- [x]" + rest + " `completed:" + now.Format(CreatedLayout) + "`"
}
