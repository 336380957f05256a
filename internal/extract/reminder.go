package extract

import (
	"context"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/reminder"
	"github.com/kalambet/aide/internal/workspace"
)

var (
	reminderLineRe = regexp.MustCompile(`(?m)REMINDER:[ \t]*(.*)$`)
	dueLineRe      = regexp.MustCompile(`(?m)DUE:[ \t]*(.*)$`)
)

type realClock struct{}

func (realClock) Now() time.Time { return time.Now() }

// ReminderExtractor creates reminders the model finds in user messages.
type ReminderExtractor struct {
	gen   Generator
	book  *reminder.Book
	clock workspace.Clock
}

// NewReminderExtractor creates a ReminderExtractor adding to book.
func NewReminderExtractor(gen Generator, book *reminder.Book) *ReminderExtractor {
	return &ReminderExtractor{gen: gen, book: book, clock: realClock{}}
}

// NewReminderExtractorWithClock is NewReminderExtractor with an injected
// clock for the "current time" line of the prompt (for testing).
func NewReminderExtractorWithClock(gen Generator, book *reminder.Book, clock workspace.Clock) *ReminderExtractor {
	e := NewReminderExtractor(gen, book)
	e.clock = clock
	return e
}

// Extract asks the model whether message holds a task and stores it if so.
// It returns nil when the model found nothing or its answer was unusable.
func (e *ReminderExtractor) Extract(ctx context.Context, userID, message string) (*reminder.Reminder, error) {
	if _, err := workspace.Sanitize(userID); err != nil {
		return nil, err
	}
	out, err := e.gen.Generate(ctx, BuildReminderPrompt(message, e.clock.Now()))
	if err != nil {
		return nil, fmt.Errorf("generating reminder extraction: %w", err)
	}
	text, due, ok := ParseReminderResponse(out, e.book.Location())
	if !ok {
		return nil, nil
	}
	r, err := e.book.Add(ctx, userID, text, due)
	if err != nil {
		return nil, fmt.Errorf("adding extracted reminder: %w", err)
	}
	slog.Debug("reminder extracted", "user", userID, "id", r.ID, "due", r.Due)
	return &r, nil
}

// ParseReminderResponse reads the REMINDER:/DUE: answer format. ok is false
// when the answer says NONE without a REMINDER line, when the text is empty
// or unstorable, or when a due value is present but cannot be parsed. A DUE
// of NONE, or no DUE line, yields an undated reminder.
func ParseReminderResponse(resp string, loc *time.Location) (text, due string, ok bool) {
	m := reminderLineRe.FindStringSubmatch(resp)
	if m == nil {
		return "", "", false
	}
	text = strings.TrimSpace(m[1])
	if strings.EqualFold(text, "NONE") || reminder.ValidateText(text) != nil {
		return "", "", false
	}

	dm := dueLineRe.FindStringSubmatch(resp)
	if dm == nil {
		return text, "", true
	}
	raw := strings.TrimSpace(dm[1])
	if raw == "" || strings.EqualFold(raw, "NONE") {
		return text, "", true
	}
	for _, cand := range dueCandidates(raw) {
		if _, err := reminder.ParseDue(cand, loc); err == nil {
			return text, cand, true
		}
	}
	return "", "", false
}

// dueCandidates lists the forms of a DUE value worth trying, longest first,
// so trailing commentary after the timestamp is ignored.
func dueCandidates(raw string) []string {
	fields := strings.Fields(raw)
	cands := []string{raw}
	if len(fields) > 2 {
		cands = append(cands, fields[0]+" "+fields[1])
	}
	if len(fields) > 1 {
		cands = append(cands, fields[0])
	}
	return cands
}
