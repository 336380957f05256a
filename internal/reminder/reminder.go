// Package reminder reads and writes the per-user reminder ledger, finds due
// reminders and delivers them through a polling loop.
package reminder

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

var (
	// ErrInvalidText is returned for reminder text that is empty or would
	// break the one-line ledger format.
	ErrInvalidText = errors.New("invalid reminder text")
	// ErrInvalidDue is returned for a due value that cannot be parsed.
	ErrInvalidDue = errors.New("invalid due time")
)

// CreatedLayout is the minute-precision local timestamp used for the
// created and completed fields.
const CreatedLayout = "2006-01-02T15:04"

// dueLayouts are tried in order when interpreting a due value. All but
// RFC 3339 are parsed in the book's location.
var dueLayouts = []string{
	"2006-01-02T15:04",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04",
	"2006-01-02 15:04:05",
	"2006-01-02",
	time.RFC3339,
}

var (
	lineRe  = regexp.MustCompile("^- \\[([ x])\\] (.+?)((?:\\s+`[a-z]+:[^`]*`)*)\\s*$")
	fieldRe = regexp.MustCompile("`([a-z]+):([^`]*)`")
)

// Reminder is one line of a user's reminder ledger.
type Reminder struct {
	ID          string `json:"id,omitempty"`
	Text        string `json:"text"`
	Completed   bool   `json:"completed"`
	Due         string `json:"due,omitempty"`
	Created     string `json:"created,omitempty"`
	CompletedAt string `json:"completed_at,omitempty"`
	Raw         string `json:"-"`
	// Line is the zero-based line index within the ledger, set by Parse.
	Line int `json:"-"`
}

// Key identifies the reminder for delivery bookkeeping. Lines without an ID
// fall back to their position and exact text, so identical hand-written
// lines are tracked separately.
func (r Reminder) Key() string {
	if r.ID != "" {
		return r.ID
	}
	return "line:" + strconv.Itoa(r.Line) + "|" + r.Raw
}

// DueTime parses the due field in loc. ok is false when there is no due
// value or it cannot be parsed.
func (r Reminder) DueTime(loc *time.Location) (t time.Time, ok bool) {
	if r.Due == "" {
		return time.Time{}, false
	}
	t, err := ParseDue(r.Due, loc)
	return t, err == nil
}

// ParseDue interprets s as an ISO 8601 local date-time.
func ParseDue(s string, loc *time.Location) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dueLayouts {
		if t, err := time.ParseInLocation(layout, s, loc); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("%w: %q", ErrInvalidDue, s)
}

// ValidateText reports whether text can be stored on a single ledger line.
func ValidateText(text string) error {
	if strings.TrimSpace(text) == "" || strings.ContainsAny(text, "`\r\n") {
		return fmt.Errorf("%w: %q", ErrInvalidText, text)
	}
	return nil
}

// NewID returns a fresh lexically sortable reminder ID.
func NewID() string {
	return ulid.Make().String()
}

// ParseLine decodes one ledger line. ok is false for headers, blank lines
// and anything else that is not a reminder. Unknown fields are ignored.
func ParseLine(line string) (r Reminder, ok bool) {
	m := lineRe.FindStringSubmatch(line)
	if m == nil {
		return Reminder{}, false
	}
	r = Reminder{
		Completed: m[1] == "x",
		Text:      strings.TrimSpace(m[2]),
		Raw:       line,
	}
	for _, f := range fieldRe.FindAllStringSubmatch(m[3], -1) {
		switch f[1] {
		case "due":
			r.Due = f[2]
		case "created":
			r.Created = f[2]
		case "id":
			r.ID = f[2]
		case "completed":
			r.CompletedAt = f[2]
		}
	}
	return r, true
}

// Format encodes r as a ledger line. Empty fields are omitted.
func Format(r Reminder) string {
	var sb strings.Builder
	if r.Completed {
		sb.WriteString("- [x] ")
	} else {
		sb.WriteString("- [ ] ")
	}
	sb.WriteString(r.Text)
	writeField(&sb, "due", r.Due)
	writeField(&sb, "created", r.Created)
	writeField(&sb, "id", r.ID)
	if r.Completed {
		writeField(&sb, "completed", r.CompletedAt)
	}
	return sb.String()
}

// Parse decodes every reminder in a ledger document in document order.
func Parse(content string) []Reminder {
	var out []Reminder
	for i, line := range strings.Split(content, "\n") {
		if r, ok := ParseLine(line); ok {
			r.Line = i
			out = append(out, r)
		}
	}
	return out
}

func writeField(sb *strings.Builder, key, value string) {
	if value == "" {
		return
	}
	sb.WriteString(" `")
	sb.WriteString(key)
	sb.WriteByte(':')
	sb.WriteString(value)
	sb.WriteByte('`')
}
