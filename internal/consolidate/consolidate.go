// Package consolidate files a user's raw conversation log into topic pages
// of a markdown wiki.
package consolidate

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"regexp"
	"strings"
	"time"

	"github.com/kalambet/aide/internal/extract"
	"github.com/kalambet/aide/internal/workspace"
)

// ErrNothingToConsolidate is returned when the log is empty or the model
// proposed no pages.
var ErrNothingToConsolidate = errors.New("nothing to consolidate")

var jsonObjectRe = regexp.MustCompile(`\{[\s\S]*\}`)

const planPromptTemplate = `Analyze this conversation log and suggest how to organize it into an Obsidian wiki.

## Conversation Log (user's actual words)
%s

## Memory Notes (our interpretation)
%s

Create topic files that organize the user's thoughts. For each file, include the user's EXACT quotes from the log.
These are their personal thoughts - preserve their words exactly.

Output as JSON (no markdown code blocks, just raw JSON):
{
  "files": [
    {
      "filename": "topic-name.md",
      "title": "Topic Name",
      "quotes": ["exact quote from user 1", "exact quote from user 2"]
    }
  ]
}

Rules:
- Use lowercase-with-dashes for filenames
- Only include files if there's meaningful content
- Quotes must be the user's exact words from the log
- Group related thoughts together
- Common topics: work, family, health, hobbies, goals, ideas, etc.`

// Plan is the model's proposed page layout.
type Plan struct {
	Files []PlanFile `json:"files"`
}

// PlanFile is one proposed page.
type PlanFile struct {
	Filename string   `json:"filename"`
	Title    string   `json:"title"`
	Quotes   []string `json:"quotes"`
}

// Result lists the pages touched by a consolidation run.
type Result struct {
	Files []string `json:"files"`
	Added int      `json:"added"`
}

// Consolidator turns logs into wiki pages using a text-generation model.
type Consolidator struct {
	gen  extract.Generator
	root *workspace.Root
	now  func() time.Time
}

// New creates a Consolidator.
func New(gen extract.Generator, root *workspace.Root) *Consolidator {
	return &Consolidator{gen: gen, root: root, now: time.Now}
}

// Run consolidates one user's log. The log is cleared only after every page
// has been written.
func (c *Consolidator) Run(ctx context.Context, userID string) (Result, error) {
	u, err := c.root.User(userID)
	if err != nil {
		return Result{}, err
	}
	logText, err := u.ReadLog()
	if err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(logText) == "" {
		return Result{}, ErrNothingToConsolidate
	}
	mem, err := u.ReadMemory()
	if err != nil {
		return Result{}, err
	}

	out, err := c.gen.Generate(ctx, fmt.Sprintf(planPromptTemplate, logText, mem))
	if err != nil {
		return Result{}, fmt.Errorf("generating wiki plan: %w", err)
	}
	plan := ParsePlan(out)
	if len(plan.Files) == 0 {
		return Result{}, ErrNothingToConsolidate
	}

	var res Result
	now := c.now().UTC().Truncate(time.Second)
	for _, f := range plan.Files {
		name := PageFilename(f.Filename)
		if name == "" || len(f.Quotes) == 0 {
			continue
		}
		var added int
		err := u.UpdateWikiPage(name, func(current string, exists bool) (string, error) {
			page := &Page{Meta: PageMeta{Title: strings.TrimSpace(f.Title), Created: now}}
			if exists {
				parsed, err := ParsePage(current)
				if err != nil {
					slog.Warn("rewriting unreadable wiki page", "user", u.ID(), "page", name, "error", err)
				} else {
					page = parsed
				}
			}
			if page.Meta.Title == "" {
				page.Meta.Title = titleFromFilename(name)
			}
			if page.Meta.Created.IsZero() {
				page.Meta.Created = now
			}
			page.Meta.Updated = now
			added = page.Merge(f.Quotes)
			return page.Render()
		})
		if err != nil {
			return res, fmt.Errorf("writing wiki page %s: %w", name, err)
		}
		res.Files = append(res.Files, name)
		res.Added += added
	}
	if len(res.Files) == 0 {
		return Result{}, ErrNothingToConsolidate
	}

	if err := u.ClearLog(); err != nil {
		return res, err
	}
	slog.Info("log consolidated", "user", u.ID(), "pages", len(res.Files), "quotes_added", res.Added)
	return res, nil
}

// ParsePlan extracts the JSON plan from free-form model output. Anything
// unparseable yields an empty plan.
func ParsePlan(out string) Plan {
	raw := jsonObjectRe.FindString(out)
	if raw == "" {
		return Plan{}
	}
	var p Plan
	if err := json.Unmarshal([]byte(raw), &p); err != nil {
		return Plan{}
	}
	return p
}

// PageFilename normalizes a proposed filename to lowercase-with-dashes and
// a .md extension. It returns "" when nothing usable remains.
func PageFilename(name string) string {
	name = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(name)), ".md")
	var sb strings.Builder
	dash := false
	for _, r := range name {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9':
			sb.WriteRune(r)
			dash = false
		case r == '-' || r == '_' || r == ' ':
			if sb.Len() > 0 && !dash {
				sb.WriteByte('-')
				dash = true
			}
		}
	}
	slug := strings.TrimRight(sb.String(), "-")
	if slug == "" {
		return ""
	}
	return slug + ".md"
}

func titleFromFilename(name string) string {
	words := strings.Split(strings.TrimSuffix(name, ".md"), "-")
	for i, w := range words {
		if w != "" {
			words[i] = strings.ToUpper(w[:1]) + w[1:]
		}
	}
	return strings.Join(words, " ")
}
