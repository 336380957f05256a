package consolidate

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/kalambet/aide/internal/extract"
	"github.com/kalambet/aide/internal/workspace"
)

func staticGen(out string, err error) extract.Generator {
	return extract.GeneratorFunc(func(context.Context, string) (string, error) { return out, err })
}

func newTestConsolidator(t *testing.T, gen extract.Generator) (*Consolidator, *workspace.Root) {
	t.Helper()
	root := workspace.New(t.TempDir())
	c := New(gen, root)
	c.now = func() time.Time { return time.Date(2024, 2, 1, 12, 0, 0, 0, time.UTC) }
	return c, root
}

const planJSON = `Here is the plan:
{"files":[
  {"filename":"Work Stuff.md","title":"Work","quotes":["I want a promotion","I want a promotion","ship the Q3 report"]},
  {"filename":"family","title":"Family","quotes":["call mom more often"]},
  {"filename":"empty.md","title":"Empty","quotes":[]},
  {"filename":"???","title":"Bad","quotes":["x"]}
]}`

func TestRun(t *testing.T) {
	c, root := newTestConsolidator(t, staticGen(planJSON, nil))
	u, _ := root.User("u1")
	require.NoError(t, u.AppendLog("I want a promotion", "Good luck!"))

	res, err := c.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, []string{"work-stuff.md", "family.md"}, res.Files)
	assert.Equal(t, 3, res.Added)

	page, err := u.ReadWikiPage("work-stuff.md")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(page, "---\n"))
	assert.Contains(t, page, "title: Work\n")
	assert.Contains(t, page, "# Work\n\n- I want a promotion\n- ship the Q3 report\n")

	logText, _ := u.ReadLog()
	assert.Empty(t, logText, "log should be cleared after consolidation")
}

func TestRun_MergesIntoExistingPage(t *testing.T) {
	c, root := newTestConsolidator(t, staticGen(`{"files":[{"filename":"family.md","title":"Family","quotes":["old quote","new quote"]}]}`, nil))
	u, _ := root.User("u1")
	require.NoError(t, u.UpdateWikiPage("family.md", func(string, bool) (string, error) {
		return "# Family\n\n- old quote\n", nil
	}))
	require.NoError(t, u.AppendLog("new quote", "ok"))

	res, err := c.Run(context.Background(), "u1")
	require.NoError(t, err)
	assert.Equal(t, 1, res.Added)

	raw, _ := u.ReadWikiPage("family.md")
	p, err := ParsePage(raw)
	require.NoError(t, err)
	assert.Equal(t, "Family", p.Meta.Title)
	assert.Equal(t, []string{"old quote", "new quote"}, p.Quotes)
}

func TestRun_EmptyLog(t *testing.T) {
	called := false
	gen := extract.GeneratorFunc(func(context.Context, string) (string, error) {
		called = true
		return planJSON, nil
	})
	c, _ := newTestConsolidator(t, gen)
	_, err := c.Run(context.Background(), "u1")
	assert.ErrorIs(t, err, ErrNothingToConsolidate)
	assert.False(t, called, "model should not be called for an empty log")
}

func TestRun_EmptyPlanKeepsLog(t *testing.T) {
	for _, out := range []string{"no json here", `{"files":[]}`, `{broken`, `{"files":[{"filename":"x.md","quotes":[]}]}`} {
		c, root := newTestConsolidator(t, staticGen(out, nil))
		u, _ := root.User("u1")
		require.NoError(t, u.AppendLog("hello", "hi"))

		_, err := c.Run(context.Background(), "u1")
		assert.ErrorIs(t, err, ErrNothingToConsolidate, "output %q", out)

		logText, _ := u.ReadLog()
		assert.NotEmpty(t, logText, "log must survive when nothing was filed (output %q)", out)
	}
}

func TestRun_GeneratorError(t *testing.T) {
	boom := errors.New("model down")
	c, root := newTestConsolidator(t, staticGen("", boom))
	u, _ := root.User("u1")
	require.NoError(t, u.AppendLog("hello", "hi"))

	_, err := c.Run(context.Background(), "u1")
	assert.ErrorIs(t, err, boom)
	logText, _ := u.ReadLog()
	assert.NotEmpty(t, logText)
}

func TestPageFilename(t *testing.T) {
	tests := map[string]string{
		"work.md":          "work.md",
		"Work Stuff.md":    "work-stuff.md",
		"family":           "family.md",
		"  Health_Goals  ": "health-goals.md",
		"../../etc/passwd": "etcpasswd.md",
		"???":              "",
		"":                 "",
		"a--b":             "a-b.md",
	}
	for in, want := range tests {
		assert.Equal(t, want, PageFilename(in), "PageFilename(%q)", in)
	}
}

func TestParsePage_RoundTrip(t *testing.T) {
	p := &Page{
		Meta:   PageMeta{Title: "Work", Created: time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), Updated: time.Date(2024, 2, 1, 0, 0, 0, 0, time.UTC)},
		Quotes: []string{"one", "two"},
	}
	raw, err := p.Render()
	require.NoError(t, err)

	got, err := ParsePage(raw)
	require.NoError(t, err)
	assert.Equal(t, p.Meta.Title, got.Meta.Title)
	assert.True(t, p.Meta.Updated.Equal(got.Meta.Updated))
	assert.Equal(t, p.Quotes, got.Quotes)
}

func TestParsePage_Unclosed(t *testing.T) {
	_, err := ParsePage("---\ntitle: x\n# no close")
	assert.Error(t, err)
}

func TestTree(t *testing.T) {
	root := workspace.New(t.TempDir())

	tree, err := Tree(root, "u1")
	require.NoError(t, err)
	assert.Equal(t, "📁 wiki/\n└── (empty)", tree)

	u, _ := root.User("u1")
	require.NoError(t, u.UpdateWikiPage("work.md", func(string, bool) (string, error) {
		return (&Page{Meta: PageMeta{Title: "Work"}, Quotes: []string{"a", "b"}}).Render()
	}))
	require.NoError(t, u.UpdateWikiPage("family.md", func(string, bool) (string, error) {
		return "# Family\n\n- only one\n", nil
	}))

	tree, err = Tree(root, "u1")
	require.NoError(t, err)
	assert.Equal(t, "📁 wiki/\n├── family.md (1 note)\n└── work.md (2 notes)", tree)
}
