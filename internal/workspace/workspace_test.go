package workspace

import (
	"errors"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"
)

type fixedClock struct{ t time.Time }

func (c fixedClock) Now() time.Time { return c.t }

func newTestRoot(t *testing.T) *Root {
	t.Helper()
	return NewWithClock(filepath.Join(t.TempDir(), "data"), fixedClock{t: time.Date(2024, 2, 1, 17, 5, 0, 0, time.Local)})
}

func TestSanitize(t *testing.T) {
	tests := []struct {
		raw  string
		want string
	}{
		{"user1", "user1"},
		{"user name", "username"},
		{"../../../etc", "etc"},
		{"-12345_abc", "-12345_abc"},
		{"héllo", "hllo"},
		{"a/b\\c", "abc"},
	}
	for _, tt := range tests {
		got, err := Sanitize(tt.raw)
		if err != nil {
			t.Errorf("Sanitize(%q) error: %v", tt.raw, err)
			continue
		}
		if got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.raw, got, tt.want)
		}
	}
}

func TestSanitize_Invalid(t *testing.T) {
	for _, raw := range []string{"", "...", "///", "   "} {
		if _, err := Sanitize(raw); !errors.Is(err, ErrInvalidIdentifier) {
			t.Errorf("Sanitize(%q) error = %v, want ErrInvalidIdentifier", raw, err)
		}
	}
}

func TestUser_CreatesDirectory(t *testing.T) {
	r := newTestRoot(t)
	u, err := r.User("testuser")
	if err != nil {
		t.Fatalf("User: %v", err)
	}
	info, err := os.Stat(u.Dir())
	if err != nil {
		t.Fatalf("stat user dir: %v", err)
	}
	if !info.IsDir() {
		t.Error("user path is not a directory")
	}
	if filepath.Base(u.Dir()) != "testuser" {
		t.Errorf("dir name = %q, want testuser", filepath.Base(u.Dir()))
	}
}

func TestUser_Idempotent(t *testing.T) {
	r := newTestRoot(t)
	u1, err := r.User("testuser")
	if err != nil {
		t.Fatalf("first User: %v", err)
	}
	u2, err := r.User("testuser")
	if err != nil {
		t.Fatalf("second User: %v", err)
	}
	if u1.Dir() != u2.Dir() {
		t.Errorf("dirs differ: %q vs %q", u1.Dir(), u2.Dir())
	}
	if u1.mu != u2.mu {
		t.Error("handles for the same user must share a lock")
	}
}

func TestUser_InvalidIdentifier(t *testing.T) {
	r := newTestRoot(t)
	if _, err := r.User("..."); !errors.Is(err, ErrInvalidIdentifier) {
		t.Fatalf("error = %v, want ErrInvalidIdentifier", err)
	}
	if _, err := os.Stat(r.Dir()); !errors.Is(err, os.ErrNotExist) {
		t.Error("root should not be created for an invalid identifier")
	}
}

func TestUserIDs_MissingRoot(t *testing.T) {
	r := newTestRoot(t)
	ids, err := r.UserIDs()
	if err != nil {
		t.Fatalf("UserIDs: %v", err)
	}
	if len(ids) != 0 {
		t.Errorf("UserIDs = %v, want empty", ids)
	}
}

func TestUserIDs(t *testing.T) {
	r := newTestRoot(t)
	for _, id := range []string{"user1", "user2", "user3"} {
		if _, err := r.User(id); err != nil {
			t.Fatalf("User(%q): %v", id, err)
		}
	}
	// Stray files in the root are not users.
	if err := os.WriteFile(filepath.Join(r.Dir(), "aide.db"), nil, 0o644); err != nil {
		t.Fatal(err)
	}
	// Neither are directories whose names are not sanitized keys.
	for _, dir := range []string{"bob.smith", "..."} {
		if err := os.Mkdir(filepath.Join(r.Dir(), dir), 0o755); err != nil {
			t.Fatal(err)
		}
	}

	ids, err := r.UserIDs()
	if err != nil {
		t.Fatalf("UserIDs: %v", err)
	}
	sort.Strings(ids)
	want := []string{"user1", "user2", "user3"}
	if strings.Join(ids, ",") != strings.Join(want, ",") {
		t.Errorf("UserIDs = %v, want %v", ids, want)
	}
}

func TestMemory_ReadInitializesHeader(t *testing.T) {
	r := newTestRoot(t)
	u, _ := r.User("u")
	got, err := u.ReadMemory()
	if err != nil {
		t.Fatalf("ReadMemory: %v", err)
	}
	if got != "# Memory\n\n" {
		t.Errorf("ReadMemory = %q, want header only", got)
	}
	if _, err := os.Stat(filepath.Join(u.Dir(), "memory.md")); err != nil {
		t.Errorf("memory.md not created: %v", err)
	}
}

func TestMemory_Append(t *testing.T) {
	r := newTestRoot(t)
	u, _ := r.User("u")
	if err := u.AppendMemory("- likes tea"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}
	if err := u.AppendMemory("- has a dog"); err != nil {
		t.Fatalf("AppendMemory: %v", err)
	}
	got, _ := u.ReadMemory()
	want := "# Memory\n\n\n## 2024-02-01 17:05\n- likes tea\n\n## 2024-02-01 17:05\n- has a dog\n"
	if got != want {
		t.Errorf("memory = %q, want %q", got, want)
	}
}

func TestMemory_Overwrite(t *testing.T) {
	r := newTestRoot(t)
	u, _ := r.User("u")
	_ = u.AppendMemory("old")
	if err := u.OverwriteMemory("# Memory\n\nnew\n"); err != nil {
		t.Fatalf("OverwriteMemory: %v", err)
	}
	got, _ := u.ReadMemory()
	if got != "# Memory\n\nnew\n" {
		t.Errorf("memory = %q", got)
	}
	if _, err := os.Stat(filepath.Join(u.Dir(), "memory.md.tmp")); !errors.Is(err, os.ErrNotExist) {
		t.Error("temp file left behind")
	}
}

func TestLog_AppendAndClear(t *testing.T) {
	r := newTestRoot(t)
	u, _ := r.User("u")

	got, err := u.ReadLog()
	if err != nil || got != "" {
		t.Fatalf("ReadLog on fresh user = %q, %v; want empty", got, err)
	}

	if err := u.AppendLog("hi", "hello!"); err != nil {
		t.Fatalf("AppendLog: %v", err)
	}
	got, _ = u.ReadLog()
	want := "\n## 2024-02-01 17:05\n**User:** hi\n\n**Assistant:** hello!\n"
	if got != want {
		t.Errorf("log = %q, want %q", got, want)
	}

	if err := u.ClearLog(); err != nil {
		t.Fatalf("ClearLog: %v", err)
	}
	if err := u.ClearLog(); err != nil {
		t.Fatalf("second ClearLog: %v", err)
	}
	got, _ = u.ReadLog()
	if got != "" {
		t.Errorf("log after clear = %q", got)
	}
}

func TestReminders_AppendAndRewrite(t *testing.T) {
	r := newTestRoot(t)
	u, _ := r.User("u")

	if err := u.AppendReminderLine("- [ ] one"); err != nil {
		t.Fatalf("AppendReminderLine: %v", err)
	}
	if err := u.AppendReminderLine("bad\nline"); err == nil {
		t.Error("expected error for multi-line reminder")
	}

	err := u.RewriteReminders(func(c string) (string, error) {
		return strings.Replace(c, "- [ ] one", "- [x] one", 1), nil
	})
	if err != nil {
		t.Fatalf("RewriteReminders: %v", err)
	}
	got, _ := u.ReadReminders()
	if got != "# Reminders\n\n- [x] one\n" {
		t.Errorf("reminders = %q", got)
	}

	boom := errors.New("boom")
	if err := u.RewriteReminders(func(string) (string, error) { return "", boom }); !errors.Is(err, boom) {
		t.Errorf("RewriteReminders error = %v, want boom", err)
	}
	got, _ = u.ReadReminders()
	if got != "# Reminders\n\n- [x] one\n" {
		t.Errorf("failed rewrite changed document: %q", got)
	}
}

func TestUserIsolation(t *testing.T) {
	r := newTestRoot(t)
	a, _ := r.User("alice")
	b, _ := r.User("bob")

	_ = a.AppendMemory("alice fact")
	_ = a.AppendReminderLine("- [ ] alice task")
	_ = a.AppendLog("alice says", "ok")

	mem, _ := b.ReadMemory()
	rem, _ := b.ReadReminders()
	lg, _ := b.ReadLog()
	for _, doc := range []string{mem, rem, lg} {
		if strings.Contains(doc, "alice") {
			t.Errorf("bob's documents leak alice data: %q", doc)
		}
	}
}

func TestConcurrentAppends(t *testing.T) {
	r := newTestRoot(t)
	const n = 50
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u, err := r.User("u")
			if err != nil {
				t.Error(err)
				return
			}
			if err := u.AppendReminderLine("- [ ] task"); err != nil {
				t.Error(err)
			}
		}()
	}
	wg.Wait()

	u, _ := r.User("u")
	got, _ := u.ReadReminders()
	if c := strings.Count(got, "- [ ] task\n"); c != n {
		t.Errorf("got %d lines, want %d", c, n)
	}
	if strings.Count(got, "# Reminders") != 1 {
		t.Errorf("header written more than once: %q", got)
	}
}

func TestWikiPages(t *testing.T) {
	r := newTestRoot(t)
	u, _ := r.User("u")

	err := u.UpdateWikiPage("work.md", func(cur string, exists bool) (string, error) {
		if exists {
			t.Error("new page reported as existing")
		}
		return "# Work\n", nil
	})
	if err != nil {
		t.Fatalf("UpdateWikiPage: %v", err)
	}
	_ = u.UpdateWikiPage("family.md", func(string, bool) (string, error) { return "# Family\n", nil })

	pages, err := u.WikiPages()
	if err != nil {
		t.Fatalf("WikiPages: %v", err)
	}
	if strings.Join(pages, ",") != "family.md,work.md" {
		t.Errorf("pages = %v", pages)
	}

	got, err := u.ReadWikiPage("work.md")
	if err != nil || got != "# Work\n" {
		t.Errorf("ReadWikiPage = %q, %v", got, err)
	}

	for _, bad := range []string{"", "../x.md", "a/b.md", "notes.txt", ".md"} {
		if _, err := u.ReadWikiPage(bad); !errors.Is(err, ErrInvalidPageName) {
			t.Errorf("ReadWikiPage(%q) error = %v, want ErrInvalidPageName", bad, err)
		}
	}
}
