package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
)

const (
	memoryFile    = "memory.md"
	remindersFile = "reminders.md"
	logFile       = "log.md"
	wikiDir       = "wiki"

	memoryHeader    = "# Memory\n\n"
	remindersHeader = "# Reminders\n\n"

	// sectionLayout stamps appended memory and log sections.
	sectionLayout = "2006-01-02 15:04"
)

// User is a handle to one user's directory. All document operations on the
// same user are serialized through a mutex shared by every handle for that
// user obtained from the same Root.
type User struct {
	id    string
	dir   string
	mu    *sync.Mutex
	clock Clock
}

// ID returns the sanitized storage key.
func (u *User) ID() string { return u.id }

// Dir returns the user's directory path.
func (u *User) Dir() string { return u.dir }

func (u *User) path(name string) string {
	return filepath.Join(u.dir, name)
}

// ReadMemory returns the memory document, creating it with its header if it
// has never been written.
func (u *User) ReadMemory() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return readOrInit(u.path(memoryFile), memoryHeader)
}

// AppendMemory appends content as a new timestamped section.
func (u *User) AppendMemory(content string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.path(memoryFile)
	if _, err := readOrInit(p, memoryHeader); err != nil {
		return err
	}
	return appendFile(p, u.section(content))
}

// OverwriteMemory replaces the whole memory document.
func (u *User) OverwriteMemory(content string) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	return writeFileAtomic(u.path(memoryFile), []byte(content))
}

// ReadReminders returns the reminder document, creating it with its header
// if it has never been written.
func (u *User) ReadReminders() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return readOrInit(u.path(remindersFile), remindersHeader)
}

// AppendReminderLine appends one line to the reminder document.
func (u *User) AppendReminderLine(line string) error {
	if strings.ContainsAny(line, "\r\n") {
		return fmt.Errorf("reminder line must be a single line")
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.path(remindersFile)
	if _, err := readOrInit(p, remindersHeader); err != nil {
		return err
	}
	return appendFile(p, line+"\n")
}

// RewriteReminders runs fn on the current reminder document and writes back
// its result when it differs. The read, fn and write happen while holding
// the user's lock.
func (u *User) RewriteReminders(fn func(content string) (string, error)) error {
	u.mu.Lock()
	defer u.mu.Unlock()
	p := u.path(remindersFile)
	current, err := readOrInit(p, remindersHeader)
	if err != nil {
		return err
	}
	next, err := fn(current)
	if err != nil {
		return err
	}
	if next == current {
		return nil
	}
	return writeFileAtomic(p, []byte(next))
}

// ReadLog returns the raw conversation log, or "" if there is none.
func (u *User) ReadLog() (string, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	data, err := os.ReadFile(u.path(logFile))
	if errors.Is(err, os.ErrNotExist) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("reading log: %w", err)
	}
	return string(data), nil
}

// AppendLog appends one user/assistant exchange to the conversation log.
func (u *User) AppendLog(userMessage, assistantResponse string) error {
	entry := fmt.Sprintf("**User:** %s\n\n**Assistant:** %s", userMessage, assistantResponse)
	u.mu.Lock()
	defer u.mu.Unlock()
	return appendFile(u.path(logFile), u.section(entry))
}

// ClearLog deletes the conversation log.
func (u *User) ClearLog() error {
	u.mu.Lock()
	defer u.mu.Unlock()
	if err := os.Remove(u.path(logFile)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("clearing log: %w", err)
	}
	return nil
}

func (u *User) section(content string) string {
	return fmt.Sprintf("\n## %s\n%s\n", u.clock.Now().Format(sectionLayout), content)
}

func readOrInit(path, header string) (string, error) {
	data, err := os.ReadFile(path)
	if err == nil {
		return string(data), nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return "", fmt.Errorf("reading %s: %w", filepath.Base(path), err)
	}
	if err := os.WriteFile(path, []byte(header), 0o644); err != nil {
		return "", fmt.Errorf("initializing %s: %w", filepath.Base(path), err)
	}
	return header, nil
}

// appendFile writes s with a single write call so concurrent appends never
// interleave.
func appendFile(path, s string) error {
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return fmt.Errorf("opening %s: %w", filepath.Base(path), err)
	}
	if _, err := f.WriteString(s); err != nil {
		f.Close()
		return fmt.Errorf("appending to %s: %w", filepath.Base(path), err)
	}
	return f.Close()
}

func writeFileAtomic(path string, data []byte) error {
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("writing temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		_ = os.Remove(tmp)
		return fmt.Errorf("renaming %s: %w", filepath.Base(path), err)
	}
	return nil
}
