package workspace

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

// ErrInvalidPageName is returned for wiki page names that are empty, contain
// a path separator or do not end in ".md".
var ErrInvalidPageName = errors.New("invalid wiki page name")

// WikiDir returns the user's wiki directory, creating it if needed.
func (u *User) WikiDir() (string, error) {
	dir := u.path(wikiDir)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("creating wiki directory: %w", err)
	}
	return dir, nil
}

// WikiPages lists the markdown pages in the wiki directory in name order.
func (u *User) WikiPages() ([]string, error) {
	dir, err := u.WikiDir()
	if err != nil {
		return nil, err
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return nil, fmt.Errorf("listing wiki: %w", err)
	}
	var pages []string
	for _, e := range entries {
		if e.IsDir() || filepath.Ext(e.Name()) != ".md" {
			continue
		}
		pages = append(pages, e.Name())
	}
	sort.Strings(pages)
	return pages, nil
}

// ReadWikiPage returns a page's contents. A missing page yields os.ErrNotExist.
func (u *User) ReadWikiPage(name string) (string, error) {
	p, err := u.pagePath(name)
	if err != nil {
		return "", err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	data, err := os.ReadFile(p)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

// UpdateWikiPage runs fn on the page's current contents ("" and exists=false
// for a new page) and writes the result.
func (u *User) UpdateWikiPage(name string, fn func(current string, exists bool) (string, error)) error {
	p, err := u.pagePath(name)
	if err != nil {
		return err
	}
	u.mu.Lock()
	defer u.mu.Unlock()
	var current string
	exists := true
	data, err := os.ReadFile(p)
	switch {
	case errors.Is(err, os.ErrNotExist):
		exists = false
	case err != nil:
		return fmt.Errorf("reading wiki page %s: %w", name, err)
	default:
		current = string(data)
	}
	next, err := fn(current, exists)
	if err != nil {
		return err
	}
	return writeFileAtomic(p, []byte(next))
}

func (u *User) pagePath(name string) (string, error) {
	if name == "" || strings.ContainsAny(name, `/\`) || name == ".md" || filepath.Ext(name) != ".md" {
		return "", fmt.Errorf("%w: %q", ErrInvalidPageName, name)
	}
	dir, err := u.WikiDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, name), nil
}
