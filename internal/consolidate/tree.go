package consolidate

import (
	"fmt"
	"strings"

	"github.com/kalambet/aide/internal/workspace"
)

// Tree renders the user's wiki as an ASCII tree with a note count per page.
func Tree(root *workspace.Root, userID string) (string, error) {
	u, err := root.User(userID)
	if err != nil {
		return "", err
	}
	pages, err := u.WikiPages()
	if err != nil {
		return "", err
	}
	if len(pages) == 0 {
		return "📁 wiki/\n└── (empty)", nil
	}

	lines := []string{"📁 wiki/"}
	for i, name := range pages {
		content, err := u.ReadWikiPage(name)
		if err != nil {
			return "", err
		}
		count := 0
		if p, err := ParsePage(content); err == nil {
			count = len(p.Quotes)
		}
		prefix := "├── "
		if i == len(pages)-1 {
			prefix = "└── "
		}
		unit := "notes"
		if count == 1 {
			unit = "note"
		}
		lines = append(lines, fmt.Sprintf("%s%s (%d %s)", prefix, name, count, unit))
	}
	return strings.Join(lines, "\n"), nil
}
