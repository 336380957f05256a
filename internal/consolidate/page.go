package consolidate

import (
	"fmt"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const frontMatterDelimiter = "---"

// PageMeta is the YAML front matter of a wiki page.
type PageMeta struct {
	Title   string    `yaml:"title"`
	Created time.Time `yaml:"created"`
	Updated time.Time `yaml:"updated"`
}

// Page is a wiki topic page: a title and the user's quotes filed under it.
type Page struct {
	Meta   PageMeta
	Quotes []string
}

// ParsePage decodes a page. Pages written without front matter are read as
// a "# Title" heading followed by "- quote" bullets.
func ParsePage(raw string) (*Page, error) {
	p := &Page{}
	body := raw
	if strings.HasPrefix(raw, frontMatterDelimiter) {
		rest := raw[len(frontMatterDelimiter):]
		idx := strings.Index(rest, "\n"+frontMatterDelimiter)
		if idx == -1 {
			return nil, fmt.Errorf("unclosed front matter")
		}
		if err := yaml.Unmarshal([]byte(rest[:idx]), &p.Meta); err != nil {
			return nil, fmt.Errorf("parsing front matter: %w", err)
		}
		body = rest[idx+len("\n"+frontMatterDelimiter):]
	}
	for _, line := range strings.Split(body, "\n") {
		line = strings.TrimSpace(line)
		switch {
		case strings.HasPrefix(line, "# "):
			if p.Meta.Title == "" {
				p.Meta.Title = strings.TrimSpace(line[2:])
			}
		case strings.HasPrefix(line, "- "):
			p.Quotes = append(p.Quotes, strings.TrimSpace(line[2:]))
		}
	}
	return p, nil
}

// Render encodes the page with front matter and a markdown body.
func (p *Page) Render() (string, error) {
	meta, err := yaml.Marshal(&p.Meta)
	if err != nil {
		return "", fmt.Errorf("rendering front matter: %w", err)
	}
	var sb strings.Builder
	sb.WriteString(frontMatterDelimiter + "\n")
	sb.Write(meta)
	sb.WriteString(frontMatterDelimiter + "\n\n")
	fmt.Fprintf(&sb, "# %s\n\n", p.Meta.Title)
	for _, q := range p.Quotes {
		fmt.Fprintf(&sb, "- %s\n", q)
	}
	return sb.String(), nil
}

// Merge adds quotes not already on the page and reports how many were added.
func (p *Page) Merge(quotes []string) int {
	seen := make(map[string]bool, len(p.Quotes))
	for _, q := range p.Quotes {
		seen[q] = true
	}
	added := 0
	for _, q := range quotes {
		q = strings.Join(strings.Fields(q), " ")
		if q == "" || seen[q] {
			continue
		}
		seen[q] = true
		p.Quotes = append(p.Quotes, q)
		added++
	}
	return added
}
