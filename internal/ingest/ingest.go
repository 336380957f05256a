// Package ingest turns pasted text, web pages and PDFs into memory notes.
package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/kalambet/aide/internal/workspace"
)

const (
	maxURLFetchSize = 5 << 20 // 5MB
	maxNoteRunes    = 4000
	fetchTimeout    = 10 * time.Second
)

// Source types accepted by Ingest.
const (
	TypeText = "text"
	TypeURL  = "url"
	TypePDF  = "pdf"
)

var (
	ErrEmptyContent    = errors.New("ingest: no content")
	ErrUnsupportedType = errors.New("ingest: unsupported type")
)

// Request describes one piece of material to file into memory. Content is
// plain text for TypeText and base64 for TypePDF.
type Request struct {
	Type    string `json:"type"`
	Title   string `json:"title,omitempty"`
	Content string `json:"content,omitempty"`
	URL     string `json:"url,omitempty"`
	Source  string `json:"source,omitempty"`
}

// Result reports what was written.
type Result struct {
	Title     string `json:"title"`
	Source    string `json:"source"`
	Chars     int    `json:"chars"`
	Truncated bool   `json:"truncated"`
}

// Ingestor appends extracted text to a user's memory document.
type Ingestor struct {
	root       *workspace.Root
	httpClient *http.Client
}

// New creates an Ingestor. A nil client gets a default with a fetch timeout.
func New(root *workspace.Root, client *http.Client) *Ingestor {
	if client == nil {
		client = &http.Client{Timeout: fetchTimeout}
	}
	return &Ingestor{root: root, httpClient: client}
}

// Ingest resolves req to text and appends it as a memory note headed by the
// title and a Source: line.
func (i *Ingestor) Ingest(ctx context.Context, userID string, req Request) (Result, error) {
	u, err := i.root.User(userID)
	if err != nil {
		return Result{}, err
	}
	if req.Type == "" {
		req.Type = TypeText
	}

	var text, title, source string
	switch req.Type {
	case TypeText:
		text, source = req.Content, "text"
	case TypeURL:
		if req.URL == "" {
			return Result{}, fmt.Errorf("%w: url is required", ErrEmptyContent)
		}
		title, text, err = i.fetch(ctx, req.URL)
		if err != nil {
			return Result{}, err
		}
		source = req.URL
	case TypePDF:
		data, err := base64.StdEncoding.DecodeString(req.Content)
		if err != nil {
			return Result{}, fmt.Errorf("decoding pdf: invalid base64: %w", err)
		}
		text, err = PDFText(data)
		if err != nil {
			return Result{}, err
		}
		source = "pdf"
	default:
		return Result{}, fmt.Errorf("%w %q", ErrUnsupportedType, req.Type)
	}

	text = strings.TrimSpace(text)
	if text == "" {
		return Result{}, ErrEmptyContent
	}
	if req.Title != "" {
		title = req.Title
	}
	if title == "" {
		title = firstLine(text)
	}
	if req.Source != "" {
		source = req.Source
	}

	res := Result{Title: title, Source: source}
	if utf8.RuneCountInString(text) > maxNoteRunes {
		text = string([]rune(text)[:maxNoteRunes]) + "…"
		res.Truncated = true
	}
	res.Chars = utf8.RuneCountInString(text)

	note := fmt.Sprintf("### %s\nSource: %s\n\n%s", title, source, text)
	if err := u.AppendMemory(note); err != nil {
		return Result{}, err
	}
	return res, nil
}

func (i *Ingestor) fetch(ctx context.Context, url string) (title, text string, err error) {
	ctx, cancel := context.WithTimeout(ctx, fetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", "", fmt.Errorf("invalid url: %w", err)
	}
	resp, err := i.httpClient.Do(req)
	if err != nil {
		return "", "", fmt.Errorf("fetching url: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", "", fmt.Errorf("url returned status %d", resp.StatusCode)
	}

	body := io.LimitReader(resp.Body, maxURLFetchSize)
	ct := resp.Header.Get("Content-Type")
	switch {
	case strings.Contains(ct, "application/pdf"):
		data, err := io.ReadAll(body)
		if err != nil {
			return "", "", fmt.Errorf("reading url response: %w", err)
		}
		text, err := PDFText(data)
		return "", text, err
	case strings.Contains(ct, "text/html"), ct == "":
		return HTMLText(body)
	default:
		data, err := io.ReadAll(body)
		if err != nil {
			return "", "", fmt.Errorf("reading url response: %w", err)
		}
		return "", string(data), nil
	}
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(s, "\n")
	line = strings.TrimSpace(line)
	if utf8.RuneCountInString(line) > 60 {
		line = string([]rune(line)[:60]) + "…"
	}
	return line
}
