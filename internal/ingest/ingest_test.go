package ingest

import (
	"context"
	"encoding/base64"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/kalambet/aide/internal/workspace"
)

const samplePage = `<!DOCTYPE html>
<html><head><title>Sourdough Basics</title><style>body{}</style></head>
<body>
<nav>Home | About</nav>
<h1>Starter</h1>
<p>Feed the starter   twice a day.</p>
<ul><li>flour</li><li>water</li></ul>
<script>alert("x")</script>
</body></html>`

func newTestIngestor(t *testing.T, client *http.Client) (*Ingestor, *workspace.Root) {
	t.Helper()
	root := workspace.New(t.TempDir())
	return New(root, client), root
}

func readMemory(t *testing.T, root *workspace.Root, userID string) string {
	t.Helper()
	u, err := root.User(userID)
	if err != nil {
		t.Fatal(err)
	}
	mem, err := u.ReadMemory()
	if err != nil {
		t.Fatal(err)
	}
	return mem
}

func TestHTMLText(t *testing.T) {
	title, text, err := HTMLText(strings.NewReader(samplePage))
	if err != nil {
		t.Fatalf("HTMLText: %v", err)
	}
	if title != "Sourdough Basics" {
		t.Errorf("title = %q", title)
	}
	for _, want := range []string{"Starter", "Feed the starter twice a day.", "- flour", "- water"} {
		if !strings.Contains(text, want) {
			t.Errorf("text missing %q:\n%s", want, text)
		}
	}
	for _, unwanted := range []string{"alert", "Home | About", "body{}"} {
		if strings.Contains(text, unwanted) {
			t.Errorf("text contains %q:\n%s", unwanted, text)
		}
	}
}

func TestIngest_Text(t *testing.T) {
	ing, root := newTestIngestor(t, nil)
	res, err := ing.Ingest(context.Background(), "u1", Request{Content: "Dentist is Dr. Lee\nCalls on Tuesdays"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Title != "Dentist is Dr. Lee" || res.Source != "text" || res.Truncated {
		t.Errorf("result = %+v", res)
	}
	mem := readMemory(t, root, "u1")
	if !strings.Contains(mem, "### Dentist is Dr. Lee\nSource: text\n\nDentist is Dr. Lee\nCalls on Tuesdays") {
		t.Errorf("memory = %q", mem)
	}
}

func TestIngest_URL(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(samplePage))
	}))
	defer srv.Close()

	ing, root := newTestIngestor(t, srv.Client())
	res, err := ing.Ingest(context.Background(), "u1", Request{Type: TypeURL, URL: srv.URL + "/bread"})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if res.Title != "Sourdough Basics" {
		t.Errorf("title = %q", res.Title)
	}
	mem := readMemory(t, root, "u1")
	if !strings.Contains(mem, "Source: "+srv.URL+"/bread") {
		t.Errorf("memory missing source line: %q", mem)
	}
	if !strings.Contains(mem, "Feed the starter twice a day.") {
		t.Errorf("memory missing body: %q", mem)
	}
}

func TestIngest_URLStatusError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	ing, root := newTestIngestor(t, srv.Client())
	if _, err := ing.Ingest(context.Background(), "u1", Request{Type: TypeURL, URL: srv.URL}); err == nil {
		t.Fatal("expected error for 404")
	}
	if mem := readMemory(t, root, "u1"); mem != "# Memory\n\n" {
		t.Errorf("memory written on failure: %q", mem)
	}
}

func TestIngest_Truncates(t *testing.T) {
	ing, _ := newTestIngestor(t, nil)
	res, err := ing.Ingest(context.Background(), "u1", Request{Title: "big", Content: strings.Repeat("é", maxNoteRunes+10)})
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if !res.Truncated || res.Chars != maxNoteRunes+1 {
		t.Errorf("result = %+v", res)
	}
}

func TestIngest_Rejects(t *testing.T) {
	ing, _ := newTestIngestor(t, nil)
	ctx := context.Background()

	if _, err := ing.Ingest(ctx, "u1", Request{Content: "   "}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("blank text: err = %v", err)
	}
	if _, err := ing.Ingest(ctx, "u1", Request{Type: TypeURL}); !errors.Is(err, ErrEmptyContent) {
		t.Errorf("missing url: err = %v", err)
	}
	if _, err := ing.Ingest(ctx, "u1", Request{Type: "video", Content: "x"}); !errors.Is(err, ErrUnsupportedType) {
		t.Errorf("bad type: err = %v", err)
	}
	if _, err := ing.Ingest(ctx, "u1", Request{Type: TypePDF, Content: "%%%"}); err == nil {
		t.Error("bad base64: expected error")
	}
	notPDF := base64.StdEncoding.EncodeToString([]byte("hello"))
	if _, err := ing.Ingest(ctx, "u1", Request{Type: TypePDF, Content: notPDF}); err == nil {
		t.Error("not a pdf: expected error")
	}
	if _, err := ing.Ingest(ctx, "!!!", Request{Content: "x"}); !errors.Is(err, workspace.ErrInvalidIdentifier) {
		t.Errorf("bad user: err = %v", err)
	}
}
