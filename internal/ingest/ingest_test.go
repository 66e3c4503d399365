package ingest

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tessera-kb/tessera/internal/log"
)

const articleHTML = `<!DOCTYPE html>
<html>
<head><title>Retrieval Design Notes</title></head>
<body>
<article>
<h1>Retrieval Design Notes</h1>
<p>Semantic search converts every chunk of text into a fixed-dimension vector
and ranks candidates by cosine distance. The index stores the exact embedded
text alongside the vector so retrieved passages can ground generated answers
without a second lookup.</p>
<p>Post-query filters cover the predicates the index cannot express natively,
such as author matching and inclusive date ranges over document timestamps.</p>
</article>
<script>console.log("noise")</script>
</body>
</html>`

func TestFetchURLExtractsArticle(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(articleHTML))
	}))
	defer srv.Close()

	f := NewFetcher(log.NewNop())
	doc, err := f.FetchURL(context.Background(), srv.URL+"/notes")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if doc.Title != "Retrieval Design Notes" {
		t.Errorf("unexpected title %q", doc.Title)
	}
	if !strings.Contains(doc.Content, "cosine distance") {
		t.Errorf("article text not extracted: %q", doc.Content)
	}
	if strings.Contains(doc.Content, "console.log") {
		t.Error("script content leaked into document")
	}
	if doc.DocType != "web" || doc.SourceURL == "" || doc.ID == "" {
		t.Errorf("document fields not populated: %+v", doc)
	}
}

func TestFetchURLRejectsBadScheme(t *testing.T) {
	f := NewFetcher(log.NewNop())
	if _, err := f.FetchURL(context.Background(), "ftp://example.com/file"); err == nil {
		t.Error("expected error for non-http scheme")
	}
}

func TestFetchURLRejectsBadStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "gone", http.StatusNotFound)
	}))
	defer srv.Close()

	f := NewFetcher(log.NewNop())
	if _, err := f.FetchURL(context.Background(), srv.URL); err == nil {
		t.Error("expected error for 404 response")
	}
}

func TestFetchURLRejectsEmptyContent(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "text/html")
		_, _ = w.Write([]byte(`<html><head><title>Empty</title></head><body></body></html>`))
	}))
	defer srv.Close()

	f := NewFetcher(log.NewNop())
	if _, err := f.FetchURL(context.Background(), srv.URL); err == nil {
		t.Error("expected error for page with no textual content")
	}
}

func TestScrapeFallback(t *testing.T) {
	html := `<html><head><title>Plain Page</title></head><body>
	<div>first part</div><style>.x{}</style><div>second   part</div></body></html>`

	title, content, err := scrape(strings.NewReader(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if title != "Plain Page" {
		t.Errorf("unexpected title %q", title)
	}
	if content != "first part second part" {
		t.Errorf("unexpected content %q", content)
	}
}

func TestScrapeFallbackNestedBlocks(t *testing.T) {
	// Container elements must not duplicate the text of the blocks inside
	// them, and adjacent blocks must not run together.
	html := `<html><body><div class="wrap">
	<h2>Heading</h2><p>one</p><ul><li>two</li><li>three</li></ul>
	</div></body></html>`

	_, content, err := scrape(strings.NewReader(html))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if content != "Heading one two three" {
		t.Errorf("unexpected content %q", content)
	}
}
