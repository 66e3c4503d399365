// Package ingest imports external content into documents. The URL fetcher
// extracts readable article text, falling back to a plain DOM scrape when
// readability extraction fails.
package ingest

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/go-shiori/go-readability"
	"github.com/google/uuid"

	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/store"
)

// maxFetchBytes bounds how much of a page is read.
const maxFetchBytes = 10 << 20

const userAgent = "tessera-importer/1.0"

// Fetcher imports web pages as documents.
type Fetcher struct {
	client *http.Client
	logger log.Logger
}

// NewFetcher creates a Fetcher with a 30s request timeout.
func NewFetcher(logger log.Logger) *Fetcher {
	if logger == nil {
		logger = log.NewNop()
	}
	return &Fetcher{
		client: &http.Client{Timeout: 30 * time.Second},
		logger: logger,
	}
}

// FetchURL downloads a page and extracts a document from it. The returned
// document has a fresh ID and doc type "web"; persisting and indexing it is
// the caller's job.
func (f *Fetcher) FetchURL(ctx context.Context, rawURL string) (store.Document, error) {
	pageURL, err := url.Parse(rawURL)
	if err != nil {
		return store.Document{}, fmt.Errorf("parsing URL %q: %w", rawURL, err)
	}
	if pageURL.Scheme != "http" && pageURL.Scheme != "https" {
		return store.Document{}, fmt.Errorf("unsupported URL scheme %q", pageURL.Scheme)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL.String(), nil)
	if err != nil {
		return store.Document{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("User-Agent", userAgent)

	resp, err := f.client.Do(req)
	if err != nil {
		return store.Document{}, fmt.Errorf("fetching %q: %w", rawURL, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return store.Document{}, fmt.Errorf("fetching %q: unexpected status %d", rawURL, resp.StatusCode)
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return store.Document{}, fmt.Errorf("reading %q: %w", rawURL, err)
	}

	doc := store.Document{
		ID:        uuid.New().String(),
		DocType:   "web",
		SourceURL: pageURL.String(),
	}

	article, err := readability.FromReader(bytes.NewReader(body), pageURL)
	if err == nil && strings.TrimSpace(article.TextContent) != "" {
		doc.Title = article.Title
		doc.Summary = article.Excerpt
		doc.Author = article.Byline
		doc.Content = strings.TrimSpace(article.TextContent)
	} else {
		f.logger.Debug("readability extraction failed, falling back to DOM scrape",
			"url", rawURL, "error", err)
		title, content, scrapeErr := scrape(bytes.NewReader(body))
		if scrapeErr != nil {
			return store.Document{}, fmt.Errorf("extracting content from %q: %w", rawURL, scrapeErr)
		}
		doc.Title = title
		doc.Content = content
	}

	if doc.Title == "" {
		doc.Title = pageURL.Host + pageURL.Path
	}
	if strings.TrimSpace(doc.Content) == "" {
		return store.Document{}, fmt.Errorf("no textual content extracted from %q", rawURL)
	}

	f.logger.Info("fetched document", "url", rawURL, "title", doc.Title, "content_length", len(doc.Content))
	return doc, nil
}

// scrape is the fallback extractor: strip non-content tags and join the
// block-level text. Blocks are collected individually because Text() on the
// whole body concatenates adjacent elements without any separator, running
// words together.
func scrape(r io.Reader) (title, content string, err error) {
	dom, err := goquery.NewDocumentFromReader(r)
	if err != nil {
		return "", "", fmt.Errorf("parsing HTML: %w", err)
	}

	dom.Find("script, style, noscript, nav, footer").Remove()
	title = strings.TrimSpace(dom.Find("title").First().Text())

	const blockSelector = "h1, h2, h3, h4, h5, h6, p, li, div"
	var blocks []string
	dom.Find(blockSelector).Each(func(_ int, s *goquery.Selection) {
		// Container divs would duplicate the text of the blocks inside them.
		if s.Is("div") && s.Find(blockSelector).Length() > 0 {
			return
		}
		if t := collapseWhitespace(s.Text()); t != "" {
			blocks = append(blocks, t)
		}
	})
	content = strings.Join(blocks, " ")

	// Pages without block markup still yield their raw body text.
	if content == "" {
		content = collapseWhitespace(dom.Find("body").Text())
	}
	return title, content, nil
}

func collapseWhitespace(s string) string {
	return strings.Join(strings.Fields(s), " ")
}
