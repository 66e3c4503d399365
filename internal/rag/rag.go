// Package rag composes grounded answers from retrieved passages. Generation
// is a best-effort enhancement layered on top of search: any backend failure
// degrades to a nil answer, never to a failed search.
package rag

import (
	"context"
	"fmt"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/tessera-kb/tessera/internal/index"
	"github.com/tessera-kb/tessera/internal/log"
	"github.com/tessera-kb/tessera/internal/retrieval"
)

// maxContextSources bounds how many retrieved passages enter the prompt.
const maxContextSources = 5

// contextSeparator visibly divides source blocks in the prompt.
const contextSeparator = "\n\n---\n\n"

// systemInstruction pins generation to the retrieved context.
const systemInstruction = `You are a knowledge-base assistant. Answer the question using ONLY the provided context sources.
Cite sources by their [Source N] label when you use them.
If the context does not contain enough information to answer, say so plainly instead of guessing.`

// Stream event types. Done and Error are distinct terminal markers so
// consumers can tell a completed stream from one that died mid-generation.
const (
	EventStatus  = "status"
	EventSources = "sources"
	EventContent = "content"
	EventDone    = "done"
	EventError   = "error"
)

// StreamEvent is one increment of a streaming answer.
type StreamEvent struct {
	Type    string   `json:"type"`
	Text    string   `json:"text,omitempty"`
	Sources []Source `json:"sources,omitempty"`
	Message string   `json:"message,omitempty"`
}

// Source describes one retrieved passage backing the answer.
type Source struct {
	Title      string  `json:"title"`
	Similarity float64 `json:"similarity"`
	SourceURL  string  `json:"source_url,omitempty"`
	VaultPath  string  `json:"vault_path,omitempty"`
}

// Generator is a chat-style completion backend. Hosted-API and CLI-subprocess
// implementations are interchangeable behind this interface; cancellation
// propagates through the context.
type Generator interface {
	Generate(ctx context.Context, system, prompt string) (string, error)
	GenerateStream(ctx context.Context, system, prompt string, fn func(text string) error) error
}

// Composer turns retrieved matches into a grounded answer.
type Composer struct {
	gen     Generator
	logger  log.Logger
	limiter *rate.Limiter
	timeout time.Duration
}

// Option configures a Composer.
type Option func(*Composer)

// WithTimeout bounds a single generation call.
func WithTimeout(d time.Duration) Option {
	return func(c *Composer) { c.timeout = d }
}

// WithRateLimit throttles generation calls across all requests.
func WithRateLimit(l *rate.Limiter) Option {
	return func(c *Composer) { c.limiter = l }
}

// NewComposer creates a Composer with a 60s default timeout and no rate
// limit.
func NewComposer(gen Generator, logger log.Logger, opts ...Option) *Composer {
	if logger == nil {
		logger = log.NewNop()
	}
	c := &Composer{
		gen:     gen,
		logger:  logger,
		limiter: rate.NewLimiter(rate.Inf, 0),
		timeout: 60 * time.Second,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Compose generates an answer grounded in the top matches. Any failure —
// backend unavailable, timeout, rate-limit wait canceled — is logged and
// returns nil; the caller's search response succeeds regardless.
func (c *Composer) Compose(ctx context.Context, query string, matches []retrieval.Match) *string {
	if len(matches) == 0 {
		return nil
	}

	if err := c.limiter.Wait(ctx); err != nil {
		c.logger.Warn("answer generation rate-limit wait canceled", "error", err)
		return nil
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	answer, err := c.gen.Generate(genCtx, systemInstruction, buildPrompt(query, matches))
	if err != nil {
		c.logger.Warn("answer generation failed, degrading to results-only", "error", err)
		return nil
	}
	if strings.TrimSpace(answer) == "" {
		return nil
	}
	return &answer
}

// ComposeStream generates an answer in streaming mode, forwarding each
// increment through emit. The event order is status, sources, zero or more
// content events, then exactly one terminal done or error event. A backend
// failure becomes a terminal error event, not a returned error; only emit
// failures (consumer gone) propagate, which also cancels generation.
func (c *Composer) ComposeStream(ctx context.Context, query string, matches []retrieval.Match, emit func(StreamEvent) error) error {
	if err := emit(StreamEvent{Type: EventStatus, Message: "generating answer"}); err != nil {
		return fmt.Errorf("emitting status: %w", err)
	}
	if err := emit(StreamEvent{Type: EventSources, Sources: SourcesFromMatches(matches)}); err != nil {
		return fmt.Errorf("emitting sources: %w", err)
	}

	if len(matches) == 0 {
		return emit(StreamEvent{Type: EventDone, Message: "no relevant sources found"})
	}

	if err := c.limiter.Wait(ctx); err != nil {
		return emit(StreamEvent{Type: EventError, Message: "generation unavailable"})
	}

	genCtx, cancel := context.WithTimeout(ctx, c.timeout)
	defer cancel()

	var emitErr error
	err := c.gen.GenerateStream(genCtx, systemInstruction, buildPrompt(query, matches), func(text string) error {
		if err := emit(StreamEvent{Type: EventContent, Text: text}); err != nil {
			emitErr = err
			return err
		}
		return nil
	})
	if emitErr != nil {
		// The consumer disconnected; cancel propagated to the backend, and
		// there is nobody left to send a terminal event to.
		return fmt.Errorf("emitting content: %w", emitErr)
	}
	if err != nil {
		c.logger.Warn("streaming generation failed", "error", err)
		return emit(StreamEvent{Type: EventError, Message: "answer generation failed"})
	}

	return emit(StreamEvent{Type: EventDone})
}

// SourcesFromMatches converts the top matches into user-facing source
// descriptors, in match order.
func SourcesFromMatches(matches []retrieval.Match) []Source {
	n := len(matches)
	if n > maxContextSources {
		n = maxContextSources
	}
	sources := make([]Source, 0, n)
	for _, m := range matches[:n] {
		sources = append(sources, Source{
			Title:      matchTitle(m),
			Similarity: m.Similarity,
			SourceURL:  index.MetaString(m.Metadata, "source_url"),
			VaultPath:  index.MetaString(m.Metadata, "vault_path"),
		})
	}
	return sources
}

// buildPrompt assembles the user prompt: labeled context blocks followed by
// the question.
func buildPrompt(query string, matches []retrieval.Match) string {
	n := len(matches)
	if n > maxContextSources {
		n = maxContextSources
	}

	blocks := make([]string, 0, n)
	for i, m := range matches[:n] {
		blocks = append(blocks, fmt.Sprintf("[Source %d: %s]\n%s", i+1, matchTitle(m), m.Text))
	}

	var b strings.Builder
	b.WriteString("Context:\n\n")
	b.WriteString(strings.Join(blocks, contextSeparator))
	b.WriteString("\n\nQuestion: ")
	b.WriteString(query)
	return b.String()
}

// matchTitle picks a human-readable label for a match: document title, code
// chunk name, or the vector ID as a last resort.
func matchTitle(m retrieval.Match) string {
	if t := index.MetaString(m.Metadata, "document_title"); t != "" {
		return t
	}
	if n := index.MetaString(m.Metadata, "chunk_name"); n != "" {
		return n
	}
	return m.ID
}
