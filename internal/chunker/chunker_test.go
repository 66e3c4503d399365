package chunker

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestChunkEmptyInput(t *testing.T) {
	tests := []struct {
		name string
		text string
	}{
		{"empty string", ""},
		{"whitespace only", "   \n\t  "},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			chunks, err := Chunk(tt.text, DefaultChunkSize, DefaultOverlap)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(chunks) != 0 {
				t.Errorf("expected no chunks, got %d", len(chunks))
			}
		})
	}
}

func TestChunkRejectsBadOverlap(t *testing.T) {
	tests := []struct {
		name    string
		size    int
		overlap int
	}{
		{"overlap equals size", 100, 100},
		{"overlap exceeds size", 100, 150},
		{"negative overlap", 100, -1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Chunk("some text", tt.size, tt.overlap)
			if tt.overlap >= 0 && !errors.Is(err, ErrOverlap) {
				t.Errorf("expected ErrOverlap, got %v", err)
			}
			if err == nil {
				t.Error("expected error, got nil")
			}
		})
	}
}

func TestChunkZeroSizeRejected(t *testing.T) {
	if _, err := Chunk("text", 0, 0); err == nil {
		t.Error("expected error for zero chunk size")
	}
}

func TestChunkShortTextSingleChunk(t *testing.T) {
	chunks, err := Chunk("A short note.", DefaultChunkSize, DefaultOverlap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) != 1 {
		t.Fatalf("expected 1 chunk, got %d", len(chunks))
	}
	if chunks[0] != "A short note." {
		t.Errorf("unexpected chunk: %q", chunks[0])
	}
}

func TestChunkSentenceBoundaryPreferred(t *testing.T) {
	// With size=20 the hard cut would land inside "Sentence two.", but a
	// terminator sits past the window midpoint, so the cut backs up to it.
	text := "Sentence one. Sentence two. Sentence three."
	chunks, err := Chunk(text, 20, 5)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) == 0 {
		t.Fatal("expected chunks")
	}
	if chunks[0] != "Sentence one." {
		t.Errorf("first chunk should end at sentence boundary, got %q", chunks[0])
	}
	// "Sentence two." must appear intact in some chunk.
	found := false
	for _, c := range chunks {
		if strings.Contains(c, "Sentence two.") {
			found = true
			break
		}
	}
	if !found {
		t.Errorf("no chunk contains \"Sentence two.\" intact: %v", chunks)
	}
}

func TestChunkNoEmptyChunks(t *testing.T) {
	text := strings.Repeat("word ", 400)
	chunks, err := Chunk(text, 128, 20)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks {
		if strings.TrimSpace(c) == "" {
			t.Errorf("chunk %d is empty or whitespace", i)
		}
	}
}

func TestChunkCoversInput(t *testing.T) {
	// Every position of the input should be covered by some chunk. The
	// fixture uses numbered sentences so each chunk occurs exactly once and
	// first-match search localizes it at its true position; a periodic
	// fixture would pin chunks to earlier repetitions and undercount.
	var b strings.Builder
	for i := 0; b.Len() < 2200; i++ {
		fmt.Fprintf(&b, "Numbered sentence %03d about retrieval. ", i)
	}
	text := b.String()

	size, overlap := 100, 20
	chunks, err := Chunk(text, size, overlap)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chunks) < 2 {
		t.Fatalf("expected multiple chunks, got %d", len(chunks))
	}

	// Reassemble: each chunk must be findable in the original at or after
	// the previous chunk's start, with no gap larger than the overlap.
	searchFrom := 0
	coveredTo := 0
	for i, c := range chunks {
		pos := strings.Index(text[searchFrom:], c)
		if pos < 0 {
			t.Fatalf("chunk %d not found in source text", i)
		}
		absStart := searchFrom + pos
		// Trimming can strip boundary whitespace, so tolerate gaps up to the
		// overlap width; anything larger means content was dropped.
		if absStart > coveredTo+overlap {
			t.Errorf("gap before chunk %d: starts at %d but covered only to %d", i, absStart, coveredTo)
		}
		if end := absStart + len(c); end > coveredTo {
			coveredTo = end
		}
		searchFrom = absStart + 1
	}
	// Trailing whitespace is trimmed from the last chunk, so allow slack.
	if coveredTo < len(strings.TrimSpace(text)) {
		t.Errorf("chunks cover only %d of %d characters", coveredTo, len(strings.TrimSpace(text)))
	}

	// The tail must survive verbatim: the final chunk is an exact suffix of
	// the trimmed input.
	if last := chunks[len(chunks)-1]; !strings.HasSuffix(strings.TrimSpace(text), last) {
		t.Errorf("last chunk is not a suffix of the input: %q", last)
	}
}

func TestChunkUTF8Safe(t *testing.T) {
	text := strings.Repeat("知識庫平台測試內容。", 100)
	chunks, err := Chunk(text, 64, 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	for i, c := range chunks {
		if !strings.ContainsRune(c, '知') && !strings.ContainsRune(c, '識') {
			continue
		}
		for _, r := range c {
			if r == '�' {
				t.Errorf("chunk %d contains replacement character, multi-byte rune was split", i)
			}
		}
	}
}

func TestChunkDeterministic(t *testing.T) {
	text := strings.Repeat("Alpha beta gamma. Delta epsilon zeta. ", 30)
	a, err := Chunk(text, 90, 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	b, err := Chunk(text, 90, 15)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(a) != len(b) {
		t.Fatalf("non-deterministic chunk count: %d vs %d", len(a), len(b))
	}
	for i := range a {
		if a[i] != b[i] {
			t.Errorf("chunk %d differs between runs", i)
		}
	}
}
