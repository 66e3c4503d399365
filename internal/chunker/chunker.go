// Package chunker splits document text into overlapping, sentence-aware
// segments for embedding.
//
// Chunking is a pure function of its inputs: the same text, size and overlap
// always produce the same chunks, with no shared state. The window slides by
// size−overlap characters so adjacent chunks share context, and the cut point
// backs up to the last sentence terminator when one exists past the midpoint
// of the window, so typical prose is never split mid-sentence.
package chunker

import (
	"errors"
	"fmt"
	"strings"
)

// Default chunking parameters, shared with config defaults.
const (
	DefaultChunkSize = 512
	DefaultOverlap   = 50
)

// ErrOverlap indicates overlap >= chunk size, which would stall the sliding
// window. This is a configuration error and must be rejected before any
// chunking runs.
var ErrOverlap = errors.New("chunk overlap must be smaller than chunk size")

// sentence terminators searched for inside a window, in "terminator + space"
// form so abbreviations followed by text ("e.g. foo") still count but
// mid-token periods ("v1.2") do not.
var sentenceEnds = []string{". ", "? ", "! "}

// Chunk splits text into segments of at most size runes with the given
// overlap between consecutive segments. Whitespace-only segments are
// dropped. Empty input yields a nil slice.
func Chunk(text string, size, overlap int) ([]string, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("%w: size=%d overlap=%d", ErrOverlap, size, overlap)
	}

	runes := []rune(text)
	if len(runes) == 0 {
		return nil, nil
	}

	var chunks []string
	start := 0
	for start < len(runes) {
		end := start + size
		if end >= len(runes) {
			appendTrimmed(&chunks, runes[start:])
			break
		}

		window := runes[start:end]
		// Back up to the last sentence boundary, but only when it sits past
		// the midpoint: cutting earlier would produce degenerate chunks and
		// the window already bounds worst-case growth.
		if cut := lastSentenceEnd(window); cut > size/2 {
			end = start + cut + 1
			window = runes[start:end]
		}
		appendTrimmed(&chunks, window)

		next := end - overlap
		if next <= start {
			// Sentence cut landed so early that the overlap would rewind the
			// window. Advance past the cut instead of looping in place.
			next = end
		}
		start = next
	}

	return chunks, nil
}

// lastSentenceEnd returns the rune index of the last sentence terminator in
// window, or -1 when none exists.
func lastSentenceEnd(window []rune) int {
	s := string(window)
	last := -1
	for _, end := range sentenceEnds {
		if i := strings.LastIndex(s, end); i > last {
			last = i
		}
	}
	if last < 0 {
		return -1
	}
	// Byte index back to rune index; terminators are single-byte so the
	// terminator itself needs no width adjustment.
	return len([]rune(s[:last]))
}

func appendTrimmed(chunks *[]string, window []rune) {
	if s := strings.TrimSpace(string(window)); s != "" {
		*chunks = append(*chunks, s)
	}
}
