package textproc

import (
	"errors"
	"fmt"
	"unicode/utf8"
)

// ErrInvalidConfig reports chunking parameters that cannot produce a
// terminating chunk sequence. It is fatal for the caller: fix the
// configuration, do not retry.
var ErrInvalidConfig = errors.New("invalid chunking configuration")

// ChunkConfig controls how source text is windowed. Lengths are in
// bytes; every cut lands on a UTF-8 rune boundary, so chunks may run a
// few bytes short of Size on multi-byte text.
type ChunkConfig struct {
	// Size is the target chunk length.
	Size int
	// Overlap is how much consecutive chunks share.
	Overlap int
	// Lookback is how far to scan backward from a hard cut for a
	// sentence boundary. Zero disables boundary snapping.
	Lookback int
}

// DefaultChunkConfig mirrors the ingestion defaults: 1000-byte chunks
// with 200 bytes of overlap and a 100-byte sentence lookback.
func DefaultChunkConfig() ChunkConfig {
	return ChunkConfig{Size: 1000, Overlap: 200, Lookback: 100}
}

// Span is one produced chunk with its position in the source text.
// Text is always exactly the source slice [Start:End), so concatenating
// spans in index order with overlaps removed reconstructs the source.
type Span struct {
	Index int
	Start int
	End   int
	Text  string
}

// Chunk splits normalized text into overlapping windows. Chunk i starts
// at max(0, end(i-1) - Overlap). Each window is Size bytes except the
// last. Before cutting at a hard offset the window shrinks to the
// nearest sentence end (., !, ?) followed by whitespace within the
// lookback range, so sentences are not split mid-stream; failing that,
// the cut backs up to the nearest rune boundary so multi-byte text is
// never torn.
//
// Chunk is pure and deterministic: the same text and config always
// yield the same spans. Empty text yields no spans.
func Chunk(text string, cfg ChunkConfig) ([]Span, error) {
	if cfg.Size <= 0 {
		return nil, fmt.Errorf("%w: size %d must be positive", ErrInvalidConfig, cfg.Size)
	}
	if cfg.Overlap < 0 || cfg.Overlap >= cfg.Size {
		return nil, fmt.Errorf("%w: overlap %d must be in [0, %d)", ErrInvalidConfig, cfg.Overlap, cfg.Size)
	}
	if text == "" {
		return nil, nil
	}

	var spans []Span
	start := 0
	for start < len(text) {
		end := start + cfg.Size
		if end >= len(text) {
			end = len(text)
		} else {
			if b := sentenceBoundary(text, end, cfg.Lookback); b > start+cfg.Overlap {
				// Snapping must still advance past the next chunk's
				// overlap region or the sequence would stall.
				end = b
			}
			// A cut inside a multi-byte rune would leave both
			// neighboring chunks holding invalid UTF-8.
			for end > start && !utf8.RuneStart(text[end]) {
				end--
			}
			if end == start {
				// Window narrower than the rune at start; emit the
				// whole rune rather than a torn one.
				end = start + 1
				for end < len(text) && !utf8.RuneStart(text[end]) {
					end++
				}
			}
		}

		spans = append(spans, Span{
			Index: len(spans),
			Start: start,
			End:   end,
			Text:  text[start:end],
		})

		if end == len(text) {
			break
		}
		next := end - cfg.Overlap
		for next > 0 && !utf8.RuneStart(text[next]) {
			next--
		}
		if next <= start {
			// Rune alignment consumed the whole step; give up the
			// overlap for this pair instead of stalling.
			next = end
		}
		start = next
	}
	return spans, nil
}

// sentenceBoundary scans backward from the hard cut at end, at most
// lookback bytes, for sentence-ending punctuation followed by
// whitespace. It returns the offset just past the punctuation, or 0
// when no boundary exists in the window.
func sentenceBoundary(text string, end, lookback int) int {
	low := end - lookback
	if low < 1 {
		low = 1
	}
	for i := end - 1; i >= low; i-- {
		switch text[i-1] {
		case '.', '!', '?':
			if isSpace(text[i]) {
				return i
			}
		}
	}
	return 0
}

func isSpace(b byte) bool {
	return b == ' ' || b == '\n' || b == '\t' || b == '\r'
}
