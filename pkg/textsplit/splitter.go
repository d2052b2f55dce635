// Package textsplit turns normalized book text into overlapping
// retrieval-sized chunks.
package textsplit

import (
	"strings"
	"unicode/utf8"
)

// Defaults for chunk sizing, in Unicode characters.
const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// defaultSeparators order natural boundaries from coarse to fine:
// paragraphs, lines, sentence ends, words. Pieces that no separator can
// shrink below the size limit are hard-split on a rune boundary.
var defaultSeparators = []string{"\n\n", "\n", ". ", "! ", "? ", " "}

// Splitter splits text into chunks of at most chunkSize characters,
// where each chunk after the first starts with the previous chunk's
// last overlap characters. Splitting prefers natural boundaries and
// keeps separators attached, so stripping the overlap prefix from every
// chunk and concatenating reconstructs the input exactly.
type Splitter struct {
	chunkSize  int
	overlap    int
	separators []string
}

// New returns a Splitter with the given chunk size and overlap, both in
// Unicode characters. Non-positive sizes fall back to the defaults; an
// overlap at or above the chunk size is clamped below it.
func New(chunkSize, overlap int) *Splitter {
	if chunkSize <= 0 {
		chunkSize = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultOverlap
	}
	if overlap >= chunkSize {
		overlap = chunkSize - 1
	}
	return &Splitter{
		chunkSize:  chunkSize,
		overlap:    overlap,
		separators: defaultSeparators,
	}
}

// ChunkSize reports the configured maximum chunk length.
func (s *Splitter) ChunkSize() int { return s.chunkSize }

// Overlap reports the configured overlap length.
func (s *Splitter) Overlap() int { return s.overlap }

// Split chunks text. Whitespace-only input produces no chunks; every
// produced chunk is non-empty and at most ChunkSize characters, and
// chunk order follows source order.
func (s *Splitter) Split(text string) []string {
	if strings.TrimSpace(text) == "" {
		return nil
	}

	// Pieces are capped at chunkSize-overlap so a fresh chunk always
	// has room for its overlap prefix plus at least one whole piece.
	pieces := s.pieces(text, s.separators)

	var chunks []string
	cur := make([]rune, 0, s.chunkSize)
	for _, piece := range pieces {
		pr := []rune(piece)
		if len(cur) > 0 && len(cur)+len(pr) > s.chunkSize {
			chunks = append(chunks, string(cur))
			tailLen := s.overlap
			if tailLen > len(cur) {
				tailLen = len(cur)
			}
			next := make([]rune, tailLen, s.chunkSize)
			copy(next, cur[len(cur)-tailLen:])
			cur = next
		}
		cur = append(cur, pr...)
	}
	if len(cur) > 0 {
		chunks = append(chunks, string(cur))
	}
	return chunks
}

// pieces recursively splits text until every piece fits the merge
// limit, trying each separator in order and keeping it attached to the
// preceding piece. Exhausted separators end in a hard rune split.
func (s *Splitter) pieces(text string, separators []string) []string {
	limit := s.chunkSize - s.overlap
	if limit < 1 {
		limit = 1
	}
	if utf8.RuneCountInString(text) <= limit {
		return []string{text}
	}
	if len(separators) == 0 {
		return hardSplit(text, limit)
	}

	sep, rest := separators[0], separators[1:]
	parts := strings.SplitAfter(text, sep)
	if len(parts) == 1 {
		return s.pieces(text, rest)
	}

	var out []string
	for _, part := range parts {
		if part == "" {
			continue
		}
		if utf8.RuneCountInString(part) <= limit {
			out = append(out, part)
			continue
		}
		out = append(out, s.pieces(part, rest)...)
	}
	return out
}

// hardSplit cuts text into limit-sized rune slices.
func hardSplit(text string, limit int) []string {
	runes := []rune(text)
	out := make([]string, 0, (len(runes)+limit-1)/limit)
	for start := 0; start < len(runes); start += limit {
		end := start + limit
		if end > len(runes) {
			end = len(runes)
		}
		out = append(out, string(runes[start:end]))
	}
	return out
}
