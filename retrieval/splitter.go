package retrieval

import (
	"strings"
	"unicode/utf8"
)

// Default chunking parameters.
const (
	DefaultChunkSize    = 1000
	DefaultChunkOverlap = 200
)

// DefaultSeparators are tried in order, coarsest first.
var DefaultSeparators = []string{"\n\n", "\n", " ", ""}

// LengthFunc measures a piece of text.
type LengthFunc func(string) int

// RuneLength counts Unicode code points.
func RuneLength(s string) int {
	return utf8.RuneCountInString(s)
}

// Splitter is a recursive character splitter. It splits on the coarsest
// separator present, merges pieces up to Size, and recurses into pieces that
// are still too large with the next separator. Separators stay attached to
// the piece that follows them.
type Splitter struct {
	Size       int
	Overlap    int
	Separators []string
	Length     LengthFunc
}

// NewSplitter returns a splitter with the given size and overlap. Values
// that are not positive fall back to the defaults; overlap is clamped below
// size.
func NewSplitter(size, overlap int) *Splitter {
	if size <= 0 {
		size = DefaultChunkSize
	}
	if overlap < 0 {
		overlap = DefaultChunkOverlap
	}
	if overlap >= size {
		overlap = size / 5
	}
	return &Splitter{
		Size:       size,
		Overlap:    overlap,
		Separators: DefaultSeparators,
		Length:     RuneLength,
	}
}

// Split breaks text into trimmed, non-empty chunks.
func (s *Splitter) Split(text string) []string {
	seps := s.Separators
	if len(seps) == 0 {
		seps = DefaultSeparators
	}
	return s.split(text, seps)
}

func (s *Splitter) length(text string) int {
	if s.Length == nil {
		return RuneLength(text)
	}
	return s.Length(text)
}

func (s *Splitter) split(text string, separators []string) []string {
	separator := separators[len(separators)-1]
	var next []string
	for i, sep := range separators {
		if sep == "" {
			separator = sep
			break
		}
		if strings.Contains(text, sep) {
			separator = sep
			next = separators[i+1:]
			break
		}
	}

	var out, good []string
	for _, piece := range splitKeep(text, separator) {
		if s.length(piece) < s.Size {
			good = append(good, piece)
			continue
		}
		if len(good) > 0 {
			out = append(out, s.merge(good)...)
			good = nil
		}
		if len(next) == 0 {
			if trimmed := strings.TrimSpace(piece); trimmed != "" {
				out = append(out, trimmed)
			}
			continue
		}
		out = append(out, s.split(piece, next)...)
	}
	if len(good) > 0 {
		out = append(out, s.merge(good)...)
	}
	return out
}

// merge packs pieces into chunks no longer than Size. After each chunk is
// emitted, pieces are dropped from the front until at most Overlap remains.
func (s *Splitter) merge(pieces []string) []string {
	var chunks, current []string
	total := 0
	for _, piece := range pieces {
		n := s.length(piece)
		if total+n > s.Size && len(current) > 0 {
			if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
				chunks = append(chunks, chunk)
			}
			for total > s.Overlap || (total+n > s.Size && total > 0) {
				total -= s.length(current[0])
				current = current[1:]
			}
		}
		current = append(current, piece)
		total += n
	}
	if chunk := strings.TrimSpace(strings.Join(current, "")); chunk != "" {
		chunks = append(chunks, chunk)
	}
	return chunks
}

// splitKeep cuts text before every occurrence of sep. An empty sep splits
// into runes. Empty pieces are dropped.
func splitKeep(text, sep string) []string {
	if sep == "" {
		out := make([]string, 0, len(text))
		for _, r := range text {
			out = append(out, string(r))
		}
		return out
	}

	var out []string
	start := 0
	for i := 1; i < len(text); i++ {
		if strings.HasPrefix(text[i:], sep) {
			if i > start {
				out = append(out, text[start:i])
			}
			start = i
		}
	}
	if start < len(text) {
		out = append(out, text[start:])
	}
	return out
}
