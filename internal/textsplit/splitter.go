// Package textsplit breaks extracted text into overlapping passages sized
// for embedding.
package textsplit

import (
	"errors"
	"strings"
	"unicode/utf8"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// DefaultSeparators are tried in order, coarsest first. The empty separator
// splits between characters.
var DefaultSeparators = []string{"\n\n", "\n", ". ", " ", ""}

// ErrInvalidSize is returned for a non-positive size or an overlap that is
// not smaller than the size.
var ErrInvalidSize = errors.New("invalid chunk size or overlap")

// Splitter is a recursive character splitter. Sizes are in characters.
type Splitter struct {
	size       int
	overlap    int
	separators []string
}

// New creates a Splitter with DefaultSeparators.
func New(size, overlap int) (*Splitter, error) {
	if size <= 0 || overlap < 0 || overlap >= size {
		return nil, ErrInvalidSize
	}
	return &Splitter{size: size, overlap: overlap, separators: DefaultSeparators}, nil
}

// Split returns the passages of text, trimmed of surrounding whitespace.
// Blank text yields no passages.
func (s *Splitter) Split(text string) []string {
	var out []string
	for _, c := range s.split(text, s.separators) {
		if c = strings.TrimSpace(c); c != "" {
			out = append(out, c)
		}
	}
	return out
}

func (s *Splitter) split(text string, separators []string) []string {
	sep := separators[len(separators)-1]
	var rest []string
	for i, candidate := range separators {
		if candidate == "" {
			sep = ""
			break
		}
		if strings.Contains(text, candidate) {
			sep = candidate
			rest = separators[i+1:]
			break
		}
	}

	var parts []string
	if sep == "" {
		parts = splitChars(text)
	} else {
		parts = strings.Split(text, sep)
	}

	var chunks, fits []string
	for _, p := range parts {
		if utf8.RuneCountInString(p) < s.size {
			fits = append(fits, p)
			continue
		}
		if len(fits) > 0 {
			chunks = append(chunks, s.merge(fits, sep)...)
			fits = nil
		}
		if len(rest) == 0 {
			chunks = append(chunks, p)
		} else {
			chunks = append(chunks, s.split(p, rest)...)
		}
	}
	if len(fits) > 0 {
		chunks = append(chunks, s.merge(fits, sep)...)
	}
	return chunks
}

// merge packs parts into chunks of at most size characters, carrying up to
// overlap characters from the end of one chunk into the next.
func (s *Splitter) merge(parts []string, sep string) []string {
	sepLen := utf8.RuneCountInString(sep)
	var (
		chunks  []string
		current []string
		total   int
	)
	joinCost := func() int {
		if len(current) > 0 {
			return sepLen
		}
		return 0
	}

	for _, p := range parts {
		n := utf8.RuneCountInString(p)
		if total+n+joinCost() > s.size && len(current) > 0 {
			if c := strings.Join(current, sep); strings.TrimSpace(c) != "" {
				chunks = append(chunks, c)
			}
			for total > s.overlap || (total > 0 && total+n+joinCost() > s.size) {
				drop := utf8.RuneCountInString(current[0])
				if len(current) > 1 {
					drop += sepLen
				}
				total -= drop
				current = current[1:]
			}
		}
		current = append(current, p)
		total += n
		if len(current) > 1 {
			total += sepLen
		}
	}
	if c := strings.Join(current, sep); strings.TrimSpace(c) != "" {
		chunks = append(chunks, c)
	}
	return chunks
}

func splitChars(text string) []string {
	out := make([]string, 0, len(text))
	for _, r := range text {
		out = append(out, string(r))
	}
	return out
}
