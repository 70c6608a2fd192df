// Package ingest cuts notes into token windows, embeds them and writes the
// resulting chunks to a store under one owner.
package ingest

import (
	"strings"
	"unicode"

	"github.com/fyrsmithlabs/notesrag/internal/tokens"
)

// Split defaults.
const (
	DefaultWindow  = 256
	DefaultOverlap = 32
)

// Split cuts text into pieces of at most window tokens, each starting
// overlap tokens before the end of the previous one. Cuts fall on
// whitespace when one exists in the back half of a window. Whitespace-only
// input yields no pieces.
func Split(counter tokens.Counter, text string, window, overlap int) []string {
	if window <= 0 {
		window = DefaultWindow
	}
	if overlap < 0 || overlap >= window {
		overlap = 0
	}

	rest := strings.TrimSpace(text)
	var pieces []string
	for rest != "" {
		piece := counter.Truncate(rest, window)
		if piece == "" {
			// a single rune wider than the window; take it whole
			piece = firstRune(rest)
		}
		if len(piece) < len(rest) {
			piece = backToSpace(piece)
		}
		if p := strings.TrimSpace(piece); p != "" {
			pieces = append(pieces, p)
		}
		if len(piece) >= len(rest) {
			break
		}

		step := len(piece)
		if overlap > 0 {
			head := backToSpace(counter.Truncate(piece, counter.Count(piece)-overlap))
			if len(head) > 0 {
				step = len(head)
			}
		}
		rest = strings.TrimLeftFunc(rest[step:], unicode.IsSpace)
	}
	return pieces
}

// backToSpace shortens s to its last whitespace if that keeps at least half
// of it.
func backToSpace(s string) string {
	i := strings.LastIndexFunc(s, unicode.IsSpace)
	if i > len(s)/2 {
		return s[:i]
	}
	return s
}

func firstRune(s string) string {
	for i := range s {
		if i > 0 {
			return s[:i]
		}
	}
	return s
}
