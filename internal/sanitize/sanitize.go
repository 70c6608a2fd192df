// Package sanitize validates caller input and cleans free text before it is
// embedded, stored or placed in a prompt.
package sanitize

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"unicode"
)

const (
	// MaxIdentifierLength bounds generated document identifiers.
	MaxIdentifierLength = 64

	// HashSuffixLength is the length of "_" plus the 8-char hash suffix.
	HashSuffixLength = 9

	// DefaultIdentifier is used when sanitization produces an empty result.
	DefaultIdentifier = "note"
)

// Identifier turns a title or file name into a stable document identifier.
//
//	"Sermon: On Grace (2024)" -> "sermon_on_grace_2024"
//	"" or "!!!"               -> "note"
func Identifier(s string) string {
	s = strings.ToLower(s)

	var b strings.Builder
	b.Grow(len(s))
	lastUnderscore := false
	for _, r := range s {
		if (r >= 'a' && r <= 'z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
			lastUnderscore = false
			continue
		}
		if !lastUnderscore {
			b.WriteByte('_')
			lastUnderscore = true
		}
	}

	id := strings.Trim(b.String(), "_")
	if id == "" {
		return DefaultIdentifier
	}
	if len(id) > MaxIdentifierLength {
		id = truncateWithHash(id)
	}
	return id
}

// truncateWithHash keeps long identifiers unique: <prefix>_<8-char-hash>.
func truncateWithHash(s string) string {
	hash := sha256.Sum256([]byte(s))
	suffix := "_" + hex.EncodeToString(hash[:])[:8]
	base := strings.TrimRight(s[:MaxIdentifierLength-HashSuffixLength], "_")
	return base + suffix
}

// Text removes control and format characters and collapses runs of
// whitespace into single spaces.
func Text(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	space := false
	for _, r := range s {
		switch {
		case unicode.IsSpace(r):
			space = b.Len() > 0
			continue
		case r == unicode.ReplacementChar, unicode.IsControl(r), unicode.Is(unicode.Cf, r):
			continue
		}
		if space {
			b.WriteByte(' ')
			space = false
		}
		b.WriteRune(r)
	}
	return b.String()
}
