package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIdentifier(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"simple", "grace", "grace"},
		{"title", "Sermon: On Grace (2024)", "sermon_on_grace_2024"},
		{"file name", "notes/romans-8.md", "notes_romans_8_md"},
		{"collapses runs", "a -- b", "a_b"},
		{"trims", "__x__", "x"},
		{"empty", "", "note"},
		{"only symbols", "!!!", "note"},
		{"non-latin dropped", "ἀγάπη", "note"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.expected, Identifier(tt.input))
		})
	}
}

func TestIdentifier_LongIsUniqueAndBounded(t *testing.T) {
	a := Identifier(strings.Repeat("grace", 30) + "a")
	b := Identifier(strings.Repeat("grace", 30) + "b")
	assert.LessOrEqual(t, len(a), MaxIdentifierLength)
	assert.NotEqual(t, a, b)
}

func TestText(t *testing.T) {
	tests := []struct {
		name, in, want string
	}{
		{"plain", "What is grace?", "What is grace?"},
		{"collapses whitespace", "  What \t is\n\ngrace?  ", "What is grace?"},
		{"strips control", "grace\x00\x07 now", "grace now"},
		{"strips zero width", "gr\u200bace", "grace"},
		{"keeps unicode", "ἀγάπη — love", "ἀγάπη — love"},
		{"empty", "   ", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, Text(tt.in))
		})
	}
}
