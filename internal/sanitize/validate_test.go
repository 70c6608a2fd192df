package sanitize

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestQuery(t *testing.T) {
	tests := []struct {
		name    string
		query   string
		max     int
		wantErr error
	}{
		{"ok", "What is grace?", 0, nil},
		{"empty", "", 0, ErrEmptyQuery},
		{"whitespace", " \n\t ", 0, ErrEmptyQuery},
		{"zero width only", "\u200b\u200b\u200b", 0, ErrEmptyQuery},
		{"format and controls", "\u200d\x01\ufeff \x7f", 0, ErrEmptyQuery},
		{"zero width around text", "\u200bgrace\u200b", 0, nil},
		{"ten thousand chars", strings.Repeat("a", 10_000), 0, nil},
		{"too long", strings.Repeat("a", 16_001), 0, ErrQueryTooLong},
		{"custom limit", "abcdef", 5, ErrQueryTooLong},
		{"counts runes", strings.Repeat("é", 5), 5, nil},
		{"bad utf8", "gr\xffce", 0, ErrInvalidEncoding},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Query(tt.query, tt.max)
			if tt.wantErr == nil {
				assert.NoError(t, err)
			} else {
				assert.ErrorIs(t, err, tt.wantErr)
			}
		})
	}
}

func TestParseOwnerID(t *testing.T) {
	id, err := ParseOwnerID(" 42 ")
	require.NoError(t, err)
	assert.Equal(t, int64(42), id)

	for _, bad := range []string{"", "0", "-1", "abc", "1.5", "99999999999999999999"} {
		_, err := ParseOwnerID(bad)
		assert.ErrorIs(t, err, ErrInvalidOwner, bad)
	}
}
