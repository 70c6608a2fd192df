package tokens

import (
	"math/rand"
	"strings"
	"testing"
	"unicode/utf8"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// counters returns the Counters under test.
func counters(t *testing.T) map[string]Counter {
	t.Helper()
	c, err := New("cl100k_base")
	require.NoError(t, err)
	return map[string]Counter{"estimator": NewEstimator(), "tiktoken": c}
}

func TestNew_LoadsEmbeddedEncoding(t *testing.T) {
	for _, name := range []string{"cl100k_base", "p50k_base", "r50k_base"} {
		c, err := New(name)
		require.NoError(t, err, name)

		svc, ok := c.(*Service)
		require.True(t, ok, name)
		assert.Equal(t, name, svc.Encoding())
		assert.Positive(t, svc.Count("Grace is unmerited favor."), name)
	}
}

func TestService_TruncateFitsAndIsStable(t *testing.T) {
	c, err := New("cl100k_base")
	require.NoError(t, err)

	for _, text := range []string{
		strings.Repeat("Grace is unmerited favor. ", 40),
		strings.Repeat("恩典是白白得来的 🙏 ", 30),
		strings.Repeat("café naïve résumé ", 40),
	} {
		for _, limit := range []int{1, 7, 25, 100} {
			cut := c.Truncate(text, limit)
			assert.LessOrEqual(t, c.Count(cut), limit)
			assert.True(t, strings.HasPrefix(text, cut))
			assert.True(t, utf8.ValidString(cut))
			assert.Equal(t, cut, c.Truncate(cut, limit))
		}
	}
}

func TestNew_UnknownEncodingFallsBack(t *testing.T) {
	c, err := New("no_such_encoding")
	require.Error(t, err)
	require.NotNil(t, c)

	_, isEstimator := c.(*Estimator)
	assert.True(t, isEstimator)
	assert.Equal(t, 3, c.Count("0123456789"))
}

func TestEstimator_Count(t *testing.T) {
	e := NewEstimator()
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
		{"ἀγάπη ἀγάπη", 3}, // counts runes, not bytes
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, e.Count(tt.text), tt.text)
	}
}

func TestTruncate_WithinLimitUnchanged(t *testing.T) {
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			text := "Grace is unmerited favor."
			assert.Equal(t, text, c.Truncate(text, 1000))
		})
	}
}

func TestTruncate_RespectsLimitAndIsPrefix(t *testing.T) {
	text := strings.Repeat("For by grace you have been saved through faith. ", 40)
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			for _, max := range []int{1, 5, 17, 64, 150} {
				got := c.Truncate(text, max)
				assert.LessOrEqual(t, c.Count(got), max)
				assert.True(t, strings.HasPrefix(text, got))
				assert.NotEmpty(t, got)
			}
			assert.Equal(t, "", c.Truncate(text, 0))
		})
	}
}

func TestTruncate_Idempotent(t *testing.T) {
	r := rand.New(rand.NewSource(7))
	words := []string{"grace", "faith", "ἀγάπη", "Ephesians", "2:8-9", "—", "unmerited", "favor", "🙏"}

	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			for i := 0; i < 200; i++ {
				var b strings.Builder
				n := r.Intn(200)
				for j := 0; j < n; j++ {
					b.WriteString(words[r.Intn(len(words))])
					b.WriteByte(' ')
				}
				max := r.Intn(60)
				once := c.Truncate(b.String(), max)
				assert.Equal(t, once, c.Truncate(once, max))
				assert.True(t, utf8.ValidString(once))
			}
		})
	}
}

func TestCount_Monotonic(t *testing.T) {
	pairs := [][2]string{
		{"Grace", " is favor"},
		{"ἀγάπη", "love"},
		{"a", "b"},
		{strings.Repeat("x", 33), strings.Repeat("y", 7)},
	}
	for name, c := range counters(t) {
		t.Run(name, func(t *testing.T) {
			for _, p := range pairs {
				joined := c.Count(p[0] + p[1])
				assert.GreaterOrEqual(t, joined, c.Count(p[0]))
				assert.GreaterOrEqual(t, joined, c.Count(p[1]))
			}
		})
	}
}

func TestTrimPartialRune(t *testing.T) {
	s := "ab" + string([]byte("é")[:1])
	assert.Equal(t, "ab", trimPartialRune(s))
	assert.Equal(t, "abé", trimPartialRune("abé"))
	assert.Equal(t, "", trimPartialRune(""))
}
