// Package tokens counts and truncates text in model tokens.
//
// Every budget decision in the answer pipeline goes through a Counter so
// that context packing, prompt validation and output capping agree on what
// a token is.
package tokens

import (
	"strings"
	"unicode/utf8"

	"github.com/pkoukk/tiktoken-go"
	tiktoken_loader "github.com/pkoukk/tiktoken-go-loader"
)

// BPE ranks ship with the binary, so loading an encoding never touches the
// network.
func init() {
	tiktoken.SetBpeLoader(tiktoken_loader.NewOfflineLoader())
}

// CharsPerToken is the ratio used when no tokenizer is available.
const CharsPerToken = 4

// Counter counts tokens and truncates text at token boundaries.
type Counter interface {
	// Count returns the token count of text. It is deterministic, and the
	// count of a concatenation is never below the count of either part.
	Count(text string) int
	// Truncate returns the longest token-boundary prefix of text whose count
	// is at most max. Text already within max is returned unchanged.
	Truncate(text string, max int) string
}

// Service is a Counter backed by a tiktoken BPE encoding.
type Service struct {
	enc      *tiktoken.Tiktoken
	encoding string
}

// New loads the named tiktoken encoding from the embedded BPE ranks. When
// the encoding is unknown it returns the character Estimator together with
// the load error so callers can log the degradation instead of failing.
func New(encoding string) (Counter, error) {
	enc, err := tiktoken.GetEncoding(encoding)
	if err != nil {
		return NewEstimator(), err
	}
	return &Service{enc: enc, encoding: encoding}, nil
}

// Encoding returns the encoding name.
func (s *Service) Encoding() string {
	return s.encoding
}

// Count returns the BPE token count of text.
func (s *Service) Count(text string) int {
	if text == "" {
		return 0
	}
	return len(s.enc.Encode(text, nil, nil))
}

// Truncate cuts text at a token boundary so that it fits in max tokens.
func (s *Service) Truncate(text string, max int) string {
	if max <= 0 || text == "" {
		return ""
	}
	ids := s.enc.Encode(text, nil, nil)
	if len(ids) <= max {
		return text
	}

	for n := max; n > 0; n-- {
		prefix := trimPartialRune(s.enc.Decode(ids[:n]))
		if !strings.HasPrefix(text, prefix) {
			continue
		}
		if s.Count(prefix) <= max {
			return prefix
		}
	}
	return ""
}

// trimPartialRune drops trailing bytes of a rune split by a token boundary.
func trimPartialRune(s string) string {
	for len(s) > 0 {
		r, size := utf8.DecodeLastRuneInString(s)
		if r != utf8.RuneError || size > 1 {
			return s
		}
		s = s[:len(s)-1]
	}
	return s
}

// Estimator approximates tokens as CharsPerToken runes each. It is the
// fallback when no tokenizer can be loaded and errs towards overcounting.
type Estimator struct{}

// NewEstimator returns the character-ratio Counter.
func NewEstimator() *Estimator {
	return &Estimator{}
}

// Count returns ceil(runes / CharsPerToken).
func (Estimator) Count(text string) int {
	n := utf8.RuneCountInString(text)
	return (n + CharsPerToken - 1) / CharsPerToken
}

// Truncate keeps the first max*CharsPerToken runes.
func (e Estimator) Truncate(text string, max int) string {
	if max <= 0 {
		return ""
	}
	limit := max * CharsPerToken
	if utf8.RuneCountInString(text) <= limit {
		return text
	}
	i := 0
	for pos := range text {
		if i == limit {
			return text[:pos]
		}
		i++
	}
	return text
}
