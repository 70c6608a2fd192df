package generation

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Validator rejects degenerate model output.
type Validator struct {
	// MinChars is the minimum trimmed length. Default 8.
	MinChars int
	// MinUniqueRatio is the minimum share of distinct word trigrams. Default 0.3.
	MinUniqueRatio float64
	// MinWords is the length from which repetition is checked. Default 24.
	MinWords int
}

// DefaultValidator returns the standard thresholds.
func DefaultValidator() Validator {
	return Validator{MinChars: 8, MinUniqueRatio: 0.3, MinWords: 24}
}

// Validate returns an ErrInvalidOutput error for unusable text.
func (v Validator) Validate(text string) error {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return fmt.Errorf("%w: empty output", ErrInvalidOutput)
	}
	if n := utf8.RuneCountInString(trimmed); n < v.MinChars {
		return fmt.Errorf("%w: output too short (%d chars, minimum %d)", ErrInvalidOutput, n, v.MinChars)
	}

	words := strings.Fields(strings.ToLower(trimmed))
	if len(words) < v.MinWords || len(words) < 3 {
		return nil
	}
	windows := len(words) - 2
	seen := make(map[[3]string]struct{}, windows)
	for i := 0; i < windows; i++ {
		seen[[3]string{words[i], words[i+1], words[i+2]}] = struct{}{}
	}
	ratio := float64(len(seen)) / float64(windows)
	if ratio < v.MinUniqueRatio {
		return fmt.Errorf("%w: repetitive output (%.0f%% unique trigrams)", ErrInvalidOutput, ratio*100)
	}
	return nil
}
