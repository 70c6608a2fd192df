package sanitize

import (
	"errors"
	"fmt"
	"strconv"
	"strings"
	"unicode/utf8"
)

// DefaultMaxQueryChars bounds a raw query before any work is done.
const DefaultMaxQueryChars = 16000

var (
	// ErrEmptyQuery indicates a query with nothing left after cleaning.
	ErrEmptyQuery = errors.New("query cannot be empty")

	// ErrQueryTooLong indicates a query above the character limit.
	ErrQueryTooLong = errors.New("query too long")

	// ErrInvalidOwner indicates a missing, malformed or non-positive owner id.
	ErrInvalidOwner = errors.New("invalid owner id")

	// ErrInvalidEncoding indicates a query that is not valid UTF-8.
	ErrInvalidEncoding = errors.New("query is not valid UTF-8")
)

// Query validates a raw query. maxChars <= 0 means DefaultMaxQueryChars.
func Query(q string, maxChars int) error {
	if maxChars <= 0 {
		maxChars = DefaultMaxQueryChars
	}
	if !utf8.ValidString(q) {
		return ErrInvalidEncoding
	}
	if strings.TrimSpace(q) == "" || Text(q) == "" {
		return ErrEmptyQuery
	}
	if n := utf8.RuneCountInString(q); n > maxChars {
		return fmt.Errorf("%w: %d characters, limit %d", ErrQueryTooLong, n, maxChars)
	}
	return nil
}

// OwnerID validates an owner identity.
func OwnerID(id int64) error {
	if id <= 0 {
		return fmt.Errorf("%w: %d", ErrInvalidOwner, id)
	}
	return nil
}

// ParseOwnerID parses and validates an owner identity from a header or flag.
func ParseOwnerID(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("%w: missing", ErrInvalidOwner)
	}
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %q", ErrInvalidOwner, s)
	}
	if err := OwnerID(id); err != nil {
		return 0, err
	}
	return id, nil
}
