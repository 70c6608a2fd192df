package tokens

import (
	"errors"
	"fmt"
)

// Budget errors.
var (
	ErrBudgetExhausted = errors.New("token budget exhausted")
	ErrInvalidBudget   = errors.New("invalid token budget")
)

// Budget is a per-request token allocation. It is not safe for concurrent
// use; each request owns its budgets.
type Budget struct {
	name  string
	total int
	used  int
}

// NewBudget allocates total tokens under name.
func NewBudget(name string, total int) (*Budget, error) {
	if total < 0 {
		return nil, fmt.Errorf("%w: %s total %d", ErrInvalidBudget, name, total)
	}
	return &Budget{name: name, total: total}, nil
}

// Fits reports whether n more tokens can be consumed.
func (b *Budget) Fits(n int) bool {
	return n >= 0 && b.used+n <= b.total
}

// Consume records n tokens, failing without side effects when they do not fit.
func (b *Budget) Consume(n int) error {
	if n < 0 {
		return fmt.Errorf("%w: negative consumption %d", ErrInvalidBudget, n)
	}
	if !b.Fits(n) {
		return fmt.Errorf("%w: %s needs %d, %d of %d left", ErrBudgetExhausted, b.name, n, b.Remaining(), b.total)
	}
	b.used += n
	return nil
}

// Remaining returns the unconsumed tokens.
func (b *Budget) Remaining() int {
	return b.total - b.used
}

// Used returns the consumed tokens.
func (b *Budget) Used() int {
	return b.used
}

// Total returns the allocation.
func (b *Budget) Total() int {
	return b.total
}

// Exhausted reports whether nothing is left.
func (b *Budget) Exhausted() bool {
	return b.used >= b.total
}
