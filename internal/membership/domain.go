// internal/membership/domain.go
package membership

import (
	"errors"
	"slices"
)

var (
	ErrNotFound            = errors.New("member not found")
	ErrDuplicateKey        = errors.New("member with this ID already exists")
	ErrInvalidEmail        = errors.New("invalid email")
	ErrHasOutstandingLoans = errors.New("member has borrowed books")
	ErrDuplicateLoan       = errors.New("member already borrowed this book")
	ErrBorrowLimitExceeded = errors.New("borrow limit exceeded")
	ErrNotBorrowed         = errors.New("member has not borrowed this book")
	ErrRateLimited         = errors.New("rate limit exceeded")
)

// Member represents a library member and the ISBNs currently on loan to them.
// Borrowed is a set kept in borrow order.
type Member struct {
	ID       string   `json:"id"`
	Name     string   `json:"name"`
	Email    string   `json:"email"`
	Borrowed []string `json:"borrowed"`
}

// Holds reports whether isbn is on loan to the member.
func (m Member) Holds(isbn string) bool {
	return slices.Contains(m.Borrowed, isbn)
}

// Patch carries the optional fields of a member update.
type Patch struct {
	Name  *string `json:"name,omitempty"`
	Email *string `json:"email,omitempty"`
}

func (m *Member) clone() Member {
	out := *m
	out.Borrowed = slices.Clone(m.Borrowed)
	if out.Borrowed == nil {
		out.Borrowed = []string{}
	}
	return out
}
