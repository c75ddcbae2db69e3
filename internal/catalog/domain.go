// internal/catalog/domain.go
package catalog

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound            = errors.New("book not found")
	ErrDuplicateKey        = errors.New("book with this ISBN already exists")
	ErrInvalidGenre        = errors.New("invalid genre")
	ErrInvalidCopies       = errors.New("total copies must be at least 1")
	ErrCopiesOnLoan        = errors.New("total copies below number of copies on loan")
	ErrHasOutstandingLoans = errors.New("book has copies on loan")
	ErrNoCopiesAvailable   = errors.New("no copies available")
	ErrInvalidField        = errors.New("invalid search field")
)

// Book represents a catalog record keyed by ISBN.
type Book struct {
	ISBN            string `json:"isbn"`
	Title           string `json:"title"`
	Author          string `json:"author"`
	Genre           string `json:"genre"`
	TotalCopies     int    `json:"total_copies"`
	AvailableCopies int    `json:"available_copies"`
}

// OnLoan returns the number of copies currently lent out.
func (b Book) OnLoan() int {
	return b.TotalCopies - b.AvailableCopies
}

// Patch carries the optional fields of a book update. Nil fields are left untouched.
type Patch struct {
	Title       *string `json:"title,omitempty"`
	Author      *string `json:"author,omitempty"`
	Genre       *string `json:"genre,omitempty"`
	TotalCopies *int    `json:"total_copies,omitempty"`
}

// Empty reports whether the patch changes nothing.
func (p Patch) Empty() bool {
	return p.Title == nil && p.Author == nil && p.Genre == nil && p.TotalCopies == nil
}

// SearchField selects the book attribute a search matches against.
type SearchField string

const (
	FieldTitle  SearchField = "title"
	FieldAuthor SearchField = "author"
)

// ParseSearchField converts user input into a SearchField.
func ParseSearchField(s string) (SearchField, error) {
	switch f := SearchField(s); f {
	case FieldTitle, FieldAuthor:
		return f, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrInvalidField, s)
	}
}

func (f SearchField) value(b *Book) (string, bool) {
	switch f {
	case FieldTitle:
		return b.Title, true
	case FieldAuthor:
		return b.Author, true
	default:
		return "", false
	}
}
