// internal/catalog/implementation.go
package catalog

import (
	"fmt"
	"slices"

	"librarydesk/internal/validation"
)

// Catalog owns the ISBN -> Book mapping and remembers insertion order.
// It is not safe for concurrent use; the circulation engine serialises access.
type Catalog struct {
	rules *validation.Rules
	books map[string]*Book
	order []string
}

// New creates an empty catalog validating genres against rules.
func New(rules *validation.Rules) *Catalog {
	return &Catalog{
		rules: rules,
		books: make(map[string]*Book),
	}
}

// Add inserts a new book with all copies available.
func (c *Catalog) Add(isbn, title, author, genre string, totalCopies int) (Book, error) {
	if _, exists := c.books[isbn]; exists {
		return Book{}, fmt.Errorf("add book %s: %w", isbn, ErrDuplicateKey)
	}
	if !c.rules.IsValidGenre(genre) {
		return Book{}, fmt.Errorf("add book %s: %w: %q", isbn, ErrInvalidGenre, genre)
	}
	if totalCopies < 1 {
		return Book{}, fmt.Errorf("add book %s: %w", isbn, ErrInvalidCopies)
	}

	book := &Book{
		ISBN:            isbn,
		Title:           title,
		Author:          author,
		Genre:           genre,
		TotalCopies:     totalCopies,
		AvailableCopies: totalCopies,
	}
	c.books[isbn] = book
	c.order = append(c.order, isbn)

	return *book, nil
}

// Get retrieves a book by ISBN.
func (c *Catalog) Get(isbn string) (Book, error) {
	book, ok := c.books[isbn]
	if !ok {
		return Book{}, fmt.Errorf("book %s: %w", isbn, ErrNotFound)
	}
	return *book, nil
}

// Update applies the non-nil fields of p. Every supplied field is validated
// before any is written. Changing TotalCopies keeps the number of copies on
// loan constant and rejects totals below it.
func (c *Catalog) Update(isbn string, p Patch) (Book, error) {
	book, ok := c.books[isbn]
	if !ok {
		return Book{}, fmt.Errorf("update book %s: %w", isbn, ErrNotFound)
	}

	if p.Genre != nil && !c.rules.IsValidGenre(*p.Genre) {
		return Book{}, fmt.Errorf("update book %s: %w: %q", isbn, ErrInvalidGenre, *p.Genre)
	}

	available := book.AvailableCopies
	if p.TotalCopies != nil {
		newTotal := *p.TotalCopies
		if newTotal < 1 {
			return Book{}, fmt.Errorf("update book %s: %w", isbn, ErrInvalidCopies)
		}
		onLoan := book.OnLoan()
		if newTotal < onLoan {
			return Book{}, fmt.Errorf("update book %s: %w: %d on loan, requested total %d",
				isbn, ErrCopiesOnLoan, onLoan, newTotal)
		}
		available = newTotal - onLoan
	}

	if p.Title != nil {
		book.Title = *p.Title
	}
	if p.Author != nil {
		book.Author = *p.Author
	}
	if p.Genre != nil {
		book.Genre = *p.Genre
	}
	if p.TotalCopies != nil {
		book.TotalCopies = *p.TotalCopies
		book.AvailableCopies = available
	}

	return *book, nil
}

// Delete removes a book that has no copies on loan.
func (c *Catalog) Delete(isbn string) error {
	book, ok := c.books[isbn]
	if !ok {
		return fmt.Errorf("delete book %s: %w", isbn, ErrNotFound)
	}
	if book.AvailableCopies < book.TotalCopies {
		return fmt.Errorf("delete book %s: %w: %d on loan", isbn, ErrHasOutstandingLoans, book.OnLoan())
	}

	delete(c.books, isbn)
	if i := slices.Index(c.order, isbn); i >= 0 {
		c.order = slices.Delete(c.order, i, i+1)
	}
	return nil
}

// List returns every book in insertion order.
func (c *Catalog) List() []Book {
	out := make([]Book, 0, len(c.order))
	for _, isbn := range c.order {
		out = append(out, *c.books[isbn])
	}
	return out
}

// Len returns the number of books in the catalog.
func (c *Catalog) Len() int {
	return len(c.order)
}

// CheckOut takes one copy off the shelf.
func (c *Catalog) CheckOut(isbn string) (Book, error) {
	book, ok := c.books[isbn]
	if !ok {
		return Book{}, fmt.Errorf("check out %s: %w", isbn, ErrNotFound)
	}
	if book.AvailableCopies == 0 {
		return Book{}, fmt.Errorf("check out %s: %w", isbn, ErrNoCopiesAvailable)
	}
	book.AvailableCopies--
	return *book, nil
}

// CheckIn puts one copy back, never exceeding TotalCopies.
func (c *Catalog) CheckIn(isbn string) (Book, error) {
	book, ok := c.books[isbn]
	if !ok {
		return Book{}, fmt.Errorf("check in %s: %w", isbn, ErrNotFound)
	}
	book.AvailableCopies = min(book.AvailableCopies+1, book.TotalCopies)
	return *book, nil
}

// Clear removes every book.
func (c *Catalog) Clear() {
	c.books = make(map[string]*Book)
	c.order = nil
}
