package catalog

import (
	"iter"
	"slices"
	"strings"

	"golang.org/x/text/cases"
)

// Search yields (isbn, book) pairs whose field contains term, ignoring case,
// in insertion order. Matching runs while the sequence is ranged over, so
// each iteration sees the catalog as it is at that moment. Books removed
// while the loop runs are skipped; books added are not visited until the next
// iteration. An empty term or unknown field yields nothing.
func (c *Catalog) Search(term string, field SearchField) iter.Seq2[string, Book] {
	return func(yield func(string, Book) bool) {
		if term == "" {
			return
		}
		fold := cases.Fold()
		needle := fold.String(term)
		for _, isbn := range slices.Clone(c.order) {
			book, ok := c.books[isbn]
			if !ok {
				continue
			}
			value, ok := field.value(book)
			if !ok {
				return
			}
			if !strings.Contains(fold.String(value), needle) {
				continue
			}
			if !yield(isbn, *book) {
				return
			}
		}
	}
}
