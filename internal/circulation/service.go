// internal/circulation/service.go
package circulation

import (
	"context"
	"iter"

	"librarydesk/internal/catalog"
	"librarydesk/internal/journal"
	"librarydesk/internal/membership"
)

// Service defines the operations the presentation layer may call.
type Service interface {
	AddBook(ctx context.Context, isbn, title, author, genre string, totalCopies int) (catalog.Book, error)
	GetBook(ctx context.Context, isbn string) (catalog.Book, error)
	UpdateBook(ctx context.Context, isbn string, patch catalog.Patch) (catalog.Book, error)
	DeleteBook(ctx context.Context, isbn string) error
	SearchBooks(ctx context.Context, term string, field catalog.SearchField) iter.Seq2[string, catalog.Book]
	ListBooks(ctx context.Context) []catalog.Book

	AddMember(ctx context.Context, id, name, email string) (membership.Member, error)
	GetMember(ctx context.Context, id string) (membership.Member, error)
	UpdateMember(ctx context.Context, id string, patch membership.Patch) (membership.Member, error)
	DeleteMember(ctx context.Context, id string) error
	ListMembers(ctx context.Context) []membership.Member

	BorrowBook(ctx context.Context, memberID, isbn string) (Loan, error)
	ReturnBook(ctx context.Context, memberID, isbn string) (Loan, error)

	Events(ctx context.Context, afterSequence int64, limit int) []journal.Event
	History(ctx context.Context, aggregateType, aggregateID string) ([]journal.Event, error)
	Audit(ctx context.Context) error
	Reset(ctx context.Context)
}
