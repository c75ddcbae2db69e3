// internal/circulation/domain.go
package circulation

import (
	"errors"

	"librarydesk/internal/catalog"
	"librarydesk/internal/membership"
)

// DefaultBorrowLimit is the number of distinct books a member may hold at once
// unless configured otherwise.
const DefaultBorrowLimit = 3

var (
	ErrNoCopiesAvailable   = catalog.ErrNoCopiesAvailable
	ErrDuplicateLoan       = membership.ErrDuplicateLoan
	ErrBorrowLimitExceeded = membership.ErrBorrowLimitExceeded
	ErrNotBorrowed         = membership.ErrNotBorrowed
	ErrInconsistent        = errors.New("catalog and registry are inconsistent")
)

// Loan is the result of a borrow or return: the pair of records as committed.
type Loan struct {
	MemberID string            `json:"member_id"`
	ISBN     string            `json:"isbn"`
	Book     catalog.Book      `json:"book"`
	Member   membership.Member `json:"member"`
}

// Journal stream types.
const (
	AggregateBook   = "book"
	AggregateMember = "member"
)

// Journal event types.
const (
	EventBookAdded        = "BookAdded"
	EventBookUpdated      = "BookUpdated"
	EventBookRemoved      = "BookRemoved"
	EventBookCopyLent     = "BookCopyLent"
	EventBookCopyReturned = "BookCopyReturned"
	EventMemberRegistered = "MemberRegistered"
	EventMemberUpdated    = "MemberUpdated"
	EventMemberRemoved    = "MemberRemoved"
)

// BookAddedEvent is recorded when a book enters the catalog.
type BookAddedEvent struct {
	ISBN        string `json:"isbn"`
	Title       string `json:"title"`
	Author      string `json:"author"`
	Genre       string `json:"genre"`
	TotalCopies int    `json:"total_copies"`
}

// BookUpdatedEvent carries the book as it is after the update.
type BookUpdatedEvent struct {
	Book catalog.Book `json:"book"`
}

// BookRemovedEvent is recorded when a book leaves the catalog.
type BookRemovedEvent struct {
	ISBN string `json:"isbn"`
}

// LoanEvent is recorded for both lending and returning a copy, in the book's
// stream and in the member's stream.
type LoanEvent struct {
	ISBN            string `json:"isbn"`
	MemberID        string `json:"member_id"`
	AvailableCopies int    `json:"available_copies"`
}

// MemberEvent is recorded when a member registers or changes details.
type MemberEvent struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

// MemberRemovedEvent is recorded when a member leaves the registry.
type MemberRemovedEvent struct {
	ID string `json:"id"`
}
