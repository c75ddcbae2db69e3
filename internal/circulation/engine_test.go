package circulation

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"librarydesk/internal/catalog"
	"librarydesk/internal/journal"
	"librarydesk/internal/membership"
	"librarydesk/internal/validation"
)

func newTestEngine(t testing.TB, opts ...Option) *Engine {
	t.Helper()
	cat := catalog.New(validation.New(validation.DefaultGenres...))
	return New(cat, membership.NewRegistry(), opts...)
}

// seed loads the walkthrough data set.
func seed(t testing.TB, e *Engine) {
	t.Helper()
	ctx := context.Background()

	books := []struct {
		isbn, title, author, genre string
		copies                     int
	}{
		{"0001", "The Great Gatsby", "F. Scott Fitzgerald", "Fiction", 3},
		{"0002", "Wuthering Heights", "Emily Bronte", "Fiction", 2},
		{"0003", "A Brief History of Time", "Stephen Hawking", "Non-Fiction", 1},
		{"0004", "Ender's Game", "Orson Scott Card", "Sci-Fi", 1},
	}
	for _, b := range books {
		_, err := e.AddBook(ctx, b.isbn, b.title, b.author, b.genre, b.copies)
		require.NoError(t, err)
	}

	_, err := e.AddMember(ctx, "D001", "Mary Small", "mary@email.com")
	require.NoError(t, err)
	_, err = e.AddMember(ctx, "D002", "Jon Smith", "jon@email.com")
	require.NoError(t, err)
}

func ptr[T any](v T) *T { return &v }

func TestSingleCopyScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	loan, err := e.BorrowBook(ctx, "D001", "0004")
	require.NoError(t, err)
	assert.Equal(t, 0, loan.Book.AvailableCopies)
	assert.Equal(t, []string{"0004"}, loan.Member.Borrowed)

	_, err = e.BorrowBook(ctx, "D002", "0004")
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)

	loan, err = e.ReturnBook(ctx, "D001", "0004")
	require.NoError(t, err)
	assert.Equal(t, 1, loan.Book.AvailableCopies)
	assert.Empty(t, loan.Member.Borrowed)

	loan, err = e.BorrowBook(ctx, "D002", "0004")
	require.NoError(t, err)
	assert.Equal(t, "D002", loan.MemberID)
	assert.Equal(t, 0, loan.Book.AvailableCopies)

	require.NoError(t, e.Audit(ctx))
}

func TestBorrowLimitScenario(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, WithBorrowLimit(3))
	seed(t, e)

	for _, isbn := range []string{"0001", "0002", "0003"} {
		_, err := e.BorrowBook(ctx, "D001", isbn)
		require.NoError(t, err, isbn)
	}

	_, err := e.BorrowBook(ctx, "D001", "0004")
	assert.ErrorIs(t, err, ErrBorrowLimitExceeded)

	member, err := e.GetMember(ctx, "D001")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001", "0002", "0003"}, member.Borrowed)

	book, err := e.GetBook(ctx, "0004")
	require.NoError(t, err)
	assert.Equal(t, 1, book.AvailableCopies, "a rejected borrow takes no copy")
}

func TestBorrowCheckOrder(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, WithBorrowLimit(1))
	seed(t, e)

	_, err := e.BorrowBook(ctx, "D999", "9999")
	assert.ErrorIs(t, err, membership.ErrNotFound, "member existence is checked first")

	_, err = e.BorrowBook(ctx, "D001", "9999")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = e.BorrowBook(ctx, "D001", "0004")
	require.NoError(t, err)

	_, err = e.BorrowBook(ctx, "D001", "0004")
	assert.ErrorIs(t, err, ErrDuplicateLoan, "duplicate loan wins over no copies and limit")

	_, err = e.BorrowBook(ctx, "D002", "0004")
	assert.ErrorIs(t, err, ErrNoCopiesAvailable)

	_, err = e.BorrowBook(ctx, "D001", "0001")
	assert.ErrorIs(t, err, ErrBorrowLimitExceeded)
}

func TestReturnErrors(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	_, err := e.ReturnBook(ctx, "D999", "0001")
	assert.ErrorIs(t, err, membership.ErrNotFound)

	_, err = e.ReturnBook(ctx, "D001", "9999")
	assert.ErrorIs(t, err, catalog.ErrNotFound)

	_, err = e.ReturnBook(ctx, "D001", "0001")
	assert.ErrorIs(t, err, ErrNotBorrowed)

	book, err := e.GetBook(ctx, "0001")
	require.NoError(t, err)
	assert.Equal(t, 3, book.AvailableCopies)
}

func TestBorrowReturnRoundTrip(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	_, err := e.BorrowBook(ctx, "D001", "0002")
	require.NoError(t, err)

	beforeBook, err := e.GetBook(ctx, "0001")
	require.NoError(t, err)
	beforeMember, err := e.GetMember(ctx, "D001")
	require.NoError(t, err)

	_, err = e.BorrowBook(ctx, "D001", "0001")
	require.NoError(t, err)
	_, err = e.ReturnBook(ctx, "D001", "0001")
	require.NoError(t, err)

	afterBook, err := e.GetBook(ctx, "0001")
	require.NoError(t, err)
	afterMember, err := e.GetMember(ctx, "D001")
	require.NoError(t, err)

	assert.Equal(t, beforeBook, afterBook)
	assert.Equal(t, beforeMember, afterMember)
}

func TestDeleteGuards(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	_, err := e.BorrowBook(ctx, "D002", "0001")
	require.NoError(t, err)

	assert.ErrorIs(t, e.DeleteBook(ctx, "0001"), catalog.ErrHasOutstandingLoans)
	assert.ErrorIs(t, e.DeleteMember(ctx, "D002"), membership.ErrHasOutstandingLoans)

	_, err = e.ReturnBook(ctx, "D002", "0001")
	require.NoError(t, err)

	require.NoError(t, e.DeleteBook(ctx, "0001"))
	require.NoError(t, e.DeleteMember(ctx, "D002"))

	_, err = e.GetBook(ctx, "0001")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
	_, err = e.GetMember(ctx, "D002")
	assert.ErrorIs(t, err, membership.ErrNotFound)
	require.NoError(t, e.Audit(ctx))
}

func TestRejectedAddsLeaveStateUnchanged(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)
	eventsBefore := len(e.Events(ctx, 0, 100))

	_, err := e.AddBook(ctx, "0005", "Dracula", "Bram Stoker", "Horror", 1)
	assert.ErrorIs(t, err, catalog.ErrInvalidGenre)
	assert.Len(t, e.ListBooks(ctx), 4)

	_, err = e.AddMember(ctx, "D003", "No At", "no-at.example.com")
	assert.ErrorIs(t, err, membership.ErrInvalidEmail)
	assert.Len(t, e.ListMembers(ctx), 2)

	assert.Len(t, e.Events(ctx, 0, 100), eventsBefore, "rejections are not journaled")
}

func TestUpdateBookKeepsLoansConstant(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	_, err := e.BorrowBook(ctx, "D001", "0001")
	require.NoError(t, err)
	_, err = e.BorrowBook(ctx, "D002", "0001")
	require.NoError(t, err)

	book, err := e.UpdateBook(ctx, "0001", catalog.Patch{TotalCopies: ptr(5)})
	require.NoError(t, err)
	assert.Equal(t, 5, book.TotalCopies)
	assert.Equal(t, 3, book.AvailableCopies)

	_, err = e.UpdateBook(ctx, "0001", catalog.Patch{TotalCopies: ptr(1), Title: ptr("Gatsby")})
	assert.ErrorIs(t, err, catalog.ErrCopiesOnLoan)

	book, err = e.GetBook(ctx, "0001")
	require.NoError(t, err)
	assert.Equal(t, "The Great Gatsby", book.Title)
	assert.Equal(t, 5, book.TotalCopies)
	require.NoError(t, e.Audit(ctx))
}

func TestUpdateMember(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	member, err := e.UpdateMember(ctx, "D001", membership.Patch{Name: ptr("Mary Smalls")})
	require.NoError(t, err)
	assert.Equal(t, "Mary Smalls", member.Name)
	assert.Equal(t, "mary@email.com", member.Email)

	_, err = e.UpdateMember(ctx, "D001", membership.Patch{Email: ptr("broken")})
	assert.ErrorIs(t, err, membership.ErrInvalidEmail)
}

func TestSearchBooks(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	var isbns []string
	for isbn := range e.SearchBooks(ctx, "SCOTT", catalog.FieldAuthor) {
		isbns = append(isbns, isbn)
	}
	assert.Equal(t, []string{"0001", "0004"}, isbns)

	for range e.SearchBooks(ctx, "no such title", catalog.FieldTitle) {
		t.Fatal("expected no matches")
	}
}

func TestSearchBodyMayCallEngine(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)

	var lent []string
	for isbn := range e.SearchBooks(ctx, "scott", catalog.FieldAuthor) {
		_, err := e.BorrowBook(ctx, "D001", isbn)
		require.NoError(t, err)
		lent = append(lent, isbn)
	}
	assert.Equal(t, []string{"0001", "0004"}, lent)
}

func TestJournal(t *testing.T) {
	ctx := context.Background()
	j := journal.New()
	e := newTestEngine(t, WithJournal(j))
	seed(t, e)

	_, err := e.BorrowBook(ctx, "D001", "0003")
	require.NoError(t, err)
	_, err = e.ReturnBook(ctx, "D001", "0003")
	require.NoError(t, err)

	history, err := e.History(ctx, AggregateBook, "0003")
	require.NoError(t, err)
	require.Len(t, history, 3)
	assert.Equal(t, EventBookAdded, history[0].EventType)
	assert.Equal(t, EventBookCopyLent, history[1].EventType)
	assert.Equal(t, EventBookCopyReturned, history[2].EventType)
	assert.Equal(t, 3, history[2].Version)

	var lent LoanEvent
	require.NoError(t, journal.Decode(history[1], &lent))
	assert.Equal(t, LoanEvent{ISBN: "0003", MemberID: "D001", AvailableCopies: 0}, lent)

	memberHistory, err := e.History(ctx, AggregateMember, "D001")
	require.NoError(t, err)
	require.Len(t, memberHistory, 3, "loans appear in the member's history too")
	assert.Equal(t, EventMemberRegistered, memberHistory[0].EventType)
	assert.Equal(t, EventBookCopyLent, memberHistory[1].EventType)
	assert.Equal(t, EventBookCopyReturned, memberHistory[2].EventType)
	assert.Equal(t, history[1].EventData, memberHistory[1].EventData)

	other, err := e.History(ctx, AggregateMember, "D002")
	require.NoError(t, err)
	assert.Len(t, other, 1)

	all := e.Events(ctx, 0, 100)
	assert.Equal(t, j.Len(), len(all))
	assert.Len(t, all, 6+4)
	assert.Equal(t, EventBookAdded, all[0].EventType)
	assert.Equal(t, EventMemberRegistered, all[4].EventType)
}

func TestReset(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)
	seed(t, e)
	_, err := e.BorrowBook(ctx, "D001", "0001")
	require.NoError(t, err)

	e.Reset(ctx)

	assert.Empty(t, e.ListBooks(ctx))
	assert.Empty(t, e.ListMembers(ctx))
	assert.Empty(t, e.Events(ctx, 0, 10))

	seed(t, e)
	require.NoError(t, e.Audit(ctx))
}

func TestWithBorrowLimitIgnoresNonPositive(t *testing.T) {
	e := newTestEngine(t, WithBorrowLimit(0))
	assert.Equal(t, DefaultBorrowLimit, e.BorrowLimit())
}
