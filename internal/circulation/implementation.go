// internal/circulation/implementation.go
package circulation

import (
	"context"
	"fmt"
	"iter"
	"log/slog"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"librarydesk/internal/catalog"
	"librarydesk/internal/journal"
	"librarydesk/internal/membership"
)

// Engine coordinates the catalog and the member registry. Every operation runs
// under one mutex, so each call is atomic with respect to every other call.
type Engine struct {
	mu          sync.Mutex
	catalog     *catalog.Catalog
	members     *membership.Registry
	journal     *journal.Journal
	borrowLimit int

	logger  *slog.Logger
	tracer  trace.Tracer
	meter   metric.Meter
	metrics instruments
}

var _ Service = (*Engine)(nil)

// Option configures an Engine.
type Option func(*Engine)

// WithBorrowLimit sets how many distinct books one member may hold. Values
// below 1 are ignored.
func WithBorrowLimit(n int) Option {
	return func(e *Engine) {
		if n >= 1 {
			e.borrowLimit = n
		}
	}
}

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func WithTracer(t trace.Tracer) Option {
	return func(e *Engine) {
		if t != nil {
			e.tracer = t
		}
	}
}

func WithMeter(m metric.Meter) Option {
	return func(e *Engine) {
		if m != nil {
			e.meter = m
		}
	}
}

// WithJournal records events into j instead of a private journal.
func WithJournal(j *journal.Journal) Option {
	return func(e *Engine) {
		if j != nil {
			e.journal = j
		}
	}
}

// New creates an engine over cat and reg. The engine takes ownership of both;
// callers must not use them directly afterwards.
func New(cat *catalog.Catalog, reg *membership.Registry, opts ...Option) *Engine {
	e := &Engine{
		catalog:     cat,
		members:     reg,
		journal:     journal.New(),
		borrowLimit: DefaultBorrowLimit,
		logger:      slog.New(slog.DiscardHandler),
		tracer:      otel.Tracer("librarydesk/circulation"),
		meter:       otel.Meter("librarydesk/circulation"),
	}
	for _, opt := range opts {
		opt(e)
	}

	m, err := newInstruments(e.meter)
	if err != nil {
		e.logger.Warn("circulation metrics unavailable", "error", err)
	}
	e.metrics = m
	return e
}

// BorrowLimit reports the configured per-member limit.
func (e *Engine) BorrowLimit() int {
	return e.borrowLimit
}

// AddBook adds a new title with every copy on the shelf.
func (e *Engine) AddBook(ctx context.Context, isbn, title, author, genre string, totalCopies int) (book catalog.Book, err error) {
	ctx, span := e.begin(ctx, "add_book", attribute.String("book.isbn", isbn))
	defer func() { e.end(ctx, span, "add_book", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	book, err = e.catalog.Add(isbn, title, author, genre, totalCopies)
	if err != nil {
		return catalog.Book{}, err
	}
	e.recordCommitted(ctx, AggregateBook, isbn, EventBookAdded, BookAddedEvent{
		ISBN:        book.ISBN,
		Title:       book.Title,
		Author:      book.Author,
		Genre:       book.Genre,
		TotalCopies: book.TotalCopies,
	})
	e.logger.DebugContext(ctx, "book added", "isbn", isbn, "copies", totalCopies)
	return book, nil
}

func (e *Engine) GetBook(ctx context.Context, isbn string) (book catalog.Book, err error) {
	ctx, span := e.begin(ctx, "get_book", attribute.String("book.isbn", isbn))
	defer func() { e.end(ctx, span, "get_book", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.Get(isbn)
}

// UpdateBook applies the non-nil fields of patch to one book. The number of
// copies on loan never changes.
func (e *Engine) UpdateBook(ctx context.Context, isbn string, patch catalog.Patch) (book catalog.Book, err error) {
	ctx, span := e.begin(ctx, "update_book", attribute.String("book.isbn", isbn))
	defer func() { e.end(ctx, span, "update_book", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	book, err = e.catalog.Update(isbn, patch)
	if err != nil {
		return catalog.Book{}, err
	}
	e.recordCommitted(ctx, AggregateBook, isbn, EventBookUpdated, BookUpdatedEvent{Book: book})
	e.logger.DebugContext(ctx, "book updated", "isbn", isbn)
	return book, nil
}

// DeleteBook removes a book that has no copies on loan.
func (e *Engine) DeleteBook(ctx context.Context, isbn string) (err error) {
	ctx, span := e.begin(ctx, "delete_book", attribute.String("book.isbn", isbn))
	defer func() { e.end(ctx, span, "delete_book", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err = e.catalog.Delete(isbn); err != nil {
		return err
	}
	e.recordCommitted(ctx, AggregateBook, isbn, EventBookRemoved, BookRemovedEvent{ISBN: isbn})
	e.logger.DebugContext(ctx, "book removed", "isbn", isbn)
	return nil
}

// SearchBooks returns a lazy sequence of books whose field contains term,
// case-insensitively, in catalog order. Matches are collected under the
// engine lock each time the sequence is ranged and yielded outside it, so the
// loop body may call back into the engine.
func (e *Engine) SearchBooks(ctx context.Context, term string, field catalog.SearchField) iter.Seq2[string, catalog.Book] {
	return func(yield func(string, catalog.Book) bool) {
		_, span := e.tracer.Start(ctx, "circulation.search_books", trace.WithAttributes(
			attribute.String("search.field", string(field)),
		))
		defer span.End()

		e.mu.Lock()
		var matches []catalog.Book
		for _, book := range e.catalog.Search(term, field) {
			matches = append(matches, book)
		}
		e.mu.Unlock()

		span.SetAttributes(attribute.Int("search.matches", len(matches)))
		for _, book := range matches {
			if !yield(book.ISBN, book) {
				return
			}
		}
	}
}

func (e *Engine) ListBooks(ctx context.Context) []catalog.Book {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.catalog.List()
}

// AddMember registers a new member with nothing borrowed.
func (e *Engine) AddMember(ctx context.Context, id, name, email string) (member membership.Member, err error) {
	ctx, span := e.begin(ctx, "add_member", attribute.String("member.id", id))
	defer func() { e.end(ctx, span, "add_member", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	member, err = e.members.Add(id, name, email)
	if err != nil {
		return membership.Member{}, err
	}
	e.recordCommitted(ctx, AggregateMember, id, EventMemberRegistered, MemberEvent{
		ID:    member.ID,
		Name:  member.Name,
		Email: member.Email,
	})
	e.logger.DebugContext(ctx, "member registered", "member_id", id)
	return member, nil
}

func (e *Engine) GetMember(ctx context.Context, id string) (member membership.Member, err error) {
	ctx, span := e.begin(ctx, "get_member", attribute.String("member.id", id))
	defer func() { e.end(ctx, span, "get_member", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.Get(id)
}

// UpdateMember applies the non-nil fields of patch to one member.
func (e *Engine) UpdateMember(ctx context.Context, id string, patch membership.Patch) (member membership.Member, err error) {
	ctx, span := e.begin(ctx, "update_member", attribute.String("member.id", id))
	defer func() { e.end(ctx, span, "update_member", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	member, err = e.members.Update(id, patch)
	if err != nil {
		return membership.Member{}, err
	}
	e.recordCommitted(ctx, AggregateMember, id, EventMemberUpdated, MemberEvent{
		ID:    member.ID,
		Name:  member.Name,
		Email: member.Email,
	})
	e.logger.DebugContext(ctx, "member updated", "member_id", id)
	return member, nil
}

// DeleteMember removes a member who has nothing on loan.
func (e *Engine) DeleteMember(ctx context.Context, id string) (err error) {
	ctx, span := e.begin(ctx, "delete_member", attribute.String("member.id", id))
	defer func() { e.end(ctx, span, "delete_member", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	if err = e.members.Delete(id); err != nil {
		return err
	}
	e.recordCommitted(ctx, AggregateMember, id, EventMemberRemoved, MemberRemovedEvent{ID: id})
	e.logger.DebugContext(ctx, "member removed", "member_id", id)
	return nil
}

func (e *Engine) ListMembers(ctx context.Context) []membership.Member {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.members.List()
}

// BorrowBook lends one copy of isbn to memberID.
//
// Existence is checked before the business rules: unknown member, unknown
// book, already held, no copy on the shelf, limit reached. The loan is
// journaled before it is committed; a failed append leaves state untouched.
func (e *Engine) BorrowBook(ctx context.Context, memberID, isbn string) (loan Loan, err error) {
	ctx, span := e.begin(ctx, "borrow_book",
		attribute.String("member.id", memberID),
		attribute.String("book.isbn", isbn),
	)
	defer func() { e.end(ctx, span, "borrow_book", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	member, err := e.members.Get(memberID)
	if err != nil {
		return Loan{}, fmt.Errorf("borrow: %w", err)
	}
	book, err := e.catalog.Get(isbn)
	if err != nil {
		return Loan{}, fmt.Errorf("borrow: %w", err)
	}
	if member.Holds(isbn) {
		return Loan{}, fmt.Errorf("borrow %s for %s: %w", isbn, memberID, ErrDuplicateLoan)
	}
	if book.AvailableCopies == 0 {
		return Loan{}, fmt.Errorf("borrow %s for %s: %w", isbn, memberID, ErrNoCopiesAvailable)
	}
	if len(member.Borrowed) >= e.borrowLimit {
		return Loan{}, fmt.Errorf("borrow %s for %s: %w: limit %d", isbn, memberID, ErrBorrowLimitExceeded, e.borrowLimit)
	}

	if err = e.recordLoan(ctx, EventBookCopyLent, LoanEvent{
		ISBN:            isbn,
		MemberID:        memberID,
		AvailableCopies: book.AvailableCopies - 1,
	}); err != nil {
		return Loan{}, fmt.Errorf("borrow %s for %s: %w", isbn, memberID, err)
	}

	book, err = e.catalog.CheckOut(isbn)
	if err != nil {
		return Loan{}, fmt.Errorf("borrow: %w", err)
	}
	member, err = e.members.Hold(memberID, isbn, e.borrowLimit)
	if err != nil {
		// Compensate the checkout so the copy is not lost.
		if _, cerr := e.catalog.CheckIn(isbn); cerr != nil {
			e.logger.ErrorContext(ctx, "failed to compensate checkout", "isbn", isbn, "error", cerr)
		}
		return Loan{}, fmt.Errorf("borrow: %w", err)
	}

	e.metrics.activeLoans.Add(ctx, 1)
	e.logger.DebugContext(ctx, "book lent", "member_id", memberID, "isbn", isbn, "available", book.AvailableCopies)
	return Loan{MemberID: memberID, ISBN: isbn, Book: book, Member: member}, nil
}

// ReturnBook takes back the copy of isbn held by memberID.
func (e *Engine) ReturnBook(ctx context.Context, memberID, isbn string) (loan Loan, err error) {
	ctx, span := e.begin(ctx, "return_book",
		attribute.String("member.id", memberID),
		attribute.String("book.isbn", isbn),
	)
	defer func() { e.end(ctx, span, "return_book", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	member, err := e.members.Get(memberID)
	if err != nil {
		return Loan{}, fmt.Errorf("return: %w", err)
	}
	book, err := e.catalog.Get(isbn)
	if err != nil {
		return Loan{}, fmt.Errorf("return: %w", err)
	}
	if !member.Holds(isbn) {
		return Loan{}, fmt.Errorf("return %s for %s: %w", isbn, memberID, ErrNotBorrowed)
	}

	if err = e.recordLoan(ctx, EventBookCopyReturned, LoanEvent{
		ISBN:            isbn,
		MemberID:        memberID,
		AvailableCopies: min(book.AvailableCopies+1, book.TotalCopies),
	}); err != nil {
		return Loan{}, fmt.Errorf("return %s for %s: %w", isbn, memberID, err)
	}

	member, err = e.members.Release(memberID, isbn)
	if err != nil {
		return Loan{}, fmt.Errorf("return: %w", err)
	}
	book, err = e.catalog.CheckIn(isbn)
	if err != nil {
		return Loan{}, fmt.Errorf("return: %w", err)
	}

	e.metrics.activeLoans.Add(ctx, -1)
	e.logger.DebugContext(ctx, "book returned", "member_id", memberID, "isbn", isbn, "available", book.AvailableCopies)
	return Loan{MemberID: memberID, ISBN: isbn, Book: book, Member: member}, nil
}

// Events returns up to limit journal events recorded after afterSequence.
func (e *Engine) Events(ctx context.Context, afterSequence int64, limit int) []journal.Event {
	return e.journal.StreamEvents(ctx, afterSequence, limit)
}

// History returns every event of one book or member stream.
func (e *Engine) History(ctx context.Context, aggregateType, aggregateID string) ([]journal.Event, error) {
	return e.journal.LoadEvents(ctx, aggregateType, aggregateID, 0, 0)
}

// Audit checks every record invariant and that each copy on loan is accounted
// for by exactly one member. It returns ErrInconsistent describing the first
// violation found.
func (e *Engine) Audit(ctx context.Context) (err error) {
	ctx, span := e.begin(ctx, "audit")
	defer func() { e.end(ctx, span, "audit", err) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	holders := make(map[string]int)
	for _, m := range e.members.List() {
		if len(m.Borrowed) > e.borrowLimit {
			return fmt.Errorf("%w: member %s holds %d books, limit %d", ErrInconsistent, m.ID, len(m.Borrowed), e.borrowLimit)
		}
		seen := make(map[string]struct{}, len(m.Borrowed))
		for _, isbn := range m.Borrowed {
			if _, dup := seen[isbn]; dup {
				return fmt.Errorf("%w: member %s holds %s twice", ErrInconsistent, m.ID, isbn)
			}
			seen[isbn] = struct{}{}
			if _, err := e.catalog.Get(isbn); err != nil {
				return fmt.Errorf("%w: member %s holds unknown book %s", ErrInconsistent, m.ID, isbn)
			}
			holders[isbn]++
		}
	}

	for _, b := range e.catalog.List() {
		if b.TotalCopies < 1 {
			return fmt.Errorf("%w: book %s has %d total copies", ErrInconsistent, b.ISBN, b.TotalCopies)
		}
		if b.AvailableCopies < 0 || b.AvailableCopies > b.TotalCopies {
			return fmt.Errorf("%w: book %s has %d of %d copies available",
				ErrInconsistent, b.ISBN, b.AvailableCopies, b.TotalCopies)
		}
		if b.OnLoan() != holders[b.ISBN] {
			return fmt.Errorf("%w: book %s has %d copies on loan but %d holders",
				ErrInconsistent, b.ISBN, b.OnLoan(), holders[b.ISBN])
		}
	}
	return nil
}

// Reset empties the catalog, the registry and the journal.
func (e *Engine) Reset(ctx context.Context) {
	ctx, span := e.begin(ctx, "reset")
	defer func() { e.end(ctx, span, "reset", nil) }()

	e.mu.Lock()
	defer e.mu.Unlock()

	var onLoan int
	for _, b := range e.catalog.List() {
		onLoan += b.OnLoan()
	}
	if onLoan > 0 {
		e.metrics.activeLoans.Add(ctx, -int64(onLoan))
	}

	e.catalog.Clear()
	e.members.Clear()
	e.journal.Reset()
	e.logger.InfoContext(ctx, "library reset")
}

// record appends one event at the head of its stream.
func (e *Engine) record(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) error {
	data, err := journal.Encode(payload)
	if err != nil {
		return err
	}
	version := e.journal.CurrentVersion(ctx, aggregateType, aggregateID)
	err = e.journal.AppendEvents(ctx, aggregateType, aggregateID, version, []journal.Event{{
		EventType: eventType,
		EventData: data,
	}})
	if err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}

// recordLoan appends one loan event to both the book's and the member's
// stream, atomically.
func (e *Engine) recordLoan(ctx context.Context, eventType string, payload LoanEvent) error {
	data, err := journal.Encode(payload)
	if err != nil {
		return err
	}
	event := []journal.Event{{EventType: eventType, EventData: data}}
	err = e.journal.AppendStreams(ctx,
		journal.StreamAppend{
			AggregateType:   AggregateBook,
			AggregateID:     payload.ISBN,
			ExpectedVersion: e.journal.CurrentVersion(ctx, AggregateBook, payload.ISBN),
			Events:          event,
		},
		journal.StreamAppend{
			AggregateType:   AggregateMember,
			AggregateID:     payload.MemberID,
			ExpectedVersion: e.journal.CurrentVersion(ctx, AggregateMember, payload.MemberID),
			Events:          event,
		},
	)
	if err != nil {
		return fmt.Errorf("record %s: %w", eventType, err)
	}
	return nil
}

// recordCommitted journals a change that is already committed. A failed append
// does not undo the change; it is logged and attached to the span.
func (e *Engine) recordCommitted(ctx context.Context, aggregateType, aggregateID, eventType string, payload any) {
	if err := e.record(ctx, aggregateType, aggregateID, eventType, payload); err != nil {
		trace.SpanFromContext(ctx).RecordError(err)
		e.logger.ErrorContext(ctx, "failed to journal committed change",
			"aggregate_type", aggregateType,
			"aggregate_id", aggregateID,
			"event_type", eventType,
			"error", err,
		)
	}
}
