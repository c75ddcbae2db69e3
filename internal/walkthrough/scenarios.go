package walkthrough

import (
	"context"
	"fmt"
	"slices"

	"librarydesk/internal/catalog"
	"librarydesk/internal/circulation"
	"librarydesk/internal/membership"
)

// Scenarios returns the front-desk walkthrough for a library whose members
// may hold up to borrowLimit books. Each scenario uses its own ISBNs and
// member IDs, so they can run one after another against the same library.
func Scenarios(borrowLimit int) []Scenario {
	return []Scenario{
		stockTheShelves(),
		singleCopy(),
		borrowLimitReached(borrowLimit),
		rejectedRegistrations(),
		deletionGuards(),
		updates(),
		searching(),
	}
}

func stockTheShelves() Scenario {
	return Scenario{
		Name:       "stock-the-shelves",
		Hypothesis: "Books and members are added once; duplicates are refused",
		Steps: []Step{
			addBook("0001", "The Great Gatsby", "F. Scott Fitzgerald", "Fiction", 3, nil),
			addBook("0002", "Wuthering Heights", "Emily Bronte", "Fiction", 2, nil),
			addBook("0003", "A Brief History of Time", "Stephen Hawking", "Non-Fiction", 1, nil),
			addBook("0001", "The Great Gatsby", "F. Scott Fitzgerald", "Fiction", 1, catalog.ErrDuplicateKey),
			addMember("D001", "Mary Small", "mary@email.com", nil),
			addMember("D002", "Jon Smith", "jon@email.com", nil),
			addMember("D001", "Mary Again", "again@email.com", membership.ErrDuplicateKey),
		},
	}
}

func singleCopy() Scenario {
	return Scenario{
		Name:       "single-copy",
		Hypothesis: "A single copy is lent to one member at a time",
		Steps: []Step{
			addBook("1001", "Ender's Game", "Orson Scott Card", "Sci-Fi", 1, nil),
			addMember("S001", "Ada First", "ada@email.com", nil),
			addMember("S002", "Bo Second", "bo@email.com", nil),
			borrow("S001", "1001", nil),
			expectAvailable("1001", 0),
			borrow("S002", "1001", circulation.ErrNoCopiesAvailable),
			returnBook("S001", "1001", nil),
			expectAvailable("1001", 1),
			borrow("S002", "1001", nil),
			returnBook("S001", "1001", circulation.ErrNotBorrowed),
		},
	}
}

func borrowLimitReached(limit int) Scenario {
	steps := []Step{addMember("L000", "Lee Reader", "lee@email.com", nil)}
	var held []string
	for i := 1; i <= limit+1; i++ {
		steps = append(steps, addBook(fmt.Sprintf("L%03d", i), fmt.Sprintf("Volume %d", i), "Various", "Mystery", 1, nil))
	}
	for i := 1; i <= limit; i++ {
		isbn := fmt.Sprintf("L%03d", i)
		held = append(held, isbn)
		steps = append(steps, borrow("L000", isbn, nil))
	}
	steps = append(steps,
		borrow("L000", "L001", circulation.ErrDuplicateLoan),
		borrow("L000", fmt.Sprintf("L%03d", limit+1), circulation.ErrBorrowLimitExceeded),
		expectBorrowed("L000", held),
	)

	return Scenario{
		Name:       "borrow-limit",
		Hypothesis: fmt.Sprintf("A member holds at most %d books; a further borrow changes nothing", limit),
		Steps:      steps,
	}
}

func rejectedRegistrations() Scenario {
	return Scenario{
		Name:       "rejected-registrations",
		Hypothesis: "Invalid records are refused without partial inserts",
		Steps: []Step{
			addBook("R001", "Dracula", "Bram Stoker", "Horror", 1, catalog.ErrInvalidGenre),
			addBook("R002", "Empty Shelf", "Nobody", "Fiction", 0, catalog.ErrInvalidCopies),
			expectMissingBook("R001"),
			addMember("R003", "No At", "no-at.email.com", membership.ErrInvalidEmail),
			expectMissingMember("R003"),
		},
	}
}

func deletionGuards() Scenario {
	return Scenario{
		Name:       "deletion-guards",
		Hypothesis: "Records with copies on loan cannot be deleted",
		Steps: []Step{
			addBook("G001", "Dune", "Frank Herbert", "Sci-Fi", 2, nil),
			addMember("G002", "Gus Keeper", "gus@email.com", nil),
			borrow("G002", "G001", nil),
			deleteBook("G001", catalog.ErrHasOutstandingLoans),
			deleteMember("G002", membership.ErrHasOutstandingLoans),
			updateCopies("G001", 0, catalog.ErrInvalidCopies),
			returnBook("G002", "G001", nil),
			deleteBook("G001", nil),
			deleteMember("G002", nil),
			deleteBook("G001", catalog.ErrNotFound),
		},
	}
}

func updates() Scenario {
	return Scenario{
		Name:       "updates",
		Hypothesis: "Edits apply every supplied field or none, and keep copies on loan",
		Steps: []Step{
			addBook("U001", "1984", "George Orwell", "Fiction", 2, nil),
			addMember("U002", "Una Reader", "una@email.com", nil),
			borrow("U002", "U001", nil),
			updateBook("U001", catalog.Patch{Title: ptr("Nineteen Eighty-Four"), TotalCopies: ptr(5)}, nil),
			expectBook("U001", "Nineteen Eighty-Four", 5, 4),
			updateBook("U001", catalog.Patch{Title: ptr("1984"), Genre: ptr("Horror")}, catalog.ErrInvalidGenre),
			expectBook("U001", "Nineteen Eighty-Four", 5, 4),
			updateMember("U002", membership.Patch{Name: ptr("Una Writer"), Email: ptr("una.writer@email.com")}, nil),
			updateMember("U002", membership.Patch{Name: ptr("Una Nobody"), Email: ptr("broken")}, membership.ErrInvalidEmail),
			expectMember("U002", "Una Writer", "una.writer@email.com"),
			updateMember("U999", membership.Patch{Name: ptr("Ghost")}, membership.ErrNotFound),
			returnBook("U002", "U001", nil),
			expectAvailable("U001", 5),
		},
	}
}

func searching() Scenario {
	return Scenario{
		Name:       "search",
		Hypothesis: "Search is case-insensitive and an empty result is not an error",
		Steps: []Step{
			expectSearch("GATSBY", catalog.FieldTitle, []string{"0001"}),
			expectSearch("scott", catalog.FieldAuthor, []string{"0001", "1001"}),
			expectSearch("nothing like this", catalog.FieldTitle, nil),
		},
	}
}

func addBook(isbn, title, author, genre string, copies int, want error) Step {
	return Step{
		Name: "add book " + isbn,
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.AddBook(ctx, isbn, title, author, genre, copies)
			return err
		},
		WantErr: want,
	}
}

func addMember(id, name, email string, want error) Step {
	return Step{
		Name: "add member " + id,
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.AddMember(ctx, id, name, email)
			return err
		},
		WantErr: want,
	}
}

func borrow(memberID, isbn string, want error) Step {
	return Step{
		Name: fmt.Sprintf("%s borrows %s", memberID, isbn),
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.BorrowBook(ctx, memberID, isbn)
			return err
		},
		WantErr: want,
	}
}

func returnBook(memberID, isbn string, want error) Step {
	return Step{
		Name: fmt.Sprintf("%s returns %s", memberID, isbn),
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.ReturnBook(ctx, memberID, isbn)
			return err
		},
		WantErr: want,
	}
}

func deleteBook(isbn string, want error) Step {
	return Step{
		Name: "delete book " + isbn,
		Run: func(ctx context.Context, svc circulation.Service) error {
			return svc.DeleteBook(ctx, isbn)
		},
		WantErr: want,
	}
}

func deleteMember(id string, want error) Step {
	return Step{
		Name: "delete member " + id,
		Run: func(ctx context.Context, svc circulation.Service) error {
			return svc.DeleteMember(ctx, id)
		},
		WantErr: want,
	}
}

func ptr[T any](v T) *T { return &v }

func updateBook(isbn string, patch catalog.Patch, want error) Step {
	return Step{
		Name: "update book " + isbn,
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.UpdateBook(ctx, isbn, patch)
			return err
		},
		WantErr: want,
	}
}

func updateMember(id string, patch membership.Patch, want error) Step {
	return Step{
		Name: "update member " + id,
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.UpdateMember(ctx, id, patch)
			return err
		},
		WantErr: want,
	}
}

func updateCopies(isbn string, total int, want error) Step {
	return Step{
		Name: fmt.Sprintf("set %s total copies to %d", isbn, total),
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.UpdateBook(ctx, isbn, catalog.Patch{TotalCopies: &total})
			return err
		},
		WantErr: want,
	}
}

func expectAvailable(isbn string, want int) Step {
	return Step{
		Name: fmt.Sprintf("%s has %d available", isbn, want),
		Run: func(ctx context.Context, svc circulation.Service) error {
			book, err := svc.GetBook(ctx, isbn)
			if err != nil {
				return err
			}
			if book.AvailableCopies != want {
				return fmt.Errorf("%s has %d available", isbn, book.AvailableCopies)
			}
			return nil
		},
	}
}

func expectBook(isbn, title string, total, available int) Step {
	return Step{
		Name: fmt.Sprintf("%s is %q with %d/%d available", isbn, title, available, total),
		Run: func(ctx context.Context, svc circulation.Service) error {
			book, err := svc.GetBook(ctx, isbn)
			if err != nil {
				return err
			}
			if book.Title != title || book.TotalCopies != total || book.AvailableCopies != available {
				return fmt.Errorf("%s is %q with %d/%d available", isbn, book.Title, book.AvailableCopies, book.TotalCopies)
			}
			return nil
		},
	}
}

func expectMember(id, name, email string) Step {
	return Step{
		Name: fmt.Sprintf("%s is %s <%s>", id, name, email),
		Run: func(ctx context.Context, svc circulation.Service) error {
			member, err := svc.GetMember(ctx, id)
			if err != nil {
				return err
			}
			if member.Name != name || member.Email != email {
				return fmt.Errorf("%s is %s <%s>", id, member.Name, member.Email)
			}
			return nil
		},
	}
}

func expectBorrowed(id string, want []string) Step {
	return Step{
		Name: fmt.Sprintf("%s holds %v", id, want),
		Run: func(ctx context.Context, svc circulation.Service) error {
			member, err := svc.GetMember(ctx, id)
			if err != nil {
				return err
			}
			if !slices.Equal(member.Borrowed, want) {
				return fmt.Errorf("%s holds %v", id, member.Borrowed)
			}
			return nil
		},
	}
}

func expectMissingBook(isbn string) Step {
	return Step{
		Name: "book " + isbn + " absent",
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.GetBook(ctx, isbn)
			return err
		},
		WantErr: catalog.ErrNotFound,
	}
}

func expectMissingMember(id string) Step {
	return Step{
		Name: "member " + id + " absent",
		Run: func(ctx context.Context, svc circulation.Service) error {
			_, err := svc.GetMember(ctx, id)
			return err
		},
		WantErr: membership.ErrNotFound,
	}
}

func expectSearch(term string, field catalog.SearchField, want []string) Step {
	return Step{
		Name: fmt.Sprintf("search %s for %q", field, term),
		Run: func(ctx context.Context, svc circulation.Service) error {
			var got []string
			for isbn := range svc.SearchBooks(ctx, term, field) {
				got = append(got, isbn)
			}
			if !slices.Equal(got, want) {
				return fmt.Errorf("search %q matched %v", term, got)
			}
			return nil
		},
	}
}
