package circulation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestConcurrentBorrowPreventsDoubleBooking(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t)

	_, err := e.AddBook(ctx, "9780743273565", "The Great Gatsby", "F. Scott Fitzgerald", "Fiction", 1)
	require.NoError(t, err)

	var members []string
	for i := 0; i < 10; i++ {
		id := fmt.Sprintf("M%03d", i)
		_, err := e.AddMember(ctx, id, fmt.Sprintf("Member %d", i), fmt.Sprintf("member%d@test.com", i))
		require.NoError(t, err)
		members = append(members, id)
	}

	var wg sync.WaitGroup
	successCount := 0
	var mu sync.Mutex

	for _, id := range members {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			_, err := e.BorrowBook(ctx, id, "9780743273565")
			if err == nil {
				mu.Lock()
				successCount++
				mu.Unlock()
				return
			}
			if !errors.Is(err, ErrNoCopiesAvailable) {
				t.Errorf("unexpected error for %s: %v", id, err)
			}
		}(id)
	}
	wg.Wait()

	assert.Equal(t, 1, successCount, "only one borrow should succeed")

	book, err := e.GetBook(ctx, "9780743273565")
	require.NoError(t, err)
	assert.Equal(t, 0, book.AvailableCopies)
	require.NoError(t, e.Audit(ctx))
}

func TestConcurrentMixedOperations(t *testing.T) {
	ctx := context.Background()
	e := newTestEngine(t, WithBorrowLimit(2))
	seed(t, e)

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			member := []string{"D001", "D002"}[i%2]
			isbn := fmt.Sprintf("%04d", i%4+1)
			for n := 0; n < 50; n++ {
				_, _ = e.BorrowBook(ctx, member, isbn)
				for range e.SearchBooks(ctx, "a", "title") {
				}
				_, _ = e.ReturnBook(ctx, member, isbn)
			}
		}(i)
	}
	wg.Wait()

	require.NoError(t, e.Audit(ctx))
}
