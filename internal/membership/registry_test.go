package membership

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/time/rate"
)

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	r := NewRegistry()
	_, err := r.Add("D001", "Mary Small", ".Mary@email.com")
	require.NoError(t, err)
	_, err = r.Add("D002", "Jon Smith", "Jon@email.com")
	require.NoError(t, err)
	return r
}

func ptr[T any](v T) *T { return &v }

func TestAdd(t *testing.T) {
	r := NewRegistry()

	member, err := r.Add("D003", "James Saidu", "saidu@email.com")
	require.NoError(t, err)
	assert.Equal(t, Member{ID: "D003", Name: "James Saidu", Email: "saidu@email.com", Borrowed: []string{}}, member)

	got, err := r.Get("D003")
	require.NoError(t, err)
	assert.Equal(t, member, got)
}

func TestAddRejectsWithoutPartialInsert(t *testing.T) {
	r := newTestRegistry(t)

	_, err := r.Add("D004", "Invalid Email", "invalid-email")
	assert.ErrorIs(t, err, ErrInvalidEmail)

	_, err = r.Add("D001", "Someone Else", "else@email.com")
	assert.ErrorIs(t, err, ErrDuplicateKey)

	assert.Equal(t, 2, r.Len())
	_, err = r.Get("D004")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestAddRateLimited(t *testing.T) {
	r := NewRegistry(WithRegistrationLimiter(rate.NewLimiter(rate.Limit(0), 1)))

	_, err := r.Add("D001", "Mary Small", "mary@email.com")
	require.NoError(t, err)

	_, err = r.Add("D002", "Jon Smith", "jon@email.com")
	assert.ErrorIs(t, err, ErrRateLimited)
	assert.Equal(t, 1, r.Len())
}

func TestInvalidRegistrationsDoNotConsumeTokens(t *testing.T) {
	r := NewRegistry(WithRegistrationLimiter(rate.NewLimiter(rate.Limit(0), 1)))

	_, err := r.Add("D001", "Bad Email", "bad-email")
	require.ErrorIs(t, err, ErrInvalidEmail)

	_, err = r.Add("D001", "Mary Small", "mary@email.com")
	require.NoError(t, err)

	_, err = r.Add("D001", "Mary Again", "again@email.com")
	assert.ErrorIs(t, err, ErrDuplicateKey, "duplicates are reported even with no tokens left")

	_, err = r.Add("D002", "Jon Smith", "jon@email.com")
	assert.ErrorIs(t, err, ErrRateLimited)
}

func TestUpdate(t *testing.T) {
	r := newTestRegistry(t)

	member, err := r.Update("D001", Patch{Email: ptr("Mary@email.com")})
	require.NoError(t, err)
	assert.Equal(t, "Mary Small", member.Name)
	assert.Equal(t, "Mary@email.com", member.Email)

	_, err = r.Update("D001", Patch{Name: ptr("M. Small"), Email: ptr("nope")})
	assert.ErrorIs(t, err, ErrInvalidEmail)

	got, err := r.Get("D001")
	require.NoError(t, err)
	assert.Equal(t, "Mary Small", got.Name, "a rejected patch writes nothing")

	_, err = r.Update("D999", Patch{Name: ptr("x")})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestHoldAndRelease(t *testing.T) {
	r := newTestRegistry(t)

	member, err := r.Hold("D002", "0003", 2)
	require.NoError(t, err)
	assert.Equal(t, []string{"0003"}, member.Borrowed)
	assert.True(t, member.Holds("0003"))

	_, err = r.Hold("D002", "0003", 2)
	assert.ErrorIs(t, err, ErrDuplicateLoan)

	_, err = r.Hold("D002", "0001", 2)
	require.NoError(t, err)

	_, err = r.Hold("D002", "0004", 2)
	assert.ErrorIs(t, err, ErrBorrowLimitExceeded)

	member, err = r.Release("D002", "0003")
	require.NoError(t, err)
	assert.Equal(t, []string{"0001"}, member.Borrowed)

	_, err = r.Release("D002", "0003")
	assert.ErrorIs(t, err, ErrNotBorrowed)

	_, err = r.Hold("D999", "0003", 2)
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = r.Release("D999", "0003")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestReturnedRecordsAreCopies(t *testing.T) {
	r := newTestRegistry(t)
	member, err := r.Hold("D001", "0002", 3)
	require.NoError(t, err)

	member.Borrowed[0] = "tampered"

	got, err := r.Get("D001")
	require.NoError(t, err)
	assert.Equal(t, []string{"0002"}, got.Borrowed)
}

func TestDelete(t *testing.T) {
	r := newTestRegistry(t)
	_, err := r.Hold("D001", "0002", 3)
	require.NoError(t, err)

	assert.ErrorIs(t, r.Delete("D001"), ErrHasOutstandingLoans)

	_, err = r.Release("D001", "0002")
	require.NoError(t, err)
	require.NoError(t, r.Delete("D001"))

	assert.ErrorIs(t, r.Delete("D001"), ErrNotFound)

	var ids []string
	for _, m := range r.List() {
		ids = append(ids, m.ID)
	}
	assert.Equal(t, []string{"D002"}, ids)
}

func TestClear(t *testing.T) {
	r := newTestRegistry(t)
	r.Clear()

	assert.Empty(t, r.List())
	_, err := r.Add("D001", "Mary Small", "mary@email.com")
	assert.NoError(t, err)
}
