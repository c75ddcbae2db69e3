// internal/membership/implementation.go
package membership

import (
	"fmt"
	"slices"

	"golang.org/x/time/rate"

	"librarydesk/internal/validation"
)

// Registry owns the member ID -> Member mapping and remembers insertion order.
// It is not safe for concurrent use; the circulation engine serialises access.
type Registry struct {
	members     map[string]*Member
	order       []string
	rateLimiter *rate.Limiter
}

// Option configures a Registry.
type Option func(*Registry)

// WithRegistrationLimiter throttles Add. Rejected registrations do not consume
// tokens. A nil limiter disables throttling.
func WithRegistrationLimiter(l *rate.Limiter) Option {
	return func(r *Registry) {
		r.rateLimiter = l
	}
}

// NewRegistry creates an empty member registry.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		members: make(map[string]*Member),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Add registers a new member with nothing borrowed.
func (r *Registry) Add(id, name, email string) (Member, error) {
	if _, exists := r.members[id]; exists {
		return Member{}, fmt.Errorf("add member %s: %w", id, ErrDuplicateKey)
	}
	if !validation.IsValidEmail(email) {
		return Member{}, fmt.Errorf("add member %s: %w: %q", id, ErrInvalidEmail, email)
	}
	// Only registrations that would succeed take a token.
	if r.rateLimiter != nil && !r.rateLimiter.Allow() {
		return Member{}, fmt.Errorf("add member %s: %w", id, ErrRateLimited)
	}

	member := &Member{
		ID:    id,
		Name:  name,
		Email: email,
	}
	r.members[id] = member
	r.order = append(r.order, id)

	return member.clone(), nil
}

// Get retrieves a member by ID.
func (r *Registry) Get(id string) (Member, error) {
	member, ok := r.members[id]
	if !ok {
		return Member{}, fmt.Errorf("member %s: %w", id, ErrNotFound)
	}
	return member.clone(), nil
}

// Update applies the non-nil fields of p.
func (r *Registry) Update(id string, p Patch) (Member, error) {
	member, ok := r.members[id]
	if !ok {
		return Member{}, fmt.Errorf("update member %s: %w", id, ErrNotFound)
	}
	if p.Email != nil && !validation.IsValidEmail(*p.Email) {
		return Member{}, fmt.Errorf("update member %s: %w: %q", id, ErrInvalidEmail, *p.Email)
	}

	if p.Name != nil {
		member.Name = *p.Name
	}
	if p.Email != nil {
		member.Email = *p.Email
	}
	return member.clone(), nil
}

// Delete removes a member who has nothing on loan.
func (r *Registry) Delete(id string) error {
	member, ok := r.members[id]
	if !ok {
		return fmt.Errorf("delete member %s: %w", id, ErrNotFound)
	}
	if len(member.Borrowed) > 0 {
		return fmt.Errorf("delete member %s: %w: %d on loan", id, ErrHasOutstandingLoans, len(member.Borrowed))
	}

	delete(r.members, id)
	if i := slices.Index(r.order, id); i >= 0 {
		r.order = slices.Delete(r.order, i, i+1)
	}
	return nil
}

// List returns every member in insertion order.
func (r *Registry) List() []Member {
	out := make([]Member, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, r.members[id].clone())
	}
	return out
}

// Len returns the number of registered members.
func (r *Registry) Len() int {
	return len(r.order)
}

// Hold records isbn as borrowed by the member, enforcing the set and limit invariants.
func (r *Registry) Hold(id, isbn string, limit int) (Member, error) {
	member, ok := r.members[id]
	if !ok {
		return Member{}, fmt.Errorf("hold %s for %s: %w", isbn, id, ErrNotFound)
	}
	if member.Holds(isbn) {
		return Member{}, fmt.Errorf("hold %s for %s: %w", isbn, id, ErrDuplicateLoan)
	}
	if len(member.Borrowed) >= limit {
		return Member{}, fmt.Errorf("hold %s for %s: %w: limit %d", isbn, id, ErrBorrowLimitExceeded, limit)
	}

	member.Borrowed = append(member.Borrowed, isbn)
	return member.clone(), nil
}

// Release removes isbn from the member's borrowed set.
func (r *Registry) Release(id, isbn string) (Member, error) {
	member, ok := r.members[id]
	if !ok {
		return Member{}, fmt.Errorf("release %s for %s: %w", isbn, id, ErrNotFound)
	}
	i := slices.Index(member.Borrowed, isbn)
	if i < 0 {
		return Member{}, fmt.Errorf("release %s for %s: %w", isbn, id, ErrNotBorrowed)
	}

	member.Borrowed = slices.Delete(member.Borrowed, i, i+1)
	return member.clone(), nil
}

// Clear removes every member.
func (r *Registry) Clear() {
	r.members = make(map[string]*Member)
	r.order = nil
}
