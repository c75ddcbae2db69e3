// Package validation holds the stateless predicates shared by the catalog and
// the member registry: the accepted genre set and a syntactic email check.
package validation

import (
	"sort"
	"strings"
)

// DefaultGenres is the genre set used when no genres are configured.
var DefaultGenres = []string{
	"Fiction",
	"Non-Fiction",
	"Sci-Fi",
	"Mystery",
	"Biography",
	"Fantasy",
}

// Rules is a closed set of accepted genres. It is fixed once constructed.
type Rules struct {
	genres map[string]struct{}
}

// New returns Rules accepting exactly the given genres, or DefaultGenres when
// none are given. Blank entries are ignored.
func New(genres ...string) *Rules {
	if len(genres) == 0 {
		genres = DefaultGenres
	}
	set := make(map[string]struct{}, len(genres))
	for _, g := range genres {
		g = strings.TrimSpace(g)
		if g == "" {
			continue
		}
		set[g] = struct{}{}
	}
	return &Rules{genres: set}
}

// IsValidGenre reports whether genre belongs to the accepted set. Matching is exact.
func (r *Rules) IsValidGenre(genre string) bool {
	_, ok := r.genres[genre]
	return ok
}

// Genres returns the accepted genres, sorted.
func (r *Rules) Genres() []string {
	out := make([]string, 0, len(r.genres))
	for g := range r.genres {
		out = append(out, g)
	}
	sort.Strings(out)
	return out
}

// IsValidEmail is a syntactic sanity check, not RFC 5322 validation: exactly one
// "@", a non-empty local part, and a domain of at least two non-empty
// dot-separated segments.
func IsValidEmail(email string) bool {
	if strings.Count(email, "@") != 1 {
		return false
	}
	local, domain, _ := strings.Cut(email, "@")
	if local == "" || !strings.Contains(domain, ".") {
		return false
	}
	for _, label := range strings.Split(domain, ".") {
		if label == "" {
			return false
		}
	}
	return true
}
