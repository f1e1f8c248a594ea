// Package dedup tracks listing titles that are already stored or currently
// being fetched, so no title is fetched twice.
package dedup

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
)

// TitleSource lists the titles already persisted.
type TitleSource interface {
	Titles(ctx context.Context) ([]string, error)
}

const (
	claimed   = false
	committed = true
)

// Set is safe for concurrent use. A title is either claimed (a fetch is in
// flight) or committed (stored). Committed titles are never removed.
type Set struct {
	seen sync.Map
	size atomic.Int64
}

// New returns an empty Set.
func New() *Set {
	return &Set{}
}

// Load builds a Set from every stored title.
func Load(ctx context.Context, src TitleSource) (*Set, error) {
	titles, err := src.Titles(ctx)
	if err != nil {
		return nil, fmt.Errorf("load stored titles: %w", err)
	}
	s := New()
	s.Commit(titles...)
	return s, nil
}

// Claim reserves title and returns true if nobody has stored or claimed it.
func (s *Set) Claim(title string) bool {
	if title == "" {
		return false
	}
	_, loaded := s.seen.LoadOrStore(title, claimed)
	if !loaded {
		s.size.Add(1)
	}
	return !loaded
}

// Release drops a claim whose fetch failed so a later run can retry it.
func (s *Set) Release(title string) {
	if s.seen.CompareAndDelete(title, claimed) {
		s.size.Add(-1)
	}
}

// Commit marks titles as stored.
func (s *Set) Commit(titles ...string) {
	for _, title := range titles {
		if title == "" {
			continue
		}
		if _, loaded := s.seen.Swap(title, committed); !loaded {
			s.size.Add(1)
		}
	}
}

// Contains reports whether title is claimed or stored.
func (s *Set) Contains(title string) bool {
	_, ok := s.seen.Load(title)
	return ok
}

// Len returns the number of tracked titles.
func (s *Set) Len() int {
	return int(s.size.Load())
}
