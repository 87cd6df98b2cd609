package search

import (
	"context"
	"fmt"
	"strings"

	"quill/api/internal/store"
)

// NoteFinder is the store query the fallback delegates to.
type NoteFinder interface {
	SearchReadableNotes(ctx context.Context, userID, query string, limit int) ([]store.Note, error)
}

// StoreSearcher answers queries with a substring match in the entity store.
type StoreSearcher struct {
	finder NoteFinder
}

func NewStoreSearcher(finder NoteFinder) *StoreSearcher {
	return &StoreSearcher{finder: finder}
}

// Healthy is always true; the store being down fails the request anyway.
func (s *StoreSearcher) Healthy() bool {
	return true
}

func (s *StoreSearcher) Search(ctx context.Context, q Query) ([]Result, int, error) {
	if strings.TrimSpace(q.Text) == "" {
		return nil, 0, nil
	}
	limit := q.Limit
	if limit <= 0 {
		limit = 20
	}

	notes, err := s.finder.SearchReadableNotes(ctx, q.UserID, strings.TrimSpace(q.Text), limit)
	if err != nil {
		return nil, 0, fmt.Errorf("store search: %w", err)
	}
	results := make([]Result, 0, len(notes))
	for _, note := range notes {
		results = append(results, Result{NoteID: note.ID, Type: note.Type, Snippet: snippet(note.Content)})
	}
	return results, len(results), nil
}
