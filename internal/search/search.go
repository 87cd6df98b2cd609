// Package search finds notes a user can read. Meilisearch serves queries when
// configured and healthy; the entity store answers otherwise.
package search

import (
	"context"

	"quill/api/internal/store"
)

// Result is a single search hit returned to the caller.
type Result struct {
	NoteID  string `json:"noteId"`
	Type    string `json:"noteType"`
	Snippet string `json:"snippet"`
}

// Query describes a search request. UserID restricts hits to notes that user
// holds an active read grant on.
type Query struct {
	Text   string
	UserID string
	Limit  int
}

// Response is the envelope returned by the search endpoint.
type Response struct {
	Results []Result `json:"results"`
	Total   int      `json:"total"`
	Query   string   `json:"query"`
	Engine  string   `json:"engine"`
}

// Searcher can execute a permission-scoped search.
type Searcher interface {
	Search(ctx context.Context, q Query) ([]Result, int, error)
	Healthy() bool
}

// Engine is a Searcher that also maintains its own index.
type Engine interface {
	Searcher
	IndexNotes(records []NoteRecord) error
	DeleteNote(id string) error
}

// RecordSource loads the indexable view of notes.
type RecordSource interface {
	GetSearchRecord(ctx context.Context, noteID string) (store.SearchRecord, error)
	LoadSearchRecords(ctx context.Context) ([]store.SearchRecord, error)
}

// NoteRecord is the document pushed to the index.
type NoteRecord struct {
	ID      string   `json:"id"`
	Content string   `json:"content"`
	Type    string   `json:"noteType"`
	Readers []string `json:"readers"`
}

func recordFromStore(r store.SearchRecord) NoteRecord {
	readers := r.Readers
	if readers == nil {
		readers = []string{}
	}
	return NoteRecord{ID: r.NoteID, Content: r.Content, Type: r.Type, Readers: readers}
}

const snippetRunes = 160

func snippet(content string) string {
	runes := []rune(content)
	if len(runes) <= snippetRunes {
		return content
	}
	return string(runes[:snippetRunes]) + "…"
}
