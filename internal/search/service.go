package search

import (
	"context"
	"errors"
	"slices"
	"time"

	"github.com/rs/zerolog"

	"quill/api/internal/store"
)

const indexTimeout = 10 * time.Second

// Service is the facade that tries the engine first and falls back to the store.
type Service struct {
	engine   Engine
	fallback Searcher
	records  RecordSource
	log      zerolog.Logger
}

// NewService creates a search service. engine may be nil when Meilisearch is
// not configured.
func NewService(engine Engine, fallback Searcher, records RecordSource, logger zerolog.Logger) *Service {
	s := &Service{
		engine:   engine,
		fallback: fallback,
		records:  records,
		log:      logger.With().Str("component", "search").Logger(),
	}
	if notifier, ok := engine.(recoveryNotifier); ok && records != nil {
		notifier.OnRecover(func() { s.ReindexAll(context.Background()) })
	}
	return s
}

// recoveryNotifier is implemented by engines that can report coming back
// after an outage. Writes skipped while down are replayed by a full reindex.
type recoveryNotifier interface {
	OnRecover(fn func())
}

func (s *Service) engineReady() bool {
	return s.engine != nil && s.engine.Healthy()
}

// Search never fails: engine errors fall back to the store and store errors
// yield an empty response. Engine hits are checked against the store, so an
// index that missed a revoke or delete never exposes the note.
func (s *Service) Search(ctx context.Context, q Query) Response {
	if s.engineReady() && s.records != nil {
		results, total, err := s.engine.Search(ctx, q)
		if err == nil {
			var kept []Result
			kept, err = s.readable(ctx, q.UserID, results)
			if err == nil {
				total -= len(results) - len(kept)
				if total < len(kept) {
					total = len(kept)
				}
				return Response{Results: nonNil(kept), Total: total, Query: q.Text, Engine: "meilisearch"}
			}
		}
		s.log.Warn().Err(err).Msg("engine search failed, falling back to store")
	}

	results, total, err := s.fallback.Search(ctx, q)
	if err != nil {
		s.log.Error().Err(err).Msg("store search failed")
		return Response{Results: []Result{}, Query: q.Text, Engine: "store"}
	}
	return Response{Results: nonNil(results), Total: total, Query: q.Text, Engine: "store"}
}

// Refresh re-reads a note's search record and pushes it to the engine in the
// background. A note that is gone or deleted is removed from the index.
func (s *Service) Refresh(noteID string) {
	if !s.engineReady() || s.records == nil {
		return
	}
	go func() {
		if err := s.refresh(noteID); err != nil {
			s.log.Warn().Err(err).Str("note_id", noteID).Msg("refresh search index")
		}
	}()
}

func (s *Service) refresh(noteID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), indexTimeout)
	defer cancel()

	record, err := s.records.GetSearchRecord(ctx, noteID)
	if errors.Is(err, store.ErrNotFound) {
		return s.engine.DeleteNote(noteID)
	}
	if err != nil {
		return err
	}
	return s.engine.IndexNotes([]NoteRecord{recordFromStore(record)})
}

// readable keeps the hits whose note is visible and readable by userID in the
// store. Stale documents are refreshed in the background.
func (s *Service) readable(ctx context.Context, userID string, results []Result) ([]Result, error) {
	kept := make([]Result, 0, len(results))
	for _, result := range results {
		record, err := s.records.GetSearchRecord(ctx, result.NoteID)
		if err != nil && !errors.Is(err, store.ErrNotFound) {
			return nil, err
		}
		if err == nil && slices.Contains(record.Readers, userID) {
			kept = append(kept, result)
			continue
		}
		s.log.Debug().Str("note_id", result.NoteID).Str("user_id", userID).Msg("dropping stale search hit")
		s.Refresh(result.NoteID)
	}
	return kept, nil
}

// ReindexAll loads every visible note and pushes it to the engine.
func (s *Service) ReindexAll(ctx context.Context) {
	if !s.engineReady() || s.records == nil {
		return
	}
	records, err := s.records.LoadSearchRecords(ctx)
	if err != nil {
		s.log.Error().Err(err).Msg("reindex load failed")
		return
	}
	docs := make([]NoteRecord, 0, len(records))
	for _, record := range records {
		docs = append(docs, recordFromStore(record))
	}
	if err := s.engine.IndexNotes(docs); err != nil {
		s.log.Error().Err(err).Msg("reindex notes")
		return
	}
	s.log.Info().Int("notes", len(docs)).Msg("search index rebuilt")
}

func nonNil(r []Result) []Result {
	if r == nil {
		return []Result{}
	}
	return r
}
