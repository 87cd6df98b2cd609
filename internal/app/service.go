package app

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"quill/api/internal/audit"
	"quill/api/internal/auth"
	"quill/api/internal/metrics"
	"quill/api/internal/rbac"
	"quill/api/internal/search"
	"quill/api/internal/store"
	"quill/api/internal/util"
)

type CreateNoteInput struct {
	Content string `json:"content"`
	Type    string `json:"type"`
}

// UpdateNoteInput carries a partial update; nil fields keep their value.
type UpdateNoteInput struct {
	Content *string `json:"content"`
	Type    *string `json:"type"`
}

// NoteDetail is a note together with everyone who can currently access it.
type NoteDetail struct {
	Note   store.Note
	Grants []store.Grant
}

// grantCache fills only at the generation Get reported, so a fill racing an
// Invalidate is dropped.
type grantCache interface {
	Get(ctx context.Context, noteID, userID string) (store.Grant, int64, bool, error)
	Fill(ctx context.Context, grant store.Grant, generation int64) (bool, error)
	Invalidate(ctx context.Context, noteID, userID string) error
}

type noteSearch interface {
	Search(ctx context.Context, q search.Query) search.Response
	Refresh(noteID string)
}

type Service struct {
	store   store.Store
	tracker *audit.Tracker
	cache   grantCache
	search  noteSearch
	log     zerolog.Logger
	now     func() time.Time
	newID   func(prefix string) string
}

type Option func(*Service)

// WithGrantCache puts a cache in front of grant lookups.
func WithGrantCache(cache grantCache) Option {
	return func(s *Service) { s.cache = cache }
}

// WithSearch enables the search endpoint and index refreshes.
func WithSearch(svc noteSearch) Option {
	return func(s *Service) { s.search = svc }
}

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithIDs(newID func(prefix string) string) Option {
	return func(s *Service) { s.newID = newID }
}

func New(dataStore store.Store, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store: dataStore,
		log:   logger,
		now:   func() time.Time { return time.Now().UTC() },
		newID: util.NewID,
	}
	for _, opt := range opts {
		opt(s)
	}
	s.tracker = audit.NewTracker(
		audit.WithIDs(func() string { return s.newID("aud") }),
		audit.OnRecord(func(store.AuditEntry) { metrics.AuditEntriesTotal.Inc() }),
	)
	return s
}

func (s *Service) Ping(ctx context.Context) error {
	return s.store.Ping(ctx)
}

// Identify records the principal as a known user so it can own notes and
// receive shares.
func (s *Service) Identify(ctx context.Context, principal auth.Principal) error {
	if _, err := s.store.EnsureUser(ctx, principal.ID, principal.Name); err != nil {
		return fmt.Errorf("identify principal: %w", err)
	}
	return nil
}

func (s *Service) Create(ctx context.Context, principal auth.Principal, input CreateNoteInput) (store.Note, error) {
	fields := noteFields{Content: input.Content, Type: strings.TrimSpace(input.Type)}
	if fields.Type == "" {
		fields.Type = store.DefaultNoteType
	}
	if err := validate.Struct(fields); err != nil {
		return store.Note{}, validationError("Invalid note.", fieldErrors(err))
	}

	now := s.now()
	note := store.Note{
		ID:         s.newID("note"),
		Content:    fields.Content,
		Type:       fields.Type,
		CreatedBy:  principal.ID,
		ModifiedBy: principal.ID,
		CreatedAt:  now,
		ModifiedAt: now,
		IsActive:   true,
	}
	if _, err := s.store.CreateNoteWithOwner(ctx, note, s.newID("grant")); err != nil {
		return store.Note{}, fmt.Errorf("create note: %w", err)
	}

	metrics.NoteOperationsTotal.WithLabelValues("create").Inc()
	s.log.Info().Str("note_id", note.ID).Str("user_id", principal.ID).Msg("note created")
	s.refreshIndex(note.ID)
	return note, nil
}

// ListNotes returns every active note. It is not filtered by grants.
func (s *Service) ListNotes(ctx context.Context) ([]store.Note, error) {
	notes, err := s.store.ListNotes(ctx)
	if err != nil {
		return nil, fmt.Errorf("list notes: %w", err)
	}
	return notes, nil
}

func (s *Service) GetOne(ctx context.Context, principal auth.Principal, noteID string) (store.Note, error) {
	if err := s.Authorize(ctx, principal, noteID, rbac.ActionRead); err != nil {
		return store.Note{}, err
	}
	return s.activeNote(ctx, noteID)
}

func (s *Service) GetDetailed(ctx context.Context, principal auth.Principal, noteID string) (NoteDetail, error) {
	if err := s.Authorize(ctx, principal, noteID, rbac.ActionRead); err != nil {
		return NoteDetail{}, err
	}
	note, err := s.activeNote(ctx, noteID)
	if err != nil {
		return NoteDetail{}, err
	}
	grants, err := s.store.ListGrants(ctx, noteID)
	if err != nil {
		return NoteDetail{}, fmt.Errorf("list grants: %w", err)
	}
	return NoteDetail{Note: note, Grants: grants}, nil
}

// Update applies input under an edit grant. The audit entry, when content or
// type changes, is written in the same transaction as the note.
func (s *Service) Update(ctx context.Context, principal auth.Principal, noteID string, input UpdateNoteInput) (store.Note, error) {
	if err := s.Authorize(ctx, principal, noteID, rbac.ActionEdit); err != nil {
		return store.Note{}, err
	}

	var updated store.Note
	var entry *store.AuditEntry
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		before, err := tx.GetNoteForUpdate(ctx, noteID)
		if err != nil {
			return err
		}

		after := before
		if input.Content != nil {
			after.Content = *input.Content
		}
		if input.Type != nil {
			after.Type = strings.TrimSpace(*input.Type)
		}
		if err := validate.Struct(noteFields{Content: after.Content, Type: after.Type}); err != nil {
			return validationError("Unable to update Note.", fieldErrors(err))
		}

		now := s.now()
		after.ModifiedBy = principal.ID
		after.ModifiedAt = now

		entry, err = s.tracker.Track(ctx, tx, before, after, principal.ID, now)
		if err != nil {
			return err
		}
		if err := tx.UpdateNote(ctx, after); err != nil {
			return err
		}
		updated = after
		return nil
	})
	if errors.Is(err, store.ErrNotFound) {
		return store.Note{}, notFound("Requested Not Found.")
	}
	if err != nil {
		var domainErr *DomainError
		if errors.As(err, &domainErr) {
			return store.Note{}, domainErr
		}
		return store.Note{}, fmt.Errorf("update note: %w", err)
	}

	metrics.NoteOperationsTotal.WithLabelValues("update").Inc()
	event := s.log.Info().Str("note_id", noteID).Str("user_id", principal.ID)
	if entry != nil {
		event = event.Str("audit_id", entry.ID)
	}
	event.Msg("note updated")
	s.refreshIndex(noteID)
	return updated, nil
}

// Delete soft-deletes the note. Grants and audit entries are kept.
func (s *Service) Delete(ctx context.Context, principal auth.Principal, noteID string) error {
	if err := s.Authorize(ctx, principal, noteID, rbac.ActionDelete); err != nil {
		return err
	}
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		return tx.SoftDeleteNote(ctx, noteID, principal.ID, s.now())
	})
	if err != nil {
		return notFoundOr(err, "Requested Not Found.", "delete note")
	}

	metrics.NoteOperationsTotal.WithLabelValues("delete").Inc()
	s.log.Info().Str("note_id", noteID).Str("user_id", principal.ID).Msg("note deleted")
	s.refreshIndex(noteID)
	return nil
}

// Search finds notes the principal can read.
func (s *Service) Search(ctx context.Context, principal auth.Principal, query string, limit int) (search.Response, error) {
	query = strings.TrimSpace(query)
	if query == "" {
		return search.Response{}, validationError("Search query is required.", map[string]string{"q": "This field may not be blank."})
	}
	if limit <= 0 || limit > 100 {
		limit = 20
	}

	var resp search.Response
	if s.search != nil {
		resp = s.search.Search(ctx, search.Query{Text: query, UserID: principal.ID, Limit: limit})
	} else {
		results, total, err := search.NewStoreSearcher(s.store).Search(ctx, search.Query{Text: query, UserID: principal.ID, Limit: limit})
		if err != nil {
			return search.Response{}, err
		}
		if results == nil {
			results = []search.Result{}
		}
		resp = search.Response{Results: results, Total: total, Query: query, Engine: "store"}
	}
	metrics.SearchQueriesTotal.WithLabelValues(resp.Engine).Inc()
	return resp, nil
}

func (s *Service) activeNote(ctx context.Context, noteID string) (store.Note, error) {
	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return store.Note{}, notFoundOr(err, "Requested Not Found.", "get note")
	}
	return note, nil
}

func (s *Service) refreshIndex(noteID string) {
	if s.search != nil {
		s.search.Refresh(noteID)
	}
}
