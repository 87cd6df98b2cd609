package app

import (
	"context"
	"fmt"

	"quill/api/internal/auth"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

type HistoryKind int

const (
	// HistoryChanges means Entries holds at least one recorded change.
	HistoryChanges HistoryKind = iota
	// HistoryUnmodified means the note was never changed after creation and
	// Initial describes its creation state.
	HistoryUnmodified
)

type History struct {
	Kind    HistoryKind
	Total   int
	Entries []store.AuditEntry
	Initial store.Note
}

func (s *Service) History(ctx context.Context, principal auth.Principal, noteID string) (History, error) {
	if err := s.Authorize(ctx, principal, noteID, rbac.ActionRead); err != nil {
		return History{}, err
	}

	entries, err := s.store.ListAuditEntries(ctx, noteID)
	if err != nil {
		return History{}, fmt.Errorf("list audit entries: %w", err)
	}
	if len(entries) > 0 {
		return History{Kind: HistoryChanges, Total: len(entries), Entries: entries}, nil
	}

	note, err := s.store.GetNote(ctx, noteID)
	if err != nil {
		return History{}, notFoundOr(err, "Requested Note Not Found.", "get note")
	}
	return History{Kind: HistoryUnmodified, Entries: []store.AuditEntry{}, Initial: note}, nil
}
