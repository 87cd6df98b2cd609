package app

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"quill/api/internal/auth"
	"quill/api/internal/metrics"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

var deniedMessages = map[rbac.Action]string{
	rbac.ActionRead:   "You do not have permission to read the note.",
	rbac.ActionEdit:   "You do not have permission to edit the note.",
	rbac.ActionDelete: "You do not have permission to delete the note.",
}

// Authorize succeeds when the principal holds an active grant on noteID with
// the capability action needs. No grant is NotFound; a grant without the
// capability is Forbidden.
func (s *Service) Authorize(ctx context.Context, principal auth.Principal, noteID string, action rbac.Action) error {
	grant, err := s.activeGrant(ctx, noteID, principal.ID)
	if errors.Is(err, store.ErrNotFound) {
		return notFound("Requested Note is not shared with the User")
	}
	if err != nil {
		return err
	}
	if !rbac.Can(grant.Capabilities(), action) {
		message, ok := deniedMessages[action]
		if !ok {
			message = "Forbidden"
		}
		return forbidden(message)
	}
	return nil
}

// AuthorizeShare requires every referenced note to exist and be owned by the
// principal. Blank note IDs are left for per-item validation.
func (s *Service) AuthorizeShare(ctx context.Context, principal auth.Principal, noteIDs []string) error {
	if len(noteIDs) == 0 {
		return forbidden("There are no notes to share.")
	}
	seen := make(map[string]struct{}, len(noteIDs))
	for _, noteID := range noteIDs {
		noteID = strings.TrimSpace(noteID)
		if noteID == "" {
			continue
		}
		if _, ok := seen[noteID]; ok {
			continue
		}
		seen[noteID] = struct{}{}

		note, err := s.store.GetNote(ctx, noteID)
		if errors.Is(err, store.ErrNotFound) {
			return notFound("Requested Note Not Present.")
		}
		if err != nil {
			return fmt.Errorf("load note for share: %w", err)
		}
		if note.CreatedBy != principal.ID {
			return forbidden("Only Owner Can Share the Note.")
		}
	}
	return nil
}

// activeGrant reads through the grant cache when one is configured. Cache
// read failures fall back to the store without filling the cache.
func (s *Service) activeGrant(ctx context.Context, noteID, userID string) (store.Grant, error) {
	fillable := false
	var generation int64
	if s.cache != nil {
		grant, gen, ok, err := s.cache.Get(ctx, noteID, userID)
		switch {
		case err != nil:
			metrics.GrantCacheLookupsTotal.WithLabelValues("error").Inc()
			s.log.Warn().Err(err).Str("note_id", noteID).Str("user_id", userID).Msg("grant cache read failed")
		case ok:
			metrics.GrantCacheLookupsTotal.WithLabelValues("hit").Inc()
			return grant, nil
		default:
			metrics.GrantCacheLookupsTotal.WithLabelValues("miss").Inc()
			fillable = true
			generation = gen
		}
	}

	grant, err := s.store.GetActiveGrant(ctx, noteID, userID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return store.Grant{}, err
		}
		return store.Grant{}, fmt.Errorf("get grant: %w", err)
	}

	if fillable {
		if _, err := s.cache.Fill(ctx, grant, generation); err != nil {
			s.log.Warn().Err(err).Str("note_id", noteID).Str("user_id", userID).Msg("grant cache write failed")
		}
	}
	return grant, nil
}

func (s *Service) invalidateGrant(ctx context.Context, noteID, userID string) error {
	if s.cache == nil {
		return nil
	}
	if err := s.cache.Invalidate(ctx, noteID, userID); err != nil {
		return fmt.Errorf("invalidate cached grant: %w", err)
	}
	return nil
}
