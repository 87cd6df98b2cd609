package app

import (
	"context"
	"errors"
	"strings"

	"quill/api/internal/auth"
	"quill/api/internal/metrics"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

// ShareItem grants or adjusts one user's access to one note. Nil capability
// flags keep their current value, or the default for a new grant.
type ShareItem struct {
	NoteID    string `json:"noteId"`
	UserID    string `json:"userId"`
	CanRead   *bool  `json:"canRead"`
	CanEdit   *bool  `json:"canEdit"`
	CanDelete *bool  `json:"canDelete"`
}

// ShareError reports why the item at Index was not applied.
type ShareError struct {
	Index  int               `json:"index"`
	NoteID string            `json:"noteId"`
	UserID string            `json:"userId"`
	Fields map[string]string `json:"fields"`
}

func (e *ShareError) Error() string {
	return "share item rejected"
}

type ShareResult struct {
	Created []store.Grant
	Updated []store.Grant
	Errors  []ShareError
}

// Share applies each item in its own transaction. Item failures are
// collected in the result and never abort the batch.
func (s *Service) Share(ctx context.Context, principal auth.Principal, items []ShareItem) (ShareResult, error) {
	noteIDs := make([]string, 0, len(items))
	for _, item := range items {
		noteIDs = append(noteIDs, item.NoteID)
	}
	if err := s.AuthorizeShare(ctx, principal, noteIDs); err != nil {
		return ShareResult{}, err
	}

	result := ShareResult{Created: []store.Grant{}, Updated: []store.Grant{}, Errors: []ShareError{}}
	for index, item := range items {
		item.NoteID = strings.TrimSpace(item.NoteID)
		item.UserID = strings.TrimSpace(item.UserID)

		grant, created, err := s.shareOne(ctx, principal, index, item)
		if err != nil {
			var shareErr *ShareError
			if !errors.As(err, &shareErr) {
				s.log.Error().Err(err).Int("index", index).Str("note_id", item.NoteID).Str("user_id", item.UserID).Msg("share item failed")
				shareErr = itemError(index, item, "_", "Unable to save this grant.")
			}
			result.Errors = append(result.Errors, *shareErr)
			metrics.ShareItemsTotal.WithLabelValues("invalid").Inc()
			continue
		}

		s.refreshIndex(grant.NoteID)
		// A second bump after commit discards fills that read the old row
		// while the transaction was open.
		if err := s.invalidateGrant(ctx, grant.NoteID, grant.UserID); err != nil {
			s.log.Error().Err(err).Int("index", index).Str("note_id", grant.NoteID).Str("user_id", grant.UserID).Msg("grant saved but cache not cleared")
			result.Errors = append(result.Errors, *itemError(index, item, "_", "Access was saved but cached permissions could not be cleared."))
			metrics.ShareItemsTotal.WithLabelValues("cache_error").Inc()
			continue
		}
		if created {
			result.Created = append(result.Created, grant)
			metrics.ShareItemsTotal.WithLabelValues("created").Inc()
		} else {
			result.Updated = append(result.Updated, grant)
			metrics.ShareItemsTotal.WithLabelValues("updated").Inc()
		}
	}

	s.log.Info().
		Str("user_id", principal.ID).
		Int("created", len(result.Created)).
		Int("updated", len(result.Updated)).
		Int("errors", len(result.Errors)).
		Msg("notes shared")
	return result, nil
}

func (s *Service) shareOne(ctx context.Context, principal auth.Principal, index int, item ShareItem) (store.Grant, bool, error) {
	if err := validate.Struct(shareTarget{NoteID: item.NoteID, UserID: item.UserID}); err != nil {
		return store.Grant{}, false, &ShareError{Index: index, NoteID: item.NoteID, UserID: item.UserID, Fields: fieldErrors(err)}
	}
	// The share caller owns every note in the batch, so this is the owner grant.
	if item.UserID == principal.ID {
		return store.Grant{}, false, itemError(index, item, "userId", "The owner's access cannot be changed.")
	}

	var grant store.Grant
	var created bool
	err := s.store.WithTx(ctx, func(tx store.Tx) error {
		now := s.now()
		existing, err := tx.FindGrant(ctx, item.NoteID, item.UserID)
		switch {
		case err == nil:
			existing.SetCapabilities(rbac.Patch(existing.Capabilities(), item.CanRead, item.CanEdit, item.CanDelete))
			existing.ModifiedBy = principal.ID
			existing.ModifiedAt = now
			existing.IsActive = true
			existing.IsDeleted = false
			if err := tx.UpdateGrant(ctx, existing); err != nil {
				return err
			}
			grant = existing
			return s.invalidateGrant(ctx, grant.NoteID, grant.UserID)
		case !errors.Is(err, store.ErrNotFound):
			return err
		}

		exists, err := tx.UserExists(ctx, item.UserID)
		if err != nil {
			return err
		}
		if !exists {
			return itemError(index, item, "userId", "User does not exist.")
		}

		grant = store.Grant{
			ID:         s.newID("grant"),
			NoteID:     item.NoteID,
			UserID:     item.UserID,
			CreatedBy:  principal.ID,
			ModifiedBy: principal.ID,
			CreatedAt:  now,
			ModifiedAt: now,
			IsActive:   true,
		}
		grant.SetCapabilities(rbac.Patch(rbac.Default(), item.CanRead, item.CanEdit, item.CanDelete))
		if err := tx.CreateGrant(ctx, grant); err != nil {
			if errors.Is(err, store.ErrDuplicate) {
				return itemError(index, item, "userId", "Note is already shared with this user.")
			}
			return err
		}
		created = true
		return s.invalidateGrant(ctx, grant.NoteID, grant.UserID)
	})
	if err != nil {
		return store.Grant{}, false, err
	}
	return grant, created, nil
}

func itemError(index int, item ShareItem, field, message string) *ShareError {
	return &ShareError{
		Index:  index,
		NoteID: item.NoteID,
		UserID: item.UserID,
		Fields: map[string]string{field: message},
	}
}
