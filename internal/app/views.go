package app

import (
	"time"

	"quill/api/internal/store"
)

type noteView struct {
	ID         string    `json:"id"`
	Content    string    `json:"content"`
	Type       string    `json:"type"`
	CreatedBy  string    `json:"createdBy"`
	ModifiedBy string    `json:"modifiedBy"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
	IsActive   bool      `json:"isActive"`
	IsDeleted  bool      `json:"isDeleted"`
}

type grantView struct {
	ID         string    `json:"id"`
	NoteID     string    `json:"noteId"`
	UserID     string    `json:"userId"`
	CanRead    bool      `json:"canRead"`
	CanEdit    bool      `json:"canEdit"`
	CanDelete  bool      `json:"canDelete"`
	CreatedBy  string    `json:"createdBy"`
	ModifiedBy string    `json:"modifiedBy"`
	CreatedAt  time.Time `json:"createdAt"`
	ModifiedAt time.Time `json:"modifiedAt"`
}

// auditView also renders the synthetic creation record, where the old
// values are null.
type auditView struct {
	ID         string    `json:"id,omitempty"`
	NoteID     string    `json:"noteId"`
	ModifiedBy string    `json:"modifiedBy"`
	OldContent *string   `json:"oldContent"`
	NewContent string    `json:"newContent"`
	OldType    *string   `json:"oldType"`
	NewType    string    `json:"newType"`
	CreatedAt  time.Time `json:"createdAt"`
}

func toNoteView(n store.Note) noteView {
	return noteView{
		ID:         n.ID,
		Content:    n.Content,
		Type:       n.Type,
		CreatedBy:  n.CreatedBy,
		ModifiedBy: n.ModifiedBy,
		CreatedAt:  n.CreatedAt,
		ModifiedAt: n.ModifiedAt,
		IsActive:   n.IsActive,
		IsDeleted:  n.IsDeleted,
	}
}

func noteViews(notes []store.Note) []noteView {
	out := make([]noteView, 0, len(notes))
	for _, n := range notes {
		out = append(out, toNoteView(n))
	}
	return out
}

func grantViews(grants []store.Grant) []grantView {
	out := make([]grantView, 0, len(grants))
	for _, g := range grants {
		out = append(out, grantView{
			ID:         g.ID,
			NoteID:     g.NoteID,
			UserID:     g.UserID,
			CanRead:    g.CanRead,
			CanEdit:    g.CanEdit,
			CanDelete:  g.CanDelete,
			CreatedBy:  g.CreatedBy,
			ModifiedBy: g.ModifiedBy,
			CreatedAt:  g.CreatedAt,
			ModifiedAt: g.ModifiedAt,
		})
	}
	return out
}

func auditViews(entries []store.AuditEntry) []auditView {
	out := make([]auditView, 0, len(entries))
	for _, e := range entries {
		oldContent, oldType := e.OldContent, e.OldType
		out = append(out, auditView{
			ID:         e.ID,
			NoteID:     e.NoteID,
			ModifiedBy: e.ModifiedBy,
			OldContent: &oldContent,
			NewContent: e.NewContent,
			OldType:    &oldType,
			NewType:    e.NewType,
			CreatedAt:  e.CreatedAt,
		})
	}
	return out
}

func initialView(n store.Note) auditView {
	return auditView{
		NoteID:     n.ID,
		ModifiedBy: n.CreatedBy,
		NewContent: n.Content,
		NewType:    n.Type,
		CreatedAt:  n.CreatedAt,
	}
}
