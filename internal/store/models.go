package store

import (
	"time"

	"quill/api/internal/rbac"
)

// DefaultNoteType is applied when a note is created without a type.
const DefaultNoteType = "text"

// MaxNoteTypeLength mirrors the note_type column width.
const MaxNoteTypeLength = 20

type User struct {
	ID          string
	DisplayName string
	CreatedAt   time.Time
}

// Note is owned by CreatedBy for its whole lifetime.
type Note struct {
	ID         string
	Content    string
	Type       string
	CreatedBy  string
	ModifiedBy string
	CreatedAt  time.Time
	ModifiedAt time.Time
	IsActive   bool
	IsDeleted  bool
}

// Grant is the permission edge between one user and one note. There is at
// most one row per (NoteID, UserID).
type Grant struct {
	ID         string
	NoteID     string
	UserID     string
	CanRead    bool
	CanEdit    bool
	CanDelete  bool
	CreatedBy  string
	ModifiedBy string
	CreatedAt  time.Time
	ModifiedAt time.Time
	IsActive   bool
	IsDeleted  bool
}

func (g Grant) Capabilities() rbac.Capabilities {
	return rbac.Capabilities{Read: g.CanRead, Edit: g.CanEdit, Delete: g.CanDelete}
}

func (g *Grant) SetCapabilities(caps rbac.Capabilities) {
	g.CanRead = caps.Read
	g.CanEdit = caps.Edit
	g.CanDelete = caps.Delete
}

// AuditEntry records one content or type change. Rows are append-only.
type AuditEntry struct {
	ID         string
	NoteID     string
	ModifiedBy string
	OldContent string
	NewContent string
	OldType    string
	NewType    string
	CreatedAt  time.Time
	IsActive   bool
	IsDeleted  bool
}

// SearchRecord is the indexable view of a note: its text plus every user
// holding an active read grant.
type SearchRecord struct {
	NoteID  string
	Content string
	Type    string
	Readers []string
}
