package store

import (
	"context"
	"errors"
	"time"
)

var (
	// ErrNotFound is returned when no active, non-deleted row matches.
	ErrNotFound = errors.New("not found")
	// ErrDuplicate is returned when a (note, user) grant already exists.
	ErrDuplicate = errors.New("duplicate")
)

// Tx is the set of writes (and locking reads) available inside one unit of work.
type Tx interface {
	CreateNote(context.Context, Note) error
	GetNoteForUpdate(context.Context, string) (Note, error)
	UpdateNote(context.Context, Note) error
	SoftDeleteNote(ctx context.Context, noteID, modifiedBy string, at time.Time) error
	CreateGrant(context.Context, Grant) error
	// FindGrant ignores the soft-delete flags so a re-share can revive a row
	// instead of violating the (note, user) uniqueness.
	FindGrant(ctx context.Context, noteID, userID string) (Grant, error)
	UpdateGrant(context.Context, Grant) error
	InsertAuditEntry(context.Context, AuditEntry) error
	UserExists(context.Context, string) (bool, error)
}

// Store is implemented by PostgresStore and MemoryStore.
type Store interface {
	WithTx(context.Context, func(Tx) error) error
	CreateNoteWithOwner(context.Context, Note, string) (Grant, error)
	ListNotes(context.Context) ([]Note, error)
	GetNote(context.Context, string) (Note, error)
	GetActiveGrant(ctx context.Context, noteID, userID string) (Grant, error)
	ListGrants(context.Context, string) ([]Grant, error)
	ListAuditEntries(context.Context, string) ([]AuditEntry, error)
	EnsureUser(ctx context.Context, userID, displayName string) (User, error)
	UserExists(context.Context, string) (bool, error)
	SearchReadableNotes(ctx context.Context, userID, query string, limit int) ([]Note, error)
	GetSearchRecord(context.Context, string) (SearchRecord, error)
	LoadSearchRecords(context.Context) ([]SearchRecord, error)
	Ping(context.Context) error
}

// createNoteWithOwner writes the note and its creator's full-capability grant
// through the same transaction.
func createNoteWithOwner(ctx context.Context, tx Tx, note Note, grantID string) (Grant, error) {
	if err := tx.CreateNote(ctx, note); err != nil {
		return Grant{}, err
	}
	grant := Grant{
		ID:         grantID,
		NoteID:     note.ID,
		UserID:     note.CreatedBy,
		CanRead:    true,
		CanEdit:    true,
		CanDelete:  true,
		CreatedBy:  note.CreatedBy,
		ModifiedBy: note.CreatedBy,
		CreatedAt:  note.CreatedAt,
		ModifiedAt: note.CreatedAt,
		IsActive:   true,
	}
	if err := tx.CreateGrant(ctx, grant); err != nil {
		return Grant{}, err
	}
	return grant, nil
}

// visible is the soft-delete predicate every default read applies.
func visible(isActive, isDeleted bool) bool {
	return isActive && !isDeleted
}

// visibleSQL renders visible() for a table alias.
func visibleSQL(alias string) string {
	return alias + ".is_active AND NOT " + alias + ".is_deleted"
}
