// Package audit records content and type changes to notes.
package audit

import (
	"context"
	"fmt"
	"time"

	"quill/api/internal/store"
	"quill/api/internal/util"
)

// Writer is the slice of store.Tx the tracker appends through.
type Writer interface {
	InsertAuditEntry(context.Context, store.AuditEntry) error
}

// Diff reports whether after changes before's content or type and, if so,
// returns the entry describing the change.
func Diff(before, after store.Note, actor string, at time.Time) (store.AuditEntry, bool) {
	if before.Content == after.Content && before.Type == after.Type {
		return store.AuditEntry{}, false
	}
	return store.AuditEntry{
		NoteID:     before.ID,
		ModifiedBy: actor,
		OldContent: before.Content,
		NewContent: after.Content,
		OldType:    before.Type,
		NewType:    after.Type,
		CreatedAt:  at,
		IsActive:   true,
	}, true
}

type Tracker struct {
	newID    func() string
	onRecord func(store.AuditEntry)
}

type Option func(*Tracker)

// WithIDs replaces the entry ID generator.
func WithIDs(fn func() string) Option {
	return func(t *Tracker) { t.newID = fn }
}

// OnRecord registers a callback invoked after each appended entry.
func OnRecord(fn func(store.AuditEntry)) Option {
	return func(t *Tracker) { t.onRecord = fn }
}

func NewTracker(opts ...Option) *Tracker {
	t := &Tracker{newID: func() string { return util.NewID("aud") }}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Track appends an entry through w when before and after differ. It returns
// nil, nil when nothing changed. Callers run it in the transaction that writes
// after, so a failed append aborts the update.
func (t *Tracker) Track(ctx context.Context, w Writer, before, after store.Note, actor string, at time.Time) (*store.AuditEntry, error) {
	entry, changed := Diff(before, after, actor, at)
	if !changed {
		return nil, nil
	}
	entry.ID = t.newID()
	if err := w.InsertAuditEntry(ctx, entry); err != nil {
		return nil, fmt.Errorf("append audit entry: %w", err)
	}
	if t.onRecord != nil {
		t.onRecord(entry)
	}
	return &entry, nil
}
