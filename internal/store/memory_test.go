package store

import (
	"context"
	"errors"
	"slices"
	"testing"
	"time"
)

func seedNote(t *testing.T, s *MemoryStore, id, owner, content string, at time.Time) Note {
	t.Helper()
	ctx := context.Background()
	if _, err := s.EnsureUser(ctx, owner, owner); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	note := Note{
		ID: id, Content: content, Type: DefaultNoteType,
		CreatedBy: owner, ModifiedBy: owner,
		CreatedAt: at, ModifiedAt: at, IsActive: true,
	}
	if _, err := s.CreateNoteWithOwner(ctx, note, "grant_"+id); err != nil {
		t.Fatalf("CreateNoteWithOwner() error = %v", err)
	}
	return note
}

func mustTx(t *testing.T, s *MemoryStore, fn func(Tx) error) {
	t.Helper()
	if err := s.WithTx(context.Background(), fn); err != nil {
		t.Fatalf("WithTx() error = %v", err)
	}
}

func TestMemoryCreateNoteWithOwnerGrantsFullCapabilities(t *testing.T) {
	s := NewMemoryStore()
	at := time.Date(2024, 3, 1, 9, 0, 0, 0, time.UTC)
	seedNote(t, s, "n1", "u1", "hello", at)

	grant, err := s.GetActiveGrant(context.Background(), "n1", "u1")
	if err != nil {
		t.Fatalf("GetActiveGrant() error = %v", err)
	}
	if !grant.CanRead || !grant.CanEdit || !grant.CanDelete {
		t.Fatalf("expected full capabilities, got %+v", grant)
	}
	if !grant.CreatedAt.Equal(at) || grant.CreatedBy != "u1" {
		t.Fatalf("expected grant created by u1 at %v, got %+v", at, grant)
	}
}

func TestMemoryWithTxRollsBackOnError(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedNote(t, s, "n1", "u1", "before", time.Now().UTC())

	boom := errors.New("boom")
	err := s.WithTx(ctx, func(tx Tx) error {
		note, err := tx.GetNoteForUpdate(ctx, "n1")
		if err != nil {
			return err
		}
		note.Content = "after"
		if err := tx.UpdateNote(ctx, note); err != nil {
			return err
		}
		if err := tx.InsertAuditEntry(ctx, AuditEntry{ID: "a1", NoteID: "n1", IsActive: true}); err != nil {
			return err
		}
		return boom
	})
	if !errors.Is(err, boom) {
		t.Fatalf("expected boom, got %v", err)
	}

	note, err := s.GetNote(ctx, "n1")
	if err != nil {
		t.Fatalf("GetNote() error = %v", err)
	}
	if note.Content != "before" {
		t.Fatalf("expected content rolled back, got %q", note.Content)
	}

	entries, err := s.ListAuditEntries(ctx, "n1")
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(entries) != 0 {
		t.Fatalf("expected audit insert rolled back, got %d entries", len(entries))
	}
}

func TestMemorySoftDeleteHidesNote(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedNote(t, s, "n1", "u1", "x", time.Now().UTC())

	mustTx(t, s, func(tx Tx) error {
		return tx.SoftDeleteNote(ctx, "n1", "u1", time.Now().UTC())
	})

	if _, err := s.GetNote(ctx, "n1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
	notes, err := s.ListNotes(ctx)
	if err != nil {
		t.Fatalf("ListNotes() error = %v", err)
	}
	if len(notes) != 0 {
		t.Fatalf("expected no visible notes, got %d", len(notes))
	}

	err = s.WithTx(ctx, func(tx Tx) error {
		return tx.SoftDeleteNote(ctx, "n1", "u1", time.Now().UTC())
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected second delete to be ErrNotFound, got %v", err)
	}
}

func TestMemoryListNotesOrderedByCreation(t *testing.T) {
	s := NewMemoryStore()
	base := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	seedNote(t, s, "n2", "u1", "second", base.Add(time.Minute))
	seedNote(t, s, "n1", "u1", "first", base)
	seedNote(t, s, "n3", "u2", "third", base.Add(2*time.Minute))

	notes, err := s.ListNotes(context.Background())
	if err != nil {
		t.Fatalf("ListNotes() error = %v", err)
	}
	ids := make([]string, 0, len(notes))
	for _, note := range notes {
		ids = append(ids, note.ID)
	}
	if !slices.Equal(ids, []string{"n1", "n2", "n3"}) {
		t.Fatalf("expected creation order, got %v", ids)
	}
}

func TestMemoryFindGrantIgnoresSoftDelete(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedNote(t, s, "n1", "u1", "x", time.Now().UTC())
	if _, err := s.EnsureUser(ctx, "u2", "u2"); err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}

	mustTx(t, s, func(tx Tx) error {
		return tx.CreateGrant(ctx, Grant{ID: "g2", NoteID: "n1", UserID: "u2", CanRead: true, IsActive: false, IsDeleted: true})
	})

	if _, err := s.GetActiveGrant(ctx, "n1", "u2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected deleted grant hidden, got %v", err)
	}

	var found Grant
	err := s.WithTx(ctx, func(tx Tx) error {
		grant, err := tx.FindGrant(ctx, "n1", "u2")
		if err != nil {
			return err
		}
		found = grant
		return tx.CreateGrant(ctx, Grant{ID: "g3", NoteID: "n1", UserID: "u2"})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
	if found.ID != "g2" {
		t.Fatalf("expected FindGrant to return g2, got %q", found.ID)
	}
}

func TestMemoryCreateGrantRejectsDuplicatePair(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	seedNote(t, s, "n1", "u1", "x", time.Now().UTC())

	err := s.WithTx(ctx, func(tx Tx) error {
		return tx.CreateGrant(ctx, Grant{ID: "other", NoteID: "n1", UserID: "u1"})
	})
	if !errors.Is(err, ErrDuplicate) {
		t.Fatalf("expected ErrDuplicate, got %v", err)
	}
}

func TestMemoryAuditEntriesKeepInsertionOrder(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	at := time.Now().UTC()
	seedNote(t, s, "n1", "u1", "x", at)

	mustTx(t, s, func(tx Tx) error {
		for _, id := range []string{"a1", "a2", "a3"} {
			if err := tx.InsertAuditEntry(ctx, AuditEntry{ID: id, NoteID: "n1", CreatedAt: at, IsActive: true}); err != nil {
				return err
			}
		}
		return nil
	})

	entries, err := s.ListAuditEntries(ctx, "n1")
	if err != nil {
		t.Fatalf("ListAuditEntries() error = %v", err)
	}
	if len(entries) != 3 || entries[0].ID != "a1" || entries[2].ID != "a3" {
		t.Fatalf("expected a1..a3 in insertion order, got %+v", entries)
	}
}

func TestMemorySearchReadableNotes(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()
	base := time.Now().UTC()
	seedNote(t, s, "n1", "u1", "Groceries: milk", base)
	seedNote(t, s, "n2", "u2", "milk run", base.Add(time.Second))

	notes, err := s.SearchReadableNotes(ctx, "u1", "MILK", 10)
	if err != nil {
		t.Fatalf("SearchReadableNotes() error = %v", err)
	}
	if len(notes) != 1 || notes[0].ID != "n1" {
		t.Fatalf("expected only n1 for u1, got %+v", notes)
	}

	record, err := s.GetSearchRecord(ctx, "n2")
	if err != nil {
		t.Fatalf("GetSearchRecord() error = %v", err)
	}
	if !slices.Equal(record.Readers, []string{"u2"}) {
		t.Fatalf("expected readers [u2], got %v", record.Readers)
	}

	records, err := s.LoadSearchRecords(ctx)
	if err != nil {
		t.Fatalf("LoadSearchRecords() error = %v", err)
	}
	if len(records) != 2 {
		t.Fatalf("expected two records, got %d", len(records))
	}
}

func TestMemoryEnsureUserIsIdempotent(t *testing.T) {
	s := NewMemoryStore()
	ctx := context.Background()

	first, err := s.EnsureUser(ctx, "u1", "Ada")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	second, err := s.EnsureUser(ctx, "u1", "Ada L.")
	if err != nil {
		t.Fatalf("EnsureUser() error = %v", err)
	}
	if !first.CreatedAt.Equal(second.CreatedAt) {
		t.Fatalf("expected createdAt to be kept, got %v and %v", first.CreatedAt, second.CreatedAt)
	}
	if second.DisplayName != "Ada L." {
		t.Fatalf("expected display name update, got %q", second.DisplayName)
	}

	for userID, want := range map[string]bool{"u1": true, "ghost": false} {
		exists, err := s.UserExists(ctx, userID)
		if err != nil {
			t.Fatalf("UserExists() error = %v", err)
		}
		if exists != want {
			t.Fatalf("UserExists(%s) = %v, want %v", userID, exists, want)
		}
	}
}
