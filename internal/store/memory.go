package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"
)

// MemoryStore keeps everything in process. All access is serialised on one
// mutex; WithTx snapshots the state and restores it when fn fails. Functions
// passed to WithTx must use the Tx they receive and never call back into the
// store.
type MemoryStore struct {
	mu    sync.Mutex
	state memState
}

type memState struct {
	users  map[string]User
	notes  map[string]Note
	grants map[string]Grant
	audit  []AuditEntry
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{state: memState{
		users:  map[string]User{},
		notes:  map[string]Note{},
		grants: map[string]Grant{},
		audit:  []AuditEntry{},
	}}
}

func (st memState) clone() memState {
	out := memState{
		users:  make(map[string]User, len(st.users)),
		notes:  make(map[string]Note, len(st.notes)),
		grants: make(map[string]Grant, len(st.grants)),
		audit:  append([]AuditEntry(nil), st.audit...),
	}
	for k, v := range st.users {
		out.users[k] = v
	}
	for k, v := range st.notes {
		out.notes[k] = v
	}
	for k, v := range st.grants {
		out.grants[k] = v
	}
	return out
}

func (s *MemoryStore) WithTx(ctx context.Context, fn func(Tx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	snapshot := s.state.clone()
	if err := fn(&memTx{state: &s.state}); err != nil {
		s.state = snapshot
		return err
	}
	return nil
}

func (s *MemoryStore) CreateNoteWithOwner(ctx context.Context, note Note, grantID string) (Grant, error) {
	var grant Grant
	err := s.WithTx(ctx, func(tx Tx) error {
		var err error
		grant, err = createNoteWithOwner(ctx, tx, note, grantID)
		return err
	})
	if err != nil {
		return Grant{}, err
	}
	return grant, nil
}

func (s *MemoryStore) ListNotes(_ context.Context) ([]Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Note, 0, len(s.state.notes))
	for _, note := range s.state.notes {
		if visible(note.IsActive, note.IsDeleted) {
			items = append(items, note)
		}
	}
	sortNotesByCreation(items)
	return items, nil
}

func (s *MemoryStore) GetNote(_ context.Context, noteID string) (Note, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.state.notes[noteID]
	if !ok || !visible(note.IsActive, note.IsDeleted) {
		return Note{}, ErrNotFound
	}
	return note, nil
}

func (s *MemoryStore) GetActiveGrant(_ context.Context, noteID, userID string) (Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	grant, ok := s.state.findGrant(noteID, userID)
	if !ok || !visible(grant.IsActive, grant.IsDeleted) {
		return Grant{}, ErrNotFound
	}
	return grant, nil
}

func (s *MemoryStore) ListGrants(_ context.Context, noteID string) ([]Grant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Grant, 0)
	for _, grant := range s.state.grants {
		if grant.NoteID == noteID && visible(grant.IsActive, grant.IsDeleted) {
			items = append(items, grant)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
	return items, nil
}

func (s *MemoryStore) ListAuditEntries(_ context.Context, noteID string) ([]AuditEntry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]AuditEntry, 0)
	for _, entry := range s.state.audit {
		if entry.NoteID == noteID && visible(entry.IsActive, entry.IsDeleted) {
			items = append(items, entry)
		}
	}
	// Stable keeps insertion order for entries sharing a timestamp.
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].CreatedAt.Before(items[j].CreatedAt)
	})
	return items, nil
}

func (s *MemoryStore) EnsureUser(_ context.Context, userID, displayName string) (User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	user, ok := s.state.users[userID]
	if !ok {
		user = User{ID: userID, CreatedAt: time.Now().UTC()}
	}
	user.DisplayName = displayName
	s.state.users[userID] = user
	return user, nil
}

func (s *MemoryStore) UserExists(_ context.Context, userID string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, ok := s.state.users[userID]
	return ok, nil
}

func (s *MemoryStore) SearchReadableNotes(_ context.Context, userID, query string, limit int) ([]Note, error) {
	if limit <= 0 {
		limit = 20
	}
	needle := strings.ToLower(query)

	s.mu.Lock()
	defer s.mu.Unlock()

	items := make([]Note, 0)
	for _, grant := range s.state.grants {
		if grant.UserID != userID || !grant.CanRead || !visible(grant.IsActive, grant.IsDeleted) {
			continue
		}
		note, ok := s.state.notes[grant.NoteID]
		if !ok || !visible(note.IsActive, note.IsDeleted) {
			continue
		}
		if strings.Contains(strings.ToLower(note.Content), needle) {
			items = append(items, note)
		}
	}
	sort.Slice(items, func(i, j int) bool {
		if !items[i].ModifiedAt.Equal(items[j].ModifiedAt) {
			return items[i].ModifiedAt.After(items[j].ModifiedAt)
		}
		return items[i].ID < items[j].ID
	})
	if len(items) > limit {
		items = items[:limit]
	}
	return items, nil
}

func (s *MemoryStore) GetSearchRecord(_ context.Context, noteID string) (SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	note, ok := s.state.notes[noteID]
	if !ok || !visible(note.IsActive, note.IsDeleted) {
		return SearchRecord{}, ErrNotFound
	}
	return s.state.searchRecord(note), nil
}

func (s *MemoryStore) LoadSearchRecords(_ context.Context) ([]SearchRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	records := make([]SearchRecord, 0, len(s.state.notes))
	for _, note := range s.state.notes {
		if visible(note.IsActive, note.IsDeleted) {
			records = append(records, s.state.searchRecord(note))
		}
	}
	sort.Slice(records, func(i, j int) bool { return records[i].NoteID < records[j].NoteID })
	return records, nil
}

func (s *MemoryStore) Ping(ctx context.Context) error {
	return ctx.Err()
}

func (st memState) findGrant(noteID, userID string) (Grant, bool) {
	for _, grant := range st.grants {
		if grant.NoteID == noteID && grant.UserID == userID {
			return grant, true
		}
	}
	return Grant{}, false
}

func (st memState) searchRecord(note Note) SearchRecord {
	readers := make([]string, 0)
	for _, grant := range st.grants {
		if grant.NoteID == note.ID && grant.CanRead && visible(grant.IsActive, grant.IsDeleted) {
			readers = append(readers, grant.UserID)
		}
	}
	sort.Strings(readers)
	return SearchRecord{NoteID: note.ID, Content: note.Content, Type: note.Type, Readers: readers}
}

func sortNotesByCreation(items []Note) {
	sort.Slice(items, func(i, j int) bool {
		if !items[i].CreatedAt.Equal(items[j].CreatedAt) {
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		}
		return items[i].ID < items[j].ID
	})
}

type memTx struct {
	state *memState
}

func (t *memTx) CreateNote(_ context.Context, note Note) error {
	if _, exists := t.state.notes[note.ID]; exists {
		return ErrDuplicate
	}
	t.state.notes[note.ID] = note
	return nil
}

func (t *memTx) GetNoteForUpdate(_ context.Context, noteID string) (Note, error) {
	note, ok := t.state.notes[noteID]
	if !ok || !visible(note.IsActive, note.IsDeleted) {
		return Note{}, ErrNotFound
	}
	return note, nil
}

func (t *memTx) UpdateNote(_ context.Context, note Note) error {
	current, ok := t.state.notes[note.ID]
	if !ok || !visible(current.IsActive, current.IsDeleted) {
		return ErrNotFound
	}
	current.Content = note.Content
	current.Type = note.Type
	current.ModifiedBy = note.ModifiedBy
	current.ModifiedAt = note.ModifiedAt
	t.state.notes[note.ID] = current
	return nil
}

func (t *memTx) SoftDeleteNote(_ context.Context, noteID, modifiedBy string, at time.Time) error {
	note, ok := t.state.notes[noteID]
	if !ok || !visible(note.IsActive, note.IsDeleted) {
		return ErrNotFound
	}
	note.IsActive = false
	note.IsDeleted = true
	note.ModifiedBy = modifiedBy
	note.ModifiedAt = at
	t.state.notes[noteID] = note
	return nil
}

func (t *memTx) CreateGrant(_ context.Context, grant Grant) error {
	if _, exists := t.state.findGrant(grant.NoteID, grant.UserID); exists {
		return ErrDuplicate
	}
	if _, exists := t.state.grants[grant.ID]; exists {
		return ErrDuplicate
	}
	t.state.grants[grant.ID] = grant
	return nil
}

func (t *memTx) FindGrant(_ context.Context, noteID, userID string) (Grant, error) {
	grant, ok := t.state.findGrant(noteID, userID)
	if !ok {
		return Grant{}, ErrNotFound
	}
	return grant, nil
}

func (t *memTx) UpdateGrant(_ context.Context, grant Grant) error {
	current, ok := t.state.grants[grant.ID]
	if !ok {
		return ErrNotFound
	}
	current.CanRead = grant.CanRead
	current.CanEdit = grant.CanEdit
	current.CanDelete = grant.CanDelete
	current.ModifiedBy = grant.ModifiedBy
	current.ModifiedAt = grant.ModifiedAt
	current.IsActive = grant.IsActive
	current.IsDeleted = grant.IsDeleted
	t.state.grants[grant.ID] = current
	return nil
}

func (t *memTx) InsertAuditEntry(_ context.Context, entry AuditEntry) error {
	t.state.audit = append(t.state.audit, entry)
	return nil
}

func (t *memTx) UserExists(_ context.Context, userID string) (bool, error) {
	_, ok := t.state.users[userID]
	return ok, nil
}
