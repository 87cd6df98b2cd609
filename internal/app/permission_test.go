package app

import (
	"context"
	"errors"
	"net/http"
	"slices"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quill/api/internal/cache"
	"quill/api/internal/rbac"
	"quill/api/internal/store"
)

// fakeGrantCache mirrors the generation rules of cache.GrantCache.
type fakeGrantCache struct {
	grants        map[string]store.Grant
	generations   map[string]int64
	getErr        error
	invalidateErr map[int]error
	gets          int
	fills         int
	invalidations int
	invalidated   []string
}

func newFakeGrantCache() *fakeGrantCache {
	return &fakeGrantCache{
		grants:        map[string]store.Grant{},
		generations:   map[string]int64{},
		invalidateErr: map[int]error{},
	}
}

func (c *fakeGrantCache) Get(_ context.Context, noteID, userID string) (store.Grant, int64, bool, error) {
	c.gets++
	if c.getErr != nil {
		return store.Grant{}, 0, false, c.getErr
	}
	key := noteID + "/" + userID
	grant, ok := c.grants[key]
	return grant, c.generations[key], ok, nil
}

func (c *fakeGrantCache) Fill(_ context.Context, grant store.Grant, generation int64) (bool, error) {
	key := grant.NoteID + "/" + grant.UserID
	if c.generations[key] != generation {
		return false, nil
	}
	c.fills++
	c.grants[key] = grant
	return true, nil
}

func (c *fakeGrantCache) Invalidate(_ context.Context, noteID, userID string) error {
	c.invalidations++
	if err := c.invalidateErr[c.invalidations]; err != nil {
		return err
	}
	key := noteID + "/" + userID
	c.invalidated = append(c.invalidated, key)
	c.generations[key]++
	delete(c.grants, key)
	return nil
}

func TestAuthorizeFillsCacheOnMiss(t *testing.T) {
	fake := newFakeGrantCache()
	svc := newTestService(t, store.NewMemoryStore(), WithGrantCache(fake))
	ctx := context.Background()

	note := createNote(t, svc, owner, "cached")

	if err := svc.Authorize(ctx, owner, note.ID, rbac.ActionEdit); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if fake.fills != 1 {
		t.Fatalf("expected one fill after miss, got %d", fake.fills)
	}

	if err := svc.Authorize(ctx, owner, note.ID, rbac.ActionRead); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if fake.gets != 2 || fake.fills != 1 {
		t.Fatalf("expected second lookup served from cache, gets=%d fills=%d", fake.gets, fake.fills)
	}
}

func TestShareInvalidatesCachedGrant(t *testing.T) {
	fake := newFakeGrantCache()
	svc := newTestService(t, store.NewMemoryStore(), WithGrantCache(fake))
	ctx := context.Background()

	note := createNote(t, svc, owner, "cached")
	share(t, svc, ShareItem{NoteID: note.ID, UserID: reader.ID})

	err := svc.Authorize(ctx, reader, note.ID, rbac.ActionEdit)
	requireDomainError(t, err, http.StatusForbidden)

	share(t, svc, ShareItem{NoteID: note.ID, UserID: reader.ID, CanEdit: boolPtr(true)})
	if !slices.Contains(fake.invalidated, note.ID+"/"+reader.ID) {
		t.Fatalf("expected reader key invalidated, got %v", fake.invalidated)
	}

	if err := svc.Authorize(ctx, reader, note.ID, rbac.ActionEdit); err != nil {
		t.Fatalf("expected edit after re-share, got %v", err)
	}
}

func TestAuthorizeFallsBackWhenCacheFails(t *testing.T) {
	fake := newFakeGrantCache()
	fake.getErr = errors.New("connection refused")
	svc := newTestService(t, store.NewMemoryStore(), WithGrantCache(fake))
	ctx := context.Background()

	note := createNote(t, svc, owner, "resilient")

	if err := svc.Authorize(ctx, owner, note.ID, rbac.ActionDelete); err != nil {
		t.Fatalf("Authorize() error = %v", err)
	}
	if fake.fills != 0 {
		t.Fatalf("expected no fill without a known generation, got %d", fake.fills)
	}

	err := svc.Authorize(ctx, other, note.ID, rbac.ActionRead)
	requireDomainError(t, err, http.StatusNotFound)
}

func TestShareItemFailsWhenCacheCannotBeCleared(t *testing.T) {
	fake := newFakeGrantCache()
	ms := store.NewMemoryStore()
	svc := newTestService(t, ms, WithGrantCache(fake))
	ctx := context.Background()

	note := createNote(t, svc, owner, "shared")
	fake.invalidateErr[1] = errors.New("redis down")

	result := share(t, svc, ShareItem{NoteID: note.ID, UserID: reader.ID})
	if len(result.Created) != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected item error, got %+v", result)
	}
	if _, ok := result.Errors[0].Fields["_"]; !ok {
		t.Fatalf("expected general item error, got %+v", result.Errors[0])
	}
	if _, err := ms.GetActiveGrant(ctx, note.ID, reader.ID); !errors.Is(err, store.ErrNotFound) {
		t.Fatalf("expected grant write to roll back, got %v", err)
	}

	// The grant commits but the follow-up clear fails.
	fake.invalidateErr[3] = errors.New("redis down")
	result = share(t, svc, ShareItem{NoteID: note.ID, UserID: reader.ID})
	if len(result.Created) != 0 || len(result.Errors) != 1 {
		t.Fatalf("expected item error after commit, got %+v", result)
	}
	if msg := result.Errors[0].Fields["_"]; msg != "Access was saved but cached permissions could not be cleared." {
		t.Fatalf("unexpected item message %q", msg)
	}
}

// revokingStore runs duringLookup after the grant row is read and before the
// caller can cache it.
type revokingStore struct {
	*store.MemoryStore
	duringLookup func()
}

func (s *revokingStore) GetActiveGrant(ctx context.Context, noteID, userID string) (store.Grant, error) {
	grant, err := s.MemoryStore.GetActiveGrant(ctx, noteID, userID)
	if hook := s.duringLookup; hook != nil {
		s.duringLookup = nil
		hook()
	}
	return grant, err
}

func TestRevokeDuringLookupIsNotCached(t *testing.T) {
	mr := miniredis.RunT(t)
	grantCache, err := cache.NewGrantCache("redis://"+mr.Addr(), time.Minute)
	if err != nil {
		t.Fatalf("NewGrantCache() error = %v", err)
	}
	t.Cleanup(func() { _ = grantCache.Close() })

	rs := &revokingStore{MemoryStore: store.NewMemoryStore()}
	svc := newTestService(t, rs, WithGrantCache(grantCache))
	ctx := context.Background()

	note := createNote(t, svc, owner, "secret salary plan")
	share(t, svc, ShareItem{NoteID: note.ID, UserID: reader.ID})

	rs.duringLookup = func() {
		share(t, svc, ShareItem{NoteID: note.ID, UserID: reader.ID, CanRead: boolPtr(false)})
	}
	// This lookup read the grant before the revoke committed.
	if err := svc.Authorize(ctx, reader, note.ID, rbac.ActionRead); err != nil {
		t.Fatalf("Authorize() during revoke error = %v", err)
	}

	stored, err := rs.MemoryStore.GetActiveGrant(ctx, note.ID, reader.ID)
	if err != nil {
		t.Fatalf("GetActiveGrant() error = %v", err)
	}
	if stored.CanRead {
		t.Fatal("expected revoke to be committed")
	}

	err = svc.Authorize(ctx, reader, note.ID, rbac.ActionRead)
	requireDomainError(t, err, http.StatusForbidden)
}
