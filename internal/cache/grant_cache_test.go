package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"

	"quill/api/internal/store"
)

func setupTestCache(t *testing.T, ttl time.Duration) (*GrantCache, *miniredis.Miniredis) {
	t.Helper()
	s := miniredis.RunT(t)
	c, err := NewGrantCache("redis://"+s.Addr(), ttl)
	if err != nil {
		t.Fatalf("NewGrantCache failed: %v", err)
	}
	t.Cleanup(func() { _ = c.Close() })
	return c, s
}

func fill(t *testing.T, c *GrantCache, grant store.Grant) {
	t.Helper()
	_, generation, _, err := c.Get(context.Background(), grant.NoteID, grant.UserID)
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	stored, err := c.Fill(context.Background(), grant, generation)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if !stored {
		t.Fatalf("expected grant %s to be stored", grant.ID)
	}
}

func TestGrantCacheRoundTrip(t *testing.T) {
	c, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	fill(t, c, store.Grant{ID: "g1", NoteID: "n1", UserID: "u2", CanRead: true, CanEdit: true, CreatedBy: "u1"})

	got, _, ok, err := c.Get(ctx, "n1", "u2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if !ok {
		t.Fatal("expected cache hit")
	}
	if got.ID != "g1" || !got.CanRead || !got.CanEdit || got.CanDelete {
		t.Errorf("unexpected grant: %+v", got)
	}
	if !got.IsActive {
		t.Error("cached grants are always active")
	}
}

func TestGrantCacheMiss(t *testing.T) {
	c, _ := setupTestCache(t, time.Minute)

	_, generation, ok, err := c.Get(context.Background(), "n1", "nobody")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if ok {
		t.Error("expected miss for unknown key")
	}
	if generation != 0 {
		t.Errorf("expected generation 0 for untouched key, got %d", generation)
	}
}

func TestGrantCacheExpires(t *testing.T) {
	c, s := setupTestCache(t, 30*time.Second)
	ctx := context.Background()

	fill(t, c, store.Grant{ID: "g1", NoteID: "n1", UserID: "u1", CanRead: true})
	if ttl := s.TTL("grant:n1:u1"); ttl != 30*time.Second {
		t.Errorf("expected 30s ttl, got %v", ttl)
	}

	s.FastForward(31 * time.Second)

	if _, _, ok, _ := c.Get(ctx, "n1", "u1"); ok {
		t.Error("expected expired entry to be gone")
	}
}

func TestGrantCacheInvalidateIsolation(t *testing.T) {
	c, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	for _, user := range []string{"u1", "u2"} {
		fill(t, c, store.Grant{ID: "g-" + user, NoteID: "n1", UserID: user, CanRead: true})
	}

	if err := c.Invalidate(ctx, "n1", "u1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if err := c.Invalidate(ctx, "n1", "missing"); err != nil {
		t.Fatalf("Invalidate of missing key failed: %v", err)
	}

	if _, _, ok, _ := c.Get(ctx, "n1", "u1"); ok {
		t.Error("u1 entry should be invalidated")
	}
	if _, _, ok, _ := c.Get(ctx, "n1", "u2"); !ok {
		t.Error("u2 entry should survive")
	}
}

func TestGrantCacheFillAfterInvalidateIsDiscarded(t *testing.T) {
	c, _ := setupTestCache(t, time.Minute)
	ctx := context.Background()

	_, generation, _, err := c.Get(ctx, "n1", "u2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}

	// The grant changes while the caller still holds the old read.
	if err := c.Invalidate(ctx, "n1", "u2"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}

	stored, err := c.Fill(ctx, store.Grant{ID: "g1", NoteID: "n1", UserID: "u2", CanRead: true}, generation)
	if err != nil {
		t.Fatalf("Fill failed: %v", err)
	}
	if stored {
		t.Fatal("expected fill with a stale generation to be discarded")
	}
	if _, _, ok, _ := c.Get(ctx, "n1", "u2"); ok {
		t.Fatal("expected no cached grant after discarded fill")
	}

	_, current, _, err := c.Get(ctx, "n1", "u2")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	if current != generation+1 {
		t.Fatalf("expected generation %d, got %d", generation+1, current)
	}
	stored, err = c.Fill(ctx, store.Grant{ID: "g1", NoteID: "n1", UserID: "u2"}, current)
	if err != nil || !stored {
		t.Fatalf("expected fill at current generation to store, stored=%v err=%v", stored, err)
	}
}

func TestGrantCacheInvalidateSetsGenerationTTL(t *testing.T) {
	c, s := setupTestCache(t, time.Minute)

	if err := c.Invalidate(context.Background(), "n1", "u1"); err != nil {
		t.Fatalf("Invalidate failed: %v", err)
	}
	if ttl := s.TTL("grantgen:n1:u1"); ttl != generationTTL {
		t.Errorf("expected generation ttl %v, got %v", generationTTL, ttl)
	}
}

func TestNewGrantCacheRejectsBadURL(t *testing.T) {
	if _, err := NewGrantCache("not-a-url", time.Minute); err == nil {
		t.Fatal("expected error for invalid url")
	}
}

func TestGrantCachePing(t *testing.T) {
	c, s := setupTestCache(t, 0)
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}
	s.Close()
	if err := c.Ping(context.Background()); err == nil {
		t.Error("expected ping to fail after server close")
	}
	if err := c.Invalidate(context.Background(), "n1", "u1"); err == nil {
		t.Error("expected invalidate to fail after server close")
	}
}
