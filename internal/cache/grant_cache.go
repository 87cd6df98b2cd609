// Package cache keeps recently evaluated note grants in Redis.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	"quill/api/internal/store"
)

const (
	keyPrefix        = "grant:"
	generationPrefix = "grantgen:"
	// generationTTL outlives any request that could still hold a generation.
	generationTTL = 24 * time.Hour
)

// cachedGrant is the JSON form kept under each key.
type cachedGrant struct {
	ID        string `json:"id"`
	NoteID    string `json:"note_id"`
	UserID    string `json:"user_id"`
	CanRead   bool   `json:"can_read"`
	CanEdit   bool   `json:"can_edit"`
	CanDelete bool   `json:"can_delete"`
	CreatedBy string `json:"created_by"`
}

// GrantCache stores active grants keyed by (note, user) with a fixed TTL.
type GrantCache struct {
	client *redis.Client
	ttl    time.Duration
}

// NewGrantCache parses redisURL and verifies the server answers.
func NewGrantCache(redisURL string, ttl time.Duration) (*GrantCache, error) {
	opts, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, fmt.Errorf("parse redis url: %w", err)
	}
	client := redis.NewClient(opts)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("connect to redis: %w", err)
	}
	return NewGrantCacheWithClient(client, ttl), nil
}

func NewGrantCacheWithClient(client *redis.Client, ttl time.Duration) *GrantCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	return &GrantCache{client: client, ttl: ttl}
}

func key(noteID, userID string) string {
	return keyPrefix + noteID + ":" + userID
}

func generationKey(noteID, userID string) string {
	return generationPrefix + noteID + ":" + userID
}

// Get returns the cached grant, whether it was present, and the key's current
// generation. Pass the generation to Fill after a miss.
func (c *GrantCache) Get(ctx context.Context, noteID, userID string) (store.Grant, int64, bool, error) {
	values, err := c.client.MGet(ctx, key(noteID, userID), generationKey(noteID, userID)).Result()
	if err != nil {
		return store.Grant{}, 0, false, fmt.Errorf("get cached grant: %w", err)
	}
	generation, err := parseGeneration(values[1])
	if err != nil {
		return store.Grant{}, 0, false, err
	}
	raw, ok := values[0].(string)
	if !ok {
		return store.Grant{}, generation, false, nil
	}

	var data cachedGrant
	if err := json.Unmarshal([]byte(raw), &data); err != nil {
		return store.Grant{}, 0, false, fmt.Errorf("decode cached grant: %w", err)
	}
	return store.Grant{
		ID:        data.ID,
		NoteID:    data.NoteID,
		UserID:    data.UserID,
		CanRead:   data.CanRead,
		CanEdit:   data.CanEdit,
		CanDelete: data.CanDelete,
		CreatedBy: data.CreatedBy,
		IsActive:  true,
	}, generation, true, nil
}

// Fill caches grant only while the key is still at generation. It reports
// false when an Invalidate ran since the generation was read.
func (c *GrantCache) Fill(ctx context.Context, grant store.Grant, generation int64) (bool, error) {
	raw, err := json.Marshal(cachedGrant{
		ID:        grant.ID,
		NoteID:    grant.NoteID,
		UserID:    grant.UserID,
		CanRead:   grant.CanRead,
		CanEdit:   grant.CanEdit,
		CanDelete: grant.CanDelete,
		CreatedBy: grant.CreatedBy,
	})
	if err != nil {
		return false, fmt.Errorf("encode grant: %w", err)
	}

	genKey := generationKey(grant.NoteID, grant.UserID)
	stored := false
	err = c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, genKey).Result()
		if errors.Is(err, redis.Nil) {
			current, err = "", nil
		}
		if err != nil {
			return err
		}
		currentGen, err := parseGeneration(current)
		if err != nil {
			return err
		}
		if currentGen != generation {
			return nil
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Set(ctx, key(grant.NoteID, grant.UserID), raw, c.ttl)
			return nil
		})
		if err == nil {
			stored = true
		}
		return err
	}, genKey)
	if errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("cache grant: %w", err)
	}
	return stored, nil
}

// Invalidate drops the (note, user) entry and bumps its generation so fills
// started before the call are discarded. Missing keys are not an error.
func (c *GrantCache) Invalidate(ctx context.Context, noteID, userID string) error {
	genKey := generationKey(noteID, userID)
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey)
		pipe.Expire(ctx, genKey, generationTTL)
		pipe.Del(ctx, key(noteID, userID))
		return nil
	})
	if err != nil {
		return fmt.Errorf("invalidate grant: %w", err)
	}
	return nil
}

func parseGeneration(value any) (int64, error) {
	switch v := value.(type) {
	case nil:
		return 0, nil
	case string:
		if v == "" {
			return 0, nil
		}
		n, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return 0, fmt.Errorf("parse grant generation: %w", err)
		}
		return n, nil
	default:
		return 0, fmt.Errorf("unexpected grant generation %T", value)
	}
}

func (c *GrantCache) Ping(ctx context.Context) error {
	return c.client.Ping(ctx).Err()
}

func (c *GrantCache) Close() error {
	return c.client.Close()
}
