package landing

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// Cache is a best-effort last-seen-hash filter in front of the landing
// table. It keeps one entry per record identity holding the hash most
// recently landed, so a record is skipped only while its content still
// matches the last landed state; any change, a revert to an earlier value
// included, reads as unseen. Redis unavailability degrades to the database
// unique index doing all the dedup work, so every error here is logged and
// swallowed.
type Cache struct {
	client *redis.Client
	ttl    time.Duration
	logger *slog.Logger
}

func NewCache(client *redis.Client, ttl time.Duration, logger *slog.Logger) *Cache {
	if client == nil {
		return nil
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Cache{client: client, ttl: ttl, logger: logger}
}

func (c *Cache) key(r RawRecord) string {
	return fmt.Sprintf("landing:%s:%s:%s", r.SourceID, r.EntityKind, *r.NaturalKey)
}

// Seen reports whether the record's content matches the last hash landed
// for the same identity. Records without a natural key have no stable
// identity to track and always fall through to the database.
func (c *Cache) Seen(ctx context.Context, r RawRecord) bool {
	if c == nil || r.NaturalKey == nil {
		return false
	}
	last, err := c.client.Get(ctx, c.key(r)).Result()
	if errors.Is(err, redis.Nil) {
		return false
	}
	if err != nil {
		c.logger.WarnContext(ctx, "dedupe cache lookup failed", "error", err)
		return false
	}
	return last == hex.EncodeToString(r.ContentHash)
}

// Mark stores the batch hashes as the last-seen content per identity after
// a successful commit.
func (c *Cache) Mark(ctx context.Context, records []RawRecord) {
	if c == nil || len(records) == 0 {
		return
	}
	pipe := c.client.Pipeline()
	for _, r := range records {
		if r.NaturalKey == nil {
			continue
		}
		pipe.Set(ctx, c.key(r), hex.EncodeToString(r.ContentHash), c.ttl)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		c.logger.WarnContext(ctx, "dedupe cache mark failed", "error", err)
	}
}
