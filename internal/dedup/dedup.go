package dedup

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Deduper suppresses duplicate event submissions at the gateway. The first
// sighting of an event ID claims a redis key with a TTL; later submissions
// of the same ID within the window are reported as duplicates.
//
// This guards the HTTP edge only. The queue-to-store path stays
// at-least-once: broker redeliveries are intentionally counted again.
type Deduper struct {
	client *redis.Client
	ttl    time.Duration
}

// New creates a deduper on an established redis client.
func New(client *redis.Client, ttl time.Duration) *Deduper {
	return &Deduper{client: client, ttl: ttl}
}

// Seen atomically claims (kind, id) and reports whether it was already
// claimed. Errors are returned so the caller can decide to fail open.
func (d *Deduper) Seen(ctx context.Context, kind, id string) (bool, error) {
	claimed, err := d.client.SetNX(ctx, dedupKey(kind, id), 1, d.ttl).Result()
	if err != nil {
		return false, fmt.Errorf("dedup check failed: %w", err)
	}
	return !claimed, nil
}

// Release frees a claimed (kind, id). Called when acceptance fails after the
// claim, so the client's retry of a never-queued event is not refused as a
// duplicate.
func (d *Deduper) Release(ctx context.Context, kind, id string) error {
	if err := d.client.Del(ctx, dedupKey(kind, id)).Err(); err != nil {
		return fmt.Errorf("dedup release failed: %w", err)
	}
	return nil
}

func dedupKey(kind, id string) string {
	return fmt.Sprintf("dedup:%s:%s", kind, id)
}
