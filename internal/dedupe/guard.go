// ABOUTME: Guard layers the TTL cache over the persisted message record
// ABOUTME: Survives restarts: cache misses fall through to the database

package dedupe

import (
	"context"
	"errors"
	"fmt"

	"github.com/2389/omni-gateway/internal/store"
)

// Recorder is the slice of the store the guard needs.
type Recorder interface {
	FindMessageByExternalID(ctx context.Context, externalID string) (*store.Message, error)
}

// Guard decides whether an inbound message was already processed. The cache
// answers for recent deliveries; on a cache miss the persisted record is
// consulted, which covers duplicates arriving after a restart.
type Guard struct {
	cache    *Cache
	recorder Recorder
}

// NewGuard wires a cache to a message recorder.
func NewGuard(cache *Cache, recorder Recorder) *Guard {
	return &Guard{cache: cache, recorder: recorder}
}

// Seen reports whether the (provider, externalID) pair was already
// processed, marking it seen if not. Messages without an external id are
// never treated as duplicates since there is nothing to key on.
func (g *Guard) Seen(ctx context.Context, providerName, externalID string) (bool, error) {
	if externalID == "" {
		return false, nil
	}

	key := providerName + ":" + externalID
	if g.cache.CheckAndMark(key) {
		return true, nil
	}

	_, err := g.recorder.FindMessageByExternalID(ctx, externalID)
	if err == nil {
		return true, nil
	}
	if errors.Is(err, store.ErrNotFound) {
		return false, nil
	}

	// Lookup failed; unmark so the provider's retry gets a clean check.
	g.cache.Forget(key)
	return false, fmt.Errorf("checking message record: %w", err)
}

// Release unmarks a pair after processing failed, so a redelivery is not
// rejected by the cache.
func (g *Guard) Release(providerName, externalID string) {
	if externalID == "" {
		return
	}
	g.cache.Forget(providerName + ":" + externalID)
}

// Close releases the underlying cache.
func (g *Guard) Close() {
	g.cache.Close()
}
