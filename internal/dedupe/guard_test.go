// ABOUTME: Tests for the dedupe guard combining cache and store lookups
// ABOUTME: Covers restart recovery, lookup failures, and missing external ids

package dedupe

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/2389/omni-gateway/internal/store"
)

type fakeRecorder struct {
	persisted map[string]bool
	err       error
	lookups   int
}

func (f *fakeRecorder) FindMessageByExternalID(ctx context.Context, externalID string) (*store.Message, error) {
	f.lookups++
	if f.err != nil {
		return nil, f.err
	}
	if f.persisted[externalID] {
		return &store.Message{ID: "m-" + externalID}, nil
	}
	return nil, store.ErrNotFound
}

func newTestGuard(rec *fakeRecorder) *Guard {
	return NewGuard(NewCache(5*time.Minute, 100), rec)
}

func TestGuardSeen_NewMessage(t *testing.T) {
	rec := &fakeRecorder{}
	g := newTestGuard(rec)
	defer g.Close()

	seen, err := g.Seen(context.Background(), "zapi", "MSG1")
	require.NoError(t, err)
	assert.False(t, seen)

	// Second delivery hits the cache, not the store.
	seen, err = g.Seen(context.Background(), "zapi", "MSG1")
	require.NoError(t, err)
	assert.True(t, seen)
	assert.Equal(t, 1, rec.lookups)
}

func TestGuardSeen_PersistedBeforeRestart(t *testing.T) {
	// A fresh cache with the message already in the database models a
	// duplicate arriving after a process restart.
	rec := &fakeRecorder{persisted: map[string]bool{"OLD1": true}}
	g := newTestGuard(rec)
	defer g.Close()

	seen, err := g.Seen(context.Background(), "zapi", "OLD1")
	require.NoError(t, err)
	assert.True(t, seen)
}

func TestGuardSeen_EmptyExternalID(t *testing.T) {
	rec := &fakeRecorder{}
	g := newTestGuard(rec)
	defer g.Close()

	for i := 0; i < 3; i++ {
		seen, err := g.Seen(context.Background(), "zapi", "")
		require.NoError(t, err)
		assert.False(t, seen)
	}
	assert.Equal(t, 0, rec.lookups)
}

func TestGuardSeen_LookupError(t *testing.T) {
	rec := &fakeRecorder{err: errors.New("db is down")}
	g := newTestGuard(rec)
	defer g.Close()

	_, err := g.Seen(context.Background(), "zapi", "MSG1")
	require.Error(t, err)

	// The failed check must not leave the key marked.
	rec.err = nil
	seen, err := g.Seen(context.Background(), "zapi", "MSG1")
	require.NoError(t, err)
	assert.False(t, seen)
}

func TestGuardRelease(t *testing.T) {
	rec := &fakeRecorder{}
	g := newTestGuard(rec)
	defer g.Close()

	seen, err := g.Seen(context.Background(), "evolution", "E1")
	require.NoError(t, err)
	require.False(t, seen)

	g.Release("evolution", "E1")

	seen, err = g.Seen(context.Background(), "evolution", "E1")
	require.NoError(t, err)
	assert.False(t, seen, "released key passes again")
}

func TestGuardSeen_KeysAreScopedByProvider(t *testing.T) {
	rec := &fakeRecorder{}
	g := newTestGuard(rec)
	defer g.Close()

	seen, _ := g.Seen(context.Background(), "zapi", "SAME")
	assert.False(t, seen)

	// Same id from another provider is a distinct cache key; only the
	// database can connect them, and here it has no record.
	seen, _ = g.Seen(context.Background(), "evolution", "SAME")
	assert.False(t, seen)
}
