package session

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
)

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	_, err := store.Load(ctx, "missing")
	assert.ErrorIs(t, err, errspkg.ErrSessionNotFound)

	s := &Session{ID: "s1", LastAccess: time.Now(), MaxInactive: time.Minute}
	s.SetAttribute(AttributeName, "alice")
	require.NoError(t, store.Save(ctx, s))

	// stored copies are isolated from the caller
	s.SetAttribute(AttributeName, "mallory")
	loaded, err := store.Load(ctx, "s1")
	require.NoError(t, err)
	name, _ := loaded.Attribute(AttributeName)
	assert.Equal(t, "alice", name)

	require.NoError(t, store.Delete(ctx, "s1"))
	_, err = store.Load(ctx, "s1")
	assert.ErrorIs(t, err, errspkg.ErrSessionNotFound)
}

func TestMemoryStoreExpiresOnRead(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	now := time.Now()
	store.now = func() time.Time { return now }

	require.NoError(t, store.Save(ctx, &Session{ID: "old", LastAccess: now.Add(-time.Hour), MaxInactive: time.Minute}))
	assert.Equal(t, 1, store.Len())

	_, err := store.Load(ctx, "old")
	assert.ErrorIs(t, err, errspkg.ErrSessionNotFound)
	assert.Equal(t, 0, store.Len())
}
