package session

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
)

func TestAttribute(t *testing.T) {
	var s Session
	_, err := s.Attribute(AttributeName)
	assert.ErrorIs(t, err, errspkg.ErrAttributeAbsent)

	s.SetAttribute(AttributeName, "alice")
	name, err := s.Attribute(AttributeName)
	require.NoError(t, err)
	assert.Equal(t, "alice", name)

	var missing *Session
	_, err = missing.Attribute(AttributeName)
	assert.ErrorIs(t, err, errspkg.ErrSessionNotFound)
}

func TestExpired(t *testing.T) {
	now := time.Now()
	s := Session{LastAccess: now.Add(-time.Minute), MaxInactive: 30 * time.Second}
	assert.True(t, s.Expired(now))

	s.MaxInactive = 2 * time.Minute
	assert.False(t, s.Expired(now))

	s.MaxInactive = 0
	assert.False(t, s.Expired(now.Add(24*time.Hour)))
}
