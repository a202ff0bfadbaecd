// Package session keeps HTTP session state server-side. The browser only
// holds the SESSION cookie; attributes live in a Store that several services
// can share.
package session

import (
	"context"
	"time"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
)

// AttributeName is the attribute holding the logged-in user.
const AttributeName = "name"

// Session is the server-side state behind a SESSION cookie.
type Session struct {
	ID          string            `json:"id"`
	Attributes  map[string]string `json:"attributes"`
	CreatedAt   time.Time         `json:"created_at"`
	LastAccess  time.Time         `json:"last_access"`
	MaxInactive time.Duration     `json:"max_inactive"`
}

// Attribute returns the named attribute or ErrAttributeAbsent.
func (s *Session) Attribute(name string) (string, error) {
	if s == nil {
		return "", errspkg.ErrSessionNotFound
	}
	value, ok := s.Attributes[name]
	if !ok {
		return "", errspkg.ErrAttributeAbsent
	}
	return value, nil
}

// SetAttribute stores value under name.
func (s *Session) SetAttribute(name, value string) {
	if s.Attributes == nil {
		s.Attributes = make(map[string]string)
	}
	s.Attributes[name] = value
}

// Expired reports whether the session has been idle longer than MaxInactive.
// A non-positive MaxInactive never expires.
func (s *Session) Expired(now time.Time) bool {
	return s.MaxInactive > 0 && now.Sub(s.LastAccess) > s.MaxInactive
}

func (s *Session) clone() *Session {
	c := *s
	c.Attributes = make(map[string]string, len(s.Attributes))
	for k, v := range s.Attributes {
		c.Attributes[k] = v
	}
	return &c
}

// Store persists sessions. Load returns ErrSessionNotFound for unknown or
// expired sessions.
type Store interface {
	Load(ctx context.Context, id string) (*Session, error)
	Save(ctx context.Context, s *Session) error
	Delete(ctx context.Context, id string) error
}
