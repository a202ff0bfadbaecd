package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
	idspkg "github.com/drblury/cloudmesh/internal/runtime/ids"
)

// CookieName is the cookie carrying the session id.
const CookieName = "SESSION"

// Manager binds sessions in a Store to requests through the SESSION cookie.
type Manager struct {
	store       Store
	maxInactive time.Duration
	now         func() time.Time
}

// NewManager creates a manager; new sessions expire after maxInactive idle time.
func NewManager(store Store, maxInactive time.Duration) *Manager {
	return &Manager{
		store:       store,
		maxInactive: maxInactive,
		now:         time.Now,
	}
}

// Lookup returns the session of r without creating one. A successful lookup
// refreshes the session's last access time.
func (m *Manager) Lookup(r *http.Request) (*Session, error) {
	cookie, err := r.Cookie(CookieName)
	// ids are ULIDs, anything else never reaches the store
	if err != nil || !idspkg.Valid(cookie.Value) {
		return nil, errspkg.ErrSessionNotFound
	}
	s, err := m.store.Load(r.Context(), cookie.Value)
	if err != nil {
		return nil, err
	}
	s.LastAccess = m.now()
	if err := m.store.Save(r.Context(), s); err != nil {
		return nil, err
	}
	return s, nil
}

// Get returns the session of r. When there is none and create is set, a new
// session is created and its cookie written to w.
func (m *Manager) Get(w http.ResponseWriter, r *http.Request, create bool) (*Session, error) {
	s, err := m.Lookup(r)
	if err == nil || !create || !errors.Is(err, errspkg.ErrSessionNotFound) {
		return s, err
	}
	return m.Create(r.Context(), w)
}

// Create starts a new session and sets its cookie.
func (m *Manager) Create(ctx context.Context, w http.ResponseWriter) (*Session, error) {
	now := m.now()
	s := &Session{
		ID:          idspkg.CreateULID(),
		Attributes:  map[string]string{},
		CreatedAt:   now,
		LastAccess:  now,
		MaxInactive: m.maxInactive,
	}
	if err := m.store.Save(ctx, s); err != nil {
		return nil, err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    s.ID,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
	})
	return s, nil
}

// Save persists changes made to s.
func (m *Manager) Save(ctx context.Context, s *Session) error {
	return m.store.Save(ctx, s)
}

// Invalidate deletes s and expires its cookie.
func (m *Manager) Invalidate(ctx context.Context, w http.ResponseWriter, s *Session) error {
	if err := m.store.Delete(ctx, s.ID); err != nil {
		return err
	}
	http.SetCookie(w, &http.Cookie{
		Name:     CookieName,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
	})
	return nil
}

// Name returns the logged-in user of r, or "null" when there is no session or
// no user. Read failures are swallowed.
func (m *Manager) Name(r *http.Request) string {
	s, err := m.Lookup(r)
	if err != nil {
		return "null"
	}
	name, err := s.Attribute(AttributeName)
	if err != nil {
		return "null"
	}
	return name
}
