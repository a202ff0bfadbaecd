// Package datasource holds the lazily opened PostgreSQL pool of a service.
package datasource

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"sync"

	"github.com/jackc/pgx/v4/pgxpool"

	errspkg "github.com/drblury/cloudmesh/internal/runtime/errors"
)

// UnknownDataSource is answered when no connection can be described.
const UnknownDataSource = "Unkown data source..."

// Pool is the subset of *pgxpool.Pool used here.
type Pool interface {
	Ping(ctx context.Context) error
	Config() *pgxpool.Config
	Close()
}

// Connect opens a pool. Tests replace it.
var Connect = func(ctx context.Context, dsn string) (Pool, error) {
	return pgxpool.Connect(ctx, dsn)
}

// Source opens its pool on first use and keeps it until Close.
type Source struct {
	dsn string

	mu   sync.Mutex
	pool Pool
}

// New creates a source for dsn. An empty dsn yields an unconfigured source.
func New(dsn string) *Source {
	return &Source{dsn: dsn}
}

// Configured reports whether a dsn was given.
func (s *Source) Configured() bool {
	return s != nil && s.dsn != ""
}

// Pool returns the open pool, connecting on first call. A failed connect is
// retried on the next call.
func (s *Source) Pool(ctx context.Context) (Pool, error) {
	if !s.Configured() {
		return nil, errspkg.ErrNoDataSource
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		return s.pool, nil
	}
	pool, err := Connect(ctx, s.dsn)
	if err != nil {
		return nil, fmt.Errorf("connect data source: %w", err)
	}
	s.pool = pool
	return pool, nil
}

// URL returns the connection url of the live pool, without credentials.
func (s *Source) URL(ctx context.Context) (string, error) {
	pool, err := s.Pool(ctx)
	if err != nil {
		return "", err
	}
	if err := pool.Ping(ctx); err != nil {
		return "", fmt.Errorf("ping data source: %w", err)
	}
	cc := pool.Config().ConnConfig
	host := net.JoinHostPort(cc.Host, strconv.Itoa(int(cc.Port)))
	return fmt.Sprintf("postgresql://%s/%s", host, cc.Database), nil
}

// Describe answers "Connection url: <url>" or UnknownDataSource.
func (s *Source) Describe(ctx context.Context) string {
	u, err := s.URL(ctx)
	if err != nil {
		return UnknownDataSource
	}
	return "Connection url: " + u
}

// Close releases the pool if it was opened.
func (s *Source) Close() {
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pool != nil {
		s.pool.Close()
		s.pool = nil
	}
}
