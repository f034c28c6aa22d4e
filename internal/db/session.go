// Package db holds the per-connection session the engine runs every call
// against, plus helpers to open and probe PostgreSQL pools.
package db

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// DefaultQueryTimeout bounds store calls when no timeout is configured.
const DefaultQueryTimeout = 30 * time.Second

// Session is an immutable snapshot of one activated connection profile.
// Switching connections produces a new Session; callers resolve the current
// one once per request, hold it with Acquire and use it for the whole request.
type Session struct {
	ConnID   int64
	Name     string
	ReadOnly bool

	pool         *pgxpool.Pool
	queryTimeout time.Duration

	mu      sync.Mutex
	users   int
	retired bool
	drained chan struct{} // closed when retired and users reaches zero
}

// NewSession wraps an open pool.
func NewSession(connID int64, name string, readOnly bool, pool *pgxpool.Pool, queryTimeout time.Duration) *Session {
	if queryTimeout <= 0 {
		queryTimeout = DefaultQueryTimeout
	}
	return &Session{
		ConnID:       connID,
		Name:         name,
		ReadOnly:     readOnly,
		pool:         pool,
		queryTimeout: queryTimeout,
	}
}

// Acquire marks the start of a call using the session. It reports false once
// the session has been retired.
func (s *Session) Acquire() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.retired {
		return false
	}
	s.users++
	return true
}

// Release marks the end of a call started with Acquire.
func (s *Session) Release() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.users > 0 {
		s.users--
	}
	if s.retired && s.users == 0 && s.drained != nil {
		close(s.drained)
		s.drained = nil
	}
}

// Retire refuses further Acquire calls. The returned channel is closed once
// every call that acquired the session has released it.
func (s *Session) Retire() <-chan struct{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.retired {
		s.retired = true
		if s.users > 0 {
			s.drained = make(chan struct{})
		}
	}
	if s.drained != nil {
		return s.drained
	}
	done := make(chan struct{})
	close(done)
	return done
}

// Close releases the pool. Blocks until acquired connections are returned.
func (s *Session) Close() {
	if s == nil || s.pool == nil {
		return
	}
	s.pool.Close()
}

// WithTimeout returns a context with the query timeout applied.
// If the parent context already has a shorter deadline, that deadline is preserved.
func (s *Session) WithTimeout(parent context.Context) (context.Context, context.CancelFunc) {
	if deadline, ok := parent.Deadline(); ok {
		if time.Until(deadline) <= s.queryTimeout {
			return context.WithCancel(parent)
		}
	}
	return context.WithTimeout(parent, s.queryTimeout)
}

func (s *Session) ready() error {
	if s == nil || s.pool == nil {
		return dberr.Transientf("no open database connection")
	}
	return nil
}

// Query runs a query on the pool.
func (s *Session) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	if err := s.ready(); err != nil {
		return nil, err
	}
	return s.pool.Query(ctx, sql, args...)
}

// Exec runs a statement on the pool.
func (s *Session) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if err := s.ready(); err != nil {
		return pgconn.CommandTag{}, err
	}
	return s.pool.Exec(ctx, sql, args...)
}

// ReadTx runs fn in a read-only REPEATABLE READ transaction so that several
// queries observe the same snapshot.
func (s *Session) ReadTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.inTx(ctx, pgx.TxOptions{IsoLevel: pgx.RepeatableRead, AccessMode: pgx.ReadOnly}, fn)
}

// WriteTx runs fn in a transaction whose access mode follows the profile,
// so a read-only profile is enforced by the server as well.
func (s *Session) WriteTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	return s.inTx(ctx, pgx.TxOptions{AccessMode: s.accessMode()}, fn)
}

func (s *Session) inTx(ctx context.Context, opts pgx.TxOptions, fn func(tx pgx.Tx) error) error {
	if err := s.ready(); err != nil {
		return err
	}
	tx, err := s.pool.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(tx); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

func (s *Session) accessMode() pgx.TxAccessMode {
	if s.ReadOnly {
		return pgx.ReadOnly
	}
	return pgx.ReadWrite
}
