package db

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// NormalizeDSN trims the DSN and rewrites SQLAlchemy style schemes such as
// postgresql+asyncpg:// to the plain postgresql:// form pgx understands.
func NormalizeDSN(dsn string) string {
	dsn = strings.TrimSpace(dsn)
	scheme, rest, ok := strings.Cut(dsn, "://")
	if !ok {
		return dsn
	}
	if base, _, hasDriver := strings.Cut(scheme, "+"); hasDriver {
		scheme = base
	}
	switch strings.ToLower(scheme) {
	case "postgres", "postgresql":
		return "postgresql://" + rest
	}
	return scheme + "://" + rest
}

// ParseDSN validates a DSN without connecting. Failures are Validation errors.
func ParseDSN(dsn string) (*pgxpool.Config, error) {
	dsn = NormalizeDSN(dsn)
	if dsn == "" {
		return nil, dberr.Validationf("dsn is required")
	}
	cfg, err := pgxpool.ParseConfig(dsn)
	if err != nil {
		return nil, &dberr.Error{Kind: dberr.Validation, Msg: "malformed dsn", Err: err}
	}
	return cfg, nil
}

// Open creates a pool for dsn and pings it within timeout.
func Open(ctx context.Context, dsn string, timeout time.Duration) (*pgxpool.Pool, error) {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return nil, err
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	cfg.ConnConfig.ConnectTimeout = timeout

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, cfg)
	if err != nil {
		return nil, dberr.Classify("connect", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, dberr.Classify("connect", err)
	}
	return pool, nil
}

// Probe opens a single connection to dsn, pings it and closes it again.
func Probe(ctx context.Context, dsn string, timeout time.Duration) error {
	cfg, err := ParseDSN(dsn)
	if err != nil {
		return err
	}
	if timeout <= 0 {
		timeout = DefaultQueryTimeout
	}
	connCfg := cfg.ConnConfig
	connCfg.ConnectTimeout = timeout

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	conn, err := pgx.ConnectConfig(ctx, connCfg)
	if err != nil {
		return fmt.Errorf("connecting: %w", err)
	}
	defer func() { _ = conn.Close(context.Background()) }()

	if err := conn.Ping(ctx); err != nil {
		return fmt.Errorf("ping: %w", err)
	}
	return nil
}

// Probe failure causes reported to callers of a connection test.
const (
	CauseMalformedDSN = "malformed_dsn"
	CauseAuthFailed   = "auth_failed"
	CauseUnreachable  = "unreachable"
	CauseNoDatabase   = "unknown_database"
	CauseTimeout      = "timeout"
	CauseUnknown      = "unknown"
)

// ProbeCause names why a probe failed.
func ProbeCause(err error) string {
	if err == nil {
		return ""
	}
	if errors.Is(err, context.DeadlineExceeded) || pgconn.Timeout(err) {
		return CauseTimeout
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case "28000", "28P01":
			return CauseAuthFailed
		case "3D000":
			return CauseNoDatabase
		}
		return CauseUnknown
	}
	switch dberr.KindOf(err) {
	case dberr.Validation:
		return CauseMalformedDSN
	case dberr.Transient:
		return CauseUnreachable
	}
	return CauseUnknown
}
