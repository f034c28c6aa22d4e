package registry

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"time"

	"github.com/pressly/goose/v3"
	"modernc.org/sqlite" // SQLite driver (pure Go)
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

//go:embed migrations/*.sql
var migrations embed.FS

// Store persists connection profiles in SQLite.
type Store struct {
	db  *sql.DB
	enc *Encryptor // nil stores DSNs in plain text
	now func() time.Time
}

// OpenStore opens (creating if needed) the SQLite database at path and runs
// pending migrations. Use ":memory:" for a throwaway store.
func OpenStore(ctx context.Context, path string, enc *Encryptor) (*Store, error) {
	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)"
	}
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite database: %w", err)
	}
	// One connection: SQLite has a single writer and :memory: is per connection.
	db.SetMaxOpenConns(1)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping sqlite database: %w", err)
	}

	s := NewStore(db, enc)
	if err := s.Migrate(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

// NewStore wraps an already migrated database.
func NewStore(db *sql.DB, enc *Encryptor) *Store {
	return &Store{db: db, enc: enc, now: time.Now}
}

// Migrate runs all pending migrations.
func (s *Store) Migrate(ctx context.Context) error {
	goose.SetBaseFS(migrations)
	goose.SetLogger(goose.NopLogger())

	if err := goose.SetDialect("sqlite"); err != nil {
		return fmt.Errorf("failed to set dialect: %w", err)
	}
	if err := goose.UpContext(ctx, s.db, "migrations"); err != nil {
		return fmt.Errorf("failed to run migrations: %w", err)
	}
	return nil
}

// Close closes the database.
func (s *Store) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

const profileColumns = `id, name, dsn, encrypted, read_only, active, created_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func (s *Store) scan(row rowScanner) (Profile, error) {
	var (
		p         Profile
		encrypted bool
		created   int64
	)
	if err := row.Scan(&p.ID, &p.Name, &p.DSN, &encrypted, &p.ReadOnly, &p.Active, &created); err != nil {
		return Profile{}, err
	}
	p.CreatedAt = time.Unix(created, 0).UTC()
	if encrypted {
		if s.enc == nil {
			return Profile{}, fmt.Errorf("connection %q is encrypted but no encryption key is configured", p.Name)
		}
		dsn, err := s.enc.DecryptString(p.DSN)
		if err != nil {
			return Profile{}, fmt.Errorf("decrypting dsn of %q: %w", p.Name, err)
		}
		p.DSN = dsn
	}
	return p, nil
}

// List returns every profile ordered by id.
func (s *Store) List(ctx context.Context) ([]Profile, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+profileColumns+` FROM connections ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing connections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	profiles := make([]Profile, 0, 8)
	for rows.Next() {
		p, err := s.scan(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning connection: %w", err)
		}
		profiles = append(profiles, p)
	}
	return profiles, rows.Err()
}

// Get returns the profile with id.
func (s *Store) Get(ctx context.Context, id int64) (Profile, error) {
	p, err := s.scan(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM connections WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, dberr.NotFoundf("connection %d not found", id)
	}
	if err != nil {
		return Profile{}, fmt.Errorf("loading connection %d: %w", id, err)
	}
	return p, nil
}

// GetByName returns the profile named name, if any.
func (s *Store) GetByName(ctx context.Context, name string) (Profile, bool, error) {
	p, err := s.scan(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM connections WHERE name = ?`, name))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("loading connection %q: %w", name, err)
	}
	return p, true, nil
}

// Active returns the active profile, if any.
func (s *Store) Active(ctx context.Context) (Profile, bool, error) {
	p, err := s.scan(s.db.QueryRowContext(ctx, `SELECT `+profileColumns+` FROM connections WHERE active = 1`))
	if errors.Is(err, sql.ErrNoRows) {
		return Profile{}, false, nil
	}
	if err != nil {
		return Profile{}, false, fmt.Errorf("loading active connection: %w", err)
	}
	return p, true, nil
}

// Insert stores a new inactive profile and returns it with its id.
func (s *Store) Insert(ctx context.Context, name, dsn string, readOnly bool) (Profile, error) {
	stored, encrypted := dsn, false
	if s.enc != nil {
		var err error
		if stored, err = s.enc.EncryptString(dsn); err != nil {
			return Profile{}, fmt.Errorf("encrypting dsn: %w", err)
		}
		encrypted = true
	}
	created := s.now().UTC().Truncate(time.Second)

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO connections (name, dsn, encrypted, read_only, active, created_at) VALUES (?, ?, ?, ?, 0, ?)`,
		name, stored, encrypted, readOnly, created.Unix())
	if err != nil {
		if isUniqueViolation(err) {
			return Profile{}, dberr.Conflictf("connection %q already exists", name)
		}
		return Profile{}, fmt.Errorf("inserting connection: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return Profile{}, fmt.Errorf("reading connection id: %w", err)
	}
	return Profile{ID: id, Name: name, DSN: dsn, ReadOnly: readOnly, CreatedAt: created}, nil
}

// isUniqueViolation reports a constraint failure on insert. Without extended
// result codes SQLite only reports the primary SQLITE_CONSTRAINT code.
func isUniqueViolation(err error) bool {
	var sqliteErr *sqlite.Error
	if !errors.As(err, &sqliteErr) {
		return false
	}
	code := sqliteErr.Code()
	return code == sqlite3.SQLITE_CONSTRAINT_UNIQUE || code == sqlite3.SQLITE_CONSTRAINT
}

// SetActive marks id as the only active profile in one transaction.
func (s *Store) SetActive(ctx context.Context, id int64) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("beginning transaction: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `UPDATE connections SET active = 0 WHERE active = 1`); err != nil {
		return fmt.Errorf("clearing active connection: %w", err)
	}
	res, err := tx.ExecContext(ctx, `UPDATE connections SET active = 1 WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("activating connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("activating connection: %w", err)
	}
	if n == 0 {
		return dberr.NotFoundf("connection %d not found", id)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Delete removes an inactive profile.
func (s *Store) Delete(ctx context.Context, id int64) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM connections WHERE id = ? AND active = 0`, id)
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("deleting connection: %w", err)
	}
	if n > 0 {
		return nil
	}
	p, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	if p.Active {
		return dberr.Conflictf("connection %q is active; activate another one first", p.Name)
	}
	return dberr.NotFoundf("connection %d not found", id)
}
