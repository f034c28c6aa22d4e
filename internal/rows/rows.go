package rows

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tablebrowser/internal/db"
	"github.com/JonMunkholm/tablebrowser/internal/dberr"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

// Page size limits.
const (
	DefaultPageSize = 50
	MaxPageSize     = 500
)

// Accessor reads and writes rows. It holds no connection; every call runs
// against the session passed in.
type Accessor struct {
	cache       *PageCache
	maxPageSize int
	logger      *slog.Logger
}

// NewAccessor creates an accessor. pageTTL of zero disables the page cache.
func NewAccessor(pageTTL time.Duration, maxPageSize int, logger *slog.Logger) *Accessor {
	if maxPageSize <= 0 {
		maxPageSize = MaxPageSize
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Accessor{
		cache:       NewPageCache(pageTTL),
		maxPageSize: maxPageSize,
		logger:      logger,
	}
}

// MaxPageSize returns the largest accepted limit.
func (a *Accessor) MaxPageSize() int { return a.maxPageSize }

// List returns one page of meta's table. Count and page come from the same
// snapshot, so total always agrees with rows.
func (a *Accessor) List(ctx context.Context, sess *db.Session, meta *schema.TableMeta, limit, offset int) (*Page, error) {
	if limit < 1 || limit > a.maxPageSize {
		return nil, dberr.Validationf("limit must be between 1 and %d", a.maxPageSize)
	}
	if offset < 0 {
		return nil, dberr.Validationf("offset must be zero or positive")
	}

	ref := meta.Ref()
	if page, ok := a.cache.Get(sess.ConnID, ref, limit, offset); ok {
		return page, nil
	}
	snap := a.cache.Snapshot(sess.ConnID, ref)

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	page := &Page{Rows: []Record{}}
	err := sess.ReadTx(ctx, func(tx pgx.Tx) error {
		if err := tx.QueryRow(ctx, buildCount(meta)).Scan(&page.Total); err != nil {
			return fmt.Errorf("counting rows: %w", err)
		}
		rows, err := tx.Query(ctx, buildPage(meta), limit, offset)
		if err != nil {
			return fmt.Errorf("querying rows: %w", err)
		}
		page.Columns, page.Rows, err = collect(rows)
		return err
	})
	if err != nil {
		return nil, dberr.Classify("list rows", err)
	}
	a.cache.Put(sess.ConnID, ref, limit, offset, snap, page)
	return page, nil
}

// collect reads every row into records keyed by result column name.
func collect(rows pgx.Rows) ([]string, []Record, error) {
	defer rows.Close()

	fields := rows.FieldDescriptions()
	cols := make([]string, len(fields))
	for i, fd := range fields {
		cols[i] = fd.Name
	}

	records := make([]Record, 0, 32)
	for rows.Next() {
		values, err := rows.Values()
		if err != nil {
			return nil, nil, fmt.Errorf("reading row values: %w", err)
		}
		rec := make(Record, len(fields))
		for i, fd := range fields {
			rec[fd.Name] = FromPG(values[i], fd.DataTypeOID)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, nil, fmt.Errorf("iterating rows: %w", err)
	}
	return cols, records, nil
}

// Insert adds a row from coerced values and returns it as stored.
func (a *Accessor) Insert(ctx context.Context, sess *db.Session, meta *schema.TableMeta, values map[string]any) (Record, error) {
	sql, args, err := buildInsert(meta, values)
	if err != nil {
		return nil, err
	}

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	var rec Record
	err = sess.WriteTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("inserting row: %w", err)
		}
		_, records, err := collect(rows)
		if err != nil {
			return err
		}
		if len(records) > 0 {
			rec = records[0]
		}
		return nil
	})
	if err != nil {
		return nil, dberr.Classify("insert", err)
	}
	a.Invalidate(sess.ConnID, meta.Ref())
	return rec, nil
}

// Update changes the row addressed by key. Zero matches is NotFound; more
// than one is a Conflict and nothing is changed.
func (a *Accessor) Update(ctx context.Context, sess *db.Session, meta *schema.TableMeta, key, values map[string]any) (Record, error) {
	sql, args, err := buildUpdate(meta, key, values)
	if err != nil {
		return nil, err
	}

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	var rec Record
	err = sess.WriteTx(ctx, func(tx pgx.Tx) error {
		rows, err := tx.Query(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("updating row: %w", err)
		}
		_, records, err := collect(rows)
		if err != nil {
			return err
		}
		switch len(records) {
		case 0:
			return dberr.NotFoundf("row not found")
		case 1:
			rec = records[0]
			return nil
		default:
			return dberr.Conflictf("row not uniquely identified by key")
		}
	})
	if err != nil {
		return nil, dberr.Classify("update", err)
	}
	a.Invalidate(sess.ConnID, meta.Ref())
	return rec, nil
}

// Delete removes the row addressed by key and returns how many rows went.
func (a *Accessor) Delete(ctx context.Context, sess *db.Session, meta *schema.TableMeta, key map[string]any) (int64, error) {
	sql, args, err := buildDelete(meta, key)
	if err != nil {
		return 0, err
	}

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	var deleted int64
	err = sess.WriteTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, sql, args...)
		if err != nil {
			return fmt.Errorf("deleting row: %w", err)
		}
		deleted = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, dberr.Classify("delete", err)
	}
	if deleted > 0 {
		a.Invalidate(sess.ConnID, meta.Ref())
	}
	return deleted, nil
}

// Invalidate drops cached pages of one table.
func (a *Accessor) Invalidate(connID int64, ref schema.TableRef) {
	a.cache.Invalidate(connID, ref)
	a.logger.Debug("page cache invalidated", "conn_id", connID, "table", ref.FullName())
}

// PurgeConn drops cached pages of every table of a connection.
func (a *Accessor) PurgeConn(connID int64) {
	a.cache.PurgeConn(connID)
}
