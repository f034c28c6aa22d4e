package schema

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tablebrowser/internal/db"
	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// systemSchemas are never surfaced.
var systemSchemas = []string{"pg_catalog", "information_schema"}

// Catalog queries PostgreSQL for tables and their structure. It holds no
// connection; every call runs against the session passed in.
type Catalog struct {
	schemas []string // empty means all non-system schemas
	cache   *MetaCache
	logger  *slog.Logger
}

// NewCatalog creates a catalog. schemas restricts the surfaced schemas.
func NewCatalog(schemas []string, metaTTL time.Duration, logger *slog.Logger) *Catalog {
	if logger == nil {
		logger = slog.Default()
	}
	return &Catalog{
		schemas: schemas,
		cache:   NewMetaCache(metaTTL),
		logger:  logger,
	}
}

// Surfaced reports whether tables in schema are visible through the catalog.
func (c *Catalog) Surfaced(schema string) bool {
	if len(c.schemas) > 0 {
		return slices.Contains(c.schemas, schema)
	}
	if slices.Contains(systemSchemas, schema) {
		return false
	}
	return !strings.HasPrefix(schema, "pg_toast") && !strings.HasPrefix(schema, "pg_temp_")
}

// schemaAllowlist is passed as $1 to the table queries; empty means no allowlist.
func (c *Catalog) schemaAllowlist() []string {
	if len(c.schemas) == 0 {
		return []string{}
	}
	return c.schemas
}

const queryListTables = `
	SELECT t.table_schema, t.table_name
	FROM information_schema.tables t
	WHERE t.table_type = 'BASE TABLE'
	  AND t.table_schema NOT IN ('pg_catalog', 'information_schema')
	  AND t.table_schema NOT LIKE 'pg\_toast%'
	  AND t.table_schema NOT LIKE 'pg\_temp\_%'
	  AND (cardinality($1::text[]) = 0 OR t.table_schema = ANY($1::text[]))
	ORDER BY t.table_schema, t.table_name`

const queryTableExists = `
	SELECT EXISTS (
		SELECT 1 FROM information_schema.tables
		WHERE table_schema = $1 AND table_name = $2 AND table_type = 'BASE TABLE'
	)`

const queryColumns = `
	SELECT
		c.column_name,
		c.data_type,
		c.udt_name,
		c.is_nullable = 'YES',
		c.column_default,
		(c.is_identity = 'YES'
		 OR c.is_generated = 'ALWAYS'
		 OR COALESCE(c.column_default LIKE 'nextval(%', false))
	FROM information_schema.columns c
	WHERE c.table_schema = $1 AND c.table_name = $2
	ORDER BY c.ordinal_position`

const queryPrimaryKey = `
	SELECT a.attname::text
	FROM pg_index i
	CROSS JOIN LATERAL unnest(i.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
	JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
	WHERE i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
	  AND i.indisprimary
	ORDER BY k.ord`

const queryUniqueIndexes = `
	SELECT ic.relname::text, array_agg(a.attname::text ORDER BY k.ord)
	FROM pg_index i
	JOIN pg_class ic ON ic.oid = i.indexrelid
	CROSS JOIN LATERAL unnest(i.indkey::int2[]) WITH ORDINALITY AS k(attnum, ord)
	JOIN pg_attribute a ON a.attrelid = i.indrelid AND a.attnum = k.attnum
	WHERE i.indrelid = (quote_ident($1) || '.' || quote_ident($2))::regclass
	  AND i.indisunique
	  AND NOT i.indisprimary
	GROUP BY ic.relname
	ORDER BY ic.relname`

// ListTables returns the base tables of the surfaced schemas.
func (c *Catalog) ListTables(ctx context.Context, sess *db.Session) ([]TableRef, error) {
	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	rows, err := sess.Query(ctx, queryListTables, c.schemaAllowlist())
	if err != nil {
		return nil, dberr.Classify("list tables", fmt.Errorf("listing tables: %w", err))
	}
	defer rows.Close()

	tables := make([]TableRef, 0, 64) // Pre-allocate for typical schema
	for rows.Next() {
		var t TableRef
		if err := rows.Scan(&t.Schema, &t.Name); err != nil {
			return nil, dberr.Classify("list tables", fmt.Errorf("scanning table row: %w", err))
		}
		tables = append(tables, t)
	}
	if err := rows.Err(); err != nil {
		return nil, dberr.Classify("list tables", err)
	}
	return tables, nil
}

// TableMeta returns the cached metadata of ref, loading it on a miss.
func (c *Catalog) TableMeta(ctx context.Context, sess *db.Session, ref TableRef) (*TableMeta, error) {
	if !c.Surfaced(ref.Schema) {
		return nil, dberr.NotFoundf("table %s not found", ref.FullName())
	}
	return c.cache.Get(ctx, sess.ConnID, ref, func(ctx context.Context) (*TableMeta, error) {
		return c.loadTableMeta(ctx, sess, ref)
	})
}

func (c *Catalog) loadTableMeta(ctx context.Context, sess *db.Session, ref TableRef) (*TableMeta, error) {
	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	meta := &TableMeta{Schema: ref.Schema, Name: ref.Name}
	err := sess.ReadTx(ctx, func(tx pgx.Tx) error {
		var exists bool
		if err := tx.QueryRow(ctx, queryTableExists, ref.Schema, ref.Name).Scan(&exists); err != nil {
			return fmt.Errorf("checking table: %w", err)
		}
		if !exists {
			return dberr.NotFoundf("table %s not found", ref.FullName())
		}

		var err error
		if meta.Columns, err = fetchColumns(ctx, tx, ref); err != nil {
			return err
		}
		if meta.PrimaryKey, err = fetchPrimaryKey(ctx, tx, ref); err != nil {
			return err
		}
		meta.UniqueIndexes, err = fetchUniqueIndexes(ctx, tx, ref)
		return err
	})
	if err != nil {
		return nil, dberr.Classify("table meta", err)
	}

	markKeys(meta)
	c.logger.Debug("loaded table metadata",
		"conn_id", sess.ConnID,
		"table", ref.FullName(),
		"columns", len(meta.Columns),
	)
	return meta, nil
}

func fetchColumns(ctx context.Context, tx pgx.Tx, ref TableRef) ([]ColumnMeta, error) {
	rows, err := tx.Query(ctx, queryColumns, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("querying columns: %w", err)
	}
	defer rows.Close()

	cols := make([]ColumnMeta, 0, 16)
	for rows.Next() {
		var col ColumnMeta
		var dataType, udtName string
		if err := rows.Scan(&col.Name, &dataType, &udtName, &col.IsNullable, &col.Default, &col.IsAuto); err != nil {
			return nil, fmt.Errorf("scanning column: %w", err)
		}
		col.DataType = ClassifyType(dataType, udtName)
		col.NativeType = nativeType(dataType, udtName)
		col.HasDefault = col.Default != nil || col.IsAuto
		cols = append(cols, col)
	}
	return cols, rows.Err()
}

func fetchPrimaryKey(ctx context.Context, tx pgx.Tx, ref TableRef) ([]string, error) {
	rows, err := tx.Query(ctx, queryPrimaryKey, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("querying primary key: %w", err)
	}
	pk, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("scanning primary key: %w", err)
	}
	return pk, nil
}

func fetchUniqueIndexes(ctx context.Context, tx pgx.Tx, ref TableRef) ([]UniqueIndex, error) {
	rows, err := tx.Query(ctx, queryUniqueIndexes, ref.Schema, ref.Name)
	if err != nil {
		return nil, fmt.Errorf("querying unique indexes: %w", err)
	}
	defer rows.Close()

	idxs := make([]UniqueIndex, 0, 4)
	for rows.Next() {
		var idx UniqueIndex
		if err := rows.Scan(&idx.Name, &idx.Columns); err != nil {
			return nil, fmt.Errorf("scanning unique index: %w", err)
		}
		idxs = append(idxs, idx)
	}
	return idxs, rows.Err()
}

// markKeys sets the primary key and uniqueness flags on the columns.
// A column is unique when it alone forms the primary key or a unique index.
func markKeys(meta *TableMeta) {
	single := make(map[string]bool)
	if len(meta.PrimaryKey) == 1 {
		single[meta.PrimaryKey[0]] = true
	}
	for _, idx := range meta.UniqueIndexes {
		if len(idx.Columns) == 1 {
			single[idx.Columns[0]] = true
		}
	}
	for i := range meta.Columns {
		col := &meta.Columns[i]
		col.IsPrimaryKey = meta.IsPrimaryKey(col.Name)
		col.IsUnique = single[col.Name]
	}
}

// Evict drops cached metadata for one table.
func (c *Catalog) Evict(connID int64, ref TableRef) {
	c.cache.Evict(connID, ref)
}

// PurgeConn drops cached metadata for every table of a connection.
func (c *Catalog) PurgeConn(connID int64) {
	c.cache.PurgeConn(connID)
}
