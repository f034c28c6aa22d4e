package schema

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/JonMunkholm/tablebrowser/internal/db"
	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// CreateTableRequest is the body of a create-table call.
type CreateTableRequest struct {
	Schema  string               `json:"schema"`
	Name    string               `json:"name"`
	Columns []NewTableColumnSpec `json:"columns"`
}

// DefaultSchema is used when a create-table request names no schema.
const DefaultSchema = "public"

// CreateTable creates a table from abstract column specs in a single
// statement and evicts any cached metadata for the new ref.
func (c *Catalog) CreateTable(ctx context.Context, sess *db.Session, req CreateTableRequest) (TableRef, error) {
	ref := TableRef{Schema: req.Schema, Name: req.Name}
	if ref.Schema == "" {
		ref.Schema = DefaultSchema
	}
	if !c.Surfaced(ref.Schema) {
		return TableRef{}, dberr.Validationf("schema %q is not browsable", ref.Schema)
	}
	ddl, err := BuildCreateTableDDL(ref, req.Columns)
	if err != nil {
		return TableRef{}, err
	}

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	err = sess.WriteTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, ddl)
		return err
	})
	if err != nil {
		return TableRef{}, dberr.Classify("create table", fmt.Errorf("creating %s: %w", ref.FullName(), err))
	}

	c.Evict(sess.ConnID, ref)
	c.logger.Info("table created", "conn_id", sess.ConnID, "table", ref.FullName(), "columns", len(req.Columns))
	return ref, nil
}

// DropTable drops a table. Tables other objects depend on are not dropped.
func (c *Catalog) DropTable(ctx context.Context, sess *db.Session, ref TableRef) error {
	if !c.Surfaced(ref.Schema) {
		return dberr.NotFoundf("table %s not found", ref.FullName())
	}
	ddl, err := BuildDropTableDDL(ref)
	if err != nil {
		return err
	}

	ctx, cancel := sess.WithTimeout(ctx)
	defer cancel()

	err = sess.WriteTx(ctx, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, ddl)
		return err
	})
	if err != nil {
		return dberr.Classify("drop table", fmt.Errorf("dropping %s: %w", ref.FullName(), err))
	}

	c.Evict(sess.ConnID, ref)
	c.logger.Info("table dropped", "conn_id", sess.ConnID, "table", ref.FullName())
	return nil
}
