package browser

import (
	"context"

	"github.com/JonMunkholm/tablebrowser/internal/coerce"
	"github.com/JonMunkholm/tablebrowser/internal/rows"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

// Insert adds a row to ref and returns it as stored.
func (s *Service) Insert(ctx context.Context, ref schema.TableRef, values map[string]any) (rows.Record, error) {
	sess, err := s.writable(ctx, "insert")
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	meta, err := s.catalog.TableMeta(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	params, err := coerce.Values(meta, values, coerce.Insert, s.policy)
	if err != nil {
		return nil, err
	}
	rec, err := s.rows.Insert(ctx, sess, meta, params)
	if err != nil {
		return nil, s.checkStale(sess, ref, err)
	}
	s.logger.Info("row inserted", "conn_id", sess.ConnID, "table", ref.FullName())
	return rec, nil
}

// Update changes the row of ref addressed by key.
func (s *Service) Update(ctx context.Context, ref schema.TableRef, key, values map[string]any) (rows.Record, error) {
	sess, err := s.writable(ctx, "update")
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	meta, err := s.catalog.TableMeta(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	k, err := coerce.Values(meta, key, coerce.Update, s.policy)
	if err != nil {
		return nil, err
	}
	params, err := coerce.Values(meta, values, coerce.Update, s.policy)
	if err != nil {
		return nil, err
	}
	rec, err := s.rows.Update(ctx, sess, meta, k, params)
	if err != nil {
		return nil, s.checkStale(sess, ref, err)
	}
	s.logger.Info("row updated", "conn_id", sess.ConnID, "table", ref.FullName())
	return rec, nil
}

// Delete removes the row of ref addressed by key. Deleting a row that does
// not exist is not an error; the returned count is then zero.
func (s *Service) Delete(ctx context.Context, ref schema.TableRef, key map[string]any) (int64, error) {
	sess, err := s.writable(ctx, "delete")
	if err != nil {
		return 0, err
	}
	defer sess.Release()
	meta, err := s.catalog.TableMeta(ctx, sess, ref)
	if err != nil {
		return 0, err
	}
	k, err := coerce.Values(meta, key, coerce.Update, s.policy)
	if err != nil {
		return 0, err
	}
	n, err := s.rows.Delete(ctx, sess, meta, k)
	if err != nil {
		return 0, s.checkStale(sess, ref, err)
	}
	if n == 0 {
		s.logger.Warn("delete matched no row", "conn_id", sess.ConnID, "table", ref.FullName())
	} else {
		s.logger.Info("row deleted", "conn_id", sess.ConnID, "table", ref.FullName(), "deleted", n)
	}
	return n, nil
}

// CreateTable creates a table from abstract column specs.
func (s *Service) CreateTable(ctx context.Context, req schema.CreateTableRequest) (schema.TableRef, error) {
	sess, err := s.writable(ctx, "create table")
	if err != nil {
		return schema.TableRef{}, err
	}
	defer sess.Release()
	ref, err := s.catalog.CreateTable(ctx, sess, req)
	if err != nil {
		return schema.TableRef{}, err
	}
	s.rows.Invalidate(sess.ConnID, ref)
	return ref, nil
}

// DropTable drops ref.
func (s *Service) DropTable(ctx context.Context, ref schema.TableRef) error {
	sess, err := s.writable(ctx, "drop table")
	if err != nil {
		return err
	}
	defer sess.Release()
	if err := s.catalog.DropTable(ctx, sess, ref); err != nil {
		return err
	}
	s.rows.Invalidate(sess.ConnID, ref)
	return nil
}
