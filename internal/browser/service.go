// Package browser is the table access engine: it resolves the active
// session for every call and routes it through the catalog, the row layer
// and the coercion rules.
package browser

import (
	"context"
	"log/slog"

	"github.com/JonMunkholm/tablebrowser/internal/coerce"
	"github.com/JonMunkholm/tablebrowser/internal/db"
	"github.com/JonMunkholm/tablebrowser/internal/dberr"
	"github.com/JonMunkholm/tablebrowser/internal/registry"
	"github.com/JonMunkholm/tablebrowser/internal/rows"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
)

// Options configures a Service.
type Options struct {
	// DefaultPageSize is used when ListRows gets a limit of zero.
	DefaultPageSize int
	Policy          coerce.Policy
	Logger          *slog.Logger
}

// Service implements the engine operations on top of a registry.
type Service struct {
	registry    *registry.Registry
	catalog     *schema.Catalog
	rows        *rows.Accessor
	policy      coerce.Policy
	defaultPage int
	logger      *slog.Logger
}

// New wires a service and subscribes it to connection switches so cached
// metadata and pages of the previous connection are dropped.
func New(reg *registry.Registry, catalog *schema.Catalog, accessor *rows.Accessor, opts Options) *Service {
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	if opts.DefaultPageSize <= 0 {
		opts.DefaultPageSize = rows.DefaultPageSize
	}
	if opts.DefaultPageSize > accessor.MaxPageSize() {
		opts.DefaultPageSize = accessor.MaxPageSize()
	}
	s := &Service{
		registry:    reg,
		catalog:     catalog,
		rows:        accessor,
		policy:      opts.Policy,
		defaultPage: opts.DefaultPageSize,
		logger:      opts.Logger,
	}
	reg.OnSwitch(s.onSwitch)
	return s
}

// onSwitch drops cached metadata and pages of the previous and the next
// connection.
func (s *Service) onSwitch(prev, next *db.Session) {
	s.catalog.PurgeConn(next.ConnID)
	s.rows.PurgeConn(next.ConnID)
	if prev == nil {
		return
	}
	s.catalog.PurgeConn(prev.ConnID)
	s.rows.PurgeConn(prev.ConnID)
	s.logger.Info("purged caches of previous connection", "prev_conn_id", prev.ConnID, "conn_id", next.ConnID)
}

// session resolves the active session once per call. The caller releases it.
func (s *Service) session(ctx context.Context) (*db.Session, error) {
	return s.registry.Session(ctx)
}

// writable resolves the active session and rejects read-only profiles.
func (s *Service) writable(ctx context.Context, op string) (*db.Session, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	if sess.ReadOnly {
		sess.Release()
		return nil, &dberr.Error{Kind: dberr.Forbidden, Op: op, Msg: "connection " + sess.Name + " is read-only"}
	}
	return sess, nil
}

// ListTables returns the browsable tables of the active connection.
func (s *Service) ListTables(ctx context.Context) ([]schema.TableRef, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	return s.catalog.ListTables(ctx, sess)
}

// TableMeta returns the structure of ref.
func (s *Service) TableMeta(ctx context.Context, ref schema.TableRef) (*schema.TableMeta, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	return s.catalog.TableMeta(ctx, sess, ref)
}

// ListRows returns one page of ref. A limit of zero selects the default
// page size.
func (s *Service) ListRows(ctx context.Context, ref schema.TableRef, limit, offset int) (*rows.Page, error) {
	sess, err := s.session(ctx)
	if err != nil {
		return nil, err
	}
	defer sess.Release()
	if limit == 0 {
		limit = s.defaultPage
	}
	meta, err := s.catalog.TableMeta(ctx, sess, ref)
	if err != nil {
		return nil, err
	}
	page, err := s.rows.List(ctx, sess, meta, limit, offset)
	if err != nil {
		return nil, s.checkStale(sess, ref, err)
	}
	return page, nil
}

// checkStale forgets what is cached about ref when err shows the table is
// gone or lost a column, which happens when it is changed by another client.
func (s *Service) checkStale(sess *db.Session, ref schema.TableRef, err error) error {
	switch dberr.SQLState(err) {
	case "42P01", "3F000", "42703":
		s.catalog.Evict(sess.ConnID, ref)
		s.rows.Invalidate(sess.ConnID, ref)
		s.logger.Info("table changed outside the engine; cached metadata dropped",
			"conn_id", sess.ConnID, "table", ref.FullName(), "error", err)
	}
	return err
}

// Kinds lists the column kinds accepted by CreateTable.
func (s *Service) Kinds() []schema.KindInfo {
	return schema.Kinds
}
