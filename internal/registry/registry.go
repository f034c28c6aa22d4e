// Package registry keeps the named connection profiles, tracks which one is
// active and hands out the session of the active connection.
package registry

import (
	"context"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/JonMunkholm/tablebrowser/internal/db"
	"github.com/JonMunkholm/tablebrowser/internal/dberr"
)

// Opener opens a pool for a DSN. db.Open in production.
type Opener func(ctx context.Context, dsn string, timeout time.Duration) (*pgxpool.Pool, error)

// Prober checks a DSN without keeping a connection. db.Probe in production.
type Prober func(ctx context.Context, dsn string, timeout time.Duration) error

// SwitchFunc is called after the active session changed. prev may be nil.
type SwitchFunc func(prev, next *db.Session)

// Options configures a Registry.
type Options struct {
	ProbeTimeout time.Duration
	QueryTimeout time.Duration
	// DrainTimeout bounds how long a replaced pool is waited on before the
	// registry stops tracking it.
	DrainTimeout time.Duration
	Open         Opener
	Probe        Prober
	Logger       *slog.Logger
}

// MaxNameLength bounds profile names.
const MaxNameLength = 100

// Registry manages connection profiles and the active session.
type Registry struct {
	store        *Store
	open         Opener
	probe        Prober
	probeTimeout time.Duration
	queryTimeout time.Duration
	drainTimeout time.Duration
	logger       *slog.Logger

	mu        sync.Mutex // serializes activation and restore
	current   atomic.Pointer[db.Session]
	listeners []SwitchFunc
	draining  sync.WaitGroup
}

// New creates a registry over store.
func New(store *Store, opts Options) *Registry {
	if opts.Open == nil {
		opts.Open = db.Open
	}
	if opts.Probe == nil {
		opts.Probe = db.Probe
	}
	if opts.ProbeTimeout <= 0 {
		opts.ProbeTimeout = 5 * time.Second
	}
	if opts.DrainTimeout <= 0 {
		opts.DrainTimeout = 30 * time.Second
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Registry{
		store:        store,
		open:         opts.Open,
		probe:        opts.Probe,
		probeTimeout: opts.ProbeTimeout,
		queryTimeout: opts.QueryTimeout,
		drainTimeout: opts.DrainTimeout,
		logger:       opts.Logger,
	}
}

// OnSwitch registers fn to run after every activation.
func (r *Registry) OnSwitch(fn SwitchFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.listeners = append(r.listeners, fn)
}

// List returns every profile with its DSN redacted.
func (r *Registry) List(ctx context.Context) ([]Profile, error) {
	profiles, err := r.store.List(ctx)
	if err != nil {
		return nil, err
	}
	for i := range profiles {
		profiles[i] = profiles[i].Redacted()
	}
	return profiles, nil
}

// Test probes dsn. It never changes registry state.
func (r *Registry) Test(ctx context.Context, dsn string) ProbeResult {
	err := r.probe(ctx, db.NormalizeDSN(dsn), r.probeTimeout)
	if err == nil {
		return ProbeResult{OK: true}
	}
	r.logger.Info("connection test failed", "dsn", Redact(dsn), "error", err)
	return ProbeResult{OK: false, Cause: db.ProbeCause(err), Message: err.Error()}
}

// Create validates and probes dsn, then stores a new inactive profile.
func (r *Registry) Create(ctx context.Context, name, dsn string, readOnly bool) (Profile, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return Profile{}, dberr.Validationf("name is required")
	}
	if len(name) > MaxNameLength {
		return Profile{}, dberr.Validationf("name must be at most %d characters", MaxNameLength)
	}
	dsn = db.NormalizeDSN(dsn)
	if _, err := db.ParseDSN(dsn); err != nil {
		return Profile{}, err
	}
	if res := r.Test(ctx, dsn); !res.OK {
		return Profile{}, dberr.Validationf("connection test failed (%s): %s", res.Cause, res.Message)
	}

	p, err := r.store.Insert(ctx, name, dsn, readOnly)
	if err != nil {
		return Profile{}, err
	}
	r.logger.Info("connection created", "id", p.ID, "name", p.Name, "read_only", p.ReadOnly)
	return p.Redacted(), nil
}

// Activate opens the profile's pool, marks it active and swaps it in as the
// current session. The previous pool is closed once its in-flight calls
// release it.
func (r *Registry) Activate(ctx context.Context, id int64) (int64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	p, err := r.store.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	next, err := r.openSession(ctx, p)
	if err != nil {
		return 0, err
	}
	if err := r.store.SetActive(ctx, p.ID); err != nil {
		next.Close()
		return 0, err
	}
	r.swap(next)
	r.logger.Info("connection activated", "id", p.ID, "name", p.Name, "read_only", p.ReadOnly)
	return p.ID, nil
}

func (r *Registry) openSession(ctx context.Context, p Profile) (*db.Session, error) {
	pool, err := r.open(ctx, p.DSN, r.probeTimeout)
	if err != nil {
		e := dberr.Classify("activate", err)
		if e.Kind == dberr.Unauthorized {
			// The store rejected the profile's credentials, not the caller's.
			e = &dberr.Error{Kind: dberr.Validation, Op: e.Op, Msg: "database rejected the credentials of connection " + p.Name, Err: err}
		}
		return nil, e
	}
	return db.NewSession(p.ID, p.Name, p.ReadOnly, pool, r.queryTimeout), nil
}

// swap installs next and retires the previous session. Callers hold r.mu.
func (r *Registry) swap(next *db.Session) {
	prev := r.current.Swap(next)
	for _, fn := range r.listeners {
		fn(prev, next)
	}
	if prev != nil {
		r.draining.Add(1)
		go r.retire(prev)
	}
}

// retire waits for calls holding s to release it, at most drainTimeout, and
// then closes its pool.
func (r *Registry) retire(s *db.Session) {
	defer r.draining.Done()
	select {
	case <-s.Retire():
		r.logger.Debug("previous session drained", "conn_id", s.ConnID)
	case <-time.After(r.drainTimeout):
		r.logger.Warn("previous session still in use; closing its pool", "conn_id", s.ConnID, "waited", r.drainTimeout)
	}
	s.Close()
}

// Session returns the session active at call time, acquired for the caller.
// The caller must Release it when done; the pool of a replaced session stays
// open until then. After a restart the persisted active profile is reopened
// on first use.
func (r *Registry) Session(ctx context.Context) (*db.Session, error) {
	for {
		s := r.current.Load()
		if s == nil {
			break
		}
		// A failed Acquire means s was swapped out meanwhile; load the new one.
		if s.Acquire() {
			return s, nil
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if s := r.current.Load(); s != nil && s.Acquire() {
		return s, nil
	}
	p, ok, err := r.store.Active(ctx)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, dberr.NotFoundf("no active connection; create and activate one first")
	}
	s, err := r.openSession(ctx, p)
	if err != nil {
		return nil, err
	}
	s.Acquire()
	r.swap(s)
	r.logger.Info("connection restored", "id", p.ID, "name", p.Name)
	return s, nil
}

// ActiveID returns the id of the current session, or 0.
func (r *Registry) ActiveID() int64 {
	if s := r.current.Load(); s != nil {
		return s.ConnID
	}
	return 0
}

// Remove deletes an inactive profile.
func (r *Registry) Remove(ctx context.Context, id int64) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if err := r.store.Delete(ctx, id); err != nil {
		return err
	}
	r.logger.Info("connection removed", "id", id)
	return nil
}

// Seed creates the configured profiles that do not exist yet, without
// probing them. If nothing is active afterwards the first seed is activated;
// a failure to do so is logged, not returned.
func (r *Registry) Seed(ctx context.Context, seeds []Seed) error {
	var first int64
	for _, sd := range seeds {
		name := strings.TrimSpace(sd.Name)
		if name == "" || strings.TrimSpace(sd.DSN) == "" {
			continue
		}
		p, exists, err := r.store.GetByName(ctx, name)
		if err != nil {
			return err
		}
		if !exists {
			dsn := db.NormalizeDSN(sd.DSN)
			if _, err := db.ParseDSN(dsn); err != nil {
				r.logger.Warn("skipping seed connection with malformed dsn", "name", name)
				continue
			}
			if p, err = r.store.Insert(ctx, name, dsn, sd.ReadOnly); err != nil {
				return err
			}
			r.logger.Info("seeded connection", "id", p.ID, "name", name)
		}
		if first == 0 {
			first = p.ID
		}
	}

	if first == 0 {
		return nil
	}
	if _, ok, err := r.store.Active(ctx); err != nil || ok {
		return err
	}
	if _, err := r.Activate(ctx, first); err != nil {
		r.logger.Warn("could not activate seeded connection", "id", first, "error", err)
	}
	return nil
}

// Close retires the active session and waits for every retired pool to
// close.
func (r *Registry) Close() error {
	r.mu.Lock()
	s := r.current.Swap(nil)
	r.mu.Unlock()
	if s != nil {
		r.draining.Add(1)
		go r.retire(s)
	}
	r.draining.Wait()
	return r.store.Close()
}
