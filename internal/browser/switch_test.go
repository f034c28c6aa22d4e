package browser

import (
	"context"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/JonMunkholm/tablebrowser/internal/registry"
	"github.com/JonMunkholm/tablebrowser/internal/rows"
	"github.com/JonMunkholm/tablebrowser/internal/schema"
	"github.com/JonMunkholm/tablebrowser/internal/testutil"
)

// A request still holding the old session can cache metadata after the
// switch purged it. Switching back must not serve that entry.
func TestService_SwitchBackPurgesIncomingConnection(t *testing.T) {
	dsn := testutil.StartPostgres(t, `CREATE TABLE notes (id SERIAL PRIMARY KEY, body TEXT)`)
	logger := testutil.NewTestLogger(t)
	ctx := context.Background()

	store, err := registry.OpenStore(ctx, ":memory:", nil)
	require.NoError(t, err)
	reg := registry.New(store, registry.Options{QueryTimeout: 10 * time.Second, DrainTimeout: time.Minute, Logger: logger})
	t.Cleanup(func() { _ = reg.Close() })

	svc := New(reg,
		schema.NewCatalog(nil, time.Minute, logger),
		rows.NewAccessor(time.Minute, 0, logger),
		Options{Logger: logger},
	)

	a, err := svc.CreateConnection(ctx, "a", DSNInput{DSN: dsn}, false)
	require.NoError(t, err)
	b, err := svc.CreateConnection(ctx, "b", DSNInput{DSN: dsn}, false)
	require.NoError(t, err)
	_, err = svc.ActivateConnection(ctx, a.ID)
	require.NoError(t, err)

	held, err := reg.Session(ctx)
	require.NoError(t, err)
	_, err = svc.ActivateConnection(ctx, b.ID)
	require.NoError(t, err)

	ref := schema.TableRef{Schema: "public", Name: "notes"}
	_, err = svc.catalog.TableMeta(ctx, held, ref)
	require.NoError(t, err)
	held.Release()

	pool, err := pgxpool.New(ctx, dsn)
	require.NoError(t, err)
	defer pool.Close()
	_, err = pool.Exec(ctx, `ALTER TABLE notes ADD COLUMN title TEXT`)
	require.NoError(t, err)

	_, err = svc.ActivateConnection(ctx, a.ID)
	require.NoError(t, err)
	meta, err := svc.TableMeta(ctx, ref)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "body", "title"}, meta.ColumnNames())
}
