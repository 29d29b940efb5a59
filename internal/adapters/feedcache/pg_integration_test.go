//go:build integration_pg
// +build integration_pg

package feedcache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"feedthreads/internal/platform/store"

	"github.com/stretchr/testify/require"
	tc "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
)

func startPostgres(t *testing.T) string {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Minute)
	t.Cleanup(cancel)

	c, err := tc.GenericContainer(ctx, tc.GenericContainerRequest{
		ContainerRequest: tc.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "postgres",
			},
			WaitingFor: wait.ForAll(
				wait.ForListeningPort("5432/tcp"),
				wait.ForLog("database system is ready to accept connections"),
			).WithDeadline(2 * time.Minute),
		},
		Started: true,
	})
	require.NoError(t, err, "start postgres container")
	t.Cleanup(func() { _ = c.Terminate(context.Background()) })

	host, err := c.Host(ctx)
	require.NoError(t, err)
	port, err := c.MappedPort(ctx, "5432/tcp")
	require.NoError(t, err)
	return fmt.Sprintf("postgres://postgres:postgres@%s:%s/postgres?sslmode=disable", host, port.Port())
}

func TestPGBackend_Integration(t *testing.T) {
	dsn := startPostgres(t)
	ctx, cancel := context.WithTimeout(context.Background(), 90*time.Second)
	defer cancel()

	st, err := store.Open(ctx, store.Config{PG: store.PGConfig{
		Enabled: true, URL: dsn, MaxConns: 4, ConnectRetries: 20, PingTimeout: 3 * time.Second,
	}})
	require.NoError(t, err)
	defer st.Close()
	require.NoError(t, EnsureSchema(ctx, st.PG))

	o := NewOpener(Config{Kind: KindPG, Account: "me@example.org", MaxItems: 2, FlushMin: time.Hour, FlushMax: time.Hour}, st.PG)

	c, err := o.Open(ctx, "feed@example.org")
	require.NoError(t, err)
	require.True(t, c.AddItem(item("a", 1)))
	require.True(t, c.AddItem(item("b", 2)))
	require.True(t, c.AddItem(item("c", 3)))
	require.True(t, c.SetConfig(map[string]string{"title": "Feed"}))
	require.NoError(t, c.Close(ctx))

	var n int
	require.NoError(t, st.PG.QueryRow(ctx,
		`SELECT count(*) FROM feed_cache WHERE channel = $1 AND key LIKE 'item-%'`, "feed@example.org").Scan(&n))
	require.Equal(t, 2, n, "evicted item should be deleted")

	c2, err := o.Open(ctx, "feed@example.org")
	require.NoError(t, err)
	require.Equal(t, []string{"c", "b"}, c2.IDs())
	require.Equal(t, "Feed", c2.Config()["title"])

	// another channel under the same account is isolated
	other, err := o.Open(ctx, "other@example.org")
	require.NoError(t, err)
	require.Zero(t, other.Len())
	require.NoError(t, other.Close(ctx))

	require.NoError(t, c2.Delete(ctx))
	require.NoError(t, st.PG.QueryRow(ctx, `SELECT count(*) FROM feed_cache`).Scan(&n))
	require.Zero(t, n)
}
