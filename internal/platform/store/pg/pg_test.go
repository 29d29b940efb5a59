package pg

import (
	"bytes"
	"context"
	"errors"
	"testing"

	kit "feedthreads/internal/platform/testkit"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

func TestOpen_ParseError(t *testing.T) {
	if _, err := Open(context.Background(), Config{URL: "://bad"}, nil, nil); err == nil {
		t.Fatalf("expected parse error")
	}
}

func TestOpen_AppliesConfig(t *testing.T) {
	kit.Serial(t)

	var seen *pgxpool.Config
	kit.Swap(t, &newPool, func(_ context.Context, c *pgxpool.Config) (*pgxpool.Pool, error) {
		seen = c
		return nil, errors.New("no database in unit tests")
	})

	_, err := Open(context.Background(), Config{URL: "postgres://u:p@h:5432/feeds", MaxConns: 3}, nil,
		func(c *pgxpool.Config) { c.MinConns = 1 })
	if err == nil {
		t.Fatalf("expected pool error")
	}
	if seen == nil || seen.MaxConns != 3 || seen.MinConns != 1 {
		t.Fatalf("pool config not applied: %+v", seen)
	}
}

func TestClose_NilSafe(t *testing.T) {
	var p *PG
	p.Close()
	(&PG{}).Close()
}

func TestTracer(t *testing.T) {
	var buf bytes.Buffer
	tr := Tracer(zerolog.New(&buf))
	tr.OnQuery(context.Background(), QueryEvent{SQL: "SELECT  key,\n\tvalue FROM feed_cache", ElapsedUS: 1500})
	tr.OnQuery(context.Background(), QueryEvent{SQL: "DELETE FROM feed_cache", Slow: true})

	out := buf.String()
	kit.MustContain(t, out, `"sql":"SELECT key, value FROM feed_cache"`)
	kit.MustContain(t, out, `"elapsed_ms":1.5`)
	kit.MustContain(t, out, `"level":"warn"`)
}
