package feedcache

import (
	"context"

	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/store"
)

// Schema creates the table the Postgres backend writes to
const Schema = `CREATE TABLE IF NOT EXISTS feed_cache (
	account text  NOT NULL,
	channel text  NOT NULL,
	key     text  NOT NULL,
	value   bytea NOT NULL,
	PRIMARY KEY (account, channel, key)
)`

// EnsureSchema creates the feed_cache table if missing
func EnsureSchema(ctx context.Context, q store.RowQuerier) error {
	if _, err := q.Exec(ctx, Schema); err != nil {
		return perr.FromPostgres(err, "create feed_cache")
	}
	return nil
}

// PGBackend stores channels as rows of a shared feed_cache table
type PGBackend struct {
	db  store.TxRunner
	key Key
}

// NewPG returns a backend for one channel over db
func NewPG(db store.TxRunner, key Key) *PGBackend { return &PGBackend{db: db, key: key} }

// entry is one stored key/value row
type entry struct {
	key   string
	value []byte
}

func scanEntry(r store.Row) (entry, error) {
	var e entry
	err := r.Scan(&e.key, &e.value)
	return e, err
}

// Load implements Backend
func (p *PGBackend) Load(ctx context.Context) (map[string][]byte, error) {
	rows, err := store.Many(ctx, p.db, scanEntry,
		`SELECT key, value FROM feed_cache WHERE account = $1 AND channel = $2`,
		p.key.Account, p.key.Channel)
	if err != nil {
		return nil, p.wrap(err, "load")
	}
	out := make(map[string][]byte, len(rows))
	for _, e := range rows {
		out[e.key] = e.value
	}
	return out, nil
}

// Apply implements Backend in a single transaction
func (p *PGBackend) Apply(ctx context.Context, puts map[string][]byte, dels []string) error {
	err := p.db.Tx(ctx, func(q store.RowQuerier) error {
		if len(dels) > 0 {
			if _, err := q.Exec(ctx,
				`DELETE FROM feed_cache WHERE account = $1 AND channel = $2 AND key = ANY($3)`,
				p.key.Account, p.key.Channel, dels); err != nil {
				return err
			}
		}
		for k, v := range puts {
			if _, err := q.Exec(ctx,
				`INSERT INTO feed_cache (account, channel, key, value) VALUES ($1, $2, $3, $4)
				ON CONFLICT (account, channel, key) DO UPDATE SET value = EXCLUDED.value`,
				p.key.Account, p.key.Channel, k, v); err != nil {
				return err
			}
		}
		return nil
	})
	return p.wrap(err, "apply")
}

// Destroy implements Backend
func (p *PGBackend) Destroy(ctx context.Context) error {
	_, err := p.db.Exec(ctx, `DELETE FROM feed_cache WHERE account = $1 AND channel = $2`,
		p.key.Account, p.key.Channel)
	return p.wrap(err, "destroy")
}

// Close implements Backend; the pool belongs to the store
func (p *PGBackend) Close() error { return nil }

func (p *PGBackend) wrap(err error, op string) error {
	if err == nil {
		return nil
	}
	if perr.Retryable(err) {
		return perr.Wrapf(err, perr.ErrorCodeUnavailable, "feed_cache %s %s", op, p.key)
	}
	return perr.CacheIO(err, "feed_cache %s %s", op, p.key)
}
