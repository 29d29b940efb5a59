package feedcache

import (
	"context"
	"sync"
	"time"

	"feedthreads/internal/platform/config"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/store"
)

// Kind selects a Backend implementation
type Kind string

const (
	KindBolt   Kind = "bolt"
	KindPG     Kind = "pg"
	KindMemory Kind = "memory"
	// KindOff runs channels with no cache at all
	KindOff Kind = "off"
)

// Defaults
const (
	DefaultMaxItems = 200
	DefaultFlushMin = 3 * time.Second
	DefaultFlushMax = 8 * time.Second
)

// Config is passed to every cache at construction
type Config struct {
	Kind     Kind
	Dir      string
	Account  string
	MaxItems int
	FlushMin time.Duration
	FlushMax time.Duration
}

// DefaultConfig is an in-memory cache with the standard limits
func DefaultConfig() Config {
	return Config{
		Kind:     KindMemory,
		Account:  "local",
		MaxItems: DefaultMaxItems,
		FlushMin: DefaultFlushMin,
		FlushMax: DefaultFlushMax,
	}
}

// ConfigFromEnv reads FEED_ACCOUNT and FEED_CACHE_* under cfg
func ConfigFromEnv(cfg config.Conf) Config {
	feed := cfg.Prefix("FEED_")
	c := feed.Prefix("CACHE_")
	return Config{
		Kind:     Kind(c.MayEnum("BACKEND", string(KindBolt), string(KindBolt), string(KindPG), string(KindMemory), string(KindOff))),
		Dir:      c.MayPath("DIR", "~/.cache/feedthreads"),
		Account:  feed.MayString("ACCOUNT", "local"),
		MaxItems: c.MayPositiveInt("MAX_ITEMS", DefaultMaxItems),
		FlushMin: c.MayDuration("FLUSH_MIN", DefaultFlushMin),
		FlushMax: c.MayDuration("FLUSH_MAX", DefaultFlushMax),
	}
}

// Opener hands out backends and caches per channel for one Config
type Opener struct {
	cfg Config
	pg  store.TxRunner

	mu  sync.Mutex
	mem map[Key]*MemoryBackend
}

// NewOpener binds cfg; pg may be nil unless Kind is KindPG
func NewOpener(cfg Config, pg store.TxRunner) *Opener {
	return &Opener{cfg: cfg, pg: pg, mem: make(map[Key]*MemoryBackend)}
}

// Config returns the bound Config
func (o *Opener) Config() Config { return o.cfg }

// Enabled is false for KindOff
func (o *Opener) Enabled() bool { return o.cfg.Kind != KindOff }

// Key builds the cache key for channel under the configured account
func (o *Opener) Key(channel string) Key { return Key{Account: o.cfg.Account, Channel: channel} }

// Backend opens the backend for key. Memory backends outlive Close so a
// reactivated channel sees its earlier state.
func (o *Opener) Backend(ctx context.Context, key Key) (Backend, error) {
	switch o.cfg.Kind {
	case KindBolt:
		return OpenBolt(key.BoltPath(o.cfg.Dir))
	case KindPG:
		if o.pg == nil {
			return nil, perr.Unavailablef("cache backend pg selected but no postgres store is configured")
		}
		return NewPG(o.pg, key), nil
	case KindMemory:
		o.mu.Lock()
		defer o.mu.Unlock()
		if m, ok := o.mem[key]; ok {
			return m.Reopen(), nil
		}
		m := NewMemoryBackend()
		o.mem[key] = m
		return m, nil
	case KindOff:
		return nil, perr.Unavailablef("feed cache disabled")
	}
	return nil, perr.InvalidArgf("unknown cache backend %q", o.cfg.Kind)
}

// Open opens the backend for channel and loads it into a Cache
func (o *Opener) Open(ctx context.Context, channel string, opts ...Option) (*Cache, error) {
	key := o.Key(channel)
	be, err := o.Backend(ctx, key)
	if err != nil {
		return nil, err
	}
	c, err := Open(ctx, be, key, o.cfg, opts...)
	if err != nil {
		_ = be.Close()
		return nil, err
	}
	return c, nil
}
