// Package feedcache persists the newest items of a channel plus its config,
// status and modification time. Writes are batched: mutations mark keys
// dirty and a debounced timer flushes them in one backend transaction.
package feedcache

import (
	"context"
	"encoding/json"
	"maps"
	"slices"
	"sort"
	"strings"
	"sync"
	"time"

	"feedthreads/internal/core/atom"
	"feedthreads/internal/platform/debounce"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
	ptime "feedthreads/internal/platform/time"
)

// store layout
const (
	keyItems   = "items"
	keyConfig  = "config"
	keyStatus  = "status"
	keyMTime   = "mtime"
	itemPrefix = "item-"
)

func itemKey(id string) string { return itemPrefix + id }

var now = time.Now

type cached struct {
	stamp time.Time
	rec   atom.Record
}

type storedItem struct {
	Stamp  time.Time `json:"stamp"`
	Record atom.Wire `json:"record"`
}

// Option configures a Cache
type Option func(*Cache)

// WithLogger sets the cache logger
func WithLogger(l *logger.Logger) Option {
	return func(c *Cache) { c.log = l }
}

// Cache is one channel's bounded item cache. Every method is safe for
// concurrent use; the flush timer takes the same lock as callers.
type Cache struct {
	mu  sync.Mutex
	key Key
	cfg Config
	be  Backend
	log *logger.Logger

	ids     []string // newest-first by cache stamp
	entries map[string]cached
	config  map[string]string
	status  string
	mtime   time.Time

	dirty   map[string]struct{}
	deleted map[string]struct{}
	timer   *debounce.Timer
	closed  bool
}

// Open loads be into a Cache. An unreadable store fails with CacheIO;
// individual undecodable items are dropped and logged.
func Open(ctx context.Context, be Backend, key Key, cfg Config, opts ...Option) (*Cache, error) {
	if cfg.MaxItems <= 0 {
		cfg.MaxItems = DefaultMaxItems
	}
	nop := logger.Nop()
	c := &Cache{
		key:     key,
		cfg:     cfg,
		be:      be,
		log:     &nop,
		entries: make(map[string]cached),
		config:  map[string]string{},
		dirty:   make(map[string]struct{}),
		deleted: make(map[string]struct{}),
	}
	for _, o := range opts {
		o(c)
	}

	data, err := be.Load(ctx)
	if err != nil {
		if _, ok := perr.As(err); !ok {
			err = perr.CacheIO(err, "load cache %s", key)
		}
		return nil, err
	}
	if err := c.decode(data); err != nil {
		return nil, err
	}

	c.timer = debounce.New(cfg.FlushMin, cfg.FlushMax, c.flushAsync)
	if len(c.dirty)+len(c.deleted) > 0 {
		c.timer.Trigger()
	}
	return c, nil
}

func (c *Cache) decode(data map[string][]byte) error {
	if raw, ok := data[keyItems]; ok {
		if err := json.Unmarshal(raw, &c.ids); err != nil {
			return perr.CacheIO(err, "cache %s: corrupt %s list", c.key, keyItems)
		}
	}
	if raw, ok := data[keyConfig]; ok {
		if err := json.Unmarshal(raw, &c.config); err != nil {
			return perr.CacheIO(err, "cache %s: corrupt %s", c.key, keyConfig)
		}
	}
	c.status = string(data[keyStatus])
	if raw, ok := data[keyMTime]; ok {
		if err := c.mtime.UnmarshalText(raw); err != nil {
			return perr.CacheIO(err, "cache %s: corrupt %s", c.key, keyMTime)
		}
	}

	kept := c.ids[:0]
	for _, id := range c.ids {
		if _, dup := c.entries[id]; dup {
			continue
		}
		var si storedItem
		raw, ok := data[itemKey(id)]
		if !ok {
			c.log.Warn().Str("cache", c.key.String()).Str("id", id).Msg("feedcache: listed item missing")
			c.markPut(keyItems)
			continue
		}
		if err := json.Unmarshal(raw, &si); err != nil {
			c.log.Warn().Err(err).Str("cache", c.key.String()).Str("id", id).Msg("feedcache: dropping undecodable item")
			c.markDel(itemKey(id))
			c.markPut(keyItems)
			continue
		}
		rec, err := atom.FromWire(si.Record)
		if err != nil {
			c.log.Warn().Err(err).Str("cache", c.key.String()).Str("id", id).Msg("feedcache: dropping invalid item")
			c.markDel(itemKey(id))
			c.markPut(keyItems)
			continue
		}
		c.entries[id] = cached{stamp: si.Stamp, rec: rec}
		kept = append(kept, id)
	}
	c.ids = kept

	// orphans left by an interrupted write
	for k := range data {
		if id, ok := strings.CutPrefix(k, itemPrefix); ok {
			if _, listed := c.entries[id]; !listed {
				c.markDel(k)
			}
		}
	}
	c.evict()
	return nil
}

// AddItem caches rec. It reports false when an identical entry is already
// cached, when the cache is full and rec is older than everything kept, or
// when the cache is closed. A changed entry for a cached id is always
// accepted.
func (c *Cache) AddItem(rec atom.Record) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}

	stamp := rec.CacheStamp()
	if old, ok := c.entries[rec.ID]; ok {
		if old.rec.SameContent(rec) {
			return false
		}
		c.unlist(rec.ID)
	} else if len(c.ids) >= c.cfg.MaxItems && stamp.Before(c.entries[c.ids[len(c.ids)-1]].stamp) {
		return false
	}

	c.entries[rec.ID] = cached{stamp: stamp, rec: rec}
	c.list(rec.ID, stamp)
	c.markPut(itemKey(rec.ID))
	c.markPut(keyItems)
	c.evict()
	c.touch()
	return true
}

// DelItem drops id; false when it was not cached
func (c *Cache) DelItem(id string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return false
	}
	if _, ok := c.entries[id]; !ok {
		return false
	}
	c.unlist(id)
	delete(c.entries, id)
	c.markDel(itemKey(id))
	c.markPut(keyItems)
	c.touch()
	return true
}

// Items returns the cached records newest-first
func (c *Cache) Items() []atom.Record {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]atom.Record, len(c.ids))
	for i, id := range c.ids {
		out[i] = c.entries[id].rec
	}
	return out
}

// IDs returns the cached ids newest-first
func (c *Cache) IDs() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return slices.Clone(c.ids)
}

// Len is the number of cached items
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.ids)
}

// Config returns a copy of the channel config
func (c *Cache) Config() map[string]string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return maps.Clone(c.config)
}

// SetConfig stores m; false when it equals the cached config
func (c *Cache) SetConfig(m map[string]string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || maps.Equal(c.config, m) {
		return false
	}
	c.config = maps.Clone(m)
	if c.config == nil {
		c.config = map[string]string{}
	}
	c.markPut(keyConfig)
	c.touch()
	return true
}

// Status returns the channel status text
func (c *Cache) Status() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.status
}

// SetStatus stores s; false when unchanged
func (c *Cache) SetStatus(s string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.status == s {
		return false
	}
	c.status = s
	c.markPut(keyStatus)
	c.touch()
	return true
}

// LastUpdate is the stamp of the newest cached item, or Never
func (c *Cache) LastUpdate() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.ids) == 0 {
		return ptime.Never
	}
	return c.entries[c.ids[0]].stamp
}

// MTime is when the cache was last mutated, or Never
func (c *Cache) MTime() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return ptime.OrNever(c.mtime)
}

// Key identifies the cache
func (c *Cache) Key() Key { return c.key }

// Dirty reports unflushed changes
func (c *Cache) Dirty() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.dirty)+len(c.deleted) > 0
}

// Flush writes pending changes now. On failure the changes stay pending.
func (c *Cache) Flush(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.timer.Cancel()
	return c.flushLocked(ctx)
}

func (c *Cache) flushAsync() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	if err := c.flushLocked(context.Background()); err != nil {
		c.log.Error().Err(err).Str("cache", c.key.String()).Msg("feedcache: deferred flush failed")
		// keep trying on the next mutation or Close
	}
}

func (c *Cache) flushLocked(ctx context.Context) error {
	if len(c.dirty)+len(c.deleted) == 0 {
		return nil
	}
	puts := make(map[string][]byte, len(c.dirty))
	for k := range c.dirty {
		v, err := c.encode(k)
		if err != nil {
			return err
		}
		puts[k] = v
	}
	dels := slices.Sorted(maps.Keys(c.deleted))

	if err := c.be.Apply(ctx, puts, dels); err != nil {
		if _, ok := perr.As(err); !ok {
			err = perr.CacheIO(err, "flush cache %s", c.key)
		}
		return err
	}
	c.log.Debug().Str("cache", c.key.String()).Int("puts", len(puts)).Int("dels", len(dels)).Msg("feedcache: flushed")
	clear(c.dirty)
	clear(c.deleted)
	return nil
}

func (c *Cache) encode(k string) ([]byte, error) {
	var (
		b   []byte
		err error
	)
	switch {
	case k == keyItems:
		b, err = json.Marshal(c.ids)
	case k == keyConfig:
		b, err = json.Marshal(c.config)
	case k == keyStatus:
		b = []byte(c.status)
	case k == keyMTime:
		b, err = c.mtime.MarshalText()
	case strings.HasPrefix(k, itemPrefix):
		e := c.entries[strings.TrimPrefix(k, itemPrefix)]
		b, err = json.Marshal(storedItem{Stamp: e.stamp, Record: e.rec.ToWire()})
	default:
		return nil, perr.Inconsistentf("cache %s: unknown dirty key %q", c.key, k)
	}
	if err != nil {
		return nil, perr.CacheIO(err, "encode %s", k)
	}
	return b, nil
}

// Close flushes synchronously and releases the backend. The pending timer
// is cancelled first.
func (c *Cache) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	c.timer.Stop()
	c.closed = true
	ferr := c.flushLocked(ctx)
	cerr := c.be.Close()
	if ferr != nil {
		return ferr
	}
	return cerr
}

// Delete drops every pending change and destroys the stored state
func (c *Cache) Delete(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.timer.Stop()
	wasClosed := c.closed
	c.closed = true
	clear(c.dirty)
	clear(c.deleted)
	if wasClosed {
		return perr.Closedf("cache %s already closed", c.key)
	}
	return c.be.Destroy(ctx)
}

// touch records a mutation and (re)arms the flush timer
func (c *Cache) touch() {
	c.mtime = now().UTC()
	c.markPut(keyMTime)
	c.timer.Trigger()
}

func (c *Cache) markPut(k string) {
	delete(c.deleted, k)
	c.dirty[k] = struct{}{}
}

func (c *Cache) markDel(k string) {
	delete(c.dirty, k)
	c.deleted[k] = struct{}{}
}

// list inserts id ahead of every entry with an equal or older stamp
func (c *Cache) list(id string, stamp time.Time) {
	pos := sort.Search(len(c.ids), func(i int) bool {
		return !c.entries[c.ids[i]].stamp.After(stamp)
	})
	c.ids = slices.Insert(c.ids, pos, id)
}

func (c *Cache) unlist(id string) {
	if i := slices.Index(c.ids, id); i >= 0 {
		c.ids = slices.Delete(c.ids, i, i+1)
	}
}

// evict drops the tail past MaxItems
func (c *Cache) evict() {
	for len(c.ids) > c.cfg.MaxItems {
		id := c.ids[len(c.ids)-1]
		c.ids = c.ids[:len(c.ids)-1]
		delete(c.entries, id)
		c.markDel(itemKey(id))
		c.markPut(keyItems)
		c.log.Debug().Str("cache", c.key.String()).Str("id", id).Msg("feedcache: evicted")
	}
}
