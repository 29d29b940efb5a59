package service

import (
	"maps"
	"strings"
	"sync"
	"time"

	"feedthreads/internal/adapters/feedcache"
	"feedthreads/internal/core/atom"
	"feedthreads/internal/core/atomset"
	"feedthreads/internal/core/thread"
	"feedthreads/internal/platform/logger"
	ptime "feedthreads/internal/platform/time"
	"feedthreads/internal/services/channels/domain"
)

// channel is one feed's state. Lock order is channel, then cache; the
// cache flush timer only ever takes the cache lock.
type channel struct {
	mu   sync.Mutex
	name string
	log  *logger.Logger

	set      *atomset.Set
	cache    *feedcache.Cache
	cacheErr error

	// asm is nil while the channel is inactive
	asm *thread.Assembler
	gen uint64

	unread     map[string]struct{}
	status     string
	config     map[string]string
	lastUpdate time.Time
}

func newChannel(name string, log *logger.Logger) *channel {
	return &channel{
		name:       name,
		log:        log,
		set:        atomset.New(),
		unread:     make(map[string]struct{}),
		config:     map[string]string{},
		lastUpdate: ptime.Never,
	}
}

// attach seeds the channel from c
func (ch *channel) attach(c *feedcache.Cache) {
	ch.cache = c
	ch.cacheErr = nil
	for _, rec := range c.Items() {
		if _, _, err := ch.set.Insert(rec); err != nil {
			ch.log.Warn().Err(err).Str("id", rec.ID).Msg("channels: skipping cached item")
		}
	}
	ch.status = c.Status()
	ch.config = c.Config()
	ch.lastUpdate = c.LastUpdate()
}

// apply merges one record into every layer; false when nothing changed
func (ch *channel) apply(rec atom.Record) (bool, error) {
	_, changed, err := ch.set.Insert(rec)
	if err != nil || !changed {
		return false, err
	}
	if ch.cache != nil {
		ch.cache.AddItem(rec)
	}
	if ch.asm != nil {
		if err := ch.asm.Add(rec); err != nil {
			return true, err
		}
	}
	ch.refreshLastUpdate()
	return true, nil
}

func (ch *channel) retract(id string) bool {
	removed := ch.set.Remove(id)
	if ch.cache != nil {
		ch.cache.DelItem(id)
	}
	if ch.asm != nil {
		ch.asm.Retract(id)
	}
	delete(ch.unread, id)
	ch.refreshLastUpdate()
	return removed
}

// refreshLastUpdate prefers the cache's view; uncached channels use the
// newest record in the set
func (ch *channel) refreshLastUpdate() {
	if ch.cache != nil {
		ch.lastUpdate = ch.cache.LastUpdate()
		return
	}
	cur := ch.set.Iterate()
	defer cur.Close()
	if rec, ok := cur.Next(); ok {
		ch.lastUpdate = rec.CacheStamp()
		return
	}
	ch.lastUpdate = ptime.Never
}

func (ch *channel) setStatus(s string) {
	ch.status = s
	if ch.cache != nil {
		ch.cache.SetStatus(s)
	}
}

// mergeConfig keeps the known keys of cfg, trimmed, over the current config
func (ch *channel) mergeConfig(cfg map[string]string) {
	next := make(map[string]string, len(domain.ConfigKeys))
	for k, v := range ch.config {
		next[k] = v
	}
	for _, k := range domain.ConfigKeys {
		if v, ok := cfg[k]; ok {
			next[k] = strings.TrimSpace(v)
		}
	}
	ch.config = next
	if ch.cache != nil {
		ch.cache.SetConfig(next)
	}
}

func (ch *channel) activate(cfg thread.Config) {
	ch.gen++
	ch.asm = thread.New(cfg)
	snap := ch.set.Snapshot()
	for i := len(snap) - 1; i >= 0; i-- {
		if err := ch.asm.Add(snap[i]); err != nil {
			ch.log.Warn().Err(err).Str("id", snap[i].ID).Msg("channels: replay skipped item")
		}
	}
	clear(ch.unread)
}

func (ch *channel) deactivate() {
	ch.gen++
	ch.asm = nil
}

func (ch *channel) title() string {
	if t := strings.TrimSpace(ch.config["title"]); t != "" {
		return t
	}
	return ch.name
}

func (ch *channel) summary() domain.ChannelSummary {
	s := domain.ChannelSummary{
		Channel:    ch.name,
		Title:      ch.title(),
		Active:     ch.asm != nil,
		Unread:     len(ch.unread),
		Status:     ch.status,
		Config:     maps.Clone(ch.config),
		Items:      ch.set.Len(),
		LastUpdate: ch.lastUpdate,
		MTime:      ptime.Never,
		Cached:     ch.cache != nil,
	}
	if ch.cache != nil {
		s.MTime = ch.cache.MTime()
	}
	if ch.cacheErr != nil {
		s.CacheError = ch.cacheErr.Error()
	}
	return s
}

func rowsOf(rows []thread.Row) []domain.Row {
	out := make([]domain.Row, len(rows))
	for i, r := range rows {
		out[i] = domain.Row{Kind: r.Kind.String(), ThreadID: r.ThreadID}
		if r.Kind == thread.RowRoot || r.Kind == thread.RowReply {
			w := r.Record.ToWire()
			out[i].Item = &w
			out[i].Author = r.Record.DisplayAuthor()
		}
	}
	return out
}

// page renders the view at pos and asks for older items when pos is near
// the end
func (ch *channel) page(pos int) (domain.RowsPage, *domain.PageRequest) {
	var req *domain.PageRequest
	if pr, ok := ch.asm.RequestPaginationIfNeeded(pos); ok {
		req = &domain.PageRequest{Channel: ch.name, AfterID: pr.AfterID, Max: pr.Max, Generation: ch.gen}
	}
	n, total := ch.asm.ThreadIndexOf(pos)
	return domain.RowsPage{
		Channel:       ch.name,
		State:         ch.asm.State().String(),
		Pos:           pos,
		Thread:        n,
		Threads:       total,
		PageRequested: ch.asm.Pending(),
		Rows:          rowsOf(ch.asm.Rows()),
	}, req
}
