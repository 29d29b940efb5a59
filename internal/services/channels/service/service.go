// Package service runs the per-channel feed state: membership sets, caches,
// thread assemblers and the transport round trips between them
package service

import (
	"context"
	stderrs "errors"
	"slices"
	"strings"
	"sync"
	"time"

	"feedthreads/internal/adapters/feedcache"
	"feedthreads/internal/core/atom"
	"feedthreads/internal/core/thread"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
	pstrings "feedthreads/internal/platform/strings"
	ptime "feedthreads/internal/platform/time"
	"feedthreads/internal/services/channels/domain"
)

// CatchUpMargin is how far before the oldest cache mtime a history replay
// starts
const CatchUpMargin = time.Hour

// Service is the public service port
type Service interface {
	domain.ServicePort
	domain.Sink
}

// Options configure the Manager
type Options struct {
	// Transport is required
	Transport domain.Transport

	// Caches may be nil; channels then run uncached
	Caches *feedcache.Opener

	Thread thread.Config
	Logger *logger.Logger
}

// Manager owns every channel. Channels are independent: each has its own
// lock and operations on one never wait on another.
type Manager struct {
	tr     domain.Transport
	caches *feedcache.Opener
	thread thread.Config
	log    *logger.Logger

	mu       sync.Mutex
	channels map[string]*channel
	closed   bool
}

var _ Service = (*Manager)(nil)

// New constructs the Manager
func New(opt Options) *Manager {
	if opt.Transport == nil {
		panic("channels.Manager requires a non nil Transport")
	}
	log := opt.Logger
	if log == nil {
		log = logger.Named("channels")
	}
	return &Manager{
		tr:       opt.Transport,
		caches:   opt.Caches,
		thread:   opt.Thread,
		log:      log,
		channels: make(map[string]*channel),
	}
}

func validName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if _, _, ok := pstrings.SplitAddress(name); !ok {
		return "", perr.WithField(perr.InvalidArgf("channel %q must look like user@domain", name), "channel")
	}
	return name, nil
}

// get returns the channel, creating it (and opening its cache) when create
// is set
func (m *Manager) get(ctx context.Context, name string, create bool) (*channel, error) {
	name, err := validName(name)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return nil, perr.Closedf("channel manager closed")
	}
	if ch, ok := m.channels[name]; ok {
		return ch, nil
	}
	if !create {
		return nil, perr.WithField(perr.NotFoundf("unknown channel %q", name), "channel")
	}
	l := m.log.With().Str("channel", name).Logger()
	ch := newChannel(name, &l)
	m.openCache(ctx, ch)
	m.channels[name] = ch
	return ch, nil
}

// openCache attaches a cache; failures leave the channel running uncached
func (m *Manager) openCache(ctx context.Context, ch *channel) {
	if m.caches == nil || !m.caches.Enabled() {
		return
	}
	c, err := m.caches.Open(ctx, ch.name, feedcache.WithLogger(ch.log))
	if err != nil {
		ch.cacheErr = err
		ch.log.Warn().Err(err).Msg("channels: cache unavailable, continuing without it")
		return
	}
	ch.attach(c)
}

func (m *Manager) threadConfig(ch *channel) thread.Config {
	cfg := m.thread
	cfg.Logger = ch.log
	return cfg
}

// requestPage sends req outside any channel lock. A failed send clears the
// outstanding flag so the next read can retry.
func (m *Manager) requestPage(ctx context.Context, ch *channel, req *domain.PageRequest) {
	if req == nil {
		return
	}
	err := m.tr.RequestMoreItems(ctx, *req)
	if err == nil {
		return
	}
	ch.log.Warn().Err(err).Str("after", req.AfterID).Msg("channels: page request failed")
	ch.mu.Lock()
	if ch.asm != nil && ch.gen == req.Generation {
		ch.asm.PageDone()
	}
	ch.mu.Unlock()
}

//
// Sink
//

// OnItemsPosted merges live items. Items posted to an inactive channel
// count as unread. Invalid items are skipped and reported together.
func (m *Manager) OnItemsPosted(ctx context.Context, name string, recs []atom.Record) error {
	_, errs, err := m.post(ctx, name, recs)
	if err != nil {
		return err
	}
	return stderrs.Join(errs...)
}

func (m *Manager) post(ctx context.Context, name string, recs []atom.Record) (int, []error, error) {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return 0, nil, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()

	var (
		accepted int
		errs     []error
	)
	for _, rec := range recs {
		changed, err := ch.apply(rec)
		if err != nil {
			ch.log.Warn().Err(err).Str("id", rec.ID).Msg("channels: rejected item")
			errs = append(errs, perr.WithOp(err, rec.ID))
			continue
		}
		if !changed {
			continue
		}
		accepted++
		if ch.asm == nil {
			ch.unread[rec.ID] = struct{}{}
		}
	}
	return accepted, errs, nil
}

// OnItemsRetracted drops ids from the set and cache and tombstones their
// rows in an active view
func (m *Manager) OnItemsRetracted(ctx context.Context, name string, ids []string) error {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	for _, id := range ids {
		ch.retract(id)
	}
	return nil
}

// OnStatusChanged takes the status text from rec's content
func (m *Manager) OnStatusChanged(ctx context.Context, name string, rec atom.Record) error {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.setStatus(atom.NormalizeText(rec.Content))
	return nil
}

// OnConfigChanged merges the known config keys
func (m *Manager) OnConfigChanged(ctx context.Context, name string, cfg map[string]string) error {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.mergeConfig(cfg)
	return nil
}

// OnPageResult merges a pagination result. Results for an inactive channel
// or an older activation are dropped.
func (m *Manager) OnPageResult(ctx context.Context, name string, generation uint64, recs []atom.Record) error {
	_, errs, err := m.pageResult(ctx, name, generation, recs)
	if err != nil {
		return err
	}
	return stderrs.Join(errs...)
}

func (m *Manager) pageResult(ctx context.Context, name string, generation uint64, recs []atom.Record) (int, []error, error) {
	ch, err := m.get(ctx, name, false)
	if perr.IsCode(err, perr.ErrorCodeNotFound) {
		return 0, nil, nil
	}
	if err != nil {
		return 0, nil, err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.asm == nil || generation != ch.gen {
		ch.log.Debug().Uint64("generation", generation).Uint64("current", ch.gen).Msg("channels: stale page dropped")
		return 0, nil, nil
	}

	var (
		accepted int
		errs     []error
	)
	for _, rec := range recs {
		changed, err := ch.apply(rec)
		if err != nil {
			errs = append(errs, perr.WithOp(err, rec.ID))
			continue
		}
		if changed {
			accepted++
		}
	}
	if accepted == 0 {
		// nothing new came back; let the next read ask again
		ch.asm.PageDone()
	}
	return accepted, errs, nil
}

//
// Display
//

// Activate builds the thread view from everything known about the channel,
// cached items first, and requests the first page when that is empty
func (m *Manager) Activate(ctx context.Context, name string) (domain.RowsPage, error) {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return domain.RowsPage{}, err
	}
	ch.mu.Lock()
	if ch.asm == nil {
		ch.activate(m.threadConfig(ch))
		if ch.asm.NeedsInitialPage() {
			ch.log.Debug().Msg("channels: nothing cached, requesting first page")
		}
	}
	page, req := ch.page(0)
	ch.mu.Unlock()

	m.requestPage(ctx, ch, req)
	return page, nil
}

// Deactivate discards the thread view; in-flight pages are ignored
func (m *Manager) Deactivate(ctx context.Context, name string) error {
	ch, err := m.get(ctx, name, false)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	ch.deactivate()
	return nil
}

// Rows returns the flattened view with pos as the reader's position
func (m *Manager) Rows(ctx context.Context, name string, pos int) (domain.RowsPage, error) {
	if pos < 0 {
		return domain.RowsPage{}, perr.WithField(perr.InvalidArgf("pos must not be negative"), "pos")
	}
	ch, err := m.get(ctx, name, false)
	if err != nil {
		return domain.RowsPage{}, err
	}
	ch.mu.Lock()
	if ch.asm == nil {
		ch.mu.Unlock()
		return domain.RowsPage{}, perr.Conflictf("channel %q is not active", ch.name)
	}
	page, req := ch.page(pos)
	ch.mu.Unlock()

	m.requestPage(ctx, ch, req)
	return page, nil
}

// Compose opens a compose slot in an active channel
func (m *Manager) Compose(ctx context.Context, name string, in domain.ComposeInput) error {
	return m.withActive(ctx, name, func(ch *channel) error {
		if in.ThreadID == "" {
			ch.asm.ComposeNewPost()
			return nil
		}
		return ch.asm.ComposeReply(in.ThreadID)
	})
}

// CancelCompose closes the compose slot
func (m *Manager) CancelCompose(ctx context.Context, name string) error {
	return m.withActive(ctx, name, func(ch *channel) error {
		ch.asm.CancelCompose()
		return nil
	})
}

func (m *Manager) withActive(ctx context.Context, name string, fn func(*channel) error) error {
	ch, err := m.get(ctx, name, false)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	defer ch.mu.Unlock()
	if ch.asm == nil {
		return perr.Conflictf("channel %q is not active", ch.name)
	}
	return fn(ch)
}

//
// Commands
//

// Publish sends a post or reply and returns the server-assigned id. The
// item itself arrives later as a posted event.
func (m *Manager) Publish(ctx context.Context, name string, in domain.PublishInput) (domain.PublishOutput, error) {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return domain.PublishOutput{}, err
	}
	id, err := m.tr.PublishItem(ctx, ch.name, in)
	if err != nil {
		return domain.PublishOutput{}, asTransport(err, "publish to %s", ch.name)
	}
	ch.mu.Lock()
	if ch.asm != nil {
		ch.asm.CancelCompose()
	}
	ch.mu.Unlock()
	return domain.PublishOutput{ID: id}, nil
}

// Retract asks the server to retract id
func (m *Manager) Retract(ctx context.Context, name, id string) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	if strings.TrimSpace(id) == "" {
		return perr.WithField(perr.InvalidArgf("id is required"), "id")
	}
	return asTransport(m.tr.RetractItem(ctx, name, id), "retract %s from %s", id, name)
}

// SetStatus asks the server to change the channel status
func (m *Manager) SetStatus(ctx context.Context, name string, in domain.StatusInput) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	return asTransport(m.tr.SetStatus(ctx, name, in.Status), "set status of %s", name)
}

// UpdateConfig asks the server to change the channel config
func (m *Manager) UpdateConfig(ctx context.Context, name string, in domain.ConfigInput) error {
	name, err := validName(name)
	if err != nil {
		return err
	}
	return asTransport(m.tr.UpdateConfig(ctx, name, in.Config), "update config of %s", name)
}

func asTransport(err error, format string, a ...any) error {
	if err == nil {
		return nil
	}
	if _, ok := perr.As(err); ok {
		return err
	}
	return perr.Transportf(err, format, a...)
}

// Reset destroys the channel's cache and rebuilds its state from scratch.
// An active view restarts and requests its first page again.
func (m *Manager) Reset(ctx context.Context, name string) error {
	ch, err := m.get(ctx, name, true)
	if err != nil {
		return err
	}
	ch.mu.Lock()
	if ch.cache != nil {
		if err := ch.cache.Delete(ctx); err != nil {
			ch.log.Warn().Err(err).Msg("channels: cache delete failed")
		}
	}
	fresh := newChannel(ch.name, ch.log)
	ch.set, ch.cache, ch.cacheErr = fresh.set, nil, nil
	ch.unread, ch.status, ch.config, ch.lastUpdate = fresh.unread, "", fresh.config, ptime.Never
	m.openCache(ctx, ch)

	var req *domain.PageRequest
	if ch.asm != nil {
		ch.activate(m.threadConfig(ch))
		_, req = ch.page(0)
	}
	ch.mu.Unlock()

	m.requestPage(ctx, ch, req)
	return nil
}

//
// Overview
//

// Channels summarizes every channel, most recently updated first
func (m *Manager) Channels(context.Context) []domain.ChannelSummary {
	out := make([]domain.ChannelSummary, 0)
	for _, ch := range m.snapshot() {
		ch.mu.Lock()
		out = append(out, ch.summary())
		ch.mu.Unlock()
	}
	slices.SortFunc(out, func(a, b domain.ChannelSummary) int {
		if c := b.LastUpdate.Compare(a.LastUpdate); c != 0 {
			return c
		}
		return strings.Compare(a.Channel, b.Channel)
	})
	return out
}

// CatchUpSince is the oldest cache mtime across channels minus
// CatchUpMargin; zero when no channel has cached state
func (m *Manager) CatchUpSince(context.Context) domain.CatchUp {
	var oldest time.Time
	for _, ch := range m.snapshot() {
		ch.mu.Lock()
		if ch.cache != nil {
			mt := ch.cache.MTime()
			if !ptime.IsNever(mt) && (oldest.IsZero() || mt.Before(oldest)) {
				oldest = mt
			}
		}
		ch.mu.Unlock()
	}
	if oldest.IsZero() {
		return domain.CatchUp{}
	}
	return domain.CatchUp{Since: oldest.Add(-CatchUpMargin)}
}

func (m *Manager) snapshot() []*channel {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]*channel, 0, len(m.channels))
	for _, ch := range m.channels {
		out = append(out, ch)
	}
	return out
}

// Close deactivates every channel and flushes its cache. Later calls fail
// with ChannelClosed.
func (m *Manager) Close(ctx context.Context) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, ch := range m.snapshot() {
		ch.mu.Lock()
		ch.deactivate()
		if ch.cache != nil {
			if err := ch.cache.Close(ctx); err != nil {
				errs = append(errs, err)
			}
		}
		ch.mu.Unlock()
	}
	return stderrs.Join(errs...)
}
