// Package loopback is an in-process Transport: published items come straight
// back as posted events and pages are served from what was published. It
// stands in for the upstream server in local runs and tests.
package loopback

import (
	"context"
	"sync"
	"time"

	"feedthreads/internal/core/atom"
	"feedthreads/internal/core/atomset"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/services/channels/domain"

	"github.com/google/uuid"
)

var now = time.Now

// Transport echoes commands back to a Sink
type Transport struct {
	mu      sync.Mutex
	sink    domain.Sink
	history map[string]*atomset.Set
}

var _ domain.Transport = (*Transport)(nil)

// New returns an unbound Transport; commands fail until Run binds a sink
func New() *Transport {
	return &Transport{history: make(map[string]*atomset.Set)}
}

// Run binds sink and blocks until ctx is done
func (t *Transport) Run(ctx context.Context, sink domain.Sink) error {
	t.mu.Lock()
	t.sink = sink
	t.mu.Unlock()
	<-ctx.Done()
	t.mu.Lock()
	t.sink = nil
	t.mu.Unlock()
	return nil
}

// Ping reports whether a sink is bound
func (t *Transport) Ping(context.Context) error {
	if t.bound() == nil {
		return perr.Unavailablef("loopback: not running")
	}
	return nil
}

func (t *Transport) bound() domain.Sink {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.sink
}

func (t *Transport) setFor(channel string) *atomset.Set {
	t.mu.Lock()
	defer t.mu.Unlock()
	s, ok := t.history[channel]
	if !ok {
		s = atomset.New()
		t.history[channel] = s
	}
	return s
}

// RequestMoreItems answers from published history, newest first, strictly
// older than AfterID
func (t *Transport) RequestMoreItems(ctx context.Context, req domain.PageRequest) error {
	sink := t.bound()
	if sink == nil {
		return perr.Unavailablef("loopback: not running")
	}
	cur := t.setFor(req.Channel).Iterate()
	defer cur.Close()

	seen := req.AfterID == ""
	var page []atom.Record
	for rec, ok := cur.Next(); ok && len(page) < req.Max; rec, ok = cur.Next() {
		if !seen {
			seen = rec.ID == req.AfterID
			continue
		}
		page = append(page, rec)
	}
	return sink.OnPageResult(ctx, req.Channel, req.Generation, page)
}

// PublishItem stamps in with a fresh id and delivers it as posted
func (t *Transport) PublishItem(ctx context.Context, channel string, in domain.PublishInput) (string, error) {
	sink := t.bound()
	if sink == nil {
		return "", perr.Unavailablef("loopback: not running")
	}
	rec := atom.Record{
		ID:         uuid.NewString(),
		ObjectType: atom.Post,
		Author:     in.Author,
		Content:    in.Content,
		Published:  now().UTC(),
	}
	if in.InReplyTo != "" {
		rec.ObjectType = atom.Comment
		rec.InReplyTo = in.InReplyTo
	}
	if _, _, err := t.setFor(channel).Insert(rec); err != nil {
		return "", err
	}
	return rec.ID, sink.OnItemsPosted(ctx, channel, []atom.Record{rec})
}

// RetractItem forgets id and delivers the retraction
func (t *Transport) RetractItem(ctx context.Context, channel, id string) error {
	sink := t.bound()
	if sink == nil {
		return perr.Unavailablef("loopback: not running")
	}
	t.setFor(channel).Remove(id)
	return sink.OnItemsRetracted(ctx, channel, []string{id})
}

// SetStatus delivers a status record
func (t *Transport) SetStatus(ctx context.Context, channel, status string) error {
	sink := t.bound()
	if sink == nil {
		return perr.Unavailablef("loopback: not running")
	}
	rec := atom.Record{ID: uuid.NewString(), ObjectType: atom.Status, Content: status, Published: now().UTC()}
	return sink.OnStatusChanged(ctx, channel, rec)
}

// UpdateConfig delivers cfg unchanged
func (t *Transport) UpdateConfig(ctx context.Context, channel string, cfg map[string]string) error {
	sink := t.bound()
	if sink == nil {
		return perr.Unavailablef("loopback: not running")
	}
	return sink.OnConfigChanged(ctx, channel, cfg)
}
