// Package wsfeed talks to the upstream feed server over a websocket. Frames
// are JSON; writes are paced and a dropped connection is redialed with
// capped exponential backoff.
package wsfeed

import (
	"context"
	"encoding/json"
	stderrs "errors"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"feedthreads/internal/core/atom"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
	"feedthreads/internal/services/channels/domain"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

// Client is a domain.Transport over one websocket at a time
type Client struct {
	cfg     Config
	log     *logger.Logger
	dialer  *websocket.Dialer
	limiter *rate.Limiter
	catchUp func(context.Context) time.Time

	running atomic.Bool
	send    chan request

	mu        sync.Mutex
	connected bool
	waiting   map[string]chan ack
}

var _ domain.Transport = (*Client)(nil)

// Option configures a Client
type Option func(*Client)

// WithLogger sets the client logger
func WithLogger(l *logger.Logger) Option { return func(c *Client) { c.log = l } }

// WithCatchUp asks upstream on every connect to replay history since the
// time fn returns; a zero time skips the replay
func WithCatchUp(fn func(context.Context) time.Time) Option {
	return func(c *Client) { c.catchUp = fn }
}

// New builds a Client; nothing is dialed until Run
func New(cfg Config, opts ...Option) *Client {
	cfg = cfg.withDefaults()
	c := &Client{
		cfg: cfg,
		dialer: &websocket.Dialer{
			Proxy:            http.ProxyFromEnvironment,
			HandshakeTimeout: cfg.DialTimeout,
		},
		limiter: rate.NewLimiter(rate.Limit(cfg.RatePerSec), cfg.Burst),
		send:    make(chan request, cfg.SendBuffer),
		waiting: make(map[string]chan ack),
	}
	for _, o := range opts {
		o(c)
	}
	if c.log == nil {
		c.log = logger.Named("wsfeed")
	}
	return c
}

// Run keeps a connection up and delivers upstream events to sink until ctx
// is done. It returns nil on shutdown.
func (c *Client) Run(ctx context.Context, sink domain.Sink) error {
	if c.cfg.URL == "" {
		return perr.WithField(perr.InvalidArgf("wsfeed: no url configured"), "FEED_WS_URL")
	}
	if !c.running.CompareAndSwap(false, true) {
		return perr.Conflictf("wsfeed: already running")
	}
	defer c.running.Store(false)

	bo := backoff{min: c.cfg.ReconnectMin, max: c.cfg.ReconnectMax}
	for {
		up, err := c.session(ctx, sink)
		if ctx.Err() != nil {
			return nil
		}
		if up {
			bo.reset()
		}
		wait := bo.next()
		c.log.Warn().Err(err).Dur("retry_in", wait).Msg("wsfeed: disconnected")

		t := time.NewTimer(wait)
		select {
		case <-ctx.Done():
			t.Stop()
			return nil
		case <-t.C:
		}
	}
}

// session runs one connection; up reports whether the handshake completed
func (c *Client) session(ctx context.Context, sink domain.Sink) (up bool, err error) {
	var header http.Header
	if c.cfg.Token != "" {
		header = http.Header{"Authorization": {"Bearer " + c.cfg.Token}}
	}
	dctx, cancel := context.WithTimeout(ctx, c.cfg.DialTimeout)
	ws, _, err := c.dialer.DialContext(dctx, c.cfg.URL, header)
	cancel()
	if err != nil {
		return false, perr.Transportf(err, "dial %s", c.cfg.URL)
	}
	defer ws.Close()

	hello := request{ID: uuid.NewString(), Op: opHello}
	if c.catchUp != nil {
		if since := c.catchUp(ctx); !since.IsZero() {
			hello.Since = &since
		}
	}
	if err := c.write(ws, hello); err != nil {
		return false, err
	}
	_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	ws.SetPongHandler(func(string) error {
		return ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
	})

	c.setConnected(true)
	defer c.setConnected(false)
	c.log.Info().Str("url", c.cfg.URL).Msg("wsfeed: connected")

	sctx, stop := context.WithCancel(ctx)
	defer stop()
	done := make(chan struct{})
	go func() {
		defer close(done)
		defer ws.Close()
		defer stop()
		c.writeLoop(sctx, ws)
	}()

	err = c.readLoop(sctx, ws, sink)
	stop()
	<-done
	return true, err
}

func (c *Client) write(ws *websocket.Conn, req request) error {
	_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	if err := ws.WriteJSON(req); err != nil {
		return perr.Transportf(err, "write %s", req.Op)
	}
	return nil
}

// writeLoop is the only writer on ws
func (c *Client) writeLoop(ctx context.Context, ws *websocket.Conn) {
	ping := time.NewTicker(c.cfg.PingPeriod)
	defer ping.Stop()
	for {
		select {
		case <-ctx.Done():
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
			_ = ws.WriteControl(websocket.CloseMessage, msg, time.Now().Add(c.cfg.WriteTimeout))
			return
		case req := <-c.send:
			if err := c.limiter.Wait(ctx); err != nil {
				c.resolve(req.ID, ack{err: perr.Unavailablef("wsfeed: shutting down")})
				return
			}
			if err := c.write(ws, req); err != nil {
				c.log.Warn().Err(err).Str("op", req.Op).Msg("wsfeed: write failed")
				c.resolve(req.ID, ack{err: err})
				return
			}
		case <-ping.C:
			_ = ws.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			if err := ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) readLoop(ctx context.Context, ws *websocket.Conn, sink domain.Sink) error {
	for {
		kind, msg, err := ws.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return perr.Transportf(err, "read")
		}
		_ = ws.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout))
		if kind != websocket.TextMessage {
			continue
		}
		var ev event
		if err := json.Unmarshal(msg, &ev); err != nil {
			c.log.Warn().Err(err).Int("bytes", len(msg)).Msg("wsfeed: undecodable frame")
			continue
		}
		if err := c.dispatch(ctx, sink, ev); err != nil {
			c.log.Warn().Err(err).Str("type", ev.Type).Str("channel", ev.Channel).Msg("wsfeed: event not applied")
		}
	}
}

func (c *Client) dispatch(ctx context.Context, sink domain.Sink, ev event) error {
	switch ev.Type {
	case eventAck:
		a := ack{id: ev.ResultID}
		if ev.Error != nil {
			a.err = perr.Transportf(stderrs.New(ev.Error.Message), "upstream rejected request: %s", ev.Error.Code)
		}
		c.resolve(ev.Ref, a)
		return nil
	case domain.EventPosted:
		return sink.OnItemsPosted(ctx, ev.Channel, c.records(ev))
	case domain.EventPage:
		return sink.OnPageResult(ctx, ev.Channel, ev.Generation, c.records(ev))
	case domain.EventRetracted:
		return sink.OnItemsRetracted(ctx, ev.Channel, ev.IDs)
	case domain.EventStatus:
		if len(ev.Items) != 1 {
			return perr.Malformedf("status event carries %d items", len(ev.Items))
		}
		rec, err := atom.FromWire(ev.Items[0])
		if err != nil {
			return err
		}
		return sink.OnStatusChanged(ctx, ev.Channel, rec)
	case domain.EventConfig:
		return sink.OnConfigChanged(ctx, ev.Channel, ev.Config)
	default:
		c.log.Debug().Str("type", ev.Type).Msg("wsfeed: ignoring event")
		return nil
	}
}

// records converts ev's items, logging the ones that do not convert
func (c *Client) records(ev event) []atom.Record {
	recs, bad := atom.FromWireBatch(ev.Items)
	for _, r := range bad {
		c.log.Warn().Err(r.Err).Str("id", r.Degraded.ID).Str("channel", ev.Channel).Msg("wsfeed: dropping item")
	}
	return recs
}

// setConnected flips the state. Going down fails every waiter and drops
// frames still queued so none are sent on the next connection.
func (c *Client) setConnected(up bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.connected = up
	if up {
		return
	}
drain:
	for {
		select {
		case <-c.send:
		default:
			break drain
		}
	}
	for id, ch := range c.waiting {
		ch <- ack{err: perr.Unavailablef("wsfeed: connection lost")}
		delete(c.waiting, id)
	}
}

// enqueue queues req; a non-nil wait gets the matching ack
func (c *Client) enqueue(req request, wait chan ack) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.connected {
		return perr.Unavailablef("wsfeed: not connected")
	}
	select {
	case c.send <- req:
	default:
		return perr.New(perr.ErrorCodeTooManyRequests, "wsfeed: send buffer full")
	}
	if wait != nil {
		c.waiting[req.ID] = wait
	}
	return nil
}

func (c *Client) resolve(id string, a ack) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ch, ok := c.waiting[id]; ok {
		ch <- a
		delete(c.waiting, id)
	}
}

func (c *Client) forget(id string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.waiting, id)
}

// Connected reports whether a session is up
func (c *Client) Connected() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.connected
}

// Ping reports readiness for the meta module
func (c *Client) Ping(context.Context) error {
	if !c.Connected() {
		return perr.Unavailablef("wsfeed: not connected")
	}
	return nil
}

// RequestMoreItems queues a page request; the result arrives as a page event
func (c *Client) RequestMoreItems(_ context.Context, req domain.PageRequest) error {
	return c.enqueue(request{
		ID:         uuid.NewString(),
		Op:         opPage,
		Channel:    req.Channel,
		AfterID:    req.AfterID,
		Max:        req.Max,
		Generation: req.Generation,
	}, nil)
}

// PublishItem sends in and waits for upstream to acknowledge it with an id
func (c *Client) PublishItem(ctx context.Context, channel string, in domain.PublishInput) (string, error) {
	req := request{ID: uuid.NewString(), Op: opPublish, Channel: channel, Item: &in}
	wait := make(chan ack, 1)
	if err := c.enqueue(req, wait); err != nil {
		return "", err
	}
	t := time.NewTimer(c.cfg.AckTimeout)
	defer t.Stop()
	select {
	case a := <-wait:
		return a.id, a.err
	case <-t.C:
		c.forget(req.ID)
		return "", perr.Unavailablef("wsfeed: publish not acknowledged within %s", c.cfg.AckTimeout)
	case <-ctx.Done():
		c.forget(req.ID)
		return "", ctx.Err()
	}
}

// RetractItem queues a retraction
func (c *Client) RetractItem(_ context.Context, channel, id string) error {
	return c.enqueue(request{ID: uuid.NewString(), Op: opRetract, Channel: channel, ItemID: id}, nil)
}

// SetStatus queues a status change
func (c *Client) SetStatus(_ context.Context, channel, status string) error {
	return c.enqueue(request{ID: uuid.NewString(), Op: opStatus, Channel: channel, Status: &status}, nil)
}

// UpdateConfig queues a config change
func (c *Client) UpdateConfig(_ context.Context, channel string, cfg map[string]string) error {
	return c.enqueue(request{ID: uuid.NewString(), Op: opConfig, Channel: channel, Config: cfg}, nil)
}
