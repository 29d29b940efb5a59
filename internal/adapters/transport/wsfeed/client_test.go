package wsfeed

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"feedthreads/internal/core/atom"
	"feedthreads/internal/platform/config"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
	"feedthreads/internal/platform/testkit"
	"feedthreads/internal/services/channels/domain"

	"github.com/gorilla/websocket"
	"go.uber.org/goleak"
)

const alice = "alice@example.org"

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

// upstream is a scripted feed server
type upstream struct {
	srv *httptest.Server

	mu     sync.Mutex
	reqs   []request
	conn   *websocket.Conn
	hellos int
	acked  int
}

func newUpstream(t *testing.T) *upstream {
	t.Helper()
	u := &upstream{}
	up := websocket.Upgrader{}
	u.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ws, err := up.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer ws.Close()
		u.mu.Lock()
		u.conn = ws
		u.mu.Unlock()
		for {
			var req request
			if err := ws.ReadJSON(&req); err != nil {
				return
			}
			if ev, ok := u.answer(req); ok {
				if err := ws.WriteJSON(ev); err != nil {
					return
				}
			}
		}
	}))
	t.Cleanup(u.srv.Close)
	return u
}

func (u *upstream) url() string { return "ws" + strings.TrimPrefix(u.srv.URL, "http") }

func wire(id string, min int) atom.Wire {
	p := t0.Add(time.Duration(min) * time.Minute)
	return atom.Wire{ID: id, ObjectType: "post", Content: id, Published: &p}
}

func (u *upstream) answer(req request) (event, bool) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.reqs = append(u.reqs, req)
	switch req.Op {
	case opHello:
		u.hellos++
		return event{Type: domain.EventPosted, Channel: alice, Items: []atom.Wire{wire("live", 10), {ID: "junk", ObjectType: "poll"}}}, true
	case opPage:
		return event{Type: domain.EventPage, Channel: req.Channel, Generation: req.Generation, Items: []atom.Wire{wire("old", 1)}}, true
	case opPublish:
		switch req.Item.Content {
		case "silent":
			return event{}, false
		case "reject":
			return event{Type: eventAck, Ref: req.ID, Error: &wireError{Code: "forbidden", Message: "not yours"}}, true
		}
		u.acked++
		return event{Type: eventAck, Ref: req.ID, ResultID: "srv-" + req.Item.Content}, true
	}
	return event{}, false
}

func (u *upstream) kick() {
	u.mu.Lock()
	defer u.mu.Unlock()
	if u.conn != nil {
		_ = u.conn.Close()
	}
}

func (u *upstream) ops() []string {
	u.mu.Lock()
	defer u.mu.Unlock()
	out := make([]string, len(u.reqs))
	for i, r := range u.reqs {
		out[i] = r.Op
	}
	return out
}

func (u *upstream) helloSince() []*time.Time {
	u.mu.Lock()
	defer u.mu.Unlock()
	var out []*time.Time
	for _, r := range u.reqs {
		if r.Op == opHello {
			out = append(out, r.Since)
		}
	}
	return out
}

// sink records what the client delivers
type sink struct {
	mu      sync.Mutex
	posted  []string
	pages   map[uint64][]string
	status  []string
	retract []string
}

func (s *sink) OnItemsPosted(_ context.Context, _ string, recs []atom.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, r := range recs {
		s.posted = append(s.posted, r.ID)
	}
	return nil
}

func (s *sink) OnItemsRetracted(_ context.Context, _ string, ids []string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retract = append(s.retract, ids...)
	return nil
}

func (s *sink) OnStatusChanged(_ context.Context, _ string, rec atom.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = append(s.status, rec.Content)
	return nil
}

func (s *sink) OnConfigChanged(context.Context, string, map[string]string) error { return nil }

func (s *sink) OnPageResult(_ context.Context, _ string, gen uint64, recs []atom.Record) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.pages == nil {
		s.pages = map[uint64][]string{}
	}
	for _, r := range recs {
		s.pages[gen] = append(s.pages[gen], r.ID)
	}
	return nil
}

func (s *sink) postedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.posted)
}

func (s *sink) page(gen uint64) []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.pages[gen]
}

func testConfig(url string) Config {
	return Config{
		URL:          url,
		ReconnectMin: 10 * time.Millisecond,
		ReconnectMax: 50 * time.Millisecond,
		AckTimeout:   time.Second,
		RatePerSec:   1000,
		Burst:        100,
	}
}

func start(t *testing.T, c *Client, s domain.Sink) func() {
	t.Helper()
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- c.Run(ctx, s) }()
	testkit.Eventually(t, 2*time.Second, 5*time.Millisecond, c.Connected, "client connects")
	return func() {
		cancel()
		if err := <-done; err != nil {
			t.Errorf("Run = %v", err)
		}
	}
}

func TestDeliversEventsAndCommands(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	u := newUpstream(t)
	nop := logger.Nop()
	c := New(testConfig(u.url()), WithLogger(&nop))
	s := &sink{}
	stop := start(t, c, s)
	defer stop()

	testkit.Eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.postedCount() == 1 }, "hello replay delivered")
	if err := c.Ping(context.Background()); err != nil {
		t.Fatalf("Ping = %v", err)
	}

	if err := c.RequestMoreItems(context.Background(), domain.PageRequest{Channel: alice, AfterID: "live", Max: 20, Generation: 7}); err != nil {
		t.Fatalf("RequestMoreItems = %v", err)
	}
	testkit.Eventually(t, time.Second, 5*time.Millisecond, func() bool { return len(s.page(7)) == 1 }, "page result with generation")

	id, err := c.PublishItem(context.Background(), alice, domain.PublishInput{Content: "hi"})
	if err != nil || id != "srv-hi" {
		t.Fatalf("PublishItem = %q, %v", id, err)
	}
	_, err = c.PublishItem(context.Background(), alice, domain.PublishInput{Content: "reject"})
	if !perr.IsCode(err, perr.ErrorCodeTransport) {
		t.Fatalf("rejected publish = %v", err)
	}

	for _, fn := range []func() error{
		func() error { return c.RetractItem(context.Background(), alice, "live") },
		func() error { return c.SetStatus(context.Background(), alice, "away") },
		func() error { return c.UpdateConfig(context.Background(), alice, map[string]string{"title": "A"}) },
	} {
		if err := fn(); err != nil {
			t.Fatalf("command = %v", err)
		}
	}
	testkit.Eventually(t, time.Second, 5*time.Millisecond, func() bool { return len(u.ops()) == 7 }, "all frames written")
	got := strings.Join(u.ops(), ",")
	if got != "hello,page,publish,publish,retract,status,config" {
		t.Fatalf("ops = %s", got)
	}
}

func TestReconnectsWithCatchUp(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	u := newUpstream(t)
	since := t0.Add(-time.Hour)
	nop := logger.Nop()
	c := New(testConfig(u.url()), WithLogger(&nop), WithCatchUp(func(context.Context) time.Time { return since }))
	s := &sink{}
	stop := start(t, c, s)
	defer stop()

	testkit.Eventually(t, time.Second, 5*time.Millisecond, func() bool { return s.postedCount() == 1 }, "first session")
	u.kick()
	testkit.Eventually(t, 2*time.Second, 5*time.Millisecond, func() bool { return s.postedCount() == 2 }, "second session")

	hellos := u.helloSince()
	if len(hellos) != 2 {
		t.Fatalf("hellos = %d", len(hellos))
	}
	for _, h := range hellos {
		if h == nil || !h.Equal(since) {
			t.Fatalf("hello since = %v, want %v", h, since)
		}
	}
}

func TestPublishTimesOut(t *testing.T) {
	t.Cleanup(func() { goleak.VerifyNone(t) })
	u := newUpstream(t)
	cfg := testConfig(u.url())
	cfg.AckTimeout = 50 * time.Millisecond
	nop := logger.Nop()
	c := New(cfg, WithLogger(&nop))
	stop := start(t, c, &sink{})
	defer stop()

	_, err := c.PublishItem(context.Background(), alice, domain.PublishInput{Content: "silent"})
	if !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("silent publish = %v", err)
	}
	c.mu.Lock()
	n := len(c.waiting)
	c.mu.Unlock()
	if n != 0 {
		t.Fatalf("waiters left behind = %d", n)
	}
}

func TestDisconnectedClientRefuses(t *testing.T) {
	nop := logger.Nop()
	c := New(Config{URL: "ws://127.0.0.1:1/feed"}, WithLogger(&nop))

	if err := c.RequestMoreItems(context.Background(), domain.PageRequest{Channel: alice}); !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("RequestMoreItems = %v", err)
	}
	if _, err := c.PublishItem(context.Background(), alice, domain.PublishInput{Content: "x"}); !perr.IsCode(err, perr.ErrorCodeUnavailable) {
		t.Fatalf("PublishItem = %v", err)
	}
	if err := c.Ping(context.Background()); err == nil {
		t.Fatalf("Ping on a disconnected client should fail")
	}

	err := New(Config{}, WithLogger(&nop)).Run(context.Background(), &sink{})
	if !perr.IsCode(err, perr.ErrorCodeInvalidArgument) {
		t.Fatalf("Run without url = %v", err)
	}
}

func TestRunStopsWhileRedialing(t *testing.T) {
	defer goleak.VerifyNone(t)
	nop := logger.Nop()
	c := New(Config{URL: "ws://127.0.0.1:1/feed", ReconnectMin: 5 * time.Millisecond}, WithLogger(&nop))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	if err := c.Run(ctx, &sink{}); err != nil {
		t.Fatalf("Run = %v", err)
	}
}

func TestBackoff(t *testing.T) {
	testkit.Serial(t)
	testkit.Swap(t, &jitter, func(n int64) int64 { return n - 1 })

	b := backoff{min: 100 * time.Millisecond, max: 400 * time.Millisecond}
	var got []time.Duration
	for i := 0; i < 4; i++ {
		got = append(got, b.next())
	}
	want := []time.Duration{100 * time.Millisecond, 200 * time.Millisecond, 400 * time.Millisecond, 400 * time.Millisecond}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("waits = %v, want %v", got, want)
		}
	}
	b.reset()
	if d := b.next(); d != 100*time.Millisecond {
		t.Fatalf("after reset = %v", d)
	}
}

func TestConfigFromEnv(t *testing.T) {
	t.Setenv("FEED_WS_URL", "wss://feeds.example.org/ws")
	t.Setenv("FEED_WS_RATE", "9")
	t.Setenv("FEED_WS_READ_TIMEOUT", "1s")
	t.Setenv("FEED_WS_PING_PERIOD", "2s")

	cfg := ConfigFromEnv(config.New()).withDefaults()
	if cfg.URL != "wss://feeds.example.org/ws" || cfg.RatePerSec != 9 {
		t.Fatalf("cfg = %+v", cfg)
	}
	if cfg.ReadTimeout != 4*time.Second {
		t.Fatalf("read timeout = %v, want twice the ping period", cfg.ReadTimeout)
	}
}

func TestEventFrameShape(t *testing.T) {
	raw := `{"type":"status","channel":"alice@example.org","items":[{"id":"s","object_type":"status","content":"busy","published":"2024-03-01T12:00:00Z"}]}`
	var ev event
	if err := json.Unmarshal([]byte(raw), &ev); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	nop := logger.Nop()
	c := New(Config{}, WithLogger(&nop))
	s := &sink{}
	if err := c.dispatch(context.Background(), s, ev); err != nil {
		t.Fatalf("dispatch = %v", err)
	}
	if len(s.status) != 1 || s.status[0] != "busy" {
		t.Fatalf("status = %v", s.status)
	}
	ev.Items = nil
	if err := c.dispatch(context.Background(), s, ev); !perr.IsCode(err, perr.ErrorCodeMalformedRecord) {
		t.Fatalf("empty status = %v", err)
	}
}
