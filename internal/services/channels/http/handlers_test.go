package http

import (
	"context"
	"encoding/json"
	"io"
	stdhttp "net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"

	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
	phttp "feedthreads/internal/platform/net/http"
	"feedthreads/internal/services/channels/domain"
	"feedthreads/internal/services/channels/service"

	"github.com/go-chi/chi/v5"
)

// stubTransport records calls and never fails unless told to
type stubTransport struct {
	mu        sync.Mutex
	pages     []domain.PageRequest
	published []domain.PublishInput
	retracted []string
	fail      error
}

func (s *stubTransport) RequestMoreItems(_ context.Context, req domain.PageRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pages = append(s.pages, req)
	return nil
}

func (s *stubTransport) PublishItem(_ context.Context, _ string, in domain.PublishInput) (string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail != nil {
		return "", s.fail
	}
	s.published = append(s.published, in)
	return "srv-1", nil
}

func (s *stubTransport) RetractItem(_ context.Context, _, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.retracted = append(s.retracted, id)
	return s.fail
}

func (s *stubTransport) SetStatus(context.Context, string, string) error { return s.err() }

func (s *stubTransport) UpdateConfig(context.Context, string, map[string]string) error {
	return s.err()
}

func (s *stubTransport) err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.fail
}

func (s *stubTransport) setFail(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.fail = err
}

func (s *stubTransport) snapshot() (pages []domain.PageRequest, published []domain.PublishInput, retracted []string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append(pages, s.pages...), append(published, s.published...), append(retracted, s.retracted...)
}

func newServer(t *testing.T) (*httptest.Server, *stubTransport) {
	t.Helper()
	tr := &stubTransport{}
	nop := logger.Nop()
	mgr := service.New(service.Options{Transport: tr, Logger: &nop})
	r := chi.NewRouter()
	phttp.AdaptChi(r).Route("/channels", func(rr phttp.Router) { Register(rr, mgr) })
	srv := httptest.NewServer(r)
	t.Cleanup(func() {
		srv.Close()
		_ = mgr.Close(context.Background())
	})
	return srv, tr
}

func do(t *testing.T, srv *httptest.Server, method, path, body string) (int, phttp.Envelope) {
	t.Helper()
	var rd io.Reader
	if body != "" {
		rd = strings.NewReader(body)
	}
	req, err := stdhttp.NewRequest(method, srv.URL+path, rd)
	if err != nil {
		t.Fatalf("request: %v", err)
	}
	res, err := srv.Client().Do(req)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer res.Body.Close()
	var env phttp.Envelope
	if res.StatusCode != stdhttp.StatusNoContent {
		if err := json.NewDecoder(res.Body).Decode(&env); err != nil {
			t.Fatalf("decode %s %s: %v", method, path, err)
		}
	}
	return res.StatusCode, env
}

// into re-decodes the envelope data into v
func into(t *testing.T, env phttp.Envelope, v any) {
	t.Helper()
	raw, err := json.Marshal(env.Data)
	if err != nil {
		t.Fatalf("marshal data: %v", err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		t.Fatalf("unmarshal data: %v", err)
	}
}

const base = "/channels/alice@example.org"

func TestEventsThenRows(t *testing.T) {
	srv, tr := newServer(t)

	code, env := do(t, srv, "POST", base+"/events", `{"type":"posted","items":[
		{"id":"p1","object_type":"post","content":"hello","published":"2024-03-01T12:00:00Z"},
		{"id":"c1","object_type":"comment","in_reply_to":"p1","content":"hi","published":"2024-03-01T12:01:00Z"},
		{"id":"bad","object_type":"poll","published":"2024-03-01T12:02:00Z"}
	]}`)
	if code != stdhttp.StatusOK {
		t.Fatalf("events status = %d %+v", code, env)
	}
	var ing domain.IngestOutput
	into(t, env, &ing)
	if ing.Accepted != 2 || len(ing.Rejected) != 1 || ing.Rejected[0].ID != "bad" {
		t.Fatalf("ingest = %+v", ing)
	}

	code, env = do(t, srv, "GET", "/channels", "")
	var list struct {
		Channels []domain.ChannelSummary `json:"channels"`
	}
	into(t, env, &list)
	if code != 200 || len(list.Channels) != 1 || list.Channels[0].Unread != 2 {
		t.Fatalf("list = %d %+v", code, list)
	}

	code, env = do(t, srv, "POST", base+"/activate", "")
	var page domain.RowsPage
	into(t, env, &page)
	if code != 200 || len(page.Rows) != 3 || page.Rows[0].Kind != "root" || page.Rows[1].Item.ID != "c1" {
		t.Fatalf("activate = %d %+v", code, page)
	}
	if pages, _, _ := tr.snapshot(); len(pages) != 1 || pages[0].AfterID != "p1" {
		t.Fatalf("page requests = %+v", pages)
	}

	code, env = do(t, srv, "GET", base+"/rows?pos=1", "")
	into(t, env, &page)
	if code != 200 || page.Pos != 1 || page.Thread != 1 || page.Threads != 1 {
		t.Fatalf("rows = %d %+v", code, page)
	}

	if code, _ = do(t, srv, "POST", base+"/deactivate", ""); code != stdhttp.StatusNoContent {
		t.Fatalf("deactivate = %d", code)
	}
	code, env = do(t, srv, "GET", base+"/rows", "")
	if code != stdhttp.StatusConflict || env.Code != perr.ErrorCodeConflict {
		t.Fatalf("rows inactive = %d %+v", code, env)
	}
}

func TestPublishComposeAndRetract(t *testing.T) {
	srv, tr := newServer(t)

	if code, env := do(t, srv, "POST", base+"/activate", ""); code != 200 {
		t.Fatalf("activate = %d %+v", code, env)
	}
	code, env := do(t, srv, "POST", base+"/compose", `{}`)
	var page domain.RowsPage
	into(t, env, &page)
	if code != 200 || len(page.Rows) != 1 || page.Rows[0].Kind != "compose" {
		t.Fatalf("compose = %d %+v", code, page)
	}
	if code, _ := do(t, srv, "DELETE", base+"/compose", ""); code != stdhttp.StatusNoContent {
		t.Fatalf("cancel compose = %d", code)
	}

	code, env = do(t, srv, "POST", base+"/items", `{"content":"hello world"}`)
	var out domain.PublishOutput
	into(t, env, &out)
	if _, published, _ := tr.snapshot(); code != 200 || out.ID != "srv-1" || len(published) != 1 {
		t.Fatalf("publish = %d %+v", code, out)
	}

	code, env = do(t, srv, "POST", base+"/items", `{"content":""}`)
	if code != stdhttp.StatusBadRequest || env.Code != perr.ErrorCodeValidation {
		t.Fatalf("empty publish = %d %+v", code, env)
	}

	if code, _ := do(t, srv, "DELETE", base+"/items/srv-1", ""); code != stdhttp.StatusNoContent {
		t.Fatalf("retract = %d", code)
	}
	if _, _, retracted := tr.snapshot(); len(retracted) != 1 || retracted[0] != "srv-1" {
		t.Fatalf("retracted = %v", retracted)
	}
}

func TestCommandsAndErrors(t *testing.T) {
	srv, tr := newServer(t)

	if code, env := do(t, srv, "PUT", base+"/status", `{"status":"away"}`); code != 200 {
		t.Fatalf("status = %d %+v", code, env)
	}
	if code, env := do(t, srv, "PATCH", base+"/config", `{"config":{"title":"Alice"}}`); code != 200 {
		t.Fatalf("config = %d %+v", code, env)
	}
	if code, env := do(t, srv, "PATCH", base+"/config", `{"config":{"colour":"red"}}`); code != stdhttp.StatusBadRequest {
		t.Fatalf("unknown config key = %d %+v", code, env)
	}

	code, env := do(t, srv, "POST", "/channels/nobody/activate", "")
	if code != stdhttp.StatusUnprocessableEntity || env.Field != "channel" {
		t.Fatalf("bad channel = %d %+v", code, env)
	}
	code, env = do(t, srv, "GET", "/channels/bob@example.org/rows", "")
	if code != stdhttp.StatusNotFound {
		t.Fatalf("unknown channel = %d %+v", code, env)
	}
	code, env = do(t, srv, "GET", base+"/rows?pos=x", "")
	if code != stdhttp.StatusUnprocessableEntity || env.Field != "pos" {
		t.Fatalf("bad pos = %d %+v", code, env)
	}

	tr.setFail(perr.Unavailablef("upstream reconnecting"))
	code, env = do(t, srv, "POST", base+"/items", `{"content":"x"}`)
	if code != stdhttp.StatusServiceUnavailable {
		t.Fatalf("publish offline = %d %+v", code, env)
	}

	code, env = do(t, srv, "GET", "/channels/catchup", "")
	if code != 200 {
		t.Fatalf("catchup = %d %+v", code, env)
	}
	if code, _ := do(t, srv, "POST", base+"/reset", ""); code != stdhttp.StatusNoContent {
		t.Fatalf("reset = %d", code)
	}
}
