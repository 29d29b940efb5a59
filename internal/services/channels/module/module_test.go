package module

import (
	"context"
	stdhttp "net/http"
	"net/http/httptest"
	"testing"

	"feedthreads/internal/modkit"
	"feedthreads/internal/platform/config"
	"feedthreads/internal/platform/logger"
	phttp "feedthreads/internal/platform/net/http"
	"feedthreads/internal/services/channels/domain"

	"github.com/go-chi/chi/v5"
)

type nopTransport struct{}

func (nopTransport) RequestMoreItems(context.Context, domain.PageRequest) error { return nil }
func (nopTransport) PublishItem(context.Context, string, domain.PublishInput) (string, error) {
	return "id", nil
}
func (nopTransport) RetractItem(context.Context, string, string) error             { return nil }
func (nopTransport) SetStatus(context.Context, string, string) error               { return nil }
func (nopTransport) UpdateConfig(context.Context, string, map[string]string) error { return nil }

func TestFromConfig(t *testing.T) {
	t.Setenv("FEED_THREAD_LOOKAHEAD", "12")
	t.Setenv("FEED_THREAD_PAGE_SIZE", "0")
	o := FromConfig(config.New())
	if o.Lookahead != 12 {
		t.Fatalf("lookahead = %d", o.Lookahead)
	}
	if o.PageSize != 50 {
		t.Fatalf("page size = %d, want default", o.PageSize)
	}
}

func TestMountRoutes(t *testing.T) {
	deps := modkit.Deps{Log: logger.Nop(), Cfg: config.New()}
	m := New(deps, nopTransport{}, nil, modkit.WithPrefix("/feeds/"))
	defer m.Manager().Close(context.Background())

	if m.Name() != "channels" || m.Prefix() != "/feeds" {
		t.Fatalf("name/prefix = %q %q", m.Name(), m.Prefix())
	}
	ports, ok := m.Ports().(Ports)
	if !ok || ports.Sink == nil || ports.Service == nil {
		t.Fatalf("ports = %#v", m.Ports())
	}

	r := chi.NewRouter()
	m.MountRoutes(phttp.AdaptChi(r))
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(stdhttp.MethodGet, "/feeds/", nil))
	if rec.Code != stdhttp.StatusOK {
		t.Fatalf("GET /feeds/ = %d", rec.Code)
	}
}
