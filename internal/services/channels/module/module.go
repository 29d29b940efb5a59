// Package module wires the channels service into the API using modkit
package module

import (
	"net/http"

	"feedthreads/internal/adapters/feedcache"
	"feedthreads/internal/core/thread"
	"feedthreads/internal/modkit"
	"feedthreads/internal/modkit/httpkit"
	str "feedthreads/internal/platform/strings"
	"feedthreads/internal/services/channels/domain"
	chanhttp "feedthreads/internal/services/channels/http"
	"feedthreads/internal/services/channels/service"
)

// Ports exposed by the channels module
type Ports struct {
	Service domain.ServicePort
	// Sink is what a transport delivers upstream events to
	Sink    domain.Sink
	Manager *service.Manager
}

// Module implements the channels module
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler

	register func(httpkit.Router)

	mgr   *service.Manager
	ports Ports
}

// New constructs the channels module around tr. caches may be nil.
func New(deps modkit.Deps, tr domain.Transport, caches *feedcache.Opener, opts ...modkit.Option) *Module {
	b := modkit.Build(modkit.Built{Name: "channels", Prefix: "/channels"}, opts...)
	o := FromConfig(deps.Cfg)

	log := deps.Log.With().Str("module", b.Name).Logger()
	mgr := service.New(service.Options{
		Transport: tr,
		Caches:    caches,
		Thread:    thread.Config{Lookahead: o.Lookahead, PageSize: o.PageSize},
		Logger:    &log,
	})

	m := &Module{
		deps:   deps,
		name:   b.Name,
		prefix: str.MustPrefix(b.Prefix),
		mws:    b.Mw,
		mgr:    mgr,
		ports:  Ports{Service: mgr, Sink: mgr, Manager: mgr},
	}
	m.register = func(r httpkit.Router) { chanhttp.Register(r, m.mgr) }
	return m
}

// MountRoutes mounts the module routes on the given router
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		m.register(rr)
	})
}

// Name returns the module name
func (m *Module) Name() string { return str.MustString(m.name, "module name") }

// Prefix returns the module route prefix
func (m *Module) Prefix() string { return str.MustPrefix(m.prefix) }

// Ports returns Ports
func (m *Module) Ports() any { return m.ports }

// Manager is the typed form of Ports().Manager for main
func (m *Module) Manager() *service.Manager { return m.mgr }
