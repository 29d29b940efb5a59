// Package module wires meta endpoints into the API using a tiny module
package module

import (
	"net/http"
	"time"

	"feedthreads/internal/modkit"
	"feedthreads/internal/modkit/httpkit"
	str "feedthreads/internal/platform/strings"
	metahttp "feedthreads/internal/services/meta/http"
)

// Module implements the modkit.Module interface
type Module struct {
	deps   modkit.Deps
	name   string
	prefix string
	mws    []func(http.Handler) http.Handler

	register func(httpkit.Router)

	startedAt time.Time
}

// New constructs a meta module. service names the binary in responses;
// checks are probed by /ready in order.
func New(deps modkit.Deps, service string, checks []metahttp.Check, opts ...modkit.Option) *Module {
	b := modkit.Build(modkit.Built{Name: "meta", Prefix: "/meta"}, opts...)

	if deps.PG != nil {
		checks = append([]metahttp.Check{{Name: "pg", Target: deps.PG}}, checks...)
	}

	m := &Module{
		deps:      deps,
		name:      b.Name,
		prefix:    str.MustPrefix(b.Prefix),
		mws:       b.Mw,
		startedAt: time.Now(),
	}
	m.register = func(r httpkit.Router) {
		metahttp.Register(r, metahttp.Deps{
			ServiceName: service,
			StartedAt:   m.startedAt,
			Checks:      checks,
		})
	}
	return m
}

// MountRoutes implements the modkit.Module interface
func (m *Module) MountRoutes(r httpkit.Router) {
	r.Route(m.prefix, func(rr httpkit.Router) {
		for _, mw := range m.mws {
			rr.Use(mw)
		}
		m.register(rr)
	})
}

// Name implements the modkit.Module interface
func (m *Module) Name() string { return str.MustString(m.name, "meta") }

// Prefix implements the modkit.Module interface
func (m *Module) Prefix() string { return m.prefix }

// Ports implements the modkit.Module interface
func (m *Module) Ports() any { return nil }
