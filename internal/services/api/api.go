// Package api provides the HTTP API for the application
package api

import (
	"feedthreads/internal/adapters/feedcache"
	"feedthreads/internal/modkit"
	"feedthreads/internal/modkit/httpkit"
	"feedthreads/internal/platform/config"
	"feedthreads/internal/platform/logger"
	phttp "feedthreads/internal/platform/net/http"
	"feedthreads/internal/platform/store"
	"feedthreads/internal/services/channels/domain"
	chanmod "feedthreads/internal/services/channels/module"
	metahttp "feedthreads/internal/services/meta/http"
	metamod "feedthreads/internal/services/meta/module"
)

// ServiceName is reported by the meta endpoints
const ServiceName = "feedthreads-api"

// Options are the API options
type Options struct {
	Config config.Conf
	Store  *store.Store
	Logger *logger.Logger

	// Transport is required
	Transport domain.Transport
	// Caches may be nil to run uncached
	Caches *feedcache.Opener
	// Checks are extra readiness probes, e.g. the transport
	Checks []metahttp.Check
}

// Mount mounts the API onto r and returns the channels module so the
// caller can feed it upstream events
func Mount(r phttp.Router, opt Options) *chanmod.Module {
	deps := modkit.Deps{Cfg: opt.Config, Log: logger.Nop()}
	if opt.Logger != nil {
		deps.Log = *opt.Logger
	}
	if opt.Store != nil {
		deps.PG = opt.Store.PG
	}

	channels := chanmod.New(deps, opt.Transport, opt.Caches)
	mods := []modkit.Module{
		metamod.New(deps, ServiceName, opt.Checks),
		channels,
	}

	// versioned API with a common middleware stack
	httpkit.MountAPIV1(r, httpkit.CommonStack(), func(api httpkit.Router) {
		for _, m := range mods {
			deps.Log.Debug().Str("module", m.Name()).Msg("api: mounting module")
			m.MountRoutes(api)
		}
	})
	return channels
}
