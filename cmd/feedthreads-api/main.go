// Command feedthreads-api serves threaded views over cached feed channels.
// It connects to the websocket gateway named by FEED_WS_URL, or runs the
// in-process loopback transport when that is unset.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"feedthreads/internal/adapters/feedcache"
	"feedthreads/internal/adapters/transport/loopback"
	"feedthreads/internal/adapters/transport/wsfeed"
	"feedthreads/internal/platform/config"
	"feedthreads/internal/platform/logger"
	phttp "feedthreads/internal/platform/net/http"
	"feedthreads/internal/platform/store"
	"feedthreads/internal/services/api"
	"feedthreads/internal/services/channels/domain"
	"feedthreads/internal/services/channels/service"
	metahttp "feedthreads/internal/services/meta/http"

	"golang.org/x/sync/errgroup"
)

// upstream is a Transport that also pumps events into a Sink
type upstream interface {
	domain.Transport
	Run(ctx context.Context, sink domain.Sink) error
	Ping(ctx context.Context) error
}

func main() {
	if err := run(); err != nil {
		logger.Get().Error().Err(err).Msg("feedthreads-api stopped")
		os.Exit(1)
	}
	logger.Get().Info().Msg("feedthreads-api stopped")
}

func run() error {
	root := config.New()
	l := logger.Get()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// optional postgres (PG_URL)
	st, err := store.Open(ctx, store.ConfigFromEnv(root), store.WithLogger(*l))
	if err != nil {
		return fmt.Errorf("store.Open: %w", err)
	}
	defer func() {
		if err := st.Close(); err != nil {
			l.Error().Err(err).Msg("failed to close store")
		}
	}()

	// per-channel caches (FEED_CACHE_*)
	cacheCfg := feedcache.ConfigFromEnv(root)
	if cacheCfg.Kind == feedcache.KindPG {
		if st.PG == nil {
			return errors.New("FEED_CACHE_BACKEND=pg needs PG_URL")
		}
		if err := feedcache.EnsureSchema(ctx, st.PG); err != nil {
			return fmt.Errorf("feed cache schema: %w", err)
		}
	}
	caches := feedcache.NewOpener(cacheCfg, st.PG)
	l.Info().Str("backend", string(cacheCfg.Kind)).Str("account", cacheCfg.Account).Msg("feed cache configured")

	// upstream transport (FEED_WS_*); without a URL published items loop back locally
	var mgr *service.Manager
	var tr upstream
	if wsCfg := wsfeed.ConfigFromEnv(root); wsCfg.URL != "" {
		tr = wsfeed.New(wsCfg,
			wsfeed.WithLogger(logger.Named("wsfeed")),
			wsfeed.WithCatchUp(func(ctx context.Context) time.Time { return mgr.CatchUpSince(ctx).Since }),
		)
	} else {
		l.Warn().Msg("FEED_WS_URL not set; using the loopback transport")
		tr = loopback.New()
	}

	srv := phttp.NewServer(root)
	channels := api.Mount(srv.Router(), api.Options{
		Config:    root,
		Store:     st,
		Logger:    l,
		Transport: tr,
		Caches:    caches,
		Checks:    []metahttp.Check{{Name: "transport", Target: tr}},
	})
	mgr = channels.Manager()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error { return srv.Run(gctx) })
	g.Go(func() error { return tr.Run(gctx, mgr) })
	err = g.Wait()

	// flush caches even when shutdown was caused by an error
	cctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if cerr := mgr.Close(cctx); cerr != nil {
		l.Error().Err(cerr).Msg("closing channels")
	}
	return err
}
