// Command feedthreads-cachectl inspects or deletes one channel's feed cache.
// Backend selection follows FEED_CACHE_* unless overridden by flags; opening
// a cache persists any repairs it needed.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"feedthreads/internal/adapters/feedcache"
	"feedthreads/internal/core/atom"
	"feedthreads/internal/core/version"
	"feedthreads/internal/platform/config"
	"feedthreads/internal/platform/logger"
	"feedthreads/internal/platform/store"
	"feedthreads/internal/services/channels/domain"
)

type report struct {
	Key        string            `json:"key"`
	Items      int               `json:"items"`
	Status     string            `json:"status,omitempty"`
	Config     map[string]string `json:"config,omitempty"`
	LastUpdate time.Time         `json:"last_update"`
	MTime      time.Time         `json:"mtime"`
	IDs        []string          `json:"ids,omitempty"`
	Records    []atom.Wire       `json:"records,omitempty"`
}

func main() {
	var (
		channel = flag.String("channel", "", "channel address, e.g. alice@example.org (required)")
		account = flag.String("account", "", "account owning the cache; default FEED_ACCOUNT")
		backend = flag.String("backend", "", "bolt, pg or memory; default FEED_CACHE_BACKEND")
		dir     = flag.String("dir", "", "bolt cache directory; default FEED_CACHE_DIR")
		full    = flag.Bool("items", false, "include every cached record")
		asJSON  = flag.Bool("json", false, "print JSON instead of text")
		del     = flag.Bool("delete", false, "delete the cache instead of printing it")
		showVer = flag.Bool("version", false, "print version and exit")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(version.Info("feedthreads-cachectl"))
		return
	}
	if *channel == "" {
		fmt.Fprintln(os.Stderr, "-channel is required")
		flag.Usage()
		os.Exit(2)
	}

	root := config.New()
	cfg := feedcache.ConfigFromEnv(root)
	if *account != "" {
		cfg.Account = *account
	}
	if *backend != "" {
		cfg.Kind = feedcache.Kind(*backend)
	}
	if *dir != "" {
		cfg.Dir = *dir
	}

	if err := run(context.Background(), root, cfg, *channel, *del, *full, *asJSON, os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "cachectl: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, root config.Conf, cfg feedcache.Config, channel string, del, full, asJSON bool, w io.Writer) error {
	var pg store.TxRunner
	if cfg.Kind == feedcache.KindPG {
		st, err := store.Open(ctx, store.ConfigFromEnv(root), store.WithLogger(*logger.Get()))
		if err != nil {
			return err
		}
		defer st.Close()
		if st.PG == nil {
			return errors.New("pg backend needs PG_URL")
		}
		pg = st.PG
	}

	opener := feedcache.NewOpener(cfg, pg)
	c, err := opener.Open(ctx, channel)
	if err != nil {
		return err
	}
	if del {
		if err := c.Delete(ctx); err != nil {
			return err
		}
		fmt.Fprintf(w, "deleted %s\n", c.Key())
		return nil
	}
	defer c.Close(ctx)

	rep := report{
		Key:        c.Key().String(),
		Items:      c.Len(),
		Status:     c.Status(),
		Config:     c.Config(),
		LastUpdate: c.LastUpdate(),
		MTime:      c.MTime(),
		IDs:        c.IDs(),
	}
	if full {
		for _, rec := range c.Items() {
			rep.Records = append(rep.Records, rec.ToWire())
		}
	}
	return render(w, rep, asJSON)
}

func render(w io.Writer, rep report, asJSON bool) error {
	if asJSON {
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(rep)
	}
	fmt.Fprintf(w, "cache        %s\n", rep.Key)
	fmt.Fprintf(w, "items        %d\n", rep.Items)
	fmt.Fprintf(w, "status       %q\n", rep.Status)
	fmt.Fprintf(w, "last_update  %s\n", rep.LastUpdate.Format(time.RFC3339))
	fmt.Fprintf(w, "mtime        %s\n", rep.MTime.Format(time.RFC3339))
	for _, k := range domain.ConfigKeys {
		if v, ok := rep.Config[k]; ok {
			fmt.Fprintf(w, "config.%-6s %s\n", k, v)
		}
	}
	for _, rec := range rep.Records {
		fmt.Fprintf(w, "  %s  %-8s %s\n", rec.ID, rec.ObjectType, rec.Content)
	}
	if len(rep.Records) == 0 {
		for _, id := range rep.IDs {
			fmt.Fprintf(w, "  %s\n", id)
		}
	}
	return nil
}
