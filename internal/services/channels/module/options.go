package module

import (
	"feedthreads/internal/core/thread"
	"feedthreads/internal/platform/config"
)

// Options holds configuration settings for the channels module
type Options struct {
	Lookahead int
	PageSize  int
}

// FromConfig reads FEED_THREAD_* settings
func FromConfig(cfg config.Conf) Options {
	tc := cfg.Prefix("FEED_THREAD_")
	return Options{
		Lookahead: tc.MayPositiveInt("LOOKAHEAD", thread.DefaultLookahead),
		PageSize:  tc.MayPositiveInt("PAGE_SIZE", thread.DefaultPageSize),
	}
}
