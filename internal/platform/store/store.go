// Package store exposes the optional SQL backend behind small seams
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"feedthreads/internal/platform/config"
	"feedthreads/internal/platform/logger"
)

// Store holds the backends that were enabled; the zero value does nothing
type Store struct {
	Log logger.Logger

	// PG is nil when postgres is disabled
	PG TxRunner
}

// Row is the scan contract of a single row
type Row interface {
	Scan(dest ...any) error
}

// Rows iterates a result set
type Rows interface {
	Next() bool
	Scan(dest ...any) error
	Err() error
	Close()
}

// CommandTag reports a write result
type CommandTag interface {
	String() string
	RowsAffected() int64
}

// RowQuerier is the read and write surface adapters use
type RowQuerier interface {
	Exec(ctx context.Context, sql string, args ...any) (CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) Row
}

// TxRunner runs fn inside one transaction
type TxRunner interface {
	RowQuerier
	Tx(ctx context.Context, fn func(q RowQuerier) error) error
}

// Pinger reports readiness
type Pinger interface{ Ping(context.Context) error }

// Config selects and tunes backends
type Config struct {
	PG PGConfig
}

// PGConfig configures postgres connectivity
type PGConfig struct {
	Enabled        bool
	URL            string
	MaxConns       int32
	LogSQL         bool
	SlowQueryMs    int
	ConnectRetries int
	PingTimeout    time.Duration
}

// ConfigFromEnv reads PG_* settings; PG_URL set means enabled
func ConfigFromEnv(cfg config.Conf) Config {
	c := cfg.Prefix("PG_")
	url := c.MayString("URL", "")
	return Config{PG: PGConfig{
		Enabled:        url != "",
		URL:            url,
		MaxConns:       int32(c.MayInt("MAX_CONNS", 8)),
		LogSQL:         c.MayBool("LOG_SQL", false),
		SlowQueryMs:    c.MayInt("SLOW_MS", 200),
		ConnectRetries: c.MayPositiveInt("CONNECT_RETRIES", 10),
		PingTimeout:    c.MayDuration("PING_TIMEOUT", 3*time.Second),
	}}
}

// Option mutates Store during Open
type Option func(*Store) error

// WithLogger sets the logger used by subclients
func WithLogger(log logger.Logger) Option {
	return func(s *Store) error {
		s.Log = log
		return nil
	}
}

// Open connects the enabled backends
func Open(ctx context.Context, cfg Config, opts ...Option) (*Store, error) {
	s := &Store{Log: logger.Nop()}
	for _, o := range opts {
		if err := o(s); err != nil {
			return nil, err
		}
	}
	if cfg.PG.Enabled {
		pgClient, err := openPG(ctx, cfg.PG, s.Log)
		if err != nil {
			return nil, err
		}
		s.PG = pgClient
	}
	return s, nil
}

// Guard pings every backend that supports it
func (s *Store) Guard(ctx context.Context) error {
	if s == nil {
		return errors.New("nil store")
	}
	if p, ok := s.PG.(Pinger); ok {
		if err := p.Ping(ctx); err != nil {
			return fmt.Errorf("pg: %w", err)
		}
	}
	return nil
}

// Close releases every backend; nil backends are skipped
func (s *Store) Close() error {
	if s == nil {
		return nil
	}
	if c, ok := s.PG.(interface{ Close() error }); ok {
		return c.Close()
	}
	return nil
}
