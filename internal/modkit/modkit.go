// Package modkit wires feature modules: shared deps in, routes and ports out
package modkit

import (
	"net/http"

	"feedthreads/internal/platform/config"
	"feedthreads/internal/platform/logger"
	phttp "feedthreads/internal/platform/net/http"
	"feedthreads/internal/platform/store"
)

// Module is what main mounts
type Module interface {
	MountRoutes(r phttp.Router)
	Ports() any
	Name() string
}

// Deps are the process-wide dependencies handed to every module
type Deps struct {
	Log logger.Logger
	Cfg config.Conf

	// PG is nil when postgres is disabled
	PG store.TxRunner
}

// Option mutates module build settings
type Option func(*Built)

// Built is the resolved option set
type Built struct {
	Name   string
	Prefix string
	Mw     []func(http.Handler) http.Handler
	Ports  any
}

// WithName sets the module name used in logs
func WithName(name string) Option { return func(b *Built) { b.Name = name } }

// WithPrefix mounts the module under prefix
func WithPrefix(prefix string) Option { return func(b *Built) { b.Prefix = prefix } }

// WithMiddlewares appends per-module middleware
func WithMiddlewares(mw ...func(http.Handler) http.Handler) Option {
	return func(b *Built) { b.Mw = append(b.Mw, mw...) }
}

// WithPorts injects ports owned by another module
func WithPorts[T any](p T) Option { return func(b *Built) { b.Ports = p } }

// Build applies opts over defaults
func Build(defaults Built, opts ...Option) Built {
	b := defaults
	b.Mw = append([]func(http.Handler) http.Handler(nil), defaults.Mw...)
	for _, o := range opts {
		o(&b)
	}
	return b
}
