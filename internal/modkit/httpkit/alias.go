// Package httpkit re-exports the platform HTTP helpers modules use, so module
// code never imports internal/platform/net/http directly
package httpkit

import (
	"net/http"

	phttp "feedthreads/internal/platform/net/http"
)

type (
	// Envelope is the JSON response body
	Envelope = phttp.Envelope

	// Response is the return-style handler result
	Response = phttp.Response

	// Handler is the platform handler type
	Handler = phttp.Handler

	// Router is the routing seam
	Router = phttp.Router
)

// OK returns a 200 response
func OK(data any) Response { return phttp.OK(data) }

// Created returns a 201 response
func Created(data any) Response { return phttp.Created(data) }

// Accepted returns a 202 response
func Accepted(data any) Response { return phttp.Accepted(data) }

// NoContent returns a 204 response
func NoContent() Response { return phttp.NoContent() }

// Error maps err onto status and envelope
func Error(err error) Response { return phttp.Error(err) }

// Param returns a URL parameter of the matched route
func Param(r *http.Request, name string) string { return phttp.Param(r, name) }

// Handle adapts a Response-returning func
func Handle(fn func(*http.Request) Response) Handler { return phttp.Handle(fn) }
