// Package http provides http transport for channels
package http

import (
	stdhttp "net/http"
	"strconv"

	"feedthreads/internal/modkit/httpkit"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/services/channels/domain"
)

// Register mounts channel endpoints on the given router
func Register(r httpkit.Router, s domain.ServicePort) {
	h := &handlers{svc: s}

	// overview
	httpkit.Get(r, "/", h.list)
	httpkit.Get(r, "/catchup", h.catchUp)

	// display lifecycle
	httpkit.Post(r, "/{channel}/activate", h.activate)
	httpkit.Post(r, "/{channel}/deactivate", h.deactivate)
	httpkit.Get(r, "/{channel}/rows", h.rows)
	httpkit.PostJSON[domain.ComposeInput](r, "/{channel}/compose", h.compose)
	httpkit.Delete(r, "/{channel}/compose", h.cancelCompose)

	// commands relayed upstream
	httpkit.PostJSON[domain.PublishInput](r, "/{channel}/items", h.publish)
	httpkit.Delete(r, "/{channel}/items/{id}", h.retract)
	httpkit.PutJSON[domain.StatusInput](r, "/{channel}/status", h.setStatus)
	httpkit.PatchJSON[domain.ConfigInput](r, "/{channel}/config", h.updateConfig)

	// maintenance and upstream push
	httpkit.Post(r, "/{channel}/reset", h.reset)
	httpkit.PostJSON[domain.EventInput](r, "/{channel}/events", h.ingest)
}

type handlers struct{ svc domain.ServicePort }

func channelOf(r *stdhttp.Request) string { return httpkit.Param(r, "channel") }

// listResponse wraps the sidebar so the body stays an object
type listResponse struct {
	Channels []domain.ChannelSummary `json:"channels"`
}

// list returns channels, most recently updated first
func (h *handlers) list(r *stdhttp.Request) (any, error) {
	return listResponse{Channels: h.svc.Channels(r.Context())}, nil
}

func (h *handlers) catchUp(r *stdhttp.Request) (any, error) {
	return h.svc.CatchUpSince(r.Context()), nil
}

// activate builds the thread view and returns its first rows
func (h *handlers) activate(r *stdhttp.Request) (any, error) {
	return h.svc.Activate(r.Context(), channelOf(r))
}

func (h *handlers) deactivate(r *stdhttp.Request) (any, error) {
	return nil, h.svc.Deactivate(r.Context(), channelOf(r))
}

// rows returns flattened rows with pos as the reader position
func (h *handlers) rows(r *stdhttp.Request) (any, error) {
	pos := 0
	if raw := r.URL.Query().Get("pos"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return nil, perr.WithField(perr.InvalidArgf("pos must be an integer"), "pos")
		}
		pos = n
	}
	return h.svc.Rows(r.Context(), channelOf(r), pos)
}

func (h *handlers) compose(r *stdhttp.Request, in domain.ComposeInput) (any, error) {
	if err := h.svc.Compose(r.Context(), channelOf(r), in); err != nil {
		return nil, err
	}
	return h.svc.Rows(r.Context(), channelOf(r), 0)
}

func (h *handlers) cancelCompose(r *stdhttp.Request) (any, error) {
	return nil, h.svc.CancelCompose(r.Context(), channelOf(r))
}

// publish sends a post or reply upstream
func (h *handlers) publish(r *stdhttp.Request, in domain.PublishInput) (any, error) {
	return h.svc.Publish(r.Context(), channelOf(r), in)
}

func (h *handlers) retract(r *stdhttp.Request) (any, error) {
	return nil, h.svc.Retract(r.Context(), channelOf(r), httpkit.Param(r, "id"))
}

func (h *handlers) setStatus(r *stdhttp.Request, in domain.StatusInput) (any, error) {
	return ack{Queued: true}, h.svc.SetStatus(r.Context(), channelOf(r), in)
}

func (h *handlers) updateConfig(r *stdhttp.Request, in domain.ConfigInput) (any, error) {
	return ack{Queued: true}, h.svc.UpdateConfig(r.Context(), channelOf(r), in)
}

func (h *handlers) reset(r *stdhttp.Request) (any, error) {
	return nil, h.svc.Reset(r.Context(), channelOf(r))
}

// ingest applies an event pushed by the upstream gateway
func (h *handlers) ingest(r *stdhttp.Request, in domain.EventInput) (any, error) {
	return h.svc.Ingest(r.Context(), channelOf(r), in)
}

// ack is the body of commands that only get queued upstream
type ack struct {
	Queued bool `json:"queued"`
}
