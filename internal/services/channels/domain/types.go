// Package domain holds the channel service contracts and DTOs
package domain

import (
	"time"

	"feedthreads/internal/core/atom"
)

// ConfigKeys are the channel config fields kept in the cache
var ConfigKeys = []string{"title", "description", "creation", "type"}

// PageRequest asks the transport for up to Max items older than AfterID.
// Generation is echoed back with the result so late pages can be dropped.
type PageRequest struct {
	Channel    string `json:"channel"`
	AfterID    string `json:"after_id,omitempty"`
	Max        int    `json:"max"`
	Generation uint64 `json:"generation"`
}

// PublishInput is a new post or reply
type PublishInput struct {
	Content   string `json:"content"     validate:"required,max=8000"`
	InReplyTo string `json:"in_reply_to,omitempty" validate:"omitempty,max=512"`
	Author    string `json:"author,omitempty"      validate:"omitempty,max=256"`
}

// PublishOutput carries the id the server assigned
type PublishOutput struct {
	ID string `json:"id"`
}

// StatusInput sets the channel status line
type StatusInput struct {
	Status string `json:"status" validate:"max=1024"`
}

// ConfigInput updates channel config; unknown keys are rejected
type ConfigInput struct {
	Config map[string]string `json:"config" validate:"required,dive,keys,oneof=title description creation type,endkeys,max=2048"`
}

// ComposeInput opens a compose slot; an empty ThreadID composes a new post
type ComposeInput struct {
	ThreadID string `json:"thread_id,omitempty"`
}

// Event types accepted by Ingest
const (
	EventPosted    = "posted"
	EventRetracted = "retracted"
	EventStatus    = "status"
	EventConfig    = "config"
	EventPage      = "page"
)

// EventInput is an upstream event pushed over HTTP
type EventInput struct {
	Type       string            `json:"type"   validate:"required,oneof=posted retracted status config page"`
	Items      []atom.Wire       `json:"items,omitempty"`
	IDs        []string          `json:"ids,omitempty"`
	Config     map[string]string `json:"config,omitempty"`
	Generation uint64            `json:"generation,omitempty"`
}

// Rejected describes one item Ingest refused
type Rejected struct {
	ID      string `json:"id,omitempty"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// IngestOutput reports what an event did
type IngestOutput struct {
	Accepted int        `json:"accepted"`
	Rejected []Rejected `json:"rejected,omitempty"`
}

// Row is one flattened display row
type Row struct {
	Kind     string     `json:"kind"`
	ThreadID string     `json:"thread_id,omitempty"`
	Author   string     `json:"author,omitempty"`
	Item     *atom.Wire `json:"item,omitempty"`
}

// RowsPage is the flattened view of an active channel
type RowsPage struct {
	Channel       string `json:"channel"`
	State         string `json:"state"`
	Pos           int    `json:"pos"`
	Thread        int    `json:"thread"`
	Threads       int    `json:"threads"`
	PageRequested bool   `json:"page_requested"`
	Rows          []Row  `json:"rows"`
}

// ChannelSummary is one sidebar entry
type ChannelSummary struct {
	Channel    string            `json:"channel"`
	Title      string            `json:"title"`
	Active     bool              `json:"active"`
	Unread     int               `json:"unread"`
	Status     string            `json:"status,omitempty"`
	Config     map[string]string `json:"config,omitempty"`
	Items      int               `json:"items"`
	LastUpdate time.Time         `json:"last_update"`
	MTime      time.Time         `json:"mtime"`
	Cached     bool              `json:"cached"`
	CacheError string            `json:"cache_error,omitempty"`
}

// CatchUp is where a history replay should start; zero Since means no
// cached state to catch up from
type CatchUp struct {
	Since time.Time `json:"since"`
}
