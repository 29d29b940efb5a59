package wsfeed

import (
	"time"

	"feedthreads/internal/core/atom"
	"feedthreads/internal/services/channels/domain"
)

// Outgoing ops
const (
	opHello   = "hello"
	opPage    = "page"
	opPublish = "publish"
	opRetract = "retract"
	opStatus  = "status"
	opConfig  = "config"
)

// Incoming event types beyond the domain ones
const eventAck = "ack"

// request is one frame sent upstream
type request struct {
	ID      string `json:"id"`
	Op      string `json:"op"`
	Channel string `json:"channel,omitempty"`

	// hello
	Since *time.Time `json:"since,omitempty"`

	// page
	AfterID    string `json:"after_id,omitempty"`
	Max        int    `json:"max,omitempty"`
	Generation uint64 `json:"generation,omitempty"`

	// publish, retract, status, config
	Item   *domain.PublishInput `json:"item,omitempty"`
	ItemID string               `json:"item_id,omitempty"`
	Status *string              `json:"status,omitempty"`
	Config map[string]string    `json:"config,omitempty"`
}

// event is one frame received from upstream
type event struct {
	Type    string `json:"type"`
	Channel string `json:"channel,omitempty"`

	Items      []atom.Wire       `json:"items,omitempty"`
	IDs        []string          `json:"ids,omitempty"`
	Config     map[string]string `json:"config,omitempty"`
	Generation uint64            `json:"generation,omitempty"`

	// ack
	Ref      string     `json:"ref,omitempty"`
	ResultID string     `json:"result_id,omitempty"`
	Error    *wireError `json:"error,omitempty"`
}

type wireError struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

// ack is what a waiting publish receives
type ack struct {
	id  string
	err error
}
