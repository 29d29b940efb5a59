package domain

import (
	"context"

	"feedthreads/internal/core/atom"
)

// Transport is the upstream feed server. Calls must not block on the
// network for longer than it takes to queue the request; results come back
// through a Sink.
type Transport interface {
	RequestMoreItems(ctx context.Context, req PageRequest) error
	PublishItem(ctx context.Context, channel string, in PublishInput) (string, error)
	RetractItem(ctx context.Context, channel, id string) error
	SetStatus(ctx context.Context, channel, status string) error
	UpdateConfig(ctx context.Context, channel string, cfg map[string]string) error
}

// Sink receives upstream events for a channel, in delivery order
type Sink interface {
	OnItemsPosted(ctx context.Context, channel string, recs []atom.Record) error
	OnItemsRetracted(ctx context.Context, channel string, ids []string) error
	OnStatusChanged(ctx context.Context, channel string, rec atom.Record) error
	OnConfigChanged(ctx context.Context, channel string, cfg map[string]string) error
	OnPageResult(ctx context.Context, channel string, generation uint64, recs []atom.Record) error
}

// ServicePort is consumed by the HTTP handlers
type ServicePort interface {
	Channels(ctx context.Context) []ChannelSummary
	CatchUpSince(ctx context.Context) CatchUp
	Activate(ctx context.Context, channel string) (RowsPage, error)
	Deactivate(ctx context.Context, channel string) error
	Rows(ctx context.Context, channel string, pos int) (RowsPage, error)
	Publish(ctx context.Context, channel string, in PublishInput) (PublishOutput, error)
	Retract(ctx context.Context, channel, id string) error
	SetStatus(ctx context.Context, channel string, in StatusInput) error
	UpdateConfig(ctx context.Context, channel string, in ConfigInput) error
	Compose(ctx context.Context, channel string, in ComposeInput) error
	CancelCompose(ctx context.Context, channel string) error
	Reset(ctx context.Context, channel string) error
	Ingest(ctx context.Context, channel string, in EventInput) (IngestOutput, error)
}
