package service

import (
	"context"

	"feedthreads/internal/core/atom"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/services/channels/domain"
)

// Ingest applies an upstream event pushed over HTTP. Items that fail to
// convert or validate are reported, never dropped silently; a degraded
// record's id is included when one could be salvaged.
func (m *Manager) Ingest(ctx context.Context, name string, in domain.EventInput) (domain.IngestOutput, error) {
	var out domain.IngestOutput

	switch in.Type {
	case domain.EventPosted, domain.EventPage:
		recs, bad := atom.FromWireBatch(in.Items)
		for _, r := range bad {
			out.Rejected = append(out.Rejected, rejected(r.Degraded.ID, r.Err))
		}
		var (
			n    int
			errs []error
			err  error
		)
		if in.Type == domain.EventPosted {
			n, errs, err = m.post(ctx, name, recs)
		} else {
			n, errs, err = m.pageResult(ctx, name, in.Generation, recs)
		}
		if err != nil {
			return domain.IngestOutput{}, err
		}
		for _, e := range errs {
			id := ""
			if pe, ok := perr.As(e); ok {
				id = pe.Op()
			}
			out.Rejected = append(out.Rejected, rejected(id, e))
		}
		out.Accepted = n

	case domain.EventRetracted:
		if len(in.IDs) == 0 {
			return out, perr.WithField(perr.InvalidArgf("retracted event needs ids"), "ids")
		}
		if err := m.OnItemsRetracted(ctx, name, in.IDs); err != nil {
			return domain.IngestOutput{}, err
		}
		out.Accepted = len(in.IDs)

	case domain.EventStatus:
		if len(in.Items) != 1 {
			return out, perr.WithField(perr.InvalidArgf("status event needs exactly one item"), "items")
		}
		rec, err := atom.FromWire(in.Items[0])
		if err != nil {
			out.Rejected = append(out.Rejected, rejected(rec.ID, err))
			return out, nil
		}
		if err := m.OnStatusChanged(ctx, name, rec); err != nil {
			return domain.IngestOutput{}, err
		}
		out.Accepted = 1

	case domain.EventConfig:
		if err := m.OnConfigChanged(ctx, name, in.Config); err != nil {
			return domain.IngestOutput{}, err
		}
		out.Accepted = 1

	default:
		return out, perr.WithField(perr.InvalidArgf("unknown event type %q", in.Type), "type")
	}
	return out, nil
}

func rejected(id string, err error) domain.Rejected {
	w := perr.WireFrom(err)
	return domain.Rejected{ID: id, Code: w.Code.String(), Message: w.Message}
}
