package atom

import (
	"maps"
	"strings"
	"time"

	perr "feedthreads/internal/platform/errors"
	ptime "feedthreads/internal/platform/time"
)

// Wire is the JSON form records travel in between the gateway, the cache and the API
type Wire struct {
	ID         string            `json:"id"`
	Author     string            `json:"author,omitempty"`
	AuthorURL  string            `json:"author_url,omitempty"`
	Content    string            `json:"content,omitempty"`
	ObjectType string            `json:"object_type"`
	InReplyTo  string            `json:"in_reply_to,omitempty"`
	Published  *time.Time        `json:"published,omitempty"`
	Updated    *time.Time        `json:"updated,omitempty"`
	Link       map[string]string `json:"link,omitempty"`
	Tombstone  bool              `json:"tombstone,omitempty"`
}

// ToWire converts r to its wire form
func (r Record) ToWire() Wire {
	w := Wire{
		ID:         r.ID,
		Author:     r.Author,
		AuthorURL:  r.AuthorURL,
		Content:    r.Content,
		ObjectType: r.ObjectType.String(),
		InReplyTo:  r.InReplyTo,
		Published:  ptime.Ptr(r.Published),
		Link:       r.Link,
		Tombstone:  r.Tombstone,
	}
	if !r.Updated.IsZero() && !r.Updated.Equal(r.Published) {
		w.Updated = ptime.Ptr(r.Updated)
	}
	return w
}

// FromWire builds a validated, normalised Record.
//
// A record without an id cannot be salvaged and yields the zero Record.
// A record with an id but no published time, or without an object type,
// yields a degraded record (Post, epoch timestamp, empty content) together
// with a MalformedRecord error so callers can still surface it.
// An unrecognised object type is rejected with UnknownObjectType.
func FromWire(w Wire) (Record, error) {
	id := strings.TrimSpace(w.ID)
	if id == "" {
		return Record{}, perr.WithField(perr.Malformedf("record missing id"), "id")
	}

	ot, err := ParseObjectType(w.ObjectType)
	if perr.IsCode(err, perr.ErrorCodeUnknownObjectType) {
		return Record{}, perr.WithOp(err, "atom.FromWire")
	}
	if err != nil {
		return degraded(id, w), perr.WithOp(err, "atom.FromWire")
	}
	if w.Published == nil || w.Published.IsZero() {
		return degraded(id, w), perr.WithOp(
			perr.WithField(perr.Malformedf("record %q missing published", id), "published"), "atom.FromWire")
	}

	r := Record{
		ID:         id,
		Author:     w.Author,
		AuthorURL:  strings.TrimSpace(w.AuthorURL),
		Content:    w.Content,
		ObjectType: ot,
		Published:  w.Published.UTC(),
		Link:       maps.Clone(w.Link),
		Tombstone:  w.Tombstone,
	}
	if ot == Comment {
		r.InReplyTo = strings.TrimSpace(w.InReplyTo)
	}
	r.Updated = r.Published
	if w.Updated != nil && !w.Updated.IsZero() {
		r.Updated = w.Updated.UTC()
	}
	r = r.Normalize()
	if err := r.Validate(); err != nil {
		return Record{}, perr.WithOp(err, "atom.FromWire")
	}
	return r, nil
}

func degraded(id string, w Wire) Record {
	return Record{
		ID:         id,
		Author:     strings.TrimSpace(NormalizeText(w.Author)),
		AuthorURL:  strings.TrimSpace(w.AuthorURL),
		ObjectType: Post,
		Published:  ptime.Never,
		Updated:    ptime.Never,
	}
}

// Rejected is a wire record that failed conversion. Degraded is set when
// an id could be salvaged.
type Rejected struct {
	Degraded Record
	Err      error
}

// FromWireBatch converts a batch; failures are reported, never dropped silently
func FromWireBatch(ws []Wire) ([]Record, []Rejected) {
	out := make([]Record, 0, len(ws))
	var rejected []Rejected
	for _, w := range ws {
		r, err := FromWire(w)
		if err != nil {
			rejected = append(rejected, Rejected{Degraded: r, Err: err})
			continue
		}
		out = append(out, r)
	}
	return out, rejected
}
