// Package atom defines the feed item value type shared by every layer:
// one post, comment or status update with its author, content, timestamps
// and thread link
package atom

import (
	"maps"
	"strings"
	"time"

	perr "feedthreads/internal/platform/errors"
)

// ObjectType is the kind of a feed item
type ObjectType uint8

const (
	// ObjectUnknown is never valid on a stored record
	ObjectUnknown ObjectType = iota
	// Post starts a thread
	Post
	// Comment replies to a post via InReplyTo
	Comment
	// Status is a presence/status update; it threads like a post
	Status
)

// UnknownAuthor is shown when a record carries neither author name nor URL
const UnknownAuthor = "[unknown author]"

func (t ObjectType) String() string {
	switch t {
	case Post:
		return "post"
	case Comment:
		return "comment"
	case Status:
		return "status"
	default:
		return "unknown"
	}
}

// ParseObjectType maps the wire spelling to an ObjectType. "note" is the
// ActivityStreams name for a post. Empty input is a malformed record, any
// other unrecognised value is an unknown object type.
func ParseObjectType(s string) (ObjectType, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "post", "note":
		return Post, nil
	case "comment":
		return Comment, nil
	case "status":
		return Status, nil
	case "":
		return ObjectUnknown, perr.WithField(perr.Malformedf("missing object_type"), "object_type")
	default:
		return ObjectUnknown, perr.WithField(
			perr.Newf(perr.ErrorCodeUnknownObjectType, "unknown object_type %q", s), "object_type")
	}
}

// MarshalText implements encoding.TextMarshaler
func (t ObjectType) MarshalText() ([]byte, error) { return []byte(t.String()), nil }

// UnmarshalText implements encoding.TextUnmarshaler
func (t *ObjectType) UnmarshalText(b []byte) error {
	v, err := ParseObjectType(string(b))
	if err != nil {
		return err
	}
	*t = v
	return nil
}

// Record is one feed item. Treat it as immutable once built: Link is shared
// between copies and must not be written to.
type Record struct {
	ID         string            `json:"id" validate:"required"`
	Author     string            `json:"author,omitempty"`
	AuthorURL  string            `json:"author_url,omitempty"`
	Content    string            `json:"content,omitempty"`
	ObjectType ObjectType        `json:"object_type" validate:"object_type"`
	InReplyTo  string            `json:"in_reply_to,omitempty"`
	Published  time.Time         `json:"published" validate:"required"`
	Updated    time.Time         `json:"updated"`
	Link       map[string]string `json:"link,omitempty"`
	Tombstone  bool              `json:"tombstone,omitempty"`
}

// DisplayAuthor returns the author name, else the author URL, else UnknownAuthor
func (r Record) DisplayAuthor() string {
	if s := strings.TrimSpace(r.Author); s != "" {
		return s
	}
	if s := strings.TrimSpace(r.AuthorURL); s != "" {
		return s
	}
	return UnknownAuthor
}

// CacheStamp is the timestamp the feed cache orders by: Updated, or Published
// when Updated is unset
func (r Record) CacheStamp() time.Time {
	if r.Updated.IsZero() {
		return r.Published
	}
	return r.Updated
}

// ThreadKey is the id of the thread root this record belongs to. A comment
// with no InReplyTo roots its own thread.
func (r Record) ThreadKey() string {
	if r.ObjectType == Comment && r.InReplyTo != "" {
		return r.InReplyTo
	}
	return r.ID
}

// IsRoot reports whether the record heads its thread
func (r Record) IsRoot() bool { return r.ThreadKey() == r.ID }

// Equal reports identity: two records are equal iff their ids match
func (r Record) Equal(o Record) bool { return r.ID == o.ID }

// SameContent compares every field
func (r Record) SameContent(o Record) bool {
	return r.ID == o.ID &&
		r.Author == o.Author &&
		r.AuthorURL == o.AuthorURL &&
		r.Content == o.Content &&
		r.ObjectType == o.ObjectType &&
		r.InReplyTo == o.InReplyTo &&
		r.Published.Equal(o.Published) &&
		r.CacheStamp().Equal(o.CacheStamp()) &&
		r.Tombstone == o.Tombstone &&
		maps.Equal(r.Link, o.Link)
}

// Tombstoned returns a retracted copy: content cleared, marker set
func (r Record) Tombstoned() Record {
	r.Content = ""
	r.Tombstone = true
	return r
}

// Less is the newest-first ordering: a sorts before b when it was published later
func Less(a, b Record) bool { return a.Published.After(b.Published) }

// Before reports whether a was published strictly before b (oldest-first order)
func Before(a, b Record) bool { return a.Published.Before(b.Published) }
