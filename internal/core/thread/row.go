package thread

import "feedthreads/internal/core/atom"

// RowKind tags a flattened display row
type RowKind uint8

const (
	// RowRoot is a thread's root record
	RowRoot RowKind = iota + 1
	// RowReply is a reply under its root, oldest-first
	RowReply
	// RowPlaceholder stands in for a root that has not arrived yet
	RowPlaceholder
	// RowDivider separates consecutive threads
	RowDivider
	// RowComposeSlot marks where a draft post or reply is being written
	RowComposeSlot
)

func (k RowKind) String() string {
	switch k {
	case RowRoot:
		return "root"
	case RowReply:
		return "reply"
	case RowPlaceholder:
		return "placeholder"
	case RowDivider:
		return "divider"
	case RowComposeSlot:
		return "compose"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler
func (k RowKind) MarshalText() ([]byte, error) { return []byte(k.String()), nil }

// Row is one line of the flattened view. Record is set for roots and replies
// only; ThreadID is empty for dividers and for the new-post compose slot.
type Row struct {
	Kind     RowKind
	ThreadID string
	Record   atom.Record
}

// ID returns the record id behind the row, or "" when there is none
func (r Row) ID() string {
	switch r.Kind {
	case RowRoot, RowReply:
		return r.Record.ID
	case RowPlaceholder:
		return r.ThreadID
	}
	return ""
}
