package thread

import (
	"slices"
	"sort"
	"time"

	"feedthreads/internal/core/atom"
)

// Thread is a root (real or placeholder) plus its replies oldest-first.
// Threads are owned by an Assembler; read them through Summary.
type Thread struct {
	id          string
	root        atom.Record
	rootPresent bool
	replies     []atom.Record
	// activity is cached so registry searches can use the pre-mutation key
	activity time.Time
}

func newThread(id string) *Thread { return &Thread{id: id} }

func (t *Thread) recomputeActivity() {
	if n := len(t.replies); n > 0 {
		t.activity = t.replies[n-1].Published
		return
	}
	if t.rootPresent {
		t.activity = t.root.Published
		return
	}
	t.activity = time.Time{}
}

// hidden reports a thread with nothing left to show: every row is a
// tombstone or the placeholder
func (t *Thread) hidden() bool {
	if t.rootPresent && !t.root.Tombstone {
		return false
	}
	for _, r := range t.replies {
		if !r.Tombstone {
			return false
		}
	}
	return true
}

// empty means only a placeholder (or nothing) remains
func (t *Thread) empty() bool { return !t.rootPresent && len(t.replies) == 0 }

func (t *Thread) setRoot(rec atom.Record) {
	t.root = rec
	t.rootPresent = true
}

func (t *Thread) dropRoot() {
	t.root = atom.Record{}
	t.rootPresent = false
}

func (t *Thread) replyIndex(id string) int {
	return slices.IndexFunc(t.replies, func(r atom.Record) bool { return r.ID == id })
}

// insertReply places rec after every reply published at or before it, so
// same-timestamp replies keep arrival order
func (t *Thread) insertReply(rec atom.Record) {
	pos := sort.Search(len(t.replies), func(i int) bool {
		return t.replies[i].Published.After(rec.Published)
	})
	t.replies = slices.Insert(t.replies, pos, rec)
}

// upsertReply replaces a re-delivered reply in place when its timestamp is
// unchanged, else moves it
func (t *Thread) upsertReply(rec atom.Record) {
	if i := t.replyIndex(rec.ID); i >= 0 {
		if t.replies[i].Published.Equal(rec.Published) {
			t.replies[i] = rec
			return
		}
		t.replies = slices.Delete(t.replies, i, i+1)
	}
	t.insertReply(rec)
}

func (t *Thread) removeReply(id string) bool {
	i := t.replyIndex(id)
	if i < 0 {
		return false
	}
	t.replies = slices.Delete(t.replies, i, i+1)
	return true
}

func (t *Thread) tombstone(id string) bool {
	if t.rootPresent && t.root.ID == id {
		if !t.root.Tombstone {
			t.root = t.root.Tombstoned()
		}
		return true
	}
	if i := t.replyIndex(id); i >= 0 {
		if !t.replies[i].Tombstone {
			t.replies[i] = t.replies[i].Tombstoned()
		}
		return true
	}
	return false
}

// Summary is a read-only view of one thread
type Summary struct {
	ID          string    `json:"id"`
	RootPresent bool      `json:"root_present"`
	Replies     int       `json:"replies"`
	Activity    time.Time `json:"most_recent_activity"`
	Hidden      bool      `json:"hidden"`
}

func (t *Thread) summary() Summary {
	return Summary{
		ID:          t.id,
		RootPresent: t.rootPresent,
		Replies:     len(t.replies),
		Activity:    t.activity,
		Hidden:      t.hidden(),
	}
}

// newer is the registry order: most recent activity first, then thread id
func newer(a, b *Thread) bool {
	if !a.activity.Equal(b.activity) {
		return a.activity.After(b.activity)
	}
	return a.id < b.id
}
