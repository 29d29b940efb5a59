// Package thread groups a channel's records into conversation threads and
// flattens them into display rows. Replies that arrive before their root get
// a placeholder root, replaced in place once the root shows up.
package thread

import (
	"sort"
	"time"

	"feedthreads/internal/core/atom"
	perr "feedthreads/internal/platform/errors"
	"feedthreads/internal/platform/logger"
)

const (
	// DefaultLookahead is how close to the end of the rows a reader may get
	// before older items are requested
	DefaultLookahead = 40
	// DefaultPageSize caps one backward pagination request
	DefaultPageSize = 50
)

// State is the assembler's lifecycle stage
type State uint8

const (
	// StateEmpty has no threads and no outstanding page request
	StateEmpty State = iota
	// StateLoading has no threads yet but a page request is outstanding
	StateLoading
	// StatePopulated holds at least one thread
	StatePopulated
)

func (s State) String() string {
	switch s {
	case StateLoading:
		return "loading"
	case StatePopulated:
		return "populated"
	default:
		return "empty"
	}
}

// MarshalText implements encoding.TextMarshaler
func (s State) MarshalText() ([]byte, error) { return []byte(s.String()), nil }

// PageRequest asks the transport for up to Max items older than AfterID.
// An empty AfterID means the newest page.
type PageRequest struct {
	AfterID string `json:"after_id,omitempty"`
	Max     int    `json:"max"`
}

// Config tunes an Assembler; zero fields take defaults
type Config struct {
	Lookahead int
	PageSize  int
	Logger    *logger.Logger
}

func (c Config) withDefaults() Config {
	if c.Lookahead <= 0 {
		c.Lookahead = DefaultLookahead
	}
	if c.PageSize <= 0 {
		c.PageSize = DefaultPageSize
	}
	if c.Logger == nil {
		nop := logger.Nop()
		c.Logger = &nop
	}
	return c
}

type compose struct {
	active   bool
	threadID string
}

// Assembler is not safe for concurrent use; callers serialize access per
// channel.
type Assembler struct {
	cfg Config

	registry []*Thread
	byKey    map[string]*Thread
	owner    map[string]*Thread

	oldestID string
	oldestAt time.Time
	pending  bool
	compose  compose

	dirty    bool
	rows     []Row
	threadNo []int
	visible  int
}

// New returns an empty Assembler
func New(cfg Config) *Assembler {
	return &Assembler{
		cfg:   cfg.withDefaults(),
		byKey: make(map[string]*Thread),
		owner: make(map[string]*Thread),
		dirty: true,
	}
}

// Add merges rec into its thread. Re-delivery of a known id replaces it;
// a tombstoned copy of a retracted record revives when content comes back.
// Any Add resolves an outstanding page request.
func (a *Assembler) Add(rec atom.Record) error {
	if err := rec.Validate(); err != nil {
		return err
	}
	a.pending = false
	if a.oldestID == "" || rec.Published.Before(a.oldestAt) {
		a.oldestID, a.oldestAt = rec.ID, rec.Published
	}

	key := rec.ThreadKey()
	if prev, ok := a.owner[rec.ID]; ok && prev.id != key {
		a.Remove(rec.ID)
	}

	t, ok := a.byKey[key]
	if ok {
		a.unlink(t)
	} else {
		t = newThread(key)
		a.byKey[key] = t
	}
	if rec.IsRoot() {
		t.setRoot(rec)
	} else {
		t.upsertReply(rec)
	}
	a.owner[rec.ID] = t
	t.recomputeActivity()
	a.link(t)
	a.dirty = true
	return nil
}

// Remove hard-deletes the row with id. A removed root leaves a placeholder
// behind while replies remain; a thread left with nothing but its
// placeholder is dropped. Unknown ids are logged and ignored.
func (a *Assembler) Remove(id string) bool {
	t, ok := a.owner[id]
	if !ok {
		a.cfg.Logger.Debug().Str("id", id).Msg("thread: remove of unthreaded id ignored")
		return false
	}
	delete(a.owner, id)
	a.unlink(t)

	switch {
	case t.rootPresent && t.root.ID == id:
		t.dropRoot()
	case !t.removeReply(id):
		err := perr.Inconsistentf("thread %q does not hold %q", t.id, id)
		a.cfg.Logger.Warn().Err(err).Msg("thread: owner index out of sync")
	}

	if t.empty() {
		delete(a.byKey, t.id)
		if a.compose.active && a.compose.threadID == t.id {
			a.compose = compose{}
		}
	} else {
		t.recomputeActivity()
		a.link(t)
	}
	a.dirty = true
	return true
}

// Retract tombstones the row with id. A thread whose rows are all tombstones
// drops out of Rows but stays registered.
func (a *Assembler) Retract(id string) bool {
	t, ok := a.owner[id]
	if !ok {
		a.cfg.Logger.Debug().Str("id", id).Msg("thread: retract of unthreaded id ignored")
		return false
	}
	if !t.tombstone(id) {
		err := perr.Inconsistentf("thread %q does not hold %q", t.id, id)
		a.cfg.Logger.Warn().Err(err).Msg("thread: owner index out of sync")
		return false
	}
	a.dirty = true
	return true
}

// Rows returns the flattened view: per visible thread its root or
// placeholder, its replies, an optional compose slot and a divider. The
// slice is shared until the next mutation and must not be modified.
func (a *Assembler) Rows() []Row {
	if a.dirty {
		a.rebuild()
	}
	return a.rows
}

func (a *Assembler) rebuild() {
	rows := make([]Row, 0, len(a.rows)+2)
	nums := make([]int, 0, cap(rows))
	if a.compose.active && a.compose.threadID == "" {
		rows = append(rows, Row{Kind: RowComposeSlot})
		nums = append(nums, 0)
	}

	n := 0
	for _, t := range a.registry {
		if t.hidden() {
			continue
		}
		n++
		if t.rootPresent {
			rows = append(rows, Row{Kind: RowRoot, ThreadID: t.id, Record: t.root})
		} else {
			rows = append(rows, Row{Kind: RowPlaceholder, ThreadID: t.id})
		}
		nums = append(nums, n)
		for _, r := range t.replies {
			rows = append(rows, Row{Kind: RowReply, ThreadID: t.id, Record: r})
			nums = append(nums, n)
		}
		if a.compose.active && a.compose.threadID == t.id {
			rows = append(rows, Row{Kind: RowComposeSlot, ThreadID: t.id})
			nums = append(nums, n)
		}
		rows = append(rows, Row{Kind: RowDivider})
		nums = append(nums, n)
	}

	a.rows, a.threadNo, a.visible = rows, nums, n
	a.dirty = false
}

// ThreadIndexOf maps a row position to its 1-based visible thread number and
// the visible thread count. Positions outside any thread give 0.
func (a *Assembler) ThreadIndexOf(pos int) (n, total int) {
	a.Rows()
	if pos < 0 || pos >= len(a.threadNo) {
		return 0, a.visible
	}
	return a.threadNo[pos], a.visible
}

// RequestPaginationIfNeeded returns a request for older items once pos is
// within the lookahead window of the last row and no request is outstanding.
// The request stays outstanding until the next Add or PageDone.
func (a *Assembler) RequestPaginationIfNeeded(pos int) (PageRequest, bool) {
	if a.pending {
		return PageRequest{}, false
	}
	if len(a.Rows())-pos > a.cfg.Lookahead {
		return PageRequest{}, false
	}
	a.pending = true
	return PageRequest{AfterID: a.oldestID, Max: a.cfg.PageSize}, true
}

// PageDone clears an outstanding request whose result carried no records
func (a *Assembler) PageDone() { a.pending = false }

// Pending reports an outstanding page request
func (a *Assembler) Pending() bool { return a.pending }

// NeedsInitialPage reports an assembler with no threads and no request out,
// typically after cache replay found nothing
func (a *Assembler) NeedsInitialPage() bool { return len(a.registry) == 0 && !a.pending }

// OldestSeen is the id and time of the oldest record added so far
func (a *Assembler) OldestSeen() (string, time.Time) { return a.oldestID, a.oldestAt }

// State derives the lifecycle stage
func (a *Assembler) State() State {
	switch {
	case len(a.registry) > 0:
		return StatePopulated
	case a.pending:
		return StateLoading
	default:
		return StateEmpty
	}
}

// Threads summarizes the registry in order, hidden threads included
func (a *Assembler) Threads() []Summary {
	out := make([]Summary, len(a.registry))
	for i, t := range a.registry {
		out[i] = t.summary()
	}
	return out
}

// Lookup summarizes the thread keyed by id
func (a *Assembler) Lookup(id string) (Summary, bool) {
	t, ok := a.byKey[id]
	if !ok {
		return Summary{}, false
	}
	return t.summary(), true
}

// ComposeNewPost opens a compose slot above every thread
func (a *Assembler) ComposeNewPost() {
	a.compose = compose{active: true}
	a.dirty = true
}

// ComposeReply opens a compose slot after the replies of threadID
func (a *Assembler) ComposeReply(threadID string) error {
	if _, ok := a.byKey[threadID]; !ok {
		return perr.WithField(perr.NotFoundf("no thread %q", threadID), "thread_id")
	}
	a.compose = compose{active: true, threadID: threadID}
	a.dirty = true
	return nil
}

// CancelCompose removes the compose slot, if any
func (a *Assembler) CancelCompose() {
	if a.compose.active {
		a.compose = compose{}
		a.dirty = true
	}
}

// Composing reports the open compose slot; threadID is "" for a new post
func (a *Assembler) Composing() (threadID string, ok bool) {
	return a.compose.threadID, a.compose.active
}

// link inserts t at its registry position
func (a *Assembler) link(t *Thread) {
	pos := sort.Search(len(a.registry), func(i int) bool { return newer(t, a.registry[i]) })
	a.registry = append(a.registry, nil)
	copy(a.registry[pos+1:], a.registry[pos:])
	a.registry[pos] = t
}

// unlink removes t using its current activity as the search key, so call it
// before t is mutated
func (a *Assembler) unlink(t *Thread) {
	pos := sort.Search(len(a.registry), func(i int) bool { return !newer(a.registry[i], t) })
	if pos >= len(a.registry) || a.registry[pos] != t {
		// fall back to a scan; the cached key must have drifted
		pos = -1
		for i, x := range a.registry {
			if x == t {
				pos = i
				break
			}
		}
		if pos < 0 {
			return
		}
	}
	a.registry = append(a.registry[:pos], a.registry[pos+1:]...)
}
