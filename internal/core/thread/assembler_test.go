package thread

import (
	"fmt"
	"strings"
	"testing"
	"time"

	"feedthreads/internal/core/atom"
	perr "feedthreads/internal/platform/errors"
)

var t0 = time.Date(2024, 3, 1, 12, 0, 0, 0, time.UTC)

func at(min int) time.Time { return t0.Add(time.Duration(min) * time.Minute) }

func post(id string, min int) atom.Record {
	return atom.Record{ID: id, ObjectType: atom.Post, Content: "post " + id, Published: at(min)}
}

func reply(id, parent string, min int) atom.Record {
	return atom.Record{ID: id, ObjectType: atom.Comment, InReplyTo: parent, Content: "re " + id, Published: at(min)}
}

// layout renders rows compactly, e.g. "root:p1 reply:c1 divider"
func layout(rows []Row) string {
	parts := make([]string, len(rows))
	for i, r := range rows {
		if id := r.ID(); id != "" {
			parts[i] = r.Kind.String() + ":" + id
		} else if r.Kind == RowComposeSlot && r.ThreadID != "" {
			parts[i] = "compose:" + r.ThreadID
		} else {
			parts[i] = r.Kind.String()
		}
	}
	return strings.Join(parts, " ")
}

func mustAdd(t *testing.T, a *Assembler, recs ...atom.Record) {
	t.Helper()
	for _, r := range recs {
		if err := a.Add(r); err != nil {
			t.Fatalf("add %s: %v", r.ID, err)
		}
	}
}

func TestPostThenReplies(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("p1", 0), reply("c1", "p1", 1), reply("c2", "p1", 2))

	if got, want := layout(a.Rows()), "root:p1 reply:c1 reply:c2 divider"; got != want {
		t.Fatalf("rows = %q, want %q", got, want)
	}
	if a.State() != StatePopulated {
		t.Fatalf("state = %v", a.State())
	}
}

func TestOutOfOrderRoot(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, reply("c1", "p1", 1))

	s, ok := a.Lookup("p1")
	if !ok || s.RootPresent {
		t.Fatalf("after reply: %+v %v", s, ok)
	}
	if got := layout(a.Rows()); got != "placeholder:p1 reply:c1 divider" {
		t.Fatalf("rows = %q", got)
	}

	mustAdd(t, a, post("p1", 0))
	s, _ = a.Lookup("p1")
	if !s.RootPresent || s.Replies != 1 {
		t.Fatalf("after root: %+v", s)
	}
	if got := layout(a.Rows()); got != "root:p1 reply:c1 divider" {
		t.Fatalf("rows = %q", got)
	}
	if len(a.Threads()) != 1 {
		t.Fatalf("placeholder thread should be reused, got %d threads", len(a.Threads()))
	}
}

func TestRegistryOrderByActivity(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("a", 0), post("b", 5), post("c", 3))
	if got := layout(a.Rows()); got != "root:b divider root:c divider root:a divider" {
		t.Fatalf("rows = %q", got)
	}

	// a fresh reply bumps the oldest thread to the top
	mustAdd(t, a, reply("r", "a", 10))
	if got := layout(a.Rows()); got != "root:a reply:r divider root:b divider root:c divider" {
		t.Fatalf("rows = %q", got)
	}

	// equal activity breaks ties by thread id
	mustAdd(t, a, post("z", 10))
	th := a.Threads()
	if th[0].ID != "a" || th[1].ID != "z" {
		t.Fatalf("tie order = %s,%s", th[0].ID, th[1].ID)
	}
}

func TestRepliesSortedAndRedelivered(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("p", 0), reply("c3", "p", 3), reply("c1", "p", 1), reply("c2", "p", 1))
	if got := layout(a.Rows()); got != "root:p reply:c1 reply:c2 reply:c3 divider" {
		t.Fatalf("rows = %q", got)
	}

	edited := reply("c1", "p", 1)
	edited.Content = "edited"
	mustAdd(t, a, edited)
	rows := a.Rows()
	if got := layout(rows); got != "root:p reply:c1 reply:c2 reply:c3 divider" {
		t.Fatalf("rows after redelivery = %q", got)
	}
	if rows[1].Record.Content != "edited" {
		t.Fatalf("content not replaced: %q", rows[1].Record.Content)
	}

	moved := reply("c1", "p", 5)
	mustAdd(t, a, moved)
	if got := layout(a.Rows()); got != "root:p reply:c2 reply:c3 reply:c1 divider" {
		t.Fatalf("rows after re-timestamp = %q", got)
	}
}

func TestRootlessCommentIsRoot(t *testing.T) {
	a := New(Config{})
	c := atom.Record{ID: "c", ObjectType: atom.Comment, Published: at(0)}
	mustAdd(t, a, c)
	if got := layout(a.Rows()); got != "root:c divider" {
		t.Fatalf("rows = %q", got)
	}
}

func TestRemove(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("p", 0), reply("c1", "p", 1), reply("c2", "p", 2), post("q", 3))

	if !a.Remove("p") {
		t.Fatalf("remove root")
	}
	if got := layout(a.Rows()); got != "root:q divider placeholder:p reply:c1 reply:c2 divider" {
		t.Fatalf("rows = %q", got)
	}

	a.Remove("c1")
	a.Remove("c2")
	if _, ok := a.Lookup("p"); ok {
		t.Fatalf("placeholder-only thread should be dropped")
	}
	if a.Remove("c2") || a.Remove("nope") {
		t.Fatalf("second remove should report false")
	}

	a.Remove("q")
	if a.State() != StateEmpty || len(a.Rows()) != 0 {
		t.Fatalf("state=%v rows=%d", a.State(), len(a.Rows()))
	}
}

func TestRetractHidesAndRevives(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("p", 0), reply("c", "p", 1), post("q", 2))

	a.Retract("c")
	rows := a.Rows()
	if got := layout(rows); got != "root:q divider root:p reply:c divider" || !rows[3].Record.Tombstone {
		t.Fatalf("single retract: %q", got)
	}

	a.Retract("p")
	if got := layout(a.Rows()); got != "root:q divider" {
		t.Fatalf("all-retracted thread still visible: %q", got)
	}
	if _, ok := a.Lookup("p"); !ok || len(a.Threads()) != 2 {
		t.Fatalf("hidden thread must stay registered")
	}
	if n, total := a.ThreadIndexOf(0); n != 1 || total != 1 {
		t.Fatalf("ThreadIndexOf = %d/%d", n, total)
	}

	mustAdd(t, a, reply("c", "p", 1))
	if got := layout(a.Rows()); got != "root:q divider root:p reply:c divider" {
		t.Fatalf("revived rows = %q", got)
	}
	if a.Retract("missing") {
		t.Fatalf("retract of unknown id should be false")
	}
}

func TestPlaceholderWithTombstonesIsHidden(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, reply("c", "p", 1))
	a.Retract("c")
	if len(a.Rows()) != 0 {
		t.Fatalf("rows = %q", layout(a.Rows()))
	}
}

func TestAddRejectsInvalid(t *testing.T) {
	a := New(Config{})
	err := a.Add(atom.Record{ID: "x", Published: at(0)})
	if !perr.IsCode(err, perr.ErrorCodeUnknownObjectType) {
		t.Fatalf("err = %v", err)
	}
	if len(a.Threads()) != 0 {
		t.Fatalf("invalid record threaded")
	}
}

func TestMovedReplyLeavesOldThread(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("p", 0), post("q", 1), reply("c", "p", 2))
	mustAdd(t, a, reply("c", "q", 2))

	if s, _ := a.Lookup("p"); s.Replies != 0 {
		t.Fatalf("p still holds reply: %+v", s)
	}
	if s, _ := a.Lookup("q"); s.Replies != 1 {
		t.Fatalf("q missing reply: %+v", s)
	}
}

func TestPagination(t *testing.T) {
	a := New(Config{Lookahead: 3, PageSize: 7})
	if !a.NeedsInitialPage() {
		t.Fatalf("empty assembler needs an initial page")
	}
	req, ok := a.RequestPaginationIfNeeded(0)
	if !ok || req.AfterID != "" || req.Max != 7 {
		t.Fatalf("initial request = %+v %v", req, ok)
	}
	if a.State() != StateLoading || a.NeedsInitialPage() {
		t.Fatalf("state = %v", a.State())
	}
	if _, ok := a.RequestPaginationIfNeeded(0); ok {
		t.Fatalf("request already outstanding")
	}

	for i := 0; i < 5; i++ {
		mustAdd(t, a, post(fmt.Sprintf("p%d", i), 10-i))
	}
	// 10 rows; reading row 2 is far from the end
	if _, ok := a.RequestPaginationIfNeeded(2); ok {
		t.Fatalf("should not paginate far from the end")
	}
	req, ok = a.RequestPaginationIfNeeded(7)
	if !ok || req.AfterID != "p4" {
		t.Fatalf("near-end request = %+v %v", req, ok)
	}

	a.PageDone()
	if a.Pending() {
		t.Fatalf("PageDone should clear")
	}
	a.RequestPaginationIfNeeded(9)
	mustAdd(t, a, post("older", -5))
	if a.Pending() {
		t.Fatalf("Add should clear the outstanding request")
	}
	if id, _ := a.OldestSeen(); id != "older" {
		t.Fatalf("oldest = %s", id)
	}
}

func TestCompose(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("p", 0), reply("c", "p", 1), post("q", 2))

	a.ComposeNewPost()
	if got := layout(a.Rows()); got != "compose root:q divider root:p reply:c divider" {
		t.Fatalf("new post compose: %q", got)
	}
	if n, _ := a.ThreadIndexOf(0); n != 0 {
		t.Fatalf("compose slot belongs to no thread, got %d", n)
	}

	if err := a.ComposeReply("p"); err != nil {
		t.Fatalf("compose reply: %v", err)
	}
	if got := layout(a.Rows()); got != "root:q divider root:p reply:c compose:p divider" {
		t.Fatalf("reply compose: %q", got)
	}
	if id, ok := a.Composing(); !ok || id != "p" {
		t.Fatalf("composing = %q %v", id, ok)
	}

	if err := a.ComposeReply("nope"); !perr.IsCode(err, perr.ErrorCodeNotFound) {
		t.Fatalf("unknown thread err = %v", err)
	}

	a.CancelCompose()
	if _, ok := a.Composing(); ok {
		t.Fatalf("compose still open")
	}
	if got := layout(a.Rows()); got != "root:q divider root:p reply:c divider" {
		t.Fatalf("rows = %q", got)
	}
}

func TestThreadIndexOf(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("a", 2), post("b", 1), reply("r", "b", 0))
	// b's activity is its reply at minute 0, so a leads
	cases := map[int]int{0: 1, 1: 1, 2: 2, 3: 2, 4: 2, 5: 0, -1: 0}
	for pos, want := range cases {
		if n, total := a.ThreadIndexOf(pos); n != want || total != 2 {
			t.Fatalf("ThreadIndexOf(%d) = %d/%d, want %d/2", pos, n, total, want)
		}
	}
}

func TestRowsSnapshotStable(t *testing.T) {
	a := New(Config{})
	mustAdd(t, a, post("a", 0))
	before := a.Rows()
	mustAdd(t, a, post("b", 1))
	if layout(before) != "root:a divider" {
		t.Fatalf("earlier snapshot mutated: %q", layout(before))
	}
	if len(a.Rows()) != 4 {
		t.Fatalf("rows = %q", layout(a.Rows()))
	}
}
