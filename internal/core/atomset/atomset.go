// Package atomset keeps a channel's records sorted newest-first and unique by
// id, with cursors that stay consistent while the set is mutated under them.
package atomset

import (
	"runtime"
	"sort"
	"sync"

	"feedthreads/internal/core/atom"
	perr "feedthreads/internal/platform/errors"
)

// Set is safe for concurrent use
type Set struct {
	mu      sync.Mutex
	items   []atom.Record
	byID    map[string]atom.Record
	cursors map[uint64]*cursorState
	nextCur uint64
}

// New returns an empty Set
func New() *Set {
	return &Set{
		byID:    make(map[string]atom.Record),
		cursors: make(map[uint64]*cursorState),
	}
}

// Insert places rec at its sorted position. An identical record already
// present is a no-op (zero Record, false). A record with a known id but
// different content replaces the old one. Invalid records are rejected with
// MalformedRecord or UnknownObjectType.
func (s *Set) Insert(rec atom.Record) (atom.Record, bool, error) {
	if err := rec.Validate(); err != nil {
		return atom.Record{}, false, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if old, ok := s.byID[rec.ID]; ok {
		if old.SameContent(rec) {
			return atom.Record{}, false, nil
		}
		i, found := s.indexOf(old)
		if !found {
			return atom.Record{}, false, perr.Inconsistentf("atomset: %q indexed but not in sequence", rec.ID)
		}
		s.removeAt(i)
	}
	s.insertAt(s.insertPos(rec), rec)
	return rec, true, nil
}

// Remove drops the record with id; false when absent
func (s *Set) Remove(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	old, ok := s.byID[id]
	if !ok {
		return false
	}
	i, found := s.indexOf(old)
	if !found {
		delete(s.byID, id)
		return false
	}
	s.removeAt(i)
	return true
}

// Contains reports whether id is present
func (s *Set) Contains(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.byID[id]
	return ok
}

// Get returns the record with id
func (s *Set) Get(id string) (atom.Record, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	r, ok := s.byID[id]
	return r, ok
}

// Len returns the number of records
func (s *Set) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.items)
}

// Snapshot copies the current sequence
func (s *Set) Snapshot() []atom.Record {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]atom.Record(nil), s.items...)
}

// Iterate registers a new cursor at the head of the sequence. Close releases
// it at once; a cursor dropped without Close is released after it is collected.
func (s *Set) Iterate() *Cursor {
	s.mu.Lock()
	s.nextCur++
	id := s.nextCur
	st := &cursorState{}
	s.cursors[id] = st
	s.mu.Unlock()

	c := &Cursor{set: s, id: id, st: st}
	c.cleanup = runtime.AddCleanup(c, s.release, id)
	return c
}

// release drops a cursor's registration
func (s *Set) release(id uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.cursors, id)
}

// LiveCursors returns how many cursors are registered
func (s *Set) LiveCursors() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.cursors)
}

// insertPos is the leftmost index whose record is not newer than rec, so
// equal timestamps keep arrival order
func (s *Set) insertPos(rec atom.Record) int {
	return sort.Search(len(s.items), func(i int) bool {
		return !s.items[i].Published.After(rec.Published)
	})
}

// indexOf finds old by binary search on its timestamp, then scans the run of
// equal timestamps for the id
func (s *Set) indexOf(old atom.Record) (int, bool) {
	for i := s.insertPos(old); i < len(s.items); i++ {
		if s.items[i].ID == old.ID {
			return i, true
		}
		if !s.items[i].Published.Equal(old.Published) {
			break
		}
	}
	return -1, false
}

func (s *Set) insertAt(pos int, rec atom.Record) {
	s.items = append(s.items, atom.Record{})
	copy(s.items[pos+1:], s.items[pos:])
	s.items[pos] = rec
	s.byID[rec.ID] = rec
	for _, c := range s.cursors {
		if pos < c.next {
			c.next++
		}
	}
}

func (s *Set) removeAt(pos int) {
	delete(s.byID, s.items[pos].ID)
	s.items = append(s.items[:pos], s.items[pos+1:]...)
	for _, c := range s.cursors {
		if pos < c.next {
			c.next--
		}
	}
}

// cursorState is the part of a cursor the Set adjusts. It holds no pointer
// back to the Cursor so a registered state never keeps its holder alive.
type cursorState struct {
	next   int
	closed bool
}

// Cursor walks a Set newest-first. It yields every record still present at
// or after its position: a record inserted before the last yielded one is
// behind it, a record inserted after it is still ahead, and a record removed
// ahead of it is never yielded. Methods are safe for concurrent use with the Set.
type Cursor struct {
	set     *Set
	id      uint64
	st      *cursorState
	cleanup runtime.Cleanup
}

// Next yields the next remaining record; false when exhausted or closed
func (c *Cursor) Next() (atom.Record, bool) {
	c.set.mu.Lock()
	defer c.set.mu.Unlock()
	if c.st.closed || c.st.next >= len(c.set.items) {
		return atom.Record{}, false
	}
	r := c.set.items[c.st.next]
	c.st.next++
	return r, true
}

// Remaining reports how many records are ahead right now
func (c *Cursor) Remaining() int {
	c.set.mu.Lock()
	defer c.set.mu.Unlock()
	if c.st.closed {
		return 0
	}
	return len(c.set.items) - c.st.next
}

// Close deregisters the cursor; further Next calls report exhaustion
func (c *Cursor) Close() {
	c.set.mu.Lock()
	defer c.set.mu.Unlock()
	if c.st.closed {
		return
	}
	c.st.closed = true
	delete(c.set.cursors, c.id)
	c.cleanup.Stop()
}
