// Package syncstore provides the observable result store backing a
// reactive client: a mapping from invocation identifier to result
// entry with copy-on-write snapshots, point and broadcast
// subscriptions, monotonic versioning for discarding stale async
// writes, and entity-based collapsing of superseded invocations.
package syncstore

import (
	"sync"

	"github.com/rs/zerolog"
)

// Listener observes entry writes. Listeners run synchronously inside
// the triggering Set, after the snapshot swap, so they always observe
// the post-write state.
type Listener func(id string, entry Entry)

// Store is the result synchronization store. One instance backs one
// logical session; switching sessions must Clear it rather than create
// a second store sharing listeners.
type Store struct {
	mu       sync.Mutex
	snapshot map[string]Entry
	seq      int64

	keyListeners map[string]map[int]Listener
	allListeners map[int]Listener
	nextListener int

	logger zerolog.Logger
}

// NewStore creates an empty store.
func NewStore() *Store {
	return &Store{
		snapshot:     make(map[string]Entry),
		keyListeners: make(map[string]map[int]Listener),
		allListeners: make(map[int]Listener),
		logger:       zerolog.Nop(),
	}
}

// NewStoreWithLogger creates an empty store with structured logging.
func NewStoreWithLogger(logger zerolog.Logger) *Store {
	s := NewStore()
	s.logger = logger
	return s
}

// Get returns the entry for id.
func (s *Store) Get(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, ok := s.snapshot[id]
	return entry, ok
}

// Snapshot returns the current snapshot map. Snapshots are
// copy-on-write: the returned map is never mutated by later writes,
// and callers must treat it as read-only.
func (s *Store) Snapshot() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot
}

// Set writes the entry for id, creating it on first write. SeqNo and
// Version are store-owned: the first write assigns the next sequence
// number, later writes keep the existing one, and the caller's Version
// field is ignored in favor of the stored counter. Per-key listeners
// are notified synchronously, then broadcast listeners.
func (s *Store) Set(id string, entry Entry) {
	s.mu.Lock()
	changed := s.apply(id, entry)
	notify := s.collectListeners(changed)
	s.mu.Unlock()
	runListeners(notify)
}

// Version returns the current version counter for id, zero when the
// identifier has never been written.
func (s *Store) Version(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.snapshot[id].Version
}

// AcquireVersion increments and returns id's version counter. Callers
// starting asynchronous work acquire a version first and complete the
// write with SetIfVersion; a newer acquisition in the meantime makes
// the older write a no-op. Acquiring on an unseen identifier creates
// its entry (and assigns its SeqNo) without notifying listeners.
func (s *Store) AcquireVersion(id string) int64 {
	s.mu.Lock()
	defer s.mu.Unlock()

	next := make(map[string]Entry, len(s.snapshot)+1)
	for k, v := range s.snapshot {
		next[k] = v
	}

	entry, ok := next[id]
	if !ok {
		s.seq++
		entry.SeqNo = s.seq
	}
	entry.Version++
	next[id] = entry
	s.snapshot = next
	return entry.Version
}

// SetIfVersion writes the entry for id only if the stored version
// still equals version. It returns false, writing nothing, when a
// newer acquisition superseded the caller. This is the optimistic
// guard that keeps a stale, slow invocation from clobbering a newer
// one for the same identifier.
func (s *Store) SetIfVersion(id string, entry Entry, version int64) bool {
	s.mu.Lock()
	current, ok := s.snapshot[id]
	if !ok || current.Version != version {
		s.mu.Unlock()
		s.logger.Debug().Str("id", id).Int64("version", version).Msg("discarding stale write")
		return false
	}
	changed := s.apply(id, entry)
	notify := s.collectListeners(changed)
	s.mu.Unlock()
	runListeners(notify)
	return true
}

// Subscribe registers a listener for one identifier and returns its
// unsubscribe function.
func (s *Store) Subscribe(id string, l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListener++
	key := s.nextListener
	if s.keyListeners[id] == nil {
		s.keyListeners[id] = make(map[int]Listener)
	}
	s.keyListeners[id][key] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.keyListeners[id], key)
	}
}

// SubscribeAll registers a broadcast listener observing every write
// and returns its unsubscribe function.
func (s *Store) SubscribeAll(l Listener) func() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.nextListener++
	key := s.nextListener
	s.allListeners[key] = l
	return func() {
		s.mu.Lock()
		defer s.mu.Unlock()
		delete(s.allListeners, key)
	}
}

// FindAnchor returns the anchor entry for an entity: the entry with
// the lowest SeqNo among those sharing entityID.
func (s *Store) FindAnchor(entityID string) (string, Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return findAnchorIn(s.snapshot, entityID)
}

// LatestPerEntity returns one entry per entity (the one with the
// highest SeqNo) plus every entry with no entity, keyed by identifier.
func (s *Store) LatestPerEntity() map[string]Entry {
	s.mu.Lock()
	defer s.mu.Unlock()

	latest := make(map[string]string) // entityID -> id
	out := make(map[string]Entry)
	for id, entry := range s.snapshot {
		if entry.EntityID == "" {
			out[id] = entry
			continue
		}
		prev, ok := latest[entry.EntityID]
		if !ok || s.snapshot[prev].SeqNo < entry.SeqNo {
			if ok {
				delete(out, prev)
			}
			latest[entry.EntityID] = id
			out[id] = entry
		}
	}
	return out
}

// Clear resets the store and its sequence counter. Listeners survive a
// clear: a session switch must not silently drop subscriptions.
func (s *Store) Clear() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.snapshot = make(map[string]Entry)
	s.seq = 0
}

// Len returns the number of entries.
func (s *Store) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.snapshot)
}

// apply performs a copy-on-write replacement of the snapshot with the
// entry written at id, preserving store-owned fields and running the
// anchor merge rule. Callers hold the lock. It returns the identifiers
// whose entries changed, anchor first.
func (s *Store) apply(id string, entry Entry) []string {
	next := make(map[string]Entry, len(s.snapshot)+1)
	for k, v := range s.snapshot {
		next[k] = v
	}

	if existing, ok := next[id]; ok {
		entry.SeqNo = existing.SeqNo
		entry.Version = existing.Version
	} else {
		s.seq++
		entry.SeqNo = s.seq
		entry.Version = 0
	}
	next[id] = entry

	changed := []string{id}
	if entry.EntityID != "" && entry.Output != nil {
		anchorID, anchor, ok := findAnchorIn(next, entry.EntityID)
		if ok && anchorID != id {
			// Followup: its output belongs to the anchor. The followup's
			// own entry must never independently render.
			anchor.Output = entry.Output
			anchor.Loading = false
			next[anchorID] = anchor

			entry.Output = nil
			entry.Loading = false
			next[id] = entry

			changed = []string{anchorID, id}
			s.logger.Debug().
				Str("entity", entry.EntityID).
				Str("anchor", anchorID).
				Str("followup", id).
				Msg("merged followup into anchor")
		}
	}

	s.snapshot = next
	return changed
}

// notification is a listener invocation captured under the lock and
// run after it is released, so listeners may call back into the store.
type notification struct {
	listener Listener
	id       string
	entry    Entry
}

// collectListeners snapshots the listeners to run for the changed ids:
// per-key listeners first, then broadcast listeners, per id in order.
func (s *Store) collectListeners(changed []string) []notification {
	var out []notification
	for _, id := range changed {
		entry := s.snapshot[id]
		for _, l := range s.keyListeners[id] {
			out = append(out, notification{listener: l, id: id, entry: entry})
		}
		for _, l := range s.allListeners {
			out = append(out, notification{listener: l, id: id, entry: entry})
		}
	}
	return out
}

func runListeners(notify []notification) {
	for _, n := range notify {
		n.listener(n.id, n.entry)
	}
}

func findAnchorIn(snapshot map[string]Entry, entityID string) (string, Entry, bool) {
	var anchorID string
	var anchor Entry
	found := false
	for id, entry := range snapshot {
		if entry.EntityID != entityID {
			continue
		}
		if !found || entry.SeqNo < anchor.SeqNo {
			anchorID = id
			anchor = entry
			found = true
		}
	}
	return anchorID, anchor, found
}
