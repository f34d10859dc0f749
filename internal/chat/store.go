package chat

import (
	"sort"
	"sync"
	"time"
)

// ChildRef locates the subagent record that spawned a child session.
type ChildRef struct {
	ParentKey  string
	SubagentID string
}

// Store is the keyed, bounded cache of session records. It is the single
// owner of all mutable session state: every component writes through Update,
// which replaces the record atomically, so readers holding a snapshot never
// observe a partial mutation.
//
// Records returned by GetOrCreate/Peek are snapshots and must be treated as
// read-only.
type Store struct {
	mu      sync.RWMutex
	records map[string]*SessionRecord
	byChild map[string]ChildRef
	bound   int
	now     func() time.Time
}

// NewStore returns a store that evicts least-recently-touched records once
// more than bound sessions are resident.
func NewStore(bound int) *Store {
	if bound <= 0 {
		bound = 1
	}
	return &Store{
		records: make(map[string]*SessionRecord),
		byChild: make(map[string]ChildRef),
		bound:   bound,
		now:     time.Now,
	}
}

// GetOrCreate returns the current record for key, creating it with empty
// defaults on first access. Access bumps LastAccess.
func (s *Store) GetOrCreate(key string) *SessionRecord {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		rec = newSessionRecord(key, s.now())
		s.records[key] = rec
		return rec
	}
	touched := rec.clone()
	touched.LastAccess = s.now()
	s.records[key] = touched
	s.reindexChildren(key, touched)
	return touched
}

// Peek returns the record for key without creating or touching it.
func (s *Store) Peek(key string) (*SessionRecord, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec, ok := s.records[key]
	return rec, ok
}

// Update applies fn to a copy of the current record and swaps it in
// atomically. No-op when the key is not resident. LastAccess is bumped.
func (s *Store) Update(key string, fn func(*SessionRecord)) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[key]
	if !ok {
		return
	}
	next := rec.clone()
	fn(next)
	next.Key = key
	next.LastAccess = s.now()
	s.records[key] = next
	s.reindexChildren(key, next)
}

// Touch bumps a record's LastAccess without other changes.
func (s *Store) Touch(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	rec, ok := s.records[key]
	if !ok {
		return
	}
	next := rec.clone()
	next.LastAccess = s.now()
	s.records[key] = next
}

// Clear resets a record to empty defaults while keeping it resident.
// Distinct from eviction: the key stays in the cache.
func (s *Store) Clear(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.records[key]; !ok {
		return
	}
	next := newSessionRecord(key, s.now())
	s.records[key] = next
	s.reindexChildren(key, next)
}

// EvictLRU removes the least-recently-touched records until at most the
// configured bound remain. It returns the evicted keys. Eviction is computed
// purely from LastAccess: an actively-streaming session is touched on every
// event, so it is never the oldest.
func (s *Store) EvictLRU() []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if len(s.records) <= s.bound {
		return nil
	}

	type aged struct {
		key  string
		last time.Time
	}
	all := make([]aged, 0, len(s.records))
	for k, r := range s.records {
		all = append(all, aged{key: k, last: r.LastAccess})
	}
	sort.Slice(all, func(i, j int) bool { return all[i].last.Before(all[j].last) })

	evicted := make([]string, 0, len(all)-s.bound)
	for _, a := range all[:len(all)-s.bound] {
		delete(s.records, a.key)
		s.dropChildEntries(a.key)
		evicted = append(evicted, a.key)
	}
	return evicted
}

// Keys returns all resident session keys, most recently touched first.
func (s *Store) Keys() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	keys := make([]string, 0, len(s.records))
	for k := range s.records {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool {
		return s.records[keys[i]].LastAccess.After(s.records[keys[j]].LastAccess)
	})
	return keys
}

// Len returns the number of resident records.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.records)
}

// ChildRef resolves a child session key to the subagent record that spawned
// it, using the secondary index maintained on every subagent update.
func (s *Store) ChildRef(childKey string) (ChildRef, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	ref, ok := s.byChild[childKey]
	return ref, ok
}

// reindexChildren rebuilds the childKey index entries owned by parentKey.
// Terminal subagents are dropped from the index; their mirroring is over.
func (s *Store) reindexChildren(parentKey string, rec *SessionRecord) {
	s.dropChildEntries(parentKey)
	for id, sub := range rec.Subagents {
		if sub.ChildKey == "" || sub.Status.Terminal() {
			continue
		}
		s.byChild[sub.ChildKey] = ChildRef{ParentKey: parentKey, SubagentID: id}
	}
}

func (s *Store) dropChildEntries(parentKey string) {
	for child, ref := range s.byChild {
		if ref.ParentKey == parentKey {
			delete(s.byChild, child)
		}
	}
}
