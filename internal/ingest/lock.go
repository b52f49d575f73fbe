package ingest

import "sync"

// sourceLock hands out one mutex per source ID so same-source work
// serializes while distinct sources proceed in parallel. Entries are
// reference-counted and dropped when the last holder releases, keeping
// the map from growing with every source ever seen.
type sourceLock struct {
	mu    sync.Mutex
	locks map[string]*lockEntry
}

type lockEntry struct {
	mu   sync.Mutex
	refs int
}

func newSourceLock() *sourceLock {
	return &sourceLock{locks: make(map[string]*lockEntry)}
}

// Lock blocks until the source is free and returns the matching unlock.
func (s *sourceLock) Lock(sourceID string) (unlock func()) {
	s.mu.Lock()
	e, ok := s.locks[sourceID]
	if !ok {
		e = &lockEntry{}
		s.locks[sourceID] = e
	}
	e.refs++
	s.mu.Unlock()

	e.mu.Lock()

	return func() {
		e.mu.Unlock()

		s.mu.Lock()
		e.refs--
		if e.refs == 0 {
			delete(s.locks, sourceID)
		}
		s.mu.Unlock()
	}
}
