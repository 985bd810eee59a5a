package pipeline

import "sync"

// sequencer is a keyed mutex: updates from the same user process strictly
// in arrival order while different users proceed concurrently. Entries are
// reference-counted and removed once the last holder releases.
type sequencer struct {
	mu   sync.Mutex
	keys map[int64]*sequencerEntry
}

type sequencerEntry struct {
	lock sync.Mutex
	refs int
}

func newSequencer() *sequencer {
	return &sequencer{keys: make(map[int64]*sequencerEntry)}
}

// Lock acquires the per-key lock and returns the release function.
func (s *sequencer) Lock(key int64) func() {
	s.mu.Lock()
	entry, ok := s.keys[key]
	if !ok {
		entry = &sequencerEntry{}
		s.keys[key] = entry
	}
	entry.refs++
	s.mu.Unlock()

	entry.lock.Lock()

	return func() {
		entry.lock.Unlock()
		s.mu.Lock()
		entry.refs--
		if entry.refs == 0 {
			delete(s.keys, key)
		}
		s.mu.Unlock()
	}
}
