package debate

import "sort"

// Store holds the active debates. It is guarded by the Service lock.
type Store struct {
	debates map[string]*Debate
}

func newStore() *Store {
	return &Store{debates: make(map[string]*Debate)}
}

// Put adds a debate.
func (s *Store) Put(d *Debate) { s.debates[d.ID] = d }

// Get returns the debate with id, or nil.
func (s *Store) Get(id string) *Debate { return s.debates[id] }

// Delete removes a debate and cancels its pending timer. It is the only way a
// debate leaves the store, so no timer outlives its debate.
func (s *Store) Delete(id string) *Debate {
	d, ok := s.debates[id]
	if !ok {
		return nil
	}
	delete(s.debates, id)
	if d.timer != nil {
		d.timer.Stop()
		d.timer = nil
	}
	d.timerSeq++
	d.Phase = PhaseEnded
	return d
}

// Len returns the number of active debates.
func (s *Store) Len() int { return len(s.debates) }

// Recent returns all debates, most recently started first.
func (s *Store) Recent() []*Debate {
	all := make([]*Debate, 0, len(s.debates))
	for _, d := range s.debates {
		all = append(all, d)
	}
	sort.Slice(all, func(i, j int) bool {
		if all[i].StartedAt.Equal(all[j].StartedAt) {
			return all[i].ID < all[j].ID
		}
		return all[i].StartedAt.After(all[j].StartedAt)
	})
	return all
}
