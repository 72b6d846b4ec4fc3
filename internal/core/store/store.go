// Package store holds the last-known-good state per shade. Writers are the
// per-hub poller actors (single writer per hub); readers are the HTTP server
// and tests. A transient poll failure never blanks a previously good value,
// it only clears the reachability flag.
package store

import (
	"sort"
	"sync"
	"time"

	"github.com/berfenger/shadeauto2mqtt/internal/core/domain"
)

// ShadeState is the cached read model for one shade.
type ShadeState struct {
	Hub  string
	UID  string
	Name string

	Position      int
	PositionKnown bool

	RawBattery      float64
	RawBatteryKnown bool
	Battery         domain.BatteryReading

	Reachable bool
	UpdatedAt time.Time
}

// ShadeUpdate is the outcome of one successful poll of one shade.
// Nil fields mean the hub omitted the value; cached values are kept.
type ShadeUpdate struct {
	Name       string
	Position   *int
	RawBattery *float64
	Battery    domain.BatteryReading
}

type Store struct {
	mu   sync.RWMutex
	hubs map[string]map[string]*ShadeState
	now  func() time.Time
}

func NewStore() *Store {
	return &Store{
		hubs: map[string]map[string]*ShadeState{},
		now:  time.Now,
	}
}

// Upsert merges a fresh poll result and clears the unreachable flag.
// Creates the entry if unseen. Returns the merged state and whether any
// reader-visible field changed.
func (s *Store) Upsert(hub, uid string, update ShadeUpdate) (ShadeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	shades, ok := s.hubs[hub]
	if !ok {
		shades = map[string]*ShadeState{}
		s.hubs[hub] = shades
	}
	cur, ok := shades[uid]
	if !ok {
		cur = &ShadeState{Hub: hub, UID: uid}
		shades[uid] = cur
	}
	prev := *cur

	if update.Name != "" {
		cur.Name = update.Name
	}
	if update.Position != nil {
		cur.Position = *update.Position
		cur.PositionKnown = true
	}
	if update.RawBattery != nil {
		cur.RawBattery = *update.RawBattery
		cur.RawBatteryKnown = true
	}
	if update.Battery.Known {
		cur.Battery = update.Battery
	}
	cur.Reachable = true
	cur.UpdatedAt = s.now()

	return *cur, !equalVisible(prev, *cur)
}

// MarkUnreachable flips the reachability flag and leaves cached position and
// battery untouched. Unknown shades are ignored.
func (s *Store) MarkUnreachable(hub, uid string) (ShadeState, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cur, ok := s.hubs[hub][uid]
	if !ok {
		return ShadeState{}, false
	}
	if !cur.Reachable {
		return *cur, false
	}
	cur.Reachable = false
	cur.UpdatedAt = s.now()
	return *cur, true
}

// MarkHubUnreachable marks every shade of a hub unreachable and returns the
// states that changed.
func (s *Store) MarkHubUnreachable(hub string) []ShadeState {
	s.mu.Lock()
	defer s.mu.Unlock()

	var changed []ShadeState
	for _, cur := range s.hubs[hub] {
		if cur.Reachable {
			cur.Reachable = false
			cur.UpdatedAt = s.now()
			changed = append(changed, *cur)
		}
	}
	sortStates(changed)
	return changed
}

// Remove deletes a shade entry (hub-side removal).
func (s *Store) Remove(hub, uid string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.hubs[hub][uid]; !ok {
		return false
	}
	delete(s.hubs[hub], uid)
	return true
}

// RemoveHub purges every shade of a hub and returns how many were removed.
func (s *Store) RemoveHub(hub string) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := len(s.hubs[hub])
	delete(s.hubs, hub)
	return n
}

// Get returns a copy of one shade's state.
func (s *Store) Get(hub, uid string) (ShadeState, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	cur, ok := s.hubs[hub][uid]
	if !ok {
		return ShadeState{}, false
	}
	return *cur, true
}

// HubForShade resolves which hub owns a shade.
func (s *Store) HubForShade(uid string) (string, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for hub, shades := range s.hubs {
		if _, ok := shades[uid]; ok {
			return hub, true
		}
	}
	return "", false
}

// ShadeUIDs returns the known shade UIDs of a hub, sorted.
func (s *Store) ShadeUIDs(hub string) []string {
	s.mu.RLock()
	defer s.mu.RUnlock()

	uids := make([]string, 0, len(s.hubs[hub]))
	for uid := range s.hubs[hub] {
		uids = append(uids, uid)
	}
	sort.Strings(uids)
	return uids
}

// Snapshot returns a consistent point-in-time copy of every shade state,
// ordered by hub then UID.
func (s *Store) Snapshot() []ShadeState {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []ShadeState
	for _, shades := range s.hubs {
		for _, cur := range shades {
			out = append(out, *cur)
		}
	}
	sortStates(out)
	return out
}

func sortStates(states []ShadeState) {
	sort.Slice(states, func(i, j int) bool {
		if states[i].Hub != states[j].Hub {
			return states[i].Hub < states[j].Hub
		}
		return states[i].UID < states[j].UID
	})
}

func equalVisible(a, b ShadeState) bool {
	return a.Name == b.Name &&
		a.Position == b.Position &&
		a.PositionKnown == b.PositionKnown &&
		a.Battery == b.Battery &&
		a.Reachable == b.Reachable
}
