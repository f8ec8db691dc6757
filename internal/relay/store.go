package relay

import "sort"

// Store holds the last commanded state of every configured device.
// Only Controller mutates it; it is not safe for concurrent use.
type Store struct {
	state map[string]bool
}

// NewStore creates a store with every device off.
func NewStore(devices []string) *Store {
	s := &Store{state: make(map[string]bool, len(devices))}
	for _, d := range devices {
		s.state[d] = false
	}
	return s
}

// Get returns the commanded state and whether the device is known.
func (s *Store) Get(device string) (on, ok bool) {
	on, ok = s.state[device]
	return on, ok
}

// Names returns the device names in sorted order.
func (s *Store) Names() []string {
	names := make([]string, 0, len(s.state))
	for d := range s.state {
		names = append(names, d)
	}
	sort.Strings(names)
	return names
}

// Snapshot returns a copy of every commanded state.
func (s *Store) Snapshot() map[string]bool {
	out := make(map[string]bool, len(s.state))
	for d, on := range s.state {
		out[d] = on
	}
	return out
}

func (s *Store) set(device string, on bool) {
	s.state[device] = on
}
