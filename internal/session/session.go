// Package session holds per-client authentication state.
package session

import "sync"

// Identity is what a session knows about its user.
type Identity struct {
	UserID      uint
	Username    string
	IsAdmin     bool
	ShowWelcome bool
	// Origin is the name of the store that authenticated the user.
	Origin string
}

func (i Identity) Authenticated() bool {
	return i.Username != ""
}

// State is the mutable identity of a single session.
type State struct {
	mu       sync.Mutex
	identity Identity
}

func (s *State) Establish(id Identity) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = id
}

func (s *State) Current() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.identity
}

// ReadIdentity returns the identity and clears the welcome flag in the same
// step, so exactly one reader observes ShowWelcome.
func (s *State) ReadIdentity() Identity {
	s.mu.Lock()
	defer s.mu.Unlock()
	id := s.identity
	s.identity.ShowWelcome = false
	return id
}

func (s *State) Destroy() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identity = Identity{}
}
