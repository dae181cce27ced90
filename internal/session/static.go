package session

import (
	"context"
	"sync"
)

// Compile-time interface satisfaction check.
var _ Directory = (*StaticDirectory)(nil)

// StaticDirectory is an in-memory Directory, populated from configuration or
// by tests. Safe for concurrent use.
type StaticDirectory struct {
	mu     sync.RWMutex
	groups map[string][][]string // courseID -> groups -> members
	staff  map[string]map[string]bool
}

// NewStaticDirectory creates an empty directory.
func NewStaticDirectory() *StaticDirectory {
	return &StaticDirectory{
		groups: make(map[string][][]string),
		staff:  make(map[string]map[string]bool),
	}
}

// AddGroup records one group of members for the course.
func (d *StaticDirectory) AddGroup(courseID string, members ...string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.groups[courseID] = append(d.groups[courseID], members)
}

// AddStaff grants elevated rights on the course.
func (d *StaticDirectory) AddStaff(courseID, username string) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.staff[courseID] == nil {
		d.staff[courseID] = make(map[string]bool)
	}
	d.staff[courseID][username] = true
}

// GroupMembers returns the members of the first group containing username.
func (d *StaticDirectory) GroupMembers(_ context.Context, courseID, username string) ([]string, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	for _, group := range d.groups[courseID] {
		for _, m := range group {
			if m == username {
				out := make([]string, len(group))
				copy(out, group)
				return out, nil
			}
		}
	}
	return nil, nil
}

// HasStaffRights reports whether username is staff on the course.
func (d *StaticDirectory) HasStaffRights(_ context.Context, courseID, username string) (bool, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.staff[courseID][username], nil
}

// TokenAuthenticator maps bearer tokens to sessions. It backs the HTTP
// surface's auth middleware; real deployments replace it with the platform's
// session service.
type TokenAuthenticator struct {
	mu       sync.RWMutex
	sessions map[string]*Session
}

// NewTokenAuthenticator creates an authenticator with the given token map.
func NewTokenAuthenticator(tokens map[string]*Session) *TokenAuthenticator {
	if tokens == nil {
		tokens = make(map[string]*Session)
	}
	return &TokenAuthenticator{sessions: tokens}
}

// Add registers a token for the session.
func (a *TokenAuthenticator) Add(token string, s *Session) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.sessions[token] = s
}

// Lookup resolves a token to its session.
func (a *TokenAuthenticator) Lookup(token string) (*Session, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	s, ok := a.sessions[token]
	return s, ok
}
