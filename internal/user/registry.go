package user

import (
	"sort"
	"sync"

	"github.com/roelfdiedericks/chatgate/internal/config"
)

// Registry maintains the set of known users
type Registry struct {
	users map[string]*User
	mu    sync.RWMutex
}

// NewRegistry builds a registry from the configured users
func NewRegistry(users []config.UserConfig) *Registry {
	r := &Registry{}
	r.Replace(users)
	return r
}

// Replace swaps the user set, used on config reload
func (r *Registry) Replace(users []config.UserConfig) {
	m := make(map[string]*User, len(users))
	for _, u := range users {
		m[u.ID] = &User{ID: u.ID, Name: u.Name, PasswordHash: u.PasswordHash}
	}
	r.mu.Lock()
	r.users = m
	r.mu.Unlock()
}

// Get returns a user by ID, nil if unknown
func (r *Registry) Get(id string) *User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.users[id]
}

// List returns all users sorted by ID
func (r *Registry) List() []*User {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]*User, 0, len(r.users))
	for _, u := range r.users {
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// HasAuthUsers reports whether at least one user can log in
func (r *Registry) HasAuthUsers() bool {
	for _, u := range r.List() {
		if u.HasAuth() {
			return true
		}
	}
	return false
}
