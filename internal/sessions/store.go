// Package sessions tracks which connections each authenticated user holds.
package sessions

import (
	"errors"
	"sort"
	"sync"

	"uppy/chat/internal/auth"
)

var ErrAlreadyRegistered = errors.New("connection already registered")

// Registry maps subject -> connection ids and connection id -> identity.
// Both maps are only touched under mu, so they always agree: every
// connection in byConn is in its subject's set and no subject keeps an
// empty set.
type Registry struct {
	mu        sync.RWMutex
	bySubject map[string]map[string]struct{}
	byConn    map[string]auth.Identity
}

func NewRegistry() *Registry {
	return &Registry{
		bySubject: make(map[string]map[string]struct{}),
		byConn:    make(map[string]auth.Identity),
	}
}

func (r *Registry) Register(connID string, id auth.Identity) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byConn[connID]; ok {
		return ErrAlreadyRegistered
	}
	conns := r.bySubject[id.Subject]
	if conns == nil {
		conns = make(map[string]struct{})
		r.bySubject[id.Subject] = conns
		gaugeUsers.Inc()
	}
	conns[connID] = struct{}{}
	r.byConn[connID] = id
	gaugeConnections.Inc()
	return nil
}

// Unregister removes connID. Removing an unknown or already removed
// connection is a no-op and returns false.
func (r *Registry) Unregister(connID string) (auth.Identity, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	id, ok := r.byConn[connID]
	if !ok {
		return auth.Identity{}, false
	}
	delete(r.byConn, connID)
	gaugeConnections.Dec()
	if conns := r.bySubject[id.Subject]; conns != nil {
		delete(conns, connID)
		if len(conns) == 0 {
			delete(r.bySubject, id.Subject)
			gaugeUsers.Dec()
		}
	}
	return id, true
}

func (r *Registry) Identity(connID string) (auth.Identity, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	id, ok := r.byConn[connID]
	return id, ok
}

// Connections returns the sorted connection ids held by subject.
func (r *Registry) Connections(subject string) []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conns := r.bySubject[subject]
	out := make([]string, 0, len(conns))
	for id := range conns {
		out = append(out, id)
	}
	sort.Strings(out)
	return out
}

// Stats returns the number of distinct users and of connections.
func (r *Registry) Stats() (users, connections int) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.bySubject), len(r.byConn)
}
