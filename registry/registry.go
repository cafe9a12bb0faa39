// Package registry implements PeerRegistry: the process-wide table of
// known peers (name -> advertised user-info). It does not track sessions;
// the active PeerSession for each name is held by parlor.Client.
// Grounded directly on the teacher's internal/state/peers.go
// PeerTable (upsert/remove/prune/subscribe fanout shape), generalized from
// a peer-ID-keyed table to a bare-name-keyed one per spec.md §3's
// KnownPeer entity.
package registry

import (
	"sync"
	"time"
)

// KnownPeer is a peer discovered via an announce frame.
type KnownPeer struct {
	Name      string
	UserInfo  map[string]any
	FirstSeen time.Time
	LastSeen  time.Time
}

// EventType distinguishes the kinds of registry change notifications.
type EventType string

const (
	EventUpdate EventType = "update"
	EventRemove EventType = "remove"
)

// Event is delivered to Registry subscribers on every mutation.
type Event struct {
	Type EventType
	Name string
	Peer *KnownPeer
}

// Registry is the process-wide known-peer table. All methods are safe for
// concurrent use.
type Registry struct {
	mu        sync.Mutex
	peers     map[string]KnownPeer
	listeners []chan Event
}

// New constructs an empty Registry.
func New() *Registry {
	return &Registry{peers: make(map[string]KnownPeer)}
}

// Observe records an announce/update from name, preserving FirstSeen across
// repeated announcements.
func (r *Registry) Observe(name string, userInfo map[string]any) KnownPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	now := time.Now()
	firstSeen := now
	if existing, ok := r.peers[name]; ok {
		firstSeen = existing.FirstSeen
	}
	kp := KnownPeer{Name: name, UserInfo: userInfo, FirstSeen: firstSeen, LastSeen: now}
	r.peers[name] = kp
	r.notify(Event{Type: EventUpdate, Name: name, Peer: &kp})
	return kp
}

// Rename moves the KnownPeer entry at oldName to newName, preserving
// FirstSeen/UserInfo (spec.md §3: name_change mutates, does not recreate).
func (r *Registry) Rename(oldName, newName string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kp, ok := r.peers[oldName]
	if !ok {
		return
	}
	delete(r.peers, oldName)
	kp.Name = newName
	kp.LastSeen = time.Now()
	r.peers[newName] = kp
	r.notify(Event{Type: EventRemove, Name: oldName})
	r.notify(Event{Type: EventUpdate, Name: newName, Peer: &kp})
}

// Remove deletes the KnownPeer entry for name (an explicit "unload" frame).
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.peers[name]; !ok {
		return
	}
	delete(r.peers, name)
	r.notify(Event{Type: EventRemove, Name: name})
}

// Get returns the KnownPeer for name, if any.
func (r *Registry) Get(name string) (KnownPeer, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	kp, ok := r.peers[name]
	return kp, ok
}

// Names returns every currently known bare name.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	names := make([]string, 0, len(r.peers))
	for n := range r.peers {
		names = append(names, n)
	}
	return names
}

// Snapshot returns a copy of the full known-peer table.
func (r *Registry) Snapshot() map[string]KnownPeer {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := make(map[string]KnownPeer, len(r.peers))
	for k, v := range r.peers {
		cp[k] = v
	}
	return cp
}

// PruneStale removes peers whose LastSeen is older than cutoff — a
// simplified single-stage version of the teacher's two-stage TTL+grace
// prune, since KnownPeer (unlike SeenPeer) carries no reachability state
// of its own; reachability lives on the PeerSession instead.
func (r *Registry) PruneStale(cutoff time.Time) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for name, kp := range r.peers {
		if kp.LastSeen.Before(cutoff) {
			delete(r.peers, name)
			r.notify(Event{Type: EventRemove, Name: name})
		}
	}
}

// Subscribe returns a channel of registry change events. The caller must
// call Unsubscribe when done.
func (r *Registry) Subscribe() chan Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	ch := make(chan Event, 16)
	r.listeners = append(r.listeners, ch)
	return ch
}

// Unsubscribe detaches and closes a channel returned by Subscribe.
func (r *Registry) Unsubscribe(ch chan Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, l := range r.listeners {
		if l == ch {
			close(l)
			r.listeners = append(r.listeners[:i], r.listeners[i+1:]...)
			return
		}
	}
}

func (r *Registry) notify(evt Event) {
	for _, ch := range r.listeners {
		select {
		case ch <- evt:
		default:
		}
	}
}
