// Package presence tracks which users have at least one live connection and
// the status they picked.
package presence

import (
	"channels/backend/internal/models"
	"sort"
	"sync"
	"time"
)

type Record struct {
	UserID   string
	Status   models.PresenceStatus
	LastSeen time.Time
	conns    map[string]struct{}
}

// Connections is the number of live sockets for the user.
func (r Record) Connections() int { return len(r.conns) }

// Registry is owned by the server: created at start, closed at shutdown.
type Registry struct {
	mux    sync.Mutex
	users  map[string]*Record
	closed bool
	now    func() time.Time
}

func NewRegistry() *Registry {
	return &Registry{users: make(map[string]*Record), now: time.Now}
}

// Connect adds connID for userID and reports whether the user just came online.
func (r *Registry) Connect(userID, connID string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	if r.closed {
		return false
	}
	rec, ok := r.users[userID]
	if !ok {
		rec = &Record{UserID: userID, conns: make(map[string]struct{})}
		r.users[userID] = rec
	}
	wasOnline := len(rec.conns) > 0
	rec.conns[connID] = struct{}{}
	rec.LastSeen = r.now().UTC()
	if !wasOnline {
		if rec.Status == "" || rec.Status == models.StatusOffline {
			rec.Status = models.StatusOnline
		}
		return true
	}
	return false
}

// Disconnect removes connID and reports whether the user went offline.
func (r *Registry) Disconnect(userID, connID string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return false
	}
	if _, ok := rec.conns[connID]; !ok {
		return false
	}
	delete(rec.conns, connID)
	rec.LastSeen = r.now().UTC()
	if len(rec.conns) == 0 {
		rec.Status = models.StatusOffline
		return true
	}
	return false
}

// SetStatus changes the status of an online user. Offline cannot be chosen.
func (r *Registry) SetStatus(userID string, status models.PresenceStatus) (Record, error) {
	if !status.Selectable() {
		return Record{}, models.ErrInvalidArgument
	}
	r.mux.Lock()
	defer r.mux.Unlock()
	rec, ok := r.users[userID]
	if !ok || len(rec.conns) == 0 {
		return Record{}, models.ErrNotFound
	}
	rec.Status = status
	rec.LastSeen = r.now().UTC()
	return *rec, nil
}

func (r *Registry) Get(userID string) (Record, bool) {
	r.mux.Lock()
	defer r.mux.Unlock()
	rec, ok := r.users[userID]
	if !ok {
		return Record{UserID: userID, Status: models.StatusOffline}, false
	}
	return *rec, true
}

func (r *Registry) IsOnline(userID string) bool {
	r.mux.Lock()
	defer r.mux.Unlock()
	rec, ok := r.users[userID]
	return ok && len(rec.conns) > 0
}

// OnlineUsers returns the ids of users with live connections, sorted.
func (r *Registry) OnlineUsers() []string {
	r.mux.Lock()
	defer r.mux.Unlock()
	ids := make([]string, 0, len(r.users))
	for id, rec := range r.users {
		if len(rec.conns) > 0 {
			ids = append(ids, id)
		}
	}
	sort.Strings(ids)
	return ids
}

// Count is the number of online users.
func (r *Registry) Count() int {
	return len(r.OnlineUsers())
}

// Close drops all state; later Connect calls are ignored.
func (r *Registry) Close() {
	r.mux.Lock()
	r.closed = true
	r.users = make(map[string]*Record)
	r.mux.Unlock()
}
