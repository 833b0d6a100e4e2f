// Package presence tracks which users currently hold a live gateway
// connection and which public key each of them is advertising.
//
// State is process-lifetime only: a restart logs every user out of presence
// without touching their durable history.
package presence

import (
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

const (
	// TypeUserConnected is broadcast when a user registers presence.
	TypeUserConnected = "userConnected"
	// TypeUserDisconnected is broadcast when a user's connection goes away.
	TypeUserDisconnected = "userDisconnected"
)

// Conn is the push half of a client connection. The registry only routes
// through it; it never owns the underlying socket.
type Conn interface {
	Push(event any) error
}

// UserConnectedEvent notifies other online users that a user came online.
type UserConnectedEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// UserDisconnectedEvent notifies other online users that a user went offline.
type UserDisconnectedEvent struct {
	Type   string `json:"type"`
	UserID int64  `json:"userId"`
}

// Registry maps authenticated users to their active connection and currently
// advertised public key. Both maps are updated as one atomic unit under a
// single lock; callers can never observe one updated and the other stale.
type Registry struct {
	mu    sync.RWMutex
	conns map[int64]Conn
	keys  map[int64]string
}

// NewRegistry creates an empty presence registry.
func NewRegistry() *Registry {
	return &Registry{
		conns: make(map[int64]Conn),
		keys:  make(map[int64]string),
	}
}

// Register inserts or overwrites both mappings for userID and broadcasts
// userConnected to every other registered connection.
//
// A second registration for the same user wins unconditionally; the
// superseded connection keeps running but stops receiving pushes. It is not
// closed or notified.
func (r *Registry) Register(userID int64, conn Conn, publicKey string) {
	r.mu.Lock()
	r.conns[userID] = conn
	r.keys[userID] = publicKey
	others := r.connsExceptLocked(userID)
	r.mu.Unlock()

	logrus.WithFields(logrus.Fields{
		"user_id":    userID,
		"public_key": truncateKey(publicKey),
	}).Info("user registered presence")

	broadcast(others, UserConnectedEvent{Type: TypeUserConnected, UserID: userID})
}

// Unregister removes the presence entry owned by conn, if any, and
// broadcasts userDisconnected. Unregistering a connection that no longer
// owns its slot (it was overwritten by a newer one) is a no-op.
func (r *Registry) Unregister(conn Conn) {
	r.mu.Lock()
	var (
		userID int64
		found  bool
	)
	for id, registered := range r.conns {
		if registered == conn {
			userID = id
			found = true
			break
		}
	}
	if found {
		delete(r.conns, userID)
		delete(r.keys, userID)
	}
	others := r.connsExceptLocked(userID)
	r.mu.Unlock()

	if !found {
		return
	}

	logrus.WithField("user_id", userID).Info("user unregistered presence")

	broadcast(others, UserDisconnectedEvent{Type: TypeUserDisconnected, UserID: userID})
}

// Lookup returns the active connection for userID. A missing entry means the
// user is offline, which is a normal condition, not an error.
func (r *Registry) Lookup(userID int64) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[userID]
	return conn, ok
}

// LookupKey returns the public key userID most recently advertised.
func (r *Registry) LookupKey(userID int64) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	key, ok := r.keys[userID]
	return key, ok
}

// Snapshot returns the sorted ids of all currently online users.
func (r *Registry) Snapshot() []int64 {
	r.mu.RLock()
	ids := make([]int64, 0, len(r.conns))
	for id := range r.conns {
		ids = append(ids, id)
	}
	r.mu.RUnlock()

	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

func (r *Registry) connsExceptLocked(userID int64) map[int64]Conn {
	others := make(map[int64]Conn, len(r.conns))
	for id, conn := range r.conns {
		if id == userID {
			continue
		}
		others[id] = conn
	}
	return others
}

// broadcast runs outside the registry lock; a slow or dead connection must
// not stall registration.
func broadcast(conns map[int64]Conn, event any) {
	for id, conn := range conns {
		if err := conn.Push(event); err != nil {
			logrus.WithFields(logrus.Fields{
				"user_id": id,
				"error":   err,
			}).Debug("presence broadcast push failed")
		}
	}
}

func truncateKey(key string) string {
	if len(key) <= 10 {
		return key
	}
	return key[:10] + "..."
}
