package syncbroker

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// RegisterOutcome reports what Register did: admitted fresh, replaced a
// stale session for the same user, or rejected because the registry is full.
type RegisterOutcome int

const (
	RegisterOK RegisterOutcome = iota
	RegisterReplaced
	RegisterAtCapacity
)

type connection struct {
	SessionID     string
	Endpoint      string
	LastHeartbeat time.Time
}

// Registry tracks which users currently hold a live WebSocket connection.
type Registry struct {
	mu          sync.RWMutex
	connections map[string]*connection // userID -> connection
	maxClients  int
}

// NewRegistry constructs a presence registry with an optional capacity cap
// (0 means unbounded).
func NewRegistry(maxClients int) *Registry {
	return &Registry{connections: make(map[string]*connection), maxClients: maxClients}
}

// Register admits a user's connection, replacing any prior one for the same
// user, or rejecting if the registry is already at capacity.
func (r *Registry) Register(userID, endpoint string) (RegisterOutcome, string) {
	r.mu.Lock()
	defer r.mu.Unlock()

	_, existed := r.connections[userID]
	if !existed && r.maxClients > 0 && len(r.connections) >= r.maxClients {
		return RegisterAtCapacity, ""
	}

	sessionID := uuid.NewString()
	r.connections[userID] = &connection{SessionID: sessionID, Endpoint: endpoint, LastHeartbeat: time.Now()}
	if existed {
		return RegisterReplaced, sessionID
	}
	return RegisterOK, sessionID
}

// Heartbeat refreshes a user's last-seen time; returns false if the user
// isn't currently registered.
func (r *Registry) Heartbeat(userID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	conn, ok := r.connections[userID]
	if !ok {
		return false
	}
	conn.LastHeartbeat = time.Now()
	return true
}

// Disconnect removes a user's connection entry.
func (r *Registry) Disconnect(userID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.connections, userID)
}

// IsOnline reports whether a user currently holds a live connection.
func (r *Registry) IsOnline(userID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.connections[userID]
	return ok
}

// Endpoint returns the last-registered endpoint for an online user.
func (r *Registry) Endpoint(userID string) (string, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.connections[userID]
	if !ok {
		return "", false
	}
	return conn.Endpoint, true
}

// Count returns the number of currently registered users.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.connections)
}
