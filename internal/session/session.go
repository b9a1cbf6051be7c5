// Package session implements opaque-token session management and a
// sliding-window per-IP authentication rate limiter.
package session

import (
	"crypto/rand"
	"encoding/hex"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"
)

// EncryptionKey is an opaque per-session symmetric key, never serialized
// into the wire-facing UserSession DTO.
type EncryptionKey []byte

// activeSession is the full internal record, including the encryption key.
// It is deliberately unexported: only UserSession crosses the API boundary.
type activeSession struct {
	SessionID     string
	UserID        string
	Token         string
	EncryptionKey EncryptionKey
	CreatedAt     time.Time
	ExpiresAt     time.Time
}

// UserSession is the redacted, wire-facing view of a session: no key
// material, no raw token.
type UserSession struct {
	SessionID       string    `json:"session_id"`
	UserID          string    `json:"user_id"`
	Endpoint        string    `json:"endpoint"`
	EncryptionKeyID *string   `json:"encryption_key_id,omitempty"`
	CreatedAt       time.Time `json:"created_at"`
	LastHeartbeat   time.Time `json:"last_heartbeat"`
	ExpiresAt       time.Time `json:"expires_at"`
}

func generateSessionToken() (string, error) {
	buf := make([]byte, 32)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}

// Manager tracks active sessions keyed by opaque token.
type Manager struct {
	mu             sync.RWMutex
	sessions       map[string]*activeSession
	timeoutSeconds int64
}

// NewManager constructs a session manager with the given session lifetime.
func NewManager(timeoutSeconds int64) *Manager {
	if timeoutSeconds <= 0 {
		timeoutSeconds = 3600
	}
	return &Manager{sessions: make(map[string]*activeSession), timeoutSeconds: timeoutSeconds}
}

// CreateSession mints a new opaque token and returns it alongside the
// redacted UserSession DTO.
func (m *Manager) CreateSession(userID string, key EncryptionKey) (string, UserSession, error) {
	token, err := generateSessionToken()
	if err != nil {
		return "", UserSession{}, err
	}
	now := time.Now()
	expires := now.Add(time.Duration(m.timeoutSeconds) * time.Second)
	sess := &activeSession{
		SessionID:     uuid.NewString(),
		UserID:        userID,
		Token:         token,
		EncryptionKey: key,
		CreatedAt:     now,
		ExpiresAt:     expires,
	}

	m.mu.Lock()
	m.sessions[token] = sess
	m.mu.Unlock()

	slog.Info("session: created", "user_id", userID, "session_id", sess.SessionID)

	return token, UserSession{
		SessionID:     sess.SessionID,
		UserID:        userID,
		Endpoint:      "",
		CreatedAt:     now,
		LastHeartbeat: now,
		ExpiresAt:     expires,
	}, nil
}

// ValidateToken returns the (sessionID, userID) pair for a live, unexpired token.
func (m *Manager) ValidateToken(token string) (sessionID, userID string, ok bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, found := m.sessions[token]
	if !found || time.Now().After(sess.ExpiresAt) {
		return "", "", false
	}
	return sess.SessionID, sess.UserID, true
}

// GetEncryptionKey returns the key bound to a token, if the session is live.
func (m *Manager) GetEncryptionKey(token string) (EncryptionKey, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	sess, found := m.sessions[token]
	if !found || time.Now().After(sess.ExpiresAt) {
		return nil, false
	}
	return sess.EncryptionKey, true
}

// SetEncryptionKey rebinds the key for an existing session.
func (m *Manager) SetEncryptionKey(token string, key EncryptionKey) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, found := m.sessions[token]
	if !found {
		return false
	}
	sess.EncryptionKey = key
	return true
}

// RevokeSession deletes a single session by token.
func (m *Manager) RevokeSession(token string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, token)
}

// RevokeUserSessions deletes every session belonging to a user, returning
// the count removed.
func (m *Manager) RevokeUserSessions(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for token, sess := range m.sessions {
		if sess.UserID == userID {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

// Sweep removes expired sessions and returns the count removed, following
// the broker-style sweep idiom used elsewhere in this codebase.
func (m *Manager) Sweep() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	n := 0
	for token, sess := range m.sessions {
		if now.After(sess.ExpiresAt) {
			delete(m.sessions, token)
			n++
		}
	}
	return n
}

// SessionCount returns the number of live sessions tracked.
func (m *Manager) SessionCount() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

// Stats returns manager statistics for monitoring/debugging.
func (m *Manager) Stats() map[string]interface{} {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return map[string]interface{}{
		"session_count":   len(m.sessions),
		"timeout_seconds": m.timeoutSeconds,
	}
}
