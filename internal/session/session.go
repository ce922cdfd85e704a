// Package session provides per-conversation state management for CampusRelay.
//
// A session tracks identity, authentication status and activity for one
// conversation channel. Sessions expire after a TTL of inactivity; an expired
// session is discarded and replaced by a fresh one, so neither authentication
// nor pending state survives expiry.
package session

import (
	"log/slog"
	"sync"
	"time"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// DefaultTTL is the default inactivity window after which a session expires.
const DefaultTTL = 30 * time.Minute

// Session holds the state of one conversation.
type Session struct {
	ID            string
	Authenticated bool
	Identity      *models.Identity // present iff Authenticated
	ChannelRef    string           // opaque token identifying where replies go
	CreatedAt     time.Time
	LastActivity  time.Time
}

// expired reports whether the session has been inactive longer than ttl.
func (s *Session) expired(ttl time.Duration, now time.Time) bool {
	return now.Sub(s.LastActivity) > ttl
}

// Store defines the injected session state interface. The in-memory
// implementation below serves a single instance; a distributed deployment
// would need session affinity or an external implementation.
type Store interface {
	// Get returns a snapshot of the session for id, creating a fresh one if
	// none exists or the existing one has expired. It bumps last-activity.
	// The snapshot is the caller's to keep; all mutations go through the
	// other Store methods, so concurrent callers never share a session.
	Get(id string) *Session

	// Authenticate marks the session as authenticated with the given identity.
	Authenticate(id string, identity *models.Identity)

	// SetChannelRef records where replies for this session should be delivered.
	SetChannelRef(id, channelRef string)

	// Delete removes the session outright.
	Delete(id string)

	// CleanupExpired removes all expired sessions and returns how many.
	CleanupExpired() int

	// Stats reports aggregate counts for the ops endpoints.
	Stats() models.SessionStats
}

// MemoryStore is the in-memory Store implementation.
type MemoryStore struct {
	mu       sync.Mutex
	sessions map[string]*Session
	ttl      time.Duration
	now      func() time.Time // injectable for tests
}

// NewMemoryStore creates a MemoryStore with the given TTL.
// A non-positive TTL falls back to DefaultTTL.
func NewMemoryStore(ttl time.Duration) *MemoryStore {
	if ttl <= 0 {
		ttl = DefaultTTL
	}
	return &MemoryStore{
		sessions: make(map[string]*Session),
		ttl:      ttl,
		now:      time.Now,
	}
}

// Get returns a snapshot of the session for id, creating or renewing as
// needed. The stored session never leaves the mutex; handing out a copy keeps
// webhook handlers and timer goroutines from racing on the same fields.
func (m *MemoryStore) Get(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	s := m.getLocked(id)
	snapshot := *s
	return &snapshot
}

// getLocked returns the live session for id, creating or renewing as needed.
// The caller must hold m.mu.
func (m *MemoryStore) getLocked(id string) *Session {
	now := m.now()
	s, ok := m.sessions[id]
	if !ok {
		s = &Session{ID: id, CreatedAt: now, LastActivity: now}
		m.sessions[id] = s
		slog.Info("MemoryStore.Get: new session created", "session_id", id)
	} else if s.expired(m.ttl, now) {
		slog.Info("MemoryStore.Get: session expired, renewing", "session_id", id)
		s = &Session{ID: id, CreatedAt: now, LastActivity: now}
		m.sessions[id] = s
	}
	s.LastActivity = now
	return s
}

// Authenticate marks the session authenticated and stores its identity.
// The identity is treated as immutable once stored.
func (m *MemoryStore) Authenticate(id string, identity *models.Identity) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := m.getLocked(id)
	s.Authenticated = true
	s.Identity = identity
	slog.Info("MemoryStore.Authenticate: session authenticated", "session_id", id, "user_id", identity.ID)
}

// SetChannelRef records the delivery reference for the session.
func (m *MemoryStore) SetChannelRef(id, channelRef string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getLocked(id).ChannelRef = channelRef
}

// Delete removes the session.
func (m *MemoryStore) Delete(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.sessions, id)
	slog.Info("MemoryStore.Delete: session cleared", "session_id", id)
}

// CleanupExpired removes expired sessions and returns how many were removed.
func (m *MemoryStore) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	var removed int
	for id, s := range m.sessions {
		if s.expired(m.ttl, now) {
			delete(m.sessions, id)
			removed++
		}
	}
	if removed > 0 {
		slog.Info("MemoryStore.CleanupExpired: removed expired sessions", "count", removed)
	}
	return removed
}

// Stats reports aggregate session counts.
func (m *MemoryStore) Stats() models.SessionStats {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := m.now()
	stats := models.SessionStats{TotalSessions: len(m.sessions)}
	for _, s := range m.sessions {
		if s.expired(m.ttl, now) {
			stats.ExpiredSessions++
			continue
		}
		stats.ActiveSessions++
		if s.Authenticated {
			stats.AuthenticatedSessions++
		}
	}
	return stats
}
