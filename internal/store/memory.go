package store

import (
	"context"
	"log/slog"
	"sync"

	"github.com/campusrelay/CampusRelay/internal/models"
)

// MemoryStore provides an in-memory Store implementation for tests and
// development runs without a database.
type MemoryStore struct {
	mu    sync.RWMutex
	users map[string]models.User // keyed by user id
	byCre map[string]string      // credential -> user id
	links map[string]string      // session id -> user id
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users: make(map[string]models.User),
		byCre: make(map[string]string),
		links: make(map[string]string),
	}
}

// AddUser registers a user record. Intended for tests and seed data.
func (m *MemoryStore) AddUser(u models.User) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.users[u.ID] = u
	m.byCre[u.Credential] = u.ID
	slog.Debug("MemoryStore AddUser", "id", u.ID)
}

func (m *MemoryStore) GetUserByCredential(_ context.Context, credential string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.byCre[credential]
	if !ok {
		return models.User{}, models.ErrUserNotFound
	}
	return m.users[id], nil
}

func (m *MemoryStore) GetUserByID(_ context.Context, id string) (models.User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return models.User{}, models.ErrUserNotFound
	}
	return u, nil
}

func (m *MemoryStore) SaveIdentityLink(_ context.Context, sessionID, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.links[sessionID] = userID
	slog.Debug("MemoryStore SaveIdentityLink", "session", sessionID, "user", userID)
	return nil
}

func (m *MemoryStore) GetIdentityLink(_ context.Context, sessionID string) (string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.links[sessionID]
	if !ok {
		return "", models.ErrLinkNotFound
	}
	return id, nil
}

func (m *MemoryStore) DeleteIdentityLink(_ context.Context, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.links, sessionID)
	slog.Debug("MemoryStore DeleteIdentityLink", "session", sessionID)
	return nil
}

func (m *MemoryStore) Close() error {
	return nil
}
