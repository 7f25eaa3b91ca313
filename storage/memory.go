package storage

import (
	"context"
	"maps"
	"sync"
	"time"

	"sessiond/core"

	"github.com/google/uuid"
)

type federatedKey struct {
	provider       core.Provider
	providerUserID string
}

// MemoryRepository keeps everything in process memory. One mutex guards
// all maps, which makes every operation atomic.
type MemoryRepository struct {
	mu            sync.Mutex
	usersByID     map[uuid.UUID]*core.User
	usersByEmail  map[string]uuid.UUID
	usernames     map[string]uuid.UUID
	federated     map[federatedKey]uuid.UUID
	refreshTokens map[string]*core.RefreshToken // token hash -> token

	// Track method calls for verification
	CreateUserCalls int
	RotateCalls     int
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		usersByID:     make(map[uuid.UUID]*core.User),
		usersByEmail:  make(map[string]uuid.UUID),
		usernames:     make(map[string]uuid.UUID),
		federated:     make(map[federatedKey]uuid.UUID),
		refreshTokens: make(map[string]*core.RefreshToken),
	}
}

func (m *MemoryRepository) FindByID(ctx context.Context, id uuid.UUID) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(id)
}

func (m *MemoryRepository) FindByEmail(ctx context.Context, email string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.usersByEmail[email]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m.snapshot(id)
}

func (m *MemoryRepository) FindByFederatedID(ctx context.Context, provider core.Provider, providerUserID string) (*core.User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	id, ok := m.federated[federatedKey{provider, providerUserID}]
	if !ok {
		return nil, core.ErrNotFound
	}
	return m.snapshot(id)
}

func (m *MemoryRepository) CreateUser(ctx context.Context, user *core.User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.CreateUserCalls++

	if _, exists := m.usersByEmail[user.Email]; exists {
		return core.ErrDuplicateEmail
	}
	if user.Username != nil {
		if _, exists := m.usernames[*user.Username]; exists {
			return core.ErrUsernameTaken
		}
	}
	for provider, providerUserID := range user.FederatedIdentities {
		if _, exists := m.federated[federatedKey{provider, providerUserID}]; exists {
			return core.ErrIdentityLinked
		}
	}

	stored := *user
	stored.FederatedIdentities = maps.Clone(user.FederatedIdentities)
	if stored.FederatedIdentities == nil {
		stored.FederatedIdentities = map[core.Provider]string{}
	}
	stored.RefreshTokens = nil

	m.usersByID[user.ID] = &stored
	m.usersByEmail[user.Email] = user.ID
	if user.Username != nil {
		m.usernames[*user.Username] = user.ID
	}
	for provider, providerUserID := range user.FederatedIdentities {
		m.federated[federatedKey{provider, providerUserID}] = user.ID
	}

	return nil
}

func (m *MemoryRepository) LinkFederatedIdentity(ctx context.Context, userID uuid.UUID, provider core.Provider, providerUserID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[userID]
	if !ok {
		return core.ErrNotFound
	}

	key := federatedKey{provider, providerUserID}
	if owner, exists := m.federated[key]; exists && owner != userID {
		return core.ErrIdentityLinked
	}

	if previous, linked := user.FederatedIdentities[provider]; linked {
		delete(m.federated, federatedKey{provider, previous})
	}
	user.FederatedIdentities[provider] = providerUserID
	user.UpdatedAt = time.Now()
	m.federated[key] = userID

	return nil
}

func (m *MemoryRepository) UpdateUsername(ctx context.Context, userID uuid.UUID, username string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	user, ok := m.usersByID[userID]
	if !ok {
		return core.ErrNotFound
	}
	if owner, exists := m.usernames[username]; exists && owner != userID {
		return core.ErrUsernameTaken
	}

	if user.Username != nil {
		delete(m.usernames, *user.Username)
	}
	user.Username = &username
	user.UpdatedAt = time.Now()
	m.usernames[username] = userID

	return nil
}

func (m *MemoryRepository) AddRefreshToken(ctx context.Context, token *core.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.usersByID[token.UserID]; !ok {
		return core.ErrNotFound
	}

	stored := *token
	m.refreshTokens[token.TokenHash] = &stored
	return nil
}

func (m *MemoryRepository) RotateRefreshToken(ctx context.Context, userID uuid.UUID, oldHash string, next *core.RefreshToken) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.RotateCalls++

	current, ok := m.refreshTokens[oldHash]
	if !ok || current.UserID != userID {
		return core.ErrNotFound
	}

	delete(m.refreshTokens, oldHash)
	stored := *next
	m.refreshTokens[next.TokenHash] = &stored
	return nil
}

func (m *MemoryRepository) HasRefreshToken(ctx context.Context, userID uuid.UUID, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	token, ok := m.refreshTokens[tokenHash]
	return ok && token.UserID == userID, nil
}

func (m *MemoryRepository) DeleteRefreshToken(ctx context.Context, tokenHash string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.refreshTokens[tokenHash]; !ok {
		return false, nil
	}
	delete(m.refreshTokens, tokenHash)
	return true, nil
}

func (m *MemoryRepository) DeleteAllUserRefreshTokens(ctx context.Context, userID uuid.UUID) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var count int64
	for hash, token := range m.refreshTokens {
		if token.UserID == userID {
			delete(m.refreshTokens, hash)
			count++
		}
	}
	return count, nil
}

func (m *MemoryRepository) DeleteExpiredRefreshTokens(ctx context.Context) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	var count int64
	for hash, token := range m.refreshTokens {
		if now.After(token.ExpiresAt) {
			delete(m.refreshTokens, hash)
			count++
		}
	}
	return count, nil
}

// snapshot returns a deep copy so callers never share state with the store.
// The caller must hold m.mu.
func (m *MemoryRepository) snapshot(id uuid.UUID) (*core.User, error) {
	user, ok := m.usersByID[id]
	if !ok {
		return nil, core.ErrNotFound
	}

	copied := *user
	copied.FederatedIdentities = maps.Clone(user.FederatedIdentities)
	if user.Username != nil {
		username := *user.Username
		copied.Username = &username
	}
	if user.PasswordHash != nil {
		hash := *user.PasswordHash
		copied.PasswordHash = &hash
	}

	copied.RefreshTokens = nil
	for _, token := range m.refreshTokens {
		if token.UserID == id {
			copied.RefreshTokens = append(copied.RefreshTokens, *token)
		}
	}

	return &copied, nil
}
