package auth

import (
	"context"
	"sync"
	"time"
)

type memUserStore struct {
	mu    sync.Mutex
	users map[string]*User
}

func newMemUserStore() *memUserStore {
	return &memUserStore{users: map[string]*User{}}
}

func (m *memUserStore) FindByUsername(_ context.Context, username string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, u := range m.users {
		if u.Username == username {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrUserNotFound
}

func (m *memUserStore) FindByID(_ context.Context, id string) (*User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrUserNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUserStore) List(_ context.Context, filter UserFilter) ([]User, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []User
	for _, u := range m.users {
		if filter.Role != "" && u.Role != filter.Role {
			continue
		}
		if filter.Active != nil && u.Active != *filter.Active {
			continue
		}
		out = append(out, *u)
	}
	return out, nil
}

func (m *memUserStore) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Username == u.Username {
			return ErrUsernameTaken
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUserStore) Update(ctx context.Context, id string, upd UserUpdate) (*User, error) {
	m.mu.Lock()
	u, ok := m.users[id]
	if !ok {
		m.mu.Unlock()
		return nil, ErrUserNotFound
	}
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.PasswordHash != nil {
		u.PasswordHash = *upd.PasswordHash
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Active != nil {
		u.Active = *upd.Active
	}
	u.UpdatedAt = time.Now()
	m.mu.Unlock()
	return m.FindByID(ctx, id)
}

type memRefreshStore struct {
	mu      sync.Mutex
	records map[string]RefreshRecord
}

func newMemRefreshStore() *memRefreshStore {
	return &memRefreshStore{records: map[string]RefreshRecord{}}
}

func (m *memRefreshStore) ReplaceForUser(_ context.Context, userID, token string, expiresAt time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := time.Now()
	for k, r := range m.records {
		if r.UserID == userID || !r.ExpiresAt.After(now) {
			delete(m.records, k)
		}
	}
	m.records[token] = RefreshRecord{Token: token, UserID: userID, ExpiresAt: expiresAt}
	return nil
}

func (m *memRefreshStore) FindValid(_ context.Context, token string, now time.Time) (*RefreshRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	r, ok := m.records[token]
	if !ok || !r.ExpiresAt.After(now) {
		return nil, ErrRefreshRevoked
	}
	return &r, nil
}

func (m *memRefreshStore) Delete(_ context.Context, token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.records, token)
	return nil
}

func (m *memRefreshStore) PurgeExpired(_ context.Context, now time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for k, r := range m.records {
		if !r.ExpiresAt.After(now) {
			delete(m.records, k)
			n++
		}
	}
	return n, nil
}

func (m *memRefreshStore) count() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.records)
}
