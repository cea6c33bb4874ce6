package mem

import (
	"sort"
	"sync"
	"time"

	"github.com/pogo-ws/bridge/store"
)

// Config represents the InMemory store config structure.
type Config struct{}

// InMemory represents the in-memory implementation of the Store
// interface. Used in tests and transport-less dev setups.
type InMemory struct {
	cfg      *Config
	sessions map[string]*session
	occupied map[string]struct{}
	mu       sync.Mutex
}

type session struct {
	store.Session
	Expire time.Time
}

// New returns a new in-memory store.
func New(cfg Config) (*InMemory, error) {
	st := &InMemory{
		cfg:      &cfg,
		sessions: map[string]*session{},
		occupied: map[string]struct{}{},
	}
	go st.watch()
	return st, nil
}

// watch the store to clean it up.
func (m *InMemory) watch() {
	t := time.NewTicker(time.Minute)
	defer t.Stop()
	for range t.C {
		m.cleanup()
	}
}

// cleanup removes expired sessions.
func (m *InMemory) cleanup() {
	m.mu.Lock()
	defer m.mu.Unlock()

	now := time.Now()
	for token, s := range m.sessions {
		if !s.Expire.IsZero() && s.Expire.Before(now) {
			delete(m.sessions, token)
		}
	}
}

// AddSession adds a user session to the store.
func (m *InMemory) AddSession(token string, s store.Session, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := &session{Session: s}
	if ttl > 0 {
		out.Expire = time.Now().Add(ttl)
	}
	m.sessions[token] = out
	return nil
}

// GetSession retrieves a user session from the store.
func (m *InMemory) GetSession(token string) (store.Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.sessions[token]
	if !ok {
		return store.Session{}, store.ErrSessionNotFound
	}
	if !s.Expire.IsZero() && s.Expire.Before(time.Now()) {
		delete(m.sessions, token)
		return store.Session{}, store.ErrSessionNotFound
	}
	return s.Session, nil
}

// RemoveSession deletes a session from the store.
func (m *InMemory) RemoveSession(token string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.sessions, token)
	return nil
}

// MarkOccupied records a channel as having at least one subscriber.
func (m *InMemory) MarkOccupied(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.occupied[channel] = struct{}{}
	return nil
}

// MarkVacated records a channel as having lost its last subscriber.
func (m *InMemory) MarkVacated(channel string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.occupied, channel)
	return nil
}

// ListOccupied returns all currently occupied channels.
func (m *InMemory) ListOccupied() ([]string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]string, 0, len(m.occupied))
	for ch := range m.occupied {
		out = append(out, ch)
	}
	sort.Strings(out)
	return out, nil
}
