package rag

import (
	"context"
	"sync"

	"github.com/rs/zerolog/log"

	"document-qa/internal/helper"
)

// SessionFactory builds a session with the given id.
type SessionFactory func(id string) (*Session, error)

// Manager keeps independent sessions keyed by id.
type Manager struct {
	mu       sync.RWMutex
	sessions map[string]*Session
	factory  SessionFactory
}

func NewManager(factory SessionFactory) *Manager {
	return &Manager{
		sessions: make(map[string]*Session),
		factory:  factory,
	}
}

// Create starts a new session under a fresh id.
func (m *Manager) Create() (*Session, error) {
	id, err := helper.GenerateUUID()
	if err != nil {
		return nil, err
	}
	s, err := m.factory(id)
	if err != nil {
		return nil, err
	}

	m.mu.Lock()
	m.sessions[s.ID()] = s
	m.mu.Unlock()
	log.Info().Str("session", s.ID()).Msg("Session created")
	return s, nil
}

func (m *Manager) Get(id string) (*Session, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	return s, ok
}

// Delete closes the session and forgets it. A failure to remove the staging
// directory is logged; the session is gone either way.
func (m *Manager) Delete(ctx context.Context, id string) bool {
	m.mu.Lock()
	s, ok := m.sessions[id]
	delete(m.sessions, id)
	m.mu.Unlock()
	if !ok {
		return false
	}
	if err := s.Close(ctx); err != nil {
		log.Warn().Err(err).Str("session", id).Msg("Failed to remove session files")
	}
	return true
}

func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}
