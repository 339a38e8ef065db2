package stream

import (
	"context"
	"sync"

	"github.com/rs/zerolog"

	"broker-gateway/internal/broker"
	"broker-gateway/internal/errors"
	"broker-gateway/internal/models"
)

// Resolver yields the streaming capability for a broker and credential. The
// router satisfies this.
type Resolver interface {
	Stream(cred models.Credential, id models.BrokerID) (broker.Streamer, *errors.NormalizedError)
}

// Manager owns one feed session per (broker, credential) pair. Requests with
// the same credential share a session; a different credential for the same
// broker gets its own connection.
type Manager struct {
	resolver Resolver
	hub      *Hub
	config   SessionConfig
	log      zerolog.Logger

	mu       sync.Mutex
	sessions map[string]*managedSession

	onStart func(models.BrokerID, *Session)
	onEnd   func(models.BrokerID)
}

type managedSession struct {
	session *Session
	cancel  context.CancelFunc
}

// NewManager creates a session manager publishing into hub.
func NewManager(resolver Resolver, hub *Hub, config SessionConfig, log zerolog.Logger) *Manager {
	return &Manager{
		resolver: resolver,
		hub:      hub,
		config:   config,
		log:      log,
		sessions: make(map[string]*managedSession),
	}
}

// Hub returns the manager's tick hub.
func (m *Manager) Hub() *Hub { return m.hub }

// OnSessionStart registers a hook invoked for each newly started session,
// before its first dial. Set it before any session exists.
func (m *Manager) OnSessionStart(fn func(models.BrokerID, *Session)) { m.onStart = fn }

// OnSessionEnd registers a hook invoked when a session's run loop returns.
func (m *Manager) OnSessionEnd(fn func(models.BrokerID)) { m.onEnd = fn }

// Session returns the live session for a broker and credential, starting one
// if none exists or the previous one has closed.
func (m *Manager) Session(cred models.Credential, id models.BrokerID) (*Session, *errors.NormalizedError) {
	key := string(id) + "|" + cred.Token

	m.mu.Lock()
	defer m.mu.Unlock()

	if ms, ok := m.sessions[key]; ok {
		if ms.session.State() != StateClosed {
			return ms.session, nil
		}
		ms.cancel()
		delete(m.sessions, key)
	}

	streamer, nerr := m.resolver.Stream(cred, id)
	if nerr != nil {
		return nil, nerr
	}

	session := NewSession(streamer, m.hub, m.config, m.log)
	if m.onStart != nil {
		m.onStart(id, session)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		if err := session.Run(ctx); err != nil && ctx.Err() == nil {
			m.log.Error().Err(err).Str("broker", string(id)).Msg("feed session ended")
		}
		if m.onEnd != nil {
			m.onEnd(id)
		}
	}()

	m.sessions[key] = &managedSession{session: session, cancel: cancel}
	return session, nil
}

// Close stops every session and the hub.
func (m *Manager) Close() {
	m.mu.Lock()
	for key, ms := range m.sessions {
		ms.cancel()
		delete(m.sessions, key)
	}
	m.mu.Unlock()
	m.hub.Close()
}
