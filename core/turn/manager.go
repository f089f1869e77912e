package turn

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
)

// ErrTurnActive rejects a send issued while a previous turn is still
// streaming.
var ErrTurnActive = errors.New("a turn is already being processed")

type ChatStreamer interface {
	StreamChat(ctx context.Context, message string) (io.ReadCloser, error)
}

// Manager owns the single active session. Turns run one at a time, a new
// send is rejected until the active session's stream has fully closed.
type Manager struct {
	client ChatStreamer

	mu     sync.Mutex
	active *Session
}

func NewManager(client ChatStreamer) *Manager {
	return &Manager{client: client}
}

func (m *Manager) Active() *Session {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

// Send opens a turn for the message and assembles it on a background
// goroutine, reporting progress through the callbacks. The session slot is
// released before OnClosed fires, a caller reacting to OnClosed can send
// again immediately.
func (m *Manager) Send(ctx context.Context, message string, callbacks Callbacks) (*Session, error) {
	m.mu.Lock()
	if m.active != nil {
		m.mu.Unlock()
		return nil, ErrTurnActive
	}

	callbacks.defaults()
	closed := callbacks.OnClosed
	session := newSession(callbacks)
	session.callbacks.OnClosed = func() {
		m.clear(session)
		closed()
	}

	m.active = session
	m.mu.Unlock()

	stream, err := m.client.StreamChat(ctx, message)
	if err != nil {
		m.clear(session)
		return nil, fmt.Errorf("failed to open turn stream: %w", err)
	}

	go session.run(ctx, stream)
	return session, nil
}

func (m *Manager) clear(session *Session) {
	m.mu.Lock()
	if m.active == session {
		m.active = nil
	}
	m.mu.Unlock()
}
