package protosession

import (
	"sync"
	"time"

	"github.com/marmos91/archnet/internal/logger"
	"github.com/marmos91/archnet/pkg/protoerr"
)

// Outcome classifies what HandleReconnect did, so the server knows whether
// to send a fresh MSG_FULL + fresh ClientView or just resend the existing
// one.
type Outcome int

const (
	// OutcomeNewClient means a brand new logical client id was minted.
	OutcomeNewClient Outcome = iota
	// OutcomeReconnected means an existing Disconnected session was
	// rebound to the new connection with the same clientId.
	OutcomeReconnected
)

// Manager owns the three session maps the core depends on: connId→clientId,
// clientId→Session and token→Session (the last populated only while a
// session is Disconnected, for pending-reconnect lookup). It also owns the
// one grace timer per disconnected client.
type Manager struct {
	mu sync.Mutex

	reconnectWindow time.Duration
	nextClientID    uint16

	connToClient map[string]uint16
	byClientID   map[uint16]*Session
	byToken      map[uint32]*Session

	// onExpire is invoked (outside the lock) when a Disconnected session's
	// grace timer fires and it moves to Retired.
	onExpire func(clientID uint16)
}

// NewManager returns an empty Manager. reconnectWindow of 0 disables
// reconnect: a disconnect moves straight to Retired. onExpire may be nil.
func NewManager(reconnectWindow time.Duration, onExpire func(clientID uint16)) *Manager {
	return &Manager{
		reconnectWindow: reconnectWindow,
		connToClient:    make(map[string]uint16),
		byClientID:      make(map[uint16]*Session),
		byToken:         make(map[uint32]*Session),
		onExpire:        onExpire,
	}
}

// HandleReconnect processes the reconnect token carried by the first
// message on a freshly opened transport connection.
// token 0 or an unknown/expired token mints a new logical
// client; a token matching a still-pending Disconnected session rebinds
// it, rotating the token.
func (m *Manager) HandleReconnect(connID string, token uint32) (*Session, Outcome) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if token != 0 {
		if sess, ok := m.byToken[token]; ok {
			return m.reconnectLocked(connID, sess), OutcomeReconnected
		}
	}
	return m.newSessionLocked(connID), OutcomeNewClient
}

func (m *Manager) newSessionLocked(connID string) *Session {
	m.nextClientID++
	clientID := m.nextClientID

	sess := &Session{
		ClientID: clientID,
		state:    Active,
		token:    generateToken(),
		connID:   connID,
	}
	m.connToClient[connID] = clientID
	m.byClientID[clientID] = sess
	return sess
}

func (m *Manager) reconnectLocked(connID string, sess *Session) *Session {
	sess.mu.Lock()
	if sess.timer != nil {
		sess.timer.Stop()
		sess.timer = nil
	}
	oldToken := sess.token
	sess.token = generateToken()
	sess.state = Active
	sess.connID = connID
	sess.graceEnd = time.Time{}
	clientID := sess.ClientID
	sess.mu.Unlock()

	delete(m.byToken, oldToken)
	m.connToClient[connID] = clientID
	return sess
}

// Disconnect processes a transport close for an Active connection,
// starting the grace window (or retiring immediately if the window is
// 0). Returns the affected session, or nil if connID was not bound to an
// Active session.
func (m *Manager) Disconnect(connID string) *Session {
	m.mu.Lock()
	clientID, ok := m.connToClient[connID]
	if !ok {
		m.mu.Unlock()
		return nil
	}
	delete(m.connToClient, connID)
	sess, ok := m.byClientID[clientID]
	m.mu.Unlock()
	if !ok {
		return nil
	}

	sess.mu.Lock()
	if sess.state != Active {
		sess.mu.Unlock()
		return sess
	}
	sess.state = Disconnected
	sess.connID = ""
	token := sess.token
	sess.mu.Unlock()

	m.mu.Lock()
	m.byToken[token] = sess
	m.mu.Unlock()

	if m.reconnectWindow <= 0 {
		m.retire(sess)
		return sess
	}

	sess.mu.Lock()
	sess.graceEnd = time.Now().Add(m.reconnectWindow)
	sess.timer = time.AfterFunc(m.reconnectWindow, func() { m.retire(sess) })
	sess.mu.Unlock()

	logger.Info("client disconnected, grace window started",
		"client_id", clientID, "window", m.reconnectWindow)
	return sess
}

func (m *Manager) retire(sess *Session) {
	sess.mu.Lock()
	if sess.state == Retired {
		sess.mu.Unlock()
		return
	}
	sess.state = Retired
	token := sess.token
	clientID := sess.ClientID
	sess.timer = nil
	sess.mu.Unlock()

	m.mu.Lock()
	delete(m.byToken, token)
	delete(m.byClientID, clientID)
	m.mu.Unlock()

	logger.Info("client session retired", "client_id", clientID)
	if m.onExpire != nil {
		m.onExpire(clientID)
	}
}

// Get returns the session bound to clientID, if any.
func (m *Manager) Get(clientID uint16) (*Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.byClientID[clientID]
	return sess, ok
}

// GetByConn returns the session currently bound to connID, if any.
func (m *Manager) GetByConn(connID string) (*Session, bool) {
	m.mu.Lock()
	clientID, ok := m.connToClient[connID]
	m.mu.Unlock()
	if !ok {
		return nil, false
	}
	return m.Get(clientID)
}

// ActiveClientIDs returns every clientId currently Active, in unspecified
// order.
func (m *Manager) ActiveClientIDs() []uint16 {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]uint16, 0, len(m.byClientID))
	for id, sess := range m.byClientID {
		if sess.State() == Active {
			out = append(out, id)
		}
	}
	return out
}

// Stop cancels every pending grace timer and clears all session maps
// without invoking onExpire.
func (m *Manager) Stop() {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, sess := range m.byClientID {
		sess.mu.Lock()
		if sess.timer != nil {
			sess.timer.Stop()
			sess.timer = nil
		}
		sess.mu.Unlock()
	}

	m.connToClient = make(map[string]uint16)
	m.byClientID = make(map[uint16]*Session)
	m.byToken = make(map[uint32]*Session)
}

// ValidateClientDeltaSender returns protoerr.NewUnknownClientError if
// clientID has no Active session.
func (m *Manager) ValidateClientDeltaSender(clientID uint16) (*Session, error) {
	sess, ok := m.Get(clientID)
	if !ok || sess.State() != Active {
		return nil, protoerr.NewUnknownClientError(clientID)
	}
	return sess, nil
}
