package session

import (
	"errors"
	"log/slog"
	"sync"

	"github.com/Radicalscale/virevo-sub005/pkg/dialog"
	"github.com/Radicalscale/virevo-sub005/pkg/errorsx"
	"github.com/Radicalscale/virevo-sub005/pkg/graph"
	"github.com/Radicalscale/virevo-sub005/pkg/logging"
)

var (
	ErrExists   = errors.New("session already exists")
	ErrNotFound = errors.New("session not found")
)

// Manager owns the worker's live call sessions, keyed by call id. Creation
// validates the dialogue graph up front: a broken graph rejects the call
// before any audio flows rather than stranding a connected caller.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*dialog.Session
	logger   *slog.Logger
}

func NewManager() *Manager {
	return &Manager{
		sessions: make(map[string]*dialog.Session),
		logger:   logging.NewComponentLogger(slog.Default(), "session"),
	}
}

// Create validates the graph and registers a new session at its start node.
func (m *Manager) Create(callID string, g *graph.Graph) (*dialog.Session, error) {
	if err := g.Validate(); err != nil {
		m.logger.Error("rejecting call for invalid graph",
			slog.String("call_id", callID),
			slog.String("error", err.Error()))
		return nil, errorsx.Wrap(err, errorsx.ReasonGraphInvalid)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; ok {
		return nil, ErrExists
	}
	sess := dialog.NewSession(callID, g.Start)
	m.sessions[callID] = sess
	m.logger.Info("session created",
		slog.String("call_id", callID),
		slog.String("start_node", g.Start),
		slog.Int("active", len(m.sessions)))
	return sess, nil
}

// Lookup returns the session for a call id, if this worker holds it.
func (m *Manager) Lookup(callID string) (*dialog.Session, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	sess, ok := m.sessions[callID]
	return sess, ok
}

// Has reports whether this worker holds the session. It is the coordinator's
// locality check.
func (m *Manager) Has(callID string) bool {
	_, ok := m.Lookup(callID)
	return ok
}

// Destroy removes a session. Destroying an unknown id returns ErrNotFound.
func (m *Manager) Destroy(callID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[callID]; !ok {
		return ErrNotFound
	}
	delete(m.sessions, callID)
	m.logger.Info("session destroyed",
		slog.String("call_id", callID),
		slog.Int("active", len(m.sessions)))
	return nil
}

// Active returns the number of live sessions.
func (m *Manager) Active() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.sessions)
}

// Each calls fn for every live session.
func (m *Manager) Each(fn func(*dialog.Session)) {
	m.mu.Lock()
	list := make([]*dialog.Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		list = append(list, s)
	}
	m.mu.Unlock()
	for _, s := range list {
		fn(s)
	}
}
