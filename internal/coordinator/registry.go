// Package coordinator runs on-demand backup triggers against connected agents.
package coordinator

import (
	"context"
	"sync"

	"github.com/MacJediWizard/strongbox/internal/metrics"
	"github.com/rs/zerolog"
)

// CloseReasonReplaced is passed to Conn.Close when a newer connection for the same agent registers.
const CloseReasonReplaced = "replaced"

// Conn is a live, bidirectional connection to one agent.
type Conn interface {
	// Send writes one JSON message to the agent.
	Send(ctx context.Context, v any) error
	// Close shuts the connection down, telling the peer why.
	Close(reason string) error
	// IsOpen reports whether the transport can still carry messages.
	IsOpen() bool
}

// Registry tracks at most one connection per agent.
type Registry struct {
	mu      sync.RWMutex
	conns   map[string]Conn
	metrics *metrics.Metrics
	logger  zerolog.Logger
}

// NewRegistry creates an empty Registry.
func NewRegistry(m *metrics.Metrics, logger zerolog.Logger) *Registry {
	return &Registry{
		conns:   make(map[string]Conn),
		metrics: m,
		logger:  logger.With().Str("component", "connection_registry").Logger(),
	}
}

// Register stores conn as the agent's connection. An existing open connection
// is closed with CloseReasonReplaced first. Conn.Close must not call back
// into the Registry synchronously.
func (r *Registry) Register(agentID string, conn Conn) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if old, ok := r.conns[agentID]; ok && old != conn && old.IsOpen() {
		if err := old.Close(CloseReasonReplaced); err != nil {
			r.logger.Debug().Err(err).Str("agent_id", agentID).Msg("failed to close replaced connection")
		}
		r.logger.Info().Str("agent_id", agentID).Msg("agent connection replaced")
	}

	r.conns[agentID] = conn
	r.metrics.SetAgentsConnected(len(r.conns))
}

// IsLive reports whether the agent has a registered, open connection.
func (r *Registry) IsLive(agentID string) bool {
	conn, ok := r.Get(agentID)
	return ok && conn.IsOpen()
}

// Get returns the registered connection for the agent.
func (r *Registry) Get(agentID string) (Conn, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	conn, ok := r.conns[agentID]
	return conn, ok
}

// Unregister removes the agent's connection only if it is still conn.
// It reports whether the mapping was removed.
func (r *Registry) Unregister(agentID string, conn Conn) bool {
	r.mu.Lock()
	defer r.mu.Unlock()

	current, ok := r.conns[agentID]
	if !ok || current != conn {
		return false
	}
	delete(r.conns, agentID)
	r.metrics.SetAgentsConnected(len(r.conns))
	return true
}

// Count returns the number of registered connections.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.conns)
}
