package handlers

import (
	"context"
	"time"

	"github.com/MacJediWizard/strongbox/internal/api/middleware"
	"github.com/MacJediWizard/strongbox/internal/coordinator"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// AgentResultSink consumes what agents report over their socket.
type AgentResultSink interface {
	HandleResult(agentID string, msg *models.BackupResultMessage) bool
	DropAgent(agentID string) int
}

// ClientToucher records when a client was last connected.
type ClientToucher interface {
	TouchClient(ctx context.Context, id uuid.UUID) error
}

// AgentSocketHandler serves the persistent agent websocket.
type AgentSocketHandler struct {
	registry *coordinator.Registry
	sink     AgentResultSink
	clients  ClientToucher
	cfg      SocketConfig
	upgrader websocket.Upgrader
	logger   zerolog.Logger
}

// NewAgentSocketHandler creates a new AgentSocketHandler.
func NewAgentSocketHandler(registry *coordinator.Registry, sink AgentResultSink, clients ClientToucher, cfg SocketConfig, logger zerolog.Logger) *AgentSocketHandler {
	return &AgentSocketHandler{
		registry: registry,
		sink:     sink,
		clients:  clients,
		cfg:      cfg,
		upgrader: newUpgrader(),
		logger:   logger.With().Str("component", "agent_socket").Logger(),
	}
}

// RegisterRoutes registers the agent socket on an API-key authenticated group.
func (h *AgentSocketHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws", h.Connect)
}

// Connect upgrades the request and keeps the agent registered until it hangs up.
// A newer connection from the same client replaces this one.
func (h *AgentSocketHandler) Connect(c *gin.Context) {
	client := middleware.RequireClient(c)
	if client == nil {
		return
	}

	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Str("client_id", client.ID.String()).Msg("failed to upgrade agent connection")
		return
	}

	agentID := client.ID.String()
	log := h.logger.With().Str("agent_id", agentID).Logger()
	sock := newSocket(conn, h.cfg, log)

	h.registry.Register(agentID, sock)
	h.touch(client.ID)
	log.Info().Str("remote", c.ClientIP()).Msg("agent connected")

	sock.run(func(raw []byte) {
		h.handleMessage(agentID, sock, raw)
	})

	// A replaced socket is no longer the registered one and must leave the
	// agent's in-flight triggers alone.
	if h.registry.Unregister(agentID, sock) {
		rejected := h.sink.DropAgent(agentID)
		log.Info().Int("rejected_triggers", rejected).Msg("agent disconnected")
	} else {
		log.Debug().Msg("replaced agent connection closed")
	}
	h.touch(client.ID)
}

func (h *AgentSocketHandler) handleMessage(agentID string, sock *socket, raw []byte) {
	msg, err := models.DecodeMessage(raw)
	if err != nil {
		h.logger.Debug().Err(err).Str("agent_id", agentID).Msg("rejected agent message")
		h.reply(sock, models.ErrorMessage{Type: models.MessageError, Error: err.Error()})
		return
	}

	switch m := msg.(type) {
	case *models.BackupResultMessage:
		if !h.sink.HandleResult(agentID, m) {
			h.logger.Debug().
				Str("agent_id", agentID).
				Str("request_id", m.RequestID).
				Msg("backup result matched no pending trigger")
		}
	default:
		h.reply(sock, models.ErrorMessage{Type: models.MessageError, Error: "unexpected message type"})
	}
}

func (h *AgentSocketHandler) reply(sock *socket, v any) {
	ctx, cancel := context.WithTimeout(context.Background(), h.cfg.withDefaults().WriteTimeout)
	defer cancel()
	if err := sock.Send(ctx, v); err != nil {
		h.logger.Debug().Err(err).Msg("failed to reply to agent")
	}
}

func (h *AgentSocketHandler) touch(id uuid.UUID) {
	if h.clients == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := h.clients.TouchClient(ctx, id); err != nil {
		h.logger.Warn().Err(err).Str("client_id", id.String()).Msg("failed to update client last seen")
	}
}
