package handlers

import (
	"context"
	"sync"

	"github.com/MacJediWizard/strongbox/internal/coordinator"
	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// RunningLister reports the backups with a trigger in flight for an agent.
type RunningLister interface {
	Running(agentID string) []string
}

// StatusSocketHandler streams trigger status changes to observers.
type StatusSocketHandler struct {
	broadcaster *coordinator.Broadcaster
	running     RunningLister
	cfg         SocketConfig
	upgrader    websocket.Upgrader
	logger      zerolog.Logger
}

// NewStatusSocketHandler creates a new StatusSocketHandler.
func NewStatusSocketHandler(broadcaster *coordinator.Broadcaster, running RunningLister, cfg SocketConfig, logger zerolog.Logger) *StatusSocketHandler {
	return &StatusSocketHandler{
		broadcaster: broadcaster,
		running:     running,
		cfg:         cfg,
		upgrader:    newUpgrader(),
		logger:      logger.With().Str("component", "status_socket").Logger(),
	}
}

// RegisterRoutes registers the observer socket on an admin group.
func (h *StatusSocketHandler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/ws/status", h.Connect)
}

// observer is one status socket and its current subscription.
type observer struct {
	h    *StatusSocketHandler
	sock *socket

	mu  sync.Mutex
	sub *coordinator.Subscription
	wg  sync.WaitGroup
}

// Connect upgrades the request. The observer sends a subscribe message naming
// a client and receives a backup-statuses snapshot followed by every
// backup-status-update for that client. Subscribing again switches clients.
func (h *StatusSocketHandler) Connect(c *gin.Context) {
	conn, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to upgrade observer connection")
		return
	}

	o := &observer{h: h, sock: newSocket(conn, h.cfg, h.logger)}
	o.sock.run(o.handleMessage)

	o.mu.Lock()
	h.broadcaster.Unsubscribe(o.sub)
	o.sub = nil
	o.mu.Unlock()
	o.wg.Wait()
}

func (o *observer) handleMessage(raw []byte) {
	msg, err := models.DecodeMessage(raw)
	if err != nil {
		o.send(models.ErrorMessage{Type: models.MessageError, Error: err.Error()})
		return
	}

	sub, ok := msg.(*models.SubscribeMessage)
	if !ok {
		o.send(models.ErrorMessage{Type: models.MessageError, Error: "only subscribe messages are accepted"})
		return
	}
	if sub.ClientID == "" {
		o.send(models.ErrorMessage{Type: models.MessageError, Error: "clientId is required"})
		return
	}
	o.subscribe(sub.ClientID)
}

// subscribe replaces the current subscription. The new subscription is taken
// before the snapshot so no update between the two is lost.
func (o *observer) subscribe(clientID string) {
	o.mu.Lock()
	o.h.broadcaster.Unsubscribe(o.sub)
	sub := o.h.broadcaster.Subscribe(clientID)
	o.sub = sub
	o.mu.Unlock()

	o.send(models.NewStatusesMessage(o.h.running.Running(clientID)))

	o.wg.Add(1)
	go func() {
		defer o.wg.Done()
		for update := range sub.C {
			if err := o.sock.Send(context.Background(), update); err != nil {
				return
			}
		}
	}()

	o.h.logger.Debug().Str("client_id", clientID).Msg("observer subscribed")
}

func (o *observer) send(v any) {
	ctx, cancel := context.WithTimeout(context.Background(), o.sock.cfg.WriteTimeout)
	defer cancel()
	if err := o.sock.Send(ctx, v); err != nil {
		o.h.logger.Debug().Err(err).Msg("failed to write to observer")
	}
}
