package agent

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync/atomic"
	"time"

	"github.com/MacJediWizard/strongbox/pkg/models"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

// TriggerHandler runs a backup requested by the server.
// The returned error is reported to the server verbatim; nil means success.
type TriggerHandler interface {
	HandleTrigger(ctx context.Context, backupName string) error
}

// TriggerHandlerFunc adapts a function to TriggerHandler.
type TriggerHandlerFunc func(ctx context.Context, backupName string) error

// HandleTrigger calls f.
func (f TriggerHandlerFunc) HandleTrigger(ctx context.Context, backupName string) error {
	return f(ctx, backupName)
}

// LinkConfig holds websocket keepalive and reconnect settings.
type LinkConfig struct {
	PingInterval time.Duration
	PongTimeout  time.Duration
	WriteTimeout time.Duration
	MinBackoff   time.Duration
	MaxBackoff   time.Duration
}

// DefaultLinkConfig returns a LinkConfig with sensible defaults.
func DefaultLinkConfig() LinkConfig {
	return LinkConfig{
		PingInterval: 30 * time.Second,
		PongTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Second,
		MinBackoff:   time.Second,
		MaxBackoff:   60 * time.Second,
	}
}

// nextBackoff doubles cur up to ceiling.
func nextBackoff(cur, floor, ceiling time.Duration) time.Duration {
	if cur < floor {
		return floor
	}
	return min(cur*2, ceiling)
}

// Link keeps a persistent websocket open to the server, answering trigger
// messages and reconnecting with exponential backoff when the socket drops.
type Link struct {
	serverURL string
	apiKey    string
	cfg       LinkConfig
	handler   TriggerHandler
	dialer    *websocket.Dialer
	logger    zerolog.Logger

	// outbox survives reconnects so a result produced while offline is
	// delivered on the next connection.
	outbox    chan models.BackupResultMessage
	connected atomic.Bool
}

// NewLink creates a Link. Zero config fields fall back to DefaultLinkConfig.
func NewLink(serverURL, apiKey string, handler TriggerHandler, cfg LinkConfig, logger zerolog.Logger) *Link {
	defaults := DefaultLinkConfig()
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaults.PingInterval
	}
	if cfg.PongTimeout <= 0 {
		cfg.PongTimeout = defaults.PongTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaults.WriteTimeout
	}
	if cfg.MinBackoff <= 0 {
		cfg.MinBackoff = defaults.MinBackoff
	}
	if cfg.MaxBackoff < cfg.MinBackoff {
		cfg.MaxBackoff = max(defaults.MaxBackoff, cfg.MinBackoff)
	}
	return &Link{
		serverURL: serverURL,
		apiKey:    apiKey,
		cfg:       cfg,
		handler:   handler,
		dialer: &websocket.Dialer{
			HandshakeTimeout: 15 * time.Second,
			Proxy:            http.ProxyFromEnvironment,
		},
		logger: logger.With().Str("component", "server_link").Logger(),
		outbox: make(chan models.BackupResultMessage, 64),
	}
}

// Connected reports whether the socket is currently up.
func (l *Link) Connected() bool {
	return l.connected.Load()
}

// WebSocketURL converts the server's base URL to the agent socket endpoint.
func WebSocketURL(serverURL string) (string, error) {
	u, err := url.Parse(serverURL)
	if err != nil {
		return "", fmt.Errorf("parse server url: %w", err)
	}
	switch u.Scheme {
	case "https", "wss":
		u.Scheme = "wss"
	case "http", "ws":
		u.Scheme = "ws"
	default:
		return "", fmt.Errorf("unsupported server url scheme %q", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + "/api/v1/agent/ws"
	return u.String(), nil
}

// Run connects and serves until ctx ends. It never returns while ctx is live.
func (l *Link) Run(ctx context.Context) error {
	endpoint, err := WebSocketURL(l.serverURL)
	if err != nil {
		return err
	}

	backoff := time.Duration(0)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		header := http.Header{}
		header.Set("Authorization", "Bearer "+l.apiKey)
		conn, resp, err := l.dialer.DialContext(ctx, endpoint, header)
		if err != nil {
			if resp != nil && resp.StatusCode == http.StatusUnauthorized {
				l.logger.Error().Msg("server rejected the api key")
			} else {
				l.logger.Warn().Err(err).Msg("failed to connect to server")
			}
		} else {
			l.logger.Info().Str("url", endpoint).Msg("connected to server")
			backoff = 0
			if err := l.serve(ctx, conn); err != nil && !errors.Is(err, context.Canceled) {
				l.logger.Warn().Err(err).Msg("connection to server lost")
			}
		}

		backoff = nextBackoff(backoff, l.cfg.MinBackoff, l.cfg.MaxBackoff)
		l.logger.Debug().Dur("interval", backoff).Msg("waiting before reconnect")
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(backoff):
		}
	}
}

// serve runs the read and write pumps for one connection.
func (l *Link) serve(ctx context.Context, conn *websocket.Conn) error {
	connCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	l.connected.Store(true)
	defer l.connected.Store(false)

	writeErr := make(chan error, 1)
	go func() {
		writeErr <- l.writePump(connCtx, conn)
		cancel()
		conn.Close()
	}()

	readErr := l.readPump(ctx, conn)
	cancel()
	conn.Close()

	if wErr := <-writeErr; readErr == nil {
		readErr = wErr
	}
	return readErr
}

func (l *Link) readPump(ctx context.Context, conn *websocket.Conn) error {
	extend := func() {
		conn.SetReadDeadline(time.Now().Add(l.cfg.PongTimeout))
	}
	extend()
	conn.SetPongHandler(func(string) error {
		extend()
		return nil
	})
	conn.SetPingHandler(func(data string) error {
		extend()
		err := conn.WriteControl(websocket.PongMessage, []byte(data), time.Now().Add(l.cfg.WriteTimeout))
		if errors.Is(err, websocket.ErrCloseSent) {
			return nil
		}
		return err
	})

	for {
		_, raw, err := conn.ReadMessage()
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			return err
		}
		extend()

		msg, err := models.DecodeMessage(raw)
		if err != nil {
			l.logger.Warn().Err(err).Msg("ignoring malformed message from server")
			continue
		}

		switch m := msg.(type) {
		case *models.TriggerBackupMessage:
			go l.runTrigger(ctx, m)
		case *models.ErrorMessage:
			l.logger.Warn().Str("error", m.Error).Msg("server rejected a message")
		default:
			l.logger.Debug().Str("type", fmt.Sprintf("%T", msg)).Msg("ignoring unexpected message")
		}
	}
}

func (l *Link) runTrigger(ctx context.Context, m *models.TriggerBackupMessage) {
	log := l.logger.With().Str("request_id", m.RequestID).Str("backup_name", m.BackupName).Logger()
	log.Info().Msg("backup triggered by server")

	result := models.NewBackupResultMessage(m.RequestID, true, "")
	if err := l.handler.HandleTrigger(ctx, m.BackupName); err != nil {
		log.Warn().Err(err).Msg("triggered backup failed")
		result = models.NewBackupResultMessage(m.RequestID, false, err.Error())
	}

	select {
	case l.outbox <- result:
	case <-ctx.Done():
	}
}

func (l *Link) writePump(ctx context.Context, conn *websocket.Conn) error {
	ticker := time.NewTicker(l.cfg.PingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			conn.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, "agent shutting down"),
				time.Now().Add(l.cfg.WriteTimeout))
			return nil

		case result := <-l.outbox:
			data, err := json.Marshal(result)
			if err != nil {
				return fmt.Errorf("marshal result: %w", err)
			}
			conn.SetWriteDeadline(time.Now().Add(l.cfg.WriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				l.requeue(result)
				return err
			}

		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(l.cfg.WriteTimeout)); err != nil {
				return err
			}
		}
	}
}

func (l *Link) requeue(result models.BackupResultMessage) {
	select {
	case l.outbox <- result:
	default:
		l.logger.Error().Str("request_id", result.RequestID).Msg("outbox full, dropping backup result")
	}
}
