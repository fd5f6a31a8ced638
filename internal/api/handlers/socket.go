package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/MacJediWizard/strongbox/internal/coordinator"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
)

var errSocketClosed = errors.New("websocket closed")

// SocketConfig holds websocket keepalive and buffering settings.
type SocketConfig struct {
	// PingInterval is how often the server pings the peer.
	PingInterval time.Duration
	// PongTimeout is how long the peer may stay silent before it is dropped.
	PongTimeout time.Duration
	// WriteTimeout bounds a single frame write.
	WriteTimeout time.Duration
	// MaxMessageSize is the largest message accepted from the peer.
	MaxMessageSize int64
	// SendBufferSize is the number of outbound messages queued per connection.
	SendBufferSize int
}

// DefaultSocketConfig returns a SocketConfig with sensible defaults.
func DefaultSocketConfig() SocketConfig {
	return SocketConfig{
		PingInterval:   30 * time.Second,
		PongTimeout:    60 * time.Second,
		WriteTimeout:   10 * time.Second,
		MaxMessageSize: 64 * 1024,
		SendBufferSize: 64,
	}
}

func (c SocketConfig) withDefaults() SocketConfig {
	d := DefaultSocketConfig()
	if c.PingInterval <= 0 {
		c.PingInterval = d.PingInterval
	}
	if c.PongTimeout <= 0 {
		c.PongTimeout = d.PongTimeout
	}
	if c.WriteTimeout <= 0 {
		c.WriteTimeout = d.WriteTimeout
	}
	if c.MaxMessageSize <= 0 {
		c.MaxMessageSize = d.MaxMessageSize
	}
	if c.SendBufferSize <= 0 {
		c.SendBufferSize = d.SendBufferSize
	}
	return c
}

func newUpgrader() websocket.Upgrader {
	return websocket.Upgrader{
		ReadBufferSize:  4096,
		WriteBufferSize: 4096,
		// Both sockets authenticate with a bearer credential, not cookies.
		CheckOrigin: func(r *http.Request) bool { return true },
	}
}

// socket is one server-side websocket. Writes go through a single writer
// goroutine; Send and Close are safe for concurrent use.
type socket struct {
	conn   *websocket.Conn
	cfg    SocketConfig
	logger zerolog.Logger

	send        chan []byte
	done        chan struct{}
	writerDone  chan struct{}
	closeOnce   sync.Once
	mu          sync.Mutex
	closeReason string
}

var _ coordinator.Conn = (*socket)(nil)

func newSocket(conn *websocket.Conn, cfg SocketConfig, logger zerolog.Logger) *socket {
	cfg = cfg.withDefaults()
	return &socket{
		conn:       conn,
		cfg:        cfg,
		logger:     logger,
		send:       make(chan []byte, cfg.SendBufferSize),
		done:       make(chan struct{}),
		writerDone: make(chan struct{}),
	}
}

// Send queues v as a JSON text message.
func (s *socket) Send(ctx context.Context, v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return err
	}
	if !s.IsOpen() {
		return errSocketClosed
	}
	select {
	case s.send <- data:
		return nil
	case <-s.done:
		return errSocketClosed
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Close asks the writer to send a close frame carrying reason and hang up.
// It never blocks.
func (s *socket) Close(reason string) error {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.closeReason = reason
		s.mu.Unlock()
		close(s.done)
	})
	return nil
}

// IsOpen reports whether Close has not been called and the peer is still attached.
func (s *socket) IsOpen() bool {
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// run pumps messages until either side hangs up, calling onMessage for every
// text message read. It returns after both pumps have stopped.
func (s *socket) run(onMessage func([]byte)) {
	go s.writePump()
	s.readPump(onMessage)
	s.Close("")
	<-s.writerDone
}

func (s *socket) readPump(onMessage func([]byte)) {
	s.conn.SetReadLimit(s.cfg.MaxMessageSize)
	_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		msgType, message, err := s.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) && s.IsOpen() {
				s.logger.Debug().Err(err).Msg("websocket read error")
			}
			return
		}
		if msgType != websocket.TextMessage {
			continue
		}
		onMessage(message)
	}
}

func (s *socket) writePump() {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		_ = s.conn.Close()
		close(s.writerDone)
	}()

	for {
		select {
		case data := <-s.send:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				s.logger.Debug().Err(err).Msg("websocket write failed")
				s.Close("")
				return
			}

		case <-ticker.C:
			_ = s.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.Close("")
				return
			}

		case <-s.done:
			s.mu.Lock()
			reason := s.closeReason
			s.mu.Unlock()
			msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
			_ = s.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(s.cfg.WriteTimeout))
			return
		}
	}
}
