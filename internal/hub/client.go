package hub

import (
	"encoding/json"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"github.com/weiawesome/wes-io-live/studio-service/internal/config"
)

const (
	defaultSendBuffer     = 64
	defaultPingInterval   = 30 * time.Second
	defaultPongWait       = 60 * time.Second
	defaultWriteWait      = 10 * time.Second
	defaultMaxMessageSize = 4096
)

// MessageHandler handles one inbound frame from a feed client.
type MessageHandler func(c *Client, message []byte)

// Client is one WebSocket subscriber of the studio event feed. Send is
// closed by the hub when the client is unregistered or the hub stops.
type Client struct {
	ID     string
	UserID string
	Hub    *Hub
	Conn   *websocket.Conn
	Send   chan []byte

	cfg     config.WebSocketConfig
	dropped atomic.Int64
	logger  zerolog.Logger

	mu     sync.Mutex
	closed bool
}

// NewClient wraps conn. Zero values in cfg fall back to defaults.
func NewClient(id, userID string, hub *Hub, conn *websocket.Conn, cfg config.WebSocketConfig) *Client {
	cfg = withDefaults(cfg)
	return &Client{
		ID:     id,
		UserID: userID,
		Hub:    hub,
		Conn:   conn,
		Send:   make(chan []byte, cfg.SendBuffer),
		cfg:    cfg,
		logger: hub.logger.With().Str("client_id", id).Str("user_id", userID).Logger(),
	}
}

func withDefaults(cfg config.WebSocketConfig) config.WebSocketConfig {
	if cfg.SendBuffer <= 0 {
		cfg.SendBuffer = defaultSendBuffer
	}
	if cfg.PingInterval <= 0 {
		cfg.PingInterval = defaultPingInterval
	}
	if cfg.PongWait <= 0 {
		cfg.PongWait = defaultPongWait
	}
	if cfg.PongWait <= cfg.PingInterval {
		cfg.PongWait = cfg.PingInterval * 2
	}
	if cfg.WriteWait <= 0 {
		cfg.WriteWait = defaultWriteWait
	}
	if cfg.MaxMessageSize <= 0 {
		cfg.MaxMessageSize = defaultMaxMessageSize
	}
	return cfg
}

// ReadPump reads control frames until the connection fails, then
// unregisters the client.
func (c *Client) ReadPump(handle MessageHandler) {
	defer func() {
		c.Hub.Unregister(c)
		c.Conn.Close()
	}()

	c.Conn.SetReadLimit(c.cfg.MaxMessageSize)
	extend := func() error { return c.Conn.SetReadDeadline(time.Now().Add(c.cfg.PongWait)) }
	extend()
	c.Conn.SetPongHandler(func(string) error { return extend() })

	for {
		_, message, err := c.Conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.logger.Warn().Err(err).Msg("feed read failed")
			}
			return
		}
		handle(c, message)
	}
}

// WritePump writes queued events as one text frame each and pings the
// peer. A closed Send channel ends the feed with a normal close frame.
func (c *Client) WritePump() {
	ping := time.NewTicker(c.cfg.PingInterval)
	defer func() {
		ping.Stop()
		c.Conn.Close()
		if n := c.dropped.Load(); n > 0 {
			c.logger.Info().Int64("dropped", n).Msg("feed client had dropped messages")
		}
	}()

	for {
		select {
		case message, ok := <-c.Send:
			c.Conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteWait))
			if !ok {
				closing := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "feed closed")
				c.Conn.WriteMessage(websocket.CloseMessage, closing)
				return
			}
			if err := c.Conn.WriteMessage(websocket.TextMessage, message); err != nil {
				c.logger.Debug().Err(err).Msg("feed write failed")
				return
			}

		case <-ping.C:
			if err := c.Conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(c.cfg.WriteWait)); err != nil {
				return
			}
		}
	}
}

// SendMessage queues message for this client only. It is dropped when the
// send buffer is full.
func (c *Client) SendMessage(message any) error {
	data, err := json.Marshal(message)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return nil
	}
	select {
	case c.Send <- data:
	default:
		c.dropped.Add(1)
		c.logger.Debug().Msg("send buffer full, message dropped")
	}
	return nil
}

// closeSend closes Send once. Only the hub calls it.
func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.Send)
	}
}
