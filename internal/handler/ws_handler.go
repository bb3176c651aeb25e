package handler

import (
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/weiawesome/wes-io-live/studio-service/internal/domain"
	"github.com/weiawesome/wes-io-live/studio-service/internal/hub"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/log"
	"github.com/weiawesome/wes-io-live/studio-service/pkg/middleware"
)

// Client -> server message types on the event feed.
const (
	MsgTypePing     = "ping"
	MsgTypePong     = "pong"
	MsgTypeGetState = "get_state"
	MsgTypeError    = "error"
)

// EventSnapshot is sent on connect and in reply to get_state.
const EventSnapshot = "snapshot"

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

type clientMessage struct {
	Type string `json:"type"`
}

// HandleWebSocket upgrades to the studio event feed.
func (h *Handler) HandleWebSocket(c *gin.Context) {
	l := log.Ctx(c.Request.Context())

	conn, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		l.Warn().Err(err).Msg("websocket upgrade failed")
		return
	}

	client := hub.NewClient(uuid.New().String(), middleware.GetUserID(c), h.hub, conn, h.wsCfg)
	h.hub.Register(client)
	client.SendMessage(h.snapshotEvent())

	go client.WritePump()
	go client.ReadPump(h.handleMessage)
}

func (h *Handler) handleMessage(client *hub.Client, message []byte) {
	var msg clientMessage
	if err := json.Unmarshal(message, &msg); err != nil {
		client.SendMessage(map[string]string{"type": MsgTypeError, "message": "invalid message format"})
		return
	}

	switch msg.Type {
	case MsgTypePing:
		client.SendMessage(map[string]string{"type": MsgTypePong})
	case MsgTypeGetState:
		client.SendMessage(h.snapshotEvent())
	default:
		client.SendMessage(map[string]string{"type": MsgTypeError, "message": "unknown message type"})
	}
}

func (h *Handler) snapshotEvent() domain.Event {
	return domain.Event{
		Type:      EventSnapshot,
		Snapshot:  h.studio.Snapshot(),
		Timestamp: time.Now(),
	}
}
