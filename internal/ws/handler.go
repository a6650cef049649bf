package ws

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/remote-agent-terminal/ipmbridge/internal/model"
)

const (
	// Time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// Time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// Send pings to peer with this period. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// Maximum message size allowed from peer.
	maxMessageSize = 64 * 1024
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin: func(r *http.Request) bool {
		return true
	},
}

// Handler handles panel WebSocket connections.
type Handler struct {
	hubManager *HubManager
}

// NewHandler creates a new panel handler.
func NewHandler(hubManager *HubManager) *Handler {
	return &Handler{hubManager: hubManager}
}

// HandleConnection upgrades the request and attaches the panel to the
// session's hub. It returns model.ErrSessionNotFound, without writing a
// response, when the session has no hub.
func (h *Handler) HandleConnection(w http.ResponseWriter, r *http.Request, sessionKey string) error {
	hub := h.hubManager.Get(sessionKey)
	if hub == nil {
		return model.ErrSessionNotFound
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		return err
	}

	client := NewClient(hub, conn, sessionKey)
	hub.Register(client)

	go h.writePump(client)
	go h.readPump(client, hub)

	return nil
}

// handleMessage answers pings and hands everything else to the hub.
func (h *Handler) handleMessage(client *Client, hub *Hub, msg *model.PanelClientMessage) {
	switch msg.Command {
	case model.PanelPing:
		client.SendMessage(model.PanelMessage{Command: model.PanelPong})
	case model.PanelReady, model.PanelInput:
		hub.HandleMessage(client, msg)
	default:
		log.Printf("Ignoring panel message %q for session %s", msg.Command, client.SessionKey())
	}
}

// readPump pumps messages from the WebSocket connection to the hub.
func (h *Handler) readPump(client *Client, hub *Hub) {
	defer func() {
		hub.Unregister(client)
		client.Conn().Close()
	}()

	client.Conn().SetReadLimit(maxMessageSize)
	client.Conn().SetReadDeadline(time.Now().Add(pongWait))
	client.Conn().SetPongHandler(func(string) error {
		client.Conn().SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, message, err := client.Conn().ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				log.Printf("WebSocket error: %v", err)
			}
			break
		}

		var msg model.PanelClientMessage
		if err := json.Unmarshal(message, &msg); err != nil {
			log.Printf("Failed to unmarshal message: %v", err)
			continue
		}

		h.handleMessage(client, hub, &msg)
	}
}

// writePump pumps messages from the hub to the WebSocket connection.
func (h *Handler) writePump(client *Client) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		client.Conn().Close()
	}()

	for {
		select {
		case message, ok := <-client.SendChan():
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				// The hub closed the channel
				client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
				return
			}

			// One JSON message per frame
			if err := client.Conn().WriteMessage(websocket.TextMessage, message); err != nil {
				return
			}

			n := len(client.SendChan())
			for i := 0; i < n; i++ {
				queuedMsg, ok := <-client.SendChan()
				if !ok {
					client.Conn().WriteMessage(websocket.CloseMessage, []byte{})
					return
				}
				client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
				if err := client.Conn().WriteMessage(websocket.TextMessage, queuedMsg); err != nil {
					return
				}
			}
		case <-ticker.C:
			client.Conn().SetWriteDeadline(time.Now().Add(writeWait))
			if err := client.Conn().WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
