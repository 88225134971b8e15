package handlers

import (
	"encoding/json"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"focushive/presence-service/broadcast"
	"focushive/presence-service/models"
	"focushive/presence-service/store"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	clientBuffer   = 32
	maxMessageSize = 512
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	// Origin policy is enforced upstream at the edge proxy.
	CheckOrigin: func(r *http.Request) bool { return true },
}

// WSHandler bridges gateway subscriptions onto WebSocket connections. Each
// connection subscribes to the presence and session topics of one hive and
// receives every event as a JSON frame. Delivery is best-effort: clients
// resync via the snapshot endpoints after reconnecting.
type WSHandler struct {
	gateway *broadcast.Gateway
	logger  *log.Logger
}

func NewWSHandler(gateway *broadcast.Gateway, logger *log.Logger) *WSHandler {
	return &WSHandler{
		gateway: gateway,
		logger:  logger,
	}
}

type wsFrame struct {
	Topic string               `json:"topic"`
	Event models.PresenceEvent `json:"event"`
}

func (h *WSHandler) Subscribe(w http.ResponseWriter, r *http.Request) {
	hiveID := r.URL.Query().Get("hive_id")
	if hiveID == "" {
		http.Error(w, "hive_id parameter is required", http.StatusBadRequest)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Printf("websocket upgrade failed: %v", err)
		return
	}

	presenceCh, cancelPresence := h.gateway.Subscribe(models.PresenceTopic(hiveID), clientBuffer)
	sessionCh, cancelSessions := h.gateway.Subscribe(models.SessionTopic(hiveID), clientBuffer)

	go h.readPump(conn)
	h.writePump(conn, presenceCh, sessionCh, func() {
		cancelPresence()
		cancelSessions()
	})
}

// readPump discards inbound frames; clients talk to the JSON API, the socket
// is downstream only. It exists to notice closes and answer pings.
func (h *WSHandler) readPump(conn *websocket.Conn) {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}

// writePump serializes gateway events onto the socket and keeps the
// connection alive with pings. Runs on the request goroutine until the
// client goes away.
func (h *WSHandler) writePump(conn *websocket.Conn, presenceCh, sessionCh <-chan store.TopicEvent, cleanup func()) {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		cleanup()
		conn.Close()
	}()

	write := func(ev store.TopicEvent) bool {
		data, err := json.Marshal(wsFrame{Topic: ev.Topic, Event: ev.Event})
		if err != nil {
			h.logger.Printf("failed to marshal websocket frame: %v", err)
			return true
		}
		conn.SetWriteDeadline(time.Now().Add(writeWait))
		return conn.WriteMessage(websocket.TextMessage, data) == nil
	}

	for {
		select {
		case ev, ok := <-presenceCh:
			if !ok || !write(ev) {
				return
			}
		case ev, ok := <-sessionCh:
			if !ok || !write(ev) {
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
