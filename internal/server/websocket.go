package server

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/commonshq/commons-backend/internal/event"
)

const (
	websocketWriteTimeout   = 10 * time.Second
	websocketPingInterval   = 30 * time.Second
	websocketReadLimitBytes = 512 * 1024
	websocketReadTimeout    = 75 * time.Second
)

var websocketUpgrader = websocket.Upgrader{
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
	CheckOrigin: func(_ *http.Request) bool {
		return true
	},
}

type websocketClientFrame struct {
	Action string   `json:"action"`
	Rooms  []string `json:"rooms,omitempty"`
}

type websocketServerFrame struct {
	Type             string            `json:"type"`
	Room             string            `json:"room,omitempty"`
	ActorID          string            `json:"actor_id,omitempty"`
	Payload          map[string]string `json:"payload,omitempty"`
	OccurredAtSecond int64             `json:"occurred_at_s,omitempty"`
}

// handleWebsocket upgrades the connection and bridges the user's realtime
// stream onto it. Inbound frames carry room joins, leaves, and heartbeats;
// disconnect clears presence, room memberships and any joined calls.
func (h *httpHandler) handleWebsocket(c *gin.Context) {
	userID := requestUserID(c)
	conn, err := websocketUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	ctx := c.Request.Context()
	stream, cleanup := h.realtimeHub.Subscribe(ctx, userID)
	defer cleanup()
	defer func() {
		// The request context is gone by now; cleanup gets its own.
		cleanupCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		h.realtimeHub.LeaveAllRooms(userID)
		if h.presence != nil {
			h.presence.Clear(cleanupCtx, userID)
		}
		if h.calls != nil {
			h.calls.LeaveAll(cleanupCtx, userID)
		}
		_ = conn.Close()
	}()

	if h.presence != nil {
		if err := h.presence.Heartbeat(ctx, userID); err != nil {
			h.logger.Warn("presence heartbeat failed", zap.Error(err))
		}
	}

	done := make(chan struct{})
	go h.websocketWritePump(conn, stream, done)
	h.websocketReadPump(ctx, conn, userID)
	close(done)
}

func (h *httpHandler) websocketWritePump(conn *websocket.Conn, stream <-chan event.Event, done <-chan struct{}) {
	ticker := time.NewTicker(websocketPingInterval)
	defer ticker.Stop()
	for {
		select {
		case evt, ok := <-stream:
			if !ok {
				return
			}
			frame := websocketServerFrame{
				Type:             evt.Type,
				Room:             evt.Room,
				ActorID:          evt.ActorID,
				Payload:          evt.Payload,
				OccurredAtSecond: evt.OccurredAt.Unix(),
			}
			data, err := json.Marshal(frame)
			if err != nil {
				continue
			}
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			_ = conn.SetWriteDeadline(time.Now().Add(websocketWriteTimeout))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-done:
			return
		}
	}
}

func (h *httpHandler) websocketReadPump(ctx context.Context, conn *websocket.Conn, userID string) {
	conn.SetReadLimit(websocketReadLimitBytes)
	_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	})

	for {
		_, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket closed unexpectedly",
					zap.String("user_id", userID),
					zap.Error(err))
			}
			return
		}
		if len(data) == 0 {
			continue
		}
		var frame websocketClientFrame
		if err := json.Unmarshal(data, &frame); err != nil {
			continue
		}
		switch frame.Action {
		case "join":
			for _, roomID := range frame.Rooms {
				h.realtimeHub.JoinRoom(roomID, userID)
			}
		case "leave":
			for _, roomID := range frame.Rooms {
				h.realtimeHub.LeaveRoom(roomID, userID)
			}
		case "heartbeat":
			if h.presence != nil {
				rooms := h.realtimeHub.RoomsOf(userID)
				if err := h.presence.Heartbeat(ctx, userID, rooms...); err != nil {
					h.logger.Warn("presence heartbeat failed", zap.Error(err))
				}
			}
		}
		_ = conn.SetReadDeadline(time.Now().Add(websocketReadTimeout))
	}
}
