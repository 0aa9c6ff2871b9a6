package handlers

import (
	"context"
	"encoding/json"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/tariel-x/livedesk/internal/bus"
	"github.com/tariel-x/livedesk/internal/inbox"
)

const (
	wsWriteWait  = 10 * time.Second
	wsPongWait   = 70 * time.Second
	wsPingPeriod = 30 * time.Second
	wsSendBuffer = 32

	inboxRoom = "inbox"
)

func chatRoom(inviteID string) string {
	return "chat:" + inviteID
}

type wsCommand struct {
	Type string `json:"type"`
	ID   string `json:"id"`
}

type wsSnapshot struct {
	Type   string           `json:"type"`
	Items  []inviteResponse `json:"items"`
	Unread int              `json:"unread"`
}

type wsState struct {
	Type   string         `json:"type"`
	Invite inviteResponse `json:"invite"`
}

type wsError struct {
	Type  string `json:"type"`
	ID    string `json:"id,omitempty"`
	Error string `json:"error"`
}

// HandleInboxWebSocket opens a new inbox view for the connection. The view
// pushes a snapshot after every change and accepts accept, decline and read
// commands.
func (h *Handlers) HandleInboxWebSocket(c *gin.Context) {
	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		room:     inboxRoom,
		clientID: uuid.NewString(),
	}
	h.wsHub.Add(client)
	logger := h.log.With(zap.String("view_id", client.clientID))
	logger.Debug("inbox view connected", zap.String("ip", c.ClientIP()))

	view := inbox.New(h.store, h.bus, logger,
		inbox.WithClock(h.nowFn),
		inbox.WithDirectory(h.directory),
	)
	ctx, cancel := context.WithCancel(context.Background())

	cancelListen := view.Listen(func(s inbox.Snapshot) {
		if !client.trySend(h.snapshotMessage(s)) {
			_ = client.conn.Close()
		}
	})
	var cancelTick func()
	if h.scheduler != nil {
		cancelTick = h.scheduler.Register(func(now time.Time) {
			view.Tick(ctx, now)
		})
	}

	go h.writePump(client)
	view.Start(ctx)

	h.readPump(client, func(payload []byte) {
		h.handleInboxCommand(ctx, client, view, payload)
	})

	if cancelTick != nil {
		cancelTick()
	}
	cancelListen()
	view.Close()
	cancel()
	logger.Debug("inbox view disconnected")
}

func (h *Handlers) handleInboxCommand(ctx context.Context, client *wsClient, view *inbox.Receiver, payload []byte) {
	var cmd wsCommand
	if err := json.Unmarshal(payload, &cmd); err != nil {
		h.log.Debug("ws bad json", zap.String("view_id", client.clientID), zap.Error(err))
		return
	}

	var err error
	switch cmd.Type {
	case "ping":
		return
	case "accept":
		err = view.Accept(ctx, cmd.ID)
	case "decline":
		err = view.Decline(ctx, cmd.ID)
	case "read":
		err = view.MarkRead(ctx, cmd.ID)
	default:
		h.log.Debug("ws unknown command", zap.String("view_id", client.clientID), zap.String("type", cmd.Type))
		return
	}
	if err != nil {
		msg, _ := json.Marshal(wsError{Type: "error", ID: cmd.ID, Error: err.Error()})
		if !client.trySend(msg) {
			_ = client.conn.Close()
		}
	}
}

// HandleChatWebSocket streams status changes of one invite to its chat room.
func (h *Handlers) HandleChatWebSocket(c *gin.Context) {
	inviteID := c.Param("id")

	conn, err := h.wsUpgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.log.Warn("ws upgrade failed", zap.String("invite_id", inviteID), zap.Error(err))
		return
	}

	client := &wsClient{
		conn:     conn,
		send:     make(chan []byte, wsSendBuffer),
		room:     chatRoom(inviteID),
		clientID: uuid.NewString(),
	}
	h.wsHub.Add(client)
	h.log.Debug("chat connected", zap.String("invite_id", inviteID), zap.String("client_id", client.clientID))

	if inv, ok := h.desk.Invite(inviteID); ok {
		msg, _ := json.Marshal(wsState{Type: "state", Invite: newInviteResponse(inv, h.nowFn())})
		client.trySend(msg)
	}

	go h.writePump(client)
	h.readPump(client, func([]byte) {})
}

// relayStatus forwards terminal status messages to the invite's chat room.
func (h *Handlers) relayStatus(m bus.Message) {
	st, ok := m.(bus.StatusMessage)
	if !ok {
		return
	}
	payload, err := bus.Encode(st)
	if err != nil {
		return
	}
	h.wsHub.Broadcast(chatRoom(st.ID), payload)
}

func (h *Handlers) snapshotMessage(s inbox.Snapshot) []byte {
	msg, _ := json.Marshal(wsSnapshot{
		Type:   "snapshot",
		Items:  newInviteResponses(inbox.Select(s.Items, inbox.Query{}, h.nowFn()), h.nowFn()),
		Unread: s.Unread,
	})
	return msg
}

func (h *Handlers) readPump(client *wsClient, onMessage func([]byte)) {
	defer func() {
		_ = client.conn.Close()
		h.wsHub.Remove(client.room, client.clientID)
	}()

	_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
	client.conn.SetPongHandler(func(string) error {
		_ = client.conn.SetReadDeadline(time.Now().Add(wsPongWait))
		return nil
	})

	for {
		_, payload, err := client.conn.ReadMessage()
		if err != nil {
			h.log.Debug("ws read error", zap.String("room", client.room), zap.String("client_id", client.clientID), zap.Error(err))
			return
		}
		onMessage(payload)
	}
}

func (h *Handlers) writePump(client *wsClient) {
	defer func() {
		_ = client.conn.Close()
	}()

	ticker := time.NewTicker(wsPingPeriod)
	defer ticker.Stop()

	for {
		select {
		case msg, ok := <-client.send:
			if !ok {
				return
			}
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			_ = client.conn.SetWriteDeadline(time.Now().Add(wsWriteWait))
			if err := client.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
