package handlers

import (
	"sync"

	"github.com/gorilla/websocket"
)

type wsClient struct {
	conn      *websocket.Conn
	send      chan []byte
	room      string
	clientID  string
	closeOnce sync.Once
}

func (c *wsClient) trySend(payload []byte) (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()
	select {
	case c.send <- payload:
		return true
	default:
		return false
	}
}

func (c *wsClient) closeSend() {
	c.closeOnce.Do(func() {
		close(c.send)
	})
}

// WSHub groups websocket clients by room: one room per chat and one for all
// inbox views.
type WSHub struct {
	mu    sync.Mutex
	rooms map[string]map[string]*wsClient // room -> clientID -> client
}

func NewWSHub() *WSHub {
	return &WSHub{
		rooms: make(map[string]map[string]*wsClient),
	}
}

func (h *WSHub) Add(client *wsClient) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[client.room]
	if !ok {
		clients = make(map[string]*wsClient)
		h.rooms[client.room] = clients
	}
	clients[client.clientID] = client
}

func (h *WSHub) Remove(room, clientID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	clients, ok := h.rooms[room]
	if !ok {
		return
	}
	if client, exists := clients[clientID]; exists {
		client.closeSend()
	}
	delete(clients, clientID)
	if len(clients) == 0 {
		delete(h.rooms, room)
	}
}

// Count returns the number of clients in room.
func (h *WSHub) Count(room string) int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.rooms[room])
}

func (h *WSHub) Broadcast(room string, payload []byte) {
	h.mu.Lock()
	var clients []*wsClient
	if members, ok := h.rooms[room]; ok {
		clients = make([]*wsClient, 0, len(members))
		for _, client := range members {
			clients = append(clients, client)
		}
	}
	h.mu.Unlock()

	for _, client := range clients {
		if !client.trySend(payload) {
			_ = client.conn.Close()
		}
	}
}

func (h *WSHub) CloseAll() {
	h.mu.Lock()
	rooms := h.rooms
	h.rooms = make(map[string]map[string]*wsClient)
	h.mu.Unlock()

	for _, clients := range rooms {
		for _, client := range clients {
			_ = client.conn.Close()
			client.closeSend()
		}
	}
}
