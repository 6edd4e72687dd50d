package workertest

import (
	"context"
	"sync"
	"time"

	"nhooyr.io/websocket"
)

// wsClient represents a connected stream client
type wsClient struct {
	conn *websocket.Conn
	send chan []byte
	done chan struct{}
}

// wsHub tracks stream clients and fans broadcasts out to them
type wsHub struct {
	mu         sync.Mutex
	clients    map[*wsClient]bool
	acceptedAt []time.Time
}

func newWSHub() *wsHub {
	return &wsHub{clients: make(map[*wsClient]bool)}
}

func (h *wsHub) add(conn *websocket.Conn) *wsClient {
	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 256),
		done: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[client] = true
	h.acceptedAt = append(h.acceptedAt, time.Now())
	h.mu.Unlock()
	go writePump(client)
	return client
}

func (h *wsHub) remove(client *wsClient) {
	h.mu.Lock()
	if _, ok := h.clients[client]; ok {
		delete(h.clients, client)
		close(client.send)
	}
	h.mu.Unlock()
	<-client.done
}

func (h *wsHub) broadcast(data []byte) {
	h.mu.Lock()
	defer h.mu.Unlock()
	for client := range h.clients {
		select {
		case client.send <- data:
		default:
			// Client buffer full; tests never get here.
		}
	}
}

// closeAll drops every connection without a normal closure.
func (h *wsHub) closeAll() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for client := range h.clients {
		clients = append(clients, client)
	}
	h.mu.Unlock()
	for _, client := range clients {
		client.conn.CloseNow()
	}
}

func (h *wsHub) count() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

func (h *wsHub) total() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.acceptedAt)
}

func (h *wsHub) times() []time.Time {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]time.Time(nil), h.acceptedAt...)
}

func writePump(client *wsClient) {
	defer close(client.done)
	defer client.conn.CloseNow()

	for message := range client.send {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		err := client.conn.Write(ctx, websocket.MessageText, message)
		cancel()
		if err != nil {
			client.conn.CloseNow()
			// Drain so broadcast never blocks on a dead client.
			for range client.send {
			}
			return
		}
	}
}
