// Package wsbus is a lightweight alternative pubsub.Transport for
// deployments without a libp2p stack: one process runs a Hub and every
// peer dials it over a plain WebSocket, with the Hub re-broadcasting any
// frame it receives to every other connected peer on the same topic.
// Grounded on SAGE-X's pkg/agent/transport/websocket (upgrader setup,
// per-connection read loop, JSON framing over gorilla/websocket),
// generalized from a request/response RPC transport to a fan-out bus.
package wsbus

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/halvorsen/parlor/pubsub"
)

var upgrader = websocket.Upgrader{
	CheckOrigin:     func(r *http.Request) bool { return true },
	ReadBufferSize:  4096,
	WriteBufferSize: 4096,
}

// frame is the wire envelope carried between client and Hub: Topic routes
// delivery, Data is the already-encoded payload from the pubsub.Client
// layer above this transport.
type frame struct {
	Topic string `json:"topic"`
	Data  []byte `json:"data"`
}

// Hub re-broadcasts every inbound frame to every other connection,
// whatever its topic; each Client delivers a frame only to its own
// subscriptions for that frame's topic. It does not persist or order history —
// a peer that joins late relies on the application-level announce cadence
// to catch up, same as a real gossipsub mesh.
type Hub struct {
	mu    sync.Mutex
	conns map[*websocket.Conn]bool
}

// NewHub constructs an empty Hub.
func NewHub() *Hub { return &Hub{conns: make(map[*websocket.Conn]bool)} }

// Handler returns an http.Handler that upgrades to WebSocket and joins
// the connection to the hub.
func (h *Hub) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			http.Error(w, fmt.Sprintf("websocket upgrade failed: %v", err), http.StatusBadRequest)
			return
		}
		h.add(conn)
		defer h.remove(conn)
		defer conn.Close()

		for {
			var f frame
			if err := conn.ReadJSON(&f); err != nil {
				return
			}
			h.broadcast(conn, f)
		}
	})
}

func (h *Hub) add(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.conns[conn] = true
}

func (h *Hub) remove(conn *websocket.Conn) {
	h.mu.Lock()
	defer h.mu.Unlock()
	delete(h.conns, conn)
}

func (h *Hub) broadcast(from *websocket.Conn, f frame) {
	h.mu.Lock()
	peers := make([]*websocket.Conn, 0, len(h.conns))
	for c := range h.conns {
		if c != from {
			peers = append(peers, c)
		}
	}
	h.mu.Unlock()
	for _, c := range peers {
		_ = c.SetWriteDeadline(time.Now().Add(5 * time.Second))
		_ = c.WriteJSON(f)
	}
}

// ConnectionCount reports the number of peers currently attached.
func (h *Hub) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.conns)
}

// Client is a pubsub.Transport that dials a Hub over WebSocket.
type Client struct {
	conn *websocket.Conn

	mu   sync.Mutex
	subs map[string][]chan pubsub.Message
}

// Dial connects to a Hub at url (e.g. "ws://host:port/bus") and starts its
// read loop.
func Dial(url string) (*Client, error) {
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		return nil, err
	}
	c := &Client{conn: conn, subs: make(map[string][]chan pubsub.Message)}
	go c.readLoop()
	return c, nil
}

func (c *Client) readLoop() {
	for {
		var f frame
		if err := c.conn.ReadJSON(&f); err != nil {
			c.mu.Lock()
			for _, chans := range c.subs {
				for _, ch := range chans {
					close(ch)
				}
			}
			c.subs = make(map[string][]chan pubsub.Message)
			c.mu.Unlock()
			return
		}
		c.mu.Lock()
		chans := c.subs[f.Topic]
		c.mu.Unlock()
		for _, ch := range chans {
			select {
			case ch <- pubsub.Message{Data: f.Data}:
			default:
			}
		}
	}
}

// Publish sends data tagged with topic to the hub for re-broadcast.
func (c *Client) Publish(ctx context.Context, topic string, data []byte) error {
	_ = c.conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
	return c.conn.WriteJSON(frame{Topic: topic, Data: data})
}

// Subscribe returns a channel of frames the hub has broadcast for topic.
func (c *Client) Subscribe(ctx context.Context, topic string) (<-chan pubsub.Message, error) {
	ch := make(chan pubsub.Message, 32)
	c.mu.Lock()
	c.subs[topic] = append(c.subs[topic], ch)
	c.mu.Unlock()
	return ch, nil
}

// Close closes the underlying WebSocket connection.
func (c *Client) Close() error { return c.conn.Close() }

var _ pubsub.Transport = (*Client)(nil)
