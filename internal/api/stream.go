package api

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"
)

const (
	EventConnected = "connected"
	EventFlipped   = "flipped"
	EventFinalized = "finalized"
	EventDeleted   = "deleted"
)

// DecisionEvent describes websocket payloads emitted as a user's decisions change.
type DecisionEvent struct {
	Type         string    `json:"type"`
	DecisionID   string    `json:"decisionId,omitempty"`
	Question     string    `json:"question,omitempty"`
	Result       string    `json:"result,omitempty"`
	FinalChoice  string    `json:"finalChoice,omitempty"`
	DeletedCount int64     `json:"deletedCount,omitempty"`
	Timestamp    time.Time `json:"timestamp"`
}

// wsClient wraps a websocket connection with write locking.
type wsClient struct {
	conn   *websocket.Conn
	userID string
	mu     sync.Mutex
}

// DecisionNotifier tracks websocket clients per user and fans out that user's events.
type DecisionNotifier struct {
	mu      sync.Mutex
	clients map[string]map[*wsClient]struct{}
}

// NewDecisionNotifier constructs a notifier instance.
func NewDecisionNotifier() *DecisionNotifier {
	return &DecisionNotifier{clients: make(map[string]map[*wsClient]struct{})}
}

// Register attaches a websocket connection for userID and greets it.
func (n *DecisionNotifier) Register(userID string, conn *websocket.Conn) *wsClient {
	client := &wsClient{conn: conn, userID: userID}
	n.mu.Lock()
	set, ok := n.clients[userID]
	if !ok {
		set = make(map[*wsClient]struct{})
		n.clients[userID] = set
	}
	set[client] = struct{}{}
	n.mu.Unlock()

	_ = client.writeJSON(DecisionEvent{Type: EventConnected, Timestamp: time.Now().UTC()})
	return client
}

// Unregister removes the websocket client from the notifier and closes the socket.
func (n *DecisionNotifier) Unregister(client *wsClient) {
	if client == nil {
		return
	}
	n.mu.Lock()
	n.remove(client)
	n.mu.Unlock()
	_ = client.conn.Close()
}

func (n *DecisionNotifier) remove(client *wsClient) {
	set := n.clients[client.userID]
	delete(set, client)
	if len(set) == 0 {
		delete(n.clients, client.userID)
	}
}

// Publish sends the event to every connection held by userID. Other users never
// see it.
func (n *DecisionNotifier) Publish(userID string, event DecisionEvent) {
	event.Timestamp = time.Now().UTC()

	n.mu.Lock()
	defer n.mu.Unlock()
	for client := range n.clients[userID] {
		if err := client.writeJSON(event); err != nil {
			n.remove(client)
			_ = client.conn.Close()
		}
	}
}

// Connections reports how many sockets userID holds.
func (n *DecisionNotifier) Connections(userID string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return len(n.clients[userID])
}

func (c *wsClient) writeJSON(payload interface{}) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.conn == nil {
		return nil
	}
	c.conn.SetWriteDeadline(time.Now().Add(10 * time.Second))
	return c.conn.WriteJSON(payload)
}
