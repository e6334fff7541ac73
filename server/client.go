package server

import (
	"encoding/json"
	"log/slog"
	"math/rand/v2"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"
)

const (
	writeWait  = 10 * time.Second
	pongWait   = 60 * time.Second
	pingPeriod = (pongWait * 9) / 10
)

// Client represents a single WebSocket connection.
type Client struct {
	ID    string
	Name  string
	Color string

	hub     *Hub
	conn    *websocket.Conn
	logger  *slog.Logger
	limiter *rate.Limiter
	send    chan []byte

	// The session this client is currently in (nil if not joined), whether
	// a join is on its way to a session, and whether send has been closed.
	mu      sync.Mutex
	session *Session
	joining bool
	closed  bool
}

var (
	adjectives = []string{"Red", "Blue", "Green", "Gold", "Silver", "Purple", "Orange", "Teal", "Coral", "Jade"}
	animals    = []string{"Fox", "Owl", "Bear", "Wolf", "Hawk", "Deer", "Lynx", "Crow", "Dove", "Seal"}
	colors     = []string{"#e74c3c", "#3498db", "#2ecc71", "#f39c12", "#9b59b6", "#1abc9c", "#e67e22", "#00bcd4", "#ff5722", "#8bc34a"}
)

func newClient(hub *Hub, conn *websocket.Conn) *Client {
	id := uuid.NewString()
	return &Client{
		ID:      id,
		Name:    adjectives[rand.IntN(len(adjectives))] + " " + animals[rand.IntN(len(animals))],
		Color:   colors[rand.IntN(len(colors))],
		hub:     hub,
		conn:    conn,
		logger:  hub.logger.With("client", id),
		limiter: rate.NewLimiter(rate.Limit(hub.cfg.OpsPerSecond), hub.cfg.OpsBurst),
		send:    make(chan []byte, 256),
	}
}

func (c *Client) currentSession() *Session {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.session
}

// disconnect leaves the current session, or closes send when there is none.
// A join still in flight sees closed and is dropped by the session.
func (c *Client) disconnect() {
	c.mu.Lock()
	s := c.session
	if s == nil && !c.closed {
		c.closed = true
		close(c.send)
	}
	c.mu.Unlock()
	if s != nil {
		s.enqueueLeave(c)
	}
}

// startJoin claims the client's single join. It reports the session already
// joined, if any, and whether the claim succeeded.
func (c *Client) startJoin() (*Session, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.session != nil || c.joining {
		return c.session, false
	}
	c.joining = true
	return nil, true
}

// joinFailed releases the claim taken by startJoin.
func (c *Client) joinFailed() {
	c.mu.Lock()
	c.joining = false
	c.mu.Unlock()
}

// ReadPump reads messages from the WebSocket and routes them.
func (c *Client) ReadPump() {
	defer func() {
		c.disconnect()
		c.conn.Close()
	}()

	if c.hub.cfg.MaxMessage > 0 {
		c.conn.SetReadLimit(c.hub.cfg.MaxMessage)
	}
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		c.conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("read", "err", err)
			}
			return
		}

		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.sendError(CodeBadMessage, "invalid message: "+err.Error())
			continue
		}
		c.route(msg)
	}
}

func (c *Client) route(msg ClientMessage) {
	if msg.Type == MsgJoin {
		c.routeJoin(msg.DocID)
		return
	}

	s := c.currentSession()
	switch msg.Type {
	case MsgOp:
		if s == nil {
			c.sendError(CodeNotJoined, "not joined to a document")
			return
		}
		if c.limiter != nil && !c.limiter.Allow() {
			c.sendError(CodeRateLimited, "too many operations")
			return
		}
		if !s.enqueueOp(opMessage{client: c, msg: msg}) {
			c.sendError(CodeDeleted, "document closed")
		}
	case MsgResync:
		if s == nil {
			c.sendError(CodeNotJoined, "not joined to a document")
			return
		}
		if !s.enqueueResync(resyncRequest{client: c, revision: msg.Revision}) {
			c.sendError(CodeDeleted, "document closed")
		}
	default:
		c.sendError(CodeBadMessage, "unknown message type: "+msg.Type)
	}
}

func (c *Client) routeJoin(docID string) {
	if docID == "" {
		c.sendError(CodeBadMessage, "join without docId")
		return
	}
	if s, ok := c.startJoin(); !ok {
		if s != nil {
			c.sendError(CodeAlreadyJoined, "already joined "+s.docID)
		} else {
			c.sendError(CodeAlreadyJoined, "join already in progress")
		}
		return
	}
	if !c.hub.requestJoin(joinRequest{client: c, docID: docID}) {
		c.joinFailed()
		c.sendError(CodeUnavailable, "server shutting down")
	}
}

// WritePump writes messages from the send channel to the WebSocket.
func (c *Client) WritePump() {
	ticker := time.NewTicker(pingPeriod)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case data, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, data); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (c *Client) sendMsg(msg ServerMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	select {
	case c.send <- msg.Encode():
	default:
		// Dropping an ack or op would desync the client. WritePump flushes
		// what is queued, then closes the connection.
		if c.logger != nil {
			c.logger.Warn("send buffer full, disconnecting", "type", msg.Type)
		}
		c.closed = true
		close(c.send)
	}
}

func (c *Client) sendError(code, message string) {
	c.sendMsg(ServerMessage{Type: MsgError, Code: code, Message: message})
}

func (c *Client) closeSend() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

func (c *Client) Info() ClientInfo {
	return ClientInfo{ID: c.ID, Name: c.Name, Color: c.Color}
}
