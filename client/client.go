// Package client is a Go editor client for the collaboration server. It
// keeps a local copy of one document, applies local edits immediately and
// reconciles them with concurrent remote edits.
package client

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/gorilla/websocket"

	"github.com/alimasry/go-collab-ot/ot"
	"github.com/alimasry/go-collab-ot/server"
)

// ErrClosed is returned by edits after the connection ended.
var ErrClosed = errors.New("client: connection closed")

const writeWait = 10 * time.Second

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default is slog.Default.
func WithLogger(l *slog.Logger) Option {
	return func(c *Client) { c.logger = l }
}

// WithUndoLimit bounds the undo history. The default, 0, keeps every step.
func WithUndoLimit(n int) Option {
	return func(c *Client) { c.undoLimit = n }
}

// Client is one editor joined to a document. Its methods are safe for
// concurrent use.
type Client struct {
	conn      *websocket.Conn
	logger    *slog.Logger
	undoLimit int
	docID     string

	mu      sync.Mutex
	id      string
	content string
	state   *ot.Client
	undo    *ot.UndoManager
	peers   map[string]server.ClientInfo
	err     error
	changed chan struct{} // closed and replaced on every state change

	done chan struct{}
}

// Dial connects to the websocket endpoint at url (ws://host/ws) and joins
// docID, returning once the initial document has arrived.
func Dial(ctx context.Context, url, docID string, opts ...Option) (*Client, error) {
	c := &Client{
		docID:   docID,
		peers:   make(map[string]server.ClientInfo),
		changed: make(chan struct{}),
		done:    make(chan struct{}),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("client: dial %s: %w", url, err)
	}
	c.conn = conn

	if err := c.join(ctx); err != nil {
		conn.Close()
		return nil, err
	}
	c.logger = c.logger.With("component", "client", "doc", docID, "client", c.id)
	go c.readLoop()
	return c, nil
}

func (c *Client) join(ctx context.Context) error {
	if deadline, ok := ctx.Deadline(); ok {
		c.conn.SetReadDeadline(deadline)
		defer c.conn.SetReadDeadline(time.Time{})
	}
	if err := c.write(server.ClientMessage{Type: server.MsgJoin, DocID: c.docID}); err != nil {
		return fmt.Errorf("client: join %q: %w", c.docID, err)
	}
	var msg server.ServerMessage
	if err := c.conn.ReadJSON(&msg); err != nil {
		return fmt.Errorf("client: join %q: %w", c.docID, err)
	}
	if msg.Type != server.MsgDoc {
		return fmt.Errorf("client: join %q: got %s: %s", c.docID, msg.Type, msg.Message)
	}
	c.id = msg.ClientID
	c.content = msg.Content
	c.state = ot.NewClient(msg.Revision)
	c.undo = ot.NewUndoManager(c.undoLimit)
	for _, p := range msg.Clients {
		if p.ID != c.id {
			c.peers[p.ID] = p
		}
	}
	return nil
}

// write sends one message. Callers hold c.mu, except during join, so there
// is a single writer.
func (c *Client) write(msg server.ClientMessage) error {
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	return c.conn.WriteJSON(msg)
}

// ID returns the identifier the server assigned to this client.
func (c *Client) ID() string { return c.id }

// Content returns the local copy of the document.
func (c *Client) Content() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.content
}

// Revision returns the last server revision this client has seen.
func (c *Client) Revision() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state.Revision()
}

// Peers returns the other clients editing the document.
func (c *Client) Peers() []server.ClientInfo {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]server.ClientInfo, 0, len(c.peers))
	for _, p := range c.peers {
		out = append(out, p)
	}
	return out
}

// Done is closed when the connection ends; Err then reports why.
func (c *Client) Done() <-chan struct{} { return c.done }

func (c *Client) Err() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.err
}

// Insert inserts text at rune offset pos.
func (c *Client) Insert(pos int, text string) error {
	return c.edit(func(n int) (ot.TextOperation, error) { return ot.InsertOp(pos, text, n) })
}

// Delete removes count runes at pos.
func (c *Client) Delete(pos, count int) error {
	return c.edit(func(n int) (ot.TextOperation, error) { return ot.DeleteOp(pos, count, n) })
}

// Replace replaces count runes at pos with text.
func (c *Client) Replace(pos, count int, text string) error {
	return c.edit(func(n int) (ot.TextOperation, error) { return ot.ReplaceOp(pos, count, text, n) })
}

func (c *Client) edit(build func(docLen int) (ot.TextOperation, error)) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	op, err := build(utf8.RuneCountInString(c.content))
	if err != nil {
		return err
	}
	if op.IsNoop() {
		return nil
	}
	if err := c.undo.Record(op, c.content, false); err != nil {
		return err
	}
	return c.applyLocal(op)
}

// Undo reverts the latest local edit not yet undone, adjusted for remote
// edits made since.
func (c *Client) Undo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	op, err := c.undo.Undo(c.content)
	if err != nil {
		return err
	}
	return c.applyLocal(op)
}

// Redo reapplies the latest undone edit.
func (c *Client) Redo() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err != nil {
		return c.err
	}
	op, err := c.undo.Redo(c.content)
	if err != nil {
		return err
	}
	return c.applyLocal(op)
}

// applyLocal applies op to the local copy and hands it to the sync state.
// Must hold c.mu.
func (c *Client) applyLocal(op ot.TextOperation) error {
	content, err := ot.Apply(c.content, op)
	if err != nil {
		return err
	}
	out, send, err := c.state.ApplyLocal(op)
	if err != nil {
		return err
	}
	c.content = content
	c.notify()
	if send {
		return c.sendOp(out)
	}
	return nil
}

func (c *Client) sendOp(op ot.TextOperation) error {
	err := c.write(server.ClientMessage{Type: server.MsgOp, DocID: c.docID, Revision: c.state.Revision(), Op: &op})
	if err != nil {
		return fmt.Errorf("client: send op: %w", err)
	}
	return nil
}

// notify wakes waiters. Must hold c.mu.
func (c *Client) notify() {
	close(c.changed)
	c.changed = make(chan struct{})
}

// waitUntil blocks until cond, evaluated under c.mu, holds.
func (c *Client) waitUntil(ctx context.Context, cond func() bool) error {
	for {
		c.mu.Lock()
		ok, err, changed := cond(), c.err, c.changed
		c.mu.Unlock()
		if ok {
			return nil
		}
		if err != nil {
			return err
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Sync waits until every local edit has been acknowledged.
func (c *Client) Sync(ctx context.Context) error {
	return c.waitUntil(ctx, func() bool { return c.state.State() == ot.Synchronized })
}

// WaitFor waits until pred holds for the local content.
func (c *Client) WaitFor(ctx context.Context, pred func(content string) bool) error {
	return c.waitUntil(ctx, func() bool { return pred(c.content) })
}

func (c *Client) readLoop() {
	defer close(c.done)
	for {
		var msg server.ServerMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			c.fail(err)
			return
		}
		if err := c.handle(msg); err != nil {
			c.logger.Error("handle message", "type", msg.Type, "err", err)
			c.fail(err)
			c.conn.Close()
			return
		}
	}
}

func (c *Client) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.err == nil {
		if websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) ||
			errors.Is(err, websocket.ErrCloseSent) {
			err = ErrClosed
		} else {
			err = fmt.Errorf("%w: %w", ErrClosed, err)
		}
		c.err = err
	}
	c.notify()
}

func (c *Client) handle(msg server.ServerMessage) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	defer c.notify()

	switch msg.Type {
	case server.MsgOp:
		if msg.Op == nil {
			return errors.New("op message without operation")
		}
		op, err := c.state.ApplyServer(*msg.Op, msg.Revision)
		if err != nil {
			return err
		}
		content, err := ot.Apply(c.content, op)
		if err != nil {
			return err
		}
		c.content = content
		return c.undo.Transform(op)

	case server.MsgAck:
		out, send, err := c.state.ServerAck(msg.Revision)
		if err != nil {
			return err
		}
		if send {
			return c.sendOp(out)
		}

	case server.MsgResync:
		// Unacknowledged local edits are dropped along with undo history,
		// which no longer applies to the new snapshot.
		c.content = msg.Content
		c.state.Resync(msg.Revision)
		c.undo = ot.NewUndoManager(c.undoLimit)
		c.logger.Info("resynced", "revision", msg.Revision)

	case server.MsgJoin:
		c.peers[msg.ClientID] = server.ClientInfo{ID: msg.ClientID, Name: msg.Name, Color: msg.Color}

	case server.MsgLeave:
		delete(c.peers, msg.ClientID)

	case server.MsgError:
		switch msg.Code {
		case server.CodeInvalidOp, server.CodeRevisionTooOld, server.CodeRateLimited, server.CodeUnavailable:
			// The in-flight edit was dropped by the server.
			c.logger.Warn("edit rejected, resyncing", "code", msg.Code, "message", msg.Message)
			return c.write(server.ClientMessage{Type: server.MsgResync, DocID: c.docID, Revision: c.state.Revision()})
		case server.CodeDeleted:
			return fmt.Errorf("document %q closed: %s", c.docID, msg.Message)
		default:
			c.logger.Warn("server error", "code", msg.Code, "message", msg.Message)
		}

	default:
		c.logger.Debug("ignoring message", "type", msg.Type)
	}
	return nil
}

// Close leaves the document and closes the connection.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.err == nil {
		c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	}
	c.mu.Unlock()

	select {
	case <-c.done:
	case <-time.After(writeWait):
	}
	return c.conn.Close()
}
