package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/alimasry/go-collab-ot/ot"
	"github.com/alimasry/go-collab-ot/store"
)

const persistTimeout = 5 * time.Second

type opMessage struct {
	client *Client
	msg    ClientMessage
}

type resyncRequest struct {
	client   *Client
	revision int
}

// Session manages collaboration for a single document.
// All operations are serialized through a single goroutine.
type Session struct {
	docID        string
	doc          *ot.Document
	engine       ot.Engine
	store        store.DocumentStore
	logger       *slog.Logger
	historyLimit int
	clients      map[*Client]bool

	incoming chan opMessage
	resync   chan resyncRequest
	join     chan *Client
	leave    chan *Client
	stop     chan struct{}
	done     chan struct{}
}

func newSession(docID string, doc *ot.Document, engine ot.Engine, st store.DocumentStore, logger *slog.Logger, historyLimit int) *Session {
	return &Session{
		docID:        docID,
		doc:          doc,
		engine:       engine,
		store:        st,
		logger:       logger.With("doc", docID),
		historyLimit: historyLimit,
		clients:      make(map[*Client]bool),
		incoming:     make(chan opMessage, 64),
		resync:       make(chan resyncRequest, 16),
		join:         make(chan *Client, 16),
		leave:        make(chan *Client, 16),
		stop:         make(chan struct{}),
		done:         make(chan struct{}),
	}
}

// Run is the session's main loop. It serializes all operations. When
// stopped, every remaining client is told why and disconnected.
func (s *Session) Run() {
	defer close(s.done)
	for {
		select {
		case c := <-s.join:
			s.handleJoin(c)
		case c := <-s.leave:
			s.handleLeave(c)
		case om := <-s.incoming:
			s.handleOp(om)
		case rr := <-s.resync:
			s.handleResync(rr)
		case <-s.stop:
			for c := range s.clients {
				c.sendError(CodeDeleted, "document closed")
				s.detach(c)
			}
			s.dropPendingJoins()
			return
		}
	}
}

// dropPendingJoins turns away clients whose join was queued behind stop.
func (s *Session) dropPendingJoins() {
	for {
		select {
		case c := <-s.join:
			c.joinFailed()
			c.sendError(CodeDeleted, "document closed")
		default:
			return
		}
	}
}

// enqueue hands v to the session loop, giving up once the session has
// stopped so callers never block on a dead loop.
func enqueue[T any](ch chan<- T, v T, done <-chan struct{}) bool {
	select {
	case <-done:
		return false
	default:
	}
	select {
	case ch <- v:
		return true
	case <-done:
		return false
	}
}

func (s *Session) enqueueJoin(c *Client) bool { return enqueue(s.join, c, s.done) }
func (s *Session) enqueueLeave(c *Client)     { enqueue(s.leave, c, s.done) }

func (s *Session) enqueueOp(om opMessage) bool { return enqueue(s.incoming, om, s.done) }

func (s *Session) enqueueResync(rr resyncRequest) bool { return enqueue(s.resync, rr, s.done) }

func (s *Session) handleJoin(c *Client) {
	c.mu.Lock()
	c.joining = false
	if c.closed {
		// Disconnected while the join was queued.
		c.mu.Unlock()
		return
	}
	c.session = s
	c.mu.Unlock()
	s.clients[c] = true

	// Send current document state to the joining client.
	c.sendMsg(ServerMessage{
		Type:     MsgDoc,
		DocID:    s.docID,
		Content:  s.doc.Content,
		Revision: s.doc.Version,
		ClientID: c.ID,
		Name:     c.Name,
		Color:    c.Color,
		Clients:  s.clientInfos(),
	})

	// Notify other clients about the new user.
	for other := range s.clients {
		if other != c {
			other.sendMsg(ServerMessage{
				Type:     MsgJoin,
				ClientID: c.ID,
				Name:     c.Name,
				Color:    c.Color,
			})
		}
	}
	s.logger.Debug("client joined", "client", c.ID, "clients", len(s.clients))
}

func (s *Session) handleLeave(c *Client) {
	if _, ok := s.clients[c]; !ok {
		return
	}
	s.detach(c)

	// Notify others.
	for other := range s.clients {
		other.sendMsg(ServerMessage{
			Type:     MsgLeave,
			ClientID: c.ID,
		})
	}
	s.logger.Debug("client left", "client", c.ID, "clients", len(s.clients))
}

func (s *Session) detach(c *Client) {
	delete(s.clients, c)
	c.mu.Lock()
	c.session = nil
	c.mu.Unlock()
	c.closeSend()
}

// since returns the committed operations after revision, reading from the
// store when the in-memory history no longer reaches back that far.
func (s *Session) since(revision int) ([]ot.TextOperation, error) {
	ops, err := s.doc.Since(revision)
	if !errors.Is(err, ot.ErrRevisionTooOld) {
		return ops, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	ops, err = s.store.GetOperations(ctx, s.docID, revision)
	if err != nil {
		return nil, fmt.Errorf("%w: %d: %w", ot.ErrRevisionTooOld, revision, err)
	}
	if want := s.doc.Version - revision; len(ops) != want {
		return nil, fmt.Errorf("%w: %d: store has %d of %d operations",
			ot.ErrRevisionTooOld, revision, len(ops), want)
	}
	return ops, nil
}

func (s *Session) handleOp(om opMessage) {
	logger := s.logger.With("client", om.client.ID, "revision", om.msg.Revision)
	if om.msg.Op == nil {
		om.client.sendError(CodeBadMessage, "op message without operation")
		return
	}

	concurrent, err := s.since(om.msg.Revision)
	if err != nil {
		logger.Warn("reject operation", "err", err)
		code := CodeInvalidOp
		if errors.Is(err, ot.ErrRevisionTooOld) {
			code = CodeRevisionTooOld
		}
		om.client.sendError(code, err.Error())
		return
	}

	// Transform the client's operation against server history.
	transformed, err := s.engine.TransformIncoming(*om.msg.Op, concurrent)
	if err != nil {
		logger.Warn("transform operation", "err", err)
		om.client.sendError(CodeInvalidOp, "transform: "+err.Error())
		return
	}

	content, err := ot.Apply(s.doc.Content, transformed)
	if err != nil {
		logger.Warn("apply operation", "err", err)
		om.client.sendError(CodeInvalidOp, "apply: "+err.Error())
		return
	}

	// A no-op commits nothing; the sender still needs its ack.
	if transformed.IsNoop() {
		om.client.sendMsg(ServerMessage{Type: MsgAck, Revision: s.doc.Version})
		return
	}

	// The document only moves once the store has logged the operation, so
	// its version always matches the log.
	if err := s.persist(logger, transformed, content, s.doc.Version+1); err != nil {
		om.client.sendError(CodeUnavailable, "operation not saved")
		return
	}
	if err := s.doc.Apply(transformed); err != nil {
		logger.Error("commit operation", "err", err)
		return
	}
	s.doc.Trim(s.historyLimit)

	// Ack the sender.
	om.client.sendMsg(ServerMessage{
		Type:     MsgAck,
		Revision: s.doc.Version,
	})

	// Broadcast to other clients.
	for c := range s.clients {
		if c != om.client {
			c.sendMsg(ServerMessage{
				Type:     MsgOp,
				DocID:    s.docID,
				Revision: s.doc.Version,
				Op:       &transformed,
				ClientID: om.client.ID,
			})
		}
	}
}

// persist appends op as version to the store log, then writes the content
// snapshot. Only a failed append is returned: the log alone is enough to
// rebuild the document on load.
func (s *Session) persist(logger *slog.Logger, op ot.TextOperation, content string, version int) error {
	ctx, cancel := context.WithTimeout(context.Background(), persistTimeout)
	defer cancel()
	if err := s.store.AppendOperation(ctx, s.docID, op, version); err != nil {
		logger.Error("persist operation", "version", version, "err", err)
		return err
	}
	if err := s.store.UpdateContent(ctx, s.docID, content, version); err != nil {
		logger.Error("persist content", "version", version, "err", err)
	}
	return nil
}

// handleResync sends the current snapshot and, when still available, the
// operations committed since the client's revision.
func (s *Session) handleResync(rr resyncRequest) {
	msg := ServerMessage{
		Type:     MsgResync,
		DocID:    s.docID,
		Content:  s.doc.Content,
		Revision: s.doc.Version,
	}
	if ops, err := s.since(rr.revision); err == nil {
		msg.Ops = ops
	} else {
		s.logger.Debug("resync from snapshot", "client", rr.client.ID, "err", err)
	}
	rr.client.sendMsg(msg)
}

func (s *Session) clientInfos() []ClientInfo {
	infos := make([]ClientInfo, 0, len(s.clients))
	for c := range s.clients {
		infos = append(infos, c.Info())
	}
	return infos
}
