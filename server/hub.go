package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/alimasry/go-collab-ot/config"
	"github.com/alimasry/go-collab-ot/ot"
	"github.com/alimasry/go-collab-ot/store"
)

type joinRequest struct {
	client *Client
	docID  string
}

// Hub manages document sessions and routes clients to the right session.
type Hub struct {
	store    store.DocumentStore
	engine   ot.Engine
	logger   *slog.Logger
	cfg      config.SessionConfig
	sessions map[string]*Session
	mu       sync.RWMutex

	joinDoc chan joinRequest
	done    chan struct{} // closed when Run returns
}

// NewHub returns a hub serving documents from st. A nil logger uses
// slog.Default.
func NewHub(st store.DocumentStore, engine ot.Engine, logger *slog.Logger, cfg config.SessionConfig) *Hub {
	if logger == nil {
		logger = slog.Default()
	}
	return &Hub{
		store:    st,
		engine:   engine,
		logger:   logger.With("component", "hub"),
		cfg:      cfg,
		sessions: make(map[string]*Session),
		joinDoc:  make(chan joinRequest, 64),
		done:     make(chan struct{}),
	}
}

// Run is the hub's main loop. It returns when ctx is done, after stopping
// every session.
func (h *Hub) Run(ctx context.Context) {
	defer close(h.done)
	for {
		select {
		case req := <-h.joinDoc:
			h.handleJoinDoc(ctx, req)
		case <-ctx.Done():
			h.mu.Lock()
			sessions := h.sessions
			h.sessions = make(map[string]*Session)
			h.mu.Unlock()
			for _, s := range sessions {
				close(s.stop)
				<-s.done
			}
			return
		}
	}
}

// requestJoin queues req for the hub loop. It returns false once Run has
// returned.
func (h *Hub) requestJoin(req joinRequest) bool {
	return enqueue(h.joinDoc, req, h.done)
}

func (h *Hub) handleJoinDoc(ctx context.Context, req joinRequest) {
	h.mu.Lock()
	s, ok := h.sessions[req.docID]
	if !ok {
		doc, err := h.loadDocument(ctx, req.docID)
		if err != nil {
			h.mu.Unlock()
			h.logger.Error("load document", "doc", req.docID, "err", err)
			req.client.joinFailed()
			req.client.sendError(CodeUnavailable, "failed to load document")
			return
		}
		s = newSession(req.docID, doc, h.engine, h.store, h.logger, h.cfg.HistoryLimit)
		h.sessions[req.docID] = s
		go s.Run()
	}
	h.mu.Unlock()

	if !s.enqueueJoin(req.client) {
		req.client.joinFailed()
		req.client.sendError(CodeDeleted, "document closed")
	}
}

// loadDocument reads a document from the store, creating it empty when
// missing. Operations logged after the stored snapshot are replayed so a
// crash between append and snapshot loses nothing.
func (h *Hub) loadDocument(ctx context.Context, docID string) (*ot.Document, error) {
	info, err := h.store.Get(ctx, docID)
	if errors.Is(err, store.ErrNotFound) {
		if err := h.store.Create(ctx, docID, ""); err != nil && !errors.Is(err, store.ErrExists) {
			return nil, err
		}
		info, err = h.store.Get(ctx, docID)
	}
	if err != nil {
		return nil, err
	}

	doc := &ot.Document{Content: info.Content, Version: info.Version, Base: info.Version}
	ops, err := h.store.GetOperations(ctx, docID, info.Version)
	if err != nil {
		return nil, fmt.Errorf("operations after v%d: %w", info.Version, err)
	}
	for _, op := range ops {
		if err := doc.Apply(op); err != nil {
			return nil, fmt.Errorf("replay v%d: %w", doc.Version+1, err)
		}
	}
	if len(ops) > 0 {
		h.logger.Info("replayed operations", "doc", docID, "from", info.Version, "to", doc.Version)
	}
	doc.Trim(h.cfg.HistoryLimit)
	return doc, nil
}

// GetSession returns the session for a document, if active.
func (h *Hub) GetSession(docID string) *Session {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return h.sessions[docID]
}

// CloseSession stops the document's session, if any, disconnecting its
// clients. It returns once the session loop has exited.
func (h *Hub) CloseSession(docID string) {
	h.mu.Lock()
	s, ok := h.sessions[docID]
	delete(h.sessions, docID)
	h.mu.Unlock()
	if ok {
		close(s.stop)
		<-s.done
	}
}
