package server

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/alimasry/go-collab-ot/ot"
	"github.com/alimasry/go-collab-ot/store"
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

type handler struct {
	hub    *Hub
	logger *slog.Logger
}

// NewHandler creates the HTTP handler with all routes.
func NewHandler(hub *Hub) http.Handler {
	h := &handler{hub: hub, logger: hub.logger.With("component", "http")}

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Recoverer)

	r.Get("/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	r.Route("/api/docs", func(r chi.Router) {
		r.Use(h.logRequests)
		r.Get("/", h.listDocs)
		r.Post("/", h.createDoc)
		r.Get("/{id}", h.getDoc)
		r.Get("/{id}/ops", h.getOps)
		r.Get("/{id}/diff", h.getDiff)
		r.Delete("/{id}", h.deleteDoc)
	})

	// WebSocket endpoint.
	r.Get("/ws", h.serveWS)

	return r
}

func (h *handler) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		h.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"bytes", ww.BytesWritten(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()),
		)
	})
}

func (h *handler) serveWS(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade", "err", err)
		return
	}
	client := newClient(h.hub, conn)
	go client.WritePump()
	go client.ReadPump()
}

func (h *handler) listDocs(w http.ResponseWriter, r *http.Request) {
	docs, err := h.hub.store.List(r.Context())
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if docs == nil {
		docs = []store.DocumentInfo{}
	}
	writeJSON(w, http.StatusOK, docs)
}

type createRequest struct {
	ID      string `json:"id"`
	Content string `json:"content"`
}

func (h *handler) createDoc(w http.ResponseWriter, r *http.Request) {
	var req createRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if err := h.hub.store.Create(r.Context(), req.ID, req.Content); err != nil {
		h.writeStoreError(w, err)
		return
	}
	info, err := h.hub.store.Get(r.Context(), req.ID)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

func (h *handler) getDoc(w http.ResponseWriter, r *http.Request) {
	info, err := h.hub.store.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, info)
}

type opsResponse struct {
	From int                `json:"from"`
	Ops  []ot.TextOperation `json:"ops"`
}

// fromParam reads the optional ?from= revision, defaulting to 0.
func fromParam(r *http.Request) (int, error) {
	s := r.URL.Query().Get("from")
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return 0, errors.New("from must be an integer")
	}
	return n, nil
}

func (h *handler) getOps(w http.ResponseWriter, r *http.Request) {
	from, err := fromParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ops, err := h.hub.store.GetOperations(r.Context(), chi.URLParam(r, "id"), from)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	if ops == nil {
		ops = []ot.TextOperation{}
	}
	writeJSON(w, http.StatusOK, opsResponse{From: from, Ops: ops})
}

type diffResponse struct {
	From int               `json:"from"`
	To   int               `json:"to"`
	Op   *ot.TextOperation `json:"op"`
}

// getDiff returns the single operation taking the document from revision
// from to the latest stored one, or a null op when nothing changed.
func (h *handler) getDiff(w http.ResponseWriter, r *http.Request) {
	from, err := fromParam(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	ops, err := h.hub.store.GetOperations(r.Context(), chi.URLParam(r, "id"), from)
	if err != nil {
		h.writeStoreError(w, err)
		return
	}
	resp := diffResponse{From: from, To: from + len(ops)}
	if len(ops) > 0 {
		op, err := ot.ComposeAll(ops...)
		if err != nil {
			h.logger.Error("compose stored operations", "doc", chi.URLParam(r, "id"), "from", from, "err", err)
			writeError(w, http.StatusInternalServerError, errors.New("internal error"))
			return
		}
		resp.Op = &op
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *handler) deleteDoc(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "id")
	h.hub.CloseSession(id)
	if err := h.hub.store.Delete(r.Context(), id); err != nil {
		h.writeStoreError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) writeStoreError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, store.ErrNotFound):
		writeError(w, http.StatusNotFound, err)
	case errors.Is(err, store.ErrExists), errors.Is(err, store.ErrConflict):
		writeError(w, http.StatusConflict, err)
	case errors.Is(err, ot.ErrInvalidRevision):
		writeError(w, http.StatusBadRequest, err)
	default:
		h.logger.Error("store", "err", err)
		writeError(w, http.StatusInternalServerError, errors.New("internal error"))
	}
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, map[string]string{"error": err.Error()})
}
