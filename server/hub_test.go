package server

import (
	"context"
	"testing"
	"time"

	"github.com/alimasry/go-collab-ot/config"
	"github.com/alimasry/go-collab-ot/ot"
	"github.com/alimasry/go-collab-ot/store"
)

func startHub(t *testing.T, st store.DocumentStore) *Hub {
	t.Helper()
	hub := NewHub(st, &ot.JupiterEngine{}, discardLogger(), config.Default().Session)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(runCtx)
		close(done)
	}()
	t.Cleanup(func() {
		cancel()
		<-done
	})
	return hub
}

func joinHub(t *testing.T, hub *Hub, id, docID string) *Client {
	t.Helper()
	c := mockClient(id)
	c.hub = hub
	c.routeJoin(docID)
	return c
}

func TestHub_CreateSessionOnJoin(t *testing.T) {
	st := store.NewMemoryStore()
	hub := startHub(t, st)

	c := joinHub(t, hub, "c1", "new-doc")

	msg := recvMsg(t, c)
	if msg.Type != MsgDoc {
		t.Errorf("expected doc, got %q", msg.Type)
	}
	if msg.DocID != "new-doc" {
		t.Errorf("docId = %q, want %q", msg.DocID, "new-doc")
	}

	// Session should exist
	if hub.GetSession("new-doc") == nil {
		t.Error("session not created")
	}
	if _, err := st.Get(ctx(), "new-doc"); err != nil {
		t.Errorf("document not created in store: %v", err)
	}
}

func TestHub_JoinExistingDoc(t *testing.T) {
	st := store.NewMemoryStore()
	st.Create(ctx(), "existing", "hello world")
	hub := startHub(t, st)

	c := joinHub(t, hub, "c1", "existing")

	msg := recvMsg(t, c)
	if msg.Content != "hello world" {
		t.Errorf("content = %q, want %q", msg.Content, "hello world")
	}
}

func TestHub_ReplaysLoggedOperations(t *testing.T) {
	st := store.NewMemoryStore()
	st.Create(ctx(), "doc", "abc")
	// Snapshot at v1, log at v2.
	st.AppendOperation(ctx(), "doc", *insertOp(t, 0, "X", 3), 1)
	st.UpdateContent(ctx(), "doc", "Xabc", 1)
	st.AppendOperation(ctx(), "doc", *insertOp(t, 4, "Y", 4), 2)

	hub := startHub(t, st)
	c := joinHub(t, hub, "c1", "doc")

	msg := recvMsg(t, c)
	if msg.Content != "XabcY" || msg.Revision != 2 {
		t.Errorf("doc = %q r%d, want %q r2", msg.Content, msg.Revision, "XabcY")
	}
	s := hub.GetSession("doc")
	if s == nil {
		t.Fatal("session not created")
	}

	// An op based on v1 transforms against the replayed one.
	sendOp(s, c, 1, insertOp(t, 0, "Z", 4))
	ack := recvMsg(t, c)
	if ack.Type != MsgAck || ack.Revision != 3 {
		t.Fatalf("got %s r%d (%s), want ack r3", ack.Type, ack.Revision, ack.Message)
	}
	info, err := st.Get(ctx(), "doc")
	if err != nil {
		t.Fatal(err)
	}
	if info.Content != "ZXabcY" || info.Version != 3 {
		t.Errorf("stored = %q v%d, want %q v3", info.Content, info.Version, "ZXabcY")
	}
}

func TestHub_SameDocSharesSession(t *testing.T) {
	hub := startHub(t, store.NewMemoryStore())

	c1 := joinHub(t, hub, "c1", "doc")
	recvMsg(t, c1)
	c2 := joinHub(t, hub, "c2", "doc")
	doc := recvMsg(t, c2)
	if len(doc.Clients) != 2 {
		t.Errorf("clients = %d, want 2", len(doc.Clients))
	}
	join := recvMsg(t, c1)
	if join.Type != MsgJoin || join.ClientID != "c2" {
		t.Errorf("got %s %q, want join from c2", join.Type, join.ClientID)
	}
}

func TestHub_CloseSession(t *testing.T) {
	hub := startHub(t, store.NewMemoryStore())

	c := joinHub(t, hub, "c1", "doc")
	recvMsg(t, c)

	hub.CloseSession("doc")
	msg := recvMsg(t, c)
	if msg.Type != MsgError || msg.Code != CodeDeleted {
		t.Errorf("got %s/%s, want error/%s", msg.Type, msg.Code, CodeDeleted)
	}
	if hub.GetSession("doc") != nil {
		t.Error("session still registered")
	}
	// Closing an unknown document is a no-op.
	hub.CloseSession("missing")
}

func TestHub_RunStopsSessionsOnCancel(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), &ot.JupiterEngine{}, discardLogger(), config.Default().Session)
	runCtx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})
	go func() {
		hub.Run(runCtx)
		close(done)
	}()

	c := joinHub(t, hub, "c1", "doc")
	recvMsg(t, c)
	s := hub.GetSession("doc")

	cancel()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("hub did not stop")
	}
	select {
	case <-s.done:
	default:
		t.Error("session still running")
	}
}

type failingStore struct {
	store.DocumentStore
}

func (failingStore) Get(context.Context, string) (*store.DocumentInfo, error) {
	return nil, context.DeadlineExceeded
}

func TestHub_LoadFailure(t *testing.T) {
	hub := startHub(t, failingStore{store.NewMemoryStore()})

	c := joinHub(t, hub, "c1", "doc")
	msg := recvMsg(t, c)
	if msg.Type != MsgError || msg.Code != CodeUnavailable {
		t.Errorf("got %s/%s, want error/%s", msg.Type, msg.Code, CodeUnavailable)
	}
	if hub.GetSession("doc") != nil {
		t.Error("session registered after failed load")
	}
	if _, ok := c.startJoin(); !ok {
		t.Error("failed join still blocks a new one")
	}
}

func TestHub_JoinAfterRunReturns(t *testing.T) {
	hub := NewHub(store.NewMemoryStore(), &ot.JupiterEngine{}, discardLogger(), config.Default().Session)
	runCtx, cancel := context.WithCancel(context.Background())
	cancel()
	hub.Run(runCtx)

	c := mockClient("c1")
	c.hub = hub
	done := make(chan struct{})
	go func() {
		c.routeJoin("doc")
		close(done)
	}()
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("join blocked on a stopped hub")
	}
	msg := recvMsg(t, c)
	if msg.Type != MsgError || msg.Code != CodeUnavailable {
		t.Errorf("got %s/%s, want error/%s", msg.Type, msg.Code, CodeUnavailable)
	}
}

func TestHub_SecondJoinRejectedWhilePending(t *testing.T) {
	hub := startHub(t, store.NewMemoryStore())

	c := joinHub(t, hub, "c1", "a")
	c.routeJoin("b")

	var gotDoc, gotRejected bool
	for range 2 {
		msg := recvMsg(t, c)
		switch {
		case msg.Type == MsgDoc && msg.DocID == "a":
			gotDoc = true
		case msg.Type == MsgError && msg.Code == CodeAlreadyJoined:
			gotRejected = true
		default:
			t.Errorf("unexpected %s/%s %q", msg.Type, msg.Code, msg.DocID)
		}
	}
	if !gotDoc || !gotRejected {
		t.Errorf("doc = %v, rejected = %v, want both", gotDoc, gotRejected)
	}
	if hub.GetSession("b") != nil {
		t.Error("second join opened a session")
	}
}
