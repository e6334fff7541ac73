package ot

import (
	"errors"
	"testing"
	"unicode/utf8"
)

// event is a message from the server to one client.
type event struct {
	ack      bool
	op       TextOperation
	revision int
}

type upstream struct {
	op       TextOperation
	revision int
}

type simClient struct {
	doc  string
	ot   *Client
	up   []upstream
	down []event
}

// simulation runs a server-sequenced session in memory, with one FIFO
// channel per direction per client.
type simulation struct {
	t       *testing.T
	server  *Document
	engine  Engine
	clients []*simClient
}

func newSimulation(t *testing.T, content string, n int) *simulation {
	s := &simulation{t: t, server: NewDocument(content), engine: &JupiterEngine{}}
	for range n {
		s.clients = append(s.clients, &simClient{doc: content, ot: NewClient(0)})
	}
	return s
}

func (s *simulation) edit(c *simClient, op TextOperation) {
	s.t.Helper()
	c.doc = mustApply(s.t, c.doc, op)
	out, send, err := c.ot.ApplyLocal(op)
	if err != nil {
		s.t.Fatal(err)
	}
	if send {
		c.up = append(c.up, upstream{op: out, revision: c.ot.Revision()})
	}
}

func (s *simulation) receive(from int) {
	s.t.Helper()
	c := s.clients[from]
	msg := c.up[0]
	c.up = c.up[1:]

	concurrent, err := s.server.Since(msg.revision)
	if err != nil {
		s.t.Fatal(err)
	}
	op, err := s.engine.TransformIncoming(msg.op, concurrent)
	if err != nil {
		s.t.Fatal(err)
	}
	if err := s.server.Apply(op); err != nil {
		s.t.Fatal(err)
	}
	for i, other := range s.clients {
		switch {
		case i == from:
			other.down = append(other.down, event{ack: true, revision: s.server.Version})
		case !op.IsNoop():
			other.down = append(other.down, event{op: op, revision: s.server.Version})
		}
	}
}

func (s *simulation) deliver(c *simClient) {
	s.t.Helper()
	ev := c.down[0]
	c.down = c.down[1:]

	if ev.ack {
		out, send, err := c.ot.ServerAck(ev.revision)
		if err != nil {
			s.t.Fatal(err)
		}
		if send {
			c.up = append(c.up, upstream{op: out, revision: c.ot.Revision()})
		}
		return
	}
	op, err := c.ot.ApplyServer(ev.op, ev.revision)
	if err != nil {
		s.t.Fatal(err)
	}
	c.doc = mustApply(s.t, c.doc, op)
}

func (s *simulation) drain() {
	for {
		progressed := false
		for i, c := range s.clients {
			if len(c.up) > 0 {
				s.receive(i)
				progressed = true
			}
			if len(c.down) > 0 {
				s.deliver(c)
				progressed = true
			}
		}
		if !progressed {
			return
		}
	}
}

func (s *simulation) assertConverged() {
	s.t.Helper()
	for i, c := range s.clients {
		if c.doc != s.server.Content {
			s.t.Fatalf("client %d has %q, server has %q", i, c.doc, s.server.Content)
		}
		if c.ot.State() != Synchronized {
			s.t.Fatalf("client %d left in state %v", i, c.ot.State())
		}
		if c.ot.Revision() != s.server.Version {
			s.t.Fatalf("client %d at revision %d, server at %d", i, c.ot.Revision(), s.server.Version)
		}
	}
}

func TestClient_StateTransitions(t *testing.T) {
	c := NewClient(4)
	if c.State() != Synchronized || c.Revision() != 4 {
		t.Fatalf("new client: %v at %d", c.State(), c.Revision())
	}

	first := mustInsert(t, 0, "a", 0)
	out, send, err := c.ApplyLocal(first)
	if err != nil || !send || !out.Equal(first) {
		t.Fatalf("ApplyLocal = %v, %v, %v", out, send, err)
	}
	if c.State() != AwaitingConfirm {
		t.Fatalf("state = %v, want awaiting-confirm", c.State())
	}

	if _, send, _ := c.ApplyLocal(mustInsert(t, 1, "b", 1)); send {
		t.Error("second edit sent while awaiting confirmation")
	}
	if _, send, _ := c.ApplyLocal(mustInsert(t, 2, "c", 2)); send {
		t.Error("third edit sent while awaiting confirmation")
	}
	if c.State() != AwaitingWithBuffer {
		t.Fatalf("state = %v, want awaiting-with-buffer", c.State())
	}

	out, send, err = c.ServerAck(5)
	if err != nil || !send {
		t.Fatalf("ServerAck = %v, %v, %v", out, send, err)
	}
	if got := mustApply(t, "a", out); got != "abc" {
		t.Errorf("buffered edits give %q, want %q", got, "abc")
	}
	if c.State() != AwaitingConfirm || c.Revision() != 5 {
		t.Errorf("after ack: %v at %d", c.State(), c.Revision())
	}

	if _, send, err := c.ServerAck(6); err != nil || send {
		t.Fatalf("second ServerAck = %v, %v", send, err)
	}
	if c.State() != Synchronized || c.Revision() != 6 {
		t.Errorf("after second ack: %v at %d", c.State(), c.Revision())
	}

	if _, _, err := c.ServerAck(7); !errors.Is(err, ErrNoPendingOperation) {
		t.Errorf("unexpected ack error = %v, want ErrNoPendingOperation", err)
	}
}

func TestClient_ApplyServerRebasesPending(t *testing.T) {
	// Client typed "X" at 0 of "abc"; server meanwhile committed "Y" at 0.
	c := NewClient(0)
	local := mustInsert(t, 0, "X", 3)
	if _, _, err := c.ApplyLocal(local); err != nil {
		t.Fatal(err)
	}
	remote, err := c.ApplyServer(mustInsert(t, 0, "Y", 3), 1)
	if err != nil {
		t.Fatal(err)
	}
	if got := mustApply(t, "Xabc", remote); got != "YXabc" {
		t.Errorf("local view = %q, want %q", got, "YXabc")
	}
	pending, ok := c.Pending()
	if !ok {
		t.Fatal("pending operation lost")
	}
	if got := mustApply(t, "Yabc", pending); got != "YXabc" {
		t.Errorf("server view = %q, want %q", got, "YXabc")
	}
	if c.Revision() != 1 {
		t.Errorf("revision = %d, want 1", c.Revision())
	}
}

func TestClient_Resync(t *testing.T) {
	c := NewClient(0)
	if _, _, err := c.ApplyLocal(mustInsert(t, 0, "a", 0)); err != nil {
		t.Fatal(err)
	}
	c.Resync(9)
	if c.State() != Synchronized || c.Revision() != 9 {
		t.Errorf("after resync: %v at %d", c.State(), c.Revision())
	}
	if _, ok := c.Pending(); ok {
		t.Error("pending operation survived resync")
	}
}

func TestClient_ConcurrentEditsConverge(t *testing.T) {
	s := newSimulation(t, "abc", 2)
	a, b := s.clients[0], s.clients[1]

	s.edit(a, mustInsert(t, 1, "X", 3))
	s.edit(b, mustInsert(t, 2, "Y", 3))
	s.edit(b, mustDelete(t, 0, 1, 4))
	s.drain()

	s.assertConverged()
	if s.server.Content != "XbYc" {
		t.Errorf("content = %q, want %q", s.server.Content, "XbYc")
	}
}

func TestClient_RandomInterleavingsConverge(t *testing.T) {
	for seed := range uint64(40) {
		r := newRand(100 + seed)
		s := newSimulation(t, randomText(r, 6), 3)

		for range 120 {
			c := s.clients[r.IntN(len(s.clients))]
			switch r.IntN(3) {
			case 0:
				op := randomOp(r, utf8.RuneCountInString(c.doc))
				if !op.IsNoop() {
					s.edit(c, op)
				}
			case 1:
				if len(c.up) > 0 {
					s.receive(indexOf(s.clients, c))
				}
			default:
				if len(c.down) > 0 {
					s.deliver(c)
				}
			}
		}
		s.drain()
		s.assertConverged()
	}
}

func indexOf(clients []*simClient, c *simClient) int {
	for i, x := range clients {
		if x == c {
			return i
		}
	}
	return -1
}
