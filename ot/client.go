package ot

import "fmt"

// ClientState is the synchronization state of a Client.
type ClientState int

const (
	// Synchronized: no local operation is in flight.
	Synchronized ClientState = iota
	// AwaitingConfirm: one operation was sent and is not acknowledged yet.
	AwaitingConfirm
	// AwaitingWithBuffer: an operation is in flight and later local edits
	// are composed into a buffer.
	AwaitingWithBuffer
)

func (s ClientState) String() string {
	switch s {
	case Synchronized:
		return "synchronized"
	case AwaitingConfirm:
		return "awaiting-confirm"
	case AwaitingWithBuffer:
		return "awaiting-with-buffer"
	}
	return fmt.Sprintf("ClientState(%d)", int(s))
}

// Client tracks one editor's view of a server-sequenced document: the
// server revision it last saw, the operation in flight and the local edits
// made since. It never blocks; the caller owns the transport and calls it
// from a single goroutine.
type Client struct {
	revision int
	state    ClientState
	pending  TextOperation
	buffer   TextOperation
}

// NewClient returns a synchronized client at revision.
func NewClient(revision int) *Client {
	return &Client{revision: revision}
}

func (c *Client) Revision() int      { return c.revision }
func (c *Client) State() ClientState { return c.state }

// Pending returns the operation awaiting acknowledgement, if any.
func (c *Client) Pending() (TextOperation, bool) {
	return c.pending, c.state != Synchronized
}

// ApplyLocal registers an operation the user already applied to the local
// document. When send is true the returned operation must be sent to the
// server, based on Revision().
func (c *Client) ApplyLocal(op TextOperation) (out TextOperation, send bool, err error) {
	switch c.state {
	case Synchronized:
		c.pending = op
		c.state = AwaitingConfirm
		return op, true, nil
	case AwaitingConfirm:
		c.buffer = op
		c.state = AwaitingWithBuffer
		return TextOperation{}, false, nil
	default:
		buffer, err := Compose(c.buffer, op)
		if err != nil {
			return TextOperation{}, false, fmt.Errorf("buffer local edit: %w", err)
		}
		c.buffer = buffer
		return TextOperation{}, false, nil
	}
}

// ApplyServer handles an operation another client committed at revision.
// It returns the operation to apply to the local document.
func (c *Client) ApplyServer(op TextOperation, revision int) (TextOperation, error) {
	switch c.state {
	case Synchronized:
		c.revision = revision
		return op, nil
	case AwaitingConfirm:
		pending, remote, err := rebase(c.pending, op)
		if err != nil {
			return TextOperation{}, err
		}
		c.pending = pending
		c.revision = revision
		return remote, nil
	default:
		pending, remote, err := rebase(c.pending, op)
		if err != nil {
			return TextOperation{}, err
		}
		buffer, remote, err := rebase(c.buffer, remote)
		if err != nil {
			return TextOperation{}, err
		}
		c.pending, c.buffer = pending, buffer
		c.revision = revision
		return remote, nil
	}
}

// ServerAck handles the acknowledgement of the in-flight operation, which
// the server committed as revision. When send is true the buffered edits
// became the new in-flight operation and must be sent.
func (c *Client) ServerAck(revision int) (out TextOperation, send bool, err error) {
	switch c.state {
	case Synchronized:
		return TextOperation{}, false, ErrNoPendingOperation
	case AwaitingConfirm:
		c.revision = revision
		c.pending = TextOperation{}
		c.state = Synchronized
		return TextOperation{}, false, nil
	default:
		c.revision = revision
		c.pending, c.buffer = c.buffer, TextOperation{}
		c.state = AwaitingConfirm
		return c.pending, true, nil
	}
}

// Resync drops local state after the caller reloaded the document at
// revision from the server.
func (c *Client) Resync(revision int) {
	*c = Client{revision: revision}
}

// rebase transforms a local operation and a concurrent remote one past each
// other. The server transforms incoming operations with the committed one
// winning insert ties, so the remote operation gets Left here.
func rebase(local, remote TextOperation) (localPrime, remotePrime TextOperation, err error) {
	if localPrime, err = Transform(local, remote, Right); err != nil {
		return TextOperation{}, TextOperation{}, fmt.Errorf("rebase local: %w", err)
	}
	if remotePrime, err = Transform(remote, local, Left); err != nil {
		return TextOperation{}, TextOperation{}, fmt.Errorf("rebase remote: %w", err)
	}
	return localPrime, remotePrime, nil
}
