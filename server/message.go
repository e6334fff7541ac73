package server

import (
	"encoding/json"

	"github.com/alimasry/go-collab-ot/ot"
)

// Message types exchanged over WebSocket.
const (
	MsgJoin   = "join"
	MsgLeave  = "leave"
	MsgOp     = "op"
	MsgAck    = "ack"
	MsgDoc    = "doc"
	MsgResync = "resync"
	MsgError  = "error"
)

// Error codes carried by MsgError so clients can react without parsing
// the message text.
const (
	CodeBadMessage     = "bad_message"
	CodeNotJoined      = "not_joined"
	CodeAlreadyJoined  = "already_joined"
	CodeRateLimited    = "rate_limited"
	CodeInvalidOp      = "invalid_op"
	CodeRevisionTooOld = "revision_too_old"
	CodeUnavailable    = "unavailable"
	CodeDeleted        = "deleted"
)

// ClientMessage is a message from client to server.
//
// For MsgOp, Revision is the server revision the operation was based on.
// For MsgResync it is the last revision the client saw.
type ClientMessage struct {
	Type     string            `json:"type"`
	DocID    string            `json:"docId,omitempty"`
	Revision int               `json:"revision"`
	Op       *ot.TextOperation `json:"op,omitempty"`
}

// ServerMessage is a message from server to client.
type ServerMessage struct {
	Type     string             `json:"type"`
	DocID    string             `json:"docId,omitempty"`
	Content  string             `json:"content"`
	Revision int                `json:"revision"`
	Op       *ot.TextOperation  `json:"op,omitempty"`
	Ops      []ot.TextOperation `json:"ops,omitempty"`
	ClientID string             `json:"clientId,omitempty"`
	Name     string             `json:"name,omitempty"`
	Color    string             `json:"color,omitempty"`
	Code     string             `json:"code,omitempty"`
	Message  string             `json:"message,omitempty"`
	Clients  []ClientInfo       `json:"clients,omitempty"`
}

// ClientInfo describes a connected user.
type ClientInfo struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Color string `json:"color"`
}

// Encode serializes a ServerMessage to JSON bytes.
func (m ServerMessage) Encode() []byte {
	b, _ := json.Marshal(m)
	return b
}
