// Package store persists documents and their operation logs.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/alimasry/go-collab-ot/ot"
)

var (
	ErrNotFound = errors.New("store: document not found")
	ErrExists   = errors.New("store: document already exists")
	// ErrConflict: an appended operation's version does not follow the
	// last stored one.
	ErrConflict = errors.New("store: version conflict")
)

// DocumentInfo holds document metadata and content.
type DocumentInfo struct {
	ID        string    `json:"id"`
	Content   string    `json:"content"`
	Version   int       `json:"version"`
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// DocumentStore abstracts document persistence.
//
// AppendOperation stores the operation that took the document from
// version-1 to version. GetOperations(id, from) returns the operations
// with versions from+1 onwards, oldest first.
type DocumentStore interface {
	Create(ctx context.Context, id, content string) error
	Get(ctx context.Context, id string) (*DocumentInfo, error)
	List(ctx context.Context) ([]DocumentInfo, error)
	UpdateContent(ctx context.Context, id, content string, version int) error
	AppendOperation(ctx context.Context, id string, op ot.TextOperation, version int) error
	GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.TextOperation, error)
	Delete(ctx context.Context, id string) error
}
