package ot

import (
	"fmt"
	"slices"
	"unicode/utf8"
)

// Document represents a collaborative document with its recent operation
// history. History[i] took the document from revision Base+i to Base+i+1.
type Document struct {
	Content string
	Version int
	Base    int
	History []TextOperation
}

// NewDocument creates a new document with the given initial content.
func NewDocument(content string) *Document {
	return &Document{Content: content}
}

// Len returns the content length in characters.
func (d *Document) Len() int { return utf8.RuneCountInString(d.Content) }

// Apply applies an operation to the document, appending it to history.
// No-ops are dropped without bumping the version. On error the document is
// left unchanged.
func (d *Document) Apply(op TextOperation) error {
	if op.IsNoop() {
		return nil
	}
	result, err := Apply(d.Content, op)
	if err != nil {
		return fmt.Errorf("apply to document v%d: %w", d.Version, err)
	}
	d.Content = result
	d.Version++
	d.History = append(d.History, op)
	return nil
}

// Since returns the operations committed after revision.
func (d *Document) Since(revision int) ([]TextOperation, error) {
	switch {
	case revision < 0 || revision > d.Version:
		return nil, fmt.Errorf("%w: %d (document at v%d)", ErrInvalidRevision, revision, d.Version)
	case revision < d.Base:
		return nil, fmt.Errorf("%w: %d (oldest retained v%d)", ErrRevisionTooOld, revision, d.Base)
	}
	return slices.Clone(d.History[revision-d.Base:]), nil
}

// Trim drops history so that at most keep operations remain. keep <= 0
// keeps everything.
func (d *Document) Trim(keep int) {
	if keep <= 0 || len(d.History) <= keep {
		return
	}
	drop := len(d.History) - keep
	d.History = slices.Clone(d.History[drop:])
	d.Base += drop
}
