package ot

import (
	"fmt"
	"math"
	"slices"
)

// Builder accumulates ops in canonical form: zero-length entries are
// dropped, adjacent entries of the same kind are merged, and an insert that
// follows a delete is placed before it (both happen at the same input
// position, so the result is equivalent).
//
// The zero value is ready to use.
type Builder struct {
	ops       []Op
	baseLen   int
	targetLen int
	err       error
}

// grow adds to the running lengths, recording an error instead when either
// would overflow. Merged counts never exceed baseLen, so this bounds them too.
func (b *Builder) grow(base, target int) bool {
	if b.err != nil {
		return false
	}
	if base > math.MaxInt-b.baseLen || target > math.MaxInt-b.targetLen {
		b.err = fmt.Errorf("%w: length overflow", ErrMalformedOperation)
		return false
	}
	b.baseLen += base
	b.targetLen += target
	return true
}

// Err returns the overflow error, if any. Entries appended after it were
// dropped.
func (b *Builder) Err() error { return b.err }

// Retain appends a retain of n characters.
func (b *Builder) Retain(n int) *Builder {
	if n <= 0 || !b.grow(n, n) {
		return b
	}
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Kind == KindRetain {
		b.ops[last].N += n
		return b
	}
	b.ops = append(b.ops, Retain(n))
	return b
}

// Insert appends an insertion of text.
func (b *Builder) Insert(text string) *Builder {
	if text == "" || !b.grow(0, Insert(text).Len()) {
		return b
	}
	last := len(b.ops) - 1
	switch {
	case last >= 0 && b.ops[last].Kind == KindInsert:
		b.ops[last].Text += text
	case last >= 0 && b.ops[last].Kind == KindDelete:
		if last >= 1 && b.ops[last-1].Kind == KindInsert {
			b.ops[last-1].Text += text
			return b
		}
		del := b.ops[last]
		b.ops[last] = Insert(text)
		b.ops = append(b.ops, del)
	default:
		b.ops = append(b.ops, Insert(text))
	}
	return b
}

// Delete appends a deletion of n characters.
func (b *Builder) Delete(n int) *Builder {
	if n <= 0 || !b.grow(n, 0) {
		return b
	}
	if last := len(b.ops) - 1; last >= 0 && b.ops[last].Kind == KindDelete {
		b.ops[last].N += n
		return b
	}
	b.ops = append(b.ops, Delete(n))
	return b
}

// Op appends any op by kind.
func (b *Builder) Op(o Op) *Builder {
	switch o.Kind {
	case KindRetain:
		return b.Retain(o.N)
	case KindInsert:
		return b.Insert(o.Text)
	case KindDelete:
		return b.Delete(o.N)
	}
	return b
}

// Build returns the operation built so far. The builder may keep being used.
func (b *Builder) Build() TextOperation {
	return TextOperation{ops: slices.Clone(b.ops), baseLen: b.baseLen, targetLen: b.targetLen}
}

// Normalize returns the canonical form of op. It is idempotent and does not
// change what the operation does to a document.
func Normalize(op TextOperation) TextOperation {
	var b Builder
	for _, o := range op.ops {
		b.Op(o)
	}
	return b.Build()
}

// NormalizeOps canonicalizes a hand-built op list. It fails with
// ErrMalformedOperation when the counts overflow.
func NormalizeOps(ops []Op) ([]Op, error) {
	var b Builder
	for _, o := range ops {
		b.Op(o)
	}
	if b.err != nil {
		return nil, b.err
	}
	return b.ops, nil
}

// InsertOp builds the operation inserting text at pos in a document of
// docLen characters.
func InsertOp(pos int, text string, docLen int) (TextOperation, error) {
	if pos < 0 || docLen < 0 || pos > docLen {
		return TextOperation{}, fmt.Errorf("%w: insert at %d in document of length %d", ErrInvalidRange, pos, docLen)
	}
	var b Builder
	b.Retain(pos).Insert(text).Retain(docLen - pos)
	if b.err != nil {
		return TextOperation{}, b.err
	}
	return b.Build(), nil
}

// DeleteOp builds the operation deleting count characters at pos in a
// document of docLen characters.
func DeleteOp(pos, count, docLen int) (TextOperation, error) {
	if pos < 0 || count < 0 || docLen < 0 || pos > docLen || count > docLen-pos {
		return TextOperation{}, fmt.Errorf("%w: delete %d at %d in document of length %d", ErrInvalidRange, count, pos, docLen)
	}
	var b Builder
	b.Retain(pos).Delete(count).Retain(docLen - pos - count)
	if b.err != nil {
		return TextOperation{}, b.err
	}
	return b.Build(), nil
}

// ReplaceOp deletes count characters at pos and inserts text in their place.
// It is the composition of DeleteOp and InsertOp at the same position.
func ReplaceOp(pos, count int, text string, docLen int) (TextOperation, error) {
	del, err := DeleteOp(pos, count, docLen)
	if err != nil {
		return TextOperation{}, err
	}
	ins, err := InsertOp(pos, text, docLen-count)
	if err != nil {
		return TextOperation{}, err
	}
	return Compose(del, ins)
}
