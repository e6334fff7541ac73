// Package ot implements operational transformation over plain text.
//
// An edit is a TextOperation: a list of Retain, Insert and Delete entries
// walked left to right with a cursor over the input document. Lengths are
// counted in Unicode code points. Every function in this file and in apply,
// transform, compose and invert is pure and safe for concurrent use.
package ot

import (
	"fmt"
	"slices"
	"strings"
	"unicode/utf8"
)

// OpKind identifies the variant of an Op.
type OpKind uint8

const (
	KindRetain OpKind = iota + 1
	KindInsert
	KindDelete
)

func (k OpKind) String() string {
	switch k {
	case KindRetain:
		return "retain"
	case KindInsert:
		return "insert"
	case KindDelete:
		return "delete"
	}
	return fmt.Sprintf("OpKind(%d)", uint8(k))
}

// Op is a single step of a TextOperation. Build it with Retain, Insert or
// Delete; N is used by retain and delete, Text by insert.
type Op struct {
	Kind OpKind
	N    int
	Text string
}

// Retain skips n characters of the input unchanged.
func Retain(n int) Op { return Op{Kind: KindRetain, N: n} }

// Insert emits text at the cursor without consuming input.
func Insert(text string) Op { return Op{Kind: KindInsert, Text: text} }

// Delete consumes n characters of the input without emitting them.
func Delete(n int) Op { return Op{Kind: KindDelete, N: n} }

// Len is the number of characters the op retains, inserts or deletes.
func (o Op) Len() int {
	if o.Kind == KindInsert {
		return utf8.RuneCountInString(o.Text)
	}
	return o.N
}

func (o Op) valid() bool {
	switch o.Kind {
	case KindRetain, KindDelete:
		return o.N > 0 && o.Text == ""
	case KindInsert:
		return o.Text != "" && o.N == 0
	}
	return false
}

func (o Op) String() string {
	if o.Kind == KindInsert {
		return fmt.Sprintf("insert(%q)", o.Text)
	}
	return fmt.Sprintf("%s(%d)", o.Kind, o.N)
}

// maxLen bounds every count and document length accepted by New and the
// decoders.
const maxLen = 1<<31 - 1

// TextOperation is an immutable edit transaction: an ordered list of ops
// plus the document lengths it consumes and produces.
type TextOperation struct {
	ops       []Op
	baseLen   int
	targetLen int
}

// New builds a TextOperation from ops as given, without normalizing them.
// Each op must be well formed: positive counts and non-empty inserts. Counts
// and the resulting lengths may not exceed 2^31-1.
func New(ops ...Op) (TextOperation, error) {
	op := TextOperation{ops: slices.Clone(ops)}
	for i, o := range ops {
		if !o.valid() {
			return TextOperation{}, fmt.Errorf("%w: entry %d is %v", ErrMalformedOperation, i, o)
		}
		n := o.Len()
		if n > maxLen {
			return TextOperation{}, fmt.Errorf("%w: entry %d count %d exceeds %d", ErrMalformedOperation, i, n, maxLen)
		}
		switch o.Kind {
		case KindRetain:
			op.baseLen += n
			op.targetLen += n
		case KindInsert:
			op.targetLen += n
		case KindDelete:
			op.baseLen += n
		}
		if op.baseLen > maxLen || op.targetLen > maxLen {
			return TextOperation{}, fmt.Errorf("%w: lengths exceed %d at entry %d", ErrMalformedOperation, maxLen, i)
		}
	}
	return op, nil
}

// BaseLen returns the expected input document length.
func (op TextOperation) BaseLen() int { return op.baseLen }

// TargetLen returns the document length after the operation is applied.
func (op TextOperation) TargetLen() int { return op.targetLen }

// Ops returns a copy of the operation's entries.
func (op TextOperation) Ops() []Op { return slices.Clone(op.ops) }

// Len returns the number of entries.
func (op TextOperation) Len() int { return len(op.ops) }

// IsNoop reports whether the operation leaves every document unchanged.
func (op TextOperation) IsNoop() bool {
	if op.baseLen != op.targetLen {
		return false
	}
	for _, o := range op.ops {
		if o.Kind != KindRetain {
			return false
		}
	}
	return true
}

// Equal reports structural equality. Compare normalized operations when
// the representation of equivalent edits may differ.
func (op TextOperation) Equal(other TextOperation) bool {
	return op.baseLen == other.baseLen &&
		op.targetLen == other.targetLen &&
		slices.Equal(op.ops, other.ops)
}

func (op TextOperation) String() string {
	var b strings.Builder
	fmt.Fprintf(&b, "[%d->%d", op.baseLen, op.targetLen)
	for _, o := range op.ops {
		b.WriteByte(' ')
		b.WriteString(o.String())
	}
	b.WriteByte(']')
	return b.String()
}
