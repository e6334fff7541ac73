package ot

import "fmt"

// Side breaks ties between inserts made at the same position by two
// concurrent operations.
type Side int

const (
	// Left: the operation being transformed keeps its inserts first.
	Left Side = iota
	// Right: the other operation's inserts go first.
	Right
)

// Other returns the opposite side.
func (s Side) Other() Side {
	if s == Left {
		return Right
	}
	return Left
}

func (s Side) String() string {
	if s == Left {
		return "left"
	}
	return "right"
}

// Transform rebases a over b, two operations made against the same
// document. The result applies to the document b produced and satisfies
//
//	Apply(Apply(doc, b), Transform(a, b, s)) == Apply(Apply(doc, a), Transform(b, a, s.Other()))
func Transform(a, b TextOperation, side Side) (TextOperation, error) {
	if a.baseLen != b.baseLen {
		return TextOperation{}, fmt.Errorf("%w: a=%d, b=%d", ErrBaseLengthMismatch, a.baseLen, b.baseLen)
	}

	var out Builder
	ia := newIter(a.ops)
	ib := newIter(b.ops)

	for !ia.done() || !ib.done() {
		aIns := ia.kind() == KindInsert
		bIns := ib.kind() == KindInsert
		if aIns && (!bIns || side == Left) {
			out.Insert(ia.take(0).Text)
			continue
		}
		if bIns {
			out.Retain(ib.take(0).Len())
			continue
		}

		if ia.done() || ib.done() {
			return TextOperation{}, fmt.Errorf("%w: operations consume different lengths", ErrIncompleteConsumption)
		}

		n := min(ia.peekLen(), ib.peekLen())
		ca := ia.take(n)
		cb := ib.take(n)
		switch {
		case ca.Kind == KindRetain && cb.Kind == KindRetain:
			out.Retain(n)
		case ca.Kind == KindDelete && cb.Kind == KindRetain:
			out.Delete(n)
		}
		// Retain against delete: b already removed the range.
		// Delete against delete: both removed it.
	}

	if err := out.Err(); err != nil {
		return TextOperation{}, err
	}
	return out.Build(), nil
}

// TransformPair returns a' and b' such that
// Apply(Apply(doc, a), bPrime) == Apply(Apply(doc, b), aPrime).
// a's inserts win ties.
func TransformPair(a, b TextOperation) (aPrime, bPrime TextOperation, err error) {
	if aPrime, err = Transform(a, b, Left); err != nil {
		return TextOperation{}, TextOperation{}, err
	}
	if bPrime, err = Transform(b, a, Right); err != nil {
		return TextOperation{}, TextOperation{}, err
	}
	return aPrime, bPrime, nil
}

// iter walks op entries, allowing partial consumption of the head entry.
type iter struct {
	ops   []Op
	index int
	head  Op
	ok    bool
}

func newIter(ops []Op) *iter {
	it := &iter{ops: ops}
	it.advance()
	return it
}

func (it *iter) advance() {
	if it.index < len(it.ops) {
		it.head = it.ops[it.index]
		it.index++
		it.ok = true
		return
	}
	it.head = Op{}
	it.ok = false
}

func (it *iter) done() bool { return !it.ok }

func (it *iter) kind() OpKind {
	if !it.ok {
		return 0
	}
	return it.head.Kind
}

func (it *iter) peekLen() int {
	if !it.ok {
		return 0
	}
	return it.head.Len()
}

// take consumes n characters from the head entry. n <= 0 takes all of it.
func (it *iter) take(n int) Op {
	h := it.head
	if n <= 0 || n >= h.Len() {
		it.advance()
		return h
	}
	if h.Kind == KindInsert {
		cut, _ := skip(h.Text, 0, n)
		it.head = Insert(h.Text[cut:])
		return Insert(h.Text[:cut])
	}
	it.head.N -= n
	return Op{Kind: h.Kind, N: n}
}
