package ot

import "fmt"

// Compose folds a followed by b into one operation:
//
//	Apply(doc, Compose(a, b)) == Apply(Apply(doc, a), b)
func Compose(a, b TextOperation) (TextOperation, error) {
	if a.targetLen != b.baseLen {
		return TextOperation{}, fmt.Errorf("%w: a target %d != b base %d", ErrChainLengthMismatch, a.targetLen, b.baseLen)
	}

	var out Builder
	ia := newIter(a.ops)
	ib := newIter(b.ops)

	for !ia.done() || !ib.done() {
		// a's deletes never reach the intermediate document.
		if ia.kind() == KindDelete {
			out.Delete(ia.take(0).N)
			continue
		}
		// b's inserts never came from it.
		if ib.kind() == KindInsert {
			out.Insert(ib.take(0).Text)
			continue
		}

		if ia.done() || ib.done() {
			return TextOperation{}, fmt.Errorf("%w: intermediate document lengths disagree", ErrIncompleteConsumption)
		}

		n := min(ia.peekLen(), ib.peekLen())
		ca := ia.take(n)
		cb := ib.take(n)
		switch ca.Kind {
		case KindRetain:
			if cb.Kind == KindRetain {
				out.Retain(n)
			} else {
				out.Delete(n)
			}
		case KindInsert:
			if cb.Kind == KindRetain {
				out.Insert(ca.Text)
			}
			// Inserted by a, deleted by b: cancels out.
		}
	}

	if err := out.Err(); err != nil {
		return TextOperation{}, err
	}
	return out.Build(), nil
}

// ComposeAll folds a chain of sequential operations. It needs at least one.
func ComposeAll(ops ...TextOperation) (TextOperation, error) {
	if len(ops) == 0 {
		return TextOperation{}, fmt.Errorf("%w: nothing to compose", ErrMalformedOperation)
	}
	acc := ops[0]
	for i, op := range ops[1:] {
		var err error
		if acc, err = Compose(acc, op); err != nil {
			return TextOperation{}, fmt.Errorf("compose entry %d: %w", i+1, err)
		}
	}
	return acc, nil
}
