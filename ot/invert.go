package ot

import (
	"fmt"
	"unicode/utf8"
)

// Invert returns the operation that undoes op, given the document op was
// applied to:
//
//	Apply(Apply(doc, op), Invert(op, doc)) == doc
func Invert(op TextOperation, doc string) (TextOperation, error) {
	if n := utf8.RuneCountInString(doc); n != op.baseLen {
		return TextOperation{}, fmt.Errorf("%w: document length %d != operation base length %d", ErrLengthMismatch, n, op.baseLen)
	}

	var out Builder
	pos := 0
	for i, o := range op.ops {
		switch o.Kind {
		case KindRetain:
			end, ok := skip(doc, pos, o.N)
			if !ok {
				return TextOperation{}, fmt.Errorf("%w: retain(%d) at entry %d", ErrOutOfBounds, o.N, i)
			}
			out.Retain(o.N)
			pos = end
		case KindInsert:
			out.Delete(o.Len())
		case KindDelete:
			end, ok := skip(doc, pos, o.N)
			if !ok {
				return TextOperation{}, fmt.Errorf("%w: delete(%d) at entry %d", ErrOutOfBounds, o.N, i)
			}
			out.Insert(doc[pos:end])
			pos = end
		default:
			return TextOperation{}, fmt.Errorf("%w: entry %d has kind %v", ErrMalformedOperation, i, o.Kind)
		}
	}
	if err := out.Err(); err != nil {
		return TextOperation{}, err
	}
	return out.Build(), nil
}
