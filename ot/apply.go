package ot

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

// Apply replays op against doc and returns the new document. On error doc
// is not modified and the returned string is empty.
func Apply(doc string, op TextOperation) (string, error) {
	if n := utf8.RuneCountInString(doc); n != op.baseLen {
		return "", fmt.Errorf("%w: document length %d != operation base length %d", ErrLengthMismatch, n, op.baseLen)
	}

	var b strings.Builder
	b.Grow(len(doc))
	pos := 0
	written := 0
	for i, o := range op.ops {
		switch o.Kind {
		case KindRetain:
			end, ok := skip(doc, pos, o.N)
			if !ok {
				return "", fmt.Errorf("%w: retain(%d) at entry %d runs past end of document", ErrOutOfBounds, o.N, i)
			}
			b.WriteString(doc[pos:end])
			pos = end
			written += o.N
		case KindInsert:
			b.WriteString(o.Text)
			written += o.Len()
		case KindDelete:
			end, ok := skip(doc, pos, o.N)
			if !ok {
				return "", fmt.Errorf("%w: delete(%d) at entry %d runs past end of document", ErrOutOfBounds, o.N, i)
			}
			pos = end
		default:
			return "", fmt.Errorf("%w: entry %d has kind %v", ErrMalformedOperation, i, o.Kind)
		}
	}

	if pos != len(doc) {
		return "", fmt.Errorf("%w: %d of %d bytes consumed", ErrIncompleteConsumption, pos, len(doc))
	}
	if written != op.targetLen {
		return "", fmt.Errorf("%w: output length %d != operation target length %d", ErrLengthMismatch, written, op.targetLen)
	}
	return b.String(), nil
}

// skip returns the byte offset n characters past off, or false when s ends
// first.
func skip(s string, off, n int) (int, bool) {
	for ; n > 0; n-- {
		if off >= len(s) {
			return off, false
		}
		_, size := utf8.DecodeRuneInString(s[off:])
		off += size
	}
	return off, true
}
