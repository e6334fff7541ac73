package ot

import (
	"fmt"
	"unicode/utf8"

	"google.golang.org/protobuf/encoding/protowire"
)

// Binary wire form, protobuf-compatible:
//
//	message TextOperation {
//	  uint64 base_length   = 1;
//	  uint64 target_length = 2;
//	  repeated Op ops      = 3;
//	}
//	message Op {
//	  oneof kind {
//	    uint64 retain = 1;
//	    string insert = 2;
//	    uint64 delete = 3;
//	  }
//	}
const (
	fieldBaseLength   protowire.Number = 1
	fieldTargetLength protowire.Number = 2
	fieldOps          protowire.Number = 3

	fieldRetain protowire.Number = 1
	fieldInsert protowire.Number = 2
	fieldDelete protowire.Number = 3
)

// MarshalBinary implements encoding.BinaryMarshaler.
func (op TextOperation) MarshalBinary() ([]byte, error) {
	var buf []byte
	buf = protowire.AppendTag(buf, fieldBaseLength, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(op.baseLen))
	buf = protowire.AppendTag(buf, fieldTargetLength, protowire.VarintType)
	buf = protowire.AppendVarint(buf, uint64(op.targetLen))

	for i, o := range op.ops {
		var m []byte
		switch o.Kind {
		case KindRetain:
			m = protowire.AppendTag(m, fieldRetain, protowire.VarintType)
			m = protowire.AppendVarint(m, uint64(o.N))
		case KindInsert:
			m = protowire.AppendTag(m, fieldInsert, protowire.BytesType)
			m = protowire.AppendString(m, o.Text)
		case KindDelete:
			m = protowire.AppendTag(m, fieldDelete, protowire.VarintType)
			m = protowire.AppendVarint(m, uint64(o.N))
		default:
			return nil, fmt.Errorf("%w: entry %d has kind %v", ErrMalformedOperation, i, o.Kind)
		}
		buf = protowire.AppendTag(buf, fieldOps, protowire.BytesType)
		buf = protowire.AppendBytes(buf, m)
	}
	return buf, nil
}

// UnmarshalBinary implements encoding.BinaryUnmarshaler. It rejects input
// that does not match the schema with ErrMalformedOperation.
func (op *TextOperation) UnmarshalBinary(data []byte) error {
	var (
		base, target uint64
		ops          []Op
	)
	for len(data) > 0 {
		num, typ, n := protowire.ConsumeTag(data)
		if n < 0 {
			return malformedWire(protowire.ParseError(n))
		}
		data = data[n:]

		switch {
		case num == fieldBaseLength && typ == protowire.VarintType:
			base, n = protowire.ConsumeVarint(data)
		case num == fieldTargetLength && typ == protowire.VarintType:
			target, n = protowire.ConsumeVarint(data)
		case num == fieldOps && typ == protowire.BytesType:
			var m []byte
			m, n = protowire.ConsumeBytes(data)
			if n >= 0 {
				o, err := unmarshalOp(m)
				if err != nil {
					return err
				}
				ops = append(ops, o)
			}
		default:
			return fmt.Errorf("%w: unexpected field %d (wire type %d)", ErrMalformedOperation, num, typ)
		}
		if n < 0 {
			return malformedWire(protowire.ParseError(n))
		}
		data = data[n:]
	}

	if base > maxLen || target > maxLen {
		return fmt.Errorf("%w: length overflow", ErrMalformedOperation)
	}
	decoded, err := checked(ops, int(base), int(target))
	if err != nil {
		return err
	}
	*op = decoded
	return nil
}

func unmarshalOp(m []byte) (Op, error) {
	num, typ, n := protowire.ConsumeTag(m)
	if n < 0 {
		return Op{}, malformedWire(protowire.ParseError(n))
	}
	m = m[n:]

	var o Op
	switch {
	case (num == fieldRetain || num == fieldDelete) && typ == protowire.VarintType:
		var v uint64
		v, n = protowire.ConsumeVarint(m)
		if n >= 0 && v > maxLen {
			return Op{}, fmt.Errorf("%w: count overflow", ErrMalformedOperation)
		}
		if num == fieldRetain {
			o = Retain(int(v))
		} else {
			o = Delete(int(v))
		}
	case num == fieldInsert && typ == protowire.BytesType:
		var s string
		s, n = protowire.ConsumeString(m)
		if n >= 0 && !utf8.ValidString(s) {
			return Op{}, fmt.Errorf("%w: insert text is not valid UTF-8", ErrMalformedOperation)
		}
		o = Insert(s)
	default:
		return Op{}, fmt.Errorf("%w: unexpected op field %d (wire type %d)", ErrMalformedOperation, num, typ)
	}
	if n < 0 {
		return Op{}, malformedWire(protowire.ParseError(n))
	}
	if n != len(m) {
		return Op{}, fmt.Errorf("%w: op carries more than one kind", ErrMalformedOperation)
	}
	return o, nil
}

func malformedWire(err error) error {
	return fmt.Errorf("%w: %v", ErrMalformedOperation, err)
}
