package ot

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
)

// JSON wire form:
//
//	{"baseLength":5,"targetLength":11,"ops":[{"type":"retain","count":5},{"type":"insert","text":" world"}]}

type jsonOp struct {
	Type  string  `json:"type"`
	Count *int    `json:"count,omitempty"`
	Text  *string `json:"text,omitempty"`
}

type jsonOperation struct {
	BaseLength   *int      `json:"baseLength"`
	TargetLength *int      `json:"targetLength"`
	Ops          *[]jsonOp `json:"ops"`
}

// Serialize encodes op in the JSON wire form.
func Serialize(op TextOperation) ([]byte, error) {
	return json.Marshal(op)
}

// Deserialize decodes the JSON wire form. Input that does not match the
// schema, or whose declared lengths disagree with its entries, fails with
// ErrMalformedOperation. The result is normalized.
func Deserialize(data []byte) (TextOperation, error) {
	var op TextOperation
	if err := op.UnmarshalJSON(data); err != nil {
		return TextOperation{}, err
	}
	return op, nil
}

// MarshalJSON implements json.Marshaler.
func (op TextOperation) MarshalJSON() ([]byte, error) {
	ops := make([]jsonOp, len(op.ops))
	for i, o := range op.ops {
		switch o.Kind {
		case KindRetain, KindDelete:
			n := o.N
			ops[i] = jsonOp{Type: o.Kind.String(), Count: &n}
		case KindInsert:
			s := o.Text
			ops[i] = jsonOp{Type: o.Kind.String(), Text: &s}
		default:
			return nil, fmt.Errorf("%w: entry %d has kind %v", ErrMalformedOperation, i, o.Kind)
		}
	}
	base, target := op.baseLen, op.targetLen
	return json.Marshal(jsonOperation{BaseLength: &base, TargetLength: &target, Ops: &ops})
}

// UnmarshalJSON implements json.Unmarshaler with the same validation as
// Deserialize.
func (op *TextOperation) UnmarshalJSON(data []byte) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var raw jsonOperation
	if err := dec.Decode(&raw); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOperation, err)
	}
	if _, err := dec.Token(); err != io.EOF {
		return fmt.Errorf("%w: trailing data after operation", ErrMalformedOperation)
	}
	if raw.BaseLength == nil || raw.TargetLength == nil || raw.Ops == nil {
		return fmt.Errorf("%w: baseLength, targetLength and ops are required", ErrMalformedOperation)
	}

	ops := make([]Op, len(*raw.Ops))
	for i, jo := range *raw.Ops {
		o, err := jo.decode()
		if err != nil {
			return fmt.Errorf("%w: entry %d: %v", ErrMalformedOperation, i, err)
		}
		ops[i] = o
	}
	decoded, err := checked(ops, *raw.BaseLength, *raw.TargetLength)
	if err != nil {
		return err
	}
	*op = decoded
	return nil
}

func (jo jsonOp) decode() (Op, error) {
	switch jo.Type {
	case "retain", "delete":
		if jo.Count == nil || jo.Text != nil {
			return Op{}, fmt.Errorf("%s needs count and no text", jo.Type)
		}
		if jo.Type == "retain" {
			return Retain(*jo.Count), nil
		}
		return Delete(*jo.Count), nil
	case "insert":
		if jo.Text == nil || jo.Count != nil {
			return Op{}, fmt.Errorf("insert needs text and no count")
		}
		return Insert(*jo.Text), nil
	}
	return Op{}, fmt.Errorf("unknown type %q", jo.Type)
}

// checked validates decoded entries against the declared lengths and
// returns the normalized operation.
func checked(ops []Op, base, target int) (TextOperation, error) {
	if base < 0 || target < 0 || base > maxLen || target > maxLen {
		return TextOperation{}, fmt.Errorf("%w: declared lengths %d->%d out of range", ErrMalformedOperation, base, target)
	}
	op, err := New(ops...)
	if err != nil {
		return TextOperation{}, err
	}
	if op.baseLen != base || op.targetLen != target {
		return TextOperation{}, fmt.Errorf("%w: declared lengths %d->%d, entries give %d->%d",
			ErrMalformedOperation, base, target, op.baseLen, op.targetLen)
	}
	return Normalize(op), nil
}
