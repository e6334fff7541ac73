package ot

import (
	"errors"
	"testing"

	"google.golang.org/protobuf/encoding/protowire"
)

func TestBinary_RoundTrip(t *testing.T) {
	op := mustNew(t, Retain(2), Insert("日本"), Delete(3), Retain(1))
	data, err := op.MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}
	var got TextOperation
	if err := got.UnmarshalBinary(data); err != nil {
		t.Fatal(err)
	}
	if !got.Equal(op) {
		t.Errorf("got %v, want %v", got, op)
	}
}

func TestBinary_Malformed(t *testing.T) {
	valid, err := mustInsert(t, 1, "x", 2).MarshalBinary()
	if err != nil {
		t.Fatal(err)
	}

	header := func(base, target uint64) []byte {
		var b []byte
		b = protowire.AppendTag(b, fieldBaseLength, protowire.VarintType)
		b = protowire.AppendVarint(b, base)
		b = protowire.AppendTag(b, fieldTargetLength, protowire.VarintType)
		return protowire.AppendVarint(b, target)
	}
	withOp := func(b, m []byte) []byte {
		b = protowire.AppendTag(b, fieldOps, protowire.BytesType)
		return protowire.AppendBytes(b, m)
	}

	var twoKinds []byte
	twoKinds = protowire.AppendTag(twoKinds, fieldRetain, protowire.VarintType)
	twoKinds = protowire.AppendVarint(twoKinds, 1)
	twoKinds = protowire.AppendTag(twoKinds, fieldDelete, protowire.VarintType)
	twoKinds = protowire.AppendVarint(twoKinds, 1)

	var badUTF8 []byte
	badUTF8 = protowire.AppendTag(badUTF8, fieldInsert, protowire.BytesType)
	badUTF8 = protowire.AppendBytes(badUTF8, []byte{0xff, 0xfe})

	var hugeRetain []byte
	hugeRetain = protowire.AppendTag(hugeRetain, fieldRetain, protowire.VarintType)
	hugeRetain = protowire.AppendVarint(hugeRetain, 1<<40)

	tests := []struct {
		name string
		data []byte
	}{
		{"truncated", valid[:len(valid)-1]},
		{"unknown field", protowire.AppendVarint(protowire.AppendTag(header(0, 0), 9, protowire.VarintType), 1)},
		{"wrong wire type", protowire.AppendBytes(protowire.AppendTag(nil, fieldBaseLength, protowire.BytesType), []byte("x"))},
		{"op with two kinds", withOp(header(1, 0), twoKinds)},
		{"invalid utf8 insert", withOp(header(0, 2), badUTF8)},
		{"count overflow", withOp(header(1<<40, 1<<40), hugeRetain)},
		{"declared length mismatch", withOp(header(5, 5), protowire.AppendVarint(protowire.AppendTag(nil, fieldRetain, protowire.VarintType), 2))},
		{"empty op", withOp(header(0, 0), nil)},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var op TextOperation
			if err := op.UnmarshalBinary(tt.data); !errors.Is(err, ErrMalformedOperation) {
				t.Errorf("UnmarshalBinary() error = %v, want ErrMalformedOperation", err)
			}
		})
	}
}
