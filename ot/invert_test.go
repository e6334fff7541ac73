package ot

import (
	"errors"
	"slices"
	"testing"
)

func TestInvert(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		op   TextOperation
		want []Op
	}{
		{"insert", "hello", mustInsert(t, 5, " world", 5), []Op{Retain(5), Delete(6)}},
		{"delete", "hello", mustDelete(t, 1, 3, 5), []Op{Retain(1), Insert("ell"), Retain(1)}},
		{"replace", "abc", mustNew(t, Retain(1), Insert("X"), Delete(1), Retain(1)), []Op{Retain(1), Insert("b"), Delete(1), Retain(1)}},
		{"multibyte delete", "añb", mustDelete(t, 1, 1, 3), []Op{Retain(1), Insert("ñ"), Retain(1)}},
		{"noop", "abc", mustNew(t, Retain(3)), []Op{Retain(3)}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			inv, err := Invert(tt.op, tt.doc)
			if err != nil {
				t.Fatal(err)
			}
			if !slices.Equal(inv.Ops(), tt.want) {
				t.Errorf("Invert() = %v, want %v", inv.Ops(), tt.want)
			}
			if inv.BaseLen() != tt.op.TargetLen() || inv.TargetLen() != tt.op.BaseLen() {
				t.Errorf("lengths %d->%d, want %d->%d", inv.BaseLen(), inv.TargetLen(), tt.op.TargetLen(), tt.op.BaseLen())
			}
			if got := mustApply(t, mustApply(t, tt.doc, tt.op), inv); got != tt.doc {
				t.Errorf("round trip = %q, want %q", got, tt.doc)
			}
		})
	}
}

func TestInvert_LengthMismatch(t *testing.T) {
	_, err := Invert(mustDelete(t, 0, 1, 5), "abc")
	if !errors.Is(err, ErrLengthMismatch) {
		t.Errorf("error = %v, want ErrLengthMismatch", err)
	}
}

func TestScenario_UndoDeleteAll(t *testing.T) {
	a := mustDelete(t, 0, 5, 5)
	if got := mustApply(t, "hello", a); got != "" {
		t.Fatalf("got %q, want empty", got)
	}
	inv, err := Invert(a, "hello")
	if err != nil {
		t.Fatal(err)
	}
	if got := mustApply(t, "", inv); got != "hello" {
		t.Errorf("got %q, want %q", got, "hello")
	}
}
