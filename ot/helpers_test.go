package ot

import "testing"

func mustInsert(t *testing.T, pos int, text string, docLen int) TextOperation {
	t.Helper()
	op, err := InsertOp(pos, text, docLen)
	if err != nil {
		t.Fatalf("InsertOp(%d, %q, %d): %v", pos, text, docLen, err)
	}
	return op
}

func mustDelete(t *testing.T, pos, count, docLen int) TextOperation {
	t.Helper()
	op, err := DeleteOp(pos, count, docLen)
	if err != nil {
		t.Fatalf("DeleteOp(%d, %d, %d): %v", pos, count, docLen, err)
	}
	return op
}

func mustNew(t *testing.T, ops ...Op) TextOperation {
	t.Helper()
	op, err := New(ops...)
	if err != nil {
		t.Fatalf("New(%v): %v", ops, err)
	}
	return op
}

func mustApply(t *testing.T, doc string, op TextOperation) string {
	t.Helper()
	got, err := Apply(doc, op)
	if err != nil {
		t.Fatalf("Apply(%q, %v): %v", doc, op, err)
	}
	return got
}
