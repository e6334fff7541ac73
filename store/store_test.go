package store

import (
	"context"
	"errors"
	"testing"

	"github.com/alimasry/go-collab-ot/ot"
)

func mustInsert(t *testing.T, pos int, text string, docLen int) ot.TextOperation {
	t.Helper()
	op, err := ot.InsertOp(pos, text, docLen)
	if err != nil {
		t.Fatal(err)
	}
	return op
}

func mustDelete(t *testing.T, pos, count, docLen int) ot.TextOperation {
	t.Helper()
	op, err := ot.DeleteOp(pos, count, docLen)
	if err != nil {
		t.Fatal(err)
	}
	return op
}

// testDocumentStore runs the behaviour every DocumentStore must share.
// newStore returns an empty store.
func testDocumentStore(t *testing.T, newStore func(t *testing.T) DocumentStore) {
	ctx := context.Background()

	t.Run("create and get", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, "doc1", "héllo"); err != nil {
			t.Fatal(err)
		}
		info, err := s.Get(ctx, "doc1")
		if err != nil {
			t.Fatal(err)
		}
		if info.ID != "doc1" || info.Content != "héllo" || info.Version != 0 {
			t.Errorf("unexpected info: %+v", info)
		}
		if info.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})

	t.Run("duplicate create", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, "doc1", ""); err != nil {
			t.Fatal(err)
		}
		if err := s.Create(ctx, "doc1", ""); !errors.Is(err, ErrExists) {
			t.Errorf("error = %v, want ErrExists", err)
		}
	})

	t.Run("not found", func(t *testing.T) {
		s := newStore(t)
		if _, err := s.Get(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get error = %v, want ErrNotFound", err)
		}
		if _, err := s.GetOperations(ctx, "nope", 0); !errors.Is(err, ErrNotFound) {
			t.Errorf("GetOperations error = %v, want ErrNotFound", err)
		}
		if err := s.UpdateContent(ctx, "nope", "x", 1); !errors.Is(err, ErrNotFound) {
			t.Errorf("UpdateContent error = %v, want ErrNotFound", err)
		}
		if err := s.Delete(ctx, "nope"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Delete error = %v, want ErrNotFound", err)
		}
	})

	t.Run("list", func(t *testing.T) {
		s := newStore(t)
		for _, id := range []string{"c", "a", "b"} {
			if err := s.Create(ctx, id, ""); err != nil {
				t.Fatal(err)
			}
		}
		docs, err := s.List(ctx)
		if err != nil {
			t.Fatal(err)
		}
		if len(docs) != 3 {
			t.Fatalf("got %d docs, want 3", len(docs))
		}
		for i, want := range []string{"a", "b", "c"} {
			if docs[i].ID != want {
				t.Errorf("docs[%d] = %q, want %q", i, docs[i].ID, want)
			}
		}
	})

	t.Run("operations", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, "doc1", "hello"); err != nil {
			t.Fatal(err)
		}
		op1 := mustInsert(t, 5, " wörld", 5)
		op2 := mustDelete(t, 0, 5, 11)
		if err := s.AppendOperation(ctx, "doc1", op1, 1); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendOperation(ctx, "doc1", op2, 2); err != nil {
			t.Fatal(err)
		}
		if err := s.UpdateContent(ctx, "doc1", " wörld", 2); err != nil {
			t.Fatal(err)
		}

		ops, err := s.GetOperations(ctx, "doc1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 2 || !ops[0].Equal(op1) || !ops[1].Equal(op2) {
			t.Fatalf("GetOperations(0) = %v", ops)
		}
		ops, err = s.GetOperations(ctx, "doc1", 1)
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 1 || !ops[0].Equal(op2) {
			t.Fatalf("GetOperations(1) = %v", ops)
		}

		info, err := s.Get(ctx, "doc1")
		if err != nil {
			t.Fatal(err)
		}
		if info.Content != " wörld" || info.Version != 2 {
			t.Errorf("content=%q version=%d", info.Content, info.Version)
		}
	})

	t.Run("version conflict", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, "doc1", ""); err != nil {
			t.Fatal(err)
		}
		op := mustInsert(t, 0, "x", 0)
		if err := s.AppendOperation(ctx, "doc1", op, 1); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendOperation(ctx, "doc1", mustInsert(t, 0, "y", 1), 1); !errors.Is(err, ErrConflict) {
			t.Errorf("error = %v, want ErrConflict", err)
		}
	})

	t.Run("delete", func(t *testing.T) {
		s := newStore(t)
		if err := s.Create(ctx, "doc1", "x"); err != nil {
			t.Fatal(err)
		}
		if err := s.AppendOperation(ctx, "doc1", mustInsert(t, 1, "y", 1), 1); err != nil {
			t.Fatal(err)
		}
		if err := s.Delete(ctx, "doc1"); err != nil {
			t.Fatal(err)
		}
		if _, err := s.Get(ctx, "doc1"); !errors.Is(err, ErrNotFound) {
			t.Errorf("Get after delete error = %v", err)
		}
		// The id can be reused with an empty log.
		if err := s.Create(ctx, "doc1", ""); err != nil {
			t.Fatal(err)
		}
		ops, err := s.GetOperations(ctx, "doc1", 0)
		if err != nil {
			t.Fatal(err)
		}
		if len(ops) != 0 {
			t.Errorf("recreated document has %d ops", len(ops))
		}
	})
}

// mustNew builds retain(retain) insert(text) delete(del).
func mustNew(t *testing.T, retain int, text string, del int) ot.TextOperation {
	t.Helper()
	op, err := ot.New(ot.Retain(retain), ot.Insert(text), ot.Delete(del))
	if err != nil {
		t.Fatal(err)
	}
	return op
}
