package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"cloud.google.com/go/firestore"
	"google.golang.org/api/iterator"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/alimasry/go-collab-ot/ot"
)

// FirestoreStore is a Firestore-backed implementation of DocumentStore.
// Each document lives in collection/<id>, its operations in the
// "operations" subcollection keyed by zero-padded index.
type FirestoreStore struct {
	client     *firestore.Client
	collection string
}

// NewFirestoreStore creates a new FirestoreStore using the given Firestore
// client. An empty collection defaults to "documents".
func NewFirestoreStore(client *firestore.Client, collection string) *FirestoreStore {
	if collection == "" {
		collection = "documents"
	}
	return &FirestoreStore{
		client:     client,
		collection: collection,
	}
}

func (s *FirestoreStore) docRef(id string) *firestore.DocumentRef {
	return s.client.Collection(s.collection).Doc(id)
}

func (s *FirestoreStore) opsCollection(docID string) *firestore.CollectionRef {
	return s.docRef(docID).Collection("operations")
}

func zeroPad(version int) string {
	return fmt.Sprintf("%010d", version)
}

func (s *FirestoreStore) Create(ctx context.Context, id, content string) error {
	now := time.Now()
	_, err := s.docRef(id).Create(ctx, map[string]any{
		"content":   content,
		"version":   0,
		"createdAt": now,
		"updatedAt": now,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %q", ErrExists, id)
	}
	return err
}

func (s *FirestoreStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	snap, err := s.docRef(id).Get(ctx)
	if status.Code(err) == codes.NotFound {
		return nil, fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return snapshotToDocInfo(id, snap), nil
}

func snapshotToDocInfo(id string, snap *firestore.DocumentSnapshot) *DocumentInfo {
	data := snap.Data()
	content, _ := data["content"].(string)
	version, _ := data["version"].(int64)
	createdAt, _ := data["createdAt"].(time.Time)
	updatedAt, _ := data["updatedAt"].(time.Time)
	return &DocumentInfo{
		ID:        id,
		Content:   content,
		Version:   int(version),
		CreatedAt: createdAt,
		UpdatedAt: updatedAt,
	}
}

// List returns all documents in ID order.
func (s *FirestoreStore) List(ctx context.Context) ([]DocumentInfo, error) {
	iter := s.client.Collection(s.collection).Documents(ctx)
	defer iter.Stop()

	var result []DocumentInfo
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		result = append(result, *snapshotToDocInfo(snap.Ref.ID, snap))
	}
	return result, nil
}

func (s *FirestoreStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	_, err := s.docRef(id).Update(ctx, []firestore.Update{
		{Path: "content", Value: content},
		{Path: "version", Value: version},
		{Path: "updatedAt", Value: time.Now()},
	})
	if status.Code(err) == codes.NotFound {
		return fmt.Errorf("%w: %q", ErrNotFound, id)
	}
	return err
}

func (s *FirestoreStore) AppendOperation(ctx context.Context, id string, op ot.TextOperation, version int) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}
	if version > 1 {
		// The previous op must be present so the log has no gaps.
		_, err := s.opsCollection(id).Doc(zeroPad(version - 2)).Get(ctx)
		if status.Code(err) == codes.NotFound {
			return fmt.Errorf("%w: %q has no version %d", ErrConflict, id, version-1)
		}
		if err != nil {
			return err
		}
	}

	// Store with 0-based index: version 1 → index 0, matching MemoryStore's
	// history slice semantics where GetOperations(fromVersion) returns history[fromVersion:].
	_, err := s.opsCollection(id).Doc(zeroPad(version-1)).Create(ctx, map[string]any{
		"ops":          opsToMaps(op),
		"baseLength":   op.BaseLen(),
		"targetLength": op.TargetLen(),
		"version":      version,
	})
	if status.Code(err) == codes.AlreadyExists {
		return fmt.Errorf("%w: %q already has version %d", ErrConflict, id, version)
	}
	return err
}

func opsToMaps(op ot.TextOperation) []map[string]any {
	ops := op.Ops()
	out := make([]map[string]any, len(ops))
	for i, o := range ops {
		switch o.Kind {
		case ot.KindRetain:
			out[i] = map[string]any{"retain": o.N}
		case ot.KindInsert:
			out[i] = map[string]any{"insert": o.Text}
		case ot.KindDelete:
			out[i] = map[string]any{"delete": o.N}
		}
	}
	return out
}

func (s *FirestoreStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.TextOperation, error) {
	// Verify document exists.
	if _, err := s.Get(ctx, id); err != nil {
		return nil, err
	}
	if fromVersion < 0 {
		return nil, fmt.Errorf("%w: %d", ot.ErrInvalidRevision, fromVersion)
	}

	iter := s.opsCollection(id).
		OrderBy(firestore.DocumentID, firestore.Asc).
		StartAt(zeroPad(fromVersion)).
		Documents(ctx)
	defer iter.Stop()

	var ops []ot.TextOperation
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			return nil, err
		}
		op, err := snapshotToOperation(snap)
		if err != nil {
			return nil, err
		}
		ops = append(ops, op)
	}
	return ops, nil
}

func snapshotToOperation(snap *firestore.DocumentSnapshot) (ot.TextOperation, error) {
	data := snap.Data()
	rawOps, ok := data["ops"].([]any)
	if !ok {
		return ot.TextOperation{}, fmt.Errorf("invalid ops field in operation %s", snap.Ref.ID)
	}

	ops := make([]ot.Op, len(rawOps))
	for i, raw := range rawOps {
		m, ok := raw.(map[string]any)
		if !ok {
			return ot.TextOperation{}, fmt.Errorf("invalid entry %d in operation %s", i, snap.Ref.ID)
		}
		if v, ok := m["retain"].(int64); ok {
			ops[i] = ot.Retain(int(v))
		} else if v, ok := m["insert"].(string); ok {
			ops[i] = ot.Insert(v)
		} else if v, ok := m["delete"].(int64); ok {
			ops[i] = ot.Delete(int(v))
		} else {
			return ot.TextOperation{}, fmt.Errorf("invalid entry %d in operation %s", i, snap.Ref.ID)
		}
	}
	op, err := ot.New(ops...)
	if err != nil {
		return ot.TextOperation{}, fmt.Errorf("operation %s: %w", snap.Ref.ID, err)
	}
	base, _ := data["baseLength"].(int64)
	target, _ := data["targetLength"].(int64)
	if op.BaseLen() != int(base) || op.TargetLen() != int(target) {
		return ot.TextOperation{}, fmt.Errorf("operation %s: %w: stored lengths %d->%d, entries give %d->%d",
			snap.Ref.ID, ot.ErrMalformedOperation, base, target, op.BaseLen(), op.TargetLen())
	}
	return op, nil
}

// Delete removes the document and its operations subcollection.
func (s *FirestoreStore) Delete(ctx context.Context, id string) error {
	if _, err := s.Get(ctx, id); err != nil {
		return err
	}

	bw := s.client.BulkWriter(ctx)
	iter := s.opsCollection(id).Documents(ctx)
	defer iter.Stop()
	for {
		snap, err := iter.Next()
		if errors.Is(err, iterator.Done) {
			break
		}
		if err != nil {
			bw.End()
			return err
		}
		if _, err := bw.Delete(snap.Ref); err != nil {
			bw.End()
			return err
		}
	}
	if _, err := bw.Delete(s.docRef(id)); err != nil {
		bw.End()
		return err
	}
	bw.End()
	return nil
}

// Close releases the Firestore client.
func (s *FirestoreStore) Close() error {
	return s.client.Close()
}
