package store

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/alimasry/go-collab-ot/ot"
)

// dirtyState tracks what needs flushing for a single document.
type dirtyState struct {
	contentDirty bool // content/version needs writing to backing store
	flushedOps   int  // number of ops already flushed (index into history)
	created      bool // doc created locally but not yet in backing store
}

// CachedStore wraps a backing DocumentStore with an in-memory cache.
// All reads and writes are served from the cache. Dirty documents are
// flushed to the backing store periodically in the background.
type CachedStore struct {
	cache         *MemoryStore
	backing       DocumentStore
	logger        *slog.Logger
	mu            sync.Mutex
	dirty         map[string]*dirtyState
	flushMu       sync.Mutex // held for a whole flush pass and by Delete
	flushInterval time.Duration
	stop          chan struct{}
	done          chan struct{}
	closeOnce     sync.Once
}

// NewCachedStore creates a CachedStore that caches in memory and flushes
// dirty documents to the backing store every flushInterval.
func NewCachedStore(backing DocumentStore, flushInterval time.Duration, logger *slog.Logger) *CachedStore {
	if logger == nil {
		logger = slog.Default()
	}
	cs := &CachedStore{
		cache:         NewMemoryStore(),
		backing:       backing,
		logger:        logger.With("component", "cached-store"),
		dirty:         make(map[string]*dirtyState),
		flushInterval: flushInterval,
		stop:          make(chan struct{}),
		done:          make(chan struct{}),
	}
	go cs.flushLoop()
	return cs
}

func (cs *CachedStore) Create(ctx context.Context, id, content string) error {
	if _, err := cs.backing.Get(ctx, id); err == nil {
		return fmt.Errorf("%w: %q", ErrExists, id)
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	if err := cs.cache.Create(ctx, id, content); err != nil {
		return err
	}
	cs.mu.Lock()
	cs.dirty[id] = &dirtyState{contentDirty: true, created: true}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) Get(ctx context.Context, id string) (*DocumentInfo, error) {
	info, err := cs.cache.Get(ctx, id)
	if err == nil {
		return info, nil
	}
	// Cache miss: load from backing store.
	if err := cs.loadFromBacking(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.Get(ctx, id)
}

// List merges the backing store's documents with cached ones, which may
// be newer or not flushed yet.
func (cs *CachedStore) List(ctx context.Context) ([]DocumentInfo, error) {
	backed, err := cs.backing.List(ctx)
	if err != nil {
		return nil, err
	}
	cached, _ := cs.cache.List(ctx)

	byID := make(map[string]DocumentInfo, len(backed)+len(cached))
	for _, info := range backed {
		byID[info.ID] = info
	}
	for _, info := range cached {
		byID[info.ID] = info
	}
	result := make([]DocumentInfo, 0, len(byID))
	for _, info := range byID {
		result = append(result, info)
	}
	slices.SortFunc(result, func(a, b DocumentInfo) int { return cmp.Compare(a.ID, b.ID) })
	return result, nil
}

func (cs *CachedStore) UpdateContent(ctx context.Context, id, content string, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}
	if err := cs.cache.UpdateContent(ctx, id, content, version); err != nil {
		return err
	}
	cs.mu.Lock()
	ds := cs.dirty[id]
	if ds == nil {
		ds = &dirtyState{flushedOps: cs.historyLen(id)}
		cs.dirty[id] = ds
	}
	ds.contentDirty = true
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) AppendOperation(ctx context.Context, id string, op ot.TextOperation, version int) error {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return err
	}

	// Snapshot history length before append so we know how many ops were
	// already flushed if this doc was previously clean (removed from dirty map).
	prevLen := cs.historyLen(id)

	if err := cs.cache.AppendOperation(ctx, id, op, version); err != nil {
		return err
	}
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: prevLen}
	}
	cs.mu.Unlock()
	return nil
}

func (cs *CachedStore) GetOperations(ctx context.Context, id string, fromVersion int) ([]ot.TextOperation, error) {
	// Ensure doc is in cache.
	if _, err := cs.Get(ctx, id); err != nil {
		return nil, err
	}
	return cs.cache.GetOperations(ctx, id, fromVersion)
}

// Delete removes the document from the cache and, synchronously, from the
// backing store.
func (cs *CachedStore) Delete(ctx context.Context, id string) error {
	cs.flushMu.Lock()
	defer cs.flushMu.Unlock()

	cs.mu.Lock()
	ds := cs.dirty[id]
	delete(cs.dirty, id)
	cs.mu.Unlock()

	cacheErr := cs.cache.Delete(ctx, id)
	if ds != nil && ds.created {
		// Never reached the backing store.
		return cacheErr
	}
	err := cs.backing.Delete(ctx, id)
	if errors.Is(err, ErrNotFound) && cacheErr == nil {
		return nil
	}
	return err
}

func (cs *CachedStore) historyLen(id string) int {
	cs.cache.mu.RLock()
	defer cs.cache.mu.RUnlock()
	if rec, ok := cs.cache.docs[id]; ok {
		return len(rec.history)
	}
	return 0
}

// loadFromBacking loads a document and its operations from the backing store
// into the cache. It sets flushedOps so that already-persisted ops are not
// re-flushed.
func (cs *CachedStore) loadFromBacking(ctx context.Context, id string) error {
	info, err := cs.backing.Get(ctx, id)
	if err != nil {
		return err
	}
	ops, err := cs.backing.GetOperations(ctx, id, 0)
	if err != nil {
		return err
	}

	// Write directly into cache's internal map.
	cs.cache.mu.Lock()
	if _, exists := cs.cache.docs[id]; !exists {
		cs.cache.docs[id] = &docRecord{
			info:    *info,
			history: ops,
		}
	}
	cs.cache.mu.Unlock()

	// Set flushedOps so we don't re-flush existing ops.
	cs.mu.Lock()
	if cs.dirty[id] == nil {
		cs.dirty[id] = &dirtyState{flushedOps: len(ops)}
	}
	cs.mu.Unlock()

	return nil
}

func (cs *CachedStore) flushLoop() {
	ticker := time.NewTicker(cs.flushInterval)
	defer ticker.Stop()
	defer close(cs.done)

	for {
		select {
		case <-ticker.C:
			cs.flush()
		case <-cs.stop:
			cs.flush()
			return
		}
	}
}

// flush writes all dirty documents to the backing store.
func (cs *CachedStore) flush() {
	cs.flushMu.Lock()
	defer cs.flushMu.Unlock()

	cs.mu.Lock()
	// Snapshot the dirty map and work on a copy.
	snapshot := make(map[string]*dirtyState, len(cs.dirty))
	for id, ds := range cs.dirty {
		cp := *ds
		snapshot[id] = &cp
	}
	cs.mu.Unlock()

	ctx := context.Background()

	for id, ds := range snapshot {
		// Read current state from cache.
		cs.cache.mu.RLock()
		rec, ok := cs.cache.docs[id]
		if !ok {
			cs.cache.mu.RUnlock()
			continue
		}
		info := rec.info
		totalOps := len(rec.history)
		var newOps []ot.TextOperation
		if ds.flushedOps < totalOps {
			newOps = slices.Clone(rec.history[ds.flushedOps:])
		}
		cs.cache.mu.RUnlock()

		// 1. Create doc in backing store if needed.
		if ds.created {
			if err := cs.backing.Create(ctx, id, ""); err != nil && !errors.Is(err, ErrExists) {
				cs.logger.Error("create in backing store", "doc", id, "err", err)
				continue
			}
			ds.created = false
		}

		// 2. Flush new ops (before content, so crash-recovery can replay).
		for i, op := range newOps {
			version := ds.flushedOps + i + 1
			if err := cs.backing.AppendOperation(ctx, id, op, version); err != nil {
				cs.logger.Error("flush operation", "doc", id, "version", version, "err", err)
				// Stop flushing this doc; retried next cycle.
				newOps = newOps[:i]
				break
			}
		}
		ds.flushedOps += len(newOps)

		// 3. Flush content if dirty.
		if ds.contentDirty {
			if err := cs.backing.UpdateContent(ctx, id, info.Content, info.Version); err != nil {
				cs.logger.Error("flush content", "doc", id, "err", err)
			} else {
				ds.contentDirty = false
			}
		}

		// Update the authoritative dirty state.
		cs.mu.Lock()
		cur := cs.dirty[id]
		if cur != nil {
			cur.flushedOps = ds.flushedOps
			cur.created = ds.created
			// Only clear contentDirty if no new writes happened since snapshot.
			if !ds.contentDirty {
				cur.contentDirty = false
			}
			// Remove from dirty map if fully clean; new ops may have arrived.
			if !cur.contentDirty && !cur.created && cur.flushedOps >= cs.historyLen(id) {
				delete(cs.dirty, id)
			}
		}
		cs.mu.Unlock()
	}
}

// Close performs a final flush, stops the flush loop and closes the
// backing store if it holds resources.
func (cs *CachedStore) Close() error {
	var err error
	cs.closeOnce.Do(func() {
		close(cs.stop)
		<-cs.done
		if c, ok := cs.backing.(io.Closer); ok {
			err = c.Close()
		}
	})
	return err
}
