package storage

import (
	"context"
	"fmt"
	"sync"

	"github.com/johnwmail/pastebin-lite/models"
)

// MemoryStore implements PasteStore in process memory. Each paste has its
// own one-slot channel used as a mutex so waits can observe the context.
type MemoryStore struct {
	mu     sync.RWMutex
	pastes map[string]models.Paste
	locks  map[string]chan struct{}
}

// NewMemoryStore creates an empty in-memory store
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		pastes: make(map[string]models.Paste),
		locks:  make(map[string]chan struct{}),
	}
}

// Create saves a copy of the paste
func (m *MemoryStore) Create(ctx context.Context, paste *models.Paste) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, exists := m.pastes[paste.ID]; exists {
		return fmt.Errorf("paste %s already exists", paste.ID)
	}
	m.pastes[paste.ID] = clonePaste(*paste)
	m.locks[paste.ID] = make(chan struct{}, 1)
	return nil
}

// WithTx runs fn holding the locks it acquires; view counter writes are
// buffered and applied only when fn succeeds.
func (m *MemoryStore) WithTx(ctx context.Context, fn func(tx Tx) error) error {
	tx := &memoryTx{
		ctx:     ctx,
		store:   m,
		held:    make(map[string]chan struct{}),
		pending: make(map[string]int64),
	}
	defer tx.release()

	if err := fn(tx); err != nil {
		return err
	}
	tx.commit()
	return nil
}

// Ping always succeeds for the in-memory store
func (m *MemoryStore) Ping(ctx context.Context) error {
	return nil
}

// Close is a no-op for the in-memory store
func (m *MemoryStore) Close() error {
	return nil
}

type memoryTx struct {
	ctx     context.Context
	store   *MemoryStore
	held    map[string]chan struct{}
	pending map[string]int64
}

func (t *memoryTx) LockedRead(id string) (*models.Paste, error) {
	if _, ok := t.held[id]; !ok {
		t.store.mu.RLock()
		lock, exists := t.store.locks[id]
		t.store.mu.RUnlock()
		if !exists {
			return nil, ErrNotFound
		}

		select {
		case lock <- struct{}{}:
			t.held[id] = lock
		case <-t.ctx.Done():
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, t.ctx.Err())
		}
	}

	t.store.mu.RLock()
	paste := clonePaste(t.store.pastes[id])
	t.store.mu.RUnlock()

	if views, ok := t.pending[id]; ok {
		paste.CurrentViews = views
	}
	return &paste, nil
}

func (t *memoryTx) Update(paste *models.Paste) error {
	if _, ok := t.held[paste.ID]; !ok {
		return fmt.Errorf("update of paste %s without holding its lock", paste.ID)
	}
	t.pending[paste.ID] = paste.CurrentViews
	return nil
}

func (t *memoryTx) commit() {
	if len(t.pending) == 0 {
		return
	}
	t.store.mu.Lock()
	defer t.store.mu.Unlock()
	for id, views := range t.pending {
		p := t.store.pastes[id]
		p.CurrentViews = views
		t.store.pastes[id] = p
	}
}

func (t *memoryTx) release() {
	for id, lock := range t.held {
		<-lock
		delete(t.held, id)
	}
}

// clonePaste copies the pointer fields so callers cannot mutate stored state
func clonePaste(p models.Paste) models.Paste {
	if p.MaxViews != nil {
		v := *p.MaxViews
		p.MaxViews = &v
	}
	if p.ExpiresAt != nil {
		v := *p.ExpiresAt
		p.ExpiresAt = &v
	}
	return p
}
