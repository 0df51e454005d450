package storage

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/johnwmail/pastebin-lite/models"
)

// storeFactory creates a PasteStore for testing and returns a cleanup func
type storeFactory struct {
	name string
	new  func(t *testing.T) (PasteStore, func())
	// serializesAll is set for backends whose lock covers the whole database
	serializesAll bool
}

// extraFactories lets integration test files add backends that need
// external services
var extraFactories []storeFactory

func memoryFactory(t *testing.T) (PasteStore, func()) {
	return NewMemoryStore(), func() {}
}

func sqliteFactory(t *testing.T) (PasteStore, func()) {
	store, err := NewSQLStore(DialectSQLite, filepath.Join(t.TempDir(), "pastes.db"))
	if err != nil {
		t.Fatalf("failed to create sqlite store: %v", err)
	}
	return store, func() { _ = store.Close() }
}

func redisFactory(t *testing.T) (PasteStore, func()) {
	url := os.Getenv("PASTEBIN_TEST_REDIS_URL")
	store, err := NewRedisStore(context.Background(), url, "pastebin-test-"+uuid.NewString()[:8],
		WithLeaseDuration(5*time.Second), WithLeaseRetry(time.Millisecond))
	if err != nil {
		t.Fatalf("failed to create redis store: %v", err)
	}
	return store, func() { _ = store.Close() }
}

func contractFactories() []storeFactory {
	factories := []storeFactory{
		{name: "memory", new: memoryFactory},
		{name: "sqlite", new: sqliteFactory, serializesAll: true},
	}
	if os.Getenv("PASTEBIN_TEST_REDIS_URL") != "" {
		factories = append(factories, storeFactory{name: "redis", new: redisFactory})
	}
	return append(factories, extraFactories...)
}

func newTestPaste(maxViews *int64, ttl time.Duration) *models.Paste {
	now := time.Now().UTC().Truncate(time.Millisecond)
	p := &models.Paste{
		ID:        uuid.NewString(),
		Content:   "hello <world> & friends",
		MaxViews:  maxViews,
		CreatedAt: now,
	}
	if ttl > 0 {
		expires := now.Add(ttl)
		p.ExpiresAt = &expires
	}
	return p
}

func readPaste(t *testing.T, store PasteStore, id string) *models.Paste {
	t.Helper()
	var got *models.Paste
	err := store.WithTx(context.Background(), func(tx Tx) error {
		p, err := tx.LockedRead(id)
		got = p
		return err
	})
	if err != nil {
		t.Fatalf("LockedRead failed: %v", err)
	}
	return got
}

func TestStoreContract(t *testing.T) {
	for _, f := range contractFactories() {
		f := f
		t.Run(f.name, func(t *testing.T) {
			t.Run("create and read back", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				limit := int64(3)
				paste := newTestPaste(&limit, time.Minute)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}

				got := readPaste(t, store, paste.ID)
				if got.Content != paste.Content {
					t.Errorf("expected content %q, got %q", paste.Content, got.Content)
				}
				if got.MaxViews == nil || *got.MaxViews != 3 {
					t.Errorf("expected max views 3, got %v", got.MaxViews)
				}
				if got.CurrentViews != 0 {
					t.Errorf("expected 0 views, got %d", got.CurrentViews)
				}
				if got.ExpiresAt == nil || !got.ExpiresAt.Equal(*paste.ExpiresAt) {
					t.Errorf("expected expires_at %v, got %v", paste.ExpiresAt, got.ExpiresAt)
				}
				if !got.CreatedAt.Equal(paste.CreatedAt) {
					t.Errorf("expected created_at %v, got %v", paste.CreatedAt, got.CreatedAt)
				}
			})

			t.Run("optional fields stay empty", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				paste := newTestPaste(nil, 0)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				got := readPaste(t, store, paste.ID)
				if got.MaxViews != nil {
					t.Errorf("expected nil max views, got %d", *got.MaxViews)
				}
				if got.ExpiresAt != nil {
					t.Errorf("expected nil expires_at, got %v", *got.ExpiresAt)
				}
			})

			t.Run("duplicate id rejected", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				paste := newTestPaste(nil, 0)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				dup := *paste
				dup.Content = "second"
				if err := store.Create(context.Background(), &dup); err == nil {
					t.Fatal("expected error creating duplicate id")
				}
				if got := readPaste(t, store, paste.ID); got.Content != paste.Content {
					t.Errorf("duplicate overwrote content: got %q", got.Content)
				}
			})

			t.Run("unknown id", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				err := store.WithTx(context.Background(), func(tx Tx) error {
					_, err := tx.LockedRead(uuid.NewString())
					return err
				})
				if !errors.Is(err, ErrNotFound) {
					t.Errorf("expected ErrNotFound, got %v", err)
				}
			})

			t.Run("update committed", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				paste := newTestPaste(nil, 0)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				err := store.WithTx(context.Background(), func(tx Tx) error {
					p, err := tx.LockedRead(paste.ID)
					if err != nil {
						return err
					}
					p.CurrentViews++
					return tx.Update(p)
				})
				if err != nil {
					t.Fatalf("WithTx failed: %v", err)
				}
				if got := readPaste(t, store, paste.ID); got.CurrentViews != 1 {
					t.Errorf("expected 1 view, got %d", got.CurrentViews)
				}
			})

			t.Run("update rolled back on error", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				paste := newTestPaste(nil, 0)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}
				boom := errors.New("boom")
				err := store.WithTx(context.Background(), func(tx Tx) error {
					p, err := tx.LockedRead(paste.ID)
					if err != nil {
						return err
					}
					p.CurrentViews++
					if err := tx.Update(p); err != nil {
						return err
					}
					return boom
				})
				if !errors.Is(err, boom) {
					t.Fatalf("expected boom, got %v", err)
				}
				if got := readPaste(t, store, paste.ID); got.CurrentViews != 0 {
					t.Errorf("expected rollback to keep 0 views, got %d", got.CurrentViews)
				}
			})

			t.Run("lock wait is bounded", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				paste := newTestPaste(nil, 0)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}

				locked := make(chan struct{})
				done := make(chan struct{})
				go func() {
					_ = store.WithTx(context.Background(), func(tx Tx) error {
						if _, err := tx.LockedRead(paste.ID); err != nil {
							close(locked)
							return err
						}
						close(locked)
						<-done
						return nil
					})
				}()
				<-locked

				ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
				defer cancel()
				err := store.WithTx(ctx, func(tx Tx) error {
					_, err := tx.LockedRead(paste.ID)
					return err
				})
				close(done)
				if err == nil {
					t.Fatal("expected lock wait to fail while another unit of work holds the paste")
				}
				if errors.Is(err, ErrNotFound) {
					t.Errorf("lock timeout must not look like not found: %v", err)
				}

				// Once released the paste can be locked again
				readPaste(t, store, paste.ID)
			})

			t.Run("different ids do not block", func(t *testing.T) {
				if f.serializesAll {
					t.Skip("backend locks the whole database")
				}
				store, cleanup := f.new(t)
				defer cleanup()

				a, b := newTestPaste(nil, 0), newTestPaste(nil, 0)
				for _, p := range []*models.Paste{a, b} {
					if err := store.Create(context.Background(), p); err != nil {
						t.Fatalf("Create failed: %v", err)
					}
				}

				locked := make(chan struct{})
				done := make(chan struct{})
				go func() {
					_ = store.WithTx(context.Background(), func(tx Tx) error {
						_, err := tx.LockedRead(a.ID)
						close(locked)
						<-done
						return err
					})
				}()
				<-locked
				defer close(done)

				ctx, cancel := context.WithTimeout(context.Background(), time.Second)
				defer cancel()
				err := store.WithTx(ctx, func(tx Tx) error {
					_, err := tx.LockedRead(b.ID)
					return err
				})
				if err != nil {
					t.Errorf("expected unrelated paste to be readable, got %v", err)
				}
			})

			t.Run("concurrent increments are not lost", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				paste := newTestPaste(nil, 0)
				if err := store.Create(context.Background(), paste); err != nil {
					t.Fatalf("Create failed: %v", err)
				}

				const workers = 20
				var wg sync.WaitGroup
				errs := make(chan error, workers)
				for i := 0; i < workers; i++ {
					wg.Add(1)
					go func() {
						defer wg.Done()
						ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
						defer cancel()
						errs <- store.WithTx(ctx, func(tx Tx) error {
							p, err := tx.LockedRead(paste.ID)
							if err != nil {
								return err
							}
							p.CurrentViews++
							return tx.Update(p)
						})
					}()
				}
				wg.Wait()
				close(errs)

				for err := range errs {
					if err != nil {
						t.Errorf("WithTx failed: %v", err)
					}
				}
				if got := readPaste(t, store, paste.ID); got.CurrentViews != workers {
					t.Errorf("expected %d views, got %d", workers, got.CurrentViews)
				}
			})

			t.Run("ping", func(t *testing.T) {
				store, cleanup := f.new(t)
				defer cleanup()

				if err := store.Ping(context.Background()); err != nil {
					t.Errorf("Ping failed: %v", err)
				}
			})
		})
	}
}
