package storage

import (
	"context"
	"errors"

	"github.com/johnwmail/pastebin-lite/models"
)

var (
	// ErrNotFound is returned when no paste exists for an id
	ErrNotFound = errors.New("paste not found")

	// ErrLockTimeout is returned when a paste lock could not be acquired
	// before the context deadline
	ErrLockTimeout = errors.New("timed out waiting for paste lock")

	// ErrLockLost is returned when a lease expired and another holder took
	// the paste before the write landed
	ErrLockLost = errors.New("paste lock lost")
)

// PasteStore defines the interface for paste storage backends
type PasteStore interface {
	// Create persists a new paste
	Create(ctx context.Context, paste *models.Paste) error

	// WithTx runs fn as one unit of work. It commits when fn returns nil and
	// rolls back otherwise. Locks taken by Tx.LockedRead are held until
	// WithTx returns.
	WithTx(ctx context.Context, fn func(tx Tx) error) error

	// Ping checks that the backend is reachable
	Ping(ctx context.Context) error

	// Close releases the storage connection
	Close() error
}

// Tx is the view of a unit of work handed to WithTx callbacks
type Tx interface {
	// LockedRead returns the paste and holds an exclusive lock on it for the
	// rest of the unit of work. It returns ErrNotFound when the id is unknown
	// and ErrLockTimeout when the lock wait exceeds the context deadline.
	LockedRead(id string) (*models.Paste, error)

	// Update persists the view counter of a paste locked in this unit of work
	Update(paste *models.Paste) error
}
