package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/johnwmail/pastebin-lite/models"
)

const (
	defaultLeaseDuration = 30 * time.Second
	defaultLeaseRetry    = 10 * time.Millisecond
	maxLeaseRetry        = 200 * time.Millisecond
	leaseReleaseTimeout  = 5 * time.Second
)

// errLeaseHeld is returned by leaseBackend.claim when another owner holds
// an unexpired lease on the paste
var errLeaseHeld = errors.New("paste lease held by another owner")

// leaseBackend is the set of primitives a store without transactions must
// provide to run the locked read-and-update protocol.
type leaseBackend interface {
	// claim atomically takes the lease on id for owner until the given time
	// when it is free, lapsed at now, or already owned by owner, returning the
	// paste as stored. It returns ErrNotFound for unknown ids and
	// errLeaseHeld while another owner's lease is live.
	claim(ctx context.Context, id, owner string, now, until time.Time) (*models.Paste, error)

	// writeViews stores CurrentViews only if owner still holds the lease,
	// returning ErrLockLost otherwise.
	writeViews(ctx context.Context, paste *models.Paste, owner string) error

	// release drops the lease if owner still holds it
	release(ctx context.Context, id, owner string) error
}

// leaseOptions tunes lease acquisition
type leaseOptions struct {
	lease time.Duration
	retry time.Duration
	now   func() time.Time
}

// LeaseOption configures lease-based stores
type LeaseOption func(*leaseOptions)

// WithLeaseDuration sets how long a claimed lease stays valid
func WithLeaseDuration(d time.Duration) LeaseOption {
	return func(o *leaseOptions) {
		if d > 0 {
			o.lease = d
		}
	}
}

// WithLeaseRetry sets the initial wait between claim attempts
func WithLeaseRetry(d time.Duration) LeaseOption {
	return func(o *leaseOptions) {
		if d > 0 {
			o.retry = d
		}
	}
}

func newLeaseOptions(opts ...LeaseOption) leaseOptions {
	o := leaseOptions{
		lease: defaultLeaseDuration,
		retry: defaultLeaseRetry,
		now:   time.Now,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

// withLeaseTx runs fn as a unit of work over a lease backend. View counter
// writes are buffered and applied at commit, each conditional on still
// owning the lease; every lease taken is released when the unit of work
// ends, whatever the outcome.
func withLeaseTx(ctx context.Context, backend leaseBackend, opts leaseOptions, fn func(tx Tx) error) error {
	tx := &leaseTx{
		ctx:     ctx,
		backend: backend,
		opts:    opts,
		owner:   uuid.NewString(),
		held:    make(map[string]struct{}),
		pending: make(map[string]*models.Paste),
	}
	defer tx.releaseAll()

	if err := fn(tx); err != nil {
		return err
	}
	return tx.commit()
}

type leaseTx struct {
	ctx     context.Context
	backend leaseBackend
	opts    leaseOptions
	owner   string
	held    map[string]struct{}
	pending map[string]*models.Paste
}

func (t *leaseTx) LockedRead(id string) (*models.Paste, error) {
	wait := t.opts.retry
	for {
		now := t.opts.now()
		paste, err := t.backend.claim(t.ctx, id, t.owner, now, now.Add(t.opts.lease))
		if err == nil {
			t.held[id] = struct{}{}
			if p, ok := t.pending[id]; ok {
				paste.CurrentViews = p.CurrentViews
			}
			return paste, nil
		}
		if !errors.Is(err, errLeaseHeld) {
			return nil, err
		}

		timer := time.NewTimer(wait)
		select {
		case <-timer.C:
		case <-t.ctx.Done():
			timer.Stop()
			return nil, fmt.Errorf("%w: %w", ErrLockTimeout, t.ctx.Err())
		}

		wait *= 2
		if wait > maxLeaseRetry {
			wait = maxLeaseRetry
		}
	}
}

func (t *leaseTx) Update(paste *models.Paste) error {
	if _, ok := t.held[paste.ID]; !ok {
		return fmt.Errorf("update of paste %s without holding its lock", paste.ID)
	}
	p := *paste
	t.pending[paste.ID] = &p
	return nil
}

func (t *leaseTx) commit() error {
	for id, paste := range t.pending {
		if err := t.backend.writeViews(t.ctx, paste, t.owner); err != nil {
			return err
		}
		delete(t.pending, id)
	}
	return nil
}

// releaseAll runs on a context detached from the request so leases are
// dropped even after the caller's deadline has passed.
func (t *leaseTx) releaseAll() {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(t.ctx), leaseReleaseTimeout)
	defer cancel()

	for id := range t.held {
		// A failed release only delays other fetchers until the lease lapses
		_ = t.backend.release(ctx, id, t.owner)
		delete(t.held, id)
	}
}
