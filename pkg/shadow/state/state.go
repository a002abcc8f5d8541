// Package state implements the per-object migration state machine and the
// content lock that serializes migration I/O for one object.
package state

import (
	"context"
	"sync"

	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/spacemap"
)

// Status is the migration status of one object.
//
// Status only advances Unknown -> MigratingSelf -> {MigratingData|Migrated}
// -> Migrated. Directories finish directly to Migrated; regular files pass
// through MigratingData while bytes remain.
type Status uint32

const (
	// Uninitialized is the zero value: the object has never been evaluated.
	Uninitialized Status = iota
	// Unknown means the object must be inspected before use.
	Unknown
	// MigratingSelf means a caller holds the content lock and is deciding or
	// doing the work.
	MigratingSelf
	// MigratingData means the object exists locally but some bytes remain.
	MigratingData
	// Migrated means no further work is needed.
	Migrated
)

func (s Status) String() string {
	switch s {
	case Uninitialized:
		return "uninitialized"
	case Unknown:
		return "unknown"
	case MigratingSelf:
		return "migrating-self"
	case MigratingData:
		return "migrating-data"
	case Migrated:
		return "migrated"
	default:
		return "invalid"
	}
}

// Migrator does the work for an object. It is called with the content lock
// held and the status set to MigratingSelf, and returns the status to
// publish (MigratingData or Migrated). On error the previous status is
// restored so the object is retried on next encounter.
type Migrator func(ctx context.Context, obj *Object) (Status, error)

// Object is the in-memory state of one object.
type Object struct {
	id fid.FID

	mu      sync.Mutex
	status  Status
	changed chan struct{} // closed and replaced on every status change

	content chan struct{} // capacity 1; holding a token is holding the lock

	// Owned by the content lock holder.
	space *spacemap.Map
}

// NewObject returns an object in the Unknown status.
func NewObject(id fid.FID) *Object {
	return &Object{
		id:      id,
		status:  Unknown,
		changed: make(chan struct{}),
		content: make(chan struct{}, 1),
	}
}

// ID returns the local identity of the object.
func (o *Object) ID() fid.FID { return o.id }

// Status returns the current status.
func (o *Object) Status() Status {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.status
}

// setStatus publishes s and wakes every waiter. Caller holds o.mu.
func (o *Object) setStatus(s Status) {
	o.status = s
	close(o.changed)
	o.changed = make(chan struct{})
}

// SetStatus publishes s. Only the content lock holder may call it.
func (o *Object) SetStatus(s Status) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.setStatus(s)
}

// SpaceMap returns the loaded space map, if any. Content lock holder only.
func (o *Object) SpaceMap() *spacemap.Map { return o.space }

// SetSpaceMap attaches or detaches the space map. Content lock holder only.
func (o *Object) SetSpaceMap(m *spacemap.Map) { o.space = m }

// Lock acquires the content lock, waiting until ctx is done.
func (o *Object) Lock(ctx context.Context) error {
	select {
	case o.content <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// TryLock acquires the content lock if it is free.
func (o *Object) TryLock() bool {
	select {
	case o.content <- struct{}{}:
		return true
	default:
		return false
	}
}

// Unlock releases the content lock.
func (o *Object) Unlock() {
	select {
	case <-o.content:
	default:
		panic("state: unlock of unlocked object")
	}
}

type heldKey struct{}

type held struct {
	obj    *Object
	parent *held
}

// WithHeld marks ctx as belonging to the holder of obj's content lock.
func WithHeld(ctx context.Context, obj *Object) context.Context {
	parent, _ := ctx.Value(heldKey{}).(*held)
	return context.WithValue(ctx, heldKey{}, &held{obj: obj, parent: parent})
}

// Holds reports whether ctx belongs to the holder of obj's content lock.
func Holds(ctx context.Context, obj *Object) bool {
	h, _ := ctx.Value(heldKey{}).(*held)
	for ; h != nil; h = h.parent {
		if h.obj == obj {
			return true
		}
	}
	return false
}

// Wait blocks until the status differs from s or ctx is done.
func (o *Object) Wait(ctx context.Context, s Status) error {
	for {
		o.mu.Lock()
		if o.status != s {
			o.mu.Unlock()
			return nil
		}
		ch := o.changed
		o.mu.Unlock()
		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Resolve makes sure the work fn does has been done for o.
//
// A Migrated object returns immediately. When another caller is migrating
// the object, Resolve waits for it (interruptibly) or, when blocking is
// false, fails with WouldBlock. Otherwise it claims MigratingSelf, runs fn
// with the content lock held, and publishes the resulting status. A caller
// that already holds o's content lock (a re-entrant call from fn itself) is
// a no-op.
func (o *Object) Resolve(ctx context.Context, blocking bool, fn Migrator) error {
	const op = "resolve"
	if Holds(ctx, o) {
		return nil
	}
	for {
		o.mu.Lock()
		switch o.status {
		case Migrated:
			o.mu.Unlock()
			return nil
		case MigratingSelf:
			if !blocking {
				o.mu.Unlock()
				return shadowerrors.NewWouldBlockError(op, o.id.String())
			}
			ch := o.changed
			o.mu.Unlock()
			select {
			case <-ch:
				continue
			case <-ctx.Done():
				return shadowerrors.NewInterruptedError(op, ctx.Err())
			}
		}
		o.mu.Unlock()

		if blocking {
			if err := o.Lock(ctx); err != nil {
				return shadowerrors.NewInterruptedError(op, err)
			}
		} else if !o.TryLock() {
			return shadowerrors.NewWouldBlockError(op, o.id.String())
		}

		o.mu.Lock()
		prev := o.status
		if prev == Migrated || prev == MigratingSelf {
			// Changed while we waited for the lock; re-evaluate.
			o.mu.Unlock()
			o.Unlock()
			continue
		}
		o.setStatus(MigratingSelf)
		o.mu.Unlock()

		next, err := fn(WithHeld(ctx, o), o)

		o.mu.Lock()
		if err != nil {
			o.setStatus(prev)
		} else {
			o.setStatus(next)
		}
		o.mu.Unlock()
		o.Unlock()
		return err
	}
}
