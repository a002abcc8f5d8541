// Package shadow ties the migration engine to a mounted filesystem: it owns
// the mount-wide lock, the background scheduler, the standby switch and the
// control surface.
//
// Usage:
//
//	m, err := shadow.MountAsShadow(ctx, shadow.Options{Local: local, Remote: remote})
//	...
//	if err := m.Resolve(ctx, node, true); err != nil {
//	    return shadow.Errno(err)
//	}
//	...
//	m.PreUnmount()
//	err = m.Unconfigure(ctx)
package shadow

import (
	"context"
	"errors"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/marmos91/shadowfs/internal/logger"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
	"github.com/marmos91/shadowfs/pkg/shadow/engine"
	"github.com/marmos91/shadowfs/pkg/shadow/fid"
	"github.com/marmos91/shadowfs/pkg/shadow/scheduler"
	"github.com/marmos91/shadowfs/pkg/shadow/vfs"
)

// Options configure a shadow mount.
type Options struct {
	// ID names the mount in logs and metrics. A random id is used if empty.
	ID string

	Local  vfs.FS
	Remote vfs.FS

	Engine    engine.Options
	Scheduler scheduler.Config

	// Standby starts the mount with migration paused.
	Standby bool
}

// Mount is a local filesystem being migrated from a remote one.
//
// Thread Safety:
// The mount-wide RWMutex gates the existence of the shadow state. Every
// operation holds it for reading; Unconfigure takes it for writing.
type Mount struct {
	id       string
	local    vfs.FS
	counters *counters

	mu    sync.RWMutex
	eng   *engine.Engine // nil once unconfigured
	sched *scheduler.Scheduler

	standbyMu   sync.Mutex
	standby     bool
	standbyDone chan struct{} // closed when standby is lifted
}

// MountAsShadow opens the shadow state of opts.Local and starts migrating it
// in the background. A local filesystem used for the first time must be
// empty; it is marked as the counterpart of the remote root.
func MountAsShadow(ctx context.Context, opts Options) (*Mount, error) {
	if opts.Local == nil || opts.Remote == nil {
		return nil, shadowerrors.NewInvalidArgumentError("mount", "local and remote filesystems are required")
	}
	id := opts.ID
	if id == "" {
		id = uuid.NewString()
	}
	ctx = logger.WithContext(ctx, logger.NewLogContext(id))

	c := newCounters(opts.Engine.Metrics)
	engOpts := opts.Engine
	engOpts.Metrics = c

	eng, err := engine.New(ctx, opts.Local, opts.Remote, engOpts)
	if err != nil {
		return nil, err
	}

	m := &Mount{
		id:       id,
		local:    opts.Local,
		counters: c,
		eng:      eng,
	}
	if opts.Standby {
		m.SetStandby(true)
	}
	m.sched = scheduler.New(eng.Pending(), m, opts.Scheduler)
	m.sched.Start(logger.WithContext(context.WithoutCancel(ctx), logger.NewLogContext(id).WithOperation("background")))

	logger.InfoCtx(ctx, "Shadow mount configured",
		logger.FsID(opts.Remote.FsID()), "standby", opts.Standby)
	return m, nil
}

// ID returns the mount identifier.
func (m *Mount) ID() string { return m.id }

// Local returns the local filesystem.
func (m *Mount) Local() vfs.FS { return m.local }

func (m *Mount) logCtx(ctx context.Context, op string) context.Context {
	if logger.FromContext(ctx) != nil {
		return ctx
	}
	return logger.WithContext(ctx, logger.NewLogContext(m.id).WithOperation(op))
}

// ============================================================================
// Standby
// ============================================================================

// SetStandby pauses (true) or resumes (false) all migration. While paused,
// blocking resolves wait and non-blocking ones fail with WouldBlock.
func (m *Mount) SetStandby(on bool) {
	m.standbyMu.Lock()
	defer m.standbyMu.Unlock()
	if on == m.standby {
		return
	}
	m.standby = on
	if on {
		m.standbyDone = make(chan struct{})
	} else {
		close(m.standbyDone)
	}
	logger.Info("Shadow standby changed", logger.MountID(m.id), "standby", on)
}

// Standby reports whether migration is paused.
func (m *Mount) Standby() bool {
	m.standbyMu.Lock()
	defer m.standbyMu.Unlock()
	return m.standby
}

func (m *Mount) waitStandby(ctx context.Context, blocking bool) error {
	m.standbyMu.Lock()
	if !m.standby {
		m.standbyMu.Unlock()
		return nil
	}
	done := m.standbyDone
	m.standbyMu.Unlock()

	if !blocking {
		return shadowerrors.NewWouldBlockError("standby", "")
	}
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return shadowerrors.NewInterruptedError("standby", ctx.Err())
	}
}

// enter waits out standby and takes the mount lock for reading. The
// returned engine is nil when the mount is no longer a shadow.
func (m *Mount) enter(ctx context.Context, blocking bool) (*engine.Engine, error) {
	if err := m.waitStandby(ctx, blocking); err != nil {
		return nil, err
	}
	m.mu.RLock()
	return m.eng, nil
}

func (m *Mount) exit() { m.mu.RUnlock() }

// ============================================================================
// Transparent path
// ============================================================================

// Resolve makes n fully migrated before it is used.
func (m *Mount) Resolve(ctx context.Context, n vfs.Node, blocking bool) error {
	return m.ResolveRange(ctx, n, 0, -1, blocking)
}

// ResolveRange makes [start, end) of n migrated before it is read or
// written. A negative end means end of file.
func (m *Mount) ResolveRange(ctx context.Context, n vfs.Node, start, end int64, blocking bool) error {
	ctx = m.logCtx(ctx, "resolve")
	eng, err := m.enter(ctx, blocking)
	if err != nil {
		return err
	}
	defer m.exit()
	if eng == nil {
		return nil
	}
	return eng.ResolveRange(ctx, n, start, end, blocking)
}

// LookupPath resolves a root-relative local path the way a caller walking
// the mounted tree would: every directory is migrated before it is
// searched.
func (m *Mount) LookupPath(ctx context.Context, rel string) (vfs.Node, error) {
	const op = "lookup"
	ctx = m.logCtx(ctx, op)
	eng, err := m.enter(ctx, true)
	if err != nil {
		return nil, err
	}
	defer m.exit()

	cur := m.local.Root()
	for _, part := range strings.Split(strings.Trim(rel, "/"), "/") {
		if part == "" {
			continue
		}
		if eng != nil {
			if err := eng.Resolve(ctx, cur, true); err != nil {
				return nil, err
			}
		}
		next, err := m.local.Lookup(ctx, cur, part, vfs.Kernel)
		if errors.Is(err, vfs.ErrNotExist) {
			return nil, shadowerrors.NewNotFoundError(op, rel)
		}
		if err != nil {
			return nil, shadowerrors.NewLocalIOError(op, rel, err)
		}
		cur = next
	}
	return cur, nil
}

// IsMigrationPending reports whether n may still need migration. It is
// advisory: it may report true for a migrated object, never false for one
// that needs work.
func (m *Mount) IsMigrationPending(ctx context.Context, n vfs.Node) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eng == nil {
		return false
	}
	return m.eng.IsMigrationPending(ctx, n)
}

// Forget drops the in-memory state of n once its last reference is gone.
func (m *Mount) Forget(n vfs.Node) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eng != nil {
		m.eng.Forget(n.ID())
	}
}

// ============================================================================
// Control surface
// ============================================================================

// ProcessOnePending migrates the next queued object.
func (m *Mount) ProcessOnePending(ctx context.Context, blocking bool) (bool, error) {
	ctx = m.logCtx(ctx, "process")
	eng, err := m.enter(ctx, blocking)
	if err != nil {
		return false, err
	}
	defer m.exit()
	if eng == nil {
		return false, notShadow("process")
	}
	return eng.ProcessOnePending(ctx, blocking)
}

// RemotePath returns the remote path recorded for the object h.
func (m *Mount) RemotePath(ctx context.Context, h fid.FID) (string, error) {
	const op = "remote path"
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eng == nil {
		return "", notShadow(op)
	}
	n, err := m.node(ctx, op, h)
	if err != nil {
		return "", err
	}
	return m.eng.RemotePath(ctx, n)
}

// ForceMigrate migrates [start, end) of the object h, waiting as needed.
func (m *Mount) ForceMigrate(ctx context.Context, h fid.FID, start, end int64) error {
	const op = "force migrate"
	ctx = m.logCtx(ctx, op)
	eng, err := m.enter(ctx, true)
	if err != nil {
		return err
	}
	defer m.exit()
	if eng == nil {
		return notShadow(op)
	}
	n, err := m.node(ctx, op, h)
	if err != nil {
		return err
	}
	return eng.ForceMigrate(ctx, n, start, end)
}

// HandleToPath returns the local path of the object h.
func (m *Mount) HandleToPath(ctx context.Context, h fid.FID) (string, error) {
	const op = "handle to path"
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eng == nil {
		return "", notShadow(op)
	}
	return m.eng.HandleToPath(ctx, h)
}

// Pending lists the handles queued for migration.
func (m *Mount) Pending(ctx context.Context) ([]fid.FID, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eng == nil {
		return nil, nil
	}
	hs, err := m.eng.Pending().List(ctx)
	if err != nil {
		return nil, shadowerrors.NewLocalIOError("list pending", "", err)
	}
	return hs, nil
}

// Walk migrates every object of the mount.
func (m *Mount) Walk(ctx context.Context) (engine.WalkStats, error) {
	ctx = m.logCtx(ctx, "walk")
	eng, err := m.enter(ctx, true)
	if err != nil {
		return engine.WalkStats{}, err
	}
	defer m.exit()
	if eng == nil {
		return engine.WalkStats{}, nil
	}
	return eng.Walk(ctx)
}

func (m *Mount) node(ctx context.Context, op string, h fid.FID) (vfs.Node, error) {
	n, err := m.local.ResolveFID(ctx, h)
	if errors.Is(err, vfs.ErrNotExist) {
		return nil, shadowerrors.NewNotFoundError(op, h.String())
	}
	if err != nil {
		return nil, shadowerrors.NewLocalIOError(op, h.String(), err)
	}
	return n, nil
}

func notShadow(op string) error {
	return shadowerrors.New(shadowerrors.ErrNotShadow, op, "", nil)
}

// ============================================================================
// Lifecycle
// ============================================================================

// PreUnmount suspends background migration before an unmount attempt.
func (m *Mount) PreUnmount() {
	m.sched.Suspend()
}

// PostUnmount resumes background migration after a failed unmount attempt.
func (m *Mount) PostUnmount() {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.eng != nil {
		m.sched.Resume()
	}
}

// Unconfigure tears the shadow state down: it waits for every operation in
// flight, stops the scheduler and closes the logs. The mount then behaves
// as a plain, fully migrated filesystem.
func (m *Mount) Unconfigure(ctx context.Context) error {
	// The worker takes the read lock: stop it first.
	m.sched.Stop()
	m.SetStandby(false)

	m.mu.Lock()
	defer m.mu.Unlock()
	if m.eng == nil {
		return nil
	}
	err := m.eng.Close()
	m.eng = nil
	if err != nil {
		return shadowerrors.NewLocalIOError("unconfigure", "", err)
	}
	logger.InfoCtx(m.logCtx(ctx, "unconfigure"), "Shadow mount unconfigured")
	return nil
}

// Configured reports whether the mount still has shadow state.
func (m *Mount) Configured() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.eng != nil
}

// ============================================================================
// Stats
// ============================================================================

// Stats is a snapshot of one mount.
type Stats struct {
	ID         string
	Configured bool
	Standby    bool
	Engine     engine.Stats
	Scheduler  scheduler.Stats
	Migration  Counters
}

func (m *Mount) Stats() Stats {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s := Stats{
		ID:         m.id,
		Configured: m.eng != nil,
		Standby:    m.Standby(),
		Scheduler:  m.sched.Stats(),
		Migration:  m.counters.snapshot(),
	}
	if m.eng != nil {
		s.Engine = m.eng.Stats()
	}
	return s
}
