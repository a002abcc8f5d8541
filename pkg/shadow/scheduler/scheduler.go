// Package scheduler implements the background driver of a shadow mount: a
// periodic timer that compacts the pending log and drains a few of its
// entries.
package scheduler

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/marmos91/shadowfs/internal/logger"
	shadowerrors "github.com/marmos91/shadowfs/pkg/shadow/errors"
)

// Configuration defaults
const (
	// DefaultInterval is the delay between the end of one cycle and the
	// start of the next.
	DefaultInterval = 10 * time.Second
)

// Queue is the pending log compacted on every cycle.
type Queue interface {
	// Collapse compacts the log. Without force it returns false instead of
	// waiting for an in-flight process-one-pending call.
	Collapse(ctx context.Context, force bool) (bool, error)
}

// Processor migrates pending objects.
type Processor interface {
	ProcessOnePending(ctx context.Context, blocking bool) (bool, error)
}

// Config holds configuration for the scheduler.
type Config struct {
	// Interval is the delay between cycles. Default: 10 seconds.
	Interval time.Duration

	// DrainBatch is the number of pending entries processed, without
	// blocking, per cycle. Zero only compacts.
	DrainBatch int
}

// Scheduler periodically runs one cycle on a single worker goroutine.
//
// Lifecycle:
//   - Created via New()
//   - Started via Start(), which arms the first timer
//   - Suspend()/Resume() pause and restart cycles (unmount preparation)
//   - Stop() disarms the timer and waits for the worker to exit
//
// Every armed timer captures the generation counter. Suspend, Resume and
// Stop advance it, so a timer armed before them fires as a no-op. The next
// timer is armed only when the previous cycle finished, so cycles never
// overlap and a slow cycle delays the next one.
//
// Thread Safety:
// All methods are safe for concurrent use.
type Scheduler struct {
	queue      Queue
	proc       Processor
	interval   time.Duration
	drainBatch int

	mu        sync.Mutex
	gen       uint64
	timer     *time.Timer
	running   bool
	suspended bool

	work    chan uint64
	cycleMu sync.Mutex // held by the worker for the duration of a cycle

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	cycles    atomic.Int64
	collapses atomic.Int64
	processed atomic.Int64
	errors    atomic.Int64
}

// New creates a scheduler. It does nothing until Start is called. proc may
// be nil when cfg.DrainBatch is zero.
func New(queue Queue, proc Processor, cfg Config) *Scheduler {
	interval := cfg.Interval
	if interval <= 0 {
		interval = DefaultInterval
	}
	return &Scheduler{
		queue:      queue,
		proc:       proc,
		interval:   interval,
		drainBatch: cfg.DrainBatch,
		work:       make(chan uint64, 1),
	}
}

// Start spawns the worker and arms the first timer. Cancelling ctx stops
// the worker like Stop does.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.running {
		return
	}
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.running = true

	logger.Info("Shadow scheduler started", "interval", s.interval, "drain_batch", s.drainBatch)

	s.wg.Add(1)
	go s.run()
	s.arm()
}

// arm schedules the next cycle. Caller holds mu.
func (s *Scheduler) arm() {
	if !s.running || s.suspended {
		return
	}
	gen := s.gen
	s.timer = time.AfterFunc(s.interval, func() { s.fire(gen) })
}

// fire hands a cycle to the worker unless gen went stale.
func (s *Scheduler) fire(gen uint64) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if gen != s.gen || !s.running || s.suspended {
		return
	}
	select {
	case s.work <- gen:
	default:
	}
}

// disarm stops the timer and invalidates any timer already firing. Caller
// holds mu.
func (s *Scheduler) disarm() {
	s.gen++
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Scheduler) run() {
	defer s.wg.Done()
	for {
		select {
		case <-s.ctx.Done():
			return
		case gen := <-s.work:
			s.cycleMu.Lock()
			// A generation queued before Suspend or Stop is stale.
			if s.current(gen) {
				s.cycle(gen)
			}
			s.cycleMu.Unlock()

			s.mu.Lock()
			if gen == s.gen {
				s.arm()
			}
			s.mu.Unlock()
		}
	}
}

func (s *Scheduler) current(gen uint64) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return gen == s.gen && s.running && !s.suspended
}

// cycle compacts the pending log, then drains up to drainBatch entries.
func (s *Scheduler) cycle(gen uint64) {
	ctx := s.ctx
	s.cycles.Add(1)

	collapsed, err := s.queue.Collapse(ctx, false)
	switch {
	case err != nil:
		s.errors.Add(1)
		logger.WarnCtx(ctx, "Pending log collapse failed", logger.Err(err))
	case collapsed:
		s.collapses.Add(1)
	}

	for i := 0; i < s.drainBatch && s.proc != nil; i++ {
		if ctx.Err() != nil || !s.current(gen) {
			return
		}
		ok, err := s.proc.ProcessOnePending(ctx, false)
		if err != nil {
			if shadowerrors.IsWouldBlock(err) || shadowerrors.IsInterrupted(err) {
				return
			}
			s.errors.Add(1)
			logger.WarnCtx(ctx, "Background migration failed",
				logger.Err(err), logger.ErrorCode(shadowerrors.CodeOf(err).String()))
			return
		}
		if ok {
			s.processed.Add(1)
		}
	}
}

// Suspend stops scheduling and waits for an in-flight cycle to end.
func (s *Scheduler) Suspend() {
	s.mu.Lock()
	s.disarm()
	s.suspended = true
	s.mu.Unlock()

	s.cycleMu.Lock()
	s.cycleMu.Unlock() //nolint:staticcheck // waits for the worker
}

// Resume restarts scheduling after Suspend.
func (s *Scheduler) Resume() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if !s.suspended {
		return
	}
	s.suspended = false
	s.disarm()
	s.arm()
}

// Stop disarms the timer and waits for the worker to exit. Stop is safe to
// call multiple times.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return
	}
	s.disarm()
	s.running = false
	cancel := s.cancel
	s.mu.Unlock()

	cancel()
	s.wg.Wait()
	logger.Info("Shadow scheduler stopped", "cycles", s.cycles.Load())
}

// Generation returns the current timer generation.
func (s *Scheduler) Generation() uint64 {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.gen
}

// Stats are cumulative scheduler counters.
type Stats struct {
	Cycles    int64
	Collapses int64
	Processed int64
	Errors    int64
	Suspended bool
}

func (s *Scheduler) Stats() Stats {
	s.mu.Lock()
	suspended := s.suspended
	s.mu.Unlock()
	return Stats{
		Cycles:    s.cycles.Load(),
		Collapses: s.collapses.Load(),
		Processed: s.processed.Load(),
		Errors:    s.errors.Load(),
		Suspended: suspended,
	}
}
