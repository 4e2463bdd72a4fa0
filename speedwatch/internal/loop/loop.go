// Package loop is the single-consumer task queue every engine runs on.
//
// Host callbacks, timers and idle-priority work are all posted here and
// executed one at a time, in order, by whichever goroutine runs the loop.
// State owned by the engine is only touched from loop tasks, which is
// what lets the rest of the engine go without locks.
package loop

import (
	"context"
	"log/slog"
	"runtime/debug"
	"sync"
	"sync/atomic"
	"time"
)

// Loop is a FIFO task queue with timers and idle scheduling.
type Loop struct {
	clock  Clock
	logger *slog.Logger

	mu    sync.Mutex
	queue []func()
	idle  []*idleTask
	wake  chan struct{}
}

// Option configures a Loop.
type Option func(*Loop)

// WithClock replaces the wall clock, typically with a ManualClock.
func WithClock(c Clock) Option { return func(l *Loop) { l.clock = c } }

// WithLogger sets the logger used for recovered task panics.
func WithLogger(lg *slog.Logger) Option { return func(l *Loop) { l.logger = lg } }

// New creates an idle Loop. Nothing runs until Run or Drain is called.
func New(opts ...Option) *Loop {
	l := &Loop{
		clock:  SystemClock{},
		logger: slog.Default(),
		wake:   make(chan struct{}, 1),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Now reads the loop's clock.
func (l *Loop) Now() time.Time { return l.clock.Now() }

// Post enqueues fn. Safe from any goroutine.
func (l *Loop) Post(fn func()) {
	l.mu.Lock()
	l.queue = append(l.queue, fn)
	l.mu.Unlock()
	l.signal()
}

// Do posts fn and waits for it to run, or for ctx to end.
// The loop must be running in another goroutine.
func (l *Loop) Do(ctx context.Context, fn func()) error {
	done := make(chan struct{})
	l.Post(func() {
		defer close(done)
		fn()
	})
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Timer is a cancellable loop timer.
type Timer struct {
	stopped atomic.Bool
	inner   Stopper
}

// Stop cancels the timer. A callback already queued on the loop is
// skipped. Safe on a nil Timer.
func (t *Timer) Stop() {
	if t == nil {
		return
	}
	t.stopped.Store(true)
	if t.inner != nil {
		t.inner.Stop()
	}
}

// After runs fn on the loop once d has elapsed.
func (l *Loop) After(d time.Duration, fn func()) *Timer {
	t := &Timer{}
	t.inner = l.clock.AfterFunc(d, func() {
		l.Post(func() {
			if !t.stopped.Load() {
				t.stopped.Store(true)
				fn()
			}
		})
	})
	return t
}

type idleTask struct {
	fn    func()
	timer Stopper
	done  bool
}

// Idle runs fn once the regular queue is empty, or once timeout expires,
// whichever comes first. A zero timeout waits for idleness only.
// Safe from any goroutine.
func (l *Loop) Idle(fn func(), timeout time.Duration) {
	task := &idleTask{fn: fn}
	l.mu.Lock()
	l.idle = append(l.idle, task)
	if timeout > 0 {
		task.timer = l.clock.AfterFunc(timeout, func() {
			l.Post(func() { l.runIdle(task) })
		})
	}
	l.mu.Unlock()
	l.signal()
}

// Pending reports queued regular and idle tasks.
func (l *Loop) Pending() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.queue) + len(l.idle)
}

// Run executes tasks until ctx is cancelled.
func (l *Loop) Run(ctx context.Context) error {
	for {
		for l.step() {
			if ctx.Err() != nil {
				return ctx.Err()
			}
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-l.wake:
		}
	}
}

// Drain runs tasks on the calling goroutine until both queues are empty
// and returns how many ran. It must not race with Run.
func (l *Loop) Drain() int {
	n := 0
	for l.step() {
		n++
	}
	return n
}

func (l *Loop) step() bool {
	l.mu.Lock()
	if len(l.queue) > 0 {
		fn := l.queue[0]
		l.queue[0] = nil
		l.queue = l.queue[1:]
		l.mu.Unlock()
		l.safeRun(fn)
		return true
	}
	if len(l.idle) > 0 {
		task := l.idle[0]
		l.mu.Unlock()
		l.runIdle(task)
		return true
	}
	l.mu.Unlock()
	return false
}

func (l *Loop) runIdle(task *idleTask) {
	l.mu.Lock()
	for i, t := range l.idle {
		if t == task {
			l.idle = append(l.idle[:i], l.idle[i+1:]...)
			break
		}
	}
	timer := task.timer
	l.mu.Unlock()

	if task.done {
		return
	}
	task.done = true
	if timer != nil {
		timer.Stop()
	}
	l.safeRun(task.fn)
}

func (l *Loop) safeRun(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("loop: task panic recovered", "panic", r, "stack", string(debug.Stack()))
		}
	}()
	fn()
}

func (l *Loop) signal() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}
