package host

import (
	"context"
	"fmt"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

const loopLogPrefix = "host:loop"

// DefaultTickInterval approximates a 60 Hz editor frame.
const DefaultTickInterval = 16 * time.Millisecond

// MainLoop stands in for the editor's main loop when the bridge runs outside
// a real host. It owns one goroutine locked to its OS thread; everything
// registered through OnTick runs there, once per tick.
type MainLoop struct {
	interval time.Duration

	mu     sync.Mutex
	hooks  map[uint64]func()
	nextID uint64

	wake    chan struct{}
	quit    chan struct{}
	done    chan struct{}
	started atomic.Bool
	stopped atomic.Bool
	ticks   atomic.Uint64
}

// NewMainLoop creates a loop that ticks every interval.
func NewMainLoop(interval time.Duration) *MainLoop {
	if interval <= 0 {
		interval = DefaultTickInterval
	}
	return &MainLoop{
		interval: interval,
		hooks:    make(map[uint64]func()),
		wake:     make(chan struct{}, 1),
		quit:     make(chan struct{}),
		done:     make(chan struct{}),
	}
}

// Start launches the loop goroutine. It returns an error if the loop was already started.
func (l *MainLoop) Start(ctx context.Context) error {
	if !l.started.CompareAndSwap(false, true) {
		return fmt.Errorf("%s - main loop already started", loopLogPrefix)
	}
	go l.run(ctx)
	return nil
}

func (l *MainLoop) run(ctx context.Context) {
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()
	defer close(l.done)

	ticker := time.NewTicker(l.interval)
	defer ticker.Stop()

	slog.Debug(fmt.Sprintf("%s - main loop running, interval=%s", loopLogPrefix, l.interval))
	for {
		select {
		case <-ctx.Done():
			l.stopped.Store(true)
			return
		case <-l.quit:
			return
		case <-ticker.C:
			l.tick()
		case <-l.wake:
			l.tick()
		}
	}
}

func (l *MainLoop) tick() {
	l.mu.Lock()
	hooks := make([]func(), 0, len(l.hooks))
	for id := uint64(1); id <= l.nextID; id++ {
		if fn, ok := l.hooks[id]; ok {
			hooks = append(hooks, fn)
		}
	}
	l.mu.Unlock()

	for _, fn := range hooks {
		l.callHook(fn)
	}
	l.ticks.Add(1)
}

func (l *MainLoop) callHook(fn func()) {
	defer func() {
		if r := recover(); r != nil {
			slog.Error(fmt.Sprintf("%s - tick hook panicked: %v", loopLogPrefix, r))
		}
	}()
	fn()
}

// OnTick registers fn to run on every tick.
func (l *MainLoop) OnTick(fn func()) (func(), error) {
	if fn == nil {
		return nil, fmt.Errorf("%s - nil tick hook", loopLogPrefix)
	}
	if l.stopped.Load() {
		return nil, fmt.Errorf("%s - cannot register tick hook: %w", loopLogPrefix, ErrLoopStopped)
	}
	l.mu.Lock()
	l.nextID++
	id := l.nextID
	l.hooks[id] = fn
	l.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			delete(l.hooks, id)
			l.mu.Unlock()
		})
	}, nil
}

// Wake requests an early tick. Never blocks.
func (l *MainLoop) Wake() {
	select {
	case l.wake <- struct{}{}:
	default:
	}
}

// Ticks returns how many ticks have completed.
func (l *MainLoop) Ticks() uint64 {
	return l.ticks.Load()
}

// Stop ends the loop and waits for the current tick to finish.
func (l *MainLoop) Stop() {
	if !l.stopped.CompareAndSwap(false, true) {
		if l.started.Load() {
			<-l.done
		}
		return
	}
	close(l.quit)
	if l.started.Load() {
		<-l.done
	}
}
