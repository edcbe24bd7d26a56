package events

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

const asyncLogPrefix = "events:async"

// ErrPublisherClosed is returned after Close.
var ErrPublisherClosed = errors.New("publisher closed")

const (
	defaultBuffer         = 256
	defaultPublishTimeout = 5 * time.Second
)

// AsyncPublisher hands events to a background worker. PublishCompleted never
// blocks; events are dropped with a warning when the buffer is full.
type AsyncPublisher struct {
	target  EventPublisher
	timeout time.Duration

	mu      sync.RWMutex
	closed  bool
	ch      chan *CommandCompleted
	done    chan struct{}
	dropped atomic.Uint64
	failed  atomic.Uint64
}

// NewAsyncPublisher starts a worker that forwards events to target.
func NewAsyncPublisher(target EventPublisher, buffer int) *AsyncPublisher {
	if buffer <= 0 {
		buffer = defaultBuffer
	}
	p := &AsyncPublisher{
		target:  target,
		timeout: defaultPublishTimeout,
		ch:      make(chan *CommandCompleted, buffer),
		done:    make(chan struct{}),
	}
	go p.run()
	return p
}

func (p *AsyncPublisher) run() {
	defer close(p.done)
	for event := range p.ch {
		ctx, cancel := context.WithTimeout(context.Background(), p.timeout)
		if err := p.target.PublishCompleted(ctx, event); err != nil {
			p.failed.Add(1)
			slog.Warn(fmt.Sprintf("%s - failed to publish completion of %s (request %s): %v", asyncLogPrefix, event.Command, event.RequestID, err))
		}
		cancel()
	}
}

// PublishCompleted queues the event.
func (p *AsyncPublisher) PublishCompleted(_ context.Context, event *CommandCompleted) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrPublisherClosed
	}
	select {
	case p.ch <- event:
	default:
		p.dropped.Add(1)
		slog.Warn(fmt.Sprintf("%s - event buffer full, dropped completion of %s (request %s)", asyncLogPrefix, event.Command, event.RequestID))
	}
	return nil
}

// Dropped returns how many events were discarded because the buffer was full.
func (p *AsyncPublisher) Dropped() uint64 {
	return p.dropped.Load()
}

// Failed returns how many events the target rejected.
func (p *AsyncPublisher) Failed() uint64 {
	return p.failed.Load()
}

// Close stops accepting events and waits for queued ones to be published.
func (p *AsyncPublisher) Close() {
	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		<-p.done
		return
	}
	p.closed = true
	close(p.ch)
	p.mu.Unlock()
	<-p.done
}
