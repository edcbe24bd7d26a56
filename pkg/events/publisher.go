package events

import (
	"context"
	"errors"
)

// EventPublisher is the interface for publishing command completion events.
type EventPublisher interface {
	PublishCompleted(ctx context.Context, event *CommandCompleted) error
}

// NoOpPublisher is an EventPublisher that does nothing (for in-process usage without events).
type NoOpPublisher struct{}

// PublishCompleted is a no-op.
func (p *NoOpPublisher) PublishCompleted(_ context.Context, _ *CommandCompleted) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *CommandCompleted) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *CommandCompleted) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishCompleted calls the callback.
func (p *CallbackPublisher) PublishCompleted(ctx context.Context, event *CommandCompleted) error {
	return p.callback(ctx, event)
}

// MultiPublisher publishes to every target and joins their errors.
type MultiPublisher []EventPublisher

// PublishCompleted publishes to all targets.
func (m MultiPublisher) PublishCompleted(ctx context.Context, event *CommandCompleted) error {
	var errs []error
	for _, p := range m {
		if err := p.PublishCompleted(ctx, event); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
