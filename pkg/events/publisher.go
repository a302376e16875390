package events

import "context"

// EventPublisher publishes dispatch outcome events.
type EventPublisher interface {
	PublishDispatched(ctx context.Context, event *ActionDispatchedEvent) error
}

// NoOpPublisher is an EventPublisher that does nothing (events disabled).
type NoOpPublisher struct{}

// PublishDispatched is a no-op.
func (p *NoOpPublisher) PublishDispatched(_ context.Context, _ *ActionDispatchedEvent) error {
	return nil
}

// CallbackPublisher is an EventPublisher that calls a callback function (for testing).
type CallbackPublisher struct {
	callback func(ctx context.Context, event *ActionDispatchedEvent) error
}

// NewCallbackPublisher creates a new CallbackPublisher.
func NewCallbackPublisher(cb func(ctx context.Context, event *ActionDispatchedEvent) error) *CallbackPublisher {
	return &CallbackPublisher{callback: cb}
}

// PublishDispatched calls the callback.
func (p *CallbackPublisher) PublishDispatched(ctx context.Context, event *ActionDispatchedEvent) error {
	return p.callback(ctx, event)
}
