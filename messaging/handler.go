package messaging

import (
	"context"
	"fmt"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// MessageHandler processes a delivered message. Returning nil acknowledges the
// message as handled; returning an error routes it through the retry budget.
type MessageHandler interface {
	Handle(ctx context.Context, msg contracts.Message) error
}

// MessageHandlerFunc is a function adapter for MessageHandler
type MessageHandlerFunc func(ctx context.Context, msg contracts.Message) error

// Handle implements MessageHandler
func (f MessageHandlerFunc) Handle(ctx context.Context, msg contracts.Message) error {
	return f(ctx, msg)
}

// TypedHandler adapts a function taking a concrete message type to the
// MessageHandler interface. The subscriber decodes into the registered type
// before dispatch, so the assertion only fails on registry misconfiguration.
type TypedHandler[T any] struct {
	fn func(ctx context.Context, msg *T) error
}

// NewTypedHandler creates a typed handler adapter
func NewTypedHandler[T any](fn func(ctx context.Context, msg *T) error) *TypedHandler[T] {
	return &TypedHandler[T]{fn: fn}
}

// Handle implements MessageHandler
func (h *TypedHandler[T]) Handle(ctx context.Context, msg contracts.Message) error {
	typed, ok := any(msg).(*T)
	if !ok {
		return fmt.Errorf("expected %T, got %T", (*T)(nil), msg)
	}
	return h.fn(ctx, typed)
}
