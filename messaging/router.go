package messaging

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// RetryRouter decides what happens to a claimed envelope after its handler
// runs: nothing on success, republish while retry budget remains, dead-letter
// once the budget is exhausted.
type RetryRouter struct {
	publisher  *MessagePublisher
	deadLetter Store
	logger     *slog.Logger
}

// RouterOption configures the RetryRouter
type RouterOption func(*RetryRouter)

// WithRouterLogger sets the logger
func WithRouterLogger(logger *slog.Logger) RouterOption {
	return func(r *RetryRouter) {
		r.logger = logger
	}
}

// NewRetryRouter creates a new retry/dead-letter router
func NewRetryRouter(publisher *MessagePublisher, deadLetter Store, options ...RouterOption) *RetryRouter {
	r := &RetryRouter{
		publisher:  publisher,
		deadLetter: deadLetter,
		logger:     slog.Default(),
	}

	for _, opt := range options {
		opt(r)
	}

	return r
}

// Route is invoked only after a successful claim. env must reflect the claimed
// state: AcknowledgedAt set and RetryCount already incremented by the claim.
func (r *RetryRouter) Route(ctx context.Context, env *contracts.Envelope, handlerErr error) error {
	if handlerErr == nil {
		// Handled. The envelope stays claimed in the log until it ages out.
		return nil
	}

	if env.Header.RetryCount < env.Header.RetryLimit {
		id, err := r.publisher.Republish(ctx, env)
		if err != nil {
			return err
		}
		r.logger.Info("message scheduled for retry",
			"messageId", env.ID,
			"retryId", id,
			"retryCount", env.Header.RetryCount,
			"retryLimit", env.Header.RetryLimit,
			"error", handlerErr,
		)
		return nil
	}

	return r.DeadLetter(ctx, env, fmt.Sprintf("retry budget exhausted: %v", handlerErr))
}

// DeadLetter copies the claimed envelope, with its final retry count, into the
// dead-letter log for operator inspection and replay. Budget exhaustion is a
// normal terminal outcome, not an error; only the dead-letter write can fail.
func (r *RetryRouter) DeadLetter(ctx context.Context, env *contracts.Envelope, reason string) error {
	if err := r.deadLetter.Append(ctx, env.Clone(), env.Header.QoS); err != nil {
		return fmt.Errorf("failed to dead-letter message %s: %w", env.ID, err)
	}

	r.logger.Warn("message dead-lettered",
		"messageId", env.ID,
		"schemaTag", env.Header.SchemaTag,
		"topic", env.Topic,
		"retryCount", env.Header.RetryCount,
		"reason", reason,
	)
	return nil
}
