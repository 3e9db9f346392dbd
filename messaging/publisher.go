package messaging

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// DefaultRetryLimit is the retry budget applied when a publish does not set one.
const DefaultRetryLimit = 3

// MessagePublisher appends new envelopes to the log store
type MessagePublisher struct {
	store             Store
	logger            *slog.Logger
	defaultRetryLimit int
	defaultQoS        contracts.QoS
}

// PublisherOption configures the MessagePublisher
type PublisherOption func(*MessagePublisher)

// WithPublisherLogger sets the logger
func WithPublisherLogger(logger *slog.Logger) PublisherOption {
	return func(p *MessagePublisher) {
		p.logger = logger
	}
}

// WithDefaultRetryLimit sets the retry budget used when a publish does not specify one
func WithDefaultRetryLimit(limit int) PublisherOption {
	return func(p *MessagePublisher) {
		p.defaultRetryLimit = limit
	}
}

// WithDefaultQoS sets the durability level used when a publish does not specify one
func WithDefaultQoS(qos contracts.QoS) PublisherOption {
	return func(p *MessagePublisher) {
		p.defaultQoS = qos
	}
}

// NewMessagePublisher creates a new message publisher
func NewMessagePublisher(store Store, options ...PublisherOption) *MessagePublisher {
	p := &MessagePublisher{
		store:             store,
		logger:            slog.Default(),
		defaultRetryLimit: DefaultRetryLimit,
		defaultQoS:        contracts.QoSNormal,
	}

	for _, opt := range options {
		opt(p)
	}

	return p
}

// PublishOptions configures a single publish
type PublishOptions struct {
	RetryLimit int
	QoS        contracts.QoS
}

// PublishOption configures publish behavior
type PublishOption func(*PublishOptions)

// WithRetryLimit sets the message's retry budget (must be >= 1)
func WithRetryLimit(limit int) PublishOption {
	return func(opts *PublishOptions) {
		opts.RetryLimit = limit
	}
}

// WithQoS sets the durability level for this publish
func WithQoS(qos contracts.QoS) PublishOption {
	return func(opts *PublishOptions) {
		opts.QoS = qos
	}
}

// Publish validates the message, wraps it in a fresh envelope and appends it to
// the log. It returns the assigned envelope id. Validation failures occur
// before any store I/O; store write failures propagate without internal retry,
// since retrying the I/O call is the caller's decision, not the engine's.
func (p *MessagePublisher) Publish(ctx context.Context, topic string, msg contracts.Message, options ...PublishOption) (string, error) {
	opts := PublishOptions{
		RetryLimit: p.defaultRetryLimit,
		QoS:        p.defaultQoS,
	}
	for _, opt := range options {
		opt(&opts)
	}

	if msg == nil {
		return "", contracts.ErrNilMessage
	}
	if topic == "" {
		return "", contracts.ErrEmptyTopic
	}
	if opts.RetryLimit < 1 {
		return "", fmt.Errorf("%w: got %d", contracts.ErrInvalidRetryLimit, opts.RetryLimit)
	}

	body, err := json.Marshal(msg)
	if err != nil {
		return "", fmt.Errorf("failed to serialize message: %w", err)
	}

	env := &contracts.Envelope{
		ID:    uuid.New().String(),
		Topic: topic,
		Header: contracts.Header{
			SchemaTag:  msg.GetType(),
			QoS:        opts.QoS,
			SentAt:     time.Now().UTC(),
			RetryLimit: opts.RetryLimit,
			RetryCount: 0,
		},
		Body: body,
	}

	if err := p.store.Append(ctx, env, opts.QoS); err != nil {
		p.logger.Error("failed to publish message",
			"messageId", env.ID,
			"schemaTag", env.Header.SchemaTag,
			"topic", topic,
			"error", err,
		)
		return "", fmt.Errorf("failed to publish message %s: %w", env.ID, err)
	}

	p.logger.Debug("message published",
		"messageId", env.ID,
		"schemaTag", env.Header.SchemaTag,
		"topic", topic,
		"qos", opts.QoS,
	)

	return env.ID, nil
}

// Republish appends a new envelope for a claimed one whose handler failed with
// retry budget remaining. The new envelope gets a fresh id and unset
// acknowledgment; RetryCount carries the value the claim already incremented.
// The original envelope is never mutated back to unclaimed.
func (p *MessagePublisher) Republish(ctx context.Context, claimed *contracts.Envelope) (string, error) {
	env := claimed.Clone()
	env.ID = uuid.New().String()
	env.Header.SentAt = time.Now().UTC()
	env.Header.AcknowledgedAt = nil

	if err := p.store.Append(ctx, env, env.Header.QoS); err != nil {
		return "", fmt.Errorf("failed to republish message %s: %w", claimed.ID, err)
	}

	p.logger.Debug("message republished",
		"messageId", env.ID,
		"previousId", claimed.ID,
		"retryCount", env.Header.RetryCount,
		"retryLimit", env.Header.RetryLimit,
	)

	return env.ID, nil
}
