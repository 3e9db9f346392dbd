package redcapped

import (
	"context"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
	"github.com/AppSpaceIT/RedCapped/serialization"
)

// Client provides the main entry point for redcapped. It wires a publisher,
// retry router and subscriber over one queue and owns their lifecycle.
type Client struct {
	queue      *Queue
	registry   *serialization.TypeRegistry
	publisher  *messaging.MessagePublisher
	subscriber *messaging.MessageSubscriber
}

// NewClient creates a client over an opened queue. Closing the client closes
// the queue.
func NewClient(queue *Queue, options ...Option) *Client {
	cfg := newConfig(options...)

	publisherOpts := []messaging.PublisherOption{
		messaging.WithPublisherLogger(cfg.logger),
		messaging.WithDefaultQoS(cfg.defaultQoS),
	}
	if cfg.defaultRetryLimit > 0 {
		publisherOpts = append(publisherOpts, messaging.WithDefaultRetryLimit(cfg.defaultRetryLimit))
	}
	publisher := messaging.NewMessagePublisher(queue.Log(), publisherOpts...)

	router := messaging.NewRetryRouter(publisher, queue.DeadLetter(),
		messaging.WithRouterLogger(cfg.logger),
	)

	registry := serialization.NewTypeRegistry()

	subscriberOpts := []messaging.SubscriberOption{
		messaging.WithSubscriberLogger(cfg.logger),
	}
	if cfg.idleTimeout > 0 {
		subscriberOpts = append(subscriberOpts, messaging.WithIdleTimeout(cfg.idleTimeout))
	}
	if cfg.scanLimit > 0 {
		subscriberOpts = append(subscriberOpts, messaging.WithScanLimit(cfg.scanLimit))
	}
	subscriber := messaging.NewMessageSubscriber(queue.Log(), router, registry, subscriberOpts...)

	return &Client{
		queue:      queue,
		registry:   registry,
		publisher:  publisher,
		subscriber: subscriber,
	}
}

// Register registers a message type under a schema tag so subscribers can
// decode payloads carrying that tag.
func (c *Client) Register(schemaTag string, prototype contracts.Message) error {
	return c.registry.Register(schemaTag, prototype)
}

// Publish appends the message to the queue and returns the assigned envelope id.
func (c *Client) Publish(ctx context.Context, topic string, msg contracts.Message, options ...messaging.PublishOption) (string, error) {
	return c.publisher.Publish(ctx, topic, msg, options...)
}

// Subscribe starts a background poller delivering messages of the given
// schema tag on the topic to the handler.
func (c *Client) Subscribe(ctx context.Context, topic string, messageType string, handler messaging.MessageHandler) error {
	return c.subscriber.Subscribe(ctx, topic, messageType, handler)
}

// Unsubscribe stops the topic's poller. No-op when no subscription exists.
func (c *Client) Unsubscribe(topic string) {
	c.subscriber.Unsubscribe(topic)
}

// Publisher returns the message publisher.
func (c *Client) Publisher() *messaging.MessagePublisher {
	return c.publisher
}

// Subscriber returns the message subscriber.
func (c *Client) Subscriber() *messaging.MessageSubscriber {
	return c.subscriber
}

// Queue returns the underlying queue.
func (c *Client) Queue() *Queue {
	return c.queue
}

// Stats reports entry counts for the main log.
func (c *Client) Stats(ctx context.Context) (messaging.Stats, error) {
	return c.queue.Log().Stats(ctx)
}

// DeadLetterStats reports entry counts for the dead-letter log.
func (c *Client) DeadLetterStats(ctx context.Context) (messaging.Stats, error) {
	return c.queue.DeadLetter().Stats(ctx)
}

// Close stops all subscriptions, then closes the queue.
func (c *Client) Close() error {
	if err := c.subscriber.Close(); err != nil {
		return err
	}
	return c.queue.Close()
}
