package messaging

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/internal/reliability"
	"github.com/AppSpaceIT/RedCapped/serialization"
)

const (
	// DefaultIdleTimeout bounds how long a poller blocks waiting for new
	// appends before re-issuing its scan.
	DefaultIdleTimeout = 2 * time.Second
	// DefaultScanLimit is the maximum number of envelopes surfaced per scan.
	DefaultScanLimit = 64
)

// ErrSubscriberClosed is returned by Subscribe after Close has been called.
var ErrSubscriberClosed = errors.New("subscriber is closed")

// MessageSubscriber manages subscriptions and their background pollers. Each
// subscription owns one long-running worker that scans the shared log for
// unclaimed, matching envelopes and runs the handling pipeline on them.
type MessageSubscriber struct {
	store       Store
	router      *RetryRouter
	registry    *serialization.TypeRegistry
	logger      *slog.Logger
	idleTimeout time.Duration
	scanLimit   int
	scanRetry   reliability.RetryPolicy

	mu            sync.RWMutex
	subscriptions map[string]*Subscription
	closed        bool
	wg            sync.WaitGroup
}

// Subscription represents an active message subscription
type Subscription struct {
	Topic       string
	MessageType string
	Handler     MessageHandler
	cancel      context.CancelFunc
	done        chan struct{}
}

// SubscriberOption configures the MessageSubscriber
type SubscriberOption func(*MessageSubscriber)

// WithSubscriberLogger sets the logger
func WithSubscriberLogger(logger *slog.Logger) SubscriberOption {
	return func(s *MessageSubscriber) {
		s.logger = logger
	}
}

// WithIdleTimeout sets the poller's blocking-scan idle timeout
func WithIdleTimeout(timeout time.Duration) SubscriberOption {
	return func(s *MessageSubscriber) {
		s.idleTimeout = timeout
	}
}

// WithScanLimit sets the maximum batch size per scan
func WithScanLimit(limit int) SubscriberOption {
	return func(s *MessageSubscriber) {
		s.scanLimit = limit
	}
}

// WithScanRetryPolicy sets the backoff applied when a scan fails with a store
// error. This keeps the worker alive through transient I/O faults; it does not
// retry business messages, the router owns that.
func WithScanRetryPolicy(policy reliability.RetryPolicy) SubscriberOption {
	return func(s *MessageSubscriber) {
		s.scanRetry = policy
	}
}

// NewMessageSubscriber creates a new message subscriber
func NewMessageSubscriber(store Store, router *RetryRouter, registry *serialization.TypeRegistry, options ...SubscriberOption) *MessageSubscriber {
	s := &MessageSubscriber{
		store:         store,
		router:        router,
		registry:      registry,
		logger:        slog.Default(),
		idleTimeout:   DefaultIdleTimeout,
		scanLimit:     DefaultScanLimit,
		scanRetry:     reliability.NewExponentialBackoff(100*time.Millisecond, 5*time.Second, 2.0),
		subscriptions: make(map[string]*Subscription),
	}

	for _, opt := range options {
		opt(s)
	}

	return s
}

// Subscribe starts one dedicated background poller for the topic, filtering on
// messageType as the schema tag, and returns immediately without waiting for
// any delivery. Subscribing to a topic that already has an active subscription
// replaces it: the previous worker is cancelled under the registry lock so no
// orphan survives the swap.
func (s *MessageSubscriber) Subscribe(ctx context.Context, topic string, messageType string, handler MessageHandler) error {
	if topic == "" {
		return contracts.ErrEmptyTopic
	}
	if messageType == "" {
		return contracts.ErrEmptySchemaTag
	}
	if handler == nil {
		return contracts.ErrNilHandler
	}

	subCtx, cancel := context.WithCancel(ctx)
	sub := &Subscription{
		Topic:       topic,
		MessageType: messageType,
		Handler:     handler,
		cancel:      cancel,
		done:        make(chan struct{}),
	}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		cancel()
		return ErrSubscriberClosed
	}
	if prev, exists := s.subscriptions[topic]; exists {
		prev.cancel()
	}
	s.subscriptions[topic] = sub
	s.wg.Add(1)
	s.mu.Unlock()

	go s.poll(subCtx, sub)

	s.logger.Info("subscribed to topic",
		"topic", topic,
		"messageType", messageType,
	)

	return nil
}

// Unsubscribe cancels the topic's poller. It is an idempotent no-op when no
// subscription exists. The worker finishes its in-flight handler invocation,
// if any, and exits at its next checkpoint; cancellation is never surfaced as
// an error.
func (s *MessageSubscriber) Unsubscribe(topic string) {
	s.mu.Lock()
	sub, exists := s.subscriptions[topic]
	if exists {
		delete(s.subscriptions, topic)
		sub.cancel()
	}
	s.mu.Unlock()

	if exists {
		s.logger.Info("unsubscribed from topic", "topic", topic)
	}
}

// Subscriptions returns a snapshot of the active subscriptions keyed by topic.
func (s *MessageSubscriber) Subscriptions() map[string]*Subscription {
	s.mu.RLock()
	defer s.mu.RUnlock()

	result := make(map[string]*Subscription, len(s.subscriptions))
	for k, v := range s.subscriptions {
		result[k] = v
	}
	return result
}

// Close cancels all subscriptions and waits for their workers to exit. After
// Close, Subscribe returns ErrSubscriberClosed; the closed check and the
// worker WaitGroup registration both happen under the subscription lock, so
// Close never races a concurrent Subscribe into a worker it does not wait for.
func (s *MessageSubscriber) Close() error {
	s.mu.Lock()
	s.closed = true
	for topic, sub := range s.subscriptions {
		sub.cancel()
		delete(s.subscriptions, topic)
	}
	s.mu.Unlock()

	s.wg.Wait()
	s.logger.Info("closed all subscriptions")
	return nil
}

// poll is the subscription's worker loop. It scans from the start of the log
// so unclaimed envelopes published before Subscribe are still delivered, and
// parks in Wait when the scan comes back empty. Cancellation is observed at
// every checkpoint, including inside Wait, so shutdown is not bounded by the
// idle timeout.
func (s *MessageSubscriber) poll(ctx context.Context, sub *Subscription) {
	defer s.wg.Done()
	defer close(sub.done)

	filter := Filter{
		Topic:         sub.Topic,
		SchemaTag:     sub.MessageType,
		UnclaimedOnly: true,
	}

	cursor := ""
	failures := 0
	for {
		if ctx.Err() != nil {
			s.logger.Debug("poller stopped", "topic", sub.Topic, "reason", ctx.Err())
			return
		}

		records, next, err := s.store.Scan(ctx, filter, cursor, s.scanLimit)
		if err != nil {
			if ctx.Err() != nil {
				s.logger.Debug("poller stopped", "topic", sub.Topic, "reason", ctx.Err())
				return
			}
			delay := s.scanRetry.NextDelay(failures)
			failures++
			s.logger.Error("scan failed, backing off",
				"topic", sub.Topic,
				"failures", failures,
				"delay", delay,
				"error", err,
			)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		if len(records) == 0 {
			failures = 0
			cursor = next
			s.store.Wait(ctx, s.idleTimeout)
			continue
		}

		// A claim that fails with a store error (as opposed to a lost race)
		// must not be skipped: the cursor stays behind the failed record so
		// the next scan revisits it.
		delivered := true
		for i, rec := range records {
			if ctx.Err() != nil {
				s.logger.Debug("poller stopped", "topic", sub.Topic, "reason", ctx.Err())
				return
			}
			if err := s.deliver(ctx, sub, rec.Envelope); err != nil {
				if i > 0 {
					cursor = records[i-1].Cursor
				}
				delivered = false
				break
			}
		}
		if !delivered {
			delay := s.scanRetry.NextDelay(failures)
			failures++
			select {
			case <-time.After(delay):
			case <-ctx.Done():
			}
			continue
		}
		failures = 0
		cursor = next
	}
}

// deliver runs the handling pipeline for one scanned envelope: claim, decode,
// handle, route. A lost claim means another consumer owns the message; the
// worker simply moves on. A claim that fails with a store error is returned
// so the poller can retry the record instead of advancing past it.
func (s *MessageSubscriber) deliver(ctx context.Context, sub *Subscription, env *contracts.Envelope) error {
	at := time.Now().UTC()
	claimed, err := s.store.Claim(ctx, env.ID, at)
	if err != nil {
		s.logger.Error("claim failed",
			"messageId", env.ID,
			"topic", sub.Topic,
			"error", err,
		)
		return err
	}
	if !claimed {
		s.logger.Debug("lost claim race", "messageId", env.ID, "topic", sub.Topic)
		return nil
	}

	// Mirror the claim's conditional update on the local copy so the retry
	// router and any dead-letter record see the envelope's final state.
	env.Header.AcknowledgedAt = &at
	env.Header.RetryCount++

	msg, err := s.extractMessage(env)
	if err != nil {
		// Poison message: claimed but undecodable. Without a terminal path it
		// would be rescanned futilely by every poller forever, so it goes to
		// the dead-letter log instead.
		s.logger.Warn("failed to decode message, dead-lettering",
			"messageId", env.ID,
			"schemaTag", env.Header.SchemaTag,
			"error", err,
		)
		if dlErr := s.router.DeadLetter(ctx, env, fmt.Sprintf("decode failed: %v", err)); dlErr != nil {
			s.logger.Error("failed to dead-letter undecodable message",
				"messageId", env.ID,
				"error", dlErr,
			)
		}
		return nil
	}

	handlerErr := sub.Handler.Handle(ctx, msg)
	if err := s.router.Route(ctx, env, handlerErr); err != nil {
		s.logger.Error("failed to route handled message",
			"messageId", env.ID,
			"topic", sub.Topic,
			"error", err,
		)
	}
	return nil
}

// extractMessage materializes the concrete message from the envelope body
// using the schema tag registration.
func (s *MessageSubscriber) extractMessage(env *contracts.Envelope) (contracts.Message, error) {
	msg, err := s.registry.CreateInstance(env.Header.SchemaTag)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(env.Body, msg); err != nil {
		return nil, fmt.Errorf("failed to decode payload for schema tag %s: %w", env.Header.SchemaTag, err)
	}
	return msg, nil
}
