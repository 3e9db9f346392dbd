// Package messaging provides the core delivery protocol for RedCapped.
//
// This package implements the path a message takes from published to
// handled-or-retried-or-dead-lettered:
//   - Store: The bounded log contract every storage backend satisfies
//   - MessagePublisher: Validates, builds envelopes and appends them to the log
//   - MessageSubscriber: One background poller per subscription, scanning the
//     log for unclaimed matching envelopes and running the handling pipeline
//   - RetryRouter: Decides after a handler runs whether to republish the
//     message or route it to the dead-letter log
//   - Handler interfaces: MessageHandler plus a generic typed adapter
//
// Delivery is at-least-once. The only coordination between competing pollers
// is the store's atomic claim: for every envelope at most one claim succeeds,
// so at most one handler invocation per envelope observes a true claim.
//
// Example usage:
//
//	store, _ := pebblelog.NewLog(db, "tasks", 4096)
//	dlq, _ := pebblelog.NewLog(db, "tasks.dlq", 4096)
//
//	registry := serialization.NewTypeRegistry()
//	registry.Register("SendEmail", &SendEmail{})
//
//	publisher := messaging.NewMessagePublisher(store)
//	router := messaging.NewRetryRouter(publisher, dlq)
//	subscriber := messaging.NewMessageSubscriber(store, router, registry)
//
//	_ = subscriber.Subscribe(ctx, "notifications", "SendEmail",
//		messaging.MessageHandlerFunc(func(ctx context.Context, msg contracts.Message) error {
//			return send(msg.(*SendEmail))
//		}))
//
//	id, _ := publisher.Publish(ctx, "notifications", &SendEmail{...})
package messaging
