// Package redcapped is a message queue engine over a bounded, append-only log.
//
// Messages are published to topics and delivered to subscribers at most once
// each, coordinated by an atomic per-message claim rather than broker-side
// consumer groups. Failed handlers are retried by republishing a fresh
// envelope until the message's retry budget runs out, at which point the
// envelope is copied to a dead-letter log for inspection and replay.
//
// Key features:
//   - Bounded insertion-ordered log storage on Pebble (embedded) or Redis
//     Streams (shared), plus an in-memory store for tests and tools
//   - Atomic claim as the sole delivery coordination primitive
//   - Per-message retry budgets with dead-lettering on exhaustion
//   - Per-publish durability levels (normal, at-least-one, majority)
//   - Schema tag registry for typed payload decoding
//
// Example usage:
//
//	queue, err := redcapped.OpenQueue("/var/lib/redcapped", "orders")
//	if err != nil {
//		log.Fatal(err)
//	}
//	client := redcapped.NewClient(queue)
//	defer client.Close()
//
//	client.Register("order.created", &OrderCreated{})
//
//	client.Subscribe(ctx, "orders", "order.created",
//		messaging.NewTypedHandler(func(ctx context.Context, msg *OrderCreated) error {
//			return process(msg)
//		}))
//
//	client.Publish(ctx, "orders", NewOrderCreated("o-42"),
//		messaging.WithQoS(contracts.QoSAtLeastOne))
package redcapped
