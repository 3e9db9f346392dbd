package redcapped

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

type paymentReceived struct {
	contracts.BaseMessage
	PaymentID string  `json:"paymentId"`
	Amount    float64 `json:"amount"`
}

func newPaymentReceived(paymentID string, amount float64) *paymentReceived {
	return &paymentReceived{
		BaseMessage: contracts.NewBaseMessage("payment.received"),
		PaymentID:   paymentID,
		Amount:      amount,
	}
}

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client := NewClient(OpenMemoryQueue("payments"), WithIdleTimeout(50*time.Millisecond))
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Register("payment.received", &paymentReceived{}))
	return client
}

func TestClientPublishSubscribeRoundTrip(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	received := make(chan *paymentReceived, 1)
	err := client.Subscribe(ctx, "payments", "payment.received",
		messaging.NewTypedHandler(func(ctx context.Context, msg *paymentReceived) error {
			received <- msg
			return nil
		}))
	require.NoError(t, err)

	id, err := client.Publish(ctx, "payments", newPaymentReceived("p-7", 49.90))
	require.NoError(t, err)
	assert.NotEmpty(t, id)

	select {
	case msg := <-received:
		assert.Equal(t, "p-7", msg.PaymentID)
		assert.Equal(t, 49.90, msg.Amount)
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for delivery")
	}
}

func TestClientRetryExhaustionDeadLetters(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	var attempts atomic.Int32
	err := client.Subscribe(ctx, "payments", "payment.received",
		messaging.NewTypedHandler(func(ctx context.Context, msg *paymentReceived) error {
			attempts.Add(1)
			return errors.New("downstream unavailable")
		}))
	require.NoError(t, err)

	_, err = client.Publish(ctx, "payments", newPaymentReceived("p-1", 10),
		messaging.WithRetryLimit(2))
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		stats, err := client.DeadLetterStats(ctx)
		return err == nil && stats.Entries == 1
	}, 3*time.Second, 20*time.Millisecond)
	assert.Equal(t, int32(2), attempts.Load())
}

func TestClientStats(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		_, err := client.Publish(ctx, "payments", newPaymentReceived("p-1", 1))
		require.NoError(t, err)
	}

	stats, err := client.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 3, stats.Unclaimed)

	dlqStats, err := client.DeadLetterStats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 0, dlqStats.Entries)
}

func TestClientUnsubscribe(t *testing.T) {
	client := newTestClient(t)
	ctx := context.Background()

	received := make(chan *paymentReceived, 2)
	err := client.Subscribe(ctx, "payments", "payment.received",
		messaging.NewTypedHandler(func(ctx context.Context, msg *paymentReceived) error {
			received <- msg
			return nil
		}))
	require.NoError(t, err)

	client.Unsubscribe("payments")

	_, err = client.Publish(ctx, "payments", newPaymentReceived("p-1", 1))
	require.NoError(t, err)

	select {
	case <-received:
		t.Fatal("message delivered after unsubscribe")
	case <-time.After(300 * time.Millisecond):
	}
}

func TestClientDefaults(t *testing.T) {
	queue := OpenMemoryQueue("payments")
	client := NewClient(queue,
		WithDefaultRetryLimit(5),
		WithDefaultQoS(contracts.QoSAtLeastOne),
		WithIdleTimeout(50*time.Millisecond),
	)
	t.Cleanup(func() { _ = client.Close() })
	require.NoError(t, client.Register("payment.received", &paymentReceived{}))

	ctx := context.Background()
	_, err := client.Publish(ctx, "payments", newPaymentReceived("p-1", 1))
	require.NoError(t, err)

	records, _, err := queue.Log().Scan(ctx, messaging.Filter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, 5, records[0].Envelope.Header.RetryLimit)
	assert.Equal(t, contracts.QoSAtLeastOne, records[0].Envelope.Header.QoS)
}
