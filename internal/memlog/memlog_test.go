package memlog

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

func newEnvelope(id, topic, tag string) *contracts.Envelope {
	return &contracts.Envelope{
		ID:    id,
		Topic: topic,
		Header: contracts.Header{
			SchemaTag:  tag,
			QoS:        contracts.QoSNormal,
			SentAt:     time.Now().UTC(),
			RetryLimit: 3,
		},
		Body: json.RawMessage(`{}`),
	}
}

func TestAppendScanOrder(t *testing.T) {
	ctx := context.Background()
	l := NewLog(16)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, newEnvelope(fmt.Sprintf("id-%d", i), "t", "Tag"), contracts.QoSNormal))
	}

	records, next, err := l.Scan(ctx, messaging.Filter{}, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, fmt.Sprintf("id-%d", i), rec.Envelope.ID)
	}

	// Resuming from the returned cursor yields nothing new.
	records, _, err = l.Scan(ctx, messaging.Filter{}, next, 0)
	require.NoError(t, err)
	assert.Empty(t, records)
}

func TestScanFilter(t *testing.T) {
	ctx := context.Background()
	l := NewLog(16)

	require.NoError(t, l.Append(ctx, newEnvelope("a", "orders", "OrderCreated"), contracts.QoSNormal))
	require.NoError(t, l.Append(ctx, newEnvelope("b", "orders", "OrderShipped"), contracts.QoSNormal))
	require.NoError(t, l.Append(ctx, newEnvelope("c", "billing", "OrderCreated"), contracts.QoSNormal))

	records, _, err := l.Scan(ctx, messaging.Filter{Topic: "orders", SchemaTag: "OrderCreated"}, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "a", records[0].Envelope.ID)
}

func TestScanCursorAdvancesPastNonMatching(t *testing.T) {
	ctx := context.Background()
	l := NewLog(16)

	require.NoError(t, l.Append(ctx, newEnvelope("a", "t", "Other"), contracts.QoSNormal))
	require.NoError(t, l.Append(ctx, newEnvelope("b", "t", "Other"), contracts.QoSNormal))

	records, next, err := l.Scan(ctx, messaging.Filter{SchemaTag: "Wanted"}, "", 0)
	require.NoError(t, err)
	assert.Empty(t, records)
	assert.NotEmpty(t, next, "cursor must advance past examined non-matching records")
}

func TestCapacityEviction(t *testing.T) {
	ctx := context.Background()
	l := NewLog(3)

	for i := 0; i < 5; i++ {
		require.NoError(t, l.Append(ctx, newEnvelope(fmt.Sprintf("id-%d", i), "t", "Tag"), contracts.QoSNormal))
	}

	stats, err := l.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)

	// The evicted entries are no longer claimable.
	ok, err := l.Claim(ctx, "id-0", time.Now().UTC())
	require.NoError(t, err)
	assert.False(t, ok)

	records, _, err := l.Scan(ctx, messaging.Filter{}, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 3)
	assert.Equal(t, "id-2", records[0].Envelope.ID)
}

func TestClaim(t *testing.T) {
	ctx := context.Background()

	t.Run("first claim wins, second loses", func(t *testing.T) {
		l := NewLog(16)
		require.NoError(t, l.Append(ctx, newEnvelope("a", "t", "Tag"), contracts.QoSNormal))

		ok, err := l.Claim(ctx, "a", time.Now().UTC())
		require.NoError(t, err)
		assert.True(t, ok)

		ok, err = l.Claim(ctx, "a", time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, ok)
	})

	t.Run("claim sets acknowledgment and increments retry count", func(t *testing.T) {
		l := NewLog(16)
		require.NoError(t, l.Append(ctx, newEnvelope("a", "t", "Tag"), contracts.QoSNormal))

		at := time.Now().UTC()
		ok, err := l.Claim(ctx, "a", at)
		require.NoError(t, err)
		require.True(t, ok)

		records, _, err := l.Scan(ctx, messaging.Filter{}, "", 0)
		require.NoError(t, err)
		require.Len(t, records, 1)
		h := records[0].Envelope.Header
		require.NotNil(t, h.AcknowledgedAt)
		assert.Equal(t, at, *h.AcknowledgedAt)
		assert.Equal(t, 1, h.RetryCount)
	})

	t.Run("unknown id is a lost claim, not an error", func(t *testing.T) {
		l := NewLog(16)
		ok, err := l.Claim(ctx, "missing", time.Now().UTC())
		require.NoError(t, err)
		assert.False(t, ok)
	})
}

func TestConcurrentClaimExactlyOneWinner(t *testing.T) {
	ctx := context.Background()

	for _, n := range []int{2, 10, 100} {
		t.Run(fmt.Sprintf("claimants=%d", n), func(t *testing.T) {
			l := NewLog(16)
			require.NoError(t, l.Append(ctx, newEnvelope("contested", "t", "Tag"), contracts.QoSNormal))

			var wg sync.WaitGroup
			wins := make(chan bool, n)
			start := make(chan struct{})
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					<-start
					ok, err := l.Claim(ctx, "contested", time.Now().UTC())
					assert.NoError(t, err)
					wins <- ok
				}()
			}
			close(start)
			wg.Wait()
			close(wins)

			winners := 0
			for ok := range wins {
				if ok {
					winners++
				}
			}
			assert.Equal(t, 1, winners)
		})
	}
}

func TestUnclaimedOnlyFilter(t *testing.T) {
	ctx := context.Background()
	l := NewLog(16)

	require.NoError(t, l.Append(ctx, newEnvelope("a", "t", "Tag"), contracts.QoSNormal))
	require.NoError(t, l.Append(ctx, newEnvelope("b", "t", "Tag"), contracts.QoSNormal))

	ok, err := l.Claim(ctx, "a", time.Now().UTC())
	require.NoError(t, err)
	require.True(t, ok)

	records, _, err := l.Scan(ctx, messaging.Filter{UnclaimedOnly: true}, "", 0)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "b", records[0].Envelope.ID)
}

func TestWait(t *testing.T) {
	t.Run("woken by append", func(t *testing.T) {
		l := NewLog(16)

		woke := make(chan bool, 1)
		go func() {
			woke <- l.Wait(context.Background(), 2*time.Second)
		}()

		// Give the waiter a moment to park.
		time.Sleep(20 * time.Millisecond)
		require.NoError(t, l.Append(context.Background(), newEnvelope("a", "t", "Tag"), contracts.QoSNormal))

		select {
		case ok := <-woke:
			assert.True(t, ok)
		case <-time.After(time.Second):
			t.Fatal("waiter was not woken by append")
		}
	})

	t.Run("times out without appends", func(t *testing.T) {
		l := NewLog(16)
		assert.False(t, l.Wait(context.Background(), 30*time.Millisecond))
	})

	t.Run("interrupted by cancellation", func(t *testing.T) {
		l := NewLog(16)
		ctx, cancel := context.WithCancel(context.Background())

		woke := make(chan bool, 1)
		go func() {
			woke <- l.Wait(ctx, 10*time.Second)
		}()

		time.Sleep(20 * time.Millisecond)
		cancel()

		select {
		case ok := <-woke:
			assert.False(t, ok)
		case <-time.After(time.Second):
			t.Fatal("waiter was not interrupted by cancellation")
		}
	})
}

func TestScanReturnsClones(t *testing.T) {
	ctx := context.Background()
	l := NewLog(16)
	require.NoError(t, l.Append(ctx, newEnvelope("a", "t", "Tag"), contracts.QoSNormal))

	records, _, err := l.Scan(ctx, messaging.Filter{}, "", 0)
	require.NoError(t, err)
	records[0].Envelope.Header.RetryCount = 99

	records, _, err = l.Scan(ctx, messaging.Filter{}, "", 0)
	require.NoError(t, err)
	assert.Equal(t, 0, records[0].Envelope.Header.RetryCount)
}
