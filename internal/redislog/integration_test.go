//go:build integration

package redislog

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

// Requires a running Redis; set REDIS_ADDR (e.g. localhost:6379) to enable.
func openTestLog(t *testing.T) *Log {
	t.Helper()

	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set, skipping redis integration test")
	}

	name := fmt.Sprintf("it-%s", uuid.New().String()[:8])
	log, err := New(addr, name, 128)
	require.NoError(t, err)

	t.Cleanup(func() {
		ctx := context.Background()
		log.client.Del(ctx, log.stream, log.idsKey, log.ackKey)
		log.Close()
	})
	return log
}

func makeEnvelope(topic, schemaTag string) *contracts.Envelope {
	return &contracts.Envelope{
		ID:    uuid.New().String(),
		Topic: topic,
		Header: contracts.Header{
			SchemaTag:  schemaTag,
			QoS:        contracts.QoSNormal,
			SentAt:     time.Now().UTC(),
			RetryLimit: 3,
		},
		Body: json.RawMessage(`{"value":1}`),
	}
}

func TestAppendAndScanOrder(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	var ids []string
	for i := 0; i < 5; i++ {
		env := makeEnvelope("orders", "order.created")
		require.NoError(t, log.Append(ctx, env, contracts.QoSNormal))
		ids = append(ids, env.ID)
	}

	records, _, err := log.Scan(ctx, messaging.Filter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 5)
	for i, rec := range records {
		assert.Equal(t, ids[i], rec.Envelope.ID)
		assert.False(t, rec.Envelope.Header.Claimed())
	}
}

func TestScanCursorResume(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	for i := 0; i < 6; i++ {
		require.NoError(t, log.Append(ctx, makeEnvelope("orders", "order.created"), contracts.QoSNormal))
	}

	first, next, err := log.Scan(ctx, messaging.Filter{}, "", 4)
	require.NoError(t, err)
	require.Len(t, first, 4)

	rest, _, err := log.Scan(ctx, messaging.Filter{}, next, 4)
	require.NoError(t, err)
	require.Len(t, rest, 2)

	// No overlap between the two pages.
	seen := make(map[string]bool)
	for _, rec := range first {
		seen[rec.Envelope.ID] = true
	}
	for _, rec := range rest {
		assert.False(t, seen[rec.Envelope.ID])
	}
}

func TestClaimExactlyOnce(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	env := makeEnvelope("orders", "order.created")
	require.NoError(t, log.Append(ctx, env, contracts.QoSNormal))

	won, err := log.Claim(ctx, env.ID, time.Now())
	require.NoError(t, err)
	assert.True(t, won)

	won, err = log.Claim(ctx, env.ID, time.Now())
	require.NoError(t, err)
	assert.False(t, won)

	records, _, err := log.Scan(ctx, messaging.Filter{}, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.True(t, records[0].Envelope.Header.Claimed())
	assert.Equal(t, 1, records[0].Envelope.Header.RetryCount)
}

func TestClaimUnknownID(t *testing.T) {
	log := openTestLog(t)

	won, err := log.Claim(context.Background(), uuid.New().String(), time.Now())
	require.NoError(t, err)
	assert.False(t, won)
}

func TestConcurrentClaimSingleWinner(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	env := makeEnvelope("orders", "order.created")
	require.NoError(t, log.Append(ctx, env, contracts.QoSNormal))

	const claimers = 10
	var wins int32
	var mu sync.Mutex
	var wg sync.WaitGroup
	for i := 0; i < claimers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			won, err := log.Claim(ctx, env.ID, time.Now())
			assert.NoError(t, err)
			if won {
				mu.Lock()
				wins++
				mu.Unlock()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), wins)
}

func TestScanFilters(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	created := makeEnvelope("orders", "order.created")
	cancelled := makeEnvelope("orders", "order.cancelled")
	other := makeEnvelope("billing", "invoice.issued")
	for _, env := range []*contracts.Envelope{created, cancelled, other} {
		require.NoError(t, log.Append(ctx, env, contracts.QoSNormal))
	}
	_, err := log.Claim(ctx, cancelled.ID, time.Now())
	require.NoError(t, err)

	records, _, err := log.Scan(ctx, messaging.Filter{Topic: "orders", UnclaimedOnly: true}, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, created.ID, records[0].Envelope.ID)

	records, _, err = log.Scan(ctx, messaging.Filter{SchemaTag: "invoice.issued"}, "", 10)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, other.ID, records[0].Envelope.ID)
}

func TestStats(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	envs := make([]*contracts.Envelope, 3)
	for i := range envs {
		envs[i] = makeEnvelope("orders", "order.created")
		require.NoError(t, log.Append(ctx, envs[i], contracts.QoSNormal))
	}
	_, err := log.Claim(ctx, envs[0].ID, time.Now())
	require.NoError(t, err)

	stats, err := log.Stats(ctx)
	require.NoError(t, err)
	assert.Equal(t, 3, stats.Entries)
	assert.Equal(t, 2, stats.Unclaimed)
}

func TestWaitWakesOnAppend(t *testing.T) {
	log := openTestLog(t)
	ctx := context.Background()

	done := make(chan bool, 1)
	go func() {
		done <- log.Wait(ctx, 5*time.Second)
	}()

	time.Sleep(200 * time.Millisecond)
	require.NoError(t, log.Append(ctx, makeEnvelope("orders", "order.created"), contracts.QoSNormal))

	select {
	case woke := <-done:
		assert.True(t, woke)
	case <-time.After(6 * time.Second):
		t.Fatal("Wait did not return after append")
	}
}

func TestWaitTimesOut(t *testing.T) {
	log := openTestLog(t)

	start := time.Now()
	woke := log.Wait(context.Background(), 300*time.Millisecond)
	assert.False(t, woke)
	assert.GreaterOrEqual(t, time.Since(start), 250*time.Millisecond)
}
