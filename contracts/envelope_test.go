package contracts

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseQoS(t *testing.T) {
	t.Run("recognizes all levels", func(t *testing.T) {
		for _, s := range []string{"normal", "atLeastOne", "majority"} {
			q, err := ParseQoS(s)
			require.NoError(t, err)
			assert.Equal(t, QoS(s), q)
		}
	})

	t.Run("empty defaults to normal", func(t *testing.T) {
		q, err := ParseQoS("")
		require.NoError(t, err)
		assert.Equal(t, QoSNormal, q)
	})

	t.Run("rejects unknown levels", func(t *testing.T) {
		_, err := ParseQoS("fireAndForget")
		assert.Error(t, err)
	})
}

func TestHeaderClaimed(t *testing.T) {
	h := Header{SchemaTag: "OrderCreated", RetryLimit: 3}
	assert.False(t, h.Claimed())

	now := time.Now().UTC()
	h.AcknowledgedAt = &now
	assert.True(t, h.Claimed())
}

func TestEnvelopeClone(t *testing.T) {
	now := time.Now().UTC()
	env := &Envelope{
		ID:    "id-1",
		Topic: "orders",
		Header: Header{
			SchemaTag:      "OrderCreated",
			QoS:            QoSNormal,
			SentAt:         now,
			AcknowledgedAt: &now,
			RetryLimit:     3,
			RetryCount:     1,
		},
		Body: json.RawMessage(`{"orderId":42}`),
	}

	cp := env.Clone()
	require.Equal(t, env, cp)

	// Mutating the clone must not leak into the original.
	later := now.Add(time.Minute)
	*cp.Header.AcknowledgedAt = later
	cp.Body[0] = 'X'

	assert.Equal(t, now, *env.Header.AcknowledgedAt)
	assert.Equal(t, byte('{'), env.Body[0])
}

func TestNewBaseMessage(t *testing.T) {
	m := NewBaseMessage("OrderCreated")
	assert.NotEmpty(t, m.GetID())
	assert.Equal(t, "OrderCreated", m.GetType())
	assert.False(t, m.GetTimestamp().IsZero())

	other := NewBaseMessage("OrderCreated")
	assert.NotEqual(t, m.GetID(), other.GetID())
}
