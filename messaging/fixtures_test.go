package messaging

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/mock"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// orderCreated is the concrete message type used across the package tests.
type orderCreated struct {
	contracts.BaseMessage
	OrderID string  `json:"orderId"`
	Amount  float64 `json:"amount"`
}

func newOrderCreated(orderID string, amount float64) *orderCreated {
	return &orderCreated{
		BaseMessage: contracts.NewBaseMessage("order.created"),
		OrderID:     orderID,
		Amount:      amount,
	}
}

func newTestEnvelope(topic, schemaTag string, retryLimit int) *contracts.Envelope {
	return &contracts.Envelope{
		ID:    uuid.New().String(),
		Topic: topic,
		Header: contracts.Header{
			SchemaTag:  schemaTag,
			QoS:        contracts.QoSNormal,
			SentAt:     time.Now().UTC(),
			RetryLimit: retryLimit,
		},
		Body: json.RawMessage(`{"orderId":"o-1","amount":9.5}`),
	}
}

type mockStore struct {
	mock.Mock
}

func (m *mockStore) Append(ctx context.Context, env *contracts.Envelope, qos contracts.QoS) error {
	args := m.Called(ctx, env, qos)
	return args.Error(0)
}

func (m *mockStore) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	args := m.Called(ctx, id, at)
	return args.Bool(0), args.Error(1)
}

func (m *mockStore) Scan(ctx context.Context, filter Filter, cursor string, limit int) ([]Record, string, error) {
	args := m.Called(ctx, filter, cursor, limit)
	var records []Record
	if v := args.Get(0); v != nil {
		records = v.([]Record)
	}
	return records, args.String(1), args.Error(2)
}

func (m *mockStore) Wait(ctx context.Context, timeout time.Duration) bool {
	args := m.Called(ctx, timeout)
	return args.Bool(0)
}

func (m *mockStore) Stats(ctx context.Context) (Stats, error) {
	args := m.Called(ctx)
	return args.Get(0).(Stats), args.Error(1)
}

func (m *mockStore) Close() error {
	args := m.Called()
	return args.Error(0)
}
