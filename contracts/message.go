package contracts

import (
	"time"
)

// Message is the base interface for all published payloads
type Message interface {
	GetID() string
	GetTimestamp() time.Time
	GetType() string
	GetCorrelationID() string
	SetCorrelationID(correlationID string)
}
