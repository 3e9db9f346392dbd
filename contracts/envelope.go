package contracts

import (
	"encoding/json"
	"fmt"
	"time"
)

// QoS is the per-publish durability level. It controls how confirmed a write
// must be before the store reports it as accepted.
type QoS string

const (
	// QoSNormal is acknowledged once the primary store node accepts the write.
	QoSNormal QoS = "normal"
	// QoSAtLeastOne is acknowledged by at least one additional replica.
	QoSAtLeastOne QoS = "atLeastOne"
	// QoSMajority is acknowledged by a majority of replicas before returning.
	QoSMajority QoS = "majority"
)

// ParseQoS parses a QoS level from its string form.
func ParseQoS(s string) (QoS, error) {
	switch QoS(s) {
	case QoSNormal, QoSAtLeastOne, QoSMajority:
		return QoS(s), nil
	case "":
		return QoSNormal, nil
	default:
		return "", fmt.Errorf("unknown qos level: %q", s)
	}
}

// Header carries the delivery metadata for one envelope.
type Header struct {
	// SchemaTag identifies the logical payload type. Subscriptions filter on it,
	// so envelopes with a different tag are invisible to a subscriber.
	SchemaTag string `json:"schemaTag"`
	// QoS is the durability level requested at publish time.
	QoS QoS `json:"qos"`
	// SentAt is the publish timestamp.
	SentAt time.Time `json:"sentAt"`
	// AcknowledgedAt is nil until exactly one claim succeeds. Once set it is
	// never reset; a retried message is a new envelope, not an un-claim.
	AcknowledgedAt *time.Time `json:"acknowledgedAt,omitempty"`
	// RetryLimit is the message's retry budget, always >= 1.
	RetryLimit int `json:"retryLimit"`
	// RetryCount is incremented by the claim operation. RetryCount <= RetryLimit.
	RetryCount int `json:"retryCount"`
}

// Claimed reports whether the envelope has been acknowledged by a consumer.
func (h Header) Claimed() bool {
	return h.AcknowledgedAt != nil
}

// Envelope wraps a message payload with delivery metadata for the log store.
type Envelope struct {
	ID     string          `json:"id"`
	Topic  string          `json:"topic,omitempty"`
	Header Header          `json:"header"`
	Body   json.RawMessage `json:"body"`
}

// Clone returns a deep copy of the envelope. Store backends hand out clones so
// callers never observe in-place claim mutations through shared pointers.
func (e *Envelope) Clone() *Envelope {
	cp := *e
	if e.Header.AcknowledgedAt != nil {
		at := *e.Header.AcknowledgedAt
		cp.Header.AcknowledgedAt = &at
	}
	if e.Body != nil {
		cp.Body = append(json.RawMessage(nil), e.Body...)
	}
	return &cp
}
