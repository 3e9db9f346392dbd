package messaging

import (
	"context"
	"time"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// Record is one stored envelope together with its resumable scan position.
type Record struct {
	// Cursor is the opaque position of this record in the log. Passing it back
	// to Scan resumes reading strictly after this record.
	Cursor   string
	Envelope *contracts.Envelope
}

// Filter selects envelopes during a scan. Zero-valued fields match everything.
type Filter struct {
	Topic         string
	SchemaTag     string
	UnclaimedOnly bool
}

// Match reports whether the envelope satisfies the filter. Backends share this
// so filtering semantics cannot drift between them.
func (f Filter) Match(env *contracts.Envelope) bool {
	if f.Topic != "" && env.Topic != f.Topic {
		return false
	}
	if f.SchemaTag != "" && env.Header.SchemaTag != f.SchemaTag {
		return false
	}
	if f.UnclaimedOnly && env.Header.Claimed() {
		return false
	}
	return true
}

// Stats describes the current contents of a log.
type Stats struct {
	Entries   int
	Unclaimed int
}

// Store is the bounded log contract. Any backend satisfying it can carry the
// delivery protocol: an append-only, capacity-bounded, insertion-order store
// with an atomic conditional claim and a resumable scan.
//
// Capacity behavior: once full, the oldest entries are evicted automatically.
// There is no delete operation; consumed envelopes stay claimed until they
// age out.
type Store interface {
	// Append inserts a new envelope with the durability implied by qos. It
	// never mutates existing records.
	Append(ctx context.Context, env *contracts.Envelope, qos contracts.QoS) error

	// Claim atomically acknowledges the envelope with the given id: iff its
	// AcknowledgedAt is still unset, set it to at and increment RetryCount in
	// the same atomic operation. It returns true iff this call modified the
	// record. A false result with nil error means another claimant won the
	// race (or the envelope aged out) - an expected outcome, not a failure.
	Claim(ctx context.Context, id string, at time.Time) (bool, error)

	// Scan returns up to limit envelopes matching the filter, in insertion
	// order, starting strictly after cursor ("" means the start of the log).
	// The returned cursor resumes after the last examined record, whether or
	// not it matched, so repeated scans always make progress.
	Scan(ctx context.Context, filter Filter, cursor string, limit int) ([]Record, string, error)

	// Wait blocks until a new append occurs, the timeout elapses, or ctx is
	// cancelled. It returns true when woken by an append. Its timeout is a
	// liveness mechanism for pollers, not a correctness one.
	Wait(ctx context.Context, timeout time.Duration) bool

	// Stats reports the current log contents.
	Stats(ctx context.Context) (Stats, error)

	Close() error
}
