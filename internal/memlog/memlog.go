// Package memlog provides an in-memory bounded log store. It implements the
// full store contract, including the atomic claim and append notification, so
// the delivery pipeline can run in tests and embedded tools without Pebble
// files or a Redis server.
package memlog

import (
	"context"
	"strconv"
	"sync"
	"time"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

// DefaultCapacity bounds the log when no capacity is configured.
const DefaultCapacity = 1024

type entry struct {
	seq uint64
	env *contracts.Envelope
}

// Log is a capacity-bounded, insertion-ordered in-memory store. All claim
// mutations happen under the log mutex, which is what makes the conditional
// update atomic for this backend.
type Log struct {
	mu       sync.Mutex
	capacity int
	lastSeq  uint64
	entries  []entry
	byID     map[string]*contracts.Envelope
	notifyCh chan struct{}
}

var _ messaging.Store = (*Log)(nil)

// NewLog creates an in-memory log holding at most capacity envelopes.
func NewLog(capacity int) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	return &Log{
		capacity: capacity,
		byID:     make(map[string]*contracts.Envelope),
		notifyCh: make(chan struct{}),
	}
}

// Append implements messaging.Store. All QoS levels behave identically for an
// in-memory store; the level is recorded on the envelope only.
func (l *Log) Append(ctx context.Context, env *contracts.Envelope, qos contracts.QoS) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	l.lastSeq++
	stored := env.Clone()
	l.entries = append(l.entries, entry{seq: l.lastSeq, env: stored})
	l.byID[stored.ID] = stored

	// Evict oldest entries once over capacity.
	for len(l.entries) > l.capacity {
		oldest := l.entries[0]
		l.entries = l.entries[1:]
		delete(l.byID, oldest.env.ID)
	}

	// Wake waiters.
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return nil
}

// Claim implements messaging.Store.
func (l *Log) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	env, ok := l.byID[id]
	if !ok || env.Header.Claimed() {
		return false, nil
	}

	ack := at
	env.Header.AcknowledgedAt = &ack
	env.Header.RetryCount++
	return true, nil
}

// Scan implements messaging.Store.
func (l *Log) Scan(ctx context.Context, filter messaging.Filter, cursor string, limit int) ([]messaging.Record, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}

	after, err := parseCursor(cursor)
	if err != nil {
		return nil, cursor, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	var records []messaging.Record
	next := cursor
	for _, e := range l.entries {
		if e.seq <= after {
			continue
		}
		next = formatCursor(e.seq)
		if filter.Match(e.env) {
			records = append(records, messaging.Record{
				Cursor:   formatCursor(e.seq),
				Envelope: e.env.Clone(),
			})
			if limit > 0 && len(records) >= limit {
				break
			}
		}
	}
	return records, next, nil
}

// Wait implements messaging.Store.
func (l *Log) Wait(ctx context.Context, timeout time.Duration) bool {
	l.mu.Lock()
	ch := l.notifyCh
	l.mu.Unlock()

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-ch:
		return true
	case <-timer.C:
		return false
	case <-ctx.Done():
		return false
	}
}

// Stats implements messaging.Store.
func (l *Log) Stats(ctx context.Context) (messaging.Stats, error) {
	if err := ctx.Err(); err != nil {
		return messaging.Stats{}, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	stats := messaging.Stats{Entries: len(l.entries)}
	for _, e := range l.entries {
		if !e.env.Header.Claimed() {
			stats.Unclaimed++
		}
	}
	return stats, nil
}

// Close implements messaging.Store.
func (l *Log) Close() error {
	return nil
}

func parseCursor(cursor string) (uint64, error) {
	if cursor == "" {
		return 0, nil
	}
	return strconv.ParseUint(cursor, 10, 64)
}

func formatCursor(seq uint64) string {
	return strconv.FormatUint(seq, 10)
}
