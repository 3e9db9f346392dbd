package pebblelog

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/cockroachdb/pebble"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

// DefaultCapacity bounds a log when no capacity is configured.
const DefaultCapacity = 4096

// Log provides the bounded log store over one keyspace of a shared Pebble DB.
//
// The log mutex serializes appends and claims. Since this is an embedded
// single-process store, that mutex is what makes Claim an atomic conditional
// update: no two claimants can observe the same unclaimed record and both
// modify it.
type Log struct {
	db       *DB
	name     string
	capacity uint64

	mu       sync.Mutex
	lastSeq  uint64
	firstSeq uint64
	notifyCh chan struct{}
}

var _ messaging.Store = (*Log)(nil)

// NewLog initializes a log named name in db, holding at most capacity
// envelopes, and loads its sequence bounds from metadata if present.
func NewLog(db *DB, name string, capacity int) (*Log, error) {
	if name == "" {
		return nil, errors.New("pebblelog: log name is required")
	}
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	l := &Log{
		db:       db,
		name:     name,
		capacity: uint64(capacity),
		notifyCh: make(chan struct{}),
	}

	meta, err := db.Get(keyMeta(name))
	switch {
	case err == nil && len(meta) >= 16:
		l.lastSeq = binary.BigEndian.Uint64(meta[:8])
		l.firstSeq = binary.BigEndian.Uint64(meta[8:16])
	case errors.Is(err, pebble.ErrNotFound):
		// Fresh log.
	case err != nil:
		return nil, fmt.Errorf("pebblelog: failed to load metadata for %s: %w", name, err)
	}

	return l, nil
}

// Append implements messaging.Store. The entry, its id index, capacity
// eviction and metadata update commit as one atomic batch.
func (l *Log) Append(ctx context.Context, env *contracts.Envelope, qos contracts.QoS) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	payload, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("pebblelog: failed to encode envelope %s: %w", env.ID, err)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	b := l.db.NewBatch()
	defer b.Close()

	lastSeq := l.lastSeq + 1
	firstSeq := l.firstSeq
	if firstSeq == 0 {
		firstSeq = lastSeq
	}

	if err := b.Set(keyEntry(l.name, lastSeq), encodeRecord(payload), nil); err != nil {
		return err
	}
	if err := b.Set(keyIndex(l.name, env.ID), appendBE8(nil, lastSeq), nil); err != nil {
		return err
	}

	// Evict oldest entries once over capacity.
	for lastSeq-firstSeq+1 > l.capacity {
		if err := l.evict(b, firstSeq); err != nil {
			return err
		}
		firstSeq++
	}

	var meta [16]byte
	binary.BigEndian.PutUint64(meta[:8], lastSeq)
	binary.BigEndian.PutUint64(meta[8:], firstSeq)
	if err := b.Set(keyMeta(l.name), meta[:], nil); err != nil {
		return err
	}

	if err := l.db.CommitBatch(b, syncFor(qos)); err != nil {
		return fmt.Errorf("pebblelog: failed to append envelope %s: %w", env.ID, err)
	}
	l.lastSeq = lastSeq
	l.firstSeq = firstSeq

	// Wake waiters.
	close(l.notifyCh)
	l.notifyCh = make(chan struct{})

	return nil
}

// evict stages deletion of the entry at seq and its id index into the batch.
func (l *Log) evict(b *pebble.Batch, seq uint64) error {
	entryKey := keyEntry(l.name, seq)
	if val, err := l.db.Get(entryKey); err == nil {
		if payload, ok := decodeRecord(val); ok {
			var env contracts.Envelope
			if jsonErr := json.Unmarshal(payload, &env); jsonErr == nil {
				if err := b.Delete(keyIndex(l.name, env.ID), nil); err != nil {
					return err
				}
			}
		}
	} else if !errors.Is(err, pebble.ErrNotFound) {
		return err
	}
	return b.Delete(entryKey, nil)
}

// Claim implements messaging.Store.
func (l *Log) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	seqb, err := l.db.Get(keyIndex(l.name, id))
	if errors.Is(err, pebble.ErrNotFound) {
		// Unknown or already evicted: zero records matched.
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebblelog: failed to look up envelope %s: %w", id, err)
	}
	seq := binary.BigEndian.Uint64(seqb)

	entryKey := keyEntry(l.name, seq)
	val, err := l.db.Get(entryKey)
	if errors.Is(err, pebble.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("pebblelog: failed to read envelope %s: %w", id, err)
	}

	payload, ok := decodeRecord(val)
	if !ok {
		return false, fmt.Errorf("pebblelog: corrupt record for envelope %s", id)
	}
	var env contracts.Envelope
	if err := json.Unmarshal(payload, &env); err != nil {
		return false, fmt.Errorf("pebblelog: failed to decode envelope %s: %w", id, err)
	}

	if env.Header.Claimed() {
		return false, nil
	}

	ack := at
	env.Header.AcknowledgedAt = &ack
	env.Header.RetryCount++

	updated, err := json.Marshal(&env)
	if err != nil {
		return false, fmt.Errorf("pebblelog: failed to encode claimed envelope %s: %w", id, err)
	}
	if err := l.db.Set(entryKey, encodeRecord(updated), syncFor(env.Header.QoS)); err != nil {
		return false, fmt.Errorf("pebblelog: failed to write claim for envelope %s: %w", id, err)
	}
	return true, nil
}

// Scan implements messaging.Store.
func (l *Log) Scan(ctx context.Context, filter messaging.Filter, cursor string, limit int) ([]messaging.Record, string, error) {
	if err := ctx.Err(); err != nil {
		return nil, cursor, err
	}

	after, err := parseCursor(cursor)
	if err != nil {
		return nil, cursor, fmt.Errorf("pebblelog: invalid cursor %q: %w", cursor, err)
	}

	iter, err := l.db.NewIter(&pebble.IterOptions{
		LowerBound: keyEntry(l.name, after+1),
		UpperBound: append(keyEntry(l.name, ^uint64(0)), 0x00),
	})
	if err != nil {
		return nil, cursor, fmt.Errorf("pebblelog: failed to open iterator: %w", err)
	}
	defer iter.Close()

	var records []messaging.Record
	next := cursor
	for ok := iter.First(); ok; ok = iter.Next() {
		seq := entrySeq(iter.Key())
		next = formatCursor(seq)

		payload, valid := decodeRecord(iter.Value())
		if !valid {
			// Corrupt frame, skip it.
			continue
		}
		var env contracts.Envelope
		if err := json.Unmarshal(payload, &env); err != nil {
			continue
		}
		if !filter.Match(&env) {
			continue
		}

		records = append(records, messaging.Record{
			Cursor:   formatCursor(seq),
			Envelope: &env,
		})
		if limit > 0 && len(records) >= limit {
			break
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
	var stats messaging.Stats
	cursor := ""
	for {
		records, next, err := l.Scan(ctx, messaging.Filter{}, cursor, 256)
		if err != nil {
			return messaging.Stats{}, err
		}
		for _, rec := range records {
			stats.Entries++
			if !rec.Envelope.Header.Claimed() {
				stats.Unclaimed++
			}
		}
		if len(records) == 0 {
			return stats, nil
		}
		cursor = next
	}
}

// Close implements messaging.Store. The shared DB handle is owned and closed
// by the queue that opened it.
func (l *Log) Close() error {
	return nil
}

func syncFor(qos contracts.QoS) bool {
	return qos != contracts.QoSNormal
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
