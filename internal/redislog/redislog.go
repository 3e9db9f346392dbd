// Package redislog implements the bounded log store on Redis Streams, for
// deployments where several processes share one queue.
//
// Layout per log:
//   - rcq:{name}:log  stream of envelope JSON, capacity-bounded via XADD MAXLEN
//   - rcq:{name}:ids  hash: envelope id -> stream entry id
//   - rcq:{name}:ack  hash: envelope id -> claim timestamp
//
// The claim runs as a Lua script so the check-and-set executes atomically
// server-side, across processes. Claim state lives in the ack hash rather
// than the stream, since stream entries are immutable; scans merge the two.
//
// QoS durability mapping: Normal returns once the primary accepts the XADD,
// AtLeastOne additionally issues WAIT for one replica, Majority issues WAIT
// for the configured replica quorum.
package redislog

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"sync/atomic"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/AppSpaceIT/RedCapped/contracts"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

// DefaultCapacity bounds a log when no capacity is configured.
const DefaultCapacity = 4096

// pruneEvery controls how often an append sweeps index entries whose stream
// records have been evicted by the capacity bound.
const pruneEvery = 64

// appendScript adds the envelope to the stream and records its id index in
// one atomic step, so no stream entry can exist without the index membership
// the claim script requires. Returns the assigned stream entry id.
var appendScript = redis.NewScript(`
local id = redis.call('XADD', KEYS[1], 'MAXLEN', '~', ARGV[1], '*', 'envelope', ARGV[2])
redis.call('HSET', KEYS[2], ARGV[3], id)
return id
`)

// claimScript is the atomic conditional update: iff the id is known and not
// yet acknowledged, record the claim timestamp. Returns 1 when this call
// modified the record, 0 otherwise.
var claimScript = redis.NewScript(`
if redis.call('HEXISTS', KEYS[2], ARGV[1]) == 0 then
  return 0
end
if redis.call('HEXISTS', KEYS[1], ARGV[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
return 1
`)

// Log provides the bounded log store over a Redis stream.
type Log struct {
	client     *redis.Client
	ownsClient bool
	stream     string
	idsKey     string
	ackKey     string
	capacity   int64
	quorum     int
	appends    atomic.Uint64
}

var _ messaging.Store = (*Log)(nil)

// Option configures the Log.
type Option func(*Log)

// WithReplicaQuorum sets the replica count WAIT requires for QoSMajority.
func WithReplicaQuorum(quorum int) Option {
	return func(l *Log) {
		l.quorum = quorum
	}
}

// New connects to Redis at addr and opens the log named name. The connection
// is verified with a fail-fast ping.
func New(addr, name string, capacity int, options ...Option) (*Log, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redislog: failed to connect to redis at %s: %w", addr, err)
	}

	l := NewWithClient(client, name, capacity, options...)
	l.ownsClient = true
	return l, nil
}

// NewWithClient opens the log named name over an existing client. The caller
// keeps ownership of the client.
func NewWithClient(client *redis.Client, name string, capacity int, options ...Option) *Log {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}

	l := &Log{
		client:   client,
		stream:   fmt.Sprintf("rcq:%s:log", name),
		idsKey:   fmt.Sprintf("rcq:%s:ids", name),
		ackKey:   fmt.Sprintf("rcq:%s:ack", name),
		capacity: int64(capacity),
		quorum:   1,
	}

	for _, opt := range options {
		opt(l)
	}

	return l
}

// Append implements messaging.Store.
func (l *Log) Append(ctx context.Context, env *contracts.Envelope, qos contracts.QoS) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("redislog: failed to encode envelope %s: %w", env.ID, err)
	}

	err = appendScript.Run(ctx, l.client, []string{l.stream, l.idsKey}, l.capacity, data, env.ID).Err()
	if err != nil {
		return fmt.Errorf("redislog: failed to append envelope %s: %w", env.ID, err)
	}

	switch qos {
	case contracts.QoSAtLeastOne:
		if err := l.client.Wait(ctx, 1, 5*time.Second).Err(); err != nil {
			return fmt.Errorf("redislog: replica acknowledgment failed for %s: %w", env.ID, err)
		}
	case contracts.QoSMajority:
		if err := l.client.Wait(ctx, l.quorum, 5*time.Second).Err(); err != nil {
			return fmt.Errorf("redislog: quorum acknowledgment failed for %s: %w", env.ID, err)
		}
	}

	if l.appends.Add(1)%pruneEvery == 0 {
		l.pruneIndexes(ctx)
	}

	return nil
}

// Claim implements messaging.Store.
func (l *Log) Claim(ctx context.Context, id string, at time.Time) (bool, error) {
	res, err := claimScript.Run(ctx, l.client, []string{l.ackKey, l.idsKey}, id, at.UTC().Format(time.RFC3339Nano)).Int()
	if err != nil {
		return false, fmt.Errorf("redislog: claim failed for envelope %s: %w", id, err)
	}
	return res == 1, nil
}

// Scan implements messaging.Store.
func (l *Log) Scan(ctx context.Context, filter messaging.Filter, cursor string, limit int) ([]messaging.Record, string, error) {
	batch := int64(limit)
	if batch <= 0 {
		batch = 64
	}

	start := "-"
	if cursor != "" {
		// Exclusive range resumes strictly after the cursor entry.
		start = "(" + cursor
	}

	msgs, err := l.client.XRangeN(ctx, l.stream, start, "+", batch).Result()
	if err != nil {
		return nil, cursor, fmt.Errorf("redislog: scan failed: %w", err)
	}
	if len(msgs) == 0 {
		return nil, cursor, nil
	}

	envs := make([]*contracts.Envelope, 0, len(msgs))
	ids := make([]string, 0, len(msgs))
	cursors := make([]string, 0, len(msgs))
	next := cursor
	for _, msg := range msgs {
		next = msg.ID
		raw, ok := msg.Values["envelope"].(string)
		if !ok {
			// Foreign entry in the stream, skip it.
			continue
		}
		var env contracts.Envelope
		if err := json.Unmarshal([]byte(raw), &env); err != nil {
			continue
		}
		envs = append(envs, &env)
		ids = append(ids, env.ID)
		cursors = append(cursors, msg.ID)
	}

	if len(envs) > 0 {
		// Merge claim state from the ack hash.
		acks, err := l.client.HMGet(ctx, l.ackKey, ids...).Result()
		if err != nil {
			return nil, cursor, fmt.Errorf("redislog: failed to load claim state: %w", err)
		}
		for i, ack := range acks {
			s, ok := ack.(string)
			if !ok {
				continue
			}
			at, err := time.Parse(time.RFC3339Nano, s)
			if err != nil {
				continue
			}
			envs[i].Header.AcknowledgedAt = &at
			envs[i].Header.RetryCount++
		}
	}

	var records []messaging.Record
	for i, env := range envs {
		if !filter.Match(env) {
			continue
		}
		records = append(records, messaging.Record{Cursor: cursors[i], Envelope: env})
	}
	return records, next, nil
}

// Wait implements messaging.Store. New entries appended between the caller's
// last scan and this call are missed by the "$" position; the idle timeout
// covers that window, it is a liveness bound rather than a wakeup guarantee.
func (l *Log) Wait(ctx context.Context, timeout time.Duration) bool {
	_, err := l.client.XRead(ctx, &redis.XReadArgs{
		Streams: []string{l.stream, "$"},
		Count:   1,
		Block:   timeout,
	}).Result()
	if err != nil {
		return false
	}
	return true
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
		if len(records) == 0 && next == cursor {
			return stats, nil
		}
		for _, rec := range records {
			stats.Entries++
			if !rec.Envelope.Header.Claimed() {
				stats.Unclaimed++
			}
		}
		cursor = next
	}
}

// Close implements messaging.Store.
func (l *Log) Close() error {
	if l.ownsClient {
		return l.client.Close()
	}
	return nil
}

// pruneIndexes drops ids/ack entries whose stream records were evicted by the
// capacity bound, keeping the hashes proportional to the stream. Best-effort;
// failures are ignored and retried on a later sweep.
func (l *Log) pruneIndexes(ctx context.Context) {
	head, err := l.client.XRangeN(ctx, l.stream, "-", "+", 1).Result()
	if err != nil || len(head) == 0 {
		return
	}

	all, err := l.client.HGetAll(ctx, l.idsKey).Result()
	if err != nil {
		return
	}

	var stale []string
	for id, streamID := range all {
		if streamIDLess(streamID, head[0].ID) {
			stale = append(stale, id)
		}
	}
	if len(stale) == 0 {
		return
	}
	_ = l.client.HDel(ctx, l.idsKey, stale...).Err()
	_ = l.client.HDel(ctx, l.ackKey, stale...).Err()
}

// streamIDLess compares two Redis stream entry ids ("ms-seq") numerically.
func streamIDLess(a, b string) bool {
	ams, aseq := splitStreamID(a)
	bms, bseq := splitStreamID(b)
	if ams != bms {
		return ams < bms
	}
	return aseq < bseq
}

func splitStreamID(id string) (int64, int64) {
	ms, seq, ok := strings.Cut(id, "-")
	if !ok {
		return 0, 0
	}
	msN, _ := strconv.ParseInt(ms, 10, 64)
	seqN, _ := strconv.ParseInt(seq, 10, 64)
	return msN, seqN
}
