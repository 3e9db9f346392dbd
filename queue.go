package redcapped

import (
	"fmt"

	"github.com/AppSpaceIT/RedCapped/internal/memlog"
	"github.com/AppSpaceIT/RedCapped/internal/pebblelog"
	"github.com/AppSpaceIT/RedCapped/internal/redislog"
	"github.com/AppSpaceIT/RedCapped/messaging"
)

// Queue bundles a main log and its dead-letter log on one backend. The two
// logs share the backend connection; Close releases it.
type Queue struct {
	name       string
	log        messaging.Store
	deadLetter messaging.Store
	closer     func() error
}

// OpenQueue opens the named queue on an embedded Pebble database under
// dataDir, creating it if needed. The main log and the dead-letter log live
// in the same database.
func OpenQueue(dataDir, name string, options ...Option) (*Queue, error) {
	cfg := newConfig(options...)

	db, err := pebblelog.Open(pebblelog.Options{DataDir: dataDir})
	if err != nil {
		return nil, fmt.Errorf("failed to open queue database at %s: %w", dataDir, err)
	}

	log, err := pebblelog.NewLog(db, name, cfg.capacity)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open log %s: %w", name, err)
	}
	dlq, err := pebblelog.NewLog(db, name+".dlq", cfg.capacity)
	if err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to open dead-letter log %s: %w", name, err)
	}

	return &Queue{
		name:       name,
		log:        log,
		deadLetter: dlq,
		closer:     db.Close,
	}, nil
}

// OpenRedisQueue opens the named queue on a Redis server, for deployments
// where several processes share one queue.
func OpenRedisQueue(addr, name string, options ...Option) (*Queue, error) {
	cfg := newConfig(options...)

	log, err := redislog.New(addr, name, cfg.capacity,
		redislog.WithReplicaQuorum(cfg.replicaQuorum),
	)
	if err != nil {
		return nil, err
	}
	dlq, err := redislog.New(addr, name+".dlq", cfg.capacity,
		redislog.WithReplicaQuorum(cfg.replicaQuorum),
	)
	if err != nil {
		_ = log.Close()
		return nil, err
	}

	return &Queue{
		name:       name,
		log:        log,
		deadLetter: dlq,
		closer: func() error {
			logErr := log.Close()
			if dlqErr := dlq.Close(); dlqErr != nil {
				return dlqErr
			}
			return logErr
		},
	}, nil
}

// OpenMemoryQueue opens an in-memory queue. State is lost on process exit;
// intended for tests and embedded tooling.
func OpenMemoryQueue(name string, options ...Option) *Queue {
	cfg := newConfig(options...)
	return &Queue{
		name:       name,
		log:        memlog.NewLog(cfg.capacity),
		deadLetter: memlog.NewLog(cfg.capacity),
	}
}

// NewQueue builds a queue over caller-provided stores. The caller keeps
// ownership of the stores; Close does not touch them.
func NewQueue(name string, log, deadLetter messaging.Store) *Queue {
	return &Queue{
		name:       name,
		log:        log,
		deadLetter: deadLetter,
	}
}

// Name returns the queue name.
func (q *Queue) Name() string {
	return q.name
}

// Log returns the main log store.
func (q *Queue) Log() messaging.Store {
	return q.log
}

// DeadLetter returns the dead-letter log store.
func (q *Queue) DeadLetter() messaging.Store {
	return q.deadLetter
}

// Close releases the backend connection shared by the queue's logs.
func (q *Queue) Close() error {
	if q.closer == nil {
		return nil
	}
	return q.closer()
}
