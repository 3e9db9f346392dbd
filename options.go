package redcapped

import (
	"log/slog"
	"time"

	"github.com/AppSpaceIT/RedCapped/contracts"
)

// config holds the settings shared by the queue factories and the client.
type config struct {
	logger            *slog.Logger
	capacity          int
	idleTimeout       time.Duration
	scanLimit         int
	defaultQoS        contracts.QoS
	defaultRetryLimit int
	replicaQuorum     int
}

func newConfig(options ...Option) *config {
	cfg := &config{
		logger:            slog.Default(),
		defaultQoS:        contracts.QoSNormal,
		defaultRetryLimit: 0, // 0 means use the publisher default
		replicaQuorum:     1,
	}
	for _, opt := range options {
		opt(cfg)
	}
	return cfg
}

// Option configures queue factories and the client.
type Option func(*config)

// WithLogger sets the logger for all components.
func WithLogger(logger *slog.Logger) Option {
	return func(cfg *config) {
		cfg.logger = logger
	}
}

// WithCapacity bounds the number of envelopes each log retains; the oldest
// entries are evicted once the bound is exceeded.
func WithCapacity(capacity int) Option {
	return func(cfg *config) {
		cfg.capacity = capacity
	}
}

// WithIdleTimeout sets how long subscription pollers block waiting for new
// appends before rescanning.
func WithIdleTimeout(timeout time.Duration) Option {
	return func(cfg *config) {
		cfg.idleTimeout = timeout
	}
}

// WithScanLimit sets the maximum batch size per subscription scan.
func WithScanLimit(limit int) Option {
	return func(cfg *config) {
		cfg.scanLimit = limit
	}
}

// WithDefaultQoS sets the durability level applied when a publish does not
// specify one.
func WithDefaultQoS(qos contracts.QoS) Option {
	return func(cfg *config) {
		cfg.defaultQoS = qos
	}
}

// WithDefaultRetryLimit sets the retry budget applied when a publish does not
// specify one.
func WithDefaultRetryLimit(limit int) Option {
	return func(cfg *config) {
		cfg.defaultRetryLimit = limit
	}
}

// WithReplicaQuorum sets the replica count a majority-QoS append waits for on
// the Redis backend. It has no effect on the embedded backends.
func WithReplicaQuorum(quorum int) Option {
	return func(cfg *config) {
		cfg.replicaQuorum = quorum
	}
}
