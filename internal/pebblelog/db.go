package pebblelog

import (
	"errors"

	"github.com/cockroachdb/pebble"
)

// Options configures the Pebble store wrapper.
type Options struct {
	// DataDir is the path to the Pebble database directory.
	DataDir string
	// PebbleOptions allows advanced tuning of Pebble. If nil, sensible defaults are used.
	PebbleOptions *pebble.Options
}

// DB wraps a Pebble database instance shared by the logs of one queue.
type DB struct {
	inner *pebble.DB
}

// Open creates or opens a Pebble database with the provided options.
func Open(opts Options) (*DB, error) {
	if opts.DataDir == "" {
		return nil, errors.New("pebblelog: Options.DataDir is required")
	}

	po := opts.PebbleOptions
	if po == nil {
		po = &pebble.Options{}
	}

	inner, err := pebble.Open(opts.DataDir, po)
	if err != nil {
		return nil, err
	}
	return &DB{inner: inner}, nil
}

// Close closes the Pebble database.
func (db *DB) Close() error {
	if db == nil || db.inner == nil {
		return nil
	}
	return db.inner.Close()
}

// Get returns a copy of the value for key, or pebble.ErrNotFound.
func (db *DB) Get(key []byte) ([]byte, error) {
	val, closer, err := db.inner.Get(key)
	if err != nil {
		return nil, err
	}
	out := append([]byte(nil), val...)
	if err := closer.Close(); err != nil {
		return nil, err
	}
	return out, nil
}

// Set writes a single key, syncing the WAL when sync is true.
func (db *DB) Set(key, value []byte, sync bool) error {
	return db.inner.Set(key, value, writeOpts(sync))
}

// NewBatch creates a new batch for atomic multi-key updates.
func (db *DB) NewBatch() *pebble.Batch {
	return db.inner.NewBatch()
}

// CommitBatch commits a batch, syncing the WAL when sync is true.
func (db *DB) CommitBatch(b *pebble.Batch, sync bool) error {
	return b.Commit(writeOpts(sync))
}

// NewIter creates an iterator over the given bounds.
func (db *DB) NewIter(opts *pebble.IterOptions) (*pebble.Iterator, error) {
	return db.inner.NewIter(opts)
}

func writeOpts(sync bool) *pebble.WriteOptions {
	if sync {
		return pebble.Sync
	}
	return pebble.NoSync
}
