// Package pebblelog implements the bounded log store on Pebble.
//
// Each log occupies its own keyspace, lexicographically ordered so range
// scans walk entries in insertion order:
//   - q/{name}/m            (log metadata: lastSeq, firstSeq)
//   - q/{name}/e/{seq_be8}  (envelope records)
//   - q/{name}/i/{id}       (envelope id -> seq, used by Claim)
//
// Records are stored as: envelope JSON | crc32c. Entries whose checksum does
// not verify are skipped by scans.
//
// Several logs (for example a queue and its dead-letter counterpart) share
// one DB handle; the owner of the DB closes it.
//
// The QoS durability mapping for this single-node embedded backend: Normal
// commits without forcing a WAL sync, AtLeastOne and Majority both force the
// WAL sync, the strongest durability a local store can offer.
package pebblelog
