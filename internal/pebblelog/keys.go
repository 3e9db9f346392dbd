package pebblelog

import (
	"encoding/binary"
)

// Keyspace helpers for Pebble keys.
//
// Layout (byte-wise, lexicographically sortable):
// - q/{name}/m
// - q/{name}/e/{seq_be8}
// - q/{name}/i/{id}

var (
	qPrefix    = []byte("q/")
	metaSuffix = []byte("/m")
	entrySeg   = []byte("/e/")
	indexSeg   = []byte("/i/")
)

func appendBE8(dst []byte, v uint64) []byte {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	return append(dst, b[:]...)
}

// keyMeta builds the log metadata key.
func keyMeta(name string) []byte {
	k := make([]byte, 0, len(name)+8)
	k = append(k, qPrefix...)
	k = append(k, name...)
	k = append(k, metaSuffix...)
	return k
}

// keyEntry builds the entry key with a big-endian sequence for proper ordering.
func keyEntry(name string, seq uint64) []byte {
	k := make([]byte, 0, len(name)+16)
	k = append(k, qPrefix...)
	k = append(k, name...)
	k = append(k, entrySeg...)
	k = appendBE8(k, seq)
	return k
}

// keyIndex builds the envelope-id index key used by Claim.
func keyIndex(name, id string) []byte {
	k := make([]byte, 0, len(name)+len(id)+8)
	k = append(k, qPrefix...)
	k = append(k, name...)
	k = append(k, indexSeg...)
	k = append(k, id...)
	return k
}

// entrySeq extracts the sequence from an entry key.
func entrySeq(key []byte) uint64 {
	return binary.BigEndian.Uint64(key[len(key)-8:])
}
