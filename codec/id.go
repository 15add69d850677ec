// Package codec implements the identifier and compression primitives shared
// by the inode and block-storage layers: deterministic row keys derived from
// paths and UUIDs, and the snappy compression context used on the block
// read/write paths.
package codec

import (
	"crypto/sha256"
	"encoding/hex"

	"github.com/google/uuid"
)

// PathKey derives the row key for an inode from its canonical path. Two equal
// paths always produce equal keys; distinct paths collide only with the
// (negligible) probability of a SHA-256 collision. The result is always
// exactly 64 lowercase hex digits (the fixed width of a SHA-256 digest),
// regardless of how many leading zero bytes the digest happens to have.
//
// The source system hashes paths with Cassandra's internal MD5-based
// FBUtilities.hashToBigInteger, which produces a fixed-width hex string by
// construction. We don't have that hash available, so this uses SHA-256
// hex-encoded directly from its raw bytes rather than round-tripped through
// big.Int.Text (which strips leading zero nibbles and would make the width
// vary with the digest's value); the contract (deterministic, evenly
// distributed, fixed-width, printable) is preserved even though the digest
// differs bit-for-bit from the source.
func PathKey(path string) string {
	sum := sha256.Sum256([]byte(path))
	return hex.EncodeToString(sum[:])
}

// UUIDKey returns the lowercase hex encoding of id's big-endian 16 bytes.
// Row and column names in the underlying store are ordered by raw byte
// value, and tooling expects printable keys, hence the hex encoding rather
// than the canonical dashed UUID string.
func UUIDKey(id uuid.UUID) string {
	return hex.EncodeToString(id[:])
}

// NewBlockID returns a new version-1 (time-based) UUID. Block and SubBlock
// identity must be time-ordered: sub-block columns within a "sblocks" row
// are ordered by column name, and that ordering is relied on to approximate
// write order (spec §3, "Schema of the sblocks* column family"). A random
// (version-4) UUID cannot provide that property.
func NewBlockID() (uuid.UUID, error) {
	return uuid.NewUUID()
}
