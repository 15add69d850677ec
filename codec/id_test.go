package codec

import (
	"encoding/hex"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestPathKeyDeterministic(t *testing.T) {
	k1 := PathKey("/mytestdir/testfile")
	k2 := PathKey("/mytestdir/testfile")
	require.Equal(t, k1, k2)
}

func TestPathKeyDistinctPaths(t *testing.T) {
	require.NotEqual(t, PathKey("/a"), PathKey("/b"))
}

// TestPathKeyFixedWidth guards against round-tripping the digest through
// big.Int.Text, which strips leading zero nibbles and would make the key's
// length vary with the digest's value instead of staying at the SHA-256
// digest's fixed width of 64 hex digits.
func TestPathKeyFixedWidth(t *testing.T) {
	paths := []string{
		"/", "/a", "/mytestdir/testfile", "", "/a/b/c/d/e/f",
		"/some/very/long/path/that/keeps/going/and/going/and/going",
	}
	for _, p := range paths {
		key := PathKey(p)
		require.Len(t, key, 64, "PathKey(%q) must always be 64 hex digits wide", p)
		_, err := hex.DecodeString(key)
		require.NoError(t, err, "PathKey(%q) must be valid hex", p)
	}
}

func TestUUIDKeyIsLowercaseHex(t *testing.T) {
	id := uuid.MustParse("00000000-0000-1000-8000-000000000001")
	key := UUIDKey(id)
	require.Len(t, key, 32)
	require.Equal(t, "00000000000010008000000000000001", key)
}

func TestNewBlockIDIsVersion1(t *testing.T) {
	id, err := NewBlockID()
	require.NoError(t, err)
	require.Equal(t, uuid.Version(1), id.Version())
}
