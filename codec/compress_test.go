package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCompressDecompressRoundTrip(t *testing.T) {
	c := NewCompressionContext()

	input := bytes.Repeat([]byte("the quick brown fox jumps over the lazy dog"), 1000)

	compressed := c.Compress(input)
	// A copy is required: the next Decompress call reuses the same buffer.
	compressedCopy := append([]byte(nil), compressed...)

	out, err := c.Decompress(compressedCopy)
	require.NoError(t, err)
	require.Equal(t, input, out)
}

func TestDecompressFallsBackOnInvalidFrame(t *testing.T) {
	c := NewCompressionContext()

	legacy := []byte("not a snappy frame, just raw legacy bytes")
	out, err := c.Decompress(legacy)
	require.NoError(t, err)
	require.Equal(t, legacy, out)
}

func TestDecompressNilBuffer(t *testing.T) {
	c := NewCompressionContext()
	_, err := c.Decompress(nil)
	require.ErrorIs(t, err, ErrNilBuffer)
}

func TestCompressBufferGrowsAndIsReused(t *testing.T) {
	c := NewCompressionContext()

	small := []byte("abc")
	large := bytes.Repeat([]byte("z"), 1<<20)

	_ = c.Compress(small)
	firstCap := cap(c.compressedBuf)

	_ = c.Compress(large)
	grownCap := cap(c.compressedBuf)
	require.Greater(t, grownCap, firstCap)

	_ = c.Compress(small)
	require.Equal(t, grownCap, cap(c.compressedBuf))
}
