package codec

import (
	"sync"

	"github.com/golang/snappy"
)

// CompressionContext holds a pair of reusable buffers for snappy
// compression and decompression. Both buffers grow lazily to fit the
// largest sub-block seen by this context and are never shrunk.
//
// A slice returned by Compress or Decompress is valid only until the next
// call on the same context; callers that need to retain the bytes must copy
// them. Calls are serialized internally by a mutex (spec §5: "All
// operations that touch these buffers ... execute under a single mutex
// guarding that instance's buffer pair"); callers wanting more parallelism
// should use one CompressionContext per operation rather than share one.
type CompressionContext struct {
	mu              sync.Mutex
	compressedBuf   []byte
	uncompressedBuf []byte
}

// NewCompressionContext returns an empty compression context. Buffers are
// allocated on first use.
func NewCompressionContext() *CompressionContext {
	return &CompressionContext{}
}

// Compress snappy-compresses input and returns a slice of c's internal
// compressed buffer. The returned slice is only valid until the next call
// on c.
func (c *CompressionContext) Compress(input []byte) []byte {
	c.mu.Lock()
	defer c.mu.Unlock()

	maxLen := snappy.MaxEncodedLen(len(input))
	if cap(c.compressedBuf) < maxLen {
		c.compressedBuf = make([]byte, maxLen)
	}

	out := snappy.Encode(c.compressedBuf[:cap(c.compressedBuf)], input)
	c.compressedBuf = out
	return out
}

// Decompress reverses Compress. If input is not a valid snappy frame it is
// returned unchanged, to support legacy sub-blocks written before
// compression was introduced. The returned slice is only valid until the
// next call on c.
func (c *CompressionContext) Decompress(input []byte) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if input == nil {
		return nil, ErrNilBuffer
	}

	decodedLen, err := snappy.DecodedLen(input)
	if err != nil {
		// Not a recognizable snappy frame: treat as an uncompressed legacy
		// sub-block and hand the bytes back verbatim.
		return input, nil
	}

	if cap(c.uncompressedBuf) < decodedLen {
		c.uncompressedBuf = make([]byte, decodedLen)
	}

	out, err := snappy.Decode(c.uncompressedBuf[:cap(c.uncompressedBuf)], input)
	if err != nil {
		// Corrupt framing that passed the cheap DecodedLen check: fall back
		// to verbatim, matching the same back-compat contract.
		return input, nil
	}

	c.uncompressedBuf = out
	return out, nil
}
