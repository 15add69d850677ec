package store

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"distfs/codec"
	"distfs/columnstore"
	"distfs/inode"
)

// ErrNotFound is returned by RetrieveSubBlock and RetrieveBlock when the
// column store has no data for the requested sub-block.
var ErrNotFound = fmt.Errorf("store: not found")

// RetrieveINode looks up the inode stored at path. Absence is reported via
// the boolean return, never as an error. The lookup first tries the cheap
// ONE consistency level; only on a miss does it retry at the configured
// read level, per the store's read-repair policy for metadata.
func (s *Store) RetrieveINode(ctx context.Context, path string) (*inode.INode, bool, error) {
	rowKey := codec.PathKey(path)

	for _, level := range s.policy.InodeReadEscalation() {
		result, err, _ := s.inflight.Do(fmt.Sprintf("inode:%s:%d", rowKey, level), func() (any, error) {
			return s.client.Get(ctx, &columnstore.GetArgs{
				RowKey:       rowKey,
				ColumnFamily: s.pool.InodeColumnFamily(),
				Column:       columnstore.ColumnData,
				Consistency:  level,
			})
		})
		if err != nil {
			return nil, false, fmt.Errorf("store: retrieveINode(%s): %w", path, err)
		}

		reply := result.(*columnstore.GetReply)
		if !reply.Found {
			continue
		}

		node, err := inode.Deserialize(reply.Value, time.UnixMilli(reply.Timestamp).UTC())
		if err != nil {
			return nil, false, fmt.Errorf("store: retrieveINode(%s): corrupt inode blob: %w", path, err)
		}
		node.Path = path
		return node, true, nil
	}

	return nil, false, nil
}

// DeleteINode removes every column of the inode row at path.
func (s *Store) DeleteINode(ctx context.Context, path string) error {
	rowKey := codec.PathKey(path)
	err := s.client.Remove(ctx, &columnstore.RemoveArgs{
		RowKey:       rowKey,
		ColumnFamily: s.pool.InodeColumnFamily(),
		Consistency:  s.policy.Write(),
	})
	if err != nil {
		return fmt.Errorf("store: deleteINode(%s): %w", path, err)
	}
	return nil
}

// DeleteSubBlocks removes every sub-block column belonging to every block
// of node. Callers call this before DeleteINode; it leaves the inode row in
// place, so a reader that retrieves the inode between the two calls finds
// its sub-blocks already gone.
func (s *Store) DeleteSubBlocks(ctx context.Context, node *inode.INode) error {
	cf := s.pool.SubBlockColumnFamily()
	for _, block := range node.Blocks {
		rowKey := codec.UUIDKey(block.ID)
		err := s.client.Remove(ctx, &columnstore.RemoveArgs{
			RowKey:       rowKey,
			ColumnFamily: cf,
			Consistency:  s.policy.Write(),
		})
		if err != nil {
			return fmt.Errorf("store: deleteSubBlocks: block %s: %w", rowKey, err)
		}
	}
	return nil
}

// RetrieveSubBlock fetches and decompresses a single sub-block, returning a
// reader positioned byteOffset bytes into the decompressed payload.
func (s *Store) RetrieveSubBlock(ctx context.Context, block *inode.Block, sub *inode.SubBlock, byteOffset uint64) (io.ReadCloser, error) {
	compressed, err := s.fetchSubBlockBytes(ctx, block, sub)
	if err != nil {
		return nil, err
	}

	decompressed, err := s.compress.Decompress(compressed)
	if err != nil {
		return nil, fmt.Errorf("store: retrieveSubBlock: %w", err)
	}
	// Decompress's buffer is only valid until the context's next call; copy
	// out before releasing the lock implicit in that call returning.
	owned := append([]byte(nil), decompressed...)

	if byteOffset > uint64(len(owned)) {
		return nil, fmt.Errorf("store: retrieveSubBlock: byte offset %d beyond payload length %d", byteOffset, len(owned))
	}
	return io.NopCloser(bytes.NewReader(owned[byteOffset:])), nil
}

// fetchSubBlockBytes retrieves the raw compressed bytes for sub, preferring
// a local memory-mapped read when the column store reports a local-block
// descriptor for this node's hostname.
func (s *Store) fetchSubBlockBytes(ctx context.Context, block *inode.Block, sub *inode.SubBlock) ([]byte, error) {
	rowKey := codec.UUIDKey(block.ID)
	column := codec.UUIDKey(sub.ID)

	reply, err := s.client.GetSubBlock(ctx, &columnstore.GetSubBlockArgs{
		Hostname:     s.localBlockHost,
		RowKey:       rowKey,
		Column:       column,
		ColumnFamily: s.pool.SubBlockColumnFamily(),
		Consistency:  s.policy.Read(),
	})
	if err != nil {
		return nil, fmt.Errorf("store: get_sub_block %s/%s: %w", rowKey, column, err)
	}

	if reply.Local != nil {
		return readLocalBlock(reply.Local)
	}
	if reply.Remote == nil {
		return nil, fmt.Errorf("%w: sub-block %s/%s", ErrNotFound, rowKey, column)
	}
	return reply.Remote, nil
}

// readLocalBlock memory-maps the exact extent desc describes and copies it
// out, unmapping deterministically before returning rather than leaving the
// mapping open for a finalizer to eventually release.
func readLocalBlock(desc *columnstore.LocalBlockDescriptor) ([]byte, error) {
	f, err := os.Open(desc.FilePath)
	if err != nil {
		return nil, fmt.Errorf("store: corruption: local block file %s missing: %w", desc.FilePath, err)
	}
	defer f.Close()

	pageSize := int64(os.Getpagesize())
	alignedOffset := desc.Offset - desc.Offset%pageSize
	mapLength := desc.Length + (desc.Offset - alignedOffset)

	mapping, err := unix.Mmap(int(f.Fd()), alignedOffset, int(mapLength), unix.PROT_READ, unix.MAP_SHARED)
	if err != nil {
		return nil, fmt.Errorf("store: mmap %s: %w", desc.FilePath, err)
	}
	defer unix.Munmap(mapping)

	start := desc.Offset - alignedOffset
	out := make([]byte, desc.Length)
	copy(out, mapping[start:start+desc.Length])
	return out, nil
}

// RetrieveBlock returns a reader over a whole block's content starting at
// offset bytes into the block, lazily chaining across the block's
// sub-blocks in order. The first sub-block touched is read starting at its
// own internal offset; every subsequent one is read from its beginning.
func (s *Store) RetrieveBlock(ctx context.Context, block *inode.Block, offset uint64) (io.ReadCloser, error) {
	startIdx := -1
	var innerOffset uint64
	for i, sub := range block.SubBlocks {
		if offset >= sub.Offset && offset < sub.Offset+sub.Length {
			startIdx = i
			innerOffset = offset - sub.Offset
			break
		}
	}
	if startIdx < 0 {
		if offset == block.Length && len(block.SubBlocks) > 0 {
			return io.NopCloser(bytes.NewReader(nil)), nil
		}
		return nil, fmt.Errorf("store: retrieveBlock: offset %d out of range for block %s (length %d)", offset, block.ID, block.Length)
	}

	return &blockReader{
		ctx:         ctx,
		store:       s,
		block:       block,
		idx:         startIdx,
		nextOffset:  innerOffset,
	}, nil
}

// blockReader lazily opens one sub-block stream at a time as Read drains
// the current one, so that a caller reading only the first few bytes of a
// large block never fetches sub-blocks it doesn't need.
type blockReader struct {
	ctx        context.Context
	store      *Store
	block      *inode.Block
	idx        int
	nextOffset uint64
	current    io.ReadCloser
}

func (r *blockReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if r.idx >= len(r.block.SubBlocks) {
				return 0, io.EOF
			}
			sub := r.block.SubBlocks[r.idx]
			reader, err := r.store.RetrieveSubBlock(r.ctx, r.block, &sub, r.nextOffset)
			if err != nil {
				return 0, err
			}
			r.current = reader
			r.idx++
			r.nextOffset = 0
		}

		n, err := r.current.Read(p)
		if n > 0 {
			return n, nil
		}
		if err == io.EOF {
			r.current.Close()
			r.current = nil
			continue
		}
		if err != nil {
			return 0, err
		}
	}
}

func (r *blockReader) Close() error {
	if r.current != nil {
		return r.current.Close()
	}
	return nil
}
