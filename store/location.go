package store

import (
	"context"
	"fmt"

	"distfs/codec"
	"distfs/columnstore"
	"distfs/inode"
)

// Location is the resolved placement of one block: the hostnames of every
// endpoint holding a replica, the block's offset (clamped up to the
// requested start for the first block), and the block's full length.
type Location struct {
	Hosts  []string
	Offset uint64
	Length uint64
}

// GetBlockLocation resolves endpoint hostnames for every block in blocks
// with a single batched discovery RPC, clamping the first block's offset
// up to start so callers can split input ranges precisely at byte
// boundaries.
func (s *Store) GetBlockLocation(ctx context.Context, blocks []inode.Block, start, length uint64) ([]Location, error) {
	if len(blocks) == 0 {
		return nil, nil
	}

	rowKeys := make([]string, len(blocks))
	for i, b := range blocks {
		rowKeys[i] = codec.UUIDKey(b.ID)
	}

	reply, err := s.client.DescribeKeys(ctx, &columnstore.DescribeKeysArgs{RowKeys: rowKeys})
	if err != nil {
		return nil, fmt.Errorf("store: getBlockLocation: %w", err)
	}
	if len(reply.Endpoints) != len(blocks) {
		return nil, fmt.Errorf("store: getBlockLocation: endpoint count %d does not match block count %d", len(reply.Endpoints), len(blocks))
	}

	locations := make([]Location, len(blocks))
	for i, b := range blocks {
		offset := b.Offset
		if i == 0 && start > offset {
			offset = start
		}
		locations[i] = Location{Hosts: reply.Endpoints[i], Offset: offset, Length: b.Length}
	}
	return locations, nil
}
