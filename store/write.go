package store

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"distfs/codec"
	"distfs/columnstore"
	"distfs/inode"
)

// StoreSubBlock compresses payload and writes it as the single column
// named sub.ID under the row for parentBlockID, in the sub-block column
// family selected by the store's pool.
func (s *Store) StoreSubBlock(ctx context.Context, parentBlockID uuid.UUID, sub *inode.SubBlock, payload []byte) error {
	compressed := s.compress.Compress(payload)
	// Copy out: the compression context's buffer is only valid until the
	// next call on this instance, and another writer may call Compress
	// before this RPC finishes encoding its arguments.
	owned := append([]byte(nil), compressed...)

	err := s.client.Insert(ctx, &columnstore.InsertArgs{
		RowKey:       codec.UUIDKey(parentBlockID),
		ColumnFamily: s.pool.SubBlockColumnFamily(),
		Column: columnstore.Column{
			Name:      []byte(codec.UUIDKey(sub.ID)),
			Value:     owned,
			Timestamp: time.Now().UnixMilli(),
		},
		Consistency: s.policy.Write(),
	})
	if err != nil {
		return fmt.Errorf("store: storeSubBlock(block=%s, sub=%s): %w", parentBlockID, sub.ID, err)
	}
	return nil
}

// StoreINode serializes node and writes its four columns (path, parent_path,
// sentinel, data) to the inode row for path, all at one timestamp, via a
// single batch_mutate. Callers must have already stored every sub-block
// node's blocks reference before calling this: a reader that observes the
// inode must be able to follow every block it lists.
func (s *Store) StoreINode(ctx context.Context, path string, node *inode.INode) error {
	data, err := node.Serialize()
	if err != nil {
		return fmt.Errorf("store: storeINode(%s): %w", path, err)
	}

	ts := time.Now().UnixMilli()
	rowKey := codec.PathKey(path)
	cf := s.pool.InodeColumnFamily()

	mutations := map[string][]columnstore.Mutation{
		cf: {
			{Kind: columnstore.MutationSetColumn, Column: &columnstore.Column{
				Name: []byte(columnstore.ColumnPath), Value: []byte(path), Timestamp: ts,
			}},
			{Kind: columnstore.MutationSetColumn, Column: &columnstore.Column{
				Name: []byte(columnstore.ColumnParentPath), Value: []byte(inode.ParentPath(path)), Timestamp: ts,
			}},
			{Kind: columnstore.MutationSetColumn, Column: &columnstore.Column{
				Name: []byte(columnstore.ColumnSentinel), Value: []byte(columnstore.SentinelValue), Timestamp: ts,
			}},
			{Kind: columnstore.MutationSetColumn, Column: &columnstore.Column{
				Name: []byte(columnstore.ColumnData), Value: data, Timestamp: ts,
			}},
		},
	}

	err = s.client.BatchMutate(ctx, &columnstore.BatchMutateArgs{
		RowKey:      rowKey,
		Mutations:   mutations,
		Consistency: s.policy.Write(),
	})
	if err != nil {
		return fmt.Errorf("store: storeINode(%s): %w", path, err)
	}
	return nil
}
