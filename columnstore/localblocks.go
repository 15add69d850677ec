package columnstore

import (
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"

	log "github.com/sirupsen/logrus"
)

// LocalBlockStore mirrors, on local disk, every sub-block column this
// process's embedded column-store node holds, so that GetSubBlock can hand
// back a LocalBlockDescriptor instead of a byte payload when the requesting
// hostname matches this node. Files are sharded into subdirectories keyed
// on the first bytes of the row key, the same layout the flat block store
// this is adapted from uses, so that no single directory ends up with an
// unbounded number of entries.
type LocalBlockStore struct {
	basePath string
}

// NewLocalBlockStore creates (if needed) basePath and returns a store
// rooted there.
func NewLocalBlockStore(basePath string) (*LocalBlockStore, error) {
	if err := os.MkdirAll(basePath, 0o755); err != nil {
		return nil, fmt.Errorf("columnstore: creating local block directory %s: %w", basePath, err)
	}
	return &LocalBlockStore{basePath: basePath}, nil
}

func (s *LocalBlockStore) shardDir(rowKey string) string {
	shard := rowKey
	if len(shard) > 4 {
		shard = shard[:4]
	}
	return filepath.Join(s.basePath, shard)
}

func (s *LocalBlockStore) filePath(rowKey, column string) string {
	return filepath.Join(s.shardDir(rowKey), hex.EncodeToString([]byte(column))+".sblock")
}

// Put writes data for (rowKey, column) to disk and returns the descriptor a
// co-located caller can use to read it back directly.
func (s *LocalBlockStore) Put(rowKey, column string, data []byte) (*LocalBlockDescriptor, error) {
	dir := s.shardDir(rowKey)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("columnstore: creating shard directory %s: %w", dir, err)
	}

	path := s.filePath(rowKey, column)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return nil, fmt.Errorf("columnstore: writing local block file %s: %w", path, err)
	}

	return &LocalBlockDescriptor{FilePath: path, Offset: 0, Length: int64(len(data))}, nil
}

// Delete removes the on-disk mirror for (rowKey, column), if present.
func (s *LocalBlockStore) Delete(rowKey, column string) error {
	path := s.filePath(rowKey, column)
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return fmt.Errorf("columnstore: deleting local block file %s: %w", path, err)
	}
	return nil
}

// Descriptor returns the descriptor for an already-written (rowKey, column)
// pair without touching disk beyond a Stat, or nil if it was never written
// locally.
func (s *LocalBlockStore) Descriptor(rowKey, column string) *LocalBlockDescriptor {
	path := s.filePath(rowKey, column)
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			log.Warnf("columnstore: stat local block file %s: %v", path, err)
		}
		return nil
	}
	return &LocalBlockDescriptor{FilePath: path, Offset: 0, Length: info.Size()}
}
