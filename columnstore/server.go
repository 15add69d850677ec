package columnstore

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"

	"github.com/syndtr/goleveldb/leveldb"

	log "github.com/sirupsen/logrus"
)

// Service is the embedded, single-node stand-in for the replicated column
// store: everything the store package can reach through the RPC surface,
// backed by a single goleveldb database. It has no notion of replication
// or consistency beyond accepting (and ignoring) a ConsistencyLevel;
// there is exactly one copy of the data, so every level is trivially
// satisfied.
type Service struct {
	mu       sync.Mutex
	db       *leveldb.DB
	local    *LocalBlockStore
	hostname string
	keyspace *KeyspaceDef
}

// NewService opens (creating if needed) a goleveldb database at dbPath and
// a local block mirror rooted at blocksPath, both typically under the same
// data directory. hostname is the value GetSubBlock compares its callers'
// locality hints against.
func NewService(dbPath, blocksPath, hostname string) (*Service, error) {
	db, err := leveldb.OpenFile(dbPath, nil)
	if err != nil {
		return nil, fmt.Errorf("columnstore: opening leveldb at %s: %w", dbPath, err)
	}
	local, err := NewLocalBlockStore(blocksPath)
	if err != nil {
		db.Close()
		return nil, err
	}
	return &Service{db: db, local: local, hostname: hostname}, nil
}

// Close releases the underlying database handle.
func (s *Service) Close() error {
	return s.db.Close()
}

func rowDataKey(cf, rowKey, column string) []byte {
	return []byte("row/" + cf + "/" + rowKey + "/" + column)
}

func encodeCell(timestamp int64, value []byte) []byte {
	buf := make([]byte, 8+len(value))
	binary.BigEndian.PutUint64(buf[:8], uint64(timestamp))
	copy(buf[8:], value)
	return buf
}

func decodeCell(raw []byte) (timestamp int64, value []byte) {
	if len(raw) < 8 {
		return 0, nil
	}
	return int64(binary.BigEndian.Uint64(raw[:8])), raw[8:]
}

// Get implements single-column point lookup.
func (s *Service) Get(args *GetArgs, reply *GetReply) error {
	raw, err := s.db.Get(rowDataKey(args.ColumnFamily, args.RowKey, args.Column), nil)
	if err == leveldb.ErrNotFound {
		reply.Found = false
		return nil
	}
	if err != nil {
		return fmt.Errorf("columnstore: get %s/%s/%s: %w", args.ColumnFamily, args.RowKey, args.Column, err)
	}
	ts, value := decodeCell(raw)
	reply.Found = true
	reply.Value = value
	reply.Timestamp = ts
	return nil
}

// Insert implements a single-column write, expressed internally as a
// one-mutation batch so that index maintenance only has one code path.
func (s *Service) Insert(args *InsertArgs, reply *InsertReply) error {
	return s.applyMutations(args.RowKey, map[string][]Mutation{
		args.ColumnFamily: {{Kind: MutationSetColumn, Column: &args.Column}},
	})
}

// BatchMutate implements a row's worth of mutations, across one or more
// column families, as a single local write under the service lock.
func (s *Service) BatchMutate(args *BatchMutateArgs, reply *BatchMutateReply) error {
	return s.applyMutations(args.RowKey, args.Mutations)
}

func (s *Service) applyMutations(rowKey string, byCF map[string][]Mutation) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	batch := new(leveldb.Batch)
	for cf, mutations := range byCF {
		for _, m := range mutations {
			switch m.Kind {
			case MutationSetColumn:
				if err := s.stageSetColumn(batch, cf, rowKey, *m.Column); err != nil {
					return err
				}
			case MutationSetSuperColumn:
				for _, col := range m.SuperColumn.Columns {
					if err := s.stageSetColumn(batch, cf, rowKey, col); err != nil {
						return err
					}
				}
			case MutationDelete:
				if err := s.stageDelete(batch, cf, rowKey, string(m.DeleteColumn)); err != nil {
					return err
				}
			default:
				return fmt.Errorf("columnstore: unknown mutation kind %d", m.Kind)
			}
		}
	}
	return s.db.Write(batch, nil)
}

func (s *Service) stageSetColumn(batch *leveldb.Batch, cf, rowKey string, col Column) error {
	name := string(col.Name)
	batch.Put(rowDataKey(cf, rowKey, name), encodeCell(col.Timestamp, col.Value))

	if old, err := s.db.Get(rowDataKey(cf, rowKey, name), nil); err == nil {
		_, oldVal := decodeCell(old)
		if !bytes.Equal(oldVal, col.Value) {
			batch.Delete(indexKey(cf, name, string(oldVal), rowKey))
		}
	}
	batch.Put(indexKey(cf, name, string(col.Value), rowKey), nil)

	if cf == PoolRegular.SubBlockColumnFamily() || cf == PoolArchive.SubBlockColumnFamily() {
		if desc, err := s.local.Put(rowKey, name, col.Value); err != nil {
			log.Warnf("columnstore: mirroring sub-block %s/%s to local disk: %v", rowKey, name, err)
		} else {
			_ = desc
		}
	}
	return nil
}

func (s *Service) stageDelete(batch *leveldb.Batch, cf, rowKey, column string) error {
	if column == "" {
		iter := s.db.NewIterator(nil, nil)
		defer iter.Release()
		prefix := []byte("row/" + cf + "/" + rowKey + "/")
		for iter.Seek(prefix); iter.Valid() && bytes.HasPrefix(iter.Key(), prefix); iter.Next() {
			col := string(iter.Key()[len(prefix):])
			if err := s.stageDeleteColumn(batch, cf, rowKey, col); err != nil {
				return err
			}
		}
		return iter.Error()
	}
	return s.stageDeleteColumn(batch, cf, rowKey, column)
}

func (s *Service) stageDeleteColumn(batch *leveldb.Batch, cf, rowKey, column string) error {
	key := rowDataKey(cf, rowKey, column)
	raw, err := s.db.Get(key, nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return err
	}
	_, val := decodeCell(raw)
	batch.Delete(key)
	batch.Delete(indexKey(cf, column, string(val), rowKey))

	if cf == PoolRegular.SubBlockColumnFamily() || cf == PoolArchive.SubBlockColumnFamily() {
		if err := s.local.Delete(rowKey, column); err != nil {
			log.Warnf("columnstore: removing local mirror for %s/%s: %v", rowKey, column, err)
		}
	}
	return nil
}

// Remove implements single-column or whole-row delete.
func (s *Service) Remove(args *RemoveArgs, reply *RemoveReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	batch := new(leveldb.Batch)
	if err := s.stageDelete(batch, args.ColumnFamily, args.RowKey, args.Column); err != nil {
		return err
	}
	return s.db.Write(batch, nil)
}

// GetSubBlock returns a local descriptor when Hostname matches this
// service's configured hostname and the sub-block has a local mirror, and
// falls back to shipping the raw bytes otherwise. A sub-block that does not
// exist is reported by a reply carrying neither, not by an error.
func (s *Service) GetSubBlock(args *GetSubBlockArgs, reply *GetSubBlockReply) error {
	if args.Hostname != "" && args.Hostname == s.hostname {
		if desc := s.local.Descriptor(args.RowKey, args.Column); desc != nil {
			reply.Local = desc
			return nil
		}
	}

	raw, err := s.db.Get(rowDataKey(args.ColumnFamily, args.RowKey, args.Column), nil)
	if err == leveldb.ErrNotFound {
		return nil
	}
	if err != nil {
		return fmt.Errorf("columnstore: get_sub_block %s/%s: %w", args.RowKey, args.Column, err)
	}
	_, value := decodeCell(raw)
	reply.Remote = value
	return nil
}

// GetIndexedSlices runs a secondary-index query: a lower-bound (> or >=)
// expression on the "path" column, if present, selects the scan directly
// off the path index; otherwise the first equality expression does. Every remaining
// expression is re-checked against the row's actual stored values, the way
// a real secondary index's local filtering step would.
func (s *Service) GetIndexedSlices(args *GetIndexedSlicesArgs, reply *GetIndexedSlicesReply) error {
	if len(args.Expressions) == 0 {
		return fmt.Errorf("columnstore: get_indexed_slices requires at least one expression")
	}

	rowKeys, err := s.anchorScan(args.ColumnFamily, args.Expressions)
	if err != nil {
		return err
	}

	limit := args.RowLimit
	if limit <= 0 {
		limit = 100000
	}

	for _, rk := range rowKeys {
		if ok, err := s.rowMatches(args.ColumnFamily, rk, args.Expressions); err != nil {
			return err
		} else if !ok {
			continue
		}

		if len(reply.Rows) >= limit {
			reply.Truncated = true
			break
		}

		raw, err := s.db.Get(rowDataKey(args.ColumnFamily, rk, string(args.ProjectColumn)), nil)
		if err != nil {
			continue
		}
		_, value := decodeCell(raw)
		reply.Rows = append(reply.Rows, IndexedRow{RowKey: rk, Value: value})
	}
	return nil
}

func (s *Service) anchorScan(cf string, exprs []IndexExpression) ([]string, error) {
	for _, e := range exprs {
		if string(e.Column) == ColumnPath && (e.Op == IndexGT || e.Op == IndexGTE) {
			high := ""
			for _, other := range exprs {
				if string(other.Column) == ColumnPath && (other.Op == IndexLT || other.Op == IndexLTE) {
					high = string(other.Value)
				}
			}
			return scanRange(s.db, cf, ColumnPath, string(e.Value), high)
		}
	}
	for _, e := range exprs {
		if e.Op == IndexEQ {
			return scanEquality(s.db, cf, string(e.Column), string(e.Value))
		}
	}
	return nil, fmt.Errorf("columnstore: get_indexed_slices requires an equality or a path-range anchor expression")
}

func (s *Service) rowMatches(cf, rowKey string, exprs []IndexExpression) (bool, error) {
	for _, e := range exprs {
		raw, err := s.db.Get(rowDataKey(cf, rowKey, string(e.Column)), nil)
		if err == leveldb.ErrNotFound {
			return false, nil
		}
		if err != nil {
			return false, err
		}
		_, value := decodeCell(raw)
		if !matchesExpression(value, e) {
			return false, nil
		}
	}
	return true, nil
}

func matchesExpression(value []byte, e IndexExpression) bool {
	c := bytes.Compare(value, e.Value)
	switch e.Op {
	case IndexEQ:
		return c == 0
	case IndexGT:
		return c > 0
	case IndexGTE:
		return c >= 0
	case IndexLT:
		return c < 0
	case IndexLTE:
		return c <= 0
	default:
		return false
	}
}

// DescribeKeys reports this single embedded node as the sole endpoint for
// every requested row key.
func (s *Service) DescribeKeys(args *DescribeKeysArgs, reply *DescribeKeysReply) error {
	reply.Endpoints = make([][]string, len(args.RowKeys))
	for i := range args.RowKeys {
		reply.Endpoints[i] = []string{s.hostname}
	}
	return nil
}

// DescribeKeyspace reports the keyspace set via CreateKeyspace, if any.
func (s *Service) DescribeKeyspace(args *DescribeKeyspaceArgs, reply *DescribeKeyspaceReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.keyspace == nil || s.keyspace.Name != args.Name {
		reply.Found = false
		return nil
	}
	reply.Found = true
	reply.Keyspace = s.keyspace
	return nil
}

// CreateKeyspace records ks as this node's schema. The embedded service
// has no column family enforcement beyond this; any row/column can be
// written regardless of whether CreateKeyspace declared it, matching how a
// real column store only rejects unknown column families at the
// coordinator, never at the storage engine.
func (s *Service) CreateKeyspace(args *CreateKeyspaceArgs, reply *CreateKeyspaceReply) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.keyspace = args.Keyspace
	log.Infof("columnstore: created keyspace %q with %d column families", args.Keyspace.Name, len(args.Keyspace.ColumnFamilies))
	return nil
}

// WaitForSchemaAgreement always reports agreement: a single-node embedded
// service can never disagree with itself.
func (s *Service) WaitForSchemaAgreement(args *WaitForSchemaAgreementArgs, reply *WaitForSchemaAgreementReply) error {
	reply.Agreed = true
	return nil
}
