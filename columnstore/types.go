// Package columnstore implements the schema, wire types, and an embedded
// goleveldb-backed server for the replicated column store that the
// filesystem store (package store) depends on. The RPC surface mirrors the
// spec's abstracted column-store contract (get/insert/batch_mutate/remove/
// get_indexed_slices/get_sub_block/describe_keys plus schema introspection);
// any backend exposing the same semantics could stand in for this one
// without changing package store.
package columnstore

// ConsistencyLevel is the per-operation consistency level requested of the
// column store.
type ConsistencyLevel int

const (
	ConsistencyOne ConsistencyLevel = iota
	ConsistencyQuorum
	ConsistencyLocalQuorum
)

func (c ConsistencyLevel) String() string {
	switch c {
	case ConsistencyOne:
		return "ONE"
	case ConsistencyQuorum:
		return "QUORUM"
	case ConsistencyLocalQuorum:
		return "LOCAL_QUORUM"
	default:
		return "UNKNOWN"
	}
}

// Pool selects one of the two independent schema triples that share the
// same logical model: "regular" (frequent compaction) or "archive"
// (compaction disabled). Pool selection is static per store instance,
// driven by the URI scheme.
type Pool int

const (
	PoolRegular Pool = iota
	PoolArchive
)

func (p Pool) String() string {
	if p == PoolArchive {
		return "archive"
	}
	return "regular"
}

// InodeColumnFamily returns the name of the inode column family for p.
func (p Pool) InodeColumnFamily() string {
	if p == PoolArchive {
		return "inode_archive"
	}
	return "inode"
}

// SubBlockColumnFamily returns the name of the sblocks column family for p.
func (p Pool) SubBlockColumnFamily() string {
	if p == PoolArchive {
		return "sblocks_archive"
	}
	return "sblocks"
}

// Well-known column names on the inode* column families.
const (
	ColumnPath       = "path"
	ColumnParentPath = "parent_path"
	ColumnSentinel   = "sentinel"
	ColumnData       = "data"
)

// SentinelValue is the constant value stored in the sentinel column. Every
// inode row carries it so that a secondary-index query that otherwise has
// only range predicates can still supply the equality predicate the index
// API requires.
const SentinelValue = "x"

// MutationKind tags a Mutation with which of its fields is meaningful.
type MutationKind uint8

const (
	MutationSetColumn MutationKind = iota
	MutationSetSuperColumn
	MutationDelete
)

// Column is a single (name, value, timestamp) triple.
type Column struct {
	Name      []byte
	Value     []byte
	Timestamp int64
}

// SuperColumn groups named columns under a single super-column name. The
// store never writes super-columns today, but the mutation variant carries
// the case so that batch_mutate's shape matches the RPC surface's
// tagged-union mutation type in full, not just the subset this store
// exercises.
type SuperColumn struct {
	Name    []byte
	Columns []Column
}

// Mutation is a tagged variant over three cases: set a column, set a
// super-column, or delete. Kind selects which fields are meaningful: Column
// for MutationSetColumn, SuperColumn for MutationSetSuperColumn, and the
// Delete* fields for MutationDelete.
type Mutation struct {
	Kind            MutationKind
	Column          *Column
	SuperColumn     *SuperColumn
	DeleteColumn    []byte // optional: name of a single column to delete; empty deletes the whole row
	DeleteTimestamp int64
}
