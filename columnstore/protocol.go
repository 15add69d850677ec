package columnstore

// This file defines the request/reply pairs for every method the embedded
// column-store service exposes over rpc.Server/rpc.Client. Each pair mirrors
// one operation of the abstracted column-store RPC surface (get, insert,
// batch_mutate, remove, get_indexed_slices, get_sub_block, describe_keys,
// plus schema introspection).

// GetArgs requests a single column's value from a single row.
type GetArgs struct {
	RowKey       string
	ColumnFamily string
	Column       string
	Consistency  ConsistencyLevel
}

// GetReply carries the column's value if found. Absence is reported by
// Found == false, never by an error: a missing row or column is an
// ordinary outcome of Get, not a failure of the RPC.
type GetReply struct {
	Found     bool
	Value     []byte
	Timestamp int64
}

// InsertArgs writes a single column in a single row.
type InsertArgs struct {
	RowKey       string
	ColumnFamily string
	Column       Column
	Consistency  ConsistencyLevel
}

type InsertReply struct{}

// BatchMutateArgs applies a set of mutations to one row, across one or more
// column families, as a single atomic local write.
type BatchMutateArgs struct {
	RowKey      string
	Mutations   map[string][]Mutation // column family name -> mutations
	Consistency ConsistencyLevel
}

type BatchMutateReply struct{}

// RemoveArgs deletes either a single named column, or (when Column == "")
// the entire row, from one column family.
type RemoveArgs struct {
	RowKey       string
	ColumnFamily string
	Column       string
	Timestamp    int64
	Consistency  ConsistencyLevel
}

type RemoveReply struct{}

// IndexOperator is a secondary-index predicate's comparison operator.
type IndexOperator int

const (
	IndexEQ IndexOperator = iota
	IndexGT
	IndexGTE
	IndexLT
	IndexLTE
)

// IndexExpression is one predicate of a secondary-index query. At least one
// expression in a query must be IndexEQ; the remainder may be range
// comparisons, matching the column store's requirement that every indexed
// query anchor on an equality predicate.
type IndexExpression struct {
	Column []byte
	Op     IndexOperator
	Value  []byte
}

// GetIndexedSlicesArgs runs a secondary-index query against a column
// family, returning at most RowLimit rows, projecting ProjectColumn out of
// each matching row.
type GetIndexedSlicesArgs struct {
	ColumnFamily  string
	Expressions   []IndexExpression
	ProjectColumn []byte
	RowLimit      int
	Consistency   ConsistencyLevel
}

// IndexedRow is one row matched by a secondary-index query: its key and the
// value of the projected column.
type IndexedRow struct {
	RowKey string
	Value  []byte
}

// GetIndexedSlicesReply carries the matched rows. Truncated is set when
// more rows matched than RowLimit allowed for; callers must not treat a
// truncated result as complete.
type GetIndexedSlicesReply struct {
	Rows      []IndexedRow
	Truncated bool
}

// LocalBlockDescriptor points at a sub-block's bytes on the local
// filesystem, for callers co-located with a replica to read without an RPC
// round trip.
type LocalBlockDescriptor struct {
	FilePath string
	Offset   int64
	Length   int64
}

// GetSubBlockArgs requests a sub-block's bytes, optionally with a locality
// hint (Hostname) the server can use to decide whether the caller can read
// the data straight off local disk.
type GetSubBlockArgs struct {
	Hostname     string
	RowKey       string
	Column       string
	ColumnFamily string
	Consistency  ConsistencyLevel
}

// GetSubBlockReply carries at most one of Local or Remote: Local when the
// caller's hostname matches a replica the server can expose a local file
// descriptor for, Remote (the raw bytes) otherwise, and neither when the
// sub-block does not exist.
type GetSubBlockReply struct {
	Local  *LocalBlockDescriptor
	Remote []byte
}

// DescribeKeysArgs asks for the set of endpoints hosting each given row key.
type DescribeKeysArgs struct {
	RowKeys []string
}

// DescribeKeysReply parallels DescribeKeysArgs.RowKeys: Endpoints[i] lists
// the endpoints responsible for RowKeys[i].
type DescribeKeysReply struct {
	Endpoints [][]string
}

// DescribeKeyspaceArgs asks whether a keyspace by this name already exists.
type DescribeKeyspaceArgs struct {
	Name string
}

type DescribeKeyspaceReply struct {
	Found    bool
	Keyspace *KeyspaceDef
}

// CreateKeyspaceArgs creates a keyspace and all of its column families.
type CreateKeyspaceArgs struct {
	Keyspace *KeyspaceDef
}

type CreateKeyspaceReply struct{}

// WaitForSchemaAgreementArgs polls a single node's view of whether every
// node in the cluster currently agrees on the schema version.
type WaitForSchemaAgreementArgs struct{}

type WaitForSchemaAgreementReply struct {
	Agreed bool
}
