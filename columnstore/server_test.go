package columnstore

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func newTestService(t *testing.T) *Service {
	t.Helper()
	dir := t.TempDir()
	svc, err := NewService(filepath.Join(dir, "db"), filepath.Join(dir, "blocks"), "node-local")
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })
	return svc
}

func TestGetMissingReturnsNotFoundNotError(t *testing.T) {
	svc := newTestService(t)
	var reply GetReply
	err := svc.Get(&GetArgs{ColumnFamily: "inode", RowKey: "k1", Column: ColumnData}, &reply)
	require.NoError(t, err)
	require.False(t, reply.Found)
}

func TestInsertThenGet(t *testing.T) {
	svc := newTestService(t)
	err := svc.Insert(&InsertArgs{
		ColumnFamily: "inode",
		RowKey:       "k1",
		Column:       Column{Name: []byte(ColumnData), Value: []byte("hello"), Timestamp: 100},
	}, &InsertReply{})
	require.NoError(t, err)

	var reply GetReply
	require.NoError(t, svc.Get(&GetArgs{ColumnFamily: "inode", RowKey: "k1", Column: ColumnData}, &reply))
	require.True(t, reply.Found)
	require.Equal(t, []byte("hello"), reply.Value)
	require.EqualValues(t, 100, reply.Timestamp)
}

func TestBatchMutateAndIndexEquality(t *testing.T) {
	svc := newTestService(t)
	err := svc.BatchMutate(&BatchMutateArgs{
		RowKey: "rowA",
		Mutations: map[string][]Mutation{
			"inode": {
				{Kind: MutationSetColumn, Column: &Column{Name: []byte(ColumnPath), Value: []byte("/d/f1")}},
				{Kind: MutationSetColumn, Column: &Column{Name: []byte(ColumnParentPath), Value: []byte("/d")}},
				{Kind: MutationSetColumn, Column: &Column{Name: []byte(ColumnSentinel), Value: []byte(SentinelValue)}},
			},
		},
	}, &BatchMutateReply{})
	require.NoError(t, err)

	var reply GetIndexedSlicesReply
	err = svc.GetIndexedSlices(&GetIndexedSlicesArgs{
		ColumnFamily: "inode",
		Expressions: []IndexExpression{
			{Column: []byte(ColumnSentinel), Op: IndexEQ, Value: []byte(SentinelValue)},
			{Column: []byte(ColumnParentPath), Op: IndexEQ, Value: []byte("/d")},
		},
		ProjectColumn: []byte(ColumnPath),
		RowLimit:      10,
	}, &reply)
	require.NoError(t, err)
	require.Len(t, reply.Rows, 1)
	require.Equal(t, "rowA", reply.Rows[0].RowKey)
	require.Equal(t, "/d/f1", string(reply.Rows[0].Value))
}

func TestGetIndexedSlicesPathRange(t *testing.T) {
	svc := newTestService(t)
	write := func(rowKey, path string) {
		err := svc.BatchMutate(&BatchMutateArgs{
			RowKey: rowKey,
			Mutations: map[string][]Mutation{
				"inode": {
					{Kind: MutationSetColumn, Column: &Column{Name: []byte(ColumnPath), Value: []byte(path)}},
					{Kind: MutationSetColumn, Column: &Column{Name: []byte(ColumnSentinel), Value: []byte(SentinelValue)}},
				},
			},
		}, &BatchMutateReply{})
		require.NoError(t, err)
	}
	write("r1", "/d/a")
	write("r2", "/d/b/c")
	write("r3", "/e/z")

	var reply GetIndexedSlicesReply
	err := svc.GetIndexedSlices(&GetIndexedSlicesArgs{
		ColumnFamily: "inode",
		Expressions: []IndexExpression{
			{Column: []byte(ColumnSentinel), Op: IndexEQ, Value: []byte(SentinelValue)},
			{Column: []byte(ColumnPath), Op: IndexGTE, Value: []byte("/d/")},
			{Column: []byte(ColumnPath), Op: IndexLT, Value: []byte("/e")},
		},
		ProjectColumn: []byte(ColumnPath),
		RowLimit:      10,
	}, &reply)
	require.NoError(t, err)
	require.Len(t, reply.Rows, 2)
}

func TestRemoveWholeRow(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Insert(&InsertArgs{
		ColumnFamily: "inode",
		RowKey:       "k1",
		Column:       Column{Name: []byte(ColumnData), Value: []byte("v")},
	}, &InsertReply{}))
	require.NoError(t, svc.Insert(&InsertArgs{
		ColumnFamily: "inode",
		RowKey:       "k1",
		Column:       Column{Name: []byte(ColumnPath), Value: []byte("/p")},
	}, &InsertReply{}))

	require.NoError(t, svc.Remove(&RemoveArgs{ColumnFamily: "inode", RowKey: "k1"}, &RemoveReply{}))

	var reply GetReply
	require.NoError(t, svc.Get(&GetArgs{ColumnFamily: "inode", RowKey: "k1", Column: ColumnData}, &reply))
	require.False(t, reply.Found)
	require.NoError(t, svc.Get(&GetArgs{ColumnFamily: "inode", RowKey: "k1", Column: ColumnPath}, &reply))
	require.False(t, reply.Found)
}

func TestGetSubBlockLocalVsRemote(t *testing.T) {
	svc := newTestService(t)
	require.NoError(t, svc.Insert(&InsertArgs{
		ColumnFamily: "sblocks",
		RowKey:       "blockrow",
		Column:       Column{Name: []byte("subcol"), Value: []byte("payload")},
	}, &InsertReply{}))

	var localReply GetSubBlockReply
	err := svc.GetSubBlock(&GetSubBlockArgs{Hostname: "node-local", ColumnFamily: "sblocks", RowKey: "blockrow", Column: "subcol"}, &localReply)
	require.NoError(t, err)
	require.NotNil(t, localReply.Local)
	require.Nil(t, localReply.Remote)

	var remoteReply GetSubBlockReply
	err = svc.GetSubBlock(&GetSubBlockArgs{Hostname: "some-other-host", ColumnFamily: "sblocks", RowKey: "blockrow", Column: "subcol"}, &remoteReply)
	require.NoError(t, err)
	require.Nil(t, remoteReply.Local)
	require.Equal(t, []byte("payload"), remoteReply.Remote)
}

func TestCreateAndDescribeKeyspace(t *testing.T) {
	svc := newTestService(t)
	ks := DefaultKeyspace("distfs", 3, map[string]string{"dc1": "3"})
	require.True(t, ks.DurableWrites, "replication factor 3 must set durable writes")
	require.NoError(t, svc.CreateKeyspace(&CreateKeyspaceArgs{Keyspace: &ks}, &CreateKeyspaceReply{}))

	var reply DescribeKeyspaceReply
	require.NoError(t, svc.DescribeKeyspace(&DescribeKeyspaceArgs{Name: "distfs"}, &reply))
	require.True(t, reply.Found)
	require.Len(t, reply.Keyspace.ColumnFamilies, 4)
	require.True(t, reply.Keyspace.DurableWrites)
}
