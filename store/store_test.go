package store

import (
	"bytes"
	"context"
	"crypto/md5"
	"encoding/binary"
	"io"
	"net"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"

	"distfs/codec"
	"distfs/columnstore"
	"distfs/inode"
	"distfs/rpc"
)

// newTestStore spins up an embedded column-store service behind a real
// in-process rpc.Server/rpc.Client pair and wires a Store directly against
// it, bypassing Initialize's URI/YAML plumbing so tests can focus on the
// store operations themselves.
func newTestStore(t *testing.T, hostname string) *Store {
	t.Helper()
	dir := t.TempDir()

	svc, err := columnstore.NewService(filepath.Join(dir, "db"), filepath.Join(dir, "blocks"), hostname)
	require.NoError(t, err)
	t.Cleanup(func() { svc.Close() })

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)

	srv := rpc.NewServer(listener)
	require.NoError(t, srv.Register(svc))

	ctx, cancel := context.WithCancel(context.Background())
	go srv.Serve(ctx)
	t.Cleanup(cancel)

	client, err := columnstore.Dial(listener.Addr().String())
	require.NoError(t, err)
	t.Cleanup(func() { client.Close() })

	s, err := NewDirect(client, columnstore.PoolRegular, hostname, "QUORUM", "QUORUM")
	require.NoError(t, err)
	return s
}

func writeSingleBlockFile(t *testing.T, s *Store, ctx context.Context, path string, data []byte) *inode.INode {
	t.Helper()

	blockID, err := codec.NewBlockID()
	require.NoError(t, err)
	subID, err := codec.NewBlockID()
	require.NoError(t, err)

	sub := inode.SubBlock{ID: subID, Offset: 0, Length: uint64(len(data))}
	require.NoError(t, s.StoreSubBlock(ctx, blockID, &sub, data))

	node := &inode.INode{
		Path:         path,
		Kind:         inode.KindFile,
		User:         "u",
		Group:        "g",
		Permissions:  0644,
		BlockSize:    128 << 20,
		ModifiedTime: time.Now().UTC(),
		Blocks: []inode.Block{
			{ID: blockID, Offset: 0, Length: uint64(len(data)), SubBlocks: []inode.SubBlock{sub}},
		},
	}
	require.NoError(t, s.StoreINode(ctx, path, node))
	return node
}

func TestRoundTripWriteThenRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	data := make([]byte, 1024*1024)
	for i := range data {
		data[i] = byte(i % 256)
	}

	node := writeSingleBlockFile(t, s, ctx, "/mytestdir/testfile", data)

	reader, err := s.RetrieveBlock(ctx, &node.Blocks[0], 0)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, md5.Sum(data), md5.Sum(got))
}

func TestRandomAccessSeekAndRead(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	var buf []byte
	for i := 0; i < 500; i++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(i))
		buf = append(buf, b[:]...)
	}

	node := writeSingleBlockFile(t, s, ctx, "/f", buf)

	reader, err := s.RetrieveBlock(ctx, &node.Blocks[0], 200*4)
	require.NoError(t, err)
	defer reader.Close()

	rest, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Len(t, rest, 300*4)

	for i := 0; i < 300; i++ {
		got := binary.BigEndian.Uint32(rest[i*4 : i*4+4])
		require.EqualValues(t, 200+i, got)
	}
}

// TestMixedTypeRoundTrip writes a single block built from interleaved
// fixed-width ints, a length-prefixed UTF-8 string, and longs — the mix of
// field widths a real record format produces, rather than a uniform stream
// of same-sized values — and checks the read-back stream is byte-identical
// by MD5.
func TestMixedTypeRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	var buf bytes.Buffer
	for i := 0; i < 2000; i++ {
		var b [4]byte
		binary.BigEndian.PutUint32(b[:], uint32(i))
		buf.Write(b[:])
	}

	str := "we are saving a string here"
	var strLen [2]byte
	binary.BigEndian.PutUint16(strLen[:], uint16(len(str)))
	buf.Write(strLen[:])
	buf.WriteString(str)

	for i := 0; i < 20; i++ {
		var b [8]byte
		binary.BigEndian.PutUint64(b[:], uint64(i))
		buf.Write(b[:])
	}

	data := buf.Bytes()
	node := writeSingleBlockFile(t, s, ctx, "/mixed", data)

	reader, err := s.RetrieveBlock(ctx, &node.Blocks[0], 0)
	require.NoError(t, err)
	defer reader.Close()

	got, err := io.ReadAll(reader)
	require.NoError(t, err)
	require.Equal(t, md5.Sum(data), md5.Sum(got))
}

func TestListingConsistency(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	mkdir := func(path string) {
		node := &inode.INode{Path: path, Kind: inode.KindDirectory, ModifiedTime: time.Now().UTC()}
		require.NoError(t, s.StoreINode(ctx, path, node))
	}
	mkdir("/d")
	mkdir("/d/a")
	mkdir("/d/b")
	mkdir("/d/c")
	mkdir("/d/c/d")
	writeSingleBlockFile(t, s, ctx, "/d/f", []byte("x"))

	shallow, err := s.ListSubPaths(ctx, "/d")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/d/a", "/d/b", "/d/c", "/d/f"}, shallow)

	deep, err := s.ListDeepSubPaths(ctx, "/d")
	require.NoError(t, err)
	require.ElementsMatch(t, []string{"/d/a", "/d/b", "/d/c", "/d/f", "/d/c/d"}, deep)
}

func TestBlockLocality(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	node := writeSingleBlockFile(t, s, ctx, "/p", []byte("payload"))

	locs, err := s.GetBlockLocation(ctx, node.Blocks, 0, uint64(len("payload")))
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.Equal(t, "host1", locs[0].Hosts[0])
}

func TestBlockRangeClamping(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	node := writeSingleBlockFile(t, s, ctx, "/p", []byte("payload"))

	locs, err := s.GetBlockLocation(ctx, node.Blocks, 1, 10)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.EqualValues(t, 1, locs[0].Offset)

	locs, err = s.GetBlockLocation(ctx, node.Blocks, 0, 200)
	require.NoError(t, err)
	require.Len(t, locs, 1)
	require.EqualValues(t, 0, locs[0].Offset)
}

func TestDeletionOrthogonality(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	node := writeSingleBlockFile(t, s, ctx, "/p", []byte("payload"))

	require.NoError(t, s.DeleteSubBlocks(ctx, node))
	require.NoError(t, s.DeleteINode(ctx, "/p"))

	_, found, err := s.RetrieveINode(ctx, "/p")
	require.NoError(t, err)
	require.False(t, found)
}

func TestIdempotentStoreINode(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	node1 := &inode.INode{Path: "/p", Kind: inode.KindDirectory, ModifiedTime: time.UnixMilli(1000).UTC()}
	require.NoError(t, s.StoreINode(ctx, "/p", node1))

	node2 := &inode.INode{Path: "/p", Kind: inode.KindDirectory, User: "second", ModifiedTime: time.UnixMilli(2000).UTC()}
	require.NoError(t, s.StoreINode(ctx, "/p", node2))

	got, found, err := s.RetrieveINode(ctx, "/p")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, "second", got.User)
}

func TestRetrieveINodeAbsent(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")

	_, found, err := s.RetrieveINode(ctx, "/nope")
	require.NoError(t, err)
	require.False(t, found)
}

func TestArchivePoolUsesArchiveColumnFamilies(t *testing.T) {
	ctx := context.Background()
	s := newTestStore(t, "host1")
	s.pool = columnstore.PoolArchive

	node := writeSingleBlockFile(t, s, ctx, "/p", []byte("payload"))

	got, found, err := s.RetrieveINode(ctx, "/p")
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, node.Path, got.Path)

	var reply columnstore.GetReply
	require.NoError(t, s.client.Call(ctx, "Get", &columnstore.GetArgs{
		RowKey:       codec.PathKey("/p"),
		ColumnFamily: columnstore.PoolRegular.InodeColumnFamily(),
		Column:       columnstore.ColumnData,
	}, &reply))
	require.False(t, reply.Found, "a write against the archive pool must not land in the regular column family")
}

func TestNewBlockIDsAreDistinct(t *testing.T) {
	a, err := codec.NewBlockID()
	require.NoError(t, err)
	b, err := codec.NewBlockID()
	require.NoError(t, err)
	require.NotEqual(t, a, b)
	require.IsType(t, uuid.UUID{}, a)
}
