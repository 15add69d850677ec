package inode

import (
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

func TestSerializeDeserializeRoundTrip(t *testing.T) {
	blockID, _ := uuid.NewUUID()
	subID, _ := uuid.NewUUID()

	in := &INode{
		Path:         "/mytestdir/testfile",
		Kind:         KindFile,
		User:         "hadoop",
		Group:        "supergroup",
		Permissions:  0644,
		Replication:  3,
		BlockSize:    128 << 20,
		ModifiedTime: time.UnixMilli(1700000000123).UTC(),
		Blocks: []Block{
			{
				ID:     blockID,
				Offset: 0,
				Length: 1024,
				SubBlocks: []SubBlock{
					{ID: subID, Offset: 0, Length: 1024},
				},
			},
		},
	}

	data, err := in.Serialize()
	require.NoError(t, err)

	out, err := Deserialize(data, time.Time{})
	require.NoError(t, err)

	require.Equal(t, in.User, out.User)
	require.Equal(t, in.Group, out.Group)
	require.Equal(t, in.Permissions, out.Permissions)
	require.Equal(t, in.Kind, out.Kind)
	require.Equal(t, in.Replication, out.Replication)
	require.Equal(t, in.BlockSize, out.BlockSize)
	require.True(t, in.ModifiedTime.Equal(out.ModifiedTime))
	require.Len(t, out.Blocks, 1)
	require.Equal(t, blockID, out.Blocks[0].ID)
	require.Equal(t, subID, out.Blocks[0].SubBlocks[0].ID)
}

func TestDeserializeEmptyBlocksForDirectory(t *testing.T) {
	in := &INode{
		Kind:         KindDirectory,
		User:         "hadoop",
		Group:        "supergroup",
		ModifiedTime: time.Now().UTC(),
	}

	data, err := in.Serialize()
	require.NoError(t, err)

	out, err := Deserialize(data, time.Time{})
	require.NoError(t, err)
	require.True(t, out.IsDirectory())
	require.Empty(t, out.Blocks)
}

func TestDeserializeRejectsUnknownVersion(t *testing.T) {
	data := []byte{0xFF, 0x00}
	_, err := Deserialize(data, time.Time{})
	require.ErrorIs(t, err, ErrUnknownVersion)
}

func TestDeserializeRejectsTruncatedInput(t *testing.T) {
	in := &INode{Kind: KindFile, User: "a", Group: "b", ModifiedTime: time.Now()}
	data, err := in.Serialize()
	require.NoError(t, err)

	_, err = Deserialize(data[:len(data)-3], time.Time{})
	require.ErrorIs(t, err, ErrTruncated)
}

func TestParentPath(t *testing.T) {
	cases := map[string]string{
		"/":       "null",
		"/d":      "/",
		"/d/a":    "/d",
		"/d/c/d":  "/d/c",
	}
	for path, want := range cases {
		require.Equal(t, want, ParentPath(path), "path=%s", path)
	}
}
