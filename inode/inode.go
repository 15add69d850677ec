// Package inode implements the in-memory representation and binary wire
// format of file and directory metadata records, including their block and
// sub-block lists.
package inode

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"
)

// Kind distinguishes a file inode from a directory inode.
type Kind uint8

const (
	KindFile      Kind = 0
	KindDirectory Kind = 1
)

// currentVersion is the only version this package knows how to serialize
// and deserialize. Deserialize rejects any other version.
const currentVersion = 1

var (
	// ErrUnknownVersion is returned by Deserialize when the blob's version
	// byte doesn't match a version this package understands.
	ErrUnknownVersion = errors.New("inode: unknown version")
	// ErrTruncated is returned by Deserialize when the blob ends before a
	// field it declares has been fully read.
	ErrTruncated = errors.New("inode: truncated data")
)

// SubBlock is the physical write unit inside a Block: one column holding a
// snappy-compressed payload. SubBlocks within a Block are ordered by
// Offset, which is contiguous and strictly monotonic.
type SubBlock struct {
	ID     uuid.UUID
	Offset uint64
	Length uint64
}

// Block is a logical segment of a file (typically 128 MiB), composed of one
// or more SubBlocks. Blocks within a file are ordered by Offset; for
// consecutive blocks B_i, B_{i+1}: B_{i+1}.Offset == B_i.Offset + B_i.Length.
type Block struct {
	ID        uuid.UUID
	Offset    uint64
	Length    uint64
	SubBlocks []SubBlock
}

// INode is the metadata record for a file or directory.
type INode struct {
	Path          string
	Kind          Kind
	User          string
	Group         string
	Permissions   uint16
	Replication   uint8
	BlockSize     uint64
	ModifiedTime  time.Time
	Blocks        []Block
	// WriteTime is the storing column's write time, populated on read from
	// the column store's timestamp for the "data" column. It is not part of
	// the serialized blob.
	WriteTime time.Time
}

// IsDirectory reports whether the inode describes a directory.
func (n *INode) IsDirectory() bool {
	return n.Kind == KindDirectory
}

// Serialize encodes the inode into the fixed binary layout described in the
// store schema: a version byte, followed by user/group, permissions, kind,
// replication, block size, mtime (millis), and the block/sub-block list.
// All integers are big-endian.
func (n *INode) Serialize() ([]byte, error) {
	buf := &bytes.Buffer{}

	buf.WriteByte(currentVersion)

	if err := writeString(buf, n.User); err != nil {
		return nil, err
	}
	if err := writeString(buf, n.Group); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, n.Permissions); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(byte(n.Kind)); err != nil {
		return nil, err
	}
	if err := buf.WriteByte(n.Replication); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, n.BlockSize); err != nil {
		return nil, err
	}
	if err := binary.Write(buf, binary.BigEndian, n.ModifiedTime.UnixMilli()); err != nil {
		return nil, err
	}

	if err := binary.Write(buf, binary.BigEndian, uint32(len(n.Blocks))); err != nil {
		return nil, err
	}
	for _, block := range n.Blocks {
		if err := writeBlock(buf, block); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

func writeString(buf *bytes.Buffer, s string) error {
	if len(s) > 0xFFFF {
		return fmt.Errorf("inode: string field too long: %d bytes", len(s))
	}
	if err := binary.Write(buf, binary.BigEndian, uint16(len(s))); err != nil {
		return err
	}
	_, err := buf.WriteString(s)
	return err
}

func writeBlock(buf *bytes.Buffer, block Block) error {
	id := block.ID
	if _, err := buf.Write(id[:]); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, block.Offset); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, block.Length); err != nil {
		return err
	}
	if err := binary.Write(buf, binary.BigEndian, uint32(len(block.SubBlocks))); err != nil {
		return err
	}
	for _, sub := range block.SubBlocks {
		subID := sub.ID
		if _, err := buf.Write(subID[:]); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, sub.Offset); err != nil {
			return err
		}
		if err := binary.Write(buf, binary.BigEndian, sub.Length); err != nil {
			return err
		}
	}
	return nil
}

// Deserialize decodes an inode blob produced by Serialize. writeTime is the
// column store's write timestamp for the "data" column and is attached to
// the returned INode as WriteTime.
func Deserialize(data []byte, writeTime time.Time) (*INode, error) {
	r := bytes.NewReader(data)

	version, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if version != currentVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnknownVersion, version)
	}

	user, err := readString(r)
	if err != nil {
		return nil, err
	}
	group, err := readString(r)
	if err != nil {
		return nil, err
	}

	var perms uint16
	if err := binary.Read(r, binary.BigEndian, &perms); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	kindByte, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	replication, err := r.ReadByte()
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var blockSize uint64
	if err := binary.Read(r, binary.BigEndian, &blockSize); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var mtimeMillis int64
	if err := binary.Read(r, binary.BigEndian, &mtimeMillis); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var blockCount uint32
	if err := binary.Read(r, binary.BigEndian, &blockCount); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	blocks := make([]Block, 0, blockCount)
	for i := uint32(0); i < blockCount; i++ {
		block, err := readBlock(r)
		if err != nil {
			return nil, err
		}
		blocks = append(blocks, block)
	}

	return &INode{
		User:         user,
		Group:        group,
		Permissions:  perms,
		Kind:         Kind(kindByte),
		Replication:  replication,
		BlockSize:    blockSize,
		ModifiedTime: time.UnixMilli(mtimeMillis).UTC(),
		Blocks:       blocks,
		WriteTime:    writeTime,
	}, nil
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	return string(buf), nil
}

func readBlock(r *bytes.Reader) (Block, error) {
	var id uuid.UUID
	if _, err := io.ReadFull(r, id[:]); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var offset, length uint64
	if err := binary.Read(r, binary.BigEndian, &offset); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}
	if err := binary.Read(r, binary.BigEndian, &length); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	var subCount uint32
	if err := binary.Read(r, binary.BigEndian, &subCount); err != nil {
		return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
	}

	subs := make([]SubBlock, 0, subCount)
	for i := uint32(0); i < subCount; i++ {
		var subID uuid.UUID
		if _, err := io.ReadFull(r, subID[:]); err != nil {
			return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		var subOffset, subLength uint64
		if err := binary.Read(r, binary.BigEndian, &subOffset); err != nil {
			return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		if err := binary.Read(r, binary.BigEndian, &subLength); err != nil {
			return Block{}, fmt.Errorf("%w: %v", ErrTruncated, err)
		}
		subs = append(subs, SubBlock{ID: subID, Offset: subOffset, Length: subLength})
	}

	return Block{ID: id, Offset: offset, Length: length, SubBlocks: subs}, nil
}

// TotalLength returns the sum of the lengths of all blocks, i.e. the file's
// total size as implied by its block list.
func (n *INode) TotalLength() uint64 {
	var total uint64
	for _, b := range n.Blocks {
		total += b.Length
	}
	return total
}

// ParentPath returns the canonical parent of path, or "null" for the root,
// matching the sentinel value stored in the parent_path column.
func ParentPath(path string) string {
	if path == "/" || path == "" {
		return "null"
	}
	idx := lastSlash(path)
	if idx <= 0 {
		return "/"
	}
	return path[:idx]
}

func lastSlash(path string) int {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return i
		}
	}
	return -1
}
