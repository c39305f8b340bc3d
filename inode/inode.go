// Package inode implements the fixed-size on-disk inode record: a type tag,
// a link count, a logical size, and a direct-block table. No indirect
// blocks exist; a file's size is capped at BPI*BLOCK_SIZE bytes.
package inode

import (
	"encoding/binary"

	"github.com/okdisk/blockfs/device"
	ferrors "github.com/okdisk/blockfs/errors"
)

// Object types, matching the on-disk type tag.
const (
	TypeFile    = 0
	TypeDir     = 1
	TypeSymlink = 2
)

// BPI is the number of direct-block slots an inode carries: whatever is left
// in a block after the 1-byte type tag and the two 4-byte links/size fields.
const BPI = (device.BlockSize - 1 - 8) / 4

// Unbound and Hole are the two special values a Blocks slot can hold besides
// a real block number: Unbound ("0" on disk) marks a slot beyond the
// inode's current size, Hole ("-1" on disk) marks a logical hole within the
// size that reads as zeros without occupying a data block.
const (
	Unbound device.BlockID = 0
	Hole    device.BlockID = -1
)

// Inode is the in-memory form of one on-disk inode record.
type Inode struct {
	Type   int
	Links  uint32
	Size   uint32
	Blocks [BPI]device.BlockID
}

// serializedSize is how many bytes Serialize produces; the remainder of the
// block is unused padding.
const serializedSize = 1 + 4 + 4 + BPI*4

// Serialize encodes the inode into its fixed on-disk layout: 1-byte type,
// 4-byte link count, 4-byte size, then BPI little-endian 4-byte block
// pointers.
func (n Inode) Serialize() []byte {
	buf := make([]byte, serializedSize)
	buf[0] = byte(n.Type)
	binary.LittleEndian.PutUint32(buf[1:5], n.Links)
	binary.LittleEndian.PutUint32(buf[5:9], n.Size)
	for i, b := range n.Blocks {
		off := 9 + i*4
		binary.LittleEndian.PutUint32(buf[off:off+4], uint32(int32(b)))
	}
	return buf
}

// Deserialize decodes an inode from raw bytes as produced by Serialize. data
// must be at least serializedSize bytes.
func Deserialize(data []byte) (Inode, error) {
	if len(data) < serializedSize {
		return Inode{}, ferrors.ErrIO.WithMessage("truncated inode record")
	}

	var n Inode
	n.Type = int(data[0])
	n.Links = binary.LittleEndian.Uint32(data[1:5])
	n.Size = binary.LittleEndian.Uint32(data[5:9])
	for i := 0; i < BPI; i++ {
		off := 9 + i*4
		n.Blocks[i] = device.BlockID(int32(binary.LittleEndian.Uint32(data[off : off+4])))
	}
	return n, nil
}

// Load reads the inode stored at block b.
func Load(dev *device.Device, b device.BlockID) (Inode, error) {
	raw, err := dev.ReadBlock(b, device.BlockSize, 0)
	if err != nil {
		return Inode{}, err
	}
	return Deserialize(raw)
}

// Store writes n to block b, padding the remainder of the block with
// zeroes.
func Store(dev *device.Device, b device.BlockID, n Inode) error {
	buf := make([]byte, device.BlockSize)
	copy(buf, n.Serialize())
	return dev.WriteBlock(b, buf, 0)
}

// IsDir reports whether this inode describes a directory.
func (n Inode) IsDir() bool {
	return n.Type == TypeDir
}

// IsFile reports whether this inode describes a regular file.
func (n Inode) IsFile() bool {
	return n.Type == TypeFile
}

// IsSymlink reports whether this inode describes a symbolic link.
func (n Inode) IsSymlink() bool {
	return n.Type == TypeSymlink
}

// BlocksInUse returns the number of direct-block slots occupied by either a
// real block or a logical hole, i.e. ceil(Size / BlockSize).
func (n Inode) BlocksInUse() int {
	return (int(n.Size) + device.BlockSize - 1) / device.BlockSize
}
