// Package dirent implements the directory layer: a directory's file bytes,
// read and written through package filedata, are a packed array of 16-byte
// link records pairing a name with an inode block.
package dirent

import (
	"bytes"
	"encoding/binary"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	ferrors "github.com/okdisk/blockfs/errors"
	"github.com/okdisk/blockfs/filedata"
	"github.com/okdisk/blockfs/inode"
)

// FNameLen is the width, in bytes, of a link record's NUL-padded name
// field; effective names are at most FNameLen-1 bytes.
const FNameLen = 12

// RecordSize is the on-disk width of one Link record.
const RecordSize = FNameLen + 4

// Link is one directory entry: a name paired with the block of the inode
// it names.
type Link struct {
	Name  string
	Inode device.BlockID
}

func encode(name string, target device.BlockID) []byte {
	buf := make([]byte, RecordSize)
	copy(buf[:FNameLen], name)
	binary.LittleEndian.PutUint32(buf[FNameLen:], uint32(int32(target)))
	return buf
}

func decode(rec []byte) Link {
	end := bytes.IndexByte(rec[:FNameLen], 0)
	if end < 0 {
		end = FNameLen
	}
	return Link{
		Name:  string(rec[:end]),
		Inode: device.BlockID(int32(binary.LittleEndian.Uint32(rec[FNameLen:RecordSize]))),
	}
}

// AddRecord appends a link record naming target to the directory at
// dirBlock. Growing the directory's data onto a fresh block, when the
// append falls past the end of the current last block, is handled by
// filedata.Write's ordinary grow-on-write path, which reverts the grow if
// the new block can't be allocated, so a NoSpace failure here leaves the
// directory unchanged.
func AddRecord(dev *device.Device, alloc *bitmap.Allocator, dirBlock device.BlockID, name string, target device.BlockID) error {
	if len(name) > FNameLen-1 {
		return ferrors.ErrNameTooLong
	}

	n, err := inode.Load(dev, dirBlock)
	if err != nil {
		return err
	}

	return filedata.Write(dev, alloc, dirBlock, RecordSize, encode(name, target), int(n.Size))
}

// RemoveRecord deletes the first link record in dirBlock whose inode field
// equals target, compacting the remaining records. It reports false if no
// such record exists. Emptying the directory's last data block frees it,
// via the same shrink regime Truncate already implements.
func RemoveRecord(dev *device.Device, alloc *bitmap.Allocator, dirBlock device.BlockID, target device.BlockID) (bool, error) {
	n, err := inode.Load(dev, dirBlock)
	if err != nil {
		return false, err
	}

	data, err := filedata.Read(dev, dirBlock, int(n.Size), 0)
	if err != nil {
		return false, err
	}

	idx := -1
	for off := 0; off+RecordSize <= len(data); off += RecordSize {
		if decode(data[off : off+RecordSize]).Inode == target {
			idx = off
			break
		}
	}
	if idx < 0 {
		return false, nil
	}

	compacted := make([]byte, 0, len(data)-RecordSize)
	compacted = append(compacted, data[:idx]...)
	compacted = append(compacted, data[idx+RecordSize:]...)

	if err := filedata.Truncate(dev, alloc, dirBlock, len(compacted)); err != nil {
		return false, err
	}
	if len(compacted) > 0 {
		if err := filedata.Write(dev, alloc, dirBlock, len(compacted), compacted, 0); err != nil {
			return false, err
		}
	}
	return true, nil
}

// List returns every link record stored in dirBlock, in stored order.
func List(dev *device.Device, dirBlock device.BlockID) ([]Link, error) {
	n, err := inode.Load(dev, dirBlock)
	if err != nil {
		return nil, err
	}

	data, err := filedata.Read(dev, dirBlock, int(n.Size), 0)
	if err != nil {
		return nil, err
	}

	links := make([]Link, 0, len(data)/RecordSize)
	for off := 0; off+RecordSize <= len(data); off += RecordSize {
		links = append(links, decode(data[off:off+RecordSize]))
	}
	return links, nil
}

// Find returns the first link record in dirBlock named name, and whether
// one was found.
func Find(dev *device.Device, dirBlock device.BlockID, name string) (Link, bool, error) {
	links, err := List(dev, dirBlock)
	if err != nil {
		return Link{}, false, err
	}
	for _, l := range links {
		if l.Name == name {
			return l, true, nil
		}
	}
	return Link{}, false, nil
}
