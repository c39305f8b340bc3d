// Package device implements positioned byte- and block-level I/O over the
// backing image of a blockfs volume.
//
// It is the bottom layer of the stack: the inode store and the directory
// layer above it address the image in terms of block numbers; the bitmap
// allocator reads and writes its region by byte offset.
package device

import (
	"io"

	ferrors "github.com/okdisk/blockfs/errors"
)

// BlockSize is the fixed size, in bytes, of one block of the device image.
const BlockSize = 512

// TotalBlocks returns NB, the number of BlockSize blocks needed to cover a
// device image of the given byte capacity.
func TotalBlocks(capacityBytes int64) int64 {
	return (capacityBytes + BlockSize - 1) / BlockSize
}

// BlockID identifies a block of the device image. It is signed because the
// inode direct-block table uses -1 as the "logical hole" sentinel
// (see Device.ReadBlock).
type BlockID int64

// Device wraps a seekable stream and exposes positioned and block-granular
// reads and writes over it.
type Device struct {
	stream io.ReadWriteSeeker
}

// New wraps an already-open stream (typically an *os.File opened on the
// backing image) as a Device.
func New(stream io.ReadWriteSeeker) *Device {
	return &Device{stream: stream}
}

// Size returns the total length of the backing stream, in bytes.
func (d *Device) Size() (int64, error) {
	size, err := d.stream.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, ferrors.ErrIO.WrapError(err)
	}
	return size, nil
}

// ReadAt reads length bytes starting at the given byte offset.
func (d *Device) ReadAt(offset int64, length int) ([]byte, error) {
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return nil, ferrors.ErrIO.WrapError(err)
	}

	buf := make([]byte, length)
	if length == 0 {
		return buf, nil
	}
	if _, err := io.ReadFull(d.stream, buf); err != nil {
		return nil, ferrors.ErrIO.WrapError(err)
	}
	return buf, nil
}

// WriteAt writes data starting at the given byte offset.
func (d *Device) WriteAt(offset int64, data []byte) error {
	if _, err := d.stream.Seek(offset, io.SeekStart); err != nil {
		return ferrors.ErrIO.WrapError(err)
	}
	if _, err := d.stream.Write(data); err != nil {
		return ferrors.ErrIO.WrapError(err)
	}
	return nil
}

// blockOffset returns the byte offset of the given block plus the
// intra-block shift.
func blockOffset(block BlockID, shift int) int64 {
	return int64(block)*BlockSize + int64(shift)
}

// ReadBlock reads length bytes starting at byte shift within block b.
//
// b == 0 is never a valid target: the root inode's own block is always
// BM >= 1, so block 0 only ever shows up from corrupted or uninitialized
// data. That case is treated as diagnostic corruption: it returns a
// zero-filled buffer of the requested length alongside an error, rather
// than touching the device.
//
// b == -1 is the read side of the "logical hole" sentinel: it returns an
// all-zero buffer of the requested length without touching the device at
// all, and never errors.
func (d *Device) ReadBlock(b BlockID, length int, shift int) ([]byte, error) {
	if b == 0 {
		return make([]byte, length), ferrors.ErrIO.WithMessage(
			"attempt to read corrupted data (block 0)")
	}
	if b < 0 {
		return make([]byte, length), nil
	}
	return d.ReadAt(blockOffset(b, shift), length)
}

// WriteBlock writes data starting at byte shift within block b.
func (d *Device) WriteBlock(b BlockID, data []byte, shift int) error {
	if b <= 0 {
		return ferrors.ErrIO.WithMessage("attempt to write to an invalid block")
	}
	return d.WriteAt(blockOffset(b, shift), data)
}

// ZeroBlockTail zero-fills the byte range [shift, BlockSize) of block b.
func (d *Device) ZeroBlockTail(b BlockID, shift int) error {
	if shift >= BlockSize {
		return nil
	}
	return d.WriteBlock(b, make([]byte, BlockSize-shift), shift)
}
