// Package filedata implements reading, writing, and truncating a file's
// logical byte range by mapping it onto an inode's direct-block table,
// materializing logical holes through the block allocator as needed.
package filedata

import (
	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	ferrors "github.com/okdisk/blockfs/errors"
	"github.com/okdisk/blockfs/inode"
)

// MaxFileSize is the largest logical size an inode's direct-block table can
// represent.
const MaxFileSize = inode.BPI * device.BlockSize

// window describes the portion of one direct block touched by a logical
// byte range [shift, shift+size).
type window struct {
	blockIndex   int
	blockShift   int
	length       int
	bufferOffset int
}

// windows splits the logical range [shift, shift+size) into the sequence of
// per-block windows it touches.
func windows(shift, size int) []window {
	if size <= 0 {
		return nil
	}

	first := shift / device.BlockSize
	last := (shift + size - 1) / device.BlockSize

	out := make([]window, 0, last-first+1)
	for i := first; i <= last; i++ {
		blockStart := i * device.BlockSize
		rangeStart := shift
		if blockStart > rangeStart {
			rangeStart = blockStart
		}
		rangeEnd := shift + size
		if blockStart+device.BlockSize < rangeEnd {
			rangeEnd = blockStart + device.BlockSize
		}
		out = append(out, window{
			blockIndex:   i,
			blockShift:   rangeStart - blockStart,
			length:       rangeEnd - rangeStart,
			bufferOffset: rangeStart - shift,
		})
	}
	return out
}

// Read returns size bytes of inodeBlock's logical data starting at byte
// offset shift. Logical holes read as zeroes.
func Read(dev *device.Device, inodeBlock device.BlockID, size, shift int) ([]byte, error) {
	if size > MaxFileSize {
		return nil, ferrors.ErrSizeTooBig.WithMessage("read size exceeds maximum file size")
	}
	if size <= 0 {
		return []byte{}, nil
	}

	n, err := inode.Load(dev, inodeBlock)
	if err != nil {
		return nil, err
	}
	if shift+size > int(n.Size) {
		return nil, ferrors.ErrSizeTooBig.WithMessage("read range exceeds file size")
	}

	buf := make([]byte, size)
	for _, w := range windows(shift, size) {
		chunk, err := dev.ReadBlock(n.Blocks[w.blockIndex], w.length, w.blockShift)
		if err != nil {
			return nil, err
		}
		copy(buf[w.bufferOffset:w.bufferOffset+w.length], chunk)
	}
	return buf, nil
}

// Write writes size bytes of data to inodeBlock's logical data starting at
// byte offset shift, growing the file (see Truncate) if the write extends
// past its current size. Writes of size <= 0 are no-ops.
//
// If materializing a logical hole fails partway through because the device
// is full, every block allocated during this call is released and the
// size grow that preceded it (if any) is reverted via Truncate, leaving
// the object's size and block table byte-for-byte as they were before the
// call; NoSpace is returned.
func Write(dev *device.Device, alloc *bitmap.Allocator, inodeBlock device.BlockID, size int, data []byte, shift int) error {
	if size > MaxFileSize {
		return ferrors.ErrSizeTooBig.WithMessage("write size exceeds maximum file size")
	}
	if size <= 0 {
		return nil
	}

	n, err := inode.Load(dev, inodeBlock)
	if err != nil {
		return err
	}
	originalSize := n.Size

	grew := shift+size > int(n.Size)
	if grew {
		if err := Truncate(dev, alloc, inodeBlock, shift+size); err != nil {
			return err
		}
		n, err = inode.Load(dev, inodeBlock)
		if err != nil {
			return err
		}
	}

	type allocated struct {
		index int
		block device.BlockID
	}
	var newlyAllocated []allocated

	// fail releases every block allocated so far in this call and, if the
	// write had grown the object, reverts that growth via Truncate, so a
	// failure here leaves no trace on disk.
	fail := func(err error) error {
		for _, a := range newlyAllocated {
			alloc.MarkFree(a.block)
		}
		if grew {
			if terr := Truncate(dev, alloc, inodeBlock, int(originalSize)); terr != nil {
				return terr
			}
		}
		return err
	}

	for _, w := range windows(shift, size) {
		blk := n.Blocks[w.blockIndex]
		if blk == inode.Hole {
			free, ok := alloc.FindFree()
			if !ok {
				return fail(ferrors.ErrNoSpace)
			}
			alloc.MarkUsed(free)
			n.Blocks[w.blockIndex] = free
			blk = free
			newlyAllocated = append(newlyAllocated, allocated{index: w.blockIndex, block: free})
		} else {
			alloc.MarkUsed(blk)
		}

		if err := dev.WriteBlock(blk, data[w.bufferOffset:w.bufferOffset+w.length], w.blockShift); err != nil {
			return fail(err)
		}
	}

	if err := inode.Store(dev, inodeBlock, n); err != nil {
		return err
	}
	return alloc.Flush(dev)
}

// Truncate changes inodeBlock's logical size to newSize, in [0, MaxFileSize].
//
// Growing the file turns every newly-covered block slot into a logical
// hole and zero-fills the tail of the previously-last block (from the old
// size to the end of that block). Shrinking the file frees every real
// block beyond the new last block and resets its slot to Unbound.
func Truncate(dev *device.Device, alloc *bitmap.Allocator, inodeBlock device.BlockID, newSize int) error {
	if newSize < 0 {
		return ferrors.ErrNegativeSize
	}
	if newSize > MaxFileSize {
		return ferrors.ErrSizeTooBig.WithMessage("truncate size exceeds maximum file size")
	}

	n, err := inode.Load(dev, inodeBlock)
	if err != nil {
		return err
	}

	oldBlocks := n.BlocksInUse()
	newBlocks := (newSize + device.BlockSize - 1) / device.BlockSize

	if newSize > int(n.Size) {
		if n.Size > 0 {
			tailShift := int(n.Size) % device.BlockSize
			if tailShift != 0 {
				lastUsed := oldBlocks - 1
				if err := dev.ZeroBlockTail(n.Blocks[lastUsed], tailShift); err != nil {
					return err
				}
			}
		}
		for i := oldBlocks; i < newBlocks; i++ {
			n.Blocks[i] = inode.Hole
		}
	} else if newSize < int(n.Size) {
		for i := newBlocks; i < oldBlocks; i++ {
			if n.Blocks[i] != inode.Hole {
				alloc.MarkFree(n.Blocks[i])
			}
			n.Blocks[i] = inode.Unbound
		}
	}

	n.Size = uint32(newSize)
	if err := inode.Store(dev, inodeBlock, n); err != nil {
		return err
	}
	return alloc.Flush(dev)
}
