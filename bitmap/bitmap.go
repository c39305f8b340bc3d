// Package bitmap implements the block allocation bitmap described in the
// specification: one bit per managed block, LSB-first within each byte,
// living in the first BM blocks of the device image.
package bitmap

import (
	"fmt"

	gobitmap "github.com/boljen/go-bitmap"

	"github.com/okdisk/blockfs/device"
)

// Allocator tracks which blocks in [firstManaged, firstManaged+totalUnits)
// are in use. Its backing bytes are exactly the bitmap region of the device
// image: bit k of byte b represents block firstManaged + 8*b + k, matching
// gobitmap.Bitmap's own LSB-first addressing, so no translation is needed
// between the in-memory representation and the on-disk one.
type Allocator struct {
	bits          gobitmap.Bitmap
	firstManaged  BlockID
	totalUnits    uint
	regionOffset  int64
	regionLenBlks int64
}

// BlockID is a block number in the managed region of the device.
type BlockID = device.BlockID

// SizeInBytes returns the minimum number of bytes required to hold a bitmap
// covering the given number of managed blocks.
func SizeInBytes(totalUnits uint) int64 {
	return int64((totalUnits + 7) / 8)
}

// RegionBlocks returns BM, the number of whole blocks the bitmap region
// occupies for a device image of the given byte capacity: enough blocks to
// hold one bit per block of the image, using only bits within the bitmap
// region itself to describe it.
func RegionBlocks(capacityBytes int64) int64 {
	denom := int64(device.BlockSize) * int64(device.BlockSize) * 8
	return (capacityBytes + denom - 1) / denom
}

// Load reads the bitmap region (the first bmBlocks blocks of dev) and
// returns an Allocator over it. firstManaged is the lowest block index the
// bitmap tracks (BM in the specification, also the root inode's block);
// totalUnits is the count of blocks it must cover, i.e. NB - BM.
func Load(dev *device.Device, bmBlocks int64, firstManaged BlockID, totalUnits uint) (*Allocator, error) {
	regionLen := bmBlocks * device.BlockSize
	raw, err := dev.ReadAt(0, int(regionLen))
	if err != nil {
		return nil, err
	}

	needed := SizeInBytes(totalUnits)
	if int64(len(raw)) < needed {
		return nil, fmt.Errorf("bitmap region too small: have %d bytes, need %d", len(raw), needed)
	}

	return &Allocator{
		bits:          gobitmap.Bitmap(raw),
		firstManaged:  firstManaged,
		totalUnits:    totalUnits,
		regionOffset:  0,
		regionLenBlks: bmBlocks,
	}, nil
}

// Flush writes the bitmap's current bytes back to the device's bitmap
// region.
func (a *Allocator) Flush(dev *device.Device) error {
	return dev.WriteAt(a.regionOffset, a.bits.Data(false))
}

func (a *Allocator) bitIndex(b BlockID) int {
	return int(b - a.firstManaged)
}

// IsUsed reports whether block b is currently marked in use.
func (a *Allocator) IsUsed(b BlockID) bool {
	return a.bits.Get(a.bitIndex(b))
}

// MarkUsed marks block b as in use. Idempotent.
func (a *Allocator) MarkUsed(b BlockID) {
	a.bits.Set(a.bitIndex(b), true)
}

// MarkFree marks block b as free. Idempotent.
func (a *Allocator) MarkFree(b BlockID) {
	a.bits.Set(a.bitIndex(b), false)
}

// FindFree scans from the lowest managed block upward and returns the first
// free block. ok is false if the device is full.
func (a *Allocator) FindFree() (b BlockID, ok bool) {
	for i := uint(0); i < a.totalUnits; i++ {
		if !a.bits.Get(int(i)) {
			return a.firstManaged + BlockID(i), true
		}
	}
	return 0, false
}

// FirstManaged returns the lowest block index this allocator tracks (BM).
func (a *Allocator) FirstManaged() BlockID {
	return a.firstManaged
}

// TotalUnits returns the number of blocks this allocator tracks.
func (a *Allocator) TotalUnits() uint {
	return a.totalUnits
}

// FreeCount returns the number of currently-unallocated managed blocks.
func (a *Allocator) FreeCount() uint {
	free := uint(0)
	for i := uint(0); i < a.totalUnits; i++ {
		if !a.bits.Get(int(i)) {
			free++
		}
	}
	return free
}
