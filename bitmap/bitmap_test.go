package bitmap_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
)

func newAllocator(t *testing.T, totalUnits uint) (*bitmap.Allocator, *device.Device) {
	t.Helper()
	bmBlocks := int64(1)
	buf := make([]byte, bmBlocks*device.BlockSize+int64(totalUnits)*device.BlockSize)
	dev := device.New(bytesextra.NewReadWriteSeeker(buf))

	a, err := bitmap.Load(dev, bmBlocks, bitmap.BlockID(bmBlocks), totalUnits)
	require.NoError(t, err)
	return a, dev
}

func TestFindFreeScansFromFirstManaged(t *testing.T) {
	a, _ := newAllocator(t, 8)

	b, ok := a.FindFree()
	require.True(t, ok)
	require.Equal(t, a.FirstManaged(), b)
}

func TestMarkUsedThenFindFreeSkipsIt(t *testing.T) {
	a, _ := newAllocator(t, 8)

	first, _ := a.FindFree()
	a.MarkUsed(first)
	require.True(t, a.IsUsed(first))

	second, ok := a.FindFree()
	require.True(t, ok)
	require.NotEqual(t, first, second)
}

func TestMarkFreeIsIdempotent(t *testing.T) {
	a, _ := newAllocator(t, 4)
	b := a.FirstManaged()

	a.MarkFree(b)
	a.MarkFree(b)
	require.False(t, a.IsUsed(b))
}

func TestExhaustion(t *testing.T) {
	a, _ := newAllocator(t, 2)

	b1, ok := a.FindFree()
	require.True(t, ok)
	a.MarkUsed(b1)

	b2, ok := a.FindFree()
	require.True(t, ok)
	a.MarkUsed(b2)

	_, ok = a.FindFree()
	require.False(t, ok, "allocator should report no space once full")

	a.MarkFree(b1)
	_, ok = a.FindFree()
	require.True(t, ok, "freeing a block should make it available again")
}

func TestFlushPersistsBitsToDevice(t *testing.T) {
	a, dev := newAllocator(t, 16)

	b, _ := a.FindFree()
	a.MarkUsed(b)
	require.NoError(t, a.Flush(dev))

	reloaded, err := bitmap.Load(dev, 1, a.FirstManaged(), a.TotalUnits())
	require.NoError(t, err)
	require.True(t, reloaded.IsUsed(b))
}

func TestLSBFirstAddressing(t *testing.T) {
	a, dev := newAllocator(t, 16)

	// Block firstManaged+3 should land on bit 3 of byte 0.
	a.MarkUsed(a.FirstManaged() + 3)
	require.NoError(t, a.Flush(dev))

	raw, err := dev.ReadAt(0, 1)
	require.NoError(t, err)
	require.Equal(t, byte(1<<3), raw[0])
}
