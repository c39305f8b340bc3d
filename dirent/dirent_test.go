package dirent_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	"github.com/okdisk/blockfs/dirent"
	ferrors "github.com/okdisk/blockfs/errors"
	"github.com/okdisk/blockfs/inode"
)

func newFixture(t *testing.T, dataBlocks uint) (*device.Device, *bitmap.Allocator, device.BlockID) {
	t.Helper()

	bmBytes := bitmap.SizeInBytes(dataBlocks)
	bmBlocks := (bmBytes + device.BlockSize - 1) / device.BlockSize
	if bmBlocks == 0 {
		bmBlocks = 1
	}

	const dirBlock = device.BlockID(1)
	firstManaged := device.BlockID(bmBlocks) + 1

	total := int64(firstManaged) + int64(dataBlocks)
	buf := make([]byte, total*device.BlockSize)
	dev := device.New(bytesextra.NewReadWriteSeeker(buf))

	require.NoError(t, inode.Store(dev, dirBlock, inode.Inode{Type: inode.TypeDir, Links: 1}))

	alloc, err := bitmap.Load(dev, bmBlocks, firstManaged, dataBlocks)
	require.NoError(t, err)

	return dev, alloc, dirBlock
}

func TestAddAndListRecords(t *testing.T) {
	dev, alloc, dirBlock := newFixture(t, 4)

	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, ".", dirBlock))
	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "..", dirBlock))
	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "child", device.BlockID(9)))

	links, err := dirent.List(dev, dirBlock)
	require.NoError(t, err)
	require.Equal(t, []dirent.Link{
		{Name: ".", Inode: dirBlock},
		{Name: "..", Inode: dirBlock},
		{Name: "child", Inode: 9},
	}, links)
}

func TestAddRecordRejectsLongName(t *testing.T) {
	dev, alloc, dirBlock := newFixture(t, 4)
	err := dirent.AddRecord(dev, alloc, dirBlock, "twelve-chars", device.BlockID(2))
	require.ErrorIs(t, err, ferrors.ErrNameTooLong)
}

func TestRemoveRecordCompactsAndReportsMissing(t *testing.T) {
	dev, alloc, dirBlock := newFixture(t, 4)

	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "a", device.BlockID(2)))
	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "b", device.BlockID(3)))
	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "c", device.BlockID(4)))

	found, err := dirent.RemoveRecord(dev, alloc, dirBlock, device.BlockID(3))
	require.NoError(t, err)
	require.True(t, found)

	links, err := dirent.List(dev, dirBlock)
	require.NoError(t, err)
	require.Equal(t, []dirent.Link{
		{Name: "a", Inode: 2},
		{Name: "c", Inode: 4},
	}, links)

	found, err = dirent.RemoveRecord(dev, alloc, dirBlock, device.BlockID(99))
	require.NoError(t, err)
	require.False(t, found)
}

func TestRemoveLastRecordFreesDataBlock(t *testing.T) {
	dev, alloc, dirBlock := newFixture(t, 4)

	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "only", device.BlockID(2)))
	freeBefore := alloc.FreeCount()

	found, err := dirent.RemoveRecord(dev, alloc, dirBlock, device.BlockID(2))
	require.NoError(t, err)
	require.True(t, found)
	require.Equal(t, freeBefore+1, alloc.FreeCount())

	n, err := inode.Load(dev, dirBlock)
	require.NoError(t, err)
	require.EqualValues(t, 0, n.Size)
}

func TestAddRecordAcrossBlockBoundaryIsAtomicOnNoSpace(t *testing.T) {
	// Exactly one data block is available: enough to hold a full block of
	// records (512/16 = 32), but not the one after that. The 33rd append
	// must fail without growing the directory at all.
	dev, alloc, dirBlock := newFixture(t, 1)

	perBlock := device.BlockSize / dirent.RecordSize
	for i := 0; i < perBlock; i++ {
		name := string(rune('a' + i%26))
		require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, name, device.BlockID(100+i)))
	}

	n, err := inode.Load(dev, dirBlock)
	require.NoError(t, err)
	require.EqualValues(t, perBlock*dirent.RecordSize, n.Size)

	err = dirent.AddRecord(dev, alloc, dirBlock, "overflow", device.BlockID(999))
	require.ErrorIs(t, err, ferrors.ErrNoSpace)

	n, err = inode.Load(dev, dirBlock)
	require.NoError(t, err)
	require.EqualValues(t, perBlock*dirent.RecordSize, n.Size, "failed append must not grow the directory")

	links, err := dirent.List(dev, dirBlock)
	require.NoError(t, err)
	require.Len(t, links, perBlock)
	for _, l := range links {
		require.NotEqual(t, "overflow", l.Name)
	}
}

func TestFind(t *testing.T) {
	dev, alloc, dirBlock := newFixture(t, 4)
	require.NoError(t, dirent.AddRecord(dev, alloc, dirBlock, "x", device.BlockID(7)))

	l, ok, err := dirent.Find(dev, dirBlock, "x")
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, device.BlockID(7), l.Inode)

	_, ok, err = dirent.Find(dev, dirBlock, "missing")
	require.NoError(t, err)
	require.False(t, ok)
}
