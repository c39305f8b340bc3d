package pathresolve_test

import (
	"testing"

	"github.com/stretchr/testify/require"
	"github.com/xaionaro-go/bytesextra"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	"github.com/okdisk/blockfs/dirent"
	"github.com/okdisk/blockfs/filedata"
	"github.com/okdisk/blockfs/inode"
	"github.com/okdisk/blockfs/pathresolve"
)

const root = device.BlockID(1)

// fixture builds a small tree under root:
//
//	/           (root, block 1)
//	/dir1       (block 3)
//	/symlink -> dir1
//	/dir1/dir2  (block 7, created through the symlink)
func newFixture(t *testing.T) (*device.Device, *bitmap.Allocator) {
	t.Helper()

	dataBlocks := uint(16)
	bmBytes := bitmap.SizeInBytes(dataBlocks)
	bmBlocks := (bmBytes + device.BlockSize - 1) / device.BlockSize
	if bmBlocks == 0 {
		bmBlocks = 1
	}
	firstManaged := device.BlockID(bmBlocks)

	total := int64(firstManaged) + int64(dataBlocks)
	buf := make([]byte, total*device.BlockSize)
	dev := device.New(bytesextra.NewReadWriteSeeker(buf))

	alloc, err := bitmap.Load(dev, bmBlocks, firstManaged, dataBlocks)
	require.NoError(t, err)
	alloc.MarkUsed(root)

	require.NoError(t, inode.Store(dev, root, inode.Inode{Type: inode.TypeDir, Links: 1}))
	require.NoError(t, dirent.AddRecord(dev, alloc, root, ".", root))
	require.NoError(t, dirent.AddRecord(dev, alloc, root, "..", root))

	dir1, ok := alloc.FindFree()
	require.True(t, ok)
	alloc.MarkUsed(dir1)
	require.NoError(t, inode.Store(dev, dir1, inode.Inode{Type: inode.TypeDir, Links: 1}))
	require.NoError(t, dirent.AddRecord(dev, alloc, dir1, ".", dir1))
	require.NoError(t, dirent.AddRecord(dev, alloc, dir1, "..", root))
	require.NoError(t, dirent.AddRecord(dev, alloc, root, "dir1", dir1))

	symlinkBlk, ok := alloc.FindFree()
	require.True(t, ok)
	alloc.MarkUsed(symlinkBlk)
	require.NoError(t, inode.Store(dev, symlinkBlk, inode.Inode{Type: inode.TypeSymlink, Links: 1}))
	target := "dir1\x00"
	require.NoError(t, filedata.Write(dev, alloc, symlinkBlk, len(target), []byte(target), 0))
	require.NoError(t, dirent.AddRecord(dev, alloc, root, "symlink", symlinkBlk))

	dir2, ok := alloc.FindFree()
	require.True(t, ok)
	alloc.MarkUsed(dir2)
	require.NoError(t, inode.Store(dev, dir2, inode.Inode{Type: inode.TypeDir, Links: 1}))
	require.NoError(t, dirent.AddRecord(dev, alloc, dir2, ".", dir2))
	require.NoError(t, dirent.AddRecord(dev, alloc, dir2, "..", dir1))
	require.NoError(t, dirent.AddRecord(dev, alloc, dir1, "dir2", dir2))

	require.NoError(t, alloc.Flush(dev))
	return dev, alloc
}

func TestResolveSimplePath(t *testing.T) {
	dev, _ := newFixture(t)

	res, err := pathresolve.Resolve(dev, root, "/dir1/")
	require.NoError(t, err)
	require.True(t, res.FoundOK)
	require.True(t, res.ParentOK)
	require.Equal(t, root, res.Parent)
}

func TestResolveThroughSymlink(t *testing.T) {
	dev, _ := newFixture(t)

	res, err := pathresolve.Resolve(dev, root, "/symlink/dir2/")
	require.NoError(t, err)
	require.True(t, res.FoundOK)

	n, err := inode.Load(dev, res.Found)
	require.NoError(t, err)
	require.True(t, n.IsDir())
}

func TestResolveNotFound(t *testing.T) {
	dev, _ := newFixture(t)

	res, err := pathresolve.Resolve(dev, root, "/nope/")
	require.NoError(t, err)
	require.False(t, res.FoundOK)
	require.True(t, res.ParentOK)
	require.Equal(t, root, res.Parent)
}

func TestPromote(t *testing.T) {
	require.Equal(t, "/a/", pathresolve.Promote("/wd/", "/a"))
	require.Equal(t, "/wd/a/", pathresolve.Promote("/wd/", "a"))
	require.Equal(t, "/wd/a/", pathresolve.Promote("/wd/", "a/"))
}

func TestSimplify(t *testing.T) {
	require.Equal(t, "/a/", pathresolve.Simplify("a/b/../"))
	require.Equal(t, "/", pathresolve.Simplify("a/../"))
	require.Equal(t, "/a/b/", pathresolve.Simplify("a/./b/"))
}
