// Package fs implements the namespace operations: the externally visible
// verbs (create, link, unlink, mkdir, rmdir, truncate, open, close, ls, cd,
// pwd, filestat, symlink) as thin orchestrators over the directory and
// path-resolution layers, plus the mount/unmount lifecycle that bootstraps
// and tears down a Filesystem's process-wide state.
package fs

import (
	"os"
	"strings"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	"github.com/okdisk/blockfs/dirent"
	ferrors "github.com/okdisk/blockfs/errors"
	"github.com/okdisk/blockfs/filedata"
	"github.com/okdisk/blockfs/inode"
	"github.com/okdisk/blockfs/pathresolve"
)

// Filesystem is the single mounted-image collaborator every namespace verb
// is called against. It is created unmounted by New and populated by
// Mount; every verb but Mount fails with NotMounted until then.
type Filesystem struct {
	file    *os.File
	dev     *device.Device
	alloc   *bitmap.Allocator
	mounted bool

	capacity int64
	nb       int64
	bm       int64
	root     device.BlockID

	openDescriptors map[device.BlockID]bool
	workingDir      string
}

// Stat is the result of Filestat: an inode's type, logical size, and link
// count.
type Stat struct {
	Type  int
	Size  uint32
	Links uint32
}

// DirEntry is one (name, inode) pair as returned by Ls.
type DirEntry struct {
	Name  string
	Inode device.BlockID
}

// New returns an unmounted Filesystem collaborator.
func New() *Filesystem {
	return &Filesystem{}
}

// Mount opens the backing image at path, derives its block geometry from
// its length, and bootstraps the root directory if its block isn't yet
// marked used (e.g. a raw zero-filled image not produced by package
// format). Working directory is reset to "/".
func (fs *Filesystem) Mount(path string) error {
	f, err := os.OpenFile(path, os.O_RDWR, 0o644)
	if err != nil {
		return ferrors.ErrIO.WrapError(err)
	}

	info, err := f.Stat()
	if err != nil {
		f.Close()
		return ferrors.ErrIO.WrapError(err)
	}

	capacity := info.Size()
	dev := device.New(f)
	nb := device.TotalBlocks(capacity)
	bm := bitmap.RegionBlocks(capacity)
	root := device.BlockID(bm)
	totalUnits := uint(nb - bm)

	alloc, err := bitmap.Load(dev, bm, root, totalUnits)
	if err != nil {
		f.Close()
		return err
	}

	fs.file = f
	fs.dev = dev
	fs.alloc = alloc
	fs.capacity = capacity
	fs.nb = nb
	fs.bm = bm
	fs.root = root
	fs.openDescriptors = make(map[device.BlockID]bool)
	fs.workingDir = "/"
	fs.mounted = true

	if !alloc.IsUsed(root) {
		alloc.MarkUsed(root)
		// Root's links count is 2 (its own "." plus its self-referencing
		// ".."), the same "2 + direct subdirectory count" convention every
		// directory's link count follows; see Create's TypeDir branch.
		if err := inode.Store(dev, root, inode.Inode{Type: inode.TypeDir, Links: 2}); err != nil {
			return err
		}
		if err := dirent.AddRecord(dev, alloc, root, ".", root); err != nil {
			return err
		}
		if err := dirent.AddRecord(dev, alloc, root, "..", root); err != nil {
			return err
		}
		if err := alloc.Flush(dev); err != nil {
			return err
		}
	}

	return nil
}

// Unmount clears all in-memory state and closes the backing file.
// Idempotent.
func (fs *Filesystem) Unmount() error {
	if !fs.mounted {
		return nil
	}
	err := fs.file.Close()
	*fs = Filesystem{}
	if err != nil {
		return ferrors.ErrIO.WrapError(err)
	}
	return nil
}

// Device returns the mounted image's device handle, for collaborators like
// package fsck that need to walk the raw inode/bitmap structures directly.
func (fs *Filesystem) Device() *device.Device {
	return fs.dev
}

// Allocator returns the mounted image's block allocator.
func (fs *Filesystem) Allocator() *bitmap.Allocator {
	return fs.alloc
}

// Root returns the mounted image's root directory inode block.
func (fs *Filesystem) Root() device.BlockID {
	return fs.root
}

func (fs *Filesystem) requireMounted() error {
	if !fs.mounted {
		return ferrors.ErrNotMounted
	}
	return nil
}

func (fs *Filesystem) resolve(path string) (pathresolve.Result, error) {
	abs := pathresolve.Promote(fs.workingDir, path)
	return pathresolve.Resolve(fs.dev, fs.root, abs)
}

// basename returns the last path component of a promoted (absolute,
// trailing-slash-terminated) path: the literal name a namespace verb
// should bind, as opposed to whatever a symlink along the way might
// expand to.
func basename(promotedPath string) string {
	trimmed := strings.TrimSuffix(promotedPath, "/")
	if idx := strings.LastIndexByte(trimmed, '/'); idx >= 0 {
		return trimmed[idx+1:]
	}
	return trimmed
}

// Create adds a new inode of the given type at path. For type ==
// inode.TypeDir, the new directory gets "." and ".." entries (".." points
// at the parent; the parent's entry list gains only the new name).
// Its own links count starts at 2 (its "." plus the new entry in the
// parent naming it), and the parent's links count is incremented by one
// to account for the new directory's ".." reference — the conventional
// "2 + direct subdirectory count" link accounting, applied uniformly so
// fsck's per-inode link parity check holds for every directory, root
// included. For type == inode.TypeSymlink, linkTarget (plus a trailing
// NUL) becomes the new inode's data.
func (fs *Filesystem) Create(path string, typ int, linkTarget string) (device.BlockID, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}

	promoted := pathresolve.Promote(fs.workingDir, path)
	res, err := pathresolve.Resolve(fs.dev, fs.root, promoted)
	if err != nil {
		return 0, err
	}
	if res.FoundOK {
		return 0, ferrors.ErrAlreadyExists
	}
	if !res.ParentOK {
		return 0, ferrors.ErrBadPath
	}

	parent, err := inode.Load(fs.dev, res.Parent)
	if err != nil {
		return 0, err
	}
	if !parent.IsDir() {
		return 0, ferrors.ErrNotDirectory
	}

	name := basename(promoted)
	if len(name) > dirent.FNameLen-1 {
		return 0, ferrors.ErrNameTooLong
	}

	newBlock, ok := fs.alloc.FindFree()
	if !ok {
		return 0, ferrors.ErrNoSpace
	}
	fs.alloc.MarkUsed(newBlock)

	initialLinks := uint32(1)
	if typ == inode.TypeDir {
		initialLinks = 2
	}
	if err := inode.Store(fs.dev, newBlock, inode.Inode{Type: typ, Links: initialLinks}); err != nil {
		fs.alloc.MarkFree(newBlock)
		return 0, err
	}

	if err := dirent.AddRecord(fs.dev, fs.alloc, res.Parent, name, newBlock); err != nil {
		fs.alloc.MarkFree(newBlock)
		return 0, err
	}

	switch typ {
	case inode.TypeDir:
		if err := dirent.AddRecord(fs.dev, fs.alloc, newBlock, ".", newBlock); err != nil {
			return 0, err
		}
		if err := dirent.AddRecord(fs.dev, fs.alloc, newBlock, "..", res.Parent); err != nil {
			return 0, err
		}
		// Reload: the AddRecord calls above already grew the parent's own
		// size on disk, so incrementing the stale in-memory copy loaded
		// before them would clobber that with its old size.
		parent, err = inode.Load(fs.dev, res.Parent)
		if err != nil {
			return 0, err
		}
		parent.Links++
		if err := inode.Store(fs.dev, res.Parent, parent); err != nil {
			return 0, err
		}
	case inode.TypeSymlink:
		payload := linkTarget + "\x00"
		if err := filedata.Write(fs.dev, fs.alloc, newBlock, len(payload), []byte(payload), 0); err != nil {
			return 0, err
		}
	}

	if err := fs.alloc.Flush(fs.dev); err != nil {
		return 0, err
	}
	return newBlock, nil
}

// Read reads size bytes of inodeBlock's data starting at byte shift.
func (fs *Filesystem) Read(inodeBlock device.BlockID, size, shift int) ([]byte, error) {
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}
	return filedata.Read(fs.dev, inodeBlock, size, shift)
}

// Write writes size bytes of data to inodeBlock starting at byte shift.
func (fs *Filesystem) Write(inodeBlock device.BlockID, size int, data []byte, shift int) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	return filedata.Write(fs.dev, fs.alloc, inodeBlock, size, data, shift)
}

// Truncate changes inodeBlock's logical size.
func (fs *Filesystem) Truncate(inodeBlock device.BlockID, newSize int) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	return filedata.Truncate(fs.dev, fs.alloc, inodeBlock, newSize)
}

// TruncatePath resolves name and truncates the inode it names.
func (fs *Filesystem) TruncatePath(name string, newSize int) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	res, err := fs.resolve(name)
	if err != nil {
		return err
	}
	if !res.FoundOK {
		return ferrors.ErrNotFound
	}
	return filedata.Truncate(fs.dev, fs.alloc, res.Found, newSize)
}

// Open resolves name, requires it to be a regular file, and registers its
// inode block as an open descriptor.
func (fs *Filesystem) Open(name string) (device.BlockID, error) {
	if err := fs.requireMounted(); err != nil {
		return 0, err
	}
	res, err := fs.resolve(name)
	if err != nil {
		return 0, err
	}
	if !res.FoundOK {
		return 0, ferrors.ErrNotFound
	}

	n, err := inode.Load(fs.dev, res.Found)
	if err != nil {
		return 0, err
	}
	if !n.IsFile() {
		return 0, ferrors.ErrNotFile
	}

	if res.Found > 0 {
		fs.openDescriptors[res.Found] = true
	}
	return res.Found, nil
}

// Close removes inodeBlock from the open-descriptor set. Idempotent.
func (fs *Filesystem) Close(inodeBlock device.BlockID) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}
	delete(fs.openDescriptors, inodeBlock)
	return nil
}

// Link resolves existing, requires it to exist, and adds newName as
// another directory entry for the same inode in newName's own parent
// directory, incrementing the inode's link count.
func (fs *Filesystem) Link(existing, newName string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}

	existingRes, err := fs.resolve(existing)
	if err != nil {
		return err
	}
	if !existingRes.FoundOK {
		return ferrors.ErrNotFound
	}

	promoted := pathresolve.Promote(fs.workingDir, newName)
	newRes, err := pathresolve.Resolve(fs.dev, fs.root, promoted)
	if err != nil {
		return err
	}
	if newRes.FoundOK {
		return ferrors.ErrAlreadyExists
	}
	if !newRes.ParentOK {
		return ferrors.ErrBadPath
	}

	name := basename(promoted)
	if len(name) > dirent.FNameLen-1 {
		return ferrors.ErrNameTooLong
	}

	if err := dirent.AddRecord(fs.dev, fs.alloc, newRes.Parent, name, existingRes.Found); err != nil {
		return err
	}

	n, err := inode.Load(fs.dev, existingRes.Found)
	if err != nil {
		return err
	}
	n.Links++
	return inode.Store(fs.dev, existingRes.Found, n)
}

// Unlink resolves name, requires it to exist and not be open, and removes
// its directory entry. When the inode's link count drops to zero its data
// is released and its own block is freed; otherwise only the link count is
// decremented.
func (fs *Filesystem) Unlink(name string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}

	res, err := fs.resolve(name)
	if err != nil {
		return err
	}
	if !res.FoundOK {
		return ferrors.ErrNotFound
	}
	if fs.openDescriptors[res.Found] {
		return ferrors.ErrBusy
	}

	n, err := inode.Load(fs.dev, res.Found)
	if err != nil {
		return err
	}

	if n.Links > 1 {
		if _, err := dirent.RemoveRecord(fs.dev, fs.alloc, res.Parent, res.Found); err != nil {
			return err
		}
		n.Links--
		return inode.Store(fs.dev, res.Found, n)
	}

	if err := filedata.Truncate(fs.dev, fs.alloc, res.Found, 0); err != nil {
		return err
	}
	if _, err := dirent.RemoveRecord(fs.dev, fs.alloc, res.Parent, res.Found); err != nil {
		return err
	}
	fs.alloc.MarkFree(res.Found)
	return fs.alloc.Flush(fs.dev)
}

// Mkdir creates a new directory at path.
func (fs *Filesystem) Mkdir(path string) (device.BlockID, error) {
	return fs.Create(path, inode.TypeDir, "")
}

// Rmdir resolves path, requires it to be an empty directory (only "." and
// ".."), and removes it. Unlike Unlink's generic hardlink accounting
// (which a directory's links count doesn't follow — see Create), this
// frees the directory outright and decrements its parent's links count by
// one, undoing the increment Create made for this directory's ".."
// reference.
func (fs *Filesystem) Rmdir(path string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}

	res, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if !res.FoundOK {
		return ferrors.ErrNotFound
	}

	n, err := inode.Load(fs.dev, res.Found)
	if err != nil {
		return err
	}
	if !n.IsDir() {
		return ferrors.ErrNotDirectory
	}
	if n.Size > 2*dirent.RecordSize {
		return ferrors.ErrDirNotEmpty
	}
	if fs.openDescriptors[res.Found] {
		return ferrors.ErrBusy
	}

	if err := filedata.Truncate(fs.dev, fs.alloc, res.Found, 0); err != nil {
		return err
	}
	if _, err := dirent.RemoveRecord(fs.dev, fs.alloc, res.Parent, res.Found); err != nil {
		return err
	}
	fs.alloc.MarkFree(res.Found)

	parent, err := inode.Load(fs.dev, res.Parent)
	if err != nil {
		return err
	}
	parent.Links--
	if err := inode.Store(fs.dev, res.Parent, parent); err != nil {
		return err
	}

	return fs.alloc.Flush(fs.dev)
}

// Symlink creates a symlink named name whose target is the literal string
// target.
func (fs *Filesystem) Symlink(target, name string) (device.BlockID, error) {
	return fs.Create(name, inode.TypeSymlink, target)
}

// Ls enumerates the directory entries of path in stored order. An empty
// path means the current working directory.
func (fs *Filesystem) Ls(path string) ([]DirEntry, error) {
	if err := fs.requireMounted(); err != nil {
		return nil, err
	}

	if path == "" {
		path = fs.workingDir
	}
	res, err := fs.resolve(path)
	if err != nil {
		return nil, err
	}
	if !res.FoundOK {
		return nil, ferrors.ErrNotFound
	}
	dirBlock := res.Found

	n, err := inode.Load(fs.dev, dirBlock)
	if err != nil {
		return nil, err
	}
	if !n.IsDir() {
		return nil, ferrors.ErrNotDirectory
	}

	links, err := dirent.List(fs.dev, dirBlock)
	if err != nil {
		return nil, err
	}

	out := make([]DirEntry, len(links))
	for i, l := range links {
		out[i] = DirEntry{Name: l.Name, Inode: l.Inode}
	}
	return out, nil
}

// ListWorkingDir enumerates the current working directory, mirroring a
// no-argument ls.
func (fs *Filesystem) ListWorkingDir() ([]DirEntry, error) {
	return fs.Ls("")
}

// Cd resolves path, requires it to be a directory, and sets the working
// directory to its simplified canonical form.
func (fs *Filesystem) Cd(path string) error {
	if err := fs.requireMounted(); err != nil {
		return err
	}

	res, err := fs.resolve(path)
	if err != nil {
		return err
	}
	if !res.FoundOK {
		return ferrors.ErrNotFound
	}

	n, err := inode.Load(fs.dev, res.Found)
	if err != nil {
		return err
	}
	if !n.IsDir() {
		return ferrors.ErrNotDirectory
	}

	fs.workingDir = pathresolve.Simplify(res.CanonicalPath)
	return nil
}

// Pwd returns the current working directory.
func (fs *Filesystem) Pwd() (string, error) {
	if err := fs.requireMounted(); err != nil {
		return "", err
	}
	return fs.workingDir, nil
}

// StatPath resolves name to an inode of any type and reports its Filestat,
// unlike Open which requires a regular file.
func (fs *Filesystem) StatPath(name string) (Stat, error) {
	if err := fs.requireMounted(); err != nil {
		return Stat{}, err
	}
	res, err := fs.resolve(name)
	if err != nil {
		return Stat{}, err
	}
	if !res.FoundOK {
		return Stat{}, ferrors.ErrNotFound
	}
	return fs.Filestat(res.Found)
}

// Filestat reports an inode's type, size, and link count. It reports
// BadId when inodeBlock is not a live inode: outside the allocator's
// managed range, or not marked used in the bitmap. The root inode is always
// considered valid.
func (fs *Filesystem) Filestat(inodeBlock device.BlockID) (Stat, error) {
	if err := fs.requireMounted(); err != nil {
		return Stat{}, err
	}

	if inodeBlock != fs.root {
		first := fs.alloc.FirstManaged()
		end := first + device.BlockID(fs.alloc.TotalUnits())
		if inodeBlock < first || inodeBlock >= end || !fs.alloc.IsUsed(inodeBlock) {
			return Stat{}, ferrors.ErrBadID
		}
	}

	n, err := inode.Load(fs.dev, inodeBlock)
	if err != nil {
		return Stat{}, err
	}

	return Stat{Type: n.Type, Size: n.Size, Links: n.Links}, nil
}
