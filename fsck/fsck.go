// Package fsck walks a mounted image's live inode graph and verifies the
// invariants the rest of the stack is supposed to maintain, accumulating
// every violation it finds instead of stopping at the first one.
package fsck

import (
	"fmt"

	"github.com/hashicorp/go-multierror"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	"github.com/okdisk/blockfs/dirent"
	"github.com/okdisk/blockfs/inode"
)

// Check verifies, starting at root, that:
//  1. every block a live inode's direct-block table references (other than
//     the Unbound/Hole sentinels) is marked used in the bitmap;
//  2. every live inode's own block is marked used;
//  3. every directory's size is a multiple of a link record, and its first
//     two records (for non-root directories) are "." and "..";
//  4. every inode's links field equals the number of directory entries
//     across the whole tree that reference it, including a directory's
//     own "." (and, for the root, its self-referencing "..").
//
// It returns nil if every invariant holds, or a *multierror.Error
// collecting every violation found.
func Check(dev *device.Device, alloc *bitmap.Allocator, root device.BlockID) error {
	var result *multierror.Error

	linkCounts := make(map[device.BlockID]int)
	visited := make(map[device.BlockID]bool)

	var walk func(block device.BlockID, isRoot bool)
	walk = func(block device.BlockID, isRoot bool) {
		if visited[block] {
			return
		}
		visited[block] = true

		if !alloc.IsUsed(block) {
			result = multierror.Append(result, fmt.Errorf("inode block %d is live but not marked used in the bitmap", block))
		}

		n, err := inode.Load(dev, block)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("inode block %d: %w", block, err))
			return
		}

		for i := 0; i < n.BlocksInUse(); i++ {
			b := n.Blocks[i]
			if b == inode.Unbound || b == inode.Hole {
				continue
			}
			if !alloc.IsUsed(b) {
				result = multierror.Append(result, fmt.Errorf("inode block %d references data block %d not marked used", block, b))
			}
		}

		if !n.IsDir() {
			return
		}

		if n.Size%dirent.RecordSize != 0 {
			result = multierror.Append(result, fmt.Errorf("directory block %d has size %d, not a multiple of %d", block, n.Size, dirent.RecordSize))
		}

		links, err := dirent.List(dev, block)
		if err != nil {
			result = multierror.Append(result, fmt.Errorf("directory block %d: %w", block, err))
			return
		}

		if !isRoot {
			if len(links) < 2 || links[0].Name != "." || links[1].Name != ".." {
				result = multierror.Append(result, fmt.Errorf("directory block %d does not begin with \".\", \"..\"", block))
			}
		}

		for _, l := range links {
			linkCounts[l.Inode]++
			if l.Name == "." || l.Name == ".." {
				continue
			}
			walk(l.Inode, false)
		}
	}

	walk(root, true)

	for block := range visited {
		n, err := inode.Load(dev, block)
		if err != nil {
			continue
		}
		if int(n.Links) != linkCounts[block] {
			result = multierror.Append(result, fmt.Errorf(
				"inode block %d has links=%d but %d directory entries reference it",
				block, n.Links, linkCounts[block]))
		}
	}

	return result.ErrorOrNil()
}
