// Package pathresolve implements the path resolver: splitting an absolute
// path into tokens, walking directory links, and expanding symlinks
// mid-walk via an explicit token-queue state machine rather than
// recursion, so a cycle/sanity cap is straightforward to enforce.
package pathresolve

import (
	"strings"

	"github.com/okdisk/blockfs/device"
	"github.com/okdisk/blockfs/dirent"
	ferrors "github.com/okdisk/blockfs/errors"
	"github.com/okdisk/blockfs/filedata"
	"github.com/okdisk/blockfs/inode"
)

// maxSteps bounds the number of name lookups a single resolution may
// perform, including all symlink expansions. Cyclic symlink targets would
// otherwise expand without bound; this is the sanity cap the specification
// leaves to the implementer's discretion.
const maxSteps = 4096

// Result is the outcome of resolving a path: the inode it names (if any),
// the inode of its containing directory, and the canonical path actually
// walked.
type Result struct {
	Found         device.BlockID
	FoundOK       bool
	Parent        device.BlockID
	ParentOK      bool
	CanonicalPath string
}

func splitTokens(path string) []string {
	var out []string
	for _, tok := range strings.Split(path, "/") {
		if tok != "" {
			out = append(out, tok)
		}
	}
	return out
}

// splitSymlinkTarget tokenizes a symlink's target text, preserving a
// leading "/" as a literal token so the caller can detect an absolute
// target.
func splitSymlinkTarget(target string) []string {
	if strings.HasPrefix(target, "/") {
		return append([]string{"/"}, splitTokens(target)...)
	}
	return splitTokens(target)
}

// Resolve walks path (which must already be absolute and trailing-slash
// terminated, per Promote) starting at root, expanding symlinks
// encountered along the way.
func Resolve(dev *device.Device, root device.BlockID, path string) (Result, error) {
	traversal := splitTokens(path)

	current := root
	currentOK := true
	var parent device.BlockID
	parentOK := false

	var pending []string
	remaining := len(traversal)
	i := 0

	var canonical strings.Builder
	steps := 0

	for remaining > 0 {
		remaining--
		steps++
		if steps > maxSteps {
			return Result{}, ferrors.ErrBadPath.WithMessage("path resolution exceeded sanity cap, possible symlink cycle")
		}

		var name string
		if len(pending) > 0 {
			name = pending[0]
			pending = pending[1:]
		} else {
			name = traversal[i]
			i++
		}

		canonical.WriteString(name)
		canonical.WriteByte('/')

		n, err := inode.Load(dev, current)
		if err != nil {
			return Result{}, err
		}
		if !n.IsDir() {
			parent, parentOK = current, true
			current, currentOK = 0, false
			break
		}

		link, found, err := dirent.Find(dev, current, name)
		if err != nil {
			return Result{}, err
		}
		if !found {
			parent, parentOK = current, true
			current, currentOK = 0, false
			break
		}

		preStepCurrent, preStepCurrentOK := current, currentOK
		preStepParent, preStepParentOK := parent, parentOK

		parent, parentOK = current, true
		current, currentOK = link.Inode, true

		target, err := inode.Load(dev, current)
		if err != nil {
			return Result{}, err
		}
		if !target.IsSymlink() {
			continue
		}

		raw, err := readSymlinkTargetText(dev, current, target)
		if err != nil {
			return Result{}, err
		}
		tokens := splitSymlinkTarget(raw)

		if len(tokens) > 0 && tokens[0] == "/" {
			current, currentOK = root, true
			parent, parentOK = root, true
			tokens = tokens[1:]
		} else {
			current, currentOK = preStepCurrent, preStepCurrentOK
			parent, parentOK = preStepParent, preStepParentOK
		}

		pending = append(append([]string{}, tokens...), pending...)
		remaining += len(tokens)
	}

	return Result{
		Found:         current,
		FoundOK:       currentOK,
		Parent:        parent,
		ParentOK:      parentOK,
		CanonicalPath: canonical.String(),
	}, nil
}

func readSymlinkTargetText(dev *device.Device, block device.BlockID, n inode.Inode) (string, error) {
	data, err := filedata.Read(dev, block, int(n.Size), 0)
	if err != nil {
		return "", err
	}
	if nul := strings.IndexByte(string(data), 0); nul >= 0 {
		return string(data[:nul]), nil
	}
	return string(data), nil
}

// Promote applies absolute-path promotion: a path not starting with "/" is
// prefixed with the current working directory, then a trailing "/" is
// appended if absent.
func Promote(workingDir, path string) string {
	if !strings.HasPrefix(path, "/") {
		path = workingDir + path
	}
	if !strings.HasSuffix(path, "/") {
		path += "/"
	}
	return path
}

// Simplify folds a canonical path's tokens into a normalized absolute
// path: ".." pops the previous segment, "." is dropped, everything else is
// kept. Used only to derive the persisted working-directory string after
// cd, since the canonical path returned by Resolve may still contain
// literal "." / ".." components picked up from ordinary directory-entry
// lookups.
func Simplify(canonicalPath string) string {
	var stack []string
	for _, tok := range splitTokens(canonicalPath) {
		switch tok {
		case ".":
			continue
		case "..":
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		default:
			stack = append(stack, tok)
		}
	}

	var out strings.Builder
	out.WriteByte('/')
	for _, tok := range stack {
		out.WriteString(tok)
		out.WriteByte('/')
	}
	return out.String()
}
