package main

import (
	"bufio"
	"fmt"
	"io"
	"strconv"

	"github.com/okdisk/blockfs/fs"
	"github.com/okdisk/blockfs/inode"
)

// shellLoop reads one command per line from r and dispatches it against f,
// writing results to w, until r is exhausted or the user types "quit". It's
// deliberately line-oriented rather than readline-backed, matching how
// small driver test harnesses in this codebase's lineage talk to a mounted
// image.
func shellLoop(r io.Reader, w io.Writer, f *fs.Filesystem) error {
	scanner := bufio.NewScanner(r)
	fmt.Fprint(w, "> ")
	for scanner.Scan() {
		args := parseArgs(scanner.Text())
		if len(args) == 0 {
			fmt.Fprint(w, "> ")
			continue
		}

		if args[0] == "quit" || args[0] == "exit" {
			return nil
		}

		if err := dispatch(w, f, args); err != nil {
			fmt.Fprintf(w, "error: %s\n", err)
		}
		fmt.Fprint(w, "> ")
	}
	return scanner.Err()
}

func dispatch(w io.Writer, f *fs.Filesystem, args []string) error {
	cmd, rest := args[0], args[1:]

	switch cmd {
	case "ls":
		path := ""
		if len(rest) > 0 {
			path = rest[0]
		}
		entries, err := f.Ls(path)
		if err != nil {
			return err
		}
		for _, e := range entries {
			fmt.Fprintf(w, "%d\t%s\n", e.Inode, e.Name)
		}
		return nil

	case "pwd":
		p, err := f.Pwd()
		if err != nil {
			return err
		}
		fmt.Fprintln(w, p)
		return nil

	case "cd":
		if len(rest) != 1 {
			return usageError("cd PATH")
		}
		return f.Cd(rest[0])

	case "mkdir":
		if len(rest) != 1 {
			return usageError("mkdir PATH")
		}
		_, err := f.Mkdir(rest[0])
		return err

	case "rmdir":
		if len(rest) != 1 {
			return usageError("rmdir PATH")
		}
		return f.Rmdir(rest[0])

	case "create":
		if len(rest) != 1 {
			return usageError("create PATH")
		}
		_, err := f.Create(rest[0], inode.TypeFile, "")
		return err

	case "unlink", "rm":
		if len(rest) != 1 {
			return usageError("unlink PATH")
		}
		return f.Unlink(rest[0])

	case "link":
		if len(rest) != 2 {
			return usageError("link EXISTING NEW")
		}
		return f.Link(rest[0], rest[1])

	case "symlink":
		if len(rest) != 2 {
			return usageError("symlink TARGET NAME")
		}
		_, err := f.Symlink(rest[0], rest[1])
		return err

	case "cat":
		if len(rest) != 1 {
			return usageError("cat PATH")
		}
		blk, err := f.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close(blk)

		st, err := f.Filestat(blk)
		if err != nil {
			return err
		}
		data, err := f.Read(blk, int(st.Size), 0)
		if err != nil {
			return err
		}
		w.Write(data)
		fmt.Fprintln(w)
		return nil

	case "write":
		if len(rest) != 2 {
			return usageError("write PATH TEXT")
		}
		blk, err := f.Open(rest[0])
		if err != nil {
			return err
		}
		defer f.Close(blk)
		return f.Write(blk, len(rest[1]), []byte(rest[1]), 0)

	case "truncate":
		if len(rest) != 2 {
			return usageError("truncate PATH SIZE")
		}
		size, err := strconv.Atoi(rest[1])
		if err != nil {
			return usageError("truncate PATH SIZE")
		}
		return f.TruncatePath(rest[0], size)

	case "stat":
		if len(rest) != 1 {
			return usageError("stat PATH")
		}
		st, err := f.StatPath(rest[0])
		if err != nil {
			return err
		}
		fmt.Fprintf(w, "type=%d size=%d links=%d\n", st.Type, st.Size, st.Links)
		return nil

	default:
		return fmt.Errorf("unrecognized command %q", cmd)
	}
}

func usageError(usage string) error {
	return fmt.Errorf("usage: %s", usage)
}
