// Command blockfsctl formats, inspects, and interactively browses a
// blockfs image file.
package main

import (
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/urfave/cli/v2"

	"github.com/okdisk/blockfs/format"
	"github.com/okdisk/blockfs/fs"
	"github.com/okdisk/blockfs/fsck"
)

func main() {
	app := cli.App{
		Name:  "blockfsctl",
		Usage: "Create and browse blockfs device images",
		Commands: []*cli.Command{
			{
				Name:      "format",
				Usage:     "Create a fresh image file",
				ArgsUsage: "IMAGE_PATH",
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "preset", Usage: "named capacity preset, see 'blockfsctl presets'"},
					&cli.Int64Flag{Name: "capacity", Usage: "exact capacity in bytes"},
				},
				Action: formatImage,
			},
			{
				Name:  "presets",
				Usage: "List named capacity presets",
				Action: func(*cli.Context) error {
					for _, slug := range format.PresetSlugs() {
						p, _ := format.LookupPreset(slug)
						fmt.Printf("%-16s %-28s %d bytes\n", p.Slug, p.Name, p.CapacityBytes)
					}
					return nil
				},
			},
			{
				Name:      "fsck",
				Usage:     "Check an image's on-disk invariants",
				ArgsUsage: "IMAGE_PATH",
				Action:    checkImage,
			},
			{
				Name:      "shell",
				Usage:     "Open an interactive session against an image",
				ArgsUsage: "IMAGE_PATH",
				Action:    runShell,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		log.Fatalf("fatal error: %s", err.Error())
	}
}

func formatImage(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("format: missing IMAGE_PATH", 1)
	}

	capacity := c.Int64("capacity")
	if slug := c.String("preset"); slug != "" {
		p, err := format.LookupPreset(slug)
		if err != nil {
			return cli.Exit(err.Error(), 1)
		}
		capacity = p.CapacityBytes
	}
	if capacity <= 0 {
		return cli.Exit("format: specify --preset or a positive --capacity", 1)
	}

	if err := format.Create(path, capacity); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Printf("formatted %s: %d bytes\n", path, capacity)
	return nil
}

func checkImage(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("fsck: missing IMAGE_PATH", 1)
	}

	f := fs.New()
	if err := f.Mount(path); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Unmount()

	if err := fsck.Check(f.Device(), f.Allocator(), f.Root()); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	fmt.Println("ok")
	return nil
}

func runShell(c *cli.Context) error {
	path := c.Args().First()
	if path == "" {
		return cli.Exit("shell: missing IMAGE_PATH", 1)
	}

	f := fs.New()
	if err := f.Mount(path); err != nil {
		return cli.Exit(err.Error(), 1)
	}
	defer f.Unmount()

	return shellLoop(os.Stdin, os.Stdout, f)
}

// parseArgs splits a shell line on whitespace; no quoting support.
func parseArgs(line string) []string {
	return strings.Fields(line)
}
