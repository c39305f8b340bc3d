// Package format builds a fresh, ready-to-mount blockfs image: a
// zero-filled backing file of the requested capacity, with its bitmap
// region and root directory already bootstrapped.
package format

import (
	_ "embed"
	"fmt"
	"os"

	gobitmap "github.com/boljen/go-bitmap"
	"github.com/gocarina/gocsv"
	"github.com/noxer/bytewriter"

	"github.com/okdisk/blockfs/bitmap"
	"github.com/okdisk/blockfs/device"
	"github.com/okdisk/blockfs/dirent"
	"github.com/okdisk/blockfs/inode"
)

// Preset names a predefined image capacity, the way disk geometries used to
// be looked up by slug.
type Preset struct {
	Slug          string `csv:"slug"`
	Name          string `csv:"name"`
	CapacityBytes int64  `csv:"capacity_bytes"`
}

//go:embed presets.csv
var presetsCSV string

var presets map[string]Preset

func init() {
	presets = make(map[string]Preset)
	var rows []*Preset
	if err := gocsv.UnmarshalString(presetsCSV, &rows); err != nil {
		panic(fmt.Sprintf("format: malformed embedded presets.csv: %s", err))
	}
	for _, row := range rows {
		presets[row.Slug] = *row
	}
}

// LookupPreset returns the named capacity preset.
func LookupPreset(slug string) (Preset, error) {
	p, ok := presets[slug]
	if !ok {
		return Preset{}, fmt.Errorf("no predefined image capacity preset named %q", slug)
	}
	return p, nil
}

// PresetSlugs returns every known preset slug, sorted by ascending
// capacity.
func PresetSlugs() []string {
	slugs := make([]string, 0, len(presets))
	for slug := range presets {
		slugs = append(slugs, slug)
	}
	for i := 1; i < len(slugs); i++ {
		for j := i; j > 0 && presets[slugs[j-1]].CapacityBytes > presets[slugs[j]].CapacityBytes; j-- {
			slugs[j-1], slugs[j] = slugs[j], slugs[j-1]
		}
	}
	return slugs
}

// Create truncates/creates the file at path to capacityBytes of zeroes, then
// writes a bootstrapped bitmap region, root inode, and root directory data
// block into it, ready for Filesystem.Mount.
func Create(path string, capacityBytes int64) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("format: %w", err)
	}
	defer f.Close()

	if err := f.Truncate(capacityBytes); err != nil {
		return fmt.Errorf("format: %w", err)
	}

	dev := device.New(f)
	return bootstrap(dev, capacityBytes)
}

// bootstrap writes the bitmap region, root inode, and root directory block
// of a freshly-sized, otherwise-zero image, in one sequential pass built
// with bytewriter, mirroring the teacher's own single-buffer superblock
// construction.
func bootstrap(dev *device.Device, capacityBytes int64) error {
	nb := device.TotalBlocks(capacityBytes)
	bm := bitmap.RegionBlocks(capacityBytes)
	root := device.BlockID(bm)
	rootData := root + 1

	if rootData >= device.BlockID(nb) {
		return fmt.Errorf("format: capacity %d bytes is too small to hold a root directory", capacityBytes)
	}

	totalUnits := uint(int64(nb) - bm)
	bits := gobitmap.New(int(totalUnits))
	bits.Set(int(root-device.BlockID(bm)), true)
	bits.Set(int(rootData-device.BlockID(bm)), true)

	bitmapRegionSize := bm * device.BlockSize
	rawBits := bits.Data(false)
	paddedBits := make([]byte, bitmapRegionSize)
	copy(paddedBits, rawBits)

	rootInode := inode.Inode{Type: inode.TypeDir, Links: 2, Size: 2 * dirent.RecordSize}
	rootInode.Blocks[0] = rootData
	rootInodeBlock := make([]byte, device.BlockSize)
	copy(rootInodeBlock, rootInode.Serialize())

	rootDataBlock := make([]byte, device.BlockSize)
	copy(rootDataBlock[0:dirent.RecordSize], encodeLink(".", root))
	copy(rootDataBlock[dirent.RecordSize:2*dirent.RecordSize], encodeLink("..", root))

	blob := make([]byte, bitmapRegionSize+2*device.BlockSize)
	writer := bytewriter.New(blob)
	for _, chunk := range [][]byte{paddedBits, rootInodeBlock, rootDataBlock} {
		if _, err := writer.Write(chunk); err != nil {
			return fmt.Errorf("format: %w", err)
		}
	}

	return dev.WriteAt(0, blob)
}

func encodeLink(name string, target device.BlockID) []byte {
	// Mirrors dirent's own record encoding; duplicated here since it's an
	// unexported helper there and format has no other reason to depend on
	// dirent's internals.
	buf := make([]byte, dirent.RecordSize)
	copy(buf[:dirent.FNameLen], name)
	le := uint32(int32(target))
	buf[dirent.FNameLen] = byte(le)
	buf[dirent.FNameLen+1] = byte(le >> 8)
	buf[dirent.FNameLen+2] = byte(le >> 16)
	buf[dirent.FNameLen+3] = byte(le >> 24)
	return buf
}
