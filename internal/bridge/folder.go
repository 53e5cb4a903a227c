// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"
)

// DrainedMarker is written into the images folder once the scanner has
// nothing more to deliver for the current capture.
const DrainedMarker = "imageBlocksDrained.meta"

// ImageName is the image file of block n.
func ImageName(n int) string { return fmt.Sprintf("img%06d.pdf", n) }

// MetaName is the metadata file of block n. Its appearance announces the block.
func MetaName(n int) string { return fmt.Sprintf("img%06d.meta", n) }

// ThumbnailName is the thumbnail file of block n.
func ThumbnailName(n int) string { return fmt.Sprintf("img%06d_thumbnail.pdf", n) }

// blockFromMeta parses MetaName output.
func blockFromMeta(name string) (int, bool) {
	if !strings.HasPrefix(name, "img") || !strings.HasSuffix(name, ".meta") {
		return 0, false
	}
	var n int
	if _, err := fmt.Sscanf(strings.TrimSuffix(strings.TrimPrefix(name, "img"), ".meta"), "%d", &n); err != nil || n <= 0 {
		return 0, false
	}
	return n, true
}

// ScanImagesDir lists the blocks announced in dir and whether the drained
// marker is present. A missing folder is an empty, undrained session.
func ScanImagesDir(dir string) ([]int, bool, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return []int{}, false, nil
		}
		return nil, false, fmt.Errorf("scan images dir: %w", err)
	}
	blocks := []int{}
	drained := false
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		if e.Name() == DrainedMarker {
			drained = true
			continue
		}
		if n, ok := blockFromMeta(e.Name()); ok {
			blocks = append(blocks, n)
		}
	}
	slices.Sort(blocks)
	return blocks, drained, nil
}

// ResetImagesDir removes every block file and the drained marker, creating
// dir when needed.
func ResetImagesDir(dir string) error {
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return fmt.Errorf("create images dir: %w", err)
	}
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("read images dir: %w", err)
	}
	for _, e := range entries {
		name := e.Name()
		if e.IsDir() || !(strings.HasPrefix(name, "img") || name == DrainedMarker) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}

// RemoveBlock deletes every file belonging to block n.
func RemoveBlock(dir string, n int) error {
	for _, name := range []string{ImageName(n), MetaName(n), ThumbnailName(n)} {
		if err := os.Remove(filepath.Join(dir, name)); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("remove %s: %w", name, err)
		}
	}
	return nil
}
