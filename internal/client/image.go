// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package client

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/renameio/v2"

	"github.com/loachfighter/twain-direct/internal/bridge"
	"github.com/loachfighter/twain-direct/internal/protocol"
)

// SaveImageBlock writes the image, metadata and thumbnail carried by res
// into dir using the device's file names. It returns the paths written.
func SaveImageBlock(dir string, n int, res *protocol.Results) ([]string, error) {
	if res == nil {
		return nil, fmt.Errorf("no results for image block %d", n)
	}
	if err := os.MkdirAll(dir, 0o750); err != nil {
		return nil, fmt.Errorf("create output dir: %w", err)
	}
	var written []string
	write := func(name string, data []byte) error {
		if len(data) == 0 {
			return nil
		}
		path := filepath.Join(dir, name)
		if err := renameio.WriteFile(path, data, 0o640); err != nil {
			return fmt.Errorf("write %s: %w", name, err)
		}
		written = append(written, path)
		return nil
	}
	if err := write(bridge.ImageName(n), res.ImageBlock); err != nil {
		return written, err
	}
	if err := write(bridge.MetaName(n), res.Metadata); err != nil {
		return written, err
	}
	if err := write(bridge.ThumbnailName(n), res.Thumbnail); err != nil {
		return written, err
	}
	return written, nil
}
