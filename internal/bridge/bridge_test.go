// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package bridge

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseReply(t *testing.T) {
	r, err := ParseReply([]byte(`{"status":"success","session":{"imageBlocks":[1,2],"imageBlocksDrained":true}}`))
	require.NoError(t, err)
	require.True(t, r.OK())
	require.Equal(t, []int{1, 2}, r.Session.ImageBlocks)
	require.True(t, r.Session.ImageBlocksDrained)
}

func TestParseReplyMalformed(t *testing.T) {
	_, err := ParseReply([]byte(`{"status":"success",}`))
	m, ok := IsMalformed(err)
	require.True(t, ok)
	require.Equal(t, 21, m.Offset)

	_, err = ParseReply([]byte(`{"imageFile":"x"}`))
	_, ok = IsMalformed(err)
	require.True(t, ok)
}

func TestFileNames(t *testing.T) {
	require.Equal(t, "img000007.pdf", ImageName(7))
	require.Equal(t, "img000007.meta", MetaName(7))
	require.Equal(t, "img000007_thumbnail.pdf", ThumbnailName(7))

	n, ok := blockFromMeta("img000012.meta")
	require.True(t, ok)
	require.Equal(t, 12, n)
	_, ok = blockFromMeta(DrainedMarker)
	require.False(t, ok)
	_, ok = blockFromMeta("img000012.pdf")
	require.False(t, ok)
}

func TestScanAndResetImagesDir(t *testing.T) {
	dir := t.TempDir()
	for _, name := range []string{MetaName(3), ImageName(3), MetaName(1), ImageName(1), "notes.txt"} {
		require.NoError(t, os.WriteFile(filepath.Join(dir, name), []byte("x"), 0o600))
	}

	blocks, drained, err := ScanImagesDir(dir)
	require.NoError(t, err)
	require.Equal(t, []int{1, 3}, blocks)
	require.False(t, drained)

	require.NoError(t, os.WriteFile(filepath.Join(dir, DrainedMarker), []byte("{}"), 0o600))
	_, drained, err = ScanImagesDir(dir)
	require.NoError(t, err)
	require.True(t, drained)

	require.NoError(t, RemoveBlock(dir, 1))
	blocks, _, err = ScanImagesDir(dir)
	require.NoError(t, err)
	require.Equal(t, []int{3}, blocks)

	require.NoError(t, ResetImagesDir(dir))
	blocks, drained, err = ScanImagesDir(dir)
	require.NoError(t, err)
	require.Empty(t, blocks)
	require.False(t, drained)
	_, err = os.Stat(filepath.Join(dir, "notes.txt"))
	require.NoError(t, err)
}

func TestScanMissingDir(t *testing.T) {
	blocks, drained, err := ScanImagesDir(filepath.Join(t.TempDir(), "missing"))
	require.NoError(t, err)
	require.Empty(t, blocks)
	require.False(t, drained)
}
