// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

package platform

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestKindFor(t *testing.T) {
	require.Equal(t, Linux, kindFor("linux"))
	require.Equal(t, MacOS, kindFor("darwin"))
	require.Equal(t, Windows, kindFor("windows"))
	require.Equal(t, Other, kindFor("plan9"))
}

func TestDetectFillsHostname(t *testing.T) {
	info := Detect()
	require.NotEmpty(t, info.Hostname)
	require.NotEmpty(t, info.Arch)
}

func TestExecutableSuffix(t *testing.T) {
	require.Equal(t, ".exe", Info{Kind: Windows}.ExecutableSuffix())
	require.Empty(t, Info{Kind: Linux}.ExecutableSuffix())
}
