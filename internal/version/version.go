// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package version carries build metadata injected through ldflags.
package version

var (
	// Version is the current application version.
	// It should be populated by the build system (ldflags).
	Version = "v0.4.0"

	// Commit is the git short hash of the build.
	Commit = "unknown"

	// Date is the build timestamp.
	Date = "unknown"
)

// String renders the version line printed by the binaries.
func String() string {
	return Version + " (" + Commit + ", " + Date + ")"
}
