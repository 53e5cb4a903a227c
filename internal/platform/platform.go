// Copyright (c) 2025 The twain-direct Authors
// Licensed under the PolyForm Noncommercial License 1.0.0

// Package platform describes the host the daemon runs on. The value is
// computed once at startup and carried through configuration.
package platform

import (
	"os"
	"runtime"
)

// Kind names the host operating system family.
type Kind string

const (
	Linux   Kind = "linux"
	MacOS   Kind = "macos"
	Windows Kind = "windows"
	Other   Kind = "other"
)

// Info is an immutable description of the host.
type Info struct {
	Kind     Kind
	Arch     string
	Hostname string
}

// Detect inspects the running process once.
func Detect() Info {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "localhost"
	}
	return Info{
		Kind:     kindFor(runtime.GOOS),
		Arch:     runtime.GOARCH,
		Hostname: host,
	}
}

func kindFor(goos string) Kind {
	switch goos {
	case "linux":
		return Linux
	case "darwin":
		return MacOS
	case "windows":
		return Windows
	default:
		return Other
	}
}

// ExecutableSuffix is appended to bridge binary names.
func (i Info) ExecutableSuffix() string {
	if i.Kind == Windows {
		return ".exe"
	}
	return ""
}
