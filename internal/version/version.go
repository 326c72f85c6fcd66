// Copyright The Telegen Authors
// SPDX-License-Identifier: Apache-2.0

// Package version exposes build metadata stamped at link time, e.g.
//
//	go build -ldflags "-X github.com/platformbuilds/contprof/internal/version.version=v0.3.0"
package version

import (
	"fmt"
	"runtime"
)

var (
	version   = "unknown"
	commit    = "unknown"
	buildDate = "unknown"
)

// Version returns the release tag, or "unknown" for unstamped builds
func Version() string { return version }

// Commit returns the source revision
func Commit() string { return commit }

// BuildDate returns the RFC3339 UTC build time
func BuildDate() string { return buildDate }

// String formats the build metadata for -version output
func String() string {
	return fmt.Sprintf("contprof %s (commit %s, built %s, %s/%s)",
		version, commit, buildDate, runtime.GOOS, runtime.GOARCH)
}
