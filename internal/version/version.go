/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version provides build version information.
package version

import "fmt"

// Version is set at build time via ldflags:
//
//	-X github.com/friendsincode/grimnir_reserve/internal/version.Version=X.Y.Z
var Version = "0.4.0"

// Commit is the VCS revision, set at build time.
var Commit = "dev"

// String returns a human readable version line.
func String() string {
	return fmt.Sprintf("grimnirreserve %s (%s)", Version, Commit)
}
