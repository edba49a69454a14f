// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

// Package version holds the build version, overridable at link time.
package version

// Version is the semantic version of the binary. Overridden by the release
// build with -ldflags "-X github.com/printarr/printarr/internal/version.Version=...".
var Version = "0.9.0-dev"
