// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package version carries build identification, stamped via ldflags.
package version

import "runtime"

// Stamped at build time with
// -ldflags "-X github.com/goeswatch/goeswatch/version.Version=...".
var (
	Version   = "dev"
	Commit    = ""
	Timestamp = ""
)

// Info is the version payload served by the API.
type Info struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Timestamp string `json:"timestamp,omitempty"`
	GoVersion string `json:"go_version"`
}

// Build returns the current build's info.
func Build() Info {
	return Info{
		Version:   Version,
		Commit:    Commit,
		Timestamp: Timestamp,
		GoVersion: runtime.Version(),
	}
}
