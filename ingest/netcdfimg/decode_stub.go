// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

//go:build !netcdf

package netcdfimg

import "image"

// Decode reports that the NetCDF decoder is not compiled in. Builds
// without the netcdf tag catalogue placeholder frames instead.
func Decode(path string) (*image.Gray, error) {
	return nil, ErrUnavailable.New("build without the netcdf tag cannot decode %q", path)
}
