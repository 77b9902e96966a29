// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

//go:build netcdf

package netcdfimg

import (
	"image"
	"math"

	"github.com/fhs/go-netcdf/netcdf"
)

// Decode reads the CMI array from an ABI L2 file and stretches it to an
// 8-bit grayscale image.
func Decode(path string) (*image.Gray, error) {
	ds, err := netcdf.OpenFile(path, netcdf.NOWRITE)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = ds.Close() }()

	cmi, err := ds.Var("CMI")
	if err != nil {
		return nil, Error.New("no CMI variable: %v", err)
	}
	dims, err := cmi.LenDims()
	if err != nil {
		return nil, Error.Wrap(err)
	}
	if len(dims) != 2 {
		return nil, Error.New("CMI has %d dimensions, expected 2", len(dims))
	}
	height, width := int(dims[0]), int(dims[1])

	values := make([]float32, width*height)
	if err := cmi.ReadFloat32s(values); err != nil {
		return nil, Error.Wrap(err)
	}

	// Masked cells arrive as the _FillValue; fold them into the NaN path
	// so the stretch ignores them.
	if fill, err := cmi.Attr("_FillValue"); err == nil {
		fillValues := make([]float32, 1)
		if err := fill.ReadFloat32s(fillValues); err == nil {
			for i, v := range values {
				if v == fillValues[0] {
					values[i] = float32(math.NaN())
				}
			}
		}
	}

	return Stretch(values, width, height)
}
