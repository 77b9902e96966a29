// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package netcdfimg converts ABI L2 CMIP NetCDF payloads into grayscale
// images. The decoder needs the C NetCDF library and is compiled in with
// the "netcdf" build tag; without it Decode reports ErrUnavailable and
// callers fall back to a placeholder image.
package netcdfimg

import (
	"image"
	"image/color"
	"math"
	"sort"

	"github.com/zeebo/errs"
)

var (
	// Error is the netcdfimg error class.
	Error = errs.Class("netcdfimg")
	// ErrUnavailable is returned when the decoder is not compiled in.
	ErrUnavailable = errs.Class("netcdf support unavailable")
)

// PlaceholderSize is the edge length of the fallback image.
const PlaceholderSize = 100

// Placeholder returns the fixed image catalogued when a frame cannot be
// decoded. A mid-gray checkerboard keeps it visually distinct from real
// imagery.
func Placeholder() *image.Gray {
	img := image.NewGray(image.Rect(0, 0, PlaceholderSize, PlaceholderSize))
	for y := 0; y < PlaceholderSize; y++ {
		for x := 0; x < PlaceholderSize; x++ {
			if (x/10+y/10)%2 == 0 {
				img.SetGray(x, y, color.Gray{Y: 96})
			} else {
				img.SetGray(x, y, color.Gray{Y: 160})
			}
		}
	}
	return img
}

// Stretch maps CMI values to an 8-bit grayscale image using a robust
// 2nd..98th percentile window. NaN samples render as black.
func Stretch(values []float32, width, height int) (*image.Gray, error) {
	if width <= 0 || height <= 0 || len(values) != width*height {
		return nil, Error.New("shape %dx%d does not match %d samples", width, height, len(values))
	}

	finite := make([]float32, 0, len(values))
	for _, v := range values {
		if !math.IsNaN(float64(v)) {
			finite = append(finite, v)
		}
	}

	img := image.NewGray(image.Rect(0, 0, width, height))
	if len(finite) == 0 {
		return img, nil
	}

	sort.Slice(finite, func(i, j int) bool { return finite[i] < finite[j] })
	lo := finite[percentileIndex(len(finite), 2)]
	hi := finite[percentileIndex(len(finite), 98)]
	scale := float32(0)
	if hi > lo {
		scale = 255 / (hi - lo)
	}

	for i, v := range values {
		var pixel uint8
		switch {
		case math.IsNaN(float64(v)):
			pixel = 0
		case scale == 0:
			pixel = 128
		default:
			mapped := (v - lo) * scale
			if mapped < 0 {
				mapped = 0
			}
			if mapped > 255 {
				mapped = 255
			}
			pixel = uint8(mapped)
		}
		img.Pix[i] = pixel
	}
	return img, nil
}

func percentileIndex(n, pct int) int {
	idx := n * pct / 100
	if idx >= n {
		idx = n - 1
	}
	return idx
}
