// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package ingest

import (
	"image"
	"image/png"
	"os"

	"golang.org/x/image/draw"
)

func writePNG(path string, img image.Image) error {
	f, err := os.Create(path)
	if err != nil {
		return Error.Wrap(err)
	}
	if err := png.Encode(f, img); err != nil {
		_ = f.Close()
		_ = os.Remove(path)
		return Error.Wrap(err)
	}
	return Error.Wrap(f.Close())
}

// thumbnail scales the image down to the given width, preserving aspect
// ratio. Images already narrower pass through unchanged.
func thumbnail(img image.Image, width int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() <= width {
		return img
	}
	height := bounds.Dy() * width / bounds.Dx()
	if height < 1 {
		height = 1
	}
	dst := image.NewGray(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}
