// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package render builds derived imagery: multi-band composites and
// animation frame sequences.
package render

import (
	"image"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"

	"github.com/goeswatch/goeswatch/goes"
)

var (
	// Error is the render error class.
	Error = errs.Class("render")

	mon = monkit.Package()
)

// Recipe maps a composite name to the bands feeding its R, G and B
// channels.
type Recipe struct {
	Name  string       `json:"name"`
	Bands [3]goes.Band `json:"bands"`
}

// Recipes is the configured composite set.
var Recipes = map[string]Recipe{
	"true_color":      {Name: "true_color", Bands: [3]goes.Band{"C02", "C03", "C01"}},
	"natural_color":   {Name: "natural_color", Bands: [3]goes.Band{"C05", "C03", "C02"}},
	"fire_detection":  {Name: "fire_detection", Bands: [3]goes.Band{"C07", "C06", "C05"}},
	"dust_ash":        {Name: "dust_ash", Bands: [3]goes.Band{"C15", "C14", "C11"}},
	"day_cloud_phase": {Name: "day_cloud_phase", Bands: [3]goes.Band{"C13", "C02", "C05"}},
	"airmass":         {Name: "airmass", Bands: [3]goes.Band{"C08", "C10", "C12"}},
}

// RecipeFor looks up a composite recipe by name.
func RecipeFor(name string) (Recipe, error) {
	recipe, ok := Recipes[name]
	if !ok {
		return Recipe{}, Error.New("unknown composite recipe %q", name)
	}
	return recipe, nil
}

// Compose stacks three grayscale channels into an RGBA image. The
// smallest channel is the reference shape; larger channels are resized
// down in float space. Nil channels render black.
func Compose(channels [3]*image.Gray) (*image.RGBA, error) {
	width, height := 0, 0
	for _, ch := range channels {
		if ch == nil {
			continue
		}
		b := ch.Bounds()
		if width == 0 || b.Dx()*b.Dy() < width*height {
			width, height = b.Dx(), b.Dy()
		}
	}
	if width == 0 || height == 0 {
		return nil, Error.New("composite needs at least one channel")
	}

	planes := [3][]float32{}
	for i, ch := range channels {
		if ch == nil {
			continue
		}
		planes[i] = resampleBilinear(ch, width, height)
	}

	out := image.NewRGBA(image.Rect(0, 0, width, height))
	for y := 0; y < height; y++ {
		for x := 0; x < width; x++ {
			idx := y*width + x
			off := out.PixOffset(x, y)
			for c := 0; c < 3; c++ {
				if planes[c] == nil {
					out.Pix[off+c] = 0
					continue
				}
				out.Pix[off+c] = quantize(planes[c][idx])
			}
			out.Pix[off+3] = 255
		}
	}
	return out, nil
}

func quantize(v float32) uint8 {
	v *= 255
	if v < 0 {
		return 0
	}
	if v > 255 {
		return 255
	}
	return uint8(v + 0.5)
}

// resampleBilinear resizes a grayscale plane to width×height in
// normalized [0,1] float space, so a resize followed by quantization
// rounds only once.
func resampleBilinear(src *image.Gray, width, height int) []float32 {
	sb := src.Bounds()
	sw, sh := sb.Dx(), sb.Dy()
	out := make([]float32, width*height)

	if sw == width && sh == height {
		for i := 0; i < len(out); i++ {
			out[i] = float32(src.Pix[i]) / 255
		}
		return out
	}

	xRatio := float32(sw-1) / float32(max(width-1, 1))
	yRatio := float32(sh-1) / float32(max(height-1, 1))

	for y := 0; y < height; y++ {
		fy := float32(y) * yRatio
		y0 := int(fy)
		y1 := y0 + 1
		if y1 >= sh {
			y1 = sh - 1
		}
		wy := fy - float32(y0)
		for x := 0; x < width; x++ {
			fx := float32(x) * xRatio
			x0 := int(fx)
			x1 := x0 + 1
			if x1 >= sw {
				x1 = sw - 1
			}
			wx := fx - float32(x0)

			p00 := float32(src.Pix[y0*src.Stride+x0])
			p01 := float32(src.Pix[y0*src.Stride+x1])
			p10 := float32(src.Pix[y1*src.Stride+x0])
			p11 := float32(src.Pix[y1*src.Stride+x1])

			top := p00 + (p01-p00)*wx
			bottom := p10 + (p11-p10)*wx
			out[y*width+x] = (top + (bottom-top)*wy) / 255
		}
	}
	return out
}
