// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package render

import (
	"fmt"
	"image"
	"math"

	"golang.org/x/image/draw"
)

// ScaleTolerance below which a scale factor is treated as identity.
// Scale values arrive through JSON floats; raw equality is unreliable.
const ScaleTolerance = 1e-9

// Scale factor bounds, linear in output area.
const (
	MinScale = 0.25
	MaxScale = 2.0
)

// Crop is a pixel-space crop window.
type Crop struct {
	X      int `json:"x"`
	Y      int `json:"y"`
	Width  int `json:"width"`
	Height int `json:"height"`
}

// ApplyCrop cuts the window out of the image, clamped to its bounds.
func ApplyCrop(img image.Image, crop Crop) (image.Image, error) {
	if crop.Width <= 0 || crop.Height <= 0 {
		return nil, Error.New("crop %dx%d is empty", crop.Width, crop.Height)
	}
	bounds := img.Bounds()
	rect := image.Rect(crop.X, crop.Y, crop.X+crop.Width, crop.Y+crop.Height).
		Add(bounds.Min).Intersect(bounds)
	if rect.Empty() {
		return nil, Error.New("crop window lies outside the image")
	}
	dst := image.NewRGBA(image.Rect(0, 0, rect.Dx(), rect.Dy()))
	draw.Copy(dst, image.Point{}, img, rect, draw.Over, nil)
	return dst, nil
}

// ScaledSize converts an area scale factor into output dimensions: the
// factor applies to the pixel count, so each edge scales by its square
// root.
func ScaledSize(width, height int, scale float64) (int, int, error) {
	if scale < MinScale || scale > MaxScale {
		return 0, 0, Error.New("scale %v outside %v..%v", scale, MinScale, MaxScale)
	}
	if math.Abs(scale-1.0) < ScaleTolerance {
		return width, height, nil
	}
	edge := math.Sqrt(scale)
	w := int(math.Round(float64(width) * edge))
	h := int(math.Round(float64(height) * edge))
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return w, h, nil
}

// Resize scales the image to the exact target dimensions.
func Resize(img image.Image, width, height int) image.Image {
	bounds := img.Bounds()
	if bounds.Dx() == width && bounds.Dy() == height {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.ApproxBiLinear.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
	return dst
}

// LoopStyle reorders an animation's frame sequence.
type LoopStyle string

// Loop styles.
const (
	LoopForward  LoopStyle = "forward"
	LoopPingpong LoopStyle = "pingpong"
	LoopHold     LoopStyle = "hold"
)

// ParseLoopStyle validates a loop style, defaulting empty to forward.
func ParseLoopStyle(name string) (LoopStyle, error) {
	switch LoopStyle(name) {
	case "", LoopForward:
		return LoopForward, nil
	case LoopPingpong:
		return LoopPingpong, nil
	case LoopHold:
		return LoopHold, nil
	}
	return "", Error.New("unknown loop style %q", name)
}

// ApplyLoop maps input frame indexes to the encoded order. Pingpong
// appends the reversed interior (no duplicated endpoints); hold repeats
// the final frame for two seconds worth of output.
func ApplyLoop(frameCount, fps int, style LoopStyle) []int {
	sequence := make([]int, 0, frameCount)
	for i := 0; i < frameCount; i++ {
		sequence = append(sequence, i)
	}
	switch style {
	case LoopPingpong:
		for i := frameCount - 2; i >= 1; i-- {
			sequence = append(sequence, i)
		}
	case LoopHold:
		if frameCount > 0 {
			for i := 0; i < fps*2; i++ {
				sequence = append(sequence, frameCount-1)
			}
		}
	}
	return sequence
}

// SequenceFileName names the numbered PNGs handed to the encoder.
func SequenceFileName(index int) string {
	return fmt.Sprintf("frame_%05d.png", index)
}
