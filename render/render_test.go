// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package render_test

import (
	"image"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goeswatch/goeswatch/render"
)

func gray(width, height int, value uint8) *image.Gray {
	img := image.NewGray(image.Rect(0, 0, width, height))
	for i := range img.Pix {
		img.Pix[i] = value
	}
	return img
}

func TestComposeSmallestChannelIsReference(t *testing.T) {
	out, err := render.Compose([3]*image.Gray{
		gray(200, 100, 255),
		gray(100, 50, 128),
		gray(400, 200, 0),
	})
	require.NoError(t, err)
	require.Equal(t, 100, out.Bounds().Dx())
	require.Equal(t, 50, out.Bounds().Dy())

	r, g, b, a := out.At(10, 10).RGBA()
	require.EqualValues(t, 255, r>>8)
	require.EqualValues(t, 128, g>>8)
	require.EqualValues(t, 0, b>>8)
	require.EqualValues(t, 255, a>>8)
}

func TestComposeMissingBandIsBlack(t *testing.T) {
	out, err := render.Compose([3]*image.Gray{
		gray(10, 10, 200),
		nil,
		gray(10, 10, 40),
	})
	require.NoError(t, err)

	r, g, b, _ := out.At(5, 5).RGBA()
	require.EqualValues(t, 200, r>>8)
	require.EqualValues(t, 0, g>>8)
	require.EqualValues(t, 40, b>>8)

	_, err = render.Compose([3]*image.Gray{nil, nil, nil})
	require.Error(t, err)
}

func TestRecipes(t *testing.T) {
	recipe, err := render.RecipeFor("true_color")
	require.NoError(t, err)
	require.EqualValues(t, "C02", recipe.Bands[0])

	for _, name := range []string{"natural_color", "fire_detection", "dust_ash", "day_cloud_phase", "airmass"} {
		_, err := render.RecipeFor(name)
		require.NoError(t, err)
	}

	_, err = render.RecipeFor("GEOCOLOR")
	require.Error(t, err)
}

func TestScaledSizeIsLinearInArea(t *testing.T) {
	// scale 0.25 halves each edge.
	w, h, err := render.ScaledSize(1000, 600, 0.25)
	require.NoError(t, err)
	require.Equal(t, 500, w)
	require.Equal(t, 300, h)

	// scale 2.0 multiplies each edge by √2.
	w, h, err = render.ScaledSize(1000, 600, 2.0)
	require.NoError(t, err)
	require.Equal(t, 1414, w)
	require.Equal(t, 849, h)

	// Near-1.0 floats are identity, not a 1-pixel resize.
	w, h, err = render.ScaledSize(1000, 600, 1.0+1e-12)
	require.NoError(t, err)
	require.Equal(t, 1000, w)
	require.Equal(t, 600, h)

	_, _, err = render.ScaledSize(1000, 600, 0.1)
	require.Error(t, err)
	_, _, err = render.ScaledSize(1000, 600, 2.5)
	require.Error(t, err)
}

func TestApplyCropClamps(t *testing.T) {
	src := gray(100, 100, 9)

	out, err := render.ApplyCrop(src, render.Crop{X: 10, Y: 20, Width: 30, Height: 40})
	require.NoError(t, err)
	require.Equal(t, 30, out.Bounds().Dx())
	require.Equal(t, 40, out.Bounds().Dy())

	// Window reaching past the edge is clamped.
	out, err = render.ApplyCrop(src, render.Crop{X: 90, Y: 90, Width: 50, Height: 50})
	require.NoError(t, err)
	require.Equal(t, 10, out.Bounds().Dx())

	_, err = render.ApplyCrop(src, render.Crop{X: 200, Y: 200, Width: 10, Height: 10})
	require.Error(t, err)
	_, err = render.ApplyCrop(src, render.Crop{Width: 0, Height: 10})
	require.Error(t, err)
}

func TestApplyLoop(t *testing.T) {
	require.Equal(t, []int{0, 1, 2, 3}, render.ApplyLoop(4, 10, render.LoopForward))

	// Pingpong reverses the interior without duplicating endpoints.
	require.Equal(t, []int{0, 1, 2, 3, 2, 1}, render.ApplyLoop(4, 10, render.LoopPingpong))
	require.Equal(t, []int{0, 1}, render.ApplyLoop(2, 10, render.LoopPingpong))
	require.Equal(t, []int{0}, render.ApplyLoop(1, 10, render.LoopPingpong))

	// Hold appends fps·2 copies of the last frame.
	holds := render.ApplyLoop(3, 5, render.LoopHold)
	require.Len(t, holds, 13)
	require.Equal(t, 2, holds[12])

	_, err := render.ParseLoopStyle("bounce")
	require.Error(t, err)
	style, err := render.ParseLoopStyle("")
	require.NoError(t, err)
	require.Equal(t, render.LoopForward, style)
}

func TestFFmpegArgs(t *testing.T) {
	args, err := render.MP4Args("/work", "/out/anim.mp4", 24, render.QualityHigh)
	require.NoError(t, err)
	require.Contains(t, args, "libx264")
	require.Contains(t, args, "18")
	require.Contains(t, args, "yuv420p")
	require.Contains(t, args, "+faststart")
	require.Contains(t, args, "/work/frame_%05d.png")
	require.Equal(t, "/out/anim.mp4", args[len(args)-1])

	// Default quality is medium.
	args, err = render.MP4Args("/work", "/out/anim.mp4", 24, "")
	require.NoError(t, err)
	require.Contains(t, args, "23")

	_, err = render.MP4Args("/work", "/out/anim.mp4", 24, "ultra")
	require.Error(t, err)

	palette := render.PaletteArgs("/work", "/work/palette.png", 12)
	require.Contains(t, palette, "palettegen")

	gif := render.GIFArgs("/work", "/work/palette.png", "/out/anim.gif", 12)
	require.Contains(t, gif, "paletteuse")
	require.Contains(t, gif, "/work/palette.png")
}

func TestSequenceFileName(t *testing.T) {
	require.Equal(t, "frame_00000.png", render.SequenceFileName(0))
	require.Equal(t, "frame_00042.png", render.SequenceFileName(42))
}
