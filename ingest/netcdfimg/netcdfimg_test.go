// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package netcdfimg_test

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/goeswatch/goeswatch/ingest/netcdfimg"
)

func TestStretchPercentileWindow(t *testing.T) {
	// A 10x10 ramp 0..99: the 2nd percentile is 2 and the 98th is 98, so
	// values at or below 2 clamp to 0 and values at or above 98 to 255.
	values := make([]float32, 100)
	for i := range values {
		values[i] = float32(i)
	}
	img, err := netcdfimg.Stretch(values, 10, 10)
	require.NoError(t, err)

	require.EqualValues(t, 0, img.Pix[0])
	require.EqualValues(t, 0, img.Pix[2])
	require.EqualValues(t, 255, img.Pix[98])
	require.EqualValues(t, 255, img.Pix[99])

	// The midpoint lands mid-range.
	mid := img.Pix[50]
	require.Greater(t, mid, uint8(100))
	require.Less(t, mid, uint8(160))

	// Monotone input stays monotone.
	for i := 1; i < 100; i++ {
		require.GreaterOrEqual(t, img.Pix[i], img.Pix[i-1])
	}
}

func TestStretchNaNRendersBlack(t *testing.T) {
	nan := float32(math.NaN())
	values := []float32{nan, 10, 20, 30, 40, nan, 60, 70, 80, nan, 100, 110}
	img, err := netcdfimg.Stretch(values, 4, 3)
	require.NoError(t, err)

	require.EqualValues(t, 0, img.Pix[0])
	require.EqualValues(t, 0, img.Pix[5])
	require.EqualValues(t, 0, img.Pix[9])
	require.NotEqualValues(t, 0, img.Pix[11])
}

func TestStretchDegenerate(t *testing.T) {
	// All-NaN input produces a black image, not an error.
	nan := float32(math.NaN())
	img, err := netcdfimg.Stretch([]float32{nan, nan, nan, nan}, 2, 2)
	require.NoError(t, err)
	for _, p := range img.Pix {
		require.EqualValues(t, 0, p)
	}

	// Constant input maps to mid-gray.
	img, err = netcdfimg.Stretch([]float32{7, 7, 7, 7}, 2, 2)
	require.NoError(t, err)
	for _, p := range img.Pix {
		require.EqualValues(t, 128, p)
	}

	_, err = netcdfimg.Stretch([]float32{1, 2, 3}, 2, 2)
	require.Error(t, err)
}

func TestPlaceholderShape(t *testing.T) {
	img := netcdfimg.Placeholder()
	require.Equal(t, netcdfimg.PlaceholderSize, img.Bounds().Dx())
	require.Equal(t, netcdfimg.PlaceholderSize, img.Bounds().Dy())
}
