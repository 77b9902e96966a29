// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package handlers

import (
	"image"
	"image/draw"
	"image/png"
	"os"
	"path/filepath"
)

// loadGray decodes an image file into a grayscale plane.
func loadGray(path string) (*image.Gray, error) {
	img, err := loadImage(path)
	if err != nil {
		return nil, err
	}
	if gray, ok := img.(*image.Gray); ok {
		return gray, nil
	}
	bounds := img.Bounds()
	gray := image.NewGray(bounds)
	draw.Draw(gray, bounds, img, bounds.Min, draw.Src)
	return gray, nil
}

func loadImage(path string) (image.Image, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, Error.Wrap(err)
	}
	defer func() { _ = file.Close() }()

	img, _, err := image.Decode(file)
	if err != nil {
		return nil, Error.New("decode %s: %v", filepath.Base(path), err)
	}
	return img, nil
}

func savePNG(img image.Image, path string) (int64, error) {
	file, err := os.Create(path)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	if err := png.Encode(file, img); err != nil {
		_ = file.Close()
		return 0, Error.Wrap(err)
	}
	if err := file.Close(); err != nil {
		return 0, Error.Wrap(err)
	}
	info, err := os.Stat(path)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return info.Size(), nil
}
