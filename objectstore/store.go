// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

// Package objectstore reads the public NOAA GOES buckets.
package objectstore

import (
	"context"

	"github.com/spacemonkeygo/monkit/v3"
	"github.com/zeebo/errs"
)

var (
	// Error is the objectstore error class.
	Error = errs.Class("objectstore")
	// ErrCircuitOpen is returned while the breaker rejects calls.
	ErrCircuitOpen = errs.Class("bucket circuit open")

	mon = monkit.Package()
)

// Object is a listed bucket entry.
type Object struct {
	Key  string
	Size int64
}

// Store lists and downloads bucket objects.
type Store interface {
	// List returns the objects under prefix, in key order.
	List(ctx context.Context, bucket, prefix string) ([]Object, error)
	// Download writes the object to dest and returns the byte count.
	Download(ctx context.Context, bucket, key, dest string) (int64, error)
}
