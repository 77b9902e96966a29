// Copyright (C) 2025 Goeswatch Authors.
// See LICENSE for copying information.

package objectstore

import (
	"context"
	"os"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"go.uber.org/zap"
)

// Config configures the S3 client. The NOAA buckets are public, so the
// default credentials are anonymous.
type Config struct {
	Endpoint        string        `help:"S3 endpoint host" default:"s3.amazonaws.com"`
	Region          string        `help:"S3 region of the GOES buckets" default:"us-east-1"`
	Secure          bool          `help:"use TLS for bucket requests" default:"true"`
	ListTimeout     time.Duration `help:"timeout for a single list page" default:"10s"`
	DownloadTimeout time.Duration `help:"timeout for a single object download" default:"60s"`
}

// Client is the minio-backed Store.
type Client struct {
	log    *zap.Logger
	client *minio.Client
	config Config
}

// NewClient dials the S3 endpoint. A nil creds uses anonymous access,
// which is what the public NOAA buckets require: signed requests from
// unrelated accounts are rejected.
func NewClient(log *zap.Logger, config Config, creds *credentials.Credentials) (*Client, error) {
	if creds == nil {
		creds = credentials.NewStatic("", "", "", credentials.SignatureAnonymous)
	}
	client, err := minio.New(config.Endpoint, &minio.Options{
		Creds:  creds,
		Secure: config.Secure,
		Region: config.Region,
	})
	if err != nil {
		return nil, Error.Wrap(err)
	}
	return &Client{log: log, client: client, config: config}, nil
}

// List implements Store.
func (c *Client) List(ctx context.Context, bucket, prefix string) (_ []Object, err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithTimeout(ctx, c.config.ListTimeout)
	defer cancel()

	var objects []Object
	for info := range c.client.ListObjects(ctx, bucket, minio.ListObjectsOptions{
		Prefix:    prefix,
		Recursive: true,
	}) {
		if info.Err != nil {
			return nil, Error.Wrap(info.Err)
		}
		objects = append(objects, Object{Key: info.Key, Size: info.Size})
	}
	return objects, nil
}

// Download implements Store.
func (c *Client) Download(ctx context.Context, bucket, key, dest string) (_ int64, err error) {
	defer mon.Task()(&ctx)(&err)

	ctx, cancel := context.WithTimeout(ctx, c.config.DownloadTimeout)
	defer cancel()

	if err := c.client.FGetObject(ctx, bucket, key, dest, minio.GetObjectOptions{}); err != nil {
		return 0, Error.Wrap(err)
	}
	info, err := os.Stat(dest)
	if err != nil {
		return 0, Error.Wrap(err)
	}
	return info.Size(), nil
}
