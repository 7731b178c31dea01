// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package objectstore opens report objects for streaming and discovers report
// manifests, on S3 or on the local filesystem.
package objectstore

import (
	"context"
	"io"
	"net/url"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/logger"
)

// ManifestSuffix identifies report manifests among the objects under a
// prefix.
const ManifestSuffix = "Manifest.json"

// oldestReport is the cutoff used when no maximum age is given.
var oldestReport = time.Date(2000, 1, 1, 0, 0, 0, 0, time.UTC)

// Reader opens an object for sequential, forward-only reading. The caller
// must close the returned stream.
type Reader interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// Object is a listed object.
type Object struct {
	Key          string
	LastModified time.Time
	Size         int64
}

// S3Reader reads objects from a single bucket. Keys of the form
// s3://bucket/key override the bucket.
type S3Reader struct {
	Client s3iface.S3API
	Bucket string
	Log    logger.Logger
}

// NewS3Reader returns an S3Reader for bucket.
func NewS3Reader(client s3iface.S3API, bucket string, log logger.Logger) *S3Reader {
	if log == nil {
		log = logger.NopLogger
	}
	return &S3Reader{Client: client, Bucket: bucket, Log: log}
}

func (r *S3Reader) locate(key string) (bucket, objKey string, err error) {
	if !strings.HasPrefix(key, "s3://") {
		return r.Bucket, key, nil
	}
	u, err := url.Parse(key)
	if err != nil {
		return "", "", errors.Wrapf(err, "parsing S3 URL %v", key)
	}
	return u.Host, strings.TrimPrefix(u.Path, "/"), nil
}

// Open streams an object. The body is not buffered.
func (r *S3Reader) Open(ctx context.Context, key string) (io.ReadCloser, error) {
	bucket, objKey, err := r.locate(key)
	if err != nil {
		return nil, err
	}
	r.Log.Debugf("Opening s3://%s/%s", bucket, objKey)
	out, err := r.Client.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(bucket),
		Key:    aws.String(objKey),
	})
	if err != nil {
		return nil, translateS3Error(err, bucket, objKey)
	}
	return out.Body, nil
}

// ListManifests returns the manifests under prefix modified within maxAge of
// now, oldest first. A maxAge of zero or less applies no age limit.
func (r *S3Reader) ListManifests(ctx context.Context, prefix string, maxAge time.Duration, now time.Time) ([]Object, error) {
	cutoff := Cutoff(maxAge, now)
	var objs []Object
	err := r.Client.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(r.Bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, lastPage bool) bool {
		for _, obj := range page.Contents {
			key := aws.StringValue(obj.Key)
			modified := aws.TimeValue(obj.LastModified)
			if !strings.HasSuffix(key, ManifestSuffix) || !modified.After(cutoff) {
				continue
			}
			objs = append(objs, Object{Key: key, LastModified: modified, Size: aws.Int64Value(obj.Size)})
		}
		return true
	})
	if err != nil {
		return nil, translateS3Error(err, r.Bucket, prefix)
	}
	sortObjects(objs)
	return objs, nil
}

// Cutoff returns the oldest modification time a report may have.
func Cutoff(maxAge time.Duration, now time.Time) time.Time {
	if maxAge <= 0 {
		return oldestReport
	}
	return now.UTC().Add(-maxAge)
}

func translateS3Error(err error, bucket, key string) error {
	if aerr, ok := err.(awserr.Error); ok {
		switch aerr.Code() {
		case s3.ErrCodeNoSuchBucket, s3.ErrCodeNoSuchKey:
			return errors.Newf(errors.ErrObjectNotFound, "s3://%s/%s does not exist", bucket, key)
		}
	}
	return errors.Wrapf(err, "fetching S3 object s3://%s/%s", bucket, key)
}

func sortObjects(objs []Object) {
	sort.SliceStable(objs, func(i, j int) bool {
		if objs[i].LastModified.Equal(objs[j].LastModified) {
			return objs[i].Key < objs[j].Key
		}
		return objs[i].LastModified.Before(objs[j].LastModified)
	})
}

// FileReader reads objects from a directory, keyed by slash-separated paths
// relative to Root. It lets a downloaded copy of a report bucket be ingested.
type FileReader struct {
	Root string
}

func (r FileReader) path(key string) string {
	return filepath.Join(r.Root, filepath.FromSlash(key))
}

// Open implements Reader.
func (r FileReader) Open(_ context.Context, key string) (io.ReadCloser, error) {
	f, err := os.Open(r.path(key))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrObjectNotFound, "%s does not exist", r.path(key))
		}
		return nil, errors.Wrapf(err, "opening %s", key)
	}
	return f, nil
}

// ListManifests walks Root/prefix the same way S3Reader lists a bucket.
func (r FileReader) ListManifests(_ context.Context, prefix string, maxAge time.Duration, now time.Time) ([]Object, error) {
	cutoff := Cutoff(maxAge, now)
	var objs []Object
	err := filepath.Walk(r.path(prefix), func(path string, info os.FileInfo, err error) error {
		if err != nil {
			return err
		}
		if info.IsDir() || !strings.HasSuffix(path, ManifestSuffix) || !info.ModTime().After(cutoff) {
			return nil
		}
		rel, err := filepath.Rel(r.Root, path)
		if err != nil {
			return err
		}
		objs = append(objs, Object{Key: filepath.ToSlash(rel), LastModified: info.ModTime().UTC(), Size: info.Size()})
		return nil
	})
	if err != nil {
		return nil, errors.Wrapf(err, "listing %s", r.path(prefix))
	}
	sortObjects(objs)
	return objs, nil
}

// ReadFileOrURL reads a whole path from the filesystem or an s3 URL. The
// s3client parameter is required if reading an s3 URL.
func ReadFileOrURL(ctx context.Context, name string, s3client s3iface.S3API) ([]byte, error) {
	if strings.HasPrefix(name, "s3://") {
		if s3client == nil {
			return nil, errors.New(errors.ErrUncoded, "missing s3 client")
		}
		body, err := NewS3Reader(s3client, "", nil).Open(ctx, name)
		if err != nil {
			return nil, err
		}
		defer body.Close()
		content, err := io.ReadAll(body)
		if err != nil {
			return nil, errors.Wrapf(err, "reading %s", name)
		}
		return content, nil
	}

	content, err := os.ReadFile(name)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errors.Newf(errors.ErrObjectNotFound, "%s does not exist", name)
		}
		return nil, errors.Wrapf(err, "reading file %v", name)
	}
	return content, nil
}
