// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package objectstore

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/internal/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func TestS3ReaderOpen(t *testing.T) {
	s3mock := &mocks.S3API{}
	s3mock.On("GetObjectWithContext", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "my-billing-reports" && *in.Key == "cur/a.csv"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("x,y\n"))}, nil)
	s3mock.On("GetObjectWithContext", mock.Anything, mock.MatchedBy(func(in *s3.GetObjectInput) bool {
		return *in.Bucket == "other" && *in.Key == "dir/b.csv"
	})).Return(&s3.GetObjectOutput{Body: io.NopCloser(strings.NewReader("b\n"))}, nil)
	s3mock.On("GetObjectWithContext", mock.Anything, mock.Anything).
		Return(nil, awserr.New(s3.ErrCodeNoSuchKey, "gone", nil))

	r := NewS3Reader(s3mock, "my-billing-reports", nil)

	body, err := r.Open(context.Background(), "cur/a.csv")
	require.NoError(t, err)
	data, err := io.ReadAll(body)
	require.NoError(t, err)
	assert.Equal(t, "x,y\n", string(data))
	assert.NoError(t, body.Close())

	body, err = r.Open(context.Background(), "s3://other/dir/b.csv")
	require.NoError(t, err)
	body.Close()

	_, err = r.Open(context.Background(), "cur/missing.csv")
	assert.True(t, errors.Is(err, errors.ErrObjectNotFound), "got %v", err)
}

func TestS3ReaderListManifests(t *testing.T) {
	now := time.Date(2023, 2, 10, 0, 0, 0, 0, time.UTC)
	obj := func(key string, age time.Duration) *s3.Object {
		return &s3.Object{Key: aws.String(key), LastModified: aws.Time(now.Add(-age)), Size: aws.Int64(10)}
	}
	s3mock := &mocks.S3API{}
	s3mock.On("ListObjectsV2PagesWithContext", mock.Anything, mock.MatchedBy(func(in *s3.ListObjectsV2Input) bool {
		return *in.Bucket == "my-billing-reports" && *in.Prefix == "cur/cost-report/"
	})).Return([]*s3.ListObjectsV2Output{
		{Contents: []*s3.Object{
			obj("cur/cost-report/20230201-20230301/cost-report-Manifest.json", 24*time.Hour),
			obj("cur/cost-report/20230201-20230301/abc/cost-report-1.csv.gz", 24*time.Hour),
		}},
		{Contents: []*s3.Object{
			obj("cur/cost-report/20230101-20230201/cost-report-Manifest.json", 9*24*time.Hour),
		}},
	}, nil)

	r := NewS3Reader(s3mock, "my-billing-reports", nil)

	objs, err := r.ListManifests(context.Background(), "cur/cost-report/", 0, now)
	require.NoError(t, err)
	require.Len(t, objs, 2)
	assert.Equal(t, "cur/cost-report/20230101-20230201/cost-report-Manifest.json", objs[0].Key)
	assert.Equal(t, "cur/cost-report/20230201-20230301/cost-report-Manifest.json", objs[1].Key)

	objs, err = r.ListManifests(context.Background(), "cur/cost-report/", 5*24*time.Hour, now)
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "cur/cost-report/20230201-20230301/cost-report-Manifest.json", objs[0].Key)
}

func TestFileReader(t *testing.T) {
	root := t.TempDir()
	dir := filepath.Join(root, "cur", "cost-report", "20230101-20230201")
	require.NoError(t, os.MkdirAll(dir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cost-report-Manifest.json"), []byte("{}"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "cost-report-1.csv"), []byte("a\n"), 0o644))

	r := FileReader{Root: root}
	objs, err := r.ListManifests(context.Background(), "cur", 0, time.Now())
	require.NoError(t, err)
	require.Len(t, objs, 1)
	assert.Equal(t, "cur/cost-report/20230101-20230201/cost-report-Manifest.json", objs[0].Key)

	body, err := r.Open(context.Background(), objs[0].Key)
	require.NoError(t, err)
	body.Close()

	_, err = r.Open(context.Background(), "cur/nope.json")
	assert.True(t, errors.Is(err, errors.ErrObjectNotFound))
}

func TestReadFileOrURL(t *testing.T) {
	name := filepath.Join(t.TempDir(), "accounts.json")
	require.NoError(t, os.WriteFile(name, []byte(`{"1": {}}`), 0o644))

	data, err := ReadFileOrURL(context.Background(), name, nil)
	require.NoError(t, err)
	assert.Equal(t, `{"1": {}}`, string(data))

	_, err = ReadFileOrURL(context.Background(), name+".missing", nil)
	assert.True(t, errors.Is(err, errors.ErrObjectNotFound))

	_, err = ReadFileOrURL(context.Background(), "s3://bucket/accounts.json", nil)
	assert.Error(t, err)
}

func TestCutoff(t *testing.T) {
	now := time.Date(2023, 2, 10, 12, 0, 0, 0, time.UTC)
	assert.Equal(t, oldestReport, Cutoff(0, now))
	assert.Equal(t, oldestReport, Cutoff(-time.Hour, now))
	assert.Equal(t, now.Add(-48*time.Hour), Cutoff(48*time.Hour, now))
}
