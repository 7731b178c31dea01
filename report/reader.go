// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package report turns one data file of a cost and usage report into a lazy
// sequence of raw records, decompressing it on the fly when the manifest says
// so.
package report

import (
	"context"
	"encoding/csv"
	"io"
	"sync"

	"github.com/klauspost/compress/gzip"
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/molecula/aws-bill-analysis/manifest"
)

// RawRecord maps a "{category}/{name}" header key to the value found in one
// row. A fresh map is returned for every row.
type RawRecord map[string]string

// Reader produces the rows of one data file in file order. It is not
// threadsafe, and it cannot be restarted.
type Reader struct {
	Name string
	Log  logger.Logger

	ctx    context.Context
	body   io.ReadCloser
	gz     *gzip.Reader
	csv    *csv.Reader
	header []string

	rows    uint64
	skipped uint64

	closeOnce sync.Once
	closeErr  error
	done      bool
}

// Open wraps body in a reader for the data file called name. Open takes
// ownership of body: it is closed when the Reader is closed, and also when
// Open fails. The header row is read before Open returns. Columns are
// checked against the manifest only when values are typed.
func Open(ctx context.Context, name string, body io.ReadCloser, m *manifest.Manifest, log logger.Logger) (*Reader, error) {
	if log == nil {
		log = logger.NopLogger
	}
	r := &Reader{Name: name, Log: log, ctx: ctx, body: body}

	if m.ContentType != manifest.ContentTypeCSV {
		r.Close()
		return nil, errors.Newf(errors.ErrUnsupportedFormat, "format %q not implemented", m.ContentType)
	}

	var src io.Reader = body
	switch m.Compression {
	case manifest.CompressionGzip:
		gz, err := gzip.NewReader(body)
		if err != nil {
			r.Close()
			return nil, errors.Wrapf(errors.New(errors.ErrStreamBroken, err.Error()), "decompressing %s", name)
		}
		r.gz = gz
		src = gz
	case manifest.CompressionNone:
	default:
		r.Close()
		return nil, errors.Newf(errors.ErrUnsupportedFormat, "compression %q not implemented", m.Compression)
	}

	r.csv = csv.NewReader(src)
	// Row length is checked against the header by Record, so that a short
	// or long row only costs that row.
	r.csv.FieldsPerRecord = -1
	r.csv.ReuseRecord = true

	if err := r.readHeader(); err != nil {
		r.Close()
		return nil, err
	}
	return r, nil
}

func (r *Reader) readHeader() error {
	header, err := r.csv.Read()
	if err != nil {
		if err == io.EOF {
			return errors.Newf(errors.ErrMalformedHeader, "%s is empty", r.Name)
		}
		if _, ok := err.(*csv.ParseError); ok {
			return errors.Wrapf(errors.New(errors.ErrMalformedHeader, err.Error()), "reading header from %s", r.Name)
		}
		return errors.Wrapf(errors.New(errors.ErrStreamBroken, err.Error()), "reading header from %s", r.Name)
	}
	r.header = make([]string, len(header))
	seen := make(map[string]struct{}, len(header))
	for i, key := range header {
		if _, dup := seen[key]; dup {
			return errors.Newf(errors.ErrMalformedHeader, "%s: column %q appears twice in the header", r.Name, key)
		}
		seen[key] = struct{}{}
		r.header[i] = key
	}
	return nil
}

// Header returns the column keys of the data file, in file order.
func (r *Reader) Header() []string {
	return r.header
}

// Record returns the next row, or io.EOF once the file is exhausted. Rows
// which do not match the header are logged and skipped. Any other error
// aborts the file: the Reader is closed and later calls return io.EOF.
func (r *Reader) Record() (RawRecord, error) {
	if r.done {
		return nil, io.EOF
	}
	for {
		if err := r.ctx.Err(); err != nil {
			r.finish()
			return nil, errors.Wrapf(err, "reading %s", r.Name)
		}

		row, err := r.csv.Read()
		switch {
		case err == io.EOF:
			r.finish()
			if r.skipped > 0 {
				r.Log.Warnf("'%s': skipped %d malformed rows", r.Name, r.skipped)
			}
			return nil, io.EOF
		case err != nil:
			if perr, ok := err.(*csv.ParseError); ok {
				r.rows++
				r.skipped++
				r.Log.Warnf("'%s': skipping unparseable row at line %d: %v", r.Name, perr.StartLine, perr.Err)
				continue
			}
			r.finish()
			return nil, errors.Wrapf(errors.New(errors.ErrStreamBroken, err.Error()), "reading %s after %d rows", r.Name, r.rows)
		}

		r.rows++
		if len(row) != len(r.header) {
			r.skipped++
			r.Log.Warnf("'%s': skipping row %d with %d fields, header has %d", r.Name, r.rows, len(row), len(r.header))
			continue
		}

		rec := make(RawRecord, len(row))
		for i, val := range row {
			rec[r.header[i]] = val
		}
		return rec, nil
	}
}

// Rows returns how many data rows have been read, skipped ones included.
func (r *Reader) Rows() uint64 { return r.rows }

// Skipped returns how many rows were skipped as malformed.
func (r *Reader) Skipped() uint64 { return r.skipped }

func (r *Reader) finish() {
	r.done = true
	r.Close()
}

// Close releases the decompressor and the upstream connection. It is safe to
// call more than once.
func (r *Reader) Close() error {
	r.closeOnce.Do(func() {
		r.done = true
		if r.gz != nil {
			if err := r.gz.Close(); err != nil {
				r.closeErr = errors.Wrap(err, "closing decompressor")
			}
		}
		if err := r.body.Close(); err != nil && r.closeErr == nil {
			r.closeErr = errors.Wrapf(err, "closing %s", r.Name)
		}
	})
	return r.closeErr
}
