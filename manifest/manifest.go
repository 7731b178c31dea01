// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package manifest models the JSON manifest which describes a cost and usage
// report: its columns and their declared types, how the data files are
// encoded, and where they live.
package manifest

import (
	"context"
	"encoding/json"
	"io"
	"strings"
	"time"

	"github.com/molecula/aws-bill-analysis/errors"
)

// ColumnType is the declared type of a report column.
type ColumnType int

const (
	ColumnTypeUnknown ColumnType = iota
	String
	OptionalString
	DateTime
	OptionalDateTime
	Interval
	BigDecimal
	OptionalBigDecimal
)

var columnTypeNames = map[ColumnType]string{
	String:             "String",
	OptionalString:     "OptionalString",
	DateTime:           "DateTime",
	OptionalDateTime:   "OptionalDateTime",
	Interval:           "Interval",
	BigDecimal:         "BigDecimal",
	OptionalBigDecimal: "OptionalBigDecimal",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return "Unknown"
}

// ParseColumnType maps a manifest type tag onto a ColumnType.
func ParseColumnType(tag string) (ColumnType, error) {
	for t, name := range columnTypeNames {
		if name == tag {
			return t, nil
		}
	}
	return ColumnTypeUnknown, errors.Newf(errors.ErrUnknownColumnType, "unknown column type %q", tag)
}

// Compression is how a report's data files are compressed.
type Compression string

const (
	CompressionNone Compression = "NONE"
	CompressionGzip Compression = "GZIP"
)

// ContentType is how a report's data files are encoded.
type ContentType string

const (
	ContentTypeCSV ContentType = "text/csv"
)

// Column is one column of a report.
type Column struct {
	Category string `json:"category"`
	Name     string `json:"name"`
	// RawType is the tag exactly as it appeared in the manifest.
	RawType string     `json:"type"`
	Type    ColumnType `json:"-"`
}

// Key returns the name under which the column appears in a data file header.
func (c Column) Key() string {
	return c.Category + "/" + c.Name
}

// Period is the billing period the report covers.
type Period struct {
	Start string `json:"start"`
	End   string `json:"end"`
}

// Manifest describes a single report. It is immutable once decoded.
type Manifest struct {
	AssemblyID             string      `json:"assemblyId"`
	ReportID               string      `json:"reportId"`
	ReportName             string      `json:"reportName"`
	Account                string      `json:"account"`
	Bucket                 string      `json:"bucket"`
	Charset                string      `json:"charset"`
	BillingPeriod          Period      `json:"billingPeriod"`
	Columns                []Column    `json:"columns"`
	Compression            Compression `json:"compression"`
	ContentType            ContentType `json:"contentType"`
	ReportKeys             []string    `json:"reportKeys"`
	AdditionalArtifactKeys []struct {
		ArtifactType string `json:"artifactType"`
		Name         string `json:"name"`
	} `json:"additionalArtifactKeys,omitempty"`

	columns map[string]Column
}

// Decode reads a manifest document, resolves its column types, and
// validates it.
func Decode(r io.Reader) (*Manifest, error) {
	m := &Manifest{}
	if err := json.NewDecoder(r).Decode(m); err != nil {
		return nil, errors.Wrap(errors.New(errors.ErrInvalidManifest, err.Error()), "decoding manifest")
	}
	if err := m.Validate(); err != nil {
		return nil, err
	}
	return m, nil
}

// Validate normalizes the encoding fields, builds the column index, and
// rejects manifests the ingest pipeline cannot process. A column with an
// unrecognised type does not invalidate the manifest; records that carry a
// value for it fail individually.
func (m *Manifest) Validate() error {
	switch Compression(strings.ToUpper(string(m.Compression))) {
	case "", CompressionNone:
		m.Compression = CompressionNone
	case CompressionGzip:
		m.Compression = CompressionGzip
	default:
		return errors.Newf(errors.ErrUnsupportedFormat, "compression %q not implemented", m.Compression)
	}

	switch strings.ToLower(string(m.ContentType)) {
	case "text/csv", "csv":
		m.ContentType = ContentTypeCSV
	default:
		return errors.Newf(errors.ErrUnsupportedFormat, "format %q not implemented", m.ContentType)
	}

	m.columns = make(map[string]Column, len(m.Columns))
	for i, col := range m.Columns {
		m.Columns[i].Type, _ = ParseColumnType(col.RawType)
		key := col.Key()
		if _, dup := m.columns[key]; dup {
			return errors.Newf(errors.ErrInvalidManifest, "duplicate column %q", key)
		}
		m.columns[key] = m.Columns[i]
	}
	return nil
}

// Lookup returns the column for a data file header key.
func (m *Manifest) Lookup(key string) (Column, bool) {
	col, ok := m.columns[key]
	return col, ok
}

// Keys returns the column keys in manifest order.
func (m *Manifest) Keys() []string {
	keys := make([]string, len(m.Columns))
	for i, col := range m.Columns {
		keys[i] = col.Key()
	}
	return keys
}

// PeriodStart parses the start of the billing period, for reporting.
func (m *Manifest) PeriodStart() (time.Time, error) {
	return time.Parse("20060102T150405.000Z", m.BillingPeriod.Start)
}

// Source fetches manifests by locator.
type Source interface {
	Fetch(ctx context.Context, locator string) (*Manifest, error)
}

// Opener opens an object for sequential reading. objectstore.Reader
// satisfies it.
type Opener interface {
	Open(ctx context.Context, key string) (io.ReadCloser, error)
}

// StoreSource reads manifests from an object store.
type StoreSource struct {
	Objects Opener
}

// Fetch implements Source.
func (s StoreSource) Fetch(ctx context.Context, locator string) (*Manifest, error) {
	body, err := s.Objects.Open(ctx, locator)
	if err != nil {
		return nil, errors.Wrapf(errors.New(errors.ErrInvalidManifest, err.Error()), "opening manifest %s", locator)
	}
	defer body.Close()

	m, err := Decode(body)
	if err != nil {
		return nil, errors.Wrapf(err, "manifest %s", locator)
	}
	return m, nil
}
