// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package pipeline wires the stages together: for each report it fetches
// the manifest, then streams every data file through parsing, conditioning
// and bulk ingest.
package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/molecula/aws-bill-analysis/accounts"
	"github.com/molecula/aws-bill-analysis/condition"
	"github.com/molecula/aws-bill-analysis/errors"
	"github.com/molecula/aws-bill-analysis/ingest"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/molecula/aws-bill-analysis/manifest"
	"github.com/molecula/aws-bill-analysis/objectstore"
	"github.com/molecula/aws-bill-analysis/report"
	"golang.org/x/sync/errgroup"
)

// FileSummary is the outcome of ingesting one data file.
type FileSummary struct {
	Key string
	// Rows counts data rows read, Skipped the malformed ones among them,
	// and Dropped the rows which could not be conditioned.
	Rows    uint64
	Skipped uint64
	Dropped uint64
	ingest.Summary
	Duration time.Duration
	// Err is set when the file was abandoned part way.
	Err error
}

func (fs FileSummary) String() string {
	s := fmt.Sprintf("%s: %d rows, %d skipped, %d dropped, %s", fs.Key, fs.Rows, fs.Skipped, fs.Dropped, fs.Summary)
	if fs.Err != nil {
		s += ", aborted: " + fs.Err.Error()
	}
	return s
}

// ReportSummary is the outcome of ingesting one report.
type ReportSummary struct {
	ManifestKey string
	Files       []FileSummary
	// Total adds up the ingest counts of all files.
	Total   ingest.Summary
	Rows    uint64
	Skipped uint64
	Dropped uint64
	// FileErrors lists the files which were abandoned.
	FileErrors []FileSummary
	// Err is the error which ended the report early, if any.
	Err error
}

func (rs *ReportSummary) add(fs FileSummary) {
	rs.Files = append(rs.Files, fs)
	rs.Total.Add(fs.Summary)
	rs.Rows += fs.Rows
	rs.Skipped += fs.Skipped
	rs.Dropped += fs.Dropped
	if fs.Err != nil {
		rs.FileErrors = append(rs.FileErrors, fs)
	}
}

func (rs ReportSummary) String() string {
	return fmt.Sprintf("%s: %d files (%d failed), %d rows, %d skipped, %d dropped, %s",
		rs.ManifestKey, len(rs.Files), len(rs.FileErrors), rs.Rows, rs.Skipped, rs.Dropped, rs.Total)
}

// Pipeline ingests reports. The account table is loaded by the caller once
// per run and shared by every report.
type Pipeline struct {
	Manifests manifest.Source
	Objects   objectstore.Reader
	Accounts  accounts.Table
	Options   condition.Options
	Engine    *ingest.Engine

	// ContinueOnFileError moves on to the next data file when one fails.
	// Errors which invalidate the whole run stop it regardless.
	ContinueOnFileError bool

	Log logger.Logger
}

// New returns a Pipeline with default options.
func New(objects objectstore.Reader, engine *ingest.Engine, log logger.Logger) *Pipeline {
	if log == nil {
		log = logger.NopLogger
	}
	return &Pipeline{
		Manifests:           manifest.StoreSource{Objects: objects},
		Objects:             objects,
		Options:             condition.DefaultOptions(),
		Engine:              engine,
		ContinueOnFileError: true,
		Log:                 log,
	}
}

// IngestReport ingests every data file of the report whose manifest is at
// manifestKey, in manifest order.
func (p *Pipeline) IngestReport(ctx context.Context, manifestKey string) (ReportSummary, error) {
	rs := ReportSummary{ManifestKey: manifestKey}
	m, err := p.Manifests.Fetch(ctx, manifestKey)
	if err != nil {
		rs.Err = err
		return rs, err
	}
	p.Log.Debugf("Manifest %s: report %s, %d columns, %d data files, compression %s",
		manifestKey, m.ReportName, len(m.Columns), len(m.ReportKeys), m.Compression)

	cond := condition.NewConditioner(m, p.Accounts, p.Options, p.Log)
	for _, key := range m.ReportKeys {
		fs := p.ingestFile(ctx, m, cond, key)
		rs.add(fs)
		p.Log.Infof("Finished %s", fs)
		if fs.Err == nil {
			continue
		}
		if errors.Fatal(fs.Err) || ctx.Err() != nil || !p.ContinueOnFileError {
			rs.Err = fs.Err
			return rs, fs.Err
		}
		p.Log.Errorf("Giving up on data file %s: %v", key, fs.Err)
	}
	return rs, nil
}

func (p *Pipeline) ingestFile(ctx context.Context, m *manifest.Manifest, cond *condition.Conditioner, key string) (fs FileSummary) {
	fs.Key = key
	start := time.Now()
	defer func() { fs.Duration = time.Since(start) }()

	p.Log.Infof("Downloading report data file: %s", key)
	body, err := p.Objects.Open(ctx, key)
	if err != nil {
		fs.Err = errors.Wrapf(err, "opening data file %s", key)
		return fs
	}
	r, err := report.Open(ctx, key, body, m, p.Log)
	if err != nil {
		fs.Err = err
		return fs
	}
	defer r.Close()

	stage := condition.NewStage(r, cond)
	fs.Summary, fs.Err = p.Engine.Ingest(ctx, stage)
	fs.Rows, fs.Skipped, fs.Dropped = r.Rows(), r.Skipped(), stage.Dropped()
	return fs
}

// IngestAll ingests the reports at keys, up to concurrency at a time. The
// summaries are returned in key order. Reports which fail for reasons of
// their own are logged and skipped; the first run-fatal error cancels the
// rest and is returned.
func (p *Pipeline) IngestAll(ctx context.Context, keys []string, concurrency int) ([]ReportSummary, error) {
	if concurrency < 1 {
		concurrency = 1
	}
	summaries := make([]ReportSummary, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(concurrency)
	for i, key := range keys {
		i, key := i, key
		g.Go(func() error {
			if gctx.Err() != nil {
				summaries[i] = ReportSummary{ManifestKey: key, Err: gctx.Err()}
				return gctx.Err()
			}
			p.Log.Infof("Ingesting report %s", key)
			rs, err := p.IngestReport(gctx, key)
			summaries[i] = rs
			if err == nil {
				return nil
			}
			if errors.Fatal(err) || gctx.Err() != nil {
				return errors.Wrapf(err, "ingesting report %s", key)
			}
			p.Log.Errorf("Ingesting report %s: %v", key, err)
			return nil
		})
	}
	err := g.Wait()
	return summaries, err
}
