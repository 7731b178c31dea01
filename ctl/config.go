// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

// Package ctl implements the aws-bill-analysis commands. Each command is a
// struct holding its settings, with a Run method.
package ctl

import (
	"io"
	"os"
	"time"

	billing "github.com/molecula/aws-bill-analysis"
	"github.com/molecula/aws-bill-analysis/awsutil"
	"github.com/molecula/aws-bill-analysis/elastic"
	"github.com/molecula/aws-bill-analysis/ingest"
	"github.com/molecula/aws-bill-analysis/logger"
	"github.com/molecula/aws-bill-analysis/toml"
	"github.com/pkg/errors"
)

// Defaults mirror the layout produced by the AWS cost and usage report setup.
const (
	DefaultProfile     = "my-main-account-profile"
	DefaultBucket      = "my-billing-reports"
	DefaultBasePath    = "cur/cost-report/"
	DefaultConcurrency = 1
)

// AWSConfig selects the account, bucket and prefix holding the reports.
type AWSConfig struct {
	Profile  string
	Region   string
	Bucket   string
	BasePath string
}

func (c AWSConfig) session() awsutil.Config {
	return awsutil.Config{Profile: c.Profile, Region: c.Region}
}

// ESConfig holds the Elasticsearch connection settings.
type ESConfig struct {
	Host     string
	Port     string
	User     string
	Password string
	Insecure bool
}

func (c ESConfig) client() elastic.Config {
	return elastic.Config{
		Host:     c.Host,
		Port:     c.Port,
		User:     c.User,
		Password: c.Password,
		Insecure: c.Insecure,
	}
}

func (c ESConfig) validate() error {
	if c.Host == "" {
		return errors.New("--es-host is required")
	}
	return nil
}

// LogConfig selects where logs go and how much is logged.
type LogConfig struct {
	Path    string
	Verbose bool
}

// setupLogger sends logs to the configured file, or to stderr.
func (c LogConfig) setupLogger(cio *billing.CmdIO) (closer func(), err error) {
	closer = func() {}
	var w io.Writer = cio.Stderr
	if c.Path != "" {
		f, err := os.OpenFile(c.Path, os.O_RDWR|os.O_CREATE|os.O_APPEND, 0600)
		if err != nil {
			return closer, errors.Wrap(err, "opening log file")
		}
		w = f
		closer = func() { f.Close() }
	}
	cio.SetLogger(logger.New(w, c.Verbose))
	return closer, nil
}

// IngestConfig is everything ingest-cost-reports can be told. It is also
// what generate-config prints, so its keys are the flag names.
type IngestConfig struct {
	Profile  string `toml:"profile-name"`
	Region   string `toml:"aws-region"`
	Bucket   string `toml:"s3-bucket-name"`
	BasePath string `toml:"base-path"`
	// MaxAge is in days; zero or less means no limit.
	MaxAge int `toml:"max-age"`

	ESHost     string `toml:"es-host"`
	ESPort     string `toml:"es-port"`
	ESUser     string `toml:"es-user"`
	ESPass     string `toml:"es-pass"`
	ESInsecure bool   `toml:"es-insecure"`

	RemoveEmptyFields bool `toml:"remove-empty-fields"`
	FormatDatatypes   bool `toml:"format-datatypes"`
	RemoveColon       bool `toml:"remove-colon"`
	SpecialFixes      bool `toml:"special-fixes"`

	IndexName      string        `toml:"index-name"`
	OpType         string        `toml:"op-type"`
	HashMissingIDs bool          `toml:"hash-missing-ids"`
	BatchSize      int           `toml:"batch-size"`
	MaxRetries     int           `toml:"max-retries"`
	InitialBackoff toml.Duration `toml:"initial-backoff"`
	MaxBackoff     toml.Duration `toml:"max-backoff"`
	// RateLimit caps bulk requests per second; zero is unlimited.
	RateLimit   float64 `toml:"rate-limit"`
	Concurrency int     `toml:"concurrency"`

	AccountsFile string `toml:"accounts-file"`
	SkipAccounts bool   `toml:"skip-accounts"`

	DeadLetterQueue string `toml:"dead-letter-queue"`
	MetricsAddr     string `toml:"metrics-addr"`
	SentryDSN       string `toml:"sentry-dsn"`
	LogPath         string `toml:"log-path"`
	Verbose         bool   `toml:"verbose"`
}

// NewIngestConfig returns the default settings.
func NewIngestConfig() IngestConfig {
	retry := ingest.DefaultRetryPolicy()
	return IngestConfig{
		Profile:           DefaultProfile,
		Bucket:            DefaultBucket,
		BasePath:          DefaultBasePath,
		MaxAge:            -1,
		RemoveEmptyFields: true,
		FormatDatatypes:   true,
		RemoveColon:       true,
		SpecialFixes:      true,
		IndexName:         ingest.DefaultIndexTemplate,
		OpType:            ingest.OpIndex,
		HashMissingIDs:    true,
		BatchSize:         ingest.DefaultBatchSize,
		MaxRetries:        retry.MaxRetries,
		InitialBackoff:    toml.Duration(retry.InitialBackoff),
		MaxBackoff:        toml.Duration(retry.MaxBackoff),
		Concurrency:       DefaultConcurrency,
	}
}

func (c IngestConfig) aws() AWSConfig {
	return AWSConfig{Profile: c.Profile, Region: c.Region, Bucket: c.Bucket, BasePath: c.BasePath}
}

func (c IngestConfig) es() ESConfig {
	return ESConfig{Host: c.ESHost, Port: c.ESPort, User: c.ESUser, Password: c.ESPass, Insecure: c.ESInsecure}
}

func (c IngestConfig) log() LogConfig {
	return LogConfig{Path: c.LogPath, Verbose: c.Verbose}
}

func (c IngestConfig) retryPolicy() ingest.RetryPolicy {
	p := ingest.DefaultRetryPolicy()
	p.MaxRetries = c.MaxRetries
	p.InitialBackoff = time.Duration(c.InitialBackoff)
	p.MaxBackoff = time.Duration(c.MaxBackoff)
	return p
}

// maxAge converts a day count into a duration.
func maxAge(days int) time.Duration {
	if days <= 0 {
		return 0
	}
	return time.Duration(days) * 24 * time.Hour
}
