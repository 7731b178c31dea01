// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/molecula/aws-bill-analysis/ctl"
	"github.com/spf13/cobra"
)

func newIngestCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewIngestCommand(stdin, stdout, stderr)
	ccmd := &cobra.Command{
		Use:   "ingest-cost-reports",
		Short: "Ingest cost monitoring reports from S3.",
		Long: `
Ingests every cost report under the base path of the bucket into
Elasticsearch, oldest first. Each line item becomes one document, keyed by
its line item id, so ingesting a report again overwrites it in place.

Progress is printed as one '.' per 100 documents indexed and one 'F' per 100
that could not be, followed by a tally per data file.
`,
		RunE: func(c *cobra.Command, args []string) error {
			if verbose(c) {
				cmd.Config.Verbose = true
			}
			ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer cancel()
			return cmd.Run(ctx)
		},
	}

	conf := &cmd.Config
	flags := ccmd.Flags()
	flags.IntVar(&conf.MaxAge, "max-age", conf.MaxAge, "Oldest age of report in days (default - no limit)")
	flags.StringVar(&conf.Profile, "profile-name", conf.Profile, "Name of AWS profile to use")
	flags.StringVar(&conf.Region, "aws-region", conf.Region, "AWS region, overriding the profile's")
	flags.StringVar(&conf.Bucket, "s3-bucket-name", conf.Bucket, "Name of S3 bucket")
	flags.StringVar(&conf.BasePath, "base-path", conf.BasePath, "Base path (prefix) of S3 bucket where the cost usage reports are located")

	flags.BoolVar(&conf.RemoveEmptyFields, "remove-empty-fields", conf.RemoveEmptyFields, "Remove fields which are empty")
	flags.BoolVar(&conf.FormatDatatypes, "format-datatypes", conf.FormatDatatypes, "Change the format of data types according to manifest file")
	flags.BoolVar(&conf.RemoveColon, "remove-colon", conf.RemoveColon, "Remove the colon from any keys")
	flags.BoolVar(&conf.SpecialFixes, "special-fixes", conf.SpecialFixes, "Apply special fixes to the data")

	flags.StringVar(&conf.IndexName, "index-name", conf.IndexName, "Name of index; {timestamp:<strftime format>} is replaced by the record's @timestamp")
	flags.StringVar(&conf.OpType, "op-type", conf.OpType, "Bulk operation type: index, create or update")
	flags.BoolVar(&conf.HashMissingIDs, "hash-missing-ids", conf.HashMissingIDs, "Derive a document id from the content of records without a line item id")
	flags.IntVar(&conf.BatchSize, "batch-size", conf.BatchSize, "Number of documents per bulk request")
	flags.IntVar(&conf.MaxRetries, "max-retries", conf.MaxRetries, "Times a rejected document is resubmitted before giving up")
	flags.DurationVar((*time.Duration)(&conf.InitialBackoff), "initial-backoff", time.Duration(conf.InitialBackoff), "Delay before the first resubmission")
	flags.DurationVar((*time.Duration)(&conf.MaxBackoff), "max-backoff", time.Duration(conf.MaxBackoff), "Longest delay between resubmissions")
	flags.Float64Var(&conf.RateLimit, "rate-limit", conf.RateLimit, "Maximum bulk requests per second (0 - no limit)")
	flags.IntVar(&conf.Concurrency, "concurrency", conf.Concurrency, "Number of reports ingested at once")

	flags.StringVar(&conf.AccountsFile, "accounts-file", conf.AccountsFile, "JSON file or s3:// URL of extra account information, merged over the organization's")
	flags.BoolVar(&conf.SkipAccounts, "skip-accounts", conf.SkipAccounts, "Do not look up account information")
	flags.StringVar(&conf.DeadLetterQueue, "dead-letter-queue", conf.DeadLetterQueue, "Name of an SQS queue receiving the documents which could not be indexed")
	flags.StringVar(&conf.MetricsAddr, "metrics-addr", conf.MetricsAddr, "Address to serve prometheus metrics on while ingesting, e.g. localhost:9093")
	flags.StringVar(&conf.SentryDSN, "sentry-dsn", conf.SentryDSN, "Sentry DSN to report errors to")
	flags.StringVar(&conf.LogPath, "log-path", conf.LogPath, "Log file to write to; empty means stderr")

	esFlags(flags, &conf.ESHost, &conf.ESPort, &conf.ESUser, &conf.ESPass, &conf.ESInsecure)
	return ccmd
}
