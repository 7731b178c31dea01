// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/organizations"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/sqs"
	"github.com/google/uuid"
	"github.com/jedib0t/go-pretty/table"
	billing "github.com/molecula/aws-bill-analysis"
	"github.com/molecula/aws-bill-analysis/accounts"
	"github.com/molecula/aws-bill-analysis/awsutil"
	"github.com/molecula/aws-bill-analysis/condition"
	"github.com/molecula/aws-bill-analysis/elastic"
	"github.com/molecula/aws-bill-analysis/ingest"
	"github.com/molecula/aws-bill-analysis/monitor"
	"github.com/molecula/aws-bill-analysis/objectstore"
	"github.com/molecula/aws-bill-analysis/pipeline"
	"github.com/pkg/errors"
	"golang.org/x/time/rate"
)

// reportStore opens report objects and finds manifests.
type reportStore interface {
	objectstore.Reader
	manifestLister
}

// IngestCommand finds the cost reports in the bucket and ingests them into
// Elasticsearch.
type IngestCommand struct {
	*billing.CmdIO

	Config IngestConfig

	// These are built from Config when nil.
	Objects     reportStore
	Accounts    accounts.Source
	Store       ingest.Store
	DeadLetters ingest.DeadLetterStore

	// RunID tags dead letters. A fresh one is made when empty.
	RunID string

	// Summaries holds the outcome of each report after Run.
	Summaries []pipeline.ReportSummary

	sess *session.Session
	now  func() time.Time
}

// NewIngestCommand returns a new instance of IngestCommand.
func NewIngestCommand(stdin io.Reader, stdout, stderr io.Writer) *IngestCommand {
	return &IngestCommand{
		CmdIO:  billing.NewCmdIO(stdin, stdout, stderr),
		Config: NewIngestConfig(),
		now:    time.Now,
	}
}

func (cmd *IngestCommand) validate() error {
	c := cmd.Config
	if !ingest.ValidOpType(c.OpType) {
		return errors.Errorf("invalid --op-type %q: must be one of %s, %s, %s", c.OpType, ingest.OpIndex, ingest.OpCreate, ingest.OpUpdate)
	}
	if c.BatchSize < 1 {
		return errors.Errorf("invalid --batch-size %d: must be positive", c.BatchSize)
	}
	if c.MaxRetries < 0 {
		return errors.Errorf("invalid --max-retries %d: must not be negative", c.MaxRetries)
	}
	if c.RateLimit < 0 {
		return errors.Errorf("invalid --rate-limit %v: must not be negative", c.RateLimit)
	}
	if cmd.Store == nil {
		return c.es().validate()
	}
	return nil
}

// session returns the AWS session, creating it on first use.
func (cmd *IngestCommand) session() (*session.Session, error) {
	if cmd.sess != nil {
		return cmd.sess, nil
	}
	sess, err := awsutil.NewSession(cmd.Config.aws().session(), cmd.Logger())
	if err != nil {
		return nil, err
	}
	cmd.sess = sess
	return sess, nil
}

// Run ingests every report under the base path no older than the maximum
// age. Reports are ingested oldest first.
func (cmd *IngestCommand) Run(ctx context.Context) error {
	closeLog, err := cmd.Config.log().setupLogger(cmd.CmdIO)
	if err != nil {
		return err
	}
	defer closeLog()
	log := cmd.Logger()

	if err := monitor.InitErrorMonitor(cmd.Config.SentryDSN, billing.Release()); err != nil {
		return err
	}
	defer monitor.Flush()

	if err := cmd.validate(); err != nil {
		return err
	}
	tmpl, err := ingest.ParseIndexTemplate(cmd.Config.IndexName)
	if err != nil {
		return errors.Wrap(err, "parsing --index-name")
	}
	if cmd.RunID == "" {
		cmd.RunID = uuid.New().String()
	}
	log.Infof("Starting ingest run %s", cmd.RunID)

	if cmd.Config.MetricsAddr != "" {
		ms, err := serveMetrics(cmd.Config.MetricsAddr, log)
		if err != nil {
			return err
		}
		defer ms.Close()
	}

	if err := cmd.setupObjects(); err != nil {
		return err
	}
	acctTable, err := cmd.loadAccounts(ctx)
	if err != nil {
		return err
	}
	engine, err := cmd.setupEngine(ctx, tmpl)
	if err != nil {
		return err
	}

	objs, err := cmd.Objects.ListManifests(ctx, cmd.Config.BasePath, maxAge(cmd.Config.MaxAge), cmd.now())
	if err != nil {
		return errors.Wrap(err, "listing cost reports")
	}
	if len(objs) == 0 {
		fmt.Fprintf(cmd.Stdout, "No cost reports found under %s.\n", cmd.Config.BasePath)
		return nil
	}
	keys := make([]string, len(objs))
	for i, obj := range objs {
		keys[i] = obj.Key
	}
	log.Infof("Found %d cost reports", len(keys))

	p := pipeline.New(cmd.Objects, engine, log)
	p.Accounts = acctTable
	p.Options = condition.Options{
		RemoveEmptyFields: cmd.Config.RemoveEmptyFields,
		FormatDatatypes:   cmd.Config.FormatDatatypes,
		RemoveColon:       cmd.Config.RemoveColon,
		SpecialFixes:      cmd.Config.SpecialFixes,
	}

	start := time.Now()
	cmd.Summaries, err = p.IngestAll(ctx, keys, cmd.Config.Concurrency)
	fmt.Fprintln(cmd.Stdout)
	writeTally(cmd.Stdout, cmd.Summaries, time.Since(start))
	if err != nil {
		return errors.Wrap(err, "ingest run failed")
	}
	return nil
}

func (cmd *IngestCommand) setupObjects() error {
	if cmd.Objects != nil {
		return nil
	}
	sess, err := cmd.session()
	if err != nil {
		return err
	}
	cmd.Objects = objectstore.NewS3Reader(s3.New(sess), cmd.Config.Bucket, cmd.Logger())
	return nil
}

// loadAccounts fetches the reference table once for the whole run.
func (cmd *IngestCommand) loadAccounts(ctx context.Context) (accounts.Table, error) {
	if cmd.Config.SkipAccounts {
		cmd.Logger().Infof("Skipping account lookup, records will not be enriched")
		return accounts.Table{}, nil
	}
	if cmd.Accounts == nil {
		sess, err := cmd.session()
		if err != nil {
			return nil, err
		}
		var sources accounts.MultiSource
		sources = append(sources, accounts.NewOrganizationsSource(organizations.New(sess), cmd.Logger()))
		if cmd.Config.AccountsFile != "" {
			sources = append(sources, accounts.FileSource{Path: cmd.Config.AccountsFile, S3Client: s3.New(sess)})
		}
		cmd.Accounts = sources
	}
	t, err := cmd.Accounts.FetchAll(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "loading account table (use --skip-accounts to ingest without it)")
	}
	cmd.Logger().Infof("Loaded %d accounts", len(t))
	return t, nil
}

func (cmd *IngestCommand) setupEngine(ctx context.Context, tmpl *ingest.IndexTemplate) (*ingest.Engine, error) {
	c := cmd.Config
	log := cmd.Logger()
	if cmd.Store == nil {
		ec := c.es().client()
		ec.MaxRetries = 3
		client, err := elastic.NewClient(ec, log)
		if err != nil {
			return nil, err
		}
		cmd.Store = client
	}

	if cmd.DeadLetters == nil && c.DeadLetterQueue != "" {
		sess, err := cmd.session()
		if err != nil {
			return nil, err
		}
		dl, err := ingest.NewSQSDeadLetters(ctx, sqs.New(sess), c.DeadLetterQueue, cmd.RunID, log)
		if err != nil {
			log.Warnf("Dead letter queue unavailable, failed operations will only be logged: %v", err)
		}
		cmd.DeadLetters = dl
	}

	engine := ingest.NewEngine(cmd.Store, log)
	engine.BatchSize = c.BatchSize
	engine.OpType = c.OpType
	engine.Template = tmpl
	engine.Retry = c.retryPolicy()
	engine.HashMissingIDs = c.HashMissingIDs
	engine.DeadLetter = cmd.DeadLetters
	engine.Progress = cmd.Stdout
	if c.RateLimit > 0 {
		engine.Limiter = rate.NewLimiter(rate.Limit(c.RateLimit), 1)
	}
	return engine, nil
}

// writeTally prints one row per data file and the totals of the run.
func writeTally(w io.Writer, summaries []pipeline.ReportSummary, elapsed time.Duration) {
	var rows []table.Row
	var total pipeline.ReportSummary
	var files, failedFiles int
	for _, rs := range summaries {
		for _, fs := range rs.Files {
			status := "ok"
			if fs.Err != nil {
				status = "aborted: " + fs.Err.Error()
			}
			rows = append(rows, table.Row{fs.Key, fs.Rows, fs.Skipped, fs.Dropped, fs.Succeeded, fs.Failed, fs.Retries, fs.Duration.Round(time.Millisecond), status})
		}
		if rs.Err != nil && len(rs.Files) == 0 {
			rows = append(rows, table.Row{rs.ManifestKey, 0, 0, 0, 0, 0, 0, time.Duration(0), "failed: " + rs.Err.Error()})
		}
		files += len(rs.Files)
		failedFiles += len(rs.FileErrors)
		total.Total.Add(rs.Total)
		total.Rows += rs.Rows
		total.Skipped += rs.Skipped
		total.Dropped += rs.Dropped
	}
	writeTable(w,
		table.Row{"File", "Rows", "Skipped", "Dropped", "Indexed", "Failed", "Retries", "Duration", "Status"},
		rows,
		table.Row{fmt.Sprintf("%d reports, %d files", len(summaries), files), total.Rows, total.Skipped, total.Dropped,
			total.Total.Succeeded, total.Total.Failed, total.Total.Retries, elapsed.Round(time.Millisecond), fmt.Sprintf("%d failed", failedFiles)},
	)
}
