// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"context"
	"io"
	"time"

	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/jedib0t/go-pretty/table"
	billing "github.com/molecula/aws-bill-analysis"
	"github.com/molecula/aws-bill-analysis/awsutil"
	"github.com/molecula/aws-bill-analysis/objectstore"
	"github.com/pkg/errors"
)

// manifestLister finds report manifests. objectstore.S3Reader and
// objectstore.FileReader both are one.
type manifestLister interface {
	ListManifests(ctx context.Context, prefix string, maxAge time.Duration, now time.Time) ([]objectstore.Object, error)
}

// ListReportsCommand prints the report manifests available in the bucket.
type ListReportsCommand struct {
	*billing.CmdIO

	AWS AWSConfig
	// MaxAge is in days; zero or less means no limit.
	MaxAge  int
	Verbose bool

	// Lister is built from AWS when nil.
	Lister manifestLister
	now    func() time.Time
}

// NewListReportsCommand returns a new instance of ListReportsCommand.
func NewListReportsCommand(stdin io.Reader, stdout, stderr io.Writer) *ListReportsCommand {
	return &ListReportsCommand{
		CmdIO: billing.NewCmdIO(stdin, stdout, stderr),
		AWS: AWSConfig{
			Profile:  DefaultProfile,
			Bucket:   DefaultBucket,
			BasePath: DefaultBasePath,
		},
		MaxAge: -1,
		now:    time.Now,
	}
}

// Run lists the manifests, oldest first.
func (cmd *ListReportsCommand) Run(ctx context.Context) error {
	closeLog, err := LogConfig{Verbose: cmd.Verbose}.setupLogger(cmd.CmdIO)
	if err != nil {
		return err
	}
	defer closeLog()
	log := cmd.Logger()

	if cmd.Lister == nil {
		sess, err := awsutil.NewSession(cmd.AWS.session(), log)
		if err != nil {
			return err
		}
		cmd.Lister = objectstore.NewS3Reader(s3.New(sess), cmd.AWS.Bucket, log)
	}

	log.Infof("Searching for reports under %s", cmd.AWS.BasePath)
	objs, err := cmd.Lister.ListManifests(ctx, cmd.AWS.BasePath, maxAge(cmd.MaxAge), cmd.now())
	if err != nil {
		return errors.Wrap(err, "listing cost reports")
	}

	rows := make([]table.Row, 0, len(objs))
	for _, obj := range objs {
		rows = append(rows, table.Row{obj.Key, obj.LastModified.Format(time.RFC3339), obj.Size})
	}
	writeTable(cmd.Stdout, table.Row{"Manifest", "Last Modified", "Size"}, rows, nil)
	return nil
}
