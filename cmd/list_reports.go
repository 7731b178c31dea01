// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"context"
	"io"

	"github.com/molecula/aws-bill-analysis/ctl"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
)

// awsFlags binds the flags locating the reports.
func awsFlags(flags *pflag.FlagSet, c *ctl.AWSConfig) {
	flags.StringVar(&c.Profile, "profile-name", c.Profile, "Name of AWS profile to use")
	flags.StringVar(&c.Region, "aws-region", c.Region, "AWS region, overriding the profile's")
	flags.StringVar(&c.Bucket, "s3-bucket-name", c.Bucket, "Name of S3 bucket")
	flags.StringVar(&c.BasePath, "base-path", c.BasePath, "Base path (prefix) of S3 bucket where the cost usage reports are located")
}

func newListReportsCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewListReportsCommand(stdin, stdout, stderr)
	ccmd := &cobra.Command{
		Use:   "list-cost-reports",
		Short: "List cost monitoring reports available in S3.",
		Long: `
Lists the report manifests found under the base path of the bucket, oldest
first.
`,
		RunE: func(c *cobra.Command, args []string) error {
			cmd.Verbose = verbose(c)
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.IntVar(&cmd.MaxAge, "max-age", cmd.MaxAge, "Oldest age of report in days (default - no limit)")
	awsFlags(flags, &cmd.AWS)
	return ccmd
}
