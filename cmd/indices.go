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

// esFlags binds the Elasticsearch connection flags.
func esFlags(flags *pflag.FlagSet, host, port, user, pass *string, insecure *bool) {
	flags.StringVar(host, "es-host", *host, "Elasticsearch hostname, or a full http(s) URL")
	flags.StringVar(port, "es-port", *port, "Elasticsearch port")
	flags.StringVar(user, "es-user", *user, "Elasticsearch username")
	flags.StringVar(pass, "es-pass", *pass, "Elasticsearch password")
	flags.BoolVar(insecure, "es-insecure", *insecure, "Skip TLS certificate verification (not secure)")
}

func newListIndicesCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewListIndicesCommand(stdin, stdout, stderr)
	ccmd := &cobra.Command{
		Use:   "list-es-indices",
		Short: "List elasticsearch indices.",
		Long: `
Lists the indices matching a pattern, with their health, document count and
creation date.
`,
		RunE: func(c *cobra.Command, args []string) error {
			cmd.Verbose = verbose(c)
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.IntVar(&cmd.MaxAge, "max-age", cmd.MaxAge, "Only indices created within this many days (default - no limit)")
	flags.StringVar(&cmd.Pattern, "index-pattern", cmd.Pattern, "Wildcard pattern matching the index names")
	esFlags(flags, &cmd.ES.Host, &cmd.ES.Port, &cmd.ES.User, &cmd.ES.Password, &cmd.ES.Insecure)
	return ccmd
}

func newDeleteIndicesCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	cmd := ctl.NewDeleteIndicesCommand(stdin, stdout, stderr)
	ccmd := &cobra.Command{
		Use:   "delete-es-indices",
		Short: "Delete elasticsearch indices.",
		Long: `
Deletes the indices matching a pattern. The indices are listed first, and
nothing is deleted unless the prompt is answered with Y or --force is given.
`,
		RunE: func(c *cobra.Command, args []string) error {
			cmd.Verbose = verbose(c)
			return cmd.Run(context.Background())
		},
	}

	flags := ccmd.Flags()
	flags.IntVar(&cmd.MaxAge, "max-age", cmd.MaxAge, "Only indices created within this many days (default - no limit)")
	flags.StringVar(&cmd.Pattern, "index-pattern", cmd.Pattern, "Wildcard pattern matching the index names (required)")
	flags.BoolVar(&cmd.Force, "force", false, "Confirm action (use with caution)")
	esFlags(flags, &cmd.ES.Host, &cmd.ES.Port, &cmd.ES.User, &cmd.ES.Password, &cmd.ES.Insecure)
	return ccmd
}
