// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package ctl

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/table"
	billing "github.com/molecula/aws-bill-analysis"
	"github.com/molecula/aws-bill-analysis/elastic"
	"github.com/pkg/errors"
)

// indexAdmin is the part of elastic.Client the index commands use.
type indexAdmin interface {
	ListIndices(ctx context.Context, pattern string, maxAge time.Duration, now time.Time) ([]elastic.Index, error)
	DeleteIndices(ctx context.Context, names []string) error
}

func newIndexAdmin(es ESConfig, cio *billing.CmdIO) (indexAdmin, error) {
	if err := es.validate(); err != nil {
		return nil, err
	}
	return elastic.NewClient(es.client(), cio.Logger())
}

func writeIndices(w io.Writer, indices []elastic.Index) {
	rows := make([]table.Row, 0, len(indices))
	var docs int64
	for _, idx := range indices {
		created := ""
		if !idx.Created.IsZero() {
			created = idx.Created.Format(time.RFC3339)
		}
		rows = append(rows, table.Row{idx.Name, idx.Health, idx.Status, idx.Docs, idx.StoreSize, created})
		docs += idx.Docs
	}
	writeTable(w, table.Row{"Index", "Health", "Status", "Docs", "Size", "Created"}, rows,
		table.Row{fmt.Sprintf("%d indices", len(indices)), "", "", docs, "", ""})
}

// ListIndicesCommand prints the indices matching a pattern.
type ListIndicesCommand struct {
	*billing.CmdIO

	ES      ESConfig
	Pattern string
	// MaxAge is in days; zero or less means no limit.
	MaxAge  int
	Verbose bool

	// Admin is built from ES when nil.
	Admin indexAdmin
	now   func() time.Time
}

// NewListIndicesCommand returns a new instance of ListIndicesCommand.
func NewListIndicesCommand(stdin io.Reader, stdout, stderr io.Writer) *ListIndicesCommand {
	return &ListIndicesCommand{
		CmdIO:   billing.NewCmdIO(stdin, stdout, stderr),
		Pattern: "*",
		MaxAge:  -1,
		now:     time.Now,
	}
}

// Run prints the matching indices.
func (cmd *ListIndicesCommand) Run(ctx context.Context) error {
	closeLog, err := LogConfig{Verbose: cmd.Verbose}.setupLogger(cmd.CmdIO)
	if err != nil {
		return err
	}
	defer closeLog()

	if cmd.Admin == nil {
		if cmd.Admin, err = newIndexAdmin(cmd.ES, cmd.CmdIO); err != nil {
			return err
		}
	}
	indices, err := cmd.Admin.ListIndices(ctx, cmd.Pattern, maxAge(cmd.MaxAge), cmd.now())
	if err != nil {
		return err
	}
	writeIndices(cmd.Stdout, indices)
	return nil
}

// DeleteIndicesCommand deletes the indices matching a pattern, after asking
// unless Force is set.
type DeleteIndicesCommand struct {
	*billing.CmdIO

	ES      ESConfig
	Pattern string
	// MaxAge is in days; zero or less means no limit.
	MaxAge  int
	Force   bool
	Verbose bool

	// Admin is built from ES when nil.
	Admin indexAdmin
	now   func() time.Time
}

// NewDeleteIndicesCommand returns a new instance of DeleteIndicesCommand.
func NewDeleteIndicesCommand(stdin io.Reader, stdout, stderr io.Writer) *DeleteIndicesCommand {
	return &DeleteIndicesCommand{
		CmdIO:  billing.NewCmdIO(stdin, stdout, stderr),
		MaxAge: -1,
		now:    time.Now,
	}
}

// Run lists the matching indices, confirms, and deletes them.
func (cmd *DeleteIndicesCommand) Run(ctx context.Context) error {
	if cmd.Pattern == "" {
		return errors.New("--index-pattern is required")
	}
	closeLog, err := LogConfig{Verbose: cmd.Verbose}.setupLogger(cmd.CmdIO)
	if err != nil {
		return err
	}
	defer closeLog()

	if cmd.Admin == nil {
		if cmd.Admin, err = newIndexAdmin(cmd.ES, cmd.CmdIO); err != nil {
			return err
		}
	}
	indices, err := cmd.Admin.ListIndices(ctx, cmd.Pattern, maxAge(cmd.MaxAge), cmd.now())
	if err != nil {
		return err
	}
	if len(indices) == 0 {
		fmt.Fprintf(cmd.Stdout, "No indices match %s.\n", cmd.Pattern)
		return nil
	}
	writeIndices(cmd.Stdout, indices)

	if !cmd.Force && !cmd.confirm() {
		fmt.Fprintln(cmd.Stdout, "Cancelled.")
		return nil
	}

	names := make([]string, len(indices))
	for i, idx := range indices {
		names[i] = idx.Name
	}
	if err := cmd.Admin.DeleteIndices(ctx, names); err != nil {
		return err
	}
	fmt.Fprintf(cmd.Stdout, "Deleted %d indices.\n", len(names))
	return nil
}

// confirm asks before deleting. Only an exact "Y" goes ahead.
func (cmd *DeleteIndicesCommand) confirm() bool {
	fmt.Fprint(cmd.Stdout, "All of the above indices will be deleted. Continue? [Y/n]: ")
	answer, err := bufio.NewReader(cmd.Stdin).ReadString('\n')
	if err != nil && answer == "" {
		return false
	}
	return strings.TrimSpace(answer) == "Y"
}
