// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0

/*
Package cmd contains the aws-bill-analysis subcommand definitions (1 per
file).

Each new*Command function returns a cobra.Command wrapping the matching ctl
command, with that command's settings bound to flags. NewRootCommand
collects them.
*/
package cmd
