// Copyright 2022 Molecula Corp. (DBA FeatureBase).
// SPDX-License-Identifier: Apache-2.0
package cmd

import (
	"fmt"
	"io"
	"strings"

	billing "github.com/molecula/aws-bill-analysis"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// envPrefix is prepended to the upper-cased flag names to find their
// environment variables, e.g. BILLING_ES_PASS for --es-pass.
const envPrefix = "BILLING"

func NewRootCommand(stdin io.Reader, stdout, stderr io.Writer) *cobra.Command {
	rc := &cobra.Command{
		Use:   "aws-bill-analysis",
		Short: "Commands to manage AWS report billing data",
		Long: `Commands to manage AWS report billing data.

aws-bill-analysis finds the cost and usage reports AWS exports to S3,
conditions every line item and ingests it into Elasticsearch. It also
lists and deletes the resulting indices.

Every flag can also be given in the environment, upper-cased and prefixed
with ` + envPrefix + `_ (e.g. ` + envPrefix + `_ES_PASS), or in the TOML file named by
--config. Flags win over the environment, which wins over the file.

` + billing.VersionInfo() + "\n",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			v := viper.New()
			err := setAllConfig(v, cmd.Flags())
			if err != nil {
				return err
			}

			// return "dry run" error if "dry-run" flag is set
			ret, err := cmd.Flags().GetBool("dry-run")
			if err != nil {
				return fmt.Errorf("problem getting dry-run flag: %v", err)
			}
			if ret {
				if cmd.Parent() != nil {
					return fmt.Errorf("dry run")
				}
			}

			return nil
		},
	}
	rc.PersistentFlags().Bool("dry-run", false, "stop before executing")
	_ = rc.PersistentFlags().MarkHidden("dry-run")
	rc.PersistentFlags().StringP("config", "c", "", "Configuration file to read from.")
	rc.PersistentFlags().Bool("debug", false, "Log at debug level.")
	rc.PersistentFlags().Bool("verbose", false, "Same as --debug.")

	rc.AddCommand(newListReportsCommand(stdin, stdout, stderr))
	rc.AddCommand(newIngestCommand(stdin, stdout, stderr))
	rc.AddCommand(newListIndicesCommand(stdin, stdout, stderr))
	rc.AddCommand(newDeleteIndicesCommand(stdin, stdout, stderr))
	rc.AddCommand(newGenerateConfigCommand(stdin, stdout, stderr))

	rc.SetOutput(stderr)
	return rc
}

// verbose reports whether debug logging was asked for.
func verbose(c *cobra.Command) bool {
	debug, _ := c.Flags().GetBool("debug")
	verbose, _ := c.Flags().GetBool("verbose")
	return debug || verbose
}

// setAllConfig takes a FlagSet to be the definition of all configuration
// options, as well as their defaults. It then reads from the command line, the
// environment, and a config file (if specified), and applies the configuration
// in that priority order. Since each flag in the set contains a pointer to
// where its value should be stored, setAllConfig can directly modify the value
// of each config variable.
//
// setAllConfig looks for environment variables which are capitalized versions
// of the flag names with dashes replaced by underscores, and prefixed with
// envPrefix plus an underscore.
func setAllConfig(v *viper.Viper, flags *pflag.FlagSet) error {
	// add cmd line flag def to viper
	err := v.BindPFlags(flags)
	if err != nil {
		return err
	}

	// add env to viper
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_", ".", "_"))
	v.AutomaticEnv()

	c := v.GetString("config")
	var flagErr error
	validTags := make(map[string]bool)
	flags.VisitAll(func(f *pflag.Flag) {
		validTags[f.Name] = true
	})

	// add config file to viper
	if c != "" {
		v.SetConfigFile(c)
		v.SetConfigType("toml")
		err := v.ReadInConfig()
		if err != nil {
			return fmt.Errorf("error reading configuration file '%s': %v", c, err)
		}

		for _, key := range v.AllKeys() {
			if _, ok := validTags[key]; !ok {
				return fmt.Errorf("invalid option in configuration file: %v", key)
			}
		}
	}

	// set all values from viper
	flags.VisitAll(func(f *pflag.Flag) {
		if flagErr != nil {
			return
		}
		if f.Changed {
			// The flag was given on the command line, which beats
			// everything else.
			return
		}
		flagErr = f.Value.Set(v.GetString(f.Name))
	})
	return flagErr
}
