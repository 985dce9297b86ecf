// SPDX-License-Identifier: Apache-2.0

package main

import (
	"errors"
	"fmt"
	"log"
	"os"
	"strings"

	"github.com/go-logr/logr"
	"github.com/go-logr/stdr"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	_ "github.com/golang-auth/go-gssctx/mechs/krb5"
	_ "github.com/golang-auth/go-gssctx/mechs/loopback"
)

var (
	VERSION = "0.0.0-dev.0"
)

const envPrefix = "GSSCTL"

var rootCmd = &cobra.Command{
	Use:               "gssctl",
	Version:           VERSION,
	SilenceUsage:      true,
	SilenceErrors:     true,
	DisableAutoGenTag: true,
	Short:             "Exchange GSS-API protected messages over TCP",
	Long: `gssctl establishes GSS-API security contexts between a client and a server
and exchanges a protected message over the context.

Every flag can also be set in the environment as GSSCTL_<FLAG>, with dashes
replaced by underscores, or in the file named by --config.`,
	PersistentPreRunE: loadConfig,
}

type rootFlags struct {
	verbose int
	config  string
}

var rootArgs = rootFlags{}

func init() {
	rootCmd.PersistentFlags().IntVarP(&rootArgs.verbose, "verbose", "v", 0,
		"Log verbosity, 0 logs errors and important events only.")
	rootCmd.PersistentFlags().StringVar(&rootArgs.config, "config", "",
		"Path to a configuration file (YAML, TOML or JSON) with flag values.")
	rootCmd.SetOut(os.Stdout)
}

// loadConfig fills flags that were not given on the command line from the environment
// and the config file, then sets up logging.
func loadConfig(cmd *cobra.Command, _ []string) error {
	v := viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if rootArgs.config != "" {
		v.SetConfigFile(rootArgs.config)
		if err := v.ReadInConfig(); err != nil {
			return fmt.Errorf("reading config: %w", err)
		}
	}

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	var errs []error
	cmd.Flags().VisitAll(func(f *pflag.Flag) {
		if f.Changed || !v.IsSet(f.Name) {
			return
		}
		if err := cmd.Flags().Set(f.Name, v.GetString(f.Name)); err != nil {
			errs = append(errs, fmt.Errorf("invalid value for %s: %w", f.Name, err))
		}
	})

	stdr.SetVerbosity(rootArgs.verbose)

	return errors.Join(errs...)
}

// newLogger returns the logger for a command, writing to its error stream.
func newLogger(cmd *cobra.Command) logr.Logger {
	return stdr.New(log.New(cmd.ErrOrStderr(), "", log.LstdFlags)).WithName(cmd.Name())
}

func main() {
	log.SetFlags(0)

	if err := rootCmd.Execute(); err != nil {
		rootCmd.PrintErrf("✗ %v\n", err)
		os.Exit(1)
	}
}
