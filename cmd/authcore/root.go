package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Version information (set at build time).
var version = "dev"

type rootFlags struct {
	logLevel string
	verbose  bool
}

func newRootCommand() *cobra.Command {
	flags := &rootFlags{}

	cmd := &cobra.Command{
		Use:           "authcore",
		Short:         "Manual debugging tool for the auth, signing, and certificate engines",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: false,
	}
	cmd.PersistentFlags().StringVar(&flags.logLevel, "log-level", "warn",
		"log level (debug, info, warn, error)")
	cmd.PersistentFlags().BoolVarP(&flags.verbose, "verbose", "v", false,
		"shorthand for --log-level debug")

	cmd.AddCommand(
		newSignCommand(flags),
		newPresignCommand(flags),
		newCertCommand(flags),
		newAuthCommand(flags),
	)
	return cmd
}

// newLogger builds a console logger at the requested level.
func (f *rootFlags) newLogger() (*zap.Logger, error) {
	level := f.logLevel
	if f.verbose {
		level = "debug"
	}
	var lvl zapcore.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", level, err)
	}

	cfg := zap.NewDevelopmentConfig()
	cfg.Level = zap.NewAtomicLevelAt(lvl)
	return cfg.Build()
}
