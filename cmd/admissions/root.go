package main

import (
	"io"
	"log"

	"github.com/spf13/cobra"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/pecadmissions/admissions/config"
	"github.com/pecadmissions/admissions/store/sqlite"
)

// RootOptions holds global flags and the loaded configuration.
type RootOptions struct {
	Config config.Config

	DBPath      string
	LogFile     string
	NoUpgrade   bool
	logRotation io.Closer
}

// NewRootCommand creates the root command for the admissions CLI.
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:           "admissions",
		Short:         "PEC admissions tracker",
		Long:          "Issues PEC application numbers and tracks admission applications from reservation to submission.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load()
			if err != nil {
				return err
			}
			flags := cmd.Flags()
			if flags.Changed("db") {
				cfg.DBPath = opts.DBPath
			}
			if flags.Changed("log-file") {
				cfg.LogFile = opts.LogFile
			}
			if flags.Changed("no-upgrade") {
				cfg.SchemaUpgrade = !opts.NoUpgrade
			}
			opts.Config = cfg
			opts.logRotation = setupLogging(cmd.ErrOrStderr(), cfg.LogFile)
			return nil
		},
		PersistentPostRunE: func(cmd *cobra.Command, args []string) error {
			if opts.logRotation != nil {
				return opts.logRotation.Close()
			}
			return nil
		},
	}

	// Global flags
	cmd.PersistentFlags().StringVar(&opts.DBPath, "db", "admissions.db", "SQLite database path (env DB_PATH)")
	cmd.PersistentFlags().StringVar(&opts.LogFile, "log-file", "", "also write logs to this rotating file (env LOG_FILE)")
	cmd.PersistentFlags().BoolVar(&opts.NoUpgrade, "no-upgrade", false, "do not add missing columns at startup")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewSequenceCommand(opts))
	cmd.AddCommand(NewExportCommand(opts))

	return cmd
}

// openStore opens the configured database.
func (o *RootOptions) openStore() (*sqlite.Store, error) {
	return sqlite.Open(o.Config.DBPath, sqlite.Options{
		SequenceFloor: o.Config.SequenceFloor,
		LockTimeout:   o.Config.LockTimeout,
		UpgradeSchema: o.Config.SchemaUpgrade,
	})
}

// setupLogging sends the standard logger to stderr and, when path is set,
// to a size-rotated file as well.
func setupLogging(stderr io.Writer, path string) io.Closer {
	log.SetFlags(log.LstdFlags)
	if path == "" {
		log.SetOutput(stderr)
		return nil
	}
	rotator := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    20, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}
	log.SetOutput(io.MultiWriter(stderr, rotator))
	return rotator
}
