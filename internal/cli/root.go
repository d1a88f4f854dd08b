// Package cli holds the fern command tree
package cli

import (
	"context"

	"github.com/Gobusters/ectologger"
	"github.com/Gobusters/ectologger/zapadapter"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Ramsey-B/fern/config"
	"github.com/Ramsey-B/fern/pkg/database"
)

// RootOptions holds global flags and what PersistentPreRunE builds from them
type RootOptions struct {
	EnvFile string

	Config *config.Config
	Logger ectologger.Logger
}

// NewRootCommand creates the fern command
func NewRootCommand() *cobra.Command {
	opts := &RootOptions{}

	cmd := &cobra.Command{
		Use:   "fern",
		Short: "fern resolves inbound records to canonical people, animals and places",
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(opts.EnvFile)
			if err != nil {
				return err
			}
			opts.Config = cfg
			opts.Logger, err = newLogger(cfg)
			return err
		},
		SilenceUsage: true,
	}

	cmd.PersistentFlags().StringVar(&opts.EnvFile, "env-file", ".env", "dotenv file read before the environment")

	cmd.AddCommand(NewServeCommand(opts))
	cmd.AddCommand(NewMigrateCommand(opts))
	cmd.AddCommand(NewBlacklistCommand(opts))
	cmd.AddCommand(NewCandidatesCommand(opts))
	cmd.AddCommand(NewMergeCommand(opts))
	cmd.AddCommand(NewCheckConfigCommand(opts))

	return cmd
}

func newLogger(cfg *config.Config) (ectologger.Logger, error) {
	zcfg := zap.NewProductionConfig()
	if cfg.PrettyLogs {
		zcfg = zap.NewDevelopmentConfig()
	}
	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, err
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	zapLogger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return zapadapter.NewZapEctoLogger(zapLogger, nil), nil
}

func connectDB(ctx context.Context, opts *RootOptions) (database.DB, error) {
	cfg := opts.Config
	return database.Connect(ctx, database.Config{
		DSN:             cfg.DatabaseDSN(),
		MaxOpenConns:    cfg.DatabaseMaxOpenConns,
		MaxIdleConns:    cfg.DatabaseMaxIdleConns,
		ConnMaxLifetime: cfg.DatabaseConnMaxLifetime,
	}, opts.Logger)
}
