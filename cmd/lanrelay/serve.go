package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"lanrelay/internal/relay"
	"lanrelay/pkg/config"
	"lanrelay/pkg/logger"
)

var (
	flagConfig    string
	flagLogLevel  string
	flagLogFormat string
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the relay",
	Long: `Run the relay until interrupted.

Examples:
  lanrelay serve
  lanrelay serve --config /etc/lanrelay/config.yaml --log-level debug`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		if flagLogLevel != "" {
			cfg.Logging.Level = flagLogLevel
		}
		if flagLogFormat != "" {
			cfg.Logging.Format = flagLogFormat
		}

		zapLogger := logger.New(cfg.Logging.Level, cfg.Logging.Format)
		defer zapLogger.Sync()
		log := zapLogger.Sugar()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		return serve(ctx, cfg, log)
	},
}

func serve(ctx context.Context, cfg *config.Config, log *zap.SugaredLogger) error {
	srv, err := relay.New(cfg, log)
	if err != nil {
		return err
	}
	if err := srv.Start(ctx); err != nil {
		return err
	}
	if err := srv.Run(ctx); err != nil {
		log.Errorw("relay stopped with error", "error", err)
		return err
	}
	return nil
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "Path to the YAML configuration file")
	serveCmd.Flags().StringVarP(&flagLogLevel, "log-level", "l", "", "Override the configured log level")
	serveCmd.Flags().StringVar(&flagLogFormat, "log-format", "", "Override the configured log format (json or console)")
}
