package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"lanrelay/internal/infrastructure/distributed"
	"lanrelay/pkg/config"
	"lanrelay/pkg/logger"
	"lanrelay/pkg/retry"
)

var busCmd = &cobra.Command{
	Use:   "bus",
	Short: "Inspect the Redis presence bus",
}

var busTailCmd = &cobra.Command{
	Use:   "tail",
	Short: "Print presence events published by relay instances",
	Long: `Subscribe to the presence channel configured under redis and print every
event any relay instance publishes.

Examples:
  lanrelay bus tail --config configs/config.yaml`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(flagConfig)
		if err != nil {
			return err
		}
		log := logger.New(cfg.Logging.Level, "console").Sugar()
		defer log.Sync()

		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		rdb, err := distributed.NewRedisClient(ctx, cfg, retry.DefaultConfig(), log)
		if err != nil {
			return err
		}
		defer rdb.Close()

		channel := cfg.Redis.Channel
		if channel == "" {
			channel = distributed.DefaultBusConfig().Channel
		}
		fmt.Printf("listening on %s\n", channel)
		return distributed.Subscribe(ctx, rdb, channel, "", log, printEvent)
	},
}

func printEvent(ev distributed.Event) {
	line := fmt.Sprintf("%s [%s] %s %s (%s)", ev.Timestamp.Format("15:04:05"), ev.InstanceID, ev.Type, ev.Participant.Name, ev.Participant.ID)
	if ev.Reason != "" {
		line += " reason=" + string(ev.Reason)
	}
	fmt.Println(line)
	renderParticipants(os.Stdout, ev.Snapshot, "")
}

func init() {
	rootCmd.AddCommand(busCmd)
	busCmd.AddCommand(busTailCmd)

	busTailCmd.Flags().StringVarP(&flagConfig, "config", "c", "configs/config.yaml", "Path to the YAML configuration file")
}
