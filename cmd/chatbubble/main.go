package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbubble/pkg/config"
	"github.com/go-go-golems/chatbubble/pkg/logging"
)

var (
	configPath string
	logLevel   string
	logFormat  string

	// loaded in PersistentPreRunE, flags already applied
	settings config.Config
)

var rootCmd = &cobra.Command{
	Use:           "chatbubble",
	Short:         "chatbubble talks to an assistant backend over a websocket with HTTP fallback",
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("log-level") {
			cfg.Log.Level = logLevel
		}
		if cmd.Flags().Changed("log-format") {
			cfg.Log.Format = logFormat
		}
		if _, err := logging.Init(logging.Settings{Level: cfg.Log.Level, Format: cfg.Log.Format, App: "chatbubble"}); err != nil {
			return err
		}
		settings = cfg
		return nil
	},
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "config file (.yaml, .yml or .toml)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level (trace, debug, info, warn, error, disabled)")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", logging.FormatAuto, "log format (auto, console, json)")

	rootCmd.AddCommand(newServeCommand(), newAskCommand(), newTUICommand())

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		log.Error().Err(err).Msg("chatbubble failed")
		os.Exit(1)
	}
}
