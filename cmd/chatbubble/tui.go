package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
	"github.com/go-go-golems/chatbubble/pkg/tui"
)

func newTUICommand() *cobra.Command {
	var (
		flags   connectionFlags
		logFile string
		welcome string
	)
	cmd := &cobra.Command{
		Use:   "tui",
		Short: "Interactive terminal chat",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings
			flags.apply(cmd, &cfg)
			if cmd.Flags().Changed("welcome") {
				cfg.WelcomeMessage = welcome
			}

			// The alternate screen owns stderr; log to a file or not at all.
			logger := zerolog.Nop()
			if logFile != "" {
				f, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
				if err != nil {
					return errors.Wrap(err, "open log file")
				}
				defer func() { _ = f.Close() }()
				logger = log.Logger.Output(f)
			}

			bridge := tui.NewBridge(0)
			m, err := delivery.New(cfg.Delivery(),
				delivery.WithLogger(logger),
				delivery.WithCallbacks(bridge.Callbacks()),
			)
			if err != nil {
				return err
			}
			defer m.Teardown()
			if err := m.Start(); err != nil {
				return err
			}
			return tui.Run(cmd.Context(), m, bridge.Events())
		},
	}
	flags.register(cmd)
	cmd.Flags().StringVar(&logFile, "log-file", "", "write logs to this file while the UI runs")
	cmd.Flags().StringVar(&welcome, "welcome", "", "welcome message shown before the first turn")
	return cmd
}
