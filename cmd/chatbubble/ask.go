package main

import (
	"fmt"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbubble/pkg/bubble/delivery"
)

func newAskCommand() *cobra.Command {
	var (
		flags       connectionFlags
		waitConnect time.Duration
		timeout     time.Duration
	)
	cmd := &cobra.Command{
		Use:   "ask TEXT...",
		Short: "Send one message and print the reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings
			flags.apply(cmd, &cfg)
			cfg.WelcomeMessage = ""

			replies := make(chan delivery.Turn, 8)
			m, err := delivery.New(cfg.Delivery(), delivery.WithCallbacks(delivery.Callbacks{
				OnTurn: forwardAssistantTurns(replies),
			}))
			if err != nil {
				return err
			}
			defer m.Teardown()

			if err := m.Start(); err != nil {
				return err
			}
			if cfg.UseSocketTransport && cfg.SocketURL != "" {
				deadline := time.Now().Add(waitConnect)
				for m.State() != delivery.Connected && time.Now().Before(deadline) {
					time.Sleep(25 * time.Millisecond)
				}
			}

			if _, err := m.SendUserMessage(cmd.Context(), strings.Join(args, " ")); err != nil {
				return err
			}
			for {
				select {
				case t := <-replies:
					if t.Kind == delivery.TurnNotification {
						fmt.Fprintln(cmd.ErrOrStderr(), t.Content)
						continue
					}
					fmt.Fprintln(cmd.OutOrStdout(), t.Content)
					if t.Kind == delivery.TurnError {
						return errors.New("assistant returned an error")
					}
					return nil
				case <-time.After(timeout):
					return errors.Errorf("no reply within %s", timeout)
				case <-cmd.Context().Done():
					return cmd.Context().Err()
				}
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().DurationVar(&waitConnect, "wait-connect", 2*time.Second, "how long to wait for the socket before falling back to HTTP")
	cmd.Flags().DurationVar(&timeout, "timeout", 60*time.Second, "how long to wait for the reply")
	return cmd
}

// forwardAssistantTurns never blocks the callback dispatcher; turns arriving
// once nobody reads replies are dropped.
func forwardAssistantTurns(replies chan<- delivery.Turn) func(delivery.Turn) {
	return func(t delivery.Turn) {
		if t.Role != delivery.RoleAssistant {
			return
		}
		select {
		case replies <- t:
		default:
		}
	}
}
