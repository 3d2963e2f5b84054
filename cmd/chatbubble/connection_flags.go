package main

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbubble/pkg/config"
)

// connectionFlags are shared by the client commands.
type connectionFlags struct {
	socketURL         string
	useSocket         bool
	httpBaseURL       string
	collection        string
	sessionID         string
	reconnectInterval time.Duration
	maxAttempts       int
}

func (f *connectionFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.socketURL, "socket-url", "", "websocket endpoint (ws:// or wss://)")
	cmd.Flags().BoolVar(&f.useSocket, "use-socket", false, "deliver over the websocket when it is connected")
	cmd.Flags().StringVar(&f.httpBaseURL, "http-base-url", "", "base URL of the HTTP fallback")
	cmd.Flags().StringVar(&f.collection, "collection", "", "collection name sent with every message")
	cmd.Flags().StringVar(&f.sessionID, "session-id", "", "session id (generated when empty)")
	cmd.Flags().DurationVar(&f.reconnectInterval, "reconnect-interval", 0, "delay between automatic reconnects")
	cmd.Flags().IntVar(&f.maxAttempts, "max-reconnect-attempts", config.DefaultMaxReconnectAttempts, "automatic reconnect budget")
}

func (f *connectionFlags) apply(cmd *cobra.Command, cfg *config.Config) {
	changed := cmd.Flags().Changed
	if changed("socket-url") {
		cfg.SocketURL = f.socketURL
		// Naming a socket implies wanting it unless told otherwise.
		if !changed("use-socket") {
			cfg.UseSocketTransport = true
		}
	}
	if changed("use-socket") {
		cfg.UseSocketTransport = f.useSocket
	}
	if changed("http-base-url") {
		cfg.HTTPBaseURL = f.httpBaseURL
	}
	if changed("collection") {
		cfg.CollectionName = f.collection
	}
	if changed("session-id") {
		cfg.SessionID = f.sessionID
	}
	if changed("reconnect-interval") {
		cfg.ReconnectIntervalMS = f.reconnectInterval.Milliseconds()
	}
	if changed("max-reconnect-attempts") {
		cfg.MaxReconnectAttempts = f.maxAttempts
	}
}
