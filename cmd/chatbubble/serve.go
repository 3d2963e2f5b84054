package main

import (
	"os"
	"strings"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/go-go-golems/chatbubble/pkg/backend"
	"github.com/go-go-golems/chatbubble/pkg/backend/notify"
	"github.com/go-go-golems/chatbubble/pkg/backend/threadstore"
)

func newServeCommand() *cobra.Command {
	var (
		addr          string
		sqliteDSN     string
		redisEnabled  bool
		redisAddr     string
		redisGroup    string
		redisConsumer string
		idleTimeout   time.Duration
		echoPrefix    string
	)
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the reference assistant backend",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := settings.Backend
			changed := cmd.Flags().Changed
			if changed("addr") {
				cfg.Addr = addr
			}
			if changed("sqlite-dsn") {
				cfg.SQLiteDSN = sqliteDSN
			}
			if changed("redis-enabled") {
				cfg.Redis.Enabled = redisEnabled
			}
			if changed("redis-addr") {
				cfg.Redis.Addr = redisAddr
			}
			if changed("redis-group") {
				cfg.Redis.Group = redisGroup
			}
			if changed("redis-consumer") {
				cfg.Redis.Consumer = redisConsumer
			}

			var store threadstore.Store = threadstore.NewInMemoryStore(0)
			if dsn := strings.TrimSpace(cfg.SQLiteDSN); dsn != "" {
				if !strings.HasPrefix(dsn, "file:") {
					var err error
					dsn, err = threadstore.SQLiteDSNForFile(dsn)
					if err != nil {
						return err
					}
				}
				s, err := threadstore.NewSQLiteStore(dsn)
				if err != nil {
					return errors.Wrap(err, "open thread store")
				}
				store = s
				log.Info().Str("dsn", dsn).Msg("using sqlite thread store")
			}

			if cfg.Redis.Consumer == "" {
				host, _ := os.Hostname()
				cfg.Redis.Consumer = "chatbubble-" + host
			}
			bus, err := notify.NewBus(notify.Settings{
				Enabled:  cfg.Redis.Enabled,
				Addr:     cfg.Redis.Addr,
				Group:    cfg.Redis.Group,
				Consumer: cfg.Redis.Consumer,
			})
			if err != nil {
				_ = store.Close()
				return err
			}

			srv, err := backend.NewServer(
				backend.WithStore(store),
				backend.WithBus(bus),
				backend.WithResponder(backend.EchoResponder{Prefix: echoPrefix}),
				backend.WithIdleTimeout(idleTimeout),
			)
			if err != nil {
				_ = bus.Close()
				_ = store.Close()
				return err
			}
			return srv.Run(cmd.Context(), cfg.Addr)
		},
	}
	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVar(&sqliteDSN, "sqlite-dsn", "", "sqlite file or DSN for the thread store (memory when empty)")
	cmd.Flags().BoolVar(&redisEnabled, "redis-enabled", false, "fan notifications out through Redis Streams")
	cmd.Flags().StringVar(&redisAddr, "redis-addr", "localhost:6379", "Redis address")
	cmd.Flags().StringVar(&redisGroup, "redis-group", "chatbubble", "Redis consumer group")
	cmd.Flags().StringVar(&redisConsumer, "redis-consumer", "", "Redis consumer name (defaults to the host name)")
	cmd.Flags().DurationVar(&idleTimeout, "idle-timeout", backend.DefaultIdleTimeout, "how long a session without sockets stays subscribed")
	cmd.Flags().StringVar(&echoPrefix, "echo-prefix", "", "prefix for echoed replies")
	return cmd
}
