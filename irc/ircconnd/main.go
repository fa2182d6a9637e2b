package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/presbrey/ircconn/irc"
	"github.com/presbrey/ircconn/irc/config"
	"github.com/presbrey/ircconn/irc/store"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	var rootCmd = &cobra.Command{
		Use:   "ircconnd",
		Short: "IRC client daemon",
		Long:  `Keeps one IRC client connection alive, reconnecting when it drops, and serves its state over HTTP.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger, err := newLogger(logLevel)
			if err != nil {
				return err
			}
			slog.SetDefault(logger)

			cfg, err := config.Load(configPath)
			if err != nil {
				return err
			}

			var watch irc.WatchList = irc.NewMemoryWatchList()
			if cfg.Store.Driver != "" {
				st, err := store.Open(cfg.Store.Driver, cfg.Store.DSN)
				if err != nil {
					return err
				}
				defer st.Close()
				watch = st.WatchList(cfg.Store.Account)
			}
			for _, nick := range cfg.Client.Watch {
				if err := watch.Add(nick); err != nil {
					return fmt.Errorf("watch %s: %w", nick, err)
				}
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()

			d := newDaemon(cfg, logger, watch, func() irc.Transport {
				return irc.NewGircTransport(logger)
			})
			return d.run(ctx)
		},
	}

	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "config file or URL (yaml, toml or json)")
	rootCmd.Flags().StringVar(&logLevel, "log-level", "info", "log level (debug, info, warn, error)")

	if err := rootCmd.ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newLogger(level string) (*slog.Logger, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.ToUpper(level))); err != nil {
		return nil, fmt.Errorf("invalid log level %q", level)
	}
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: l})), nil
}
