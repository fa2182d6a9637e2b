package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/presbrey/ircconn/irc"
	"github.com/presbrey/ircconn/irc/config"
	"github.com/presbrey/ircconn/wait"
)

const inboxSize = 100

// daemon supervises one connection at a time and replaces it when the
// server drops it.
type daemon struct {
	cfg          *config.Config
	logger       *slog.Logger
	watch        irc.WatchList
	newTransport func() irc.Transport

	mu   sync.RWMutex
	conn *irc.Connection

	inboxMu sync.Mutex
	inbox   []irc.Message

	interrupts chan struct{}
}

func newDaemon(cfg *config.Config, logger *slog.Logger, watch irc.WatchList, newTransport func() irc.Transport) *daemon {
	return &daemon{
		cfg:          cfg,
		logger:       logger,
		watch:        watch,
		newTransport: newTransport,
		interrupts:   make(chan struct{}, 1),
	}
}

// run connects, serves HTTP and reconnects after interruptions until ctx ends.
func (d *daemon) run(ctx context.Context) error {
	e := d.routes()
	serverErr := make(chan error, 1)
	go func() {
		d.logger.Info("HTTP API listening", slog.String("addr", d.cfg.HTTP.Listen))
		if err := e.Start(d.cfg.HTTP.Listen); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			d.logger.Warn("HTTP shutdown failed", slog.Any("error", err))
		}
	}()

	if err := d.connect(ctx); err != nil {
		if ctx.Err() != nil {
			return nil
		}
		return err
	}

	for {
		select {
		case <-ctx.Done():
			d.logger.Info("shutting down")
			if conn := d.connection(); conn != nil {
				conn.Disconnect()
			}
			return nil
		case err := <-serverErr:
			return fmt.Errorf("HTTP API: %w", err)
		case <-d.interrupts:
			d.logger.Warn("connection lost, reconnecting", slog.String("server", d.cfg.Address()))
			if err := d.connect(ctx); err != nil {
				if ctx.Err() != nil {
					return nil
				}
				return err
			}
		}
	}
}

// connect replaces the current connection, retrying with exponential backoff.
func (d *daemon) connect(ctx context.Context) error {
	opts := &wait.Options{
		MaxRetries: d.cfg.Reconnect.MaxRetries,
		Strategy:   wait.NewExponentialBackoffStrategy(d.cfg.Reconnect.Initial.Duration, 2, d.cfg.Reconnect.Max.Duration, true),
	}
	attempt := 0
	return wait.Retry(ctx, func(ctx context.Context) error {
		attempt++
		err := d.connectOnce(ctx)
		if err != nil {
			d.logger.Warn("connect failed", slog.Int("attempt", attempt), slog.Any("error", err))
		}
		return err
	}, opts)
}

func (d *daemon) connectOnce(ctx context.Context) error {
	conn, err := irc.New(d.newTransport(), d.cfg.ClientConfig(),
		irc.WithLogger(d.logger),
		irc.WithInterruptHandler(d.interrupted),
		irc.WithWatchList(d.watch),
		irc.WithMessageHandler(d.received),
		irc.WithPresenceHandler(d.presenceChanged),
	)
	if err != nil {
		return err
	}
	if err := conn.Connect(ctx, d.cfg.ServerParameters()); err != nil {
		return err
	}

	for _, name := range d.cfg.Client.Channels {
		if err := conn.Channels().Join(name, ""); err != nil {
			d.logger.Warn("join failed", slog.String("channel", name), slog.Any("error", err))
		}
	}

	d.mu.Lock()
	d.conn = conn
	d.mu.Unlock()
	return nil
}

func (d *daemon) interrupted(*irc.Connection) {
	select {
	case d.interrupts <- struct{}{}:
	default:
	}
}

func (d *daemon) received(m irc.Message) {
	d.inboxMu.Lock()
	defer d.inboxMu.Unlock()
	d.inbox = append(d.inbox, m)
	if len(d.inbox) > inboxSize {
		d.inbox = d.inbox[len(d.inbox)-inboxSize:]
	}
}

func (d *daemon) messages() []irc.Message {
	d.inboxMu.Lock()
	defer d.inboxMu.Unlock()
	return append([]irc.Message{}, d.inbox...)
}

func (d *daemon) presenceChanged(c irc.PresenceChange) {
	d.logger.Info("presence changed", slog.String("nick", c.Nick), slog.Bool("online", c.Online))
}

func (d *daemon) connection() *irc.Connection {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return d.conn
}

// connected returns the live connection or an HTTP 503.
func (d *daemon) connected() (*irc.Connection, error) {
	conn := d.connection()
	if conn == nil || !conn.IsConnected() {
		return nil, echo.NewHTTPError(http.StatusServiceUnavailable, "not connected")
	}
	return conn, nil
}
