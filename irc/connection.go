package irc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/presbrey/ircconn/result"
)

// SpecialCharacters have a protocol meaning in IRC and may not appear in
// nicknames or message targets: NUL, newline, carriage return, space and comma.
const SpecialCharacters = "\x00\n\r ,"

// Status is the lifecycle position of a Connection.
type Status int

const (
	Disconnected Status = iota
	Connecting
	Connected
)

func (s Status) String() string {
	switch s {
	case Connecting:
		return "connecting"
	case Connected:
		return "connected"
	default:
		return "disconnected"
	}
}

// Option configures a Connection.
type Option func(*Connection)

// WithLogger sets the logger. The default is slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(c *Connection) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithInterruptHandler sets the function called when the connection drops
// without the caller asking for it (local QUIT seen or server ERROR).
func WithInterruptHandler(fn func(*Connection)) Option {
	return func(c *Connection) {
		c.onInterrupt = fn
	}
}

// WithWatchList sets the nicknames the presence manager watches. It outlives
// the connection, so it is owned by the caller.
func WithWatchList(w WatchList) Option {
	return func(c *Connection) {
		c.watchList = w
	}
}

// WithMessageHandler sets the receiver of incoming messages.
func WithMessageHandler(fn MessageHandler) Option {
	return func(c *Connection) {
		c.onMessage = fn
	}
}

// WithPresenceHandler sets the receiver of watched nick presence changes.
func WithPresenceHandler(fn PresenceHandler) Option {
	return func(c *Connection) {
		c.onPresence = fn
	}
}

// Connection owns one server connection from connect to disconnect and hosts
// the managers built on it. A Connection is used once: after it disconnects a
// new one must be created.
type Connection struct {
	id          string
	transport   Transport
	config      ClientConfig
	logger      *slog.Logger
	onInterrupt func(*Connection)
	watchList   WatchList
	onMessage   MessageHandler
	onPresence  PresenceHandler

	mu       sync.RWMutex
	status   Status
	closed   bool
	state    State
	explicit atomic.Bool

	server   *serverListener
	identity *IdentityManager
	message  *MessageManager
	channel  *ChannelManager
	presence *PresenceManager
	lister   *ServerChannelLister
}

// New creates a disconnected Connection on top of transport.
func New(transport Transport, config ClientConfig, opts ...Option) (*Connection, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	c := &Connection{
		id:        uuid.NewString(),
		transport: transport,
		config:    config.withDefaults(),
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.watchList == nil {
		c.watchList = NewMemoryWatchList()
	}
	c.logger = c.logger.With(slog.String("conn", c.id))
	return c, nil
}

// Connect connects to the server and blocks until the transport reports the
// outcome, ctx ends or the configured connect timeout passes. On success the
// server listener and all managers exist before Connect returns; on failure
// none of them is created.
func (c *Connection) Connect(ctx context.Context, params ServerParameters) error {
	c.mu.Lock()
	switch {
	case c.status == Connecting:
		c.mu.Unlock()
		return ErrConnectInProgress
	case c.status == Connected:
		c.mu.Unlock()
		return ErrAlreadyConnected
	case c.closed:
		c.mu.Unlock()
		return ErrClosed
	}
	c.status = Connecting
	c.explicit.Store(false)
	c.mu.Unlock()

	state, err := c.connectSynchronized(ctx, params)
	if err != nil {
		c.mu.Lock()
		c.status = Disconnected
		c.mu.Unlock()
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err := c.install(state); err != nil {
		c.status = Disconnected
		c.closed = true
		c.stopListeners()
		if derr := c.transport.Disconnect(); derr != nil {
			c.logger.Debug("exception occurred while disconnecting", slog.Any("error", derr))
		}
		return err
	}
	c.state = state
	c.status = Connected
	c.logger.Info("Connected to IRC server",
		slog.String("server", params.Address()),
		slog.String("nick", state.Nickname()),
		slog.Bool("secure", state.Server().Secure))
	return nil
}

// connectCallback stores the transport's answer in a one-shot result.
type connectCallback struct {
	result *result.Result[State]
	logger *slog.Logger
}

func (cb *connectCallback) OnSuccess(state State) {
	cb.logger.Debug("IRC connected successfully")
	cb.result.SetValue(state)
}

func (cb *connectCallback) OnFailure(err error) {
	cb.logger.Debug("IRC connection failed", slog.Any("error", err))
	if err == nil {
		err = errors.New("unknown transport failure")
	}
	cb.result.SetError(err)
}

func (c *Connection) connectSynchronized(ctx context.Context, params ServerParameters) (State, error) {
	res := result.New[State]()
	start := time.Now()

	c.transport.Connect(params, &connectCallback{result: res, logger: c.logger})

	ctx, cancel := context.WithTimeout(ctx, c.config.ConnectTimeout)
	defer cancel()

	c.logger.Debug("Waiting for the connection to be established",
		slog.String("server", params.Address()))
	select {
	case <-res.Done():
	case <-ctx.Done():
		if derr := c.transport.Disconnect(); derr != nil {
			c.logger.Debug("exception occurred while abandoning connect", slog.Any("error", derr))
		}
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			connectsTotal.WithLabelValues("timeout").Inc()
			return nil, fmt.Errorf("%w: %s after %s", ErrConnectTimeout, params.Address(), time.Since(start).Round(time.Millisecond))
		}
		connectsTotal.WithLabelValues("canceled").Inc()
		return nil, ctx.Err()
	}
	connectDuration.Observe(time.Since(start).Seconds())

	if err := res.Err(); err != nil {
		connectsTotal.WithLabelValues("failure").Inc()
		return nil, &ConnectError{Address: params.Address(), Err: err}
	}
	state := res.Value()
	if state == nil {
		connectsTotal.WithLabelValues("failure").Inc()
		return nil, &ConnectError{Address: params.Address(), Err: errors.New("connection state is nil")}
	}
	connectsTotal.WithLabelValues("success").Inc()
	return state, nil
}

// install registers the server listener and creates the managers in order.
// It must be called with mu held.
func (c *Connection) install(state State) error {
	var err error
	if c.server, err = newServerListener(c, state); err != nil {
		return err
	}
	if c.identity, err = NewIdentityManager(c.transport, state, c.logger); err != nil {
		return err
	}
	if c.message, err = NewMessageManager(c.transport, state, c.identity, c.config, c.onMessage, c.logger); err != nil {
		return err
	}
	if c.channel, err = NewChannelManager(c.transport, state, c.config, c.logger); err != nil {
		return err
	}
	if c.presence, err = NewPresenceManager(c.transport, state, c.watchList, c.config, c.onPresence, c.logger); err != nil {
		return err
	}
	if c.lister, err = NewServerChannelLister(c.transport, state, c.config, c.logger); err != nil {
		return err
	}
	return nil
}

// Disconnect closes the connection. Transport errors are logged and
// swallowed since the connection is gone either way. It is rejected while a
// connect is pending; cancel the connect context instead.
func (c *Connection) Disconnect() error {
	c.mu.Lock()
	if c.status == Connecting {
		c.mu.Unlock()
		return ErrConnectInProgress
	}
	if c.status == Connected {
		c.explicit.Store(true)
		c.closed = true
	}
	c.status = Disconnected
	c.stopListeners()
	c.mu.Unlock()

	if err := c.transport.Disconnect(); err != nil {
		c.logger.Debug("exception occurred while disconnecting", slog.Any("error", err))
	}
	return nil
}

// stopListeners unregisters the server listener and every manager. It must be
// called with mu held.
func (c *Connection) stopListeners() {
	if c.server != nil {
		c.server.lc.Unregister()
	}
	if c.identity != nil {
		c.identity.lc.Unregister()
	}
	if c.message != nil {
		c.message.lc.Unregister()
	}
	if c.channel != nil {
		c.channel.lc.Unregister()
	}
	if c.presence != nil {
		c.presence.lc.Unregister()
	}
	if c.lister != nil {
		c.lister.lc.Unregister()
	}
}

// interrupted is called by the server listener after it unregistered itself.
func (c *Connection) interrupted(cause string) {
	if c.explicit.Load() {
		return
	}
	c.mu.Lock()
	if c.status != Connected {
		c.mu.Unlock()
		return
	}
	c.status = Disconnected
	c.closed = true
	c.stopListeners()
	c.mu.Unlock()

	if err := c.transport.Disconnect(); err != nil {
		c.logger.Debug("exception occurred while closing interrupted connection", slog.Any("error", err))
	}
	interruptsTotal.WithLabelValues(cause).Inc()
	c.logger.Warn("IRC connection interrupted", slog.String("cause", cause))
	if c.onInterrupt != nil {
		c.onInterrupt(c)
	}
}

// ID returns the unique id of this connection, used in logs.
func (c *Connection) ID() string {
	return c.id
}

// Status returns the lifecycle position.
func (c *Connection) Status() Status {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status
}

// State returns the connection state, nil before a successful connect.
func (c *Connection) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsConnected reports whether the connection is established and alive.
func (c *Connection) IsConnected() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.status == Connected && c.state != nil && c.state.IsConnected()
}

// IsSecure reports whether the established connection uses TLS.
func (c *Connection) IsSecure() bool {
	return c.IsConnected() && c.State().Server().Secure
}

// Transport returns the underlying transport.
func (c *Connection) Transport() Transport {
	return c.transport
}

// Identity returns the identity manager. It is non-nil after a successful Connect.
func (c *Connection) Identity() *IdentityManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.identity
}

// Messages returns the message manager. It is non-nil after a successful Connect.
func (c *Connection) Messages() *MessageManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.message
}

// Channels returns the channel manager. It is non-nil after a successful Connect.
func (c *Connection) Channels() *ChannelManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.channel
}

// Presence returns the presence manager. It is non-nil after a successful Connect.
func (c *Connection) Presence() *PresenceManager {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.presence
}

// ChannelLister returns the server channel lister. It is non-nil after a
// successful Connect.
func (c *Connection) ChannelLister() *ServerChannelLister {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.lister
}

// serverListener handles everything not tied to a channel or a manager: server
// notices and the signals that the connection is gone.
type serverListener struct {
	conn *Connection
	lc   *Lifecycle
}

func newServerListener(conn *Connection, state State) (*serverListener, error) {
	l := &serverListener{conn: conn}
	lc, err := NewLifecycle(conn.transport, state, l, conn.logger)
	if err != nil {
		return nil, err
	}
	l.lc = lc
	lc.Register()
	return l, nil
}

func (l *serverListener) HandleEvent(e *Event) {
	if e.Command == NOTICE && e.Source.Ident == "" && !l.lc.LocalUser(e.Source.Nick) {
		l.conn.logger.Debug("NOTICE", slog.String("source", e.Source.Nick), slog.String("text", e.Last()))
	}
}

func (l *serverListener) OnUserQuit(e *Event) {
	if l.lc.OnUserQuit(e.Source.Nick) {
		l.conn.interrupted("quit")
	}
}

func (l *serverListener) OnError(e *Event) {
	l.conn.logger.Debug("ERROR", slog.String("source", e.Source.Nick), slog.String("text", e.Last()))
	if l.lc.OnError(e) {
		l.conn.interrupted("error")
	}
}
