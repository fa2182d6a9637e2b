package irc

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"

	"github.com/lrstanley/girc"

	"github.com/presbrey/ircconn/isupport"
)

// GircTransport is a Transport backed by a girc client. A girc client cannot
// reconnect, so every Connect builds a new one.
type GircTransport struct {
	logger *slog.Logger

	mu        sync.RWMutex
	client    *girc.Client
	listeners []Listener
	closing   atomic.Bool
}

// NewGircTransport creates a transport with no connection.
func NewGircTransport(logger *slog.Logger) *GircTransport {
	if logger == nil {
		logger = slog.Default()
	}
	return &GircTransport{logger: logger.With(slog.String("transport", "girc"))}
}

// gircState exposes a girc client as connection State.
type gircState struct {
	client   *girc.Client
	server   ServerInfo
	features *isupport.Features
}

func (s *gircState) Nickname() string { return s.client.GetNick() }
func (s *gircState) Server() ServerInfo { return s.server }
func (s *gircState) IsConnected() bool { return s.client.IsConnected() }
func (s *gircState) Features() *isupport.Features { return s.features }

// Connect starts connecting in the background and reports the outcome to cb
// exactly once.
func (t *GircTransport) Connect(params ServerParameters, cb ConnectCallback) {
	client := girc.New(girc.Config{
		Server:     params.Host,
		Port:       params.Port,
		ServerPass: params.Password,
		Nick:       params.Nick,
		User:       params.User,
		Name:       params.RealName,
		SSL:        params.Secure,
	})
	state := &gircState{
		client:   client,
		server:   ServerInfo{Host: params.Host, Port: params.Port, Secure: params.Secure},
		features: isupport.NewFeatures(),
	}

	t.mu.Lock()
	t.client = client
	t.mu.Unlock()
	t.closing.Store(false)

	var reported atomic.Bool
	report := func(err error) {
		if !reported.CompareAndSwap(false, true) {
			return
		}
		if err != nil {
			cb.OnFailure(err)
			return
		}
		cb.OnSuccess(state)
	}

	client.Handlers.Add(girc.RPL_ISUPPORT, func(_ *girc.Client, e girc.Event) {
		if len(e.Params) > 2 {
			state.features.Update(e.Params[1 : len(e.Params)-1])
		}
	})
	client.Handlers.Add(girc.CONNECTED, func(_ *girc.Client, _ girc.Event) {
		t.logger.Debug("registered with server", slog.String("server", params.Address()))
		report(nil)
	})
	client.Handlers.Add(girc.ALL_EVENTS, func(_ *girc.Client, e girc.Event) {
		if strings.HasPrefix(e.Command, "CLIENT_") || strings.HasPrefix(e.Command, "STS_") {
			return
		}
		t.dispatch(convertEvent(e))
	})

	go func() {
		err := client.Connect()
		if !reported.Load() {
			if err == nil {
				err = errors.New("connection closed before registration")
			}
			report(fmt.Errorf("connect to %s: %w", params.Address(), err))
			return
		}
		if t.closing.Load() {
			return
		}
		text := "connection lost"
		if err != nil {
			text = err.Error()
		}
		t.logger.Debug("girc client stopped", slog.String("reason", text))
		t.dispatch(&Event{Source: Source{Nick: params.Host}, Command: ERROR, Params: []string{text}})
	}()
}

func convertEvent(e girc.Event) *Event {
	out := &Event{Command: strings.ToUpper(e.Command), Params: append([]string(nil), e.Params...)}
	if e.Source != nil {
		out.Source = Source{Nick: e.Source.Name, Ident: e.Source.Ident, Host: e.Source.Host}
	}
	return out
}

// dispatch delivers e to a snapshot of the listeners without holding the
// lock, so listeners may remove themselves while handling it.
func (t *GircTransport) dispatch(e *Event) {
	t.mu.RLock()
	listeners := make([]Listener, len(t.listeners))
	copy(listeners, t.listeners)
	t.mu.RUnlock()

	eventsTotal.WithLabelValues(e.Command).Inc()
	for _, l := range listeners {
		func() {
			defer func() {
				if r := recover(); r != nil {
					t.logger.Error("listener panicked", slog.String("command", e.Command), slog.Any("panic", r))
				}
			}()
			Dispatch(l, e)
		}()
	}
}

// Disconnect closes the current client.
func (t *GircTransport) Disconnect() error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil {
		return ErrNotConnected
	}
	t.closing.Store(true)
	client.Close()
	return nil
}

// AddListener registers l for every event.
func (t *GircTransport) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

// DeleteListener removes l. Removing an unknown listener is a no-op.
func (t *GircTransport) DeleteListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

// Send writes one command. The last parameter is sent as trailing.
func (t *GircTransport) Send(command string, params ...string) error {
	t.mu.RLock()
	client := t.client
	t.mu.RUnlock()
	if client == nil || !client.IsConnected() {
		return ErrNotConnected
	}
	client.Send(&girc.Event{Command: command, Params: params})
	return nil
}
