package irc

import (
	"log/slog"
	"strings"
	"sync"

	"github.com/presbrey/ircconn/isupport"
)

// IdentityManager tracks how the server sees the local user: nickname, ident
// and host. The host is learned from a WHOIS on the local nick after connect.
type IdentityManager struct {
	transport Transport
	state     State
	lc        *Lifecycle
	logger    *slog.Logger

	mu    sync.RWMutex
	ident string
	host  string
}

// NewIdentityManager registers the manager and queries the local user's identity.
func NewIdentityManager(transport Transport, state State, logger *slog.Logger) (*IdentityManager, error) {
	m := &IdentityManager{transport: transport, state: state}
	lc, err := NewLifecycle(transport, state, m, logger)
	if err != nil {
		return nil, err
	}
	m.lc = lc
	m.logger = lc.logger
	lc.Register()

	if err := transport.Send(WHOIS, state.Nickname()); err != nil {
		m.logger.Debug("failed to query local identity", slog.Any("error", err))
	}
	return m, nil
}

// HandleEvent records the local user's ident and host from RPL_WHOISUSER.
func (m *IdentityManager) HandleEvent(e *Event) {
	if e.Command != RPL_WHOISUSER || !m.lc.LocalUser(e.Param(1)) {
		return
	}
	m.mu.Lock()
	m.ident = e.Param(2)
	m.host = e.Param(3)
	m.mu.Unlock()
	m.logger.Debug("local identity learned", slog.String("ident", e.Param(2)), slog.String("host", e.Param(3)))
}

func (m *IdentityManager) OnUserQuit(e *Event) { m.lc.OnUserQuit(e.Source.Nick) }

func (m *IdentityManager) OnError(e *Event) { m.lc.OnError(e) }

// Nick returns the local user's current nickname.
func (m *IdentityManager) Nick() string {
	return m.state.Nickname()
}

// Ident returns the local user's ident, empty until the server told us.
func (m *IdentityManager) Ident() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.ident
}

// Host returns the local user's host as seen by the server.
func (m *IdentityManager) Host() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.host
}

// Hostmask returns nick!ident@host.
func (m *IdentityManager) Hostmask() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return Source{Nick: m.state.Nickname(), Ident: m.ident, Host: m.host}.String()
}

// SetNick asks the server for a new nickname. The state reports the new nick
// once the server accepts it.
func (m *IdentityManager) SetNick(nick string) error {
	if err := ValidateNick(nick, m.state.Features()); err != nil {
		return err
	}
	if err := m.transport.Send(NICK, nick); err != nil {
		return err
	}
	sentTotal.WithLabelValues(NICK).Inc()
	return nil
}

// ValidateNick checks nick against the special characters and the server's NICKLEN.
func ValidateNick(nick string, features *isupport.Features) error {
	if nick == "" || strings.ContainsAny(nick, SpecialCharacters) || strings.ContainsRune(nick, ':') {
		return ErrInvalidNick
	}
	if features != nil {
		if max, ok := features.Int(isupport.NickLen); ok && max > 0 && len(nick) > max {
			return ErrInvalidNick
		}
	}
	return nil
}
