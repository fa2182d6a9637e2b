package irc

import (
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/presbrey/ircconn/isupport"
)

// Channel-related numerics.
const (
	WHO          = "WHO"
	RPL_TOPIC    = "332"
	RPL_WHOREPLY = "352"
	RPL_NAMREPLY = "353"
)

// channel is the local view of a joined channel.
type channel struct {
	name    string
	topic   string
	members map[string]bool // nick -> away
}

// ChannelManager joins and parts channels and tracks the ones the local user
// is in, with their topic and members.
type ChannelManager struct {
	transport Transport
	state     State
	config    ClientConfig
	lc        *Lifecycle
	logger    *slog.Logger

	mu     sync.RWMutex
	joined map[string]*channel
}

// NewChannelManager registers the manager and, when the chat room presence
// task is enabled, starts polling WHO for joined channels.
func NewChannelManager(transport Transport, state State, config ClientConfig, logger *slog.Logger) (*ChannelManager, error) {
	m := &ChannelManager{
		transport: transport,
		state:     state,
		config:    config.withDefaults(),
		joined:    make(map[string]*channel),
	}
	lc, err := NewLifecycle(transport, state, m, logger)
	if err != nil {
		return nil, err
	}
	m.lc = lc
	m.logger = lc.logger
	lc.Register()

	if m.config.ChatRoomPresenceTask {
		go m.presenceTask()
	}
	return m, nil
}

func (m *ChannelManager) presenceTask() {
	ticker := time.NewTicker(m.config.PresencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.lc.Done():
			return
		case <-ticker.C:
			for _, name := range m.Channels() {
				if err := m.transport.Send(WHO, name); err != nil {
					m.logger.Debug("channel presence query failed", slog.String("channel", name), slog.Any("error", err))
					break
				}
				sentTotal.WithLabelValues(WHO).Inc()
			}
		}
	}
}

func key(name string) string {
	return strings.ToLower(name)
}

// ValidateChannel checks a channel name against the server's channel types,
// CHANNELLEN and the characters IRC forbids in channel names.
func ValidateChannel(name string, features *isupport.Features) error {
	types := isupport.DefaultChannelTypes
	if features != nil {
		types = features.ChannelTypes()
	}
	if len(name) < 2 || !types.IsChannel(name) || strings.ContainsAny(name, SpecialCharacters+"\x07:") {
		return ErrInvalidChannel
	}
	if features != nil {
		if max, ok := features.Int(isupport.ChannelLen); ok && max > 0 && len(name) > max {
			return ErrInvalidChannel
		}
	}
	return nil
}

// Join asks the server to join a channel, with an optional key. Joining a
// channel the local user is already in does nothing. The join is refused
// locally when the server's CHANLIMIT for the channel's prefix is reached.
func (m *ChannelManager) Join(name, password string) error {
	features := m.state.Features()
	if err := ValidateChannel(name, features); err != nil {
		return err
	}

	m.mu.RLock()
	_, already := m.joined[key(name)]
	prefix := []rune(name)[0]
	count := 0
	for _, ch := range m.joined {
		if []rune(ch.name)[0] == prefix {
			count++
		}
	}
	m.mu.RUnlock()
	if already {
		return nil
	}
	if features != nil {
		if limit, ok := features.ChanLimit()[prefix]; ok && count >= limit {
			return fmt.Errorf("%w: %d %c channels", ErrChannelLimit, limit, prefix)
		}
	}

	params := []string{name}
	if password != "" {
		params = append(params, password)
	}
	if err := m.transport.Send(JOIN, params...); err != nil {
		return err
	}
	sentTotal.WithLabelValues(JOIN).Inc()
	return nil
}

// Part leaves a joined channel.
func (m *ChannelManager) Part(name, reason string) error {
	if !m.IsJoined(name) {
		return ErrNotJoined
	}
	params := []string{name}
	if reason != "" {
		params = append(params, reason)
	}
	if err := m.transport.Send(PART, params...); err != nil {
		return err
	}
	sentTotal.WithLabelValues(PART).Inc()
	return nil
}

// SetTopic changes the topic of a joined channel, cut to the server's TOPICLEN.
func (m *ChannelManager) SetTopic(name, topic string) error {
	if !m.IsJoined(name) {
		return ErrNotJoined
	}
	topic = truncate(topic, m.state.Features(), isupport.TopicLen)
	if err := m.transport.Send(TOPIC, name, topic); err != nil {
		return err
	}
	sentTotal.WithLabelValues(TOPIC).Inc()
	return nil
}

// Kick removes a user from a joined channel, the reason cut to KICKLEN.
func (m *ChannelManager) Kick(name, nick, reason string) error {
	if !m.IsJoined(name) {
		return ErrNotJoined
	}
	if err := ValidateTarget(nick); err != nil {
		return err
	}
	params := []string{name, nick}
	if reason = truncate(reason, m.state.Features(), isupport.KickLen); reason != "" {
		params = append(params, reason)
	}
	if err := m.transport.Send(KICK, params...); err != nil {
		return err
	}
	sentTotal.WithLabelValues(KICK).Inc()
	return nil
}

// IsJoined reports whether the local user is in the channel.
func (m *ChannelManager) IsJoined(name string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.joined[key(name)]
	return ok
}

// Channels returns the joined channels, sorted.
func (m *ChannelManager) Channels() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	names := make([]string, 0, len(m.joined))
	for _, ch := range m.joined {
		names = append(names, ch.name)
	}
	sort.Strings(names)
	return names
}

// Topic returns the topic of a joined channel.
func (m *ChannelManager) Topic(name string) string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if ch, ok := m.joined[key(name)]; ok {
		return ch.topic
	}
	return ""
}

// Members returns the known members of a joined channel, sorted.
func (m *ChannelManager) Members(name string) []string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.joined[key(name)]
	if !ok {
		return nil
	}
	nicks := make([]string, 0, len(ch.members))
	for nick := range ch.members {
		nicks = append(nicks, nick)
	}
	sort.Strings(nicks)
	return nicks
}

// MemberAway reports whether a member is marked away. The second result is
// false when the member is unknown.
func (m *ChannelManager) MemberAway(name, nick string) (away bool, known bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	ch, ok := m.joined[key(name)]
	if !ok {
		return false, false
	}
	away, known = ch.members[nick]
	return away, known
}

// HandleEvent tracks membership, topics and member away state.
func (m *ChannelManager) HandleEvent(e *Event) {
	m.mu.Lock()
	defer m.mu.Unlock()

	switch e.Command {
	case JOIN:
		name := e.Param(0)
		if m.lc.LocalUser(e.Source.Nick) {
			m.joined[key(name)] = &channel{name: name, members: map[string]bool{e.Source.Nick: false}}
			m.logger.Debug("joined channel", slog.String("channel", name))
			return
		}
		if ch, ok := m.joined[key(name)]; ok {
			ch.members[e.Source.Nick] = false
		}
	case PART:
		m.leave(e.Param(0), e.Source.Nick)
	case KICK:
		m.leave(e.Param(0), e.Param(1))
	case NICK:
		for _, ch := range m.joined {
			if away, ok := ch.members[e.Source.Nick]; ok {
				delete(ch.members, e.Source.Nick)
				ch.members[e.Param(0)] = away
			}
		}
	case TOPIC:
		if ch, ok := m.joined[key(e.Param(0))]; ok {
			ch.topic = e.Last()
		}
	case RPL_TOPIC:
		if ch, ok := m.joined[key(e.Param(1))]; ok {
			ch.topic = e.Last()
		}
	case RPL_NAMREPLY:
		ch, ok := m.joined[key(e.Param(2))]
		if !ok {
			return
		}
		symbols := "@+"
		if f := m.state.Features(); f != nil {
			_, symbols = f.Prefix()
		}
		for _, nick := range strings.Fields(e.Last()) {
			nick = strings.TrimLeft(nick, symbols)
			if _, seen := ch.members[nick]; !seen && nick != "" {
				ch.members[nick] = false
			}
		}
	case RPL_WHOREPLY:
		ch, ok := m.joined[key(e.Param(1))]
		if !ok {
			return
		}
		ch.members[e.Param(5)] = strings.HasPrefix(e.Param(6), "G")
	case ERR_TOOMANYCHANNELS:
		m.logger.Warn("server refused join: too many channels", slog.String("channel", e.Param(1)))
	}
}

// leave must be called with mu held.
func (m *ChannelManager) leave(name, nick string) {
	ch, ok := m.joined[key(name)]
	if !ok {
		return
	}
	if m.lc.LocalUser(nick) {
		delete(m.joined, key(name))
		m.logger.Debug("left channel", slog.String("channel", name))
		return
	}
	delete(ch.members, nick)
}

// OnUserQuit drops a quitting member from every channel, or unregisters when
// the local user quit.
func (m *ChannelManager) OnUserQuit(e *Event) {
	if m.lc.OnUserQuit(e.Source.Nick) {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, ch := range m.joined {
		delete(ch.members, e.Source.Nick)
	}
}

func (m *ChannelManager) OnError(e *Event) { m.lc.OnError(e) }

func truncate(s string, features *isupport.Features, limitKey string) string {
	if features == nil {
		return s
	}
	max, ok := features.Int(limitKey)
	if !ok || max <= 0 || len(s) <= max {
		return s
	}
	return splitChunks(s, max)[0]
}
