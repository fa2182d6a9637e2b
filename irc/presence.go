package irc

import (
	"log/slog"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/presbrey/ircconn/isupport"
)

// WatchList is the set of nicknames whose presence is tracked. Implementations
// must be safe for concurrent use.
type WatchList interface {
	Nicks() ([]string, error)
	Add(nick string) error
	Remove(nick string) error
}

// MemoryWatchList is a WatchList kept in memory.
type MemoryWatchList struct {
	mu    sync.RWMutex
	nicks map[string]string
}

// NewMemoryWatchList creates a watch list holding nicks. Invalid nicks are
// skipped.
func NewMemoryWatchList(nicks ...string) *MemoryWatchList {
	w := &MemoryWatchList{nicks: make(map[string]string)}
	for _, n := range nicks {
		_ = w.Add(n)
	}
	return w
}

// Nicks returns the watched nicknames, sorted.
func (w *MemoryWatchList) Nicks() ([]string, error) {
	w.mu.RLock()
	defer w.mu.RUnlock()
	out := make([]string, 0, len(w.nicks))
	for _, n := range w.nicks {
		out = append(out, n)
	}
	sort.Strings(out)
	return out, nil
}

// Add watches nick after validating it.
func (w *MemoryWatchList) Add(nick string) error {
	if err := ValidateNick(nick, nil); err != nil {
		return err
	}
	w.mu.Lock()
	w.nicks[key(nick)] = nick
	w.mu.Unlock()
	return nil
}

// Remove stops watching nick. Unknown nicks are ignored.
func (w *MemoryWatchList) Remove(nick string) error {
	w.mu.Lock()
	delete(w.nicks, key(nick))
	w.mu.Unlock()
	return nil
}

// PresenceChange reports a watched nick coming online or going offline.
type PresenceChange struct {
	Nick   string `json:"nick"`
	Online bool   `json:"online"`
}

// PresenceHandler receives presence changes on a transport goroutine.
type PresenceHandler func(PresenceChange)

// PresenceManager tracks the local user's away state and the online state of
// watched nicknames.
type PresenceManager struct {
	transport Transport
	state     State
	watch     WatchList
	config    ClientConfig
	handler   PresenceHandler
	lc        *Lifecycle
	logger    *slog.Logger

	mu          sync.RWMutex
	away        bool
	awayMessage string
	online      map[string]bool
}

// NewPresenceManager registers the manager and, when the contact presence task
// is enabled, starts polling ISON for the watch list.
func NewPresenceManager(transport Transport, state State, watch WatchList, config ClientConfig, handler PresenceHandler, logger *slog.Logger) (*PresenceManager, error) {
	if watch == nil {
		watch = NewMemoryWatchList()
	}
	m := &PresenceManager{
		transport: transport,
		state:     state,
		watch:     watch,
		config:    config.withDefaults(),
		handler:   handler,
		online:    make(map[string]bool),
	}
	lc, err := NewLifecycle(transport, state, m, logger)
	if err != nil {
		return nil, err
	}
	m.lc = lc
	m.logger = lc.logger
	lc.Register()

	if m.config.ContactPresenceTask {
		go m.presenceTask()
	}
	return m, nil
}

func (m *PresenceManager) presenceTask() {
	m.Poll()
	ticker := time.NewTicker(m.config.PresencePollInterval)
	defer ticker.Stop()
	for {
		select {
		case <-m.lc.Done():
			return
		case <-ticker.C:
			m.Poll()
		}
	}
}

// Poll sends ISON for every watched nick, batched to fit the line length.
func (m *PresenceManager) Poll() {
	nicks, err := m.watch.Nicks()
	if err != nil {
		m.logger.Warn("failed to read watch list", slog.Any("error", err))
		return
	}
	for _, batch := range isonBatches(nicks, lineLen-len("ISON :\r\n")) {
		if err := m.transport.Send(ISON, batch); err != nil {
			m.logger.Debug("presence query failed", slog.Any("error", err))
			return
		}
		sentTotal.WithLabelValues(ISON).Inc()
	}
}

func isonBatches(nicks []string, size int) []string {
	var batches []string
	var b strings.Builder
	for _, n := range nicks {
		if b.Len() > 0 && b.Len()+1+len(n) > size {
			batches = append(batches, b.String())
			b.Reset()
		}
		if b.Len() > 0 {
			b.WriteByte(' ')
		}
		b.WriteString(n)
	}
	if b.Len() > 0 {
		batches = append(batches, b.String())
	}
	return batches
}

// Away marks the local user away with message, cut to the server's AWAYLEN.
func (m *PresenceManager) Away(message string) error {
	if message == "" {
		return ErrEmptyMessage
	}
	message = truncate(message, m.state.Features(), isupport.AwayLen)
	if err := m.transport.Send(AWAY, message); err != nil {
		return err
	}
	sentTotal.WithLabelValues(AWAY).Inc()
	m.mu.Lock()
	m.awayMessage = message
	m.mu.Unlock()
	return nil
}

// Back clears the local user's away state.
func (m *PresenceManager) Back() error {
	if err := m.transport.Send(AWAY); err != nil {
		return err
	}
	sentTotal.WithLabelValues(AWAY).Inc()
	return nil
}

// IsAway reports whether the server confirmed the local user as away.
func (m *PresenceManager) IsAway() bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.away
}

// AwayMessage returns the last away message sent.
func (m *PresenceManager) AwayMessage() string {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.awayMessage
}

// Watch adds nick to the watch list.
func (m *PresenceManager) Watch(nick string) error {
	if err := ValidateNick(nick, m.state.Features()); err != nil {
		return err
	}
	return m.watch.Add(nick)
}

// Unwatch removes nick from the watch list and forgets its state.
func (m *PresenceManager) Unwatch(nick string) error {
	if err := m.watch.Remove(nick); err != nil {
		return err
	}
	m.mu.Lock()
	delete(m.online, key(nick))
	m.mu.Unlock()
	return nil
}

// IsOnline reports whether a watched nick was last seen online.
func (m *PresenceManager) IsOnline(nick string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.online[key(nick)]
}

func (m *PresenceManager) watched() map[string]string {
	nicks, err := m.watch.Nicks()
	if err != nil {
		m.logger.Warn("failed to read watch list", slog.Any("error", err))
		return nil
	}
	out := make(map[string]string, len(nicks))
	for _, n := range nicks {
		out[key(n)] = n
	}
	return out
}

// HandleEvent tracks away replies, ISON replies and nick or join events of
// watched nicks.
func (m *PresenceManager) HandleEvent(e *Event) {
	switch e.Command {
	case RPL_NOWAWAY:
		m.mu.Lock()
		m.away = true
		m.mu.Unlock()
	case RPL_UNAWAY:
		m.mu.Lock()
		m.away = false
		m.awayMessage = ""
		m.mu.Unlock()
	case RPL_ISON:
		watched := m.watched()
		seen := make(map[string]bool)
		for _, n := range strings.Fields(e.Last()) {
			seen[key(n)] = true
		}
		var changes []PresenceChange
		for k, n := range watched {
			if c, ok := m.set(k, n, seen[k]); ok {
				changes = append(changes, c)
			}
		}
		sort.Slice(changes, func(i, j int) bool { return changes[i].Nick < changes[j].Nick })
		m.emit(changes...)
	case JOIN:
		m.observe(e.Source.Nick, true)
	case NICK:
		m.observe(e.Source.Nick, false)
		m.observe(e.Param(0), true)
	}
}

// observe records a state change of nick when it is watched.
func (m *PresenceManager) observe(nick string, online bool) {
	if nick == "" {
		return
	}
	n, ok := m.watched()[key(nick)]
	if !ok {
		return
	}
	if c, ok := m.set(key(nick), n, online); ok {
		m.emit(c)
	}
}

func (m *PresenceManager) set(k, nick string, online bool) (PresenceChange, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.online[k] == online {
		return PresenceChange{}, false
	}
	m.online[k] = online
	return PresenceChange{Nick: nick, Online: online}, true
}

func (m *PresenceManager) emit(changes ...PresenceChange) {
	for _, c := range changes {
		m.logger.Debug("presence changed", slog.String("nick", c.Nick), slog.Bool("online", c.Online))
		if m.handler != nil {
			m.handler(c)
		}
	}
}

// OnUserQuit marks a watched nick offline, or unregisters when the local user
// quit.
func (m *PresenceManager) OnUserQuit(e *Event) {
	if m.lc.OnUserQuit(e.Source.Nick) {
		return
	}
	m.observe(e.Source.Nick, false)
}

func (m *PresenceManager) OnError(e *Event) { m.lc.OnError(e) }
