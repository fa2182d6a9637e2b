package irc

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/presbrey/ircconn/isupport"
)

type fakeState struct {
	mu        sync.RWMutex
	nick      string
	connected bool
	features  *isupport.Features
}

func newFakeState(nick string) *fakeState {
	return &fakeState{nick: nick, connected: true, features: isupport.NewFeatures()}
}

func (s *fakeState) Nickname() string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nick
}

func (s *fakeState) Server() ServerInfo {
	return ServerInfo{Host: "irc.example.org", Port: 6697, Secure: true}
}

func (s *fakeState) IsConnected() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.connected
}

func (s *fakeState) Features() *isupport.Features { return s.features }

// fakeTransport records sent commands and registered listeners. Connect
// answers from a goroutine through connectFn, which defaults to success.
type fakeTransport struct {
	mu            sync.Mutex
	state         *fakeState
	listeners     []Listener
	sent          []string
	connectFn     func(params ServerParameters, cb ConnectCallback)
	disconnectErr error
	disconnects   int
	sendErr       error
}

func newFakeTransport(nick string) *fakeTransport {
	t := &fakeTransport{state: newFakeState(nick)}
	t.connectFn = func(_ ServerParameters, cb ConnectCallback) { cb.OnSuccess(t.state) }
	return t
}

func (t *fakeTransport) Connect(params ServerParameters, cb ConnectCallback) {
	go t.connectFn(params, cb)
}

func (t *fakeTransport) Disconnect() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.disconnects++
	return t.disconnectErr
}

func (t *fakeTransport) AddListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.listeners = append(t.listeners, l)
}

func (t *fakeTransport) DeleteListener(l Listener) {
	t.mu.Lock()
	defer t.mu.Unlock()
	for i, existing := range t.listeners {
		if existing == l {
			t.listeners = append(t.listeners[:i], t.listeners[i+1:]...)
			return
		}
	}
}

func (t *fakeTransport) Send(command string, params ...string) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.sendErr != nil {
		return t.sendErr
	}
	t.sent = append(t.sent, (&Event{Command: command, Params: params}).String())
	return nil
}

// emit parses line and delivers it to the registered listeners.
func (t *fakeTransport) emit(line string) {
	e := ParseEvent(line)
	t.mu.Lock()
	listeners := append([]Listener(nil), t.listeners...)
	t.mu.Unlock()
	for _, l := range listeners {
		Dispatch(l, e)
	}
}

func (t *fakeTransport) Sent() []string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return append([]string(nil), t.sent...)
}

func (t *fakeTransport) Listeners() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return len(t.listeners)
}

func (t *fakeTransport) Disconnects() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.disconnects
}

func (t *fakeTransport) waitSent(tb testing.TB, line string) {
	tb.Helper()
	require.Eventually(tb, func() bool {
		for _, s := range t.Sent() {
			if s == line {
				return true
			}
		}
		return false
	}, time.Second, 5*time.Millisecond, "expected %q to be sent", line)
}

// testConfig disables the background presence tasks and rate limiting.
func testConfig() ClientConfig {
	return ClientConfig{ConnectTimeout: time.Second}
}
