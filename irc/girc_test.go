package irc

import (
	"bufio"
	"context"
	"net"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scriptedServer accepts one client and answers registration, WHOIS and
// whatever the test writes to it.
type scriptedServer struct {
	ln   net.Listener
	mu   sync.Mutex
	conn net.Conn
	seen []string
}

func newScriptedServer(t *testing.T) *scriptedServer {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err, "Should listen on a local port")
	s := &scriptedServer{ln: ln}
	t.Cleanup(func() { ln.Close() })
	go s.serve()
	return s
}

func (s *scriptedServer) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *scriptedServer) serve() {
	conn, err := s.ln.Accept()
	if err != nil {
		return
	}
	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	reader := bufio.NewReader(conn)
	for {
		line, err := reader.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimSpace(line)
		s.mu.Lock()
		s.seen = append(s.seen, line)
		s.mu.Unlock()

		e := ParseEvent(line)
		if e == nil {
			continue
		}
		switch e.Command {
		case "USER":
			s.write(":irc.test 001 tester :Welcome to the test network")
			s.write(":irc.test 005 tester CHANTYPES=# NICKLEN=9 NETWORK=Test :are supported by this server")
		case "PING":
			s.write(":irc.test PONG irc.test :" + e.Last())
		case WHOIS:
			s.write(":irc.test 311 tester tester ~tester client.test * :Tester")
		}
	}
}

func (s *scriptedServer) write(line string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Write([]byte(line + "\r\n"))
	}
}

func (s *scriptedServer) close() {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.conn != nil {
		s.conn.Close()
	}
}

func (s *scriptedServer) received(command string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, line := range s.seen {
		if strings.HasPrefix(line, command) {
			return true
		}
	}
	return false
}

func TestGircTransportIntegration(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	srv := newScriptedServer(t)

	interrupted := make(chan struct{}, 1)
	conn, err := New(NewGircTransport(nil), ClientConfig{ConnectTimeout: 5 * time.Second},
		WithInterruptHandler(func(*Connection) { interrupted <- struct{}{} }))
	require.NoError(t, err)

	err = conn.Connect(context.Background(), ServerParameters{
		Host:     "127.0.0.1",
		Port:     srv.port(),
		Nick:     "tester",
		User:     "tester",
		RealName: "Tester",
	})
	require.NoError(t, err)
	assert.True(t, conn.IsConnected())
	assert.False(t, conn.IsSecure())
	assert.Equal(t, "tester", conn.State().Nickname())

	require.Eventually(t, func() bool {
		n, ok := conn.State().Features().Int("NICKLEN")
		return ok && n == 9
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "Test", conn.State().Features().Network())

	require.Eventually(t, func() bool { return srv.received(WHOIS) }, 5*time.Second, 10*time.Millisecond)
	require.Eventually(t, func() bool { return conn.Identity().Host() == "client.test" }, 5*time.Second, 10*time.Millisecond)

	srv.write("ERROR :Closing Link: tester (Test over)")
	srv.close()

	select {
	case <-interrupted:
	case <-time.After(5 * time.Second):
		t.Fatal("interrupt handler was not called")
	}
	assert.Equal(t, Disconnected, conn.Status())
	assert.NoError(t, conn.Disconnect())
}

func TestGircTransportConnectFailure(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping network test in short mode")
	}
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	port := ln.Addr().(*net.TCPAddr).Port
	ln.Close()

	conn, err := New(NewGircTransport(nil), ClientConfig{ConnectTimeout: 5 * time.Second})
	require.NoError(t, err)
	err = conn.Connect(context.Background(), ServerParameters{Host: "127.0.0.1", Port: port, Nick: "tester", User: "tester"})
	assert.ErrorIs(t, err, ErrConnectFailed)
	assert.Equal(t, Disconnected, conn.Status())
}

func TestGircTransportSendWithoutConnection(t *testing.T) {
	tr := NewGircTransport(nil)
	assert.ErrorIs(t, tr.Send(PRIVMSG, "#go", "hi"), ErrNotConnected)
	assert.ErrorIs(t, tr.Disconnect(), ErrNotConnected)
}
