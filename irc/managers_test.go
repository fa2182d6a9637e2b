package irc

import (
	"context"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLifecycle(t *testing.T) {
	tr := newFakeTransport("me")

	_, err := NewLifecycle(nil, tr.state, nil, nil)
	assert.ErrorIs(t, err, ErrNilTransport)
	_, err = NewLifecycle(tr, nil, nil, nil)
	assert.ErrorIs(t, err, ErrNilState)
	_, err = NewLifecycle(tr, tr.state, nil, nil)
	assert.ErrorIs(t, err, ErrNilListener)

	l := &ServerChannelLister{}
	lc, err := NewLifecycle(tr, tr.state, l, nil)
	require.NoError(t, err)

	lc.Register()
	lc.Register()
	assert.Equal(t, 1, tr.Listeners())
	assert.True(t, lc.Active())

	assert.True(t, lc.LocalUser("me"))
	assert.False(t, lc.LocalUser("Me"))
	assert.False(t, lc.LocalUser(""))

	assert.False(t, lc.OnUserQuit("other"))
	assert.True(t, lc.Active())

	assert.True(t, lc.OnUserQuit("me"))
	assert.False(t, lc.OnUserQuit("me"))
	assert.False(t, lc.OnError(&Event{Command: ERROR}))
	assert.False(t, lc.Active())
	assert.Equal(t, 0, tr.Listeners())

	select {
	case <-lc.Done():
	default:
		t.Fatal("done channel not closed")
	}

	lc.Register()
	assert.Equal(t, 0, tr.Listeners())
}

func TestIdentityManager(t *testing.T) {
	tr := newFakeTransport("me")
	m, err := NewIdentityManager(tr, tr.state, nil)
	require.NoError(t, err)
	assert.Equal(t, []string{"WHOIS me"}, tr.Sent())

	tr.emit(":srv 311 me other o other.host * :Other")
	assert.Empty(t, m.Host())

	tr.emit(":srv 311 me me ~me host.example * :Me")
	assert.Equal(t, "me", m.Nick())
	assert.Equal(t, "~me", m.Ident())
	assert.Equal(t, "host.example", m.Host())
	assert.Equal(t, "me!~me@host.example", m.Hostmask())

	tr.state.features.Update([]string{"NICKLEN=5"})
	assert.ErrorIs(t, m.SetNick("bad nick"), ErrInvalidNick)
	assert.ErrorIs(t, m.SetNick("toolongnick"), ErrInvalidNick)
	assert.ErrorIs(t, m.SetNick(""), ErrInvalidNick)
	require.NoError(t, m.SetNick("you"))
	assert.Contains(t, tr.Sent(), "NICK you")
}

func TestMessageManagerSend(t *testing.T) {
	tr := newFakeTransport("me")
	m, err := NewMessageManager(tr, tr.state, nil, testConfig(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	require.NoError(t, m.Message(ctx, "#go", "hello\r\n\nworld"))
	require.NoError(t, m.Notice(ctx, "bob", "hi"))
	require.NoError(t, m.Action(ctx, "#go", "waves"))
	assert.Equal(t, []string{
		"PRIVMSG #go hello",
		"PRIVMSG #go world",
		"NOTICE bob hi",
		"PRIVMSG #go :\x01ACTION waves\x01",
	}, tr.Sent())

	assert.ErrorIs(t, m.Message(ctx, "", "x"), ErrInvalidTarget)
	assert.ErrorIs(t, m.Message(ctx, "bad target", "x"), ErrInvalidTarget)
	assert.ErrorIs(t, m.Message(ctx, "a,b", "x"), ErrInvalidTarget)
	assert.ErrorIs(t, m.Message(ctx, "bob", "\n\n"), ErrEmptyMessage)
}

func TestMessageManagerSplitsLongLines(t *testing.T) {
	tr := newFakeTransport("me")
	m, err := NewMessageManager(tr, tr.state, nil, testConfig(), nil, nil)
	require.NoError(t, err)

	text := strings.Repeat("é", 600)
	require.NoError(t, m.Message(context.Background(), "#go", text))

	sent := tr.Sent()
	require.Greater(t, len(sent), 1)
	var joined strings.Builder
	for _, line := range sent {
		body := strings.TrimPrefix(line, "PRIVMSG #go ")
		body = strings.TrimPrefix(body, ":")
		assert.LessOrEqual(t, len(body), m.maxTextLen(PRIVMSG, "#go"))
		joined.WriteString(body)
	}
	assert.Equal(t, text, joined.String())
}

func TestMessageManagerCommand(t *testing.T) {
	tr := newFakeTransport("me")
	m, err := NewMessageManager(tr, tr.state, nil, testConfig(), nil, nil)
	require.NoError(t, err)
	ctx := context.Background()

	tests := []struct {
		line string
		err  error
	}{
		{"/msg", ErrInvalidTarget},
		{"/msg bob", ErrInvalidTarget},
		{"/msg  hello", ErrInvalidTarget},
		{"/msg bob ", ErrEmptyMessage},
		{"/msg bob hello there", nil},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			err := m.Command(ctx, tt.line)
			if tt.err == nil {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, tt.err)
		})
	}
	assert.Equal(t, []string{"PRIVMSG bob :hello there"}, tr.Sent())
}

func TestMessageManagerRateLimit(t *testing.T) {
	tr := newFakeTransport("me")
	cfg := testConfig()
	cfg.MessageRate = 1
	cfg.MessageBurst = 1
	m, err := NewMessageManager(tr, tr.state, nil, cfg, nil, nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err = m.Message(ctx, "#go", "one\ntwo")
	assert.Error(t, err)
	assert.Equal(t, []string{"PRIVMSG #go one"}, tr.Sent())
}

func TestMessageManagerReceive(t *testing.T) {
	tr := newFakeTransport("me")
	var mu sync.Mutex
	var got []Message
	_, err := NewMessageManager(tr, tr.state, nil, testConfig(), func(m Message) {
		mu.Lock()
		defer mu.Unlock()
		got = append(got, m)
	}, nil)
	require.NoError(t, err)

	tr.emit(":bob!b@host PRIVMSG me :\x02hi\x02 <there>")
	tr.emit(":bob!b@host PRIVMSG #go :\x01ACTION waves\x01")
	tr.emit(":bob!b@host PRIVMSG me :\x01VERSION\x01")
	tr.emit(":srv NOTICE me :server notice")
	tr.emit(":bob!b@host JOIN #go")

	mu.Lock()
	defer mu.Unlock()
	require.Len(t, got, 3)

	assert.Equal(t, "bob", got[0].From.Nick)
	assert.True(t, got[0].Private)
	assert.False(t, got[0].Action)
	assert.Equal(t, "<b>hi</b> &lt;there&gt;", got[0].Text)

	assert.Equal(t, "#go", got[1].Target)
	assert.False(t, got[1].Private)
	assert.True(t, got[1].Action)
	assert.Equal(t, "waves", got[1].Raw)

	assert.Equal(t, NOTICE, got[2].Command)
}

func TestChannelManager(t *testing.T) {
	tr := newFakeTransport("me")
	m, err := NewChannelManager(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Join("go", ""), ErrInvalidChannel)
	assert.ErrorIs(t, m.Join("#bad chan", ""), ErrInvalidChannel)
	assert.ErrorIs(t, m.Part("#go", ""), ErrNotJoined)

	require.NoError(t, m.Join("#go", "secret"))
	assert.Equal(t, []string{"JOIN #go secret"}, tr.Sent())

	tr.emit(":me!me@host JOIN #go")
	tr.emit(":srv 332 me #go :Go talk")
	tr.emit(":srv 353 me = #go :@alice +bob me")
	tr.emit(":carol!c@host JOIN #go")

	assert.True(t, m.IsJoined("#GO"))
	assert.Equal(t, []string{"#go"}, m.Channels())
	assert.Equal(t, "Go talk", m.Topic("#go"))
	assert.Equal(t, []string{"alice", "bob", "carol", "me"}, m.Members("#go"))

	require.NoError(t, m.Join("#go", ""))
	assert.Len(t, tr.Sent(), 1)

	tr.emit(":srv 352 me #go ~b host srv bob G :0 Bob")
	away, known := m.MemberAway("#go", "bob")
	assert.True(t, known)
	assert.True(t, away)

	tr.emit(":bob!b@host NICK robert")
	tr.emit(":carol!c@host PART #go")
	tr.emit(":alice!a@host QUIT :bye")
	tr.emit(":srv TOPIC #go :New topic")
	assert.Equal(t, []string{"me", "robert"}, m.Members("#go"))
	assert.Equal(t, "New topic", m.Topic("#go"))

	tr.state.features.Update([]string{"TOPICLEN=3", "KICKLEN=2"})
	require.NoError(t, m.SetTopic("#go", "abcdef"))
	require.NoError(t, m.Kick("#go", "robert", "spam"))
	require.NoError(t, m.Part("#go", "later"))
	assert.Equal(t, []string{"JOIN #go secret", "TOPIC #go abc", "KICK #go robert sp", "PART #go later"}, tr.Sent())

	tr.emit(":me!me@host PART #go")
	assert.False(t, m.IsJoined("#go"))
	assert.Empty(t, m.Channels())
}

func TestChannelManagerChanLimit(t *testing.T) {
	tr := newFakeTransport("me")
	tr.state.features.Update([]string{"CHANTYPES=#&", "CHANLIMIT=#:1"})
	m, err := NewChannelManager(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)

	require.NoError(t, m.Join("#one", ""))
	tr.emit(":me!me@host JOIN #one")

	assert.ErrorIs(t, m.Join("#two", ""), ErrChannelLimit)
	assert.NoError(t, m.Join("&local", ""))
	assert.ErrorIs(t, m.Join("+modeless", ""), ErrInvalidChannel)

	tr.emit(":srv KICK #one me :out")
	assert.False(t, m.IsJoined("#one"))
	assert.NoError(t, m.Join("#two", ""))
}

func TestChannelManagerPresenceTask(t *testing.T) {
	tr := newFakeTransport("me")
	cfg := testConfig()
	cfg.ChatRoomPresenceTask = true
	cfg.PresencePollInterval = 10 * time.Millisecond
	m, err := NewChannelManager(tr, tr.state, cfg, nil)
	require.NoError(t, err)

	tr.emit(":me!me@host JOIN #go")
	tr.waitSent(t, "WHO #go")

	m.lc.Unregister()
}

func TestPresenceManager(t *testing.T) {
	tr := newFakeTransport("me")
	var mu sync.Mutex
	var changes []PresenceChange
	watch := NewMemoryWatchList("alice", "Bob")
	m, err := NewPresenceManager(tr, tr.state, watch, testConfig(), func(c PresenceChange) {
		mu.Lock()
		defer mu.Unlock()
		changes = append(changes, c)
	}, nil)
	require.NoError(t, err)

	m.Poll()
	assert.Equal(t, []string{"ISON :Bob alice"}, tr.Sent())

	tr.emit(":srv 303 me :ALICE bob")
	tr.emit(":srv 303 me :alice bob")
	assert.True(t, m.IsOnline("alice"))
	assert.True(t, m.IsOnline("BOB"))

	tr.emit(":alice!a@host QUIT :bye")
	tr.emit(":bob!b@host NICK carol")
	tr.emit(":dave!d@host JOIN #go")
	assert.False(t, m.IsOnline("alice"))
	assert.False(t, m.IsOnline("bob"))

	require.NoError(t, m.Watch("dave"))
	assert.ErrorIs(t, m.Watch("bad nick"), ErrInvalidNick)
	tr.emit(":dave!d@host JOIN #go")
	assert.True(t, m.IsOnline("dave"))
	require.NoError(t, m.Unwatch("dave"))
	assert.False(t, m.IsOnline("dave"))

	mu.Lock()
	assert.Equal(t, []PresenceChange{
		{Nick: "Bob", Online: true},
		{Nick: "alice", Online: true},
		{Nick: "alice", Online: false},
		{Nick: "Bob", Online: false},
		{Nick: "dave", Online: true},
	}, changes)
	mu.Unlock()
}

func TestPresenceManagerAway(t *testing.T) {
	tr := newFakeTransport("me")
	tr.state.features.Update([]string{"AWAYLEN=4"})
	m, err := NewPresenceManager(tr, tr.state, nil, testConfig(), nil, nil)
	require.NoError(t, err)

	assert.ErrorIs(t, m.Away(""), ErrEmptyMessage)
	require.NoError(t, m.Away("gone fishing"))
	assert.Equal(t, "gone", m.AwayMessage())
	assert.False(t, m.IsAway())

	tr.emit(":srv 306 me :You have been marked as being away")
	assert.True(t, m.IsAway())

	require.NoError(t, m.Back())
	tr.emit(":srv 305 me :You are no longer marked as being away")
	assert.False(t, m.IsAway())
	assert.Empty(t, m.AwayMessage())

	assert.Equal(t, []string{"AWAY gone", "AWAY"}, tr.Sent())
}

func TestPresenceManagerPollTask(t *testing.T) {
	tr := newFakeTransport("me")
	cfg := testConfig()
	cfg.ContactPresenceTask = true
	m, err := NewPresenceManager(tr, tr.state, NewMemoryWatchList("alice"), cfg, nil, nil)
	require.NoError(t, err)

	tr.waitSent(t, "ISON alice")
	m.lc.Unregister()
}

func TestIsonBatches(t *testing.T) {
	assert.Nil(t, isonBatches(nil, 10))
	assert.Equal(t, []string{"ab cd", "ef"}, isonBatches([]string{"ab", "cd", "ef"}, 5))
	assert.Equal(t, []string{"toolong", "x"}, isonBatches([]string{"toolong", "x"}, 3))
}

func TestServerChannelLister(t *testing.T) {
	tr := newFakeTransport("me")
	l, err := NewServerChannelLister(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	l.now = func() time.Time { return now }

	type listResult struct {
		list []ChannelListing
		err  error
	}
	results := make(chan listResult, 2)
	for i := 0; i < 2; i++ {
		go func() {
			list, err := l.List(context.Background())
			results <- listResult{list, err}
		}()
	}
	tr.waitSent(t, "LIST")

	tr.emit(":srv 321 me Channel :Users  Name")
	tr.emit(":srv 322 me #zeta 3 :last")
	tr.emit(":srv 322 me #alpha 12 :first")
	tr.emit(":srv 322 me #broken many :ignored")
	tr.emit(":srv 323 me :End of /LIST")

	want := []ChannelListing{
		{Name: "#alpha", Users: 12, Topic: "first"},
		{Name: "#zeta", Users: 3, Topic: "last"},
	}
	for i := 0; i < 2; i++ {
		r := <-results
		require.NoError(t, r.err)
		assert.Equal(t, want, r.list)
	}
	assert.Equal(t, []string{"LIST"}, tr.Sent())

	list, err := l.List(context.Background())
	require.NoError(t, err)
	assert.Equal(t, want, list)
	assert.Len(t, tr.Sent(), 1)

	now = now.Add(10 * time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	_, err = l.List(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Len(t, tr.Sent(), 2)
}

func TestServerChannelListerRefused(t *testing.T) {
	tr := newFakeTransport("me")
	l, err := NewServerChannelLister(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)

	errc := make(chan error, 1)
	go func() {
		_, err := l.List(context.Background())
		errc <- err
	}()
	tr.waitSent(t, "LIST")
	tr.emit(":srv 263 me WHOIS :Please wait a while and try again.")
	tr.emit(":srv 263 me LIST :Server load is temporarily too heavy.")

	select {
	case err := <-errc:
		assert.ErrorIs(t, err, ErrListFailed)
	case <-time.After(time.Second):
		t.Fatal("List did not fail after RPL_TRYAGAIN")
	}

	go func() {
		_, err := l.List(context.Background())
		errc <- err
	}()
	require.Eventually(t, func() bool { return len(tr.Sent()) == 2 }, time.Second, 5*time.Millisecond)
	tr.emit(":srv 323 me :End of /LIST")
	assert.NoError(t, <-errc)
}

func TestServerChannelListerAbandoned(t *testing.T) {
	tr := newFakeTransport("me")
	l, err := NewServerChannelLister(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	_, err = l.List(ctx)
	assert.ErrorIs(t, err, context.DeadlineExceeded)

	ctx2, cancel2 := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel2()
	_, err = l.List(ctx2)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Equal(t, []string{"LIST", "LIST"}, tr.Sent())
}

func TestServerChannelListerUnanswered(t *testing.T) {
	tr := newFakeTransport("me")
	l, err := NewServerChannelLister(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var mu sync.Mutex
	l.now = func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		return now
	}

	errc := make(chan error, 1)
	go func() {
		_, err := l.List(context.Background())
		errc <- err
	}()
	tr.waitSent(t, "LIST")

	mu.Lock()
	now = now.Add(listTimeout)
	mu.Unlock()

	done := make(chan []ChannelListing, 1)
	go func() {
		list, _ := l.List(context.Background())
		done <- list
	}()
	assert.ErrorIs(t, <-errc, ErrListFailed)
	require.Eventually(t, func() bool { return len(tr.Sent()) == 2 }, time.Second, 5*time.Millisecond)

	tr.emit(":srv 322 me #go 7 :gophers")
	tr.emit(":srv 323 me :End of /LIST")
	assert.Equal(t, []ChannelListing{{Name: "#go", Users: 7, Topic: "gophers"}}, <-done)
}

func TestServerChannelListerInvalidate(t *testing.T) {
	tr := newFakeTransport("me")
	l, err := NewServerChannelLister(tr, tr.state, testConfig(), nil)
	require.NoError(t, err)

	done := make(chan []ChannelListing, 1)
	go func() {
		list, _ := l.List(context.Background())
		done <- list
	}()
	tr.waitSent(t, "LIST")
	tr.emit(":srv 323 me :End of /LIST")
	assert.Empty(t, <-done)

	l.Invalidate()
	go func() {
		list, _ := l.List(context.Background())
		done <- list
	}()
	require.Eventually(t, func() bool { return len(tr.Sent()) == 2 }, time.Second, 5*time.Millisecond)
	tr.emit(":srv 323 me :End of /LIST")
	<-done
}

func TestMemoryWatchListSkipsInvalid(t *testing.T) {
	w := NewMemoryWatchList("alice", "bad nick", "", "Bob")
	nicks, err := w.Nicks()
	require.NoError(t, err)
	assert.Equal(t, []string{"Bob", "alice"}, nicks)

	assert.ErrorIs(t, w.Add("no,commas"), ErrInvalidNick)
	assert.NoError(t, w.Remove("ALICE"))
	nicks, _ = w.Nicks()
	assert.Equal(t, []string{"Bob"}, nicks)
}
