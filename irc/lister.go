package irc

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"strconv"
	"sync"
	"time"

	"github.com/presbrey/ircconn/result"
)

// listTimeout is how long a LIST may stay unanswered before a new List call
// abandons it and asks again.
const listTimeout = time.Minute

// ChannelListing is one entry of the server's channel list.
type ChannelListing struct {
	Name  string `json:"name"`
	Users int    `json:"users"`
	Topic string `json:"topic"`
}

// ServerChannelLister queries the server's channel list. The list is cached
// for the configured TTL and concurrent queries share one LIST round trip.
type ServerChannelLister struct {
	transport Transport
	state     State
	ttl       time.Duration
	lc        *Lifecycle
	logger    *slog.Logger
	now       func() time.Time

	mu        sync.Mutex
	cached    []ChannelListing
	cachedAt  time.Time
	pending   *result.Result[[]ChannelListing]
	pendingAt time.Time
	waiters   int
	partial   []ChannelListing
}

// NewServerChannelLister registers the lister.
func NewServerChannelLister(transport Transport, state State, config ClientConfig, logger *slog.Logger) (*ServerChannelLister, error) {
	l := &ServerChannelLister{
		transport: transport,
		state:     state,
		ttl:       config.withDefaults().ChannelListTTL,
		now:       time.Now,
	}
	lc, err := NewLifecycle(transport, state, l, logger)
	if err != nil {
		return nil, err
	}
	l.lc = lc
	l.logger = lc.logger
	lc.Register()
	return l, nil
}

// List returns the server's channels sorted by name. A cached list younger
// than the TTL is returned without asking the server.
func (l *ServerChannelLister) List(ctx context.Context) ([]ChannelListing, error) {
	l.mu.Lock()
	if l.cached != nil && l.now().Sub(l.cachedAt) < l.ttl {
		out := append([]ChannelListing(nil), l.cached...)
		l.mu.Unlock()
		return out, nil
	}
	if l.pending != nil && l.now().Sub(l.pendingAt) >= listTimeout {
		l.fail(fmt.Errorf("%w: no reply after %s", ErrListFailed, listTimeout))
	}
	res := l.pending
	if res == nil {
		res = result.New[[]ChannelListing]()
		l.pending = res
		l.pendingAt = l.now()
		l.waiters = 0
		l.partial = nil
		if err := l.transport.Send(LIST); err != nil {
			l.pending = nil
			l.mu.Unlock()
			return nil, err
		}
		sentTotal.WithLabelValues(LIST).Inc()
	}
	l.waiters++
	l.mu.Unlock()

	select {
	case <-res.Done():
		if err := res.Err(); err != nil {
			return nil, err
		}
		return append([]ChannelListing(nil), res.Value()...), nil
	case <-l.lc.Done():
		return nil, ErrClosed
	case <-ctx.Done():
		l.mu.Lock()
		if l.pending == res {
			l.waiters--
			if l.waiters == 0 {
				l.pending = nil
				l.partial = nil
			}
		}
		l.mu.Unlock()
		return nil, ctx.Err()
	}
}

// fail completes the pending request with err. It must be called with mu held.
func (l *ServerChannelLister) fail(err error) {
	if l.pending == nil {
		return
	}
	l.pending.SetError(err)
	l.pending = nil
	l.partial = nil
}

// Invalidate drops the cached list.
func (l *ServerChannelLister) Invalidate() {
	l.mu.Lock()
	l.cached = nil
	l.mu.Unlock()
}

// HandleEvent collects RPL_LIST entries until RPL_LISTEND completes the query.
// A refusal from the server fails the pending query.
func (l *ServerChannelLister) HandleEvent(e *Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	switch e.Command {
	case RPL_LISTSTART:
		l.partial = nil
	case RPL_LIST:
		users, err := strconv.Atoi(e.Param(2))
		if err != nil {
			l.logger.Debug("malformed list entry", slog.String("line", e.String()))
			return
		}
		l.partial = append(l.partial, ChannelListing{Name: e.Param(1), Users: users, Topic: e.Param(3)})
	case RPL_LISTEND:
		list := l.partial
		if list == nil {
			list = []ChannelListing{}
		}
		sort.Slice(list, func(i, j int) bool { return list[i].Name < list[j].Name })
		l.partial = nil
		l.cached = list
		l.cachedAt = l.now()
		if l.pending != nil {
			l.pending.SetValue(list)
			l.pending = nil
		}
		l.logger.Debug("channel list received", slog.Int("channels", len(list)))
	case RPL_TRYAGAIN, ERR_TOOMANYMATCHES:
		if e.Param(1) != LIST {
			return
		}
		l.logger.Debug("channel list refused", slog.String("line", e.String()))
		l.fail(fmt.Errorf("%w: %s", ErrListFailed, e.Last()))
	case ERR_NOPRIVILEGES:
		l.fail(fmt.Errorf("%w: %s", ErrListFailed, e.Last()))
	}
}

func (l *ServerChannelLister) OnUserQuit(e *Event) { l.lc.OnUserQuit(e.Source.Nick) }

func (l *ServerChannelLister) OnError(e *Event) { l.lc.OnError(e) }
