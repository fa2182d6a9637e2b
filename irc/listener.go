package irc

import (
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
)

// Listener receives server events from a Transport.
type Listener interface {
	HandleEvent(e *Event)
}

// DisconnectAware is implemented by listeners that stop listening once the
// local user quits or the server reports an error. Transports deliver QUIT
// and ERROR to these methods instead of HandleEvent.
type DisconnectAware interface {
	Listener
	OnUserQuit(e *Event)
	OnError(e *Event)
}

// Dispatch delivers e to l, routing QUIT and ERROR to the DisconnectAware
// hooks when l implements them.
func Dispatch(l Listener, e *Event) {
	if da, ok := l.(DisconnectAware); ok {
		switch e.Command {
		case QUIT:
			da.OnUserQuit(e)
			return
		case ERROR:
			da.OnError(e)
			return
		}
	}
	l.HandleEvent(e)
}

// Lifecycle is the registration of one listener with a transport. Listeners
// hold one and call it from their QUIT and ERROR hooks; it removes the
// listener exactly once however often those hooks fire.
type Lifecycle struct {
	transport Transport
	state     State
	owner     Listener
	logger    *slog.Logger

	registered atomic.Bool
	once       sync.Once
	done       chan struct{}
}

// NewLifecycle creates the registration of owner. It does not register yet.
func NewLifecycle(transport Transport, state State, owner Listener, logger *slog.Logger) (*Lifecycle, error) {
	if transport == nil {
		return nil, ErrNilTransport
	}
	if state == nil {
		return nil, ErrNilState
	}
	if owner == nil {
		return nil, ErrNilListener
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Lifecycle{
		transport: transport,
		state:     state,
		owner:     owner,
		logger:    logger.With(slog.String("listener", fmt.Sprintf("%T", owner))),
		done:      make(chan struct{}),
	}, nil
}

// Register adds the owner to the transport. It does nothing once the
// listener has been registered or unregistered.
func (l *Lifecycle) Register() {
	if !l.Active() || !l.registered.CompareAndSwap(false, true) {
		return
	}
	l.transport.AddListener(l.owner)
	activeListeners.Inc()
}

// LocalUser reports whether nick is the local user's current nickname.
// The comparison is exact.
func (l *Lifecycle) LocalUser(nick string) bool {
	return nick != "" && nick == l.state.Nickname()
}

// OnUserQuit unregisters when nick is the local user. It reports whether this
// call removed the listener.
func (l *Lifecycle) OnUserQuit(nick string) bool {
	if !l.LocalUser(nick) {
		return false
	}
	if !l.Active() {
		return false
	}
	l.logger.Debug("Local user's QUIT message received: removing listener")
	return l.Unregister()
}

// OnError treats every server error as fatal and unregisters. It reports
// whether this call removed the listener.
func (l *Lifecycle) OnError(e *Event) bool {
	if !l.Active() {
		return false
	}
	l.logger.Debug("Local user received ERROR message: removing listener",
		slog.String("error", e.Last()))
	return l.Unregister()
}

// Unregister removes the owner from the transport. Only the first call has an
// effect; it reports whether this call was that one.
func (l *Lifecycle) Unregister() bool {
	removed := false
	l.once.Do(func() {
		l.transport.DeleteListener(l.owner)
		if l.registered.Load() {
			activeListeners.Dec()
		}
		close(l.done)
		removed = true
	})
	return removed
}

// Active reports whether the listener is still registered.
func (l *Lifecycle) Active() bool {
	select {
	case <-l.done:
		return false
	default:
		return true
	}
}

// Done is closed when the listener has been unregistered.
func (l *Lifecycle) Done() <-chan struct{} {
	return l.done
}

// State returns the connection state the listener was created with.
func (l *Lifecycle) State() State {
	return l.state
}
