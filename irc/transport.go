package irc

import (
	"net"
	"strconv"
	"time"

	"github.com/presbrey/ircconn/isupport"
)

// ServerParameters describes the server to connect to and the identity to
// register with.
type ServerParameters struct {
	Host     string
	Port     int
	Secure   bool
	Password string

	Nick     string
	User     string
	RealName string
}

// Address returns host:port.
func (p ServerParameters) Address() string {
	return net.JoinHostPort(p.Host, strconv.Itoa(p.Port))
}

// ServerInfo identifies the server of an established connection.
type ServerInfo struct {
	Host   string `json:"host"`
	Port   int    `json:"port"`
	Secure bool   `json:"secure"`
}

// State is the live view of an established connection. Managers only read it.
type State interface {
	// Nickname is the local user's current nickname.
	Nickname() string
	Server() ServerInfo
	IsConnected() bool
	// Features are the server's RPL_ISUPPORT tokens received so far.
	Features() *isupport.Features
}

// ConnectCallback receives the outcome of Transport.Connect. Exactly one of its
// methods is called, possibly from a transport goroutine.
type ConnectCallback interface {
	OnSuccess(state State)
	OnFailure(err error)
}

// Transport is the IRC client library the connection drives. Implementations
// deliver events to listeners on their own goroutines and must route QUIT and
// ERROR through Dispatch.
type Transport interface {
	// Connect starts connecting and returns immediately.
	Connect(params ServerParameters, cb ConnectCallback)
	// Disconnect closes the connection. Errors are informational.
	Disconnect() error
	AddListener(l Listener)
	// DeleteListener removes l. Removing an unknown listener is a no-op.
	DeleteListener(l Listener)
	// Send writes one command to the server.
	Send(command string, params ...string) error
}

// ClientConfig is the per-account client behaviour handed to the connection
// and its managers.
type ClientConfig struct {
	// ContactPresenceTask enables periodic ISON queries for the watch list.
	ContactPresenceTask bool
	// ChatRoomPresenceTask enables tracking of channel member away state.
	ChatRoomPresenceTask bool
	PresencePollInterval time.Duration
	ConnectTimeout       time.Duration
	// MessageRate is the number of messages per second allowed; 0 disables limiting.
	MessageRate    float64
	MessageBurst   int
	ChannelListTTL time.Duration
}

// DefaultClientConfig returns the defaults used for zero fields.
func DefaultClientConfig() ClientConfig {
	return ClientConfig{
		ContactPresenceTask:  true,
		ChatRoomPresenceTask: false,
		PresencePollInterval: time.Minute,
		ConnectTimeout:       30 * time.Second,
		MessageRate:          2,
		MessageBurst:         5,
		ChannelListTTL:       5 * time.Minute,
	}
}

func (c ClientConfig) withDefaults() ClientConfig {
	d := DefaultClientConfig()
	if c.PresencePollInterval <= 0 {
		c.PresencePollInterval = d.PresencePollInterval
	}
	if c.ConnectTimeout <= 0 {
		c.ConnectTimeout = d.ConnectTimeout
	}
	if c.MessageBurst <= 0 {
		c.MessageBurst = d.MessageBurst
	}
	if c.ChannelListTTL <= 0 {
		c.ChannelListTTL = d.ChannelListTTL
	}
	return c
}
