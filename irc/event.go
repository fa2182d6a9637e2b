package irc

import (
	"strings"
)

// Commands and numerics the connection and its managers react to.
const (
	ERROR   = "ERROR"
	ISON    = "ISON"
	JOIN    = "JOIN"
	KICK    = "KICK"
	LIST    = "LIST"
	NICK    = "NICK"
	NOTICE  = "NOTICE"
	PART    = "PART"
	PRIVMSG = "PRIVMSG"
	QUIT    = "QUIT"
	TOPIC   = "TOPIC"
	WHOIS   = "WHOIS"
	AWAY    = "AWAY"

	RPL_WELCOME         = "001"
	RPL_ISUPPORT        = "005"
	RPL_ISON            = "303"
	RPL_UNAWAY          = "305"
	RPL_NOWAWAY         = "306"
	RPL_WHOISUSER       = "311"
	RPL_LISTSTART       = "321"
	RPL_LIST            = "322"
	RPL_LISTEND         = "323"
	RPL_TRYAGAIN        = "263"
	ERR_TOOMANYMATCHES  = "416"
	ERR_NOPRIVILEGES    = "481"
	ERR_TOOMANYCHANNELS = "405"
)

// Source is the origin of an event, parsed from a nick!user@host prefix.
type Source struct {
	Nick  string
	Ident string
	Host  string
}

// String formats the source as a hostmask.
func (s Source) String() string {
	if s.Ident == "" && s.Host == "" {
		return s.Nick
	}
	return s.Nick + "!" + s.Ident + "@" + s.Host
}

// Event is a single message received from the server.
type Event struct {
	Source  Source
	Command string
	Params  []string
}

// ParseEvent parses a raw IRC line. It returns nil for lines without a command.
func ParseEvent(line string) *Event {
	line = strings.TrimRight(line, "\r\n")
	if line == "" {
		return nil
	}

	e := &Event{Params: make([]string, 0)}

	if line[0] == ':' {
		prefix, rest, ok := strings.Cut(line[1:], " ")
		if !ok {
			return nil
		}
		e.Source = ParseHostmask(prefix)
		line = rest
	}

	command, params, _ := strings.Cut(line, " ")
	if command == "" {
		return nil
	}
	e.Command = strings.ToUpper(command)

	for params != "" {
		if params[0] == ':' {
			e.Params = append(e.Params, params[1:])
			break
		}
		var param string
		param, params, _ = strings.Cut(params, " ")
		if param != "" {
			e.Params = append(e.Params, param)
		}
	}

	return e
}

// Param returns the i-th parameter or an empty string.
func (e *Event) Param(i int) string {
	if i < 0 || i >= len(e.Params) {
		return ""
	}
	return e.Params[i]
}

// Last returns the trailing parameter.
func (e *Event) Last() string {
	return e.Param(len(e.Params) - 1)
}

// String returns the wire representation of the event.
func (e *Event) String() string {
	var builder strings.Builder

	if e.Source.Nick != "" {
		builder.WriteString(":")
		builder.WriteString(e.Source.String())
		builder.WriteString(" ")
	}

	builder.WriteString(e.Command)

	for i, param := range e.Params {
		builder.WriteString(" ")
		if i == len(e.Params)-1 && (param == "" || strings.Contains(param, " ") || strings.HasPrefix(param, ":")) {
			builder.WriteString(":")
		}
		builder.WriteString(param)
	}

	return builder.String()
}

// ParseHostmask parses a hostmask (nick!user@host).
func ParseHostmask(hostmask string) Source {
	nick, userHost, ok := strings.Cut(hostmask, "!")
	if !ok {
		return Source{Nick: hostmask}
	}
	user, host, _ := strings.Cut(userHost, "@")
	return Source{Nick: nick, Ident: user, Host: host}
}
