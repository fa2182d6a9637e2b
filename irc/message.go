package irc

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"golang.org/x/time/rate"

	"github.com/presbrey/ircconn/formatted"
)

const (
	ctcpDelim = "\x01"
	// lineLen is the maximum IRC line length including CRLF.
	lineLen = 512
	// hostLen is assumed when the local host is not known yet.
	hostLen = 63
)

// Message is an incoming PRIVMSG or NOTICE.
type Message struct {
	From    Source    `json:"from"`
	Target  string    `json:"target"`
	Command string    `json:"command"`
	Action  bool      `json:"action"`
	Private bool      `json:"private"`
	Raw     string    `json:"raw"`
	Text    string    `json:"text"` // markup produced by formatted.FromIRC
	Time    time.Time `json:"time"`
}

// MessageHandler receives incoming messages on a transport goroutine.
type MessageHandler func(Message)

// MessageManager sends and receives private and channel messages.
type MessageManager struct {
	transport Transport
	state     State
	identity  *IdentityManager
	limiter   *rate.Limiter
	handler   MessageHandler
	lc        *Lifecycle
	logger    *slog.Logger
}

// NewMessageManager registers the manager. identity and handler may be nil.
func NewMessageManager(transport Transport, state State, identity *IdentityManager, config ClientConfig, handler MessageHandler, logger *slog.Logger) (*MessageManager, error) {
	limiter := rate.NewLimiter(rate.Inf, 0)
	if config.MessageRate > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.MessageRate), max(config.MessageBurst, 1))
	}
	m := &MessageManager{
		transport: transport,
		state:     state,
		identity:  identity,
		limiter:   limiter,
		handler:   handler,
	}
	lc, err := NewLifecycle(transport, state, m, logger)
	if err != nil {
		return nil, err
	}
	m.lc = lc
	m.logger = lc.logger
	lc.Register()
	return m, nil
}

// Message sends a PRIVMSG. Text with several lines is sent as one message per
// non-empty line.
func (m *MessageManager) Message(ctx context.Context, target, text string) error {
	return m.send(ctx, PRIVMSG, target, text, "")
}

// Notice sends a NOTICE.
func (m *MessageManager) Notice(ctx context.Context, target, text string) error {
	return m.send(ctx, NOTICE, target, text, "")
}

// Action sends a CTCP ACTION ("/me").
func (m *MessageManager) Action(ctx context.Context, target, text string) error {
	return m.send(ctx, PRIVMSG, target, text, "ACTION ")
}

// Command executes a "/msg <nick> <message>" line.
func (m *MessageManager) Command(ctx context.Context, line string) error {
	const prefix = "/msg "
	if len(line) < len(prefix) || !strings.EqualFold(line[:len(prefix)], prefix) {
		return fmt.Errorf("%w: both target nick and message are missing", ErrInvalidTarget)
	}
	target, text, ok := strings.Cut(line[len(prefix):], " ")
	if !ok {
		return fmt.Errorf("%w: expecting both nick and message", ErrInvalidTarget)
	}
	if target == "" {
		return fmt.Errorf("%w: zero-length nick is not allowed", ErrInvalidTarget)
	}
	if text == "" {
		return ErrEmptyMessage
	}
	return m.Message(ctx, target, text)
}

func (m *MessageManager) send(ctx context.Context, command, target, text, ctcp string) error {
	if err := ValidateTarget(target); err != nil {
		return err
	}
	var lines []string
	for _, line := range strings.Split(strings.ReplaceAll(text, "\r\n", "\n"), "\n") {
		line = strings.TrimRight(line, "\r")
		if line != "" {
			lines = append(lines, line)
		}
	}
	if len(lines) == 0 {
		return ErrEmptyMessage
	}

	size := m.maxTextLen(command, target) - len(ctcp)
	if ctcp != "" {
		size -= 2 * len(ctcpDelim)
	}
	for _, line := range lines {
		for _, chunk := range splitChunks(line, size) {
			if err := m.limiter.Wait(ctx); err != nil {
				return err
			}
			if ctcp != "" {
				chunk = ctcpDelim + ctcp + chunk + ctcpDelim
			}
			if err := m.transport.Send(command, target, chunk); err != nil {
				return err
			}
			sentTotal.WithLabelValues(command).Inc()
		}
	}
	return nil
}

// maxTextLen is the room left for text once the server relays the message
// with our full hostmask as prefix.
func (m *MessageManager) maxTextLen(command, target string) int {
	nick, ident, host := m.state.Nickname(), "", hostLen
	if m.identity != nil {
		ident = m.identity.Ident()
		if h := len(m.identity.Host()); h > 0 {
			host = h
		}
	}
	n := lineLen - len(":!@  :\r\n") - len(command) - len(target) -
		len(nick) - len(ident) - host
	return max(n, 1)
}

// splitChunks cuts s into pieces of at most size bytes without splitting runes.
func splitChunks(s string, size int) []string {
	size = max(size, 1)
	if len(s) <= size {
		return []string{s}
	}
	var chunks []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		chunks = append(chunks, s[:cut])
		s = s[cut:]
	}
	if s != "" {
		chunks = append(chunks, s)
	}
	return chunks
}

// HandleEvent converts PRIVMSG and NOTICE into Messages for the handler.
func (m *MessageManager) HandleEvent(e *Event) {
	if e.Command != PRIVMSG && e.Command != NOTICE {
		return
	}
	if m.handler == nil {
		return
	}

	raw := e.Last()
	action := false
	if strings.HasPrefix(raw, ctcpDelim) {
		inner := strings.TrimSuffix(strings.TrimPrefix(raw, ctcpDelim), ctcpDelim)
		body, ok := strings.CutPrefix(inner, "ACTION ")
		if !ok {
			m.logger.Debug("ignoring CTCP request", slog.String("from", e.Source.Nick), slog.String("ctcp", inner))
			return
		}
		raw = body
		action = true
	}

	target := e.Param(0)
	m.handler(Message{
		From:    e.Source,
		Target:  target,
		Command: e.Command,
		Action:  action,
		Private: m.lc.LocalUser(target),
		Raw:     raw,
		Text:    formatted.FromIRC(raw),
		Time:    time.Now(),
	})
}

func (m *MessageManager) OnUserQuit(e *Event) { m.lc.OnUserQuit(e.Source.Nick) }

func (m *MessageManager) OnError(e *Event) { m.lc.OnError(e) }

// ValidateTarget rejects empty targets and targets with special characters.
func ValidateTarget(target string) error {
	if target == "" || strings.ContainsAny(target, SpecialCharacters) {
		return ErrInvalidTarget
	}
	return nil
}
